package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/disintegration/imaging"

	"boardscan/pkg/common"
	"boardscan/pkg/ocr"
	"boardscan/process/report"
)

// Runs the extraction search on one crop and prints every trial.
func main() {
	f := flag.String("file", "", "crop image to read")
	backend := flag.String("backend", "", "override OCR_BACKEND (cli|embedded)")
	flag.Parse()
	if *f == "" {
		log.Fatalf("-file required")
	}

	_ = common.LoadDotEnv(".env")
	cfg := common.LoadConfig()
	if *backend != "" {
		cfg.OCR.Backend = *backend
	}
	logger := common.NewLogger(os.Stderr)

	rec, err := ocr.NewRecognizer(cfg.OCR, logger)
	if err != nil {
		log.Fatalf("recognizer: %v", err)
	}
	opts := ocr.DefaultOptions()
	opts.Workers = cfg.OCR.Workers
	engine := ocr.NewEngine(rec, opts, logger)

	img, err := imaging.Open(*f)
	if err != nil {
		log.Fatalf("open: %v", err)
	}
	ctx := context.Background()
	trials := engine.Trials(ctx, img)
	report.PrintTrials(os.Stdout, trials)

	res := engine.Extract(ctx, img)
	fmt.Printf("best: text=%q raw=%q rot=%d variant=%s conf=%.2f failed=%d/%d\n",
		res.CleanedText, res.RawText, res.Orientation, res.Variant, res.Confidence, res.FailedTrials, res.Trials)
}
