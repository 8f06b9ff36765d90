package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"boardscan/pkg/common"
	"boardscan/pkg/export"
	"boardscan/pkg/ledger"
	"boardscan/pkg/pipeline"
	"boardscan/process/report"
)

// Scans a directory (or one image) of board photos and runs the pipeline on
// each, with an optional watch mode for new files.
func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	if err := common.LoadDotEnv(".env"); err != nil {
		log.Printf("ignoring .env: %v", err)
	}
	cfg := common.LoadConfig()

	fs := flag.NewFlagSet("process", flag.ContinueOnError)
	dirFlag := fs.String("dir", "", "directory to scan for board images")
	imageFlag := fs.String("image", "", "single image to process")
	watch := fs.Bool("watch", false, "watch -dir for new files after the initial scan")
	noLedger := fs.Bool("no-ledger", !cfg.Pipeline.PersistToLedger, "write job folders instead of ledger rows")
	conf := fs.Float64("conf", cfg.Pipeline.ConfidenceThreshold, "detection confidence threshold (0,1)")
	padding := fs.Int("padding", cfg.Pipeline.CropPadding, "crop padding in pixels")
	filter := fs.String("filter", strings.Join(cfg.Pipeline.ExtractClasses, ","), "comma separated classes to extract text from (empty for all)")
	out := fs.String("out", cfg.Pipeline.OutputDir, "output directory")
	xlsx := fs.String("xlsx", "", "write an XLSX export of the ledger to this path after the batch")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *dirFlag == "" && *imageFlag == "" {
		return errors.New("-dir or -image required")
	}
	if *watch && *dirFlag == "" {
		return errors.New("-watch requires -dir")
	}
	cfg.Pipeline.PersistToLedger = !*noLedger
	cfg.Pipeline.ConfidenceThreshold = *conf
	cfg.Pipeline.CropPadding = *padding
	cfg.Pipeline.ExtractClasses = common.SplitList(*filter)
	cfg.Pipeline.OutputDir = *out
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if *xlsx != "" && !cfg.Pipeline.PersistToLedger {
		return errors.New("-xlsx needs the ledger; drop -no-ledger")
	}

	logger := common.NewLogger(os.Stderr)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = common.WithRunID(ctx, "")

	var led *ledger.Ledger
	var sink pipeline.Ledger
	if cfg.Pipeline.PersistToLedger {
		l, err := ledger.Open(ctx, cfg.Database, logger)
		if err != nil {
			return fmt.Errorf("failed to open ledger: %w", err)
		}
		defer l.Close()
		led, sink = l, l
	}
	orch, err := pipeline.FromConfig(cfg, sink, logger)
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}

	var paths []string
	if *imageFlag != "" {
		paths = append(paths, *imageFlag)
	}
	if *dirFlag != "" {
		files, err := listImageFiles(*dirFlag)
		if err != nil {
			return fmt.Errorf("scan %s: %w", *dirFlag, err)
		}
		paths = append(paths, files...)
	}
	logger.Info("scanning", "files", len(paths), "ledger", cfg.Pipeline.PersistToLedger)

	batch := orch.ProcessBatch(ctx, paths)
	report.PrintBatch(os.Stdout, batch)

	if *xlsx != "" {
		writeExport(ctx, led, *xlsx, logger)
	}

	if *watch {
		err := watchDirectory(ctx, *dirFlag, logger, func(path string) {
			s := orch.ProcessImage(ctx, path)
			report.PrintBatch(os.Stdout, pipeline.BatchSummary{
				RunID:     common.RunIDFromContext(ctx),
				Images:    []pipeline.ImageSummary{s},
				Succeeded: btoi(s.OK()),
				Failed:    btoi(!s.OK()),
			})
		})
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("watch failed: %w", err)
		}
	}
	return nil
}

func writeExport(ctx context.Context, l *ledger.Ledger, path string, logger *slog.Logger) {
	data, err := export.NewService(l, logger).Workbook(ctx)
	if err != nil {
		log.Printf("export failed: %v", err)
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Printf("write %s: %v", path, err)
		return
	}
	logger.Info("export written", "path", path)
}

func btoi(b bool) int {
	if b {
		return 1
	}
	return 0
}
