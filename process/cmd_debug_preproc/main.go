package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"

	"boardscan/pkg/ocr"
	"boardscan/pkg/pipeline"
)

// Writes every orientation x enhancement variant of a crop as PNG so the
// recognizer input can be inspected by eye.
func main() {
	in := flag.String("file", "", "crop image")
	out := flag.String("out", "preproc", "output directory")
	flag.Parse()
	if *in == "" {
		log.Fatalf("-file required")
	}
	img, err := imaging.Open(*in)
	if err != nil {
		log.Fatalf("open: %v", err)
	}
	if err := os.MkdirAll(*out, 0o755); err != nil {
		log.Fatalf("mkdir: %v", err)
	}
	stem := pipeline.Stem(*in)
	prepared := ocr.Prepare(img, ocr.DefaultOptions())
	for _, deg := range ocr.Orientations {
		gray := imaging.Grayscale(ocr.Rotate(prepared, deg))
		for _, v := range ocr.DefaultVariants() {
			path := filepath.Join(*out, fmt.Sprintf("%s_%d_%s.png", stem, deg, v.Name))
			if err := imaging.Save(v.Apply(gray), path); err != nil {
				log.Fatalf("save %s: %v", path, err)
			}
			fmt.Println(path)
		}
	}
}
