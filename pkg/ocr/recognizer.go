// Package ocr searches orientation and enhancement variants of a component
// crop through a text recognizer and keeps the most confident reading.
package ocr

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"strings"

	"boardscan/pkg/common"
)

// Recognition is one recognizer answer. TokenConfidences are on the
// recognizer's 0..100 scale.
type Recognition struct {
	Text             string
	TokenConfidences []float64
}

// Confidence is the mean token confidence, or 0 when there are no tokens.
func (r Recognition) Confidence() float64 {
	if len(r.TokenConfidences) == 0 {
		return 0
	}
	var sum float64
	for _, c := range r.TokenConfidences {
		sum += c
	}
	return sum / float64(len(r.TokenConfidences))
}

// Recognizer is the text-recognition capability. Implementations must be
// safe for concurrent use; the engine calls Recognize from several
// goroutines over read-only images.
type Recognizer interface {
	Recognize(ctx context.Context, img image.Image) (Recognition, error)
}

type RecognizerFunc func(ctx context.Context, img image.Image) (Recognition, error)

func (f RecognizerFunc) Recognize(ctx context.Context, img image.Image) (Recognition, error) {
	return f(ctx, img)
}

// NewRecognizer builds the recognizer selected by cfg.Backend.
func NewRecognizer(cfg common.OCRConfig, logger *slog.Logger) (Recognizer, error) {
	switch cfg.Backend {
	case "", "cli":
		return NewTesseractCLI(TesseractOptions{
			Binary:      cfg.Binary,
			Language:    cfg.Language,
			TessdataDir: cfg.TessdataDir,
			Args:        strings.Fields(cfg.EngineArgs),
		}, nil, logger), nil
	case "embedded":
		return NewEmbedded(cfg.Language, cfg.TessdataDir, pageSegMode(cfg.EngineArgs))
	default:
		return nil, common.InvalidInput("ocr", fmt.Sprintf("unknown OCR backend %q", cfg.Backend))
	}
}

// pageSegMode pulls the --psm value out of a tesseract argument string.
func pageSegMode(args string) int {
	fields := strings.Fields(args)
	for i := 0; i < len(fields)-1; i++ {
		if fields[i] == "--psm" {
			var n int
			if _, err := fmt.Sscanf(fields[i+1], "%d", &n); err == nil {
				return n
			}
		}
	}
	return 6
}
