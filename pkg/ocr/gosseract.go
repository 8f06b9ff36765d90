//go:build cgo

package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"
)

// Gosseract recognizes text in process through libtesseract. A client is
// created per call because gosseract clients are not safe for concurrent
// use.
type Gosseract struct {
	Language       string
	TessdataPrefix string
	PageSegMode    gosseract.PageSegMode
}

// NewEmbedded returns the in-process recognizer.
func NewEmbedded(language, tessdataPrefix string, psm int) (Recognizer, error) {
	if language == "" {
		language = "eng"
	}
	return &Gosseract{Language: language, TessdataPrefix: tessdataPrefix, PageSegMode: gosseract.PageSegMode(psm)}, nil
}

func (g *Gosseract) Recognize(ctx context.Context, img image.Image) (Recognition, error) {
	if err := ctx.Err(); err != nil {
		return Recognition{}, err
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return Recognition{}, fmt.Errorf("encode trial image: %w", err)
	}

	client := gosseract.NewClient()
	defer client.Close()
	if g.TessdataPrefix != "" {
		if err := client.SetTessdataPrefix(g.TessdataPrefix); err != nil {
			return Recognition{}, fmt.Errorf("set tessdata prefix: %w", err)
		}
	}
	if err := client.SetLanguage(g.Language); err != nil {
		return Recognition{}, fmt.Errorf("set language: %w", err)
	}
	if err := client.SetPageSegMode(g.PageSegMode); err != nil {
		return Recognition{}, fmt.Errorf("set page seg mode: %w", err)
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return Recognition{}, fmt.Errorf("set image: %w", err)
	}
	text, err := client.Text()
	if err != nil {
		return Recognition{}, fmt.Errorf("ocr: %w", err)
	}
	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return Recognition{}, fmt.Errorf("word boxes: %w", err)
	}
	rec := Recognition{Text: text}
	for _, b := range boxes {
		if b.Confidence < 0 || b.Word == "" {
			continue
		}
		rec.TokenConfidences = append(rec.TokenConfidences, b.Confidence)
	}
	return rec, nil
}
