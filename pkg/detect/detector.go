package detect

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"boardscan/pkg/common"
)

// Detector turns predictor output into validated, thresholded detections.
type Detector struct {
	predictor Predictor
	threshold float64
	logger    *slog.Logger
}

func NewDetector(p Predictor, threshold float64, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{predictor: p, threshold: threshold, logger: logger}
}

func (d *Detector) Threshold() float64 { return d.threshold }

// Detect runs the predictor on img. Predictions under the threshold or with
// a confidence outside [0,1], and boxes that are empty once clamped to the
// image, are dropped; survivors are indexed in predictor order.
func (d *Detector) Detect(ctx context.Context, img image.Image) ([]Detection, error) {
	if img == nil {
		return nil, common.DetectionFailure("detect", errors.New("nil image"))
	}
	if d.predictor == nil {
		return nil, common.DetectionFailure("detect", errors.New("no predictor configured"))
	}
	preds, err := d.predictor.Predict(ctx, img, d.threshold)
	if err != nil {
		return nil, common.DetectionFailure("detect", err)
	}
	bounds := img.Bounds()
	out := make([]Detection, 0, len(preds))
	for _, p := range preds {
		if math.IsNaN(p.Confidence) || p.Confidence < 0 || p.Confidence > 1 {
			d.logger.Debug("dropping out-of-range confidence", "class", p.ClassName, "confidence", p.Confidence)
			continue
		}
		if p.Confidence < d.threshold {
			continue
		}
		box := p.Box.Clamp(bounds)
		if !box.Valid() {
			d.logger.Debug("dropping degenerate box", "class", p.ClassName, "box", p.Box)
			continue
		}
		out = append(out, Detection{
			Index:      len(out),
			ClassID:    p.ClassID,
			ClassName:  CanonicalClass(p.ClassName),
			Confidence: p.Confidence,
			Box:        box,
		})
	}
	d.logger.Debug("detection done", "predictions", len(preds), "kept", len(out), "threshold", d.threshold)
	return out, nil
}

// DetectFile decodes path and runs Detect. The decoded image is returned so
// callers can crop and annotate without decoding again.
func (d *Detector) DetectFile(ctx context.Context, path string) (image.Image, []Detection, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, nil, common.DetectionFailure("detect", fmt.Errorf("decode %s: %w", path, err))
	}
	dets, err := d.Detect(ctx, img)
	if err != nil {
		return img, nil, err
	}
	return img, dets, nil
}
