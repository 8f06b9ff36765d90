// Package detect adapts an external object-detection capability into ordered
// component detections and renders annotated copies of board photos.
package detect

import (
	"context"
	"image"
	"math"
)

// Box is an axis-aligned box in source-image pixel coordinates.
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Valid reports whether the box has positive width and height.
func (b Box) Valid() bool {
	return b.X2 > b.X1 && b.Y2 > b.Y1
}

// Rect returns the smallest integer rectangle that covers the box.
func (b Box) Rect() image.Rectangle {
	return image.Rect(
		int(math.Floor(b.X1)), int(math.Floor(b.Y1)),
		int(math.Ceil(b.X2)), int(math.Ceil(b.Y2)),
	)
}

// Clamp limits the box to bounds.
func (b Box) Clamp(bounds image.Rectangle) Box {
	return Box{
		X1: math.Max(b.X1, float64(bounds.Min.X)),
		Y1: math.Max(b.Y1, float64(bounds.Min.Y)),
		X2: math.Min(b.X2, float64(bounds.Max.X)),
		Y2: math.Min(b.Y2, float64(bounds.Max.Y)),
	}
}

// Prediction is a raw result from the detection capability.
type Prediction struct {
	ClassID    int
	ClassName  string
	Confidence float64
	Box        Box
}

// Detection is a located component. Index is its position in the detector
// output and is stable across runs over the same predictions.
type Detection struct {
	Index      int     `json:"index"`
	ClassID    int     `json:"class_id"`
	ClassName  string  `json:"class_name"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"bbox"`
}

// Predictor is the detection capability: given an image and a confidence
// threshold it returns labeled, scored boxes.
type Predictor interface {
	Predict(ctx context.Context, img image.Image, threshold float64) ([]Prediction, error)
}

// PredictorFunc adapts a function to Predictor.
type PredictorFunc func(ctx context.Context, img image.Image, threshold float64) ([]Prediction, error)

func (f PredictorFunc) Predict(ctx context.Context, img image.Image, threshold float64) ([]Prediction, error) {
	return f(ctx, img, threshold)
}
