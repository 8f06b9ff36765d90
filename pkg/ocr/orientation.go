package ocr

import (
	"image"

	"github.com/disintegration/imaging"
)

// Orientations are the clockwise rotations tried for every crop, in trial
// order.
var Orientations = []int{0, 90, 180, 270}

// Rotate turns img clockwise by deg, which must be a multiple of 90.
// imaging rotates counter-clockwise, hence the swapped calls.
func Rotate(img image.Image, deg int) *image.NRGBA {
	switch ((deg % 360) + 360) % 360 {
	case 90:
		return imaging.Rotate270(img)
	case 180:
		return imaging.Rotate180(img)
	case 270:
		return imaging.Rotate90(img)
	default:
		return imaging.Clone(img)
	}
}
