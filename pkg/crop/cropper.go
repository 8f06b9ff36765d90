// Package crop cuts padded component images out of a board photo.
package crop

import (
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/disintegration/imaging"

	"boardscan/pkg/common"
	"boardscan/pkg/detect"
)

// Artifact is one crop written to disk.
type Artifact struct {
	Detection detect.Detection
	Path      string
	Rect      image.Rectangle
	Image     *image.NRGBA
}

// Cropper writes one JPEG per eligible detection into Dir.
type Cropper struct {
	Padding int
	Dir     string
	logger  *slog.Logger
}

func NewCropper(dir string, padding int, logger *slog.Logger) *Cropper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cropper{Padding: padding, Dir: dir, logger: logger}
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// CropName is the file name for the index-th detection of stem.
func CropName(stem, class string, index int) string {
	c := unsafeName.ReplaceAllString(strings.TrimSpace(class), "_")
	if c == "" {
		c = "unknown"
	}
	return fmt.Sprintf("%s_%s_%d.jpg", stem, c, index)
}

// PaddedRect grows the detection box by padding on every side and clamps it
// to bounds.
func PaddedRect(box detect.Box, padding int, bounds image.Rectangle) image.Rectangle {
	r := box.Rect()
	r = image.Rect(r.Min.X-padding, r.Min.Y-padding, r.Max.X+padding, r.Max.Y+padding)
	return r.Intersect(bounds)
}

// Eligible reports whether class passes filter. An empty filter admits all.
func Eligible(class string, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if strings.EqualFold(strings.TrimSpace(f), class) {
			return true
		}
	}
	return false
}

// Crop writes the eligible detections of img and returns the artifacts in
// detection order. A crop that cannot be written is logged and skipped.
func (c *Cropper) Crop(img image.Image, stem string, dets []detect.Detection, filter []string) []Artifact {
	if img == nil {
		return nil
	}
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		c.logger.Error("create crop dir failed", "dir", c.Dir, "error", common.CropWriteFailure("crop", err))
		return nil
	}
	bounds := img.Bounds()
	var out []Artifact
	for _, d := range dets {
		if !Eligible(d.ClassName, filter) {
			continue
		}
		r := PaddedRect(d.Box, c.Padding, bounds)
		if r.Empty() {
			continue
		}
		sub := imaging.Crop(img, r)
		path := filepath.Join(c.Dir, CropName(stem, d.ClassName, d.Index))
		if err := imaging.Save(sub, path, imaging.JPEGQuality(95)); err != nil {
			c.logger.Warn("crop write failed", "path", path, "index", d.Index,
				"error", common.CropWriteFailure("crop", err))
			continue
		}
		out = append(out, Artifact{Detection: d, Path: path, Rect: r, Image: sub})
	}
	c.logger.Debug("crops written", "stem", stem, "detections", len(dets), "crops", len(out))
	return out
}
