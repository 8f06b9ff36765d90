package crop

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"

	"boardscan/pkg/detect"
)

func TestCropName(t *testing.T) {
	tests := []struct {
		stem, class string
		index       int
		want        string
	}{
		{"board1", "IC", 0, "board1_IC_0.jpg"},
		{"board1", "IC", 12, "board1_IC_12.jpg"},
		{"b", "Power Jack/DC", 3, "b_Power_Jack_DC_3.jpg"},
		{"b", "  ", 1, "b_unknown_1.jpg"},
	}
	for _, tc := range tests {
		if got := CropName(tc.stem, tc.class, tc.index); got != tc.want {
			t.Errorf("CropName(%q,%q,%d) = %q, want %q", tc.stem, tc.class, tc.index, got, tc.want)
		}
		if CropName(tc.stem, tc.class, tc.index) != CropName(tc.stem, tc.class, tc.index) {
			t.Errorf("CropName not deterministic")
		}
	}
}

func TestPaddedRectClampsAtEdges(t *testing.T) {
	bounds := image.Rect(0, 0, 100, 80)
	tests := []struct {
		name string
		box  detect.Box
		pad  int
		want image.Rectangle
	}{
		{"interior", detect.Box{X1: 20, Y1: 20, X2: 40, Y2: 40}, 10, image.Rect(10, 10, 50, 50)},
		{"top-left corner", detect.Box{X1: 2, Y1: 3, X2: 30, Y2: 30}, 10, image.Rect(0, 0, 40, 40)},
		{"bottom-right corner", detect.Box{X1: 80, Y1: 60, X2: 99, Y2: 79}, 10, image.Rect(70, 50, 100, 80)},
		{"no padding", detect.Box{X1: 20.4, Y1: 20.6, X2: 40.2, Y2: 40.9}, 0, image.Rect(20, 20, 41, 41)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := PaddedRect(tc.box, tc.pad, bounds); got != tc.want {
				t.Fatalf("got %v want %v", got, tc.want)
			}
		})
	}
}

func TestCropFiltersAndOrders(t *testing.T) {
	img := imaging.New(200, 100, color.NRGBA{10, 120, 30, 255})
	dets := []detect.Detection{
		{Index: 0, ClassName: "IC", Confidence: 0.9, Box: detect.Box{X1: 10, Y1: 10, X2: 50, Y2: 40}},
		{Index: 1, ClassName: "Resistor", Confidence: 0.8, Box: detect.Box{X1: 60, Y1: 10, X2: 80, Y2: 20}},
		{Index: 2, ClassName: "IC", Confidence: 0.7, Box: detect.Box{X1: 150, Y1: 50, X2: 198, Y2: 98}},
	}
	dir := t.TempDir()
	c := NewCropper(dir, 10, nil)

	arts := c.Crop(img, "board", dets, []string{"IC"})
	if len(arts) != 2 {
		t.Fatalf("expected 2 IC crops, got %d", len(arts))
	}
	if arts[0].Detection.Index != 0 || arts[1].Detection.Index != 2 {
		t.Fatalf("crops out of detection order: %d, %d", arts[0].Detection.Index, arts[1].Detection.Index)
	}
	if want := filepath.Join(dir, "board_IC_2.jpg"); arts[1].Path != want {
		t.Fatalf("path: got %s want %s", arts[1].Path, want)
	}
	if got := arts[1].Rect; got != image.Rect(140, 40, 200, 100) {
		t.Fatalf("padded rect not clamped: %v", got)
	}
	for _, a := range arts {
		if _, err := os.Stat(a.Path); err != nil {
			t.Fatalf("crop missing on disk: %v", err)
		}
	}

	all := NewCropper(t.TempDir(), 0, nil).Crop(img, "board", dets, nil)
	if len(all) != 3 {
		t.Fatalf("empty filter should admit all classes, got %d", len(all))
	}
}

func TestCropWriteFailureSkipsOnlyThatCrop(t *testing.T) {
	img := imaging.New(100, 100, color.NRGBA{200, 200, 200, 255})
	dir := t.TempDir()
	// a directory squatting on the second crop's path makes that write fail
	if err := os.Mkdir(filepath.Join(dir, CropName("b", "IC", 1)), 0o755); err != nil {
		t.Fatal(err)
	}
	dets := []detect.Detection{
		{Index: 0, ClassName: "IC", Box: detect.Box{X1: 0, Y1: 0, X2: 20, Y2: 20}},
		{Index: 1, ClassName: "IC", Box: detect.Box{X1: 30, Y1: 30, X2: 50, Y2: 50}},
		{Index: 2, ClassName: "IC", Box: detect.Box{X1: 60, Y1: 60, X2: 80, Y2: 80}},
	}
	arts := NewCropper(dir, 2, nil).Crop(img, "b", dets, []string{"IC"})
	if len(arts) != 2 {
		t.Fatalf("expected 2 crops after one failure, got %d", len(arts))
	}
	if arts[0].Detection.Index != 0 || arts[1].Detection.Index != 2 {
		t.Fatalf("unexpected surviving crops: %+v", arts)
	}
}

func TestEligible(t *testing.T) {
	if !Eligible("IC", nil) {
		t.Fatal("nil filter admits all")
	}
	if !Eligible("IC", []string{" ic "}) {
		t.Fatal("filter match is case-insensitive")
	}
	if Eligible("LED", []string{"IC"}) {
		t.Fatal("LED must not pass IC filter")
	}
}
