package detect

import (
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"
	colorful "github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// ClassColor returns a stable, saturated color for a class label. Known
// classes are spread evenly around the hue wheel.
func ClassColor(class string) color.NRGBA {
	var hue float64
	if i := ClassIndex(class); i >= 0 {
		hue = float64(i) * 360 / float64(len(allClasses))
	} else {
		h := fnv.New32a()
		_, _ = h.Write([]byte(class))
		hue = float64(h.Sum32() % 360)
	}
	r, g, b := colorful.Hsv(hue, 0.85, 0.95).Clamped().RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: 255}
}

// Annotate returns a copy of img with every detection drawn as a colored box
// labeled "<class> <confidence>".
func Annotate(img image.Image, dets []Detection) *image.NRGBA {
	out := imaging.Clone(img)
	b := out.Bounds()
	stroke := max(2, min(b.Dx(), b.Dy())/300)
	for _, d := range dets {
		c := ClassColor(d.ClassName)
		r := d.Box.Rect().Intersect(b)
		if r.Empty() {
			continue
		}
		drawRect(out, r, c, stroke)
		drawLabel(out, r, fmt.Sprintf("%s %.2f", d.ClassName, d.Confidence), c)
	}
	return out
}

// SaveAnnotated writes the annotated image as JPEG.
func SaveAnnotated(path string, img image.Image, dets []Detection) error {
	return imaging.Save(Annotate(img, dets), path, imaging.JPEGQuality(90))
}

func drawRect(img *image.NRGBA, r image.Rectangle, c color.NRGBA, stroke int) {
	for s := 0; s < stroke; s++ {
		drawHLine(img, r.Min.Y+s, r.Min.X, r.Max.X-1, c)
		drawHLine(img, r.Max.Y-1-s, r.Min.X, r.Max.X-1, c)
		drawVLine(img, r.Min.X+s, r.Min.Y, r.Max.Y-1, c)
		drawVLine(img, r.Max.X-1-s, r.Min.Y, r.Max.Y-1, c)
	}
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	b := img.Bounds()
	if y < b.Min.Y || y >= b.Max.Y {
		return
	}
	x0 = max(x0, b.Min.X)
	x1 = min(x1, b.Max.X-1)
	for x := x0; x <= x1; x++ {
		img.SetNRGBA(x, y, c)
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	b := img.Bounds()
	if x < b.Min.X || x >= b.Max.X {
		return
	}
	y0 = max(y0, b.Min.Y)
	y1 = min(y1, b.Max.Y-1)
	for y := y0; y <= y1; y++ {
		img.SetNRGBA(x, y, c)
	}
}

// drawLabel paints text on a filled tab above the box, or inside it when the
// box touches the top edge.
func drawLabel(img *image.NRGBA, r image.Rectangle, text string, bg color.NRGBA) {
	face := basicfont.Face7x13
	w := font.MeasureString(face, text).Ceil() + 4
	h := face.Height + 2
	top := r.Min.Y - h
	if top < img.Bounds().Min.Y {
		top = r.Min.Y
	}
	tab := image.Rect(r.Min.X, top, r.Min.X+w, top+h).Intersect(img.Bounds())
	draw.Draw(img, tab, &image.Uniform{C: bg}, image.Point{}, draw.Src)
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(textColor(bg)),
		Face: face,
		Dot:  fixed.P(tab.Min.X+2, tab.Min.Y+face.Ascent+1),
	}
	d.DrawString(text)
}

func textColor(bg color.NRGBA) color.Color {
	lum := 0.299*float64(bg.R) + 0.587*float64(bg.G) + 0.114*float64(bg.B)
	if lum > 150 {
		return color.Black
	}
	return color.White
}
