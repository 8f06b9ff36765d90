package ocr

import (
	"image"
	"image/color"
	"math"

	"github.com/anthonynsimon/bild/adjust"
	"github.com/anthonynsimon/bild/effect"
	"github.com/anthonynsimon/bild/histogram"
	"github.com/anthonynsimon/bild/segment"
	"github.com/disintegration/imaging"
)

// Variant is one pixel-level enhancement applied to a grayscale crop.
type Variant struct {
	Name  string
	Apply func(gray *image.NRGBA) image.Image
}

// DefaultVariants returns the enhancement variants in trial order.
func DefaultVariants() []Variant {
	return []Variant{
		{Name: "contrast", Apply: normalizeContrast},
		{Name: "denoise_sharpen", Apply: denoiseSharpen},
		{Name: "otsu", Apply: otsuBinary},
		{Name: "otsu_inv", Apply: func(g *image.NRGBA) image.Image { return effect.Invert(otsuBinary(g)) }},
		{Name: "adaptive", Apply: func(g *image.NRGBA) image.Image { return adaptiveThreshold(g, 11, 2) }},
	}
}

// Prepare applies the small-crop upscale configured in opts.
func Prepare(img image.Image, opts Options) image.Image {
	maxDim := opts.MaxDimension
	if maxDim <= 0 {
		maxDim = DefaultOptions().MaxDimension
	}
	return upscale(img, opts.MinDimension, opts.UpscaleTo, maxDim)
}

// upscale enlarges img so its smaller side reaches target when that side is
// below minDim. The factor is capped so the longer side stays within maxLong;
// a crop already at the cap is returned unchanged.
func upscale(img image.Image, minDim, target, maxLong int) image.Image {
	b := img.Bounds()
	short, long := min(b.Dx(), b.Dy()), max(b.Dx(), b.Dy())
	if short == 0 || short >= minDim || target <= short {
		return img
	}
	f := float64(target) / float64(short)
	if maxLong > 0 {
		f = min(f, float64(maxLong)/float64(long))
	}
	if f <= 1 {
		return img
	}
	w := int(math.Round(float64(b.Dx()) * f))
	h := int(math.Round(float64(b.Dy()) * f))
	return imaging.Resize(img, w, h, imaging.Lanczos)
}

// normalizeContrast stretches the 1st..99th percentile of gray levels to
// the full range.
func normalizeContrast(gray *image.NRGBA) image.Image {
	bins := histogram.NewRGBAHistogram(gray).R.Bins
	lo, hi := percentile(bins, 0.01), percentile(bins, 0.99)
	if hi <= lo {
		return gray
	}
	scale := 255 / float64(hi-lo)
	stretch := func(v uint8) uint8 {
		f := (float64(v) - float64(lo)) * scale
		return uint8(math.Max(0, math.Min(255, math.Round(f))))
	}
	return adjust.Apply(gray, func(c color.RGBA) color.RGBA {
		return color.RGBA{R: stretch(c.R), G: stretch(c.G), B: stretch(c.B), A: c.A}
	})
}

func percentile(bins []int, p float64) int {
	total := 0
	for _, n := range bins {
		total += n
	}
	if total == 0 {
		return 0
	}
	want := int(math.Ceil(p * float64(total)))
	acc := 0
	for i, n := range bins {
		acc += n
		if acc >= want {
			return i
		}
	}
	return len(bins) - 1
}

func denoiseSharpen(gray *image.NRGBA) image.Image {
	return imaging.Sharpen(effect.Median(gray, 1), 1.0)
}

func otsuBinary(gray *image.NRGBA) image.Image {
	return segment.Threshold(gray, otsuLevel(histogram.NewRGBAHistogram(gray).R.Bins))
}

// otsuLevel returns the threshold (first "white" level) that maximizes the
// between-class variance of the histogram.
func otsuLevel(bins []int) uint8 {
	var total, sum float64
	for i, n := range bins {
		total += float64(n)
		sum += float64(i) * float64(n)
	}
	if total == 0 {
		return 128
	}
	var sumB, wB, best float64
	level := 0
	for t, n := range bins {
		wB += float64(n)
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(t) * float64(n)
		mB := sumB / wB
		mF := (sum - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			level = t
		}
	}
	return uint8(min(level+1, 255))
}

// adaptiveThreshold performs a mean adaptive threshold over a window using
// an integral image. Pixels darker than the local mean minus bias go black.
func adaptiveThreshold(img image.Image, window int, bias int) *image.NRGBA {
	if window < 3 {
		window = 3
	}
	if window%2 == 0 {
		window++
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := imaging.New(w, h, color.NRGBA{255, 255, 255, 255})
	half := window / 2
	lum := make([]int, w*h)
	ints := make([]int, w*h)
	for y := 0; y < h; y++ {
		rowSum := 0
		for x := 0; x < w; x++ {
			v := int(color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray).Y)
			idx := y*w + x
			lum[idx] = v
			rowSum += v
			if y == 0 {
				ints[idx] = rowSum
			} else {
				ints[idx] = ints[(y-1)*w+x] + rowSum
			}
		}
	}
	at := func(x, y int) int {
		if x < 0 || y < 0 {
			return 0
		}
		return ints[y*w+x]
	}
	black := color.NRGBA{0, 0, 0, 255}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			x0, y0 := max(x-half, 0), max(y-half, 0)
			x1, y1 := min(x+half, w-1), min(y+half, h-1)
			sum := at(x1, y1) - at(x0-1, y1) - at(x1, y0-1) + at(x0-1, y0-1)
			mean := sum / ((x1 - x0 + 1) * (y1 - y0 + 1))
			if lum[y*w+x] < max(mean-bias, 0) {
				out.SetNRGBA(x, y, black)
			}
		}
	}
	return out
}
