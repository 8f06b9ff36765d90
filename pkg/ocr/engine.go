package ocr

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/errgroup"

	"boardscan/pkg/common"
)

type Options struct {
	// Crops whose smaller side is below MinDimension are upscaled until it
	// reaches UpscaleTo, but never so far that the longer side exceeds
	// MaxDimension.
	MinDimension int
	UpscaleTo    int
	MaxDimension int
	Workers      int
	Orientations []int
	Variants     []Variant
}

func DefaultOptions() Options {
	return Options{
		MinDimension: 100,
		UpscaleTo:    300,
		MaxDimension: 2000,
		Workers:      4,
		Orientations: Orientations,
		Variants:     DefaultVariants(),
	}
}

// Trial is the outcome of one (orientation, variant) recognition.
type Trial struct {
	Orientation int
	Variant     string
	Text        string
	Confidence  float64
	Err         error
}

// Result is the winning hypothesis of a search. A Result with empty text
// and zero confidence means no text was found.
type Result struct {
	// RawText is the winning recognizer text with surrounding whitespace
	// trimmed; inner line breaks are kept.
	RawText      string  `json:"raw_text"`
	CleanedText  string  `json:"cleaned_text"`
	Orientation  int     `json:"orientation"`
	Confidence   float64 `json:"confidence"`
	Variant      string  `json:"variant,omitempty"`
	Trials       int     `json:"trials"`
	FailedTrials int     `json:"failed_trials"`
}

// Found reports whether the search produced any text.
func (r Result) Found() bool { return r.CleanedText != "" }

type Engine struct {
	rec    Recognizer
	opts   Options
	logger *slog.Logger
}

func NewEngine(rec Recognizer, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultOptions()
	if opts.MinDimension <= 0 {
		opts.MinDimension = def.MinDimension
	}
	if opts.UpscaleTo <= 0 {
		opts.UpscaleTo = def.UpscaleTo
	}
	if opts.MaxDimension <= 0 {
		opts.MaxDimension = def.MaxDimension
	}
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	if len(opts.Orientations) == 0 {
		opts.Orientations = def.Orientations
	}
	if len(opts.Variants) == 0 {
		opts.Variants = def.Variants
	}
	return &Engine{rec: rec, opts: opts, logger: logger}
}

// Trials runs every (orientation, variant) combination and returns the
// outcomes in trial order: orientation-major, then variant. Trial failures
// are recorded on the Trial, never returned.
func (e *Engine) Trials(ctx context.Context, img image.Image) []Trial {
	prepared := Prepare(img, e.opts)
	nv := len(e.opts.Variants)
	trials := make([]Trial, len(e.opts.Orientations)*nv)

	var g errgroup.Group
	g.SetLimit(e.opts.Workers)
	for oi, deg := range e.opts.Orientations {
		gray := imaging.Grayscale(Rotate(prepared, deg))
		for vi, v := range e.opts.Variants {
			idx := oi*nv + vi
			trials[idx] = Trial{Orientation: deg, Variant: v.Name}
			g.Go(func() error {
				e.runTrial(ctx, gray, v, &trials[idx])
				return nil
			})
		}
	}
	_ = g.Wait()
	return trials
}

func (e *Engine) runTrial(ctx context.Context, gray *image.NRGBA, v Variant, t *Trial) {
	defer func() {
		if r := recover(); r != nil {
			t.Err = common.RecognitionTrialFailure("recognize", fmt.Errorf("panic: %v", r))
		}
	}()
	if err := ctx.Err(); err != nil {
		t.Err = common.RecognitionTrialFailure("recognize", err)
		return
	}
	rec, err := e.rec.Recognize(ctx, v.Apply(gray))
	if err != nil {
		t.Err = common.RecognitionTrialFailure("recognize", err)
		return
	}
	t.Text = rec.Text
	t.Confidence = rec.Confidence()
}

// Select scans trials in order and returns the index of the winner, or -1.
// A trial replaces the current best only when its confidence is strictly
// greater and its text is not blank, so ties keep the earlier trial and
// zero-confidence or failed trials never win.
func Select(trials []Trial) int {
	best := -1
	var bestConf float64
	for i, t := range trials {
		if t.Err != nil {
			continue
		}
		if t.Confidence > bestConf && strings.TrimSpace(t.Text) != "" {
			best = i
			bestConf = t.Confidence
		}
	}
	return best
}

// Extract searches img and returns the best hypothesis. It never fails.
func (e *Engine) Extract(ctx context.Context, img image.Image) Result {
	start := time.Now()
	if img == nil || img.Bounds().Empty() {
		return Result{}
	}
	trials := e.Trials(ctx, img)
	res := Result{Trials: len(trials)}
	for _, t := range trials {
		if t.Err != nil {
			res.FailedTrials++
		}
	}
	if i := Select(trials); i >= 0 {
		w := trials[i]
		res.RawText = strings.TrimSpace(w.Text)
		res.CleanedText = Clean(w.Text)
		res.Orientation = w.Orientation
		res.Confidence = w.Confidence
		res.Variant = w.Variant
	}
	if res.FailedTrials > 0 {
		e.logger.Debug("recognition trials failed", "failed", res.FailedTrials, "trials", res.Trials, "error", firstError(trials))
	}
	e.logger.Debug("extraction done",
		"text", snippet(normalizeOCRText(res.RawText), 80),
		"orientation", res.Orientation,
		"variant", res.Variant,
		"confidence", res.Confidence,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res
}

// ExtractFile decodes path and runs Extract. An undecodable file yields an
// empty Result.
func (e *Engine) ExtractFile(ctx context.Context, path string) Result {
	img, err := imaging.Open(path)
	if err != nil {
		e.logger.Warn("cannot decode crop", "path", path, "error", err)
		return Result{}
	}
	return e.Extract(ctx, img)
}

func firstError(trials []Trial) error {
	for _, t := range trials {
		if t.Err != nil {
			return t.Err
		}
	}
	return nil
}
