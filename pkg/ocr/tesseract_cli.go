package ocr

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
)

type TesseractOptions struct {
	Binary      string
	Language    string
	TessdataDir string
	// Args are passed before the tsv config, e.g. --psm 6 --oem 3.
	Args []string
}

// TesseractCLI recognizes text by running the tesseract binary in TSV mode.
type TesseractCLI struct {
	opts   TesseractOptions
	runner Runner
	logger *slog.Logger
}

// NewTesseractCLI returns a CLI recognizer. A nil runner executes the real
// binary.
func NewTesseractCLI(opts TesseractOptions, runner Runner, logger *slog.Logger) *TesseractCLI {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Binary == "" {
		opts.Binary = "tesseract"
	}
	if opts.Language == "" {
		opts.Language = "eng"
	}
	if len(opts.Args) == 0 {
		opts.Args = []string{"--psm", "6", "--oem", "3"}
	}
	if runner == nil {
		runner = execRunner{logger: logger}
	}
	return &TesseractCLI{opts: opts, runner: runner, logger: logger}
}

func (t *TesseractCLI) Recognize(ctx context.Context, img image.Image) (Recognition, error) {
	tmp, err := os.CreateTemp("", "boardscan-ocr-*.png")
	if err != nil {
		return Recognition{}, fmt.Errorf("temp file: %w", err)
	}
	path := tmp.Name()
	defer os.Remove(path)
	if err := imaging.Encode(tmp, img, imaging.PNG); err != nil {
		_ = tmp.Close()
		return Recognition{}, fmt.Errorf("encode trial image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return Recognition{}, err
	}

	args := []string{path, "stdout", "-l", t.opts.Language}
	if t.opts.TessdataDir != "" {
		args = append(args, "--tessdata-dir", t.opts.TessdataDir)
	}
	args = append(args, t.opts.Args...)
	args = append(args, "tsv")

	out, errb, err := t.runner.Run(ctx, t.opts.Binary, args...)
	if err != nil {
		return Recognition{}, fmt.Errorf("tesseract: %w: %s", err, snippet(strings.TrimSpace(string(errb)), 200))
	}
	return parseTSV(out), nil
}

// parseTSV reads tesseract TSV output. Words on the same (block, par, line)
// are joined by spaces and lines by newlines. Rows with conf -1 carry no
// word confidence and are skipped.
func parseTSV(out []byte) Recognition {
	var (
		rec      Recognition
		lines    []string
		cur      []string
		lastLine string
	)
	sc := bufio.NewScanner(bytes.NewReader(out))
	first := true
	for sc.Scan() {
		ln := sc.Text()
		if first {
			first = false
			if strings.HasPrefix(ln, "level") {
				continue
			}
		}
		cols := strings.Split(ln, "\t")
		if len(cols) < 12 {
			continue
		}
		if cols[0] != "5" {
			continue
		}
		conf, err := strconv.ParseFloat(strings.TrimSpace(cols[10]), 64)
		if err != nil || conf < 0 {
			continue
		}
		word := strings.TrimSpace(strings.Join(cols[11:], "\t"))
		if word == "" {
			continue
		}
		key := cols[2] + "." + cols[3] + "." + cols[4]
		if key != lastLine && len(cur) > 0 {
			lines = append(lines, strings.Join(cur, " "))
			cur = nil
		}
		lastLine = key
		cur = append(cur, word)
		rec.TokenConfidences = append(rec.TokenConfidences, conf)
	}
	if len(cur) > 0 {
		lines = append(lines, strings.Join(cur, " "))
	}
	rec.Text = strings.Join(lines, "\n")
	return rec
}
