package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/ollama/ollama/api"
)

const defaultPrompt = `You are a circuit board component detector.

Locate every electronic component in the image. Allowed classes:
%s

Return JSON only:
{"detections":[{"class_name":"IC","confidence":0.0,"box":[x1,y1,x2,y2]}]}

RULES
- box coordinates are normalized to [0,1] relative to image width and height.
- x1 < x2 and y1 < y2.
- confidence is in [0,1]. Omit components you are less than %.2f sure of.
- JSON only. No markdown, no code fences, no comments.`

// ChatClient is the subset of the Ollama client the predictor uses.
type ChatClient interface {
	Chat(ctx context.Context, req *api.ChatRequest, fn api.ChatResponseFunc) error
}

// OllamaPredictor is a Predictor backed by an Ollama vision model.
type OllamaPredictor struct {
	client  ChatClient
	model   string
	maxDim  int
	timeout time.Duration
	logger  *slog.Logger
}

// NewOllamaPredictor connects to the Ollama server at host (for example
// http://127.0.0.1:11434) and uses model for every prediction.
func NewOllamaPredictor(host, model string, logger *slog.Logger) (*OllamaPredictor, error) {
	u, err := url.Parse(host)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid ollama host %q", host)
	}
	base := &url.URL{Scheme: u.Scheme, Host: u.Host}
	return NewOllamaPredictorWithClient(api.NewClient(base, http.DefaultClient), model, logger), nil
}

func NewOllamaPredictorWithClient(c ChatClient, model string, logger *slog.Logger) *OllamaPredictor {
	if logger == nil {
		logger = slog.Default()
	}
	return &OllamaPredictor{client: c, model: model, maxDim: 1280, timeout: 5 * time.Minute, logger: logger}
}

func (p *OllamaPredictor) Predict(ctx context.Context, img image.Image, threshold float64) ([]Prediction, error) {
	if _, ok := ctx.Deadline(); !ok && p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	payload, err := encodeForModel(img, p.maxDim)
	if err != nil {
		return nil, err
	}
	stream := false
	req := &api.ChatRequest{
		Model: p.model,
		Messages: []api.Message{{
			Role:    "user",
			Content: fmt.Sprintf(defaultPrompt, strings.Join(allClasses, ", "), threshold),
			Images:  []api.ImageData{api.ImageData(payload)},
		}},
		Stream:  &stream,
		Options: map[string]any{"temperature": 0},
	}
	start := time.Now()
	var content strings.Builder
	err = p.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat: %w", err)
	}
	b := img.Bounds()
	preds, err := parsePredictions(content.String(), b.Dx(), b.Dy())
	if err != nil {
		return nil, err
	}
	p.logger.Debug("ollama prediction", "model", p.model, "predictions", len(preds), "elapsed_ms", time.Since(start).Milliseconds())
	return preds, nil
}

func encodeForModel(img image.Image, maxDim int) ([]byte, error) {
	b := img.Bounds()
	if maxDim > 0 && (b.Dx() > maxDim || b.Dy() > maxDim) {
		img = imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return buf.Bytes(), nil
}

type modelDetection struct {
	ClassName  string    `json:"class_name"`
	Confidence float64   `json:"confidence"`
	Box        []float64 `json:"box"`
}

type modelReply struct {
	Detections []modelDetection `json:"detections"`
}

// parsePredictions decodes the model reply and scales normalized boxes to
// pixels. Boxes already in pixel units (any coordinate above 1) are kept.
func parsePredictions(raw string, width, height int) ([]Prediction, error) {
	raw = sanitizeModelJSON(raw)
	if raw == "" {
		return nil, errors.New("empty model reply")
	}
	var reply modelReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return nil, fmt.Errorf("decode model reply: %w", err)
	}
	out := make([]Prediction, 0, len(reply.Detections))
	for _, d := range reply.Detections {
		if len(d.Box) != 4 {
			continue
		}
		box := Box{X1: d.Box[0], Y1: d.Box[1], X2: d.Box[2], Y2: d.Box[3]}
		if box.X2 <= 1 && box.Y2 <= 1 {
			box = Box{
				X1: box.X1 * float64(width), Y1: box.Y1 * float64(height),
				X2: box.X2 * float64(width), Y2: box.Y2 * float64(height),
			}
		}
		class := CanonicalClass(d.ClassName)
		out = append(out, Prediction{
			ClassID:    ClassIndex(class),
			ClassName:  class,
			Confidence: d.Confidence,
			Box:        box,
		})
	}
	return out, nil
}

var (
	reBlockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLineComment  = regexp.MustCompile(`(?m)^\s*//.*$`)
	reTrailing     = regexp.MustCompile(`,(\s*[}\]])`)
)

// sanitizeModelJSON strips code fences, comments and trailing commas, and
// keeps only the outermost object.
func sanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = reBlockComment.ReplaceAllString(raw, "")
	raw = reLineComment.ReplaceAllString(raw, "")
	raw = reTrailing.ReplaceAllString(raw, "$1")
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}
