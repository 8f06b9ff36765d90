package pipeline

import (
	"fmt"
	"log/slog"

	"boardscan/pkg/common"
	"boardscan/pkg/detect"
	"boardscan/pkg/ocr"
)

// Components are the production collaborators built from configuration.
type Components struct {
	Detector *detect.Detector
	Engine   *ocr.Engine
}

// BuildComponents wires the Ollama-backed detector and the OCR engine from
// cfg.
func BuildComponents(cfg *common.Config, logger *slog.Logger) (Components, error) {
	pred, err := detect.NewOllamaPredictor(cfg.Detect.OllamaHost, cfg.Pipeline.ModelPath, logger)
	if err != nil {
		return Components{}, fmt.Errorf("detector: %w", err)
	}
	rec, err := ocr.NewRecognizer(cfg.OCR, logger)
	if err != nil {
		return Components{}, fmt.Errorf("recognizer: %w", err)
	}
	opts := ocr.DefaultOptions()
	opts.Workers = cfg.OCR.Workers
	return Components{
		Detector: detect.NewDetector(pred, cfg.Pipeline.ConfidenceThreshold, logger),
		Engine:   ocr.NewEngine(rec, opts, logger),
	}, nil
}

// FromConfig builds an orchestrator for cfg. Pass a nil ledger when
// cfg.Pipeline.PersistToLedger is false.
func FromConfig(cfg *common.Config, ledger Ledger, logger *slog.Logger) (*Orchestrator, error) {
	comps, err := BuildComponents(cfg, logger)
	if err != nil {
		return nil, err
	}
	return New(ConfigFrom(cfg.Pipeline), comps.Detector, comps.Engine, ledger, logger)
}
