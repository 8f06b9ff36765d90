// Package pipeline drives one board photo through detection, cropping,
// text extraction and persistence, and assembles the per-image summary.
package pipeline

import (
	"boardscan/pkg/common"
)

type Config struct {
	ModelPath             string
	ConfidenceThreshold   float64
	CropPadding           int
	ExtractionClassFilter []string
	PersistToLedger       bool
	// OutputDir holds jobs/ in file-system mode and runs/ in ledger mode.
	OutputDir string
}

func DefaultConfig() Config {
	return Config{
		ModelPath:             "llava:13b",
		ConfidenceThreshold:   0.25,
		CropPadding:           10,
		ExtractionClassFilter: []string{"IC"},
		PersistToLedger:       true,
		OutputDir:             "outputs",
	}
}

// ConfigFrom maps the environment configuration onto a pipeline Config.
func ConfigFrom(p common.PipelineConfig) Config {
	return Config{
		ModelPath:             p.ModelPath,
		ConfidenceThreshold:   p.ConfidenceThreshold,
		CropPadding:           p.CropPadding,
		ExtractionClassFilter: p.ExtractClasses,
		PersistToLedger:       p.PersistToLedger,
		OutputDir:             p.OutputDir,
	}
}

func (c Config) Validate() error {
	if c.ConfidenceThreshold <= 0 || c.ConfidenceThreshold >= 1 {
		return common.InvalidInput("pipeline config", "confidence threshold must be in (0,1)")
	}
	if c.CropPadding < 0 {
		return common.InvalidInput("pipeline config", "crop padding must be >= 0")
	}
	if c.OutputDir == "" {
		return common.InvalidInput("pipeline config", "output dir is required")
	}
	return nil
}
