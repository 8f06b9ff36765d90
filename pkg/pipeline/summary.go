package pipeline

import (
	"time"

	"boardscan/pkg/ocr"
)

// CropResult is one written crop and, when extraction ran, its winning text.
type CropResult struct {
	Index      int         `json:"index"`
	ClassName  string      `json:"class_name"`
	Confidence float64     `json:"confidence"`
	CropPath   string      `json:"crop_path"`
	Extraction *ocr.Result `json:"extraction,omitempty"`
}

// ImageSummary is the outcome of one ProcessImage call.
type ImageSummary struct {
	Path       string `json:"path"`
	Stem       string `json:"stem"`
	Status     State  `json:"status"`
	FailedStep string `json:"failed_step,omitempty"`
	Error      string `json:"error,omitempty"`
	JobID      uint   `json:"job_id,omitempty"`

	Detections  int `json:"detections"`
	Crops       int `json:"crops"`
	Extractions int `json:"extractions"`
	TextFound   int `json:"text_found"`

	ArtifactDir   string       `json:"artifact_dir,omitempty"`
	AnnotatedPath string       `json:"annotated_path,omitempty"`
	CropPaths     []string     `json:"crop_paths,omitempty"`
	MetadataPath  string       `json:"metadata_path,omitempty"`
	Results       []CropResult `json:"results,omitempty"`

	States  []State       `json:"states"`
	Elapsed time.Duration `json:"elapsed_ns"`
}

// OK reports whether the image reached Complete.
func (s ImageSummary) OK() bool { return s.Status == StateComplete }

type BatchSummary struct {
	RunID     string         `json:"run_id"`
	Images    []ImageSummary `json:"images"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
}

func (b *BatchSummary) add(s ImageSummary) {
	b.Images = append(b.Images, s)
	if s.OK() {
		b.Succeeded++
	} else {
		b.Failed++
	}
}
