package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"boardscan/pkg/detect"
	"boardscan/pkg/ocr"
)

// Metadata is the metadata.json document of a job folder.
type Metadata struct {
	Image               string              `json:"image"`
	Input               string              `json:"input"`
	Result              string              `json:"result,omitempty"`
	Model               string              `json:"model"`
	CreatedAt           time.Time           `json:"created_at"`
	ConfidenceThreshold float64             `json:"confidence_threshold"`
	CropPadding         int                 `json:"crop_padding"`
	ClassFilter         []string            `json:"class_filter"`
	Detections          []MetadataDetection `json:"detections"`
}

type MetadataDetection struct {
	Index      int         `json:"index"`
	ClassName  string      `json:"class_name"`
	Confidence float64     `json:"confidence"`
	Box        detect.Box  `json:"bbox"`
	CropFile   *string     `json:"crop_file"`
	Extraction *ocr.Result `json:"extraction,omitempty"`
}

const metadataSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["image", "input", "model", "created_at", "confidence_threshold", "crop_padding", "class_filter", "detections"],
  "properties": {
    "image": {"type": "string", "minLength": 1},
    "input": {"type": "string", "minLength": 1},
    "result": {"type": "string"},
    "model": {"type": "string"},
    "created_at": {"type": "string", "format": "date-time"},
    "confidence_threshold": {"type": "number", "exclusiveMinimum": 0, "exclusiveMaximum": 1},
    "crop_padding": {"type": "integer", "minimum": 0},
    "class_filter": {"type": "array", "items": {"type": "string"}},
    "detections": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["index", "class_name", "confidence", "bbox", "crop_file"],
        "properties": {
          "index": {"type": "integer", "minimum": 0},
          "class_name": {"type": "string"},
          "confidence": {"type": "number", "minimum": 0, "maximum": 1},
          "bbox": {
            "type": "object",
            "required": ["x1", "y1", "x2", "y2"],
            "properties": {
              "x1": {"type": "number"}, "y1": {"type": "number"},
              "x2": {"type": "number"}, "y2": {"type": "number"}
            }
          },
          "crop_file": {"type": ["string", "null"]},
          "extraction": {
            "type": "object",
            "required": ["raw_text", "cleaned_text", "orientation", "confidence"],
            "properties": {
              "orientation": {"enum": [0, 90, 180, 270]},
              "confidence": {"type": "number", "minimum": 0, "maximum": 100}
            }
          }
        }
      }
    }
  }
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func metadataSchemaCompiled() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("metadata.json", strings.NewReader(metadataSchema)); err != nil {
			schemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile("metadata.json")
	})
	return schema, schemaErr
}

// Encode renders m as indented JSON after checking it against the
// metadata schema.
func (m Metadata) Encode() ([]byte, error) {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	if err := ValidateMetadata(b); err != nil {
		return nil, err
	}
	return b, nil
}

// ValidateMetadata checks a metadata.json document.
func ValidateMetadata(data []byte) error {
	sch, err := metadataSchemaCompiled()
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("unmarshal metadata: %w", err)
	}
	if err := sch.Validate(v); err != nil {
		return fmt.Errorf("metadata does not match schema: %w", err)
	}
	return nil
}

// WriteFile validates and writes the document to path.
func (m Metadata) WriteFile(path string) error {
	b, err := m.Encode()
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
