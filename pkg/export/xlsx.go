// Package export renders ledger contents as an XLSX workbook.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"boardscan/models"
	"boardscan/pkg/ledger"
)

// Source is the read side of the ledger used by the export.
type Source interface {
	ListJobs(ctx context.Context, limit int) ([]ledger.JobSummary, error)
	ListDetections(ctx context.Context, jobID *uint) ([]models.Detection, error)
	ListExtractions(ctx context.Context, jobID *uint) ([]ledger.ExtractionRow, error)
	GlobalStatistics(ctx context.Context) (ledger.GlobalStats, error)
}

const (
	SheetJobs        = "Jobs"
	SheetDetections  = "Detections"
	SheetExtractions = "Extractions"
	SheetStats       = "Stats"
)

// maxJobs bounds the Jobs sheet.
const maxJobs = 10000

type Service struct {
	src    Source
	logger *slog.Logger
}

func NewService(src Source, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{src: src, logger: logger}
}

// sheetWriter writes rows into one sheet, header first.
type sheetWriter struct {
	f     *excelize.File
	sheet string
	row   int
}

func (w *sheetWriter) write(values ...any) {
	w.row++
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, w.row)
		_ = w.f.SetCellValue(w.sheet, cell, v)
	}
}

func newSheet(f *excelize.File, name string, headers ...string) (*sheetWriter, error) {
	if index, _ := f.GetSheetIndex(name); index == -1 {
		if _, err := f.NewSheet(name); err != nil {
			return nil, err
		}
	}
	w := &sheetWriter{f: f, sheet: name}
	hs := make([]any, len(headers))
	for i, h := range headers {
		hs[i] = h
	}
	w.write(hs...)
	return w, nil
}

// Workbook returns an XLSX file with jobs, detections, extractions and
// aggregate statistics on separate sheets.
func (s *Service) Workbook(ctx context.Context) ([]byte, error) {
	start := time.Now()
	jobs, err := s.src.ListJobs(ctx, maxJobs)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	dets, err := s.src.ListDetections(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("query detections: %w", err)
	}
	exts, err := s.src.ListExtractions(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("query extractions: %w", err)
	}
	stats, err := s.src.GlobalStatistics(ctx)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	js, err := newSheet(f, SheetJobs, "Job ID", "Image ID", "File", "Model", "Started", "Ended", "Detections")
	if err != nil {
		return nil, err
	}
	for _, j := range jobs {
		ended := ""
		if j.EndedAt != nil {
			ended = j.EndedAt.UTC().Format(time.RFC3339)
		}
		js.write(j.JobID, j.ImageID, j.FileName, j.Model, j.StartedAt.UTC().Format(time.RFC3339), ended, j.DetectionCount)
	}
	_ = f.SetColWidth(SheetJobs, "C", "C", 32)
	_ = f.SetColWidth(SheetJobs, "E", "F", 22)

	ds, err := newSheet(f, SheetDetections, "Detection ID", "Job ID", "Index", "Class", "Confidence", "X1", "Y1", "X2", "Y2")
	if err != nil {
		return nil, err
	}
	for _, d := range dets {
		ds.write(d.DetectionID, d.JobID, d.DetectionIndex, d.ClassName, d.Confidence, d.BboxX1, d.BboxY1, d.BboxX2, d.BboxY2)
	}

	es, err := newSheet(f, SheetExtractions, "OCR ID", "Job ID", "Crop ID", "Class", "Raw Text", "MPN", "Rotation", "Confidence", "Crop Path")
	if err != nil {
		return nil, err
	}
	for _, e := range exts {
		es.write(e.OCRID, e.JobID, e.CroppedID, e.ClassName, e.RawText, e.CleanedMPN, e.RotationAngle, e.Confidence, e.CroppedFilePath)
	}
	_ = f.SetColWidth(SheetExtractions, "E", "F", 28)
	_ = f.SetColWidth(SheetExtractions, "I", "I", 60)

	ss, err := newSheet(f, SheetStats, "Metric", "Value")
	if err != nil {
		return nil, err
	}
	ss.write("images", stats.TotalImages)
	ss.write("jobs", stats.TotalJobs)
	ss.write("detections", stats.TotalDetections)
	ss.write("crops", stats.TotalCrops)
	ss.write("extractions", stats.TotalExtractions)
	ss.write("successful_extractions", stats.SuccessfulExtractions)
	ss.row++
	ss.write("Class", "Count")
	for _, c := range stats.ClassHistogram {
		ss.write(c.ClassName, c.Count)
	}
	_ = f.SetColWidth(SheetStats, "A", "A", 24)

	_ = f.DeleteSheet("Sheet1")
	if index, _ := f.GetSheetIndex(SheetJobs); index >= 0 {
		f.SetActiveSheet(index)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	s.logger.Info("export.xlsx.ok",
		"jobs", len(jobs),
		"detections", len(dets),
		"extractions", len(exts),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}
