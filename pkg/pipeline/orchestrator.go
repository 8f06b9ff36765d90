package pipeline

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"boardscan/pkg/common"
	"boardscan/pkg/crop"
	"boardscan/pkg/detect"
	"boardscan/pkg/ocr"
)

// Ledger is the subset of the job ledger the orchestrator writes to.
type Ledger interface {
	RegisterImage(ctx context.Context, fileName, filePath, format string) (uint, error)
	BeginJob(ctx context.Context, imageID uint, model string) (uint, error)
	EndJob(ctx context.Context, jobID uint) error
	RecordDetections(ctx context.Context, jobID uint, dets []detect.Detection) ([]uint, error)
	RecordCrop(ctx context.Context, jobID, detectionID uint, path string) (uint, error)
	RecordExtraction(ctx context.Context, jobID, cropID uint, res ocr.Result) (uint, error)
}

type Detector interface {
	DetectFile(ctx context.Context, path string) (image.Image, []detect.Detection, error)
}

type Extractor interface {
	Extract(ctx context.Context, img image.Image) ocr.Result
}

type Orchestrator struct {
	cfg    Config
	det    Detector
	ext    Extractor
	ledger Ledger
	logger *slog.Logger
	now    func() time.Time
}

// New builds an orchestrator. ledger may be nil only when cfg.PersistToLedger
// is false.
func New(cfg Config, det Detector, ext Extractor, ledger Ledger, logger *slog.Logger) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if det == nil || ext == nil {
		return nil, common.InvalidInput("pipeline", "detector and extractor are required")
	}
	if cfg.PersistToLedger && ledger == nil {
		return nil, common.InvalidInput("pipeline", "ledger mode requires a ledger")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{cfg: cfg, det: det, ext: ext, ledger: ledger, logger: logger, now: time.Now}, nil
}

func (o *Orchestrator) Config() Config { return o.cfg }

// run carries the working state of one image.
type run struct {
	sum    ImageSummary
	folder JobFolder
	dets   []detect.Detection
	arts   []crop.Artifact
	res    []*ocr.Result
}

func (r *run) to(s State) { r.sum.States = append(r.sum.States, s); r.sum.Status = s }

func (r *run) fail(step string, err error) {
	r.sum.FailedStep = step
	r.sum.Error = err.Error()
	r.to(StateErrored)
}

// ProcessImage runs one photo through the pipeline. It never returns an
// error: failures are reported in the summary.
func (o *Orchestrator) ProcessImage(ctx context.Context, path string) ImageSummary {
	start := o.now()
	r := &run{sum: ImageSummary{Path: path, Stem: Stem(path)}}
	r.to(StateStarted)
	o.process(ctx, r, path, start)
	r.sum.Elapsed = o.now().Sub(start)
	return r.sum
}

func (o *Orchestrator) process(ctx context.Context, r *run, path string, start time.Time) {
	logger := common.LoggerFor(ctx, o.logger).With("image", path)
	img, dets, err := o.det.DetectFile(ctx, path)
	if err != nil {
		logger.Error("detection failed", "error", err)
		r.fail(StepDetection, err)
		return
	}
	r.dets = dets
	r.sum.Detections = len(dets)
	r.to(StateDetected)

	if err := o.prepareFolder(r, path, start); err != nil {
		logger.Error("artifact folder failed", "error", err)
		r.fail(StepArtifacts, err)
		return
	}
	if err := detect.SaveAnnotated(r.folder.ResultPath(), img, dets); err != nil {
		logger.Warn("annotated image not written", "path", r.folder.ResultPath(), "error", err)
	} else {
		r.sum.AnnotatedPath = r.folder.ResultPath()
	}

	cropper := crop.NewCropper(r.folder.CropsDir(), o.cfg.CropPadding, logger)
	r.arts = cropper.Crop(img, r.sum.Stem, dets, o.cfg.ExtractionClassFilter)
	r.sum.Crops = len(r.arts)
	for _, a := range r.arts {
		r.sum.CropPaths = append(r.sum.CropPaths, a.Path)
	}
	r.to(StateCropped)

	r.res = make([]*ocr.Result, len(r.arts))
	if len(r.arts) > 0 {
		for i, a := range r.arts {
			res := o.ext.Extract(ctx, a.Image)
			r.res[i] = &res
			r.sum.Extractions++
			if res.Found() {
				r.sum.TextFound++
			}
			logger.Info("crop extracted",
				"index", a.Detection.Index,
				"class", a.Detection.ClassName,
				"text", res.CleanedText,
				"orientation", res.Orientation,
				"confidence", res.Confidence,
			)
		}
		r.to(StateExtracted)
	}
	r.sum.Results = cropResults(r.arts, r.res)

	if o.cfg.PersistToLedger {
		jobID, err := o.persist(ctx, path, r)
		r.sum.JobID = jobID
		if err != nil {
			logger.Error("ledger write failed", "job_id", jobID, "error", err)
			r.fail(StepLogging, err)
			return
		}
	} else {
		if err := o.writeMetadata(r, start); err != nil {
			logger.Error("metadata not written", "error", err)
			r.fail(StepMetadata, err)
			return
		}
	}
	r.to(StateLogged)
	r.to(StateComplete)
	logger.Info("image processed",
		"job_id", r.sum.JobID,
		"detections", r.sum.Detections,
		"crops", r.sum.Crops,
		"text_found", r.sum.TextFound,
		"elapsed_ms", o.now().Sub(start).Milliseconds(),
	)
}

// prepareFolder creates jobs/<stem>_<stamp> in file-system mode or
// runs/<stem>_<stamp> in ledger mode.
func (o *Orchestrator) prepareFolder(r *run, path string, at time.Time) error {
	parent := filepath.Join(o.cfg.OutputDir, "jobs")
	if o.cfg.PersistToLedger {
		parent = filepath.Join(o.cfg.OutputDir, "runs")
	}
	abs, err := filepath.Abs(parent)
	if err == nil {
		parent = abs
	}
	jf, err := NewJobFolder(parent, r.sum.Stem, at)
	if err != nil {
		return common.CropWriteFailure("artifacts", err)
	}
	r.folder = jf
	r.sum.ArtifactDir = jf.Root
	if !o.cfg.PersistToLedger {
		if _, err := jf.CopyInput(path); err != nil {
			return common.CropWriteFailure("artifacts", fmt.Errorf("copy input: %w", err))
		}
	}
	return nil
}

// persist writes image, job, detections, crops and extractions in that
// order and stops at the first error. Once the job exists EndJob is always
// attempted, on a context that ignores cancellation.
func (o *Orchestrator) persist(ctx context.Context, path string, r *run) (jobID uint, err error) {
	abs, aerr := filepath.Abs(path)
	if aerr != nil {
		abs = path
	}
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	imageID, err := o.ledger.RegisterImage(ctx, filepath.Base(path), abs, format)
	if err != nil {
		return 0, err
	}
	jobID, err = o.ledger.BeginJob(ctx, imageID, o.cfg.ModelPath)
	if err != nil {
		return 0, err
	}
	defer func() {
		if endErr := o.ledger.EndJob(context.WithoutCancel(ctx), jobID); endErr != nil {
			o.logger.Warn("end job failed", "job_id", jobID, "error", endErr)
			if err == nil {
				err = endErr
			}
		}
	}()

	detIDs, err := o.ledger.RecordDetections(ctx, jobID, r.dets)
	if err != nil {
		return jobID, err
	}
	for i, a := range r.arts {
		idx := a.Detection.Index
		if idx < 0 || idx >= len(detIDs) {
			return jobID, common.InvalidInput("persist", fmt.Sprintf("crop for unknown detection index %d", idx))
		}
		cropID, err := o.ledger.RecordCrop(ctx, jobID, detIDs[idx], a.Path)
		if err != nil {
			return jobID, err
		}
		if r.res[i] == nil {
			continue
		}
		if _, err := o.ledger.RecordExtraction(ctx, jobID, cropID, *r.res[i]); err != nil {
			return jobID, err
		}
	}
	return jobID, nil
}

func (o *Orchestrator) writeMetadata(r *run, at time.Time) error {
	byIndex := make(map[int]int, len(r.arts))
	for i, a := range r.arts {
		byIndex[a.Detection.Index] = i
	}
	filter := o.cfg.ExtractionClassFilter
	if filter == nil {
		filter = []string{}
	}
	md := Metadata{
		Image:               filepath.Base(r.sum.Path),
		Input:               r.folder.Rel(r.folder.InputPath(r.sum.Path)),
		Model:               o.cfg.ModelPath,
		CreatedAt:           at.UTC(),
		ConfidenceThreshold: o.cfg.ConfidenceThreshold,
		CropPadding:         o.cfg.CropPadding,
		ClassFilter:         filter,
		Detections:          make([]MetadataDetection, 0, len(r.dets)),
	}
	if r.sum.AnnotatedPath != "" {
		md.Result = r.folder.Rel(r.sum.AnnotatedPath)
	}
	for _, d := range r.dets {
		entry := MetadataDetection{Index: d.Index, ClassName: d.ClassName, Confidence: d.Confidence, Box: d.Box}
		if i, ok := byIndex[d.Index]; ok {
			rel := r.folder.Rel(r.arts[i].Path)
			entry.CropFile = &rel
			entry.Extraction = r.res[i]
		}
		md.Detections = append(md.Detections, entry)
	}
	if err := md.WriteFile(r.folder.MetadataPath()); err != nil {
		return err
	}
	r.sum.MetadataPath = r.folder.MetadataPath()
	return nil
}

func cropResults(arts []crop.Artifact, res []*ocr.Result) []CropResult {
	out := make([]CropResult, 0, len(arts))
	for i, a := range arts {
		out = append(out, CropResult{
			Index:      a.Detection.Index,
			ClassName:  a.Detection.ClassName,
			Confidence: a.Detection.Confidence,
			CropPath:   a.Path,
			Extraction: res[i],
		})
	}
	return out
}

// ProcessBatch runs the images one after another. A failed image never
// stops the batch; images not started before ctx is cancelled are reported
// as errored.
func (o *Orchestrator) ProcessBatch(ctx context.Context, paths []string) BatchSummary {
	runID := common.RunIDFromContext(ctx)
	if runID == "" {
		ctx = common.WithRunID(ctx, "")
		runID = common.RunIDFromContext(ctx)
	}
	logger := common.LoggerFor(ctx, o.logger)
	logger.Info("batch started", "images", len(paths), "ledger", o.cfg.PersistToLedger)

	batch := BatchSummary{RunID: runID}
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			s := ImageSummary{Path: p, Stem: Stem(p), Status: StateErrored, FailedStep: StepDetection, Error: err.Error(),
				States: []State{StateStarted, StateErrored}}
			batch.add(s)
			continue
		}
		batch.add(o.ProcessImage(ctx, p))
	}
	logger.Info("batch finished", "succeeded", batch.Succeeded, "failed", batch.Failed)
	return batch
}
