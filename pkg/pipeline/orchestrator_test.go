package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/disintegration/imaging"

	"boardscan/pkg/common"
	"boardscan/pkg/detect"
	"boardscan/pkg/ocr"
)

type fakeDetector struct {
	dets map[string][]detect.Detection
	errs map[string]error
}

func (f *fakeDetector) DetectFile(_ context.Context, path string) (image.Image, []detect.Detection, error) {
	name := filepath.Base(path)
	if err := f.errs[name]; err != nil {
		return nil, nil, common.DetectionFailure("detect", err)
	}
	img, err := imaging.Open(path)
	if err != nil {
		return nil, nil, common.DetectionFailure("detect", err)
	}
	return img, f.dets[name], nil
}

type fakeExtractor struct {
	res   ocr.Result
	calls int
}

func (f *fakeExtractor) Extract(context.Context, image.Image) ocr.Result {
	f.calls++
	return f.res
}

// memLedger records every call; failOn names the operation that fails.
type memLedger struct {
	failOn string
	calls  []string
	ended  []uint
	crops  map[uint]uint
	nextID uint
}

func newMemLedger(failOn string) *memLedger {
	return &memLedger{failOn: failOn, crops: map[uint]uint{}, nextID: 1}
}

func (m *memLedger) call(op string) error {
	m.calls = append(m.calls, op)
	if m.failOn == op {
		return common.PersistenceFailure(op, errors.New("connection refused"))
	}
	return nil
}

func (m *memLedger) id() uint { m.nextID++; return m.nextID }

func (m *memLedger) RegisterImage(context.Context, string, string, string) (uint, error) {
	return m.id(), m.call("RegisterImage")
}

func (m *memLedger) BeginJob(context.Context, uint, string) (uint, error) {
	if err := m.call("BeginJob"); err != nil {
		return 0, err
	}
	return m.id(), nil
}

func (m *memLedger) EndJob(_ context.Context, jobID uint) error {
	m.ended = append(m.ended, jobID)
	return m.call("EndJob")
}

func (m *memLedger) RecordDetections(_ context.Context, _ uint, dets []detect.Detection) ([]uint, error) {
	if err := m.call("RecordDetections"); err != nil {
		return nil, err
	}
	ids := make([]uint, len(dets))
	for i := range dets {
		ids[i] = 100 + uint(i)
	}
	return ids, nil
}

func (m *memLedger) RecordCrop(_ context.Context, _ uint, detectionID uint, _ string) (uint, error) {
	if err := m.call("RecordCrop"); err != nil {
		return 0, err
	}
	id := m.id()
	m.crops[id] = detectionID
	return id, nil
}

func (m *memLedger) RecordExtraction(context.Context, uint, uint, ocr.Result) (uint, error) {
	if err := m.call("RecordExtraction"); err != nil {
		return 0, err
	}
	return m.id(), nil
}

func writeBoard(t *testing.T, dir, name string) string {
	t.Helper()
	img := imaging.New(200, 120, color.NRGBA{R: 20, G: 110, B: 40, A: 255})
	path := filepath.Join(dir, name)
	if err := imaging.Save(img, path); err != nil {
		t.Fatalf("save board: %v", err)
	}
	return path
}

func boardDetections() []detect.Detection {
	return []detect.Detection{
		{Index: 0, ClassName: "IC", Confidence: 0.9, Box: detect.Box{X1: 20, Y1: 20, X2: 80, Y2: 60}},
		{Index: 1, ClassName: "Capacitor", Confidence: 0.6, Box: detect.Box{X1: 100, Y1: 20, X2: 120, Y2: 40}},
		{Index: 2, ClassName: "IC", Confidence: 0.5, Box: detect.Box{X1: 120, Y1: 60, X2: 190, Y2: 110}},
	}
}

func testConfig(out string, ledger bool) Config {
	cfg := DefaultConfig()
	cfg.OutputDir = out
	cfg.PersistToLedger = ledger
	return cfg
}

func fixedClock(o *Orchestrator) {
	at := time.Date(2025, 3, 1, 14, 5, 9, 0, time.UTC)
	o.now = func() time.Time { return at }
}

func TestNewValidates(t *testing.T) {
	det, ext := &fakeDetector{}, &fakeExtractor{}
	tests := []struct {
		name string
		cfg  Config
		l    Ledger
	}{
		{"threshold zero", func() Config { c := testConfig(t.TempDir(), false); c.ConfidenceThreshold = 0; return c }(), nil},
		{"threshold one", func() Config { c := testConfig(t.TempDir(), false); c.ConfidenceThreshold = 1; return c }(), nil},
		{"negative padding", func() Config { c := testConfig(t.TempDir(), false); c.CropPadding = -1; return c }(), nil},
		{"no output dir", testConfig("", false), nil},
		{"ledger mode without ledger", testConfig(t.TempDir(), true), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, det, ext, tt.l, nil)
			if !errors.Is(err, common.ErrInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}
		})
	}
}

func TestLedgerFailureOnExtractionContinuesBatch(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	first := writeBoard(t, in, "first.jpg")
	second := writeBoard(t, in, "second.jpg")
	det := &fakeDetector{dets: map[string][]detect.Detection{"first.jpg": boardDetections()}}
	ext := &fakeExtractor{res: ocr.Result{RawText: "NE555", CleanedText: "NE555", Confidence: 80}}
	led := newMemLedger("RecordExtraction")

	o, err := New(testConfig(out, true), det, ext, led, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	batch := o.ProcessBatch(context.Background(), []string{first, second})

	if batch.Succeeded != 1 || batch.Failed != 1 || len(batch.Images) != 2 {
		t.Fatalf("unexpected batch: succeeded=%d failed=%d images=%d", batch.Succeeded, batch.Failed, len(batch.Images))
	}
	if batch.RunID == "" {
		t.Fatal("expected a run id")
	}
	s := batch.Images[0]
	if s.Status != StateErrored || s.FailedStep != StepLogging {
		t.Fatalf("expected errored at logging, got %s/%s", s.Status, s.FailedStep)
	}
	wantStates := []State{StateStarted, StateDetected, StateCropped, StateExtracted, StateErrored}
	if !reflect.DeepEqual(s.States, wantStates) {
		t.Fatalf("states = %v, want %v", s.States, wantStates)
	}
	if s.JobID == 0 {
		t.Fatal("expected job id on a failed ledger write after BeginJob")
	}
	if len(s.CropPaths) != 2 {
		t.Fatalf("expected 2 IC crops, got %d", len(s.CropPaths))
	}
	for _, p := range s.CropPaths {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("crop file should remain after ledger failure: %v", err)
		}
	}
	if len(led.ended) != 2 || led.ended[0] != s.JobID {
		t.Fatalf("EndJob must be attempted for every begun job, got %v", led.ended)
	}
	if second := batch.Images[1]; !second.OK() || second.Detections != 0 {
		t.Fatalf("second image should complete with no detections: %+v", second)
	}
}

func TestLedgerWriteOrderAndDetectionMapping(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	path := writeBoard(t, in, "board.png")
	det := &fakeDetector{dets: map[string][]detect.Detection{"board.png": boardDetections()}}
	ext := &fakeExtractor{res: ocr.Result{RawText: "ATmega328P", CleanedText: "ATmega328P", Orientation: 90, Confidence: 77}}
	led := newMemLedger("")

	o, err := New(testConfig(out, true), det, ext, led, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	s := o.ProcessImage(context.Background(), path)
	if !s.OK() {
		t.Fatalf("expected complete, got %s: %s", s.Status, s.Error)
	}
	want := []string{"RegisterImage", "BeginJob", "RecordDetections",
		"RecordCrop", "RecordExtraction", "RecordCrop", "RecordExtraction", "EndJob"}
	if !reflect.DeepEqual(led.calls, want) {
		t.Fatalf("calls = %v, want %v", led.calls, want)
	}
	var detIDs []uint
	for cropID := uint(0); cropID < led.nextID+1; cropID++ {
		if d, ok := led.crops[cropID]; ok {
			detIDs = append(detIDs, d)
		}
	}
	if !reflect.DeepEqual(detIDs, []uint{100, 102}) {
		t.Fatalf("crops should reference detections 0 and 2, got %v", detIDs)
	}
	if s.TextFound != 2 || s.Extractions != 2 || ext.calls != 2 {
		t.Fatalf("unexpected extraction counts: %+v", s)
	}
	if filepath.Base(filepath.Dir(s.ArtifactDir)) != "runs" {
		t.Fatalf("ledger mode artifacts belong under runs/, got %s", s.ArtifactDir)
	}
	if !filepath.IsAbs(s.CropPaths[0]) {
		t.Fatalf("crop paths stored in the ledger must be absolute: %s", s.CropPaths[0])
	}
	if s.MetadataPath != "" {
		t.Fatalf("ledger mode writes no metadata document, got %s", s.MetadataPath)
	}
}

func TestLedgerFailureBeforeJobSkipsEndJob(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	path := writeBoard(t, in, "board.jpg")
	led := newMemLedger("BeginJob")
	o, err := New(testConfig(out, true), &fakeDetector{}, &fakeExtractor{}, led, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	s := o.ProcessImage(context.Background(), path)
	if s.FailedStep != StepLogging || s.Error == "" || s.JobID != 0 {
		t.Fatalf("expected logging failure, got %+v", s)
	}
	if len(led.ended) != 0 {
		t.Fatalf("no job was begun, EndJob must not run: %v", led.ended)
	}
}

func TestDetectionFailureDoesNotStopBatch(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	bad := writeBoard(t, in, "bad.jpg")
	good := writeBoard(t, in, "good.jpg")
	det := &fakeDetector{
		dets: map[string][]detect.Detection{"good.jpg": boardDetections()[:1]},
		errs: map[string]error{"bad.jpg": errors.New("model unavailable")},
	}
	o, err := New(testConfig(out, false), det, &fakeExtractor{}, nil, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	batch := o.ProcessBatch(context.Background(), []string{bad, good})
	if batch.Failed != 1 || batch.Succeeded != 1 {
		t.Fatalf("unexpected batch: %+v", batch)
	}
	s := batch.Images[0]
	if s.FailedStep != StepDetection || s.Error == "" {
		t.Fatalf("expected detection failure with error text, got %+v", s)
	}
	if !reflect.DeepEqual(s.States, []State{StateStarted, StateErrored}) {
		t.Fatalf("states = %v", s.States)
	}
	if s.ArtifactDir != "" {
		t.Fatalf("no artifacts expected for a failed detection, got %s", s.ArtifactDir)
	}
}

func TestZeroDetectionsSkipExtraction(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	path := writeBoard(t, in, "empty.jpg")
	ext := &fakeExtractor{}
	o, err := New(testConfig(out, false), &fakeDetector{}, ext, nil, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	s := o.ProcessImage(context.Background(), path)
	want := []State{StateStarted, StateDetected, StateCropped, StateLogged, StateComplete}
	if !reflect.DeepEqual(s.States, want) {
		t.Fatalf("states = %v, want %v", s.States, want)
	}
	if ext.calls != 0 || s.Crops != 0 {
		t.Fatalf("no extraction expected, got calls=%d crops=%d", ext.calls, s.Crops)
	}
	if s.MetadataPath == "" {
		t.Fatal("metadata should still be written")
	}
}

func TestFileSystemJobFolder(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	path := writeBoard(t, in, "board.JPG")
	det := &fakeDetector{dets: map[string][]detect.Detection{"board.JPG": boardDetections()}}
	ext := &fakeExtractor{res: ocr.Result{RawText: "LM358", CleanedText: "LM358", Orientation: 180, Confidence: 64.5, Variant: "otsu"}}
	o, err := New(testConfig(out, false), det, ext, nil, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	fixedClock(o)
	s := o.ProcessImage(context.Background(), path)
	if !s.OK() {
		t.Fatalf("expected complete, got %s: %s", s.Status, s.Error)
	}

	root := filepath.Join(out, "jobs", "board_20250301_140509")
	if s.ArtifactDir != root {
		t.Fatalf("artifact dir = %s, want %s", s.ArtifactDir, root)
	}
	for _, rel := range []string{"input.jpg", "result.jpg", "metadata.json", "crops/board_IC_0.jpg", "crops/board_IC_2.jpg"} {
		if _, err := os.Stat(filepath.Join(root, rel)); err != nil {
			t.Errorf("missing %s: %v", rel, err)
		}
	}
	if _, err := os.Stat(filepath.Join(root, "crops", "board_Capacitor_1.jpg")); !os.IsNotExist(err) {
		t.Errorf("capacitor is outside the class filter and must not be cropped")
	}

	data, err := os.ReadFile(s.MetadataPath)
	if err != nil {
		t.Fatalf("read metadata: %v", err)
	}
	if err := ValidateMetadata(data); err != nil {
		t.Fatalf("metadata on disk does not validate: %v", err)
	}
	var md Metadata
	if err := json.Unmarshal(data, &md); err != nil {
		t.Fatalf("decode metadata: %v", err)
	}
	if md.Image != "board.JPG" || md.Input != "input.jpg" || md.Result != "result.jpg" {
		t.Fatalf("unexpected header: %+v", md)
	}
	if len(md.Detections) != 3 {
		t.Fatalf("every detection must be listed, got %d", len(md.Detections))
	}
	if md.Detections[1].CropFile != nil || md.Detections[1].Extraction != nil {
		t.Fatalf("capacitor entry should have no crop: %+v", md.Detections[1])
	}
	if c := md.Detections[2].CropFile; c == nil || *c != "crops/board_IC_2.jpg" {
		t.Fatalf("unexpected crop file for index 2: %v", c)
	}
	if x := md.Detections[0].Extraction; x == nil || x.CleanedText != "LM358" || x.Orientation != 180 {
		t.Fatalf("unexpected extraction: %+v", x)
	}
}

func TestCancelledBatchReportsRemainingImages(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	paths := []string{writeBoard(t, in, "a.jpg"), writeBoard(t, in, "b.jpg")}
	o, err := New(testConfig(out, false), &fakeDetector{}, &fakeExtractor{}, nil, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	batch := o.ProcessBatch(ctx, paths)
	if batch.Failed != 2 || len(batch.Images) != 2 {
		t.Fatalf("expected both images reported as failed, got %+v", batch)
	}
	if batch.Images[1].Error != context.Canceled.Error() {
		t.Fatalf("unexpected error text %q", batch.Images[1].Error)
	}
}

func TestValidateMetadata(t *testing.T) {
	valid := Metadata{
		Image: "b.jpg", Input: "input.jpg", Model: "m", CreatedAt: time.Now(),
		ConfidenceThreshold: 0.25, CropPadding: 10, ClassFilter: []string{"IC"},
		Detections: []MetadataDetection{{Index: 0, ClassName: "IC", Confidence: 0.8, Box: detect.Box{X1: 1, Y1: 1, X2: 5, Y2: 5}}},
	}
	if _, err := valid.Encode(); err != nil {
		t.Fatalf("valid document rejected: %v", err)
	}

	tests := map[string]string{
		"missing detections":  `{"image":"b.jpg","input":"input.jpg","model":"m","created_at":"2025-03-01T14:05:09Z","confidence_threshold":0.25,"crop_padding":10,"class_filter":[]}`,
		"threshold above one": `{"image":"b.jpg","input":"input.jpg","model":"m","created_at":"2025-03-01T14:05:09Z","confidence_threshold":1.5,"crop_padding":10,"class_filter":[],"detections":[]}`,
		"bad orientation": `{"image":"b.jpg","input":"input.jpg","model":"m","created_at":"2025-03-01T14:05:09Z","confidence_threshold":0.25,"crop_padding":10,"class_filter":[],"detections":[
			{"index":0,"class_name":"IC","confidence":0.8,"bbox":{"x1":1,"y1":1,"x2":5,"y2":5},"crop_file":"crops/b_IC_0.jpg",
			 "extraction":{"raw_text":"x","cleaned_text":"x","orientation":45,"confidence":50}}]}`,
		"crop file absent": `{"image":"b.jpg","input":"input.jpg","model":"m","created_at":"2025-03-01T14:05:09Z","confidence_threshold":0.25,"crop_padding":10,"class_filter":[],"detections":[
			{"index":0,"class_name":"IC","confidence":0.8,"bbox":{"x1":1,"y1":1,"x2":5,"y2":5}}]}`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			if err := ValidateMetadata([]byte(doc)); err == nil {
				t.Fatal("expected schema violation")
			}
		})
	}
}

func TestJobFolderNaming(t *testing.T) {
	at := time.Date(2024, 12, 31, 23, 59, 58, 0, time.UTC)
	if got := FolderName(Stem("/x/y/pcb-01.jpeg"), at); got != "pcb-01_20241231_235958" {
		t.Fatalf("folder name = %s", got)
	}
	jf := JobFolder{Root: "/out/jobs/pcb"}
	if got := jf.InputPath("/x/y/pcb.PNG"); got != filepath.Join("/out/jobs/pcb", "input.png") {
		t.Fatalf("input path = %s", got)
	}
	if got := jf.Rel(filepath.Join("/out/jobs/pcb", "crops", "a.jpg")); got != "crops/a.jpg" {
		t.Fatalf("rel = %s", got)
	}
}
