package ledger

import (
	"context"
	"errors"
	"testing"

	"boardscan/models"
	"boardscan/pkg/common"
	"boardscan/pkg/detect"
	"boardscan/pkg/ocr"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(context.Background(), common.DatabaseConfig{DSN: "sqlite::memory:", AutoMigrate: true}, nil)
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(l.Close)
	return l
}

func sampleDetections() []detect.Detection {
	return []detect.Detection{
		{Index: 0, ClassName: "IC", Confidence: 0.91, Box: detect.Box{X1: 10, Y1: 10, X2: 60, Y2: 40}},
		{Index: 1, ClassName: "Capacitor", Confidence: 0.52, Box: detect.Box{X1: 70, Y1: 10, X2: 90, Y2: 30}},
		{Index: 2, ClassName: "IC", Confidence: 0.44, Box: detect.Box{X1: 100, Y1: 50, X2: 160, Y2: 90}},
	}
}

// seedJob registers an image and opens a job with three detections.
func seedJob(t *testing.T, l *Ledger, name string) (uint, []uint) {
	t.Helper()
	ctx := context.Background()
	imgID, err := l.RegisterImage(ctx, name, "/data/"+name, "jpg")
	if err != nil {
		t.Fatalf("register image: %v", err)
	}
	jobID, err := l.BeginJob(ctx, imgID, "llava:13b")
	if err != nil {
		t.Fatalf("begin job: %v", err)
	}
	ids, err := l.RecordDetections(ctx, jobID, sampleDetections())
	if err != nil {
		t.Fatalf("record detections: %v", err)
	}
	return jobID, ids
}

func TestJobLifecycle(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	jobID, detIDs := seedJob(t, l, "board1.jpg")

	if len(detIDs) != 3 {
		t.Fatalf("expected 3 detection ids, got %d", len(detIDs))
	}
	dets, err := l.ListDetections(ctx, &jobID)
	if err != nil {
		t.Fatalf("list detections: %v", err)
	}
	for i, d := range dets {
		if d.DetectionID != detIDs[i] || d.DetectionIndex != i {
			t.Fatalf("detection %d out of order: %+v", i, d)
		}
	}

	cropID, err := l.RecordCrop(ctx, jobID, detIDs[0], "/out/board1_IC_0.jpg")
	if err != nil {
		t.Fatalf("record crop: %v", err)
	}
	res := ocr.Result{RawText: "STM32F103\nC8T6", CleanedText: "STM32F103 C8T6", Orientation: 90, Confidence: 88.5}
	if _, err := l.RecordExtraction(ctx, jobID, cropID, res); err != nil {
		t.Fatalf("record extraction: %v", err)
	}

	jobs, err := l.ListJobs(ctx, 10)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].DetectionCount != 3 || jobs[0].FileName != "board1.jpg" {
		t.Fatalf("unexpected jobs: %+v", jobs)
	}
	if jobs[0].EndedAt != nil {
		t.Fatalf("job should still be open")
	}

	if err := l.EndJob(ctx, jobID); err != nil {
		t.Fatalf("end job: %v", err)
	}
	stats, err := l.JobStatistics(ctx, jobID)
	if err != nil {
		t.Fatalf("job statistics: %v", err)
	}
	if stats.Detections != 3 || stats.Crops != 1 || stats.Extractions != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.FilePath != "/data/board1.jpg" || stats.EndedAt == nil {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	exts, err := l.ListExtractions(ctx, &jobID)
	if err != nil {
		t.Fatalf("list extractions: %v", err)
	}
	if len(exts) != 1 || exts[0].ClassName != "IC" || exts[0].CleanedMPN != "STM32F103 C8T6" || exts[0].RotationAngle != 90 {
		t.Fatalf("unexpected extractions: %+v", exts)
	}
}

func TestEndJobIsIdempotent(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	jobID, _ := seedJob(t, l, "b.jpg")

	if err := l.EndJob(ctx, jobID); err != nil {
		t.Fatalf("first end: %v", err)
	}
	var first models.Job
	if err := l.DB().First(&first, jobID).Error; err != nil {
		t.Fatal(err)
	}
	if err := l.EndJob(ctx, jobID); err != nil {
		t.Fatalf("second end: %v", err)
	}
	var second models.Job
	if err := l.DB().First(&second, jobID).Error; err != nil {
		t.Fatal(err)
	}
	if first.EndedAt == nil || second.EndedAt == nil || !first.EndedAt.Equal(*second.EndedAt) {
		t.Fatalf("ended_at changed: %v -> %v", first.EndedAt, second.EndedAt)
	}

	if err := l.EndJob(ctx, 9999); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected not found for unknown job, got %v", err)
	}
}

func TestRejectsCrossJobReferences(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	jobA, detsA := seedJob(t, l, "a.jpg")
	jobB, _ := seedJob(t, l, "b.jpg")

	if _, err := l.RecordCrop(ctx, jobB, detsA[0], "/x.jpg"); !errors.Is(err, common.ErrInvalidInput) {
		t.Fatalf("expected cross-job crop rejection, got %v", err)
	}
	cropA, err := l.RecordCrop(ctx, jobA, detsA[0], "/a_IC_0.jpg")
	if err != nil {
		t.Fatalf("record crop: %v", err)
	}
	if _, err := l.RecordExtraction(ctx, jobB, cropA, ocr.Result{}); !errors.Is(err, common.ErrInvalidInput) {
		t.Fatalf("expected cross-job extraction rejection, got %v", err)
	}

	stats, err := l.JobStatistics(ctx, jobB)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Crops != 0 || stats.Extractions != 0 {
		t.Fatalf("rejected writes must roll back: %+v", stats)
	}
}

func TestOneCropPerDetection(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	jobID, dets := seedJob(t, l, "a.jpg")

	cropID, err := l.RecordCrop(ctx, jobID, dets[0], "/a_IC_0.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.RecordCrop(ctx, jobID, dets[0], "/again.jpg"); !errors.Is(err, common.ErrPersistence) {
		t.Fatalf("second crop for one detection must fail, got %v", err)
	}
	if _, err := l.RecordExtraction(ctx, jobID, cropID, ocr.Result{CleanedText: "A"}); err != nil {
		t.Fatal(err)
	}
	if _, err := l.RecordExtraction(ctx, jobID, cropID, ocr.Result{CleanedText: "B"}); !errors.Is(err, common.ErrPersistence) {
		t.Fatalf("second extraction for one crop must fail, got %v", err)
	}
}

func TestUnknownParents(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	tests := []struct {
		name string
		call func() error
	}{
		{"begin job", func() error { _, err := l.BeginJob(ctx, 42, "m"); return err }},
		{"detections", func() error { _, err := l.RecordDetections(ctx, 42, sampleDetections()); return err }},
		{"crop", func() error { _, err := l.RecordCrop(ctx, 1, 42, "/p"); return err }},
		{"extraction", func() error { _, err := l.RecordExtraction(ctx, 1, 42, ocr.Result{}); return err }},
		{"job stats", func() error { _, err := l.JobStatistics(ctx, 42); return err }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.call()
			if !errors.Is(err, common.ErrNotFound) {
				t.Fatalf("expected not found, got %v", err)
			}
			if errors.Is(err, common.ErrPersistence) {
				t.Fatalf("not found must not be reported as a persistence failure: %v", err)
			}
		})
	}
}

func TestGlobalStatistics(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	jobA, detsA := seedJob(t, l, "a.jpg")
	seedJob(t, l, "b.jpg")

	c0, _ := l.RecordCrop(ctx, jobA, detsA[0], "/a0.jpg")
	c2, _ := l.RecordCrop(ctx, jobA, detsA[2], "/a2.jpg")
	if _, err := l.RecordExtraction(ctx, jobA, c0, ocr.Result{CleanedText: "NE555"}); err != nil {
		t.Fatal(err)
	}
	if _, err := l.RecordExtraction(ctx, jobA, c2, ocr.Result{}); err != nil {
		t.Fatal(err)
	}

	st, err := l.GlobalStatistics(ctx)
	if err != nil {
		t.Fatalf("global statistics: %v", err)
	}
	if st.TotalImages != 2 || st.TotalJobs != 2 || st.TotalDetections != 6 || st.TotalCrops != 2 || st.TotalExtractions != 2 {
		t.Fatalf("unexpected totals: %+v", st)
	}
	if st.SuccessfulExtractions != 1 {
		t.Fatalf("successful extractions: %d", st.SuccessfulExtractions)
	}
	if len(st.ClassHistogram) != 2 || st.ClassHistogram[0] != (ClassCount{"IC", 4}) {
		t.Fatalf("histogram: %+v", st.ClassHistogram)
	}
	var sum int64
	for _, c := range st.ClassHistogram {
		sum += c.Count
	}
	if sum != st.TotalDetections {
		t.Fatalf("histogram sums to %d, want %d", sum, st.TotalDetections)
	}
}

func TestDetectionCountMatchesRows(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	seedJob(t, l, "a.jpg")
	imgID, _ := l.RegisterImage(ctx, "empty.jpg", "/data/empty.jpg", "jpg")
	emptyJob, _ := l.BeginJob(ctx, imgID, "m")
	if ids, err := l.RecordDetections(ctx, emptyJob, nil); err != nil || len(ids) != 0 {
		t.Fatalf("empty batch: %v %v", ids, err)
	}

	jobs, err := l.ListJobs(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	for _, j := range jobs {
		jid := j.JobID
		dets, err := l.ListDetections(ctx, &jid)
		if err != nil {
			t.Fatal(err)
		}
		if int64(len(dets)) != j.DetectionCount {
			t.Fatalf("job %d: count %d rows %d", j.JobID, j.DetectionCount, len(dets))
		}
	}
	all, _ := l.ListDetections(ctx, nil)
	if len(all) != 3 {
		t.Fatalf("expected 3 detections overall, got %d", len(all))
	}
	images, _ := l.ListImages(ctx)
	if len(images) != 2 {
		t.Fatalf("expected 2 images, got %d", len(images))
	}
}

func TestPingAndOpenErrors(t *testing.T) {
	l := newTestLedger(t)
	if err := l.Ping(context.Background(), 0); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if _, err := Open(context.Background(), common.DatabaseConfig{}, nil); !errors.Is(err, common.ErrInvalidInput) {
		t.Fatalf("expected invalid input for empty DSN, got %v", err)
	}
}
