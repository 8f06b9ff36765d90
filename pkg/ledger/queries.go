package ledger

import (
	"context"
	"time"

	"boardscan/models"
	"boardscan/pkg/common"
)

// JobSummary is a job row with its image file name and detection count.
type JobSummary struct {
	JobID          uint       `json:"job_id"`
	ImageID        uint       `json:"image_id"`
	FileName       string     `json:"file_name"`
	Model          string     `json:"model"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at"`
	DetectionCount int64      `json:"detection_count"`
}

// ExtractionRow joins an extraction with its crop and detection.
type ExtractionRow struct {
	OCRID           uint      `json:"ocr_id"`
	JobID           uint      `json:"job_id"`
	CroppedID       uint      `json:"cropped_id"`
	DetectionID     uint      `json:"detection_id"`
	ClassName       string    `json:"class_name"`
	CroppedFilePath string    `json:"cropped_file_path"`
	RawText         string    `json:"raw_text"`
	CleanedMPN      string    `json:"cleaned_mpn"`
	RotationAngle   int       `json:"rotation_angle"`
	Confidence      float64   `json:"confidence"`
	ProcessedAt     time.Time `json:"processed_at"`
}

type JobStats struct {
	JobID       uint       `json:"job_id"`
	FileName    string     `json:"file_name"`
	FilePath    string     `json:"file_path"`
	Model       string     `json:"model"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at"`
	Detections  int64      `json:"detections"`
	Crops       int64      `json:"crops"`
	Extractions int64      `json:"extractions"`
}

type ClassCount struct {
	ClassName string `json:"class_name"`
	Count     int64  `json:"count"`
}

type GlobalStats struct {
	TotalImages           int64        `json:"total_images"`
	TotalJobs             int64        `json:"total_jobs"`
	TotalDetections       int64        `json:"total_detections"`
	TotalCrops            int64        `json:"total_crops"`
	TotalExtractions      int64        `json:"total_extractions"`
	SuccessfulExtractions int64        `json:"successful_extractions"`
	ClassHistogram        []ClassCount `json:"class_histogram"`
}

const defaultJobLimit = 50

func (l *Ledger) ListImages(ctx context.Context) ([]models.Image, error) {
	var out []models.Image
	err := l.db.WithContext(ctx).Order("upload_at DESC, image_id DESC").Find(&out).Error
	return out, common.PersistenceFailure("list images", err)
}

// ListJobs returns the most recent jobs first. limit <= 0 means 50.
func (l *Ledger) ListJobs(ctx context.Context, limit int) ([]JobSummary, error) {
	if limit <= 0 {
		limit = defaultJobLimit
	}
	var out []JobSummary
	err := l.db.WithContext(ctx).
		Table("log_jobs AS j").
		Select(`j.job_id, j.image_id, i.file_name, j.model, j.started_at, j.ended_at,
			(SELECT COUNT(*) FROM detections d WHERE d.job_id = j.job_id) AS detection_count`).
		Joins("JOIN images_input i ON i.image_id = j.image_id").
		Order("j.started_at DESC, j.job_id DESC").
		Limit(limit).
		Scan(&out).Error
	return out, common.PersistenceFailure("list jobs", err)
}

// ListDetections returns detections in job and index order, optionally for
// one job.
func (l *Ledger) ListDetections(ctx context.Context, jobID *uint) ([]models.Detection, error) {
	q := l.db.WithContext(ctx).Order("job_id, detection_index, detection_id")
	if jobID != nil {
		q = q.Where("job_id = ?", *jobID)
	}
	var out []models.Detection
	err := q.Find(&out).Error
	return out, common.PersistenceFailure("list detections", err)
}

func (l *Ledger) ListExtractions(ctx context.Context, jobID *uint) ([]ExtractionRow, error) {
	q := l.db.WithContext(ctx).
		Table("extractions AS e").
		Select(`e.ocr_id, e.job_id, e.cropped_id, c.detection_id, d.class_name, c.cropped_file_path,
			e.raw_text, e.cleaned_mpn, e.rotation_angle, e.confidence, e.processed_at`).
		Joins("JOIN crops c ON c.cropped_id = e.cropped_id").
		Joins("JOIN detections d ON d.detection_id = c.detection_id").
		Order("e.job_id, d.detection_index, e.ocr_id")
	if jobID != nil {
		q = q.Where("e.job_id = ?", *jobID)
	}
	var out []ExtractionRow
	err := q.Scan(&out).Error
	return out, common.PersistenceFailure("list extractions", err)
}

// JobStatistics counts the rows of one job.
func (l *Ledger) JobStatistics(ctx context.Context, jobID uint) (JobStats, error) {
	db := l.db.WithContext(ctx)
	var job models.Job
	if err := db.Preload("Image").First(&job, jobID).Error; err != nil {
		if isNotFound(err) {
			return JobStats{}, common.NotFoundFailure("job statistics", "job", jobID)
		}
		return JobStats{}, common.PersistenceFailure("job statistics", err)
	}
	st := JobStats{
		JobID:     job.JobID,
		FileName:  job.Image.FileName,
		FilePath:  job.Image.FilePath,
		Model:     job.Model,
		StartedAt: job.StartedAt,
		EndedAt:   job.EndedAt,
	}
	counts := []struct {
		model any
		dst   *int64
	}{
		{&models.Detection{}, &st.Detections},
		{&models.Crop{}, &st.Crops},
		{&models.Extraction{}, &st.Extractions},
	}
	for _, c := range counts {
		if err := db.Model(c.model).Where("job_id = ?", jobID).Count(c.dst).Error; err != nil {
			return JobStats{}, common.PersistenceFailure("job statistics", err)
		}
	}
	return st, nil
}

// GlobalStatistics returns ledger-wide totals and the class histogram,
// largest class first.
func (l *Ledger) GlobalStatistics(ctx context.Context) (GlobalStats, error) {
	db := l.db.WithContext(ctx)
	var st GlobalStats
	counts := []struct {
		model any
		dst   *int64
	}{
		{&models.Image{}, &st.TotalImages},
		{&models.Job{}, &st.TotalJobs},
		{&models.Detection{}, &st.TotalDetections},
		{&models.Crop{}, &st.TotalCrops},
		{&models.Extraction{}, &st.TotalExtractions},
	}
	for _, c := range counts {
		if err := db.Model(c.model).Count(c.dst).Error; err != nil {
			return GlobalStats{}, common.PersistenceFailure("global statistics", err)
		}
	}
	if err := db.Model(&models.Extraction{}).
		Where("cleaned_mpn IS NOT NULL AND cleaned_mpn <> ''").
		Count(&st.SuccessfulExtractions).Error; err != nil {
		return GlobalStats{}, common.PersistenceFailure("global statistics", err)
	}
	err := db.Model(&models.Detection{}).
		Select("class_name, COUNT(*) AS count").
		Group("class_name").
		Order("count DESC, class_name").
		Scan(&st.ClassHistogram).Error
	if err != nil {
		return GlobalStats{}, common.PersistenceFailure("global statistics", err)
	}
	return st, nil
}
