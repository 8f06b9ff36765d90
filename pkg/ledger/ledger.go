package ledger

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"boardscan/models"
	"boardscan/pkg/common"
	"boardscan/pkg/detect"
	"boardscan/pkg/ocr"
)

// RegisterImage records an ingested photo and returns its id.
func (l *Ledger) RegisterImage(ctx context.Context, fileName, filePath, format string) (uint, error) {
	img := models.Image{FileName: fileName, FilePath: filePath, Format: format}
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&img).Error
	})
	if err != nil {
		return 0, common.PersistenceFailure("register image", err)
	}
	return img.ImageID, nil
}

// BeginJob opens a job against imageID. The job stays open (ended_at null)
// until EndJob.
func (l *Ledger) BeginJob(ctx context.Context, imageID uint, model string) (uint, error) {
	job := models.Job{ImageID: imageID, Model: model}
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var img models.Image
		if err := tx.Select("image_id").First(&img, imageID).Error; err != nil {
			if isNotFound(err) {
				return common.NotFoundFailure("begin job", "image", imageID)
			}
			return err
		}
		return tx.Create(&job).Error
	})
	if err != nil {
		return 0, common.PersistenceFailure("begin job", err)
	}
	l.logger.Debug("job started", "job_id", job.JobID, "image_id", imageID, "model", model)
	return job.JobID, nil
}

// EndJob sets the job's end time. Only the first call has an effect.
func (l *Ledger) EndJob(ctx context.Context, jobID uint) error {
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := jobExists(tx, "end job", jobID); err != nil {
			return err
		}
		return tx.Model(&models.Job{}).
			Where("job_id = ? AND ended_at IS NULL", jobID).
			Update("ended_at", time.Now().UTC()).Error
	})
	return common.PersistenceFailure("end job", err)
}

// RecordDetections inserts dets as one batch and returns their ids in input
// order.
func (l *Ledger) RecordDetections(ctx context.Context, jobID uint, dets []detect.Detection) ([]uint, error) {
	rows := make([]models.Detection, len(dets))
	for i, d := range dets {
		rows[i] = models.Detection{
			JobID:          jobID,
			DetectionIndex: d.Index,
			ClassName:      d.ClassName,
			Confidence:     d.Confidence,
			BboxX1:         d.Box.X1,
			BboxY1:         d.Box.Y1,
			BboxX2:         d.Box.X2,
			BboxY2:         d.Box.Y2,
		}
	}
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := jobExists(tx, "record detections", jobID); err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		return nil, common.PersistenceFailure("record detections", err)
	}
	ids := make([]uint, len(rows))
	for i, r := range rows {
		ids[i] = r.DetectionID
	}
	return ids, nil
}

// RecordCrop links a crop file to its detection. The detection must belong
// to jobID.
func (l *Ledger) RecordCrop(ctx context.Context, jobID, detectionID uint, path string) (uint, error) {
	crop := models.Crop{JobID: jobID, DetectionID: detectionID, CroppedFilePath: path}
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var det models.Detection
		if err := tx.Select("detection_id", "job_id").First(&det, detectionID).Error; err != nil {
			if isNotFound(err) {
				return common.NotFoundFailure("record crop", "detection", detectionID)
			}
			return err
		}
		if det.JobID != jobID {
			return crossJob("record crop", "detection", detectionID, det.JobID, jobID)
		}
		return tx.Create(&crop).Error
	})
	if err != nil {
		return 0, common.PersistenceFailure("record crop", err)
	}
	return crop.CroppedID, nil
}

// RecordExtraction stores the winning hypothesis for a crop. The crop must
// belong to jobID.
func (l *Ledger) RecordExtraction(ctx context.Context, jobID, cropID uint, res ocr.Result) (uint, error) {
	ext := models.Extraction{
		JobID:         jobID,
		CroppedID:     cropID,
		RawText:       res.RawText,
		CleanedMPN:    res.CleanedText,
		RotationAngle: res.Orientation,
		Confidence:    res.Confidence,
	}
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var crop models.Crop
		if err := tx.Select("cropped_id", "job_id").First(&crop, cropID).Error; err != nil {
			if isNotFound(err) {
				return common.NotFoundFailure("record extraction", "crop", cropID)
			}
			return err
		}
		if crop.JobID != jobID {
			return crossJob("record extraction", "crop", cropID, crop.JobID, jobID)
		}
		return tx.Create(&ext).Error
	})
	if err != nil {
		return 0, common.PersistenceFailure("record extraction", err)
	}
	return ext.OCRID, nil
}

func jobExists(tx *gorm.DB, op string, jobID uint) error {
	var n int64
	if err := tx.Model(&models.Job{}).Where("job_id = ?", jobID).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return common.NotFoundFailure(op, "job", jobID)
	}
	return nil
}

func crossJob(op, what string, id, owner, jobID uint) error {
	return common.InvalidInput(op, fmt.Sprintf("%s %d belongs to job %d, not job %d", what, id, owner, jobID))
}
