package models

import "time"

// Crop is the cropped image of a single Detection (at most one per detection).
type Crop struct {
	CroppedID       uint      `gorm:"column:cropped_id;primaryKey" json:"cropped_id"`
	JobID           uint      `gorm:"column:job_id;index;not null" json:"job_id"`
	Job             Job       `gorm:"foreignKey:JobID;references:JobID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	DetectionID     uint      `gorm:"column:detection_id;uniqueIndex;not null" json:"detection_id"`
	Detection       Detection `gorm:"foreignKey:DetectionID;references:DetectionID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	CroppedFilePath string    `gorm:"column:cropped_file_path;size:1024;not null" json:"cropped_file_path"`
	CreatedAt       time.Time `gorm:"column:created_at" json:"created_at"`
}

func (Crop) TableName() string { return "crops" }
