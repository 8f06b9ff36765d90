package models

import "time"

// Image is one uploaded or captured board photograph. Rows are never
// updated or deleted by the pipeline.
type Image struct {
	ImageID  uint      `gorm:"column:image_id;primaryKey" json:"image_id"`
	FileName string    `gorm:"column:file_name;size:255;not null" json:"file_name"`
	FilePath string    `gorm:"column:file_path;size:1024;not null" json:"file_path"`
	Format   string    `gorm:"column:format;size:16" json:"format"`
	UploadAt time.Time `gorm:"column:upload_at;autoCreateTime;not null" json:"upload_at"`
}

func (Image) TableName() string { return "images_input" }
