package models

import "time"

// Job is one pipeline run against one Image. EndedAt stays nil until the run
// finishes; a nil value on an old row marks an interrupted run.
type Job struct {
	JobID     uint       `gorm:"column:job_id;primaryKey" json:"job_id"`
	ImageID   uint       `gorm:"column:image_id;index;not null" json:"image_id"`
	Image     Image      `gorm:"foreignKey:ImageID;references:ImageID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	Model     string     `gorm:"column:model;size:255;not null" json:"model"`
	StartedAt time.Time  `gorm:"column:started_at;autoCreateTime;not null" json:"started_at"`
	EndedAt   *time.Time `gorm:"column:ended_at" json:"ended_at"`
}

func (Job) TableName() string { return "log_jobs" }
