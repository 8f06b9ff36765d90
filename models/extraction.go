package models

import "time"

// Extraction is the winning text hypothesis for one Crop. Confidence uses the
// recognizer's 0..100 scale; RotationAngle is one of 0, 90, 180, 270.
type Extraction struct {
	OCRID         uint      `gorm:"column:ocr_id;primaryKey" json:"ocr_id"`
	JobID         uint      `gorm:"column:job_id;index;not null" json:"job_id"`
	Job           Job       `gorm:"foreignKey:JobID;references:JobID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	CroppedID     uint      `gorm:"column:cropped_id;uniqueIndex;not null" json:"cropped_id"`
	Crop          Crop      `gorm:"foreignKey:CroppedID;references:CroppedID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	RawText       string    `gorm:"column:raw_text;type:text" json:"raw_text"`
	CleanedMPN    string    `gorm:"column:cleaned_mpn;size:255" json:"cleaned_mpn"`
	RotationAngle int       `gorm:"column:rotation_angle;not null" json:"rotation_angle"`
	Confidence    float64   `gorm:"column:confidence" json:"confidence"`
	ProcessedAt   time.Time `gorm:"column:processed_at;autoCreateTime;not null" json:"processed_at"`
}

func (Extraction) TableName() string { return "extractions" }

// All lists the ledger models in dependency order for migration.
func All() []any {
	return []any{&Image{}, &Job{}, &Detection{}, &Crop{}, &Extraction{}}
}
