package models

// Detection is one located component within a Job. DetectionIndex is the
// position in the detector output and matches the index in crop file names.
type Detection struct {
	DetectionID    uint    `gorm:"column:detection_id;primaryKey" json:"detection_id"`
	JobID          uint    `gorm:"column:job_id;index;not null" json:"job_id"`
	Job            Job     `gorm:"foreignKey:JobID;references:JobID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	DetectionIndex int     `gorm:"column:detection_index;not null;default:0" json:"detection_index"`
	ClassName      string  `gorm:"column:class_name;size:64;index;not null" json:"class_name"`
	Confidence     float64 `gorm:"column:confidence;not null" json:"confidence"`
	BboxX1         float64 `gorm:"column:bbox_x1;not null" json:"bbox_x1"`
	BboxY1         float64 `gorm:"column:bbox_y1;not null" json:"bbox_y1"`
	BboxX2         float64 `gorm:"column:bbox_x2;not null" json:"bbox_x2"`
	BboxY2         float64 `gorm:"column:bbox_y2;not null" json:"bbox_y2"`
}

func (Detection) TableName() string { return "detections" }
