package models

// Alert is a user-facing warning raised by the rebroadcast engine, such as
// an incompatible audio codec or a camera that needs a different setting.
type Alert struct {
	BaseModel
	CameraID string `gorm:"type:varchar(128);not null;index" json:"camera_id"`
	Title    string `gorm:"type:varchar(255);not null" json:"title"`
	Message  string `gorm:"type:text;not null" json:"message"`
}

// TableName returns the table name for alerts.
func (Alert) TableName() string {
	return "alerts"
}
