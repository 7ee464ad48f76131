package models

// Setting is one persisted key/value pair scoped to a camera. Values are
// stored as strings; list values are JSON encoded by the caller.
type Setting struct {
	BaseModel
	Scope string `gorm:"type:varchar(128);not null;uniqueIndex:idx_settings_scope_key" json:"scope"`
	Key   string `gorm:"type:varchar(128);not null;uniqueIndex:idx_settings_scope_key" json:"key"`
	Value string `gorm:"type:text;not null" json:"value"`
}

// TableName returns the table name for settings.
func (Setting) TableName() string {
	return "settings"
}
