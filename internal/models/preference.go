package models

import "time"

// Preference is one persisted setting as a key/value row. Values are stored
// as strings and parsed by the prefs package.
type Preference struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `gorm:"not null" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
