package models

import "time"

// ErrorLog records a runtime failure for later inspection through the web
// interface. The daemon never surfaces errors interactively.
type ErrorLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Timestamp time.Time `gorm:"not null;index" json:"timestamp"`
	Component string    `gorm:"not null;index" json:"component"`
	Message   string    `gorm:"not null" json:"message"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
