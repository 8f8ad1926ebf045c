package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type StoryModel struct {
	ID        string         `gorm:"primaryKey"`
	Story     string         `gorm:"type:text;not null"`
	Slides    datatypes.JSON `gorm:"not null"`
	CreatedAt time.Time      `gorm:"not null;index"`
}
