package models

import (
	"time"

	"gorm.io/gorm"
)

type Question struct {
	ID        string         `json:"id" gorm:"primaryKey"`
	SubjectID string         `json:"subject_id" gorm:"not null;index"`
	Text      string         `json:"text" gorm:"not null"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	// Relationships
	Subject Subject  `json:"subject,omitempty"`
	Options []Option `json:"options,omitempty" gorm:"foreignKey:QuestionID"`
}
