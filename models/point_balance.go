package models

import (
	"time"

	"gorm.io/gorm"
)

type PointBalance struct {
	ID        string         `json:"id" gorm:"primaryKey"`
	StudentID string         `json:"student_id" gorm:"not null;uniqueIndex:idx_student_subject"`
	SubjectID string         `json:"subject_id" gorm:"not null;uniqueIndex:idx_student_subject"`
	Amount    int            `json:"amount" gorm:"not null;default:0"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	// Relationships
	Student Student `json:"student,omitempty"`
	Subject Subject `json:"subject,omitempty"`
}
