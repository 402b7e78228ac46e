package models

import (
	"time"

	"gorm.io/gorm"
)

type Subject struct {
	ID        string         `json:"id" gorm:"primaryKey"`
	Name      string         `json:"name" gorm:"not null"`
	TeacherID string         `json:"teacher_id" gorm:"not null"`
	Cycle     string         `json:"cycle"`
	Year      int            `json:"year"`
	JoinCode  string         `json:"join_code" gorm:"uniqueIndex"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	// Relationships
	Questions []Question `json:"questions,omitempty" gorm:"foreignKey:SubjectID"`
}
