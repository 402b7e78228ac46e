package models

import (
	"time"

	"gorm.io/gorm"
)

// Transaction types for the point audit trail.
const (
	TransactionEarned   = "EARNED"
	TransactionRedeemed = "REDEEMED"
)

type PointTransaction struct {
	ID        string         `json:"id" gorm:"primaryKey"`
	StudentID string         `json:"student_id" gorm:"not null;index"`
	SubjectID string         `json:"subject_id" gorm:"not null;index"`
	Amount    int            `json:"amount" gorm:"not null"`
	Type      string         `json:"type" gorm:"not null"`
	Reason    string         `json:"reason"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	// Relationships
	Student Student `json:"student,omitempty"`
	Subject Subject `json:"subject,omitempty"`
}
