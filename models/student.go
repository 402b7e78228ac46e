package models

import (
	"time"

	"gorm.io/gorm"
)

type Student struct {
	ID          string         `json:"id" gorm:"primaryKey"`
	FullName    string         `json:"full_name" gorm:"not null"`
	StudentCode string         `json:"student_code" gorm:"uniqueIndex;not null"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `json:"-" gorm:"index"`

	// Relationships
	Balances     []PointBalance     `json:"balances,omitempty" gorm:"foreignKey:StudentID"`
	Transactions []PointTransaction `json:"transactions,omitempty" gorm:"foreignKey:StudentID"`
}
