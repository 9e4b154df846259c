package models

import (
	"time"

	"gorm.io/datatypes"
)

// Notification is the durable in-app record created once per workflow event.
// It is mutated only by the read-marking operation and never deleted here.
type Notification struct {
	ID             uint              `gorm:"primaryKey" json:"id"`
	RecipientEmail string            `gorm:"size:255;index;not null" json:"recipient_email"`
	Kind           string            `gorm:"size:64;not null" json:"kind"`
	Message        string            `gorm:"type:text;not null" json:"message"`
	Read           bool              `gorm:"not null;default:false" json:"read"`
	Context        datatypes.JSONMap `gorm:"type:json" json:"context"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}
