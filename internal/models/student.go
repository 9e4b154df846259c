package models

import "time"

// Student is the directory record consulted by the access gate. The
// directory itself is administered elsewhere; the submission workflow only
// reads the approval and mute flags.
type Student struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	Email     string    `gorm:"size:255;uniqueIndex;not null" json:"email"`
	Approved  bool      `gorm:"not null;default:false" json:"approved"`
	Muted     bool      `gorm:"not null;default:false" json:"muted"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CanSubmit reports whether the gate flags allow this student to act.
func (s Student) CanSubmit() bool {
	return s.Approved && !s.Muted
}
