package models

import "time"

// Submission is the single active upload a student holds for one assignment.
// The composite unique index on (assignment_id, student_email) backs the
// one-record-per-pair guarantee; a re-upload before grading replaces the
// stored document instead of inserting a second row.
type Submission struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	AssignmentID uint       `gorm:"not null;uniqueIndex:idx_submissions_assignment_student" json:"assignment_id"`
	StudentEmail string     `gorm:"size:255;not null;uniqueIndex:idx_submissions_assignment_student" json:"student_email"`
	DocumentKey  string     `gorm:"size:512;not null" json:"document_key"`
	UploadedAt   time.Time  `gorm:"not null" json:"uploaded_at"`
	Graded       bool       `gorm:"not null;default:false" json:"graded"`
	Grade        *float64   `json:"grade"`
	Comments     *string    `gorm:"type:text" json:"comments"`
	FeedbackKey  *string    `gorm:"size:512" json:"feedback_key"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	Assignment   Assignment `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"assignment"`
}
