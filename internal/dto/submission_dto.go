package dto

import (
	"time"

	"github.com/campuscore/coursework-api/internal/models"
)

// GradeRequest describes the multipart payload for grading a submission.
// The annotation raster travels as the optional file part.
type GradeRequest struct {
	Score    float64 `form:"score" validate:"gte=0,lte=100"`
	Comments string  `form:"comments" validate:"max=4000"`
}

// SubmissionResponse is returned to API clients when viewing submissions.
type SubmissionResponse struct {
	ID           uint           `json:"id"`
	AssignmentID uint           `json:"assignment_id"`
	StudentEmail string         `json:"student_email"`
	DocumentKey  string         `json:"document_key"`
	UploadedAt   time.Time      `json:"uploaded_at"`
	Graded       bool           `json:"graded"`
	Grade        *float64       `json:"grade"`
	Comments     *string        `json:"comments"`
	FeedbackKey  *string        `json:"feedback_key"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	Assignment   AssignmentLite `json:"assignment"`
}

// NewSubmissionResponse converts a Submission model into a DTO.
func NewSubmissionResponse(model models.Submission) SubmissionResponse {
	return SubmissionResponse{
		ID:           model.ID,
		AssignmentID: model.AssignmentID,
		StudentEmail: model.StudentEmail,
		DocumentKey:  model.DocumentKey,
		UploadedAt:   model.UploadedAt,
		Graded:       model.Graded,
		Grade:        model.Grade,
		Comments:     model.Comments,
		FeedbackKey:  model.FeedbackKey,
		CreatedAt:    model.CreatedAt,
		UpdatedAt:    model.UpdatedAt,
		Assignment: AssignmentLite{
			ID:      model.Assignment.ID,
			Title:   model.Assignment.Title,
			DueDate: model.Assignment.DueDate,
		},
	}
}

// NewSubmissionResponseSlice converts a slice of models into DTOs.
func NewSubmissionResponseSlice(submissions []models.Submission) []SubmissionResponse {
	out := make([]SubmissionResponse, 0, len(submissions))
	for _, submission := range submissions {
		out = append(out, NewSubmissionResponse(submission))
	}
	return out
}
