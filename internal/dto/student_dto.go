package dto

import (
	"time"

	"github.com/campuscore/coursework-api/internal/models"
)

// StudentFlagsRequest updates the gate flags on a directory record.
type StudentFlagsRequest struct {
	Approved *bool `json:"approved"`
	Muted    *bool `json:"muted"`
}

// StudentResponse serializes a directory record.
type StudentResponse struct {
	ID        uint      `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Approved  bool      `json:"approved"`
	Muted     bool      `json:"muted"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewStudentResponse converts a Student model into a DTO.
func NewStudentResponse(model models.Student) StudentResponse {
	return StudentResponse{
		ID:        model.ID,
		Name:      model.Name,
		Email:     model.Email,
		Approved:  model.Approved,
		Muted:     model.Muted,
		CreatedAt: model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
	}
}

// NewStudentResponseSlice converts a slice of models into DTOs.
func NewStudentResponseSlice(students []models.Student) []StudentResponse {
	out := make([]StudentResponse, 0, len(students))
	for _, student := range students {
		out = append(out, NewStudentResponse(student))
	}
	return out
}
