package dto

import (
	"time"

	"github.com/campuscore/coursework-api/internal/models"
)

// AssignmentCreateRequest describes the multipart payload for creating an
// assignment. The prompt document travels as the optional file part.
type AssignmentCreateRequest struct {
	Title       string    `form:"title" validate:"required,min=3,max=255"`
	Description string    `form:"description" validate:"omitempty,max=4000"`
	DueDate     time.Time `form:"due_date" validate:"required"`
}

// AssignmentResponse is returned to API clients when viewing assignments.
type AssignmentResponse struct {
	ID          uint      `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	DueDate     time.Time `json:"due_date"`
	PromptURL   string    `json:"prompt_url"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// AssignmentLite summarizes an assignment in submission responses.
type AssignmentLite struct {
	ID      uint      `json:"id"`
	Title   string    `json:"title"`
	DueDate time.Time `json:"due_date"`
}

// NewAssignmentResponse converts an Assignment model into a DTO.
func NewAssignmentResponse(model models.Assignment) AssignmentResponse {
	return AssignmentResponse{
		ID:          model.ID,
		Title:       model.Title,
		Description: model.Description,
		DueDate:     model.DueDate,
		PromptURL:   model.PromptURL,
		CreatedAt:   model.CreatedAt,
		UpdatedAt:   model.UpdatedAt,
	}
}

// NewAssignmentResponseSlice converts a slice of models into DTOs.
func NewAssignmentResponseSlice(assignments []models.Assignment) []AssignmentResponse {
	out := make([]AssignmentResponse, 0, len(assignments))
	for _, assignment := range assignments {
		out = append(out, NewAssignmentResponse(assignment))
	}
	return out
}
