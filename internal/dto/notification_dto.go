package dto

import (
	"time"

	"github.com/campuscore/coursework-api/internal/models"
)

// NotificationResponse is the serialized representation of a notification.
type NotificationResponse struct {
	ID             uint                   `json:"id"`
	RecipientEmail string                 `json:"recipient_email"`
	Kind           string                 `json:"kind"`
	Message        string                 `json:"message"`
	Read           bool                   `json:"read"`
	Context        map[string]interface{} `json:"context,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

// NewNotificationResponse converts a model into a DTO.
func NewNotificationResponse(model models.Notification) NotificationResponse {
	return NotificationResponse{
		ID:             model.ID,
		RecipientEmail: model.RecipientEmail,
		Kind:           model.Kind,
		Message:        model.Message,
		Read:           model.Read,
		Context:        model.Context,
		CreatedAt:      model.CreatedAt,
	}
}

// NewNotificationResponseSlice converts a slice of models into DTOs.
func NewNotificationResponseSlice(notifications []models.Notification) []NotificationResponse {
	out := make([]NotificationResponse, 0, len(notifications))
	for _, notification := range notifications {
		out = append(out, NewNotificationResponse(notification))
	}
	return out
}
