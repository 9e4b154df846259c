package handler

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/campuscore/coursework-api/internal/dto"
	"github.com/campuscore/coursework-api/internal/service"
	"github.com/campuscore/coursework-api/internal/utils"
	"github.com/campuscore/coursework-api/pkg/cloudinary"
)

// AssignmentHandler wires assignment endpoints.
type AssignmentHandler struct {
	service service.AssignmentService
	logger  zerolog.Logger
}

// NewAssignmentHandler constructs the handler.
func NewAssignmentHandler(service service.AssignmentService, logger zerolog.Logger) *AssignmentHandler {
	return &AssignmentHandler{
		service: service,
		logger:  logger.With().Str("component", "assignment_handler").Logger(),
	}
}

// Register attaches assignment routes to the router group. Create is expected
// to sit behind the teacher role guard.
func (h *AssignmentHandler) Register(router fiber.Router, guard fiber.Handler) {
	router.Get("", h.list)
	router.Get("/:id", h.get)
	router.Post("", guard, h.create)
}

func (h *AssignmentHandler) list(c *fiber.Ctx) error {
	assignments, err := h.service.List(c.Context())
	if err != nil {
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to list assignments")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to list assignments")
	}

	return utils.SendSuccess(c, "assignments retrieved", assignments)
}

func (h *AssignmentHandler) get(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid identifier")
	}

	assignment, err := h.service.Get(c.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrAssignmentNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "assignment not found")
		}
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to fetch assignment")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to fetch assignment")
	}

	return utils.SendSuccess(c, "assignment retrieved", assignment)
}

func (h *AssignmentHandler) create(c *fiber.Ctx) error {
	dueDate, err := time.Parse(time.RFC3339, c.FormValue("due_date"))
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid due date, expected RFC3339")
	}

	payload := dto.AssignmentCreateRequest{
		Title:       c.FormValue("title"),
		Description: c.FormValue("description"),
		DueDate:     dueDate,
	}

	// The prompt document is optional.
	prompt, err := c.FormFile("prompt")
	if err != nil {
		prompt = nil
	}

	assignment, err := h.service.Create(c.Context(), payload, prompt)
	if err != nil {
		switch {
		case errors.Is(err, cloudinary.ErrUnsupportedPromptType):
			return utils.SendError(c, fiber.StatusUnsupportedMediaType, "prompt must be a PDF document")
		case isValidationError(err):
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		default:
			requestLogger(h.logger, c).Error().Err(err).Msg("failed to create assignment")
			return utils.SendError(c, fiber.StatusInternalServerError, "failed to create assignment")
		}
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "assignment created", assignment)
}
