package handler

import (
	"errors"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/campuscore/coursework-api/internal/dto"
	"github.com/campuscore/coursework-api/internal/service"
	"github.com/campuscore/coursework-api/internal/utils"
)

// DirectoryHandler exposes the student directory administration endpoints.
type DirectoryHandler struct {
	service service.DirectoryService
	logger  zerolog.Logger
}

// NewDirectoryHandler constructs the handler.
func NewDirectoryHandler(service service.DirectoryService, logger zerolog.Logger) *DirectoryHandler {
	return &DirectoryHandler{
		service: service,
		logger:  logger.With().Str("component", "directory_handler").Logger(),
	}
}

// Register attaches the directory routes to the router group.
func (h *DirectoryHandler) Register(router fiber.Router) {
	router.Get("", h.list)
	router.Patch("/:email/flags", h.updateFlags)
}

func (h *DirectoryHandler) list(c *fiber.Ctx) error {
	students, err := h.service.List(c.Context())
	if err != nil {
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to list students")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to list students")
	}

	return utils.SendSuccess(c, "students retrieved", students)
}

func (h *DirectoryHandler) updateFlags(c *fiber.Ctx) error {
	raw := strings.TrimSpace(c.Params("email"))
	if raw == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "student email required")
	}
	email, err := url.PathUnescape(raw)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid student email")
	}

	var payload dto.StudentFlagsRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	student, err := h.service.UpdateFlags(c.Context(), email, payload)
	if err != nil {
		if errors.Is(err, service.ErrStudentNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "student not found")
		}
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to update student flags")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to update student flags")
	}

	return utils.SendSuccess(c, "student updated", student)
}
