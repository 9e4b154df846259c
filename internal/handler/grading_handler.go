package handler

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/campuscore/coursework-api/internal/dto"
	"github.com/campuscore/coursework-api/internal/service"
	"github.com/campuscore/coursework-api/internal/utils"
)

// GradingHandler exposes the grading endpoint for teachers.
type GradingHandler struct {
	service service.GradingService
	logger  zerolog.Logger
}

// NewGradingHandler constructs the handler.
func NewGradingHandler(service service.GradingService, logger zerolog.Logger) *GradingHandler {
	return &GradingHandler{
		service: service,
		logger:  logger.With().Str("component", "grading_handler").Logger(),
	}
}

// Register attaches the grade route under /assignments/:id/submissions.
func (h *GradingHandler) Register(router fiber.Router) {
	router.Post("/:submissionID/grade", h.grade)
}

func (h *GradingHandler) grade(c *fiber.Ctx) error {
	assignmentID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid assignment identifier")
	}
	submissionID, err := parseUintParam(c, "submissionID")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid submission identifier")
	}

	score, err := strconv.ParseFloat(c.FormValue("score"), 64)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid score")
	}

	payload := dto.GradeRequest{
		Score:    score,
		Comments: c.FormValue("comments"),
	}

	// The annotation raster is optional; grading proceeds without a merge.
	raster, err := c.FormFile("annotation")
	if err != nil {
		raster = nil
	}

	submission, err := h.service.Grade(c.Context(), assignmentID, submissionID, payload, raster)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSubmissionNotFound):
			return utils.SendError(c, fiber.StatusNotFound, "submission not found")
		case isValidationError(err):
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		default:
			requestLogger(h.logger, c).Error().Err(err).Msg("failed to grade submission")
			return utils.SendError(c, fiber.StatusInternalServerError, "failed to grade submission")
		}
	}

	return utils.SendSuccess(c, "grade recorded", submission)
}
