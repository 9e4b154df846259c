package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/campuscore/coursework-api/internal/service"
	"github.com/campuscore/coursework-api/internal/utils"
)

// DashboardHandler serves the aggregated coursework summary for students.
type DashboardHandler struct {
	service service.DashboardService
	logger  zerolog.Logger
}

// NewDashboardHandler constructs the handler.
func NewDashboardHandler(service service.DashboardService, logger zerolog.Logger) *DashboardHandler {
	return &DashboardHandler{
		service: service,
		logger:  logger.With().Str("component", "dashboard_handler").Logger(),
	}
}

// Register attaches the dashboard route to the router group.
func (h *DashboardHandler) Register(router fiber.Router) {
	router.Get("", h.summary)
}

func (h *DashboardHandler) summary(c *fiber.Ctx) error {
	email := userEmailFromContext(c)
	if email == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	summary, err := h.service.GetDashboard(c.Context(), email)
	if err != nil {
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to build dashboard")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to build dashboard")
	}

	return utils.SendSuccess(c, "dashboard summary", summary)
}
