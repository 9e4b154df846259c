package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/campuscore/coursework-api/internal/config"
	"github.com/campuscore/coursework-api/internal/handler"
	"github.com/campuscore/coursework-api/internal/middleware"
	"github.com/campuscore/coursework-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	AssignmentHandler   *handler.AssignmentHandler
	SubmissionHandler   *handler.SubmissionHandler
	GradingHandler      *handler.GradingHandler
	NotificationHandler *handler.NotificationHandler
	DirectoryHandler    *handler.DirectoryHandler
	DashboardHandler    *handler.DashboardHandler
	JWTMiddleware       fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))
	app.Get("/metrics", observability.MetricsHandler())

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	teacherOnly := middleware.RequireRole("teacher", "admin")
	adminOnly := middleware.RequireRole("admin")

	// Assignments and the nested submission workflow
	if deps.AssignmentHandler != nil {
		assignments := api.Group("/assignments", jwtMiddleware)
		deps.AssignmentHandler.Register(assignments, teacherOnly)

		if deps.SubmissionHandler != nil {
			submissions := assignments.Group("/:id/submissions",
				middleware.RateLimit("submissions", 30, time.Minute))
			deps.SubmissionHandler.Register(submissions, teacherOnly)

			if deps.GradingHandler != nil {
				deps.GradingHandler.Register(submissions.Group("", teacherOnly))
			}
		}
	}

	// Notification feed and live stream
	if deps.NotificationHandler != nil {
		notifications := api.Group("/notifications", jwtMiddleware)
		deps.NotificationHandler.Register(notifications)
	}

	// Student directory administration
	if deps.DirectoryHandler != nil {
		students := api.Group("/students", jwtMiddleware, adminOnly)
		deps.DirectoryHandler.Register(students)
	}

	// Student dashboard
	if deps.DashboardHandler != nil {
		dashboard := api.Group("/dashboard", jwtMiddleware)
		deps.DashboardHandler.Register(dashboard)
	}
}
