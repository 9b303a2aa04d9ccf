package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/coverletter-api/internal/config"
	"github.com/noah-isme/coverletter-api/internal/handler"
	"github.com/noah-isme/coverletter-api/internal/middleware"
	"github.com/noah-isme/coverletter-api/internal/observability"
	"github.com/noah-isme/coverletter-api/internal/workflow"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	CoverLetterHandler   *handler.CoverLetterHandler
	AdminActivityHandler *handler.AdminActivityHandler
	HealthProbes         []handler.HealthProbe
	JWTMiddleware        fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	// Common v1 group for health & headers
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.HealthProbes...))
	app.Get("/metrics", observability.MetricsHandler())

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	if deps.CoverLetterHandler != nil {
		signWindow := cfg.SignRateWindow
		if signWindow <= 0 {
			signWindow = time.Minute
		}

		chair := app.Group("/api/v2/department-chair/cover-letters", jwtMiddleware,
			middleware.RequireRole(workflow.RoleDepartmentChair))
		deps.CoverLetterHandler.RegisterChair(chair,
			middleware.RateLimit("cover-letter-sign", cfg.SignRateLimit, signWindow))

		secretary := app.Group("/api/v2/department-secretary/cover-letters", jwtMiddleware,
			middleware.RequireRole(workflow.RoleDepartmentSecretary))
		deps.CoverLetterHandler.RegisterSecretary(secretary)

		reviewers := app.Group("/api/v2/workflow/cover-letters", jwtMiddleware,
			middleware.RequireRole(workflow.RoleFacultySecretary, workflow.RoleStudentAffairs))
		deps.CoverLetterHandler.RegisterWorkflow(reviewers)
	}

	if deps.AdminActivityHandler != nil {
		activities := app.Group("/api/admin/activities", jwtMiddleware,
			middleware.RequireRole(workflow.RoleAdmin))
		deps.AdminActivityHandler.Register(activities)
	}
}
