// handlers/routes.go
package handlers

import (
	"club-ladder/services"

	"github.com/gofiber/fiber/v2"
)

// Services bundles what the routes need.
type Services struct {
	Validation *services.ValidationService
	Store      *services.RatingStore
	Sweeps     *services.SweepService
	Admins     services.AdminAuthorizer
}

// SetupRoutes mounts every route. identity resolves the acting player and
// guards everything except /health.
func SetupRoutes(app *fiber.App, identity fiber.Handler, svc Services) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	secured := app.Group("/", identity)
	SetupMatchRoutes(secured, svc.Validation)
	SetupRatingRoutes(secured, svc.Store)
	SetupAdminRoutes(secured, svc)
}
