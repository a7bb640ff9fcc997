// handlers/admin_routes.go
package handlers

import (
	"log"
	"strconv"

	"club-ladder/middleware"
	"club-ladder/services"

	"github.com/gofiber/fiber/v2"
)

type resolveRequest struct {
	Decision string `json:"decision"`
}

type adjustRequest struct {
	Delta int    `json:"delta"`
	Note  string `json:"note"`
}

func SetupAdminRoutes(secured fiber.Router, r Services) {
	admin := secured.Group("/admin", requireAdmin(r.Admins))

	admin.Get("/matches/contested", func(c *fiber.Ctx) error {
		limit, _ := strconv.Atoi(c.Query("limit", "50"))
		matches, err := r.Validation.ListContested(c.UserContext(), c.Query("club_id"), limit)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"matches": matches})
	})

	admin.Post("/matches/:id/resolve", func(c *fiber.Ctx) error {
		var req resolveRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body", err)
		}
		decision, err := services.ParseDecision(req.Decision)
		if err != nil {
			return respondError(c, err)
		}
		res, err := r.Validation.ResolveContestedMatch(c.UserContext(), c.Params("id"), middleware.CurrentPlayer(c), decision)
		return transition(c, res, err)
	})

	admin.Post("/ratings/:player_id/adjust", func(c *fiber.Ctx) error {
		var req adjustRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body", err)
		}
		entry, err := r.Store.AdminAdjust(c.UserContext(), c.Params("player_id"), req.Delta, middleware.CurrentPlayer(c), req.Note)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(entry)
	})

	admin.Post("/sweeps/:kind", func(c *fiber.Ctx) error {
		kind := services.SweepKind(c.Params("kind"))
		log.Printf("[Admin] %s triggered %s sweep", middleware.CurrentPlayer(c), kind)
		res, err := r.Sweeps.Run(c.UserContext(), kind)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(res)
	})
}

// requireAdmin lets the request through only for administrators. A caller
// whose identity carries the admin role is trusted everywhere; club admins
// pass here and are checked against the match's club on resolve.
func requireAdmin(admins services.AdminAuthorizer) fiber.Handler {
	return func(c *fiber.Ctx) error {
		playerID := middleware.CurrentPlayer(c)
		if middleware.HasRole(c, middleware.RoleAdmin) {
			c.SetUserContext(services.WithAssertedAdmin(c.UserContext()))
			return c.Next()
		}
		ok, err := admins.IsAdmin(c.UserContext(), playerID, "")
		if err != nil {
			return respondError(c, err)
		}
		if !ok {
			log.Printf("🚫 [Admin] %s is not an administrator (%s)", playerID, c.Path())
			return respondError(c, services.ErrNotAdmin)
		}
		return c.Next()
	}
}
