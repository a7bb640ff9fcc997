// handlers/match_routes.go
package handlers

import (
	"time"

	"club-ladder/middleware"
	"club-ladder/models"
	"club-ladder/services"

	"github.com/gofiber/fiber/v2"
)

type reportMatchRequest struct {
	OpponentID string `json:"opponent_id"`
	ClubID     string `json:"club_id"`
	Score      string `json:"score"`
	Format     string `json:"format"`
	PlayedAt   string `json:"played_at"` // RFC3339 or YYYY-MM-DD
}

type contestRequest struct {
	Reason string `json:"reason"`
}

// SetupMatchRoutes registers the player-facing validation workflow. secured
// must already resolve the acting player (gateway headers or JWT).
func SetupMatchRoutes(secured fiber.Router, validation *services.ValidationService) {
	matches := secured.Group("/matches")

	matches.Post("/", func(c *fiber.Ctx) error {
		var req reportMatchRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body", err)
		}
		playedAt, err := parsePlayedAt(req.PlayedAt)
		if err != nil {
			return badRequest(c, "played_at must be RFC3339 or YYYY-MM-DD", err)
		}

		match, err := validation.ReportMatch(c.UserContext(), services.ReportMatchInput{
			ReporterID: middleware.CurrentPlayer(c),
			OpponentID: req.OpponentID,
			ClubID:     req.ClubID,
			Score:      req.Score,
			Format:     models.MatchFormat(req.Format),
			PlayedAt:   playedAt,
		})
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(match)
	})

	matches.Get("/:id", func(c *fiber.Ctx) error {
		match, err := validation.GetMatch(c.UserContext(), c.Params("id"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(match)
	})

	matches.Get("/:id/validation", func(c *fiber.Ctx) error {
		view, err := validation.GetPendingValidation(c.UserContext(), c.Params("id"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(view)
	})

	matches.Post("/:id/confirm", func(c *fiber.Ctx) error {
		res, err := validation.ConfirmMatch(c.UserContext(), c.Params("id"), middleware.CurrentPlayer(c))
		return transition(c, res, err)
	})

	matches.Post("/:id/contest", func(c *fiber.Ctx) error {
		var req contestRequest
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return badRequest(c, "invalid request body", err)
			}
		}
		res, err := validation.ContestMatch(c.UserContext(), c.Params("id"), middleware.CurrentPlayer(c), req.Reason)
		return transition(c, res, err)
	})
}

func parsePlayedAt(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}
