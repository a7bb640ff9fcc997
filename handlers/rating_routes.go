// handlers/rating_routes.go
package handlers

import (
	"strconv"

	"club-ladder/services"

	"github.com/gofiber/fiber/v2"
)

func SetupRatingRoutes(secured fiber.Router, store *services.RatingStore) {
	secured.Get("/players/:id/rating", func(c *fiber.Ctx) error {
		rating, err := store.GetRating(c.UserContext(), c.Params("id"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(rating)
	})

	secured.Get("/players/:id/rating/history", func(c *fiber.Ctx) error {
		page, _ := strconv.Atoi(c.Query("page", "1"))
		size, _ := strconv.Atoi(c.Query("size", "20"))

		entries, total, err := store.History(c.UserContext(), c.Params("id"), page, size)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{
			"entries": entries,
			"total":   total,
			"page":    page,
			"size":    size,
		})
	})

	secured.Get("/clubs/:id/ladder", func(c *fiber.Ctx) error {
		limit, _ := strconv.Atoi(c.Query("limit", "100"))
		ladder, err := store.ClubLadder(c.UserContext(), c.Params("id"), limit)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{
			"club_id": c.Params("id"),
			"ladder":  ladder,
		})
	})
}
