// handlers/errors.go
package handlers

import (
	"log"

	"club-ladder/services"

	"github.com/gofiber/fiber/v2"
)

// respondError maps domain errors to status codes. Anything unclassified is a 500.
func respondError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch services.KindOf(err) {
	case services.KindValidation:
		status = fiber.StatusBadRequest
	case services.KindAuthorization:
		status = fiber.StatusForbidden
	case services.KindNotFound:
		status = fiber.StatusNotFound
	case services.KindConflict, services.KindInvariant:
		status = fiber.StatusConflict
	}

	if status == fiber.StatusInternalServerError {
		log.Printf("❌ %s %s failed: %v", c.Method(), c.Path(), err)
		return c.Status(status).JSON(fiber.Map{
			"error": "internal error",
			"code":  services.CodeOf(err),
			"cause": err.Error(),
		})
	}
	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
		"code":  services.CodeOf(err),
	})
}

func badRequest(c *fiber.Ctx, msg string, cause error) error {
	body := fiber.Map{"error": msg, "code": "bad_request"}
	if cause != nil {
		body["cause"] = cause.Error()
	}
	return c.Status(fiber.StatusBadRequest).JSON(body)
}

// transition answers a state change. Lost races are informational, so they
// still return 200 with the current match and the outcome.
func transition(c *fiber.Ctx, res *services.TransitionResult, err error) error {
	if err != nil {
		return respondError(c, err)
	}
	body := fiber.Map{
		"match":   res.Match,
		"outcome": res.Outcome,
	}
	if res.Outcome != services.OutcomeApplied {
		body["message"] = outcomeMessage(res.Outcome)
	}
	return c.JSON(body)
}

func outcomeMessage(o services.Outcome) string {
	switch o {
	case services.OutcomeAlreadyFinalized:
		return "this result is already final"
	case services.OutcomeAlreadyContested:
		return "this result is already contested and awaits an administrator"
	case services.OutcomeAlreadyResolved:
		return "this contest has already been resolved"
	}
	return ""
}
