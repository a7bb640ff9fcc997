// middleware/gateway.go
package middleware

import (
	"crypto/subtle"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// GatewayAuthMiddleware only admits requests relayed by the API gateway, which
// presents the shared service token as a bearer credential. Identity headers
// are trusted only behind this check.
func GatewayAuthMiddleware(serviceToken string) fiber.Handler {
	if serviceToken == "" {
		log.Fatal("❌ GAME_SERVICE_TOKEN is not set, the ladder cannot verify gateway calls")
	}
	expected := []byte(serviceToken)

	return func(c *fiber.Ctx) error {
		presented, ok := bearerToken(c.Get(fiber.HeaderAuthorization))
		if !ok {
			log.Printf("🚫 [GATEWAY_AUTH] %s %s without gateway credentials", c.Method(), c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "gateway authentication token missing",
				"code":  "gateway_token_missing",
			})
		}
		if subtle.ConstantTimeCompare([]byte(presented), expected) != 1 {
			log.Printf("❌ [GATEWAY_AUTH] %s %s with a wrong service token", c.Method(), c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid gateway authentication token",
				"code":  "gateway_token_invalid",
			})
		}
		return c.Next()
	}
}

// bearerToken takes "Bearer <token>" in any letter case, or the bare token
// some gateway deployments send.
func bearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	const prefix = "bearer "
	if len(header) >= len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		header = strings.TrimSpace(header[len(prefix):])
	}
	return header, header != ""
}
