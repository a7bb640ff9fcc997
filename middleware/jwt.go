// middleware/jwt.go
package middleware

import (
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
)

var ErrInvalidToken = errors.New("invalid or expired token")

// PlayerClaims is the session token issued by the identity service.
type PlayerClaims struct {
	PlayerID string   `json:"player_id"`
	Roles    []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// IssuePlayerToken signs an HS256 session token. The identity service is the
// real issuer; this is used by the CLI and tests.
func IssuePlayerToken(secret, playerID string, roles []string, now time.Time, ttl time.Duration) (string, error) {
	claims := PlayerClaims{
		PlayerID: playerID,
		Roles:    roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   playerID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParsePlayerToken validates the signature and expiry against clock.
func ParsePlayerToken(secret, raw string, clock clockwork.Clock) (*PlayerClaims, error) {
	token, err := jwt.ParseWithClaims(raw, &PlayerClaims{}, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*PlayerClaims)
	if !ok || claims.PlayerID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// JWTUserContextMiddleware identifies the player from a Bearer session token
// when the service is exposed without the Gateway (AUTH_MODE=jwt).
func JWTUserContextMiddleware(secret string, clock clockwork.Clock) fiber.Handler {
	if secret == "" {
		log.Fatal("❌ JWT_SECRET is not set, cannot validate player tokens")
	}

	return func(c *fiber.Ctx) error {
		raw, ok := bearerToken(c.Get(fiber.HeaderAuthorization))
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing bearer token",
			})
		}

		claims, err := ParsePlayerToken(secret, raw, clock)
		if err != nil {
			log.Printf("❌ [JWT_AUTH] rejected token on %s: %v", c.Path(), err)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		c.Locals(LocalUserID, claims.PlayerID)
		c.Locals(LocalUserRoles, claims.Roles)
		return c.Next()
	}
}
