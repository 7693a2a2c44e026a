// Package gatewayauth authenticates remote gateway workers calling
// /gateway/claim and /gateway/report with a shared secret, hashed at
// startup. The scheduler core has no notion of clients or gateways as
// security principals — this is transport-layer plumbing only.
package gatewayauth

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
)

type Service struct {
	secretHash []byte
}

// New hashes sharedSecret once at startup so the comparison on every
// request is a constant-time bcrypt check rather than a plaintext compare.
func New(sharedSecret string) (*Service, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(sharedSecret), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash gateway shared secret: %w", err)
	}
	return &Service{secretHash: hash}, nil
}

// RequireSharedSecret is Fiber middleware rejecting requests whose
// X-Gateway-Secret header doesn't match the configured shared secret.
func (s *Service) RequireSharedSecret() fiber.Handler {
	return func(c *fiber.Ctx) error {
		secret := c.Get("X-Gateway-Secret")
		if secret == "" || bcrypt.CompareHashAndPassword(s.secretHash, []byte(secret)) != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid gateway secret"})
		}
		return c.Next()
	}
}
