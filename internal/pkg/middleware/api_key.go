package middleware

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/stacksgate/stacksgate/app/models"
	"github.com/stacksgate/stacksgate/app/repository"
)

const (
	// MerchantContextKey holds the authenticated merchant in fiber locals.
	MerchantContextKey = "MERCHANT_CONTEXT"
)

// MerchantAuth authenticates requests carrying a merchant API key. The key
// is matched against its stored hash; the plaintext never touches storage.
func MerchantAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		apiKey := extractAPIKeyFromHeader(c)
		if apiKey == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing API key"})
		}

		hash := models.HashAPIKey(apiKey)
		repo := repository.GetGlobalFactory().GetMerchantRepository()
		merchant, err := repo.GetByAPIKeyHash(hash)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid API key"})
			}
			log.Errorf("[Middleware] API key lookup failed: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "API key verification failed"})
		}

		if !merchant.Active {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "Merchant inactive"})
		}

		// Refresh last-seen timestamp best-effort.
		if err := repo.TouchLastSeen(merchant.ID, time.Now()); err != nil {
			log.Warnf("[Middleware] Failed to update last seen for merchant %s: %v", merchant.ID, err)
		}

		c.Locals(MerchantContextKey, merchant)
		return c.Next()
	}
}

// MerchantFromContext returns the authenticated merchant set by
// MerchantAuth, or nil outside protected routes.
func MerchantFromContext(c *fiber.Ctx) *models.Merchant {
	if merchant, ok := c.Locals(MerchantContextKey).(*models.Merchant); ok {
		return merchant
	}
	return nil
}

func extractAPIKeyFromHeader(c *fiber.Ctx) string {
	apiKey := strings.TrimSpace(c.Get("X-API-Key"))
	if apiKey != "" {
		return apiKey
	}
	auth := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
