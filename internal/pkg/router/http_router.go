package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/stacksgate/stacksgate/internal/pkg/cache"
	"github.com/stacksgate/stacksgate/internal/pkg/database"
)

type HttpRouter struct {
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"name":    "StacksGate",
			"message": "sBTC payment gateway",
		})
	})

	// Health endpoints for load balancers; no rate limiting here.
	app.Get("/health", h.handleHealth)
}

// handleHealth reports liveness plus dependency reachability.
func (h HttpRouter) handleHealth(c *fiber.Ctx) error {
	dbOK := database.GetDB() != nil
	redisOK := false
	if client := cache.GetClient(); client != nil {
		redisOK = client.Ping(c.Context()).Err() == nil
	}

	status := fiber.StatusOK
	if !dbOK {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(fiber.Map{
		"status":   map[bool]string{true: "ok", false: "degraded"}[dbOK && redisOK],
		"database": dbOK,
		"redis":    redisOK,
	})
}
