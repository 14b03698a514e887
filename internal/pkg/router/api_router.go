package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	apiv1 "github.com/stacksgate/stacksgate/internal/api/v1"
	"github.com/stacksgate/stacksgate/internal/pkg/middleware"
	"github.com/stacksgate/stacksgate/internal/pkg/payments"
	"github.com/stacksgate/stacksgate/internal/pkg/rates"
	"github.com/stacksgate/stacksgate/internal/pkg/settlement"
	"github.com/stacksgate/stacksgate/internal/pkg/webhooks"
)

// Dependencies bundles everything the API layer needs.
type Dependencies struct {
	Coordinator *settlement.Coordinator
	Payments    *payments.Service
	Oracle      *rates.Oracle
	Dispatcher  *webhooks.Dispatcher
}

type ApiRouter struct {
	deps *Dependencies
}

func NewApiRouter(deps *Dependencies) *ApiRouter {
	return &ApiRouter{deps: deps}
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "StacksGate API",
		})
	})

	v1 := api.Group("/v1")
	server := apiv1.NewAPIServer(h.deps.Coordinator, h.deps.Payments, h.deps.Oracle, h.deps.Dispatcher)

	// Public routes
	v1.Get("/ping", server.GetPing)
	v1.Get("/exchange-rate", server.GetExchangeRate)
	v1.Post("/convert", server.PostConvert)

	// Merchant routes
	protected := v1.Group("/", middleware.MerchantAuth())
	protected.Post("/payment-intents", server.PostPaymentIntent)
	protected.Get("/payment-intents", server.GetPaymentIntents)
	protected.Get("/payment-intents/:id", server.GetPaymentIntent)
	protected.Post("/payment-intents/:id", server.PostPaymentIntentUpdate)
	protected.Post("/payment-intents/:id/cancel", server.PostPaymentIntentCancel)
	protected.Get("/payment-intents/:id/events", server.GetPaymentIntentEvents)
	protected.Post("/payment-intents/:id/deposit", server.PostPaymentIntentDeposit)

	protected.Get("/webhooks/logs", server.GetWebhookLogs)
	protected.Get("/webhooks/stats", server.GetWebhookStats)
	protected.Post("/webhooks/test", server.PostWebhookTest)
	protected.Post("/webhooks/verify", server.PostWebhookVerify)
	protected.Post("/webhooks/retry", server.PostWebhookRetry)

	protected.Get("/settlement/stats", server.GetSettlementStats)
}
