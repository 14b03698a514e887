package apiv1

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/stacksgate/stacksgate/app/models"
	"github.com/stacksgate/stacksgate/internal/pkg/middleware"
	"github.com/stacksgate/stacksgate/internal/pkg/payments"
	"github.com/stacksgate/stacksgate/internal/pkg/rates"
	"github.com/stacksgate/stacksgate/internal/pkg/settlement"
	"github.com/stacksgate/stacksgate/internal/pkg/webhooks"
)

// APIServer exposes the gateway's v1 surface. All mutating routes sit behind
// merchant API key auth; ownership of an intent is checked per request.
type APIServer struct {
	coordinator *settlement.Coordinator
	payments    *payments.Service
	oracle      *rates.Oracle
	dispatcher  *webhooks.Dispatcher
}

// NewAPIServer creates a new API server instance
func NewAPIServer(coordinator *settlement.Coordinator, paymentSvc *payments.Service, oracle *rates.Oracle, dispatcher *webhooks.Dispatcher) *APIServer {
	return &APIServer{
		coordinator: coordinator,
		payments:    paymentSvc,
		oracle:      oracle,
		dispatcher:  dispatcher,
	}
}

// GetPing handles the ping endpoint
func (s *APIServer) GetPing(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ping": "pong"})
}

// --- payment intents ---

// CreatePaymentIntentRequest is the body for POST /payment-intents.
type CreatePaymentIntentRequest struct {
	AmountSats     int64             `json:"amount_sats" validate:"required,gt=0"`
	Description    string            `json:"description" validate:"max=500"`
	Metadata       map[string]string `json:"metadata"`
	ExpiresInHours int               `json:"expires_in_hours" validate:"gte=0,lte=168"`
}

// Validate checks the request constraints
func (r *CreatePaymentIntentRequest) Validate() error {
	v := validator.New()
	return v.Struct(r)
}

// PostPaymentIntent creates a payment intent for the authenticated merchant.
// The USD amount is frozen at the current exchange rate.
func (s *APIServer) PostPaymentIntent(c *fiber.Ctx) error {
	merchant := middleware.MerchantFromContext(c)

	var req CreatePaymentIntentRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return badRequest(c, err.Error())
	}

	intent, err := s.coordinator.CreatePaymentIntent(c.Context(), settlement.CreateIntentParams{
		MerchantID:     merchant.ID,
		AmountSats:     req.AmountSats,
		Description:    req.Description,
		Metadata:       req.Metadata,
		ExpiresInHours: req.ExpiresInHours,
	})
	if err != nil {
		return paymentError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(webhooks.SnapshotIntent(intent))
}

// GetPaymentIntents lists the merchant's intents, newest first.
func (s *APIServer) GetPaymentIntents(c *fiber.Ctx) error {
	merchant := middleware.MerchantFromContext(c)
	limit := c.QueryInt("limit", 50)
	offset := c.QueryInt("offset", 0)

	intents, err := s.payments.FindByMerchant(merchant.ID, limit, offset)
	if err != nil {
		return internalError(c, err)
	}

	data := make([]*webhooks.IntentSnapshot, 0, len(intents))
	for i := range intents {
		data = append(data, webhooks.SnapshotIntent(&intents[i]))
	}
	return c.JSON(fiber.Map{"object": "list", "data": data, "count": len(data)})
}

// GetPaymentIntent returns one intent owned by the merchant.
func (s *APIServer) GetPaymentIntent(c *fiber.Ctx) error {
	intent, err := s.ownedIntent(c)
	if err != nil {
		return paymentError(c, err)
	}
	return c.JSON(webhooks.SnapshotIntent(intent))
}

// UpdatePaymentIntentRequest is the body for POST /payment-intents/:id.
type UpdatePaymentIntentRequest struct {
	Description *string           `json:"description" validate:"omitempty,max=500"`
	Metadata    map[string]string `json:"metadata"`
}

// PostPaymentIntentUpdate changes description/metadata while the intent
// still awaits payment.
func (s *APIServer) PostPaymentIntentUpdate(c *fiber.Ctx) error {
	if _, err := s.ownedIntent(c); err != nil {
		return paymentError(c, err)
	}

	var req UpdatePaymentIntentRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Description != nil && len(*req.Description) > 500 {
		return badRequest(c, "description too long")
	}

	updated, err := s.payments.Update(c.Params("id"), req.Description, req.Metadata)
	if err != nil {
		return paymentError(c, err)
	}
	return c.JSON(webhooks.SnapshotIntent(updated))
}

// CancelPaymentIntentRequest is the body for POST /payment-intents/:id/cancel.
type CancelPaymentIntentRequest struct {
	Reason string `json:"reason" validate:"max=200"`
}

// PostPaymentIntentCancel cancels a non-terminal intent.
func (s *APIServer) PostPaymentIntentCancel(c *fiber.Ctx) error {
	if _, err := s.ownedIntent(c); err != nil {
		return paymentError(c, err)
	}

	var req CancelPaymentIntentRequest
	_ = c.BodyParser(&req) // body is optional

	canceled, err := s.payments.Cancel(c.Params("id"), req.Reason)
	if err != nil {
		return paymentError(c, err)
	}
	return c.JSON(webhooks.SnapshotIntent(canceled))
}

// GetPaymentIntentEvents returns the audit trail of an intent.
func (s *APIServer) GetPaymentIntentEvents(c *fiber.Ctx) error {
	if _, err := s.ownedIntent(c); err != nil {
		return paymentError(c, err)
	}

	events, err := s.payments.Events(c.Params("id"))
	if err != nil {
		return paymentError(c, err)
	}
	return c.JSON(fiber.Map{"object": "list", "data": events, "count": len(events)})
}

// PostPaymentIntentDeposit starts settlement for an intent awaiting payment.
func (s *APIServer) PostPaymentIntentDeposit(c *fiber.Ctx) error {
	if _, err := s.ownedIntent(c); err != nil {
		return paymentError(c, err)
	}

	result, err := s.coordinator.ProcessDepositRequest(c.Context(), c.Params("id"))
	if err != nil {
		return paymentError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"payment_intent":  webhooks.SnapshotIntent(result.Intent),
		"deposit_address": result.DepositAddress,
		"broadcast":       result.Broadcast,
	})
}

// ownedIntent loads the path intent and enforces merchant ownership. A
// foreign intent reads as not found so IDs don't leak across merchants.
func (s *APIServer) ownedIntent(c *fiber.Ctx) (*models.PaymentIntent, error) {
	merchant := middleware.MerchantFromContext(c)
	id := c.Params("id")

	intent, err := s.payments.FindByID(id)
	if err != nil {
		return nil, err
	}
	if intent.MerchantID != merchant.ID {
		return nil, &payments.NotFoundError{Entity: "payment intent", ID: id}
	}
	return intent, nil
}

// --- exchange rates ---

// GetExchangeRate returns the current BTC/USD rate. Pass include_trend=true
// to add the direction against the previous cached rate.
func (s *APIServer) GetExchangeRate(c *fiber.Ctx) error {
	var snapshot *rates.Snapshot
	if c.QueryBool("include_trend", false) {
		snapshot = s.oracle.WithTrend(c.Context())
	} else {
		snapshot = s.oracle.CurrentRate(c.Context())
	}
	return c.JSON(snapshot)
}

// ConvertRequest is the body for POST /convert.
type ConvertRequest struct {
	Amount float64 `json:"amount" validate:"required,gt=0"`
	From   string  `json:"from" validate:"required,oneof=usd sbtc"`
}

// Validate checks the request constraints
func (r *ConvertRequest) Validate() error {
	v := validator.New()
	return v.Struct(r)
}

// PostConvert converts an amount between USD and sBTC at the current rate.
func (s *APIServer) PostConvert(c *fiber.Ctx) error {
	var req ConvertRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return badRequest(c, err.Error())
	}
	if !rates.IsValidAmount(req.Amount, req.From) {
		return badRequest(c, "amount out of range for "+req.From)
	}

	var conversion *rates.Conversion
	if req.From == rates.UnitUSD {
		conversion = s.oracle.ConvertUSDToSBTC(c.Context(), req.Amount)
	} else {
		conversion = s.oracle.ConvertSBTCToUSD(c.Context(), req.Amount)
	}
	return c.JSON(conversion)
}

// --- webhooks ---

// GetWebhookLogs returns recent delivery attempts for the merchant.
func (s *APIServer) GetWebhookLogs(c *fiber.Ctx) error {
	merchant := middleware.MerchantFromContext(c)
	limit := c.QueryInt("limit", 50)
	offset := c.QueryInt("offset", 0)

	logs, err := s.dispatcher.Logs(merchant.ID, limit, offset)
	if err != nil {
		return internalError(c, err)
	}
	return c.JSON(fiber.Map{"object": "list", "data": logs, "count": len(logs)})
}

// GetWebhookStats returns delivery statistics for the merchant.
func (s *APIServer) GetWebhookStats(c *fiber.Ctx) error {
	merchant := middleware.MerchantFromContext(c)

	stats, err := s.dispatcher.Stats(merchant.ID)
	if err != nil {
		return internalError(c, err)
	}
	return c.JSON(stats)
}

// TestWebhookRequest is the body for POST /webhooks/test.
type TestWebhookRequest struct {
	URL string `json:"url" validate:"required,url"`
}

// Validate checks the request constraints
func (r *TestWebhookRequest) Validate() error {
	v := validator.New()
	return v.Struct(r)
}

// PostWebhookTest probes an endpoint for reachability before the merchant
// saves it as their webhook URL.
func (s *APIServer) PostWebhookTest(c *fiber.Ctx) error {
	var req TestWebhookRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return badRequest(c, err.Error())
	}

	reachable := s.dispatcher.ValidateURL(c.Context(), req.URL)
	return c.JSON(fiber.Map{"url": req.URL, "reachable": reachable})
}

// VerifySignatureRequest is the body for POST /webhooks/verify.
type VerifySignatureRequest struct {
	Payload   string `json:"payload" validate:"required"`
	Signature string `json:"signature" validate:"required"`
}

// PostWebhookVerify checks a signature header against the merchant's webhook
// secret. Lets merchants debug their receiver implementation.
func (s *APIServer) PostWebhookVerify(c *fiber.Ctx) error {
	merchant := middleware.MerchantFromContext(c)
	if merchant.WebhookSecret == "" {
		return badRequest(c, "merchant has no webhook secret configured")
	}

	var req VerifySignatureRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Payload == "" || req.Signature == "" {
		return badRequest(c, "payload and signature are required")
	}

	valid := webhooks.VerifySignature([]byte(req.Payload), req.Signature, merchant.WebhookSecret, webhooks.DefaultTolerance)
	return c.JSON(fiber.Map{"valid": valid})
}

// PostWebhookRetry re-delivers the merchant's failed webhooks immediately
// instead of waiting for the periodic batch.
func (s *APIServer) PostWebhookRetry(c *fiber.Ctx) error {
	retried, err := s.dispatcher.RetryFailed(c.Context())
	if err != nil {
		return internalError(c, err)
	}
	return c.JSON(fiber.Map{"retried": retried})
}

// --- settlement ---

// GetSettlementStats returns settlement aggregates over the last 30 days.
func (s *APIServer) GetSettlementStats(c *fiber.Ctx) error {
	stats, err := s.coordinator.Stats(time.Now().AddDate(0, 0, -30))
	if err != nil {
		return internalError(c, err)
	}
	return c.JSON(stats)
}

// --- error mapping ---

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": message})
}

func internalError(c *fiber.Ctx, err error) error {
	log.Errorf("[API] Internal error: %v", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "something went wrong"})
}

// paymentError maps the payment service error taxonomy to HTTP statuses.
func paymentError(c *fiber.Ctx, err error) error {
	var validationErr *payments.ValidationError
	var notFoundErr *payments.NotFoundError
	var stateErr *payments.InvalidStateError

	switch {
	case errors.As(err, &validationErr):
		return badRequest(c, validationErr.Error())
	case errors.As(err, &notFoundErr):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": notFoundErr.Error()})
	case errors.As(err, &stateErr):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "invalid_state", "message": stateErr.Error()})
	default:
		return internalError(c, err)
	}
}
