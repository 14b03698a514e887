package payments

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/stacksgate/stacksgate/app/models"
	"github.com/stacksgate/stacksgate/app/repository"
)

// Notifier schedules a webhook notification for an intent whose status just
// changed. Implementations must not block the caller beyond an enqueue.
type Notifier interface {
	NotifyStatusChange(intent *models.PaymentIntent) error
}

// NopNotifier discards notifications. Used when no delivery queue is wired.
type NopNotifier struct{}

func (NopNotifier) NotifyStatusChange(*models.PaymentIntent) error { return nil }

// CreateParams carries the merchant's intent-creation request.
type CreateParams struct {
	MerchantID     string
	AmountSats     int64
	AmountUSD      float64
	Description    string
	Metadata       map[string]string
	ExpiresInHours int
}

// TransitionFields carries the optional extra fields persisted alongside a
// status transition.
type TransitionFields struct {
	StacksAddress     string
	BitcoinAddress    string
	SBTCTxID          string
	ConfirmationCount *int
	Metadata          map[string]string
}

// Service is the payment intent state machine. All mutations flow through
// TransitionStatus, which serializes per intent at the storage layer.
type Service struct {
	intents  repository.PaymentIntentRepository
	notifier Notifier
	now      func() time.Time
}

// NewService creates a payment service from an injected repository.
func NewService(intents repository.PaymentIntentRepository) *Service {
	return &Service{
		intents:  intents,
		notifier: NopNotifier{},
		now:      time.Now,
	}
}

// WithNotifier attaches the webhook scheduler invoked on status changes.
func (s *Service) WithNotifier(notifier Notifier) *Service {
	s.notifier = notifier
	return s
}

// WithClock replaces the service clock. Tests use this to control expiry.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Create validates and persists a new intent in requires_payment and records
// the created event. Amount and expiry are fixed here for the intent's life;
// AmountUSD is the rate snapshot at creation and is never re-derived.
func (s *Service) Create(params CreateParams) (*models.PaymentIntent, error) {
	if params.AmountSats <= 0 {
		return nil, &ValidationError{Field: "amount_sats", Message: "must be greater than zero"}
	}
	if params.MerchantID == "" {
		return nil, &ValidationError{Field: "merchant_id", Message: "is required"}
	}

	expiresIn := params.ExpiresInHours
	if expiresIn <= 0 {
		expiresIn = models.DefaultExpiryHours
	}

	intent := &models.PaymentIntent{
		ID:          models.NewPaymentIntentID(),
		MerchantID:  params.MerchantID,
		AmountSats:  params.AmountSats,
		AmountUSD:   params.AmountUSD,
		Currency:    "usd",
		Description: params.Description,
		Status:      models.PaymentStatusRequiresPayment,
		ExpiresAt:   s.now().Add(time.Duration(expiresIn) * time.Hour),
	}
	if err := intent.SetMetadata(params.Metadata); err != nil {
		return nil, &ValidationError{Field: "metadata", Message: err.Error()}
	}

	if err := s.intents.Create(intent); err != nil {
		return nil, err
	}

	event := &models.PaymentEvent{
		PaymentIntentID: intent.ID,
		EventType:       "payment_intent.created",
	}
	if err := event.SetData(map[string]interface{}{
		"amount_sats": intent.AmountSats,
		"amount_usd":  intent.AmountUSD,
		"merchant_id": intent.MerchantID,
	}); err == nil {
		if err := s.intents.AppendEvent(event); err != nil {
			log.Errorf("[Payments] Failed to log created event for %s: %v", intent.ID, err)
		}
	}

	log.Infof("[Payments] Payment intent created: %s (merchant=%s, sats=%d)",
		intent.ID, intent.MerchantID, intent.AmountSats)
	return intent, nil
}

// FindByID loads one intent.
func (s *Service) FindByID(id string) (*models.PaymentIntent, error) {
	intent, err := s.intents.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Entity: "payment intent", ID: id}
		}
		return nil, err
	}
	return intent, nil
}

// FindByMerchant lists a merchant's intents, newest first.
func (s *Service) FindByMerchant(merchantID string, limit, offset int) ([]models.PaymentIntent, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.intents.GetByMerchant(merchantID, limit, offset)
}

// TransitionStatus atomically moves an intent to newStatus, persists the
// extra fields, appends the audit event, and schedules a webhook notification
// when the status actually changed. Terminal states are sticky: the
// only accepted transition from one is the no-op to itself, which keeps the
// monitor safe when it re-observes a settled chain transaction.
func (s *Service) TransitionStatus(id, newStatus string, extra *TransitionFields) (*models.PaymentIntent, error) {
	return s.transition(id, newStatus, extra, true)
}

func (s *Service) transition(id, newStatus string, extra *TransitionFields, allowTerminalRepeat bool) (*models.PaymentIntent, error) {
	if !models.IsValidPaymentStatus(newStatus) {
		return nil, &ValidationError{Field: "status", Message: "unknown status " + newStatus}
	}

	var previousStatus string
	updated, err := s.intents.UpdateAtomic(id, func(current *models.PaymentIntent) (*models.PaymentEvent, error) {
		previousStatus = current.Status
		if current.IsTerminal() {
			if newStatus == current.Status && allowTerminalRepeat {
				// Idempotent repeat of a terminal transition; confirmation
				// counts and extra fields are frozen at this point.
				return nil, nil
			}
			return nil, &InvalidStateError{Current: current.Status, Attempted: newStatus}
		}

		current.Status = newStatus
		if err := s.applyExtraFields(current, extra); err != nil {
			return nil, err
		}
		if newStatus == models.PaymentStatusCanceled {
			now := s.now()
			current.CanceledAt = &now
		}

		event := &models.PaymentEvent{
			PaymentIntentID: id,
			EventType:       "payment_intent." + newStatus,
		}
		data := map[string]interface{}{
			"previous_status": previousStatus,
			"new_status":      newStatus,
		}
		if extra != nil && extra.ConfirmationCount != nil {
			data["confirmation_count"] = *extra.ConfirmationCount
		}
		if err := event.SetData(data); err != nil {
			return nil, err
		}
		return event, nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Entity: "payment intent", ID: id}
		}
		return nil, err
	}

	if previousStatus != updated.Status {
		log.Infof("[Payments] Payment intent %s: %s -> %s", id, previousStatus, updated.Status)
		if err := s.notifier.NotifyStatusChange(updated); err != nil {
			log.Errorf("[Payments] Failed to schedule webhook for %s: %v", id, err)
		}
	}
	return updated, nil
}

// Cancel moves a non-terminal intent to canceled on explicit merchant action.
// Unlike the monitor's idempotent repeats, canceling an intent that already
// reached any terminal state fails, including a second cancel.
func (s *Service) Cancel(id, reason string) (*models.PaymentIntent, error) {
	fields := &TransitionFields{}
	if reason != "" {
		fields.Metadata = map[string]string{"cancel_reason": reason}
	}
	return s.transition(id, models.PaymentStatusCanceled, fields, false)
}

// Update changes description/metadata. Only permitted in requires_payment.
func (s *Service) Update(id string, description *string, metadata map[string]string) (*models.PaymentIntent, error) {
	updated, err := s.intents.UpdateAtomic(id, func(current *models.PaymentIntent) (*models.PaymentEvent, error) {
		if current.Status != models.PaymentStatusRequiresPayment {
			return nil, &InvalidStateError{Current: current.Status, Attempted: "update"}
		}
		if description != nil {
			current.Description = *description
		}
		if metadata != nil {
			if err := current.SetMetadata(metadata); err != nil {
				return nil, &ValidationError{Field: "metadata", Message: err.Error()}
			}
		}
		return nil, nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Entity: "payment intent", ID: id}
		}
		return nil, err
	}
	return updated, nil
}

// FindExpired returns settleable intents past their expiry. The periodic
// sweep cancels them through TransitionStatus like any other caller.
func (s *Service) FindExpired() ([]models.PaymentIntent, error) {
	return s.intents.FindExpired(s.now())
}

// Events returns the append-only audit trail for an intent.
func (s *Service) Events(id string) ([]models.PaymentEvent, error) {
	if _, err := s.FindByID(id); err != nil {
		return nil, err
	}
	return s.intents.GetEvents(id)
}

// applyExtraFields copies the optional transition fields onto the intent.
// Addresses assign once; the confirmation count never decreases.
func (s *Service) applyExtraFields(intent *models.PaymentIntent, extra *TransitionFields) error {
	if extra == nil {
		return nil
	}
	if extra.StacksAddress != "" && intent.StacksAddress == "" {
		intent.StacksAddress = extra.StacksAddress
	}
	if extra.BitcoinAddress != "" && intent.BitcoinAddress == "" {
		intent.BitcoinAddress = extra.BitcoinAddress
	}
	if extra.SBTCTxID != "" {
		intent.SBTCTxID = extra.SBTCTxID
	}
	if extra.ConfirmationCount != nil && *extra.ConfirmationCount > intent.ConfirmationCount {
		intent.ConfirmationCount = *extra.ConfirmationCount
	}
	if extra.Metadata != nil {
		if err := intent.MergeMetadata(extra.Metadata); err != nil {
			return err
		}
	}
	return nil
}
