package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/stacksgate/stacksgate/app/models"
)

// MerchantRepository defines the interface for merchant lookups used by the
// settlement engine. Merchant registration itself is handled elsewhere.
type MerchantRepository interface {
	Create(merchant *models.Merchant) error
	GetByID(id string) (*models.Merchant, error)
	GetByAPIKeyHash(hash string) (*models.Merchant, error)
	Update(merchant *models.Merchant) error
	TouchLastSeen(id string, at time.Time) error
}

// PaymentIntentRepository defines the interface for payment intent storage.
// UpdateAtomic must load the intent under a storage-level lock, run fn against
// the loaded row, then persist the mutated intent and the returned audit event
// in the same transaction. Concurrent updates on one identifier serialize on
// that lock.
type PaymentIntentRepository interface {
	Create(intent *models.PaymentIntent) error
	GetByID(id string) (*models.PaymentIntent, error)
	GetByMerchant(merchantID string, limit, offset int) ([]models.PaymentIntent, error)
	UpdateAtomic(id string, fn func(current *models.PaymentIntent) (*models.PaymentEvent, error)) (*models.PaymentIntent, error)
	FindExpired(now time.Time) ([]models.PaymentIntent, error)
	AppendEvent(event *models.PaymentEvent) error
	GetEvents(intentID string) ([]models.PaymentEvent, error)
	Count() (int64, error)
}

// SBTCTransactionRepository defines the interface for chain settlement records.
type SBTCTransactionRepository interface {
	Create(tx *models.SBTCTransaction) error
	GetByID(id uint) (*models.SBTCTransaction, error)
	GetByPaymentIntent(intentID string) (*models.SBTCTransaction, error)
	GetPendingSince(cutoff time.Time) ([]models.SBTCTransaction, error)
	Update(tx *models.SBTCTransaction) error
	Stats(since time.Time) (*SBTCStats, error)
}

// SBTCStats aggregates settlement outcomes over a window.
type SBTCStats struct {
	TotalTransactions     int64   `json:"total_transactions"`
	ConfirmedTransactions int64   `json:"confirmed_transactions"`
	PendingTransactions   int64   `json:"pending_transactions"`
	FailedTransactions    int64   `json:"failed_transactions"`
	TotalVolumeSats       int64   `json:"total_volume_sats"`
	AvgConfirmations      float64 `json:"avg_confirmations"`
	SuccessRate           int     `json:"success_rate"`
}

// WebhookLogRepository defines the interface for delivery attempt records.
// Entries are append-only; FindUndelivered drives the batch retry path.
type WebhookLogRepository interface {
	Create(entry *models.WebhookLog) error
	GetByMerchant(merchantID string, limit, offset int) ([]models.WebhookLog, error)
	FindUndelivered(since time.Time, maxAttempts, limit int) ([]models.WebhookLog, error)
	Stats(merchantID string, since time.Time) (*models.WebhookStats, error)
}

// Repositories bundles all repository instances
type Repositories struct {
	Merchant        MerchantRepository
	PaymentIntent   PaymentIntentRepository
	SBTCTransaction SBTCTransactionRepository
	WebhookLog      WebhookLogRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Merchant:        NewMerchantRepository(db),
		PaymentIntent:   NewPaymentIntentRepository(db),
		SBTCTransaction: NewSBTCTransactionRepository(db),
		WebhookLog:      NewWebhookLogRepository(db),
	}
}

// NewMemoryRepositories creates the in-memory reference implementation used
// by tests and local development without a database.
func NewMemoryRepositories() *Repositories {
	return &Repositories{
		Merchant:        NewMemoryMerchantRepository(),
		PaymentIntent:   NewMemoryPaymentIntentRepository(),
		SBTCTransaction: NewMemorySBTCTransactionRepository(),
		WebhookLog:      NewMemoryWebhookLogRepository(),
	}
}
