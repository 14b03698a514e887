package repository

import (
	"sort"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/stacksgate/stacksgate/app/models"
)

// In-memory repository implementations. They satisfy the same contracts as
// the GORM-backed ones, including per-intent serialization of UpdateAtomic,
// and back the test suite and database-less local runs. Lookups that find
// nothing return gorm.ErrRecordNotFound so callers map errors uniformly.

type memoryMerchantRepository struct {
	mu        sync.RWMutex
	merchants map[string]models.Merchant
}

// NewMemoryMerchantRepository creates an in-memory merchant repository
func NewMemoryMerchantRepository() MerchantRepository {
	return &memoryMerchantRepository{merchants: make(map[string]models.Merchant)}
}

func (r *memoryMerchantRepository) Create(merchant *models.Merchant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if merchant.CreatedAt.IsZero() {
		merchant.CreatedAt = time.Now()
	}
	merchant.UpdatedAt = time.Now()
	r.merchants[merchant.ID] = *merchant
	return nil
}

func (r *memoryMerchantRepository) GetByID(id string) (*models.Merchant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	merchant, ok := r.merchants[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &merchant, nil
}

func (r *memoryMerchantRepository) GetByAPIKeyHash(hash string) (*models.Merchant, error) {
	trimmed := strings.TrimSpace(hash)
	if trimmed == "" {
		return nil, gorm.ErrRecordNotFound
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, merchant := range r.merchants {
		if merchant.APIKeyHash == trimmed && merchant.Active {
			m := merchant
			return &m, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memoryMerchantRepository) Update(merchant *models.Merchant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.merchants[merchant.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	merchant.UpdatedAt = time.Now()
	r.merchants[merchant.ID] = *merchant
	return nil
}

func (r *memoryMerchantRepository) TouchLastSeen(id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	merchant, ok := r.merchants[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	merchant.LastSeenAt = &at
	r.merchants[id] = merchant
	return nil
}

type memoryPaymentIntentRepository struct {
	mu      sync.Mutex
	intents map[string]models.PaymentIntent
	events  []models.PaymentEvent
	eventID uint
}

// NewMemoryPaymentIntentRepository creates an in-memory payment intent repository
func NewMemoryPaymentIntentRepository() PaymentIntentRepository {
	return &memoryPaymentIntentRepository{intents: make(map[string]models.PaymentIntent)}
}

func (r *memoryPaymentIntentRepository) Create(intent *models.PaymentIntent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = now
	}
	intent.UpdatedAt = now
	r.intents[intent.ID] = *intent
	return nil
}

func (r *memoryPaymentIntentRepository) GetByID(id string) (*models.PaymentIntent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	intent, ok := r.intents[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &intent, nil
}

func (r *memoryPaymentIntentRepository) GetByMerchant(merchantID string, limit, offset int) ([]models.PaymentIntent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var intents []models.PaymentIntent
	for _, intent := range r.intents {
		if intent.MerchantID == merchantID {
			intents = append(intents, intent)
		}
	}
	sort.Slice(intents, func(i, j int) bool {
		return intents[i].CreatedAt.After(intents[j].CreatedAt)
	})
	if offset >= len(intents) {
		return nil, nil
	}
	intents = intents[offset:]
	if limit > 0 && limit < len(intents) {
		intents = intents[:limit]
	}
	return intents, nil
}

// UpdateAtomic serializes all updates on the repository mutex; fn observes the
// stored row and its mutation plus the audit event commit together.
func (r *memoryPaymentIntentRepository) UpdateAtomic(id string, fn func(current *models.PaymentIntent) (*models.PaymentEvent, error)) (*models.PaymentIntent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.intents[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	event, err := fn(&current)
	if err != nil {
		return nil, err
	}
	current.UpdatedAt = time.Now()
	r.intents[id] = current
	if event != nil {
		r.appendEventLocked(event)
	}
	updated := current
	return &updated, nil
}

func (r *memoryPaymentIntentRepository) FindExpired(now time.Time) ([]models.PaymentIntent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var expired []models.PaymentIntent
	for _, intent := range r.intents {
		if intent.ExpiresAt.Before(now) &&
			(intent.Status == models.PaymentStatusRequiresPayment || intent.Status == models.PaymentStatusProcessing) {
			expired = append(expired, intent)
		}
	}
	return expired, nil
}

func (r *memoryPaymentIntentRepository) AppendEvent(event *models.PaymentEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appendEventLocked(event)
	return nil
}

func (r *memoryPaymentIntentRepository) appendEventLocked(event *models.PaymentEvent) {
	r.eventID++
	event.ID = r.eventID
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	r.events = append(r.events, *event)
}

func (r *memoryPaymentIntentRepository) GetEvents(intentID string) ([]models.PaymentEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var events []models.PaymentEvent
	for _, event := range r.events {
		if event.PaymentIntentID == intentID {
			events = append(events, event)
		}
	}
	return events, nil
}

func (r *memoryPaymentIntentRepository) Count() (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.intents)), nil
}

type memorySBTCTransactionRepository struct {
	mu     sync.RWMutex
	txs    map[uint]models.SBTCTransaction
	nextID uint
}

// NewMemorySBTCTransactionRepository creates an in-memory sBTC transaction repository
func NewMemorySBTCTransactionRepository() SBTCTransactionRepository {
	return &memorySBTCTransactionRepository{txs: make(map[uint]models.SBTCTransaction)}
}

func (r *memorySBTCTransactionRepository) Create(tx *models.SBTCTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	tx.ID = r.nextID
	now := time.Now()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	tx.UpdatedAt = now
	r.txs[tx.ID] = *tx
	return nil
}

func (r *memorySBTCTransactionRepository) GetByID(id uint) (*models.SBTCTransaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tx, ok := r.txs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &tx, nil
}

func (r *memorySBTCTransactionRepository) GetByPaymentIntent(intentID string) (*models.SBTCTransaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var found *models.SBTCTransaction
	for _, tx := range r.txs {
		if tx.PaymentIntentID == intentID {
			if found == nil || tx.CreatedAt.After(found.CreatedAt) {
				t := tx
				found = &t
			}
		}
	}
	if found == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return found, nil
}

func (r *memorySBTCTransactionRepository) GetPendingSince(cutoff time.Time) ([]models.SBTCTransaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var pending []models.SBTCTransaction
	for _, tx := range r.txs {
		if tx.Status == models.SBTCTxStatusPending && tx.CreatedAt.After(cutoff) {
			pending = append(pending, tx)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	return pending, nil
}

func (r *memorySBTCTransactionRepository) Update(tx *models.SBTCTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.txs[tx.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	tx.UpdatedAt = time.Now()
	r.txs[tx.ID] = *tx
	return nil
}

func (r *memorySBTCTransactionRepository) Stats(since time.Time) (*SBTCStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := &SBTCStats{}
	var confirmationSum int
	for _, tx := range r.txs {
		if tx.CreatedAt.Before(since) {
			continue
		}
		stats.TotalTransactions++
		switch tx.Status {
		case models.SBTCTxStatusConfirmed:
			stats.ConfirmedTransactions++
			stats.TotalVolumeSats += tx.AmountSats
			confirmationSum += tx.ConfirmationCount
		case models.SBTCTxStatusPending:
			stats.PendingTransactions++
		case models.SBTCTxStatusFailed:
			stats.FailedTransactions++
		}
	}
	if stats.ConfirmedTransactions > 0 {
		stats.AvgConfirmations = float64(confirmationSum) / float64(stats.ConfirmedTransactions)
	}
	if stats.TotalTransactions > 0 {
		stats.SuccessRate = int(float64(stats.ConfirmedTransactions) / float64(stats.TotalTransactions) * 100)
	}
	return stats, nil
}

type memoryWebhookLogRepository struct {
	mu      sync.RWMutex
	entries []models.WebhookLog
	nextID  uint
}

// NewMemoryWebhookLogRepository creates an in-memory webhook log repository
func NewMemoryWebhookLogRepository() WebhookLogRepository {
	return &memoryWebhookLogRepository{}
}

func (r *memoryWebhookLogRepository) Create(entry *models.WebhookLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	entry.ID = r.nextID
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *memoryWebhookLogRepository) GetByMerchant(merchantID string, limit, offset int) ([]models.WebhookLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var entries []models.WebhookLog
	for _, entry := range r.entries {
		if entry.MerchantID == merchantID {
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	if offset >= len(entries) {
		return nil, nil
	}
	entries = entries[offset:]
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return entries, nil
}

func (r *memoryWebhookLogRepository) FindUndelivered(since time.Time, maxAttempts, limit int) ([]models.WebhookLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	type deliveryKey struct {
		merchantID string
		intentID   string
		eventType  string
	}
	latest := make(map[deliveryKey]models.WebhookLog)
	for _, entry := range r.entries {
		if entry.CreatedAt.Before(since) {
			continue
		}
		key := deliveryKey{entry.MerchantID, entry.PaymentIntentID, entry.EventType}
		if prev, ok := latest[key]; !ok || entry.AttemptNumber > prev.AttemptNumber {
			latest[key] = entry
		}
	}

	var backlog []models.WebhookLog
	for _, entry := range latest {
		if !entry.Delivered && entry.AttemptNumber < maxAttempts {
			backlog = append(backlog, entry)
		}
	}
	sort.Slice(backlog, func(i, j int) bool {
		return backlog[i].CreatedAt.After(backlog[j].CreatedAt)
	})
	if limit > 0 && limit < len(backlog) {
		backlog = backlog[:limit]
	}
	return backlog, nil
}

func (r *memoryWebhookLogRepository) Stats(merchantID string, since time.Time) (*models.WebhookStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := &models.WebhookStats{}
	eventTypes := make(map[string]struct{})
	var attemptSum int
	for _, entry := range r.entries {
		if entry.MerchantID != merchantID || entry.CreatedAt.Before(since) {
			continue
		}
		stats.TotalWebhooks++
		if entry.Delivered {
			stats.SuccessfulWebhooks++
		} else {
			stats.FailedWebhooks++
		}
		attemptSum += entry.AttemptNumber
		eventTypes[entry.EventType] = struct{}{}
	}
	stats.UniqueEventTypes = int64(len(eventTypes))
	if stats.TotalWebhooks > 0 {
		stats.AvgAttempts = float64(attemptSum) / float64(stats.TotalWebhooks)
		stats.SuccessRate = int(float64(stats.SuccessfulWebhooks) / float64(stats.TotalWebhooks) * 100)
	}
	return stats, nil
}
