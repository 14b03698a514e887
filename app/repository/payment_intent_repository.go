package repository

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/stacksgate/stacksgate/app/models"
)

// paymentIntentRepository implements the PaymentIntentRepository interface
type paymentIntentRepository struct {
	db *gorm.DB
}

// NewPaymentIntentRepository creates a new payment intent repository instance
func NewPaymentIntentRepository(db *gorm.DB) PaymentIntentRepository {
	return &paymentIntentRepository{db: db}
}

// Create persists a new payment intent
func (r *paymentIntentRepository) Create(intent *models.PaymentIntent) error {
	return r.db.Create(intent).Error
}

// GetByID retrieves a payment intent by its identifier
func (r *paymentIntentRepository) GetByID(id string) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := r.db.Where("id = ?", id).First(&intent).Error
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

// GetByMerchant retrieves a merchant's payment intents, newest first
func (r *paymentIntentRepository) GetByMerchant(merchantID string, limit, offset int) ([]models.PaymentIntent, error) {
	var intents []models.PaymentIntent
	err := r.db.Where("merchant_id = ?", merchantID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&intents).Error
	return intents, err
}

// UpdateAtomic loads the intent under a row lock, runs fn against it and
// persists the mutated row plus the returned audit event in one transaction.
// Per-intent transitions serialize on this lock.
func (r *paymentIntentRepository) UpdateAtomic(id string, fn func(current *models.PaymentIntent) (*models.PaymentEvent, error)) (*models.PaymentIntent, error) {
	var updated *models.PaymentIntent
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var current models.PaymentIntent
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			First(&current).Error; err != nil {
			return err
		}
		event, err := fn(&current)
		if err != nil {
			return err
		}
		if err := tx.Save(&current).Error; err != nil {
			return err
		}
		if event != nil {
			if err := tx.Create(event).Error; err != nil {
				return err
			}
		}
		updated = &current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// FindExpired returns intents past their expiry that are still settleable
func (r *paymentIntentRepository) FindExpired(now time.Time) ([]models.PaymentIntent, error) {
	var intents []models.PaymentIntent
	err := r.db.Where("expires_at < ? AND status IN ?", now,
		[]string{models.PaymentStatusRequiresPayment, models.PaymentStatusProcessing}).
		Find(&intents).Error
	return intents, err
}

// AppendEvent writes an audit event outside of a transition transaction
func (r *paymentIntentRepository) AppendEvent(event *models.PaymentEvent) error {
	return r.db.Create(event).Error
}

// GetEvents returns the audit trail for an intent in insertion order
func (r *paymentIntentRepository) GetEvents(intentID string) ([]models.PaymentEvent, error) {
	var events []models.PaymentEvent
	err := r.db.Where("payment_intent_id = ?", intentID).
		Order("created_at ASC").
		Find(&events).Error
	return events, err
}

// Count returns the total number of payment intents
func (r *paymentIntentRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.PaymentIntent{}).Count(&count).Error
	return count, err
}
