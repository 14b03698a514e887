package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/stacksgate/stacksgate/app/models"
)

// webhookLogRepository implements the WebhookLogRepository interface
type webhookLogRepository struct {
	db *gorm.DB
}

// NewWebhookLogRepository creates a new webhook log repository instance
func NewWebhookLogRepository(db *gorm.DB) WebhookLogRepository {
	return &webhookLogRepository{db: db}
}

// Create appends one delivery attempt record
func (r *webhookLogRepository) Create(entry *models.WebhookLog) error {
	return r.db.Create(entry).Error
}

// GetByMerchant returns a merchant's delivery log, newest first
func (r *webhookLogRepository) GetByMerchant(merchantID string, limit, offset int) ([]models.WebhookLog, error) {
	var entries []models.WebhookLog
	err := r.db.Where("merchant_id = ?", merchantID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&entries).Error
	return entries, err
}

// FindUndelivered returns the retry backlog: recent undelivered attempts that
// have not yet exhausted the attempt cap. Only the latest attempt per intent
// and event type is returned so a batch retry does not duplicate sends.
func (r *webhookLogRepository) FindUndelivered(since time.Time, maxAttempts, limit int) ([]models.WebhookLog, error) {
	var entries []models.WebhookLog
	err := r.db.Raw(`
		SELECT w.* FROM webhook_logs w
		INNER JOIN (
			SELECT merchant_id, payment_intent_id, event_type, MAX(attempt_number) AS max_attempt
			FROM webhook_logs
			WHERE created_at >= ?
			GROUP BY merchant_id, payment_intent_id, event_type
		) latest
			ON w.merchant_id = latest.merchant_id
			AND w.payment_intent_id = latest.payment_intent_id
			AND w.event_type = latest.event_type
			AND w.attempt_number = latest.max_attempt
		WHERE w.delivered = false
			AND w.attempt_number < ?
			AND w.created_at >= ?
		ORDER BY w.created_at DESC
		LIMIT ?`, since, maxAttempts, since, limit).
		Scan(&entries).Error
	return entries, err
}

// Stats aggregates delivery outcomes for a merchant since the given time
func (r *webhookLogRepository) Stats(merchantID string, since time.Time) (*models.WebhookStats, error) {
	stats := &models.WebhookStats{}
	base := r.db.Model(&models.WebhookLog{}).
		Where("merchant_id = ? AND created_at >= ?", merchantID, since)

	if err := base.Session(&gorm.Session{}).Count(&stats.TotalWebhooks).Error; err != nil {
		return nil, err
	}
	if err := base.Session(&gorm.Session{}).Where("delivered = ?", true).Count(&stats.SuccessfulWebhooks).Error; err != nil {
		return nil, err
	}
	stats.FailedWebhooks = stats.TotalWebhooks - stats.SuccessfulWebhooks

	var agg struct {
		AvgAttempts float64
		EventTypes  int64
	}
	err := r.db.Model(&models.WebhookLog{}).
		Select("COALESCE(AVG(attempt_number),0) AS avg_attempts, COUNT(DISTINCT event_type) AS event_types").
		Where("merchant_id = ? AND created_at >= ?", merchantID, since).
		Scan(&agg).Error
	if err != nil {
		return nil, err
	}
	stats.AvgAttempts = agg.AvgAttempts
	stats.UniqueEventTypes = agg.EventTypes

	if stats.TotalWebhooks > 0 {
		stats.SuccessRate = int(float64(stats.SuccessfulWebhooks) / float64(stats.TotalWebhooks) * 100)
	}
	return stats, nil
}
