package models

import "time"

// WebhookLog records one delivery attempt against a merchant endpoint. Rows
// are append-only: every attempt, delivered or not, gets its own entry, and
// undelivered entries double as the batch-retry backlog. ResponseStatus 0
// means the attempt never reached the network.
type WebhookLog struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	MerchantID      string    `gorm:"type:varchar(64);not null;index:idx_webhook_logs_merchant_created,priority:1" json:"merchant_id"`
	PaymentIntentID string    `gorm:"type:varchar(32);index" json:"payment_intent_id"`
	EventType       string    `gorm:"type:varchar(100);not null" json:"event_type"`
	WebhookURL      string    `gorm:"type:varchar(500);not null" json:"webhook_url"`
	RequestPayload  string    `gorm:"type:json" json:"request_payload"`
	ResponseStatus  int       `gorm:"default:0" json:"response_status"`
	ResponseBody    string    `gorm:"type:text" json:"response_body"`
	Delivered       bool      `gorm:"default:false;index:idx_webhook_logs_delivered_created,priority:1" json:"delivered"`
	AttemptNumber   int       `gorm:"default:1" json:"attempt_number"`
	CreatedAt       time.Time `gorm:"autoCreateTime;index:idx_webhook_logs_merchant_created,priority:2;index:idx_webhook_logs_delivered_created,priority:2" json:"created_at"`
}

// WebhookStats aggregates delivery outcomes for a merchant over a window.
type WebhookStats struct {
	TotalWebhooks      int64   `json:"total_webhooks"`
	SuccessfulWebhooks int64   `json:"successful_webhooks"`
	FailedWebhooks     int64   `json:"failed_webhooks"`
	SuccessRate        int     `json:"success_rate"`
	AvgAttempts        float64 `json:"avg_attempts"`
	UniqueEventTypes   int64   `json:"unique_event_types"`
}
