package jobqueue

import (
	"encoding/json"
	"time"

	"github.com/stacksgate/stacksgate/internal/pkg/webhooks"
)

// JobType defines the type of job
type JobType string

const (
	JobTypeWebhookDelivery   JobType = "webhook_delivery"
	JobTypeWebhookRetryBatch JobType = "webhook_retry_batch"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Job represents a background job
type Job struct {
	ID          string                 `json:"id"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	Payload     map[string]interface{} `json:"payload"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
}

// WebhookDeliveryPayload carries one scheduled webhook notification. The
// event is frozen at transition time so a delivery observes the status that
// triggered it, not whatever the intent moved to afterwards.
type WebhookDeliveryPayload struct {
	MerchantID      string          `json:"merchant_id"`
	PaymentIntentID string          `json:"payment_intent_id"`
	Event           *webhooks.Event `json:"event"`
}

// ToMap converts the payload to a map for storage
func (p WebhookDeliveryPayload) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"merchant_id":       p.MerchantID,
		"payment_intent_id": p.PaymentIntentID,
	}
	if p.Event != nil {
		if data, err := json.Marshal(p.Event); err == nil {
			var event map[string]interface{}
			if json.Unmarshal(data, &event) == nil {
				m["event"] = event
			}
		}
	}
	return m
}

// WebhookDeliveryPayloadFromMap creates a payload from a map
func WebhookDeliveryPayloadFromMap(data map[string]interface{}) (*WebhookDeliveryPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload WebhookDeliveryPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// IsRetryable checks if the job can be retried
func (j *Job) IsRetryable() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// MarkAsProcessing updates the job status to processing
func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	j.ProcessedAt = &now
}

// MarkAsCompleted updates the job status to completed
func (j *Job) MarkAsCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.UpdatedAt = now
	j.CompletedAt = &now
	j.ErrorMsg = ""
}

// MarkAsFailed updates the job status to failed
func (j *Job) MarkAsFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.UpdatedAt = time.Now()
	j.ErrorMsg = errorMsg
	j.RetryCount++
}

// MarkAsRetrying updates the job status to retrying
func (j *Job) MarkAsRetrying() {
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now()
}
