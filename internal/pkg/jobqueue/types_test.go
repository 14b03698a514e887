package jobqueue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacksgate/stacksgate/internal/pkg/webhooks"
)

func TestJobType(t *testing.T) {
	tests := []struct {
		name     string
		jobType  JobType
		expected string
	}{
		{"Webhook Delivery", JobTypeWebhookDelivery, "webhook_delivery"},
		{"Webhook Retry Batch", JobTypeWebhookRetryBatch, "webhook_retry_batch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, string(tt.jobType))
		})
	}
}

func TestJobStatus(t *testing.T) {
	tests := []struct {
		name     string
		status   JobStatus
		expected string
	}{
		{"Pending", JobStatusPending, "pending"},
		{"Processing", JobStatusProcessing, "processing"},
		{"Completed", JobStatusCompleted, "completed"},
		{"Failed", JobStatusFailed, "failed"},
		{"Retrying", JobStatusRetrying, "retrying"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, string(tt.status))
		})
	}
}

func TestJob_IsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		job       *Job
		retryable bool
	}{
		{
			name: "Failed job with retries remaining",
			job: &Job{
				Status:     JobStatusFailed,
				RetryCount: 1,
				MaxRetries: 3,
			},
			retryable: true,
		},
		{
			name: "Failed job with no retries remaining",
			job: &Job{
				Status:     JobStatusFailed,
				RetryCount: 3,
				MaxRetries: 3,
			},
			retryable: false,
		},
		{
			name: "Completed job",
			job: &Job{
				Status:     JobStatusCompleted,
				RetryCount: 1,
				MaxRetries: 3,
			},
			retryable: false,
		},
		{
			name: "Pending job",
			job: &Job{
				Status:     JobStatusPending,
				RetryCount: 0,
				MaxRetries: 3,
			},
			retryable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, tt.job.IsRetryable())
		})
	}
}

func TestJob_MarkAsProcessing(t *testing.T) {
	job := &Job{
		Status: JobStatusPending,
	}

	beforeTime := time.Now()
	job.MarkAsProcessing()
	afterTime := time.Now()

	assert.Equal(t, JobStatusProcessing, job.Status)
	assert.True(t, job.UpdatedAt.After(beforeTime) || job.UpdatedAt.Equal(beforeTime))
	assert.True(t, job.UpdatedAt.Before(afterTime) || job.UpdatedAt.Equal(afterTime))
	assert.NotNil(t, job.ProcessedAt)
}

func TestJob_MarkAsCompleted(t *testing.T) {
	job := &Job{
		Status:   JobStatusProcessing,
		ErrorMsg: "some error",
	}

	job.MarkAsCompleted()

	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.NotNil(t, job.CompletedAt)
	assert.Empty(t, job.ErrorMsg)
}

func TestJob_MarkAsFailed(t *testing.T) {
	job := &Job{
		Status:     JobStatusProcessing,
		RetryCount: 1,
	}

	job.MarkAsFailed("delivery failed")

	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Equal(t, "delivery failed", job.ErrorMsg)
	assert.Equal(t, 2, job.RetryCount)
}

func TestJob_MarkAsRetrying(t *testing.T) {
	job := &Job{
		Status: JobStatusFailed,
	}

	job.MarkAsRetrying()

	assert.Equal(t, JobStatusRetrying, job.Status)
}

func TestWebhookDeliveryPayload_ToMap(t *testing.T) {
	event := &webhooks.Event{
		ID:      "evt_test123",
		Object:  "event",
		Type:    "payment_intent.succeeded",
		Created: 1700000000,
		Data:    webhooks.EventData{Object: map[string]interface{}{"id": "pi_test"}},
	}

	payload := WebhookDeliveryPayload{
		MerchantID:      "mch_abc",
		PaymentIntentID: "pi_test",
		Event:           event,
	}

	result := payload.ToMap()

	assert.Equal(t, "mch_abc", result["merchant_id"])
	assert.Equal(t, "pi_test", result["payment_intent_id"])

	eventMap, ok := result["event"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "evt_test123", eventMap["id"])
	assert.Equal(t, "payment_intent.succeeded", eventMap["type"])
}

func TestWebhookDeliveryPayload_ToMapWithoutEvent(t *testing.T) {
	payload := WebhookDeliveryPayload{
		MerchantID:      "mch_abc",
		PaymentIntentID: "pi_test",
	}

	result := payload.ToMap()

	assert.Equal(t, "mch_abc", result["merchant_id"])
	_, hasEvent := result["event"]
	assert.False(t, hasEvent)
}

func TestWebhookDeliveryPayloadFromMap_InvalidData(t *testing.T) {
	data := map[string]interface{}{
		"merchant_id": make(chan int), // channels can't be marshaled to JSON
	}

	payload, err := WebhookDeliveryPayloadFromMap(data)
	assert.Error(t, err)
	assert.Nil(t, payload)
}

// The queue stores payloads as maps inside the job JSON; a round trip must
// preserve the event frozen at transition time.
func TestWebhookDeliveryPayloadRoundTrip(t *testing.T) {
	original := WebhookDeliveryPayload{
		MerchantID:      "mch_roundtrip",
		PaymentIntentID: "pi_roundtrip",
		Event: &webhooks.Event{
			ID:      "evt_roundtrip",
			Object:  "event",
			Type:    "payment_intent.processing",
			Created: 1700000000,
			Data:    webhooks.EventData{Object: map[string]interface{}{"id": "pi_roundtrip", "status": "processing"}},
		},
	}

	data := original.ToMap()
	result, err := WebhookDeliveryPayloadFromMap(data)
	require.NoError(t, err)

	assert.Equal(t, original.MerchantID, result.MerchantID)
	assert.Equal(t, original.PaymentIntentID, result.PaymentIntentID)
	require.NotNil(t, result.Event)
	assert.Equal(t, original.Event.ID, result.Event.ID)
	assert.Equal(t, original.Event.Type, result.Event.Type)
	assert.Equal(t, original.Event.Created, result.Event.Created)

	object, ok := result.Event.Data.Object.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "processing", object["status"])
}

func TestJobJSONSerialization(t *testing.T) {
	now := time.Now()
	processedAt := now.Add(time.Minute)
	completedAt := now.Add(2 * time.Minute)

	job := &Job{
		ID:          "test-job-123",
		Type:        JobTypeWebhookDelivery,
		Status:      JobStatusCompleted,
		Payload:     map[string]interface{}{"merchant_id": "mch_abc"},
		CreatedAt:   now,
		UpdatedAt:   now.Add(time.Second),
		ProcessedAt: &processedAt,
		CompletedAt: &completedAt,
		ErrorMsg:    "",
		RetryCount:  0,
		MaxRetries:  3,
	}

	jsonData, err := json.Marshal(job)
	require.NoError(t, err)

	var result Job
	err = json.Unmarshal(jsonData, &result)
	require.NoError(t, err)

	assert.Equal(t, job.ID, result.ID)
	assert.Equal(t, job.Type, result.Type)
	assert.Equal(t, job.Status, result.Status)
	assert.Equal(t, job.Payload, result.Payload)
	assert.Equal(t, job.RetryCount, result.RetryCount)
	assert.Equal(t, job.MaxRetries, result.MaxRetries)

	// Time comparisons (allowing for minor precision differences)
	assert.True(t, job.CreatedAt.Sub(result.CreatedAt) < time.Millisecond)
	assert.NotNil(t, result.ProcessedAt)
	assert.NotNil(t, result.CompletedAt)
}
