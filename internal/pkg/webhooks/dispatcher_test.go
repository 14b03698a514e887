package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacksgate/stacksgate/app/models"
	"github.com/stacksgate/stacksgate/app/repository"
)

func testIntent() *models.PaymentIntent {
	return &models.PaymentIntent{
		ID:         "pi_test000000000000000001",
		MerchantID: "mch_test",
		AmountSats: 150000,
		AmountUSD:  97.50,
		Currency:   "usd",
		Status:     models.PaymentStatusSucceeded,
		ExpiresAt:  time.Now().Add(24 * time.Hour),
		CreatedAt:  time.Now(),
	}
}

func newTestDispatcher() (*Dispatcher, repository.WebhookLogRepository, repository.MerchantRepository) {
	logs := repository.NewMemoryWebhookLogRepository()
	merchants := repository.NewMemoryMerchantRepository()
	d := NewDispatcher(logs, merchants).
		WithRetryDelays([]time.Duration{time.Millisecond, time.Millisecond, time.Millisecond})
	return d, logs, merchants
}

func TestSendDelivers(t *testing.T) {
	var mu sync.Mutex
	var gotSignature, gotEventHeader string
	var gotBody []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotSignature = r.Header.Get("X-StacksGate-Signature")
		gotEventHeader = r.Header.Get("X-StacksGate-Event")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d, logs, _ := newTestDispatcher()
	event := NewPaymentIntentEvent(testIntent())

	delivered := d.Send("mch_test", server.URL, "whsec_secret", event, "pi_test000000000000000001", 1)
	require.True(t, delivered)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "payment_intent.succeeded", gotEventHeader)
	assert.True(t, VerifySignature(gotBody, gotSignature, "whsec_secret", DefaultTolerance))

	entries, err := logs.GetByMerchant("mch_test", 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Delivered)
	assert.Equal(t, http.StatusOK, entries[0].ResponseStatus)
	assert.Equal(t, 1, entries[0].AttemptNumber)
}

func TestSendRetriesUntilCap(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	d, logs, _ := newTestDispatcher()
	event := NewPaymentIntentEvent(testIntent())

	delivered := d.Send("mch_test", server.URL, "whsec_secret", event, "pi_test000000000000000001", 1)
	require.False(t, delivered)

	// The retry chain runs on timers; wait for all attempts to land in the log.
	require.Eventually(t, func() bool {
		entries, err := logs.GetByMerchant("mch_test", 10, 0)
		return err == nil && len(entries) == MaxRetryAttempts
	}, 2*time.Second, 10*time.Millisecond)

	entries, err := logs.GetByMerchant("mch_test", 10, 0)
	require.NoError(t, err)
	attempts := make(map[int]bool)
	for _, entry := range entries {
		assert.False(t, entry.Delivered)
		assert.Equal(t, http.StatusInternalServerError, entry.ResponseStatus)
		attempts[entry.AttemptNumber] = true
	}
	assert.Equal(t, map[int]bool{1: true, 2: true, 3: true}, attempts)

	// No fourth attempt shows up later.
	time.Sleep(50 * time.Millisecond)
	entries, _ = logs.GetByMerchant("mch_test", 10, 0)
	assert.Len(t, entries, MaxRetryAttempts)
}

func TestSendLogsNetworkFailureAsStatusZero(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused from here on

	d, logs, _ := newTestDispatcher()
	d.WithRetryDelays([]time.Duration{time.Hour}) // keep retries out of this test
	event := NewPaymentIntentEvent(testIntent())

	delivered := d.Send("mch_test", server.URL, "", event, "pi_test000000000000000001", MaxRetryAttempts)
	require.False(t, delivered)

	entries, err := logs.GetByMerchant("mch_test", 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 0, entries[0].ResponseStatus)
	assert.False(t, entries[0].Delivered)
}

func TestSendPaymentIntentEventSkipsUnconfiguredMerchant(t *testing.T) {
	d, logs, merchants := newTestDispatcher()
	require.NoError(t, merchants.Create(&models.Merchant{ID: "mch_test", Name: "Test", Active: true}))

	require.NoError(t, d.SendPaymentIntentEvent(testIntent()))

	entries, err := logs.GetByMerchant("mch_test", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRetryFailedReplaysOriginalPayload(t *testing.T) {
	var mu sync.Mutex
	var received []Event

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var event Event
		_ = json.NewDecoder(r.Body).Decode(&event)
		mu.Lock()
		received = append(received, event)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d, logs, merchants := newTestDispatcher()
	require.NoError(t, merchants.Create(&models.Merchant{
		ID:            "mch_test",
		Name:          "Test",
		WebhookURL:    server.URL,
		WebhookSecret: "whsec_secret",
		Active:        true,
	}))

	original := NewPaymentIntentEvent(testIntent())
	payload, err := json.Marshal(original)
	require.NoError(t, err)
	require.NoError(t, logs.Create(&models.WebhookLog{
		MerchantID:      "mch_test",
		PaymentIntentID: "pi_test000000000000000001",
		EventType:       original.Type,
		WebhookURL:      server.URL,
		RequestPayload:  string(payload),
		ResponseStatus:  http.StatusInternalServerError,
		Delivered:       false,
		AttemptNumber:   1,
	}))

	processed, err := d.RetryFailed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, original.Type, received[0].Type)
	assert.NotNil(t, received[0].Data.Object)

	entries, err := logs.GetByMerchant("mch_test", 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	var redelivered bool
	for _, entry := range entries {
		if entry.AttemptNumber == 2 && entry.Delivered {
			redelivered = true
		}
	}
	assert.True(t, redelivered)
}

func TestRetryFailedSkipsExhaustedEntries(t *testing.T) {
	d, logs, merchants := newTestDispatcher()
	require.NoError(t, merchants.Create(&models.Merchant{
		ID: "mch_test", Name: "Test", WebhookURL: "http://127.0.0.1:0", Active: true,
	}))

	require.NoError(t, logs.Create(&models.WebhookLog{
		MerchantID:      "mch_test",
		PaymentIntentID: "pi_x",
		EventType:       "payment_intent.failed",
		WebhookURL:      "http://127.0.0.1:0",
		Delivered:       false,
		AttemptNumber:   MaxRetryAttempts,
	}))

	processed, err := d.RetryFailed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, processed)
}

func TestValidateURL(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed) // 4xx still counts as reachable
	}))
	defer ok.Close()

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()

	d, _, _ := newTestDispatcher()
	assert.True(t, d.ValidateURL(context.Background(), ok.URL))
	assert.False(t, d.ValidateURL(context.Background(), broken.URL))
	assert.False(t, d.ValidateURL(context.Background(), "http://127.0.0.1:1"))
}
