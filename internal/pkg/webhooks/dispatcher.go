package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/stacksgate/stacksgate/app/models"
	"github.com/stacksgate/stacksgate/app/repository"
)

const (
	// MaxRetryAttempts caps the automatic backoff chain per event instance.
	MaxRetryAttempts = 3

	requestTimeout = 10 * time.Second

	retryBatchLimit  = 100
	retryBatchWindow = 24 * time.Hour
	retryBatchPause  = 100 * time.Millisecond
)

// RetryDelays is the fixed backoff schedule between attempts 1→2, 2→3, 3→4.
var RetryDelays = []time.Duration{1 * time.Second, 5 * time.Second, 15 * time.Second}

// Dispatcher constructs, signs, sends and retries event notifications to
// merchant endpoints. Every attempt is logged, delivered or not. Retry
// timers are in-process only: a restart loses in-flight retries, and the
// logged backlog plus RetryFailed is the recovery path.
type Dispatcher struct {
	logs        repository.WebhookLogRepository
	merchants   repository.MerchantRepository
	httpClient  *http.Client
	retryDelays []time.Duration
	afterFunc   func(time.Duration, func()) *time.Timer
}

// NewDispatcher creates a dispatcher over the given repositories.
func NewDispatcher(logs repository.WebhookLogRepository, merchants repository.MerchantRepository) *Dispatcher {
	return &Dispatcher{
		logs:        logs,
		merchants:   merchants,
		httpClient:  &http.Client{Timeout: requestTimeout},
		retryDelays: RetryDelays,
		afterFunc:   time.AfterFunc,
	}
}

// WithRetryDelays overrides the backoff schedule. Tests shrink it.
func (d *Dispatcher) WithRetryDelays(delays []time.Duration) *Dispatcher {
	d.retryDelays = delays
	return d
}

// WithHTTPClient overrides the outbound HTTP client.
func (d *Dispatcher) WithHTTPClient(client *http.Client) *Dispatcher {
	d.httpClient = client
	return d
}

// Send serializes and delivers one event to a merchant endpoint. Any 2xx
// response is success. On failure, while attempt is below the cap, a retry is
// scheduled on the backoff schedule and false is returned immediately; the
// retry itself is not awaited. Network-level failures log response status 0.
func (d *Dispatcher) Send(merchantID, url, secret string, event *Event, intentID string, attempt int) bool {
	body, err := json.Marshal(event)
	if err != nil {
		log.Errorf("[WebhookDispatcher] Failed to marshal event %s: %v", event.ID, err)
		return false
	}

	timestamp := time.Now().Unix()

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		d.logAttempt(merchantID, intentID, event.Type, url, body, 0, err.Error(), false, attempt)
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "StacksGate-Webhooks/1.0")
	req.Header.Set("X-StacksGate-Event", event.Type)
	req.Header.Set("X-StacksGate-Timestamp", strconv.FormatInt(timestamp, 10))
	if secret != "" {
		req.Header.Set("X-StacksGate-Signature", Sign(body, secret, timestamp))
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		d.logAttempt(merchantID, intentID, event.Type, url, body, 0, err.Error(), false, attempt)
		d.scheduleRetry(merchantID, url, secret, event, intentID, attempt)
		return false
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	delivered := resp.StatusCode >= 200 && resp.StatusCode < 300
	d.logAttempt(merchantID, intentID, event.Type, url, body, resp.StatusCode, string(respBody), delivered, attempt)

	if delivered {
		log.Infof("[WebhookDispatcher] Delivered %s to %s (attempt %d, HTTP %d)",
			event.Type, url, attempt, resp.StatusCode)
		return true
	}

	log.Warnf("[WebhookDispatcher] Delivery of %s to %s failed (attempt %d, HTTP %d)",
		event.Type, url, attempt, resp.StatusCode)
	d.scheduleRetry(merchantID, url, secret, event, intentID, attempt)
	return false
}

// SendPaymentIntentEvent resolves the merchant's webhook configuration and
// sends the intent's current-status event. Merchants without a webhook URL
// are skipped silently.
func (d *Dispatcher) SendPaymentIntentEvent(intent *models.PaymentIntent) error {
	merchant, err := d.merchants.GetByID(intent.MerchantID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warnf("[WebhookDispatcher] Merchant %s not found for intent %s", intent.MerchantID, intent.ID)
			return nil
		}
		return err
	}
	if merchant.WebhookURL == "" {
		return nil
	}

	event := NewPaymentIntentEvent(intent)
	d.Send(merchant.ID, merchant.WebhookURL, merchant.WebhookSecret, event, intent.ID, 1)
	return nil
}

// RetryFailed re-sends a bounded batch of recent undelivered entries against
// the merchant's current webhook configuration, spacing sends to avoid
// bursting an endpoint. Triggered externally (admin call or cron).
func (d *Dispatcher) RetryFailed(ctx context.Context) (int, error) {
	log.Info("[WebhookDispatcher] Starting failed webhook retry batch")

	backlog, err := d.logs.FindUndelivered(time.Now().Add(-retryBatchWindow), MaxRetryAttempts, retryBatchLimit)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, entry := range backlog {
		select {
		case <-ctx.Done():
			return processed, ctx.Err()
		default:
		}

		merchant, err := d.merchants.GetByID(entry.MerchantID)
		if err != nil || merchant.WebhookURL == "" {
			continue
		}

		event := &Event{
			ID:      newEventID(),
			Object:  "event",
			Type:    entry.EventType,
			Created: time.Now().Unix(),
		}
		// Replay the original payload body when it is still parseable.
		var original Event
		if json.Unmarshal([]byte(entry.RequestPayload), &original) == nil && original.Data.Object != nil {
			event.Data = original.Data
		} else {
			event.Data = EventData{Object: map[string]string{
				"id":      entry.PaymentIntentID,
				"message": "Webhook retry attempt",
			}}
		}

		d.Send(merchant.ID, merchant.WebhookURL, merchant.WebhookSecret, event, entry.PaymentIntentID, entry.AttemptNumber+1)
		processed++
		time.Sleep(retryBatchPause)
	}

	log.Infof("[WebhookDispatcher] Processed %d failed webhooks for retry", processed)
	return processed, nil
}

// Logs returns a merchant's delivery log, newest first.
func (d *Dispatcher) Logs(merchantID string, limit, offset int) ([]models.WebhookLog, error) {
	if limit <= 0 {
		limit = 50
	}
	return d.logs.GetByMerchant(merchantID, limit, offset)
}

// Stats aggregates a merchant's delivery outcomes over the last 30 days.
func (d *Dispatcher) Stats(merchantID string) (*models.WebhookStats, error) {
	return d.logs.Stats(merchantID, time.Now().Add(-30*24*time.Hour))
}

// ValidateURL probes a webhook endpoint. Anything below HTTP 500 counts as
// reachable; merchants often reject GETs with 4xx.
func (d *Dispatcher) ValidateURL(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

func (d *Dispatcher) scheduleRetry(merchantID, url, secret string, event *Event, intentID string, attempt int) {
	if attempt >= MaxRetryAttempts {
		log.Errorf("[WebhookDispatcher] Delivery of %s to %s permanently failed after %d attempts",
			event.Type, url, attempt)
		return
	}
	idx := attempt - 1
	if idx >= len(d.retryDelays) {
		idx = len(d.retryDelays) - 1
	}
	d.afterFunc(d.retryDelays[idx], func() {
		d.Send(merchantID, url, secret, event, intentID, attempt+1)
	})
}

func (d *Dispatcher) logAttempt(merchantID, intentID, eventType, url string, payload []byte, status int, responseBody string, delivered bool, attempt int) {
	entry := &models.WebhookLog{
		MerchantID:      merchantID,
		PaymentIntentID: intentID,
		EventType:       eventType,
		WebhookURL:      url,
		RequestPayload:  string(payload),
		ResponseStatus:  status,
		ResponseBody:    responseBody,
		Delivered:       delivered,
		AttemptNumber:   attempt,
	}
	if err := d.logs.Create(entry); err != nil {
		log.Errorf("[WebhookDispatcher] Failed to log attempt for %s: %v", url, err)
	}
}

