package webhooks

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/stacksgate/stacksgate/app/models"
)

// IntentSnapshot is the payment intent view shipped inside webhook events and
// exposed beyond the engine (API layer). Timestamps are unix seconds.
type IntentSnapshot struct {
	ID                string            `json:"id"`
	Object            string            `json:"object"`
	Amount            float64           `json:"amount"`
	AmountSats        int64             `json:"amount_sats"`
	AmountUSD         float64           `json:"amount_usd"`
	Currency          string            `json:"currency"`
	Status            string            `json:"status"`
	Description       string            `json:"description"`
	Metadata          map[string]string `json:"metadata"`
	StacksAddress     string            `json:"stacks_address,omitempty"`
	BitcoinAddress    string            `json:"bitcoin_address,omitempty"`
	SBTCTxID          string            `json:"sbtc_tx_id,omitempty"`
	ConfirmationCount int               `json:"confirmation_count"`
	Created           int64             `json:"created"`
	ExpiresAt         int64             `json:"expires_at"`
}

// Event is the outbound webhook envelope.
type Event struct {
	ID      string    `json:"id"`
	Object  string    `json:"object"`
	Type    string    `json:"type"`
	Created int64     `json:"created"`
	Data    EventData `json:"data"`
}

// EventData wraps the entity snapshot the event describes.
type EventData struct {
	Object interface{} `json:"object"`
}

// SnapshotIntent converts an intent to its external representation.
func SnapshotIntent(intent *models.PaymentIntent) *IntentSnapshot {
	return &IntentSnapshot{
		ID:                intent.ID,
		Object:            "payment_intent",
		Amount:            intent.AmountBTC(),
		AmountSats:        intent.AmountSats,
		AmountUSD:         intent.AmountUSD,
		Currency:          intent.Currency,
		Status:            intent.Status,
		Description:       intent.Description,
		Metadata:          intent.Metadata(),
		StacksAddress:     intent.StacksAddress,
		BitcoinAddress:    intent.BitcoinAddress,
		SBTCTxID:          intent.SBTCTxID,
		ConfirmationCount: intent.ConfirmationCount,
		Created:           intent.CreatedAt.Unix(),
		ExpiresAt:         intent.ExpiresAt.Unix(),
	}
}

// NewPaymentIntentEvent builds the event emitted for an intent's current
// status, e.g. payment_intent.succeeded.
func NewPaymentIntentEvent(intent *models.PaymentIntent) *Event {
	return &Event{
		ID:      newEventID(),
		Object:  "event",
		Type:    "payment_intent." + intent.Status,
		Created: time.Now().Unix(),
		Data:    EventData{Object: SnapshotIntent(intent)},
	}
}

func newEventID() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("evt_%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("evt_%d_%s", time.Now().UnixMilli(), hex.EncodeToString(buf))
}
