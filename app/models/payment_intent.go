package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	PaymentStatusRequiresPayment = "requires_payment"
	PaymentStatusProcessing      = "processing"
	PaymentStatusSucceeded       = "succeeded"
	PaymentStatusFailed          = "failed"
	PaymentStatusCanceled        = "canceled"
)

const DefaultExpiryHours = 24

// PaymentIntent is one requested payment and its settlement state. The amount
// is fixed at creation; AmountUSD is a snapshot of the exchange rate at
// creation time and is never re-derived afterwards.
type PaymentIntent struct {
	ID                string     `gorm:"primaryKey;type:varchar(32)" json:"id"`
	MerchantID        string     `gorm:"type:varchar(64);not null;index:idx_payment_intents_merchant_created,priority:1" json:"merchant_id"`
	AmountSats        int64      `gorm:"not null" json:"amount_sats"`
	AmountUSD         float64    `gorm:"type:decimal(12,2)" json:"amount_usd"`
	Currency          string     `gorm:"type:varchar(10);default:'usd'" json:"currency"`
	Description       string     `gorm:"type:text" json:"description"`
	MetadataJSON      string     `gorm:"type:json" json:"-"`
	StacksAddress     string     `gorm:"type:varchar(64)" json:"stacks_address"`
	BitcoinAddress    string     `gorm:"type:varchar(64)" json:"bitcoin_address"`
	SBTCTxID          string     `gorm:"column:sbtc_tx_id;type:varchar(80);index" json:"sbtc_tx_id"`
	ConfirmationCount int        `gorm:"default:0" json:"confirmation_count"`
	Status            string     `gorm:"type:varchar(32);not null;default:'requires_payment';index:idx_payment_intents_status_expires,priority:1" json:"status"`
	ExpiresAt         time.Time  `gorm:"not null;index:idx_payment_intents_status_expires,priority:2" json:"expires_at"`
	CanceledAt        *time.Time `gorm:"type:timestamp;default:null" json:"canceled_at,omitempty"`
	CreatedAt         time.Time  `gorm:"autoCreateTime;index:idx_payment_intents_merchant_created,priority:2" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// NewPaymentIntentID returns an opaque identifier in the pi_<24 hex> form.
func NewPaymentIntentID() string {
	return "pi_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:24]
}

// IsTerminal reports whether no further status transition is permitted.
func (p *PaymentIntent) IsTerminal() bool {
	switch p.Status {
	case PaymentStatusSucceeded, PaymentStatusFailed, PaymentStatusCanceled:
		return true
	}
	return false
}

// IsValidPaymentStatus reports whether s names a known intent status.
func IsValidPaymentStatus(s string) bool {
	switch s {
	case PaymentStatusRequiresPayment, PaymentStatusProcessing,
		PaymentStatusSucceeded, PaymentStatusFailed, PaymentStatusCanceled:
		return true
	}
	return false
}

// Metadata decodes the merchant-supplied metadata map. The map is opaque to
// the engine; a missing or malformed column yields an empty map.
func (p *PaymentIntent) Metadata() map[string]string {
	meta := make(map[string]string)
	if p.MetadataJSON == "" {
		return meta
	}
	if err := json.Unmarshal([]byte(p.MetadataJSON), &meta); err != nil {
		return make(map[string]string)
	}
	return meta
}

// SetMetadata encodes and stores the metadata map.
func (p *PaymentIntent) SetMetadata(meta map[string]string) error {
	if meta == nil {
		meta = make(map[string]string)
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	p.MetadataJSON = string(data)
	return nil
}

// MergeMetadata overlays entries onto the existing metadata map.
func (p *PaymentIntent) MergeMetadata(extra map[string]string) error {
	meta := p.Metadata()
	for k, v := range extra {
		meta[k] = v
	}
	return p.SetMetadata(meta)
}

// AmountBTC returns the amount as a fractional BTC value for display and for
// the webhook snapshot.
func (p *PaymentIntent) AmountBTC() float64 {
	return float64(p.AmountSats) / 100000000
}
