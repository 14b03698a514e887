package models

import "time"

const (
	SBTCTxStatusPending   = "pending"
	SBTCTxStatusConfirmed = "confirmed"
	SBTCTxStatusFailed    = "failed"
)

// SBTCTransaction tracks one chain-side settlement attempt for an intent.
// BitcoinTxID is the deposit reference observed on the Bitcoin side;
// StacksTxID is populated only when the deposit broadcast succeeds. An intent
// has at most one active transaction at a time.
type SBTCTransaction struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	PaymentIntentID   string     `gorm:"type:varchar(32);not null;index" json:"payment_intent_id"`
	BitcoinTxID       string     `gorm:"column:bitcoin_txid;type:varchar(80);index" json:"bitcoin_txid"`
	StacksTxID        string     `gorm:"column:stacks_txid;type:varchar(80);index" json:"stacks_txid"`
	DepositAddress    string     `gorm:"type:varchar(64);not null" json:"deposit_address"`
	AmountSats        int64      `gorm:"not null" json:"amount_sats"`
	Status            string     `gorm:"type:varchar(20);not null;default:'pending';index:idx_sbtc_transactions_status_created,priority:1" json:"status"`
	ConfirmationCount int        `gorm:"default:0" json:"confirmation_count"`
	BlockHeight       *int64     `gorm:"default:null" json:"block_height,omitempty"`
	ConfirmedAt       *time.Time `gorm:"type:timestamp;default:null" json:"confirmed_at,omitempty"`
	CreatedAt         time.Time  `gorm:"autoCreateTime;index:idx_sbtc_transactions_status_created,priority:2" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsTerminal reports whether the transaction reached a final chain status.
func (t *SBTCTransaction) IsTerminal() bool {
	return t.Status == SBTCTxStatusConfirmed || t.Status == SBTCTxStatusFailed
}
