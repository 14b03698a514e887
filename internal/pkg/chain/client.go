package chain

import (
	"context"
	"errors"
)

// TxStatus is the chain-side state of a settlement transaction.
type TxStatus string

const (
	TxStatusPending   TxStatus = "pending"
	TxStatusConfirmed TxStatus = "confirmed"
	TxStatusFailed    TxStatus = "failed"
)

// ErrUnavailable marks a transient failure to reach the chain API. Callers
// must treat it as "no new information", never as a failed settlement.
var ErrUnavailable = errors.New("chain unavailable")

// TransactionStatus is the result of a status query against the chain.
type TransactionStatus struct {
	TxID          string   `json:"txid"`
	Status        TxStatus `json:"status"`
	Confirmations int      `json:"confirmations"`
	BlockHeight   *int64   `json:"block_height,omitempty"`
}

// DepositAddress is an ephemeral keypair generated for one payment intent.
// The key signs at most one deposit broadcast and is never stored.
type DepositAddress struct {
	Address    string
	PrivateKey string
}

// Client is the read-mostly adapter to the external block explorer / token
// ledger. All methods may fail with ErrUnavailable.
type Client interface {
	// GetTransactionStatus resolves the status of a chain-side transaction.
	GetTransactionStatus(ctx context.Context, txID string) (*TransactionStatus, error)
	// MonitorDeposit resolves the status of a bitcoin-side deposit reference.
	MonitorDeposit(ctx context.Context, bitcoinTxID string, expectedSats int64) (*TransactionStatus, error)
	// GetSBTCBalance returns the token balance of an address in sats.
	GetSBTCBalance(ctx context.Context, address string) (int64, error)
	// BroadcastDeposit initiates a deposit and returns its transaction reference.
	BroadcastDeposit(ctx context.Context, amountSats int64, recipient, privateKey string) (string, error)
	// GenerateDepositAddress creates an ephemeral deposit keypair.
	GenerateDepositAddress() (*DepositAddress, error)
}
