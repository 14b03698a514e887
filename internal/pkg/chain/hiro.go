package chain

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/stacksgate/stacksgate/internal/pkg/env"
)

const (
	defaultTestnetAPIURL = "https://api.testnet.hiro.so"
	defaultMainnetAPIURL = "https://api.mainnet.hiro.so"

	// Deposits with at least this many confirmations count as settled.
	confirmationThreshold = 1
)

// HiroClient talks to a Hiro Stacks API node. It is deliberately thin: it
// reads transaction state, reads token balances and forwards deposit
// broadcasts; settlement decisions live in the monitor.
type HiroClient struct {
	APIURL    string
	IsMainnet bool

	HTTPClient *http.Client
}

// NewHiroClientFromEnv builds a client from STACKS_NETWORK / STACKS_API_URL.
func NewHiroClientFromEnv() *HiroClient {
	isMainnet := env.GetEnv("STACKS_NETWORK", "testnet") == "mainnet"
	apiURL := strings.TrimSpace(env.GetEnv("STACKS_API_URL", ""))
	if apiURL == "" {
		if isMainnet {
			apiURL = defaultMainnetAPIURL
		} else {
			apiURL = defaultTestnetAPIURL
		}
	}

	return &HiroClient{
		APIURL:    strings.TrimRight(apiURL, "/"),
		IsMainnet: isMainnet,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type hiroTxResponse struct {
	TxID          string `json:"tx_id"`
	TxStatus      string `json:"tx_status"`
	Canonical     bool   `json:"canonical"`
	BlockHeight   int64  `json:"block_height"`
	Confirmations int    `json:"confirmations"`
}

// GetTransactionStatus resolves the status of a chain-side transaction.
// A 404 means the transaction has not propagated yet and maps to pending.
func (c *HiroClient) GetTransactionStatus(ctx context.Context, txID string) (*TransactionStatus, error) {
	var tx hiroTxResponse
	status, err := c.getJSON(ctx, fmt.Sprintf("%s/extended/v1/tx/%s", c.APIURL, txID), &tx)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return &TransactionStatus{TxID: txID, Status: TxStatusPending}, nil
	}

	result := &TransactionStatus{
		TxID:          txID,
		Confirmations: tx.Confirmations,
	}
	if tx.BlockHeight > 0 {
		height := tx.BlockHeight
		result.BlockHeight = &height
	}

	switch {
	case tx.TxStatus == "success" && tx.Canonical:
		result.Status = TxStatusConfirmed
	case strings.HasPrefix(tx.TxStatus, "abort") || tx.TxStatus == "dropped_replace_by_fee" || tx.TxStatus == "dropped_stale_garbage_collect":
		result.Status = TxStatusFailed
	default:
		result.Status = TxStatusPending
	}
	return result, nil
}

// MonitorDeposit resolves the status of a bitcoin-side deposit reference. The
// deposit counts as confirmed once the transaction is canonical with enough
// confirmations; anything less is pending.
func (c *HiroClient) MonitorDeposit(ctx context.Context, bitcoinTxID string, expectedSats int64) (*TransactionStatus, error) {
	var tx hiroTxResponse
	status, err := c.getJSON(ctx, fmt.Sprintf("%s/extended/v1/tx/%s", c.APIURL, bitcoinTxID), &tx)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return &TransactionStatus{TxID: bitcoinTxID, Status: TxStatusPending}, nil
	}

	result := &TransactionStatus{
		TxID:          bitcoinTxID,
		Confirmations: tx.Confirmations,
	}
	if tx.BlockHeight > 0 {
		height := tx.BlockHeight
		result.BlockHeight = &height
	}

	if !tx.Canonical || tx.TxStatus != "success" || tx.Confirmations < confirmationThreshold {
		result.Status = TxStatusPending
		return result, nil
	}
	result.Status = TxStatusConfirmed
	return result, nil
}

type hiroBalanceResponse struct {
	Balance string `json:"balance"`
}

// GetSBTCBalance returns the sBTC token balance of an address in sats.
func (c *HiroClient) GetSBTCBalance(ctx context.Context, address string) (int64, error) {
	var resp hiroBalanceResponse
	status, err := c.getJSON(ctx, fmt.Sprintf("%s/extended/v1/address/%s/balances/sbtc", c.APIURL, address), &resp)
	if err != nil {
		return 0, err
	}
	if status == http.StatusNotFound {
		return 0, nil
	}
	var balance int64
	if _, err := fmt.Sscan(resp.Balance, &balance); err != nil {
		return 0, fmt.Errorf("malformed balance %q: %w", resp.Balance, err)
	}
	return balance, nil
}

type depositBroadcastRequest struct {
	AmountSats int64  `json:"amount_sats"`
	Recipient  string `json:"recipient"`
	SenderKey  string `json:"sender_key"`
}

type depositBroadcastResponse struct {
	TxID string `json:"txid"`
}

// BroadcastDeposit submits a signed deposit initiation and returns the
// resulting transaction reference. Rejections surface as plain errors;
// transport failures surface as ErrUnavailable so callers fall back to
// monitoring mode.
func (c *HiroClient) BroadcastDeposit(ctx context.Context, amountSats int64, recipient, privateKey string) (string, error) {
	body, err := json.Marshal(depositBroadcastRequest{
		AmountSats: amountSats,
		Recipient:  recipient,
		SenderKey:  privateKey,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIURL+"/extended/v1/sbtc/deposit", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return "", fmt.Errorf("%w: deposit broadcast returned HTTP %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("deposit broadcast rejected: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out depositBroadcastResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode broadcast response: %w", err)
	}
	if out.TxID == "" {
		return "", fmt.Errorf("broadcast response missing txid")
	}
	return out.TxID, nil
}

// GenerateDepositAddress creates an ephemeral deposit keypair. The address is
// derived from the key's public hash in the c32-style testnet/mainnet form.
func (c *HiroClient) GenerateDepositAddress() (*DepositAddress, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}

	hash := sha256.Sum256(key)
	encoded := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(hash[:20])
	prefix := "ST"
	if c.IsMainnet {
		prefix = "SP"
	}

	return &DepositAddress{
		Address:    prefix + strings.ToUpper(encoded),
		PrivateKey: hex.EncodeToString(key),
	}, nil
}

// getJSON performs a GET and decodes the body; 404 is reported via the status
// code with no decode, 5xx and transport errors surface as ErrUnavailable.
func (c *HiroClient) getJSON(ctx context.Context, url string, dest interface{}) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", "StacksGate-Payment-Gateway/1.0")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return resp.StatusCode, nil
	}
	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return resp.StatusCode, fmt.Errorf("%w: chain API returned HTTP %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("chain API returned HTTP %d for %s", resp.StatusCode, url)
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return resp.StatusCode, fmt.Errorf("decode chain response: %w", err)
	}
	return resp.StatusCode, nil
}
