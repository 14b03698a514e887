package chain

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/stacksgate/stacksgate/internal/pkg/cache"
)

const (
	pendingStatusTTL  = 30 * time.Second
	terminalStatusTTL = 300 * time.Second

	txStatusKeyPrefix = "tx_status:"
	depositKeyPrefix  = "sbtc_deposit:"
	balanceKeyPrefix  = "sbtc_balance:"
	balanceTTL        = 60 * time.Second
)

// CachedClient wraps a Client with a short-TTL status cache. Terminal results
// stick longer than pending ones, and a stale cached value is served when the
// upstream is unavailable so one flaky cycle does not blind the monitor.
type CachedClient struct {
	inner Client
	store cache.Store
}

// NewCachedClient wraps inner with the given cache store.
func NewCachedClient(inner Client, store cache.Store) *CachedClient {
	return &CachedClient{inner: inner, store: store}
}

func (c *CachedClient) GetTransactionStatus(ctx context.Context, txID string) (*TransactionStatus, error) {
	return c.lookup(ctx, txStatusKeyPrefix+txID, func() (*TransactionStatus, error) {
		return c.inner.GetTransactionStatus(ctx, txID)
	})
}

func (c *CachedClient) MonitorDeposit(ctx context.Context, bitcoinTxID string, expectedSats int64) (*TransactionStatus, error) {
	return c.lookup(ctx, depositKeyPrefix+bitcoinTxID, func() (*TransactionStatus, error) {
		return c.inner.MonitorDeposit(ctx, bitcoinTxID, expectedSats)
	})
}

func (c *CachedClient) GetSBTCBalance(ctx context.Context, address string) (int64, error) {
	var balance int64
	if err := c.store.GetJSON(balanceKeyPrefix+address, &balance); err == nil {
		return balance, nil
	}
	balance, err := c.inner.GetSBTCBalance(ctx, address)
	if err != nil {
		return 0, err
	}
	if err := c.store.SetJSON(balanceKeyPrefix+address, balance, balanceTTL); err != nil {
		log.Warnf("[ChainClient] Failed to cache balance for %s: %v", address, err)
	}
	return balance, nil
}

func (c *CachedClient) BroadcastDeposit(ctx context.Context, amountSats int64, recipient, privateKey string) (string, error) {
	return c.inner.BroadcastDeposit(ctx, amountSats, recipient, privateKey)
}

func (c *CachedClient) GenerateDepositAddress() (*DepositAddress, error) {
	return c.inner.GenerateDepositAddress()
}

// lookup serves terminal statuses from cache, refreshes pending ones and
// falls back to the last-known value when the upstream is unreachable.
func (c *CachedClient) lookup(ctx context.Context, key string, fetch func() (*TransactionStatus, error)) (*TransactionStatus, error) {
	var cached TransactionStatus
	hasCached := c.store.GetJSON(key, &cached) == nil
	if hasCached && cached.Status != TxStatusPending {
		return &cached, nil
	}

	status, err := fetch()
	if err != nil {
		if hasCached && errors.Is(err, ErrUnavailable) {
			log.Warnf("[ChainClient] Upstream unavailable, serving last-known status for %s", key)
			return &cached, nil
		}
		return nil, err
	}

	ttl := pendingStatusTTL
	if status.Status != TxStatusPending {
		ttl = terminalStatusTTL
	}
	if err := c.store.SetJSON(key, status, ttl); err != nil {
		log.Warnf("[ChainClient] Failed to cache status for %s: %v", key, err)
	}
	return status, nil
}
