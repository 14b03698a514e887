package monitor

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/stacksgate/stacksgate/app/models"
	"github.com/stacksgate/stacksgate/app/repository"
	"github.com/stacksgate/stacksgate/internal/pkg/chain"
	"github.com/stacksgate/stacksgate/internal/pkg/env"
	"github.com/stacksgate/stacksgate/internal/pkg/payments"
)

const (
	defaultInterval = 30 * time.Second
	// Transactions older than this are left to the expiry sweep.
	pendingLookback = 24 * time.Hour
)

// Monitor polls the chain for pending settlement transactions and drives
// their payment intents through the state machine. One poll cycle handles
// each pending transaction independently; a chain outage stalls progress
// but never fails a payment.
type Monitor struct {
	transactions repository.SBTCTransactionRepository
	payments     *payments.Service
	chain        chain.Client
	interval     time.Duration
	now          func() time.Time
	ticker       *time.Ticker
	stopCh       chan struct{}
	wg           sync.WaitGroup
	mu           sync.Mutex
	running      bool
}

// NewMonitor creates a confirmation monitor. The poll interval comes from
// MONITOR_INTERVAL_SECONDS, defaulting to 30 seconds.
func NewMonitor(transactions repository.SBTCTransactionRepository, paymentSvc *payments.Service, chainClient chain.Client) *Monitor {
	interval := defaultInterval
	if v, err := strconv.Atoi(env.GetEnv("MONITOR_INTERVAL_SECONDS", "")); err == nil && v > 0 {
		interval = time.Duration(v) * time.Second
	}

	return &Monitor{
		transactions: transactions,
		payments:     paymentSvc,
		chain:        chainClient,
		interval:     interval,
		now:          time.Now,
	}
}

// WithClock injects a deterministic clock for tests.
func (m *Monitor) WithClock(now func() time.Time) *Monitor {
	m.now = now
	return m
}

// Start begins the polling loop
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	m.stopCh = make(chan struct{})
	m.ticker = time.NewTicker(m.interval)
	m.running = true
	log.Infof("[Monitor] Starting transaction monitor (interval: %s)", m.interval)

	m.wg.Add(1)
	go m.loop()
}

// Stop halts the polling loop and waits for an in-flight cycle to finish
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[Monitor] Stopping transaction monitor...")
	m.ticker.Stop()
	close(m.stopCh)
	m.running = false
	m.wg.Wait()
	log.Info("[Monitor] Transaction monitor stopped")
}

func (m *Monitor) loop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			return
		case <-m.ticker.C:
			m.Poll(context.Background())
		}
	}
}

// Poll runs one monitoring cycle over all pending transactions created
// within the lookback window. Exported so the settlement coordinator can
// force a cycle and tests can drive the monitor without the ticker.
func (m *Monitor) Poll(ctx context.Context) {
	cutoff := m.now().Add(-pendingLookback)
	pending, err := m.transactions.GetPendingSince(cutoff)
	if err != nil {
		log.Errorf("[Monitor] Failed to load pending transactions: %v", err)
		return
	}
	if len(pending) == 0 {
		return
	}

	log.Debugf("[Monitor] Checking %d pending transactions", len(pending))
	for i := range pending {
		m.checkTransaction(ctx, &pending[i])
	}
}

// checkTransaction queries the chain for one transaction and applies the
// result. The token-ledger reference is authoritative when present; the
// deposit reference is the fallback while the ledger side is still unknown.
func (m *Monitor) checkTransaction(ctx context.Context, tx *models.SBTCTransaction) {
	var status *chain.TransactionStatus
	var err error

	switch {
	case tx.StacksTxID != "":
		status, err = m.chain.GetTransactionStatus(ctx, tx.StacksTxID)
	case tx.BitcoinTxID != "":
		status, err = m.chain.MonitorDeposit(ctx, tx.BitcoinTxID, tx.AmountSats)
	default:
		log.Warnf("[Monitor] Transaction %d for intent %s has no chain reference", tx.ID, tx.PaymentIntentID)
		return
	}
	if err != nil {
		if errors.Is(err, chain.ErrUnavailable) {
			log.Warnf("[Monitor] Chain unavailable while checking intent %s, will retry: %v", tx.PaymentIntentID, err)
		} else {
			log.Errorf("[Monitor] Status check failed for intent %s: %v", tx.PaymentIntentID, err)
		}
		return
	}

	m.applyStatus(tx, status)
}

func (m *Monitor) applyStatus(tx *models.SBTCTransaction, status *chain.TransactionStatus) {
	// Confirmation counts only move forward.
	if status.Confirmations > tx.ConfirmationCount {
		tx.ConfirmationCount = status.Confirmations
	}
	if status.BlockHeight != nil {
		tx.BlockHeight = status.BlockHeight
	}
	if tx.StacksTxID == "" && status.TxID != "" {
		tx.StacksTxID = status.TxID
	}

	var intentStatus string
	switch status.Status {
	case chain.TxStatusConfirmed:
		tx.Status = models.SBTCTxStatusConfirmed
		if tx.ConfirmedAt == nil {
			now := m.now()
			tx.ConfirmedAt = &now
		}
		intentStatus = models.PaymentStatusSucceeded
	case chain.TxStatusFailed:
		tx.Status = models.SBTCTxStatusFailed
		intentStatus = models.PaymentStatusFailed
	default:
		intentStatus = models.PaymentStatusProcessing
	}

	if err := m.transactions.Update(tx); err != nil {
		log.Errorf("[Monitor] Failed to persist transaction %d: %v", tx.ID, err)
		return
	}

	confirmations := tx.ConfirmationCount
	fields := &payments.TransitionFields{
		SBTCTxID:          tx.StacksTxID,
		ConfirmationCount: &confirmations,
	}
	if _, err := m.payments.TransitionStatus(tx.PaymentIntentID, intentStatus, fields); err != nil {
		var stateErr *payments.InvalidStateError
		if errors.As(err, &stateErr) {
			// The intent already reached a different terminal state
			// (e.g. canceled while the deposit was in flight).
			log.Warnf("[Monitor] Intent %s rejected transition to %s: %v", tx.PaymentIntentID, intentStatus, err)
			return
		}
		log.Errorf("[Monitor] Failed to transition intent %s to %s: %v", tx.PaymentIntentID, intentStatus, err)
	}
}
