package settlement

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
	"github.com/stacksgate/stacksgate/internal/pkg/monitor"
	"github.com/stacksgate/stacksgate/internal/pkg/payments"
	"github.com/stacksgate/stacksgate/internal/pkg/rates"
)

const (
	defaultExpirySweepInterval = 10 * time.Minute
	shutdownTimeout            = 30 * time.Second
)

// CreateIntentParams is the merchant-facing request for a new payment.
type CreateIntentParams struct {
	MerchantID     string
	AmountSats     int64
	Description    string
	Metadata       map[string]string
	ExpiresInHours int
}

// DepositResult describes a started settlement attempt.
type DepositResult struct {
	Intent         *models.PaymentIntent   `json:"payment_intent"`
	Transaction    *models.SBTCTransaction `json:"transaction"`
	DepositAddress string                  `json:"deposit_address"`
	Broadcast      bool                    `json:"broadcast"`
}

// Stats aggregates settlement outcomes for the dashboard endpoints.
type Stats struct {
	Transactions *repository.SBTCStats `json:"transactions"`
	PendingCount int                   `json:"pending_count"`
}

// Coordinator wires the payment state machine, chain client, rate oracle and
// confirmation monitor into the gateway's settlement workflow. It owns the
// background loops and their shutdown.
type Coordinator struct {
	repos     *repository.Repositories
	payments  *payments.Service
	oracle    *rates.Oracle
	chain     chain.Client
	monitor   *monitor.Monitor
	refresher *rates.Refresher

	sweepInterval time.Duration
	sweepTicker   *time.Ticker
	stopCh        chan struct{}
	wg            sync.WaitGroup
	mu            sync.Mutex
	running       bool
	now           func() time.Time
}

// NewCoordinator assembles the settlement workflow. The expiry sweep
// interval comes from EXPIRY_SWEEP_INTERVAL_MINUTES, defaulting to 10
// minutes.
func NewCoordinator(repos *repository.Repositories, paymentSvc *payments.Service, oracle *rates.Oracle, chainClient chain.Client) *Coordinator {
	sweepInterval := defaultExpirySweepInterval
	if v, err := strconv.Atoi(env.GetEnv("EXPIRY_SWEEP_INTERVAL_MINUTES", "")); err == nil && v > 0 {
		sweepInterval = time.Duration(v) * time.Minute
	}

	return &Coordinator{
		repos:         repos,
		payments:      paymentSvc,
		oracle:        oracle,
		chain:         chainClient,
		monitor:       monitor.NewMonitor(repos.SBTCTransaction, paymentSvc, chainClient),
		refresher:     rates.NewRefresher(oracle, 0),
		sweepInterval: sweepInterval,
		now:           time.Now,
	}
}

// Monitor exposes the confirmation monitor, mainly for tests and the debug
// endpoint that forces a poll cycle.
func (c *Coordinator) Monitor() *monitor.Monitor {
	return c.monitor
}

// Start launches the confirmation monitor, the rate refresher and the
// expiry sweep.
func (c *Coordinator) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return
	}

	c.stopCh = make(chan struct{})
	c.sweepTicker = time.NewTicker(c.sweepInterval)
	c.running = true
	log.Info("[Settlement] Starting settlement coordinator")

	c.monitor.Start()
	c.refresher.Start()

	c.wg.Add(1)
	go c.expiryLoop()
}

// Shutdown stops all background loops, waiting at most shutdownTimeout for
// in-flight cycles to finish.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return
	}

	log.Info("[Settlement] Shutting down settlement coordinator...")
	c.sweepTicker.Stop()
	close(c.stopCh)
	c.running = false

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		c.monitor.Stop()
		c.refresher.Stop()
		close(done)
	}()

	select {
	case <-done:
		log.Info("[Settlement] Settlement coordinator stopped")
	case <-time.After(shutdownTimeout):
		log.Warn("[Settlement] Shutdown timed out, abandoning background loops")
	}
}

// CreatePaymentIntent creates an intent with its USD value frozen at the
// current exchange rate. Later rate movements never change what the
// merchant is owed.
func (c *Coordinator) CreatePaymentIntent(ctx context.Context, params CreateIntentParams) (*models.PaymentIntent, error) {
	if params.AmountSats <= 0 {
		return nil, &payments.ValidationError{Field: "amount_sats", Message: "must be positive"}
	}

	conversion := c.oracle.ConvertSBTCToUSD(ctx, float64(params.AmountSats)/1e8)

	return c.payments.Create(payments.CreateParams{
		MerchantID:     params.MerchantID,
		AmountSats:     params.AmountSats,
		AmountUSD:      conversion.AmountUSD,
		Description:    params.Description,
		Metadata:       params.Metadata,
		ExpiresInHours: params.ExpiresInHours,
	})
}

// ProcessDepositRequest starts settlement for an intent awaiting payment:
// generates a one-shot deposit address, broadcasts the deposit when the
// chain cooperates, records the settlement transaction and moves the intent
// to processing. A failed broadcast is not fatal; the monitor picks the
// deposit up once the payer funds the address.
func (c *Coordinator) ProcessDepositRequest(ctx context.Context, intentID string) (*DepositResult, error) {
	intent, err := c.payments.FindByID(intentID)
	if err != nil {
		return nil, err
	}
	if intent.Status != models.PaymentStatusRequiresPayment {
		return nil, &payments.InvalidStateError{Current: intent.Status, Attempted: "deposit"}
	}
	if existing, err := c.repos.SBTCTransaction.GetByPaymentIntent(intentID); err == nil && existing != nil {
		return nil, &payments.InvalidStateError{Current: intent.Status, Attempted: "duplicate deposit"}
	}

	deposit, err := c.chain.GenerateDepositAddress()
	if err != nil {
		return nil, err
	}

	broadcast := false
	var stacksTxID string
	txID, err := c.chain.BroadcastDeposit(ctx, intent.AmountSats, deposit.Address, deposit.PrivateKey)
	if err != nil {
		if !errors.Is(err, chain.ErrUnavailable) {
			return nil, err
		}
		// Chain API down: fall back to watching the deposit address.
		log.Warnf("[Settlement] Broadcast unavailable for %s, falling back to monitoring: %v", intentID, err)
	} else {
		broadcast = true
		stacksTxID = txID
	}

	tx := &models.SBTCTransaction{
		PaymentIntentID: intent.ID,
		StacksTxID:      stacksTxID,
		DepositAddress:  deposit.Address,
		AmountSats:      intent.AmountSats,
		Status:          models.SBTCTxStatusPending,
	}
	if err := c.repos.SBTCTransaction.Create(tx); err != nil {
		return nil, err
	}

	fields := &payments.TransitionFields{
		BitcoinAddress: deposit.Address,
		SBTCTxID:       stacksTxID,
	}
	updated, err := c.payments.TransitionStatus(intent.ID, models.PaymentStatusProcessing, fields)
	if err != nil {
		return nil, err
	}

	log.Infof("[Settlement] Deposit started for %s (address: %s, broadcast: %t)", intent.ID, deposit.Address, broadcast)
	return &DepositResult{
		Intent:         updated,
		Transaction:    tx,
		DepositAddress: deposit.Address,
		Broadcast:      broadcast,
	}, nil
}

// Stats returns settlement aggregates over the given window.
func (c *Coordinator) Stats(since time.Time) (*Stats, error) {
	txStats, err := c.repos.SBTCTransaction.Stats(since)
	if err != nil {
		return nil, err
	}
	pending, err := c.repos.SBTCTransaction.GetPendingSince(since)
	if err != nil {
		return nil, err
	}
	return &Stats{Transactions: txStats, PendingCount: len(pending)}, nil
}

// expiryLoop cancels intents whose expiry window has passed without payment.
func (c *Coordinator) expiryLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopCh:
			return
		case <-c.sweepTicker.C:
			c.SweepExpired()
		}
	}
}

// SweepExpired cancels all expired, still-open intents. Exported so tests
// and the admin endpoint can force a sweep.
func (c *Coordinator) SweepExpired() int {
	expired, err := c.payments.FindExpired()
	if err != nil {
		log.Errorf("[Settlement] Expiry sweep query failed: %v", err)
		return 0
	}

	canceled := 0
	for i := range expired {
		if _, err := c.payments.Cancel(expired[i].ID, "expired"); err != nil {
			// Races with the monitor are expected: a deposit can confirm
			// between the query and the cancel.
			var stateErr *payments.InvalidStateError
			if errors.As(err, &stateErr) {
				continue
			}
			log.Errorf("[Settlement] Failed to cancel expired intent %s: %v", expired[i].ID, err)
			continue
		}
		canceled++
	}
	if canceled > 0 {
		log.Infof("[Settlement] Expiry sweep canceled %d intents", canceled)
	}
	return canceled
}
