package monitor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacksgate/stacksgate/app/models"
	"github.com/stacksgate/stacksgate/app/repository"
	"github.com/stacksgate/stacksgate/internal/pkg/chain"
	"github.com/stacksgate/stacksgate/internal/pkg/payments"
)

// fakeChain serves canned statuses keyed by transaction reference.
type fakeChain struct {
	statuses map[string]*chain.TransactionStatus
	err      error
}

func (f *fakeChain) GetTransactionStatus(_ context.Context, txID string) (*chain.TransactionStatus, error) {
	if f.err != nil {
		return nil, f.err
	}
	if status, ok := f.statuses[txID]; ok {
		return status, nil
	}
	return &chain.TransactionStatus{TxID: txID, Status: chain.TxStatusPending}, nil
}

func (f *fakeChain) MonitorDeposit(ctx context.Context, bitcoinTxID string, _ int64) (*chain.TransactionStatus, error) {
	return f.GetTransactionStatus(ctx, bitcoinTxID)
}

func (f *fakeChain) GetSBTCBalance(context.Context, string) (int64, error) { return 0, nil }

func (f *fakeChain) BroadcastDeposit(context.Context, int64, string, string) (string, error) {
	return "", chain.ErrUnavailable
}

func (f *fakeChain) GenerateDepositAddress() (*chain.DepositAddress, error) {
	return &chain.DepositAddress{Address: "STFAKE", PrivateKey: "00"}, nil
}

type monitorFixture struct {
	monitor      *Monitor
	transactions repository.SBTCTransactionRepository
	payments     *payments.Service
	chain        *fakeChain
}

func newFixture(t *testing.T) *monitorFixture {
	t.Helper()
	transactions := repository.NewMemorySBTCTransactionRepository()
	paymentSvc := payments.NewService(repository.NewMemoryPaymentIntentRepository())
	chainClient := &fakeChain{statuses: make(map[string]*chain.TransactionStatus)}

	return &monitorFixture{
		monitor:      NewMonitor(transactions, paymentSvc, chainClient),
		transactions: transactions,
		payments:     paymentSvc,
		chain:        chainClient,
	}
}

// seedPendingSettlement creates a processing intent with a pending
// transaction referencing stacksTxID.
func (f *monitorFixture) seedPendingSettlement(t *testing.T, stacksTxID string) (*models.PaymentIntent, *models.SBTCTransaction) {
	t.Helper()
	intent, err := f.payments.Create(payments.CreateParams{MerchantID: "mch_1", AmountSats: 100000})
	require.NoError(t, err)
	_, err = f.payments.TransitionStatus(intent.ID, models.PaymentStatusProcessing, nil)
	require.NoError(t, err)

	tx := &models.SBTCTransaction{
		PaymentIntentID: intent.ID,
		StacksTxID:      stacksTxID,
		DepositAddress:  "STFAKE",
		AmountSats:      intent.AmountSats,
		Status:          models.SBTCTxStatusPending,
	}
	require.NoError(t, f.transactions.Create(tx))
	return intent, tx
}

func TestPollConfirmsSettlement(t *testing.T) {
	f := newFixture(t)
	intent, tx := f.seedPendingSettlement(t, "0xaaa")

	height := int64(120045)
	f.chain.statuses["0xaaa"] = &chain.TransactionStatus{
		TxID:          "0xaaa",
		Status:        chain.TxStatusConfirmed,
		Confirmations: 2,
		BlockHeight:   &height,
	}

	f.monitor.Poll(context.Background())

	updatedTx, err := f.transactions.GetByID(tx.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SBTCTxStatusConfirmed, updatedTx.Status)
	assert.Equal(t, 2, updatedTx.ConfirmationCount)
	require.NotNil(t, updatedTx.BlockHeight)
	assert.Equal(t, height, *updatedTx.BlockHeight)
	assert.NotNil(t, updatedTx.ConfirmedAt)

	updatedIntent, err := f.payments.FindByID(intent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSucceeded, updatedIntent.Status)
	assert.Equal(t, 2, updatedIntent.ConfirmationCount)
	assert.Equal(t, "0xaaa", updatedIntent.SBTCTxID)
}

func TestPollMarksFailedSettlement(t *testing.T) {
	f := newFixture(t)
	intent, tx := f.seedPendingSettlement(t, "0xbbb")

	f.chain.statuses["0xbbb"] = &chain.TransactionStatus{
		TxID:   "0xbbb",
		Status: chain.TxStatusFailed,
	}

	f.monitor.Poll(context.Background())

	updatedTx, err := f.transactions.GetByID(tx.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SBTCTxStatusFailed, updatedTx.Status)

	updatedIntent, err := f.payments.FindByID(intent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, updatedIntent.Status)
}

func TestPollCarriesConfirmationsWhilePending(t *testing.T) {
	f := newFixture(t)
	intent, tx := f.seedPendingSettlement(t, "0xccc")

	f.chain.statuses["0xccc"] = &chain.TransactionStatus{
		TxID:          "0xccc",
		Status:        chain.TxStatusPending,
		Confirmations: 1,
	}

	f.monitor.Poll(context.Background())

	updatedTx, err := f.transactions.GetByID(tx.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SBTCTxStatusPending, updatedTx.Status)
	assert.Equal(t, 1, updatedTx.ConfirmationCount)

	updatedIntent, err := f.payments.FindByID(intent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusProcessing, updatedIntent.Status)
	assert.Equal(t, 1, updatedIntent.ConfirmationCount)
}

func TestPollLeavesStateUntouchedWhenChainUnavailable(t *testing.T) {
	f := newFixture(t)
	intent, tx := f.seedPendingSettlement(t, "0xddd")

	f.chain.err = fmt.Errorf("%w: connection refused", chain.ErrUnavailable)
	f.monitor.Poll(context.Background())

	updatedTx, err := f.transactions.GetByID(tx.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SBTCTxStatusPending, updatedTx.Status)
	assert.Equal(t, 0, updatedTx.ConfirmationCount)

	updatedIntent, err := f.payments.FindByID(intent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusProcessing, updatedIntent.Status)
}

func TestPollToleratesCanceledIntent(t *testing.T) {
	f := newFixture(t)
	intent, tx := f.seedPendingSettlement(t, "0xeee")

	// Intent got canceled while the deposit was in flight.
	_, err := f.payments.Cancel(intent.ID, "merchant canceled")
	require.NoError(t, err)

	f.chain.statuses["0xeee"] = &chain.TransactionStatus{
		TxID:          "0xeee",
		Status:        chain.TxStatusConfirmed,
		Confirmations: 1,
	}

	f.monitor.Poll(context.Background())

	// The chain-side record still settles; the intent stays canceled.
	updatedTx, err := f.transactions.GetByID(tx.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SBTCTxStatusConfirmed, updatedTx.Status)

	updatedIntent, err := f.payments.FindByID(intent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCanceled, updatedIntent.Status)
}

func TestMonitorStartStop(t *testing.T) {
	f := newFixture(t)
	f.monitor.interval = 10 * time.Millisecond

	f.monitor.Start()
	time.Sleep(30 * time.Millisecond)
	f.monitor.Stop()

	// Stop is idempotent.
	f.monitor.Stop()
}
