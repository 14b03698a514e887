package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/stacksgate/stacksgate/app/models"
)

// sbtcTransactionRepository implements the SBTCTransactionRepository interface
type sbtcTransactionRepository struct {
	db *gorm.DB
}

// NewSBTCTransactionRepository creates a new sBTC transaction repository instance
func NewSBTCTransactionRepository(db *gorm.DB) SBTCTransactionRepository {
	return &sbtcTransactionRepository{db: db}
}

// Create persists a new settlement attempt record
func (r *sbtcTransactionRepository) Create(tx *models.SBTCTransaction) error {
	return r.db.Create(tx).Error
}

// GetByID retrieves a transaction by its numeric identifier
func (r *sbtcTransactionRepository) GetByID(id uint) (*models.SBTCTransaction, error) {
	var tx models.SBTCTransaction
	err := r.db.First(&tx, id).Error
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// GetByPaymentIntent returns the most recent transaction for an intent
func (r *sbtcTransactionRepository) GetByPaymentIntent(intentID string) (*models.SBTCTransaction, error) {
	var tx models.SBTCTransaction
	err := r.db.Where("payment_intent_id = ?", intentID).
		Order("created_at DESC").
		First(&tx).Error
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// GetPendingSince returns pending transactions created after cutoff, oldest
// first. Older rows age out of the polling window rather than erroring.
func (r *sbtcTransactionRepository) GetPendingSince(cutoff time.Time) ([]models.SBTCTransaction, error) {
	var txs []models.SBTCTransaction
	err := r.db.Where("status = ? AND created_at > ?", models.SBTCTxStatusPending, cutoff).
		Order("created_at ASC").
		Find(&txs).Error
	return txs, err
}

// Update persists transaction state changes
func (r *sbtcTransactionRepository) Update(tx *models.SBTCTransaction) error {
	return r.db.Save(tx).Error
}

// Stats aggregates settlement outcomes since the given time
func (r *sbtcTransactionRepository) Stats(since time.Time) (*SBTCStats, error) {
	stats := &SBTCStats{}
	base := r.db.Model(&models.SBTCTransaction{}).Where("created_at >= ?", since)

	if err := base.Session(&gorm.Session{}).Count(&stats.TotalTransactions).Error; err != nil {
		return nil, err
	}
	if err := base.Session(&gorm.Session{}).Where("status = ?", models.SBTCTxStatusConfirmed).Count(&stats.ConfirmedTransactions).Error; err != nil {
		return nil, err
	}
	if err := base.Session(&gorm.Session{}).Where("status = ?", models.SBTCTxStatusPending).Count(&stats.PendingTransactions).Error; err != nil {
		return nil, err
	}
	if err := base.Session(&gorm.Session{}).Where("status = ?", models.SBTCTxStatusFailed).Count(&stats.FailedTransactions).Error; err != nil {
		return nil, err
	}

	var volume struct {
		Total int64
		Avg   float64
	}
	err := r.db.Model(&models.SBTCTransaction{}).
		Select("COALESCE(SUM(amount_sats),0) AS total, COALESCE(AVG(confirmation_count),0) AS avg").
		Where("created_at >= ? AND status = ?", since, models.SBTCTxStatusConfirmed).
		Scan(&volume).Error
	if err != nil {
		return nil, err
	}
	stats.TotalVolumeSats = volume.Total
	stats.AvgConfirmations = volume.Avg

	if stats.TotalTransactions > 0 {
		stats.SuccessRate = int(float64(stats.ConfirmedTransactions) / float64(stats.TotalTransactions) * 100)
	}
	return stats, nil
}
