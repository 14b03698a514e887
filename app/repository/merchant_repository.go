package repository

import (
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/stacksgate/stacksgate/app/models"
)

// merchantRepository implements the MerchantRepository interface
type merchantRepository struct {
	db *gorm.DB
}

// NewMerchantRepository creates a new merchant repository instance
func NewMerchantRepository(db *gorm.DB) MerchantRepository {
	return &merchantRepository{db: db}
}

// Create persists a new merchant
func (r *merchantRepository) Create(merchant *models.Merchant) error {
	return r.db.Create(merchant).Error
}

// GetByID retrieves a merchant by its identifier
func (r *merchantRepository) GetByID(id string) (*models.Merchant, error) {
	var merchant models.Merchant
	err := r.db.Where("id = ?", id).First(&merchant).Error
	if err != nil {
		return nil, err
	}
	return &merchant, nil
}

// GetByAPIKeyHash resolves an active API key hash to its merchant
func (r *merchantRepository) GetByAPIKeyHash(hash string) (*models.Merchant, error) {
	trimmed := strings.TrimSpace(hash)
	if trimmed == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var merchant models.Merchant
	err := r.db.Where("api_key_hash = ? AND active = ?", trimmed, true).First(&merchant).Error
	if err != nil {
		return nil, err
	}
	return &merchant, nil
}

// Update persists merchant changes
func (r *merchantRepository) Update(merchant *models.Merchant) error {
	return r.db.Save(merchant).Error
}

// TouchLastSeen refreshes the last-used timestamp best-effort
func (r *merchantRepository) TouchLastSeen(id string, at time.Time) error {
	return r.db.Model(&models.Merchant{}).
		Where("id = ?", id).
		Update("last_seen_at", at).Error
}
