package models

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Merchant owns payment intents and the webhook endpoint notified about them.
// Registration and token issuance live outside the settlement engine; this
// model carries only what the engine needs: ownership, API key lookup and the
// webhook destination.
type Merchant struct {
	ID            string     `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Name          string     `gorm:"type:varchar(150);not null" json:"name"`
	Email         string     `gorm:"uniqueIndex;type:varchar(200)" json:"email"`
	APIKeyHash    string     `gorm:"type:varchar(64);index" json:"-"`
	WebhookURL    string     `gorm:"type:varchar(500)" json:"webhook_url"`
	WebhookSecret string     `gorm:"type:varchar(100)" json:"-"`
	Active        bool       `gorm:"default:true;index" json:"active"`
	LastSeenAt    *time.Time `gorm:"type:timestamp;default:null" json:"-"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// HashAPIKey returns the hex SHA-256 digest stored for API key lookup.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// GenerateWebhookSecret creates a random shared secret for signing webhooks.
func GenerateWebhookSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "whsec_" + hex.EncodeToString(buf), nil
}
