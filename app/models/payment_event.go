package models

import (
	"encoding/json"
	"time"
)

// PaymentEvent is the append-only audit record written on every intent
// transition. Rows are write-once and never updated or deleted.
type PaymentEvent struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	PaymentIntentID string    `gorm:"type:varchar(32);not null;index" json:"payment_intent_id"`
	EventType       string    `gorm:"type:varchar(100);not null;index" json:"event_type"`
	DataJSON        string    `gorm:"type:json" json:"-"`
	CreatedAt       time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// Data decodes the transition snapshot captured with the event.
func (e *PaymentEvent) Data() map[string]interface{} {
	data := make(map[string]interface{})
	if e.DataJSON == "" {
		return data
	}
	if err := json.Unmarshal([]byte(e.DataJSON), &data); err != nil {
		return make(map[string]interface{})
	}
	return data
}

// SetData encodes and stores the transition snapshot.
func (e *PaymentEvent) SetData(data map[string]interface{}) error {
	if data == nil {
		data = make(map[string]interface{})
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	e.DataJSON = string(raw)
	return nil
}
