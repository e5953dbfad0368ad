package models

import (
	"encoding/json"
	"time"
)

// Статусы намерения
const (
	IntentStatusPending   = "pending"
	IntentStatusExecuting = "executing"
	IntentStatusCompleted = "completed"
	IntentStatusFailed    = "failed"
)

// TradeIntent - запись о торговом намерении в журнале.
// SettingsSnapshot фиксирует эффективные настройки на момент создания.
type TradeIntent struct {
	ID               int64           `json:"id" db:"id"`
	IntentID         string          `json:"intent_id" db:"intent_id"`
	InstanceID       int             `json:"instance_id" db:"instance_id"`
	Symbol           string          `json:"symbol" db:"symbol"`
	Exchange         string          `json:"exchange" db:"exchange"`
	Product          string          `json:"product" db:"product"`
	Action           string          `json:"action" db:"action"`
	Quantity         float64         `json:"quantity" db:"quantity"`
	PositionSize     float64         `json:"position_size" db:"position_size"` // целевая позиция smart-ордера
	SettingsSnapshot json.RawMessage `json:"settings_snapshot" db:"settings_snapshot"`
	Status           string          `json:"status" db:"status"`
	Result           json.RawMessage `json:"result,omitempty" db:"result"`
	ErrorMessage     string          `json:"error_message,omitempty" db:"error_message"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
	StartedAt        *time.Time      `json:"started_at,omitempty" db:"started_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
	FailedAt         *time.Time      `json:"failed_at,omitempty" db:"failed_at"`
}

// Settings декодирует снимок настроек
func (t *TradeIntent) Settings() (EffectiveSettings, error) {
	return ParseEffectiveSettings(t.SettingsSnapshot)
}

// TradeIntentOrder - связь намерения с ордером
type TradeIntentOrder struct {
	IntentID      string    `json:"intent_id" db:"intent_id"`
	OrderAuditID  int64     `json:"order_audit_id" db:"order_audit_id"`
	BrokerOrderID string    `json:"broker_order_id" db:"broker_order_id"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}
