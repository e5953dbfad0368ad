package models

import "time"

// Статусы записи аудита
const (
	AuditStatusSuccess = "success"
	AuditStatusFailed  = "failed"
)

// OrderAudit - запись о каждом размещении ордера
type OrderAudit struct {
	ID            int64     `json:"id" db:"id"`
	InstanceID    int       `json:"instance_id" db:"instance_id"`
	IntentID      *string   `json:"intent_id,omitempty" db:"intent_id"`
	TriggerID     *string   `json:"trigger_id,omitempty" db:"trigger_id"`
	Endpoint      string    `json:"endpoint" db:"endpoint"`
	Symbol        string    `json:"symbol" db:"symbol"`
	Exchange      string    `json:"exchange" db:"exchange"`
	Product       string    `json:"product" db:"product"`
	Action        string    `json:"action" db:"action"`
	PriceType     string    `json:"pricetype" db:"pricetype"`
	Quantity      float64   `json:"quantity" db:"quantity"`
	PositionSize  *float64  `json:"position_size,omitempty" db:"position_size"`
	BrokerOrderID string    `json:"broker_order_id,omitempty" db:"broker_order_id"`
	Status        string    `json:"status" db:"status"`
	Deduplicated  bool      `json:"deduplicated" db:"deduplicated"`
	ErrorMessage  string    `json:"error_message,omitempty" db:"error_message"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// OrderRef - что послужило причиной ордера (ровно одно из полей)
type OrderRef struct {
	IntentID  string `json:"intent_id,omitempty"`
	TriggerID string `json:"trigger_id,omitempty"`
}
