package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Статусы риск-выхода
const (
	RiskExitStatusPending   = "pending"
	RiskExitStatusExecuting = "executing"
	RiskExitStatusCompleted = "completed"
	RiskExitStatusFailed    = "failed"
)

// Причины срабатывания
const (
	ExitReasonTarget       = "target"
	ExitReasonStopLoss     = "stoploss"
	ExitReasonTrailingStop = "trailing_stop"
)

// Направления и типы ордеров брокера
const (
	ActionBuy  = "BUY"
	ActionSell = "SELL"

	PriceTypeMarket = "MARKET"
	PriceTypeLimit  = "LIMIT"
)

// ExitOrder - заранее рассчитанный ордер выхода
type ExitOrder struct {
	Symbol       string  `json:"symbol"`
	Exchange     string  `json:"exchange"`
	Product      string  `json:"product"`
	Action       string  `json:"action"`
	Quantity     float64 `json:"quantity"`
	PriceType    string  `json:"pricetype"`
	Price        float64 `json:"price,omitempty"`
	PositionSize float64 `json:"position_size"` // целевая позиция после выхода
}

// ExitOrders хранится в JSONB-колонке
type ExitOrders []ExitOrder

// Value реализует driver.Valuer
func (e ExitOrders) Value() (driver.Value, error) {
	if e == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(e)
}

// Scan реализует sql.Scanner
func (e *ExitOrders) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*e = nil
		return nil
	case []byte:
		return json.Unmarshal(v, e)
	case string:
		return json.Unmarshal([]byte(v), e)
	default:
		return errors.New("exit_orders: unsupported type")
	}
}

// RiskExit - сработавший риск-триггер, ожидающий исполнения
type RiskExit struct {
	ID             int64      `json:"id" db:"id"`
	TriggerID      string     `json:"trigger_id" db:"trigger_id"`
	LegID          int64      `json:"leg_id" db:"leg_id"`
	Reason         string     `json:"reason" db:"reason"`
	TriggerPrice   float64    `json:"trigger_price" db:"trigger_price"`
	ExitOrders     ExitOrders `json:"exit_orders" db:"exit_orders"`
	Status         string     `json:"status" db:"status"`
	PartialSuccess bool       `json:"partial_success" db:"partial_success"`
	OrdersPlaced   int        `json:"orders_placed" db:"orders_placed"`
	TotalOrders    int        `json:"total_orders" db:"total_orders"`
	ErrorMessage   string     `json:"error_message,omitempty" db:"error_message"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
	ExecutedAt     *time.Time `json:"executed_at,omitempty" db:"executed_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// PendingRiskExit - триггер вместе с ногой для исполнителя
type PendingRiskExit struct {
	RiskExit
	InstanceID int    `json:"instance_id"`
	Symbol     string `json:"symbol"`
	Exchange   string `json:"exchange"`
}
