package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Направление позиции ноги
const (
	SideLong  = "long"
	SideShort = "short"
	SideFlat  = "flat"
)

// Охват риск-конфигурации
const (
	RiskScopeLeg      = "leg"
	RiskScopeCombined = "combined"
)

// Политика пирамидинга
const (
	PyramidingAllow = "allow"
	PyramidingBlock = "block"
)

// RiskConfig - риск-параметры ноги.
// Дистанции заданы в пунктах цены на единицу; 0 = не задано.
type RiskConfig struct {
	TPPoints          float64 `json:"tp_points"`
	SLPoints          float64 `json:"sl_points"`
	TSLTrail          float64 `json:"tsl_trail"`
	TSLStep           float64 `json:"tsl_step"`
	TSLArmAfter       float64 `json:"tsl_arm_after"`
	TSLBreakevenAfter float64 `json:"tsl_breakeven_after"`
	Scope             string  `json:"scope"`
	Pyramiding        string  `json:"pyramiding"`
}

// HasAny - задана ли хоть одна защитная дистанция
func (c RiskConfig) HasAny() bool {
	return c.TPPoints > 0 || c.SLPoints > 0 || c.TSLTrail > 0
}

// LegState - агрегированная позиция по (instance, symbol, exchange).
//
// Поля позиции пишет только агрегатор сделок, цены - только роутер котировок,
// риск-поля - только путь размещения ордеров и исполнитель выходов.
// Запись никогда не удаляется, только деактивируется.
type LegState struct {
	ID             int64  `json:"id" db:"id"`
	InstanceID     int    `json:"instance_id" db:"instance_id"`
	Symbol         string `json:"symbol" db:"symbol"`
	Exchange       string `json:"exchange" db:"exchange"`
	Product        string `json:"product" db:"product"`
	InstrumentType string `json:"instrument_type" db:"instrument_type"`

	// позиция
	NetQty           float64 `json:"net_qty" db:"net_qty"`
	TotalBuyQty      float64 `json:"total_buy_qty" db:"total_buy_qty"`
	TotalSellQty     float64 `json:"total_sell_qty" db:"total_sell_qty"`
	TotalBuyValue    float64 `json:"total_buy_value" db:"total_buy_value"`
	TotalSellValue   float64 `json:"total_sell_value" db:"total_sell_value"`
	WeightedAvgEntry float64 `json:"weighted_avg_entry" db:"weighted_avg_entry"`
	IsActive         bool    `json:"is_active" db:"is_active"`

	// цены
	CurrentPrice       float64 `json:"current_price" db:"current_price"`
	BestFavorablePrice float64 `json:"best_favorable_price" db:"best_favorable_price"` // 0 = ещё не наблюдали

	// риск
	RiskEnabled  bool       `json:"risk_enabled" db:"risk_enabled"`
	Risk         RiskConfig `json:"risk" db:"-"`
	TPPrice      float64    `json:"tp_price" db:"tp_price"`
	SLPrice      float64    `json:"sl_price" db:"sl_price"`
	TSLArmed     bool       `json:"tsl_armed" db:"tsl_armed"`
	TrailingStop float64    `json:"trailing_stop" db:"trailing_stop"`

	LastFillAt *time.Time `json:"last_fill_at,omitempty" db:"last_fill_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}

// Side возвращает направление по знаку net_qty
func (l *LegState) Side() string {
	switch {
	case l.NetQty > 0:
		return SideLong
	case l.NetQty < 0:
		return SideShort
	default:
		return SideFlat
	}
}

// ExitAction - действие, закрывающее ногу (SELL для лонга, BUY для шорта)
func (l *LegState) ExitAction() string {
	if l.NetQty < 0 {
		return ActionBuy
	}
	return ActionSell
}

// Value реализует driver.Valuer (JSONB risk_config)
func (c RiskConfig) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// Scan реализует sql.Scanner
func (c *RiskConfig) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*c = RiskConfig{}
		return nil
	case []byte:
		return json.Unmarshal(v, c)
	case string:
		return json.Unmarshal([]byte(v), c)
	default:
		return errors.New("risk_config: unsupported type")
	}
}
