package websocket

import (
	"time"

	"tradeexec/internal/models"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypeLegUpdate - изменение позиции, цены или риск-состояния ноги
	MessageTypeLegUpdate MessageType = "legUpdate"

	// MessageTypeRiskExit - создание или завершение риск-выхода
	MessageTypeRiskExit MessageType = "riskExit"

	// MessageTypeKillSwitch - оператор переключил kill switch
	MessageTypeKillSwitch MessageType = "killSwitch"
)

// BaseMessage - базовая структура для всех WebSocket сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// LegUpdateMessage - сообщение об обновлении ноги
type LegUpdateMessage struct {
	BaseMessage
	Data *LegData `json:"data"`
}

// LegData - то, что оператору нужно видеть по ноге в реальном времени
type LegData struct {
	ID                 int64   `json:"id"`
	InstanceID         int     `json:"instance_id"`
	Symbol             string  `json:"symbol"`
	Exchange           string  `json:"exchange"`
	Side               string  `json:"side"`
	NetQty             float64 `json:"net_qty"`
	AvgEntry           float64 `json:"weighted_avg_entry"`
	CurrentPrice       float64 `json:"current_price"`
	BestFavorablePrice float64 `json:"best_favorable_price"`
	RiskEnabled        bool    `json:"risk_enabled"`
	TPPrice            float64 `json:"tp_price,omitempty"`
	SLPrice            float64 `json:"sl_price,omitempty"`
	TSLArmed           bool    `json:"tsl_armed"`
	TrailingStop       float64 `json:"trailing_stop,omitempty"`
}

// RiskExitMessage - сообщение о риск-выходе
type RiskExitMessage struct {
	BaseMessage
	Data *RiskExitData `json:"data"`
}

// RiskExitData - состояние риск-выхода
type RiskExitData struct {
	TriggerID      string  `json:"trigger_id"`
	LegID          int64   `json:"leg_id"`
	Reason         string  `json:"reason"`
	TriggerPrice   float64 `json:"trigger_price"`
	Status         string  `json:"status"`
	PartialSuccess bool    `json:"partial_success"`
	OrdersPlaced   int     `json:"orders_placed"`
	TotalOrders    int     `json:"total_orders"`
	ErrorMessage   string  `json:"error_message,omitempty"`
}

// KillSwitchMessage - новое положение kill switch'ей
type KillSwitchMessage struct {
	BaseMessage
	Data models.KillSwitchState `json:"data"`
}

// ============ Фабричные функции для создания сообщений ============

func base(t MessageType) BaseMessage {
	return BaseMessage{Type: t, Timestamp: time.Now()}
}

// NewLegUpdateMessage создает сообщение обновления ноги
func NewLegUpdateMessage(leg *models.LegState) *LegUpdateMessage {
	return &LegUpdateMessage{
		BaseMessage: base(MessageTypeLegUpdate),
		Data: &LegData{
			ID:                 leg.ID,
			InstanceID:         leg.InstanceID,
			Symbol:             leg.Symbol,
			Exchange:           leg.Exchange,
			Side:               leg.Side(),
			NetQty:             leg.NetQty,
			AvgEntry:           leg.WeightedAvgEntry,
			CurrentPrice:       leg.CurrentPrice,
			BestFavorablePrice: leg.BestFavorablePrice,
			RiskEnabled:        leg.RiskEnabled,
			TPPrice:            leg.TPPrice,
			SLPrice:            leg.SLPrice,
			TSLArmed:           leg.TSLArmed,
			TrailingStop:       leg.TrailingStop,
		},
	}
}

// NewRiskExitMessage создает сообщение риск-выхода
func NewRiskExitMessage(exit *models.RiskExit) *RiskExitMessage {
	return &RiskExitMessage{
		BaseMessage: base(MessageTypeRiskExit),
		Data: &RiskExitData{
			TriggerID:      exit.TriggerID,
			LegID:          exit.LegID,
			Reason:         exit.Reason,
			TriggerPrice:   exit.TriggerPrice,
			Status:         exit.Status,
			PartialSuccess: exit.PartialSuccess,
			OrdersPlaced:   exit.OrdersPlaced,
			TotalOrders:    exit.TotalOrders,
			ErrorMessage:   exit.ErrorMessage,
		},
	}
}

// NewKillSwitchMessage создает сообщение о kill switch'ах
func NewKillSwitchMessage(state models.KillSwitchState) *KillSwitchMessage {
	return &KillSwitchMessage{
		BaseMessage: base(MessageTypeKillSwitch),
		Data:        state,
	}
}
