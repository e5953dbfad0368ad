// Package broker - клиент брокерских шлюзов (OpenAlgo-совместимый REST API).
//
// Клиент владеет пулами соединений, лимитами по инстансам,
// профилями повторов, суточным circuit breaker'ом и дедупликацией ордеров.
// Разнородные ответы брокеров нормализуются здесь, на границе.
package broker

import (
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Instance - параметры подключения к одному инстансу шлюза
type Instance struct {
	ID           int
	Name         string
	BaseURL      string
	APIKey       string
	Strategy     string
	AnalyzerMode bool
	IsPrimary    bool
}

// Key - ключ инстанса для лимитов, breaker'а и метрик
func (i Instance) Key() string {
	return strconv.Itoa(i.ID)
}

// Label - имя для логов
func (i Instance) Label() string {
	if i.Name != "" {
		return i.Name
	}
	return i.Key()
}

// Эндпоинты шлюза
const (
	EndpointPing            = "ping"
	EndpointFunds           = "funds"
	EndpointHoldings        = "holdings"
	EndpointOrderBook       = "orderbook"
	EndpointTradeBook       = "tradebook"
	EndpointPositionBook    = "positionbook"
	EndpointPlaceOrder      = "placeorder"
	EndpointPlaceSmartOrder = "placesmartorder"
	EndpointCancelOrder     = "cancelorder"
	EndpointCancelAllOrder  = "cancelallorder"
	EndpointClosePosition   = "closeposition"
	EndpointQuotes          = "quotes"
	EndpointDepth           = "depth"
	EndpointSearch          = "search"
	EndpointSymbol          = "symbol"
	EndpointInstruments     = "instruments"
	EndpointExpiry          = "expiry"
	EndpointOptionChain     = "optionchain"
	EndpointHistory         = "history"
	EndpointMargin          = "margin"
	EndpointContractInfo    = "contractinfo"
)

// orderEndpoints меняют позицию: критический профиль повторов и лимит ордеров/сек
var orderEndpoints = map[string]bool{
	EndpointPlaceOrder:      true,
	EndpointPlaceSmartOrder: true,
	EndpointCancelOrder:     true,
	EndpointCancelAllOrder:  true,
	EndpointClosePosition:   true,
}

// IsOrderEndpoint - эндпоинт размещает или отменяет ордера
func IsOrderEndpoint(endpoint string) bool {
	return orderEndpoints[endpoint]
}

// Response - разобранный ответ шлюза
type Response struct {
	StatusCode   int
	Status       string
	Message      string
	OrderID      string
	Data         jsoniter.RawMessage
	Body         []byte
	Deduplicated bool // ответ синтезирован дедупликатором, повтор не отправлялся
}

// RequestOptions - параметры одного вызова
type RequestOptions struct {
	// Critical принудительно включает критический профиль повторов
	Critical bool
	// SkipRateLimit - не ждать лимитер (служебные проверки вроде ping)
	SkipRateLimit bool
	// Dedup включает проверку исполнения перед повтором ордера
	Dedup *DedupTarget
}

// ============ Канонические структуры ============

// Trade - исполненная сделка из tradebook
type Trade struct {
	OrderID   string
	Symbol    string
	Exchange  string
	Product   string
	Action    string // BUY / SELL
	Quantity  float64
	Price     float64
	Timestamp time.Time
}

// Position - позиция из positionbook
type Position struct {
	Symbol       string
	Exchange     string
	Product      string
	Quantity     float64 // со знаком
	AveragePrice float64
	LTP          float64
	PnL          float64
}

// Order - ордер из orderbook
type Order struct {
	OrderID   string
	Symbol    string
	Exchange  string
	Product   string
	Action    string
	PriceType string
	Status    string // в нижнем регистре
	Quantity  float64
	Price     float64
	Timestamp time.Time
}

// Quote - котировка с указанием инстанса-источника
type Quote struct {
	Symbol           string
	Exchange         string
	LTP              float64
	Bid              float64
	Ask              float64
	Open             float64
	High             float64
	Low              float64
	PrevClose        float64
	Volume           float64
	SourceInstanceID int
	SourceInstance   string
	FetchedAt        time.Time
}

// SymbolKey - пара (exchange, symbol)
type SymbolKey struct {
	Exchange string
	Symbol   string
}

// SymbolInfo - метаданные инструмента от эндпоинта symbol
type SymbolInfo struct {
	Symbol         string
	Exchange       string
	Name           string
	InstrumentType string
	LotSize        float64
	TickSize       float64
	Expiry         string
	Strike         float64
}

// SmartOrderRequest - ордер с целевой позицией (placesmartorder)
type SmartOrderRequest struct {
	Strategy     string
	Symbol       string
	Exchange     string
	Action       string
	Product      string
	PriceType    string
	Quantity     float64
	Price        float64
	PositionSize float64
}

// OrderRequest - обычный ордер (placeorder)
type OrderRequest struct {
	Strategy  string
	Symbol    string
	Exchange  string
	Action    string
	Product   string
	PriceType string
	Quantity  float64
	Price     float64
}

// OrderResult - итог размещения
type OrderResult struct {
	OrderID      string
	Deduplicated bool
	Message      string
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
