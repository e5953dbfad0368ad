package broker

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

// ============ Типизированные вызовы шлюза ============

func (c *Client) post(ctx context.Context, inst Instance, endpoint string, payload map[string]interface{}, opts RequestOptions) (*Response, error) {
	return c.Request(ctx, inst, endpoint, payload, http.MethodPost, opts)
}

func (c *Client) data(ctx context.Context, inst Instance, endpoint string, payload map[string]interface{}) (jsoniter.RawMessage, error) {
	resp, err := c.post(ctx, inst, endpoint, payload, RequestOptions{})
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Ping проверяет доступность инстанса и валидность ключа. Лимитер не ждёт.
func (c *Client) Ping(ctx context.Context, inst Instance) error {
	_, err := c.post(ctx, inst, EndpointPing, nil, RequestOptions{SkipRateLimit: true})
	return err
}

// Funds - средства счёта (как есть от шлюза)
func (c *Client) Funds(ctx context.Context, inst Instance) (jsoniter.RawMessage, error) {
	return c.data(ctx, inst, EndpointFunds, nil)
}

// Holdings - портфель (как есть от шлюза)
func (c *Client) Holdings(ctx context.Context, inst Instance) (jsoniter.RawMessage, error) {
	return c.data(ctx, inst, EndpointHoldings, nil)
}

// Orders - книга ордеров
func (c *Client) Orders(ctx context.Context, inst Instance) ([]Order, error) {
	raw, err := c.data(ctx, inst, EndpointOrderBook, nil)
	if err != nil {
		return nil, err
	}
	return NormalizeOrders(raw, c.cfg.Location)
}

// Trades - книга сделок
func (c *Client) Trades(ctx context.Context, inst Instance) ([]Trade, error) {
	raw, err := c.data(ctx, inst, EndpointTradeBook, nil)
	if err != nil {
		return nil, err
	}
	return NormalizeTrades(raw, c.cfg.Location)
}

// Positions - книга позиций
func (c *Client) Positions(ctx context.Context, inst Instance) ([]Position, error) {
	raw, err := c.data(ctx, inst, EndpointPositionBook, nil)
	if err != nil {
		return nil, err
	}
	return NormalizePositions(raw)
}

// PlaceSmartOrder размещает ордер с целевой позицией.
// Повторы защищены дедупликацией по сдвигу позиции.
func (c *Client) PlaceSmartOrder(ctx context.Context, inst Instance, req SmartOrderRequest) (OrderResult, error) {
	strategy := req.Strategy
	if strategy == "" {
		strategy = inst.Strategy
	}
	priceType := req.PriceType
	if priceType == "" {
		priceType = "MARKET"
	}
	payload := map[string]interface{}{
		"strategy":      strategy,
		"symbol":        req.Symbol,
		"exchange":      req.Exchange,
		"action":        strings.ToUpper(req.Action),
		"product":       req.Product,
		"pricetype":     priceType,
		"quantity":      formatNumber(req.Quantity),
		"price":         formatNumber(req.Price),
		"position_size": formatNumber(req.PositionSize),
	}
	size := req.PositionSize
	target := &DedupTarget{
		Symbol:       req.Symbol,
		Exchange:     req.Exchange,
		Product:      req.Product,
		Action:       strings.ToUpper(req.Action),
		Quantity:     req.Quantity,
		PositionSize: &size,
	}
	return c.placeOrder(ctx, inst, EndpointPlaceSmartOrder, payload, target)
}

// PlaceOrder размещает обычный ордер
func (c *Client) PlaceOrder(ctx context.Context, inst Instance, req OrderRequest) (OrderResult, error) {
	strategy := req.Strategy
	if strategy == "" {
		strategy = inst.Strategy
	}
	priceType := req.PriceType
	if priceType == "" {
		priceType = "MARKET"
	}
	payload := map[string]interface{}{
		"strategy":  strategy,
		"symbol":    req.Symbol,
		"exchange":  req.Exchange,
		"action":    strings.ToUpper(req.Action),
		"product":   req.Product,
		"pricetype": priceType,
		"quantity":  formatNumber(req.Quantity),
		"price":     formatNumber(req.Price),
	}
	target := &DedupTarget{
		Symbol:   req.Symbol,
		Exchange: req.Exchange,
		Product:  req.Product,
		Action:   strings.ToUpper(req.Action),
		Quantity: req.Quantity,
	}
	return c.placeOrder(ctx, inst, EndpointPlaceOrder, payload, target)
}

func (c *Client) placeOrder(ctx context.Context, inst Instance, endpoint string, payload map[string]interface{}, target *DedupTarget) (OrderResult, error) {
	resp, err := c.post(ctx, inst, endpoint, payload, RequestOptions{Critical: true, Dedup: target})
	if err != nil {
		return OrderResult{}, err
	}
	return OrderResult{OrderID: resp.OrderID, Deduplicated: resp.Deduplicated, Message: resp.Message}, nil
}

// CancelOrder отменяет ордер
func (c *Client) CancelOrder(ctx context.Context, inst Instance, orderID string) error {
	_, err := c.post(ctx, inst, EndpointCancelOrder, map[string]interface{}{
		"strategy": inst.Strategy,
		"orderid":  orderID,
	}, RequestOptions{Critical: true})
	return err
}

// CancelAllOrders отменяет все открытые ордера стратегии
func (c *Client) CancelAllOrders(ctx context.Context, inst Instance) error {
	_, err := c.post(ctx, inst, EndpointCancelAllOrder, map[string]interface{}{
		"strategy": inst.Strategy,
	}, RequestOptions{Critical: true})
	return err
}

// ClosePosition закрывает все позиции стратегии
func (c *Client) ClosePosition(ctx context.Context, inst Instance) error {
	_, err := c.post(ctx, inst, EndpointClosePosition, map[string]interface{}{
		"strategy": inst.Strategy,
	}, RequestOptions{Critical: true})
	return err
}

// Quote - котировка одного инструмента с инстанса inst
func (c *Client) Quote(ctx context.Context, inst Instance, key SymbolKey) (Quote, error) {
	raw, err := c.data(ctx, inst, EndpointQuotes, map[string]interface{}{
		"symbol":   key.Symbol,
		"exchange": key.Exchange,
	})
	if err != nil {
		return Quote{}, err
	}
	q, err := NormalizeQuote(raw)
	if err != nil {
		return Quote{}, fmt.Errorf("%s %s:%s: %w", inst.Label(), key.Exchange, key.Symbol, err)
	}
	q.Symbol = key.Symbol
	q.Exchange = key.Exchange
	q.SourceInstanceID = inst.ID
	q.SourceInstance = inst.Label()
	q.FetchedAt = c.now()
	return q, nil
}

// Depth - стакан (как есть от шлюза)
func (c *Client) Depth(ctx context.Context, inst Instance, key SymbolKey) (jsoniter.RawMessage, error) {
	return c.data(ctx, inst, EndpointDepth, map[string]interface{}{
		"symbol":   key.Symbol,
		"exchange": key.Exchange,
	})
}

// Search - поиск инструментов
func (c *Client) Search(ctx context.Context, inst Instance, query, exchange string) (jsoniter.RawMessage, error) {
	payload := map[string]interface{}{"query": query}
	if exchange != "" {
		payload["exchange"] = exchange
	}
	return c.data(ctx, inst, EndpointSearch, payload)
}

// Symbol - метаданные инструмента
func (c *Client) Symbol(ctx context.Context, inst Instance, key SymbolKey) (SymbolInfo, error) {
	raw, err := c.data(ctx, inst, EndpointSymbol, map[string]interface{}{
		"symbol":   key.Symbol,
		"exchange": key.Exchange,
	})
	if err != nil {
		return SymbolInfo{}, err
	}
	return NormalizeSymbolInfo(raw)
}

// Instruments - справочник инструментов биржи
func (c *Client) Instruments(ctx context.Context, inst Instance, exchange string) (jsoniter.RawMessage, error) {
	payload := map[string]interface{}{}
	if exchange != "" {
		payload["exchange"] = exchange
	}
	return c.data(ctx, inst, EndpointInstruments, payload)
}

// Expiry - даты экспирации
func (c *Client) Expiry(ctx context.Context, inst Instance, symbol, exchange, instrumentType string) (jsoniter.RawMessage, error) {
	return c.data(ctx, inst, EndpointExpiry, map[string]interface{}{
		"symbol":         symbol,
		"exchange":       exchange,
		"instrumenttype": instrumentType,
	})
}

// OptionChain - цепочка опционов
func (c *Client) OptionChain(ctx context.Context, inst Instance, underlying, exchange, expiry string) (jsoniter.RawMessage, error) {
	return c.data(ctx, inst, EndpointOptionChain, map[string]interface{}{
		"underlying":  underlying,
		"exchange":    exchange,
		"expiry_date": expiry,
	})
}

// History - исторические свечи
func (c *Client) History(ctx context.Context, inst Instance, key SymbolKey, interval, from, to string) (jsoniter.RawMessage, error) {
	return c.data(ctx, inst, EndpointHistory, map[string]interface{}{
		"symbol":     key.Symbol,
		"exchange":   key.Exchange,
		"interval":   interval,
		"start_date": from,
		"end_date":   to,
	})
}

// Margin - расчёт маржи корзины позиций
func (c *Client) Margin(ctx context.Context, inst Instance, positions []map[string]interface{}) (jsoniter.RawMessage, error) {
	return c.data(ctx, inst, EndpointMargin, map[string]interface{}{
		"positions": positions,
	})
}

// ContractInfo - параметры контракта
func (c *Client) ContractInfo(ctx context.Context, inst Instance, key SymbolKey) (jsoniter.RawMessage, error) {
	return c.data(ctx, inst, EndpointContractInfo, map[string]interface{}{
		"symbol":   key.Symbol,
		"exchange": key.Exchange,
	})
}
