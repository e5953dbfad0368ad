package broker

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// Брокеры за шлюзом отдают одни и те же поля под разными именами
// (netqty / net_qty, orderid / order_id ...). Нормализация выполняется
// один раз здесь, дальше по коду ходят только канонические структуры.

var (
	aliasSymbol    = []string{"symbol", "tradingsymbol", "trading_symbol"}
	aliasExchange  = []string{"exchange", "exch"}
	aliasProduct   = []string{"product", "producttype", "product_type"}
	aliasAction    = []string{"action", "transaction_type", "trantype", "side"}
	aliasOrderID   = []string{"orderid", "order_id", "norenordno"}
	aliasTradeQty  = []string{"quantity", "qty", "filled_quantity", "fillshares", "tradedqty"}
	aliasTradePx   = []string{"average_price", "avgprice", "fillprice", "trade_price", "price"}
	aliasTimestamp = []string{"timestamp", "fill_time", "trade_time", "order_time", "exchtime", "updatetime"}
	aliasNetQty    = []string{"netqty", "net_qty", "netquantity", "quantity"}
	aliasAvgPrice  = []string{"average_price", "avgprice", "avg_price", "netavgprc"}
	aliasLTP       = []string{"ltp", "last_price", "lp"}
	aliasStatus    = []string{"order_status", "orderstatus", "status"}
	aliasPriceType = []string{"pricetype", "price_type", "ordertype", "order_type"}
)

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"02-01-2006 15:04:05",
	"15:04:05 02-01-2006",
	"02-Jan-2006 15:04:05",
	"2006-01-02 15:04:05.000000",
}

type record map[string]interface{}

// decodeRecords достаёт список записей: data может быть массивом
// или объектом с вложенным массивом (orders / trades / positions)
func decodeRecords(data []byte, nested ...string) ([]record, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}

	var list []record
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}

	var obj map[string]jsoniter.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("unexpected data shape: %w", err)
	}
	for _, key := range nested {
		if raw, ok := obj[key]; ok {
			if err := json.Unmarshal(raw, &list); err != nil {
				return nil, fmt.Errorf("decode %s: %w", key, err)
			}
			return list, nil
		}
	}
	return nil, nil
}

func (r record) str(keys []string) string {
	for _, k := range keys {
		if v, ok := r[k]; ok && v != nil {
			switch t := v.(type) {
			case string:
				if t != "" {
					return strings.TrimSpace(t)
				}
			case float64:
				return strconv.FormatFloat(t, 'f', -1, 64)
			default:
				return fmt.Sprint(t)
			}
		}
	}
	return ""
}

func (r record) num(keys []string) float64 {
	for _, k := range keys {
		v, ok := r[k]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case float64:
			return t
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
				return f
			}
		case bool:
			continue
		}
	}
	return 0
}

func (r record) stamp(keys []string, loc *time.Location) time.Time {
	for _, k := range keys {
		v, ok := r[k]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case float64:
			if t > 1e12 {
				return time.UnixMilli(int64(t))
			}
			return time.Unix(int64(t), 0)
		case string:
			if ts, ok := parseTimestamp(t, loc); ok {
				return ts
			}
		}
	}
	return time.Time{}
}

func parseTimestamp(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	// только время: сделки текущего торгового дня
	if t, err := time.ParseInLocation("15:04:05", s, loc); err == nil {
		now := time.Now().In(loc)
		return time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc), true
	}
	return time.Time{}, false
}

func normalizeAction(s string) string {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "B", "BUY":
		return "BUY"
	case "S", "SELL":
		return "SELL"
	default:
		return strings.ToUpper(s)
	}
}

// NormalizeTrades разбирает data ответа tradebook
func NormalizeTrades(data []byte, loc *time.Location) ([]Trade, error) {
	recs, err := decodeRecords(data, "trades", "tradebook", "data")
	if err != nil {
		return nil, err
	}
	trades := make([]Trade, 0, len(recs))
	for _, r := range recs {
		t := Trade{
			OrderID:   r.str(aliasOrderID),
			Symbol:    r.str(aliasSymbol),
			Exchange:  strings.ToUpper(r.str(aliasExchange)),
			Product:   strings.ToUpper(r.str(aliasProduct)),
			Action:    normalizeAction(r.str(aliasAction)),
			Quantity:  abs(r.num(aliasTradeQty)),
			Price:     r.num(aliasTradePx),
			Timestamp: r.stamp(aliasTimestamp, loc),
		}
		if t.Symbol == "" || t.Quantity == 0 {
			continue
		}
		trades = append(trades, t)
	}
	return trades, nil
}

// NormalizePositions разбирает data ответа positionbook
func NormalizePositions(data []byte) ([]Position, error) {
	recs, err := decodeRecords(data, "positions", "data")
	if err != nil {
		return nil, err
	}
	out := make([]Position, 0, len(recs))
	for _, r := range recs {
		p := Position{
			Symbol:       r.str(aliasSymbol),
			Exchange:     strings.ToUpper(r.str(aliasExchange)),
			Product:      strings.ToUpper(r.str(aliasProduct)),
			Quantity:     r.num(aliasNetQty),
			AveragePrice: r.num(aliasAvgPrice),
			LTP:          r.num(aliasLTP),
			PnL:          r.num([]string{"pnl", "unrealized_pnl", "mtm"}),
		}
		if p.Symbol == "" {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// NormalizeOrders разбирает data ответа orderbook
func NormalizeOrders(data []byte, loc *time.Location) ([]Order, error) {
	recs, err := decodeRecords(data, "orders", "orderbook", "data")
	if err != nil {
		return nil, err
	}
	out := make([]Order, 0, len(recs))
	for _, r := range recs {
		o := Order{
			OrderID:   r.str(aliasOrderID),
			Symbol:    r.str(aliasSymbol),
			Exchange:  strings.ToUpper(r.str(aliasExchange)),
			Product:   strings.ToUpper(r.str(aliasProduct)),
			Action:    normalizeAction(r.str(aliasAction)),
			PriceType: strings.ToUpper(r.str(aliasPriceType)),
			Status:    strings.ToLower(r.str(aliasStatus)),
			Quantity:  abs(r.num(aliasTradeQty)),
			Price:     r.num([]string{"price", "average_price"}),
			Timestamp: r.stamp(aliasTimestamp, loc),
		}
		if o.OrderID == "" {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

// NormalizeQuote разбирает data ответа quotes
func NormalizeQuote(data []byte) (Quote, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return Quote{}, fmt.Errorf("decode quote: %w", err)
	}
	q := Quote{
		LTP:       r.num(aliasLTP),
		Bid:       r.num([]string{"bid", "best_bid", "bp1"}),
		Ask:       r.num([]string{"ask", "best_ask", "sp1"}),
		Open:      r.num([]string{"open", "o"}),
		High:      r.num([]string{"high", "h"}),
		Low:       r.num([]string{"low", "l"}),
		PrevClose: r.num([]string{"prev_close", "close", "c"}),
		Volume:    r.num([]string{"volume", "v"}),
	}
	if q.LTP <= 0 {
		return q, fmt.Errorf("quote without last price")
	}
	return q, nil
}

// NormalizeSymbolInfo разбирает data ответа symbol
func NormalizeSymbolInfo(data []byte) (SymbolInfo, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return SymbolInfo{}, fmt.Errorf("decode symbol: %w", err)
	}
	info := SymbolInfo{
		Symbol:         r.str(aliasSymbol),
		Exchange:       strings.ToUpper(r.str(aliasExchange)),
		Name:           r.str([]string{"name"}),
		InstrumentType: r.str([]string{"instrumenttype", "instrument_type"}),
		LotSize:        r.num([]string{"lotsize", "lot_size"}),
		TickSize:       r.num([]string{"tick_size", "ticksize"}),
		Expiry:         r.str([]string{"expiry"}),
		Strike:         r.num([]string{"strike"}),
	}
	if info.Symbol == "" {
		return info, fmt.Errorf("symbol not found")
	}
	return info, nil
}

// Классы инструментов
const (
	InstrumentEquity = "equity"
	InstrumentFuture = "future"
	InstrumentOption = "option"
	InstrumentIndex  = "index"
)

// InstrumentClass определяет класс инструмента по символу и бирже,
// с приоритетом типа из метаданных брокера если он известен
func InstrumentClass(symbol, exchange, brokerType string) string {
	switch strings.ToUpper(brokerType) {
	case "CE", "PE", "OPTIDX", "OPTSTK", "OPTFUT", "OPTCUR":
		return InstrumentOption
	case "FUT", "FUTIDX", "FUTSTK", "FUTCOM", "FUTCUR":
		return InstrumentFuture
	case "EQ":
		return InstrumentEquity
	}

	ex := strings.ToUpper(exchange)
	if strings.HasSuffix(ex, "_INDEX") {
		return InstrumentIndex
	}
	s := strings.ToUpper(symbol)
	switch ex {
	case "NFO", "BFO", "MCX", "CDS", "BCD":
		if strings.HasSuffix(s, "CE") || strings.HasSuffix(s, "PE") {
			return InstrumentOption
		}
		return InstrumentFuture
	}
	return InstrumentEquity
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
