package broker

import (
	"context"
	"math"
	"strings"
	"time"

	"tradeexec/pkg/utils"
)

// DedupConfig - допуски проверки "ордер уже исполнен"
type DedupConfig struct {
	MinPositionChange float64       // доля ожидаемого сдвига позиции (0.8)
	QtyTolerance      float64       // допуск количества ордера (0.2 = ±20%)
	MaxOrderAge       time.Duration // максимальный возраст найденного ордера
}

// DefaultDedupConfig возвращает допуски по умолчанию
func DefaultDedupConfig() DedupConfig {
	return DedupConfig{MinPositionChange: 0.8, QtyTolerance: 0.2, MaxOrderAge: 60 * time.Second}
}

// DedupTarget описывает, как ордер должен сдвинуть позицию
type DedupTarget struct {
	Symbol   string
	Exchange string
	Product  string
	Action   string
	Quantity float64
	// PositionSize - целевая позиция smart-ордера; nil для обычного ордера
	PositionSize *float64
}

type positionMark struct {
	qty float64
	at  time.Time
}

// expectedDelta - ожидаемое изменение позиции со знаком
func (t DedupTarget) expectedDelta(before float64) float64 {
	if t.PositionSize != nil {
		if d := *t.PositionSize - before; d != 0 {
			return d
		}
	}
	if strings.EqualFold(t.Action, "SELL") {
		return -t.Quantity
	}
	return t.Quantity
}

// markPosition снимает позицию до первой попытки. nil - снимок не удался,
// тогда повторы идут без проверки.
func (c *Client) markPosition(ctx context.Context, inst Instance, t DedupTarget) *positionMark {
	qty, err := c.positionQty(ctx, inst, t)
	if err != nil {
		c.logger.Debug("dedup snapshot failed",
			utils.InstanceName(inst.Label()), utils.Symbol(t.Symbol), utils.Err(err))
		return nil
	}
	return &positionMark{qty: qty, at: c.now()}
}

func (c *Client) positionQty(ctx context.Context, inst Instance, t DedupTarget) (float64, error) {
	positions, err := c.Positions(ctx, inst)
	if err != nil {
		return 0, err
	}
	var qty float64
	for _, p := range positions {
		if !strings.EqualFold(p.Symbol, t.Symbol) || !strings.EqualFold(p.Exchange, t.Exchange) {
			continue
		}
		if t.Product != "" && p.Product != "" && !strings.EqualFold(p.Product, t.Product) {
			continue
		}
		qty += p.Quantity
	}
	return qty, nil
}

// findExecuted проверяет, что предыдущая попытка исполнилась:
// позиция сдвинулась в нужную сторону хотя бы на MinPositionChange от ожидаемого
// и в книге ордеров есть свежий ордер с подходящим количеством.
func (c *Client) findExecuted(ctx context.Context, inst Instance, endpoint string, t DedupTarget, mark *positionMark) *Response {
	expected := t.expectedDelta(mark.qty)
	if expected == 0 {
		return nil
	}

	now, err := c.positionQty(ctx, inst, t)
	if err != nil {
		return nil
	}
	moved := now - mark.qty
	if utils.Sign(moved) != utils.Sign(expected) || math.Abs(moved) < math.Abs(expected)*c.cfg.Dedup.MinPositionChange {
		return nil
	}

	orders, err := c.Orders(ctx, inst)
	if err != nil {
		return nil
	}

	action := "BUY"
	if expected < 0 {
		action = "SELL"
	}
	match := c.matchOrder(orders, t, action, math.Abs(expected))
	if match == nil {
		return nil
	}

	dedupHits.WithLabelValues(inst.Label(), endpoint).Inc()
	c.book.update(inst, func(m *counters) { m.dedupHits++ })
	c.logger.Warn("order already executed, skipping retry",
		utils.InstanceName(inst.Label()),
		utils.Endpoint(endpoint),
		utils.Symbol(t.Symbol),
		utils.OrderID(match.OrderID),
		utils.Float64("position_before", mark.qty),
		utils.Float64("position_now", now),
	)
	return &Response{
		StatusCode:   200,
		Status:       "success",
		Message:      "order already executed",
		OrderID:      match.OrderID,
		Deduplicated: true,
	}
}

// matchOrder выбирает самый свежий подходящий ордер
func (c *Client) matchOrder(orders []Order, t DedupTarget, action string, qty float64) *Order {
	now := c.now()
	var best *Order
	for i := range orders {
		o := &orders[i]
		if !strings.EqualFold(o.Symbol, t.Symbol) || !strings.EqualFold(o.Exchange, t.Exchange) {
			continue
		}
		if t.Product != "" && o.Product != "" && !strings.EqualFold(o.Product, t.Product) {
			continue
		}
		if o.Action != action || deadOrder(o.Status) {
			continue
		}
		if o.Timestamp.IsZero() {
			continue
		}
		age := now.Sub(o.Timestamp)
		if age < 0 {
			age = -age
		}
		if age > c.cfg.Dedup.MaxOrderAge {
			continue
		}
		if !utils.WithinTolerance(o.Quantity, qty, c.cfg.Dedup.QtyTolerance) {
			continue
		}
		if best == nil || o.Timestamp.After(best.Timestamp) {
			best = o
		}
	}
	return best
}

func deadOrder(status string) bool {
	return strings.Contains(status, "cancel") || strings.Contains(status, "reject") || strings.Contains(status, "fail")
}
