package broker

import (
	"context"
	"errors"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"tradeexec/pkg/utils"
)

// FetchQuotes запрашивает котировки по одной на каждую пару (exchange, symbol).
//
// Первым пробуется candidates[0], при ошибке - следующие, но не больше
// QuoteFallbacks запасных. Каждая котировка помечена инстансом-источником.
// Пары, которые не удалось получить ни с одного инстанса, попадают в errs.
func (c *Client) FetchQuotes(ctx context.Context, candidates []Instance, keys []SymbolKey) (map[SymbolKey]Quote, map[SymbolKey]error) {
	quotes := make(map[SymbolKey]Quote, len(keys))
	errs := make(map[SymbolKey]error)
	if len(keys) == 0 {
		return quotes, errs
	}
	if len(candidates) == 0 {
		for _, k := range keys {
			errs[k] = errors.New("no instance available for quotes")
		}
		return quotes, errs
	}

	tries := len(candidates)
	if limit := 1 + c.cfg.QuoteFallbacks; c.cfg.QuoteFallbacks >= 0 && limit < tries {
		tries = limit
	}
	workers := c.cfg.QuoteConcurrency
	if workers <= 0 {
		workers = 1
	}

	seen := make(map[SymbolKey]bool, len(keys))
	var mu sync.Mutex
	p := pool.New().WithMaxGoroutines(workers)

	for _, key := range keys {
		if seen[key] {
			continue
		}
		seen[key] = true
		key := key
		p.Go(func() {
			q, err := c.quoteWithFallback(ctx, candidates[:tries], key)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs[key] = err
				return
			}
			quotes[key] = q
		})
	}
	p.Wait()

	return quotes, errs
}

func (c *Client) quoteWithFallback(ctx context.Context, candidates []Instance, key SymbolKey) (Quote, error) {
	var lastErr error
	for i, inst := range candidates {
		q, err := c.Quote(ctx, inst, key)
		if err == nil {
			if i > 0 {
				quoteFailovers.WithLabelValues(inst.Label()).Inc()
				c.book.update(inst, func(m *counters) { m.quoteFailovers++ })
				c.logger.Debug("quote served by fallback instance",
					utils.InstanceName(inst.Label()),
					utils.Exchange(key.Exchange),
					utils.Symbol(key.Symbol),
					utils.String("primary", candidates[0].Label()),
				)
			}
			return q, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return Quote{}, lastErr
}
