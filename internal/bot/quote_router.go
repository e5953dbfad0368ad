package bot

import (
	"context"
	"fmt"
	"sort"

	"github.com/sourcegraph/conc"

	"tradeexec/internal/broker"
	"tradeexec/internal/models"
	"tradeexec/pkg/utils"
)

// PriceSelector выбирает цену котировки для ноги по классу инструмента
type PriceSelector func(leg *models.LegState, q broker.Quote) float64

// SelectLastPrice - выбор по умолчанию: LTP для всех классов инструментов
// (опционы, фьючерсы, акции, индексы)
func SelectLastPrice(_ *models.LegState, q broker.Quote) float64 {
	return q.LTP
}

// NextFavorable обновляет экстремум благоприятной цены.
// Лонг - только вверх, шорт - только вниз, первое наблюдение задаёт значение.
func NextFavorable(side string, best, price float64) float64 {
	if price <= 0 {
		return best
	}
	if best <= 0 {
		if side == models.SideFlat {
			return best
		}
		return price
	}
	switch side {
	case models.SideLong:
		if price > best {
			return price
		}
	case models.SideShort:
		if price < best {
			return price
		}
	}
	return best
}

// QuoteRouter подтягивает цены для ног под риск-мониторингом
type QuoteRouter struct {
	gw        Gateway
	instances InstanceSource
	legs      LegStore
	events    EventPublisher
	selector  PriceSelector
	logger    *utils.Logger
}

// NewQuoteRouter создаёт роутер. selector nil = SelectLastPrice.
func NewQuoteRouter(gw Gateway, instances InstanceSource, legs LegStore, events EventPublisher, selector PriceSelector, logger *utils.Logger) *QuoteRouter {
	if selector == nil {
		selector = SelectLastPrice
	}
	if logger == nil {
		logger = utils.L()
	}
	return &QuoteRouter{
		gw:        gw,
		instances: instances,
		legs:      legs,
		events:    publisherOrNop(events),
		selector:  selector,
		logger:    logger.WithComponent("quote_router"),
	}
}

// Run - один тик: по одному запросу на (exchange, symbol) в рамках инстанса
func (r *QuoteRouter) Run(ctx context.Context) error {
	legs, err := r.legs.GetRiskEnabled(ctx)
	if err != nil {
		return fmt.Errorf("load risk legs: %w", err)
	}
	RiskMonitoredLegs.Set(float64(len(legs)))
	if len(legs) == 0 {
		return nil
	}

	instances, err := r.instances.ActiveInstances(ctx)
	if err != nil {
		return fmt.Errorf("load instances: %w", err)
	}
	byID := make(map[int]broker.Instance, len(instances))
	for _, inst := range instances {
		byID[inst.ID] = inst
	}

	groups := make(map[int][]*models.LegState)
	for _, leg := range legs {
		groups[leg.InstanceID] = append(groups[leg.InstanceID], leg)
	}
	ids := make([]int, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	var wg conc.WaitGroup
	for _, id := range ids {
		inst, ok := byID[id]
		if !ok {
			r.logger.Warn("risk legs on inactive instance", utils.Instance(id), utils.Int("legs", len(groups[id])))
			continue
		}
		group := groups[id]
		wg.Go(func() {
			r.routeInstance(ctx, inst, fallbackOrder(inst, instances), group)
		})
	}
	if rec := wg.WaitAndRecover(); rec != nil {
		return fmt.Errorf("quote router panic: %w", rec.AsError())
	}
	return nil
}

// fallbackOrder ставит инстанс ноги первым, остальные активные - за ним
func fallbackOrder(primary broker.Instance, all []broker.Instance) []broker.Instance {
	out := make([]broker.Instance, 0, len(all))
	out = append(out, primary)
	for _, inst := range all {
		if inst.ID != primary.ID {
			out = append(out, inst)
		}
	}
	return out
}

func (r *QuoteRouter) routeInstance(ctx context.Context, inst broker.Instance, candidates []broker.Instance, legs []*models.LegState) {
	seen := make(map[broker.SymbolKey]struct{}, len(legs))
	keys := make([]broker.SymbolKey, 0, len(legs))
	for _, leg := range legs {
		k := broker.SymbolKey{Exchange: leg.Exchange, Symbol: leg.Symbol}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}

	quotes, errs := r.gw.FetchQuotes(ctx, candidates, keys)
	for k, err := range errs {
		r.logger.Warn("quote unavailable",
			utils.Instance(inst.ID),
			utils.Symbol(k.Symbol),
			utils.Exchange(k.Exchange),
			utils.Err(err))
	}

	for _, leg := range legs {
		q, ok := quotes[broker.SymbolKey{Exchange: leg.Exchange, Symbol: leg.Symbol}]
		if !ok {
			QuoteUpdates.WithLabelValues("missing").Inc()
			continue
		}
		if err := r.apply(ctx, leg, q); err != nil {
			r.logger.Warn("price update failed", utils.LegID(leg.ID), utils.Symbol(leg.Symbol), utils.Err(err))
		}
	}
}

// apply записывает цену и экстремум, если что-то изменилось
func (r *QuoteRouter) apply(ctx context.Context, leg *models.LegState, q broker.Quote) error {
	price := r.selector(leg, q)
	if price <= 0 {
		QuoteUpdates.WithLabelValues("missing").Inc()
		return nil
	}
	best := NextFavorable(leg.Side(), leg.BestFavorablePrice, price)
	if price == leg.CurrentPrice && best == leg.BestFavorablePrice {
		QuoteUpdates.WithLabelValues("unchanged").Inc()
		return nil
	}

	if err := r.legs.UpdatePrice(ctx, leg.ID, price, best); err != nil {
		return err
	}
	leg.CurrentPrice = price
	leg.BestFavorablePrice = best
	QuoteUpdates.WithLabelValues("updated").Inc()
	r.events.PublishLegUpdate(leg)
	return nil
}
