package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc"

	"tradeexec/internal/apperr"
	"tradeexec/internal/broker"
	"tradeexec/internal/models"
	"tradeexec/internal/repository"
	"tradeexec/pkg/utils"
)

// ============================================================
// Агрегация сделок
// ============================================================

// LegAggregate - итог по сделкам одного (symbol, exchange)
type LegAggregate struct {
	Symbol    string
	Exchange  string
	Product   string
	NetQty    decimal.Decimal
	BuyQty    decimal.Decimal
	SellQty   decimal.Decimal
	BuyValue  decimal.Decimal
	SellValue decimal.Decimal
	AvgEntry  decimal.Decimal
	Fills     int
	LastFill  time.Time
}

type legKey struct {
	symbol   string
	exchange string
}

// Aggregate сворачивает сделки по (symbol, exchange).
//
// Средняя цена входа считается только по стороне, совпадающей со знаком
// net_qty: для лонга BuyValue/BuyQty, для шорта SellValue/SellQty, 0 при flat.
// Продукт берётся из первой сделки группы. Порядок групп - порядок первой сделки.
func Aggregate(trades []broker.Trade) []*LegAggregate {
	groups := make(map[legKey]*LegAggregate)
	var order []*LegAggregate

	for _, t := range trades {
		if t.Action != models.ActionBuy && t.Action != models.ActionSell {
			continue
		}
		k := legKey{symbol: t.Symbol, exchange: t.Exchange}
		agg, ok := groups[k]
		if !ok {
			agg = &LegAggregate{Symbol: t.Symbol, Exchange: t.Exchange, Product: t.Product}
			groups[k] = agg
			order = append(order, agg)
		}

		qty := decimal.NewFromFloat(t.Quantity).Abs()
		value := qty.Mul(decimal.NewFromFloat(t.Price))
		if t.Action == models.ActionBuy {
			agg.BuyQty = agg.BuyQty.Add(qty)
			agg.BuyValue = agg.BuyValue.Add(value)
		} else {
			agg.SellQty = agg.SellQty.Add(qty)
			agg.SellValue = agg.SellValue.Add(value)
		}
		agg.Fills++
		if t.Timestamp.After(agg.LastFill) {
			agg.LastFill = t.Timestamp
		}
	}

	for _, agg := range order {
		agg.NetQty = agg.BuyQty.Sub(agg.SellQty)
		switch agg.NetQty.Sign() {
		case 1:
			agg.AvgEntry = agg.BuyValue.Div(agg.BuyQty).Round(6)
		case -1:
			agg.AvgEntry = agg.SellValue.Div(agg.SellQty).Round(6)
		default:
			agg.AvgEntry = decimal.Zero
		}
	}
	return order
}

// applyTo переносит агрегат в поля позиции ноги.
// Возвращает false, если позиция не изменилась.
func (a *LegAggregate) applyTo(leg *models.LegState) bool {
	next := models.LegState{
		NetQty:           a.NetQty.InexactFloat64(),
		TotalBuyQty:      a.BuyQty.InexactFloat64(),
		TotalSellQty:     a.SellQty.InexactFloat64(),
		TotalBuyValue:    a.BuyValue.InexactFloat64(),
		TotalSellValue:   a.SellValue.InexactFloat64(),
		WeightedAvgEntry: a.AvgEntry.InexactFloat64(),
	}
	changed := leg.ID == 0 ||
		leg.NetQty != next.NetQty ||
		leg.TotalBuyQty != next.TotalBuyQty ||
		leg.TotalSellQty != next.TotalSellQty ||
		leg.TotalBuyValue != next.TotalBuyValue ||
		leg.TotalSellValue != next.TotalSellValue ||
		leg.WeightedAvgEntry != next.WeightedAvgEntry ||
		(leg.Product == "" && a.Product != "")
	if !changed {
		return false
	}

	leg.NetQty = next.NetQty
	leg.TotalBuyQty = next.TotalBuyQty
	leg.TotalSellQty = next.TotalSellQty
	leg.TotalBuyValue = next.TotalBuyValue
	leg.TotalSellValue = next.TotalSellValue
	leg.WeightedAvgEntry = next.WeightedAvgEntry
	leg.IsActive = next.NetQty != 0
	if leg.Product == "" {
		leg.Product = a.Product
	}
	if !a.LastFill.IsZero() {
		last := a.LastFill
		leg.LastFillAt = &last
	}
	return true
}

// ============================================================
// FillAggregator - сверка позиций по книге сделок
// ============================================================

// FillAggregator опрашивает tradebook каждого активного инстанса
// (кроме analyzer) и пересобирает leg_state из удалённой истории сделок.
type FillAggregator struct {
	gw        Gateway
	instances InstanceSource
	legs      LegStore
	events    EventPublisher
	logger    *utils.Logger

	lastTick atomic.Int64 // unix ms последнего успешного тика
}

// NewFillAggregator создаёт агрегатор
func NewFillAggregator(gw Gateway, instances InstanceSource, legs LegStore, events EventPublisher, logger *utils.Logger) *FillAggregator {
	if logger == nil {
		logger = utils.L()
	}
	return &FillAggregator{
		gw:        gw,
		instances: instances,
		legs:      legs,
		events:    publisherOrNop(events),
		logger:    logger.WithComponent("fill_aggregator"),
	}
}

// Run - один тик: параллельная сверка всех инстансов.
// Ошибка одного инстанса логируется и не останавливает остальные.
func (a *FillAggregator) Run(ctx context.Context) error {
	instances, err := a.instances.ActiveInstances(ctx)
	if err != nil {
		return fmt.Errorf("load instances: %w", err)
	}

	var failed atomic.Int32
	var wg conc.WaitGroup
	for _, inst := range instances {
		if inst.AnalyzerMode {
			continue
		}
		wg.Go(func() {
			if _, err := a.ReconcileInstance(ctx, inst); err != nil {
				failed.Add(1)
				a.logger.Warn("reconcile failed",
					utils.Instance(inst.ID),
					utils.InstanceName(inst.Name),
					utils.Err(err))
			}
		})
	}
	if r := wg.WaitAndRecover(); r != nil {
		return fmt.Errorf("reconcile panic: %w", r.AsError())
	}

	a.lastTick.Store(time.Now().UnixMilli())
	if n := failed.Load(); n > 0 {
		a.logger.Debug("tick finished with instance errors", utils.Int("failed", int(n)))
	}
	return nil
}

// ReconcileInstance пересобирает ноги одного инстанса.
// Активные ноги без сделок в tradebook сверяются с книгой позиций.
// Возвращает число созданных или изменённых записей.
func (a *FillAggregator) ReconcileInstance(ctx context.Context, inst broker.Instance) (int, error) {
	trades, err := a.gw.Trades(ctx, inst)
	if err != nil {
		return 0, fmt.Errorf("tradebook: %w", err)
	}

	existing, err := a.legs.List(ctx, inst.ID, false)
	if err != nil {
		return 0, fmt.Errorf("load legs: %w", err)
	}
	byKey := make(map[legKey]*models.LegState, len(existing))
	for _, leg := range existing {
		byKey[legKey{symbol: leg.Symbol, exchange: leg.Exchange}] = leg
	}

	label := strconv.Itoa(inst.ID)
	FillsAggregated.WithLabelValues(label).Add(float64(len(trades)))

	updated := 0
	seen := make(map[legKey]bool, len(existing))
	for _, agg := range Aggregate(trades) {
		k := legKey{symbol: agg.Symbol, exchange: agg.Exchange}
		seen[k] = true
		leg, ok := byKey[k]
		if !ok {
			leg = &models.LegState{
				InstanceID:     inst.ID,
				Symbol:         agg.Symbol,
				Exchange:       agg.Exchange,
				Product:        agg.Product,
				InstrumentType: broker.InstrumentClass(agg.Symbol, agg.Exchange, ""),
			}
		}
		if !agg.applyTo(leg) {
			continue
		}
		if err := a.legs.UpsertPosition(ctx, leg); err != nil {
			return updated, fmt.Errorf("upsert %s/%s: %w", agg.Symbol, agg.Exchange, err)
		}
		updated++
		LegsUpserted.WithLabelValues(label).Inc()
		a.events.PublishLegUpdate(leg)

		a.logger.Debug("leg reconciled",
			utils.Instance(inst.ID),
			utils.Symbol(leg.Symbol),
			utils.Exchange(leg.Exchange),
			utils.Quantity(leg.NetQty),
			utils.Price(leg.WeightedAvgEntry))
	}

	var stale []*models.LegState
	for _, leg := range existing {
		if leg.IsActive && !seen[legKey{symbol: leg.Symbol, exchange: leg.Exchange}] {
			stale = append(stale, leg)
		}
	}
	if len(stale) == 0 {
		return updated, nil
	}
	closed, err := a.closeStale(ctx, inst, stale)
	return updated + closed, err
}

// closeStale закрывает ноги, которых нет среди открытых позиций брокера,
// и снимает с них риск. Позиции, перенесённые с прошлых сессий, не трогаются.
func (a *FillAggregator) closeStale(ctx context.Context, inst broker.Instance, stale []*models.LegState) (int, error) {
	positions, err := a.gw.Positions(ctx, inst)
	if err != nil {
		return 0, fmt.Errorf("positionbook: %w", err)
	}
	open := make(map[legKey]bool, len(positions))
	for _, p := range positions {
		if p.Quantity != 0 {
			open[legKey{symbol: p.Symbol, exchange: p.Exchange}] = true
		}
	}

	label := strconv.Itoa(inst.ID)
	closed := 0
	for _, leg := range stale {
		if open[legKey{symbol: leg.Symbol, exchange: leg.Exchange}] {
			continue
		}
		(&LegAggregate{}).applyTo(leg)
		if err := a.legs.UpsertPosition(ctx, leg); err != nil {
			return closed, fmt.Errorf("close stale %s/%s: %w", leg.Symbol, leg.Exchange, err)
		}
		if leg.RiskEnabled {
			if err := a.legs.DisableRisk(ctx, leg.ID); err != nil {
				return closed, fmt.Errorf("disable risk on stale %s/%s: %w", leg.Symbol, leg.Exchange, err)
			}
			leg.RiskEnabled = false
			leg.TSLArmed = false
			leg.TrailingStop = 0
		}
		closed++
		LegsUpserted.WithLabelValues(label).Inc()
		a.events.PublishLegUpdate(leg)

		a.logger.Info("stale leg closed",
			utils.Instance(inst.ID),
			utils.LegID(leg.ID),
			utils.Symbol(leg.Symbol),
			utils.Exchange(leg.Exchange))
	}
	return closed, nil
}

// LastTick - время последнего завершённого тика (нулевое до первого)
func (a *FillAggregator) LastTick() time.Time {
	ms := a.lastTick.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// ============================================================
// Включение и выключение риска
// ============================================================

// EnableRisk включает риск-мониторинг ноги.
// Ноги инстансов в режиме analyzer отклоняются.
// TP/SL считаются от средней цены входа по направлению позиции,
// состояние трейлинга сбрасывается.
func (a *FillAggregator) EnableRisk(ctx context.Context, legID int64, cfg models.RiskConfig) (*models.LegState, error) {
	cfg, err := NormalizeRiskConfig(cfg)
	if err != nil {
		return nil, err
	}

	leg, err := a.legs.GetByID(ctx, legID)
	if err != nil {
		return nil, legError(legID, err)
	}
	if leg.NetQty == 0 {
		return nil, apperr.Validation("leg %d is flat", legID)
	}
	if leg.WeightedAvgEntry <= 0 {
		return nil, apperr.Validation("leg %d has no entry price", legID)
	}
	// выход по ноге analyzer-инстанса брокер не примет
	inst, err := a.instances.Instance(ctx, leg.InstanceID)
	if err != nil {
		return nil, fmt.Errorf("resolve instance %d: %w", leg.InstanceID, err)
	}
	if inst.AnalyzerMode {
		return nil, apperr.Validation("leg %d belongs to analyzer instance %d", legID, leg.InstanceID)
	}

	tp, sl, err := RiskPrices(leg.WeightedAvgEntry, leg.Side(), cfg)
	if err != nil {
		return nil, err
	}
	if err := a.legs.EnableRisk(ctx, legID, cfg, tp, sl); err != nil {
		return nil, legError(legID, err)
	}

	leg.RiskEnabled = true
	leg.Risk = cfg
	leg.TPPrice = tp
	leg.SLPrice = sl
	leg.TSLArmed = false
	leg.TrailingStop = 0
	leg.BestFavorablePrice = 0
	a.events.PublishLegUpdate(leg)

	a.logger.Info("risk enabled",
		utils.LegID(legID),
		utils.Symbol(leg.Symbol),
		utils.Side(leg.Side()),
		utils.Float64("tp_price", tp),
		utils.Float64("sl_price", sl),
		utils.Float64("tsl_trail", cfg.TSLTrail))
	return leg, nil
}

// DisableRisk выключает риск-мониторинг ноги
func (a *FillAggregator) DisableRisk(ctx context.Context, legID int64) error {
	if err := a.legs.DisableRisk(ctx, legID); err != nil {
		return legError(legID, err)
	}
	a.logger.Info("risk disabled", utils.LegID(legID))
	return nil
}

func legError(legID int64, err error) error {
	if errors.Is(err, repository.ErrLegNotFound) {
		return apperr.NotFound("leg %d not found", legID)
	}
	return err
}

// NormalizeRiskConfig проверяет дистанции и подставляет значения по умолчанию
func NormalizeRiskConfig(cfg models.RiskConfig) (models.RiskConfig, error) {
	for name, v := range map[string]float64{
		"tp_points":           cfg.TPPoints,
		"sl_points":           cfg.SLPoints,
		"tsl_trail":           cfg.TSLTrail,
		"tsl_step":            cfg.TSLStep,
		"tsl_arm_after":       cfg.TSLArmAfter,
		"tsl_breakeven_after": cfg.TSLBreakevenAfter,
	} {
		if v < 0 {
			return cfg, apperr.Validation("%s must not be negative", name)
		}
	}
	if !cfg.HasAny() {
		return cfg, apperr.Validation("risk config has no tp, sl or trailing distance")
	}

	switch cfg.Scope {
	case "":
		cfg.Scope = models.RiskScopeLeg
	case models.RiskScopeLeg, models.RiskScopeCombined:
	default:
		return cfg, apperr.Validation("unknown risk scope %q", cfg.Scope)
	}
	switch cfg.Pyramiding {
	case "":
		cfg.Pyramiding = models.PyramidingAllow
	case models.PyramidingAllow, models.PyramidingBlock:
	default:
		return cfg, apperr.Validation("unknown pyramiding policy %q", cfg.Pyramiding)
	}
	return cfg, nil
}

// RiskPrices переводит дистанции в абсолютные цены.
// Лонг: tp = entry + tp_points, sl = entry - sl_points; шорт зеркально.
// Незаданная дистанция даёт 0.
func RiskPrices(entry float64, side string, cfg models.RiskConfig) (tp, sl float64, err error) {
	var dir int64
	switch side {
	case models.SideLong:
		dir = 1
	case models.SideShort:
		dir = -1
	default:
		return 0, 0, apperr.Validation("cannot compute risk prices for a flat leg")
	}

	e := decimal.NewFromFloat(entry)
	d := decimal.NewFromInt(dir)
	if cfg.TPPoints > 0 {
		tp = e.Add(d.Mul(decimal.NewFromFloat(cfg.TPPoints))).InexactFloat64()
		if tp <= 0 {
			return 0, 0, apperr.Validation("take profit price %.4f is not positive", tp)
		}
	}
	if cfg.SLPoints > 0 {
		sl = e.Sub(d.Mul(decimal.NewFromFloat(cfg.SLPoints))).InexactFloat64()
		if sl <= 0 {
			return 0, 0, apperr.Validation("stop loss price %.4f is not positive", sl)
		}
	}
	return tp, sl, nil
}
