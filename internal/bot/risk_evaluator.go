package bot

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"tradeexec/internal/models"
	"tradeexec/internal/repository"
	"tradeexec/pkg/utils"
)

// TrailingState - состояние трейлинг-стопа ноги
type TrailingState struct {
	Armed bool
	Stop  float64 // 0 = уровень ещё не выставлен
}

func direction(side string) float64 {
	switch side {
	case models.SideLong:
		return 1
	case models.SideShort:
		return -1
	default:
		return 0
	}
}

// tighter возвращает более строгий из двух уровней стопа (0 = не задан).
// Для лонга строже выше, для шорта ниже.
func tighter(dir, a, b float64) float64 {
	switch {
	case a <= 0:
		return b
	case b <= 0:
		return a
	case dir > 0:
		return math.Max(a, b)
	default:
		return math.Min(a, b)
	}
}

// NextTrailing вычисляет новое состояние трейлинга по экстремуму цены.
//
// Трейлинг взводится, когда благоприятное движение от входа достигло
// tsl_arm_after (0 = сразу). Уровень = экстремум ∓ tsl_trail, шагами tsl_step
// от стартового уровня. После tsl_breakeven_after стоп не хуже цены входа.
// Уровень стопа никогда не ослабляется.
func NextTrailing(leg *models.LegState) TrailingState {
	cur := TrailingState{Armed: leg.TSLArmed, Stop: leg.TrailingStop}
	cfg := leg.Risk
	dir := direction(leg.Side())
	entry := leg.WeightedAvgEntry
	best := leg.BestFavorablePrice
	if dir == 0 || entry <= 0 || best <= 0 {
		return cur
	}
	if cfg.TSLTrail <= 0 && cfg.TSLBreakevenAfter <= 0 {
		return cur
	}

	next := cur
	move := dir * (best - entry)

	var candidate float64
	if cfg.TSLTrail > 0 {
		if !next.Armed && move >= cfg.TSLArmAfter {
			next.Armed = true
		}
		if next.Armed {
			candidate = best - dir*cfg.TSLTrail
			if cfg.TSLStep > 0 {
				base := entry - dir*cfg.TSLTrail
				candidate = base + dir*utils.FloorToStep(move, cfg.TSLStep)
			}
		}
	}
	if cfg.TSLBreakevenAfter > 0 && move >= cfg.TSLBreakevenAfter {
		next.Armed = true
		candidate = tighter(dir, candidate, entry)
	}

	if candidate > 0 {
		next.Stop = tighter(dir, next.Stop, candidate)
	}
	return next
}

// DetectTrigger проверяет пороги по текущей цене.
// Приоритет: stoploss, затем trailing_stop, затем target.
func DetectTrigger(leg *models.LegState, price float64) (string, bool) {
	dir := direction(leg.Side())
	if dir == 0 || price <= 0 {
		return "", false
	}
	// at - цена дошла до уровня с неблагоприятной стороны
	at := func(level float64) bool {
		if level <= 0 {
			return false
		}
		if dir > 0 {
			return price <= level
		}
		return price >= level
	}

	switch {
	case at(leg.SLPrice):
		return models.ExitReasonStopLoss, true
	case leg.TSLArmed && at(leg.TrailingStop):
		return models.ExitReasonTrailingStop, true
	case leg.TPPrice > 0 && ((dir > 0 && price >= leg.TPPrice) || (dir < 0 && price <= leg.TPPrice)):
		return models.ExitReasonTarget, true
	}
	return "", false
}

// BuildRiskExit готовит риск-выход с одним smart-ордером,
// закрывающим ногу до нулевой позиции
func BuildRiskExit(leg *models.LegState, reason string, price float64, triggerID string) *models.RiskExit {
	return &models.RiskExit{
		TriggerID:    triggerID,
		LegID:        leg.ID,
		Reason:       reason,
		TriggerPrice: price,
		Status:       models.RiskExitStatusPending,
		ExitOrders: models.ExitOrders{{
			Symbol:       leg.Symbol,
			Exchange:     leg.Exchange,
			Product:      leg.Product,
			Action:       leg.ExitAction(),
			Quantity:     math.Abs(leg.NetQty),
			PriceType:    models.PriceTypeMarket,
			PositionSize: 0,
		}},
		TotalOrders: 1,
	}
}

// FailurePolicy - реакция на неудачные риск-выходы ноги
type FailurePolicy struct {
	// Cooldown - пауза после неудачного выхода до следующего срабатывания
	Cooldown time.Duration
	// MaxFailures - после стольких неудач подряд риск ноги выключается (0 = без предела)
	MaxFailures int
}

// RiskEvaluator сравнивает ноги с порогами и ставит риск-выходы в очередь
type RiskEvaluator struct {
	legs     LegStore
	exits    RiskExitStore
	switches *KillSwitches
	events   EventPublisher
	policy   FailurePolicy
	logger   *utils.Logger
	newID    func() string
	now      func() time.Time
}

// NewRiskEvaluator создаёт оценщик
func NewRiskEvaluator(legs LegStore, exits RiskExitStore, switches *KillSwitches, events EventPublisher, policy FailurePolicy, logger *utils.Logger) *RiskEvaluator {
	if logger == nil {
		logger = utils.L()
	}
	if switches == nil {
		switches = NewKillSwitches(false, false, nil)
	}
	return &RiskEvaluator{
		legs:     legs,
		exits:    exits,
		switches: switches,
		events:   publisherOrNop(events),
		policy:   policy,
		logger:   logger.WithComponent("risk_evaluator"),
		newID:    uuid.NewString,
		now:      time.Now,
	}
}

// Run - один тик по всем ногам с включенным риском
func (e *RiskEvaluator) Run(ctx context.Context) error {
	legs, err := e.legs.GetRiskEnabled(ctx)
	if err != nil {
		return fmt.Errorf("load risk legs: %w", err)
	}
	for _, leg := range legs {
		if err := e.evaluate(ctx, leg); err != nil {
			e.logger.Warn("risk evaluation failed", utils.LegID(leg.ID), utils.Symbol(leg.Symbol), utils.Err(err))
		}
	}
	return nil
}

func (e *RiskEvaluator) evaluate(ctx context.Context, leg *models.LegState) error {
	if leg.NetQty == 0 || leg.CurrentPrice <= 0 {
		return nil
	}
	if leg.Risk.Scope == models.RiskScopeCombined {
		return nil
	}

	ts := NextTrailing(leg)
	if ts.Armed != leg.TSLArmed || ts.Stop != leg.TrailingStop {
		if err := e.legs.UpdateTrailing(ctx, leg.ID, ts.Armed, ts.Stop); err != nil {
			return fmt.Errorf("update trailing: %w", err)
		}
		leg.TSLArmed = ts.Armed
		leg.TrailingStop = ts.Stop
		e.logger.Debug("trailing stop moved",
			utils.LegID(leg.ID),
			utils.Bool("armed", ts.Armed),
			utils.Float64("trailing_stop", ts.Stop))
	}

	reason, hit := DetectTrigger(leg, leg.CurrentPrice)
	if !hit {
		return nil
	}
	if name, blocked := e.switches.Blocked(); blocked {
		KillSwitchSkips.WithLabelValues(name).Inc()
		return nil
	}

	open, err := e.exits.HasOpen(ctx, leg.ID)
	if err != nil {
		return fmt.Errorf("check open exit: %w", err)
	}
	if open {
		return nil
	}
	if cooling, err := e.coolingDown(ctx, leg.ID); err != nil {
		return fmt.Errorf("check failed exits: %w", err)
	} else if cooling {
		RiskCooldownSkips.Inc()
		return nil
	}

	exit := BuildRiskExit(leg, reason, leg.CurrentPrice, e.newID())
	if err := e.exits.Create(ctx, exit); err != nil {
		if errors.Is(err, repository.ErrRiskExitOpen) {
			return nil
		}
		return fmt.Errorf("create risk exit: %w", err)
	}

	RiskTriggers.WithLabelValues(reason).Inc()
	e.events.PublishRiskExit(exit)
	e.logger.Warn("risk trigger raised",
		utils.TriggerID(exit.TriggerID),
		utils.LegID(leg.ID),
		utils.Instance(leg.InstanceID),
		utils.Symbol(leg.Symbol),
		utils.String("reason", reason),
		utils.Price(leg.CurrentPrice),
		utils.Quantity(leg.NetQty))
	return nil
}

// coolingDown - после неудачного выхода нога не срабатывает до конца паузы
func (e *RiskEvaluator) coolingDown(ctx context.Context, legID int64) (bool, error) {
	if e.policy.Cooldown <= 0 {
		return false, nil
	}
	n, last, err := e.exits.FailureStreak(ctx, legID)
	if err != nil || n == 0 {
		return false, err
	}
	return e.now().Sub(last) < e.policy.Cooldown, nil
}
