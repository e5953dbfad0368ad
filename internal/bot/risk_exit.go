package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"tradeexec/internal/models"
	"tradeexec/pkg/utils"
)

// Исходы исполнения риск-выхода
const (
	OutcomeCompleted = "completed"
	OutcomePartial   = "partial"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

// ExitResult - итог исполнения одного риск-выхода
type ExitResult struct {
	Outcome string
	Placed  int
	Total   int
	Errors  []string
}

// RiskExitExecutor исполняет риск-выходы: pending -> executing -> completed | failed.
//
// Незавершённые выходы берутся из БД каждый тик. Выход, уже исполняемый
// в этом процессе, пропускается до конца исполнения.
type RiskExitExecutor struct {
	exits     RiskExitStore
	legs      LegStore
	instances InstanceSource
	placer    OrderPlacer
	switches  *KillSwitches
	events    EventPublisher
	policy    FailurePolicy
	logger    *utils.Logger
	batch     int
	now       func() time.Time

	mu       sync.Mutex
	inFlight map[int64]struct{}
}

// NewRiskExitExecutor создаёт исполнитель
func NewRiskExitExecutor(exits RiskExitStore, legs LegStore, instances InstanceSource, placer OrderPlacer, switches *KillSwitches, events EventPublisher, policy FailurePolicy, logger *utils.Logger) *RiskExitExecutor {
	if logger == nil {
		logger = utils.L()
	}
	if switches == nil {
		switches = NewKillSwitches(false, false, nil)
	}
	return &RiskExitExecutor{
		exits:     exits,
		legs:      legs,
		instances: instances,
		placer:    placer,
		switches:  switches,
		events:    publisherOrNop(events),
		policy:    policy,
		logger:    logger.WithComponent("risk_exit_executor"),
		batch:     100,
		now:       time.Now,
		inFlight:  make(map[int64]struct{}),
	}
}

// Run - один тик. При включённом kill switch тик молча пропускается.
func (x *RiskExitExecutor) Run(ctx context.Context) error {
	if name, blocked := x.switches.Blocked(); blocked {
		KillSwitchSkips.WithLabelValues(name).Inc()
		return nil
	}

	pending, err := x.exits.GetPending(ctx, x.batch)
	if err != nil {
		return fmt.Errorf("load pending exits: %w", err)
	}

	var wg conc.WaitGroup
	for _, p := range pending {
		if !x.claim(p.ID) {
			continue
		}
		wg.Go(func() {
			defer x.release(p.ID)
			x.Execute(ctx, p)
		})
	}
	if r := wg.WaitAndRecover(); r != nil {
		return fmt.Errorf("risk exit panic: %w", r.AsError())
	}
	return nil
}

func (x *RiskExitExecutor) claim(id int64) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, busy := x.inFlight[id]; busy {
		return false
	}
	x.inFlight[id] = struct{}{}
	return true
}

func (x *RiskExitExecutor) release(id int64) {
	x.mu.Lock()
	delete(x.inFlight, id)
	x.mu.Unlock()
}

// InFlight - число выходов, исполняемых сейчас
func (x *RiskExitExecutor) InFlight() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.inFlight)
}

// Execute исполняет один выход. Ошибки записываются в сам выход.
func (x *RiskExitExecutor) Execute(ctx context.Context, p *models.PendingRiskExit) ExitResult {
	started := x.now()
	total := len(p.ExitOrders)
	log := x.logger.With(utils.TriggerID(p.TriggerID), utils.LegID(p.LegID), utils.Instance(p.InstanceID))

	claimed, err := x.exits.MarkExecuting(ctx, p.ID, started)
	if err != nil {
		log.Warn("claim risk exit failed", utils.Err(err))
		return ExitResult{Outcome: OutcomeSkipped, Total: total}
	}
	if !claimed {
		return ExitResult{Outcome: OutcomeSkipped, Total: total}
	}
	p.Status = models.RiskExitStatusExecuting

	inst, err := x.instances.Instance(ctx, p.InstanceID)
	if err != nil {
		return x.fail(ctx, p, started, 0, []string{fmt.Sprintf("resolve instance: %v", err)}, false)
	}
	if inst.AnalyzerMode {
		return x.fail(ctx, p, started, 0, []string{"instance is in analyzer mode"}, true)
	}
	if total == 0 {
		return x.fail(ctx, p, started, 0, []string{"no exit orders"}, true)
	}

	ref := models.OrderRef{TriggerID: p.TriggerID}
	placed := 0
	var errs []string
	for i, order := range p.ExitOrders {
		res, err := x.placer.PlaceSmartOrder(ctx, inst, order, ref)
		if err != nil {
			errs = append(errs, fmt.Sprintf("order %d (%s %s): %v", i+1, order.Action, order.Symbol, err))
			log.Warn("exit order failed",
				utils.Symbol(order.Symbol),
				utils.Side(order.Action),
				utils.Quantity(order.Quantity),
				utils.Err(err))
			continue
		}
		placed++
		log.Info("exit order placed",
			utils.Symbol(order.Symbol),
			utils.Side(order.Action),
			utils.Quantity(order.Quantity),
			utils.OrderID(res.OrderID),
			utils.Bool("deduplicated", res.Deduplicated))
	}

	if placed == 0 {
		return x.fail(ctx, p, started, 0, errs, false)
	}

	partial := placed < total
	msg := strings.Join(errs, "; ")
	at := x.now()
	if err := x.exits.Complete(ctx, p.ID, partial, placed, total, msg, at); err != nil {
		log.Error("complete risk exit failed", utils.Err(err))
	}
	p.Status = models.RiskExitStatusCompleted
	p.PartialSuccess = partial
	p.OrdersPlaced = placed
	p.TotalOrders = total
	p.ErrorMessage = msg
	p.CompletedAt = &at

	if err := x.legs.DisableRisk(ctx, p.LegID); err != nil {
		log.Warn("disable risk after exit failed", utils.Err(err))
	}

	outcome := OutcomeCompleted
	if partial {
		outcome = OutcomePartial
	}
	RecordRiskExit(outcome, started)
	x.events.PublishRiskExit(&p.RiskExit)
	log.Info("risk exit completed",
		utils.String("reason", p.Reason),
		utils.Bool("partial_success", partial),
		utils.Int("orders_placed", placed),
		utils.Int("total_orders", total))

	return ExitResult{Outcome: outcome, Placed: placed, Total: total, Errors: errs}
}

// fail записывает неудачу выхода. permanent - повтор не поможет,
// риск ноги выключается сразу, иначе после MaxFailures неудач подряд.
func (x *RiskExitExecutor) fail(ctx context.Context, p *models.PendingRiskExit, started time.Time, placed int, errs []string, permanent bool) ExitResult {
	total := len(p.ExitOrders)
	msg := strings.Join(errs, "; ")
	if err := x.exits.Fail(ctx, p.ID, placed, total, msg, x.now()); err != nil {
		x.logger.Error("fail risk exit failed", utils.TriggerID(p.TriggerID), utils.Err(err))
	}
	p.Status = models.RiskExitStatusFailed
	p.OrdersPlaced = placed
	p.TotalOrders = total
	p.ErrorMessage = msg

	RecordRiskExit(OutcomeFailed, started)
	x.events.PublishRiskExit(&p.RiskExit)
	x.logger.Error("risk exit failed",
		utils.TriggerID(p.TriggerID),
		utils.LegID(p.LegID),
		utils.Instance(p.InstanceID),
		utils.String("error", msg))
	x.stopAfterFailure(ctx, p, permanent)

	return ExitResult{Outcome: OutcomeFailed, Placed: placed, Total: total, Errors: errs}
}

func (x *RiskExitExecutor) stopAfterFailure(ctx context.Context, p *models.PendingRiskExit, permanent bool) {
	log := x.logger.With(utils.TriggerID(p.TriggerID), utils.LegID(p.LegID))
	streak := 0
	if !permanent {
		if x.policy.MaxFailures <= 0 {
			return
		}
		n, _, err := x.exits.FailureStreak(ctx, p.LegID)
		if err != nil {
			log.Warn("count failed exits failed", utils.Err(err))
			return
		}
		if n < x.policy.MaxFailures {
			return
		}
		streak = n
	}

	if err := x.legs.DisableRisk(ctx, p.LegID); err != nil {
		log.Warn("disable risk after failed exit failed", utils.Err(err))
		return
	}
	RiskAutoDisabled.Inc()
	log.Warn("risk disabled after failed exits",
		utils.Bool("permanent", permanent),
		utils.Int("failure_streak", streak))
}
