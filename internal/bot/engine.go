package bot

import (
	"context"
	"sync"
	"time"

	"tradeexec/internal/config"
	"tradeexec/pkg/utils"
)

// Имена поллеров
const (
	PollerFills     = "fill_aggregator"
	PollerQuotes    = "quote_router"
	PollerRiskEval  = "risk_evaluator"
	PollerRiskExits = "risk_exit_executor"
)

// Deps - зависимости движка
type Deps struct {
	Gateway   Gateway
	Instances InstanceSource
	Legs      LegStore
	Exits     RiskExitStore
	Placer    OrderPlacer
	Events    EventPublisher
	Selector  PriceSelector
	Logger    *utils.Logger
}

// Engine - движок исполнения.
//
// Четыре независимых поллера с фиксированным интервалом:
// - агрегатор сделок (~2s) пересобирает leg_state из tradebook
// - роутер котировок (~200ms) обновляет цены ног под риском
// - оценщик риска (~500ms) выставляет риск-выходы
// - исполнитель (~2s) исполняет риск-выходы
//
// Каждый поллер защищён от перекрытия своих тиков.
type Engine struct {
	Aggregator *FillAggregator
	Router     *QuoteRouter
	Evaluator  *RiskEvaluator
	Executor   *RiskExitExecutor
	Switches   *KillSwitches

	pollers []*Poller
	logger  *utils.Logger

	mu      sync.Mutex
	started bool
}

// NewEngine собирает компоненты движка по конфигурации
func NewEngine(cfg config.EngineConfig, deps Deps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = utils.L()
	}
	switches := NewKillSwitches(cfg.RiskExitsDisabled, cfg.AutoTradingDisabled, deps.Events)
	policy := FailurePolicy{Cooldown: cfg.FailedExitCooldown, MaxFailures: cfg.MaxFailedExits}

	e := &Engine{
		Aggregator: NewFillAggregator(deps.Gateway, deps.Instances, deps.Legs, deps.Events, logger),
		Router:     NewQuoteRouter(deps.Gateway, deps.Instances, deps.Legs, deps.Events, deps.Selector, logger),
		Evaluator:  NewRiskEvaluator(deps.Legs, deps.Exits, switches, deps.Events, policy, logger),
		Executor:   NewRiskExitExecutor(deps.Exits, deps.Legs, deps.Instances, deps.Placer, switches, deps.Events, policy, logger),
		Switches:   switches,
		logger:     logger.WithComponent("engine"),
	}

	e.pollers = []*Poller{
		NewPoller(PollerFills, interval(cfg.FillInterval, 2*time.Second), e.Aggregator.Run, logger),
		NewPoller(PollerQuotes, interval(cfg.QuoteInterval, 200*time.Millisecond), e.Router.Run, logger),
		NewPoller(PollerRiskEval, interval(cfg.RiskEvalInterval, 500*time.Millisecond), e.Evaluator.Run, logger),
		NewPoller(PollerRiskExits, interval(cfg.RiskExitInterval, 2*time.Second), e.Executor.Run, logger),
	}
	return e
}

func interval(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

// Run запускает все поллеры
func (e *Engine) Run(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}
	e.started = true

	for _, p := range e.pollers {
		p.Start(ctx)
	}
	state := e.Switches.State()
	e.logger.Info("engine started",
		utils.Int("pollers", len(e.pollers)),
		utils.Bool("risk_exits_disabled", state.RiskExitsDisabled),
		utils.Bool("auto_trading_disabled", state.TradingDisabled))
}

// Stop останавливает поллеры и дожидается текущих тиков
func (e *Engine) Stop() {
	var wg sync.WaitGroup
	for _, p := range e.pollers {
		wg.Add(1)
		go func(p *Poller) {
			defer wg.Done()
			p.Stop()
		}(p)
	}
	wg.Wait()
	e.logger.Info("engine stopped")
}

// Poller возвращает поллер по имени
func (e *Engine) Poller(name string) *Poller {
	for _, p := range e.pollers {
		if p.Name() == name {
			return p
		}
	}
	return nil
}
