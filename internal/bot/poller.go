package bot

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"tradeexec/pkg/utils"
)

// TickFunc - работа одного тика поллера
type TickFunc func(ctx context.Context) error

// Poller - периодический цикл с защитой от перекрытия тиков.
//
// Тик, начавшийся до остановки, доводится до конца: остановка гасит
// таймер, но не отменяет контекст запросов текущего тика.
type Poller struct {
	name     string
	interval time.Duration
	fn       TickFunc
	logger   *utils.Logger

	running atomic.Bool
	started atomic.Bool
	stopCh  chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewPoller создаёт поллер
func NewPoller(name string, interval time.Duration, fn TickFunc, logger *utils.Logger) *Poller {
	if logger == nil {
		logger = utils.L()
	}
	return &Poller{
		name:     name,
		interval: interval,
		fn:       fn,
		logger:   logger.WithComponent(name),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Name - имя поллера
func (p *Poller) Name() string { return p.name }

// Start запускает цикл в отдельной горутине
func (p *Poller) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	go p.loop(ctx)
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("poller started", utils.String("interval", p.interval.String()))
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped by context")
			return
		case <-p.stopCh:
			p.logger.Info("poller stopped")
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick выполняет один тик, если предыдущий завершён.
// Возвращает false, если тик пропущен.
func (p *Poller) Tick(ctx context.Context) bool {
	if !p.running.CompareAndSwap(false, true) {
		PollerTicksSkipped.WithLabelValues(p.name).Inc()
		return false
	}
	defer p.running.Store(false)

	started := time.Now()
	err := p.fn(context.WithoutCancel(ctx))
	RecordTick(p.name, started, err)
	if err != nil {
		p.logger.Warn("poller tick failed", utils.Err(err))
	}
	return true
}

// Stop останавливает цикл и ждёт завершения текущего тика
func (p *Poller) Stop() {
	p.once.Do(func() { close(p.stopCh) })
	if p.started.Load() {
		<-p.done
	}
}

// Running - выполняется ли сейчас тик
func (p *Poller) Running() bool { return p.running.Load() }
