package broker

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"tradeexec/pkg/ratelimit"
	"tradeexec/pkg/utils"
)

// LimitsConfig - полная конфигурация лимитов
type LimitsConfig struct {
	Defaults  ratelimit.Limits         `yaml:"defaults" json:"defaults"`
	GlobalOPS int                      `yaml:"global_ops" json:"global_ops"`
	Instances map[int]ratelimit.Limits `yaml:"instances" json:"instances"`
}

// LimitsSource - откуда берутся лимиты (файл, БД, их комбинация)
type LimitsSource interface {
	LoadLimits(ctx context.Context) (LimitsConfig, error)
}

// LimitManager кэширует лимиты и применяет их к реестру окон.
// Обновление - по событию Reload() или по таймеру.
type LimitManager struct {
	registry *ratelimit.Registry
	source   LimitsSource
	current  atomic.Pointer[LimitsConfig]
	reloadCh chan struct{}
	logger   *utils.Logger
}

// NewLimitManager создаёт менеджер лимитов
func NewLimitManager(registry *ratelimit.Registry, source LimitsSource, logger *utils.Logger) *LimitManager {
	if logger == nil {
		logger = utils.L()
	}
	return &LimitManager{
		registry: registry,
		source:   source,
		reloadCh: make(chan struct{}, 1),
		logger:   logger.WithComponent("limit_manager"),
	}
}

// Start выполняет первую загрузку и запускает фоновое обновление.
// Ошибка первой загрузки возвращается, реестр остаётся с лимитами по умолчанию.
func (m *LimitManager) Start(ctx context.Context, interval time.Duration) error {
	err := m.Refresh(ctx)
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	go m.loop(ctx, interval)
	return err
}

func (m *LimitManager) loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-m.reloadCh:
		}
		if err := m.Refresh(ctx); err != nil {
			m.logger.Warn("rate limit refresh failed, keeping cached limits", utils.Err(err))
		}
	}
}

// Reload просит фоновый цикл перечитать лимиты. Не блокирует.
func (m *LimitManager) Reload() {
	select {
	case m.reloadCh <- struct{}{}:
	default:
	}
}

// Refresh синхронно перечитывает и применяет лимиты
func (m *LimitManager) Refresh(ctx context.Context) error {
	cfg, err := m.source.LoadLimits(ctx)
	if err != nil {
		return err
	}
	m.apply(cfg)
	m.current.Store(&cfg)
	m.logger.Info("rate limits applied",
		utils.Int("instances", len(cfg.Instances)),
		utils.Int("default_rps", cfg.Defaults.RPS),
		utils.Int("global_ops", cfg.GlobalOPS),
	)
	return nil
}

func (m *LimitManager) apply(cfg LimitsConfig) {
	m.registry.SetDefaults(cfg.Defaults)
	m.registry.SetGlobalOPS(cfg.GlobalOPS)

	// инстансы, пропавшие из конфигурации, возвращаются к умолчаниям
	if prev := m.current.Load(); prev != nil {
		for id := range prev.Instances {
			if _, ok := cfg.Instances[id]; !ok {
				m.registry.ResetLimits(strconv.Itoa(id))
			}
		}
	}
	for id, l := range cfg.Instances {
		m.registry.SetLimits(strconv.Itoa(id), l)
	}
}

// Current - последние применённые лимиты (nil до первой загрузки)
func (m *LimitManager) Current() *LimitsConfig {
	return m.current.Load()
}
