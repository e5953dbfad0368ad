package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tradeexec/internal/api"
	"tradeexec/internal/bot"
	"tradeexec/internal/broker"
	"tradeexec/internal/config"
	"tradeexec/internal/repository"
	"tradeexec/internal/service"
	"tradeexec/internal/websocket"
	"tradeexec/pkg/crypto"
	"tradeexec/pkg/ratelimit"
	"tradeexec/pkg/retry"
	"tradeexec/pkg/utils"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "tradeexec: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := utils.InitGlobalLogger(utils.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	defer logger.Sync()

	// ============ База данных ============

	if cfg.Database.AutoMigrate {
		if err := repository.Migrate(cfg.Database.DSN(), logger); err != nil {
			return err
		}
	}

	db, err := repository.Open(cfg.Database.DSN(), cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		return fmt.Errorf("connect to database %s: %w", cfg.Database.DSNWithoutPassword(), err)
	}
	defer db.Close()
	logger.Info("connected to database", utils.String("dsn", cfg.Database.DSNWithoutPassword()))

	instanceRepo := repository.NewInstanceRepository(db)
	legRepo := repository.NewLegStateRepository(db)
	exitRepo := repository.NewRiskExitRepository(db)
	intentRepo := repository.NewTradeIntentRepository(db)
	auditRepo := repository.NewOrderAuditRepository(db)

	// ============ Инстансы и лимиты ============

	cipher, err := crypto.NewCipher([]byte(cfg.Security.EncryptionKey))
	if err != nil {
		return fmt.Errorf("init cipher: %w", err)
	}
	instances := service.NewInstanceService(instanceRepo, cipher, cfg.Broker.InstanceCacheTTL, logger)

	registry := ratelimit.NewRegistry(
		ratelimit.Limits{RPS: cfg.Broker.DefaultRPS, RPM: cfg.Broker.DefaultRPM, OPS: cfg.Broker.DefaultOPS},
		cfg.Broker.GlobalOPS,
	)
	limits := broker.NewLimitManager(registry, service.NewInstanceLimits(config.NewFileLimits(cfg.Broker), instanceRepo), logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := limits.Start(ctx, cfg.Broker.RateLimitRefresh); err != nil {
		logger.Warn("initial rate limit load failed, using defaults", utils.Err(err))
	}

	// ============ Шлюз брокера ============

	gateway, err := broker.NewClient(brokerConfig(cfg.Broker), registry, logger)
	if err != nil {
		return fmt.Errorf("init broker client: %w", err)
	}
	defer gateway.Close()

	orders := service.NewOrderService(gateway, auditRepo, logger)

	// ============ Движок ============

	hub := websocket.NewHub(logger, cfg.Server.AllowedOrigins)
	go hub.Run()
	defer hub.Stop()

	engine := bot.NewEngine(cfg.Engine, bot.Deps{
		Gateway:   gateway,
		Instances: instances,
		Legs:      legRepo,
		Exits:     exitRepo,
		Placer:    orders,
		Events:    hub,
		Logger:    logger,
	})

	// ============ Сервисы ============

	settings, err := service.NewStaticSettings(cfg.Engine.DefaultSettings)
	if err != nil {
		return fmt.Errorf("DEFAULT_SETTINGS: %w", err)
	}

	intents := service.NewIntentService(
		service.IntentConfig{
			ReconcileAttempts: cfg.Engine.ReconcileAttempts,
			ReconcileDelay:    cfg.Engine.ReconcileDelay,
			ExecuteTimeout:    cfg.Engine.ExecuteTimeout,
		},
		service.IntentDeps{
			Intents:     intentRepo,
			Legs:        legRepo,
			Instances:   instances,
			Orders:      orders,
			Risk:        engine.Aggregator,
			Reconciler:  engine.Aggregator,
			Settings:    settings,
			Symbols:     service.PassThroughSymbols{},
			Instruments: service.NewCachedInstruments(gateway, cfg.Broker.InstrumentCacheTTL),
			Switches:    engine.Switches,
			Logger:      logger,
		},
	)
	legs := service.NewLegService(legRepo, exitRepo, auditRepo, engine.Aggregator)
	stats := service.NewStatsService(exitRepo, intentRepo, gateway, engine.Switches, engine.Executor)

	// ============ HTTP ============

	router := api.SetupRoutes(&api.Dependencies{
		IntentService: intents,
		LegService:    legs,
		StatsService:  stats,
		KillSwitches:  engine.Switches,
		Limits:        limits,
		Stream:        hub.ServeWS,
		OpsTokenHash:  cfg.Security.OpsTokenHash,
		Logger:        logger,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	engine.Run(ctx)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting ops server", utils.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// SIGHUP перечитывает лимиты, SIGINT/SIGTERM - graceful shutdown
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	var runErr error
wait:
	for {
		select {
		case sig := <-signals:
			if sig == syscall.SIGHUP {
				logger.Info("SIGHUP received, reloading rate limits")
				limits.Reload()
				continue
			}
			logger.Info("shutdown signal received", utils.String("signal", sig.String()))
			break wait
		case err := <-serverErr:
			runErr = fmt.Errorf("ops server: %w", err)
			break wait
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("ops server forced to shutdown", utils.Err(err))
	}

	// Поллеры дожидаются текущих тиков: начатые ордера доходят до брокера
	engine.Stop()
	cancel()

	logger.Info("server exited")
	return runErr
}

// brokerConfig переводит переменные окружения в настройки клиента шлюза
func brokerConfig(b config.BrokerConfig) broker.Config {
	c := broker.DefaultConfig()

	c.HTTP.ProxyURL = b.ProxyURL
	c.HTTP.VerifyTLS = b.VerifyTLS
	c.HTTP.ReadTimeout = b.RequestTimeout
	if b.MaxInFlightPerHost > c.HTTP.MaxConnsPerHost {
		c.HTTP.MaxConnsPerHost = b.MaxInFlightPerHost
	}

	c.RequestTimeout = b.RequestTimeout
	c.Critical = retry.Critical(b.CriticalAttempts, b.CriticalBaseDelay)
	c.NonCritical = retry.NonCritical(b.NonCriticalAttempts, b.NonCriticalBase)
	c.Breaker = broker.BreakerConfig{
		NotFoundThreshold: b.CircuitNotFoundThreshold,
		AuthThreshold:     b.CircuitAuthThreshold,
		Backoff:           b.CircuitBackoff,
	}
	c.Dedup = broker.DedupConfig{
		MinPositionChange: b.DedupMinPositionChange,
		QtyTolerance:      b.DedupQtyTolerance,
		MaxOrderAge:       b.DedupMaxOrderAge,
	}
	c.MaxInFlightPerHost = b.MaxInFlightPerHost
	c.QuoteFallbacks = b.QuoteFallbacks
	c.Location = b.Location()
	return c
}
