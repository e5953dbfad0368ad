package service

import (
	"context"
	"encoding/json"
	"time"

	"tradeexec/internal/bot"
	"tradeexec/internal/broker"
	"tradeexec/internal/models"
	"tradeexec/internal/repository"
)

// ============ Интерфейсы репозиториев ============

// InstanceRepositoryInterface определяет интерфейс репозитория инстансов
type InstanceRepositoryInterface interface {
	GetByID(ctx context.Context, id int) (*models.Instance, error)
	GetActive(ctx context.Context) ([]*models.Instance, error)
	GetAll(ctx context.Context) ([]*models.Instance, error)
}

// LegRepositoryInterface - чтение leg_state (запись идёт через движок)
type LegRepositoryInterface interface {
	GetByID(ctx context.Context, id int64) (*models.LegState, error)
	GetByKey(ctx context.Context, instanceID int, symbol, exchange string) (*models.LegState, error)
	GetRiskEnabled(ctx context.Context) ([]*models.LegState, error)
	List(ctx context.Context, instanceID int, activeOnly bool) ([]*models.LegState, error)
}

// IntentRepositoryInterface определяет интерфейс журнала намерений
type IntentRepositoryInterface interface {
	CreateIfAbsent(ctx context.Context, intent *models.TradeIntent) (bool, error)
	GetByIntentID(ctx context.Context, intentID string) (*models.TradeIntent, error)
	Transition(ctx context.Context, intentID, from, to string, result json.RawMessage, errMsg string, at time.Time) error
	ResetForRetry(ctx context.Context, intentID string, at time.Time) error
	LinkOrder(ctx context.Context, link *models.TradeIntentOrder) error
	GetLinkedOrders(ctx context.Context, intentID string) ([]*models.TradeIntentOrder, error)
	CountByStatus(ctx context.Context) (map[string]int, error)
}

// RiskExitRepositoryInterface - чтение риск-выходов для статистики и инспекции
type RiskExitRepositoryInterface interface {
	CountByStatus(ctx context.Context) (map[string]int, error)
	CountPartial(ctx context.Context) (int, error)
	GetByTriggerID(ctx context.Context, triggerID string) (*models.RiskExit, error)
	ListByLeg(ctx context.Context, legID int64, limit int) ([]*models.RiskExit, error)
}

// AuditRepositoryInterface определяет интерфейс аудита ордеров
type AuditRepositoryInterface interface {
	Create(ctx context.Context, a *models.OrderAudit) error
	ListByIntentID(ctx context.Context, intentID string) ([]*models.OrderAudit, error)
	ListByTriggerID(ctx context.Context, triggerID string) ([]*models.OrderAudit, error)
}

// Проверяем, что реальные репозитории реализуют интерфейсы
var _ InstanceRepositoryInterface = (*repository.InstanceRepository)(nil)
var _ LegRepositoryInterface = (*repository.LegStateRepository)(nil)
var _ IntentRepositoryInterface = (*repository.TradeIntentRepository)(nil)
var _ RiskExitRepositoryInterface = (*repository.RiskExitRepository)(nil)
var _ AuditRepositoryInterface = (*repository.OrderAuditRepository)(nil)

// ============ Брокер и движок ============

// OrderGateway - часть клиента шлюза, нужная сервисам
type OrderGateway interface {
	PlaceSmartOrder(ctx context.Context, inst broker.Instance, req broker.SmartOrderRequest) (broker.OrderResult, error)
	Symbol(ctx context.Context, inst broker.Instance, key broker.SymbolKey) (broker.SymbolInfo, error)
}

// GatewayMetrics - операционные счётчики клиента шлюза
type GatewayMetrics interface {
	InstanceMetrics() []broker.InstanceMetrics
	ErrorTotals() (instanceErrors, failovers int64)
}

// RiskController включает и выключает риск на ноге
type RiskController interface {
	EnableRisk(ctx context.Context, legID int64, cfg models.RiskConfig) (*models.LegState, error)
	DisableRisk(ctx context.Context, legID int64) error
}

// Reconciler пересобирает ноги инстанса из tradebook
type Reconciler interface {
	ReconcileInstance(ctx context.Context, inst broker.Instance) (int, error)
}

// KillSwitchReader - текущее положение kill switch'ей
type KillSwitchReader interface {
	State() models.KillSwitchState
	TradingDisabled() bool
}

// InFlightCounter - число исполняемых прямо сейчас риск-выходов
type InFlightCounter interface {
	InFlight() int
}

var _ OrderGateway = (*broker.Client)(nil)
var _ GatewayMetrics = (*broker.Client)(nil)
var _ RiskController = (*bot.FillAggregator)(nil)
var _ Reconciler = (*bot.FillAggregator)(nil)
var _ KillSwitchReader = (*bot.KillSwitches)(nil)
var _ InFlightCounter = (*bot.RiskExitExecutor)(nil)

// ============ Внешние коллабораторы ============

// SettingsResolver возвращает эффективные настройки для контекста.
// Содержимое непрозрачно, из него извлекаются только риск-параметры и продукт.
type SettingsResolver interface {
	Resolve(ctx context.Context, sc models.SettingsContext) (json.RawMessage, error)
}

// SymbolResolver превращает шаблонный символ в конкретный символ брокера
type SymbolResolver interface {
	Resolve(ctx context.Context, symbol, exchange string) (string, error)
}

// InstrumentValidator проверяет существование пары (symbol, exchange)
type InstrumentValidator interface {
	Validate(ctx context.Context, inst broker.Instance, symbol, exchange string) error
}

// ============ Интерфейсы сервисов для Dependency Injection ============

// IntentServiceInterface определяет интерфейс журнала намерений
type IntentServiceInterface interface {
	Create(ctx context.Context, req CreateIntentRequest) (*models.TradeIntent, bool, error)
	Get(ctx context.Context, intentID string) (*IntentDetail, error)
	Execute(ctx context.Context, intentID string) (*models.TradeIntent, error)
	Retry(ctx context.Context, intentID string) (*models.TradeIntent, error)
	UpdateStatus(ctx context.Context, intentID string, req UpdateIntentStatusRequest) (*models.TradeIntent, error)
}

// LegServiceInterface определяет интерфейс запросов по ногам
type LegServiceInterface interface {
	GetLegState(ctx context.Context, id int64) (*models.LegState, error)
	ListLegs(ctx context.Context, instanceID int, activeOnly bool) ([]*models.LegState, error)
	GetActiveLegsWithRisk(ctx context.Context) ([]*models.LegState, error)
	EnableRisk(ctx context.Context, legID int64, cfg models.RiskConfig) (*models.LegState, error)
	DisableRisk(ctx context.Context, legID int64) error
	ListRiskExits(ctx context.Context, legID int64, limit int) ([]*models.RiskExit, error)
	GetRiskExit(ctx context.Context, triggerID string) (*RiskExitDetail, error)
}

// StatsServiceInterface определяет интерфейс сервиса статистики
type StatsServiceInterface interface {
	GetExecutionStats(ctx context.Context) (*models.ExecutionStats, error)
	GetInstanceMetrics() []broker.InstanceMetrics
}

// Проверяем, что реальные сервисы реализуют интерфейсы
var _ IntentServiceInterface = (*IntentService)(nil)
var _ LegServiceInterface = (*LegService)(nil)
var _ StatsServiceInterface = (*StatsService)(nil)
var _ bot.InstanceSource = (*InstanceService)(nil)
var _ bot.OrderPlacer = (*OrderService)(nil)
var _ broker.LimitsSource = (*InstanceLimits)(nil)

// Хранилища и шлюз, которые движок получает напрямую
var _ bot.LegStore = (*repository.LegStateRepository)(nil)
var _ bot.RiskExitStore = (*repository.RiskExitRepository)(nil)
var _ bot.Gateway = (*broker.Client)(nil)
