package bot

import (
	"context"
	"time"

	"tradeexec/internal/broker"
	"tradeexec/internal/models"
)

// Gateway - вызовы брокерского шлюза, нужные циклам движка
type Gateway interface {
	Trades(ctx context.Context, inst broker.Instance) ([]broker.Trade, error)
	Positions(ctx context.Context, inst broker.Instance) ([]broker.Position, error)
	FetchQuotes(ctx context.Context, candidates []broker.Instance, keys []broker.SymbolKey) (map[broker.SymbolKey]broker.Quote, map[broker.SymbolKey]error)
}

// InstanceSource - реестр инстансов с расшифрованными ключами.
// ActiveInstances отдаёт основной инстанс первым.
type InstanceSource interface {
	ActiveInstances(ctx context.Context) ([]broker.Instance, error)
	Instance(ctx context.Context, id int) (broker.Instance, error)
}

// LegStore - хранилище leg_state
type LegStore interface {
	UpsertPosition(ctx context.Context, leg *models.LegState) error
	GetByID(ctx context.Context, id int64) (*models.LegState, error)
	GetRiskEnabled(ctx context.Context) ([]*models.LegState, error)
	List(ctx context.Context, instanceID int, activeOnly bool) ([]*models.LegState, error)
	UpdatePrice(ctx context.Context, id int64, price, bestFavorable float64) error
	UpdateTrailing(ctx context.Context, id int64, armed bool, stop float64) error
	EnableRisk(ctx context.Context, id int64, cfg models.RiskConfig, tp, sl float64) error
	DisableRisk(ctx context.Context, id int64) error
}

// RiskExitStore - хранилище risk_exits
type RiskExitStore interface {
	Create(ctx context.Context, e *models.RiskExit) error
	HasOpen(ctx context.Context, legID int64) (bool, error)
	FailureStreak(ctx context.Context, legID int64) (int, time.Time, error)
	GetPending(ctx context.Context, limit int) ([]*models.PendingRiskExit, error)
	MarkExecuting(ctx context.Context, id int64, at time.Time) (bool, error)
	Complete(ctx context.Context, id int64, partial bool, placed, total int, errMsg string, at time.Time) error
	Fail(ctx context.Context, id int64, placed, total int, errMsg string, at time.Time) error
}

// OrderPlacer размещает smart-ордер и пишет запись аудита
// независимо от исхода
type OrderPlacer interface {
	PlaceSmartOrder(ctx context.Context, inst broker.Instance, order models.ExitOrder, ref models.OrderRef) (broker.OrderResult, error)
}

// EventPublisher - рассылка событий операторам (WebSocket)
type EventPublisher interface {
	PublishLegUpdate(leg *models.LegState)
	PublishRiskExit(exit *models.RiskExit)
	PublishKillSwitch(state models.KillSwitchState)
}

type nopPublisher struct{}

func (nopPublisher) PublishLegUpdate(*models.LegState)        {}
func (nopPublisher) PublishRiskExit(*models.RiskExit)         {}
func (nopPublisher) PublishKillSwitch(models.KillSwitchState) {}

func publisherOrNop(p EventPublisher) EventPublisher {
	if p == nil {
		return nopPublisher{}
	}
	return p
}
