package service

import (
	"context"
	"fmt"

	"tradeexec/internal/broker"
	"tradeexec/internal/models"
)

// StatsService предоставляет операционную статистику исполнения.
//
// Функции:
// - GetExecutionStats: счётчики риск-выходов по статусам, частичные завершения,
// выходы в исполнении, намерения по статусам, отказы инстансов и kill switch'и
// - GetInstanceMetrics: счётчики запросов, ошибок и загрузка лимитов по инстансам
//
// Подавление kill switch'ем молчаливое, поэтому его состояние видно только здесь.
type StatsService struct {
	exits    RiskExitRepositoryInterface
	intents  IntentRepositoryInterface
	gateway  GatewayMetrics
	switches KillSwitchReader
	inFlight InFlightCounter
}

// NewStatsService создает новый экземпляр StatsService
func NewStatsService(exits RiskExitRepositoryInterface, intents IntentRepositoryInterface, gateway GatewayMetrics, switches KillSwitchReader, inFlight InFlightCounter) *StatsService {
	return &StatsService{
		exits:    exits,
		intents:  intents,
		gateway:  gateway,
		switches: switches,
		inFlight: inFlight,
	}
}

// GetExecutionStats возвращает сводку по исполнению
func (s *StatsService) GetExecutionStats(ctx context.Context) (*models.ExecutionStats, error) {
	byStatus, err := s.exits.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count risk exits: %w", err)
	}
	partial, err := s.exits.CountPartial(ctx)
	if err != nil {
		return nil, fmt.Errorf("count partial exits: %w", err)
	}
	intents, err := s.intents.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count intents: %w", err)
	}

	stats := &models.ExecutionStats{
		Pending:          byStatus[models.RiskExitStatusPending],
		Executing:        byStatus[models.RiskExitStatusExecuting],
		Completed:        byStatus[models.RiskExitStatusCompleted],
		PartialCompleted: partial,
		Failed:           byStatus[models.RiskExitStatusFailed],
		Intents:          intents,
	}
	if s.inFlight != nil {
		stats.InFlight = s.inFlight.InFlight()
	}
	if s.gateway != nil {
		stats.InstanceErrors, stats.QuoteFailovers = s.gateway.ErrorTotals()
	}
	if s.switches != nil {
		state := s.switches.State()
		stats.RiskExitsDisabled = state.RiskExitsDisabled
		stats.TradingDisabled = state.TradingDisabled
	}
	return stats, nil
}

// GetInstanceMetrics возвращает счётчики по инстансам для дашбордов
func (s *StatsService) GetInstanceMetrics() []broker.InstanceMetrics {
	if s.gateway == nil {
		return []broker.InstanceMetrics{}
	}
	return s.gateway.InstanceMetrics()
}
