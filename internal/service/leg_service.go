package service

import (
	"context"
	"errors"

	"tradeexec/internal/apperr"
	"tradeexec/internal/models"
	"tradeexec/internal/repository"
)

// RiskExitDetail - риск-выход вместе с аудитом его ордеров
type RiskExitDetail struct {
	Exit   *models.RiskExit     `json:"exit"`
	Orders []*models.OrderAudit `json:"orders"`
}

// LegService - запросы по ногам и управление риском для коллабораторов.
// Позиционные поля ног пишет только движок, здесь чтение и включение/выключение риска.
type LegService struct {
	legs   LegRepositoryInterface
	exits  RiskExitRepositoryInterface
	audits AuditRepositoryInterface
	risk   RiskController
}

// NewLegService создает сервис ног
func NewLegService(legs LegRepositoryInterface, exits RiskExitRepositoryInterface, audits AuditRepositoryInterface, risk RiskController) *LegService {
	return &LegService{legs: legs, exits: exits, audits: audits, risk: risk}
}

// GetLegState возвращает ногу по id
func (s *LegService) GetLegState(ctx context.Context, id int64) (*models.LegState, error) {
	leg, err := s.legs.GetByID(ctx, id)
	if errors.Is(err, repository.ErrLegNotFound) {
		return nil, apperr.NotFound("leg %d", id)
	}
	return leg, err
}

// ListLegs возвращает ноги инстанса (instanceID 0 - всех инстансов)
func (s *LegService) ListLegs(ctx context.Context, instanceID int, activeOnly bool) ([]*models.LegState, error) {
	if instanceID < 0 {
		return nil, apperr.Validation("instance_id cannot be negative")
	}
	return s.legs.List(ctx, instanceID, activeOnly)
}

// GetActiveLegsWithRisk - ноги под риском с открытой позицией
func (s *LegService) GetActiveLegsWithRisk(ctx context.Context) ([]*models.LegState, error) {
	legs, err := s.legs.GetRiskEnabled(ctx)
	if err != nil {
		return nil, err
	}
	out := legs[:0]
	for _, leg := range legs {
		if leg.NetQty != 0 {
			out = append(out, leg)
		}
	}
	return out, nil
}

// EnableRisk включает риск на ноге
func (s *LegService) EnableRisk(ctx context.Context, legID int64, cfg models.RiskConfig) (*models.LegState, error) {
	return s.risk.EnableRisk(ctx, legID, cfg)
}

// DisableRisk выключает риск на ноге
func (s *LegService) DisableRisk(ctx context.Context, legID int64) error {
	return s.risk.DisableRisk(ctx, legID)
}

// ListRiskExits - история риск-выходов ноги, новые первыми
func (s *LegService) ListRiskExits(ctx context.Context, legID int64, limit int) ([]*models.RiskExit, error) {
	if _, err := s.GetLegState(ctx, legID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return s.exits.ListByLeg(ctx, legID, limit)
}

// GetRiskExit возвращает риск-выход по trigger_id с аудитом ордеров
func (s *LegService) GetRiskExit(ctx context.Context, triggerID string) (*RiskExitDetail, error) {
	exit, err := s.exits.GetByTriggerID(ctx, triggerID)
	if errors.Is(err, repository.ErrRiskExitNotFound) {
		return nil, apperr.NotFound("risk exit %q", triggerID)
	}
	if err != nil {
		return nil, err
	}
	orders, err := s.audits.ListByTriggerID(ctx, triggerID)
	if err != nil {
		return nil, err
	}
	return &RiskExitDetail{Exit: exit, Orders: orders}, nil
}
