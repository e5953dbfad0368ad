package handlers

import (
	"context"
	"errors"
	"sync"

	"tradeexec/internal/apperr"
	"tradeexec/internal/bot"
	"tradeexec/internal/broker"
	"tradeexec/internal/models"
	"tradeexec/internal/service"
)

// ErrMockDatabase - ошибка инфраструктуры для тестов (500)
var ErrMockDatabase = errors.New("mock database error")

// ============ Mock Intent Service ============

// MockIntentService мок для IntentServiceInterface
type MockIntentService struct {
	mu        sync.Mutex
	intents   map[string]*models.TradeIntent
	lastReq   service.CreateIntentRequest
	lastPatch service.UpdateIntentStatusRequest
	execErr   error
	retryErr  error
}

func NewMockIntentService() *MockIntentService {
	return &MockIntentService{intents: make(map[string]*models.TradeIntent)}
}

func (m *MockIntentService) Create(ctx context.Context, req service.CreateIntentRequest) (*models.TradeIntent, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastReq = req
	if existing, ok := m.intents[req.IntentID]; ok {
		return existing, false, nil
	}
	if req.Symbol == "" {
		return nil, false, apperr.Validation("symbol is required")
	}
	intent := &models.TradeIntent{IntentID: req.IntentID, InstanceID: req.InstanceID, Symbol: req.Symbol, Status: models.IntentStatusPending}
	m.intents[req.IntentID] = intent
	return intent, true, nil
}

func (m *MockIntentService) Get(ctx context.Context, intentID string) (*service.IntentDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	intent, ok := m.intents[intentID]
	if !ok {
		return nil, apperr.NotFound("intent %s", intentID)
	}
	return &service.IntentDetail{Intent: intent, Orders: []*models.TradeIntentOrder{}}, nil
}

func (m *MockIntentService) Execute(ctx context.Context, intentID string) (*models.TradeIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.execErr != nil {
		return nil, m.execErr
	}
	intent, ok := m.intents[intentID]
	if !ok {
		return nil, apperr.NotFound("intent %s", intentID)
	}
	intent.Status = models.IntentStatusCompleted
	return intent, nil
}

func (m *MockIntentService) Retry(ctx context.Context, intentID string) (*models.TradeIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.retryErr != nil {
		return nil, m.retryErr
	}
	intent, ok := m.intents[intentID]
	if !ok {
		return nil, apperr.NotFound("intent %s", intentID)
	}
	intent.Status = models.IntentStatusPending
	return intent, nil
}

func (m *MockIntentService) UpdateStatus(ctx context.Context, intentID string, req service.UpdateIntentStatusRequest) (*models.TradeIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastPatch = req
	intent, ok := m.intents[intentID]
	if !ok {
		return nil, apperr.NotFound("intent %s", intentID)
	}
	if !bot.IntentTransitions.CanTransition(intent.Status, req.Status) {
		return nil, apperr.Conflict("%s -> %s is not allowed", intent.Status, req.Status)
	}
	intent.Status = req.Status
	intent.ErrorMessage = req.ErrorMessage
	return intent, nil
}

// ============ Mock Leg Service ============

// MockLegService мок для LegServiceInterface
type MockLegService struct {
	mu        sync.Mutex
	legs      map[int64]*models.LegState
	exits     []*models.RiskExit
	lastCfg   models.RiskConfig
	lastQuery struct {
		instanceID int
		activeOnly bool
	}
	lastLimit int
	err       error
}

func NewMockLegService(legs ...*models.LegState) *MockLegService {
	m := &MockLegService{legs: make(map[int64]*models.LegState)}
	for _, l := range legs {
		m.legs[l.ID] = l
	}
	return m
}

func (m *MockLegService) GetLegState(ctx context.Context, id int64) (*models.LegState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	leg, ok := m.legs[id]
	if !ok {
		return nil, apperr.NotFound("leg %d", id)
	}
	return leg, nil
}

func (m *MockLegService) ListLegs(ctx context.Context, instanceID int, activeOnly bool) ([]*models.LegState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.lastQuery.instanceID, m.lastQuery.activeOnly = instanceID, activeOnly
	var out []*models.LegState
	for _, l := range m.legs {
		out = append(out, l)
	}
	return out, nil
}

func (m *MockLegService) GetActiveLegsWithRisk(ctx context.Context) ([]*models.LegState, error) {
	return nil, nil
}

func (m *MockLegService) EnableRisk(ctx context.Context, legID int64, cfg models.RiskConfig) (*models.LegState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	leg, ok := m.legs[legID]
	if !ok {
		return nil, apperr.NotFound("leg %d", legID)
	}
	if !cfg.HasAny() {
		return nil, apperr.Validation("no risk distances")
	}
	m.lastCfg = cfg
	leg.RiskEnabled = true
	return leg, nil
}

func (m *MockLegService) DisableRisk(ctx context.Context, legID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	leg, ok := m.legs[legID]
	if !ok {
		return apperr.NotFound("leg %d", legID)
	}
	leg.RiskEnabled = false
	return nil
}

func (m *MockLegService) ListRiskExits(ctx context.Context, legID int64, limit int) ([]*models.RiskExit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastLimit = limit
	return m.exits, nil
}

func (m *MockLegService) GetRiskExit(ctx context.Context, triggerID string) (*service.RiskExitDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.exits {
		if e.TriggerID == triggerID {
			return &service.RiskExitDetail{Exit: e, Orders: []*models.OrderAudit{}}, nil
		}
	}
	return nil, apperr.NotFound("risk exit %s", triggerID)
}

// ============ Mock Stats Service ============

// MockStatsService мок для StatsServiceInterface
type MockStatsService struct {
	stats   *models.ExecutionStats
	metrics []broker.InstanceMetrics
	err     error
}

func NewMockStatsService() *MockStatsService {
	return &MockStatsService{stats: &models.ExecutionStats{}}
}

func (m *MockStatsService) GetExecutionStats(ctx context.Context) (*models.ExecutionStats, error) {
	if m.err != nil {
		return nil, m.err
	}
	s := *m.stats
	return &s, nil
}

func (m *MockStatsService) GetInstanceMetrics() []broker.InstanceMetrics {
	return m.metrics
}

// ============ Mock ops ============

// MockSwitches мок для KillSwitchController
type MockSwitches struct {
	state models.KillSwitchState
	sets  int
}

func (m *MockSwitches) State() models.KillSwitchState { return m.state }

func (m *MockSwitches) Set(riskExitsDisabled, tradingDisabled *bool) models.KillSwitchState {
	m.sets++
	if riskExitsDisabled != nil {
		m.state.RiskExitsDisabled = *riskExitsDisabled
	}
	if tradingDisabled != nil {
		m.state.TradingDisabled = *tradingDisabled
	}
	return m.state
}

// MockLimits мок для LimitsReloader
type MockLimits struct {
	current   *broker.LimitsConfig
	next      broker.LimitsConfig
	err       error
	refreshes int
}

func (m *MockLimits) Refresh(ctx context.Context) error {
	m.refreshes++
	if m.err != nil {
		return m.err
	}
	cfg := m.next
	m.current = &cfg
	return nil
}

func (m *MockLimits) Current() *broker.LimitsConfig { return m.current }

var _ service.IntentServiceInterface = (*MockIntentService)(nil)
var _ service.LegServiceInterface = (*MockLegService)(nil)
var _ service.StatsServiceInterface = (*MockStatsService)(nil)
var _ KillSwitchController = (*MockSwitches)(nil)
var _ LimitsReloader = (*MockLimits)(nil)
