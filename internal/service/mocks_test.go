package service

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"tradeexec/internal/apperr"
	"tradeexec/internal/broker"
	"tradeexec/internal/models"
	"tradeexec/internal/repository"
)

// ============ Mock InstanceRepository ============

type MockInstanceRepository struct {
	instances map[int]*models.Instance
	getErr    error
	loads     int
}

func NewMockInstanceRepository(instances ...*models.Instance) *MockInstanceRepository {
	m := &MockInstanceRepository{instances: make(map[int]*models.Instance)}
	for _, inst := range instances {
		m.instances[inst.ID] = inst
	}
	return m
}

func (m *MockInstanceRepository) GetByID(ctx context.Context, id int) (*models.Instance, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	if inst, ok := m.instances[id]; ok {
		c := *inst
		return &c, nil
	}
	return nil, repository.ErrInstanceNotFound
}

func (m *MockInstanceRepository) GetActive(ctx context.Context) ([]*models.Instance, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	m.loads++
	var out []*models.Instance
	for _, inst := range m.sorted() {
		if inst.IsActive {
			out = append(out, inst)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].IsPrimary && !out[j].IsPrimary })
	return out, nil
}

func (m *MockInstanceRepository) GetAll(ctx context.Context) ([]*models.Instance, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.sorted(), nil
}

func (m *MockInstanceRepository) sorted() []*models.Instance {
	out := make([]*models.Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		c := *inst
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ============ Mock LegRepository ============

type MockLegRepository struct {
	mu   sync.Mutex
	legs map[int64]*models.LegState
}

func NewMockLegRepository(legs ...*models.LegState) *MockLegRepository {
	m := &MockLegRepository{legs: make(map[int64]*models.LegState)}
	for _, leg := range legs {
		m.legs[leg.ID] = leg
	}
	return m
}

func (m *MockLegRepository) put(leg *models.LegState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.legs[leg.ID] = leg
}

func (m *MockLegRepository) GetByID(ctx context.Context, id int64) (*models.LegState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if leg, ok := m.legs[id]; ok {
		c := *leg
		return &c, nil
	}
	return nil, repository.ErrLegNotFound
}

func (m *MockLegRepository) GetByKey(ctx context.Context, instanceID int, symbol, exchange string) (*models.LegState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, leg := range m.legs {
		if leg.InstanceID == instanceID && leg.Symbol == symbol && leg.Exchange == exchange {
			c := *leg
			return &c, nil
		}
	}
	return nil, repository.ErrLegNotFound
}

func (m *MockLegRepository) GetRiskEnabled(ctx context.Context) ([]*models.LegState, error) {
	var out []*models.LegState
	for _, leg := range m.all() {
		if leg.RiskEnabled {
			out = append(out, leg)
		}
	}
	return out, nil
}

func (m *MockLegRepository) List(ctx context.Context, instanceID int, activeOnly bool) ([]*models.LegState, error) {
	var out []*models.LegState
	for _, leg := range m.all() {
		if (instanceID == 0 || leg.InstanceID == instanceID) && (!activeOnly || leg.IsActive) {
			out = append(out, leg)
		}
	}
	return out, nil
}

func (m *MockLegRepository) all() []*models.LegState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.LegState, 0, len(m.legs))
	for _, leg := range m.legs {
		c := *leg
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ============ Mock IntentRepository ============

type MockIntentRepository struct {
	mu        sync.Mutex
	intents   map[string]*models.TradeIntent
	links     []*models.TradeIntentOrder
	nextID    int64
	creates   int
	createErr error
}

func NewMockIntentRepository() *MockIntentRepository {
	return &MockIntentRepository{intents: make(map[string]*models.TradeIntent), nextID: 1}
}

func (m *MockIntentRepository) CreateIfAbsent(ctx context.Context, intent *models.TradeIntent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return false, m.createErr
	}
	if existing, ok := m.intents[intent.IntentID]; ok {
		*intent = *existing
		return false, nil
	}
	m.creates++
	intent.ID = m.nextID
	m.nextID++
	intent.Status = models.IntentStatusPending
	intent.CreatedAt = time.Now()
	intent.UpdatedAt = intent.CreatedAt
	c := *intent
	m.intents[intent.IntentID] = &c
	return true, nil
}

func (m *MockIntentRepository) GetByIntentID(ctx context.Context, intentID string) (*models.TradeIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if intent, ok := m.intents[intentID]; ok {
		c := *intent
		return &c, nil
	}
	return nil, repository.ErrIntentNotFound
}

func (m *MockIntentRepository) Transition(ctx context.Context, intentID, from, to string, result json.RawMessage, errMsg string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	intent, ok := m.intents[intentID]
	if !ok || intent.Status != from {
		return repository.ErrIntentStateConflict
	}
	intent.Status = to
	if result != nil {
		intent.Result = result
	}
	intent.ErrorMessage = errMsg
	intent.UpdatedAt = at
	switch to {
	case models.IntentStatusExecuting:
		intent.StartedAt = &at
	case models.IntentStatusCompleted:
		intent.CompletedAt = &at
	case models.IntentStatusFailed:
		intent.FailedAt = &at
	}
	return nil
}

func (m *MockIntentRepository) ResetForRetry(ctx context.Context, intentID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	intent, ok := m.intents[intentID]
	if !ok || intent.Status != models.IntentStatusFailed {
		return repository.ErrIntentStateConflict
	}
	intent.Status = models.IntentStatusPending
	intent.ErrorMessage = ""
	intent.Result = nil
	intent.FailedAt = nil
	intent.UpdatedAt = at
	return nil
}

func (m *MockIntentRepository) LinkOrder(ctx context.Context, link *models.TradeIntentOrder) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links = append(m.links, link)
	return nil
}

func (m *MockIntentRepository) GetLinkedOrders(ctx context.Context, intentID string) ([]*models.TradeIntentOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*models.TradeIntentOrder{}
	for _, l := range m.links {
		if l.IntentID == intentID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *MockIntentRepository) CountByStatus(ctx context.Context) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int)
	for _, intent := range m.intents {
		out[intent.Status]++
	}
	return out, nil
}

func (m *MockIntentRepository) status(intentID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if intent, ok := m.intents[intentID]; ok {
		return intent.Status
	}
	return ""
}

// ============ Mock RiskExitRepository ============

type MockRiskExitRepository struct {
	counts  map[string]int
	partial int
	exits   []*models.RiskExit
	err     error
}

func (m *MockRiskExitRepository) CountByStatus(ctx context.Context) (map[string]int, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make(map[string]int, len(m.counts))
	for k, v := range m.counts {
		out[k] = v
	}
	return out, nil
}

func (m *MockRiskExitRepository) CountPartial(ctx context.Context) (int, error) {
	return m.partial, m.err
}

func (m *MockRiskExitRepository) GetByTriggerID(ctx context.Context, triggerID string) (*models.RiskExit, error) {
	for _, e := range m.exits {
		if e.TriggerID == triggerID {
			return e, nil
		}
	}
	return nil, repository.ErrRiskExitNotFound
}

func (m *MockRiskExitRepository) ListByLeg(ctx context.Context, legID int64, limit int) ([]*models.RiskExit, error) {
	var out []*models.RiskExit
	for _, e := range m.exits {
		if e.LegID == legID && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

// ============ Mock AuditRepository ============

type MockAuditRepository struct {
	mu        sync.Mutex
	audits    []*models.OrderAudit
	nextID    int64
	createErr error
}

func NewMockAuditRepository() *MockAuditRepository {
	return &MockAuditRepository{nextID: 1}
}

func (m *MockAuditRepository) Create(ctx context.Context, a *models.OrderAudit) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	a.ID = m.nextID
	m.nextID++
	m.audits = append(m.audits, a)
	return nil
}

func (m *MockAuditRepository) ListByIntentID(ctx context.Context, intentID string) ([]*models.OrderAudit, error) {
	return m.filter(func(a *models.OrderAudit) bool { return a.IntentID != nil && *a.IntentID == intentID }), nil
}

func (m *MockAuditRepository) ListByTriggerID(ctx context.Context, triggerID string) ([]*models.OrderAudit, error) {
	return m.filter(func(a *models.OrderAudit) bool { return a.TriggerID != nil && *a.TriggerID == triggerID }), nil
}

func (m *MockAuditRepository) filter(keep func(*models.OrderAudit) bool) []*models.OrderAudit {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*models.OrderAudit{}
	for _, a := range m.audits {
		if keep(a) {
			out = append(out, a)
		}
	}
	return out
}

// ============ Mock Gateway ============

type MockGateway struct {
	mu          sync.Mutex
	placed      []broker.SmartOrderRequest
	placeErr    error
	nextOrder   int
	symbolErr   map[broker.SymbolKey]error
	symbolCalls int
	metrics     []broker.InstanceMetrics
	errors      int64
	failovers   int64
	// onPlace вызывается до ответа на размещение
	onPlace func()
}

func NewMockGateway() *MockGateway {
	return &MockGateway{symbolErr: make(map[broker.SymbolKey]error)}
}

func (m *MockGateway) PlaceSmartOrder(ctx context.Context, inst broker.Instance, req broker.SmartOrderRequest) (broker.OrderResult, error) {
	if m.onPlace != nil {
		m.onPlace()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.placed = append(m.placed, req)
	if m.placeErr != nil {
		return broker.OrderResult{}, m.placeErr
	}
	m.nextOrder++
	return broker.OrderResult{OrderID: "B" + string(rune('0'+m.nextOrder))}, nil
}

func (m *MockGateway) Symbol(ctx context.Context, inst broker.Instance, key broker.SymbolKey) (broker.SymbolInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.symbolCalls++
	if err := m.symbolErr[key]; err != nil {
		return broker.SymbolInfo{}, err
	}
	return broker.SymbolInfo{Symbol: key.Symbol, Exchange: key.Exchange}, nil
}

func (m *MockGateway) InstanceMetrics() []broker.InstanceMetrics {
	return m.metrics
}

func (m *MockGateway) ErrorTotals() (int64, int64) {
	return m.errors, m.failovers
}

// ============ Mock InstanceSource ============

type MockInstanceSource struct {
	instances map[int]broker.Instance
}

func NewMockInstanceSource(instances ...broker.Instance) *MockInstanceSource {
	m := &MockInstanceSource{instances: make(map[int]broker.Instance)}
	for _, inst := range instances {
		m.instances[inst.ID] = inst
	}
	return m
}

func (m *MockInstanceSource) ActiveInstances(ctx context.Context) ([]broker.Instance, error) {
	out := make([]broker.Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		out = append(out, inst)
	}
	return out, nil
}

func (m *MockInstanceSource) Instance(ctx context.Context, id int) (broker.Instance, error) {
	if inst, ok := m.instances[id]; ok {
		return inst, nil
	}
	return broker.Instance{}, apperr.NotFound("instance %d", id)
}

// ============ Mock RiskController / Reconciler ============

type MockRisk struct {
	enabled   map[int64]models.RiskConfig
	disabled  []int64
	enableErr error
}

func NewMockRisk() *MockRisk {
	return &MockRisk{enabled: make(map[int64]models.RiskConfig)}
}

func (m *MockRisk) EnableRisk(ctx context.Context, legID int64, cfg models.RiskConfig) (*models.LegState, error) {
	if m.enableErr != nil {
		return nil, m.enableErr
	}
	m.enabled[legID] = cfg
	return &models.LegState{ID: legID, RiskEnabled: true, Risk: cfg}, nil
}

func (m *MockRisk) DisableRisk(ctx context.Context, legID int64) error {
	m.disabled = append(m.disabled, legID)
	return nil
}

// MockReconciler вызывает onReconcile с номером вызова (с 1)
type MockReconciler struct {
	calls       int
	err         error
	onReconcile func(call int)
}

func (m *MockReconciler) ReconcileInstance(ctx context.Context, inst broker.Instance) (int, error) {
	m.calls++
	if m.err != nil {
		return 0, m.err
	}
	if m.onReconcile != nil {
		m.onReconcile(m.calls)
	}
	return 1, nil
}

// ============ Mock collaborators ============

type MockSwitches struct {
	state models.KillSwitchState
}

func (m *MockSwitches) State() models.KillSwitchState { return m.state }
func (m *MockSwitches) TradingDisabled() bool         { return m.state.TradingDisabled }

type MockInFlight int

func (m MockInFlight) InFlight() int { return int(m) }

type MockSettings struct {
	raw   string
	calls int
	last  models.SettingsContext
}

func (m *MockSettings) Resolve(ctx context.Context, sc models.SettingsContext) (json.RawMessage, error) {
	m.calls++
	m.last = sc
	return json.RawMessage(m.raw), nil
}

var _ InstanceRepositoryInterface = (*MockInstanceRepository)(nil)
var _ LegRepositoryInterface = (*MockLegRepository)(nil)
var _ IntentRepositoryInterface = (*MockIntentRepository)(nil)
var _ RiskExitRepositoryInterface = (*MockRiskExitRepository)(nil)
var _ AuditRepositoryInterface = (*MockAuditRepository)(nil)
var _ OrderGateway = (*MockGateway)(nil)
var _ GatewayMetrics = (*MockGateway)(nil)
var _ RiskController = (*MockRisk)(nil)
var _ Reconciler = (*MockReconciler)(nil)
var _ KillSwitchReader = (*MockSwitches)(nil)
var _ InFlightCounter = MockInFlight(0)
var _ SettingsResolver = (*MockSettings)(nil)
