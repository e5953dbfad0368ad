package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tradeexec/internal/broker"
	"tradeexec/internal/models"
	"tradeexec/internal/repository"
)

// ============ mockGateway ============

type mockGateway struct {
	mu            sync.Mutex
	trades        map[int][]broker.Trade
	tradeErr      map[int]error
	positions     map[int][]broker.Position
	positionErr   map[int]error
	positionCalls int
	quotes        map[broker.SymbolKey]broker.Quote
	quoteCalls    [][]broker.SymbolKey
	candidates    [][]broker.Instance
}

func newMockGateway() *mockGateway {
	return &mockGateway{
		trades:      make(map[int][]broker.Trade),
		tradeErr:    make(map[int]error),
		positions:   make(map[int][]broker.Position),
		positionErr: make(map[int]error),
		quotes:      make(map[broker.SymbolKey]broker.Quote),
	}
}

func (m *mockGateway) Positions(ctx context.Context, inst broker.Instance) ([]broker.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positionCalls++
	if err := m.positionErr[inst.ID]; err != nil {
		return nil, err
	}
	return m.positions[inst.ID], nil
}

func (m *mockGateway) Trades(ctx context.Context, inst broker.Instance) ([]broker.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.tradeErr[inst.ID]; err != nil {
		return nil, err
	}
	return m.trades[inst.ID], nil
}

func (m *mockGateway) FetchQuotes(ctx context.Context, candidates []broker.Instance, keys []broker.SymbolKey) (map[broker.SymbolKey]broker.Quote, map[broker.SymbolKey]error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quoteCalls = append(m.quoteCalls, keys)
	m.candidates = append(m.candidates, candidates)

	out := make(map[broker.SymbolKey]broker.Quote)
	errs := make(map[broker.SymbolKey]error)
	for _, k := range keys {
		if q, ok := m.quotes[k]; ok {
			out[k] = q
		} else {
			errs[k] = errors.New("no quote")
		}
	}
	return out, errs
}

// ============ mockInstances ============

type mockInstances struct {
	list []broker.Instance
	err  error
}

func (m *mockInstances) ActiveInstances(ctx context.Context) ([]broker.Instance, error) {
	return m.list, m.err
}

func (m *mockInstances) Instance(ctx context.Context, id int) (broker.Instance, error) {
	for _, inst := range m.list {
		if inst.ID == id {
			return inst, nil
		}
	}
	return broker.Instance{}, fmt.Errorf("instance %d not found", id)
}

// ============ mockLegStore ============

type mockLegStore struct {
	mu      sync.Mutex
	legs    map[int64]*models.LegState
	nextID  int64
	upserts int
	prices  []float64
}

func newMockLegStore(legs ...*models.LegState) *mockLegStore {
	m := &mockLegStore{legs: make(map[int64]*models.LegState), nextID: 100}
	for _, l := range legs {
		cp := *l
		m.legs[l.ID] = &cp
	}
	return m
}

func (m *mockLegStore) UpsertPosition(ctx context.Context, leg *models.LegState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	for id, l := range m.legs {
		if l.InstanceID == leg.InstanceID && l.Symbol == leg.Symbol && l.Exchange == leg.Exchange {
			leg.ID = id
			cp := *leg
			cp.CurrentPrice, cp.BestFavorablePrice = l.CurrentPrice, l.BestFavorablePrice
			cp.RiskEnabled, cp.Risk = l.RiskEnabled, l.Risk
			m.legs[id] = &cp
			return nil
		}
	}
	m.nextID++
	leg.ID = m.nextID
	cp := *leg
	m.legs[leg.ID] = &cp
	return nil
}

func (m *mockLegStore) GetByID(ctx context.Context, id int64) (*models.LegState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.legs[id]
	if !ok {
		return nil, repository.ErrLegNotFound
	}
	cp := *l
	return &cp, nil
}

func (m *mockLegStore) GetRiskEnabled(ctx context.Context) ([]*models.LegState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.LegState
	for _, l := range m.legs {
		if l.RiskEnabled {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockLegStore) List(ctx context.Context, instanceID int, activeOnly bool) ([]*models.LegState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.LegState
	for _, l := range m.legs {
		if (instanceID == 0 || l.InstanceID == instanceID) && (!activeOnly || l.IsActive) {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockLegStore) UpdatePrice(ctx context.Context, id int64, price, best float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.legs[id]
	if !ok {
		return repository.ErrLegNotFound
	}
	l.CurrentPrice = price
	l.BestFavorablePrice = best
	m.prices = append(m.prices, price)
	return nil
}

func (m *mockLegStore) UpdateTrailing(ctx context.Context, id int64, armed bool, stop float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.legs[id]
	if !ok {
		return repository.ErrLegNotFound
	}
	l.TSLArmed = armed
	l.TrailingStop = stop
	return nil
}

func (m *mockLegStore) EnableRisk(ctx context.Context, id int64, cfg models.RiskConfig, tp, sl float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.legs[id]
	if !ok {
		return repository.ErrLegNotFound
	}
	l.RiskEnabled = true
	l.Risk = cfg
	l.TPPrice, l.SLPrice = tp, sl
	l.TSLArmed, l.TrailingStop, l.BestFavorablePrice = false, 0, 0
	return nil
}

func (m *mockLegStore) DisableRisk(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.legs[id]
	if !ok {
		return repository.ErrLegNotFound
	}
	l.RiskEnabled = false
	return nil
}

func (m *mockLegStore) get(id int64) *models.LegState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.legs[id]; ok {
		cp := *l
		return &cp
	}
	return nil
}

func (m *mockLegStore) byKey(instanceID int, symbol string) *models.LegState {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.legs {
		if l.InstanceID == instanceID && l.Symbol == symbol {
			cp := *l
			return &cp
		}
	}
	return nil
}

// ============ mockExitStore ============

type mockExitStore struct {
	mu      sync.Mutex
	exits   map[int64]*models.PendingRiskExit
	nextID  int64
	created []*models.RiskExit
}

func newMockExitStore() *mockExitStore {
	return &mockExitStore{exits: make(map[int64]*models.PendingRiskExit)}
}

func (m *mockExitStore) add(p *models.PendingRiskExit) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.Status == "" {
		p.Status = models.RiskExitStatusPending
	}
	m.exits[p.ID] = p
}

func (m *mockExitStore) Create(ctx context.Context, e *models.RiskExit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.exits {
		if p.LegID == e.LegID && IsOpen(p.Status) {
			return repository.ErrRiskExitOpen
		}
	}
	m.nextID++
	e.ID = m.nextID
	e.Status = models.RiskExitStatusPending
	e.TotalOrders = len(e.ExitOrders)
	m.exits[e.ID] = &models.PendingRiskExit{RiskExit: *e}
	m.created = append(m.created, e)
	return nil
}

func (m *mockExitStore) HasOpen(ctx context.Context, legID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.exits {
		if p.LegID == legID && IsOpen(p.Status) {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockExitStore) GetPending(ctx context.Context, limit int) ([]*models.PendingRiskExit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.PendingRiskExit
	for _, p := range m.exits {
		if IsOpen(p.Status) {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockExitStore) MarkExecuting(ctx context.Context, id int64, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.exits[id]
	if !ok || !IsOpen(p.Status) {
		return false, nil
	}
	p.Status = models.RiskExitStatusExecuting
	return true, nil
}

func (m *mockExitStore) Complete(ctx context.Context, id int64, partial bool, placed, total int, errMsg string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.exits[id]
	if !ok || p.Status != models.RiskExitStatusExecuting {
		return repository.ErrRiskExitNotFound
	}
	p.Status = models.RiskExitStatusCompleted
	p.PartialSuccess = partial
	p.OrdersPlaced, p.TotalOrders = placed, total
	p.ErrorMessage = errMsg
	p.UpdatedAt = at
	return nil
}

func (m *mockExitStore) Fail(ctx context.Context, id int64, placed, total int, errMsg string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.exits[id]
	if !ok || !IsOpen(p.Status) {
		return repository.ErrRiskExitNotFound
	}
	p.Status = models.RiskExitStatusFailed
	p.OrdersPlaced, p.TotalOrders = placed, total
	p.ErrorMessage = errMsg
	p.UpdatedAt = at
	return nil
}

// FailureStreak считает неудачи с id больше последнего завершённого выхода
func (m *mockExitStore) FailureStreak(ctx context.Context, legID int64) (int, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var lastDone int64
	for id, p := range m.exits {
		if p.LegID == legID && p.Status == models.RiskExitStatusCompleted && id > lastDone {
			lastDone = id
		}
	}
	n := 0
	var last time.Time
	for id, p := range m.exits {
		if p.LegID != legID || p.Status != models.RiskExitStatusFailed || id < lastDone {
			continue
		}
		n++
		if p.UpdatedAt.After(last) {
			last = p.UpdatedAt
		}
	}
	return n, last, nil
}

func (m *mockExitStore) get(id int64) models.PendingRiskExit {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.exits[id]
}

// ============ mockPlacer ============

type placedOrder struct {
	inst  broker.Instance
	order models.ExitOrder
	ref   models.OrderRef
}

type mockPlacer struct {
	mu     sync.Mutex
	calls  []placedOrder
	fail   map[int]error // номер вызова (с нуля) -> ошибка
	delay  time.Duration
	nextID int
}

func (m *mockPlacer) PlaceSmartOrder(ctx context.Context, inst broker.Instance, order models.ExitOrder, ref models.OrderRef) (broker.OrderResult, error) {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.calls)
	m.calls = append(m.calls, placedOrder{inst: inst, order: order, ref: ref})
	if err := m.fail[n]; err != nil {
		return broker.OrderResult{}, err
	}
	m.nextID++
	return broker.OrderResult{OrderID: fmt.Sprintf("ord-%d", m.nextID)}, nil
}

func (m *mockPlacer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// ============ mockEvents ============

type mockEvents struct {
	mu       sync.Mutex
	legs     int
	exits    []models.RiskExit
	switches []models.KillSwitchState
}

func (m *mockEvents) PublishLegUpdate(leg *models.LegState) {
	m.mu.Lock()
	m.legs++
	m.mu.Unlock()
}

func (m *mockEvents) PublishRiskExit(exit *models.RiskExit) {
	m.mu.Lock()
	m.exits = append(m.exits, *exit)
	m.mu.Unlock()
}

func (m *mockEvents) PublishKillSwitch(state models.KillSwitchState) {
	m.mu.Lock()
	m.switches = append(m.switches, state)
	m.mu.Unlock()
}

// Проверка реализации интерфейсов
var (
	_ Gateway        = (*mockGateway)(nil)
	_ InstanceSource = (*mockInstances)(nil)
	_ LegStore       = (*mockLegStore)(nil)
	_ RiskExitStore  = (*mockExitStore)(nil)
	_ OrderPlacer    = (*mockPlacer)(nil)
	_ EventPublisher = (*mockEvents)(nil)
)
