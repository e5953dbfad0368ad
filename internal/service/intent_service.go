package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"tradeexec/internal/apperr"
	"tradeexec/internal/bot"
	"tradeexec/internal/broker"
	"tradeexec/internal/models"
	"tradeexec/internal/repository"
	"tradeexec/pkg/utils"
)

// AuditedPlacer размещает ордер и возвращает его запись аудита
type AuditedPlacer interface {
	Place(ctx context.Context, inst broker.Instance, order models.ExitOrder, ref models.OrderRef) (broker.OrderResult, *models.OrderAudit, error)
}

var _ AuditedPlacer = (*OrderService)(nil)

// CreateIntentRequest - запрос на создание торгового намерения
type CreateIntentRequest struct {
	IntentID     string                 `json:"intent_id"`
	InstanceID   int                    `json:"instance_id"`
	Symbol       string                 `json:"symbol"`
	Exchange     string                 `json:"exchange"`
	Product      string                 `json:"product"`
	Action       string                 `json:"action"`
	Quantity     float64                `json:"quantity"`
	PositionSize float64                `json:"position_size"`
	Context      models.SettingsContext `json:"context"`
}

// UpdateIntentStatusRequest - ручная смена статуса намерения оператором
type UpdateIntentStatusRequest struct {
	Status       string          `json:"status"`
	ErrorMessage string          `json:"error_message"`
	Result       json.RawMessage `json:"result,omitempty"`
}

// IntentDetail - намерение вместе со связанными ордерами
type IntentDetail struct {
	Intent *models.TradeIntent        `json:"intent"`
	Orders []*models.TradeIntentOrder `json:"orders"`
}

// intentResult - полезная нагрузка result завершённого намерения
type intentResult struct {
	OrderID      string `json:"order_id"`
	Deduplicated bool   `json:"deduplicated"`
	Message      string `json:"message,omitempty"`
	AuditID      int64  `json:"audit_id,omitempty"`
}

// IntentConfig - параметры исполнения и немедленной сверки после него
type IntentConfig struct {
	ReconcileAttempts int
	ReconcileDelay    time.Duration

	// ExecuteTimeout - предел исполнения после перехода в executing
	ExecuteTimeout time.Duration
}

// defaultExecuteTimeout используется, когда ExecuteTimeout не задан
const defaultExecuteTimeout = 60 * time.Second

// IntentDeps - зависимости журнала намерений
type IntentDeps struct {
	Intents     IntentRepositoryInterface
	Legs        LegRepositoryInterface
	Instances   bot.InstanceSource
	Orders      AuditedPlacer
	Risk        RiskController
	Reconciler  Reconciler
	Settings    SettingsResolver
	Symbols     SymbolResolver
	Instruments InstrumentValidator
	Switches    KillSwitchReader
	Logger      *utils.Logger
}

// IntentService - журнал торговых намерений.
//
// Создание идемпотентно по intent_id: повтор возвращает существующую запись.
// Снимок эффективных настроек фиксируется при создании и больше не меняется.
// Переходы статусов проверяются по bot.IntentTransitions.
type IntentService struct {
	IntentDeps
	cfg    IntentConfig
	logger *utils.Logger
	now    func() time.Time
	newID  func() string
}

// NewIntentService создает журнал намерений
func NewIntentService(cfg IntentConfig, deps IntentDeps) *IntentService {
	if cfg.ReconcileAttempts <= 0 {
		cfg.ReconcileAttempts = 1
	}
	if cfg.ExecuteTimeout <= 0 {
		cfg.ExecuteTimeout = defaultExecuteTimeout
	}
	if deps.Symbols == nil {
		deps.Symbols = PassThroughSymbols{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = utils.L()
	}
	return &IntentService{
		IntentDeps: deps,
		cfg:        cfg,
		logger:     logger.WithComponent("intents"),
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// Create создает намерение или возвращает существующее с тем же intent_id.
// Второе значение - была ли создана новая запись.
func (s *IntentService) Create(ctx context.Context, req CreateIntentRequest) (*models.TradeIntent, bool, error) {
	if req.IntentID != "" {
		existing, err := s.Intents.GetByIntentID(ctx, req.IntentID)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, repository.ErrIntentNotFound) {
			return nil, false, err
		}
	}

	if err := validateIntentRequest(&req); err != nil {
		return nil, false, err
	}

	inst, err := s.Instances.Instance(ctx, req.InstanceID)
	if err != nil {
		return nil, false, err
	}

	symbol, err := s.Symbols.Resolve(ctx, req.Symbol, req.Exchange)
	if err != nil {
		return nil, false, err
	}
	if s.Instruments != nil {
		if err := s.Instruments.Validate(ctx, inst, symbol, req.Exchange); err != nil {
			return nil, false, err
		}
	}

	sc := req.Context
	if sc.Symbol == "" {
		sc.Symbol = symbol
	}
	snapshot := json.RawMessage("{}")
	if s.Settings != nil {
		snapshot, err = s.Settings.Resolve(ctx, sc)
		if err != nil {
			return nil, false, fmt.Errorf("resolve settings: %w", err)
		}
	}
	settings, err := models.ParseEffectiveSettings(snapshot)
	if err != nil {
		return nil, false, apperr.Validation("%v", err)
	}

	product := req.Product
	if product == "" {
		product = settings.Product
	}
	product = utils.NormalizeUpper(product)
	if err := utils.ValidateProduct(product); err != nil {
		return nil, false, apperr.Validation("%v", err)
	}

	intentID := req.IntentID
	if intentID == "" {
		intentID = s.newID()
	}

	intent := &models.TradeIntent{
		IntentID:         intentID,
		InstanceID:       req.InstanceID,
		Symbol:           symbol,
		Exchange:         req.Exchange,
		Product:          product,
		Action:           req.Action,
		Quantity:         req.Quantity,
		PositionSize:     req.PositionSize,
		SettingsSnapshot: snapshot,
	}
	created, err := s.Intents.CreateIfAbsent(ctx, intent)
	if err != nil {
		return nil, false, fmt.Errorf("create intent: %w", err)
	}
	if created {
		s.logger.Info("intent created",
			utils.IntentID(intent.IntentID),
			utils.Instance(intent.InstanceID),
			utils.Symbol(intent.Symbol),
			utils.String("action", intent.Action),
			utils.Quantity(intent.Quantity))
	}
	return intent, created, nil
}

func validateIntentRequest(req *CreateIntentRequest) error {
	var verrs utils.ValidationErrors
	req.Action = utils.NormalizeUpper(req.Action)
	req.Exchange = utils.NormalizeUpper(req.Exchange)

	if req.InstanceID <= 0 {
		verrs.AddError("instance_id", fmt.Errorf("must be positive"))
	}
	if req.Symbol == "" {
		verrs.AddError("symbol", fmt.Errorf("required"))
	}
	if err := utils.ValidateExchange(req.Exchange); err != nil {
		verrs.AddError("exchange", err)
	}
	if err := utils.ValidateAction(req.Action); err != nil {
		verrs.AddError("action", err)
	}
	if req.Quantity < 0 || math.IsNaN(req.Quantity) || math.IsInf(req.Quantity, 0) {
		verrs.AddError("quantity", fmt.Errorf("must be a non-negative number"))
	}
	if math.IsNaN(req.PositionSize) || math.IsInf(req.PositionSize, 0) {
		verrs.AddError("position_size", fmt.Errorf("must be a number"))
	}
	if verrs.HasErrors() {
		return apperr.Validation("%v", verrs)
	}
	return nil
}

// Get возвращает намерение со связанными ордерами
func (s *IntentService) Get(ctx context.Context, intentID string) (*IntentDetail, error) {
	intent, err := s.get(ctx, intentID)
	if err != nil {
		return nil, err
	}
	orders, err := s.Intents.GetLinkedOrders(ctx, intentID)
	if err != nil {
		return nil, err
	}
	return &IntentDetail{Intent: intent, Orders: orders}, nil
}

func (s *IntentService) get(ctx context.Context, intentID string) (*models.TradeIntent, error) {
	intent, err := s.Intents.GetByIntentID(ctx, intentID)
	if err != nil {
		if errors.Is(err, repository.ErrIntentNotFound) {
			return nil, apperr.NotFound("intent %q", intentID)
		}
		return nil, err
	}
	return intent, nil
}

// Transition переводит намерение в статус to с результатом или ошибкой
func (s *IntentService) Transition(ctx context.Context, intentID, to string, result json.RawMessage, errMsg string) (*models.TradeIntent, error) {
	intent, err := s.get(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if err := s.transition(ctx, intent.IntentID, intent.Status, to, result, errMsg); err != nil {
		return nil, err
	}
	return s.get(ctx, intentID)
}

func (s *IntentService) transition(ctx context.Context, intentID, from, to string, result json.RawMessage, errMsg string) error {
	if !bot.IntentTransitions.CanTransition(from, to) {
		return apperr.Conflict("intent %q: %s -> %s is not allowed", intentID, from, to)
	}
	err := s.Intents.Transition(ctx, intentID, from, to, result, errMsg, s.now())
	if errors.Is(err, repository.ErrIntentStateConflict) {
		return apperr.Conflict("intent %q is no longer %s", intentID, from)
	}
	if err != nil {
		return err
	}
	s.logger.Debug("intent transition",
		utils.IntentID(intentID),
		utils.String("from", from),
		utils.Status(to))
	return nil
}

// LinkOrder связывает намерение с записью аудита ордера
func (s *IntentService) LinkOrder(ctx context.Context, intentID string, auditID int64, brokerOrderID string) error {
	if _, err := s.get(ctx, intentID); err != nil {
		return err
	}
	return s.Intents.LinkOrder(ctx, &models.TradeIntentOrder{
		IntentID:      intentID,
		OrderAuditID:  auditID,
		BrokerOrderID: brokerOrderID,
		CreatedAt:     s.now(),
	})
}

// Retry возвращает failed-намерение в pending. Повторное исполнение запускает вызывающий.
func (s *IntentService) Retry(ctx context.Context, intentID string) (*models.TradeIntent, error) {
	intent, err := s.get(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if intent.Status != models.IntentStatusFailed {
		return nil, apperr.Conflict("intent %q is %s, only failed intents can be retried", intentID, intent.Status)
	}
	err = s.Intents.ResetForRetry(ctx, intentID, s.now())
	if errors.Is(err, repository.ErrIntentStateConflict) {
		return nil, apperr.Conflict("intent %q is no longer failed", intentID)
	}
	if err != nil {
		return nil, err
	}
	s.logger.Info("intent reset for retry", utils.IntentID(intentID))
	return s.get(ctx, intentID)
}

// UpdateStatus переводит намерение вручную, например зависшее executing
// после перезапуска. Переход в pending выполняется как Retry.
func (s *IntentService) UpdateStatus(ctx context.Context, intentID string, req UpdateIntentStatusRequest) (*models.TradeIntent, error) {
	to := strings.ToLower(strings.TrimSpace(req.Status))
	if _, known := bot.IntentTransitions[to]; !known {
		return nil, apperr.Validation("unknown intent status %q", req.Status)
	}
	if to == models.IntentStatusPending {
		return s.Retry(ctx, intentID)
	}
	if to == models.IntentStatusFailed && strings.TrimSpace(req.ErrorMessage) == "" {
		return nil, apperr.Validation("error_message is required to fail an intent")
	}
	if len(req.Result) > 0 && !json.Valid(req.Result) {
		return nil, apperr.Validation("result must be valid JSON")
	}

	intent, err := s.Transition(ctx, intentID, to, req.Result, req.ErrorMessage)
	if err != nil {
		return nil, err
	}
	s.logger.Info("intent status updated manually",
		utils.IntentID(intentID),
		utils.Status(to),
		utils.String("error_message", req.ErrorMessage))
	return intent, nil
}

// Execute исполняет pending-намерение: executing -> smart-ордер -> связь с аудитом -> completed/failed.
//
// Завершённое намерение возвращается как есть. При успехе и наличии риск-дистанций
// в снимке настроек инстанс сразу сверяется и на ноге включается риск.
// Ошибка брокера возвращается вызывающему вместе с переводом в failed.
//
// После перехода в executing работа отвязана от отмены ctx и ограничена ExecuteTimeout:
// ордер, аудит и финальный статус доводятся до конца, даже если вызывающий отключился.
func (s *IntentService) Execute(ctx context.Context, intentID string) (*models.TradeIntent, error) {
	intent, err := s.get(ctx, intentID)
	if err != nil {
		return nil, err
	}
	switch intent.Status {
	case models.IntentStatusCompleted:
		return intent, nil
	case models.IntentStatusPending:
	default:
		return nil, apperr.Conflict("intent %q is %s", intentID, intent.Status)
	}
	if s.Switches != nil && s.Switches.TradingDisabled() {
		return nil, apperr.Conflict("auto trading is disabled")
	}

	settings, err := intent.Settings()
	if err != nil {
		return nil, err
	}
	inst, err := s.Instances.Instance(ctx, intent.InstanceID)
	if err != nil {
		return nil, err
	}

	if settings.Risk.Pyramiding == models.PyramidingBlock {
		if err := s.checkPyramiding(ctx, intent); err != nil {
			if ferr := s.transition(ctx, intentID, models.IntentStatusPending, models.IntentStatusFailed, nil, err.Error()); ferr != nil {
				return nil, ferr
			}
			return nil, err
		}
	}

	if err := s.transition(ctx, intentID, models.IntentStatusPending, models.IntentStatusExecuting, nil, ""); err != nil {
		return nil, err
	}

	execCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ExecuteTimeout)
	defer cancel()

	order := models.ExitOrder{
		Symbol:       intent.Symbol,
		Exchange:     intent.Exchange,
		Product:      intent.Product,
		Action:       intent.Action,
		Quantity:     intent.Quantity,
		PriceType:    models.PriceTypeMarket,
		PositionSize: intent.PositionSize,
	}
	res, audit, placeErr := s.Orders.Place(execCtx, inst, order, models.OrderRef{IntentID: intentID})

	if audit != nil {
		if err := s.LinkOrder(execCtx, intentID, audit.ID, res.OrderID); err != nil {
			s.logger.Error("failed to link order", utils.IntentID(intentID), utils.Err(err))
		}
	}

	if placeErr != nil {
		if err := s.transition(execCtx, intentID, models.IntentStatusExecuting, models.IntentStatusFailed, nil, placeErr.Error()); err != nil {
			s.logger.Error("failed to mark intent failed", utils.IntentID(intentID), utils.Err(err))
		}
		return nil, placeErr
	}

	payload := intentResult{OrderID: res.OrderID, Deduplicated: res.Deduplicated, Message: res.Message}
	if audit != nil {
		payload.AuditID = audit.ID
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	if err := s.transition(execCtx, intentID, models.IntentStatusExecuting, models.IntentStatusCompleted, raw, ""); err != nil {
		return nil, err
	}

	if settings.Risk.HasAny() {
		s.armRisk(execCtx, inst, intent, settings.Risk)
	}
	return s.get(execCtx, intentID)
}

// checkPyramiding отклоняет наращивание позиции в том же направлении
func (s *IntentService) checkPyramiding(ctx context.Context, intent *models.TradeIntent) error {
	leg, err := s.Legs.GetByKey(ctx, intent.InstanceID, intent.Symbol, intent.Exchange)
	if errors.Is(err, repository.ErrLegNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	net, target := leg.NetQty, intent.PositionSize
	if net == 0 || utils.Sign(net) != utils.Sign(target) {
		return nil
	}
	if math.Abs(target) > math.Abs(net) {
		return apperr.Conflict("pyramiding is blocked: %s position %v would grow to %v", leg.Side(), net, target)
	}
	return nil
}

// armRisk сверяет инстанс и включает риск на получившейся ноге.
// На analyzer-инстансе риск не включается: выход там не исполнить.
// Сделка может появиться в tradebook не сразу, поэтому сверка повторяется ограниченно.
// Неудача только логируется: ордер уже исполнен.
func (s *IntentService) armRisk(ctx context.Context, inst broker.Instance, intent *models.TradeIntent, cfg models.RiskConfig) {
	log := s.logger.With(utils.IntentID(intent.IntentID), utils.Instance(inst.ID), utils.Symbol(intent.Symbol))
	if inst.AnalyzerMode {
		log.Info("risk not enabled: instance is in analyzer mode")
		return
	}

	for attempt := 0; attempt < s.cfg.ReconcileAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				log.Warn("risk not enabled: context done", utils.Err(ctx.Err()))
				return
			case <-time.After(s.cfg.ReconcileDelay):
			}
		}
		if _, err := s.Reconciler.ReconcileInstance(ctx, inst); err != nil {
			log.Warn("reconcile after execution failed", utils.Attempt(attempt+1), utils.Err(err))
			continue
		}
		leg, err := s.Legs.GetByKey(ctx, intent.InstanceID, intent.Symbol, intent.Exchange)
		if err != nil || leg.NetQty == 0 {
			continue
		}
		if _, err := s.Risk.EnableRisk(ctx, leg.ID, cfg); err != nil {
			log.Warn("enable risk after execution failed", utils.LegID(leg.ID), utils.Err(err))
			return
		}
		log.Info("risk enabled after execution", utils.LegID(leg.ID), utils.Attempt(attempt+1))
		return
	}
	log.Warn("risk not enabled: position not visible after reconcile",
		utils.Int("attempts", s.cfg.ReconcileAttempts))
}
