package service

import (
	"context"
	"time"

	"tradeexec/internal/broker"
	"tradeexec/internal/models"
	"tradeexec/pkg/utils"
)

// auditTimeout - предел записи аудита после ответа брокера
const auditTimeout = 5 * time.Second

// OrderService размещает smart-ордера и пишет запись аудита на каждую попытку,
// успешную или нет. Запись привязывается к намерению или к риск-триггеру.
type OrderService struct {
	gw     OrderGateway
	audits AuditRepositoryInterface
	logger *utils.Logger
	now    func() time.Time
}

// NewOrderService создает сервис размещения ордеров
func NewOrderService(gw OrderGateway, audits AuditRepositoryInterface, logger *utils.Logger) *OrderService {
	if logger == nil {
		logger = utils.L()
	}
	return &OrderService{
		gw:     gw,
		audits: audits,
		logger: logger.WithComponent("orders"),
		now:    time.Now,
	}
}

// PlaceSmartOrder реализует bot.OrderPlacer
func (s *OrderService) PlaceSmartOrder(ctx context.Context, inst broker.Instance, order models.ExitOrder, ref models.OrderRef) (broker.OrderResult, error) {
	res, _, err := s.Place(ctx, inst, order, ref)
	return res, err
}

// Place размещает ордер и возвращает записанный аудит.
// Ошибка записи аудита не отменяет ордер: он уже у брокера, поэтому она только логируется
// и аудит возвращается nil.
func (s *OrderService) Place(ctx context.Context, inst broker.Instance, order models.ExitOrder, ref models.OrderRef) (broker.OrderResult, *models.OrderAudit, error) {
	priceType := order.PriceType
	if priceType == "" {
		priceType = models.PriceTypeMarket
	}

	res, placeErr := s.gw.PlaceSmartOrder(ctx, inst, broker.SmartOrderRequest{
		Symbol:       order.Symbol,
		Exchange:     order.Exchange,
		Action:       order.Action,
		Product:      order.Product,
		PriceType:    priceType,
		Quantity:     order.Quantity,
		Price:        order.Price,
		PositionSize: order.PositionSize,
	})

	size := order.PositionSize
	audit := &models.OrderAudit{
		InstanceID:    inst.ID,
		IntentID:      optional(ref.IntentID),
		TriggerID:     optional(ref.TriggerID),
		Endpoint:      broker.EndpointPlaceSmartOrder,
		Symbol:        order.Symbol,
		Exchange:      order.Exchange,
		Product:       order.Product,
		Action:        order.Action,
		PriceType:     priceType,
		Quantity:      order.Quantity,
		PositionSize:  &size,
		BrokerOrderID: res.OrderID,
		Status:        models.AuditStatusSuccess,
		Deduplicated:  res.Deduplicated,
		CreatedAt:     s.now(),
	}
	if placeErr != nil {
		audit.Status = models.AuditStatusFailed
		audit.ErrorMessage = placeErr.Error()
	}

	log := s.logger.With(
		utils.Instance(inst.ID),
		utils.Symbol(order.Symbol),
		utils.String("action", order.Action),
		utils.Quantity(order.Quantity),
		utils.IntentID(ref.IntentID),
		utils.TriggerID(ref.TriggerID))

	// ордер уже у брокера: запись аудита не должна пропасть из-за отмены запроса
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()
	if err := s.audits.Create(auditCtx, audit); err != nil {
		log.Error("failed to write order audit", utils.Err(err))
		audit = nil
	}

	if placeErr != nil {
		log.Warn("order rejected", utils.Err(placeErr))
		return res, audit, placeErr
	}
	log.Info("order placed",
		utils.OrderID(res.OrderID),
		utils.Bool("deduplicated", res.Deduplicated))
	return res, audit, nil
}

// AuditTrail - аудит ордеров по намерению или триггеру
func (s *OrderService) AuditTrail(ctx context.Context, ref models.OrderRef) ([]*models.OrderAudit, error) {
	if ref.TriggerID != "" {
		return s.audits.ListByTriggerID(ctx, ref.TriggerID)
	}
	return s.audits.ListByIntentID(ctx, ref.IntentID)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
