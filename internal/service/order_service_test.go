package service

import (
	"context"
	"errors"
	"testing"

	"tradeexec/internal/broker"
	"tradeexec/internal/models"
	"tradeexec/pkg/utils"
)

func TestOrderServiceAuditsEveryAttempt(t *testing.T) {
	tests := []struct {
		name       string
		placeErr   error
		ref        models.OrderRef
		wantStatus string
	}{
		{"risk exit success", nil, models.OrderRef{TriggerID: "trig-1"}, models.AuditStatusSuccess},
		{"intent success", nil, models.OrderRef{IntentID: "int-1"}, models.AuditStatusSuccess},
		{"broker rejects", &broker.BrokerError{StatusCode: 400, Message: "rejected"}, models.OrderRef{TriggerID: "trig-2"}, models.AuditStatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := NewMockGateway()
			gw.placeErr = tt.placeErr
			audits := NewMockAuditRepository()
			s := NewOrderService(gw, audits, utils.NewNopLogger())

			order := models.ExitOrder{Symbol: "SBIN", Exchange: "NSE", Product: "MIS", Action: models.ActionSell, Quantity: 10}
			_, err := s.PlaceSmartOrder(context.Background(), broker.Instance{ID: 3}, order, tt.ref)
			if (err != nil) != (tt.placeErr != nil) {
				t.Fatalf("unexpected error %v", err)
			}

			if len(audits.audits) != 1 {
				t.Fatalf("expected one audit row, got %d", len(audits.audits))
			}
			a := audits.audits[0]
			if a.Status != tt.wantStatus || a.InstanceID != 3 || a.Endpoint != broker.EndpointPlaceSmartOrder {
				t.Errorf("unexpected audit %+v", a)
			}
			if a.PriceType != models.PriceTypeMarket || a.PositionSize == nil || *a.PositionSize != 0 {
				t.Errorf("market smart order to flat expected: %+v", a)
			}
			if (a.TriggerID != nil) != (tt.ref.TriggerID != "") || (a.IntentID != nil) != (tt.ref.IntentID != "") {
				t.Errorf("audit must reference exactly its cause: %+v", a)
			}
			if tt.placeErr != nil && a.ErrorMessage == "" {
				t.Error("failure must be recorded on the audit row")
			}
			if tt.placeErr == nil && a.BrokerOrderID == "" {
				t.Error("broker order id must be recorded")
			}
		})
	}
}

func TestOrderServiceAuditFailureKeepsOrder(t *testing.T) {
	gw := NewMockGateway()
	audits := NewMockAuditRepository()
	audits.createErr = errors.New("db down")
	s := NewOrderService(gw, audits, utils.NewNopLogger())

	res, audit, err := s.Place(context.Background(), broker.Instance{ID: 1}, models.ExitOrder{Symbol: "SBIN", Action: "BUY", Quantity: 1}, models.OrderRef{IntentID: "x"})
	if err != nil {
		t.Fatalf("audit failure must not fail a placed order: %v", err)
	}
	if res.OrderID == "" || audit != nil {
		t.Errorf("unexpected result %+v audit %+v", res, audit)
	}
}

func TestOrderServiceAuditTrail(t *testing.T) {
	gw := NewMockGateway()
	audits := NewMockAuditRepository()
	s := NewOrderService(gw, audits, utils.NewNopLogger())
	ctx := context.Background()
	order := models.ExitOrder{Symbol: "SBIN", Action: "SELL", Quantity: 1}

	_, _ = s.PlaceSmartOrder(ctx, broker.Instance{ID: 1}, order, models.OrderRef{TriggerID: "t"})
	_, _ = s.PlaceSmartOrder(ctx, broker.Instance{ID: 1}, order, models.OrderRef{IntentID: "i"})

	byTrigger, _ := s.AuditTrail(ctx, models.OrderRef{TriggerID: "t"})
	byIntent, _ := s.AuditTrail(ctx, models.OrderRef{IntentID: "i"})
	if len(byTrigger) != 1 || len(byIntent) != 1 || byTrigger[0].ID == byIntent[0].ID {
		t.Errorf("trail must be split by cause: %+v %+v", byTrigger, byIntent)
	}
}
