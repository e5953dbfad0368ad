package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"tradeexec/internal/models"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func expectationsMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

// ============================================================
// InstanceRepository Tests
// ============================================================

var instanceCols = []string{"id", "name", "base_url", "api_key", "strategy", "is_active", "analyzer_mode", "is_primary",
	"rps_limit", "rpm_limit", "ops_limit", "created_at", "updated_at"}

func TestInstanceRepositoryGetActive(t *testing.T) {
	db, mock := newMock(t)
	now := time.Now()

	rows := sqlmock.NewRows(instanceCols).
		AddRow(1, "primary", "http://a:5000", "enc1", "tradeexec", true, false, true, 5, nil, 2, now, now).
		AddRow(2, "backup", "http://b:5000", "enc2", "tradeexec", true, true, false, nil, nil, nil, now, now)
	mock.ExpectQuery(`SELECT .+ FROM instances\s+WHERE is_active = TRUE\s+ORDER BY is_primary DESC, id`).
		WillReturnRows(rows)

	list, err := NewInstanceRepository(db).GetActive(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 instances, got %d", len(list))
	}
	if list[0].RPSLimit == nil || *list[0].RPSLimit != 5 || list[0].RPMLimit != nil {
		t.Errorf("nullable limits not mapped: %+v", list[0])
	}
	if !list[1].AnalyzerMode || list[1].OPSLimit != nil {
		t.Errorf("unexpected second instance %+v", list[1])
	}
	expectationsMet(t, mock)
}

func TestInstanceRepositoryGetByIDNotFound(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(`SELECT .+ FROM instances WHERE id = \$1`).
		WithArgs(9).
		WillReturnError(sql.ErrNoRows)

	_, err := NewInstanceRepository(db).GetByID(context.Background(), 9)
	if !errors.Is(err, ErrInstanceNotFound) {
		t.Errorf("expected ErrInstanceNotFound, got %v", err)
	}
	expectationsMet(t, mock)
}

// ============================================================
// LegStateRepository Tests
// ============================================================

var legCols = []string{"id", "instance_id", "symbol", "exchange", "product", "instrument_type",
	"net_qty", "total_buy_qty", "total_sell_qty", "total_buy_value", "total_sell_value", "weighted_avg_entry", "is_active",
	"current_price", "best_favorable_price",
	"risk_enabled", "risk_config", "tp_price", "sl_price", "tsl_armed", "trailing_stop",
	"last_fill_at", "created_at", "updated_at"}

func TestLegStateRepositoryUpsertPosition(t *testing.T) {
	db, mock := newMock(t)
	fill := time.Now()

	leg := &models.LegState{
		InstanceID: 1, Symbol: "SBIN", Exchange: "NSE", Product: "MIS", InstrumentType: "equity",
		NetQty: 25, TotalBuyQty: 30, TotalSellQty: 5, TotalBuyValue: 3150, TotalSellValue: 600,
		WeightedAvgEntry: 105, IsActive: true, LastFillAt: &fill,
	}

	mock.ExpectQuery(`INSERT INTO leg_state .+ ON CONFLICT \(instance_id, symbol, exchange\) DO UPDATE SET`).
		WithArgs(1, "SBIN", "NSE", "MIS", "equity", 25.0, 30.0, 5.0, 3150.0, 600.0, 105.0, true, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

	if err := NewLegStateRepository(db).UpsertPosition(context.Background(), leg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if leg.ID != 42 {
		t.Errorf("expected ID=42, got %d", leg.ID)
	}
	expectationsMet(t, mock)
}

func TestLegStateRepositoryGetByID(t *testing.T) {
	db, mock := newMock(t)
	now := time.Now()

	rows := sqlmock.NewRows(legCols).AddRow(
		7, 1, "NIFTY24JANFUT", "NFO", "NRML", "future",
		"-50", "0", "50", "0", "1075000", "21500", true,
		"21480", "21450",
		true, []byte(`{"tp_points":100,"sl_points":50,"tsl_trail":30}`), "21400", "21550", false, "0",
		nil, now, now,
	)
	mock.ExpectQuery(`SELECT .+ FROM leg_state WHERE id = \$1`).
		WithArgs(int64(7)).
		WillReturnRows(rows)

	leg, err := NewLegStateRepository(db).GetByID(context.Background(), 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if leg.NetQty != -50 || leg.Side() != models.SideShort {
		t.Errorf("numeric columns not parsed: %+v", leg)
	}
	if leg.Risk.TPPoints != 100 || leg.Risk.TSLTrail != 30 {
		t.Errorf("risk_config not decoded: %+v", leg.Risk)
	}
	if leg.LastFillAt != nil {
		t.Error("NULL last_fill_at must stay nil")
	}
	expectationsMet(t, mock)
}

func TestLegStateRepositoryNotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := NewLegStateRepository(db)

	mock.ExpectQuery(`SELECT .+ FROM leg_state WHERE id = \$1`).
		WithArgs(int64(99)).
		WillReturnError(sql.ErrNoRows)
	if _, err := repo.GetByID(context.Background(), 99); !errors.Is(err, ErrLegNotFound) {
		t.Errorf("expected ErrLegNotFound, got %v", err)
	}

	mock.ExpectExec(`UPDATE leg_state\s+SET current_price`).
		WithArgs(int64(99), 10.0, 11.0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := repo.UpdatePrice(context.Background(), 99, 10, 11); !errors.Is(err, ErrLegNotFound) {
		t.Errorf("zero rows must map to ErrLegNotFound, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestLegStateRepositoryRiskUpdates(t *testing.T) {
	db, mock := newMock(t)
	repo := NewLegStateRepository(db)
	ctx := context.Background()

	mock.ExpectExec(`UPDATE leg_state\s+SET risk_enabled = TRUE, risk_config = \$2, tp_price = \$3, sl_price = \$4,\s+tsl_armed = FALSE`).
		WithArgs(int64(3), sqlmock.AnyArg(), 110.0, 95.0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE leg_state\s+SET tsl_armed = \$2, trailing_stop = \$3`).
		WithArgs(int64(3), true, 104.5, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE leg_state\s+SET risk_enabled = FALSE`).
		WithArgs(int64(3), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.EnableRisk(ctx, 3, models.RiskConfig{TPPoints: 10, SLPoints: 5}, 110, 95); err != nil {
		t.Errorf("EnableRisk: %v", err)
	}
	if err := repo.UpdateTrailing(ctx, 3, true, 104.5); err != nil {
		t.Errorf("UpdateTrailing: %v", err)
	}
	if err := repo.DisableRisk(ctx, 3); err != nil {
		t.Errorf("DisableRisk: %v", err)
	}
	expectationsMet(t, mock)
}

func TestLegStateRepositoryList(t *testing.T) {
	db, mock := newMock(t)
	now := time.Now()

	rows := sqlmock.NewRows(legCols).
		AddRow(1, 2, "SBIN", "NSE", "MIS", "equity", "10", "10", "0", "8125", "0", "812.5", true,
			"0", "0", false, []byte(`{}`), "0", "0", false, "0", now, now, now)
	mock.ExpectQuery(`SELECT .+ FROM leg_state\s+WHERE \(\$1 = 0 OR instance_id = \$1\) AND \(NOT \$2 OR is_active\)`).
		WithArgs(2, true).
		WillReturnRows(rows)

	legs, err := NewLegStateRepository(db).List(context.Background(), 2, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(legs) != 1 || legs[0].LastFillAt == nil {
		t.Errorf("unexpected legs %+v", legs)
	}
	expectationsMet(t, mock)
}

// ============================================================
// TradeIntentRepository Tests
// ============================================================

var intentCols = []string{"id", "intent_id", "instance_id", "symbol", "exchange", "product", "action", "quantity", "position_size",
	"settings_snapshot", "status", "result", "error_message", "created_at", "updated_at", "started_at", "completed_at", "failed_at"}

func TestTradeIntentRepositoryCreateIfAbsent(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectQuery(`INSERT INTO trade_intents .+ ON CONFLICT \(intent_id\) DO NOTHING`).
			WithArgs("i-1", 1, "SBIN", "NSE", "MIS", "BUY", 10.0, 10.0, sqlmock.AnyArg(), models.IntentStatusPending, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(5))

		intent := &models.TradeIntent{IntentID: "i-1", InstanceID: 1, Symbol: "SBIN", Exchange: "NSE", Product: "MIS",
			Action: "BUY", Quantity: 10, PositionSize: 10}
		created, err := NewTradeIntentRepository(db).CreateIfAbsent(context.Background(), intent)
		if err != nil || !created {
			t.Fatalf("expected created, got %v %v", created, err)
		}
		if intent.ID != 5 || intent.Status != models.IntentStatusPending || string(intent.SettingsSnapshot) != "{}" {
			t.Errorf("unexpected intent %+v", intent)
		}
		expectationsMet(t, mock)
	})

	t.Run("duplicate returns existing", func(t *testing.T) {
		db, mock := newMock(t)
		now := time.Now()
		mock.ExpectQuery(`INSERT INTO trade_intents`).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery(`SELECT .+ FROM trade_intents WHERE intent_id = \$1`).
			WithArgs("i-1").
			WillReturnRows(sqlmock.NewRows(intentCols).AddRow(
				5, "i-1", 1, "SBIN", "NSE", "MIS", "BUY", "10", "10",
				[]byte(`{"product":"MIS"}`), models.IntentStatusCompleted, []byte(`{"orderid":"1"}`), "", now, now, now, now, nil))

		intent := &models.TradeIntent{IntentID: "i-1", InstanceID: 1, Quantity: 99}
		created, err := NewTradeIntentRepository(db).CreateIfAbsent(context.Background(), intent)
		if err != nil || created {
			t.Fatalf("expected existing record, got %v %v", created, err)
		}
		if intent.Quantity != 10 || intent.Status != models.IntentStatusCompleted || intent.CompletedAt == nil {
			t.Errorf("first record must be returned, got %+v", intent)
		}
		if string(intent.SettingsSnapshot) != `{"product":"MIS"}` {
			t.Errorf("snapshot not preserved: %s", intent.SettingsSnapshot)
		}
		expectationsMet(t, mock)
	})
}

func TestTradeIntentRepositoryTransition(t *testing.T) {
	db, mock := newMock(t)
	repo := NewTradeIntentRepository(db)
	at := time.Now()

	mock.ExpectExec(`UPDATE trade_intents\s+SET status = \$3`).
		WithArgs("i-1", models.IntentStatusPending, models.IntentStatusExecuting, nil, "", at, at, nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := repo.Transition(context.Background(), "i-1", models.IntentStatusPending, models.IntentStatusExecuting, nil, "", at); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	mock.ExpectExec(`UPDATE trade_intents`).
		WithArgs("i-1", models.IntentStatusExecuting, models.IntentStatusFailed, nil, "rejected", at, nil, nil, at).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.Transition(context.Background(), "i-1", models.IntentStatusExecuting, models.IntentStatusFailed, nil, "rejected", at)
	if !errors.Is(err, ErrIntentStateConflict) {
		t.Errorf("expected ErrIntentStateConflict, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestTradeIntentRepositoryResetForRetry(t *testing.T) {
	db, mock := newMock(t)
	at := time.Now()

	mock.ExpectExec(`UPDATE trade_intents\s+SET status = \$2, error_message = '', result = NULL, failed_at = NULL`).
		WithArgs("i-1", models.IntentStatusPending, at, models.IntentStatusFailed).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := NewTradeIntentRepository(db).ResetForRetry(context.Background(), "i-1", at); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	expectationsMet(t, mock)
}

func TestTradeIntentRepositoryLinks(t *testing.T) {
	db, mock := newMock(t)
	repo := NewTradeIntentRepository(db)
	now := time.Now()

	mock.ExpectExec(`INSERT INTO trade_intent_orders .+ ON CONFLICT \(intent_id, order_audit_id\) DO NOTHING`).
		WithArgs("i-1", int64(11), "B-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT intent_id, order_audit_id, broker_order_id, created_at\s+FROM trade_intent_orders`).
		WithArgs("i-1").
		WillReturnRows(sqlmock.NewRows([]string{"intent_id", "order_audit_id", "broker_order_id", "created_at"}).
			AddRow("i-1", 11, "B-1", now))

	if err := repo.LinkOrder(context.Background(), &models.TradeIntentOrder{IntentID: "i-1", OrderAuditID: 11, BrokerOrderID: "B-1"}); err != nil {
		t.Fatal(err)
	}
	links, err := repo.GetLinkedOrders(context.Background(), "i-1")
	if err != nil || len(links) != 1 || links[0].BrokerOrderID != "B-1" {
		t.Errorf("unexpected links %+v %v", links, err)
	}
	expectationsMet(t, mock)
}

func TestTradeIntentRepositoryCountByStatus(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(`SELECT status, COUNT\(\*\) FROM trade_intents GROUP BY status`).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("pending", 2).AddRow("failed", 1))

	counts, err := NewTradeIntentRepository(db).CountByStatus(context.Background())
	if err != nil || counts["pending"] != 2 || counts["failed"] != 1 || counts["completed"] != 0 {
		t.Errorf("unexpected counts %v %v", counts, err)
	}
	expectationsMet(t, mock)
}

// ============================================================
// RiskExitRepository Tests
// ============================================================

func TestRiskExitRepositoryCreate(t *testing.T) {
	exit := func() *models.RiskExit {
		return &models.RiskExit{
			TriggerID: "t-1", LegID: 3, Reason: models.ExitReasonStopLoss, TriggerPrice: 95,
			ExitOrders: models.ExitOrders{{Symbol: "SBIN", Exchange: "NSE", Action: "SELL", Quantity: 10, PriceType: "MARKET"}},
		}
	}

	t.Run("success", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectQuery(`INSERT INTO risk_exits`).
			WithArgs("t-1", int64(3), models.ExitReasonStopLoss, 95.0, sqlmock.AnyArg(), models.RiskExitStatusPending, 1, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(8))

		e := exit()
		if err := NewRiskExitRepository(db).Create(context.Background(), e); err != nil {
			t.Fatal(err)
		}
		if e.ID != 8 || e.TotalOrders != 1 || e.Status != models.RiskExitStatusPending {
			t.Errorf("unexpected exit %+v", e)
		}
		expectationsMet(t, mock)
	})

	t.Run("open exit exists", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectQuery(`INSERT INTO risk_exits`).
			WillReturnError(&pq.Error{Code: "23505"})

		err := NewRiskExitRepository(db).Create(context.Background(), exit())
		if !errors.Is(err, ErrRiskExitOpen) {
			t.Errorf("expected ErrRiskExitOpen, got %v", err)
		}
		expectationsMet(t, mock)
	})
}

func TestRiskExitRepositoryGetPending(t *testing.T) {
	db, mock := newMock(t)
	now := time.Now()

	cols := []string{"id", "trigger_id", "leg_id", "reason", "trigger_price", "exit_orders", "status",
		"partial_success", "orders_placed", "total_orders", "error_message", "created_at", "updated_at",
		"executed_at", "completed_at", "instance_id", "symbol", "exchange"}
	mock.ExpectQuery(`SELECT .+ FROM risk_exits e\s+JOIN leg_state l ON l.id = e.leg_id\s+WHERE e.status IN \('pending', 'executing'\)`).
		WithArgs(50).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			1, "t-1", 3, "target", "110", []byte(`[{"symbol":"SBIN","action":"SELL","quantity":10}]`), "pending",
			false, 0, 1, "", now, now, nil, nil, 2, "SBIN", "NSE"))

	pending, err := NewRiskExitRepository(db).GetPending(context.Background(), 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending exit, got %d", len(pending))
	}
	p := pending[0]
	if p.InstanceID != 2 || p.Symbol != "SBIN" || len(p.ExitOrders) != 1 || p.ExitOrders[0].Quantity != 10 {
		t.Errorf("unexpected pending exit %+v", p)
	}
	expectationsMet(t, mock)
}

func TestRiskExitRepositoryLifecycle(t *testing.T) {
	db, mock := newMock(t)
	repo := NewRiskExitRepository(db)
	ctx := context.Background()
	at := time.Now()

	mock.ExpectExec(`UPDATE risk_exits\s+SET status = 'executing'`).
		WithArgs(int64(1), at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE risk_exits\s+SET status = 'executing'`).
		WithArgs(int64(1), at).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`UPDATE risk_exits\s+SET status = 'completed'`).
		WithArgs(int64(1), true, 1, 2, "order 2: rejected", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE risk_exits\s+SET status = 'failed'`).
		WithArgs(int64(2), 0, 1, "analyzer mode", at).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if ok, err := repo.MarkExecuting(ctx, 1, at); err != nil || !ok {
		t.Errorf("first claim must succeed: %v %v", ok, err)
	}
	if ok, err := repo.MarkExecuting(ctx, 1, at); err != nil || ok {
		t.Errorf("claim of a finished exit must fail: %v %v", ok, err)
	}
	if err := repo.Complete(ctx, 1, true, 1, 2, "order 2: rejected", at); err != nil {
		t.Errorf("Complete: %v", err)
	}
	if err := repo.Fail(ctx, 2, 0, 1, "analyzer mode", at); !errors.Is(err, ErrRiskExitNotFound) {
		t.Errorf("expected ErrRiskExitNotFound, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestRiskExitRepositoryCounts(t *testing.T) {
	db, mock := newMock(t)
	repo := NewRiskExitRepository(db)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`SELECT status, COUNT\(\*\) FROM risk_exits GROUP BY status`).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).AddRow("completed", 4))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM risk_exits WHERE status = 'completed' AND partial_success`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	if open, err := repo.HasOpen(context.Background(), 3); err != nil || !open {
		t.Errorf("HasOpen = %v, %v", open, err)
	}
	if counts, err := repo.CountByStatus(context.Background()); err != nil || counts["completed"] != 4 {
		t.Errorf("CountByStatus = %v, %v", counts, err)
	}
	if n, err := repo.CountPartial(context.Background()); err != nil || n != 1 {
		t.Errorf("CountPartial = %d, %v", n, err)
	}
	expectationsMet(t, mock)
}

func TestRiskExitRepositoryFailureStreak(t *testing.T) {
	last := time.Date(2026, 3, 2, 10, 15, 0, 0, time.UTC)
	tests := []struct {
		name     string
		rows     *sqlmock.Rows
		wantN    int
		wantLast time.Time
	}{
		{"failures after last completion", sqlmock.NewRows([]string{"count", "max"}).AddRow(2, last), 2, last},
		{"no failures", sqlmock.NewRows([]string{"count", "max"}).AddRow(0, nil), 0, time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMock(t)
			repo := NewRiskExitRepository(db)
			mock.ExpectQuery(`SELECT COUNT\(\*\), MAX\(e.updated_at\)\s+FROM risk_exits e\s+WHERE e.leg_id = \$1 AND e.status = 'failed'`).
				WithArgs(int64(3)).
				WillReturnRows(tt.rows)

			n, at, err := repo.FailureStreak(context.Background(), 3)
			if err != nil {
				t.Fatal(err)
			}
			if n != tt.wantN || !at.Equal(tt.wantLast) {
				t.Errorf("FailureStreak = %d, %v; want %d, %v", n, at, tt.wantN, tt.wantLast)
			}
			expectationsMet(t, mock)
		})
	}
}

// ============================================================
// OrderAuditRepository Tests
// ============================================================

func TestOrderAuditRepositoryCreateAndList(t *testing.T) {
	db, mock := newMock(t)
	repo := NewOrderAuditRepository(db)
	now := time.Now()
	trigger := "t-1"
	size := 0.0

	mock.ExpectQuery(`INSERT INTO order_audit`).
		WithArgs(2, nil, "t-1", "placesmartorder", "SBIN", "NSE", "MIS", "SELL", "MARKET", 10.0, 0.0,
			"B-9", models.AuditStatusSuccess, true, "", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(77))

	a := &models.OrderAudit{
		InstanceID: 2, TriggerID: &trigger, Endpoint: "placesmartorder", Symbol: "SBIN", Exchange: "NSE",
		Product: "MIS", Action: "SELL", PriceType: "MARKET", Quantity: 10, PositionSize: &size,
		BrokerOrderID: "B-9", Status: models.AuditStatusSuccess, Deduplicated: true,
	}
	if err := repo.Create(context.Background(), a); err != nil {
		t.Fatal(err)
	}
	if a.ID != 77 {
		t.Errorf("expected ID=77, got %d", a.ID)
	}

	cols := []string{"id", "instance_id", "intent_id", "trigger_id", "endpoint", "symbol", "exchange", "product", "action",
		"pricetype", "quantity", "position_size", "broker_order_id", "status", "deduplicated", "error_message", "created_at"}
	mock.ExpectQuery(`SELECT .+ FROM order_audit WHERE trigger_id = \$1`).
		WithArgs("t-1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(77, 2, nil, "t-1", "placesmartorder", "SBIN", "NSE", "MIS", "SELL", "MARKET", "10", "0", "B-9", "success", true, "", now))

	list, err := repo.ListByTriggerID(context.Background(), "t-1")
	if err != nil || len(list) != 1 {
		t.Fatalf("unexpected list %v %v", list, err)
	}
	if list[0].IntentID != nil || list[0].TriggerID == nil || *list[0].TriggerID != "t-1" || list[0].PositionSize == nil {
		t.Errorf("nullable columns not mapped: %+v", list[0])
	}
	expectationsMet(t, mock)
}
