package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"tradeexec/internal/models"
)

// Ошибки репозитория ног
var (
	ErrLegNotFound = errors.New("leg not found")
)

const legColumns = `id, instance_id, symbol, exchange, product, instrument_type,
		net_qty, total_buy_qty, total_sell_qty, total_buy_value, total_sell_value, weighted_avg_entry, is_active,
		current_price, best_favorable_price,
		risk_enabled, risk_config, tp_price, sl_price, tsl_armed, trailing_stop,
		last_fill_at, created_at, updated_at`

// LegStateRepository - работа с таблицей leg_state.
// Записи не удаляются: у репозитория нет Delete.
type LegStateRepository struct {
	db *sql.DB
}

// NewLegStateRepository создает новый экземпляр репозитория
func NewLegStateRepository(db *sql.DB) *LegStateRepository {
	return &LegStateRepository{db: db}
}

func scanLeg(s rowScanner) (*models.LegState, error) {
	leg := &models.LegState{}
	var lastFill sql.NullTime
	err := s.Scan(
		&leg.ID,
		&leg.InstanceID,
		&leg.Symbol,
		&leg.Exchange,
		&leg.Product,
		&leg.InstrumentType,
		&leg.NetQty,
		&leg.TotalBuyQty,
		&leg.TotalSellQty,
		&leg.TotalBuyValue,
		&leg.TotalSellValue,
		&leg.WeightedAvgEntry,
		&leg.IsActive,
		&leg.CurrentPrice,
		&leg.BestFavorablePrice,
		&leg.RiskEnabled,
		&leg.Risk,
		&leg.TPPrice,
		&leg.SLPrice,
		&leg.TSLArmed,
		&leg.TrailingStop,
		&lastFill,
		&leg.CreatedAt,
		&leg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastFill.Valid {
		t := lastFill.Time
		leg.LastFillAt = &t
	}
	return leg, nil
}

// UpsertPosition создает ногу или обновляет поля позиции.
// Цены и риск-поля существующей записи не трогаются.
func (r *LegStateRepository) UpsertPosition(ctx context.Context, leg *models.LegState) error {
	query := `
		INSERT INTO leg_state (instance_id, symbol, exchange, product, instrument_type,
			net_qty, total_buy_qty, total_sell_qty, total_buy_value, total_sell_value, weighted_avg_entry,
			is_active, last_fill_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)
		ON CONFLICT (instance_id, symbol, exchange) DO UPDATE SET
			product = CASE WHEN EXCLUDED.product <> '' THEN EXCLUDED.product ELSE leg_state.product END,
			instrument_type = CASE WHEN leg_state.instrument_type = '' THEN EXCLUDED.instrument_type ELSE leg_state.instrument_type END,
			net_qty = EXCLUDED.net_qty,
			total_buy_qty = EXCLUDED.total_buy_qty,
			total_sell_qty = EXCLUDED.total_sell_qty,
			total_buy_value = EXCLUDED.total_buy_value,
			total_sell_value = EXCLUDED.total_sell_value,
			weighted_avg_entry = EXCLUDED.weighted_avg_entry,
			is_active = EXCLUDED.is_active,
			last_fill_at = COALESCE(EXCLUDED.last_fill_at, leg_state.last_fill_at),
			updated_at = EXCLUDED.updated_at
		RETURNING id`

	now := time.Now()
	leg.UpdatedAt = now

	return r.db.QueryRowContext(ctx, query,
		leg.InstanceID,
		leg.Symbol,
		leg.Exchange,
		leg.Product,
		leg.InstrumentType,
		leg.NetQty,
		leg.TotalBuyQty,
		leg.TotalSellQty,
		leg.TotalBuyValue,
		leg.TotalSellValue,
		leg.WeightedAvgEntry,
		leg.IsActive,
		leg.LastFillAt,
		now,
	).Scan(&leg.ID)
}

// GetByID возвращает ногу по ID
func (r *LegStateRepository) GetByID(ctx context.Context, id int64) (*models.LegState, error) {
	query := `SELECT ` + legColumns + ` FROM leg_state WHERE id = $1`
	return r.one(ctx, query, id)
}

// GetByKey возвращает ногу по (instance, symbol, exchange)
func (r *LegStateRepository) GetByKey(ctx context.Context, instanceID int, symbol, exchange string) (*models.LegState, error) {
	query := `SELECT ` + legColumns + `
		FROM leg_state
		WHERE instance_id = $1 AND symbol = $2 AND exchange = $3`
	return r.one(ctx, query, instanceID, symbol, exchange)
}

// GetRiskEnabled возвращает ноги с включенным риском
func (r *LegStateRepository) GetRiskEnabled(ctx context.Context) ([]*models.LegState, error) {
	query := `SELECT ` + legColumns + `
		FROM leg_state
		WHERE risk_enabled = TRUE
		ORDER BY instance_id, id`
	return r.list(ctx, query)
}

// List возвращает ноги инстанса (instanceID = 0 - всех инстансов)
func (r *LegStateRepository) List(ctx context.Context, instanceID int, activeOnly bool) ([]*models.LegState, error) {
	query := `SELECT ` + legColumns + `
		FROM leg_state
		WHERE ($1 = 0 OR instance_id = $1) AND (NOT $2 OR is_active)
		ORDER BY instance_id, symbol`
	return r.list(ctx, query, instanceID, activeOnly)
}

// UpdatePrice записывает текущую цену и экстремум
func (r *LegStateRepository) UpdatePrice(ctx context.Context, id int64, price, bestFavorable float64) error {
	query := `
		UPDATE leg_state
		SET current_price = $2, best_favorable_price = $3, updated_at = $4
		WHERE id = $1`
	return r.exec(ctx, query, id, price, bestFavorable, time.Now())
}

// UpdateTrailing записывает состояние трейлинг-стопа
func (r *LegStateRepository) UpdateTrailing(ctx context.Context, id int64, armed bool, stop float64) error {
	query := `
		UPDATE leg_state
		SET tsl_armed = $2, trailing_stop = $3, updated_at = $4
		WHERE id = $1`
	return r.exec(ctx, query, id, armed, stop, time.Now())
}

// EnableRisk включает риск с рассчитанными TP/SL и сбрасывает TSL
func (r *LegStateRepository) EnableRisk(ctx context.Context, id int64, cfg models.RiskConfig, tp, sl float64) error {
	query := `
		UPDATE leg_state
		SET risk_enabled = TRUE, risk_config = $2, tp_price = $3, sl_price = $4,
			tsl_armed = FALSE, trailing_stop = 0, best_favorable_price = 0,
			risk_enabled_at = $5, updated_at = $5
		WHERE id = $1`
	return r.exec(ctx, query, id, cfg, tp, sl, time.Now())
}

// DisableRisk выключает риск, конфигурация сохраняется
func (r *LegStateRepository) DisableRisk(ctx context.Context, id int64) error {
	query := `
		UPDATE leg_state
		SET risk_enabled = FALSE, tsl_armed = FALSE, trailing_stop = 0, updated_at = $2
		WHERE id = $1`
	return r.exec(ctx, query, id, time.Now())
}

func (r *LegStateRepository) one(ctx context.Context, query string, args ...interface{}) (*models.LegState, error) {
	leg, err := scanLeg(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLegNotFound
		}
		return nil, err
	}
	return leg, nil
}

func (r *LegStateRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.LegState, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var legs []*models.LegState
	for rows.Next() {
		leg, err := scanLeg(rows)
		if err != nil {
			return nil, err
		}
		legs = append(legs, leg)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return legs, nil
}

func (r *LegStateRepository) exec(ctx context.Context, query string, args ...interface{}) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrLegNotFound
	}
	return nil
}
