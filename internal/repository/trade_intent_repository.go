package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"tradeexec/internal/models"
)

// Ошибки репозитория намерений
var (
	ErrIntentNotFound      = errors.New("trade intent not found")
	ErrIntentStateConflict = errors.New("trade intent status changed concurrently")
)

const intentColumns = `id, intent_id, instance_id, symbol, exchange, product, action, quantity, position_size,
		settings_snapshot, status, result, error_message, created_at, updated_at, started_at, completed_at, failed_at`

// TradeIntentRepository - работа с таблицами trade_intents и trade_intent_orders
type TradeIntentRepository struct {
	db *sql.DB
}

// NewTradeIntentRepository создает новый экземпляр репозитория
func NewTradeIntentRepository(db *sql.DB) *TradeIntentRepository {
	return &TradeIntentRepository{db: db}
}

func scanIntent(s rowScanner) (*models.TradeIntent, error) {
	intent := &models.TradeIntent{}
	var snapshot, result []byte
	var started, completed, failed sql.NullTime
	err := s.Scan(
		&intent.ID,
		&intent.IntentID,
		&intent.InstanceID,
		&intent.Symbol,
		&intent.Exchange,
		&intent.Product,
		&intent.Action,
		&intent.Quantity,
		&intent.PositionSize,
		&snapshot,
		&intent.Status,
		&result,
		&intent.ErrorMessage,
		&intent.CreatedAt,
		&intent.UpdatedAt,
		&started,
		&completed,
		&failed,
	)
	if err != nil {
		return nil, err
	}
	intent.SettingsSnapshot = json.RawMessage(snapshot)
	if len(result) > 0 {
		intent.Result = json.RawMessage(result)
	}
	intent.StartedAt = nullTimePtr(started)
	intent.CompletedAt = nullTimePtr(completed)
	intent.FailedAt = nullTimePtr(failed)
	return intent, nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func rawOrNil(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// CreateIfAbsent создает намерение, если intent_id ещё не занят.
// При повторе intent заполняется существующей записью и возвращается false.
func (r *TradeIntentRepository) CreateIfAbsent(ctx context.Context, intent *models.TradeIntent) (bool, error) {
	query := `
		INSERT INTO trade_intents (intent_id, instance_id, symbol, exchange, product, action, quantity, position_size,
			settings_snapshot, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		ON CONFLICT (intent_id) DO NOTHING
		RETURNING id`

	now := time.Now()
	snapshot := intent.SettingsSnapshot
	if len(snapshot) == 0 {
		snapshot = json.RawMessage("{}")
	}

	err := r.db.QueryRowContext(ctx, query,
		intent.IntentID,
		intent.InstanceID,
		intent.Symbol,
		intent.Exchange,
		intent.Product,
		intent.Action,
		intent.Quantity,
		intent.PositionSize,
		[]byte(snapshot),
		models.IntentStatusPending,
		now,
	).Scan(&intent.ID)

	if errors.Is(err, sql.ErrNoRows) {
		existing, gerr := r.GetByIntentID(ctx, intent.IntentID)
		if gerr != nil {
			return false, gerr
		}
		*intent = *existing
		return false, nil
	}
	if err != nil {
		return false, err
	}

	intent.SettingsSnapshot = snapshot
	intent.Status = models.IntentStatusPending
	intent.CreatedAt = now
	intent.UpdatedAt = now
	return true, nil
}

// GetByIntentID возвращает намерение по внешнему идентификатору
func (r *TradeIntentRepository) GetByIntentID(ctx context.Context, intentID string) (*models.TradeIntent, error) {
	query := `SELECT ` + intentColumns + ` FROM trade_intents WHERE intent_id = $1`

	intent, err := scanIntent(r.db.QueryRowContext(ctx, query, intentID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrIntentNotFound
		}
		return nil, err
	}
	return intent, nil
}

// Transition меняет статус from -> to, проставляя метку времени статуса.
// Если статус в БД уже не from, возвращается ErrIntentStateConflict.
func (r *TradeIntentRepository) Transition(ctx context.Context, intentID, from, to string, result json.RawMessage, errMsg string, at time.Time) error {
	query := `
		UPDATE trade_intents
		SET status = $3,
			result = COALESCE($4, result),
			error_message = $5,
			updated_at = $6,
			started_at = COALESCE($7, started_at),
			completed_at = COALESCE($8, completed_at),
			failed_at = COALESCE($9, failed_at)
		WHERE intent_id = $1 AND status = $2`

	var started, completed, failed *time.Time
	switch to {
	case models.IntentStatusExecuting:
		started = &at
	case models.IntentStatusCompleted:
		completed = &at
	case models.IntentStatusFailed:
		failed = &at
	}

	res, err := r.db.ExecContext(ctx, query, intentID, from, to, rawOrNil(result), errMsg, at, started, completed, failed)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrIntentStateConflict
	}
	return nil
}

// ResetForRetry возвращает failed-намерение в pending
func (r *TradeIntentRepository) ResetForRetry(ctx context.Context, intentID string, at time.Time) error {
	query := `
		UPDATE trade_intents
		SET status = $2, error_message = '', result = NULL, failed_at = NULL, updated_at = $3
		WHERE intent_id = $1 AND status = $4`

	res, err := r.db.ExecContext(ctx, query, intentID, models.IntentStatusPending, at, models.IntentStatusFailed)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrIntentStateConflict
	}
	return nil
}

// LinkOrder связывает намерение с записью аудита ордера. Повторная связь игнорируется.
func (r *TradeIntentRepository) LinkOrder(ctx context.Context, link *models.TradeIntentOrder) error {
	query := `
		INSERT INTO trade_intent_orders (intent_id, order_audit_id, broker_order_id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (intent_id, order_audit_id) DO NOTHING`

	link.CreatedAt = time.Now()
	_, err := r.db.ExecContext(ctx, query, link.IntentID, link.OrderAuditID, link.BrokerOrderID, link.CreatedAt)
	return err
}

// GetLinkedOrders возвращает связанные ордера намерения
func (r *TradeIntentRepository) GetLinkedOrders(ctx context.Context, intentID string) ([]*models.TradeIntentOrder, error) {
	query := `
		SELECT intent_id, order_audit_id, broker_order_id, created_at
		FROM trade_intent_orders
		WHERE intent_id = $1
		ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, intentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []*models.TradeIntentOrder
	for rows.Next() {
		link := &models.TradeIntentOrder{}
		if err := rows.Scan(&link.IntentID, &link.OrderAuditID, &link.BrokerOrderID, &link.CreatedAt); err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return links, nil
}

// CountByStatus - количество намерений по статусам
func (r *TradeIntentRepository) CountByStatus(ctx context.Context) (map[string]int, error) {
	return countByStatus(ctx, r.db, `SELECT status, COUNT(*) FROM trade_intents GROUP BY status`)
}

func countByStatus(ctx context.Context, db *sql.DB, query string) (map[string]int, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return counts, nil
}
