package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"tradeexec/internal/models"
)

// Ошибки репозитория риск-выходов
var (
	ErrRiskExitNotFound = errors.New("risk exit not found")
	ErrRiskExitOpen     = errors.New("leg already has an open risk exit")
)

const riskExitColumns = `id, trigger_id, leg_id, reason, trigger_price, exit_orders, status,
		partial_success, orders_placed, total_orders, error_message, created_at, updated_at, executed_at, completed_at`

// RiskExitRepository - работа с таблицей risk_exits
type RiskExitRepository struct {
	db *sql.DB
}

// NewRiskExitRepository создает новый экземпляр репозитория
func NewRiskExitRepository(db *sql.DB) *RiskExitRepository {
	return &RiskExitRepository{db: db}
}

func scanRiskExit(s rowScanner, extra ...interface{}) (*models.RiskExit, error) {
	e := &models.RiskExit{}
	var executed, completed sql.NullTime
	dest := []interface{}{
		&e.ID,
		&e.TriggerID,
		&e.LegID,
		&e.Reason,
		&e.TriggerPrice,
		&e.ExitOrders,
		&e.Status,
		&e.PartialSuccess,
		&e.OrdersPlaced,
		&e.TotalOrders,
		&e.ErrorMessage,
		&e.CreatedAt,
		&e.UpdatedAt,
		&executed,
		&completed,
	}
	if err := s.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	e.ExecutedAt = nullTimePtr(executed)
	e.CompletedAt = nullTimePtr(completed)
	return e, nil
}

// isUniqueViolation - нарушение уникального индекса Postgres
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// Create сохраняет сработавший триггер в статусе pending.
// Второй открытый выход на ту же ногу отклоняется уникальным индексом.
func (r *RiskExitRepository) Create(ctx context.Context, e *models.RiskExit) error {
	query := `
		INSERT INTO risk_exits (trigger_id, leg_id, reason, trigger_price, exit_orders, status, total_orders, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		RETURNING id`

	now := time.Now()
	e.Status = models.RiskExitStatusPending
	e.TotalOrders = len(e.ExitOrders)
	e.CreatedAt = now
	e.UpdatedAt = now

	err := r.db.QueryRowContext(ctx, query,
		e.TriggerID,
		e.LegID,
		e.Reason,
		e.TriggerPrice,
		e.ExitOrders,
		e.Status,
		e.TotalOrders,
		now,
	).Scan(&e.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrRiskExitOpen
		}
		return err
	}
	return nil
}

// HasOpen - есть ли у ноги выход в статусе pending или executing
func (r *RiskExitRepository) HasOpen(ctx context.Context, legID int64) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM risk_exits
			WHERE leg_id = $1 AND status IN ('pending', 'executing')
		)`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, legID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// FailureStreak считает неудачные выходы ноги подряд: после последнего
// завершённого выхода и последнего включения риска. last - время последней неудачи.
func (r *RiskExitRepository) FailureStreak(ctx context.Context, legID int64) (int, time.Time, error) {
	query := `
		SELECT COUNT(*), MAX(e.updated_at)
		FROM risk_exits e
		WHERE e.leg_id = $1 AND e.status = 'failed'
			AND e.updated_at > GREATEST(
				COALESCE((SELECT MAX(c.updated_at) FROM risk_exits c
					WHERE c.leg_id = $1 AND c.status = 'completed'), 'epoch'::timestamptz),
				COALESCE((SELECT l.risk_enabled_at FROM leg_state l WHERE l.id = $1), 'epoch'::timestamptz))`

	var (
		count int
		last  sql.NullTime
	)
	if err := r.db.QueryRowContext(ctx, query, legID).Scan(&count, &last); err != nil {
		return 0, time.Time{}, err
	}
	return count, last.Time, nil
}

// GetPending возвращает незавершённые (pending и executing) выходы
// вместе с инстансом и символом ноги, старые первыми.
// executing попадает сюда после рестарта посреди исполнения.
func (r *RiskExitRepository) GetPending(ctx context.Context, limit int) ([]*models.PendingRiskExit, error) {
	query := `
		SELECT e.id, e.trigger_id, e.leg_id, e.reason, e.trigger_price, e.exit_orders, e.status,
			e.partial_success, e.orders_placed, e.total_orders, e.error_message, e.created_at, e.updated_at,
			e.executed_at, e.completed_at,
			l.instance_id, l.symbol, l.exchange
		FROM risk_exits e
		JOIN leg_state l ON l.id = e.leg_id
		WHERE e.status IN ('pending', 'executing')
		ORDER BY e.created_at
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.PendingRiskExit
	for rows.Next() {
		p := &models.PendingRiskExit{}
		e, err := scanRiskExit(rows, &p.InstanceID, &p.Symbol, &p.Exchange)
		if err != nil {
			return nil, err
		}
		p.RiskExit = *e
		out = append(out, p)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetByTriggerID возвращает выход по идентификатору триггера
func (r *RiskExitRepository) GetByTriggerID(ctx context.Context, triggerID string) (*models.RiskExit, error) {
	query := `SELECT ` + riskExitColumns + ` FROM risk_exits WHERE trigger_id = $1`

	e, err := scanRiskExit(r.db.QueryRowContext(ctx, query, triggerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRiskExitNotFound
		}
		return nil, err
	}
	return e, nil
}

// ListByLeg возвращает последние выходы ноги
func (r *RiskExitRepository) ListByLeg(ctx context.Context, legID int64, limit int) ([]*models.RiskExit, error) {
	query := `SELECT ` + riskExitColumns + `
		FROM risk_exits
		WHERE leg_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, legID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.RiskExit
	for rows.Next() {
		e, err := scanRiskExit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// MarkExecuting захватывает выход: pending -> executing.
// Повторный захват executing разрешён (повторное исполнение после рестарта),
// false - выход уже завершён.
func (r *RiskExitRepository) MarkExecuting(ctx context.Context, id int64, at time.Time) (bool, error) {
	query := `
		UPDATE risk_exits
		SET status = 'executing', executed_at = COALESCE(executed_at, $2), updated_at = $2
		WHERE id = $1 AND status IN ('pending', 'executing')`

	res, err := r.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// Complete завершает выход; partial - размещена только часть ордеров
func (r *RiskExitRepository) Complete(ctx context.Context, id int64, partial bool, placed, total int, errMsg string, at time.Time) error {
	query := `
		UPDATE risk_exits
		SET status = 'completed', partial_success = $2, orders_placed = $3, total_orders = $4,
			error_message = $5, completed_at = $6, updated_at = $6
		WHERE id = $1 AND status = 'executing'`
	return r.finish(ctx, query, id, partial, placed, total, errMsg, at)
}

// Fail переводит выход в failed
func (r *RiskExitRepository) Fail(ctx context.Context, id int64, placed, total int, errMsg string, at time.Time) error {
	query := `
		UPDATE risk_exits
		SET status = 'failed', orders_placed = $2, total_orders = $3, error_message = $4, updated_at = $5
		WHERE id = $1 AND status IN ('pending', 'executing')`
	return r.finish(ctx, query, id, placed, total, errMsg, at)
}

func (r *RiskExitRepository) finish(ctx context.Context, query string, id int64, args ...interface{}) error {
	res, err := r.db.ExecContext(ctx, query, append([]interface{}{id}, args...)...)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrRiskExitNotFound
	}
	return nil
}

// CountByStatus - количество выходов по статусам
func (r *RiskExitRepository) CountByStatus(ctx context.Context) (map[string]int, error) {
	return countByStatus(ctx, r.db, `SELECT status, COUNT(*) FROM risk_exits GROUP BY status`)
}

// CountPartial - завершённые выходы с частичным размещением
func (r *RiskExitRepository) CountPartial(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM risk_exits WHERE status = 'completed' AND partial_success`).Scan(&n)
	return n, err
}
