package repository

import (
	"context"
	"database/sql"
	"time"

	"tradeexec/internal/models"
)

const auditColumns = `id, instance_id, intent_id, trigger_id, endpoint, symbol, exchange, product, action, pricetype,
		quantity, position_size, broker_order_id, status, deduplicated, error_message, created_at`

// OrderAuditRepository - журнал всех размещений ордеров
type OrderAuditRepository struct {
	db *sql.DB
}

// NewOrderAuditRepository создает новый экземпляр репозитория
func NewOrderAuditRepository(db *sql.DB) *OrderAuditRepository {
	return &OrderAuditRepository{db: db}
}

// Create добавляет запись аудита
func (r *OrderAuditRepository) Create(ctx context.Context, a *models.OrderAudit) error {
	query := `
		INSERT INTO order_audit (instance_id, intent_id, trigger_id, endpoint, symbol, exchange, product, action,
			pricetype, quantity, position_size, broker_order_id, status, deduplicated, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id`

	a.CreatedAt = time.Now()

	return r.db.QueryRowContext(ctx, query,
		a.InstanceID,
		a.IntentID,
		a.TriggerID,
		a.Endpoint,
		a.Symbol,
		a.Exchange,
		a.Product,
		a.Action,
		a.PriceType,
		a.Quantity,
		a.PositionSize,
		a.BrokerOrderID,
		a.Status,
		a.Deduplicated,
		a.ErrorMessage,
		a.CreatedAt,
	).Scan(&a.ID)
}

// ListByIntentID - записи аудита намерения
func (r *OrderAuditRepository) ListByIntentID(ctx context.Context, intentID string) ([]*models.OrderAudit, error) {
	query := `SELECT ` + auditColumns + ` FROM order_audit WHERE intent_id = $1 ORDER BY id`
	return r.list(ctx, query, intentID)
}

// ListByTriggerID - записи аудита риск-выхода
func (r *OrderAuditRepository) ListByTriggerID(ctx context.Context, triggerID string) ([]*models.OrderAudit, error) {
	query := `SELECT ` + auditColumns + ` FROM order_audit WHERE trigger_id = $1 ORDER BY id`
	return r.list(ctx, query, triggerID)
}

func (r *OrderAuditRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.OrderAudit, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.OrderAudit
	for rows.Next() {
		a := &models.OrderAudit{}
		var intentID, triggerID sql.NullString
		var positionSize sql.NullFloat64
		err := rows.Scan(
			&a.ID,
			&a.InstanceID,
			&intentID,
			&triggerID,
			&a.Endpoint,
			&a.Symbol,
			&a.Exchange,
			&a.Product,
			&a.Action,
			&a.PriceType,
			&a.Quantity,
			&positionSize,
			&a.BrokerOrderID,
			&a.Status,
			&a.Deduplicated,
			&a.ErrorMessage,
			&a.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		if intentID.Valid {
			a.IntentID = &intentID.String
		}
		if triggerID.Valid {
			a.TriggerID = &triggerID.String
		}
		if positionSize.Valid {
			a.PositionSize = &positionSize.Float64
		}
		out = append(out, a)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
