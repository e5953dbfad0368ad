package repository

import (
	"context"
	"database/sql"
	"errors"

	"tradeexec/internal/models"
)

// Ошибки репозитория инстансов
var (
	ErrInstanceNotFound = errors.New("instance not found")
)

const instanceColumns = `id, name, base_url, api_key, strategy, is_active, analyzer_mode, is_primary,
		rps_limit, rpm_limit, ops_limit, created_at, updated_at`

// InstanceRepository - работа с таблицей instances
type InstanceRepository struct {
	db *sql.DB
}

// NewInstanceRepository создает новый экземпляр репозитория
func NewInstanceRepository(db *sql.DB) *InstanceRepository {
	return &InstanceRepository{db: db}
}

// rowScanner - общий интерфейс *sql.Row и *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInstance(s rowScanner) (*models.Instance, error) {
	inst := &models.Instance{}
	var rps, rpm, ops sql.NullInt64
	err := s.Scan(
		&inst.ID,
		&inst.Name,
		&inst.BaseURL,
		&inst.APIKey,
		&inst.Strategy,
		&inst.IsActive,
		&inst.AnalyzerMode,
		&inst.IsPrimary,
		&rps,
		&rpm,
		&ops,
		&inst.CreatedAt,
		&inst.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	inst.RPSLimit = nullIntPtr(rps)
	inst.RPMLimit = nullIntPtr(rpm)
	inst.OPSLimit = nullIntPtr(ops)
	return inst, nil
}

func nullIntPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

// GetByID возвращает инстанс по ID
func (r *InstanceRepository) GetByID(ctx context.Context, id int) (*models.Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM instances WHERE id = $1`

	inst, err := scanInstance(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInstanceNotFound
		}
		return nil, err
	}
	return inst, nil
}

// GetActive возвращает активные инстансы, основной первым
func (r *InstanceRepository) GetActive(ctx context.Context) ([]*models.Instance, error) {
	query := `SELECT ` + instanceColumns + `
		FROM instances
		WHERE is_active = TRUE
		ORDER BY is_primary DESC, id`
	return r.list(ctx, query)
}

// GetAll возвращает все инстансы
func (r *InstanceRepository) GetAll(ctx context.Context) ([]*models.Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM instances ORDER BY id`
	return r.list(ctx, query)
}

func (r *InstanceRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.Instance, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
