package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tradeexec/internal/apperr"
	"tradeexec/internal/broker"
	"tradeexec/internal/models"
	"tradeexec/internal/repository"
	"tradeexec/pkg/crypto"
	"tradeexec/pkg/ratelimit"
	"tradeexec/pkg/utils"
)

// DefaultInstanceTTL - как долго держится кэш активных инстансов
const DefaultInstanceTTL = 30 * time.Second

// InstanceService - реестр инстансов шлюза.
//
// Загружает инстансы из БД, расшифровывает API-ключи (AES-256-GCM)
// и кэширует результат на короткое время, чтобы поллеры не ходили в БД каждый тик.
// Инстанс с нерасшифровываемым ключом пропускается с предупреждением.
type InstanceService struct {
	repo   InstanceRepositoryInterface
	cipher *crypto.Cipher
	ttl    time.Duration
	logger *utils.Logger
	now    func() time.Time

	mu       sync.RWMutex
	active   []broker.Instance
	byID     map[int]broker.Instance
	loadedAt time.Time
}

// NewInstanceService создает реестр. ttl <= 0 означает DefaultInstanceTTL.
func NewInstanceService(repo InstanceRepositoryInterface, cipher *crypto.Cipher, ttl time.Duration, logger *utils.Logger) *InstanceService {
	if ttl <= 0 {
		ttl = DefaultInstanceTTL
	}
	if logger == nil {
		logger = utils.L()
	}
	return &InstanceService{
		repo:   repo,
		cipher: cipher,
		ttl:    ttl,
		logger: logger.WithComponent("instances"),
		now:    time.Now,
		byID:   make(map[int]broker.Instance),
	}
}

// ActiveInstances возвращает активные инстансы, primary первым
func (s *InstanceService) ActiveInstances(ctx context.Context) ([]broker.Instance, error) {
	s.mu.RLock()
	if !s.loadedAt.IsZero() && s.now().Sub(s.loadedAt) < s.ttl {
		out := append([]broker.Instance(nil), s.active...)
		s.mu.RUnlock()
		return out, nil
	}
	s.mu.RUnlock()

	rows, err := s.repo.GetActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active instances: %w", err)
	}

	active := make([]broker.Instance, 0, len(rows))
	byID := make(map[int]broker.Instance, len(rows))
	for _, row := range rows {
		inst, err := s.toBroker(row)
		if err != nil {
			s.logger.Warn("skipping instance with unreadable credentials",
				utils.Instance(row.ID),
				utils.InstanceName(row.Name),
				utils.Err(err))
			continue
		}
		active = append(active, inst)
		byID[inst.ID] = inst
	}

	s.mu.Lock()
	s.active = active
	s.byID = byID
	s.loadedAt = s.now()
	s.mu.Unlock()

	return append([]broker.Instance(nil), active...), nil
}

// Instance возвращает инстанс по id.
// Неактивный инстанс тоже разрешается: по нему могут исполняться выходы старых ног.
func (s *InstanceService) Instance(ctx context.Context, id int) (broker.Instance, error) {
	if _, err := s.ActiveInstances(ctx); err != nil {
		return broker.Instance{}, err
	}
	s.mu.RLock()
	inst, ok := s.byID[id]
	s.mu.RUnlock()
	if ok {
		return inst, nil
	}

	row, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrInstanceNotFound) {
			return broker.Instance{}, apperr.NotFound("instance %d", id)
		}
		return broker.Instance{}, err
	}
	return s.toBroker(row)
}

// List возвращает все инстансы без расшифровки ключей (для операторского API)
func (s *InstanceService) List(ctx context.Context) ([]*models.Instance, error) {
	return s.repo.GetAll(ctx)
}

// Invalidate сбрасывает кэш, следующий запрос перечитает БД
func (s *InstanceService) Invalidate() {
	s.mu.Lock()
	s.loadedAt = time.Time{}
	s.mu.Unlock()
}

func (s *InstanceService) toBroker(row *models.Instance) (broker.Instance, error) {
	key := row.APIKey
	if s.cipher != nil && key != "" {
		plain, err := s.cipher.Open(key)
		if err != nil {
			return broker.Instance{}, fmt.Errorf("decrypt api key: %w", err)
		}
		key = plain
	}
	return broker.Instance{
		ID:           row.ID,
		Name:         row.Name,
		BaseURL:      row.BaseURL,
		APIKey:       key,
		Strategy:     row.Strategy,
		AnalyzerMode: row.AnalyzerMode,
		IsPrimary:    row.IsPrimary,
	}, nil
}

// ============ Лимиты ============

// InstanceLimits объединяет лимиты из файла с переопределениями в таблице instances.
// Значение из БД побеждает значение из файла, незаданные поля наследуются.
type InstanceLimits struct {
	base broker.LimitsSource
	repo InstanceRepositoryInterface
}

// NewInstanceLimits создает источник лимитов
func NewInstanceLimits(base broker.LimitsSource, repo InstanceRepositoryInterface) *InstanceLimits {
	return &InstanceLimits{base: base, repo: repo}
}

// LoadLimits реализует broker.LimitsSource
func (l *InstanceLimits) LoadLimits(ctx context.Context) (broker.LimitsConfig, error) {
	cfg, err := l.base.LoadLimits(ctx)
	if err != nil {
		return broker.LimitsConfig{}, err
	}
	rows, err := l.repo.GetAll(ctx)
	if err != nil {
		return broker.LimitsConfig{}, fmt.Errorf("load instance limit overrides: %w", err)
	}
	if cfg.Instances == nil {
		cfg.Instances = make(map[int]ratelimit.Limits)
	}
	for _, row := range rows {
		if row.RPSLimit == nil && row.RPMLimit == nil && row.OPSLimit == nil {
			continue
		}
		lim, ok := cfg.Instances[row.ID]
		if !ok {
			lim = cfg.Defaults
		}
		if row.RPSLimit != nil {
			lim.RPS = *row.RPSLimit
		}
		if row.RPMLimit != nil {
			lim.RPM = *row.RPMLimit
		}
		if row.OPSLimit != nil {
			lim.OPS = *row.OPSLimit
		}
		cfg.Instances[row.ID] = lim
	}
	return cfg, nil
}
