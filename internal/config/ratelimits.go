package config

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"tradeexec/internal/broker"
	"tradeexec/pkg/ratelimit"
)

// FileLimits читает лимиты из YAML файла.
//
// Формат:
//
//	defaults: {rps: 10, rpm: 400, ops: 5}
//	global_ops: 20
//	instances:
//	  3: {rps: 2, rpm: 100, ops: 1}
//
// Поля, отсутствующие в файле, берутся из переменных окружения.
// Пустой путь - только переменные окружения.
type FileLimits struct {
	path string
	base broker.LimitsConfig
}

// NewFileLimits создаёт источник лимитов
func NewFileLimits(b BrokerConfig) *FileLimits {
	return &FileLimits{
		path: b.RateLimitFile,
		base: broker.LimitsConfig{
			Defaults:  ratelimit.Limits{RPS: b.DefaultRPS, RPM: b.DefaultRPM, OPS: b.DefaultOPS},
			GlobalOPS: b.GlobalOPS,
		},
	}
}

// LoadLimits перечитывает файл при каждом вызове
func (f *FileLimits) LoadLimits(ctx context.Context) (broker.LimitsConfig, error) {
	if f.path == "" {
		return copyLimits(f.base), nil
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		return broker.LimitsConfig{}, fmt.Errorf("read rate limit file: %w", err)
	}
	return ParseLimits(data, f.base)
}

// ParseLimits разбирает YAML поверх базовых значений
func ParseLimits(data []byte, base broker.LimitsConfig) (broker.LimitsConfig, error) {
	cfg := copyLimits(base)
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return broker.LimitsConfig{}, fmt.Errorf("parse rate limit file: %w", err)
	}
	if err := validateLimits(cfg.Defaults); err != nil {
		return broker.LimitsConfig{}, fmt.Errorf("defaults: %w", err)
	}
	if cfg.GlobalOPS < 0 {
		return broker.LimitsConfig{}, fmt.Errorf("global_ops cannot be negative, got %d", cfg.GlobalOPS)
	}
	for id, l := range cfg.Instances {
		if err := validateLimits(l); err != nil {
			return broker.LimitsConfig{}, fmt.Errorf("instance %d: %w", id, err)
		}
	}
	return cfg, nil
}

func validateLimits(l ratelimit.Limits) error {
	if l.RPS < 0 || l.RPM < 0 || l.OPS < 0 {
		return fmt.Errorf("limits cannot be negative: %+v", l)
	}
	return nil
}

func copyLimits(c broker.LimitsConfig) broker.LimitsConfig {
	out := c
	out.Instances = make(map[int]ratelimit.Limits, len(c.Instances))
	for id, l := range c.Instances {
		out.Instances[id] = l
	}
	return out
}
