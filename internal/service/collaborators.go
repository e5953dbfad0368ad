package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"tradeexec/internal/apperr"
	"tradeexec/internal/broker"
	"tradeexec/internal/models"
	"tradeexec/pkg/utils"
)

// ============ SettingsResolver ============

// StaticSettings отдаёт одни и те же настройки для любого контекста
type StaticSettings struct {
	raw json.RawMessage
}

// NewStaticSettings разбирает JSON настроек один раз при старте
func NewStaticSettings(raw string) (*StaticSettings, error) {
	if raw == "" {
		raw = "{}"
	}
	if _, err := models.ParseEffectiveSettings(json.RawMessage(raw)); err != nil {
		return nil, err
	}
	return &StaticSettings{raw: json.RawMessage(raw)}, nil
}

// Resolve реализует SettingsResolver
func (s *StaticSettings) Resolve(ctx context.Context, sc models.SettingsContext) (json.RawMessage, error) {
	out := make(json.RawMessage, len(s.raw))
	copy(out, s.raw)
	return out, nil
}

// ============ SymbolResolver ============

// PassThroughSymbols считает символ уже конкретным и только нормализует регистр
type PassThroughSymbols struct{}

// Resolve реализует SymbolResolver
func (PassThroughSymbols) Resolve(ctx context.Context, symbol, exchange string) (string, error) {
	symbol = utils.NormalizeUpper(symbol)
	if err := utils.ValidateSymbol(symbol); err != nil {
		return "", apperr.Validation("%v", err)
	}
	return symbol, nil
}

// ============ InstrumentValidator ============

// SymbolLookup - эндпоинт symbol шлюза
type SymbolLookup interface {
	Symbol(ctx context.Context, inst broker.Instance, key broker.SymbolKey) (broker.SymbolInfo, error)
}

type instrumentEntry struct {
	err error // nil = инструмент существует
	at  time.Time
}

// CachedInstruments проверяет инструменты через шлюз и кэширует ответы.
// Кэшируются только определённые ответы: найден или 4xx от брокера.
// Сетевые ошибки и 5xx не кэшируются и возвращаются как есть.
type CachedInstruments struct {
	lookup SymbolLookup
	ttl    time.Duration
	now    func() time.Time

	mu    sync.Mutex
	cache map[broker.SymbolKey]instrumentEntry
}

// NewCachedInstruments создает валидатор. ttl <= 0 - сутки.
func NewCachedInstruments(lookup SymbolLookup, ttl time.Duration) *CachedInstruments {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CachedInstruments{
		lookup: lookup,
		ttl:    ttl,
		now:    time.Now,
		cache:  make(map[broker.SymbolKey]instrumentEntry),
	}
}

// Validate реализует InstrumentValidator
func (c *CachedInstruments) Validate(ctx context.Context, inst broker.Instance, symbol, exchange string) error {
	key := broker.SymbolKey{Exchange: exchange, Symbol: symbol}

	c.mu.Lock()
	e, ok := c.cache[key]
	c.mu.Unlock()
	if ok && c.now().Sub(e.at) < c.ttl {
		return e.err
	}

	_, err := c.lookup.Symbol(ctx, inst, key)
	if err != nil && !broker.IsClientError(err) {
		return err
	}
	if err != nil {
		err = apperr.Validation("unknown instrument %s:%s: %v", exchange, symbol, err)
	}

	c.mu.Lock()
	c.cache[key] = instrumentEntry{err: err, at: c.now()}
	c.mu.Unlock()
	return err
}
