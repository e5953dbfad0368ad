package models

import (
	"encoding/json"
	"fmt"
)

// SettingsContext - контекст разрешения настроек (пользователь, вотчлист, индекс, символ)
type SettingsContext struct {
	UserID    string `json:"user_id"`
	Watchlist string `json:"watchlist"`
	Index     string `json:"index"`
	Symbol    string `json:"symbol"`
}

// EffectiveSettings - итоговые настройки из внешнего сервиса.
// Хранятся целиком (Raw), из них извлекаются известные поля.
type EffectiveSettings struct {
	Raw json.RawMessage `json:"-"`

	Product  string     `json:"product"`
	Strategy string     `json:"strategy"`
	Risk     RiskConfig `json:"risk"`
}

// ParseEffectiveSettings разбирает снимок настроек
func ParseEffectiveSettings(raw json.RawMessage) (EffectiveSettings, error) {
	s := EffectiveSettings{Raw: raw}
	if len(raw) == 0 {
		s.Raw = json.RawMessage("{}")
		return s, nil
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return s, fmt.Errorf("parse effective settings: %w", err)
	}
	s.Raw = raw
	return s, nil
}
