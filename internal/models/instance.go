package models

import "time"

// Instance - подключение к инстансу брокерского шлюза
type Instance struct {
	ID           int       `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	BaseURL      string    `json:"base_url" db:"base_url"`
	APIKey       string    `json:"-" db:"api_key"` // зашифрован, не возвращается в JSON
	Strategy     string    `json:"strategy" db:"strategy"`
	IsActive     bool      `json:"is_active" db:"is_active"`
	AnalyzerMode bool      `json:"analyzer_mode" db:"analyzer_mode"` // симуляция, ордера к рынку не уходят
	IsPrimary    bool      `json:"is_primary" db:"is_primary"`       // первый кандидат для котировок
	RPSLimit     *int      `json:"rps_limit,omitempty" db:"rps_limit"`
	RPMLimit     *int      `json:"rpm_limit,omitempty" db:"rpm_limit"`
	OPSLimit     *int      `json:"ops_limit,omitempty" db:"ops_limit"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}
