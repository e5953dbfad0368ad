package models

// ExecutionStats - сводка по риск-выходам, намерениям и отказам инстансов
type ExecutionStats struct {
	Pending           int            `json:"pending"`
	Executing         int            `json:"executing"`
	Completed         int            `json:"completed"`
	PartialCompleted  int            `json:"partial_completed"`
	Failed            int            `json:"failed"`
	InFlight          int            `json:"in_flight"`
	Intents           map[string]int `json:"intents"`
	QuoteFailovers    int64          `json:"quote_failovers"`
	InstanceErrors    int64          `json:"instance_errors"`
	RiskExitsDisabled bool           `json:"risk_exits_disabled"`
	TradingDisabled   bool           `json:"auto_trading_disabled"`
}

// KillSwitchState - положение операторских kill switch
type KillSwitchState struct {
	RiskExitsDisabled bool `json:"risk_exits_disabled"`
	TradingDisabled   bool `json:"auto_trading_disabled"`
}
