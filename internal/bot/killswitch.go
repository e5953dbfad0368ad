package bot

import (
	"sync/atomic"

	"tradeexec/internal/models"
)

// Имена kill switch для метрик и логов
const (
	SwitchRiskExits = "risk_exits"
	SwitchTrading   = "auto_trading"
)

// KillSwitches - операторские выключатели автоматики.
// Читаются на каждом тике без блокировок.
type KillSwitches struct {
	riskExits atomic.Bool
	trading   atomic.Bool
	events    EventPublisher
}

// NewKillSwitches создаёт выключатели в начальном положении из конфигурации
func NewKillSwitches(riskExitsDisabled, tradingDisabled bool, events EventPublisher) *KillSwitches {
	k := &KillSwitches{events: publisherOrNop(events)}
	k.riskExits.Store(riskExitsDisabled)
	k.trading.Store(tradingDisabled)
	k.export()
	return k
}

// RiskExitsDisabled - риск-выходы выключены
func (k *KillSwitches) RiskExitsDisabled() bool { return k.riskExits.Load() }

// TradingDisabled - вся автоматическая торговля выключена
func (k *KillSwitches) TradingDisabled() bool { return k.trading.Load() }

// Blocked возвращает имя включённого выключателя, блокирующего риск-выходы
func (k *KillSwitches) Blocked() (string, bool) {
	switch {
	case k.TradingDisabled():
		return SwitchTrading, true
	case k.RiskExitsDisabled():
		return SwitchRiskExits, true
	default:
		return "", false
	}
}

// Set применяет новое положение. nil оставляет выключатель как есть.
func (k *KillSwitches) Set(riskExitsDisabled, tradingDisabled *bool) models.KillSwitchState {
	if riskExitsDisabled != nil {
		k.riskExits.Store(*riskExitsDisabled)
	}
	if tradingDisabled != nil {
		k.trading.Store(*tradingDisabled)
	}
	k.export()
	state := k.State()
	k.events.PublishKillSwitch(state)
	return state
}

// State - снимок положения
func (k *KillSwitches) State() models.KillSwitchState {
	return models.KillSwitchState{
		RiskExitsDisabled: k.RiskExitsDisabled(),
		TradingDisabled:   k.TradingDisabled(),
	}
}

func (k *KillSwitches) export() {
	KillSwitchEnabled.WithLabelValues(SwitchRiskExits).Set(boolGauge(k.RiskExitsDisabled()))
	KillSwitchEnabled.WithLabelValues(SwitchTrading).Set(boolGauge(k.TradingDisabled()))
}
