package bot

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики движка исполнения
// ============================================================
//
// - длительность тиков поллеров и пропуски перекрывающихся тиков
// - сделки, прошедшие через агрегатор
// - обновления цен и переключения котировок
// - срабатывания риск-триггеров и исходы риск-выходов
// - тики, подавленные kill switch

// ============ Поллеры ============

// PollerTickDuration - длительность одного тика поллера
var PollerTickDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "tradeexec",
		Subsystem: "engine",
		Name:      "poller_tick_duration_ms",
		Help:      "Duration of a single poller tick in milliseconds",
		Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	},
	[]string{"poller"},
)

// PollerTickErrors - тики, завершившиеся ошибкой
var PollerTickErrors = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradeexec",
		Subsystem: "engine",
		Name:      "poller_tick_errors_total",
		Help:      "Poller ticks that returned an error",
	},
	[]string{"poller"},
)

// PollerTicksSkipped - тики, пропущенные из-за незавершённого предыдущего
var PollerTicksSkipped = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradeexec",
		Subsystem: "engine",
		Name:      "poller_ticks_skipped_total",
		Help:      "Poller ticks skipped because the previous tick was still running",
	},
	[]string{"poller"},
)

// ============ Позиции и котировки ============

// FillsAggregated - сделки, обработанные агрегатором
var FillsAggregated = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradeexec",
		Subsystem: "engine",
		Name:      "fills_aggregated_total",
		Help:      "Tradebook fills folded into leg state",
	},
	[]string{"instance"},
)

// LegsUpserted - записи leg_state, созданные или изменённые агрегатором
var LegsUpserted = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradeexec",
		Subsystem: "engine",
		Name:      "legs_upserted_total",
		Help:      "Leg state rows created or updated by the fill aggregator",
	},
	[]string{"instance"},
)

// QuoteUpdates - обновления цены ноги
var QuoteUpdates = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradeexec",
		Subsystem: "engine",
		Name:      "quote_updates_total",
		Help:      "Leg price updates by outcome",
	},
	[]string{"outcome"}, // updated, unchanged, missing
)

// RiskMonitoredLegs - ноги под риск-мониторингом на последнем тике роутера
var RiskMonitoredLegs = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "tradeexec",
		Subsystem: "risk",
		Name:      "monitored_legs",
		Help:      "Legs with risk enabled seen on the last quote router tick",
	},
)

// ============ Риск ============

// RiskTriggers - сработавшие риск-триггеры
var RiskTriggers = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradeexec",
		Subsystem: "risk",
		Name:      "triggers_total",
		Help:      "Risk triggers raised by reason",
	},
	[]string{"reason"},
)

// RiskExitOutcomes - исходы исполнения риск-выходов
var RiskExitOutcomes = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradeexec",
		Subsystem: "risk",
		Name:      "exit_outcomes_total",
		Help:      "Risk exit executions by outcome",
	},
	[]string{"outcome"}, // completed, partial, failed
)

// RiskExitDuration - время исполнения одного риск-выхода
var RiskExitDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "tradeexec",
		Subsystem: "risk",
		Name:      "exit_duration_ms",
		Help:      "Time from claiming a risk exit to its final status in milliseconds",
		Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
	},
)

// KillSwitchSkips - тики, подавленные kill switch
var KillSwitchSkips = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradeexec",
		Subsystem: "risk",
		Name:      "killswitch_skips_total",
		Help:      "Risk cycles suppressed by an operator kill switch",
	},
	[]string{"switch"},
)

// RiskCooldownSkips - срабатывания, отложенные паузой после неудачного выхода
var RiskCooldownSkips = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "tradeexec",
		Subsystem: "risk",
		Name:      "cooldown_skips_total",
		Help:      "Risk triggers deferred by the failed exit cooldown",
	},
)

// RiskAutoDisabled - ноги, с которых риск снят после неудачных выходов
var RiskAutoDisabled = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "tradeexec",
		Subsystem: "risk",
		Name:      "auto_disabled_total",
		Help:      "Legs whose risk monitoring was disabled after failed exits",
	},
)

// KillSwitchEnabled - текущее положение kill switch (1 = включён)
var KillSwitchEnabled = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "tradeexec",
		Subsystem: "risk",
		Name:      "killswitch_enabled",
		Help:      "Operator kill switch state (1 = automated action disabled)",
	},
	[]string{"switch"},
)

// ============ Helpers ============

// RecordTick записывает тик поллера
func RecordTick(poller string, started time.Time, err error) {
	PollerTickDuration.WithLabelValues(poller).Observe(float64(time.Since(started).Microseconds()) / 1000)
	if err != nil {
		PollerTickErrors.WithLabelValues(poller).Inc()
	}
}

// RecordRiskExit записывает исход риск-выхода
func RecordRiskExit(outcome string, started time.Time) {
	RiskExitOutcomes.WithLabelValues(outcome).Inc()
	RiskExitDuration.Observe(float64(time.Since(started).Milliseconds()))
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
