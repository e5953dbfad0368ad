package handlers

import (
	"net/http"

	"tradeexec/internal/broker"
	"tradeexec/internal/service"
)

// StatsHandler обрабатывает HTTP запросы статистики исполнения.
//
// Endpoints:
// - GET /api/v1/stats/execution - счётчики риск-выходов, намерений и kill switch'ей
// - GET /api/v1/instances/metrics - лимиты, circuit и ретраи по инстансам
type StatsHandler struct {
	statsService service.StatsServiceInterface
}

// NewStatsHandler создает новый StatsHandler с внедрением зависимостей.
func NewStatsHandler(statsService service.StatsServiceInterface) *StatsHandler {
	return &StatsHandler{statsService: statsService}
}

// GetExecutionStats возвращает агрегированную статистику исполнения.
//
// GET /api/v1/stats/execution
//
// Response 200 OK:
//
//	{
//	  "pending": 0,
//	  "executing": 1,
//	  "completed": 42,
//	  "partial_completed": 2,
//	  "failed": 3,
//	  "in_flight": 1,
//	  "intents": {"completed": 120, "failed": 4},
//	  "quote_failovers": 7,
//	  "instance_errors": 19,
//	  "risk_exits_disabled": false,
//	  "auto_trading_disabled": false
//	}
func (h *StatsHandler) GetExecutionStats(w http.ResponseWriter, r *http.Request) {
	if h.statsService == nil {
		writeErrorMessage(w, http.StatusInternalServerError, CodeInternal, "stats service not initialized")
		return
	}

	stats, err := h.statsService.GetExecutionStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if stats.Intents == nil {
		stats.Intents = map[string]int{}
	}
	writeJSON(w, http.StatusOK, stats)
}

// GetInstanceMetrics возвращает снимок состояния шлюза по инстансам.
//
// GET /api/v1/instances/metrics
func (h *StatsHandler) GetInstanceMetrics(w http.ResponseWriter, r *http.Request) {
	if h.statsService == nil {
		writeErrorMessage(w, http.StatusInternalServerError, CodeInternal, "stats service not initialized")
		return
	}

	metrics := h.statsService.GetInstanceMetrics()
	if metrics == nil {
		metrics = []broker.InstanceMetrics{}
	}
	writeJSON(w, http.StatusOK, metrics)
}
