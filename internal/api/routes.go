package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tradeexec/internal/api/handlers"
	"tradeexec/internal/api/middleware"
	"tradeexec/internal/service"
	"tradeexec/pkg/utils"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	IntentService service.IntentServiceInterface
	LegService    service.LegServiceInterface
	StatsService  service.StatsServiceInterface
	KillSwitches  handlers.KillSwitchController
	Limits        handlers.LimitsReloader

	// WebSocket handler потока событий, nil - не регистрировать
	Stream http.HandlerFunc

	// bcrypt-хеш операторского токена, пусто - без аутентификации
	OpsTokenHash string
	Logger       *utils.Logger
}

// SetupRoutes настраивает все HTTP маршруты операторского API
//
// Структура маршрутов:
//
// /api/v1/
//
//	├── /stats/execution - GET счётчики исполнения
//	├── /instances/metrics - GET состояние шлюза по инстансам
//	├── /legs/
//	│   ├── GET / - список ног (?instance_id=&active=)
//	│   ├── GET /{id} - состояние ноги
//	│   ├── POST /{id}/risk - включить риск
//	│   ├── DELETE /{id}/risk - выключить риск
//	│   └── GET /{id}/exits - история риск-выходов
//	├── /risk-exits/{trigger_id} - GET риск-выход с аудитом
//	├── /intents/
//	│   ├── POST / - создать намерение
//	│   ├── GET /{id} - намерение с ордерами
//	│   ├── POST /{id}/execute - исполнить
//	│   ├── POST /{id}/retry - повторить failed
//	│   └── PATCH /{id}/status - ручная смена статуса
//	├── /killswitch - GET / PATCH
//	└── /ratelimits/reload - POST
//
// /ws/stream - WebSocket событий движка
// /health, /metrics - без аутентификации
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. Auth (/api/v1 и /ws)
func SetupRoutes(deps *Dependencies) *mux.Router {
	if deps == nil {
		deps = &Dependencies{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = utils.L()
	}

	router := mux.NewRouter()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Logging(logger))

	auth := middleware.Auth(deps.OpsTokenHash, logger)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(auth)

	if deps.StatsService != nil {
		statsHandler := handlers.NewStatsHandler(deps.StatsService)
		api.HandleFunc("/stats/execution", statsHandler.GetExecutionStats).Methods("GET")
		api.HandleFunc("/instances/metrics", statsHandler.GetInstanceMetrics).Methods("GET")
	}

	if deps.LegService != nil {
		legHandler := handlers.NewLegHandler(deps.LegService)
		api.HandleFunc("/legs", legHandler.ListLegs).Methods("GET")
		api.HandleFunc("/legs/{id}", legHandler.GetLeg).Methods("GET")
		api.HandleFunc("/legs/{id}/risk", legHandler.EnableRisk).Methods("POST")
		api.HandleFunc("/legs/{id}/risk", legHandler.DisableRisk).Methods("DELETE")
		api.HandleFunc("/legs/{id}/exits", legHandler.ListRiskExits).Methods("GET")
		api.HandleFunc("/risk-exits/{trigger_id}", legHandler.GetRiskExit).Methods("GET")
	}

	if deps.IntentService != nil {
		intentHandler := handlers.NewIntentHandler(deps.IntentService)
		api.HandleFunc("/intents", intentHandler.CreateIntent).Methods("POST")
		api.HandleFunc("/intents/{id}", intentHandler.GetIntent).Methods("GET")
		api.HandleFunc("/intents/{id}/execute", intentHandler.ExecuteIntent).Methods("POST")
		api.HandleFunc("/intents/{id}/retry", intentHandler.RetryIntent).Methods("POST")
		api.HandleFunc("/intents/{id}/status", intentHandler.UpdateIntentStatus).Methods("PATCH")
	}

	if deps.KillSwitches != nil {
		opsHandler := handlers.NewOpsHandler(deps.KillSwitches, deps.Limits, logger)
		api.HandleFunc("/killswitch", opsHandler.GetKillSwitch).Methods("GET")
		api.HandleFunc("/killswitch", opsHandler.UpdateKillSwitch).Methods("PATCH")
		api.HandleFunc("/ratelimits/reload", opsHandler.ReloadRateLimits).Methods("POST")
	}

	if deps.Stream != nil {
		ws := router.PathPrefix("/ws").Subrouter()
		ws.Use(auth)
		ws.HandleFunc("/stream", deps.Stream).Methods("GET")
	}

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	return router
}
