package handlers

import (
	"context"
	"net/http"

	"tradeexec/internal/apperr"
	"tradeexec/internal/broker"
	"tradeexec/internal/models"
	"tradeexec/pkg/utils"
)

// KillSwitchController - операторские выключатели движка
type KillSwitchController interface {
	State() models.KillSwitchState
	Set(riskExitsDisabled, tradingDisabled *bool) models.KillSwitchState
}

// LimitsReloader - перечитывание конфигурации лимитов
type LimitsReloader interface {
	Refresh(ctx context.Context) error
	Current() *broker.LimitsConfig
}

// OpsHandler - операторские переключатели
//
// Endpoints:
// - GET /api/v1/killswitch - текущее положение
// - PATCH /api/v1/killswitch - изменить (отсутствующее поле не меняется)
// - POST /api/v1/ratelimits/reload - перечитать файл и БД-переопределения лимитов
type OpsHandler struct {
	switches KillSwitchController
	limits   LimitsReloader
	logger   *utils.Logger
}

// NewOpsHandler создает OpsHandler. limits может быть nil.
func NewOpsHandler(switches KillSwitchController, limits LimitsReloader, logger *utils.Logger) *OpsHandler {
	if logger == nil {
		logger = utils.L()
	}
	return &OpsHandler{switches: switches, limits: limits, logger: logger.WithComponent("ops_api")}
}

// KillSwitchRequest - тело PATCH /api/v1/killswitch
type KillSwitchRequest struct {
	RiskExitsDisabled *bool `json:"risk_exits_disabled"`
	TradingDisabled   *bool `json:"auto_trading_disabled"`
}

// GetKillSwitch возвращает положение kill switch'ей.
//
// GET /api/v1/killswitch
func (h *OpsHandler) GetKillSwitch(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.switches.State())
}

// UpdateKillSwitch меняет положение kill switch'ей.
//
// PATCH /api/v1/killswitch
//
// Request body:
//
//	{"risk_exits_disabled": true}
func (h *OpsHandler) UpdateKillSwitch(w http.ResponseWriter, r *http.Request) {
	var req KillSwitchRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	if req.RiskExitsDisabled == nil && req.TradingDisabled == nil {
		writeError(w, apperr.Validation("at least one of risk_exits_disabled, auto_trading_disabled is required"))
		return
	}

	state := h.switches.Set(req.RiskExitsDisabled, req.TradingDisabled)
	h.logger.Warn("kill switch changed",
		utils.Bool("risk_exits_disabled", state.RiskExitsDisabled),
		utils.Bool("auto_trading_disabled", state.TradingDisabled),
		utils.String("remote", r.RemoteAddr),
	)
	writeJSON(w, http.StatusOK, state)
}

// ReloadRateLimits синхронно перечитывает лимиты и возвращает применённую конфигурацию.
// При ошибке остаются прежние лимиты.
//
// POST /api/v1/ratelimits/reload
func (h *OpsHandler) ReloadRateLimits(w http.ResponseWriter, r *http.Request) {
	if h.limits == nil {
		writeErrorMessage(w, http.StatusServiceUnavailable, CodeInternal, "rate limit manager not configured")
		return
	}
	if err := h.limits.Refresh(r.Context()); err != nil {
		h.logger.Warn("rate limit reload failed", utils.Err(err))
		writeErrorMessage(w, http.StatusInternalServerError, CodeInternal, "rate limit reload failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.limits.Current())
}
