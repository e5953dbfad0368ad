package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"tradeexec/internal/models"
	"tradeexec/internal/service"
)

// LegHandler обрабатывает запросы по ногам позиций и их риск-выходам.
//
// Endpoints:
// - GET /api/v1/legs?instance_id=1&active=true - список ног
// - GET /api/v1/legs/{id} - состояние ноги
// - POST /api/v1/legs/{id}/risk - включить риск с дистанциями из тела
// - DELETE /api/v1/legs/{id}/risk - выключить риск
// - GET /api/v1/legs/{id}/exits?limit=50 - история риск-выходов ноги
// - GET /api/v1/risk-exits/{trigger_id} - риск-выход с аудитом ордеров
type LegHandler struct {
	legService service.LegServiceInterface
}

// NewLegHandler создает новый LegHandler
func NewLegHandler(legService service.LegServiceInterface) *LegHandler {
	return &LegHandler{legService: legService}
}

// ListLegs возвращает ноги, опционально по инстансу и только открытые.
//
// GET /api/v1/legs
func (h *LegHandler) ListLegs(w http.ResponseWriter, r *http.Request) {
	instanceID, err := queryInt(r, "instance_id", 0)
	if err != nil {
		writeError(w, err)
		return
	}
	activeOnly, err := queryBool(r, "active")
	if err != nil {
		writeError(w, err)
		return
	}

	legs, err := h.legService.ListLegs(r.Context(), instanceID, activeOnly)
	if err != nil {
		writeError(w, err)
		return
	}
	if legs == nil {
		legs = []*models.LegState{}
	}
	writeJSON(w, http.StatusOK, legs)
}

// GetLeg возвращает состояние одной ноги.
//
// GET /api/v1/legs/{id}
func (h *LegHandler) GetLeg(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	leg, err := h.legService.GetLegState(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, leg)
}

// EnableRisk включает риск на ноге.
//
// POST /api/v1/legs/{id}/risk
//
// Request body:
//
//	{"tp_points": 20, "sl_points": 10, "tsl_trail": 5, "tsl_step": 0.5}
func (h *LegHandler) EnableRisk(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var cfg models.RiskConfig
	if err := decodeBody(r, &cfg, false); err != nil {
		writeError(w, err)
		return
	}

	leg, err := h.legService.EnableRisk(r.Context(), id, cfg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, leg)
}

// DisableRisk выключает риск на ноге.
//
// DELETE /api/v1/legs/{id}/risk
func (h *LegHandler) DisableRisk(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.legService.DisableRisk(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Message: "risk disabled"})
}

// ListRiskExits возвращает историю риск-выходов ноги.
//
// GET /api/v1/legs/{id}/exits
func (h *LegHandler) ListRiskExits(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(w, err)
		return
	}

	exits, err := h.legService.ListRiskExits(r.Context(), id, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if exits == nil {
		exits = []*models.RiskExit{}
	}
	writeJSON(w, http.StatusOK, exits)
}

// GetRiskExit возвращает риск-выход с аудитом ордеров.
//
// GET /api/v1/risk-exits/{trigger_id}
func (h *LegHandler) GetRiskExit(w http.ResponseWriter, r *http.Request) {
	detail, err := h.legService.GetRiskExit(r.Context(), mux.Vars(r)["trigger_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}
