package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"tradeexec/internal/service"
)

// IntentHandler обрабатывает журнал торговых намерений.
//
// Endpoints:
// - POST /api/v1/intents - создать намерение (идемпотентно по intent_id)
// - GET /api/v1/intents/{id} - намерение со связанными ордерами
// - POST /api/v1/intents/{id}/execute - исполнить
// - POST /api/v1/intents/{id}/retry - вернуть failed в pending
// - PATCH /api/v1/intents/{id}/status - ручная смена статуса
type IntentHandler struct {
	intentService service.IntentServiceInterface
}

// NewIntentHandler создает новый IntentHandler
func NewIntentHandler(intentService service.IntentServiceInterface) *IntentHandler {
	return &IntentHandler{intentService: intentService}
}

// CreateIntent создает намерение.
//
// POST /api/v1/intents
//
// Request body:
//
//	{
//	  "intent_id": "strategy-42-entry",
//	  "instance_id": 1,
//	  "symbol": "SBIN",
//	  "exchange": "NSE",
//	  "action": "BUY",
//	  "quantity": 10,
//	  "position_size": 10,
//	  "context": {"watchlist": "orb"}
//	}
//
// Response 201 Created - новая запись, 200 OK - запись с таким intent_id уже была.
func (h *IntentHandler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	var req service.CreateIntentRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, err)
		return
	}

	intent, created, err := h.intentService.Create(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, intent)
}

// GetIntent возвращает намерение и его ордера.
//
// GET /api/v1/intents/{id}
func (h *IntentHandler) GetIntent(w http.ResponseWriter, r *http.Request) {
	detail, err := h.intentService.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// ExecuteIntent исполняет намерение.
//
// POST /api/v1/intents/{id}/execute
//
// Response 200 OK - итоговое намерение (completed)
// Response 409 Conflict - намерение не в pending, kill switch или запрет пирамидинга
// Response 4xx/502 - ошибка брокера, намерение помечено failed
func (h *IntentHandler) ExecuteIntent(w http.ResponseWriter, r *http.Request) {
	intent, err := h.intentService.Execute(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, intent)
}

// RetryIntent возвращает failed намерение в pending.
//
// POST /api/v1/intents/{id}/retry
func (h *IntentHandler) RetryIntent(w http.ResponseWriter, r *http.Request) {
	intent, err := h.intentService.Retry(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, intent)
}

// UpdateIntentStatus меняет статус намерения вручную.
//
// PATCH /api/v1/intents/{id}/status
//
// Request body:
//
//	{"status": "failed", "error_message": "no broker confirmation"}
//
// Response 200 OK - намерение после перехода
// Response 400 Bad Request - неизвестный статус или failed без error_message
// Response 409 Conflict - переход из текущего статуса запрещён
func (h *IntentHandler) UpdateIntentStatus(w http.ResponseWriter, r *http.Request) {
	var req service.UpdateIntentStatusRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, err)
		return
	}

	intent, err := h.intentService.UpdateStatus(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, intent)
}
