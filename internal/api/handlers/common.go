package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"

	"tradeexec/internal/apperr"
	"tradeexec/internal/broker"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxBodyBytes - потолок тела запроса операторского API
const maxBodyBytes = 1 << 20

// ErrorResponse стандартный формат ответа об ошибке для всех API endpoints
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// SuccessResponse стандартный формат успешного ответа
type SuccessResponse struct {
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// Коды ошибок в ErrorResponse.Code
const (
	CodeValidation  = "validation"
	CodeNotFound    = "not_found"
	CodeConflict    = "conflict"
	CodeBroker      = "broker"
	CodeCircuitOpen = "circuit_open"
	CodeInternal    = "internal"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeErrorMessage(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// writeError переводит ошибку сервиса в HTTP ответ
//
// Маппинг:
// - apperr.ErrValidation -> 400
// - apperr.ErrNotFound -> 404
// - apperr.ErrConflict -> 409
// - broker.ErrCircuitOpen -> 429
// - broker 4xx -> тот же статус и сообщение брокера
// - прочие ошибки брокера -> 502
// - всё остальное -> 500
func writeError(w http.ResponseWriter, err error) {
	var be *broker.BrokerError
	switch {
	case apperr.IsValidation(err):
		writeErrorMessage(w, http.StatusBadRequest, CodeValidation, err.Error())
	case apperr.IsNotFound(err):
		writeErrorMessage(w, http.StatusNotFound, CodeNotFound, err.Error())
	case apperr.IsConflict(err):
		writeErrorMessage(w, http.StatusConflict, CodeConflict, err.Error())
	case errors.Is(err, broker.ErrCircuitOpen):
		writeErrorMessage(w, http.StatusTooManyRequests, CodeCircuitOpen, err.Error())
	case errors.As(err, &be):
		status := http.StatusBadGateway
		if broker.IsClientError(err) {
			status = be.StatusCode
		}
		writeJSON(w, status, ErrorResponse{Error: be.Message, Code: CodeBroker, Details: be.Error()})
	default:
		writeErrorMessage(w, http.StatusInternalServerError, CodeInternal, err.Error())
	}
}

// decodeBody читает JSON тело с ограничением размера. Пустое тело допустимо, если allowEmpty.
func decodeBody(r *http.Request, dst interface{}, allowEmpty bool) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return apperr.Validation("failed to read request body: %v", err)
	}
	if len(body) > maxBodyBytes {
		return apperr.Validation("request body too large")
	}
	if len(body) == 0 {
		if allowEmpty {
			return nil
		}
		return apperr.Validation("request body is required")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return apperr.Validation("invalid JSON: %v", err)
	}
	return nil
}

func pathInt64(r *http.Request, name string) (int64, error) {
	raw := mux.Vars(r)[name]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("invalid %s: %q", name, raw)
	}
	return id, nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Validation("invalid %s: %q", name, raw)
	}
	return v, nil
}

func queryBool(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, apperr.Validation("invalid %s: %q", name, raw)
	}
	return v, nil
}
