package broker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrCircuitOpen - инстанс временно заблокирован суточным circuit breaker'ом
var ErrCircuitOpen = errors.New("circuit open")

// BrokerError - ошибка от инстанса брокера.
// StatusCode и Message сохраняются как есть; 0 означает сетевую ошибку без ответа.
type BrokerError struct {
	InstanceID int
	Instance   string
	Endpoint   string
	StatusCode int
	Message    string
	Original   error
}

func (e *BrokerError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("broker %s %s: %s", e.Instance, e.Endpoint, e.Message)
	}
	return fmt.Sprintf("broker %s %s: %d %s", e.Instance, e.Endpoint, e.StatusCode, e.Message)
}

// Unwrap возвращает оригинальную ошибку для errors.Is() и errors.As()
func (e *BrokerError) Unwrap() error {
	return e.Original
}

// Retryable: 4xx и открытый circuit не повторяются, отмена вызывающего тоже
func (e *BrokerError) Retryable() bool {
	if errors.Is(e.Original, ErrCircuitOpen) || errors.Is(e.Original, context.Canceled) {
		return false
	}
	return !isClientStatus(e.StatusCode)
}

func isClientStatus(code int) bool {
	return code >= 400 && code < 500
}

// IsClientError - ответ 4xx от брокера
func IsClientError(err error) bool {
	var be *BrokerError
	return errors.As(err, &be) && isClientStatus(be.StatusCode)
}

// StatusCode извлекает HTTP-статус из цепочки ошибок (0 если его нет)
func StatusCode(err error) int {
	var be *BrokerError
	if errors.As(err, &be) {
		return be.StatusCode
	}
	return 0
}

// isInvalidCredentials - признаки неверного API-ключа
func isInvalidCredentials(status int, message string) bool {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return true
	}
	m := strings.ToLower(message)
	return strings.Contains(m, "invalid") && (strings.Contains(m, "apikey") || strings.Contains(m, "api key"))
}
