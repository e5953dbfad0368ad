// Package apperr - таксономия ошибок уровня сервисов.
//
// Ошибки брокера (BrokerError) живут в пакете broker и сохраняют
// HTTP-статус и сообщение, здесь только прикладные виды.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation - некорректный ввод
	ErrValidation = errors.New("validation error")
	// ErrNotFound - сущность не найдена
	ErrNotFound = errors.New("not found")
	// ErrConflict - недопустимый переход состояния или гонка
	ErrConflict = errors.New("conflict")
)

// Validation оборачивает ErrValidation с описанием
func Validation(format string, args ...interface{}) error {
	return wrap(ErrValidation, format, args...)
}

// NotFound оборачивает ErrNotFound с описанием
func NotFound(format string, args ...interface{}) error {
	return wrap(ErrNotFound, format, args...)
}

// Conflict оборачивает ErrConflict с описанием
func Conflict(format string, args ...interface{}) error {
	return wrap(ErrConflict, format, args...)
}

func wrap(kind error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }
func IsNotFound(err error) bool   { return errors.Is(err, ErrNotFound) }
func IsConflict(err error) bool   { return errors.Is(err, ErrConflict) }
