package utils

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Ошибки валидации торговых параметров
var (
	ErrInvalidSymbol   = errors.New("invalid symbol format")
	ErrInvalidExchange = errors.New("unsupported exchange")
	ErrInvalidProduct  = errors.New("unsupported product")
	ErrInvalidAction   = errors.New("action must be BUY or SELL")
	ErrInvalidQuantity = errors.New("quantity must be positive")
)

// символы брокера: SBIN, NIFTY24DEC24000CE, BANKNIFTY-I, M&M
var symbolPattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9&_\-]{0,39}$`)

var supportedExchanges = map[string]bool{
	"NSE": true, "BSE": true, "NFO": true, "BFO": true,
	"CDS": true, "BCD": true, "MCX": true,
	"NSE_INDEX": true, "BSE_INDEX": true,
}

var supportedProducts = map[string]bool{"MIS": true, "NRML": true, "CNC": true}

// ValidateSymbol проверяет формат символа
func ValidateSymbol(symbol string) error {
	if !symbolPattern.MatchString(symbol) {
		return fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}
	return nil
}

// ValidateExchange проверяет код биржи
func ValidateExchange(exchange string) error {
	if !supportedExchanges[exchange] {
		return fmt.Errorf("%w: %q", ErrInvalidExchange, exchange)
	}
	return nil
}

// ValidateProduct проверяет тип продукта (MIS/NRML/CNC)
func ValidateProduct(product string) error {
	if !supportedProducts[product] {
		return fmt.Errorf("%w: %q", ErrInvalidProduct, product)
	}
	return nil
}

// ValidateAction проверяет направление ордера
func ValidateAction(action string) error {
	if action != "BUY" && action != "SELL" {
		return fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}
	return nil
}

// NormalizeUpper - приведение кода к верхнему регистру без пробелов
func NormalizeUpper(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// ValidationErrors - набор ошибок по полям
type ValidationErrors []FieldError

// FieldError - ошибка конкретного поля
type FieldError struct {
	Field string
	Err   error
}

// AddError добавляет ошибку поля (nil игнорируется)
func (v *ValidationErrors) AddError(field string, err error) {
	if err != nil {
		*v = append(*v, FieldError{Field: field, Err: err})
	}
}

// HasErrors - есть ли ошибки
func (v ValidationErrors) HasErrors() bool {
	return len(v) > 0
}

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, fe := range v {
		parts = append(parts, fe.Field+": "+fe.Err.Error())
	}
	return strings.Join(parts, "; ")
}
