package utils

import "math"

// FloorToStep округляет value вниз до кратного step.
// step <= 0 возвращает value без изменений.
//
// Пример: FloorToStep(7.3, 2) = 6
func FloorToStep(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	return math.Floor(value/step+1e-9) * step
}

// WithinTolerance проверяет |actual - expected| <= expected * tol.
// Используется для сравнения количеств при дедупликации ордеров.
func WithinTolerance(actual, expected, tol float64) bool {
	if expected == 0 {
		return actual == 0
	}
	return math.Abs(actual-expected) <= math.Abs(expected)*tol+1e-9
}

// Sign возвращает -1, 0 или 1
func Sign(x float64) int {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}
