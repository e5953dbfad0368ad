package utils

import "time"

// DayStartIn возвращает начало суток t в часовом поясе loc.
// Суточные счётчики (circuit breaker) сбрасываются на этой границе.
func DayStartIn(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// MillisSince - миллисекунды с момента start (для latency-полей логов)
func MillisSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
