package bot

import "tradeexec/internal/models"

// Transitions - допустимые переходы конечного автомата статусов
type Transitions map[string][]string

// IntentTransitions - жизненный цикл торгового намерения.
// failed -> pending только через явный retry.
var IntentTransitions = Transitions{
	models.IntentStatusPending:   {models.IntentStatusExecuting, models.IntentStatusFailed},
	models.IntentStatusExecuting: {models.IntentStatusCompleted, models.IntentStatusFailed},
	models.IntentStatusFailed:    {models.IntentStatusPending},
	models.IntentStatusCompleted: {},
}

// RiskExitTransitions - жизненный цикл риск-выхода
var RiskExitTransitions = Transitions{
	models.RiskExitStatusPending:   {models.RiskExitStatusExecuting, models.RiskExitStatusFailed},
	models.RiskExitStatusExecuting: {models.RiskExitStatusCompleted, models.RiskExitStatusFailed},
	models.RiskExitStatusCompleted: {},
	models.RiskExitStatusFailed:    {},
}

// CanTransition проверяет допустимость перехода
func (t Transitions) CanTransition(from, to string) bool {
	allowed, ok := t[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal - из статуса нет переходов
func (t Transitions) IsTerminal(s string) bool {
	allowed, ok := t[s]
	return ok && len(allowed) == 0
}

// Known - статус принадлежит автомату
func (t Transitions) Known(s string) bool {
	_, ok := t[s]
	return ok
}

// StatusInfo возвращает описание статуса для операторского UI
func StatusInfo(s string) string {
	switch s {
	case models.IntentStatusPending:
		return "Ожидает исполнения"
	case models.IntentStatusExecuting:
		return "Исполняется..."
	case models.IntentStatusCompleted:
		return "Исполнено"
	case models.IntentStatusFailed:
		return "Ошибка исполнения"
	default:
		return "Неизвестный статус"
	}
}

// IsOpen - риск-выход ещё не завершён
func IsOpen(s string) bool {
	return s == models.RiskExitStatusPending || s == models.RiskExitStatusExecuting
}
