package retry

import (
	"context"
	"errors"
	"time"
)

// Profile - профиль повторных попыток
//
// Задержка перед попыткой n (n >= 1): BaseDelay * 2^(n-1), не больше MaxDelay.
// Jitter не используется: расписание попыток детерминировано.
type Profile struct {
	// Name - имя профиля для логов и метрик
	Name string

	// MaxAttempts - общее число попыток, включая первую (минимум 1)
	MaxAttempts int

	// BaseDelay - задержка перед второй попыткой
	BaseDelay time.Duration

	// MaxDelay - потолок задержки (0 = без потолка)
	MaxDelay time.Duration

	// RetryIf решает, повторять ли ошибку. nil = IsRetryable.
	RetryIf func(error) bool

	// OnRetry вызывается перед ожиданием следующей попытки
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Critical - профиль для операций, меняющих позицию (ордера, отмены, закрытия)
func Critical(attempts int, base time.Duration) Profile {
	return Profile{Name: "critical", MaxAttempts: attempts, BaseDelay: base, MaxDelay: 10 * time.Second}
}

// NonCritical - профиль для чтения (котировки, книги, позиции)
func NonCritical(attempts int, base time.Duration) Profile {
	return Profile{Name: "non_critical", MaxAttempts: attempts, BaseDelay: base, MaxDelay: 5 * time.Second}
}

// Delay возвращает задержку перед попыткой с номером attempt (0 - первая, без задержки)
func (p Profile) Delay(attempt int) time.Duration {
	if attempt <= 0 || p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// WithOnRetry возвращает копию профиля с callback'ом
func (p Profile) WithOnRetry(fn func(attempt int, err error, delay time.Duration)) Profile {
	p.OnRetry = fn
	return p
}

// WithRetryIf возвращает копию профиля с фильтром ошибок
func (p Profile) WithRetryIf(fn func(error) bool) Profile {
	p.RetryIf = fn
	return p
}

// Do выполняет операцию по профилю.
//
// Операция получает номер попытки (с нуля), чтобы на повторах
// можно было сначала проверить, не исполнилась ли предыдущая попытка.
// Возвращается последняя ошибка.
func Do[T any](ctx context.Context, p Profile, operation func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	retryIf := p.RetryIf
	if retryIf == nil {
		retryIf = IsRetryable
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := p.Delay(attempt)
			if p.OnRetry != nil {
				p.OnRetry(attempt, lastErr, delay)
			}
			if delay > 0 {
				timer := time.NewTimer(delay)
				select {
				case <-timer.C:
				case <-ctx.Done():
					timer.Stop()
					return zero, lastErr
				}
			}
		}

		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, lastErr
			}
			return zero, err
		}

		result, err := operation(ctx, attempt)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !retryIf(err) {
			return zero, err
		}
	}

	return zero, lastErr
}

// ============================================================
// Классификация ошибок
// ============================================================

// RetryableError - ошибка, которая сама знает, можно ли её повторять
type RetryableError interface {
	error
	Retryable() bool
}

// IsRetryable проверяет можно ли повторять ошибку.
// Отмена контекста вызывающего не повторяется. Остальное повторяется по умолчанию.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var retryable RetryableError
	if errors.As(err, &retryable) {
		return retryable.Retryable()
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	return true
}

// PermanentError оборачивает ошибку, которую не нужно повторять
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string   { return e.Err.Error() }
func (e *PermanentError) Unwrap() error   { return e.Err }
func (e *PermanentError) Retryable() bool { return false }

// Permanent помечает ошибку как неповторяемую
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}
