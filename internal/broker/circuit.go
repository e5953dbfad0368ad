package broker

import (
	"sync"
	"time"

	"tradeexec/pkg/utils"
)

// BreakerConfig - пороги суточного circuit breaker'а
type BreakerConfig struct {
	NotFoundThreshold int           // 404 за сутки до блокировки (0 = не считать)
	AuthThreshold     int           // ответов "неверный ключ" за сутки (0 = не считать)
	Backoff           time.Duration // длительность блокировки
	Location          *time.Location
}

type failureKind int

const (
	failureNotFound failureKind = iota
	failureAuth
)

func (k failureKind) String() string {
	if k == failureAuth {
		return "invalid_credentials"
	}
	return "not_found"
}

type breakerState struct {
	day       time.Time
	notFound  int
	auth      int
	openUntil time.Time
	reason    string
	trips     int
}

// BreakerSnapshot - состояние breaker'а инстанса
type BreakerSnapshot struct {
	NotFoundToday int       `json:"not_found_today"`
	AuthToday     int       `json:"auth_failures_today"`
	Open          bool      `json:"open"`
	OpenUntil     time.Time `json:"open_until,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	TripsToday    int       `json:"trips_today"`
}

// Breaker - суточный счётчик 404 и ошибок авторизации по инстансам.
// При достижении порога инстанс блокируется на Backoff; вызовы в окне
// блокировки отклоняются без сетевого запроса. Счётчики сбрасываются
// по истечении окна и на границе суток.
type Breaker struct {
	cfg    BreakerConfig
	mu     sync.Mutex
	states map[string]*breakerState
	now    func() time.Time
}

// NewBreaker создаёт breaker
func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{cfg: cfg, states: make(map[string]*breakerState), now: time.Now}
}

func (b *Breaker) state(key string, now time.Time) *breakerState {
	day := utils.DayStartIn(now, b.cfg.Location)
	st, ok := b.states[key]
	if !ok || !st.day.Equal(day) {
		st = &breakerState{day: day}
		b.states[key] = st
	}
	if !st.openUntil.IsZero() && !now.Before(st.openUntil) {
		// окно истекло
		st.openUntil = time.Time{}
		st.reason = ""
		st.notFound = 0
		st.auth = 0
	}
	return st
}

// Allow проверяет, можно ли обращаться к инстансу
func (b *Breaker) Allow(key string) (bool, time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.state(key, b.now())
	if st.openUntil.IsZero() {
		return true, time.Time{}
	}
	return false, st.openUntil
}

// Record учитывает сбой; возвращает true если breaker только что сработал
func (b *Breaker) Record(key string, kind failureKind) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	st := b.state(key, now)
	if !st.openUntil.IsZero() {
		return false
	}

	var count, threshold int
	switch kind {
	case failureAuth:
		st.auth++
		count, threshold = st.auth, b.cfg.AuthThreshold
	default:
		st.notFound++
		count, threshold = st.notFound, b.cfg.NotFoundThreshold
	}

	if threshold <= 0 || count < threshold {
		return false
	}
	st.openUntil = now.Add(b.cfg.Backoff)
	st.reason = kind.String()
	st.trips++
	return true
}

// Snapshot возвращает состояние инстанса
func (b *Breaker) Snapshot(key string) BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.state(key, b.now())
	return BreakerSnapshot{
		NotFoundToday: st.notFound,
		AuthToday:     st.auth,
		Open:          !st.openUntil.IsZero(),
		OpenUntil:     st.openUntil,
		Reason:        st.reason,
		TripsToday:    st.trips,
	}
}
