package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Window - счётчик скользящего окна.
//
// Хранит отметки времени выполненных запросов за последний period.
// Новый запрос допускается, если в окне меньше limit отметок.
// limit <= 0 означает отсутствие ограничения.
type Window struct {
	limit  int
	period time.Duration
	events []time.Time // по возрастанию
}

// NewWindow создаёт окно на limit событий за period
func NewWindow(limit int, period time.Duration) *Window {
	return &Window{limit: limit, period: period}
}

func (w *Window) prune(now time.Time) {
	cutoff := now.Add(-w.period)
	i := 0
	for i < len(w.events) && !w.events[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.events = append(w.events[:0], w.events[i:]...)
	}
}

// delay возвращает, сколько ждать до освобождения слота (0 - слот есть)
func (w *Window) delay(now time.Time) time.Duration {
	if w == nil || w.limit <= 0 {
		return 0
	}
	w.prune(now)
	if len(w.events) < w.limit {
		return 0
	}
	// слот освободится, когда истечёт отметка, отстоящая на limit назад
	oldest := w.events[len(w.events)-w.limit]
	d := oldest.Add(w.period).Sub(now)
	if d <= 0 {
		return time.Millisecond
	}
	return d
}

func (w *Window) record(now time.Time) {
	if w == nil || w.limit <= 0 {
		return
	}
	w.events = append(w.events, now)
}

// Count - количество событий в окне на момент now
func (w *Window) Count(now time.Time) int {
	if w == nil {
		return 0
	}
	w.prune(now)
	return len(w.events)
}

// Limit возвращает текущий лимит окна
func (w *Window) Limit() int {
	if w == nil {
		return 0
	}
	return w.limit
}

// setLimit меняет лимит, сохраняя уже накопленные отметки
func (w *Window) setLimit(limit int) {
	w.limit = limit
}

// ============================================================
// Registry - лимиты по инстансам
// ============================================================

// Limits - лимиты одного инстанса брокера. 0 = без ограничения.
type Limits struct {
	RPS int `yaml:"rps" json:"rps"` // запросов в секунду
	RPM int `yaml:"rpm" json:"rpm"` // запросов в минуту
	OPS int `yaml:"ops" json:"ops"` // ордеров в секунду
}

// Usage - снимок загрузки окон инстанса
type Usage struct {
	Limits      Limits        `json:"limits"`
	LastSecond  int           `json:"last_second"`
	LastMinute  int           `json:"last_minute"`
	OrdersInSec int           `json:"orders_last_second"`
	Waits       int64         `json:"waits"`
	WaitedTotal time.Duration `json:"waited_total_ns"`
}

type instanceWindows struct {
	rps    *Window
	rpm    *Window
	ops    *Window
	pinned bool // лимиты заданы SetLimits, умолчания их не трогают
	waits  int64
	waited time.Duration
}

func (iw *instanceWindows) setLimits(l Limits) {
	iw.rps.setLimit(l.RPS)
	iw.rpm.setLimit(l.RPM)
	iw.ops.setLimit(l.OPS)
}

func newInstanceWindows(l Limits) *instanceWindows {
	return &instanceWindows{
		rps: NewWindow(l.RPS, time.Second),
		rpm: NewWindow(l.RPM, time.Minute),
		ops: NewWindow(l.OPS, time.Second),
	}
}

// Registry держит окна всех инстансов и общий потолок ордеров в секунду.
//
// Acquire атомарно проверяет все применимые окна под одним мьютексом:
// слот занимается во всех окнах сразу или ни в одном.
type Registry struct {
	mu        sync.Mutex
	instances map[string]*instanceWindows
	global    *Window // общий лимит ордеров/сек по всем инстансам
	defaults  Limits
	now       func() time.Time
}

// NewRegistry создаёт реестр с лимитами по умолчанию и общим потолком ордеров
func NewRegistry(defaults Limits, globalOPS int) *Registry {
	return &Registry{
		instances: make(map[string]*instanceWindows),
		global:    NewWindow(globalOPS, time.Second),
		defaults:  defaults,
		now:       time.Now,
	}
}

func (r *Registry) get(key string) *instanceWindows {
	iw, ok := r.instances[key]
	if !ok {
		iw = newInstanceWindows(r.defaults)
		r.instances[key] = iw
	}
	return iw
}

// SetLimits задаёт лимиты инстанса. Уже учтённые запросы сохраняются.
// Дальнейшие SetDefaults на инстанс не действуют до ResetLimits.
func (r *Registry) SetLimits(key string, l Limits) {
	r.mu.Lock()
	defer r.mu.Unlock()
	iw := r.get(key)
	iw.setLimits(l)
	iw.pinned = true
}

// ResetLimits возвращает инстанс к лимитам по умолчанию
func (r *Registry) ResetLimits(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	iw := r.get(key)
	iw.setLimits(r.defaults)
	iw.pinned = false
}

// SetDefaults задаёт лимиты для инстансов без явной настройки,
// включая уже созданные окна
func (r *Registry) SetDefaults(l Limits) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults = l
	for _, iw := range r.instances {
		if !iw.pinned {
			iw.setLimits(l)
		}
	}
}

// SetGlobalOPS меняет общий потолок ордеров в секунду (0 - без потолка)
func (r *Registry) SetGlobalOPS(n int) {
	r.mu.Lock()
	r.global.setLimit(n)
	r.mu.Unlock()
}

// Acquire блокирует до появления слота во всех окнах инстанса.
// Для ордеров дополнительно учитываются окно ордеров/сек и общий потолок.
// Возвращает суммарное время ожидания.
func (r *Registry) Acquire(ctx context.Context, key string, order bool) (time.Duration, error) {
	var waited time.Duration
	for {
		r.mu.Lock()
		iw := r.get(key)
		now := r.now()

		d := iw.rps.delay(now)
		d = maxDuration(d, iw.rpm.delay(now))
		if order {
			d = maxDuration(d, iw.ops.delay(now))
			d = maxDuration(d, r.global.delay(now))
		}

		if d == 0 {
			iw.rps.record(now)
			iw.rpm.record(now)
			if order {
				iw.ops.record(now)
				r.global.record(now)
			}
			if waited > 0 {
				iw.waits++
				iw.waited += waited
			}
			r.mu.Unlock()
			return waited, nil
		}
		r.mu.Unlock()

		timer := time.NewTimer(d)
		select {
		case <-timer.C:
			waited += d
		case <-ctx.Done():
			timer.Stop()
			return waited, ctx.Err()
		}
	}
}

// Usage возвращает снимок окон инстанса
func (r *Registry) Usage(key string) Usage {
	r.mu.Lock()
	defer r.mu.Unlock()
	iw := r.get(key)
	now := r.now()
	return Usage{
		Limits:      Limits{RPS: iw.rps.Limit(), RPM: iw.rpm.Limit(), OPS: iw.ops.Limit()},
		LastSecond:  iw.rps.Count(now),
		LastMinute:  iw.rpm.Count(now),
		OrdersInSec: iw.ops.Count(now),
		Waits:       iw.waits,
		WaitedTotal: iw.waited,
	}
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
