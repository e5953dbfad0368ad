package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestWindowDelay(t *testing.T) {
	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	w := NewWindow(3, time.Second)

	for i := 0; i < 3; i++ {
		now := base.Add(time.Duration(i) * 100 * time.Millisecond)
		if d := w.delay(now); d != 0 {
			t.Fatalf("event %d: expected no delay, got %v", i, d)
		}
		w.record(now)
	}

	// четвёртое событие ждёт истечения первого
	now := base.Add(300 * time.Millisecond)
	if d := w.delay(now); d != 700*time.Millisecond {
		t.Errorf("expected 700ms delay, got %v", d)
	}

	// после истечения первой отметки слот свободен
	if d := w.delay(base.Add(time.Second + time.Nanosecond)); d != 0 {
		t.Errorf("expected free slot after expiry, got %v", d)
	}
	if c := w.Count(base.Add(time.Second + time.Nanosecond)); c != 2 {
		t.Errorf("expected 2 events left in window, got %d", c)
	}
}

func TestWindowUnlimited(t *testing.T) {
	w := NewWindow(0, time.Second)
	now := time.Now()
	for i := 0; i < 100; i++ {
		if d := w.delay(now); d != 0 {
			t.Fatalf("unlimited window must not delay, got %v", d)
		}
		w.record(now)
	}
}

// Свойство: при имитации часов в любом скользящем окне 1с не больше limit событий
func TestWindowRollingProperty(t *testing.T) {
	w := NewWindow(5, time.Second)
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	var stamps []time.Time
	for len(stamps) < 40 {
		if d := w.delay(now); d > 0 {
			now = now.Add(d)
			continue
		}
		w.record(now)
		stamps = append(stamps, now)
		now = now.Add(37 * time.Millisecond)
	}

	for i := range stamps {
		n := 0
		for j := i; j < len(stamps) && stamps[j].Sub(stamps[i]) < time.Second; j++ {
			n++
		}
		if n > 5 {
			t.Fatalf("window starting at %d holds %d events", i, n)
		}
	}
}

func TestRegistryAcquireRPS(t *testing.T) {
	r := NewRegistry(Limits{RPS: 5}, 0)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 5; i++ {
		if _, err := r.Acquire(ctx, "inst-1", false); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Fatalf("first 5 calls should pass immediately, took %v", elapsed)
	}

	for i := 5; i < 10; i++ {
		if _, err := r.Acquire(ctx, "inst-1", false); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed < time.Second {
		t.Errorf("calls 6-10 must wait for the window to roll, total %v", elapsed)
	}

	u := r.Usage("inst-1")
	if u.LastSecond > 5 {
		t.Errorf("expected at most 5 requests in the last second, got %d", u.LastSecond)
	}
	if u.Waits == 0 {
		t.Error("expected waits to be counted")
	}
}

func TestRegistryInstancesIndependent(t *testing.T) {
	r := NewRegistry(Limits{RPS: 1}, 0)
	ctx := context.Background()

	if _, err := r.Acquire(ctx, "a", false); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if _, err := r.Acquire(ctx, "b", false); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("instance b must not wait for instance a")
	}
}

func TestRegistryGlobalOrderCeiling(t *testing.T) {
	r := NewRegistry(Limits{}, 2)
	ctx := context.Background()

	for _, key := range []string{"a", "b"} {
		if _, err := r.Acquire(ctx, key, true); err != nil {
			t.Fatal(err)
		}
	}

	// третий ордер с любого инстанса упирается в общий потолок
	shortCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	if _, err := r.Acquire(shortCtx, "c", true); err == nil {
		t.Error("expected global ceiling to block third order")
	}

	// обычные запросы потолок не трогает
	if _, err := r.Acquire(ctx, "c", false); err != nil {
		t.Errorf("non-order request should pass: %v", err)
	}
}

func TestRegistrySetLimitsKeepsHistory(t *testing.T) {
	r := NewRegistry(Limits{RPS: 10}, 0)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := r.Acquire(ctx, "a", false); err != nil {
			t.Fatal(err)
		}
	}

	r.SetLimits("a", Limits{RPS: 3, RPM: 100})

	shortCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	if _, err := r.Acquire(shortCtx, "a", false); err == nil {
		t.Error("lowered limit must apply to already counted requests")
	}
	if got := r.Usage("a").Limits; got.RPS != 3 || got.RPM != 100 {
		t.Errorf("unexpected limits %+v", got)
	}
}

func TestRegistrySetDefaultsUpdatesExistingWindows(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(r *Registry)
		wantRPS int
	}{
		{"window created before the change", func(r *Registry) { r.Usage("a") }, 100},
		{"explicit limits survive", func(r *Registry) { r.SetLimits("a", Limits{RPS: 5}) }, 5},
		{"reset follows defaults again", func(r *Registry) {
			r.SetLimits("a", Limits{RPS: 5})
			r.ResetLimits("a")
		}, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(Limits{RPS: 1}, 0)
			tt.setup(r)
			r.SetDefaults(Limits{RPS: 100})
			if got := r.Usage("a").Limits.RPS; got != tt.wantRPS {
				t.Errorf("RPS = %d, want %d", got, tt.wantRPS)
			}
		})
	}
}

func TestRegistryConcurrentAcquire(t *testing.T) {
	r := NewRegistry(Limits{RPS: 4}, 0)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Acquire(ctx, "a", false); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if u := r.Usage("a"); u.LastSecond > 4 {
		t.Errorf("window overflow: %d", u.LastSecond)
	}
}
