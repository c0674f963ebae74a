package sandboxpool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dataanalyst/sandboxpool/internal/containerdriver"
	"github.com/dataanalyst/sandboxpool/internal/containerdriver/fakedriver"
	"github.com/dataanalyst/sandboxpool/internal/sbconfig"
)

func baseConfig() sbconfig.Config {
	cfg := sbconfig.Load(nil)
	cfg.Pool.MinWarm = 0
	cfg.Pool.MaxTotal = 5
	cfg.Pool.MaxIdleMs = 300_000
	cfg.HealthCheck.IntervalMs = 30_000
	cfg.HealthCheck.MaxFailures = 3
	cfg.Timeouts.ExecMs = 60_000
	cfg.Timeouts.InitMs = 5_000
	cfg.Timeouts.ShutdownGraceMs = 10
	cfg.SemanticDir = "/tmp/semantic"
	return cfg
}

func TestWarmAcquireScenario(t *testing.T) {
	cfg := baseConfig()
	cfg.Pool.MinWarm = 1
	cfg.Pool.MaxTotal = 2

	fd := fakedriver.New()
	mgr := NewManager(cfg, fd)
	ctx := context.Background()

	if err := mgr.Initialize(ctx); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	defer mgr.Shutdown(ctx)

	stats := mgr.GetStats()
	if stats != (Stats{Total: 1, Ready: 1}) {
		t.Fatalf("expected {Total:1 Ready:1} after initialize, got %+v", stats)
	}

	h, err := mgr.Acquire(ctx, "")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	stats = mgr.GetStats()
	if stats != (Stats{Total: 1, Executing: 1}) {
		t.Fatalf("expected {Total:1 Executing:1} after acquire, got %+v", stats)
	}

	mgr.Release(h.ID())
	stats = mgr.GetStats()
	if stats != (Stats{Total: 1, Ready: 1}) {
		t.Fatalf("expected {Total:1 Ready:1} after release, got %+v", stats)
	}
}

func TestPoolExhaustionScenario(t *testing.T) {
	cfg := baseConfig()
	cfg.Pool.MinWarm = 0
	cfg.Pool.MaxTotal = 1

	fd := fakedriver.New()
	mgr := NewManager(cfg, fd)
	ctx := context.Background()

	_, err := mgr.Acquire(ctx, "A")
	if err != nil {
		t.Fatalf("first acquire should succeed: %v", err)
	}

	start := time.Now()
	_, err = mgr.Acquire(ctx, "B")
	elapsed := time.Since(start)

	var exhausted *ErrPoolExhausted
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ErrPoolExhausted, got %v", err)
	}
	if exhausted.MaxTotal != 1 {
		t.Errorf("expected MaxTotal=1, got %d", exhausted.MaxTotal)
	}
	if elapsed < 3*acquireRetryIntervalMs*time.Millisecond {
		t.Errorf("expected ~3 retry intervals of backoff, elapsed only %v", elapsed)
	}
}

func TestHealthEvictionScenario(t *testing.T) {
	cfg := baseConfig()
	cfg.Pool.MinWarm = 0
	cfg.HealthCheck.MaxFailures = 3
	cfg.HealthCheck.IntervalMs = 20

	fd := fakedriver.New()
	mgr := NewManager(cfg, fd)
	ctx := context.Background()

	if err := mgr.Initialize(ctx); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	defer mgr.Shutdown(ctx)

	h, err := mgr.Acquire(ctx, "")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	fd.HealthFailFor[h.ContainerRef()] = true
	mgr.Release(h.ID())

	var mu sync.Mutex
	var events []Event
	unregister := mgr.On(func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	defer unregister()

	deadline := time.After(2 * time.Second)
	for {
		stats := mgr.GetStats()
		if stats.Total == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("sandbox was not evicted in time, stats=%+v", stats)
		case <-time.After(10 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	sawHealthFailed, sawDestroyed := false, false
	healthFailedIdx, destroyedIdx := -1, -1
	for i, ev := range events {
		if ev.Kind == EventHealthCheckFailed && ev.Failures == 3 {
			sawHealthFailed = true
			healthFailedIdx = i
		}
		if ev.Kind == EventDestroyed && ev.Reason == "health-check-failure" {
			sawDestroyed = true
			destroyedIdx = i
		}
	}
	if !sawHealthFailed {
		t.Error("expected a health-check-failed event with failures=3")
	}
	if !sawDestroyed {
		t.Error("expected a destroyed event with reason=health-check-failure")
	}
	if sawHealthFailed && sawDestroyed && healthFailedIdx > destroyedIdx {
		t.Error("expected health-check-failed to precede destroyed")
	}
}

func TestHealthEvictionOfReadySandboxReplenishesWarmFloor(t *testing.T) {
	cfg := baseConfig()
	cfg.Pool.MinWarm = 1
	cfg.Pool.MaxTotal = 1
	cfg.HealthCheck.MaxFailures = 3
	cfg.HealthCheck.IntervalMs = 20

	fd := fakedriver.New()
	mgr := NewManager(cfg, fd)
	ctx := context.Background()

	if err := mgr.Initialize(ctx); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	defer mgr.Shutdown(ctx)

	stats := mgr.GetStats()
	if stats.Ready != 1 {
		t.Fatalf("expected one warmed Ready sandbox, got %+v", stats)
	}
	var original string
	for _, sb := range mgr.ListSandboxes() {
		original = sb.ID
		fd.HealthFailFor[sb.ContainerRef] = true
	}

	deadline := time.After(2 * time.Second)
	for {
		stats := mgr.GetStats()
		stillOriginal := false
		for _, sb := range mgr.ListSandboxes() {
			if sb.ID == original {
				stillOriginal = true
			}
		}
		if stats.Ready == 1 && !stillOriginal {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("warm floor was not replenished after health eviction of a Ready sandbox, stats=%+v", stats)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestIdleTTLScenario(t *testing.T) {
	cfg := baseConfig()
	cfg.Pool.MinWarm = 0
	cfg.Pool.MaxIdleMs = 100
	cfg.HealthCheck.IntervalMs = 50

	fd := fakedriver.New()
	mgr := NewManager(cfg, fd)
	ctx := context.Background()

	h, err := mgr.Acquire(ctx, "")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	defer mgr.Shutdown(ctx)

	mgr.Release(h.ID())
	stats := mgr.GetStats()
	if stats.Idle != 1 {
		t.Fatalf("expected sandbox to land Idle (minWarm=0), got %+v", stats)
	}

	deadline := time.After(2 * time.Second)
	for {
		stats := mgr.GetStats()
		if stats.Total == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("idle sandbox was not reaped in time, stats=%+v", stats)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestExecTimeoutDoesNotAffectHealth(t *testing.T) {
	cfg := baseConfig()
	cfg.Timeouts.ExecMs = 100

	fd := fakedriver.New()
	fd.Scripts["sleep 1"] = fakedriver.ExecScript{Delay: time.Second}

	mgr := NewManager(cfg, fd)
	ctx := context.Background()

	h, err := mgr.Acquire(ctx, "")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	defer mgr.Shutdown(ctx)

	_, err = h.Exec(ctx, "sleep 1")
	var timeoutErr *containerdriver.SandboxTimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected SandboxTimeoutError, got %v", err)
	}

	// A subsequent health probe on the same sandbox should succeed
	// (healthFailures stays 0) since the probe command is unrelated.
	// Release first: Executing sandboxes are not probed.
	mgr.Release(h.ID())
	mgr.runHealthTick(ctx)
	mgr.mu.Lock()
	sb := mgr.sandboxes[h.ID()]
	failures := sb.HealthFailures
	mgr.mu.Unlock()
	if failures != 0 {
		t.Errorf("expected healthFailures to stay 0, got %d", failures)
	}
}

func TestReleaseUnknownIDIsNoOp(t *testing.T) {
	mgr := NewManager(baseConfig(), fakedriver.New())
	mgr.Release("does-not-exist") // must not panic
}

func TestShutdownIsIdempotent(t *testing.T) {
	mgr := NewManager(baseConfig(), fakedriver.New())
	ctx := context.Background()
	if err := mgr.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := mgr.Shutdown(ctx); err != nil {
		t.Fatalf("first shutdown: %v", err)
	}
	if err := mgr.Shutdown(ctx); err != nil {
		t.Fatalf("second shutdown should be a no-op, got: %v", err)
	}
}

func TestPoolBoundNeverExceedsMaxTotal(t *testing.T) {
	cfg := baseConfig()
	cfg.Pool.MaxTotal = 2
	mgr := NewManager(cfg, fakedriver.New())
	ctx := context.Background()

	results := make(chan error, 4)
	for i := 0; i < 4; i++ {
		go func() {
			_, err := mgr.Acquire(context.Background(), "")
			results <- err
		}()
	}

	okCount := 0
	for i := 0; i < 4; i++ {
		err := <-results
		if err == nil {
			okCount++
		}
	}
	if okCount > 2 {
		t.Errorf("expected at most maxTotal=2 successful acquires, got %d", okCount)
	}
	stats := mgr.GetStats()
	if stats.Total > 2 {
		t.Errorf("pool bound violated: total=%d > maxTotal=2", stats.Total)
	}
	mgr.Shutdown(ctx)
}
