package sandboxpool

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dataanalyst/sandboxpool/internal/sbstate"
)

// runHealthLoop probes every Ready/Idle sandbox on a fixed interval.
// Executing sandboxes are never probed. Each tick's work is awaited
// sequentially before the next tick is read, so a slow tick never
// overlaps with itself.
func (m *Manager) runHealthLoop(ctx context.Context) {
	defer m.loopWG.Done()

	ticker := time.NewTicker(time.Duration(m.cfg.HealthCheck.IntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.runHealthTick(ctx)
		}
	}
}

func (m *Manager) runHealthTick(ctx context.Context) {
	candidates := m.snapshotProbeCandidates()

	for _, id := range candidates {
		m.mu.Lock()
		sb, ok := m.sandboxes[id]
		if !ok {
			m.mu.Unlock()
			continue
		}
		ref := sb.ContainerRef
		m.mu.Unlock()

		result, err := m.driver.ExecInContainer(ctx, ref, healthProbeCmd, healthProbeTimeoutMs)

		m.mu.Lock()
		sb, ok = m.sandboxes[id]
		if !ok {
			m.mu.Unlock()
			continue
		}
		if err == nil && result.ExitCode == 0 {
			sb.HealthFailures = 0
			m.mu.Unlock()
			continue
		}
		sb.HealthFailures++
		failures := sb.HealthFailures
		quarantine := failures >= m.cfg.HealthCheck.MaxFailures
		if quarantine {
			m.emitLocked(Event{Kind: EventHealthCheckFailed, SandboxID: id, Failures: failures})
		}
		m.mu.Unlock()

		if quarantine {
			m.destroy(ctx, id, "health-check-failure")
			// Recompute after destroy: the quarantined sandbox may itself
			// have been Ready and counted toward readyCount, so checking
			// before destroy would understate the vacancy by one.
			m.mu.Lock()
			belowWarm := m.readyCountLocked() < m.cfg.Pool.MinWarm
			m.mu.Unlock()
			if belowWarm {
				go func() {
					if _, err := m.warmOne(context.Background()); err != nil {
						log.Warn().Err(err).Msg("sandboxpool: replacement warm after health eviction failed")
					}
				}()
			}
		}
	}
}

// snapshotProbeCandidates returns the ids of every sandbox currently in
// Ready or Idle, taken under lock so the probe loop below never holds
// the mutex across the engine call.
func (m *Manager) snapshotProbeCandidates() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.sandboxes))
	for id, sb := range m.sandboxes {
		if sb.State == sbstate.Ready || sb.State == sbstate.Idle {
			ids = append(ids, id)
		}
	}
	return ids
}

// runCleanupLoop evicts Idle sandboxes that have exceeded maxIdleMs. It
// never touches Ready (the warm pool's purpose) or Executing sandboxes.
func (m *Manager) runCleanupLoop(ctx context.Context) {
	defer m.loopWG.Done()

	ticker := time.NewTicker(time.Duration(m.cfg.HealthCheck.IntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.runCleanupTick(ctx)
		}
	}
}

func (m *Manager) runCleanupTick(ctx context.Context) {
	now := nowMillis()

	m.mu.Lock()
	var stale []string
	for id, sb := range m.sandboxes {
		if sb.State == sbstate.Idle && now-sb.LastUsedAt > m.cfg.Pool.MaxIdleMs {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		m.destroy(ctx, id, "idle-timeout")
	}
}
