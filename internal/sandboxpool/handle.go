package sandboxpool

import (
	"context"

	"github.com/dataanalyst/sandboxpool/internal/containerdriver"
	"github.com/dataanalyst/sandboxpool/internal/sbstate"
)

// Handle is the weak capability returned by Acquire. It can exec,
// write files, release, or destroy its sandbox, but does not own the
// underlying container and must not outlive the manager's Shutdown.
type Handle struct {
	id           string
	containerRef string
	mgr          *Manager
}

func (m *Manager) newHandle(sb *TrackedSandbox) *Handle {
	return &Handle{id: sb.ID, containerRef: sb.ContainerRef, mgr: m}
}

// ID returns the sandbox's opaque identifier.
func (h *Handle) ID() string { return h.id }

// ContainerRef returns the opaque engine handle backing this sandbox.
func (h *Handle) ContainerRef() string { return h.containerRef }

// State returns a live read of the sandbox's current lifecycle state.
func (h *Handle) State() sbstate.State {
	h.mgr.mu.Lock()
	defer h.mgr.mu.Unlock()
	sb, ok := h.mgr.sandboxes[h.id]
	if !ok {
		return sbstate.Destroyed
	}
	return sb.State
}

// Exec runs cmd against the sandbox, applying the manager's configured
// exec timeout.
func (h *Handle) Exec(ctx context.Context, cmd string) (containerdriver.ExecResult, error) {
	result, err := h.mgr.driver.ExecInContainer(ctx, h.containerRef, cmd, h.mgr.cfg.Timeouts.ExecMs)
	if err == nil {
		h.mgr.mu.Lock()
		if sb, ok := h.mgr.sandboxes[h.id]; ok {
			sb.ExecCount++
		}
		h.mgr.mu.Unlock()
	}
	return result, err
}

// WriteFile writes data to path inside the sandbox.
func (h *Handle) WriteFile(ctx context.Context, path string, data []byte) error {
	return h.mgr.driver.WriteToContainer(ctx, h.containerRef, path, data)
}

// Release returns the sandbox to the pool (Executing -> Idle, possibly
// re-queued to Ready).
func (h *Handle) Release() {
	h.mgr.Release(h.id)
}

// Destroy tears the sandbox down immediately with the given reason.
func (h *Handle) Destroy(ctx context.Context, reason string) {
	h.mgr.destroy(ctx, h.id, reason)
}
