// Package sandbox is the public façade over the sandbox pool: a
// process-wide lazy singleton, the createSandbox/exec convenience
// wrappers, and the tabular-result serialization helper consumed by the
// out-of-scope agent layer.
package sandbox

import (
	"context"
	"sync"

	"github.com/dataanalyst/sandboxpool/internal/containerdriver"
	"github.com/dataanalyst/sandboxpool/internal/containerdriver/docker"
	"github.com/dataanalyst/sandboxpool/internal/sbconfig"
	"github.com/dataanalyst/sandboxpool/internal/sandboxpool"
)

var (
	once     sync.Once
	instance *sandboxpool.Manager
	initErr  error
)

// Get returns the process-wide Manager, constructing it on first call.
// overrides, if supplied, is only honored by the first caller; later
// calls ignore it.
func Get(overrides ...*sbconfig.Overrides) (*sandboxpool.Manager, error) {
	once.Do(func() {
		var o *sbconfig.Overrides
		if len(overrides) > 0 {
			o = overrides[0]
		}
		cfg := sbconfig.Load(o)
		driver, err := docker.New()
		if err != nil {
			initErr = err
			return
		}
		instance = sandboxpool.NewManager(cfg, driver)
	})
	return instance, initErr
}

// Reset tears down the singleton so a fresh Get constructs a new
// Manager. Test-only: production code never calls this.
func Reset() {
	once = sync.Once{}
	instance = nil
	initErr = nil
}

// CreateSandbox is a convenience wrapper equivalent to calling Acquire
// on the singleton Manager.
func CreateSandbox(ctx context.Context) (*sandboxpool.SimpleHandle, error) {
	mgr, err := Get()
	if err != nil {
		return nil, err
	}
	return mgr.CreateSandbox(ctx)
}

// ExecInContainer re-exports the container driver's exec operation
// unchanged, for callers that already hold a container reference rather
// than a Handle.
func ExecInContainer(ctx context.Context, ref string, cmd string, timeoutMs int64) (containerdriver.ExecResult, error) {
	mgr, err := Get()
	if err != nil {
		return containerdriver.ExecResult{}, err
	}
	return mgr.Driver().ExecInContainer(ctx, ref, cmd, timeoutMs)
}
