// Package fakedriver provides an in-memory containerdriver.Driver for
// tests that exercise the sandbox manager without a real Docker engine,
// mirroring the way the teacher's tests/integration package gates real
// Docker usage behind a reachability check — here we just never need
// Docker at all.
package fakedriver

import (
	"context"
	"sync"
	"time"

	"github.com/dataanalyst/sandboxpool/internal/containerdriver"
)

// ExecScript lets a test script a response (or failure) for a given
// command string. Commands not found in the script get the
// DefaultResult.
type ExecScript struct {
	Result containerdriver.ExecResult
	Err    error
	// Delay simulates a slow command for timeout tests.
	Delay time.Duration
}

// Driver is a controllable fake satisfying containerdriver.Driver.
type Driver struct {
	mu sync.Mutex

	PingErr        error
	EnsureImageErr error
	CreateErr      error
	StartErr       error
	StopErr        error
	RemoveErr      error
	InitPythonErr  error

	DefaultResult containerdriver.ExecResult
	Scripts       map[string]ExecScript

	running map[string]bool
	created []string
	removed []string

	// HealthFailFor, if set, causes the health probe command
	// ("python3 -c 'print(1)'") to fail (nonzero exit) for refs in the
	// set, and to succeed for everything else.
	HealthFailFor map[string]bool
}

// New returns a ready-to-use fake with sane defaults (exit 0, empty
// output).
func New() *Driver {
	return &Driver{
		DefaultResult: containerdriver.ExecResult{ExitCode: 0},
		Scripts:       map[string]ExecScript{},
		running:       map[string]bool{},
		HealthFailFor: map[string]bool{},
	}
}

func (d *Driver) Ping(ctx context.Context) error { return d.PingErr }

func (d *Driver) EnsureImage(ctx context.Context, image string) error { return d.EnsureImageErr }

func (d *Driver) CreateContainer(ctx context.Context, spec containerdriver.ContainerSpec) (string, error) {
	if d.CreateErr != nil {
		return "", d.CreateErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	ref := "ref-" + spec.ID
	d.created = append(d.created, ref)
	return ref, nil
}

func (d *Driver) StartContainer(ctx context.Context, ref string) error {
	if d.StartErr != nil {
		return d.StartErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running[ref] = true
	return nil
}

func (d *Driver) StopContainer(ctx context.Context, ref string, graceSec int) error {
	if d.StopErr != nil {
		return d.StopErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running[ref] = false
	return nil
}

func (d *Driver) RemoveContainer(ctx context.Context, ref string) error {
	if d.RemoveErr != nil {
		return d.RemoveErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.running, ref)
	d.removed = append(d.removed, ref)
	return nil
}

func (d *Driver) IsContainerRunning(ctx context.Context, ref string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running[ref]
}

func (d *Driver) InitContainerPython(ctx context.Context, ref string, timeoutMs int64) error {
	return d.InitPythonErr
}

func (d *Driver) ExecInContainer(ctx context.Context, ref string, cmd string, timeoutMs int64) (containerdriver.ExecResult, error) {
	if cmd == healthProbeCmd {
		d.mu.Lock()
		fail := d.HealthFailFor[ref]
		d.mu.Unlock()
		if fail {
			return containerdriver.ExecResult{ExitCode: 1}, nil
		}
		return containerdriver.ExecResult{ExitCode: 0}, nil
	}

	d.mu.Lock()
	script, ok := d.Scripts[cmd]
	d.mu.Unlock()
	if !ok {
		return d.DefaultResult, nil
	}
	if script.Delay > 0 {
		if timeoutMs > 0 && script.Delay > time.Duration(timeoutMs)*time.Millisecond {
			select {
			case <-time.After(time.Duration(timeoutMs) * time.Millisecond):
				return containerdriver.ExecResult{}, &containerdriver.SandboxTimeoutError{Op: "exec", TimeoutMs: timeoutMs}
			case <-ctx.Done():
				return containerdriver.ExecResult{}, ctx.Err()
			}
		}
		time.Sleep(script.Delay)
	}
	if script.Err != nil {
		return containerdriver.ExecResult{}, script.Err
	}
	return script.Result, nil
}

func (d *Driver) WriteToContainer(ctx context.Context, ref string, path string, data []byte) error {
	if err := containerdriver.ValidatePath(path); err != nil {
		return err
	}
	return nil
}

func (d *Driver) Close() error { return nil }

// healthProbeCmd matches the exact liveness command the manager's
// health-check loop runs.
const healthProbeCmd = `python3 -c 'print(1)'`

// Created returns the refs created so far, for assertions.
func (d *Driver) Created() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.created))
	copy(out, d.created)
	return out
}

// Removed returns the refs removed so far, for assertions.
func (d *Driver) Removed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.removed))
	copy(out, d.removed)
	return out
}
