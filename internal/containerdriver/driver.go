// Package containerdriver defines the narrow abstraction the sandbox
// manager uses to talk to the external container engine. The only
// engine-backed implementation shipped here is Docker (see the docker
// subpackage; fakedriver is an in-memory test double), but the interface is kept separate so a future backend can be
// registered without touching the manager.
package containerdriver

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// ErrPythonSetupFailed is raised when the first-time package bootstrap
// (pip install pandas numpy scipy) exits non-zero.
type ErrPythonSetupFailed struct {
	Stderr string
}

func (e *ErrPythonSetupFailed) Error() string {
	return fmt.Sprintf("containerdriver: python setup failed: %s", e.Stderr)
}

// ErrUnsafePath is returned by WriteToContainer when the destination
// path contains characters outside [A-Za-z0-9/_.-].
var ErrUnsafePath = errors.New("containerdriver: unsafe destination path")

// SandboxTimeoutError is raised when an operation exceeds its deadline.
type SandboxTimeoutError struct {
	Op        string
	TimeoutMs int64
}

func (e *SandboxTimeoutError) Error() string {
	return fmt.Sprintf("containerdriver: %s timed out after %dms", e.Op, e.TimeoutMs)
}

// pathSafe matches the exact character class allowed for any path
// passed to WriteToContainer: no shell metacharacters, no spaces.
var pathSafe = regexp.MustCompile(`^[A-Za-z0-9/_.\-]+$`)

// ValidatePath reports ErrUnsafePath if p contains any character outside
// the allowed set.
func ValidatePath(p string) error {
	if !pathSafe.MatchString(p) {
		return ErrUnsafePath
	}
	return nil
}

// ExecResult is the outcome of a command run inside a sandbox.
// Stdout and Stderr have leading/trailing whitespace trimmed.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// ContainerSpec carries the subset of sbconfig.Config needed to create a
// container, plus the id the manager wants burned into the container
// name.
type ContainerSpec struct {
	ID             string
	Image          string
	SemanticDir    string
	MemoryBytes    int64
	NanoCPUs       int64
	PidsLimit      int64
}

// Driver is the thin semantic wrapper exposed over the container
// engine. Implementations must be safe for concurrent use.
type Driver interface {
	// Ping verifies the engine's control socket is reachable.
	Ping(ctx context.Context) error

	// EnsureImage pulls the image if it is not already present locally,
	// blocking until the pull stream reports completion.
	EnsureImage(ctx context.Context, image string) error

	// CreateContainer creates (but does not start) a container named
	// "sandbox-<id>", returning an opaque engine reference.
	CreateContainer(ctx context.Context, spec ContainerSpec) (ref string, err error)

	// StartContainer boots a previously created container.
	StartContainer(ctx context.Context, ref string) error

	// StopContainer requests a graceful stop. Treats "already stopped"
	// as success.
	StopContainer(ctx context.Context, ref string, graceSec int) error

	// RemoveContainer force-removes a container. Treats "already gone"
	// as success.
	RemoveContainer(ctx context.Context, ref string) error

	// ExecInContainer runs cmd under /bin/bash -lc, capturing stdout and
	// stderr via the engine's multiplexed exec stream. If timeoutMs is
	// nonzero and elapses before the stream ends, the exec is aborted
	// and a *SandboxTimeoutError is returned.
	ExecInContainer(ctx context.Context, ref string, cmd string, timeoutMs int64) (ExecResult, error)

	// WriteToContainer base64-encodes data and pipes it through
	// `base64 -d > path` via ExecInContainer. path must pass
	// ValidatePath.
	WriteToContainer(ctx context.Context, ref string, path string, data []byte) error

	// IsContainerRunning inspects the container; returns false on any
	// inspect error.
	IsContainerRunning(ctx context.Context, ref string) bool

	// InitContainerPython installs python3-pip, python3-dev, and
	// pandas/numpy/scipy, unless python3 is already present. Non-zero
	// exit raises *ErrPythonSetupFailed.
	InitContainerPython(ctx context.Context, ref string, timeoutMs int64) error

	// Close releases resources held by the driver itself (e.g. the
	// underlying engine client connection).
	Close() error
}
