// Package sandboxpool implements the warm-pool lifecycle manager that
// sits between the public façade and the container driver. It owns
// every TrackedSandbox, runs the health-check and idle-cleanup
// background loops, and is the only place the ready queue is mutated.
package sandboxpool

import (
	"time"

	"github.com/dataanalyst/sandboxpool/internal/sbstate"
)

// TrackedSandbox is the manager's internal record for one sandbox. The
// manager exclusively owns these; callers only ever see a *Handle.
type TrackedSandbox struct {
	ID             string
	ContainerRef   string
	State          sbstate.State
	CreatedAt      int64 // unix millis
	LastUsedAt     int64 // unix millis
	HealthFailures int
	SessionID      string
	Labels         map[string]string
	ExecCount      int
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// Stats is the point-in-time snapshot returned by Manager.GetStats.
type Stats struct {
	Total     int `json:"total"`
	Ready     int `json:"ready"`
	Executing int `json:"executing"`
	Idle      int `json:"idle"`
	Suspended int `json:"suspended"`
}
