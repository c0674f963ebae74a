// Package sbconfig merges built-in defaults, environment overrides, and
// caller overrides into a single immutable Config value.
package sbconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Pool holds the warm-pool sizing knobs.
type Pool struct {
	MinWarm   int
	MaxTotal  int
	MaxIdleMs int64
}

// ResourceLimits holds per-container cgroup limits.
type ResourceLimits struct {
	MemoryBytes int64
	NanoCPUs    int64
	PidsLimit   int64
}

// HealthCheck holds liveness-probe cadence and quarantine threshold.
type HealthCheck struct {
	IntervalMs  int64
	MaxFailures int
}

// Timeouts holds the deadlines applied to blocking operations.
type Timeouts struct {
	ExecMs          int64
	InitMs          int64
	ShutdownGraceMs int64
}

// Config is the immutable configuration consulted once at manager
// construction. Callers must not mutate a Config returned by Load.
type Config struct {
	Image          string
	SemanticDir    string
	Pool           Pool
	ResourceLimits ResourceLimits
	HealthCheck    HealthCheck
	Timeouts       Timeouts
}

// Validate checks the invariants Load promises to uphold. It exists so
// callers constructing a Config by hand (tests, fakes) can assert the
// same guarantees Load gives in production.
func (c Config) Validate() error {
	if c.Pool.MinWarm < 0 || c.Pool.MaxTotal < c.Pool.MinWarm {
		return fmt.Errorf("sbconfig: invalid pool bounds minWarm=%d maxTotal=%d", c.Pool.MinWarm, c.Pool.MaxTotal)
	}
	if c.Pool.MaxIdleMs <= 0 {
		return fmt.Errorf("sbconfig: maxIdleMs must be positive")
	}
	if c.ResourceLimits.MemoryBytes <= 0 || c.ResourceLimits.NanoCPUs <= 0 || c.ResourceLimits.PidsLimit <= 0 {
		return fmt.Errorf("sbconfig: resource limits must be positive")
	}
	if c.HealthCheck.IntervalMs <= 0 || c.HealthCheck.MaxFailures <= 0 {
		return fmt.Errorf("sbconfig: health check settings must be positive")
	}
	if c.Timeouts.ExecMs <= 0 || c.Timeouts.InitMs <= 0 || c.Timeouts.ShutdownGraceMs <= 0 {
		return fmt.Errorf("sbconfig: timeouts must be positive")
	}
	return nil
}

// Overrides are caller-supplied values that sit between environment
// variables and built-in defaults in the resolution order. A nil
// pointer field means "no override" for that field.
type Overrides struct {
	Image       *string
	SemanticDir *string
	MinWarm     *int
	MaxTotal    *int
	MaxIdleMs   *int64
	MemoryBytes *int64
}

func defaults() Config {
	return Config{
		Image: "ubuntu:22.04",
		Pool: Pool{
			MinWarm:   0,
			MaxTotal:  5,
			MaxIdleMs: 300_000,
		},
		ResourceLimits: ResourceLimits{
			MemoryBytes: 536_870_912,
			NanoCPUs:    1_000_000_000,
			PidsLimit:   256,
		},
		HealthCheck: HealthCheck{
			IntervalMs:  30_000,
			MaxFailures: 3,
		},
		Timeouts: Timeouts{
			ExecMs:          60_000,
			InitMs:          120_000,
			ShutdownGraceMs: 10_000,
		},
	}
}

// Load merges built-in defaults with SANDBOX_* environment variables and
// an optional caller override, in that precedence order (env wins over
// caller override, caller override wins over default). Integer parse
// failures on an environment variable silently fall through to the next
// layer rather than aborting startup.
func Load(overrides *Overrides) Config {
	cfg := defaults()

	if overrides != nil {
		if overrides.Image != nil {
			cfg.Image = *overrides.Image
		}
		if overrides.SemanticDir != nil {
			cfg.SemanticDir = *overrides.SemanticDir
		}
		if overrides.MinWarm != nil {
			cfg.Pool.MinWarm = *overrides.MinWarm
		}
		if overrides.MaxTotal != nil {
			cfg.Pool.MaxTotal = *overrides.MaxTotal
		}
		if overrides.MaxIdleMs != nil {
			cfg.Pool.MaxIdleMs = *overrides.MaxIdleMs
		}
		if overrides.MemoryBytes != nil {
			cfg.ResourceLimits.MemoryBytes = *overrides.MemoryBytes
		}
	}

	if v, ok := envString("SANDBOX_IMAGE"); ok {
		cfg.Image = v
	}
	if v, ok := envInt("SANDBOX_POOL_MIN_WARM"); ok {
		cfg.Pool.MinWarm = int(v)
	}
	if v, ok := envInt("SANDBOX_POOL_MAX_TOTAL"); ok {
		cfg.Pool.MaxTotal = int(v)
	}
	if v, ok := envInt("SANDBOX_POOL_MAX_IDLE_MS"); ok {
		cfg.Pool.MaxIdleMs = v
	}
	if v, ok := envInt("SANDBOX_MEMORY_BYTES"); ok {
		cfg.ResourceLimits.MemoryBytes = v
	}

	if v, ok := envString("SANDBOX_SEMANTIC_DIR"); ok {
		cfg.SemanticDir = v
	} else if cfg.SemanticDir == "" {
		if cwd, err := os.Getwd(); err == nil {
			cfg.SemanticDir = filepath.Join(cwd, "src", "semantic")
		}
	}

	return cfg
}

func envString(name string) (string, bool) {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func envInt(name string) (int64, bool) {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// LogLevel resolves SANDBOX_LOG_LEVEL for the server/CLI entrypoints.
// It is consulted once, outside of the pool's own invariants, so it
// lives alongside Load rather than inside Config.
func LogLevel() string {
	if v, ok := envString("SANDBOX_LOG_LEVEL"); ok {
		return v
	}
	return "info"
}
