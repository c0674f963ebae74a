package sbconfig

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg := Load(nil)
	if cfg.Image != "ubuntu:22.04" {
		t.Errorf("expected default image, got %s", cfg.Image)
	}
	if cfg.Pool.MinWarm != 0 || cfg.Pool.MaxTotal != 5 {
		t.Errorf("unexpected pool defaults: %+v", cfg.Pool)
	}
	if cfg.ResourceLimits.MemoryBytes != 536_870_912 {
		t.Errorf("unexpected default memory: %d", cfg.ResourceLimits.MemoryBytes)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadEnvOverridesCallerOverride(t *testing.T) {
	t.Setenv("SANDBOX_POOL_MAX_TOTAL", "9")
	overrideMaxTotal := 2
	cfg := Load(&Overrides{MaxTotal: &overrideMaxTotal})
	if cfg.Pool.MaxTotal != 9 {
		t.Errorf("expected env to win over caller override, got %d", cfg.Pool.MaxTotal)
	}
}

func TestLoadCallerOverrideWinsOverDefault(t *testing.T) {
	overrideMinWarm := 3
	cfg := Load(&Overrides{MinWarm: &overrideMinWarm})
	if cfg.Pool.MinWarm != 3 {
		t.Errorf("expected caller override to win over default, got %d", cfg.Pool.MinWarm)
	}
}

func TestLoadIgnoresUnparseableEnv(t *testing.T) {
	t.Setenv("SANDBOX_POOL_MAX_TOTAL", "not-a-number")
	cfg := Load(nil)
	if cfg.Pool.MaxTotal != 5 {
		t.Errorf("unparseable env var should fall through to default, got %d", cfg.Pool.MaxTotal)
	}
}

func TestValidateRejectsBadBounds(t *testing.T) {
	cfg := Load(nil)
	cfg.Pool.MinWarm = 10
	cfg.Pool.MaxTotal = 5
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error when minWarm > maxTotal")
	}
}
