package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_DefaultsMatchOriginalAlgorithmConfig(t *testing.T) {
	cfg := Load()

	if cfg.Matching.MaxWaitTime != 150*time.Second {
		t.Errorf("MaxWaitTime: expected 150s, got %v", cfg.Matching.MaxWaitTime)
	}
	if cfg.Matching.InitialDelay != time.Second {
		t.Errorf("InitialDelay: expected 1s, got %v", cfg.Matching.InitialDelay)
	}
	if cfg.Matching.MaxRetries != 20 {
		t.Errorf("MaxRetries: expected 20, got %d", cfg.Matching.MaxRetries)
	}
	if cfg.Threshold != 0.7 {
		t.Errorf("Threshold: expected 0.7, got %v", cfg.Threshold)
	}
	if cfg.CacheTTL != 300*time.Second {
		t.Errorf("CacheTTL: expected 300s, got %v", cfg.CacheTTL)
	}
	if cfg.Weights.Language != 0.35 || cfg.Weights.Fluency != 0.25 {
		t.Errorf("unexpected default weights: %+v", cfg.Weights)
	}
}

func TestLoad_EnvOverridesTakePrecedence(t *testing.T) {
	os.Setenv("MAX_RETRIES", "5")
	os.Setenv("COMPATIBILITY_THRESHOLD", "0.9")
	os.Setenv("REDIS_ADDR", "redis.internal:6380")
	t.Cleanup(func() {
		os.Unsetenv("MAX_RETRIES")
		os.Unsetenv("COMPATIBILITY_THRESHOLD")
		os.Unsetenv("REDIS_ADDR")
	})

	cfg := Load()

	if cfg.Matching.MaxRetries != 5 {
		t.Errorf("expected MaxRetries overridden to 5, got %d", cfg.Matching.MaxRetries)
	}
	if cfg.Threshold != 0.9 {
		t.Errorf("expected Threshold overridden to 0.9, got %v", cfg.Threshold)
	}
	if cfg.RedisAddr != "redis.internal:6380" {
		t.Errorf("expected RedisAddr overridden, got %q", cfg.RedisAddr)
	}
}

func TestLoad_InvalidEnvFallsBackToDefault(t *testing.T) {
	os.Setenv("MAX_RETRIES", "not-a-number")
	t.Cleanup(func() { os.Unsetenv("MAX_RETRIES") })

	cfg := Load()
	if cfg.Matching.MaxRetries != 20 {
		t.Errorf("expected fallback to default 20 on invalid env value, got %d", cfg.Matching.MaxRetries)
	}
}
