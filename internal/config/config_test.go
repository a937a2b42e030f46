package config

import (
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("IRIS_BASE_URL", "http://iris:3000")
	t.Setenv("IRIS_WS_URL", "ws://iris:3000/ws")
	t.Setenv("BOT_PREFIX", "!")
	t.Setenv("AUTHORITY_BASE_URL", "https://api.example.com")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.VerifyWindow != 10*time.Minute {
		t.Fatalf("window default: %s", cfg.VerifyWindow)
	}
	if len(cfg.WarnThresholds) != 3 || cfg.WarnThresholds[0] != 8*time.Minute {
		t.Fatalf("warn threshold defaults: %v", cfg.WarnThresholds)
	}
	if cfg.GateListenAddr != ":8480" {
		t.Fatalf("gate addr default: %s", cfg.GateListenAddr)
	}
	if cfg.ResumeOnRestart {
		t.Fatalf("resume must default to off")
	}
	if cfg.RedisURL == "" {
		t.Fatalf("redis url must have a default")
	}
}

func TestLoadRequiredFields(t *testing.T) {
	setRequired(t)
	t.Setenv("AUTHORITY_BASE_URL", "")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for missing AUTHORITY_BASE_URL")
	}
}

func TestLoadDurationForms(t *testing.T) {
	setRequired(t)
	t.Setenv("VERIFY_WINDOW", "5m")
	t.Setenv("MEMBER_GRACE", "90")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.VerifyWindow != 5*time.Minute {
		t.Fatalf("window: %s", cfg.VerifyWindow)
	}
	if cfg.MemberGrace != 90*time.Second {
		t.Fatalf("bare seconds not accepted: %s", cfg.MemberGrace)
	}
}

func TestWarnThresholdsPrunedToWindow(t *testing.T) {
	setRequired(t)
	t.Setenv("VERIFY_WINDOW", "1m")
	t.Setenv("VERIFY_WARN_THRESHOLDS", "8m,30s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.WarnThresholds) != 1 || cfg.WarnThresholds[0] != 30*time.Second {
		t.Fatalf("thresholds not pruned: %v", cfg.WarnThresholds)
	}
}
