package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	IrisBaseURL string
	IrisWSURL   string

	BotPrefix string

	XUserID    string
	XUserEmail string
	XSessionID string

	RedisURL    string
	DatabaseURL string

	AuthorityBaseURL     string
	AuthorityMinInterval time.Duration
	AuthorityCacheTTL    time.Duration

	OperatorRoom string
	AllowedRooms []string

	GateListenAddr string

	VerifyWindow       time.Duration
	WarnThresholds     []time.Duration
	BridgePrefixes     []string
	MaxActiveSessions  int
	MemberGrace        time.Duration
	CheckpointInterval time.Duration

	HealthInterval      time.Duration
	MetricsInterval     time.Duration
	MaxRecoveryAttempts int

	ResumeOnRestart bool
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		AuthorityMinInterval: 1500 * time.Millisecond,
		AuthorityCacheTTL:    10 * time.Minute,
		GateListenAddr:       ":8480",
		VerifyWindow:         10 * time.Minute,
		WarnThresholds:       []time.Duration{8 * time.Minute, 2 * time.Minute, 30 * time.Second},
		BridgePrefixes:       []string{".", "*", "_", "-"},
		MaxActiveSessions:    500,
		MemberGrace:          30 * time.Minute,
		CheckpointInterval:   time.Minute,
		HealthInterval:       30 * time.Second,
		MetricsInterval:      15 * time.Second,
		MaxRecoveryAttempts:  3,
		ResumeOnRestart:      false,
	}

	cfg.IrisBaseURL = strings.TrimSpace(os.Getenv("IRIS_BASE_URL"))
	cfg.IrisWSURL = strings.TrimSpace(os.Getenv("IRIS_WS_URL"))
	cfg.BotPrefix = strings.TrimSpace(os.Getenv("BOT_PREFIX"))

	cfg.XUserID = strings.TrimSpace(os.Getenv("X_USER_ID"))
	cfg.XUserEmail = strings.TrimSpace(os.Getenv("X_USER_EMAIL"))
	cfg.XSessionID = strings.TrimSpace(os.Getenv("X_SESSION_ID"))

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	if cfg.RedisURL == "" {
		cfg.RedisURL = "redis://localhost:6379/0"
	}
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))

	cfg.AuthorityBaseURL = strings.TrimSpace(os.Getenv("AUTHORITY_BASE_URL"))
	if d, ok := envDuration("AUTHORITY_MIN_INTERVAL"); ok {
		cfg.AuthorityMinInterval = d
	}
	if d, ok := envDuration("AUTHORITY_CACHE_TTL"); ok {
		cfg.AuthorityCacheTTL = d
	}

	cfg.OperatorRoom = strings.TrimSpace(os.Getenv("OPERATOR_ROOM"))
	cfg.AllowedRooms = splitList(os.Getenv("ALLOWED_ROOMS"))

	if v := strings.TrimSpace(os.Getenv("GATE_LISTEN_ADDR")); v != "" {
		cfg.GateListenAddr = v
	}

	if d, ok := envDuration("VERIFY_WINDOW"); ok {
		cfg.VerifyWindow = d
	}
	if v := strings.TrimSpace(os.Getenv("VERIFY_WARN_THRESHOLDS")); v != "" {
		var ths []time.Duration
		for _, p := range splitList(v) {
			if d, err := time.ParseDuration(p); err == nil && d > 0 {
				ths = append(ths, d)
			}
		}
		if len(ths) > 0 {
			cfg.WarnThresholds = ths
		}
	}
	if v := strings.TrimSpace(os.Getenv("BRIDGE_PREFIXES")); v != "" {
		cfg.BridgePrefixes = splitList(v)
	}
	if v := strings.TrimSpace(os.Getenv("MAX_ACTIVE_SESSIONS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxActiveSessions = n
		}
	}
	if d, ok := envDuration("MEMBER_GRACE"); ok {
		cfg.MemberGrace = d
	}
	if d, ok := envDuration("CHECKPOINT_INTERVAL"); ok {
		cfg.CheckpointInterval = d
	}

	if d, ok := envDuration("HEALTH_INTERVAL"); ok {
		cfg.HealthInterval = d
	}
	if d, ok := envDuration("METRICS_INTERVAL"); ok {
		cfg.MetricsInterval = d
	}
	if v := strings.TrimSpace(os.Getenv("MAX_RECOVERY_ATTEMPTS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.MaxRecoveryAttempts = n
		}
	}

	if v := strings.TrimSpace(os.Getenv("RESUME_ON_RESTART")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.ResumeOnRestart = b
		}
	}

	if cfg.IrisBaseURL == "" {
		return nil, errors.New("IRIS_BASE_URL is required")
	}
	if cfg.IrisWSURL == "" {
		return nil, errors.New("IRIS_WS_URL is required")
	}
	if cfg.BotPrefix == "" {
		return nil, errors.New("BOT_PREFIX is required")
	}
	if cfg.AuthorityBaseURL == "" {
		return nil, errors.New("AUTHORITY_BASE_URL is required")
	}

	// 창보다 긴 경고 임계값은 절대 발화하지 않으므로 제거
	var pruned []time.Duration
	for _, th := range cfg.WarnThresholds {
		if th < cfg.VerifyWindow {
			pruned = append(pruned, th)
		}
	}
	cfg.WarnThresholds = pruned

	return cfg, nil
}

func envDuration(key string) (time.Duration, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d, true
	}
	// bare numbers are treated as seconds
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second, true
	}
	return 0, false
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
