package authority

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Gatekeeper-bot/internal/obslog"
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,16}$`)

// Lookuper is satisfied by *Client; tests swap in a fake.
type Lookuper interface {
	Lookup(ctx context.Context, username string) (*Profile, error)
}

type cacheEntry struct {
	canonical string
	expires   time.Time
}

// Validator checks claimed game usernames: syntax first, then existence at
// the identity authority, with a positive-only TTL cache and a minimum
// spacing between authority calls.
type Validator struct {
	client Lookuper

	prefixes    []string
	minInterval time.Duration
	cacheTTL    time.Duration

	mu       sync.Mutex
	cache    map[string]cacheEntry // lowercased canonical input → entry
	lastCall time.Time
	lastErr  error // outcome of the most recent authority call
}

type ValidatorConfig struct {
	BridgePrefixes []string
	MinInterval    time.Duration
	CacheTTL       time.Duration
}

func NewValidator(client Lookuper, cfg ValidatorConfig) *Validator {
	prefixes := cfg.BridgePrefixes
	if len(prefixes) == 0 {
		prefixes = []string{".", "*", "_", "-"}
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Validator{
		client:      client,
		prefixes:    prefixes,
		minInterval: cfg.MinInterval,
		cacheTTL:    ttl,
		cache:       make(map[string]cacheEntry),
	}
}

// Normalize strips a bridged-identity prefix when present. It never rejects:
// the caller still validates whatever remains.
func (v *Validator) Normalize(username string) (name string, bridged bool, prefix string) {
	name = strings.TrimSpace(username)
	for _, p := range v.prefixes {
		if p == "" {
			continue
		}
		if strings.HasPrefix(name, p) && len(name) > len(p) {
			return name[len(p):], true, p
		}
	}
	return name, false, ""
}

// Validate runs syntax check, prefix normalization, cache, rate limit, then
// the authority lookup. Only positive results are cached; authority errors
// never are.
func (v *Validator) Validate(ctx context.Context, username string) Validation {
	original := strings.TrimSpace(username)
	out := Validation{Original: original, CheckedAt: time.Now()}

	name, bridged, prefix := v.Normalize(original)
	out.Bridged = bridged
	out.Prefix = prefix
	out.Canonical = name

	if !namePattern.MatchString(name) {
		out.Result = ResultInvalidFormat
		return out
	}

	key := strings.ToLower(name)
	if canonical, ok := v.cached(key); ok {
		out.Result = ResultSuccess
		out.Canonical = canonical
		return out
	}

	if !v.reserveCall() {
		obslog.L().Warn("authority_rate_limited", zap.String("name", name))
		out.Result = ResultRateLimited
		return out
	}

	profile, err := v.client.Lookup(ctx, name)
	v.recordCall(err)
	if err != nil {
		obslog.L().Error("authority_lookup_error", zap.String("name", name), zap.Error(err))
		out.Result = ResultSystemError
		return out
	}
	if profile == nil {
		out.Result = ResultNotFound
		return out
	}

	v.store(key, profile.Name)
	out.Result = ResultSuccess
	out.Canonical = profile.Name
	return out
}

func (v *Validator) cached(key string) (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	e, ok := v.cache[key]
	if !ok {
		return "", false
	}
	if time.Now().After(e.expires) {
		delete(v.cache, key)
		return "", false
	}
	return e.canonical, true
}

// reserveCall enforces minimum spacing between authority calls. Claims the
// slot when allowed so concurrent callers cannot both pass.
func (v *Validator) reserveCall() bool {
	if v.minInterval <= 0 {
		return true
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	now := time.Now()
	if now.Sub(v.lastCall) < v.minInterval {
		return false
	}
	v.lastCall = now
	return true
}

func (v *Validator) recordCall(err error) {
	v.mu.Lock()
	v.lastErr = err
	v.mu.Unlock()
}

// LastCallErr reports the outcome of the most recent authority lookup.
// Health checks read this instead of probing the authority live.
func (v *Validator) LastCallErr() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastErr
}

func (v *Validator) store(key, canonical string) {
	v.mu.Lock()
	v.cache[key] = cacheEntry{canonical: canonical, expires: time.Now().Add(v.cacheTTL)}
	v.mu.Unlock()
}
