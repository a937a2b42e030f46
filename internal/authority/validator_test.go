package authority

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type fakeLookuper struct {
	calls    atomic.Int64
	profiles map[string]*Profile
	err      error
}

func (f *fakeLookuper) Lookup(ctx context.Context, username string) (*Profile, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.profiles[username], nil
}

func TestValidateRejectsBadFormat(t *testing.T) {
	fake := &fakeLookuper{}
	v := NewValidator(fake, ValidatorConfig{})

	for _, name := range []string{"", "ab", "this_name_is_way_too_long", "bad name", "dash-ed", "héllo"} {
		out := v.Validate(context.Background(), name)
		if out.Result != ResultInvalidFormat {
			t.Fatalf("%q: expected INVALID_FORMAT, got %s", name, out.Result)
		}
	}
	if n := fake.calls.Load(); n != 0 {
		t.Fatalf("format rejection must not reach the authority, got %d calls", n)
	}
}

func TestValidateBridgedPrefix(t *testing.T) {
	fake := &fakeLookuper{profiles: map[string]*Profile{"Steve123": {ID: "u-1", Name: "Steve123"}}}
	v := NewValidator(fake, ValidatorConfig{})

	out := v.Validate(context.Background(), ".Steve123")
	if out.Result != ResultSuccess {
		t.Fatalf("expected SUCCESS, got %s", out.Result)
	}
	if !out.Bridged || out.Prefix != "." {
		t.Fatalf("expected bridged with prefix '.', got bridged=%v prefix=%q", out.Bridged, out.Prefix)
	}
	if out.Canonical != "Steve123" {
		t.Fatalf("canonical mismatch: %q", out.Canonical)
	}
	if out.Original != ".Steve123" {
		t.Fatalf("original must keep the prefix: %q", out.Original)
	}
}

func TestValidateNotFound(t *testing.T) {
	fake := &fakeLookuper{profiles: map[string]*Profile{}}
	v := NewValidator(fake, ValidatorConfig{})

	out := v.Validate(context.Background(), "Nobody99")
	if out.Result != ResultNotFound {
		t.Fatalf("expected NOT_FOUND, got %s", out.Result)
	}
}

func TestValidateCachesPositiveResults(t *testing.T) {
	fake := &fakeLookuper{profiles: map[string]*Profile{"Alex": {ID: "u-2", Name: "Alex"}}}
	v := NewValidator(fake, ValidatorConfig{CacheTTL: time.Minute})

	for n := 0; n < 3; n++ {
		out := v.Validate(context.Background(), "Alex")
		if out.Result != ResultSuccess {
			t.Fatalf("pass %d: expected SUCCESS, got %s", n, out.Result)
		}
	}
	if n := fake.calls.Load(); n != 1 {
		t.Fatalf("expected one authority call with warm cache, got %d", n)
	}

	// 캐시는 대소문자를 무시한다
	out := v.Validate(context.Background(), "ALEX")
	if out.Result != ResultSuccess || out.Canonical != "Alex" {
		t.Fatalf("case-insensitive cache hit failed: %s %q", out.Result, out.Canonical)
	}
	if n := fake.calls.Load(); n != 1 {
		t.Fatalf("case variant hit the authority: %d calls", n)
	}
}

func TestValidateDoesNotCacheNegatives(t *testing.T) {
	fake := &fakeLookuper{profiles: map[string]*Profile{}}
	v := NewValidator(fake, ValidatorConfig{CacheTTL: time.Minute})

	_ = v.Validate(context.Background(), "Ghost12")
	_ = v.Validate(context.Background(), "Ghost12")
	if n := fake.calls.Load(); n != 2 {
		t.Fatalf("negative results must not be cached, got %d calls", n)
	}
}

func TestValidateRateLimited(t *testing.T) {
	fake := &fakeLookuper{profiles: map[string]*Profile{
		"First1": {ID: "a", Name: "First1"},
	}}
	v := NewValidator(fake, ValidatorConfig{MinInterval: time.Hour})

	out := v.Validate(context.Background(), "First1")
	if out.Result != ResultSuccess {
		t.Fatalf("first call: expected SUCCESS, got %s", out.Result)
	}

	// 캐시에 없는 다른 이름은 호출 간격 제한에 걸린다
	out = v.Validate(context.Background(), "Second2")
	if out.Result != ResultRateLimited {
		t.Fatalf("expected RATE_LIMITED, got %s", out.Result)
	}
	if n := fake.calls.Load(); n != 1 {
		t.Fatalf("throttled validate must not reach the authority, got %d calls", n)
	}
}

func TestValidateSystemError(t *testing.T) {
	fake := &fakeLookuper{err: errf("authority down")}
	v := NewValidator(fake, ValidatorConfig{})

	out := v.Validate(context.Background(), "Whoever")
	if out.Result != ResultSystemError {
		t.Fatalf("expected SYSTEM_ERROR, got %s", out.Result)
	}
	if v.LastCallErr() == nil {
		t.Fatalf("failed lookup must be visible to health checks")
	}

	fake.err = nil
	fake.profiles = map[string]*Profile{"Whoever": {ID: "u-9", Name: "Whoever"}}
	if out = v.Validate(context.Background(), "Whoever"); out.Result != ResultSuccess {
		t.Fatalf("expected SUCCESS after recovery, got %s", out.Result)
	}
	if v.LastCallErr() != nil {
		t.Fatalf("successful lookup must clear the flag")
	}
}

func TestNormalizeNeverRejects(t *testing.T) {
	v := NewValidator(&fakeLookuper{}, ValidatorConfig{BridgePrefixes: []string{".", "*"}})

	name, bridged, prefix := v.Normalize("*Player_1")
	if name != "Player_1" || !bridged || prefix != "*" {
		t.Fatalf("unexpected normalize result: %q %v %q", name, bridged, prefix)
	}

	name, bridged, _ = v.Normalize("Plain")
	if name != "Plain" || bridged {
		t.Fatalf("plain name must pass through: %q %v", name, bridged)
	}
}
