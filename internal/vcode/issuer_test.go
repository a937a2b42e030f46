package vcode

import (
	"context"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestIssuer(t *testing.T) (*Issuer, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewIssuer(rdb), mr
}

func TestIssueFormat(t *testing.T) {
	i, _ := newTestIssuer(t)
	ctx := context.Background()

	code, err := i.Issue(ctx, "chat-1", time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !strings.HasPrefix(code, "MC-") {
		t.Fatalf("unexpected code prefix: %q", code)
	}
	body := strings.TrimPrefix(code, "MC-")
	if len(body) != codeLength {
		t.Fatalf("expected %d code chars, got %d (%q)", codeLength, len(body), code)
	}
	for _, r := range body {
		if !strings.ContainsRune(codeAlphabet, r) {
			t.Fatalf("char %q outside alphabet", r)
		}
	}
}

func TestOwnerAndRevoke(t *testing.T) {
	i, _ := newTestIssuer(t)
	ctx := context.Background()

	code, err := i.Issue(ctx, "chat-7", time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	owner, err := i.Owner(ctx, code)
	if err != nil {
		t.Fatalf("Owner: %v", err)
	}
	if owner != "chat-7" {
		t.Fatalf("owner mismatch: %q", owner)
	}

	if err := i.Revoke(ctx, code); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err = i.Owner(ctx, code); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after revoke, got %v", err)
	}
}

func TestIssueUniquePerSession(t *testing.T) {
	i, _ := newTestIssuer(t)
	ctx := context.Background()

	seen := map[string]bool{}
	for n := 0; n < 50; n++ {
		code, err := i.Issue(ctx, "chat", time.Minute)
		if err != nil {
			t.Fatalf("Issue #%d: %v", n, err)
		}
		if seen[code] {
			t.Fatalf("duplicate code issued: %q", code)
		}
		seen[code] = true
	}
}

func TestCodeExpiresWithTTL(t *testing.T) {
	i, mr := newTestIssuer(t)
	ctx := context.Background()

	code, err := i.Issue(ctx, "chat-ttl", time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	if _, err := i.Owner(ctx, code); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after TTL, got %v", err)
	}
}
