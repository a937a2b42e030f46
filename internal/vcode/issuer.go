package vcode

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// 코드 알파벳: 혼동 글자(I,L,O,0,1) 제거
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const (
	codeLength   = 6
	mintAttempts = 5
)

var (
	ErrExhausted = errf("failed to allocate verification code")
	ErrNotFound  = errf("code not found or expired")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

// Issuer mints single-use verification codes bound to one session.
// Uniqueness among active codes comes from SetNX on the code key; the value
// is the owning session's chat identity.
type Issuer struct {
	rdb *redis.Client
}

func NewIssuer(rdb *redis.Client) *Issuer { return &Issuer{rdb: rdb} }

// Key returns the Redis key for a code. Exposed so the session manager can
// WATCH and delete it inside the same transaction as the state change.
func (i *Issuer) Key(code string) string { return "purg:code:" + strings.TrimSpace(code) }

// Issue mints a fresh code owned by chatID, valid for ttl. Collisions are
// retried a bounded number of times before giving up.
func (i *Issuer) Issue(ctx context.Context, chatID string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(chatID) == "" {
		return "", fmt.Errorf("invalid code owner")
	}
	for attempt := 0; attempt < mintAttempts; attempt++ {
		code, err := codeGen()
		if err != nil {
			return "", err
		}
		ok, err := i.rdb.SetNX(ctx, i.Key(code), chatID, ttl).Result()
		if err != nil {
			return "", err
		}
		if ok {
			return code, nil
		}
	}
	return "", ErrExhausted
}

// Owner resolves a presented code to its owning chat identity.
func (i *Issuer) Owner(ctx context.Context, code string) (string, error) {
	v, err := i.rdb.Get(ctx, i.Key(code)).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

// Revoke drops a code outside a transaction (cancellation/expiry cleanup).
func (i *Issuer) Revoke(ctx context.Context, code string) error {
	if strings.TrimSpace(code) == "" {
		return nil
	}
	return i.rdb.Del(ctx, i.Key(code)).Err()
}

// codeGen returns `MC-` + 6 chars from the unambiguous alphabet.
func codeGen() (string, error) {
	b := make([]byte, codeLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = codeAlphabet[int(b[i])%len(codeAlphabet)]
	}
	return fmt.Sprintf("MC-%s", string(b)), nil
}
