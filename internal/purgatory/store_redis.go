package purgatory

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// 세션 키 TTL: 검증 창이 끝나도 감사/조회를 위해 잠시 보존
const ttlSession = 24 * time.Hour

type Store struct{ rdb *redis.Client }

func NewStore(rdb *redis.Client) *Store { return &Store{rdb: rdb} }

func (s *Store) keySess(chatID string) string { return "purg:sess:" + strings.TrimSpace(chatID) }
func (s *Store) keyActive() string            { return "purg:active" }

// KeySession is exposed for WATCH-based transactions in the manager.
func (s *Store) KeySession(chatID string) string { return s.keySess(chatID) }

// InsertNX atomically claims the session slot for a chat identity.
// Returns false when a session already exists (one active session per key).
func (s *Store) InsertNX(ctx context.Context, sess *Session) (bool, error) {
	raw, err := json.Marshal(sess)
	if err != nil {
		return false, err
	}
	ok, err := s.rdb.SetNX(ctx, s.keySess(sess.ChatID), raw, ttlSession).Result()
	if err != nil || !ok {
		return ok, err
	}
	if err := s.rdb.SAdd(ctx, s.keyActive(), sess.ChatID).Err(); err != nil {
		return true, err
	}
	return true, nil
}

func (s *Store) Save(ctx context.Context, sess *Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.keySess(sess.ChatID), raw, ttlSession).Err()
}

func (s *Store) Load(ctx context.Context, chatID string) (*Session, error) {
	raw, err := s.rdb.Get(ctx, s.keySess(chatID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// Release removes the chat identity from the active set. The session record
// itself survives on its TTL for status queries and audit.
func (s *Store) Release(ctx context.Context, chatID string) error {
	return s.rdb.SRem(ctx, s.keyActive(), strings.TrimSpace(chatID)).Err()
}

// Drop removes both the record and the active-set entry (duplicate-claim
// rollback path).
func (s *Store) Drop(ctx context.Context, chatID string) error {
	if err := s.rdb.Del(ctx, s.keySess(chatID)).Err(); err != nil {
		return err
	}
	return s.Release(ctx, chatID)
}

// BindName indexes a claimed game username back to its chat identity so the
// access gate can look sessions up from the game side.
func (s *Store) BindName(ctx context.Context, name, chatID string) error {
	if strings.TrimSpace(name) == "" {
		return nil
	}
	return s.rdb.Set(ctx, s.keyName(name), strings.TrimSpace(chatID), ttlSession).Err()
}

func (s *Store) ChatIDByName(ctx context.Context, name string) (string, error) {
	v, err := s.rdb.Get(ctx, s.keyName(name)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return v, err
}

func (s *Store) keyName(name string) string {
	return "purg:name:" + strings.ToLower(strings.TrimSpace(name))
}

func (s *Store) ActiveIDs(ctx context.Context) ([]string, error) {
	return s.rdb.SMembers(ctx, s.keyActive()).Result()
}

func (s *Store) ActiveCount(ctx context.Context) (int64, error) {
	return s.rdb.SCard(ctx, s.keyActive()).Result()
}
