package purgatory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/Cheese-Gatekeeper-bot/internal/authority"
	"github.com/park285/Cheese-Gatekeeper-bot/internal/obslog"
	"github.com/park285/Cheese-Gatekeeper-bot/internal/vcode"
)

type Config struct {
	Window             time.Duration
	WarnThresholds     []time.Duration
	MemberGrace        time.Duration
	MaxActive          int
	CheckpointInterval time.Duration
}

type listenerEntry struct {
	priority int
	fn       func(Event)
}

// Manager owns the verification session state machine. All mutation goes
// through WATCH transactions on the session key, so conflicting transitions
// (redeem vs. expire) resolve to exactly one winner; the loser sees a
// stale-state failure.
type Manager struct {
	rdb    *redis.Client
	store  *Store
	issuer *vcode.Issuer
	cfg    Config
	queue  *DeadlineQueue
	repo   *Repository

	// 재시작 복원용 내구 기록 조회 (테스트에서 교체 가능)
	loadDurable func(ctx context.Context, chatID string) (*Session, error)

	lmu       sync.RWMutex
	listeners []listenerEntry
}

func NewManager(rdb *redis.Client, issuer *vcode.Issuer, cfg Config, submit func(func())) *Manager {
	if cfg.Window <= 0 {
		cfg.Window = 10 * time.Minute
	}
	if cfg.MemberGrace <= 0 {
		cfg.MemberGrace = 30 * time.Minute
	}
	m := &Manager{rdb: rdb, store: NewStore(rdb), issuer: issuer, cfg: cfg}
	m.queue = NewDeadlineQueue(m.onDeadline, submit)
	return m
}

func (m *Manager) Start() { m.queue.Start() }
func (m *Manager) Stop()  { m.queue.Stop() }

// AttachRepository wires a database repository for durable session records.
func (m *Manager) AttachRepository(r *Repository) {
	if m != nil {
		m.repo = r
		m.loadDurable = r.LoadSession
	}
}

// OnEvent registers a transition listener. Lower priority runs first;
// dispatch order is stable for equal priorities.
func (m *Manager) OnEvent(priority int, fn func(Event)) {
	if fn == nil {
		return
	}
	m.lmu.Lock()
	m.listeners = append(m.listeners, listenerEntry{priority: priority, fn: fn})
	sort.SliceStable(m.listeners, func(i, j int) bool { return m.listeners[i].priority < m.listeners[j].priority })
	m.lmu.Unlock()
}

func (m *Manager) emit(ev Event) {
	m.lmu.RLock()
	entries := make([]listenerEntry, len(m.listeners))
	copy(entries, m.listeners)
	m.lmu.RUnlock()
	for _, e := range entries {
		e.fn(ev)
	}
}

// Open creates a session for a validated claim and puts the identity into
// purgatory: code minted, countdown and warning deadlines scheduled.
func (m *Manager) Open(ctx context.Context, chatID string, val authority.Validation, meta map[string]string) (*Session, error) {
	if m == nil || m.rdb == nil {
		return nil, ErrNotInitialized
	}
	chatID = strings.TrimSpace(chatID)
	if chatID == "" || val.Result != authority.ResultSuccess {
		return nil, ErrInvalidArgs
	}

	if m.cfg.MaxActive > 0 {
		if n, err := m.store.ActiveCount(ctx); err == nil && n >= int64(m.cfg.MaxActive) {
			return nil, ErrTooManyActive
		}
	}

	now := time.Now()
	sess := &Session{
		ID:          fmt.Sprintf("vs-%d-%s", now.UnixNano(), randSuffix(3)),
		ChatID:      chatID,
		ClaimedName: val.Original,
		Name:        val.Canonical,
		Bridged:     val.Bridged,
		State:       StatePending,
		Meta:        map[string]string{},
		CreatedAt:   now,
		ExpiresAt:   now.Add(m.cfg.Window),
		ChangedAt:   now,
	}
	for k, v := range meta {
		sess.Meta[k] = v
	}
	if val.Bridged {
		sess.Meta["original"] = val.Original
		sess.Meta["prefix"] = val.Prefix
	}

	if err := m.claim(ctx, sess); err != nil {
		return nil, err
	}

	code, err := m.issuer.Issue(ctx, chatID, m.cfg.Window+time.Minute)
	if err != nil {
		// 코드 발급 실패는 복구 불가: FAILED로 닫고 감사 기록
		sess.State = StateFailed
		sess.ChangedAt = time.Now()
		_ = m.store.Save(ctx, sess)
		_ = m.store.Release(ctx, chatID)
		m.persist(ctx, sess, "code_issue_failed")
		m.emit(Event{Kind: EventFailed, Session: sess, From: StatePending, To: StateFailed, At: sess.ChangedAt})
		return nil, err
	}

	sess.Code = code
	sess.State = StateInPurgatory
	sess.ChangedAt = time.Now()
	if err := m.store.Save(ctx, sess); err != nil {
		return nil, err
	}
	_ = m.store.BindName(ctx, sess.Name, chatID)

	m.scheduleFor(sess)

	obslog.L().Info("purgatory_open",
		zap.String("session_id", sess.ID),
		zap.String("chat_id", chatID),
		zap.String("name", sess.Name),
		zap.Bool("bridged", sess.Bridged),
		zap.Time("expires_at", sess.ExpiresAt),
	)
	m.emit(Event{Kind: EventOpened, Session: sess, From: StatePending, To: StateInPurgatory, At: sess.ChangedAt})
	return sess, nil
}

// claim atomically takes the one-session-per-identity slot. A closed record
// left on its TTL does not block a new claim.
func (m *Manager) claim(ctx context.Context, sess *Session) error {
	key := m.store.KeySession(sess.ChatID)
	err := m.rdb.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil && err != redis.Nil {
			return err
		}
		if err == nil {
			var cur Session
			if jerr := json.Unmarshal(raw, &cur); jerr == nil && !cur.State.Closed() {
				return ErrSessionActive
			}
		}
		pipe := tx.TxPipeline()
		newRaw, _ := json.Marshal(sess)
		pipe.Set(ctx, key, newRaw, ttlSession)
		pipe.SAdd(ctx, m.store.keyActive(), sess.ChatID)
		_, pErr := pipe.Exec(ctx)
		return pErr
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrSessionActive
	}
	return err
}

// Redeem consumes a code presented from the game side. Consume and the
// VERIFIED transition commit in one transaction over the session and code
// keys, so two concurrent redeems cannot both succeed.
func (m *Manager) Redeem(ctx context.Context, code, presentedName string) (RedeemOutcome, *Session, error) {
	if m == nil || m.rdb == nil {
		return RedeemNotFound, nil, ErrNotInitialized
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	chatID, err := m.issuer.Owner(ctx, code)
	if err == vcode.ErrNotFound {
		return RedeemNotFound, nil, nil
	}
	if err != nil {
		return RedeemNotFound, nil, err
	}

	sessKey := m.store.KeySession(chatID)
	codeKey := m.issuer.Key(code)
	outcome := RedeemNotFound
	var out *Session

	err = m.rdb.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, sessKey).Bytes()
		if err == redis.Nil {
			outcome = RedeemNotFound
			return nil
		}
		if err != nil {
			return err
		}
		var cur Session
		if jerr := json.Unmarshal(raw, &cur); jerr != nil {
			return jerr
		}
		if cur.State != StateInPurgatory || cur.Code != code {
			outcome = RedeemExpired
			return nil
		}

		now := time.Now()
		pipe := tx.TxPipeline()
		switch {
		case now.After(cur.ExpiresAt):
			cur.State = StateExpired
			outcome = RedeemExpired
			pipe.SRem(ctx, m.store.keyActive(), cur.ChatID)
			pipe.Del(ctx, codeKey)
		case !strings.EqualFold(strings.TrimSpace(presentedName), cur.Name):
			cur.Attempts++
			outcome = RedeemMismatch
		default:
			cur.State = StateVerified
			outcome = RedeemAccepted
			pipe.Del(ctx, codeKey)
		}
		cur.ChangedAt = now
		newRaw, _ := json.Marshal(&cur)
		pipe.Set(ctx, sessKey, newRaw, ttlSession)
		if _, pErr := pipe.Exec(ctx); pErr != nil {
			return pErr
		}
		out = &cur
		return nil
	}, sessKey, codeKey)

	if errors.Is(err, redis.TxFailedErr) {
		// 동시 상환 경합 패배: 코드는 이미 소비됨
		return RedeemNotFound, nil, nil
	}
	if err != nil {
		return RedeemNotFound, nil, err
	}

	switch outcome {
	case RedeemAccepted:
		m.queue.Cancel(chatID)
		m.queue.Schedule(chatID, DeadlinePromote, time.Now().Add(m.cfg.MemberGrace), 0)
		m.persist(ctx, out, "redeemed")
		obslog.L().Info("purgatory_verified",
			zap.String("session_id", out.ID),
			zap.String("chat_id", chatID),
			zap.String("name", out.Name),
			zap.Int("attempts", out.Attempts),
		)
		m.emit(Event{Kind: EventVerified, Session: out, From: StateInPurgatory, To: StateVerified, At: out.ChangedAt})
	case RedeemExpired:
		if out != nil && out.State == StateExpired {
			m.queue.Cancel(chatID)
			m.persist(ctx, out, "expired_at_redeem")
			m.emit(Event{Kind: EventExpired, Session: out, From: StateInPurgatory, To: StateExpired, At: out.ChangedAt})
		}
	case RedeemMismatch:
		if out != nil {
			obslog.L().Warn("purgatory_redeem_mismatch",
				zap.String("session_id", out.ID),
				zap.String("presented", strings.TrimSpace(presentedName)),
				zap.Int("attempts", out.Attempts),
			)
		}
	}
	return outcome, out, nil
}

// Cancel aborts a live session (user, admin, or shutdown path).
func (m *Manager) Cancel(ctx context.Context, chatID, by string) (*Session, error) {
	sess, from, err := m.transition(ctx, chatID,
		func(cur *Session) error {
			if cur.State.Closed() {
				return ErrStaleState
			}
			return nil
		},
		func(cur *Session) { cur.State = StateCancelled })
	if err != nil {
		return nil, err
	}
	m.queue.Cancel(chatID)
	_ = m.issuer.Revoke(ctx, sess.Code)
	m.persist(ctx, sess, "cancelled:"+strings.TrimSpace(by))
	obslog.L().Info("purgatory_cancel",
		zap.String("session_id", sess.ID),
		zap.String("chat_id", chatID),
		zap.String("by", by),
	)
	m.emit(Event{Kind: EventCancelled, Session: sess, From: from, To: StateCancelled, At: sess.ChangedAt})
	return sess, nil
}

// Fail closes a session on an unrecoverable processing error. Kept distinct
// from EXPIRED so audit and metrics stay truthful.
func (m *Manager) Fail(ctx context.Context, chatID, reason string) (*Session, error) {
	sess, from, err := m.transition(ctx, chatID,
		func(cur *Session) error {
			if cur.State.Closed() {
				return ErrStaleState
			}
			return nil
		},
		func(cur *Session) { cur.State = StateFailed })
	if err != nil {
		return nil, err
	}
	m.queue.Cancel(chatID)
	_ = m.issuer.Revoke(ctx, sess.Code)
	m.persist(ctx, sess, "failed:"+strings.TrimSpace(reason))
	obslog.L().Error("purgatory_failed",
		zap.String("session_id", sess.ID),
		zap.String("chat_id", chatID),
		zap.String("reason", reason),
	)
	m.emit(Event{Kind: EventFailed, Session: sess, From: from, To: StateFailed, At: sess.ChangedAt})
	return sess, nil
}

// CancelAll aborts every live session (shutdown). Returns what was closed so
// the caller can notify users.
func (m *Manager) CancelAll(ctx context.Context, by string) ([]*Session, error) {
	ids, err := m.store.ActiveIDs(ctx)
	if err != nil {
		return nil, err
	}
	var out []*Session
	for _, id := range ids {
		sess, cerr := m.Cancel(ctx, id, by)
		if cerr != nil {
			continue
		}
		out = append(out, sess)
	}
	return out, nil
}

// Get returns the session for a chat identity, nil when none exists.
func (m *Manager) Get(ctx context.Context, chatID string) (*Session, error) {
	return m.store.Load(ctx, chatID)
}

// GetByName resolves the session that claimed a game username.
func (m *Manager) GetByName(ctx context.Context, name string) (*Session, error) {
	chatID, err := m.store.ChatIDByName(ctx, name)
	if err != nil || chatID == "" {
		return nil, err
	}
	return m.store.Load(ctx, chatID)
}

func (m *Manager) ActiveCount(ctx context.Context) (int64, error) {
	return m.store.ActiveCount(ctx)
}

// Resume reloads live sessions after a restart and reschedules their original
// deadlines. Only meaningful when the operator opted in; the default policy
// is to let stale sessions expire and force re-verification.
func (m *Manager) Resume(ctx context.Context) (int, error) {
	ids, err := m.store.ActiveIDs(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		sess, err := m.store.Load(ctx, id)
		if err != nil {
			return n, err
		}
		if sess == nil && m.loadDurable != nil {
			// Redis 값이 다운타임 중 만료: 내구 기록에서 복원
			sess, err = m.loadDurable(ctx, id)
			if err != nil {
				obslog.L().Warn("purgatory_resume_load_error", zap.String("chat_id", id), zap.Error(err))
				sess = nil
			}
			if sess != nil && sess.State == StateInPurgatory && time.Now().Before(sess.ExpiresAt) {
				if err := m.store.Save(ctx, sess); err != nil {
					return n, err
				}
				if sess.Name != "" {
					_ = m.store.BindName(ctx, sess.Name, sess.ChatID)
				}
			} else {
				sess = nil
			}
		}
		if sess == nil {
			_ = m.store.Release(ctx, id)
			continue
		}
		switch sess.State {
		case StateInPurgatory:
			m.scheduleFor(sess)
			n++
		case StateVerified:
			at := sess.ChangedAt.Add(m.cfg.MemberGrace)
			m.queue.Schedule(sess.ChatID, DeadlinePromote, at, 0)
			n++
		default:
			_ = m.store.Release(ctx, sess.ChatID)
		}
	}
	if n > 0 {
		obslog.L().Info("purgatory_resume", zap.Int("sessions", n))
	}
	return n, nil
}

// scheduleFor arms expiry, warnings, and the checkpoint loop for a session
// that is (or is back) in purgatory.
func (m *Manager) scheduleFor(sess *Session) {
	m.queue.Schedule(sess.ChatID, DeadlineExpire, sess.ExpiresAt, 0)
	for _, th := range m.cfg.WarnThresholds {
		at := sess.ExpiresAt.Add(-th)
		if at.Before(time.Now()) {
			continue
		}
		m.queue.Schedule(sess.ChatID, DeadlineWarn, at, th)
	}
	if m.repo != nil && m.cfg.CheckpointInterval > 0 {
		m.queue.Schedule(sess.ChatID, DeadlineCheckpoint, time.Now().Add(m.cfg.CheckpointInterval), 0)
	}
}

// onDeadline handles due timer entries. Every branch re-reads the session and
// guards on state, so entries that outlived their session are no-ops.
func (m *Manager) onDeadline(d Deadline) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch d.Kind {
	case DeadlineWarn:
		sess, err := m.store.Load(ctx, d.ChatID)
		if err != nil || sess == nil || sess.State != StateInPurgatory {
			return
		}
		m.emit(Event{Kind: EventWarned, Session: sess, From: StateInPurgatory, To: StateInPurgatory, Threshold: d.Threshold, At: time.Now()})

	case DeadlineExpire:
		sess, _, err := m.transition(ctx, d.ChatID,
			func(cur *Session) error {
				if cur.State != StateInPurgatory {
					return ErrStaleState
				}
				return nil
			},
			func(cur *Session) { cur.State = StateExpired })
		if err != nil {
			return
		}
		m.queue.Cancel(d.ChatID)
		_ = m.issuer.Revoke(ctx, sess.Code)
		m.persist(ctx, sess, "window_elapsed")
		obslog.L().Info("purgatory_expire",
			zap.String("session_id", sess.ID),
			zap.String("chat_id", sess.ChatID),
			zap.String("name", sess.Name),
		)
		m.emit(Event{Kind: EventExpired, Session: sess, From: StateInPurgatory, To: StateExpired, At: sess.ChangedAt})

	case DeadlinePromote:
		sess, _, err := m.transition(ctx, d.ChatID,
			func(cur *Session) error {
				if cur.State != StateVerified {
					return ErrStaleState
				}
				return nil
			},
			func(cur *Session) { cur.State = StateMember })
		if err != nil {
			return
		}
		m.persist(ctx, sess, "grace_elapsed")
		obslog.L().Info("purgatory_member",
			zap.String("session_id", sess.ID),
			zap.String("chat_id", sess.ChatID),
			zap.String("name", sess.Name),
		)
		m.emit(Event{Kind: EventMember, Session: sess, From: StateVerified, To: StateMember, At: sess.ChangedAt})

	case DeadlineCheckpoint:
		sess, err := m.store.Load(ctx, d.ChatID)
		if err != nil || sess == nil || sess.State != StateInPurgatory {
			return
		}
		m.persist(ctx, sess, "checkpoint")
		m.queue.Schedule(d.ChatID, DeadlineCheckpoint, time.Now().Add(m.cfg.CheckpointInterval), 0)
	}
}

// transition applies guard+mutate under WATCH on the session key and reports
// the state the session moved from.
func (m *Manager) transition(ctx context.Context, chatID string, guard func(*Session) error, mutate func(*Session)) (*Session, State, error) {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return nil, StateUnverified, ErrInvalidArgs
	}
	key := m.store.KeySession(chatID)
	var out *Session
	var from State
	err := m.rdb.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return ErrSessionGone
		}
		if err != nil {
			return err
		}
		var cur Session
		if jerr := json.Unmarshal(raw, &cur); jerr != nil {
			return jerr
		}
		if gerr := guard(&cur); gerr != nil {
			return gerr
		}
		from = cur.State
		mutate(&cur)
		cur.ChangedAt = time.Now()

		pipe := tx.TxPipeline()
		newRaw, _ := json.Marshal(&cur)
		pipe.Set(ctx, key, newRaw, ttlSession)
		if cur.State.Closed() {
			pipe.SRem(ctx, m.store.keyActive(), cur.ChatID)
		}
		if _, pErr := pipe.Exec(ctx); pErr != nil {
			return pErr
		}
		out = &cur
		return nil
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return nil, from, ErrStaleState
	}
	if err != nil {
		return nil, from, err
	}
	return out, from, nil
}

func (m *Manager) persist(ctx context.Context, sess *Session, note string) {
	if m.repo == nil || sess == nil {
		return
	}
	if err := m.repo.SaveSession(ctx, sess, note); err != nil {
		obslog.L().Error("purgatory_persist_error",
			zap.String("session_id", sess.ID),
			zap.String("state", string(sess.State)),
			zap.Error(err),
		)
	}
}

// randSuffix returns a hex string of n bytes length; falls back to a
// timestamp fragment when crypto fails.
func randSuffix(n int) string {
	if n <= 0 {
		n = 3
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err == nil {
		return hex.EncodeToString(b)
	}
	return fmt.Sprintf("%x", time.Now().UnixNano()%1_000_000)
}
