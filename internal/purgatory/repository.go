package purgatory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *Repository) Ping(ctx context.Context) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("repository not initialized")
	}
	return r.db.PingContext(ctx)
}

// SaveSession upserts the durable record for a session, keyed by chat
// identity, and appends one transition-history row. Called on every terminal
// transition and on periodic checkpoints while in purgatory.
func (r *Repository) SaveSession(ctx context.Context, sess *Session, note string) error {
	if r == nil || r.db == nil || sess == nil {
		return nil
	}

	metaRaw, _ := json.Marshal(sess.Meta)

	q := `INSERT INTO verification_sessions (
	    session_id, chat_id, claimed_name, name, bridged,
	    code, state, attempts, meta,
	    created_at, expires_at, changed_at
	  ) VALUES (
	    $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
	  ) ON CONFLICT (chat_id) DO UPDATE SET
	    session_id=EXCLUDED.session_id,
	    claimed_name=EXCLUDED.claimed_name,
	    name=EXCLUDED.name,
	    bridged=EXCLUDED.bridged,
	    code=EXCLUDED.code,
	    state=EXCLUDED.state,
	    attempts=EXCLUDED.attempts,
	    meta=EXCLUDED.meta,
	    created_at=EXCLUDED.created_at,
	    expires_at=EXCLUDED.expires_at,
	    changed_at=EXCLUDED.changed_at`

	if _, err := r.db.ExecContext(ctx, q,
		sess.ID, sess.ChatID, sess.ClaimedName, sess.Name, sess.Bridged,
		sess.Code, string(sess.State), sess.Attempts, string(metaRaw),
		sess.CreatedAt, sess.ExpiresAt, sess.ChangedAt,
	); err != nil {
		return err
	}

	hq := `INSERT INTO verification_transitions (
	    session_id, chat_id, state, note, recorded_at
	  ) VALUES ($1,$2,$3,$4,$5)`
	_, err := r.db.ExecContext(ctx, hq,
		sess.ID, sess.ChatID, string(sess.State), strings.TrimSpace(note), time.Now(),
	)
	return err
}

// SaveAudit appends one administrative/transition audit row from the
// orchestrator's ring buffer.
func (r *Repository) SaveAudit(ctx context.Context, eventID, kind, sessionID, chatID, detail string, at time.Time) error {
	if r == nil || r.db == nil {
		return nil
	}
	q := `INSERT INTO verification_audit (
	    event_id, kind, session_id, chat_id, detail, recorded_at
	  ) VALUES ($1,$2,$3,$4,$5,$6)
	  ON CONFLICT (event_id) DO NOTHING`
	_, err := r.db.ExecContext(ctx, q, eventID, kind, sessionID, chatID, detail, at)
	return err
}

// LoadSession restores the durable record for one chat identity, nil when
// absent. Used by the resume-on-restart path.
func (r *Repository) LoadSession(ctx context.Context, chatID string) (*Session, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("repository not initialized")
	}
	q := `SELECT session_id, chat_id, claimed_name, name, bridged,
	        code, state, attempts, meta, created_at, expires_at, changed_at
	      FROM verification_sessions WHERE chat_id = $1`
	row := r.db.QueryRowContext(ctx, q, strings.TrimSpace(chatID))

	var sess Session
	var state, metaRaw string
	err := row.Scan(&sess.ID, &sess.ChatID, &sess.ClaimedName, &sess.Name, &sess.Bridged,
		&sess.Code, &state, &sess.Attempts, &metaRaw, &sess.CreatedAt, &sess.ExpiresAt, &sess.ChangedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sess.State = State(state)
	if strings.TrimSpace(metaRaw) != "" {
		_ = json.Unmarshal([]byte(metaRaw), &sess.Meta)
	}
	return &sess, nil
}
