package sessiondir

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"
)

// PostgresDirectory is the durable backing store for session state. It
// mirrors internal/db's connection pooling and query conventions —
// parameterized queries, a bounded pool, one struct wrapping *sql.DB.
type PostgresDirectory struct {
	db *sql.DB
}

// NewPostgresDirectory opens a connection pool sized for the same
// workload internal/db.NewPostgresDB targets: frequent, short queries
// from many goroutines, not long-lived transactions.
func NewPostgresDirectory(connStr string) (*PostgresDirectory, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &PostgresDirectory{db: db}, nil
}

// Close closes the underlying connection pool.
func (p *PostgresDirectory) Close() error {
	return p.db.Close()
}

// GetDB returns the underlying *sql.DB, for callers that need a shared
// advisory-lock transaction (see WithSessionLock).
func (p *PostgresDirectory) GetDB() *sql.DB {
	return p.db
}

// GetOrCreate returns the canonical session row for a pair of users,
// inserting it if this is their first conversation.
func (p *PostgresDirectory) GetOrCreate(ctx context.Context, userA, userB string) (*Session, error) {
	sessionID := CanonicalSessionID(userA, userB)
	canonicalA, canonicalB := userA, userB
	if canonicalA > canonicalB {
		canonicalA, canonicalB = canonicalB, canonicalA
	}

	query := `
		INSERT INTO ratchet_sessions (session_id, user_a, user_b)
		VALUES ($1, $2, $3)
		ON CONFLICT (session_id) DO UPDATE SET session_id = ratchet_sessions.session_id
		RETURNING session_id, user_a, user_b`

	var session Session
	err := p.db.QueryRowContext(ctx, query, sessionID, canonicalA, canonicalB).Scan(
		&session.SessionID, &session.UserA, &session.UserB,
	)
	if err != nil {
		return nil, fmt.Errorf("sessiondir: get or create session: %w", err)
	}
	return &session, nil
}

// Persist stores (or replaces) the serialized ratchet state for a
// session.
func (p *PostgresDirectory) Persist(ctx context.Context, sessionID string, state []byte) error {
	query := `
		INSERT INTO ratchet_session_state (session_id, state, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (session_id) DO UPDATE SET state = $2, updated_at = NOW()`

	_, err := p.db.ExecContext(ctx, query, sessionID, state)
	if err != nil {
		return fmt.Errorf("sessiondir: persist session state: %w", err)
	}
	return nil
}

// Load returns the persisted state for a session.
func (p *PostgresDirectory) Load(ctx context.Context, sessionID string) ([]byte, error) {
	query := `SELECT state FROM ratchet_session_state WHERE session_id = $1`

	var state []byte
	err := p.db.QueryRowContext(ctx, query, sessionID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sessiondir: load session state: %w", err)
	}
	return state, nil
}

// Wipe deletes all persisted state for a session.
func (p *PostgresDirectory) Wipe(ctx context.Context, sessionID string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM ratchet_session_state WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("sessiondir: wipe session state: %w", err)
	}
	return nil
}

// WithSessionLock runs fn inside a transaction holding a Postgres
// session-level advisory lock keyed by sessionID, so that "decrypt +
// advance ratchet + persist" is one atomic critical section even across
// multiple chatserver replicas contending for the same conversation.
// pg_advisory_xact_lock auto-releases on commit or rollback, so a
// crashed process can never leave a session permanently locked — the
// same reasoning internal/db.PostgresDB applies to its own transactions
// via deferred Rollback.
func (p *PostgresDirectory) WithSessionLock(ctx context.Context, sessionID string, fn func(ctx context.Context) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sessiondir: begin lock transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			log.Printf("Warning: failed to rollback session lock tx: %v", err)
		}
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, lockKey(sessionID)); err != nil {
		return fmt.Errorf("sessiondir: acquire advisory lock: %w", err)
	}

	if err := fn(ctx); err != nil {
		return err
	}

	return tx.Commit()
}
