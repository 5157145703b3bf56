package security

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PreKeyStore is the bookkeeping contract a receiver's X3DH receive path
// depends on: publish a batch of one-time pre-keys, consume one exactly
// once by id, and report how many remain. *OneTimePreKeyStore is the
// Postgres-backed implementation; tests substitute an in-memory fake
// satisfying the same contract rather than standing up a database.
type PreKeyStore interface {
	Publish(ctx context.Context, userID string, records []*OneTimePreKeyRecord) error
	Consume(ctx context.Context, userID string, keyID uint32) (*OneTimePreKeyRecord, error)
	Count(ctx context.Context, userID string) (int, error)
}

// OneTimePreKeyStore tracks a receiver's own pool of published one-time
// pre-keys and enforces that each is handed out to at most one X3DH
// initiator. It never touches the Double Ratchet or X3DH math itself —
// ReceiveX3DH takes the already-retrieved private half as a plain
// argument — this type only owns the publish/consume bookkeeping X3DH
// depends on to make that private half single-use. It holds both halves
// of each key pair because it belongs to the receiving identity, not the
// relay: the relay only ever sees and forwards the public halves.
type OneTimePreKeyStore struct {
	db *sql.DB
}

var _ PreKeyStore = (*OneTimePreKeyStore)(nil)

// NewOneTimePreKeyStore wraps an existing connection pool. Callers
// typically share the *sql.DB already opened for internal/db.PostgresDB
// rather than opening a second pool.
func NewOneTimePreKeyStore(db *sql.DB) *OneTimePreKeyStore {
	return &OneTimePreKeyStore{db: db}
}

// Publish records a batch of freshly issued one-time pre-keys for a
// user so they become available to X3DH initiators.
func (s *OneTimePreKeyStore) Publish(ctx context.Context, userID string, records []*OneTimePreKeyRecord) error {
	query := `
		INSERT INTO one_time_prekeys (user_id, key_id, public_key, private_key)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, key_id) DO NOTHING`
	for _, rec := range records {
		if _, err := s.db.ExecContext(ctx, query, userID, rec.KeyID, rec.Public[:], rec.Private[:]); err != nil {
			return fmt.Errorf("security: publish one-time prekey %d: %w", rec.KeyID, err)
		}
	}
	return nil
}

// Consume atomically removes and returns the one-time pre-key
// identified by keyID for userID. A second call with the same
// (userID, keyID) — whether from a genuine race between two initiators
// or a replayed bundle — returns ErrUnknownOneTimePreKey, mirroring
// spec.md's "x3dh_receive with the same otpk_id twice fails the second
// call" requirement.
func (s *OneTimePreKeyStore) Consume(ctx context.Context, userID string, keyID uint32) (*OneTimePreKeyRecord, error) {
	query := `
		DELETE FROM one_time_prekeys
		WHERE user_id = $1 AND key_id = $2
		RETURNING public_key, private_key`

	var pub, priv []byte
	err := s.db.QueryRowContext(ctx, query, userID, keyID).Scan(&pub, &priv)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUnknownOneTimePreKey
	}
	if err != nil {
		return nil, fmt.Errorf("security: consume one-time prekey %d: %w", keyID, err)
	}
	if len(pub) != 32 || len(priv) != 32 {
		return nil, ErrCorruptState
	}

	rec := &OneTimePreKeyRecord{KeyID: keyID}
	copy(rec.Public[:], pub)
	copy(rec.Private[:], priv)
	return rec, nil
}

// Count reports how many unconsumed one-time pre-keys remain published
// for userID, so a client can be told to top up its pool.
func (s *OneTimePreKeyStore) Count(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM one_time_prekeys WHERE user_id = $1`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("security: count one-time prekeys: %w", err)
	}
	return n, nil
}
