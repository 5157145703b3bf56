// Package sessiondir persists Double Ratchet session state between the
// two parties of a conversation. It never inspects the bytes it stores —
// RatchetState.Serialize/DeserializeRatchetState own the wire format —
// it only owns naming sessions, locking them for the duration of a
// decrypt-then-persist critical section, and caching the hot path.
package sessiondir

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrSessionNotFound is returned by Load when no session state has ever
// been persisted under the given ID.
var ErrSessionNotFound = errors.New("sessiondir: session not found")

// Session identifies a conversation between two parties. SessionID is
// deterministic in its two members so either party looks it up the same
// way regardless of who initiated.
type Session struct {
	SessionID string
	UserA     string
	UserB     string
}

// Directory is the storage contract the Signal Protocol layer uses to
// persist and recover ratchet state across process restarts. Callers
// treat the state blob as opaque.
type Directory interface {
	// GetOrCreate returns the canonical Session for a pair of users,
	// creating the row if this is the first time the pair has talked.
	GetOrCreate(ctx context.Context, userA, userB string) (*Session, error)

	// Persist stores the latest serialized ratchet state for a session,
	// replacing whatever was stored before.
	Persist(ctx context.Context, sessionID string, state []byte) error

	// Load returns the most recently persisted state for a session, or
	// ErrSessionNotFound if nothing has been persisted yet.
	Load(ctx context.Context, sessionID string) ([]byte, error)

	// Wipe deletes all persisted state for a session. Used when a
	// session is torn down (identity key compromise, user deletion).
	Wipe(ctx context.Context, sessionID string) error
}

// CanonicalSessionID builds a stable session identifier for a pair of
// user IDs that doesn't depend on which one is "local" — the same two
// users always hash to the same ID regardless of call order.
func CanonicalSessionID(userA, userB string) string {
	if userA > userB {
		userA, userB = userB, userA
	}
	sum := sha256.Sum256([]byte(userA + "|" + userB))
	return fmt.Sprintf("%x", sum[:16])
}

// lockKey turns a session ID into the int64 keyspace Postgres advisory
// locks use. Collisions only cost extra serialization between unrelated
// sessions, never correctness — the lock is just a mutual-exclusion
// hint around the same row the transaction already touches.
func lockKey(sessionID string) int64 {
	sum := sha256.Sum256([]byte(sessionID))
	return int64(binary.BigEndian.Uint64(sum[:8]))
}
