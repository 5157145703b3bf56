package security

import (
	"context"
	"fmt"
	"time"

	"github.com/jaydenbeard/messaging-app/internal/metrics"
	"github.com/jaydenbeard/messaging-app/internal/sessiondir"
)

// SessionStore bridges a live SignalSession to a sessiondir.Directory.
// It owns the small amount of session metadata the ratchet's own wire
// format doesn't carry (which side was the initiator) and delegates the
// bulk of the blob to RatchetState.Serialize/DeserializeRatchetState —
// the directory itself never needs to know any of this.
type SessionStore struct {
	dir sessiondir.Directory
	rng *SecureRandom
}

// NewSessionStore wraps a sessiondir.Directory for use by the Signal
// Protocol layer. Pass a *sessiondir.RedisCache to get the hot-path
// cache in front of Postgres, or a *sessiondir.PostgresDirectory
// directly to skip it.
func NewSessionStore(dir sessiondir.Directory) *SessionStore {
	return &SessionStore{dir: dir, rng: SystemRandom()}
}

// Save persists the current ratchet state for session. It is the
// caller's job to call this after every successful Encrypt/Decrypt —
// the store has no hook into the ratchet's own call sites.
func (s *SessionStore) Save(ctx context.Context, session *SignalSession) error {
	if session.Ratchet == nil {
		return ErrNotInitialised
	}

	ratchetBytes, err := session.Ratchet.Serialize()
	if err != nil {
		return fmt.Errorf("security: serialize ratchet state: %w", err)
	}

	entry, err := s.dir.GetOrCreate(ctx, session.LocalID, session.RemoteID)
	if err != nil {
		return fmt.Errorf("security: get or create session directory entry: %w", err)
	}

	blob := make([]byte, 0, len(ratchetBytes)+1)
	if session.IsInitiator {
		blob = append(blob, 1)
	} else {
		blob = append(blob, 0)
	}
	blob = append(blob, ratchetBytes...)

	if err := s.dir.Persist(ctx, entry.SessionID, blob); err != nil {
		return err
	}
	metrics.RatchetSkippedKeys.WithLabelValues(entry.SessionID).Set(float64(session.Ratchet.SkippedCount()))
	return nil
}

// Restore loads the persisted ratchet state for the conversation
// between localID and remoteID and rebuilds a SignalSession around it.
// Returns sessiondir.ErrSessionNotFound if nothing has been saved yet.
func (s *SessionStore) Restore(ctx context.Context, localIdentity IdentityKeyPair, localID, remoteID string) (*SignalSession, error) {
	entry, err := s.dir.GetOrCreate(ctx, localID, remoteID)
	if err != nil {
		return nil, fmt.Errorf("security: get or create session directory entry: %w", err)
	}

	blob, err := s.dir.Load(ctx, entry.SessionID)
	if err != nil {
		return nil, err
	}
	if len(blob) < 1 {
		return nil, ErrCorruptState
	}

	ratchet, err := DeserializeRatchetState(s.rng, blob[1:])
	if err != nil {
		return nil, err
	}

	return &SignalSession{
		Ratchet:         ratchet,
		IdentityKey:     localIdentity,
		LocalID:         localID,
		RemoteID:        remoteID,
		IsInitiator:     blob[0] == 1,
		KeyRotationTime: time.Now(),
	}, nil
}

// Forget tears down persisted state for the conversation between
// localID and remoteID, e.g. after an identity key compromise forces a
// fresh handshake.
func (s *SessionStore) Forget(ctx context.Context, localID, remoteID string) error {
	entry, err := s.dir.GetOrCreate(ctx, localID, remoteID)
	if err != nil {
		return fmt.Errorf("security: get or create session directory entry: %w", err)
	}
	return s.dir.Wipe(ctx, entry.SessionID)
}
