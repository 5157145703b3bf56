package sessiondir

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

func TestCanonicalSessionIDIsOrderIndependent(t *testing.T) {
	a := CanonicalSessionID("alice", "bob")
	b := CanonicalSessionID("bob", "alice")
	if a != b {
		t.Fatalf("expected same session ID regardless of argument order, got %q and %q", a, b)
	}
}

func TestCanonicalSessionIDDiffersPerPair(t *testing.T) {
	ab := CanonicalSessionID("alice", "bob")
	ac := CanonicalSessionID("alice", "carol")
	if ab == ac {
		t.Fatal("different user pairs must not collide")
	}
}

// memoryDirectory is a minimal in-memory Directory used to exercise the
// interface contract without a live Postgres/Redis connection.
type memoryDirectory struct {
	mu       sync.Mutex
	sessions map[string]*Session
	state    map[string][]byte
}

func newMemoryDirectory() *memoryDirectory {
	return &memoryDirectory{
		sessions: make(map[string]*Session),
		state:    make(map[string][]byte),
	}
}

func (m *memoryDirectory) GetOrCreate(ctx context.Context, userA, userB string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := CanonicalSessionID(userA, userB)
	if s, ok := m.sessions[id]; ok {
		return s, nil
	}
	s := &Session{SessionID: id, UserA: userA, UserB: userB}
	m.sessions[id] = s
	return s, nil
}

func (m *memoryDirectory) Persist(ctx context.Context, sessionID string, state []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := append([]byte{}, state...)
	m.state[sessionID] = cp
	return nil
}

func (m *memoryDirectory) Load(ctx context.Context, sessionID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.state[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return state, nil
}

func (m *memoryDirectory) Wipe(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.state, sessionID)
	return nil
}

func TestSessionDirectoryRoundTrip(t *testing.T) {
	dir := newMemoryDirectory()
	ctx := context.Background()

	session, err := dir.GetOrCreate(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}

	if _, err := dir.Load(ctx, session.SessionID); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound before first persist, got %v", err)
	}

	blob := []byte("opaque ratchet state bytes")
	if err := dir.Persist(ctx, session.SessionID, blob); err != nil {
		t.Fatalf("persist: %v", err)
	}

	loaded, err := dir.Load(ctx, session.SessionID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(loaded) != string(blob) {
		t.Fatalf("got %q, want %q", loaded, blob)
	}

	updated := []byte("newer ratchet state after a message")
	if err := dir.Persist(ctx, session.SessionID, updated); err != nil {
		t.Fatalf("persist update: %v", err)
	}
	loaded, err = dir.Load(ctx, session.SessionID)
	if err != nil {
		t.Fatalf("load after update: %v", err)
	}
	if string(loaded) != string(updated) {
		t.Fatalf("got %q, want %q", loaded, updated)
	}

	if err := dir.Wipe(ctx, session.SessionID); err != nil {
		t.Fatalf("wipe: %v", err)
	}
	if _, err := dir.Load(ctx, session.SessionID); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound after wipe, got %v", err)
	}
}

// TestLockKeyIsStableAndWellDistributed exercises the part of the
// advisory-lock mechanism that doesn't require a live Postgres
// connection: the same session always maps to the same lock key, and
// distinct sessions essentially never collide. Actually proving two
// goroutines can't both hold pg_advisory_xact_lock for the same key
// needs a real Postgres instance and belongs in integration tests run
// against one, not this package's unit tests (mirroring internal/db and
// internal/inbox, which carry no unit tests of their own for the same
// reason).
func TestLockKeyIsStableAndWellDistributed(t *testing.T) {
	id := CanonicalSessionID("alice", "bob")
	first := lockKey(id)
	second := lockKey(id)
	if first != second {
		t.Fatalf("lockKey must be deterministic for the same session id, got %d and %d", first, second)
	}

	seen := make(map[int64]bool)
	for i := 0; i < 1000; i++ {
		pairID := CanonicalSessionID("user", fmt.Sprintf("peer-%d", i))
		key := lockKey(pairID)
		if seen[key] {
			t.Fatalf("unexpected lock key collision among %d distinct sessions", i)
		}
		seen[key] = true
	}
}

// serializingDirectory wraps memoryDirectory with an explicit mutex to
// model what WithSessionLock guarantees for a single process: the
// critical section around Persist never interleaves for the same
// session, even under concurrent callers.
type serializingDirectory struct {
	*memoryDirectory
	mu sync.Mutex
}

func (s *serializingDirectory) withLock(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

func TestSessionDirectoryConcurrentAccessIsSerialized(t *testing.T) {
	dir := &serializingDirectory{memoryDirectory: newMemoryDirectory()}
	ctx := context.Background()
	session, _ := dir.GetOrCreate(ctx, "alice", "bob")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = dir.withLock(func() error {
				return dir.Persist(ctx, session.SessionID, []byte{byte(n)})
			})
		}(i)
	}
	wg.Wait()

	if _, err := dir.Load(ctx, session.SessionID); err != nil {
		t.Fatalf("load after concurrent writes: %v", err)
	}
}

var _ Directory = (*memoryDirectory)(nil)
