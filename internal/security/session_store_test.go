package security

import (
	"context"
	"testing"

	"github.com/jaydenbeard/messaging-app/internal/sessiondir"
)

// fakeDirectory is a minimal in-memory sessiondir.Directory used only to
// exercise SessionStore without a live Postgres/Redis connection.
type fakeDirectory struct {
	sessions map[string]*sessiondir.Session
	state    map[string][]byte
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		sessions: make(map[string]*sessiondir.Session),
		state:    make(map[string][]byte),
	}
}

func (f *fakeDirectory) GetOrCreate(ctx context.Context, userA, userB string) (*sessiondir.Session, error) {
	id := sessiondir.CanonicalSessionID(userA, userB)
	if s, ok := f.sessions[id]; ok {
		return s, nil
	}
	s := &sessiondir.Session{SessionID: id, UserA: userA, UserB: userB}
	f.sessions[id] = s
	return s, nil
}

func (f *fakeDirectory) Persist(ctx context.Context, sessionID string, state []byte) error {
	f.state[sessionID] = append([]byte{}, state...)
	return nil
}

func (f *fakeDirectory) Load(ctx context.Context, sessionID string) ([]byte, error) {
	s, ok := f.state[sessionID]
	if !ok {
		return nil, sessiondir.ErrSessionNotFound
	}
	return s, nil
}

func (f *fakeDirectory) Wipe(ctx context.Context, sessionID string) error {
	delete(f.state, sessionID)
	return nil
}

var _ sessiondir.Directory = (*fakeDirectory)(nil)

func TestSessionStoreSaveAndRestoreRoundTrip(t *testing.T) {
	sp := NewSignalProtocol()
	rng := SystemRandom()
	ctx := context.Background()

	aliceIdentity, err := sp.GenerateIdentityKeyPair()
	if err != nil {
		t.Fatalf("generate alice identity: %v", err)
	}
	bobIdentity, err := sp.GenerateIdentityKeyPair()
	if err != nil {
		t.Fatalf("generate bob identity: %v", err)
	}
	bobSignedPreKey, err := sp.IssueSignedPreKey(bobIdentity, 1)
	if err != nil {
		t.Fatalf("issue bob signed pre-key: %v", err)
	}

	bundle := PreKeyBundle{
		IdentityKey:     IdentityPublicKey(bobIdentity.PublicKey),
		SignedPreKey:    bobSignedPreKey.PublicKey,
		SignedPreKeyID:  bobSignedPreKey.KeyID,
		SignedPreKeySig: bobSignedPreKey.Signature,
	}
	aliceCoreIdentity := IdentityKeyFromSeed(aliceIdentity.PrivateKey)
	result, err := InitiateX3DH(rng, aliceCoreIdentity, bundle)
	if err != nil {
		t.Fatalf("x3dh: %v", err)
	}
	ratchet, err := InitSender(rng, result.SharedSecret, bobSignedPreKey.PublicKey, aliceCoreIdentity, IdentityPublicKey(bobIdentity.PublicKey))
	if err != nil {
		t.Fatalf("init sender: %v", err)
	}

	session := sp.NewSignalSession(*aliceIdentity, "alice", "bob", true)
	session.Ratchet = ratchet

	if _, err := sp.EncryptMessageForSession(session, []byte("first")); err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	store := NewSessionStore(newFakeDirectory())
	if err := store.Save(ctx, session); err != nil {
		t.Fatalf("save: %v", err)
	}

	restored, err := store.Restore(ctx, *aliceIdentity, "alice", "bob")
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !restored.IsInitiator {
		t.Error("restored session should still be marked as initiator")
	}
	if restored.LocalID != "alice" || restored.RemoteID != "bob" {
		t.Errorf("got local=%q remote=%q, want alice/bob", restored.LocalID, restored.RemoteID)
	}

	// The restored ratchet must continue the same send chain, not
	// restart it — a fresh wire message must differ from the first.
	second, err := sp.EncryptMessageForSession(restored, []byte("second"))
	if err != nil {
		t.Fatalf("encrypt after restore: %v", err)
	}
	if len(second) == 0 {
		t.Fatal("expected a well-formed wire message after restore")
	}
}

func TestSessionStoreForget(t *testing.T) {
	sp := NewSignalProtocol()
	ctx := context.Background()
	dir := newFakeDirectory()
	store := NewSessionStore(dir)

	aliceIdentity, _ := sp.GenerateIdentityKeyPair()
	bobIdentity, _ := sp.GenerateIdentityKeyPair()
	bobSignedPreKey, _ := sp.IssueSignedPreKey(bobIdentity, 1)

	bundle := PreKeyBundle{
		IdentityKey:     IdentityPublicKey(bobIdentity.PublicKey),
		SignedPreKey:    bobSignedPreKey.PublicKey,
		SignedPreKeyID:  bobSignedPreKey.KeyID,
		SignedPreKeySig: bobSignedPreKey.Signature,
	}
	rng := SystemRandom()
	aliceCoreIdentity := IdentityKeyFromSeed(aliceIdentity.PrivateKey)
	result, _ := InitiateX3DH(rng, aliceCoreIdentity, bundle)
	ratchet, _ := InitSender(rng, result.SharedSecret, bobSignedPreKey.PublicKey, aliceCoreIdentity, IdentityPublicKey(bobIdentity.PublicKey))

	session := sp.NewSignalSession(*aliceIdentity, "alice", "bob", true)
	session.Ratchet = ratchet

	if err := store.Save(ctx, session); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Forget(ctx, "alice", "bob"); err != nil {
		t.Fatalf("forget: %v", err)
	}
	if _, err := store.Restore(ctx, *aliceIdentity, "alice", "bob"); err != sessiondir.ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound after forget, got %v", err)
	}
}

func TestSessionStoreSaveRequiresEstablishedRatchet(t *testing.T) {
	sp := NewSignalProtocol()
	ctx := context.Background()
	store := NewSessionStore(newFakeDirectory())

	identity, _ := sp.GenerateIdentityKeyPair()
	session := sp.NewSignalSession(*identity, "alice", "bob", true)

	if err := store.Save(ctx, session); err != ErrNotInitialised {
		t.Fatalf("expected ErrNotInitialised for a session with no ratchet, got %v", err)
	}
}
