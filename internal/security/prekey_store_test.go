package security

import (
	"context"
	"sync"
	"testing"
)

// fakePreKeyStore is a minimal in-memory PreKeyStore used to exercise
// the one-time-prekey single-use property without a live Postgres
// connection.
type fakePreKeyStore struct {
	mu      sync.Mutex
	records map[string]map[uint32]*OneTimePreKeyRecord
}

func newFakePreKeyStore() *fakePreKeyStore {
	return &fakePreKeyStore{records: make(map[string]map[uint32]*OneTimePreKeyRecord)}
}

func (f *fakePreKeyStore) Publish(ctx context.Context, userID string, records []*OneTimePreKeyRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	bucket, ok := f.records[userID]
	if !ok {
		bucket = make(map[uint32]*OneTimePreKeyRecord)
		f.records[userID] = bucket
	}
	for _, rec := range records {
		if _, exists := bucket[rec.KeyID]; !exists {
			bucket[rec.KeyID] = rec
		}
	}
	return nil
}

func (f *fakePreKeyStore) Consume(ctx context.Context, userID string, keyID uint32) (*OneTimePreKeyRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bucket, ok := f.records[userID]
	if !ok {
		return nil, ErrUnknownOneTimePreKey
	}
	rec, ok := bucket[keyID]
	if !ok {
		return nil, ErrUnknownOneTimePreKey
	}
	delete(bucket, keyID)
	return rec, nil
}

func (f *fakePreKeyStore) Count(ctx context.Context, userID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records[userID]), nil
}

var _ PreKeyStore = (*fakePreKeyStore)(nil)

// TestPreKeyStoreConsumeIsSingleUse drives the exact call sequence a
// receiver's X3DH receive path uses: fetch the matching private half by
// the id carried in the peer's first message, then finish establishing
// the session with it. A second Consume for the same id — a replayed
// bundle, or a race between two initiators — must fail instead of
// silently handing out the same private key twice.
func TestPreKeyStoreConsumeIsSingleUse(t *testing.T) {
	ctx := context.Background()
	sp := NewSignalProtocol()
	rng := SystemRandom()
	store := newFakePreKeyStore()

	bobIdentity, err := sp.GenerateIdentityKeyPair()
	if err != nil {
		t.Fatalf("generate bob identity: %v", err)
	}
	bobSignedPreKey, err := sp.IssueSignedPreKey(bobIdentity, 1)
	if err != nil {
		t.Fatalf("issue bob signed pre-key: %v", err)
	}
	bobOneTimePreKey, err := IssueOneTimePreKey(rng, 7)
	if err != nil {
		t.Fatalf("issue bob one-time pre-key: %v", err)
	}
	if err := store.Publish(ctx, "bob", []*OneTimePreKeyRecord{bobOneTimePreKey}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	aliceIdentity, err := sp.GenerateIdentityKeyPair()
	if err != nil {
		t.Fatalf("generate alice identity: %v", err)
	}
	aliceCoreIdentity := IdentityKeyFromSeed(aliceIdentity.PrivateKey)
	bundle := PreKeyBundle{
		IdentityKey:     IdentityPublicKey(bobIdentity.PublicKey),
		SignedPreKey:    bobSignedPreKey.PublicKey,
		SignedPreKeyID:  bobSignedPreKey.KeyID,
		SignedPreKeySig: bobSignedPreKey.Signature,
		OneTimePreKey:   &bobOneTimePreKey.Public,
		OneTimePreKeyID: &bobOneTimePreKey.KeyID,
	}
	aliceResult, err := InitiateX3DH(rng, aliceCoreIdentity, bundle)
	if err != nil {
		t.Fatalf("alice x3dh: %v", err)
	}

	// Bob's receive path: look up the private half of the one-time
	// pre-key alice's bundle claims to have consumed, then finish
	// establishing the session with it.
	bobSession := sp.NewSignalSession(*bobIdentity, "bob", "alice", false)
	consumed, err := store.Consume(ctx, "bob", bobOneTimePreKey.KeyID)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	signedPreKey := SignedPreKey{
		KeyPair:   KeyPair{PrivateKey: bobSignedPreKey.PrivateKey, PublicKey: bobSignedPreKey.PublicKey},
		Signature: bobSignedPreKey.Signature,
		KeyID:     bobSignedPreKey.KeyID,
	}
	if err := sp.EstablishSessionAsReceiver(bobSession, signedPreKey, &consumed.Private, [32]byte(aliceIdentity.PublicKey), aliceResult.EphemeralPublic); err != nil {
		t.Fatalf("establish session as receiver: %v", err)
	}
	if bobSession.Ratchet == nil {
		t.Fatal("expected bob's ratchet to be initialised")
	}

	if _, err := store.Consume(ctx, "bob", bobOneTimePreKey.KeyID); err != ErrUnknownOneTimePreKey {
		t.Fatalf("expected ErrUnknownOneTimePreKey on second consume, got %v", err)
	}
}

func TestPreKeyStoreCount(t *testing.T) {
	ctx := context.Background()
	rng := SystemRandom()
	store := newFakePreKeyStore()

	one, err := IssueOneTimePreKey(rng, 1)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	two, err := IssueOneTimePreKey(rng, 2)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := store.Publish(ctx, "bob", []*OneTimePreKeyRecord{one, two}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	count, err := store.Count(ctx, "bob")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("got count %d, want 2", count)
	}

	if _, err := store.Consume(ctx, "bob", 1); err != nil {
		t.Fatalf("consume: %v", err)
	}
	count, err = store.Count(ctx, "bob")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("got count %d after consume, want 1", count)
	}
}
