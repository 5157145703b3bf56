// Command relaydemo drives a complete handshake and message exchange
// through the cryptographic core from outside the test suite: it plays
// both the initiating and receiving identity, publishes a bundle
// through the relay's own database and Session Directory, runs X3DH,
// establishes a Double Ratchet session on each side, persists both
// sides' ratchet state, and relays one ciphertext end to end.
//
// It is a demonstration and smoke-test tool, not a client application —
// a real client never lets its own process see both identities' private
// key material. Run it against the same Postgres/Redis the relay uses.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jaydenbeard/messaging-app/internal/config"
	"github.com/jaydenbeard/messaging-app/internal/db"
	"github.com/jaydenbeard/messaging-app/internal/security"
	"github.com/jaydenbeard/messaging-app/internal/sessiondir"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	database, err := db.NewPostgresDB(cfg.PostgresURL)
	if err != nil {
		log.Fatalf("connect to database: %v", err)
	}
	defer func() {
		if err := database.Close(); err != nil {
			log.Printf("warning: close database: %v", err)
		}
	}()

	sessionDir, err := sessiondir.NewPostgresDirectory(cfg.PostgresURL)
	if err != nil {
		log.Fatalf("connect Session Directory: %v", err)
	}
	defer func() {
		if err := sessionDir.Close(); err != nil {
			log.Printf("warning: close Session Directory: %v", err)
		}
	}()

	sp := security.NewSignalProtocol()
	rng := security.SystemRandom()
	store := security.NewSessionStore(sessionDir)
	preKeys := security.NewOneTimePreKeyStore(database.GetDB())

	// --- Bob publishes a bundle, including a one-time pre-key the
	// relay will hand out on his behalf and whose private half only
	// Bob's own OneTimePreKeyStore ever holds.
	bobIdentity, err := sp.GenerateIdentityKeyPair()
	if err != nil {
		log.Fatalf("generate Bob identity: %v", err)
	}
	bobSignedPreKey, err := sp.IssueSignedPreKey(bobIdentity, 1)
	if err != nil {
		log.Fatalf("issue Bob signed pre-key: %v", err)
	}
	bobOneTimeKey, err := sp.IssueOneTimePreKey(1)
	if err != nil {
		log.Fatalf("issue Bob one-time pre-key: %v", err)
	}

	bobID, err := database.CreateUser("+15550000001", "Bob", hex.EncodeToString(bobIdentity.PublicKey[:]),
		hex.EncodeToString(bobSignedPreKey.PublicKey[:]), hex.EncodeToString(bobSignedPreKey.Signature))
	if err != nil {
		log.Fatalf("register Bob: %v", err)
	}
	if err := database.SavePreKeys(*bobID, []db.PreKeyUpload{
		{KeyID: bobOneTimeKey.KeyID, PublicKey: hex.EncodeToString(bobOneTimeKey.PublicKey[:])},
	}); err != nil {
		log.Fatalf("publish Bob's one-time pre-key to the relay: %v", err)
	}
	if err := preKeys.Publish(ctx, bobID.String(), []*security.OneTimePreKeyRecord{
		{KeyID: bobOneTimeKey.KeyID, Private: bobOneTimeKey.PrivateKey, Public: bobOneTimeKey.PublicKey},
	}); err != nil {
		log.Fatalf("publish Bob's one-time pre-key to his own store: %v", err)
	}

	// --- Alice registers and fetches Bob's bundle the way a real
	// client would hit GET /users/{bobID}/bundle.
	aliceIdentity, err := sp.GenerateIdentityKeyPair()
	if err != nil {
		log.Fatalf("generate Alice identity: %v", err)
	}
	aliceSignedPreKey, err := sp.IssueSignedPreKey(aliceIdentity, 1)
	if err != nil {
		log.Fatalf("issue Alice signed pre-key: %v", err)
	}
	aliceID, err := database.CreateUser("+15550000002", "Alice", hex.EncodeToString(aliceIdentity.PublicKey[:]),
		hex.EncodeToString(aliceSignedPreKey.PublicKey[:]), hex.EncodeToString(aliceSignedPreKey.Signature))
	if err != nil {
		log.Fatalf("register Alice: %v", err)
	}

	bundle, err := database.GetUserKeys(*bobID)
	if err != nil {
		log.Fatalf("fetch Bob's bundle: %v", err)
	}
	x3dhBundle, err := decodeBundle(bundle)
	if err != nil {
		log.Fatalf("decode Bob's bundle: %v", err)
	}

	// --- Alice runs X3DH herself, then hand-builds the sending ratchet
	// so the ephemeral key X3DH generated can be carried to Bob — the
	// same role sp.EstablishSession plays, but with the ephemeral
	// exposed for this single-process demo to hand off explicitly.
	x3dhResult, err := sp.X3DH(aliceIdentity, *x3dhBundle)
	if err != nil {
		log.Fatalf("Alice X3DH: %v", err)
	}
	aliceRatchet, err := security.InitSender(rng, x3dhResult.SharedSecret, x3dhBundle.SignedPreKey,
		security.IdentityKeyFromSeed(aliceIdentity.PrivateKey), security.IdentityPublicKey(x3dhBundle.IdentityKey))
	if err != nil {
		log.Fatalf("initialize Alice's ratchet: %v", err)
	}
	aliceSession := sp.NewSignalSession(*aliceIdentity, aliceID.String(), bobID.String(), true)
	aliceSession.Ratchet = aliceRatchet
	if err := store.Save(ctx, aliceSession); err != nil {
		log.Fatalf("persist Alice's session: %v", err)
	}

	plaintext := []byte("the first message of the ratchet")
	ciphertext, err := sp.EncryptMessageForSession(aliceSession, plaintext)
	if err != nil {
		log.Fatalf("Alice encrypt: %v", err)
	}
	if err := store.Save(ctx, aliceSession); err != nil {
		log.Fatalf("persist Alice's session after send: %v", err)
	}

	msg := &db.Message{
		MessageID:   uuid.New(),
		SenderID:    *aliceID,
		ReceiverID:  *bobID,
		Ciphertext:  ciphertext,
		MessageType: "ratchet",
		Timestamp:   time.Now(),
		Status:      "sent",
	}
	if err := database.SaveMessage(msg); err != nil {
		log.Fatalf("relay message: %v", err)
	}

	// --- Bob pulls the message, consumes the one-time pre-key it used,
	// and establishes his side of the session as receiver.
	pending, err := database.GetPendingMessages(*bobID)
	if err != nil {
		log.Fatalf("Bob pull messages: %v", err)
	}
	if len(pending) != 1 {
		log.Fatalf("expected 1 pending message for Bob, got %d", len(pending))
	}

	otkRecord, err := preKeys.Consume(ctx, bobID.String(), bobOneTimeKey.KeyID)
	if err != nil {
		log.Fatalf("Bob consume one-time pre-key: %v", err)
	}

	bobSession := sp.NewSignalSession(*bobIdentity, bobID.String(), aliceID.String(), false)
	if err := sp.EstablishSessionAsReceiver(bobSession, *bobSignedPreKey, &otkRecord.Private,
		aliceIdentity.PublicKey, x3dhResult.EphemeralPublic); err != nil {
		log.Fatalf("Bob establish session: %v", err)
	}
	if err := store.Save(ctx, bobSession); err != nil {
		log.Fatalf("persist Bob's session: %v", err)
	}

	decrypted, err := sp.DecryptMessageForSession(bobSession, pending[0].Ciphertext)
	if err != nil {
		log.Fatalf("Bob decrypt: %v", err)
	}
	if err := store.Save(ctx, bobSession); err != nil {
		log.Fatalf("persist Bob's session after receive: %v", err)
	}
	if err := database.UpdateMessageStatus(pending[0].MessageID, "delivered", time.Now()); err != nil {
		log.Fatalf("ack delivery: %v", err)
	}

	fmt.Printf("Bob decrypted: %q\n", decrypted)
	if string(decrypted) != string(plaintext) {
		log.Fatal("round trip mismatch")
	}
	fmt.Println("X3DH handshake and Double Ratchet round trip succeeded")
}

// decodeBundle converts the hex-encoded bundle db.PostgresDB.GetUserKeys
// returns over the wire back into the typed form X3DH needs.
func decodeBundle(bundle map[string]interface{}) (*security.X3DHKeyBundle, error) {
	identityKey, err := decodeKey32(bundle["identity_key"])
	if err != nil {
		return nil, fmt.Errorf("identity_key: %w", err)
	}
	signedPreKey, err := decodeKey32(bundle["signed_prekey"])
	if err != nil {
		return nil, fmt.Errorf("signed_prekey: %w", err)
	}
	sig, ok := bundle["signed_prekey_signature"].(string)
	if !ok {
		return nil, fmt.Errorf("signed_prekey_signature missing")
	}
	sigBytes, err := hex.DecodeString(sig)
	if err != nil {
		return nil, fmt.Errorf("signed_prekey_signature: %w", err)
	}

	result := &security.X3DHKeyBundle{
		IdentityKey:     identityKey,
		SignedPreKey:    signedPreKey,
		SignedPreKeyID:  1,
		SignedPreKeySig: sigBytes,
	}

	if otk, ok := bundle["onetime_prekey"].(string); ok {
		otkKey, err := decodeKey32(otk)
		if err != nil {
			return nil, fmt.Errorf("onetime_prekey: %w", err)
		}
		otkID := uint32(bundle["onetime_prekey_id"].(int))
		result.OneTimePreKey = &otkKey
		result.OneTimePreKeyID = &otkID
	}

	return result, nil
}

func decodeKey32(v interface{}) ([32]byte, error) {
	var out [32]byte
	s, ok := v.(string)
	if !ok {
		return out, fmt.Errorf("expected string, got %T", v)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(b) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}
