package tests

import (
	"testing"
	"time"

	"github.com/jaydenbeard/messaging-app/internal/security"
	"github.com/stretchr/testify/assert"
)

func TestIdentityKeyRotation(t *testing.T) {
	t.Run("TestKeyRotationMechanism", func(t *testing.T) {
		sp := security.NewSignalProtocol()

		initialIdentity, err := sp.GenerateIdentityKeyPair()
		assert.NoError(t, err)

		session := sp.NewSignalSession(*initialIdentity, "user1", "user2", true)

		assert.Equal(t, *initialIdentity, session.IdentityKey)
		assert.Nil(t, session.PreviousIdentityKey)
		assert.NotZero(t, session.KeyRotationTime)

		err = sp.RotateIdentityKey(session)
		assert.NoError(t, err)

		assert.NotEqual(t, initialIdentity.PublicKey, session.IdentityKey.PublicKey)
		assert.NotNil(t, session.PreviousIdentityKey)
		assert.Equal(t, *initialIdentity, *session.PreviousIdentityKey)
		assert.True(t, time.Since(session.KeyRotationTime) < time.Second)
	})

	t.Run("TestRotationTrigger", func(t *testing.T) {
		sp := security.NewSignalProtocol()

		initialIdentity, err := sp.GenerateIdentityKeyPair()
		assert.NoError(t, err)

		session := sp.NewSignalSession(*initialIdentity, "user1", "user2", true)

		session.KeyRotationTime = time.Now().Add(-31 * 24 * time.Hour)
		shouldRotate := sp.ShouldRotateIdentityKey(session, 30*24*time.Hour)
		assert.True(t, shouldRotate)

		session.KeyRotationTime = time.Now()
		shouldRotate = sp.ShouldRotateIdentityKey(session, 30*24*time.Hour)
		assert.False(t, shouldRotate)
	})

	t.Run("TestKeyRotationVerification", func(t *testing.T) {
		sp := security.NewSignalProtocol()

		keyPair1, err := sp.GenerateKeyPair()
		assert.NoError(t, err)
		keyPair2, err := sp.GenerateKeyPair()
		assert.NoError(t, err)

		valid, err := sp.VerifyIdentityKeyRotation(keyPair1.PublicKey, keyPair2.PublicKey)
		assert.NoError(t, err)
		assert.True(t, valid)

		valid, err = sp.VerifyIdentityKeyRotation(keyPair1.PublicKey, keyPair1.PublicKey)
		assert.Error(t, err)
		assert.False(t, valid)

		emptyKey := [32]byte{}
		valid, err = sp.VerifyIdentityKeyRotation(keyPair1.PublicKey, emptyKey)
		assert.Error(t, err)
		assert.False(t, valid)
	})

	t.Run("TestSessionWithRotatedKeys", func(t *testing.T) {
		sp := security.NewSignalProtocol()

		initialIdentity, err := sp.GenerateIdentityKeyPair()
		assert.NoError(t, err)
		session := sp.NewSignalSession(*initialIdentity, "user1", "user2", true)

		err = sp.RotateIdentityKey(session)
		assert.NoError(t, err)

		receiverIdentity, err := sp.GenerateIdentityKeyPair()
		assert.NoError(t, err)
		signedPreKey, err := sp.IssueSignedPreKey(receiverIdentity, 1)
		assert.NoError(t, err)

		bundle := security.X3DHKeyBundle{
			IdentityKey:     receiverIdentity.PublicKey,
			SignedPreKey:    signedPreKey.PublicKey,
			SignedPreKeyID:  signedPreKey.KeyID,
			SignedPreKeySig: signedPreKey.Signature,
		}

		err = sp.EstablishSession(session, bundle)
		assert.NoError(t, err)
		assert.NotNil(t, session.Ratchet)
	})
}

func TestIdentityKeyRotationManager(t *testing.T) {
	t.Run("TestRotationManagerInitialization", func(t *testing.T) {
		store := security.NewSimpleIdentityKeyStore()
		detector := &security.SimpleCompromiseDetector{}

		manager := security.NewIdentityKeyRotationManager(store, detector)

		enabled, _, _ := manager.GetRotationStatus()
		assert.True(t, enabled)
		assert.Equal(t, 30*24*time.Hour, manager.GetRotationInterval())

		manager.Disable()
		enabled, _, _ = manager.GetRotationStatus()
		assert.False(t, enabled)

		manager.Enable()
		enabled, _, _ = manager.GetRotationStatus()
		assert.True(t, enabled)
	})

	t.Run("TestUserKeyRotation", func(t *testing.T) {
		store := security.NewSimpleIdentityKeyStore()
		detector := &security.SimpleCompromiseDetector{}

		manager := security.NewIdentityKeyRotationManager(store, detector)

		initialKeyPair, err := security.GenerateSecureIdentityKey()
		assert.NoError(t, err)

		err = store.StoreIdentityKey("testuser", initialKeyPair)
		assert.NoError(t, err)

		err = manager.RotateUserIdentityKey("testuser")
		assert.NoError(t, err)

		rotatedKeyPair, err := store.GetIdentityKey("testuser")
		assert.NoError(t, err)
		assert.NotEqual(t, initialKeyPair.PublicKey, rotatedKeyPair.PublicKey)
	})

	t.Run("TestRotationInterval", func(t *testing.T) {
		store := security.NewSimpleIdentityKeyStore()
		detector := &security.SimpleCompromiseDetector{}

		manager := security.NewIdentityKeyRotationManager(store, detector)

		manager.SetRotationInterval(15 * 24 * time.Hour)
		assert.Equal(t, 15*24*time.Hour, manager.GetRotationInterval())

		manager.SetRotationInterval(12 * time.Hour)
		assert.Equal(t, 24*time.Hour, manager.GetRotationInterval())
	})
}

func TestForwardSecrecyWithKeyRotation(t *testing.T) {
	t.Run("TestMessageEncryptionWithRotatedKeys", func(t *testing.T) {
		sp := security.NewSignalProtocol()
		alice, bob := establishAliceAndBob(t)

		plaintext := []byte("Hello, this is a test message!")
		wire, err := sp.EncryptMessageForSession(alice, plaintext)
		assert.NoError(t, err)
		assert.NotNil(t, wire)

		originalIdentityKey := alice.IdentityKey.PublicKey
		err = sp.RotateIdentityKey(alice)
		assert.NoError(t, err)
		assert.NotEqual(t, originalIdentityKey, alice.IdentityKey.PublicKey)

		// The Double Ratchet's own identity is fixed at session
		// establishment — rotating the session's IdentityKey field
		// doesn't change who the ratchet signs as, so Bob still decrypts
		// against the same ratchet state exactly as before.
		msg, err := security.UnmarshalRatchetMessage(wire)
		assert.NoError(t, err)
		decrypted, err := bob.ratchet.Decrypt(msg, []byte("alicebob"))
		assert.NoError(t, err)
		assert.Equal(t, plaintext, decrypted)

		newPlaintext := []byte("This message is sent after rotation!")
		newWire, err := sp.EncryptMessageForSession(alice, newPlaintext)
		assert.NoError(t, err)
		assert.NotNil(t, newWire)

		newMsg, err := security.UnmarshalRatchetMessage(newWire)
		assert.NoError(t, err)
		newDecrypted, err := bob.ratchet.Decrypt(newMsg, []byte("alicebob"))
		assert.NoError(t, err)
		assert.Equal(t, newPlaintext, newDecrypted)
	})

	t.Run("TestSessionRecoveryAfterKeyRotation", func(t *testing.T) {
		sp := security.NewSignalProtocol()

		initialIdentity, err := sp.GenerateIdentityKeyPair()
		assert.NoError(t, err)
		session := sp.NewSignalSession(*initialIdentity, "user1", "user2", true)

		err = sp.RotateIdentityKey(session)
		assert.NoError(t, err)

		receiverIdentity, err := sp.GenerateIdentityKeyPair()
		assert.NoError(t, err)
		signedPreKey, err := sp.IssueSignedPreKey(receiverIdentity, 1)
		assert.NoError(t, err)

		bundle := security.X3DHKeyBundle{
			IdentityKey:     receiverIdentity.PublicKey,
			SignedPreKey:    signedPreKey.PublicKey,
			SignedPreKeyID:  signedPreKey.KeyID,
			SignedPreKeySig: signedPreKey.Signature,
		}

		err = sp.EstablishSession(session, bundle)
		assert.NoError(t, err)
		assert.NotNil(t, session.Ratchet)

		plaintext := []byte("Session recovered after key rotation!")
		wire, err := sp.EncryptMessageForSession(session, plaintext)
		assert.NoError(t, err)

		// session has no peer to decrypt with here — this just confirms
		// encryption against a post-rotation, freshly-established session
		// succeeds and produces well-formed wire output.
		msg, err := security.UnmarshalRatchetMessage(wire)
		assert.NoError(t, err)
		assert.NotEmpty(t, msg.Ciphertext)
	})
}
