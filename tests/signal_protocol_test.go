package tests

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/jaydenbeard/messaging-app/internal/security"
)

func TestDoubleRatchetKeyAdvancement(t *testing.T) {
	t.Run("consecutive messages produce different wire output", func(t *testing.T) {
		sp := security.NewSignalProtocol()
		alice, _ := establishAliceAndBob(t)

		messages := []string{
			"Hello Bob!",
			"How are you?",
			"Testing message 3",
			"Message number 4",
			"Final test message",
		}

		var wireMessages [][]byte
		for _, msg := range messages {
			wire, err := sp.EncryptMessageForSession(alice, []byte(msg))
			if err != nil {
				t.Fatalf("encrypt %q: %v", msg, err)
			}
			wireMessages = append(wireMessages, wire)
		}

		for i := 1; i < len(wireMessages); i++ {
			if bytes.Equal(wireMessages[i], wireMessages[i-1]) {
				t.Errorf("wire message %d is identical to message %d — chain is not advancing", i, i-1)
			}
		}
	})

	t.Run("a session round trips a full conversation", func(t *testing.T) {
		sp := security.NewSignalProtocol()
		alice, bob := establishAliceAndBob(t)

		testMessages := []string{
			"Hello from Alice!",
			"This is a test message",
			"Encryption working correctly",
			"Message number 4",
			"Final verification message",
		}

		for _, msg := range testMessages {
			wire, err := sp.EncryptMessageForSession(alice, []byte(msg))
			if err != nil {
				t.Fatalf("encrypt %q: %v", msg, err)
			}
			parsed, err := security.UnmarshalRatchetMessage(wire)
			if err != nil {
				t.Fatalf("unmarshal %q: %v", msg, err)
			}
			decrypted, err := bob.ratchet.Decrypt(parsed, []byte("alicebob"))
			if err != nil {
				t.Fatalf("decrypt %q: %v", msg, err)
			}
			if string(decrypted) != msg {
				t.Errorf("got %q, want %q", decrypted, msg)
			}
		}
	})

	t.Run("a consumed message key cannot decrypt the same ciphertext twice", func(t *testing.T) {
		sp := security.NewSignalProtocol()
		alice, bob := establishAliceAndBob(t)

		wire, err := sp.EncryptMessageForSession(alice, []byte("only once"))
		if err != nil {
			t.Fatalf("encrypt: %v", err)
		}
		msg, err := security.UnmarshalRatchetMessage(wire)
		if err != nil {
			t.Fatalf("unmarshal: %v", err)
		}

		if _, err := bob.ratchet.Decrypt(msg, []byte("alicebob")); err != nil {
			t.Fatalf("first decrypt should succeed: %v", err)
		}
		if _, err := bob.ratchet.Decrypt(msg, []byte("alicebob")); err == nil {
			t.Fatal("replaying the same ciphertext against an advanced chain should fail")
		}
	})
}

func TestSignalProtocolPrimitives(t *testing.T) {
	sp := security.NewSignalProtocol()

	keyPair, err := sp.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	if keyPair.PublicKey == ([32]byte{}) {
		t.Error("generated public key is all zeros")
	}

	var testPrivateKey [32]byte
	if _, err := rand.Read(testPrivateKey[:]); err != nil {
		t.Fatalf("generate test private key: %v", err)
	}

	sharedSecret, err := sp.SharedSecret(testPrivateKey, keyPair.PublicKey)
	if err != nil {
		t.Fatalf("shared secret: %v", err)
	}
	if sharedSecret == ([32]byte{}) {
		t.Error("generated shared secret is all zeros")
	}

	derivedKey, err := sp.HKDFDeriveKey(sharedSecret[:], nil, []byte("test"), 32)
	if err != nil {
		t.Fatalf("hkdf derive: %v", err)
	}
	if len(derivedKey) != 32 {
		t.Errorf("derived key has wrong length: got %d, want 32", len(derivedKey))
	}

	testData := []byte("Test data for encryption")
	ciphertext, err := sp.EncryptAESGCM(testData, derivedKey)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	decrypted, err := sp.DecryptAESGCM(ciphertext, derivedKey)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(decrypted, testData) {
		t.Errorf("got %q, want %q", decrypted, testData)
	}
}
