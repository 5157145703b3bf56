package tests

import (
	"testing"

	"github.com/jaydenbeard/messaging-app/internal/security"
)

func freshBundle(t *testing.T, sp *security.SignalProtocol, identity *security.IdentityKeyPair) security.X3DHKeyBundle {
	t.Helper()
	signedPreKey, err := sp.IssueSignedPreKey(identity, 1)
	if err != nil {
		t.Fatalf("issue signed pre-key: %v", err)
	}
	return security.X3DHKeyBundle{
		IdentityKey:     identity.PublicKey,
		SignedPreKey:    signedPreKey.PublicKey,
		SignedPreKeyID:  signedPreKey.KeyID,
		SignedPreKeySig: signedPreKey.Signature,
	}
}

func TestX3DHSignatureVerification(t *testing.T) {
	t.Run("X3DH with a valid Ed25519 signature succeeds", func(t *testing.T) {
		sp := security.NewSignalProtocol()

		receiverIdentity, err := sp.GenerateIdentityKeyPair()
		if err != nil {
			t.Fatalf("generate receiver identity: %v", err)
		}
		bundle := freshBundle(t, sp, receiverIdentity)

		initiatorIdentity, err := sp.GenerateIdentityKeyPair()
		if err != nil {
			t.Fatalf("generate initiator identity: %v", err)
		}

		if _, err := sp.X3DH(initiatorIdentity, bundle); err != nil {
			t.Fatalf("X3DH with a valid signature should succeed: %v", err)
		}
	})

	t.Run("X3DH with an all-zero signature fails", func(t *testing.T) {
		sp := security.NewSignalProtocol()

		receiverIdentity, err := sp.GenerateIdentityKeyPair()
		if err != nil {
			t.Fatalf("generate receiver identity: %v", err)
		}
		bundle := freshBundle(t, sp, receiverIdentity)
		bundle.SignedPreKeySig = make([]byte, 64)

		initiatorIdentity, err := sp.GenerateIdentityKeyPair()
		if err != nil {
			t.Fatalf("generate initiator identity: %v", err)
		}

		if _, err := sp.X3DH(initiatorIdentity, bundle); err == nil {
			t.Fatal("X3DH with an all-zero signature should fail")
		}
	})

	t.Run("X3DH with a missing signature fails", func(t *testing.T) {
		sp := security.NewSignalProtocol()

		receiverIdentity, err := sp.GenerateIdentityKeyPair()
		if err != nil {
			t.Fatalf("generate receiver identity: %v", err)
		}
		bundle := freshBundle(t, sp, receiverIdentity)
		bundle.SignedPreKeySig = []byte{}

		initiatorIdentity, err := sp.GenerateIdentityKeyPair()
		if err != nil {
			t.Fatalf("generate initiator identity: %v", err)
		}

		if _, err := sp.X3DH(initiatorIdentity, bundle); err == nil {
			t.Fatal("X3DH with a missing signature should fail")
		}
	})

	t.Run("session establishment requires a valid signature", func(t *testing.T) {
		sp := security.NewSignalProtocol()

		localIdentity, err := sp.GenerateIdentityKeyPair()
		if err != nil {
			t.Fatalf("generate local identity: %v", err)
		}
		session := sp.NewSignalSession(*localIdentity, "alice", "bob", true)

		receiverIdentity, err := sp.GenerateIdentityKeyPair()
		if err != nil {
			t.Fatalf("generate receiver identity: %v", err)
		}
		bundle := freshBundle(t, sp, receiverIdentity)
		bundle.SignedPreKeySig = []byte{0x01, 0x02, 0x03}

		if err := sp.EstablishSession(session, bundle); err == nil {
			t.Fatal("session establishment with an invalid signature should fail")
		}
		if session.Ratchet != nil {
			t.Error("ratchet state should remain nil when establishment fails")
		}
	})

	t.Run("MITM substitution of the signed pre-key is prevented", func(t *testing.T) {
		sp := security.NewSignalProtocol()

		legitIdentity, err := sp.GenerateIdentityKeyPair()
		if err != nil {
			t.Fatalf("generate legitimate identity: %v", err)
		}
		legitSignedPreKey, err := sp.IssueSignedPreKey(legitIdentity, 1)
		if err != nil {
			t.Fatalf("issue legitimate signed pre-key: %v", err)
		}

		attackerIdentity, err := sp.GenerateIdentityKeyPair()
		if err != nil {
			t.Fatalf("generate attacker identity: %v", err)
		}
		attackerSignedPreKey, err := sp.IssueSignedPreKey(attackerIdentity, 1)
		if err != nil {
			t.Fatalf("issue attacker signed pre-key: %v", err)
		}

		initiatorIdentity, err := sp.GenerateIdentityKeyPair()
		if err != nil {
			t.Fatalf("generate initiator identity: %v", err)
		}

		// The attacker publishes a bundle claiming the legitimate identity
		// key but swaps in their own signed pre-key, keeping the
		// legitimate signature. The signature no longer matches the
		// substituted key, so verification must fail.
		mitmBundle := security.X3DHKeyBundle{
			IdentityKey:     legitIdentity.PublicKey,
			SignedPreKey:    attackerSignedPreKey.PublicKey,
			SignedPreKeyID:  attackerSignedPreKey.KeyID,
			SignedPreKeySig: legitSignedPreKey.Signature,
		}
		if _, err := sp.X3DH(initiatorIdentity, mitmBundle); err == nil {
			t.Fatal("MITM substitution of the signed pre-key should be rejected")
		}

		legitBundle := security.X3DHKeyBundle{
			IdentityKey:     legitIdentity.PublicKey,
			SignedPreKey:    legitSignedPreKey.PublicKey,
			SignedPreKeyID:  legitSignedPreKey.KeyID,
			SignedPreKeySig: legitSignedPreKey.Signature,
		}
		if _, err := sp.X3DH(initiatorIdentity, legitBundle); err != nil {
			t.Fatalf("legitimate X3DH should still succeed: %v", err)
		}
	})
}
