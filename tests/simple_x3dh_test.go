package tests

import (
	"testing"

	"github.com/jaydenbeard/messaging-app/internal/security"
)

func TestSimpleX3DHSignatureVerification(t *testing.T) {
	sp := security.NewSignalProtocol()

	identity, err := sp.GenerateIdentityKeyPair()
	if err != nil {
		t.Fatalf("generate identity key pair: %v", err)
	}

	signedPreKey, err := sp.IssueSignedPreKey(identity, 1)
	if err != nil {
		t.Fatalf("issue signed pre-key: %v", err)
	}

	t.Run("valid signature verifies", func(t *testing.T) {
		valid, err := sp.VerifySignedPreKeySignature(identity.PublicKey, signedPreKey.PublicKey, signedPreKey.Signature)
		if err != nil {
			t.Fatalf("verify: %v", err)
		}
		if !valid {
			t.Fatal("a genuine signed pre-key signature should verify")
		}
	})

	t.Run("empty signature fails", func(t *testing.T) {
		valid, err := sp.VerifySignedPreKeySignature(identity.PublicKey, signedPreKey.PublicKey, []byte{})
		if err == nil && valid {
			t.Fatal("empty signature should not verify")
		}
	})

	t.Run("truncated signature fails", func(t *testing.T) {
		valid, err := sp.VerifySignedPreKeySignature(identity.PublicKey, signedPreKey.PublicKey, []byte{0x01, 0x02, 0x03})
		if err == nil && valid {
			t.Fatal("truncated signature should not verify")
		}
	})

	t.Run("all-zero signature fails", func(t *testing.T) {
		zeroSig := make([]byte, 64)
		valid, err := sp.VerifySignedPreKeySignature(identity.PublicKey, signedPreKey.PublicKey, zeroSig)
		if err == nil && valid {
			t.Fatal("all-zero signature should not verify")
		}
	})

	t.Run("signature under a different signed pre-key fails", func(t *testing.T) {
		otherSignedPreKey, err := sp.IssueSignedPreKey(identity, 2)
		if err != nil {
			t.Fatalf("issue signed pre-key: %v", err)
		}
		valid, err := sp.VerifySignedPreKeySignature(identity.PublicKey, otherSignedPreKey.PublicKey, signedPreKey.Signature)
		if err == nil && valid {
			t.Fatal("signature over a different key should not verify")
		}
	})

	t.Run("signature from a different identity fails", func(t *testing.T) {
		otherIdentity, err := sp.GenerateIdentityKeyPair()
		if err != nil {
			t.Fatalf("generate identity key pair: %v", err)
		}
		valid, err := sp.VerifySignedPreKeySignature(otherIdentity.PublicKey, signedPreKey.PublicKey, signedPreKey.Signature)
		if err == nil && valid {
			t.Fatal("signature should not verify against an unrelated identity key")
		}
	})
}

func TestSimpleX3DHRequiresValidSignature(t *testing.T) {
	sp := security.NewSignalProtocol()

	receiverIdentity, err := sp.GenerateIdentityKeyPair()
	if err != nil {
		t.Fatalf("generate receiver identity: %v", err)
	}
	signedPreKey, err := sp.IssueSignedPreKey(receiverIdentity, 1)
	if err != nil {
		t.Fatalf("issue signed pre-key: %v", err)
	}
	initiatorIdentity, err := sp.GenerateIdentityKeyPair()
	if err != nil {
		t.Fatalf("generate initiator identity: %v", err)
	}

	baseBundle := security.X3DHKeyBundle{
		IdentityKey:     receiverIdentity.PublicKey,
		SignedPreKey:    signedPreKey.PublicKey,
		SignedPreKeyID:  signedPreKey.KeyID,
		SignedPreKeySig: signedPreKey.Signature,
	}

	t.Run("missing signature is rejected", func(t *testing.T) {
		bundle := baseBundle
		bundle.SignedPreKeySig = []byte{}
		if _, err := sp.X3DH(initiatorIdentity, bundle); err == nil {
			t.Fatal("X3DH with an empty signed pre-key signature should fail")
		}
	})

	t.Run("corrupted signature is rejected", func(t *testing.T) {
		bundle := baseBundle
		tampered := append([]byte{}, signedPreKey.Signature...)
		tampered[0] ^= 0xFF
		bundle.SignedPreKeySig = tampered
		if _, err := sp.X3DH(initiatorIdentity, bundle); err == nil {
			t.Fatal("X3DH with a corrupted signed pre-key signature should fail")
		}
	})

	t.Run("valid signature lets X3DH proceed", func(t *testing.T) {
		result, err := sp.X3DH(initiatorIdentity, baseBundle)
		if err != nil {
			t.Fatalf("X3DH with a genuine signature should succeed: %v", err)
		}
		if len(result.SharedSecret.Bytes()) != 32 {
			t.Fatal("expected a 32-byte derived shared secret")
		}
	})
}
