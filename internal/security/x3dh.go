package security

import (
	"fmt"
)

// SignedPreKeyRecord is a medium-term X25519 key pair, signed by its
// owner's identity key, published as part of a PreKeyBundle.
type SignedPreKeyRecord struct {
	KeyID     uint32
	Private   [32]byte
	Public    [32]byte
	Signature []byte // Ed25519 signature over Public, by the owning IdentityKey
}

// IssueSignedPreKey generates a fresh X25519 key pair and signs its
// public half with identity, ready to publish in a PreKeyBundle.
func IssueSignedPreKey(rng *SecureRandom, identity *IdentityKey, keyID uint32) (*SignedPreKeyRecord, error) {
	priv, pub, err := generateDHKeyPair(rng)
	if err != nil {
		return nil, fmt.Errorf("issue signed prekey: %w", err)
	}
	return &SignedPreKeyRecord{
		KeyID:     keyID,
		Private:   priv,
		Public:    pub,
		Signature: identity.Sign(pub[:]),
	}, nil
}

// OneTimePreKeyRecord is a single-use X25519 key pair. A receiver
// publishes a pool of these; each is consumed by at most one
// initiator's X3DH handshake.
type OneTimePreKeyRecord struct {
	KeyID   uint32
	Private [32]byte
	Public  [32]byte
}

// IssueOneTimePreKey generates a fresh one-time pre-key.
func IssueOneTimePreKey(rng *SecureRandom, keyID uint32) (*OneTimePreKeyRecord, error) {
	priv, pub, err := generateDHKeyPair(rng)
	if err != nil {
		return nil, fmt.Errorf("issue one-time prekey: %w", err)
	}
	return &OneTimePreKeyRecord{KeyID: keyID, Private: priv, Public: pub}, nil
}

// PreKeyBundle is the data a receiver publishes so an initiator can
// begin an X3DH handshake without the receiver being online.
type PreKeyBundle struct {
	IdentityKey     IdentityPublicKey
	SignedPreKey    [32]byte
	SignedPreKeyID  uint32
	SignedPreKeySig []byte
	OneTimePreKey   *[32]byte
	OneTimePreKeyID *uint32
}

// X3DHResult is the output of a completed X3DH handshake: the derived
// shared secret (consumed once by InitAlice/InitBob to seed the Double
// Ratchet), the associated data bound into every ratchet message, and —
// on the initiator's side — the ephemeral public key the receiver needs
// to mirror the computation.
type X3DHResult struct {
	SharedSecret    SecureKey
	AssociatedData  []byte
	EphemeralPublic [32]byte
}

// InitiateX3DH runs the initiator side of X3DH against a receiver's
// published bundle: verify the signed pre-key's signature, generate an
// ephemeral key, perform DH1..DH4, and derive the shared secret.
func InitiateX3DH(rng *SecureRandom, initiatorIdentity *IdentityKey, bundle PreKeyBundle) (*X3DHResult, error) {
	if err := bundle.IdentityKey.Verify(bundle.SignedPreKey[:], bundle.SignedPreKeySig); err != nil {
		return nil, fmt.Errorf("signed prekey signature: %w", err)
	}

	remoteIdentityX25519, err := bundle.IdentityKey.X25519()
	if err != nil {
		return nil, fmt.Errorf("convert remote identity key: %w", err)
	}

	ephemeralPriv, ephemeralPub, err := generateDHKeyPair(rng)
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}

	dh1, err := dh(initiatorIdentity.X25519(), bundle.SignedPreKey)
	if err != nil {
		return nil, fmt.Errorf("DH1: %w", err)
	}
	dh2, err := dh(ephemeralPriv, remoteIdentityX25519)
	if err != nil {
		return nil, fmt.Errorf("DH2: %w", err)
	}
	dh3, err := dh(ephemeralPriv, bundle.SignedPreKey)
	if err != nil {
		return nil, fmt.Errorf("DH3: %w", err)
	}

	concat := append(append(append([]byte{}, dh1[:]...), dh2[:]...), dh3[:]...)
	if bundle.OneTimePreKey != nil {
		dh4, err := dh(ephemeralPriv, *bundle.OneTimePreKey)
		if err != nil {
			return nil, fmt.Errorf("DH4: %w", err)
		}
		concat = append(concat, dh4[:]...)
	}

	secretBytes, err := deriveHKDF(concat, nil, []byte("X3DH-SharedSecret"), 32)
	if err != nil {
		return nil, fmt.Errorf("derive shared secret: %w", err)
	}
	sharedSecret, err := NewSecureKey(secretBytes)
	if err != nil {
		return nil, err
	}

	initiatorPub := initiatorIdentity.Public()
	ad := append(append([]byte{}, initiatorPub[:]...), bundle.IdentityKey[:]...)

	return &X3DHResult{
		SharedSecret:    sharedSecret,
		AssociatedData:  ad,
		EphemeralPublic: ephemeralPub,
	}, nil
}

// ReceiveX3DH runs the receiver side of X3DH: mirror the initiator's DH
// computations using the receiver's own private key material and the
// initiator's identity key / ephemeral public key carried in the first
// message. onePrivate must be non-nil exactly when the bundle offered
// for this handshake included a one-time pre-key; callers are
// responsible for deleting that pre-key from their store after a
// successful call (it is single-use).
func ReceiveX3DH(receiverIdentity *IdentityKey, signedPreKey SignedPreKeyRecord, onePrivate *[32]byte, initiatorIdentity IdentityPublicKey, ephemeralPublic [32]byte) (*X3DHResult, error) {
	initiatorX25519, err := initiatorIdentity.X25519()
	if err != nil {
		return nil, fmt.Errorf("convert initiator identity key: %w", err)
	}

	dh1, err := dh(signedPreKey.Private, initiatorX25519)
	if err != nil {
		return nil, fmt.Errorf("DH1: %w", err)
	}
	dh2, err := dh(receiverIdentity.X25519(), ephemeralPublic)
	if err != nil {
		return nil, fmt.Errorf("DH2: %w", err)
	}
	dh3, err := dh(signedPreKey.Private, ephemeralPublic)
	if err != nil {
		return nil, fmt.Errorf("DH3: %w", err)
	}

	concat := append(append(append([]byte{}, dh1[:]...), dh2[:]...), dh3[:]...)
	if onePrivate != nil {
		dh4, err := dh(*onePrivate, ephemeralPublic)
		if err != nil {
			return nil, fmt.Errorf("DH4: %w", err)
		}
		concat = append(concat, dh4[:]...)
	}

	secretBytes, err := deriveHKDF(concat, nil, []byte("X3DH-SharedSecret"), 32)
	if err != nil {
		return nil, fmt.Errorf("derive shared secret: %w", err)
	}
	sharedSecret, err := NewSecureKey(secretBytes)
	if err != nil {
		return nil, err
	}

	receiverPub := receiverIdentity.Public()
	ad := append(append([]byte{}, initiatorIdentity[:]...), receiverPub[:]...)

	return &X3DHResult{
		SharedSecret:   sharedSecret,
		AssociatedData: ad,
	}, nil
}
