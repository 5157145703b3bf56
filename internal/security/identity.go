package security

import (
	"crypto/ed25519"
	"crypto/sha512"
	"fmt"

	"filippo.io/edwards25519"
)

// IdentityKey is a device's long-term Ed25519 signing key. It signs
// published signed pre-keys and every Double Ratchet message header,
// and its X25519 conversion participates directly in X3DH's DH1/DH2.
type IdentityKey struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
}

// IdentityPublicKey is the 32-byte Ed25519 public half of an IdentityKey,
// as published in a PreKeyBundle and carried in message headers.
type IdentityPublicKey [32]byte

// GenerateIdentityKey creates a new Ed25519 identity key pair.
func GenerateIdentityKey(rng *SecureRandom) (*IdentityKey, error) {
	seed := make([]byte, ed25519.SeedSize)
	if err := rng.read(seed); err != nil {
		return nil, err
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &IdentityKey{private: priv, public: pub}, nil
}

// IdentityKeyFromSeed reconstructs an IdentityKey from a stored 32-byte
// Ed25519 seed, as read back from an IdentityKeyStore.
func IdentityKeyFromSeed(seed [32]byte) *IdentityKey {
	priv := ed25519.NewKeyFromSeed(seed[:])
	pub := priv.Public().(ed25519.PublicKey)
	return &IdentityKey{private: priv, public: pub}
}

// Seed returns the 32-byte Ed25519 seed backing this key, suitable for
// handing to an IdentityKeyStore.
func (k *IdentityKey) Seed() [32]byte {
	var out [32]byte
	copy(out[:], k.private.Seed())
	return out
}

// Public returns the key's public half.
func (k *IdentityKey) Public() IdentityPublicKey {
	var out IdentityPublicKey
	copy(out[:], k.public)
	return out
}

// Sign signs message with the identity key.
func (k *IdentityKey) Sign(message []byte) []byte {
	return signEd25519(k.private, message)
}

// X25519 converts this identity key's private half into the X25519
// scalar used for X3DH's Diffie-Hellman computations, via the standard
// RFC 8032 §5.1.5 seed-hash-and-clamp derivation.
func (k *IdentityKey) X25519() [32]byte {
	h := sha512.Sum512(k.private.Seed())
	h[0] &= 248
	h[31] &= 127
	h[31] |= 64
	var out [32]byte
	copy(out[:], h[:32])
	return out
}

// Verify checks a signature made by this public key.
func (p IdentityPublicKey) Verify(message, signature []byte) error {
	return verifyEd25519(ed25519.PublicKey(p[:]), message, signature)
}

// X25519 converts an Ed25519 public key into its X25519 Montgomery
// equivalent using the canonical birational map between the Edwards and
// Montgomery forms of curve25519 — decompress the Edwards point, then
// read its u-coordinate. This is the correct conversion; hashing the
// public key bytes (as seen in some reference implementations of this
// protocol) does not produce a point on the curve that corresponds to
// the original key, and silently breaks X3DH's DH2/DH3 agreement.
func (p IdentityPublicKey) X25519() ([32]byte, error) {
	var out [32]byte
	point, err := new(edwards25519.Point).SetBytes(p[:])
	if err != nil {
		return out, fmt.Errorf("%w: not a valid Ed25519 point: %v", ErrInvalidKeySize, err)
	}
	copy(out[:], point.BytesMontgomery())
	return out, nil
}

// Bytes returns the raw 32-byte public key.
func (p IdentityPublicKey) Bytes() []byte {
	return p[:]
}
