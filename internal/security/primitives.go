package security

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"runtime"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// SecureRandom is the single randomness source threaded through the
// crypto core. Every key generation and nonce draw goes through an
// explicit instance rather than a bare crypto/rand.Reader call, so a
// caller can substitute a deterministic source in tests without
// touching package state.
type SecureRandom struct {
	reader io.Reader
}

// SystemRandom returns a SecureRandom backed by the OS CSPRNG.
func SystemRandom() *SecureRandom {
	return &SecureRandom{reader: rand.Reader}
}

// NewSecureRandom wraps an arbitrary io.Reader. The caller is responsible
// for ensuring it is cryptographically secure; this is only exposed for
// deterministic test fixtures.
func NewSecureRandom(r io.Reader) *SecureRandom {
	return &SecureRandom{reader: r}
}

func (s *SecureRandom) read(b []byte) error {
	if _, err := io.ReadFull(s.reader, b); err != nil {
		return fmt.Errorf("%w: %v", ErrRNGFailure, err)
	}
	return nil
}

// SecureKey is 32 bytes of key material that is wiped on release and
// never printed. Every chain key, root key, and message key in this
// package is carried as a SecureKey rather than a bare []byte.
type SecureKey struct {
	b [32]byte
}

// NewSecureKey copies exactly 32 bytes of material into a SecureKey.
func NewSecureKey(material []byte) (SecureKey, error) {
	if len(material) != 32 {
		return SecureKey{}, fmt.Errorf("%w: want 32 bytes, got %d", ErrInvalidKeySize, len(material))
	}
	var k SecureKey
	copy(k.b[:], material)
	return k, nil
}

// RandomSecureKey draws 32 bytes from rng.
func RandomSecureKey(rng *SecureRandom) (SecureKey, error) {
	var k SecureKey
	if err := rng.read(k.b[:]); err != nil {
		return SecureKey{}, err
	}
	return k, nil
}

// Bytes returns a defensive copy of the key material. Callers that need
// to hold the copy past the current call must zero it themselves with
// Wipe.
func (k SecureKey) Bytes() []byte {
	out := make([]byte, 32)
	copy(out, k.b[:])
	return out
}

// Zero overwrites the key's backing array. Safe to call more than once.
func (k *SecureKey) Zero() {
	wipe(k.b[:])
}

// String never reveals key material, satisfying fmt.Stringer so %v and
// log.Printf can't leak it by accident.
func (k SecureKey) String() string {
	return "SecureKey([REDACTED])"
}

// GoString backs %#v the same way String backs %v/%s.
func (k SecureKey) GoString() string {
	return k.String()
}

//go:noinline
func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(&b)
}

// MessageKeys is the pair of values the chain KDF derives per message:
// the AEAD key and the IV the ratchet uses to seal/open that message's
// ciphertext.
type MessageKeys struct {
	EncKey SecureKey
	IV     [12]byte
}

// Zero wipes both the encryption key and the IV.
func (m *MessageKeys) Zero() {
	m.EncKey.Zero()
	wipe(m.IV[:])
}

// deriveHKDF runs HKDF-SHA-256 over ikm/salt/info and fills out with
// outLen pseudorandom bytes.
func deriveHKDF(ikm, salt, info []byte, outLen int) ([]byte, error) {
	r := hkdf.New(sha256.New, ikm, salt, info)
	out := make([]byte, outLen)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("hkdf derive: %w", err)
	}
	return out, nil
}

// chainStep advances a Double Ratchet chain key one step: it returns the
// next chain key and the message keys for the message at the current
// step, per the KDF chain construction (HMAC-SHA-256 keyed by the chain
// key, domain-separated by a single constant byte).
func chainStep(chainKey SecureKey) (nextChainKey SecureKey, msgKeys MessageKeys, err error) {
	ckMAC := hmac.New(sha256.New, chainKey.Bytes())
	ckMAC.Write([]byte{0x02})
	nextChainKey, err = NewSecureKey(ckMAC.Sum(nil))
	if err != nil {
		return SecureKey{}, MessageKeys{}, err
	}

	mkMAC := hmac.New(sha256.New, chainKey.Bytes())
	mkMAC.Write([]byte{0x01})
	material := mkMAC.Sum(nil) // 32 bytes from HMAC-SHA-256

	// The message key's encryption key is the first 32 bytes of a
	// second HMAC pass so enc_key and the chain-advance output are
	// independent; the IV reuses a window of the same output used to
	// seed that pass, per the chosen IV-derivation design (see
	// DESIGN.md's resolution of the IV-derivation open question).
	ivMAC := hmac.New(sha256.New, material)
	ivMAC.Write([]byte{0x03})
	ivMaterial := ivMAC.Sum(nil)

	encKey, err := NewSecureKey(material)
	if err != nil {
		return SecureKey{}, MessageKeys{}, err
	}
	var iv [12]byte
	copy(iv[:], ivMaterial[:12])

	return nextChainKey, MessageKeys{EncKey: encKey, IV: iv}, nil
}

// rootKDF advances the Double Ratchet root key across a DH ratchet step.
// dhOut is the new DH output; the returned chain key seeds the sending
// or receiving chain on the side of the ratchet that just turned.
func rootKDF(rootKey SecureKey, dhOut [32]byte) (newRootKey, chainKey SecureKey, err error) {
	rootBytes, err := deriveHKDF(dhOut[:], rootKey.Bytes(), []byte("root-chain"), 32)
	if err != nil {
		return SecureKey{}, SecureKey{}, err
	}
	chainBytes, err := deriveHKDF(dhOut[:], rootKey.Bytes(), []byte("chain-key"), 32)
	if err != nil {
		return SecureKey{}, SecureKey{}, err
	}
	newRootKey, err = NewSecureKey(rootBytes)
	if err != nil {
		return SecureKey{}, SecureKey{}, err
	}
	chainKey, err = NewSecureKey(chainBytes)
	if err != nil {
		return SecureKey{}, SecureKey{}, err
	}
	return newRootKey, chainKey, nil
}

// dh performs an X25519 Diffie-Hellman exchange.
func dh(priv, pub [32]byte) ([32]byte, error) {
	var out [32]byte
	shared, err := curve25519.X25519(priv[:], pub[:])
	if err != nil {
		return out, fmt.Errorf("x25519: %w", err)
	}
	copy(out[:], shared)
	return out, nil
}

// generateDHKeyPair creates a clamped X25519 key pair.
func generateDHKeyPair(rng *SecureRandom) (priv, pub [32]byte, err error) {
	if err := rng.read(priv[:]); err != nil {
		return priv, pub, err
	}
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64

	pubSlice, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return priv, pub, fmt.Errorf("x25519 base mult: %w", err)
	}
	copy(pub[:], pubSlice)
	return priv, pub, nil
}

// sealChaCha20Poly1305 encrypts plaintext under keys.EncKey/keys.IV,
// binding associatedData via the AEAD's additional-data input.
func sealChaCha20Poly1305(keys MessageKeys, plaintext, associatedData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(keys.EncKey.Bytes())
	if err != nil {
		return nil, fmt.Errorf("chacha20poly1305 new: %w", err)
	}
	return aead.Seal(nil, keys.IV[:], plaintext, associatedData), nil
}

// openChaCha20Poly1305 decrypts ciphertext under keys.EncKey/keys.IV,
// verifying associatedData. A mismatched tag or associatedData surfaces
// as ErrAuthFailed.
func openChaCha20Poly1305(keys MessageKeys, ciphertext, associatedData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(keys.EncKey.Bytes())
	if err != nil {
		return nil, fmt.Errorf("chacha20poly1305 new: %w", err)
	}
	plaintext, err := aead.Open(nil, keys.IV[:], ciphertext, associatedData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	return plaintext, nil
}

// signEd25519 signs message with an Ed25519 private key.
func signEd25519(priv ed25519.PrivateKey, message []byte) []byte {
	return ed25519.Sign(priv, message)
}

// verifyEd25519 checks an Ed25519 signature, returning ErrInvalidSignature
// rather than a bare bool so callers can't accidentally ignore a failure.
func verifyEd25519(pub ed25519.PublicKey, message, signature []byte) error {
	if !ed25519.Verify(pub, message, signature) {
		return ErrInvalidSignature
	}
	return nil
}
