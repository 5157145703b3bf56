package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/jaydenbeard/messaging-app/internal/metrics"
)

// SignalProtocol is the facade the rest of the service drives to run
// X3DH key agreement and Double Ratchet messaging. It holds no
// per-session state itself — every operation takes or returns an
// explicit key pair or session value — so a single instance can be
// shared across goroutines.
type SignalProtocol struct {
	rng *SecureRandom
}

// NewSignalProtocol creates a new Signal Protocol instance backed by the
// OS CSPRNG.
func NewSignalProtocol() *SignalProtocol {
	return &SignalProtocol{rng: SystemRandom()}
}

// KeyPair is an X25519 key pair: an ephemeral key, a signed pre-key, a
// one-time pre-key, or a Double Ratchet DH ratchet key.
type KeyPair struct {
	PrivateKey [32]byte
	PublicKey  [32]byte
}

// GenerateKeyPair generates a new X25519 key pair.
func (sp *SignalProtocol) GenerateKeyPair() (*KeyPair, error) {
	priv, pub, err := generateDHKeyPair(sp.rng)
	if err != nil {
		return nil, fmt.Errorf("generate key pair: %w", err)
	}
	return &KeyPair{PrivateKey: priv, PublicKey: pub}, nil
}

// SharedSecret performs an X25519 Diffie-Hellman exchange.
func (sp *SignalProtocol) SharedSecret(privateKey, publicKey [32]byte) ([32]byte, error) {
	return dh(privateKey, publicKey)
}

// HKDFDeriveKey derives keys using HKDF-SHA256.
func (sp *SignalProtocol) HKDFDeriveKey(inputKeyMaterial, salt, info []byte, outputLength int) ([]byte, error) {
	return deriveHKDF(inputKeyMaterial, salt, info, outputLength)
}

// EncryptAESGCM / DecryptAESGCM remain available for payloads outside
// the Double Ratchet (e.g. media blob envelopes): they delegate to the
// package-level AES-256-GCM helpers in crypto.go. Ratchet message
// bodies never go through this path — see RatchetState.Encrypt, which
// uses ChaCha20-Poly1305 per the protocol's AEAD choice.
func (sp *SignalProtocol) EncryptAESGCM(plaintext, key []byte) ([]byte, error) {
	return EncryptAESGCM(plaintext, key)
}

func (sp *SignalProtocol) DecryptAESGCM(ciphertext, key []byte) ([]byte, error) {
	return DecryptAESGCM(ciphertext, key)
}

// IdentityKeyPair is a long-term Ed25519 identity key pair, stored and
// rotated in the [32]byte seed / public-key shape the rest of the
// service already persists.
type IdentityKeyPair struct {
	PrivateKey [32]byte // Ed25519 seed
	PublicKey  [32]byte // Ed25519 public key
}

func (kp *IdentityKeyPair) toCore() *IdentityKey {
	return IdentityKeyFromSeed(kp.PrivateKey)
}

// GenerateIdentityKeyPair generates a new Ed25519 identity key pair.
func (sp *SignalProtocol) GenerateIdentityKeyPair() (*IdentityKeyPair, error) {
	ik, err := GenerateIdentityKey(sp.rng)
	if err != nil {
		return nil, fmt.Errorf("generate identity key pair: %w", err)
	}
	seed := ik.Seed()
	pub := ik.Public()
	return &IdentityKeyPair{PrivateKey: seed, PublicKey: [32]byte(pub)}, nil
}

// SignedPreKey is a medium-term X25519 key pair signed by an identity key.
type SignedPreKey struct {
	KeyPair
	Signature []byte
	KeyID     uint32
}

// IssueSignedPreKey generates a fresh signed pre-key for identity.
func (sp *SignalProtocol) IssueSignedPreKey(identity *IdentityKeyPair, keyID uint32) (*SignedPreKey, error) {
	rec, err := IssueSignedPreKey(sp.rng, identity.toCore(), keyID)
	if err != nil {
		return nil, err
	}
	return &SignedPreKey{
		KeyPair:   KeyPair{PrivateKey: rec.Private, PublicKey: rec.Public},
		Signature: rec.Signature,
		KeyID:     rec.KeyID,
	}, nil
}

// OneTimePreKey is a single-use X25519 key pair.
type OneTimePreKey struct {
	KeyPair
	KeyID uint32
}

// IssueOneTimePreKey generates a fresh one-time pre-key.
func (sp *SignalProtocol) IssueOneTimePreKey(keyID uint32) (*OneTimePreKey, error) {
	rec, err := IssueOneTimePreKey(sp.rng, keyID)
	if err != nil {
		return nil, err
	}
	return &OneTimePreKey{
		KeyPair: KeyPair{PrivateKey: rec.Private, PublicKey: rec.Public},
		KeyID:   rec.KeyID,
	}, nil
}

// VerifySignedPreKeySignature verifies that signedPreKey was actually
// signed by the Ed25519 identity key identityKey. This replaces a prior
// version of this method, which reinterpreted an X25519 public key as
// an ECDSA P-256 point before calling ecdsa.VerifyASN1 — a check that
// could never actually fail against a mismatched key, since the
// "reconstructed" point bore no relationship to the real identity key.
// Identity keys are Ed25519 from the start now, so this calls real
// Ed25519 verification.
func (sp *SignalProtocol) VerifySignedPreKeySignature(identityKey [32]byte, signedPreKey [32]byte, signature []byte) (bool, error) {
	pub := IdentityPublicKey(identityKey)
	if err := pub.Verify(signedPreKey[:], signature); err != nil {
		if errors.Is(err, ErrInvalidSignature) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// X3DHKeyBundle contains the keys needed for X3DH key exchange.
type X3DHKeyBundle struct {
	IdentityKey     [32]byte // Ed25519 public key
	SignedPreKey    [32]byte
	SignedPreKeyID  uint32
	SignedPreKeySig []byte
	OneTimePreKey   *[32]byte
	OneTimePreKeyID *uint32
}

func (b X3DHKeyBundle) toCore() PreKeyBundle {
	return PreKeyBundle{
		IdentityKey:     IdentityPublicKey(b.IdentityKey),
		SignedPreKey:    b.SignedPreKey,
		SignedPreKeyID:  b.SignedPreKeyID,
		SignedPreKeySig: b.SignedPreKeySig,
		OneTimePreKey:   b.OneTimePreKey,
		OneTimePreKeyID: b.OneTimePreKeyID,
	}
}

// X3DH performs the initiator side of the X3DH key exchange protocol.
// initIdentity is the initiator's own Ed25519 identity key pair; the
// ephemeral key required by the protocol is generated internally. A
// prior version of this method accepted a caller-supplied "ephemeral"
// key and used it in place of the identity key for two of the four DH
// computations — that mislabeling meant DH2 and DH3 were not actually
// binding the initiator's long-term identity into the shared secret.
func (sp *SignalProtocol) X3DH(initIdentity *IdentityKeyPair, bundle X3DHKeyBundle) (*X3DHResult, error) {
	result, err := InitiateX3DH(sp.rng, initIdentity.toCore(), bundle.toCore())
	if err != nil {
		metrics.X3DHHandshakesTotal.WithLabelValues("initiator", "failure").Inc()
		return nil, err
	}
	metrics.X3DHHandshakesTotal.WithLabelValues("initiator", "success").Inc()
	return result, nil
}

// ReceiveX3DH performs the receiver side of the X3DH key exchange.
func (sp *SignalProtocol) ReceiveX3DH(receiverIdentity *IdentityKeyPair, signedPreKey SignedPreKey, oneTimePreKeyPrivate *[32]byte, initiatorIdentity [32]byte, ephemeralPublic [32]byte) (*X3DHResult, error) {
	rec := SignedPreKeyRecord{
		KeyID:     signedPreKey.KeyID,
		Private:   signedPreKey.PrivateKey,
		Public:    signedPreKey.PublicKey,
		Signature: signedPreKey.Signature,
	}
	result, err := ReceiveX3DH(receiverIdentity.toCore(), rec, oneTimePreKeyPrivate, IdentityPublicKey(initiatorIdentity), ephemeralPublic)
	if err != nil {
		metrics.X3DHHandshakesTotal.WithLabelValues("receiver", "failure").Inc()
		return nil, err
	}
	metrics.X3DHHandshakesTotal.WithLabelValues("receiver", "success").Inc()
	return result, nil
}

// SignalSession represents a complete Signal Protocol session: the
// Double Ratchet state plus the participants' identities.
type SignalSession struct {
	Ratchet             *RatchetState
	IdentityKey         IdentityKeyPair
	PreviousIdentityKey *IdentityKeyPair
	LocalID             string
	RemoteID            string
	IsInitiator         bool
	KeyRotationTime     time.Time
}

// NewSignalSession creates a new Signal Protocol session. The session
// has no ratchet state until EstablishSession runs X3DH.
func (sp *SignalProtocol) NewSignalSession(localIdentityKey IdentityKeyPair, localID, remoteID string, isInitiator bool) *SignalSession {
	return &SignalSession{
		IdentityKey:     localIdentityKey,
		LocalID:         localID,
		RemoteID:        remoteID,
		IsInitiator:     isInitiator,
		KeyRotationTime: time.Now(),
	}
}

// NewSignalSessionWithRotation creates a new session that also tracks a
// previous identity key, used during a rotation transition window.
func (sp *SignalProtocol) NewSignalSessionWithRotation(localIdentityKey IdentityKeyPair, previousIdentityKey *IdentityKeyPair, localID, remoteID string, isInitiator bool) *SignalSession {
	return &SignalSession{
		IdentityKey:         localIdentityKey,
		PreviousIdentityKey: previousIdentityKey,
		LocalID:             localID,
		RemoteID:            remoteID,
		IsInitiator:         isInitiator,
		KeyRotationTime:     time.Now(),
	}
}

// RotateIdentityKey rotates the identity key for a session, retaining
// the previous key for the transition window described in
// IdentityKeyRotationManager.
func (sp *SignalProtocol) RotateIdentityKey(session *SignalSession) error {
	newKeyPair, err := sp.GenerateIdentityKeyPair()
	if err != nil {
		return fmt.Errorf("failed to generate new identity key: %w", err)
	}

	previousKey := session.IdentityKey
	session.PreviousIdentityKey = &previousKey
	session.IdentityKey = *newKeyPair
	session.KeyRotationTime = time.Now()

	return nil
}

// ShouldRotateIdentityKey checks if identity key should be rotated based on time.
func (sp *SignalProtocol) ShouldRotateIdentityKey(session *SignalSession, rotationInterval time.Duration) bool {
	if rotationInterval <= 0 {
		return false
	}
	return time.Since(session.KeyRotationTime) >= rotationInterval
}

// HandleRotatedIdentityKey establishes a session, routing through the
// rotation-aware path when the remote bundle's identity key matches
// this session's previously-rotated-away key.
func (sp *SignalProtocol) HandleRotatedIdentityKey(session *SignalSession, bundle X3DHKeyBundle) error {
	if session.PreviousIdentityKey != nil && bundle.IdentityKey == session.PreviousIdentityKey.PublicKey {
		return sp.establishSessionAs(session, bundle, session.PreviousIdentityKey)
	}
	return sp.EstablishSession(session, bundle)
}

// VerifyIdentityKeyRotation verifies that identity key rotation actually
// produced a different, well-formed key.
func (sp *SignalProtocol) VerifyIdentityKeyRotation(oldKey, newKey [32]byte) (bool, error) {
	if oldKey == newKey {
		return false, errors.New("identity key rotation failed: keys are identical")
	}
	if newKey == ([32]byte{}) {
		return false, errors.New("identity key rotation failed: new key is invalid")
	}
	return true, nil
}

// EstablishSession establishes a session by running X3DH as initiator
// against bundle and seeding the Double Ratchet from the result.
func (sp *SignalProtocol) EstablishSession(session *SignalSession, bundle X3DHKeyBundle) error {
	return sp.establishSessionAs(session, bundle, &session.IdentityKey)
}

// EstablishSessionAsReceiver establishes a session by running X3DH as the
// receiver against the first message a peer sent: signedPreKey and
// oneTimePreKey (if the handshake consumed one) are the receiver's own
// records, initiatorIdentity and ephemeralPublic come from the peer's
// PreKey message. The caller is responsible for deleting the one-time
// pre-key from its store beforehand — ReceiveX3DH does not do this.
func (sp *SignalProtocol) EstablishSessionAsReceiver(session *SignalSession, signedPreKey SignedPreKey, oneTimePreKeyPrivate *[32]byte, initiatorIdentity [32]byte, ephemeralPublic [32]byte) error {
	result, err := sp.ReceiveX3DH(&session.IdentityKey, signedPreKey, oneTimePreKeyPrivate, initiatorIdentity, ephemeralPublic)
	if err != nil {
		return fmt.Errorf("X3DH failed: %w", err)
	}

	ratchet := InitReceiver(sp.rng, result.SharedSecret, signedPreKey.PrivateKey, signedPreKey.PublicKey, session.IdentityKey.toCore())
	session.Ratchet = ratchet
	return nil
}

func (sp *SignalProtocol) establishSessionAs(session *SignalSession, bundle X3DHKeyBundle, identity *IdentityKeyPair) error {
	result, err := sp.X3DH(identity, bundle)
	if err != nil {
		return fmt.Errorf("X3DH failed: %w", err)
	}

	ratchet, err := InitSender(sp.rng, result.SharedSecret, bundle.SignedPreKey, identity.toCore(), IdentityPublicKey(bundle.IdentityKey))
	if err != nil {
		return fmt.Errorf("failed to initialize Double Ratchet: %w", err)
	}

	session.Ratchet = ratchet
	return nil
}

// EncryptMessageForSession encrypts a message for the current session
// and returns the wire-encoded RatchetMessage bytes.
func (sp *SignalProtocol) EncryptMessageForSession(session *SignalSession, plaintext []byte) ([]byte, error) {
	if session.Ratchet == nil {
		return nil, errors.New("session not established")
	}

	associatedData := []byte(session.LocalID + session.RemoteID)
	msg, err := session.Ratchet.Encrypt(plaintext, associatedData)
	if err != nil {
		return nil, fmt.Errorf("encryption failed: %w", err)
	}

	return msg.Marshal(), nil
}

// DecryptMessageForSession decrypts a wire-encoded RatchetMessage for
// the current session.
func (sp *SignalProtocol) DecryptMessageForSession(session *SignalSession, wireMessage []byte) ([]byte, error) {
	if session.Ratchet == nil {
		return nil, errors.New("session not established")
	}

	msg, err := UnmarshalRatchetMessage(wireMessage)
	if err != nil {
		return nil, fmt.Errorf("decode ratchet message: %w", err)
	}

	associatedData := []byte(session.RemoteID + session.LocalID)
	plaintext, err := session.Ratchet.Decrypt(msg, associatedData)
	if err != nil {
		metrics.RatchetDecryptFailuresTotal.WithLabelValues(decryptFailureReason(err)).Inc()
		return nil, fmt.Errorf("decryption failed: %w", err)
	}

	return plaintext, nil
}

// decryptFailureReason maps a Decrypt error to the failure-class label
// spec.md §7's error taxonomy distinguishes.
func decryptFailureReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrAuthFailed):
		return "auth_failed"
	case errors.Is(err, ErrTooManySkipped):
		return "too_many_skipped"
	case errors.Is(err, ErrCorruptState):
		return "corrupt_state"
	default:
		return "other"
	}
}
