package security

import (
	"encoding/binary"
	"fmt"

	"github.com/jaydenbeard/messaging-app/internal/metrics"
)

// MaxSkip bounds how many message keys a single chain will derive and
// buffer ahead of the receiver's current position before giving up on a
// gap. Without this bound a malicious or corrupt header claiming a huge
// message number would force unbounded memory growth.
const MaxSkip = 1000

// skippedKeyID identifies a buffered message key: the DH public key that
// was current on the sending chain when the key was derived, plus the
// message number within that chain.
type skippedKeyID struct {
	dh [32]byte
	n  uint32
}

// RatchetState is one side of an established Double Ratchet session. It
// is never serialized directly by callers — see Serialize/Deserialize —
// and every field that holds key material is a SecureKey so Zero() can
// wipe the whole state on teardown.
type RatchetState struct {
	dhSelfPriv [32]byte
	dhSelfPub  [32]byte
	dhRemote   *[32]byte

	rootKey      SecureKey
	sendChainKey *SecureKey
	recvChainKey *SecureKey

	sendCounter     uint32
	recvCounter     uint32
	prevChainLength uint32

	skipped map[skippedKeyID]MessageKeys

	identity       *IdentityKey
	remoteIdentity *IdentityPublicKey

	rng *SecureRandom
}

// InitSender initializes the Double Ratchet on the side that completed
// X3DH as initiator: it immediately performs a DH ratchet step against
// the receiver's signed pre-key so it can send before hearing back.
func InitSender(rng *SecureRandom, sharedSecret SecureKey, remotePublic [32]byte, identity *IdentityKey, remoteIdentity IdentityPublicKey) (*RatchetState, error) {
	selfPriv, selfPub, err := generateDHKeyPair(rng)
	if err != nil {
		return nil, fmt.Errorf("init sender: generate dh key: %w", err)
	}
	dhOut, err := dh(selfPriv, remotePublic)
	if err != nil {
		return nil, fmt.Errorf("init sender: %w", err)
	}
	newRoot, sendChain, err := rootKDF(sharedSecret, dhOut)
	if err != nil {
		return nil, fmt.Errorf("init sender: root kdf: %w", err)
	}

	remote := remotePublic
	ri := remoteIdentity
	return &RatchetState{
		dhSelfPriv:     selfPriv,
		dhSelfPub:      selfPub,
		dhRemote:       &remote,
		rootKey:        newRoot,
		sendChainKey:   &sendChain,
		skipped:        make(map[skippedKeyID]MessageKeys),
		identity:       identity,
		remoteIdentity: &ri,
		rng:            rng,
	}, nil
}

// InitReceiver initializes the Double Ratchet on the side that completed
// X3DH as receiver: it keeps the signed pre-key pair it already
// published as its first ratchet key and starts with no chains — both
// are derived the first time it observes the sender's DH public key in
// an incoming header.
func InitReceiver(rng *SecureRandom, sharedSecret SecureKey, dhPriv, dhPub [32]byte, identity *IdentityKey) *RatchetState {
	return &RatchetState{
		dhSelfPriv: dhPriv,
		dhSelfPub:  dhPub,
		rootKey:    sharedSecret,
		skipped:    make(map[skippedKeyID]MessageKeys),
		identity:   identity,
		rng:        rng,
	}
}

// SetRemoteIdentity records the peer's identity key once learned
// out-of-band (the X3DH receiver does not know the initiator's identity
// key until it decrypts the first message's associated data).
func (s *RatchetState) SetRemoteIdentity(pub IdentityPublicKey) {
	s.remoteIdentity = &pub
}

// MessageHeader is the per-message metadata a RatchetMessage carries so
// its recipient can locate or derive the right message key.
type MessageHeader struct {
	DHPublic        [32]byte
	PrevChainLength uint32
	MessageNumber   uint32
}

// Encode returns the canonical 40-byte encoding of the header: the DH
// public key followed by both counters, big-endian. This is exactly what
// gets signed and what feeds the AEAD's associated data.
func (h MessageHeader) Encode() []byte {
	out := make([]byte, 40)
	copy(out[:32], h.DHPublic[:])
	binary.BigEndian.PutUint32(out[32:36], h.PrevChainLength)
	binary.BigEndian.PutUint32(out[36:40], h.MessageNumber)
	return out
}

// RatchetMessage is the wire form of one encrypted Double Ratchet
// message: header, ciphertext, and an Ed25519 signature over
// header||ciphertext made with the sender's identity key.
type RatchetMessage struct {
	Header     MessageHeader
	Ciphertext []byte
	Signature  []byte
}

// Marshal encodes a RatchetMessage as:
//
//	dh_public(32) || prev_chain_length(4) || message_number(4) ||
//	ciphertext_length(4) || ciphertext || signature(64)
func (m *RatchetMessage) Marshal() []byte {
	header := m.Header.Encode()
	out := make([]byte, 0, len(header)+4+len(m.Ciphertext)+len(m.Signature))
	out = append(out, header...)
	var ctLen [4]byte
	binary.BigEndian.PutUint32(ctLen[:], uint32(len(m.Ciphertext)))
	out = append(out, ctLen[:]...)
	out = append(out, m.Ciphertext...)
	out = append(out, m.Signature...)
	return out
}

// UnmarshalRatchetMessage parses the wire form produced by Marshal.
func UnmarshalRatchetMessage(b []byte) (*RatchetMessage, error) {
	if len(b) < 40+4 {
		return nil, fmt.Errorf("%w: ratchet message too short", ErrCorruptState)
	}
	var header MessageHeader
	copy(header.DHPublic[:], b[:32])
	header.PrevChainLength = binary.BigEndian.Uint32(b[32:36])
	header.MessageNumber = binary.BigEndian.Uint32(b[36:40])

	ctLen := binary.BigEndian.Uint32(b[40:44])
	rest := b[44:]
	if uint64(ctLen) > uint64(len(rest)) {
		return nil, fmt.Errorf("%w: ratchet message ciphertext length out of range", ErrCorruptState)
	}
	ciphertext := rest[:ctLen]
	signature := rest[ctLen:]
	if len(signature) != 64 {
		return nil, fmt.Errorf("%w: ratchet message signature must be 64 bytes, got %d", ErrCorruptState, len(signature))
	}

	return &RatchetMessage{Header: header, Ciphertext: ciphertext, Signature: signature}, nil
}

// dhRatchetStep performs the asymmetric (DH) ratchet step triggered by
// observing a new public key from the peer: derive the receiving chain
// from the DH output against our current key, generate a fresh key
// pair, then derive a new sending chain from the DH output against the
// peer's new key.
func (s *RatchetState) dhRatchetStep(remotePublic [32]byte) error {
	s.prevChainLength = s.sendCounter
	s.sendCounter = 0
	s.recvCounter = 0
	s.dhRemote = &remotePublic

	dhOut, err := dh(s.dhSelfPriv, remotePublic)
	if err != nil {
		return fmt.Errorf("dh ratchet (recv): %w", err)
	}
	newRoot, recvChain, err := rootKDF(s.rootKey, dhOut)
	if err != nil {
		return fmt.Errorf("dh ratchet (recv): %w", err)
	}
	s.rootKey = newRoot
	s.recvChainKey = &recvChain

	selfPriv, selfPub, err := generateDHKeyPair(s.rng)
	if err != nil {
		return fmt.Errorf("dh ratchet: generate dh key: %w", err)
	}
	s.dhSelfPriv = selfPriv
	s.dhSelfPub = selfPub

	dhOut2, err := dh(s.dhSelfPriv, remotePublic)
	if err != nil {
		return fmt.Errorf("dh ratchet (send): %w", err)
	}
	newRoot2, sendChain, err := rootKDF(s.rootKey, dhOut2)
	if err != nil {
		return fmt.Errorf("dh ratchet (send): %w", err)
	}
	s.rootKey = newRoot2
	s.sendChainKey = &sendChain

	metrics.RatchetStepsTotal.WithLabelValues("receive").Inc()
	metrics.RatchetStepsTotal.WithLabelValues("send").Inc()

	return nil
}

// SkippedCount reports how many message keys are currently buffered
// waiting for a straggler to arrive. Used to drive the steady-state
// skipped-key gauge and by tests asserting the skipped set drains back
// to empty once every outstanding message has been delivered.
func (s *RatchetState) SkippedCount() int {
	return len(s.skipped)
}

// skipKeys derives and buffers every message key on the receiving chain
// between the current receive counter and until (exclusive), so they
// remain available if the corresponding messages arrive later out of
// order. Fails closed if that would exceed MaxSkip.
func (s *RatchetState) skipKeys(until uint32) error {
	if s.recvChainKey == nil {
		if until == 0 {
			return nil
		}
		return ErrNotInitialised
	}
	if until < s.recvCounter {
		return nil
	}
	if until-s.recvCounter > MaxSkip {
		return ErrTooManySkipped
	}

	chainKey := *s.recvChainKey
	remote := *s.dhRemote
	for s.recvCounter < until {
		nextChain, keys, err := chainStep(chainKey)
		if err != nil {
			return fmt.Errorf("skip keys: %w", err)
		}
		s.skipped[skippedKeyID{dh: remote, n: s.recvCounter}] = keys
		chainKey = nextChain
		s.recvCounter++
	}
	s.recvChainKey = &chainKey
	return nil
}

// Encrypt seals plaintext under the current sending chain, advancing it.
// associatedData is additional context (e.g. the session's identity
// pair, per X3DH) bound into the AEAD alongside the message header.
func (s *RatchetState) Encrypt(plaintext, associatedData []byte) (*RatchetMessage, error) {
	if s.sendChainKey == nil {
		return nil, ErrNotInitialised
	}

	nextChain, keys, err := chainStep(*s.sendChainKey)
	if err != nil {
		return nil, fmt.Errorf("encrypt: %w", err)
	}

	header := MessageHeader{
		DHPublic:        s.dhSelfPub,
		PrevChainLength: s.prevChainLength,
		MessageNumber:   s.sendCounter,
	}
	ad := append(append([]byte{}, header.Encode()...), associatedData...)
	ciphertext, err := sealChaCha20Poly1305(keys, plaintext, ad)
	if err != nil {
		return nil, fmt.Errorf("encrypt: %w", err)
	}

	msg := &RatchetMessage{Header: header, Ciphertext: ciphertext}
	msg.Signature = s.identity.Sign(append(header.Encode(), ciphertext...))

	s.sendChainKey = &nextChain
	s.sendCounter++

	return msg, nil
}

// Decrypt opens a RatchetMessage against the current state. On any
// failure — bad signature, bad header, skip-bound exceeded, or AEAD
// auth failure — the state is left exactly as it was before the call;
// decrypt operates on a private clone and only commits it back to s
// once the open has actually succeeded, so a rejected message can never
// corrupt or partially advance the session.
func (s *RatchetState) Decrypt(msg *RatchetMessage, associatedData []byte) ([]byte, error) {
	if s.remoteIdentity != nil {
		signed := append(msg.Header.Encode(), msg.Ciphertext...)
		if err := s.remoteIdentity.Verify(signed, msg.Signature); err != nil {
			return nil, fmt.Errorf("decrypt: %w", err)
		}
	}

	work := s.clone()

	if keys, ok := work.skipped[skippedKeyID{dh: msg.Header.DHPublic, n: msg.Header.MessageNumber}]; ok {
		ad := append(append([]byte{}, msg.Header.Encode()...), associatedData...)
		plaintext, err := openChaCha20Poly1305(keys, msg.Ciphertext, ad)
		if err != nil {
			return nil, fmt.Errorf("decrypt: %w", err)
		}
		delete(work.skipped, skippedKeyID{dh: msg.Header.DHPublic, n: msg.Header.MessageNumber})
		s.commit(work)
		return plaintext, nil
	}

	if work.dhRemote == nil || *work.dhRemote != msg.Header.DHPublic {
		if work.dhRemote != nil {
			if err := work.skipKeys(msg.Header.PrevChainLength); err != nil {
				return nil, fmt.Errorf("decrypt: %w", err)
			}
		}
		if err := work.dhRatchetStep(msg.Header.DHPublic); err != nil {
			return nil, fmt.Errorf("decrypt: %w", err)
		}
	}

	if err := work.skipKeys(msg.Header.MessageNumber); err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}

	nextChain, keys, err := chainStep(*work.recvChainKey)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	ad := append(append([]byte{}, msg.Header.Encode()...), associatedData...)
	plaintext, err := openChaCha20Poly1305(keys, msg.Ciphertext, ad)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	work.recvChainKey = &nextChain
	work.recvCounter++

	s.commit(work)
	return plaintext, nil
}

// clone copies all state needed to attempt a decrypt without mutating
// the live session. Secrets are copied by value (SecureKey is a plain
// [32]byte array), which is cheap and keeps the original untouched if
// the attempt is abandoned.
func (s *RatchetState) clone() *RatchetState {
	c := &RatchetState{
		dhSelfPriv:      s.dhSelfPriv,
		dhSelfPub:       s.dhSelfPub,
		rootKey:         s.rootKey,
		sendCounter:     s.sendCounter,
		recvCounter:     s.recvCounter,
		prevChainLength: s.prevChainLength,
		skipped:         make(map[skippedKeyID]MessageKeys, len(s.skipped)),
		identity:        s.identity,
		remoteIdentity:  s.remoteIdentity,
		rng:             s.rng,
	}
	if s.dhRemote != nil {
		v := *s.dhRemote
		c.dhRemote = &v
	}
	if s.sendChainKey != nil {
		v := *s.sendChainKey
		c.sendChainKey = &v
	}
	if s.recvChainKey != nil {
		v := *s.recvChainKey
		c.recvChainKey = &v
	}
	for k, v := range s.skipped {
		c.skipped[k] = v
	}
	return c
}

// commit swaps the working clone's fields back into s after a
// successful decrypt.
func (s *RatchetState) commit(work *RatchetState) {
	*s = *work
}

// Zero wipes every key held by the state, including buffered skipped
// message keys. Call once the session is being torn down.
func (s *RatchetState) Zero() {
	wipe(s.dhSelfPriv[:])
	s.rootKey.Zero()
	if s.sendChainKey != nil {
		s.sendChainKey.Zero()
	}
	if s.recvChainKey != nil {
		s.recvChainKey.Zero()
	}
	for k, v := range s.skipped {
		v.Zero()
		delete(s.skipped, k)
	}
}
