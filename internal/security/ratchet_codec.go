package security

import (
	"encoding/binary"
	"fmt"
)

// serializedStateVersion guards the wire format Serialize/Deserialize
// agree on, so a future format change can be detected instead of
// misparsed.
const serializedStateVersion = 1

// Serialize encodes the full ratchet state as a length-prefixed byte
// stream opaque to its caller — the Session Directory persists exactly
// these bytes without ever inspecting them, per the Session Directory's
// contract.
func (s *RatchetState) Serialize() ([]byte, error) {
	buf := make([]byte, 0, 512)
	buf = append(buf, serializedStateVersion)

	buf = append(buf, s.dhSelfPriv[:]...)
	buf = append(buf, s.dhSelfPub[:]...)
	buf = appendOptionalKey32(buf, s.dhRemote)

	buf = append(buf, s.rootKey.Bytes()...)
	buf = appendOptionalSecureKey(buf, s.sendChainKey)
	buf = appendOptionalSecureKey(buf, s.recvChainKey)

	var counters [12]byte
	binary.BigEndian.PutUint32(counters[0:4], s.sendCounter)
	binary.BigEndian.PutUint32(counters[4:8], s.recvCounter)
	binary.BigEndian.PutUint32(counters[8:12], s.prevChainLength)
	buf = append(buf, counters[:]...)

	seed := s.identity.Seed()
	buf = append(buf, seed[:]...)

	if s.remoteIdentity != nil {
		buf = append(buf, 1)
		buf = append(buf, s.remoteIdentity[:]...)
	} else {
		buf = append(buf, 0)
	}

	var count [4]byte
	binary.BigEndian.PutUint32(count[:], uint32(len(s.skipped)))
	buf = append(buf, count[:]...)
	for id, keys := range s.skipped {
		buf = append(buf, id.dh[:]...)
		var n [4]byte
		binary.BigEndian.PutUint32(n[:], id.n)
		buf = append(buf, n[:]...)
		buf = append(buf, keys.EncKey.Bytes()...)
		buf = append(buf, keys.IV[:]...)
	}

	return buf, nil
}

// DeserializeRatchetState decodes the bytes produced by Serialize. Any
// structural problem — truncation, an unknown version, an invalid key
// length — is reported as ErrCorruptState: a persisted session that
// fails to parse cannot be recovered and the caller must fall back to
// a fresh handshake.
func DeserializeRatchetState(rng *SecureRandom, data []byte) (*RatchetState, error) {
	r := &byteReader{data: data}

	version, err := r.byte()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	if version != serializedStateVersion {
		return nil, fmt.Errorf("%w: unsupported ratchet state version %d", ErrCorruptState, version)
	}

	s := &RatchetState{rng: rng, skipped: make(map[skippedKeyID]MessageKeys)}

	if err := r.fixed(s.dhSelfPriv[:]); err != nil {
		return nil, corrupt(err)
	}
	if err := r.fixed(s.dhSelfPub[:]); err != nil {
		return nil, corrupt(err)
	}
	dhRemote, err := r.optionalKey32()
	if err != nil {
		return nil, corrupt(err)
	}
	s.dhRemote = dhRemote

	rootBytes, err := r.take(32)
	if err != nil {
		return nil, corrupt(err)
	}
	s.rootKey, err = NewSecureKey(rootBytes)
	if err != nil {
		return nil, corrupt(err)
	}

	s.sendChainKey, err = r.optionalSecureKey()
	if err != nil {
		return nil, corrupt(err)
	}
	s.recvChainKey, err = r.optionalSecureKey()
	if err != nil {
		return nil, corrupt(err)
	}

	counters, err := r.take(12)
	if err != nil {
		return nil, corrupt(err)
	}
	s.sendCounter = binary.BigEndian.Uint32(counters[0:4])
	s.recvCounter = binary.BigEndian.Uint32(counters[4:8])
	s.prevChainLength = binary.BigEndian.Uint32(counters[8:12])

	seedBytes, err := r.take(32)
	if err != nil {
		return nil, corrupt(err)
	}
	var seed [32]byte
	copy(seed[:], seedBytes)
	s.identity = IdentityKeyFromSeed(seed)

	hasRemoteIdentity, err := r.byte()
	if err != nil {
		return nil, corrupt(err)
	}
	if hasRemoteIdentity == 1 {
		idBytes, err := r.take(32)
		if err != nil {
			return nil, corrupt(err)
		}
		var id IdentityPublicKey
		copy(id[:], idBytes)
		s.remoteIdentity = &id
	}

	countBytes, err := r.take(4)
	if err != nil {
		return nil, corrupt(err)
	}
	count := binary.BigEndian.Uint32(countBytes)
	for i := uint32(0); i < count; i++ {
		dhBytes, err := r.take(32)
		if err != nil {
			return nil, corrupt(err)
		}
		nBytes, err := r.take(4)
		if err != nil {
			return nil, corrupt(err)
		}
		encKeyBytes, err := r.take(32)
		if err != nil {
			return nil, corrupt(err)
		}
		ivBytes, err := r.take(12)
		if err != nil {
			return nil, corrupt(err)
		}
		var id skippedKeyID
		copy(id.dh[:], dhBytes)
		id.n = binary.BigEndian.Uint32(nBytes)
		encKey, err := NewSecureKey(encKeyBytes)
		if err != nil {
			return nil, corrupt(err)
		}
		var iv [12]byte
		copy(iv[:], ivBytes)
		s.skipped[id] = MessageKeys{EncKey: encKey, IV: iv}
	}

	if !r.exhausted() {
		return nil, fmt.Errorf("%w: trailing bytes in ratchet state", ErrCorruptState)
	}

	return s, nil
}

func corrupt(err error) error {
	return fmt.Errorf("%w: %v", ErrCorruptState, err)
}

func appendOptionalKey32(buf []byte, k *[32]byte) []byte {
	if k == nil {
		return append(buf, 0)
	}
	buf = append(buf, 1)
	return append(buf, k[:]...)
}

func appendOptionalSecureKey(buf []byte, k *SecureKey) []byte {
	if k == nil {
		return append(buf, 0)
	}
	buf = append(buf, 1)
	return append(buf, k.Bytes()...)
}

// byteReader is a minimal cursor over a byte slice used to decode the
// ratchet state's fixed-layout fields without pulling in encoding/gob or
// similar — the format is intentionally a flat, auditable concatenation.
type byteReader struct {
	data []byte
	pos  int
}

func (r *byteReader) byte() (byte, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *byteReader) take(n int) ([]byte, error) {
	if r.pos+n > len(r.data) {
		return nil, fmt.Errorf("unexpected end of data at offset %d wanting %d bytes", r.pos, n)
	}
	out := r.data[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *byteReader) fixed(dst []byte) error {
	b, err := r.take(len(dst))
	if err != nil {
		return err
	}
	copy(dst, b)
	return nil
}

func (r *byteReader) optionalKey32() (*[32]byte, error) {
	present, err := r.byte()
	if err != nil {
		return nil, err
	}
	if present == 0 {
		return nil, nil
	}
	b, err := r.take(32)
	if err != nil {
		return nil, err
	}
	var out [32]byte
	copy(out[:], b)
	return &out, nil
}

func (r *byteReader) optionalSecureKey() (*SecureKey, error) {
	present, err := r.byte()
	if err != nil {
		return nil, err
	}
	if present == 0 {
		return nil, nil
	}
	b, err := r.take(32)
	if err != nil {
		return nil, err
	}
	k, err := NewSecureKey(b)
	if err != nil {
		return nil, err
	}
	return &k, nil
}

func (r *byteReader) exhausted() bool {
	return r.pos == len(r.data)
}
