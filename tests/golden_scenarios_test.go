package tests

import (
	"bytes"
	"testing"

	"github.com/jaydenbeard/messaging-app/internal/security"
)

// These tests walk the exact end-to-end scenarios used as golden tests
// during the crypto core's design: handshake continuity, out-of-order
// delivery, a lost-then-recovered message interleaved with a DH step,
// and the two ways a tampered message must fail without disturbing
// state.

func TestGoldenHandshakeThenReply(t *testing.T) {
	sp := security.NewSignalProtocol()
	alice, bob := establishAliceAndBob(t)

	beforeReply, err := alice.Ratchet.Serialize()
	if err != nil {
		t.Fatalf("serialize before reply: %v", err)
	}

	wire, err := sp.EncryptMessageForSession(alice, []byte("hello"))
	if err != nil {
		t.Fatalf("alice encrypt: %v", err)
	}
	msg, err := security.UnmarshalRatchetMessage(wire)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	plaintext, err := bob.ratchet.Decrypt(msg, []byte("alicebob"))
	if err != nil {
		t.Fatalf("bob decrypt: %v", err)
	}
	if !bytes.Equal(plaintext, []byte("hello")) {
		t.Fatalf("got %q, want %q", plaintext, "hello")
	}

	bobReply, err := bob.ratchet.Encrypt([]byte("hi"), []byte("bobalice"))
	if err != nil {
		t.Fatalf("bob encrypt: %v", err)
	}
	plaintext, err = alice.Ratchet.Decrypt(bobReply, []byte("bobalice"))
	if err != nil {
		t.Fatalf("alice decrypt: %v", err)
	}
	if !bytes.Equal(plaintext, []byte("hi")) {
		t.Fatalf("got %q, want %q", plaintext, "hi")
	}

	afterReply, err := alice.Ratchet.Serialize()
	if err != nil {
		t.Fatalf("serialize after reply: %v", err)
	}
	if bytes.Equal(beforeReply, afterReply) {
		t.Fatal("alice's ratchet state must change once she turns the DH ratchet on bob's reply")
	}
}

func TestGoldenOutOfOrderDeliveryDrainsSkippedKeys(t *testing.T) {
	sp := security.NewSignalProtocol()
	alice, bob := establishAliceAndBob(t)

	var wire [3][]byte
	for i, p := range []string{"a", "b", "c"} {
		w, err := sp.EncryptMessageForSession(alice, []byte(p))
		if err != nil {
			t.Fatalf("encrypt %d: %v", i, err)
		}
		wire[i] = w
	}

	order := []int{2, 0, 1} // deliver c, a, b
	want := []string{"c", "a", "b"}
	for step, idx := range order {
		msg, err := security.UnmarshalRatchetMessage(wire[idx])
		if err != nil {
			t.Fatalf("unmarshal %d: %v", idx, err)
		}
		plaintext, err := bob.ratchet.Decrypt(msg, []byte("alicebob"))
		if err != nil {
			t.Fatalf("decrypt %d: %v", idx, err)
		}
		if string(plaintext) != want[step] {
			t.Fatalf("step %d: got %q, want %q", step, plaintext, want[step])
		}
	}

	if got := bob.ratchet.SkippedCount(); got != 0 {
		t.Fatalf("expected skipped key set to be empty once every message is delivered, got %d", got)
	}
}

func TestGoldenLostMessageRecoveredAfterRatchetStep(t *testing.T) {
	sp := security.NewSignalProtocol()
	alice, bob := establishAliceAndBob(t)

	m0, err := sp.EncryptMessageForSession(alice, []byte("m0"))
	if err != nil {
		t.Fatalf("encrypt m0: %v", err)
	}
	m1, err := sp.EncryptMessageForSession(alice, []byte("m1"))
	if err != nil {
		t.Fatalf("encrypt m1: %v", err)
	}

	// m0 is dropped in transit; bob only ever sees m1 first.
	msg1, err := security.UnmarshalRatchetMessage(m1)
	if err != nil {
		t.Fatalf("unmarshal m1: %v", err)
	}
	plaintext, err := bob.ratchet.Decrypt(msg1, []byte("alicebob"))
	if err != nil {
		t.Fatalf("bob decrypt m1: %v", err)
	}
	if string(plaintext) != "m1" {
		t.Fatalf("got %q, want m1", plaintext)
	}
	if got := bob.ratchet.SkippedCount(); got != 1 {
		t.Fatalf("expected exactly one retained skipped key for m0, got %d", got)
	}

	// Bob replies, forcing a DH ratchet step on alice's side.
	m2, err := bob.ratchet.Encrypt([]byte("m2"), []byte("bobalice"))
	if err != nil {
		t.Fatalf("bob encrypt m2: %v", err)
	}
	plaintext, err = alice.Ratchet.Decrypt(m2, []byte("bobalice"))
	if err != nil {
		t.Fatalf("alice decrypt m2: %v", err)
	}
	if string(plaintext) != "m2" {
		t.Fatalf("got %q, want m2", plaintext)
	}

	// m0 finally arrives, after the DH step — it must still decrypt
	// using the retained skipped key from the old chain.
	msg0, err := security.UnmarshalRatchetMessage(m0)
	if err != nil {
		t.Fatalf("unmarshal m0: %v", err)
	}
	plaintext, err = bob.ratchet.Decrypt(msg0, []byte("alicebob"))
	if err != nil {
		t.Fatalf("bob decrypt straggler m0: %v", err)
	}
	if string(plaintext) != "m0" {
		t.Fatalf("got %q, want m0", plaintext)
	}
	if got := bob.ratchet.SkippedCount(); got != 0 {
		t.Fatalf("expected skipped key set empty after the straggler lands, got %d", got)
	}
}

func TestGoldenSignatureFailureLeavesStateUnchanged(t *testing.T) {
	alice, bob := establishAliceAndBob(t)
	sp := security.NewSignalProtocol()

	wire, err := sp.EncryptMessageForSession(alice, []byte("payload"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	msg, err := security.UnmarshalRatchetMessage(wire)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	msg.Signature[0] ^= 0x01

	before, err := bob.ratchet.Serialize()
	if err != nil {
		t.Fatalf("serialize before: %v", err)
	}
	if _, err := bob.ratchet.Decrypt(msg, []byte("alicebob")); err == nil {
		t.Fatal("expected a forged signature to be rejected")
	}
	after, err := bob.ratchet.Serialize()
	if err != nil {
		t.Fatalf("serialize after: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Fatal("a rejected signature must not advance or otherwise mutate receiver state")
	}
}

func TestGoldenAuthTagFailureLeavesStateUnchanged(t *testing.T) {
	alice, bob := establishAliceAndBob(t)
	sp := security.NewSignalProtocol()

	wire, err := sp.EncryptMessageForSession(alice, []byte("payload"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	msg, err := security.UnmarshalRatchetMessage(wire)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	msg.Ciphertext[len(msg.Ciphertext)-1] ^= 0x01

	before, err := bob.ratchet.Serialize()
	if err != nil {
		t.Fatalf("serialize before: %v", err)
	}
	if _, err := bob.ratchet.Decrypt(msg, []byte("alicebob")); err == nil {
		t.Fatal("expected a corrupted AEAD tag to be rejected")
	}
	after, err := bob.ratchet.Serialize()
	if err != nil {
		t.Fatalf("serialize after: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Fatal("a rejected AEAD tag must not advance or otherwise mutate receiver state")
	}
}
