package security

import "errors"

// Sentinel errors surfaced by the X3DH / Double Ratchet core. Callers
// should match against these with errors.Is rather than string-matching,
// since every wrapping call site adds its own %w context.
var (
	// ErrInvalidKeySize is returned when key material isn't the expected
	// length for its type (32 bytes for X25519/Ed25519/SecureKey).
	ErrInvalidKeySize = errors.New("security: invalid key size")

	// ErrInvalidSignature is returned when an Ed25519 signature over a
	// signed pre-key or a ratchet message header fails verification.
	ErrInvalidSignature = errors.New("security: invalid signature")

	// ErrUnknownOneTimePreKey is returned when a bundle references a
	// one-time pre-key ID the receiver's store no longer holds (already
	// consumed, or never issued).
	ErrUnknownOneTimePreKey = errors.New("security: unknown one-time prekey")

	// ErrNotInitialised is returned when an operation needs ratchet or
	// session state that hasn't been established yet.
	ErrNotInitialised = errors.New("security: ratchet state not initialised")

	// ErrTooManySkipped is returned when decrypting a message would
	// require skipping more than MaxSkip message keys in one chain.
	ErrTooManySkipped = errors.New("security: too many skipped message keys")

	// ErrAuthFailed is returned when AEAD decryption or a message
	// signature check fails.
	ErrAuthFailed = errors.New("security: authentication failed")

	// ErrCorruptState is returned when persisted ratchet state fails to
	// parse. The session it belongs to cannot be recovered.
	ErrCorruptState = errors.New("security: corrupt ratchet state")

	// ErrRNGFailure is returned when the configured randomness source
	// fails to fill a buffer.
	ErrRNGFailure = errors.New("security: random number generation failed")
)
