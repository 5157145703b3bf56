package models

import (
	"time"

	"github.com/google/uuid"
)

// User is the public profile of a registered relay account.
type User struct {
	UserID                uuid.UUID `json:"user_id"`
	PhoneNumber           string    `json:"phone_number"`
	Username              *string   `json:"username,omitempty"`
	DisplayName           *string   `json:"display_name,omitempty"`
	AvatarURL             *string   `json:"avatar_url,omitempty"`
	PublicIdentityKey     string    `json:"public_identity_key"`
	PublicSignedPrekey    string    `json:"public_signed_prekey"`
	SignedPrekeySignature string    `json:"signed_prekey_signature"`
	CreatedAt             time.Time `json:"created_at"`
	LastSeen              time.Time `json:"last_seen"`
	IsActive              bool      `json:"is_active"`
}

// UserKeys is the X3DH key bundle returned to a client establishing a
// session with UserID: identity key, signed pre-key, and (if one is
// still available) a one-time pre-key consumed for this fetch.
type UserKeys struct {
	UserID                uuid.UUID `json:"user_id"`
	IdentityKey           string    `json:"identity_key"`
	SignedPreKey          string    `json:"signed_prekey"`
	SignedPreKeySignature string    `json:"signed_prekey_signature"`
	SignedPreKeyID        uint32    `json:"signed_prekey_id"`
	OneTimePreKey         *string   `json:"onetime_prekey,omitempty"`
	OneTimePreKeyID       *uint32   `json:"onetime_prekey_id,omitempty"`
}

// PreKey is the public half of a one-time pre-key, as uploaded by a
// client for the relay to publish on its behalf.
type PreKey struct {
	PreKeyID  uint32 `json:"prekey_id"`
	PublicKey string `json:"public_key"`
}

// AuthRequest starts phone verification.
type AuthRequest struct {
	PhoneNumber string `json:"phone_number"`
}

// AuthVerifyRequest checks a verification code against a phone number.
type AuthVerifyRequest struct {
	PhoneNumber string `json:"phone_number"`
	Code        string `json:"code"`
}

// RegisterRequest creates a new account after phone verification,
// publishing the client's long-term X3DH key material.
type RegisterRequest struct {
	PhoneNumber            string    `json:"phone_number"`
	Code                   string    `json:"code"`
	Username               *string   `json:"username,omitempty"`
	DisplayName            *string   `json:"display_name,omitempty"`
	PublicIdentityKey      string    `json:"public_identity_key"`
	PublicSignedPrekey     string    `json:"public_signed_prekey"`
	SignedPrekeySignature  string    `json:"signed_prekey_signature"`
	PreKeys                []PreKey  `json:"prekeys,omitempty"`
	DeviceID               uuid.UUID `json:"device_id"`
}

// LoginRequest re-authenticates an existing account on a device that
// already holds (or is re-deriving) the account's identity key.
type LoginRequest struct {
	PhoneNumber string    `json:"phone_number"`
	Code        string    `json:"code"`
	DeviceID    uuid.UUID `json:"device_id"`
}

// AuthResponse carries the issued token pair after registration or login.
type AuthResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         User      `json:"user"`
}

// MessageEnvelope is the opaque ciphertext unit relayed between two
// established Double Ratchet sessions. The relay stores and forwards
// Ciphertext without ever decrypting or inspecting it.
type MessageEnvelope struct {
	MessageID   uuid.UUID `json:"message_id"`
	SenderID    uuid.UUID `json:"sender_id"`
	ReceiverID  uuid.UUID `json:"receiver_id"`
	Ciphertext  []byte    `json:"ciphertext"`
	MessageType string    `json:"message_type"`
	Timestamp   time.Time `json:"timestamp"`
	Status      string    `json:"status"`
}
