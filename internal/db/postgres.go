package db

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jaydenbeard/messaging-app/internal/metrics"
	"github.com/jaydenbeard/messaging-app/internal/security"
	_ "github.com/lib/pq"
)

// PostgresDB wraps the database connection
type PostgresDB struct {
	db *sql.DB
}

// Message represents a relayed ciphertext envelope. The relay never
// inspects Ciphertext: it is opaque Double Ratchet output addressed to
// ReceiverID.
type Message struct {
	MessageID   uuid.UUID
	SenderID    uuid.UUID
	ReceiverID  uuid.UUID
	Ciphertext  []byte
	MessageType string
	Timestamp   time.Time
	Status      string
	DeliveredAt *time.Time
	ReadAt      *time.Time
}

// NewPostgresDB creates a new database connection
func NewPostgresDB(connStr string) (*PostgresDB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &PostgresDB{db: db}, nil
}

// Close closes the database connection
func (p *PostgresDB) Close() error {
	return p.db.Close()
}

// GetDB returns the underlying *sql.DB connection (shared with
// security.OneTimePreKeyStore and audit logging).
func (p *PostgresDB) GetDB() *sql.DB {
	return p.db
}

// SaveMessage stores a ciphertext envelope for later pickup
func (p *PostgresDB) SaveMessage(msg *Message) error {
	query := `
		INSERT INTO messages (message_id, sender_id, receiver_id, ciphertext, message_type, timestamp, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := p.db.Exec(query,
		msg.MessageID,
		msg.SenderID,
		msg.ReceiverID,
		msg.Ciphertext,
		msg.MessageType,
		msg.Timestamp,
		msg.Status,
	)
	return err
}

// GetMessage retrieves a message by ID
func (p *PostgresDB) GetMessage(messageID uuid.UUID) (*Message, error) {
	query := `
		SELECT message_id, sender_id, receiver_id, ciphertext, message_type, timestamp, status, delivered_at, read_at
		FROM messages WHERE message_id = $1`

	msg := &Message{}
	err := p.db.QueryRow(query, messageID).Scan(
		&msg.MessageID,
		&msg.SenderID,
		&msg.ReceiverID,
		&msg.Ciphertext,
		&msg.MessageType,
		&msg.Timestamp,
		&msg.Status,
		&msg.DeliveredAt,
		&msg.ReadAt,
	)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// GetPendingMessages gets undelivered messages for a user, oldest first
func (p *PostgresDB) GetPendingMessages(userID uuid.UUID) ([]*Message, error) {
	query := `
		SELECT message_id, sender_id, receiver_id, ciphertext, message_type, timestamp, status
		FROM messages
		WHERE receiver_id = $1 AND status = 'sent'
		ORDER BY timestamp ASC
		LIMIT 100`

	rows, err := p.db.Query(query, userID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("Warning: failed to close rows: %v", err)
		}
	}()

	var messages []*Message
	for rows.Next() {
		msg := &Message{}
		if err := rows.Scan(
			&msg.MessageID,
			&msg.SenderID,
			&msg.ReceiverID,
			&msg.Ciphertext,
			&msg.MessageType,
			&msg.Timestamp,
			&msg.Status,
		); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// UpdateMessageStatus updates the delivery status of a message
func (p *PostgresDB) UpdateMessageStatus(messageID uuid.UUID, status string, timestamp time.Time) error {
	var query string
	switch status {
	case "delivered":
		query = `UPDATE messages SET status = $1, delivered_at = $2 WHERE message_id = $3`
	case "read":
		query = `UPDATE messages SET status = $1, read_at = $2 WHERE message_id = $3`
	default:
		query = `UPDATE messages SET status = $1 WHERE message_id = $2`
		_, err := p.db.Exec(query, status, messageID)
		return err
	}
	_, err := p.db.Exec(query, status, timestamp, messageID)
	return err
}

// User operations

// CreateUser creates a new user
func (p *PostgresDB) CreateUser(phoneNumber, displayName, identityKey, signedPrekey, prekeySignature string) (*uuid.UUID, error) {
	// Generate phone_hash for privacy-preserving contact discovery
	phoneHash := hashPhoneNumber(phoneNumber)

	query := `
		INSERT INTO users (phone_number, phone_hash, display_name, public_identity_key, public_signed_prekey, signed_prekey_signature)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6)
		RETURNING user_id`

	var userID uuid.UUID
	err := p.db.QueryRow(query, phoneNumber, phoneHash, displayName, identityKey, signedPrekey, prekeySignature).Scan(&userID)
	if err != nil {
		return nil, err
	}
	return &userID, nil
}

// hashPhoneNumber creates a SHA-256 hash of a phone number for privacy-preserving contact discovery
func hashPhoneNumber(phoneNumber string) string {
	hash := sha256.Sum256([]byte(phoneNumber))
	return hex.EncodeToString(hash[:])
}

// GetUserByPhone finds a user by phone number
func (p *PostgresDB) GetUserByPhone(phoneNumber string) (*uuid.UUID, error) {
	query := `SELECT user_id FROM users WHERE phone_number = $1 AND is_active = true`

	var userID uuid.UUID
	err := p.db.QueryRow(query, phoneNumber).Scan(&userID)
	if err != nil {
		return nil, err
	}
	return &userID, nil
}

// GetUserByID retrieves a user by ID
func (p *PostgresDB) GetUserByID(userID uuid.UUID) (map[string]interface{}, error) {
	query := `
		SELECT user_id, phone_number, username, display_name, avatar_url,
		       public_identity_key, public_signed_prekey, signed_prekey_signature,
		       created_at, last_seen, is_active
		FROM users WHERE user_id = $1`

	var user struct {
		UserID                uuid.UUID
		PhoneNumber           string
		Username              sql.NullString
		DisplayName           sql.NullString
		AvatarURL             sql.NullString
		PublicIdentityKey     string
		PublicSignedPrekey    string
		SignedPrekeySignature string
		CreatedAt             time.Time
		LastSeen              time.Time
		IsActive              bool
	}

	err := p.db.QueryRow(query, userID).Scan(
		&user.UserID,
		&user.PhoneNumber,
		&user.Username,
		&user.DisplayName,
		&user.AvatarURL,
		&user.PublicIdentityKey,
		&user.PublicSignedPrekey,
		&user.SignedPrekeySignature,
		&user.CreatedAt,
		&user.LastSeen,
		&user.IsActive,
	)
	if err != nil {
		return nil, err
	}

	result := map[string]interface{}{
		"user_id":                 user.UserID,
		"phone_number":            user.PhoneNumber,
		"public_identity_key":     user.PublicIdentityKey,
		"public_signed_prekey":    user.PublicSignedPrekey,
		"signed_prekey_signature": user.SignedPrekeySignature,
		"created_at":              user.CreatedAt,
		"last_seen":               user.LastSeen,
		"is_active":               user.IsActive,
	}

	if user.Username.Valid {
		result["username"] = user.Username.String
	}
	if user.DisplayName.Valid {
		result["display_name"] = user.DisplayName.String
	}
	if user.AvatarURL.Valid {
		result["avatar_url"] = user.AvatarURL.String
	}

	return result, nil
}

// GetUserKeys retrieves a user's X3DH bundle for a session-establishment
// fetch: identity key, signed pre-key, and — if one is still available —
// a one-time pre-key's public half, claimed atomically so no two
// initiators are handed the same one-time pre-key. This table holds
// only public keys; it is the relay's own bookkeeping of what it has
// published on a user's behalf, separate from
// security.OneTimePreKeyStore, which belongs to the receiving identity
// and holds the matching private halves.
func (p *PostgresDB) GetUserKeys(userID uuid.UUID) (map[string]interface{}, error) {
	query := `
		SELECT public_identity_key, public_signed_prekey, signed_prekey_signature,
		       COALESCE(display_name, username, '') as display_name,
		       COALESCE(username, '') as username
		FROM users WHERE user_id = $1`

	var identityKey, signedPrekey, signedPrekeySig, displayName, username string
	err := p.db.QueryRow(query, userID).Scan(&identityKey, &signedPrekey, &signedPrekeySig, &displayName, &username)
	if err != nil {
		return nil, err
	}

	result := map[string]interface{}{
		"user_id":                 userID,
		"identity_key":            identityKey,
		"signed_prekey":           signedPrekey,
		"signed_prekey_signature": signedPrekeySig,
		"display_name":            displayName,
		"username":                username,
	}

	prekeyQuery := `
		UPDATE prekeys SET used_at = NOW()
		WHERE id = (
			SELECT id FROM prekeys
			WHERE user_id = $1 AND used_at IS NULL
			ORDER BY prekey_id LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING prekey_id, public_key`

	var prekeyID int
	var prekeyPublic string
	if err := p.db.QueryRow(prekeyQuery, userID).Scan(&prekeyID, &prekeyPublic); err == nil {
		result["onetime_prekey_id"] = prekeyID
		result["onetime_prekey"] = prekeyPublic
	}
	// If no one-time pre-key is available, the session still works —
	// just without forward secrecy from the first message.

	var remaining int
	if err := p.db.QueryRow(`SELECT count(*) FROM prekeys WHERE user_id = $1 AND used_at IS NULL`, userID).Scan(&remaining); err == nil {
		metrics.UpdatePreKeysRemaining(userID.String(), remaining)
	}

	return result, nil
}

// SavePreKeys stores a batch of one-time pre-key public halves the
// relay may hand out to future X3DH initiators on userID's behalf.
func (p *PostgresDB) SavePreKeys(userID uuid.UUID, prekeys []PreKeyUpload) error {
	query := `INSERT INTO prekeys (user_id, prekey_id, public_key) VALUES ($1, $2, $3)`
	for _, pk := range prekeys {
		if _, err := p.db.Exec(query, userID, pk.KeyID, pk.PublicKey); err != nil {
			return fmt.Errorf("save prekey %d: %w", pk.KeyID, err)
		}
	}
	metrics.RecordPreKeysReplenished()
	return nil
}

// PreKeyUpload is one entry in a batch of public one-time pre-keys a
// client publishes to the relay.
type PreKeyUpload struct {
	KeyID     uint32
	PublicKey string
}

// UpdateUserKeys updates a user's public cryptographic keys
// Returns true if the identity key changed (triggers security notification)
// This is used when a user sets up encryption on a new device
func (p *PostgresDB) UpdateUserKeys(userID uuid.UUID, identityKey, signedPrekey, signedPrekeySig string) (bool, error) {
	// First, get the current identity key to check if it changed
	var currentIdentityKey string
	err := p.db.QueryRow(`SELECT public_identity_key FROM users WHERE user_id = $1`, userID).Scan(&currentIdentityKey)
	if err != nil {
		return false, fmt.Errorf("failed to get current identity key: %w", err)
	}

	// Check if identity key is actually changing
	identityKeyChanged := currentIdentityKey != identityKey

	// Update the keys
	query := `
		UPDATE users
		SET public_identity_key = $2,
		    public_signed_prekey = $3,
		    signed_prekey_signature = $4,
		    last_seen = NOW()
		WHERE user_id = $1`

	result, err := p.db.Exec(query, userID, identityKey, signedPrekey, signedPrekeySig)
	if err != nil {
		return false, fmt.Errorf("failed to update keys: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return false, fmt.Errorf("user not found")
	}

	if identityKeyChanged {
		log.Printf("[Security] Identity key changed for user %s", userID)
	}

	return identityKeyChanged, nil
}

// CheckUsernameAvailable checks if a username is available
func (p *PostgresDB) CheckUsernameAvailable(username string) (bool, error) {
	// Validate username format
	if !security.ValidateUsername(username) {
		return false, fmt.Errorf("invalid username format")
	}

	var count int
	err := p.db.QueryRow("SELECT COUNT(*) FROM users WHERE LOWER(username) = LOWER($1)", username).Scan(&count)
	if err != nil {
		return false, err
	}
	return count == 0, nil
}

// UpdateUser updates user profile fields
func (p *PostgresDB) UpdateUser(userID uuid.UUID, fields map[string]interface{}) error {
	// SECURITY: Whitelist of allowed fields
	allowedFields := map[string]bool{
		"username":     true,
		"display_name": true,
		"avatar_url":   true,
	}

	// Validate all fields are in whitelist
	for field := range fields {
		if !allowedFields[field] {
			return fmt.Errorf("field '%s' is not allowed to be updated", field)
		}
	}

	if len(fields) == 0 {
		return fmt.Errorf("no fields to update")
	}

	// Build dynamic update query with proper parameter numbering
	// SECURITY NOTE: This is safe from SQL injection because:
	// 1. Field names are hardcoded strings (not user input)
	// 2. Field names are validated against allowedFields whitelist above
	// 3. All values are parameterized with $n placeholders
	setClauses := []string{}
	args := []interface{}{}
	i := 1

	if username, ok := fields["username"]; ok {
		setClauses = append(setClauses, fmt.Sprintf("username = $%d", i))
		args = append(args, username)
		i++
	}
	if displayName, ok := fields["display_name"]; ok {
		setClauses = append(setClauses, fmt.Sprintf("display_name = $%d", i))
		args = append(args, displayName)
		i++
	}
	if avatarURL, ok := fields["avatar_url"]; ok {
		setClauses = append(setClauses, fmt.Sprintf("avatar_url = $%d", i))
		args = append(args, avatarURL)
		i++
	}

	args = append(args, userID)
	query := fmt.Sprintf("UPDATE users SET %s WHERE user_id = $%d",
		strings.Join(setClauses, ", "), i)

	_, err := p.db.Exec(query, args...)
	return err
}

// DeleteUser permanently deletes a user and all associated data
func (p *PostgresDB) DeleteUser(userID uuid.UUID) error {
	// First, get the user's phone number (outside transaction)
	var phoneNumber string
	_ = p.db.QueryRow("SELECT phone_number FROM users WHERE user_id = $1", userID).Scan(&phoneNumber)

	// Pre-cleanup: delete data from tables that might not have proper CASCADE
	// These are done outside the main transaction so they don't abort it

	_, _ = p.db.Exec("DELETE FROM messages WHERE sender_id = $1 OR receiver_id = $1", userID)
	_, _ = p.db.Exec("DELETE FROM prekeys WHERE user_id = $1", userID)

	if phoneNumber != "" {
		_, _ = p.db.Exec("DELETE FROM verification_codes WHERE phone_number = $1", phoneNumber)
	}

	// Now delete the user record itself
	result, err := p.db.Exec("DELETE FROM users WHERE user_id = $1", userID)
	if err != nil {
		log.Printf("Failed to delete user %s: %v", userID, err)
		return fmt.Errorf("failed to delete user: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		log.Printf("Warning: Failed to get rows affected: %v", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user not found: %s", userID)
	}

	log.Printf("Successfully deleted user %s and all associated data", userID)
	return nil
}

// Verification codes

// SaveVerificationCode stores a verification code
func (p *PostgresDB) SaveVerificationCode(phoneNumber, code string, expiresAt time.Time) error {
	query := `INSERT INTO verification_codes (phone_number, code, expires_at) VALUES ($1, $2, $3)`
	_, err := p.db.Exec(query, phoneNumber, code, expiresAt)
	return err
}

// CheckCode validates a code without marking it as verified (for pre-checking)
func (p *PostgresDB) CheckCode(phoneNumber, code string) (bool, error) {
	query := `
		SELECT id FROM verification_codes
		WHERE phone_number = $1 AND code = $2 AND expires_at > NOW() AND verified = false AND attempts < 5
		LIMIT 1`

	var id int
	err := p.db.QueryRow(query, phoneNumber, code).Scan(&id)
	if err == sql.ErrNoRows {
		// Increment attempt counter even for wrong codes
		if _, execErr := p.db.Exec(`UPDATE verification_codes SET attempts = attempts + 1 WHERE phone_number = $1 AND expires_at > NOW() AND verified = false`, phoneNumber); execErr != nil {
			log.Printf("Warning: failed to increment attempt counter: %v", execErr)
		}
		return false, nil
	}
	return err == nil, err
}

// VerifyCode checks if a code is valid and marks it as verified
func (p *PostgresDB) VerifyCode(phoneNumber, code string) (bool, error) {
	query := `
		UPDATE verification_codes
		SET verified = true, attempts = attempts + 1
		WHERE phone_number = $1 AND code = $2 AND expires_at > NOW() AND verified = false AND attempts < 5
		RETURNING id`

	var id int
	err := p.db.QueryRow(query, phoneNumber, code).Scan(&id)
	if err == sql.ErrNoRows {
		// Increment attempt counter even for wrong codes
		if _, execErr := p.db.Exec(`UPDATE verification_codes SET attempts = attempts + 1 WHERE phone_number = $1 AND expires_at > NOW() AND verified = false`, phoneNumber); execErr != nil {
			log.Printf("Warning: failed to increment attempt counter: %v", execErr)
		}
		return false, nil
	}
	return err == nil, err
}

// MarkCodeVerified marks a verification code as verified (used after successful user creation)
func (p *PostgresDB) MarkCodeVerified(phoneNumber, code string) error {
	query := `
		UPDATE verification_codes
		SET verified = true
		WHERE phone_number = $1 AND code = $2 AND expires_at > NOW() AND verified = false`
	_, err := p.db.Exec(query, phoneNumber, code)
	return err
}

// Session operations

// CreateSession stores a new session
func (p *PostgresDB) CreateSession(userID uuid.UUID, tokenHash string, expiresAt time.Time) (*uuid.UUID, error) {
	var sessionID uuid.UUID
	err := p.db.QueryRow(`
		INSERT INTO sessions (user_id, token_hash, expires_at)
		VALUES ($1, $2, $3)
		RETURNING session_id`, userID, tokenHash, expiresAt).Scan(&sessionID)
	return &sessionID, err
}

// ValidateSession checks if a session is valid
// Updated to handle both old and new hash formats for backward compatibility
func (p *PostgresDB) ValidateSession(tokenHash string) (*uuid.UUID, error) {
	var userID uuid.UUID

	// Try new salted hash format first (longer hash)
	if len(tokenHash) > 64 { // Salted hashes are longer than 64 chars
		err := p.db.QueryRow(`
			SELECT user_id FROM sessions
			WHERE token_hash = $1 AND expires_at > NOW() AND revoked_at IS NULL`, tokenHash).Scan(&userID)
		if err == nil {
			// Update last used
			if _, execErr := p.db.Exec(`UPDATE sessions SET last_used = NOW() WHERE token_hash = $1`, tokenHash); execErr != nil {
				log.Printf("Warning: failed to update session last_used: %v", execErr)
			}
			return &userID, nil
		}
	}

	// Fallback to old format for backward compatibility
	err := p.db.QueryRow(`
		SELECT user_id FROM sessions
		WHERE token_hash = $1 AND expires_at > NOW() AND revoked_at IS NULL`, tokenHash).Scan(&userID)
	if err != nil {
		return nil, err
	}

	// Update last used
	if _, err := p.db.Exec(`UPDATE sessions SET last_used = NOW() WHERE token_hash = $1`, tokenHash); err != nil {
		log.Printf("Warning: failed to update session last_used: %v", err)
	}

	return &userID, nil
}

// RevokeSession invalidates a session
func (p *PostgresDB) RevokeSession(tokenHash string) error {
	_, err := p.db.Exec(`UPDATE sessions SET revoked_at = NOW() WHERE token_hash = $1`, tokenHash)
	return err
}

// RevokeAllUserSessions invalidates all active sessions for a user (used when credentials change)
func (p *PostgresDB) RevokeAllUserSessions(userID uuid.UUID) error {
	_, err := p.db.Exec(`UPDATE sessions SET revoked_at = NOW() WHERE user_id = $1 AND revoked_at IS NULL`, userID)
	return err
}
