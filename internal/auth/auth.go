package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"math"
	"math/big"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jaydenbeard/messaging-app/internal/config"
	"github.com/jaydenbeard/messaging-app/internal/db"
	"github.com/jaydenbeard/messaging-app/internal/security"
	"github.com/jaydenbeard/messaging-app/internal/sms"
	"github.com/redis/go-redis/v9"
)

// Security errors
var (
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")
	ErrInvalidCode        = errors.New("invalid verification code")
	ErrUserNotFound       = errors.New("user not found")
	ErrRateLimited        = errors.New("too many requests")
	ErrJWTSecretEmpty     = errors.New("JWT secret is empty or invalid")
	ErrJWTSecretWeak      = errors.New("JWT secret is too weak for security requirements")
	ErrTokenBlacklisted   = errors.New("token has been blacklisted due to security concerns")
	ErrSessionFixation    = errors.New("session fixation attempt detected")
	ErrTokenCompromised   = errors.New("token appears to be compromised")
	ErrBlacklistOperation = errors.New("failed to update token blacklist")
)

// AuthService authenticates relay clients outside the Signal Protocol
// trust boundary: it proves a phone number controls an account and
// issues JWTs that gate the relay's bundle/message endpoints. It never
// sees ratchet or pre-key private material — those stay on the client.
type AuthService struct {
	db                *db.PostgresDB
	smsService        *sms.ClickSendService
	jwtSecret         []byte
	previousJWTSecret []byte
	secretLock        sync.RWMutex // Thread-safe access to JWT secret
	rotationLogger    *log.Logger
	redisClient       *redis.Client
	blacklistLock     sync.RWMutex // Thread-safe access to blacklist operations
	securityLogger    *log.Logger
}

// Claims represents JWT claims
type Claims struct {
	UserID   uuid.UUID `json:"user_id"`
	DeviceID uuid.UUID `json:"device_id"`
	jwt.RegisteredClaims
}

// NewAuthService creates a new auth service with secure JWT secret validation
func NewAuthService(database *db.PostgresDB, jwtSecret string) (*AuthService, error) {
	if jwtSecret == "" {
		return nil, ErrJWTSecretEmpty
	}
	if len(jwtSecret) < 32 {
		return nil, ErrJWTSecretWeak
	}
	if !validateJWTSecretStrength(jwtSecret) {
		return nil, ErrJWTSecretWeak
	}

	nodeEnv := os.Getenv("NODE_ENV")

	smsService, err := sms.NewClickSendService()
	if err != nil {
		if nodeEnv == "production" {
			return nil, fmt.Errorf("failed to initialize SMS service in production: %w", err)
		}
		log.Printf("Warning: Failed to initialize SMS service: %v", err)
		log.Printf("SMS verification codes will not be sent - check ClickSend configuration")
	} else {
		log.Printf("SMS service initialized successfully with ClickSend")
		if err := smsService.HealthCheck(); err != nil {
			if nodeEnv == "production" {
				return nil, fmt.Errorf("SMS service health check failed in production: %w", err)
			}
			log.Printf("Warning: SMS service health check failed: %v", err)
		} else {
			log.Printf("SMS service health check passed - service is operational")
		}
	}

	redisAddr := os.Getenv("REDIS_URL")
	if redisAddr == "" {
		redisAddr = os.Getenv("REDIS_ADDR")
	}
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	redisClient := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       0,
	})

	if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
		if nodeEnv == "production" {
			return nil, fmt.Errorf("failed to connect to Redis in production: %w", err)
		}
		log.Printf("Warning: Failed to connect to Redis: %v", err)
		log.Printf("Token blacklisting will use fallback in-memory cache")
	}

	currentSecret, previousSecret, hasPrevious := config.GetAllActiveSecrets()
	if !hasPrevious {
		previousSecret = ""
	}

	return &AuthService{
		db:                database,
		smsService:        smsService,
		jwtSecret:         []byte(currentSecret),
		previousJWTSecret: []byte(previousSecret),
		rotationLogger:    log.New(os.Stdout, "[AUTH-ROTATION] ", log.Ldate|log.Ltime|log.LUTC),
		redisClient:       redisClient,
		securityLogger:    log.New(os.Stdout, "[AUTH-SECURITY] ", log.Ldate|log.Ltime|log.LUTC),
	}, nil
}

// validateJWTSecretStrength checks if JWT secret meets cryptographic requirements
func validateJWTSecretStrength(secret string) bool {
	entropy := 0.0
	charCount := make(map[rune]int)
	for _, char := range secret {
		charCount[char]++
	}
	for _, count := range charCount {
		probability := float64(count) / float64(len(secret))
		entropy -= probability * math.Log2(probability)
	}
	return entropy >= 3.5
}

func (a *AuthService) GetJWTSecret() []byte {
	a.secretLock.RLock()
	defer a.secretLock.RUnlock()
	return a.jwtSecret
}

func (a *AuthService) GetPreviousJWTSecret() []byte {
	a.secretLock.RLock()
	defer a.secretLock.RUnlock()
	return a.previousJWTSecret
}

func (a *AuthService) GetAllJWTSecrets() (current, previous []byte) {
	a.secretLock.RLock()
	defer a.secretLock.RUnlock()
	return a.jwtSecret, a.previousJWTSecret
}

// RotateJWTSecret securely rotates the JWT secret with zero-downtime transition
func (a *AuthService) RotateJWTSecret(newSecret string) error {
	if newSecret == "" {
		return ErrJWTSecretEmpty
	}
	if len(newSecret) < 32 {
		return ErrJWTSecretWeak
	}
	if !validateJWTSecretStrength(newSecret) {
		return ErrJWTSecretWeak
	}

	a.secretLock.Lock()
	defer a.secretLock.Unlock()

	a.rotationLogger.Printf("Starting JWT secret rotation in AuthService")
	a.previousJWTSecret = a.jwtSecret
	a.jwtSecret = []byte(newSecret)

	if err := config.RotateSecret(newSecret); err != nil {
		a.rotationLogger.Printf("Warning: Failed to update global key manager: %v", err)
	}

	a.rotationLogger.Printf("JWT secret rotation completed - dual-key validation enabled")
	return nil
}

// RequestVerificationCode generates and stores a verification code
func (a *AuthService) RequestVerificationCode(phoneNumber string) (string, error) {
	if !security.ValidatePhoneNumber(phoneNumber) {
		return "", fmt.Errorf("invalid phone number format")
	}

	code, err := generateCode(6)
	if err != nil {
		return "", err
	}

	expiresAt := time.Now().Add(5 * time.Minute)
	if err := a.db.SaveVerificationCode(phoneNumber, code, expiresAt); err != nil {
		return "", err
	}

	devMode := os.Getenv("DEV_MODE") == "true"
	if devMode {
		log.Printf("DEV_MODE: Skipping SMS send to %s - use code returned in API response", phoneNumber)
	} else if a.smsService != nil {
		if err := a.smsService.SendVerificationCode(phoneNumber, code); err != nil {
			log.Printf("Failed to send SMS verification code to %s: %v", phoneNumber, err)
		} else {
			log.Printf("SMS verification code sent successfully to %s", phoneNumber)
		}
	} else {
		log.Printf("SMS service not configured - verification code not sent to %s", phoneNumber)
	}

	return code, nil
}

func (a *AuthService) CheckCode(phoneNumber, code string) (bool, error) {
	return a.db.CheckCode(phoneNumber, code)
}

func (a *AuthService) VerifyCode(phoneNumber, code string) (bool, error) {
	return a.db.VerifyCode(phoneNumber, code)
}

func (a *AuthService) MarkCodeVerified(phoneNumber, code string) error {
	return a.db.MarkCodeVerified(phoneNumber, code)
}

// GenerateTokens creates JWT access and refresh tokens
func (a *AuthService) GenerateTokens(userID, deviceID uuid.UUID) (accessToken, refreshToken string, expiresAt time.Time, err error) {
	accessExpiry := time.Now().Add(1 * time.Hour)
	accessClaims := &Claims{
		UserID:   userID,
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(accessExpiry),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   userID.String(),
		},
	}

	accessTokenObj := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims)
	accessToken, err = accessTokenObj.SignedString(a.GetJWTSecret())
	if err != nil {
		return "", "", time.Time{}, err
	}

	refreshExpiry := time.Now().Add(30 * 24 * time.Hour)
	refreshClaims := &Claims{
		UserID:   userID,
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(refreshExpiry),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   userID.String(),
		},
	}

	refreshTokenObj := jwt.NewWithClaims(jwt.SigningMethodHS256, refreshClaims)
	refreshToken, err = refreshTokenObj.SignedString(a.GetJWTSecret())
	if err != nil {
		return "", "", time.Time{}, err
	}

	tokenHash := hashToken(accessToken)
	if _, err := a.db.CreateSession(userID, tokenHash, accessExpiry); err != nil {
		log.Printf("Warning: Failed to create session: %v", err)
	}

	return accessToken, refreshToken, accessExpiry, nil
}

// ValidateToken validates a JWT token and returns claims with dual-key support
func (a *AuthService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := a.validateTokenWithSecret(tokenString, a.GetJWTSecret())
	if err == nil {
		return token, nil
	}

	if a.hasPreviousSecret() {
		tokenFingerprint := hashTokenForBlacklist(tokenString)[:8]
		a.rotationLogger.Printf("Attempting validation with previous JWT secret for token fingerprint: %s...", tokenFingerprint)
		token, err = a.validateTokenWithSecret(tokenString, a.GetPreviousJWTSecret())
		if err == nil {
			a.rotationLogger.Printf("Token validated successfully with previous secret - transition period active")
			return token, nil
		}
	}

	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, ErrTokenExpired
	}
	return nil, ErrInvalidToken
}

func (a *AuthService) validateTokenWithSecret(tokenString string, secret []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidToken
}

func (a *AuthService) hasPreviousSecret() bool {
	a.secretLock.RLock()
	defer a.secretLock.RUnlock()
	return len(a.previousJWTSecret) > 0
}

// RefreshAccessToken generates a new access token from a refresh token
func (a *AuthService) RefreshAccessToken(refreshTokenString string) (accessToken string, expiresAt time.Time, err error) {
	claims, err := a.ValidateToken(refreshTokenString)
	if err != nil {
		return "", time.Time{}, err
	}

	accessExpiry := time.Now().Add(1 * time.Hour)
	accessClaims := &Claims{
		UserID:   claims.UserID,
		DeviceID: claims.DeviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(accessExpiry),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   claims.UserID.String(),
		},
	}

	accessTokenObj := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims)
	accessToken, err = accessTokenObj.SignedString(a.GetJWTSecret())
	if err != nil {
		return "", time.Time{}, err
	}

	tokenHash := hashToken(accessToken)
	if _, err := a.db.CreateSession(claims.UserID, tokenHash, accessExpiry); err != nil {
		log.Printf("Warning: Failed to create session: %v", err)
	}

	a.rotationLogger.Printf("Access token refreshed for user %s, device %s - using current JWT secret",
		claims.UserID, claims.DeviceID)

	return accessToken, accessExpiry, nil
}

// GetUserByPhone finds or creates a user by phone number
func (a *AuthService) GetUserByPhone(phoneNumber string) (*uuid.UUID, bool, error) {
	userID, err := a.db.GetUserByPhone(phoneNumber)
	if err != nil {
		return nil, false, nil
	}
	return userID, true, nil
}

// RegisterUser creates a new user with their cryptographic keys
func (a *AuthService) RegisterUser(phoneNumber, displayName, identityKey, signedPrekey, prekeySignature string) (*uuid.UUID, error) {
	return a.db.CreateUser(phoneNumber, displayName, identityKey, signedPrekey, prekeySignature)
}

// RevokeAllUserTokens revokes all active sessions for a user
func (a *AuthService) RevokeAllUserTokens(userID uuid.UUID) error {
	return a.db.RevokeAllUserSessions(userID)
}

// ============================================
// TOKEN BLACKLISTING (Session Security)
// ============================================

func (a *AuthService) BlacklistToken(tokenString string, reason string) error {
	a.blacklistLock.Lock()
	defer a.blacklistLock.Unlock()

	tokenHash := hashTokenForBlacklist(tokenString)
	ctx := context.Background()
	err := a.redisClient.Set(ctx, fmt.Sprintf("blacklist:%s", tokenHash), reason, 7*24*time.Hour).Err()
	if err != nil {
		a.securityLogger.Printf("Failed to blacklist token %s: %v", tokenHash[:8], err)
		return fmt.Errorf("failed to blacklist token: %w", err)
	}

	a.securityLogger.Printf("Token blacklisted: %s (reason: %s)", tokenHash[:8], reason)
	return nil
}

func (a *AuthService) IsTokenBlacklisted(tokenString string) (bool, string, error) {
	a.blacklistLock.RLock()
	defer a.blacklistLock.RUnlock()

	tokenHash := hashTokenForBlacklist(tokenString)
	ctx := context.Background()
	reason, err := a.redisClient.Get(ctx, fmt.Sprintf("blacklist:%s", tokenHash)).Result()
	if err == redis.Nil {
		return false, "", nil
	} else if err != nil {
		a.securityLogger.Printf("Error checking token blacklist: %v", err)
		return false, "", fmt.Errorf("failed to check token blacklist: %w", err)
	}

	a.securityLogger.Printf("Blacklisted token detected: %s (reason: %s)", tokenHash[:8], reason)
	return true, reason, nil
}

func (a *AuthService) BlacklistUserTokens(userID uuid.UUID, reason string) error {
	a.blacklistLock.Lock()
	defer a.blacklistLock.Unlock()

	if err := a.RevokeAllUserTokens(userID); err != nil {
		a.securityLogger.Printf("Failed to revoke user sessions before blacklisting: %v", err)
	}

	rows, err := a.db.GetDB().Query(`
		SELECT token_hash FROM sessions
		WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > NOW()
	`, userID)
	if err != nil {
		return fmt.Errorf("failed to retrieve user sessions: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("Warning: failed to close rows: %v", err)
		}
	}()

	ctx := context.Background()
	for rows.Next() {
		var tokenHash string
		if err := rows.Scan(&tokenHash); err != nil {
			continue
		}
		err := a.redisClient.Set(ctx, fmt.Sprintf("blacklist:%s", tokenHash), reason, 7*24*time.Hour).Err()
		if err != nil {
			a.securityLogger.Printf("Failed to blacklist user token %s: %v", tokenHash[:8], err)
		} else {
			a.securityLogger.Printf("User token blacklisted: %s (reason: %s)", tokenHash[:8], reason)
		}
	}

	return nil
}

func (a *AuthService) CheckTokenSecurity(tokenString string) error {
	isBlacklisted, reason, err := a.IsTokenBlacklisted(tokenString)
	if err != nil {
		a.securityLogger.Printf("Token security check failed: %v", err)
		return fmt.Errorf("token security check failed: %w", err)
	}
	if isBlacklisted {
		a.securityLogger.Printf("Security violation: Blacklisted token used (reason: %s)", reason)
		return ErrTokenBlacklisted
	}
	return nil
}

func hashTokenForBlacklist(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

func (a *AuthService) GetBlacklistedTokenCount() (int64, error) {
	ctx := context.Background()
	keys, err := a.redisClient.Keys(ctx, "blacklist:*").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count blacklisted tokens: %w", err)
	}
	return int64(len(keys)), nil
}

func (a *AuthService) ClearExpiredBlacklistEntries() error {
	// Redis TTL handles expiry; nothing to sweep manually.
	return nil
}

func generateCode(length int) (string, error) {
	const digits = "0123456789"
	code := make([]byte, length)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(digits))))
		if err != nil {
			return "", err
		}
		code[i] = digits[n.Int64()]
	}
	return string(code), nil
}

func hashToken(token string) string {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		salt = []byte(fmt.Sprintf("%d", time.Now().UnixNano()))
	}
	saltedToken := append([]byte(token), salt...)
	hash := sha256.Sum256(saltedToken)
	finalHash := append(hash[:], salt...)
	return hex.EncodeToString(finalHash)
}
