package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultAccessTTL    = 15 * time.Minute
	defaultRefreshTTL   = 7 * 24 * time.Hour
	defaultRefreshBytes = 18
	defaultMaxAttempts  = 5
	defaultLockWindow   = 15 * time.Minute
)

type Service struct {
	store        Store
	codec        *Codec
	accessTTL    time.Duration
	refreshTTL   time.Duration
	refreshBytes int
	maxAttempts  int
	lockDuration time.Duration
}

func NewService(store Store, jwtSecret string) *Service {
	return &Service{
		store:        store,
		codec:        NewCodec(jwtSecret),
		accessTTL:    defaultAccessTTL,
		refreshTTL:   defaultRefreshTTL,
		refreshBytes: defaultRefreshBytes,
		maxAttempts:  defaultMaxAttempts,
		lockDuration: defaultLockWindow,
	}
}

func (s *Service) WithSecurityConfig(maxAttempts int, lockDuration, accessTTL, refreshTTL time.Duration, refreshBytes int) {
	if maxAttempts > 0 {
		s.maxAttempts = maxAttempts
	}
	if lockDuration > 0 {
		s.lockDuration = lockDuration
	}
	if accessTTL > 0 {
		s.accessTTL = accessTTL
	}
	if refreshTTL > 0 {
		s.refreshTTL = refreshTTL
	}
	if refreshBytes > 0 {
		s.refreshBytes = refreshBytes
	}
}

func (s *Service) Register(ctx context.Context, username, email, password string) (AuthResult, error) {
	username = strings.TrimSpace(strings.ToLower(username))
	email = strings.TrimSpace(strings.ToLower(email))

	_, err := s.store.FindUserByEmail(ctx, email)
	if err == nil {
		return AuthResult{}, ErrEmailTaken
	}
	if !errors.Is(err, ErrUserNotFound) {
		return AuthResult{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return AuthResult{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.store.CreateUser(ctx, username, email, string(hash))
	if err != nil {
		return AuthResult{}, err
	}

	return s.Issue(ctx, user.ID, user.Email)
}

func (s *Service) Login(ctx context.Context, email, password string) (AuthResult, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	password = strings.TrimSpace(password)

	if email == "" || password == "" {
		return AuthResult{}, ErrInvalidCredentials
	}

	now := time.Now().UTC()
	attempt, err := s.store.GetLoginAttempt(ctx, email)
	if err != nil {
		return AuthResult{}, err
	}
	if attempt.LockedUntil != nil && now.Before(*attempt.LockedUntil) {
		return AuthResult{}, ErrLoginLocked{Until: *attempt.LockedUntil}
	}

	user, err := s.store.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return AuthResult{}, s.failLogin(ctx, email, now)
		}
		return AuthResult{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return AuthResult{}, s.failLogin(ctx, email, now)
	}

	if err := s.store.ResetLoginAttempt(ctx, email); err != nil {
		return AuthResult{}, err
	}

	return s.Issue(ctx, user.ID, user.Email)
}

func (s *Service) failLogin(ctx context.Context, email string, now time.Time) error {
	lockedUntil, err := s.store.RegisterFailedAttempt(ctx, email, s.maxAttempts, s.lockDuration, now)
	if err != nil {
		return err
	}
	if lockedUntil != nil {
		return ErrLoginLocked{Until: *lockedUntil}
	}
	return ErrInvalidCredentials
}

// Issue mints a fresh access/refresh pair for a user and persists the refresh
// record bound to the access token's jti.
func (s *Service) Issue(ctx context.Context, userID, email string) (AuthResult, error) {
	access, jti, err := s.codec.Encode(userID, email, s.accessTTL)
	if err != nil {
		return AuthResult{}, fmt.Errorf("sign access token: %w", err)
	}

	refresh, err := s.newRefreshString()
	if err != nil {
		return AuthResult{}, fmt.Errorf("generate refresh token: %w", err)
	}

	recordID, err := uuid.NewV7()
	if err != nil {
		return AuthResult{}, fmt.Errorf("generate refresh record id: %w", err)
	}

	now := time.Now().UTC()
	record := RefreshTokenRecord{
		ID:        recordID.String(),
		UserID:    userID,
		Token:     refresh,
		JwtID:     jti,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.refreshTTL),
	}
	if err := s.store.InsertRefreshToken(ctx, record); err != nil {
		return AuthResult{}, err
	}

	return AuthResult{
		Token:        access,
		RefreshToken: refresh,
		Success:      true,
	}, nil
}

// Rotate exchanges an expired access token plus its unused refresh token for
// a brand-new pair. Checks run in a fixed order and short-circuit on the
// first failure; every rejection satisfies IsRotationRejection.
func (s *Service) Rotate(ctx context.Context, accessToken, refreshToken string) (AuthResult, error) {
	claims, err := s.codec.Decode(strings.TrimSpace(accessToken))
	if err != nil {
		return AuthResult{}, err
	}

	// Rotation is only for tokens that have already expired. A still-valid
	// access token has no business being exchanged.
	if claims.ExpiresAt == nil {
		return AuthResult{}, ErrTokenMalformed
	}
	now := time.Now().UTC()
	if claims.ExpiresAt.Time.After(now) {
		return AuthResult{}, ErrAccessTokenNotExpired
	}

	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return AuthResult{}, ErrRefreshTokenNotFound
	}

	record, err := s.store.FindRefreshTokenByString(ctx, refreshToken)
	if err != nil {
		return AuthResult{}, err
	}

	if record.IsUsed {
		return AuthResult{}, ErrRefreshTokenUsed
	}
	if record.IsRevoked {
		return AuthResult{}, ErrRefreshTokenRevoked
	}
	if now.After(record.ExpiresAt) {
		return AuthResult{}, ErrRefreshTokenExpired
	}
	if record.JwtID != claims.ID {
		return AuthResult{}, ErrRefreshTokenMismatch
	}

	// The conditional update is the point that decides a race between two
	// concurrent rotations of the same token: exactly one caller sees
	// claimed=true.
	claimed, err := s.store.MarkRefreshTokenUsed(ctx, refreshToken)
	if err != nil {
		return AuthResult{}, err
	}
	if !claimed {
		return AuthResult{}, ErrRefreshTokenUsed
	}

	user, err := s.store.FindUserByID(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return AuthResult{}, fmt.Errorf("%w: user %s", ErrUserIntegrity, record.UserID)
		}
		return AuthResult{}, err
	}

	// If issuance fails past this point the old token stays consumed, which
	// keeps single-use intact; the caller re-authenticates from scratch.
	return s.Issue(ctx, user.ID, user.Email)
}

// newRefreshString builds the opaque refresh token: a crypto/rand hex block
// of fixed length plus a UUID suffix.
func (s *Service) newRefreshString() (string, error) {
	b := make([]byte, s.refreshBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b) + uuid.NewString(), nil
}

type ErrLoginLocked struct {
	Until time.Time
}

func (e ErrLoginLocked) Error() string {
	return "login temporarily locked"
}
