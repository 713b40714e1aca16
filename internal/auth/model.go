package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Claims are the access-token claims. Subject carries the email and ID the
// jti that binds the token to exactly one refresh record.
type Claims struct {
	UserID string `json:"uid"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// RefreshTokenRecord is the persisted side of a refresh token. Token holds
// the raw opaque string in memory only; at rest the repository stores a hash.
type RefreshTokenRecord struct {
	ID        string
	UserID    string
	Token     string
	JwtID     string
	IsUsed    bool
	IsRevoked bool
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// AuthResult is the response envelope for register, login and refresh.
type AuthResult struct {
	Token        string   `json:"token"`
	RefreshToken string   `json:"refreshToken"`
	Success      bool     `json:"success"`
	Errors       []string `json:"errors,omitempty"`
}

type LoginAttempt struct {
	Email          string
	FailedAttempts int
	LockedUntil    *time.Time
}
