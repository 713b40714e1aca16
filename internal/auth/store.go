package auth

import (
	"context"
	"time"
)

// Store is the persistence surface the auth service needs. The Postgres
// Repository implements it; tests run against an in-memory fake.
type Store interface {
	CreateUser(ctx context.Context, username, email, passwordHash string) (User, error)
	FindUserByEmail(ctx context.Context, email string) (User, error)
	FindUserByID(ctx context.Context, id string) (User, error)

	InsertRefreshToken(ctx context.Context, record RefreshTokenRecord) error
	FindRefreshTokenByString(ctx context.Context, token string) (RefreshTokenRecord, error)
	// MarkRefreshTokenUsed atomically flips is_used on an unused record. It
	// returns false when the record was already used, which is how exactly
	// one of two racing rotations wins.
	MarkRefreshTokenUsed(ctx context.Context, token string) (bool, error)

	GetLoginAttempt(ctx context.Context, email string) (LoginAttempt, error)
	RegisterFailedAttempt(ctx context.Context, email string, maxAttempts int, lockDuration time.Duration, now time.Time) (*time.Time, error)
	ResetLoginAttempt(ctx context.Context, email string) error
}
