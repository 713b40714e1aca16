package auth

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Repository struct {
	db *sql.DB
}

type CleanupResult struct {
	DeletedRefreshTokens int64 `json:"deleted_refresh_tokens"`
	DeletedLoginAttempts int64 `json:"deleted_login_attempts"`
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateUser(ctx context.Context, username, email, passwordHash string) (User, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return User{}, fmt.Errorf("generate user id: %w", err)
	}

	now := time.Now().UTC()
	user := User{
		ID:           id.String(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO users (id, username, email, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
	`, user.ID, user.Username, user.Email, user.PasswordHash, now)
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}

	return user, nil
}

func (r *Repository) FindUserByEmail(ctx context.Context, email string) (User, error) {
	return r.findUser(ctx, `
		SELECT id, username, email, password_hash, created_at, updated_at
		FROM users
		WHERE email = $1
	`, email)
}

func (r *Repository) FindUserByID(ctx context.Context, id string) (User, error) {
	return r.findUser(ctx, `
		SELECT id, username, email, password_hash, created_at, updated_at
		FROM users
		WHERE id = $1
	`, id)
}

func (r *Repository) findUser(ctx context.Context, query, arg string) (User, error) {
	var user User
	err := r.db.QueryRowContext(ctx, query, arg).
		Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("query user: %w", err)
	}

	return user, nil
}

func (r *Repository) InsertRefreshToken(ctx context.Context, record RefreshTokenRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO auth_refresh_tokens (id, user_id, token_hash, jwt_id, is_used, is_revoked, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, record.ID, record.UserID, hashToken(record.Token), record.JwtID,
		record.IsUsed, record.IsRevoked, record.IssuedAt.UTC(), record.ExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}

	return nil
}

func (r *Repository) FindRefreshTokenByString(ctx context.Context, token string) (RefreshTokenRecord, error) {
	var record RefreshTokenRecord
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, jwt_id, is_used, is_revoked, issued_at, expires_at
		FROM auth_refresh_tokens
		WHERE token_hash = $1
	`, hashToken(token)).
		Scan(&record.ID, &record.UserID, &record.JwtID, &record.IsUsed, &record.IsRevoked, &record.IssuedAt, &record.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RefreshTokenRecord{}, ErrRefreshTokenNotFound
		}
		return RefreshTokenRecord{}, fmt.Errorf("query refresh token: %w", err)
	}
	record.Token = token

	return record, nil
}

// MarkRefreshTokenUsed flips is_used in a single conditional statement. Two
// concurrent rotations of the same token both reach this update; the row lock
// serializes them and the is_used predicate lets only the first through.
func (r *Repository) MarkRefreshTokenUsed(ctx context.Context, token string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE auth_refresh_tokens
		SET is_used = TRUE
		WHERE token_hash = $1 AND is_used = FALSE AND is_revoked = FALSE
	`, hashToken(token))
	if err != nil {
		return false, fmt.Errorf("mark refresh token used: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark refresh token rows affected: %w", err)
	}

	return affected == 1, nil
}

func (r *Repository) RevokeRefreshTokensForUser(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE auth_refresh_tokens
		SET is_revoked = TRUE
		WHERE user_id = $1 AND is_used = FALSE AND is_revoked = FALSE
	`, userID)
	if err != nil {
		return fmt.Errorf("revoke refresh tokens: %w", err)
	}

	return nil
}

func (r *Repository) GetLoginAttempt(ctx context.Context, email string) (LoginAttempt, error) {
	var attempt LoginAttempt
	attempt.Email = email

	var lockedUntil sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT failed_attempts, locked_until
		FROM auth_login_attempts
		WHERE email = $1
	`, email).Scan(&attempt.FailedAttempts, &lockedUntil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return attempt, nil
		}
		return LoginAttempt{}, fmt.Errorf("query login attempt: %w", err)
	}
	if lockedUntil.Valid {
		value := lockedUntil.Time.UTC()
		attempt.LockedUntil = &value
	}

	return attempt, nil
}

func (r *Repository) RegisterFailedAttempt(ctx context.Context, email string, maxAttempts int, lockDuration time.Duration, now time.Time) (*time.Time, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin login attempt tx: %w", err)
	}
	defer tx.Rollback()

	var failed int
	var lockedUntil sql.NullTime
	err = tx.QueryRowContext(ctx, `
		SELECT failed_attempts, locked_until
		FROM auth_login_attempts
		WHERE email = $1
		FOR UPDATE
	`, email).Scan(&failed, &lockedUntil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			failed = 0
			lockedUntil = sql.NullTime{}
		} else {
			return nil, fmt.Errorf("lock login attempt row: %w", err)
		}
	}

	if lockedUntil.Valid && now.Before(lockedUntil.Time) {
		until := lockedUntil.Time.UTC()
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit existing lock tx: %w", err)
		}
		return &until, nil
	}

	failed++
	var nextLock *time.Time
	var nextLockValue any = nil
	if failed >= maxAttempts {
		until := now.UTC().Add(lockDuration)
		nextLock = &until
		nextLockValue = until
		failed = 0
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO auth_login_attempts (email, failed_attempts, locked_until, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (email)
		DO UPDATE SET
			failed_attempts = EXCLUDED.failed_attempts,
			locked_until = EXCLUDED.locked_until,
			updated_at = EXCLUDED.updated_at
	`, email, failed, nextLockValue, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("upsert failed login attempt: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit login attempt tx: %w", err)
	}

	return nextLock, nil
}

func (r *Repository) ResetLoginAttempt(ctx context.Context, email string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM auth_login_attempts
		WHERE email = $1
	`, email)
	if err != nil {
		return fmt.Errorf("reset login attempts: %w", err)
	}

	return nil
}

// CleanupStaleAuthData removes refresh records and lockout rows that are long
// past any use. The rotation flow itself never deletes; this runs from the
// maintenance endpoint only.
func (r *Repository) CleanupStaleAuthData(ctx context.Context, refreshRetention, loginAttemptRetention time.Duration, batchSize int) (CleanupResult, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	if refreshRetention <= 0 {
		refreshRetention = 14 * 24 * time.Hour
	}
	if loginAttemptRetention <= 0 {
		loginAttemptRetention = 30 * 24 * time.Hour
	}

	refreshCutoff := time.Now().UTC().Add(-refreshRetention)
	loginCutoff := time.Now().UTC().Add(-loginAttemptRetention)

	deletedRefreshTokens, err := r.deleteStaleRefreshTokens(ctx, refreshCutoff, batchSize)
	if err != nil {
		return CleanupResult{}, err
	}

	deletedLoginAttempts, err := r.deleteStaleLoginAttempts(ctx, loginCutoff, batchSize)
	if err != nil {
		return CleanupResult{}, err
	}

	return CleanupResult{
		DeletedRefreshTokens: deletedRefreshTokens,
		DeletedLoginAttempts: deletedLoginAttempts,
	}, nil
}

func (r *Repository) deleteStaleRefreshTokens(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT id
			FROM auth_refresh_tokens
			WHERE expires_at < $1
			ORDER BY issued_at ASC
			LIMIT $2
		)
		DELETE FROM auth_refresh_tokens t
		USING stale
		WHERE t.id = stale.id
	`, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete stale refresh tokens: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale refresh tokens rows affected: %w", err)
	}

	return affected, nil
}

func (r *Repository) deleteStaleLoginAttempts(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT email
			FROM auth_login_attempts
			WHERE updated_at < $1
			  AND (locked_until IS NULL OR locked_until < NOW())
			ORDER BY updated_at ASC
			LIMIT $2
		)
		DELETE FROM auth_login_attempts t
		USING stale
		WHERE t.email = stale.email
	`, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete stale login attempts: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale login attempts rows affected: %w", err)
	}

	return affected, nil
}

// hashToken is how refresh tokens are stored at rest; raw strings never
// touch the database.
func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
