package auth

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// fakeStore is an in-memory Store with the same race semantics as the
// Postgres repository: MarkRefreshTokenUsed is the atomic decision point.
type fakeStore struct {
	mu       sync.Mutex
	users    map[string]User
	byEmail  map[string]string
	records  map[string]RefreshTokenRecord
	attempts map[string]LoginAttempt

	insertCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    make(map[string]User),
		byEmail:  make(map[string]string),
		records:  make(map[string]RefreshTokenRecord),
		attempts: make(map[string]LoginAttempt),
	}
}

func (f *fakeStore) CreateUser(_ context.Context, username, email, passwordHash string) (User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now().UTC()
	user := User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	f.users[user.ID] = user
	f.byEmail[email] = user.ID

	return user, nil
}

func (f *fakeStore) FindUserByEmail(_ context.Context, email string) (User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id, ok := f.byEmail[email]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return f.users[id], nil
}

func (f *fakeStore) FindUserByID(_ context.Context, id string) (User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	user, ok := f.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (f *fakeStore) deleteUser(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if user, ok := f.users[id]; ok {
		delete(f.byEmail, user.Email)
		delete(f.users, id)
	}
}

func (f *fakeStore) InsertRefreshToken(_ context.Context, record RefreshTokenRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.insertCalls++
	f.records[record.Token] = record

	return nil
}

func (f *fakeStore) FindRefreshTokenByString(_ context.Context, token string) (RefreshTokenRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	record, ok := f.records[token]
	if !ok {
		return RefreshTokenRecord{}, ErrRefreshTokenNotFound
	}
	return record, nil
}

func (f *fakeStore) MarkRefreshTokenUsed(_ context.Context, token string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	record, ok := f.records[token]
	if !ok || record.IsUsed || record.IsRevoked {
		return false, nil
	}
	record.IsUsed = true
	f.records[token] = record

	return true, nil
}

func (f *fakeStore) setRecord(token string, mutate func(*RefreshTokenRecord)) {
	f.mu.Lock()
	defer f.mu.Unlock()

	record := f.records[token]
	mutate(&record)
	f.records[token] = record
}

func (f *fakeStore) record(token string) (RefreshTokenRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	record, ok := f.records[token]
	return record, ok
}

func (f *fakeStore) GetLoginAttempt(_ context.Context, email string) (LoginAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	attempt, ok := f.attempts[email]
	if !ok {
		return LoginAttempt{Email: email}, nil
	}
	return attempt, nil
}

func (f *fakeStore) RegisterFailedAttempt(_ context.Context, email string, maxAttempts int, lockDuration time.Duration, now time.Time) (*time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	attempt := f.attempts[email]
	attempt.Email = email

	if attempt.LockedUntil != nil && now.Before(*attempt.LockedUntil) {
		until := *attempt.LockedUntil
		return &until, nil
	}

	attempt.FailedAttempts++
	var nextLock *time.Time
	if attempt.FailedAttempts >= maxAttempts {
		until := now.Add(lockDuration)
		attempt.LockedUntil = &until
		attempt.FailedAttempts = 0
		nextLock = &until
	}
	f.attempts[email] = attempt

	return nextLock, nil
}

func (f *fakeStore) ResetLoginAttempt(_ context.Context, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.attempts, email)
	return nil
}
