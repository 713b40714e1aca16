package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestService(t *testing.T) (*Service, *fakeStore) {
	t.Helper()

	store := newFakeStore()
	service := NewService(store, testSecret)
	return service, store
}

func seedUser(t *testing.T, store *fakeStore) User {
	t.Helper()

	user, err := store.CreateUser(context.Background(), "tester", "tester@example.com", "$2a$10$hash")
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

// tamper flips the first character of a refresh token to something outside
// the hex alphabet, guaranteeing a different string.
func tamper(token string) string {
	return "z" + token[1:]
}

func TestIssueBindsJtiToRecord(t *testing.T) {
	t.Parallel()

	service, store := newTestService(t)
	user := seedUser(t, store)

	result, err := service.Issue(context.Background(), user.ID, user.Email)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	if !result.Success || result.Token == "" || result.RefreshToken == "" {
		t.Fatalf("unexpected result: %+v", result)
	}

	claims, err := service.codec.Decode(result.Token)
	if err != nil {
		t.Fatalf("decode issued token: %v", err)
	}

	record, ok := store.record(result.RefreshToken)
	if !ok {
		t.Fatal("refresh record not persisted")
	}
	if record.JwtID != claims.ID {
		t.Errorf("record JwtID = %q, want jti %q", record.JwtID, claims.ID)
	}
	if record.UserID != user.ID {
		t.Errorf("record UserID = %q, want %q", record.UserID, user.ID)
	}
	if record.IsUsed || record.IsRevoked {
		t.Errorf("fresh record flags: used=%v revoked=%v", record.IsUsed, record.IsRevoked)
	}
	if !record.ExpiresAt.After(record.IssuedAt) {
		t.Error("record expiry must be after issuance")
	}
}

func TestIssueRefreshStringsAreUnique(t *testing.T) {
	t.Parallel()

	service, store := newTestService(t)
	user := seedUser(t, store)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		result, err := service.Issue(context.Background(), user.ID, user.Email)
		if err != nil {
			t.Fatalf("Issue error: %v", err)
		}
		if seen[result.RefreshToken] {
			t.Fatal("duplicate refresh token string")
		}
		seen[result.RefreshToken] = true
	}
}

func TestRotateLifecycle(t *testing.T) {
	t.Parallel()

	service, store := newTestService(t)
	service.accessTTL = -time.Minute // issue already-expired access tokens
	user := seedUser(t, store)

	first, err := service.Issue(context.Background(), user.ID, user.Email)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	second, err := service.Rotate(context.Background(), first.Token, first.RefreshToken)
	if err != nil {
		t.Fatalf("Rotate error: %v", err)
	}
	if !second.Success {
		t.Fatalf("rotation result not successful: %+v", second)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Error("rotation must produce a new refresh string")
	}

	oldClaims, _ := service.codec.Decode(first.Token)
	newClaims, err := service.codec.Decode(second.Token)
	if err != nil {
		t.Fatalf("decode rotated token: %v", err)
	}
	if newClaims.ID == oldClaims.ID {
		t.Error("rotation must produce a new jti")
	}

	record, _ := store.record(first.RefreshToken)
	if !record.IsUsed {
		t.Error("old record must be marked used")
	}

	_, err = service.Rotate(context.Background(), first.Token, first.RefreshToken)
	if !errors.Is(err, ErrRefreshTokenUsed) {
		t.Fatalf("second rotation err = %v, want ErrRefreshTokenUsed", err)
	}
}

func TestRotateRejectsUnexpiredAccessToken(t *testing.T) {
	t.Parallel()

	service, store := newTestService(t)
	user := seedUser(t, store)

	pair, err := service.Issue(context.Background(), user.ID, user.Email)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	_, err = service.Rotate(context.Background(), pair.Token, pair.RefreshToken)
	if !errors.Is(err, ErrAccessTokenNotExpired) {
		t.Fatalf("err = %v, want ErrAccessTokenNotExpired", err)
	}

	record, _ := store.record(pair.RefreshToken)
	if record.IsUsed {
		t.Error("rejected rotation must not consume the refresh token")
	}
}

func TestRotateUnknownRefreshToken(t *testing.T) {
	t.Parallel()

	service, store := newTestService(t)
	service.accessTTL = -time.Minute
	user := seedUser(t, store)

	pair, err := service.Issue(context.Background(), user.ID, user.Email)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	_, err = service.Rotate(context.Background(), pair.Token, "does-not-exist")
	if !errors.Is(err, ErrRefreshTokenNotFound) {
		t.Fatalf("err = %v, want ErrRefreshTokenNotFound", err)
	}
}

func TestRotateTamperedRefreshToken(t *testing.T) {
	t.Parallel()

	service, store := newTestService(t)
	service.accessTTL = -time.Minute
	user := seedUser(t, store)

	pair, err := service.Issue(context.Background(), user.ID, user.Email)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	_, err = service.Rotate(context.Background(), pair.Token, tamper(pair.RefreshToken))
	if !errors.Is(err, ErrRefreshTokenNotFound) {
		t.Fatalf("err = %v, want ErrRefreshTokenNotFound", err)
	}

	record, _ := store.record(pair.RefreshToken)
	if record.IsUsed {
		t.Error("original record must stay untouched")
	}
}

func TestRotateBindingMismatch(t *testing.T) {
	t.Parallel()

	service, store := newTestService(t)
	service.accessTTL = -time.Minute
	user := seedUser(t, store)

	first, err := service.Issue(context.Background(), user.ID, user.Email)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	second, err := service.Issue(context.Background(), user.ID, user.Email)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	// Access token of the first pair with the refresh token of the second.
	_, err = service.Rotate(context.Background(), first.Token, second.RefreshToken)
	if !errors.Is(err, ErrRefreshTokenMismatch) {
		t.Fatalf("err = %v, want ErrRefreshTokenMismatch", err)
	}

	record, _ := store.record(second.RefreshToken)
	if record.IsUsed {
		t.Error("mismatched rotation must not consume the refresh token")
	}
}

func TestRotateRevokedRefreshToken(t *testing.T) {
	t.Parallel()

	service, store := newTestService(t)
	service.accessTTL = -time.Minute
	user := seedUser(t, store)

	pair, err := service.Issue(context.Background(), user.ID, user.Email)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	store.setRecord(pair.RefreshToken, func(r *RefreshTokenRecord) { r.IsRevoked = true })

	_, err = service.Rotate(context.Background(), pair.Token, pair.RefreshToken)
	if !errors.Is(err, ErrRefreshTokenRevoked) {
		t.Fatalf("err = %v, want ErrRefreshTokenRevoked", err)
	}
}

func TestRotateExpiredRefreshRecord(t *testing.T) {
	t.Parallel()

	service, store := newTestService(t)
	service.accessTTL = -time.Minute
	user := seedUser(t, store)

	pair, err := service.Issue(context.Background(), user.ID, user.Email)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	store.setRecord(pair.RefreshToken, func(r *RefreshTokenRecord) {
		r.ExpiresAt = time.Now().UTC().Add(-time.Hour)
	})

	_, err = service.Rotate(context.Background(), pair.Token, pair.RefreshToken)
	if !errors.Is(err, ErrRefreshTokenExpired) {
		t.Fatalf("err = %v, want ErrRefreshTokenExpired", err)
	}
}

func TestRotateMalformedAccessTokenNoMutation(t *testing.T) {
	t.Parallel()

	service, store := newTestService(t)
	service.accessTTL = -time.Minute
	user := seedUser(t, store)

	pair, err := service.Issue(context.Background(), user.ID, user.Email)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	insertsBefore := store.insertCalls

	_, err = service.Rotate(context.Background(), "not-a-jwt", pair.RefreshToken)
	if !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("err = %v, want ErrTokenMalformed", err)
	}

	record, _ := store.record(pair.RefreshToken)
	if record.IsUsed {
		t.Error("malformed rotation must not consume the refresh token")
	}
	if store.insertCalls != insertsBefore {
		t.Error("malformed rotation must not insert new records")
	}
}

func TestRotateMissingOwnerIsIntegrityFault(t *testing.T) {
	t.Parallel()

	service, store := newTestService(t)
	service.accessTTL = -time.Minute
	user := seedUser(t, store)

	pair, err := service.Issue(context.Background(), user.ID, user.Email)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	store.deleteUser(user.ID)

	_, err = service.Rotate(context.Background(), pair.Token, pair.RefreshToken)
	if !errors.Is(err, ErrUserIntegrity) {
		t.Fatalf("err = %v, want ErrUserIntegrity", err)
	}
	if IsRotationRejection(err) {
		t.Error("integrity faults must not classify as validation rejections")
	}
}

func TestRotateConcurrentSingleWinner(t *testing.T) {
	t.Parallel()

	service, store := newTestService(t)
	service.accessTTL = -time.Minute
	user := seedUser(t, store)

	pair, err := service.Issue(context.Background(), user.ID, user.Email)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	const attempts = 16
	var wg sync.WaitGroup
	results := make([]error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			_, results[slot] = service.Rotate(context.Background(), pair.Token, pair.RefreshToken)
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrRefreshTokenUsed):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if successes != 1 {
		t.Fatalf("successes = %d, want exactly 1", successes)
	}
}

func TestIsRotationRejection(t *testing.T) {
	t.Parallel()

	for _, err := range []error{
		ErrTokenMalformed, ErrInvalidSignature, ErrUnsupportedAlgorithm,
		ErrAccessTokenNotExpired, ErrRefreshTokenNotFound, ErrRefreshTokenUsed,
		ErrRefreshTokenRevoked, ErrRefreshTokenExpired, ErrRefreshTokenMismatch,
	} {
		if !IsRotationRejection(err) {
			t.Errorf("%v should be a rotation rejection", err)
		}
	}

	for _, err := range []error{ErrUserIntegrity, errors.New("db is down"), nil} {
		if IsRotationRejection(err) {
			t.Errorf("%v should not be a rotation rejection", err)
		}
	}
}

func TestRegisterIssuesPair(t *testing.T) {
	t.Parallel()

	service, store := newTestService(t)

	result, err := service.Register(context.Background(), "newuser", "new@example.com", "long-enough-password")
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if !result.Success || result.Token == "" || result.RefreshToken == "" {
		t.Fatalf("unexpected result: %+v", result)
	}

	if _, err := store.FindUserByEmail(context.Background(), "new@example.com"); err != nil {
		t.Fatalf("registered user not stored: %v", err)
	}

	_, err = service.Register(context.Background(), "other", "new@example.com", "long-enough-password")
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("duplicate register err = %v, want ErrEmailTaken", err)
	}
}

func TestLoginFlow(t *testing.T) {
	t.Parallel()

	service, _ := newTestService(t)

	if _, err := service.Register(context.Background(), "loginuser", "login@example.com", "correct-horse-battery"); err != nil {
		t.Fatalf("Register error: %v", err)
	}

	result, err := service.Login(context.Background(), "login@example.com", "correct-horse-battery")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}
	if !result.Success {
		t.Fatalf("unexpected result: %+v", result)
	}

	if _, err := service.Login(context.Background(), "login@example.com", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password err = %v, want ErrInvalidCredentials", err)
	}
	if _, err := service.Login(context.Background(), "nobody@example.com", "whatever-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown user err = %v, want ErrInvalidCredentials", err)
	}
}

func TestLoginLockoutAfterRepeatedFailures(t *testing.T) {
	t.Parallel()

	service, _ := newTestService(t)
	service.maxAttempts = 3

	if _, err := service.Register(context.Background(), "lockuser", "lock@example.com", "correct-horse-battery"); err != nil {
		t.Fatalf("Register error: %v", err)
	}

	var lastErr error
	for i := 0; i < 3; i++ {
		_, lastErr = service.Login(context.Background(), "lock@example.com", "wrong-password")
	}

	var locked ErrLoginLocked
	if !errors.As(lastErr, &locked) {
		t.Fatalf("err = %v, want ErrLoginLocked", lastErr)
	}
	if !locked.Until.After(time.Now()) {
		t.Error("lock must extend into the future")
	}

	// Even the correct password is rejected while the lock holds.
	_, err := service.Login(context.Background(), "lock@example.com", "correct-horse-battery")
	if !errors.As(err, &locked) {
		t.Fatalf("locked login err = %v, want ErrLoginLocked", err)
	}
}

func TestRefreshStringShape(t *testing.T) {
	t.Parallel()

	service, _ := newTestService(t)
	service.refreshBytes = 18

	value, err := service.newRefreshString()
	if err != nil {
		t.Fatalf("newRefreshString error: %v", err)
	}

	// 18 random bytes hex-encoded plus a 36-character uuid suffix.
	if len(value) != 36+36 {
		t.Fatalf("len = %d, want 72", len(value))
	}
	if strings.Contains(value[:36], "-") {
		t.Error("hex block must not contain uuid separators")
	}
}
