package auth

import "errors"

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email is already registered")
	ErrUserNotFound       = errors.New("user not found")

	// Rotation rejections, in the order the rotator evaluates them.
	ErrTokenMalformed        = errors.New("access token is malformed")
	ErrInvalidSignature      = errors.New("access token signature is invalid")
	ErrUnsupportedAlgorithm  = errors.New("access token signing algorithm is not allowed")
	ErrAccessTokenNotExpired = errors.New("access token has not expired yet")
	ErrRefreshTokenNotFound  = errors.New("refresh token does not exist")
	ErrRefreshTokenUsed      = errors.New("refresh token has already been used")
	ErrRefreshTokenRevoked   = errors.New("refresh token has been revoked")
	ErrRefreshTokenExpired   = errors.New("refresh token has expired")
	ErrRefreshTokenMismatch  = errors.New("refresh token is bound to a different access token")

	// ErrUserIntegrity means a refresh record outlived its owner. That is a
	// data integrity fault, never a client error.
	ErrUserIntegrity = errors.New("refresh token owner no longer exists")
)

var rotationRejections = []error{
	ErrTokenMalformed,
	ErrInvalidSignature,
	ErrUnsupportedAlgorithm,
	ErrAccessTokenNotExpired,
	ErrRefreshTokenNotFound,
	ErrRefreshTokenUsed,
	ErrRefreshTokenRevoked,
	ErrRefreshTokenExpired,
	ErrRefreshTokenMismatch,
}

// IsRotationRejection reports whether err is an ordinary validation rejection
// of the rotation state machine, as opposed to a persistence or integrity
// failure. Rejections surface to clients as a uniform "invalid tokens"
// response; everything else is a 500.
func IsRotationRejection(err error) bool {
	for _, rejection := range rotationRejections {
		if errors.Is(err, rejection) {
			return true
		}
	}
	return false
}
