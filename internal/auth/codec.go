package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Codec signs and parses HS256 access tokens. It deliberately skips claims
// validation on decode: rotation has to read the claims of a token that is
// already expired, so expiry is the caller's check, not the codec's.
type Codec struct {
	secret []byte
}

func NewCodec(secret string) *Codec {
	return &Codec{secret: []byte(secret)}
}

// Encode signs an access token for the given user and returns the compact
// token together with its jti.
func (c *Codec) Encode(userID, email string, ttl time.Duration) (string, string, error) {
	now := time.Now().UTC()
	jti := uuid.NewString()

	claims := Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", "", err
	}

	return signed, jti, nil
}

// Decode verifies the signature and structure of an access token and returns
// its claims. Expired tokens decode successfully.
func (c *Codec) Decode(signed string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(signed, claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, ErrUnsupportedAlgorithm
		}
		return c.secret, nil
	}, jwt.WithoutClaimsValidation())
	if err != nil {
		switch {
		case errors.Is(err, ErrUnsupportedAlgorithm):
			return nil, ErrUnsupportedAlgorithm
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrInvalidSignature
		default:
			return nil, ErrTokenMalformed
		}
	}
	if !token.Valid {
		return nil, ErrInvalidSignature
	}

	return claims, nil
}
