// ABOUTME: Shared-secret and JWT verification for agent callback requests
// ABOUTME: Lenient by default; strict mode rejects missing credentials

package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verification errors
var (
	ErrSecretMismatch = errors.New("secret mismatch")
	ErrSecretRequired = errors.New("secret required")
	ErrInvalidToken   = errors.New("invalid token")
	ErrExpiredToken   = errors.New("token expired")
)

// CallbackVerifier authorizes the remote agent's callback deliveries.
// A presented secret must always match, but an absent secret is accepted
// unless strict mode is on. The lenient default mirrors how development
// deployments call back without credentials; production configs set
// require_secret.
type CallbackVerifier struct {
	secret  []byte
	require bool
}

// NewCallbackVerifier creates a verifier for the configured shared secret.
// An empty secret disables checking entirely.
func NewCallbackVerifier(secret string, require bool) *CallbackVerifier {
	return &CallbackVerifier{secret: []byte(secret), require: require}
}

// Verify checks the secret presented with a callback. A presented secret
// is compared in constant time. An empty presented secret passes in
// lenient mode and fails in strict mode. Bearer tokens (signed JWTs over
// the same shared secret) are accepted wherever a plain secret is.
func (v *CallbackVerifier) Verify(presented string) error {
	if len(v.secret) == 0 {
		return nil
	}

	if presented == "" {
		if v.require {
			return ErrSecretRequired
		}
		return nil
	}

	if subtle.ConstantTimeCompare(v.secret, []byte(presented)) == 1 {
		return nil
	}

	// Not the plain secret; maybe a signed token over it
	if err := v.verifyToken(presented); err == nil {
		return nil
	}

	return ErrSecretMismatch
}

// verifyToken validates an HS256 JWT signed with the shared secret.
func (v *CallbackVerifier) verifyToken(tokenString string) error {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpiredToken
		}
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return ErrInvalidToken
	}

	return nil
}

// GenerateToken creates a short-lived HS256 token over the shared secret,
// for agents that prefer bearer-style callbacks over embedding the raw
// secret in every request body.
func (v *CallbackVerifier) GenerateToken(subject string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(expiresIn).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
