// ABOUTME: Tests for callback secret verification in lenient and strict modes.

package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerify_NoSecretConfigured(t *testing.T) {
	v := NewCallbackVerifier("", false)

	assert.NoError(t, v.Verify(""))
	assert.NoError(t, v.Verify("anything"))
}

func TestVerify_MatchingSecret(t *testing.T) {
	v := NewCallbackVerifier("s3cret", false)
	assert.NoError(t, v.Verify("s3cret"))
}

func TestVerify_Mismatch(t *testing.T) {
	v := NewCallbackVerifier("s3cret", false)
	assert.ErrorIs(t, v.Verify("wrong"), ErrSecretMismatch)
}

func TestVerify_LenientAcceptsAbsent(t *testing.T) {
	v := NewCallbackVerifier("s3cret", false)
	assert.NoError(t, v.Verify(""))
}

func TestVerify_StrictRejectsAbsent(t *testing.T) {
	v := NewCallbackVerifier("s3cret", true)
	assert.ErrorIs(t, v.Verify(""), ErrSecretRequired)
}

func TestVerify_BearerToken(t *testing.T) {
	v := NewCallbackVerifier("s3cret", true)

	token, err := v.GenerateToken("agent", time.Minute)
	require.NoError(t, err)

	assert.NoError(t, v.Verify(token))
}

func TestVerify_ExpiredBearerToken(t *testing.T) {
	v := NewCallbackVerifier("s3cret", true)

	token, err := v.GenerateToken("agent", -time.Minute)
	require.NoError(t, err)

	assert.ErrorIs(t, v.Verify(token), ErrSecretMismatch)
}

func TestVerify_TokenSignedWithOtherSecret(t *testing.T) {
	other := NewCallbackVerifier("different", true)
	token, err := other.GenerateToken("agent", time.Minute)
	require.NoError(t, err)

	v := NewCallbackVerifier("s3cret", true)
	assert.ErrorIs(t, v.Verify(token), ErrSecretMismatch)
}
