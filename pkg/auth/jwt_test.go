package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateValidateRoundtrip(t *testing.T) {
	tokens, err := NewTokens("test-secret")
	require.NoError(t, err)

	signed, err := tokens.Generate("u1", "Ava")
	require.NoError(t, err)

	claims, err := tokens.Validate(signed)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "Ava", claims.DisplayName)
}

func TestValidateRejectsForeignSecret(t *testing.T) {
	issuer, err := NewTokens("secret-a")
	require.NoError(t, err)
	verifier, err := NewTokens("secret-b")
	require.NoError(t, err)

	signed, err := issuer.Generate("u1", "Ava")
	require.NoError(t, err)

	_, err = verifier.Validate(signed)
	assert.Error(t, err)
}

func TestValidateRejectsGarbage(t *testing.T) {
	tokens, err := NewTokens("test-secret")
	require.NoError(t, err)

	_, err = tokens.Validate("not-a-token")
	assert.Error(t, err)
}

func TestNewTokensRequiresSecret(t *testing.T) {
	_, err := NewTokens("")
	assert.Error(t, err)
}
