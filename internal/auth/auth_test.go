package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateTokenValidCredentials(t *testing.T) {
	svc := NewService("test-secret")
	svc.RegisterAPICredentials(TestAPIKey, TestAPISecret)

	token, err := svc.GenerateToken(Credentials{APIKey: TestAPIKey, APISecret: TestAPISecret})
	require.NoError(t, err)
	assert.NotEmpty(t, token.Token)
	assert.True(t, token.Expiration.After(time.Now()))

	claims, err := svc.ValidateToken(token.Token)
	require.NoError(t, err)
	assert.Equal(t, TestAPIKey, claims.ClientID)
	assert.Contains(t, claims.Permissions, "settle")
}

func TestGenerateTokenInvalidCredentials(t *testing.T) {
	svc := NewService("test-secret")
	svc.RegisterAPICredentials(TestAPIKey, TestAPISecret)

	_, err := svc.GenerateToken(Credentials{APIKey: TestAPIKey, APISecret: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestValidateTokenWrongSecret(t *testing.T) {
	issuer := NewService("secret-a")
	issuer.RegisterAPICredentials(TestAPIKey, TestAPISecret)
	token, err := issuer.GenerateToken(Credentials{APIKey: TestAPIKey, APISecret: TestAPISecret})
	require.NoError(t, err)

	verifier := NewService("secret-b")
	_, err = verifier.ValidateToken(token.Token)
	assert.Error(t, err)
}
