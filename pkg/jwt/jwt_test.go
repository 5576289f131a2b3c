package jwt

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestNewManager(t *testing.T) {
	secret := "test-secret-key-for-testing-purposes"
	accessExpiry := 15 * time.Minute

	manager := NewManager(secret, accessExpiry)

	assert.NotNil(t, manager)
	assert.Equal(t, secret, manager.secretKey)
	assert.Equal(t, accessExpiry, manager.accessTokenExpiry)
}

func TestGenerateAccessToken(t *testing.T) {
	manager := NewManager("test-secret", 15*time.Minute)
	userID := uuid.New()

	token, err := manager.GenerateAccessToken(userID, "testuser")

	assert.NoError(t, err)
	assert.NotEmpty(t, token)
}

func TestValidateToken_ValidToken(t *testing.T) {
	manager := NewManager("test-secret", 15*time.Minute)
	userID := uuid.New()

	token, err := manager.GenerateAccessToken(userID, "testuser")
	assert.NoError(t, err)

	claims, err := manager.ValidateToken(token)

	assert.NoError(t, err)
	assert.NotNil(t, claims)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "testuser", claims.Username)
	assert.Contains(t, claims.Audience, Audience)
}

func TestValidateToken_ExpiredToken(t *testing.T) {
	manager := NewManager("test-secret", 1*time.Nanosecond)
	userID := uuid.New()

	token, err := manager.GenerateAccessToken(userID, "testuser")
	assert.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	claims, err := manager.ValidateToken(token)

	assert.Error(t, err)
	assert.Nil(t, claims)
	assert.Contains(t, err.Error(), "expired")
}

func TestValidateToken_InvalidToken(t *testing.T) {
	manager := NewManager("test-secret", 15*time.Minute)

	claims, err := manager.ValidateToken("invalid.token.here")

	assert.Error(t, err)
	assert.Nil(t, claims)
}

func TestValidateToken_WrongSecret(t *testing.T) {
	manager1 := NewManager("secret-1", 15*time.Minute)
	userID := uuid.New()
	token, err := manager1.GenerateAccessToken(userID, "testuser")
	assert.NoError(t, err)

	manager2 := NewManager("secret-2", 15*time.Minute)
	claims, err := manager2.ValidateToken(token)

	assert.Error(t, err)
	assert.Nil(t, claims)
}

func TestTokenClaims(t *testing.T) {
	manager := NewManager("test-secret", 15*time.Minute)
	userID := uuid.New()

	token, err := manager.GenerateAccessToken(userID, "testuser")
	assert.NoError(t, err)

	claims, err := manager.ValidateToken(token)
	assert.NoError(t, err)

	assert.Equal(t, userID, claims.UserID)
	assert.NotZero(t, claims.IssuedAt)
	assert.NotZero(t, claims.ExpiresAt)
	assert.True(t, claims.ExpiresAt.After(claims.IssuedAt.Time))
	assert.Equal(t, "comms-auth", claims.Issuer)
	assert.Equal(t, userID.String(), claims.Subject)
}
