package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khryptorgraphics/a2a-memory-core/internal/config"
)

func TestNewJWTService(t *testing.T) {
	tests := []struct {
		name   string
		config *config.JWTConfig
	}{
		{name: "nil config", config: nil},
		{
			name: "valid config",
			config: &config.JWTConfig{
				Issuer:     "test-issuer",
				ExpiryTime: time.Hour,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, err := NewJWTService(tt.config)
			require.NoError(t, err)
			assert.NotNil(t, service)
			assert.NotNil(t, service.privateKey)
			assert.NotNil(t, service.publicKey)
		})
	}
}

func TestGenerateToken(t *testing.T) {
	service, err := NewJWTService(nil)
	require.NoError(t, err)

	tests := []struct {
		name    string
		agentID string
		role    string
	}{
		{name: "agent token", agentID: "agent-123", role: RoleAgent},
		{name: "admin token", agentID: "admin-123", role: RoleAdmin},
		{name: "empty agent data", agentID: "", role: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokenPair, err := service.GenerateToken(tt.agentID, tt.role)
			require.NoError(t, err)
			assert.NotNil(t, tokenPair)
			assert.NotEmpty(t, tokenPair.AccessToken)
			assert.NotEmpty(t, tokenPair.RefreshToken)
			assert.Equal(t, "Bearer", tokenPair.TokenType)
			assert.True(t, tokenPair.ExpiresAt.After(time.Now()))
		})
	}
}

func TestValidateToken(t *testing.T) {
	service, err := NewJWTService(nil)
	require.NoError(t, err)

	tokenPair, err := service.GenerateToken("agent-test", RoleAgent)
	require.NoError(t, err)

	tests := []struct {
		name        string
		token       string
		expectError bool
		checkClaims func(t *testing.T, claims *Claims)
	}{
		{
			name:  "valid token",
			token: tokenPair.AccessToken,
			checkClaims: func(t *testing.T, claims *Claims) {
				assert.Equal(t, "agent-test", claims.AgentID)
				assert.Equal(t, RoleAgent, claims.Role)
			},
		},
		{name: "invalid token", token: "invalid.token.here", expectError: true},
		{name: "empty token", token: "", expectError: true},
		{name: "malformed token", token: "not.a.jwt", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := service.ValidateToken(tt.token)
			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, claims)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, claims)
			if tt.checkClaims != nil {
				tt.checkClaims(t, claims)
			}
		})
	}
}

func TestRefreshToken(t *testing.T) {
	service, err := NewJWTService(nil)
	require.NoError(t, err)

	tokenPair, err := service.GenerateToken("agent-test", RoleAgent)
	require.NoError(t, err)

	tests := []struct {
		name         string
		refreshToken string
		expectError  bool
	}{
		{name: "valid refresh token", refreshToken: tokenPair.RefreshToken},
		{name: "invalid refresh token", refreshToken: "invalid.token", expectError: true},
		{name: "access token instead of refresh", refreshToken: tokenPair.AccessToken, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			newTokenPair, err := service.RefreshToken(tt.refreshToken)
			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, newTokenPair)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, newTokenPair)
			assert.NotEmpty(t, newTokenPair.AccessToken)
			assert.NotEqual(t, tokenPair.AccessToken, newTokenPair.AccessToken)
		})
	}
}

func TestClaimsMetadata(t *testing.T) {
	claims := &Claims{Role: RoleAdmin, Metadata: make(map[string]string)}

	claims.SetMetadata("test-key", "test-value")
	value, exists := claims.GetMetadata("test-key")
	assert.True(t, exists)
	assert.Equal(t, "test-value", value)

	_, exists = claims.GetMetadata("non-existent-key")
	assert.False(t, exists)
}

func TestTokenExpiration(t *testing.T) {
	cfg := &config.JWTConfig{ExpiryTime: time.Millisecond}
	service, err := NewJWTService(cfg)
	require.NoError(t, err)

	tokenPair, err := service.GenerateToken("agent-test", RoleAgent)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	claims, err := service.ValidateToken(tokenPair.AccessToken)
	assert.Error(t, err)
	assert.Nil(t, claims)
	assert.Contains(t, err.Error(), "expired")
}

func TestPublicKeyAccess(t *testing.T) {
	service, err := NewJWTService(nil)
	require.NoError(t, err)

	publicKey := service.GetPublicKey()
	assert.NotNil(t, publicKey)
	assert.Equal(t, service.publicKey, publicKey)
}

func BenchmarkGenerateToken(b *testing.B) {
	service, err := NewJWTService(nil)
	require.NoError(b, err)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, err := service.GenerateToken("agent-123", RoleAgent)
		require.NoError(b, err)
	}
}

func BenchmarkValidateToken(b *testing.B) {
	service, err := NewJWTService(nil)
	require.NoError(b, err)

	tokenPair, err := service.GenerateToken("agent-123", RoleAgent)
	require.NoError(b, err)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, err := service.ValidateToken(tokenPair.AccessToken)
		require.NoError(b, err)
	}
}
