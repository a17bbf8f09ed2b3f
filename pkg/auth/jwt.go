package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/khryptorgraphics/a2a-memory-core/internal/config"
)

// JWTService issues and validates the tokens that assert an agent's
// identity and role for inbound API calls.
type JWTService struct {
	privateKey    *rsa.PrivateKey
	publicKey     *rsa.PublicKey
	issuer        string
	audience      string
	expiration    time.Duration
	refreshExpiry time.Duration
}

// Claims is the JWT payload identifying an agent and its role (spec §4.7
// accessControl roles feed through here into pkg/memory's RBAC checks).
type Claims struct {
	AgentID  string            `json:"agent_id"`
	Role     string            `json:"role"`
	Metadata map[string]string `json:"metadata"`
	jwt.RegisteredClaims
}

// TokenPair is an access/refresh token issued to an agent.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	TokenType    string    `json:"token_type"`
}

// NewJWTService generates an RSA keypair and configures a JWTService from
// cfg (nil uses the package defaults).
func NewJWTService(cfg *config.JWTConfig) (*JWTService, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate RSA key: %w", err)
	}

	svc := &JWTService{
		privateKey:    privateKey,
		publicKey:     &privateKey.PublicKey,
		issuer:        "a2a-memory-core",
		audience:      "a2a-memory-agents",
		expiration:    24 * time.Hour,
		refreshExpiry: 7 * 24 * time.Hour,
	}

	if cfg != nil {
		if cfg.Issuer != "" {
			svc.issuer = cfg.Issuer
		}
		if cfg.Audience != "" {
			svc.audience = cfg.Audience
		}
		if cfg.ExpiryTime > 0 {
			svc.expiration = cfg.ExpiryTime
		}
		if cfg.RefreshTime > 0 {
			svc.refreshExpiry = cfg.RefreshTime
		}
	}

	return svc, nil
}

// GenerateToken issues an access/refresh token pair for agentID under role.
func (j *JWTService) GenerateToken(agentID, role string) (*TokenPair, error) {
	now := time.Now()
	expiresAt := now.Add(j.expiration)
	refreshExpiresAt := now.Add(j.refreshExpiry)

	claims := &Claims{
		AgentID:  agentID,
		Role:     role,
		Metadata: make(map[string]string),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    j.issuer,
			Subject:   agentID,
			Audience:  []string{j.audience},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        fmt.Sprintf("%s_%d", agentID, now.Unix()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	accessToken, err := token.SignedString(j.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	refreshClaims := &Claims{
		AgentID: agentID,
		Role:    role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    j.issuer,
			Subject:   agentID,
			Audience:  []string{j.audience + "-refresh"},
			ExpiresAt: jwt.NewNumericDate(refreshExpiresAt),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        fmt.Sprintf("%s_refresh_%d", agentID, now.Unix()),
		},
	}
	refreshToken := jwt.NewWithClaims(jwt.SigningMethodRS256, refreshClaims)
	refreshTokenString, err := refreshToken.SignedString(j.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshTokenString,
		ExpiresAt:    expiresAt,
		TokenType:    "Bearer",
	}, nil
}

// ValidateToken parses and verifies tokenString, rejecting expired tokens
// and any signing method that is not an RSA method (RS256/RS384/RS512).
func (j *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.publicKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Time.Before(time.Now()) {
		return nil, errors.New("token has expired")
	}
	return claims, nil
}

// RefreshToken issues a new access/refresh pair from a valid refresh token.
func (j *JWTService) RefreshToken(refreshTokenString string) (*TokenPair, error) {
	claims, err := j.ValidateToken(refreshTokenString)
	if err != nil {
		return nil, fmt.Errorf("invalid refresh token: %w", err)
	}
	if len(claims.Audience) == 0 || claims.Audience[0] != j.audience+"-refresh" {
		return nil, errors.New("not a refresh token")
	}
	return j.GenerateToken(claims.AgentID, claims.Role)
}

// GetPublicKey returns the public key for external token verification.
func (j *JWTService) GetPublicKey() *rsa.PublicKey {
	return j.publicKey
}

// SetPrivateKey installs a custom keypair, for tests or externally managed keys.
func (j *JWTService) SetPrivateKey(key *rsa.PrivateKey) {
	j.privateKey = key
	j.publicKey = &key.PublicKey
}

// GetMetadata safely retrieves a metadata value.
func (c *Claims) GetMetadata(key string) (string, bool) {
	if c.Metadata == nil {
		return "", false
	}
	v, ok := c.Metadata[key]
	return v, ok
}

// SetMetadata safely sets a metadata value.
func (c *Claims) SetMetadata(key, value string) {
	if c.Metadata == nil {
		c.Metadata = make(map[string]string)
	}
	c.Metadata[key] = value
}

// Predefined roles, matching the roles a memory.NamespacePolicy lists in
// its AllowedRoles table.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleAgent    = "agent"
	RoleReadonly = "readonly"
)
