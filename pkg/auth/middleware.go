package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Middleware provides JWT authentication and role-gating for gin routes.
type Middleware struct {
	jwtService *JWTService
	registry   *Registry
}

// NewMiddleware creates an auth middleware backed by svc and registry.
func NewMiddleware(svc *JWTService, registry *Registry) *Middleware {
	return &Middleware{jwtService: svc, registry: registry}
}

// RequireAuth validates the bearer token and the claimed agent's active
// status, storing both in the gin context for downstream handlers.
func (m *Middleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := m.extractToken(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization token required", "code": "AUTH_TOKEN_MISSING"})
			c.Abort()
			return
		}

		claims, err := m.jwtService.ValidateToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token", "code": "AUTH_TOKEN_INVALID"})
			c.Abort()
			return
		}

		agent, err := m.registry.Get(claims.AgentID)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "agent not registered", "code": "AUTH_AGENT_NOT_FOUND"})
			c.Abort()
			return
		}
		if !agent.Active {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "agent is inactive", "code": "AUTH_AGENT_INACTIVE"})
			c.Abort()
			return
		}

		c.Set("claims", claims)
		c.Set("agent", agent)
		c.Next()
	}
}

// RequireRole requires the authenticated agent to hold exactly role.
func (m *Middleware) RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		m.RequireAuth()(c)
		if c.IsAborted() {
			return
		}

		claims, _ := GetCurrentClaims(c)
		if claims.Role != role {
			c.JSON(http.StatusForbidden, gin.H{
				"error":      "insufficient role",
				"code":       "AUTH_INSUFFICIENT_ROLE",
				"required":   role,
				"agent_role": claims.Role,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireAdmin requires the admin role.
func (m *Middleware) RequireAdmin() gin.HandlerFunc {
	return m.RequireRole(RoleAdmin)
}

// OptionalAuth extracts auth info if present but never aborts the request.
func (m *Middleware) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := m.extractToken(c)
		if token == "" {
			c.Next()
			return
		}

		claims, err := m.jwtService.ValidateToken(token)
		if err != nil {
			c.Next()
			return
		}

		agent, err := m.registry.Get(claims.AgentID)
		if err != nil || !agent.Active {
			c.Next()
			return
		}

		c.Set("claims", claims)
		c.Set("agent", agent)
		c.Next()
	}
}

func (m *Middleware) extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}

// GetCurrentAgent retrieves the authenticated agent from a gin context.
func GetCurrentAgent(c *gin.Context) (*Agent, bool) {
	agent, exists := c.Get("agent")
	if !exists {
		return nil, false
	}
	a, ok := agent.(*Agent)
	return a, ok
}

// GetCurrentClaims retrieves the validated JWT claims from a gin context.
func GetCurrentClaims(c *gin.Context) (*Claims, bool) {
	claims, exists := c.Get("claims")
	if !exists {
		return nil, false
	}
	cl, ok := claims.(*Claims)
	return cl, ok
}
