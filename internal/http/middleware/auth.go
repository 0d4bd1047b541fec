package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/agencydesk/identity/internal/domain"
	"github.com/agencydesk/identity/internal/service"
)

const introspectionKey = "tokenIntrospection"

// Auth validates the Authorization header and attaches the introspection
// result, including the version check against the current identity.
type Auth struct {
	AuthService *service.AuthService
}

// ValidateJWT ensures the request carries a live bearer token.
func (m *Auth) ValidateJWT(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if header == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token_malformed", "error_description": "Authorization header required."})
		return
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token_malformed", "error_description": "Bearer token required."})
		return
	}

	intro, err := m.AuthService.VerifyToken(c.Request.Context(), parts[1])
	if err != nil {
		ae := domain.AsAuthError(err)
		c.AbortWithStatusJSON(ae.Status, gin.H{"error": ae.Code, "error_description": ae.Description})
		return
	}

	c.Set(introspectionKey, intro)
	c.Next()
}

// GetIntrospection exposes the validated token's introspection to handlers.
func GetIntrospection(c *gin.Context) (service.TokenIntrospection, bool) {
	value, ok := c.Get(introspectionKey)
	if !ok {
		return service.TokenIntrospection{}, false
	}
	intro, ok := value.(service.TokenIntrospection)
	return intro, ok
}
