package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// TokenSource extracts the raw bearer credential from a request. The normal
// channel is the Authorization header; the CSV export download cannot set
// headers, so it carries the token in a query parameter instead.
type TokenSource func(c *gin.Context) string

// FromHeader reads a standard "Authorization: Bearer ..." header.
func FromHeader(c *gin.Context) string {
	authz := c.GetHeader("Authorization")
	if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return ""
	}
	return strings.TrimSpace(authz[len("bearer "):])
}

// FromQuery reads the token from the "token" query parameter. This is a
// deliberate deviation from header auth for download links; see the export
// route.
func FromQuery(c *gin.Context) string {
	return strings.TrimSpace(c.Query("token"))
}

// Require enforces a valid HS256 JWT pulled from the given source and stores
// the claims in the gin context under "claims".
func Require(source TokenSource, signingKey, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := source(c)
		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		claims, err := Parse(tokenStr, signingKey, issuer)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set("claims", claims)
		c.Next()
	}
}

// MemberID returns the authenticated member id from the gin context, or ""
// when the request is unauthenticated.
func MemberID(c *gin.Context) string {
	claimsAny, ok := c.Get("claims")
	if !ok {
		return ""
	}
	claims, ok := claimsAny.(Claims)
	if !ok {
		return ""
	}
	return claims.Subject
}
