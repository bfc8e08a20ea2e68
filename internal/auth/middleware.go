// Package auth guards the mutating HTTP routes with a static bearer token.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Middleware checks "Authorization: Bearer <token>". An empty token disables it.
type Middleware struct {
	token []byte
}

func NewMiddleware(token string) *Middleware {
	return &Middleware{token: []byte(token)}
}

func (m *Middleware) Enabled() bool { return len(m.token) > 0 }

// GinAuth returns a Gin middleware that aborts with 401 on a missing or wrong token.
func (m *Middleware) GinAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.Enabled() || m.authenticate(c.Request) {
			c.Next()
			return
		}
		c.Header("WWW-Authenticate", `Bearer realm="hashvisr"`)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error":   "authentication_failed",
			"message": "Authentication required",
		})
	}
}

// HTTPAuth is the net/http form for handlers mounted outside gin.
func (m *Middleware) HTTPAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.Enabled() || m.authenticate(r) {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("WWW-Authenticate", `Bearer realm="hashvisr"`)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"authentication_failed","message":"Authentication required"}`))
	})
}

func (m *Middleware) authenticate(r *http.Request) bool {
	h := r.Header.Get("Authorization")
	scheme, tok, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(tok)), m.token) == 1
}
