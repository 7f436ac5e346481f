package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// originPolicy decides which browser pages may talk to the server. Any
// page the user has open can reach a loopback port, so only the server's
// own origin and the configured allow-list get through.
type originPolicy struct {
	allowed map[string]struct{}
}

func newOriginPolicy(origins []string) *originPolicy {
	p := &originPolicy{allowed: make(map[string]struct{}, len(origins))}
	for _, o := range origins {
		p.allowed[normalizeOrigin(o)] = struct{}{}
	}
	return p
}

// allow reports whether r may proceed. Requests without an Origin header
// do not come from a browser page.
func (p *originPolicy) allow(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if _, ok := p.allowed[normalizeOrigin(origin)]; ok {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	host := r.Host
	if host == "" {
		host = r.URL.Host
	}
	return strings.EqualFold(u.Host, host)
}

func normalizeOrigin(o string) string {
	return strings.ToLower(strings.TrimSuffix(strings.TrimSpace(o), "/"))
}

// originGuard rejects cross-origin requests before any handler runs, the
// websocket upgrade included.
func (s *Server) originGuard() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.origins.allow(c.Request) {
			s.logger.Warn("cross-origin request refused",
				zap.String("origin", c.GetHeader("Origin")),
				zap.String("path", c.FullPath()),
			)
			respondError(c, http.StatusForbidden, "FORBIDDEN_ORIGIN", "origin not allowed")
			c.Abort()
			return
		}
		c.Next()
	}
}

// requireJSON refuses bodies that are not application/json. Browsers send
// such requests only after a CORS preflight, which this server never
// answers.
func requireJSON() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.ContentType() != gin.MIMEJSON {
			respondError(c, http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE", "request body must be application/json")
			c.Abort()
			return
		}
		c.Next()
	}
}
