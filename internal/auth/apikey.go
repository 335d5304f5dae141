package auth

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
)

// DefaultHeader carries the API key when no header is configured.
const DefaultHeader = "x-api-key"

// APIKeyGuard rejects requests to non-public routes that do not present the
// configured API key.
type APIKeyGuard struct {
	key    []byte
	header string
	public map[string]struct{}
}

// NewAPIKeyGuard returns a guard comparing header against key. Routes whose
// mux name is in publicRoutes are let through unchecked.
func NewAPIKeyGuard(key, header string, publicRoutes ...string) *APIKeyGuard {
	header = strings.TrimSpace(header)
	if header == "" {
		header = DefaultHeader
	}
	public := make(map[string]struct{}, len(publicRoutes))
	for _, name := range publicRoutes {
		public[name] = struct{}{}
	}
	return &APIKeyGuard{key: []byte(key), header: header, public: public}
}

// Middleware is a mux.MiddlewareFunc; the route must already be matched.
func (g *APIKeyGuard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.isPublic(r) {
			next.ServeHTTP(w, r)
			return
		}

		presented := r.Header.Get(g.header)
		if presented == "" {
			unauthorized(w, "API key is required")
			return
		}
		if subtle.ConstantTimeCompare([]byte(presented), g.key) != 1 {
			unauthorized(w, "Invalid API key")
			return
		}

		next.ServeHTTP(w, r.WithContext(markAuthenticated(r.Context())))
	})
}

func (g *APIKeyGuard) isPublic(r *http.Request) bool {
	route := mux.CurrentRoute(r)
	if route == nil {
		return false
	}
	_, ok := g.public[route.GetName()]
	return ok
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"statusCode": http.StatusUnauthorized,
		"message":    message,
		"error":      http.StatusText(http.StatusUnauthorized),
	})
}
