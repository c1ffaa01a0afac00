// Package authmw guards the invocation API with a static bearer token.
package authmw

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

const scheme = "Bearer "

// BearerToken returns middleware that requires "Authorization: Bearer <token>".
// Rejections use the same JSON shape as an error summary so API callers only
// parse one error format.
func BearerToken(token string) func(http.Handler) http.Handler {
	expected := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, scheme) {
				unauthorized(w, "missing or malformed authorization header")
				return
			}

			// constant-time compare
			if subtle.ConstantTimeCompare([]byte(auth[len(scheme):]), expected) != 1 {
				unauthorized(w, "invalid token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="warden"`)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":     "error",
		"error_kind": "Unauthorized",
		"message":    msg,
	})
}
