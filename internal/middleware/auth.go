package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// RequireToken guards the local API with a static bearer token. Browsers
// cannot set headers on WebSocket upgrades, so a "token" query parameter
// is accepted as well. An empty token disables the check.
func RequireToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		want := []byte(token)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, method := bearer(r), AuthBearer
			if got == "" {
				got, method = r.URL.Query().Get("token"), AuthQuery
			}
			if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				noteAuth(r, AuthDenied)
				w.Header().Set("WWW-Authenticate", `Bearer realm="voxnote"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			noteAuth(r, method)
			next.ServeHTTP(w, r)
		})
	}
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}
