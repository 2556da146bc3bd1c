package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"log/slog"
	"net/http"
)

// BasicAuth guards a route group with HTTP Basic Authentication against a
// single configured credential pair. Comparison is constant time over
// SHA-256 digests so neither the username nor password length leaks
// through timing.
func BasicAuth(username, password string) func(http.Handler) http.Handler {
	wantUser := sha256.Sum256([]byte(username))
	wantPass := sha256.Sum256([]byte(password))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok {
				unauthorized(w)
				return
			}

			gotUser := sha256.Sum256([]byte(user))
			gotPass := sha256.Sum256([]byte(pass))

			userMatch := subtle.ConstantTimeCompare(gotUser[:], wantUser[:]) == 1
			passMatch := subtle.ConstantTimeCompare(gotPass[:], wantPass[:]) == 1
			if !userMatch || !passMatch {
				slog.Warn("auth: rejected credentials",
					"remote_addr", r.RemoteAddr,
					"path", r.URL.Path,
				)
				unauthorized(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="restricted"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}
