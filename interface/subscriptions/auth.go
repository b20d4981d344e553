package subscriptions

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
)

// publicPaths do not require authentication
var publicPaths = map[string]bool{"/": true, "/health": true}

// BasicAuthenticate checks the credentials sent by the catalogue with the notifications.
// If username is empty, no authentication is required.
func BasicAuthenticate(username, password string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !publicPaths[r.URL.Path] {
				if err := authenticate(username, password, r); err != nil {
					w.Header().Set("WWW-Authenticate", `Basic realm="notifications"`)
					w.WriteHeader(http.StatusUnauthorized)
					json.NewEncoder(w).Encode(err.Error())
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func authenticate(username, password string, r *http.Request) error {
	if username == "" {
		return nil // No auth required
	}
	user, pwd, ok := r.BasicAuth()
	if !ok {
		return fmt.Errorf("missing basic authentication")
	}
	userOk := subtle.ConstantTimeCompare([]byte(user), []byte(username)) == 1
	pwdOk := subtle.ConstantTimeCompare([]byte(pwd), []byte(password)) == 1
	if !userOk || !pwdOk {
		return fmt.Errorf("invalid credentials")
	}
	return nil
}
