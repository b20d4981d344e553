// Package authtest provides a fake CDSE identity provider for tests.
package authtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// Identity is a fake openid-connect token endpoint supporting the password and refresh_token grants
type Identity struct {
	*httptest.Server

	Username, Password string
	ExpiresIn          int

	mu            sync.Mutex
	passwordCalls int
	refreshCalls  int
	issued        int
	failRefresh   bool
	failPassword  bool
	refreshTokens map[string]bool
}

// NewIdentity starts a fake identity provider accepting username/password
func NewIdentity(username, password string) *Identity {
	id := &Identity{Username: username, Password: password, ExpiresIn: 600, refreshTokens: map[string]bool{}}
	id.Server = httptest.NewServer(http.HandlerFunc(id.serve))
	return id
}

// TokenURL returns the url of the token endpoint
func (id *Identity) TokenURL() string {
	return id.URL + "/token"
}

// FailRefresh makes the refresh_token grant fail
func (id *Identity) FailRefresh(fail bool) {
	id.mu.Lock()
	defer id.mu.Unlock()
	id.failRefresh = fail
}

// FailPassword makes the password grant fail
func (id *Identity) FailPassword(fail bool) {
	id.mu.Lock()
	defer id.mu.Unlock()
	id.failPassword = fail
}

// Calls returns the number of password and refresh_token grants received
func (id *Identity) Calls() (password, refresh int) {
	id.mu.Lock()
	defer id.mu.Unlock()
	return id.passwordCalls, id.refreshCalls
}

// LastAccessToken returns the last token issued
func (id *Identity) LastAccessToken() string {
	id.mu.Lock()
	defer id.mu.Unlock()
	return fmt.Sprintf("access-%d", id.issued)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (id *Identity) serve(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil || r.Form.Get("client_id") != "cdse-public" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_client"})
		return
	}
	id.mu.Lock()
	defer id.mu.Unlock()
	switch r.Form.Get("grant_type") {
	case "password":
		id.passwordCalls++
		if id.failPassword || r.Form.Get("username") != id.Username || r.Form.Get("password") != id.Password {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_grant", "error_description": "Invalid user credentials"})
			return
		}
	case "refresh_token":
		id.refreshCalls++
		if id.failRefresh || !id.refreshTokens[r.Form.Get("refresh_token")] {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": "Token is not active"})
			return
		}
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}
	id.issued++
	refresh := fmt.Sprintf("refresh-%d", id.issued)
	id.refreshTokens[refresh] = true
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"access_token":       fmt.Sprintf("access-%d", id.issued),
		"refresh_token":      refresh,
		"expires_in":         id.ExpiresIn,
		"refresh_expires_in": 3600,
		"token_type":         "Bearer",
		"not-before-policy":  0,
		"session_state":      "d9b3a1b2",
	})
}

// Clock is a manual clock
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

// NewClock returns a clock set at t
func NewClock(t time.Time) *Clock {
	return &Clock{t: t}
}

// Now returns the time of the clock
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Advance moves the clock forward
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
