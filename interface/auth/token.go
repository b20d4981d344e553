package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/airbusgeo/cdse-dl/service"
	"github.com/airbusgeo/cdse-dl/service/log"
	"github.com/airbusgeo/cdse-dl/service/metrics"
	"golang.org/x/oauth2"
)

const (
	// TokenURL is the openid-connect token endpoint of the CDSE identity provider
	TokenURL = "https://identity.dataspace.copernicus.eu/auth/realms/CDSE/protocol/openid-connect/token"
	// ClientID is the public client of CDSE
	ClientID = "cdse-public"
	// DefaultExpiryBuffer is the margin before the expiry of a token where it is considered as expired
	DefaultExpiryBuffer = 60 * time.Second
)

// TokenInfo is an immutable snapshot of a bearer token.
// AcquiredTime is the local time at which the token was fetched.
type TokenInfo struct {
	AccessToken      string
	RefreshToken     string
	TokenType        string
	ExpiresIn        time.Duration
	RefreshExpiresIn time.Duration
	AcquiredTime     time.Time
}

// IsTokenExpired returns true if now - acquired + buffer >= expires_in
func IsTokenExpired(info TokenInfo, now time.Time, buffer time.Duration) bool {
	return now.Sub(info.AcquiredTime)+buffer >= info.ExpiresIn
}

// TokenStore holds the bearer token of one account and renews it.
// Renewals are serialized, reads return an immutable snapshot without locking.
type TokenStore struct {
	creds  Credentials
	config oauth2.Config
	client *http.Client
	clock  func() time.Time
	buffer time.Duration

	mu    sync.Mutex
	token atomic.Pointer[TokenInfo]
}

// TokenOption configures a TokenStore
type TokenOption func(*TokenStore)

// WithTokenHTTPClient sets the client used to call the identity provider
func WithTokenHTTPClient(c *http.Client) TokenOption {
	return func(ts *TokenStore) { ts.client = c }
}

// WithTokenURL overrides the token endpoint
func WithTokenURL(url string) TokenOption {
	return func(ts *TokenStore) { ts.config.Endpoint.TokenURL = url }
}

// WithClientID overrides the client id
func WithClientID(id string) TokenOption {
	return func(ts *TokenStore) { ts.config.ClientID = id }
}

// WithClock overrides time.Now
func WithClock(clock func() time.Time) TokenOption {
	return func(ts *TokenStore) { ts.clock = clock }
}

// WithExpiryBuffer overrides DefaultExpiryBuffer
func WithExpiryBuffer(d time.Duration) TokenOption {
	return func(ts *TokenStore) { ts.buffer = d }
}

// NewTokenStore creates a TokenStore and acquires its first token
func NewTokenStore(ctx context.Context, creds Credentials, opts ...TokenOption) (*TokenStore, error) {
	if creds.username == "" || creds.password == "" {
		return nil, &service.ConfigError{Msg: "username and password must be provided"}
	}
	ts := &TokenStore{
		creds: creds,
		config: oauth2.Config{
			ClientID: ClientID,
			Endpoint: oauth2.Endpoint{TokenURL: TokenURL, AuthStyle: oauth2.AuthStyleInParams},
		},
		client: http.DefaultClient,
		clock:  time.Now,
		buffer: DefaultExpiryBuffer,
	}
	for _, opt := range opts {
		opt(ts)
	}
	if _, err := ts.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("NewTokenStore.%w", err)
	}
	return ts, nil
}

// Token returns the current token
func (ts *TokenStore) Token() TokenInfo {
	if t := ts.token.Load(); t != nil {
		return *t
	}
	return TokenInfo{}
}

// IsExpired returns whether the current token is expired (or about to)
func (ts *TokenStore) IsExpired() bool {
	return ts.isExpired(ts.Token())
}

func (ts *TokenStore) isExpired(info TokenInfo) bool {
	return info.AccessToken == "" || IsTokenExpired(info, ts.clock(), ts.buffer)
}

// Acquire gets a new token with the password grant and replaces the current one
func (ts *TokenStore) Acquire(ctx context.Context) (TokenInfo, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.acquire(ctx)
}

func (ts *TokenStore) acquire(ctx context.Context) (TokenInfo, error) {
	acquired := ts.clock()
	tok, err := ts.config.PasswordCredentialsToken(ts.oauthContext(ctx), ts.creds.username, ts.creds.password)
	if err != nil {
		return TokenInfo{}, fmt.Errorf("Acquire: %w", toAuthError(err))
	}
	return ts.store(tok, acquired), nil
}

// Refresh renews the token with the refresh-token grant, falling back to the password grant.
// If both fail, the error of the password grant is returned and the current token is kept.
func (ts *TokenStore) Refresh(ctx context.Context) (TokenInfo, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.refresh(ctx)
}

// RefreshIfStale refreshes the token, unless the current one is no longer seen
// (it has already been renewed by a concurrent caller) and is not expired.
func (ts *TokenStore) RefreshIfStale(ctx context.Context, seen TokenInfo) (TokenInfo, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if current := ts.Token(); current.AccessToken != seen.AccessToken && !ts.isExpired(current) {
		return current, nil
	}
	return ts.refresh(ctx)
}

func (ts *TokenStore) refresh(ctx context.Context) (TokenInfo, error) {
	current := ts.Token()
	if current.RefreshToken != "" {
		acquired := ts.clock()
		src := ts.config.TokenSource(ts.oauthContext(ctx), &oauth2.Token{RefreshToken: current.RefreshToken})
		tok, err := src.Token()
		if err == nil {
			metrics.TokenRenewals.WithLabelValues(metrics.TokenRefresh).Inc()
			log.Logger(ctx).Debug("token refreshed")
			return ts.store(tok, acquired), nil
		}
		log.Logger(ctx).Sugar().Debugf("refresh token failed (%v): re-authenticating", toAuthError(err))
	}
	info, err := ts.acquire(ctx)
	if err != nil {
		return TokenInfo{}, fmt.Errorf("Refresh.%w", err)
	}
	metrics.TokenRenewals.WithLabelValues(metrics.TokenReauth).Inc()
	return info, nil
}

func (ts *TokenStore) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, ts.client)
}

// store replaces the current token. Must be called with the lock held.
func (ts *TokenStore) store(tok *oauth2.Token, acquired time.Time) TokenInfo {
	info := TokenInfo{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		AcquiredTime: acquired,
	}
	switch {
	case tok.ExpiresIn > 0:
		info.ExpiresIn = time.Duration(tok.ExpiresIn) * time.Second
	case !tok.Expiry.IsZero():
		info.ExpiresIn = tok.Expiry.Sub(acquired)
	}
	if v, ok := tok.Extra("refresh_expires_in").(float64); ok {
		info.RefreshExpiresIn = time.Duration(v) * time.Second
	}
	ts.token.Store(&info)
	return info
}

// toAuthError converts the errors of the oauth2 package into AuthError
func toAuthError(err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		return &service.AuthError{Code: rerr.ErrorCode, Description: rerr.ErrorDescription, Err: err}
	}
	var uerr interface{ Timeout() bool }
	if errors.As(err, &uerr) {
		// transport errors are not authentication errors
		return err
	}
	return &service.AuthError{Err: err}
}
