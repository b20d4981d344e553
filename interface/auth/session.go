package auth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/airbusgeo/cdse-dl/service"
	"github.com/airbusgeo/cdse-dl/service/log"
	"github.com/airbusgeo/cdse-dl/service/metrics"
)

const maxRedirects = 10

// DefaultTrustedHosts are the hosts allowed to receive the bearer token on redirect
var DefaultTrustedHosts = []string{
	"catalogue.dataspace.copernicus.eu",
	"download.dataspace.copernicus.eu",
	"zipper.dataspace.copernicus.eu",
}

// Session sends http requests with a valid bearer token.
// The token is refreshed before the request if it is expired, and once more if the server answers 401.
// On redirect, the token is forwarded only between identical hosts or between trusted hosts.
// A Session is safe for concurrent use.
type Session struct {
	store   *TokenStore
	client  *http.Client
	trusted service.StringSet
}

// SessionOption configures a Session
type SessionOption func(*Session)

// WithHTTPClient sets the underlying client. Its CheckRedirect is replaced by the session policy.
func WithHTTPClient(c *http.Client) SessionOption {
	return func(s *Session) {
		cc := *c
		s.client = &cc
	}
}

// WithTrustedHosts replaces DefaultTrustedHosts
func WithTrustedHosts(hosts ...string) SessionOption {
	return func(s *Session) {
		s.trusted = service.NewStringSet()
		for _, h := range hosts {
			s.trusted.Push(strings.ToLower(h))
		}
	}
}

// NewSession creates a session around the token store
func NewSession(store *TokenStore, opts ...SessionOption) *Session {
	s := &Session{store: store, client: &http.Client{}}
	WithTrustedHosts(DefaultTrustedHosts...)(s)
	for _, opt := range opts {
		opt(s)
	}
	s.client.CheckRedirect = s.checkRedirect
	return s
}

// Store returns the token store of the session
func (s *Session) Store() *TokenStore {
	return s.store
}

// HTTPClient returns the client of the session, whose redirect policy strips the Authorization header.
// It does not add the token: see AuthorizationHeader.
func (s *Session) HTTPClient() *http.Client {
	return s.client
}

// AuthorizationHeader returns the value of the Authorization header, refreshing the token if needed
func (s *Session) AuthorizationHeader(ctx context.Context) (string, error) {
	token, err := s.validToken(ctx)
	if err != nil {
		return "", err
	}
	return "Bearer " + token.AccessToken, nil
}

func (s *Session) validToken(ctx context.Context) (TokenInfo, error) {
	token := s.store.Token()
	if !s.store.isExpired(token) {
		return token, nil
	}
	log.Logger(ctx).Debug("token expired: refreshing")
	token, err := s.store.RefreshIfStale(ctx, token)
	if err != nil {
		return TokenInfo{}, fmt.Errorf("Session.%w", err)
	}
	return token, nil
}

// Do sends the request with the bearer token. The request is not modified.
// A request with a body must have GetBody set to be retried on 401.
// Transport errors are returned as is.
func (s *Session) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	token, err := s.validToken(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := s.send(req, token, false)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		return resp, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	log.Logger(ctx).Debug("401 received: refreshing token")
	metrics.TokenRenewals.WithLabelValues(metrics.TokenReactive).Inc()
	if token, err = s.store.RefreshIfStale(ctx, token); err != nil {
		return nil, fmt.Errorf("Session.%w", err)
	}
	return s.send(req, token, true)
}

func (s *Session) send(req *http.Request, token TokenInfo, retry bool) (*http.Response, error) {
	r := req.Clone(req.Context())
	if retry && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("Session.GetBody: %w", err)
		}
		r.Body = body
	}
	r.Header.Set("Authorization", "Bearer "+token.AccessToken)
	return s.client.Do(r)
}

// Get sends a GET request and returns an HTTPError if the status is not 2xx
func (s *Session) Get(ctx context.Context, url string, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("Session.Get: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := s.Do(req)
	if err != nil {
		return nil, err
	}
	if err := service.CheckResponse(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetJSON sends a GET request and decodes the json answer into out
func (s *Session) GetJSON(ctx context.Context, url string, out interface{}) error {
	return service.GetJSON(ctx, s, url, out)
}

// SendJSON sends a request with a json body and decodes the json answer into out (if not nil)
func (s *Session) SendJSON(ctx context.Context, method, url string, body, out interface{}) error {
	return service.DoJSON(ctx, s, method, url, body, out)
}

// canForward returns true if the Authorization header can follow a redirection from one host to another
func (s *Session) canForward(from, to string) bool {
	from, to = strings.ToLower(from), strings.ToLower(to)
	return from == to || (s.trusted.Exists(from) && s.trusted.Exists(to))
}

// checkRedirect keeps the Authorization header of the original request as long as
// every hop of the chain satisfies canForward. Once stripped, it is never added again.
func (s *Session) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	auth := via[0].Header.Get("Authorization")
	keep := auth != ""
	for i := range via {
		next := req
		if i+1 < len(via) {
			next = via[i+1]
		}
		if !s.canForward(via[i].URL.Hostname(), next.URL.Hostname()) {
			keep = false
			break
		}
	}
	if keep {
		req.Header.Set("Authorization", auth)
	} else {
		if req.Header.Get("Authorization") != "" || auth != "" {
			log.Logger(req.Context()).Sugar().Debugf("redirect to %s: Authorization header removed", req.URL.Hostname())
		}
		req.Header.Del("Authorization")
	}
	return nil
}
