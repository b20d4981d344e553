package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"time"
)

// Doer sends an http request. *http.Client and auth.Session implement it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// CheckResponse returns an HTTPError if the status of resp is not 2xx.
// In that case, the body is consumed and closed.
func CheckResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	defer resp.Body.Close()
	return NewHTTPError(resp)
}

// DoJSON sends a request with body (if not nil) encoded in json and decodes the answer into out (if not nil)
func DoJSON(ctx context.Context, client Doer, method, url string, body, out interface{}) error {
	var rbody io.Reader
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("DoJSON.Marshal: %w", err)
		}
		rbody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rbody)
	if err != nil {
		return fmt.Errorf("DoJSON.NewRequest: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("DoJSON.Do: %w", err)
	}
	if err := CheckResponse(resp); err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("DoJSON.Decode: %w", err)
	}
	return nil
}

// GetJSON is DoJSON with a GET request
func GetJSON(ctx context.Context, client Doer, url string, out interface{}) error {
	return DoJSON(ctx, client, http.MethodGet, url, nil, out)
}

// GetBodyRetry: simple GET with N retries in case of temporary errors
func GetBodyRetry(ctx context.Context, client Doer, url string, nbRetries int) ([]byte, error) {
	var e *neturl.Error
	var body []byte
	var err error
	var resp *http.Response

	for i := range nbRetries + 1 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(((1 << i) - 1) * 100 * time.Millisecond): // Exponential backoff, starting at 0
		}
		req, rerr := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if rerr != nil {
			return nil, fmt.Errorf("GetBodyRetry.NewRequest: %w", rerr)
		}
		resp, err = client.Do(req)
		if err != nil {
			if !errors.As(err, &e) || !Temporary(e) {
				return nil, err
			}
			continue
		}
		if err = CheckResponse(resp); err != nil {
			var herr *HTTPError
			if errors.As(err, &herr) && !herr.Temporary() {
				return nil, err
			}
			continue
		}
		body, err = io.ReadAll(resp.Body)
		resp.Body.Close()
		if err == nil {
			return body, nil
		}
	}
	return nil, err
}
