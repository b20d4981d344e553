package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"strings"
	"syscall"
	"time"
)

type errTmpIf interface{ Temporary() bool }
type errTmp struct{ error }

func (t errTmp) Temporary() bool    { return true }
func (t *errTmp) Unwrap() error     { return t.error }
func MakeTemporary(err error) error { return &errTmp{err} }

type errFatalIf interface{ Fatal() bool }
type errFatal struct{ error }

func (t errFatal) Fatal() bool    { return true }
func (t *errFatal) Unwrap() error { return t.error }
func MakeFatal(err error) error   { return &errFatal{err} }

// Temporary inspects the error trace and returns whether the error is transient
func Temporary(err error) bool {
	if Fatal(err) {
		return false
	}
	var uerr *neturl.Error
	if errors.As(err, &uerr) {
		err = uerr.Err
	}

	//First override some default syscall temporary statuses
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.EIO, syscall.EBUSY, syscall.ECANCELED, syscall.ECONNABORTED, syscall.ECONNRESET, syscall.ENOMEM, syscall.EPIPE:
			return true
		}
	}

	//first check explicitely marked error
	var tmp errTmpIf
	if errors.As(err, &tmp) {
		return tmp.Temporary()
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}

// Fatal inspects the error and returns whether it's a fatal error
func Fatal(err error) bool {
	var tmp errFatalIf
	if errors.As(err, &tmp) {
		return tmp.Fatal()
	}
	return false
}

// MergeErrors, appending texts
// if priorityToErr is true, priority to the fatal error then to the temporary
// else, priority to no error, then to the temporary and finally to the fatal error.
func MergeErrors(priorityToError bool, err error, newErrs ...error) error {
	if len(newErrs) == 0 {
		return err
	}
	newErr := newErrs[0]

	if newErr == nil {
		if !priorityToError {
			return nil
		}
	} else if err == nil {
		err = newErr
	} else if priorityToError != Temporary(err) {
		err = fmt.Errorf("%w\n %v", err, newErr)
	} else {
		err = fmt.Errorf("%w\n %v", newErr, err)
	}
	return MergeErrors(priorityToError, err, newErrs[1:]...)
}

// Retriable calls f until it succeeds, returns a non-temporary error or nbRetries is reached.
// Errors returned by f that are neither temporary nor fatal are retried as well.
// The delay between two tries doubles each time.
func Retriable(ctx context.Context, f func() error, sleep time.Duration, nbRetries int) error {
	var err error
	for i := 0; i < nbRetries; i++ {
		if err = f(); err == nil || Fatal(err) {
			return err
		}
		var authErr *AuthError
		var intErr *IntegrityError
		var cfgErr *ConfigError
		if errors.As(err, &authErr) || errors.As(err, &intErr) || errors.As(err, &cfgErr) {
			return err
		}
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && !httpErr.Temporary() {
			return err
		}
		if i == nbRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return MergeErrors(true, err, ctx.Err())
		case <-time.After(sleep):
		}
		sleep *= 2
	}
	return err
}

// AuthError is returned when the identity provider refuses to deliver a token
type AuthError struct {
	Code        string
	Description string
	Err         error
}

func (e *AuthError) Error() string {
	if e.Code == "" {
		if e.Err != nil {
			return "unable to get token: " + e.Err.Error()
		}
		return "unable to get token"
	}
	desc := e.Description
	if desc == "" {
		desc = "None"
	}
	return fmt.Sprintf("unable to get token. Error: %s. Detail: %s", e.Code, desc)
}

func (e *AuthError) Unwrap() error { return e.Err }

// HTTPError is a non-2xx answer of a CDSE endpoint
type HTTPError struct {
	URL        string
	StatusCode int
	Status     string
	Body       string
}

// NewHTTPError consumes the body of resp and builds an HTTPError from it
func NewHTTPError(resp *http.Response) *HTTPError {
	e := &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status}
	if resp.Request != nil && resp.Request.URL != nil {
		e.URL = resp.Request.URL.Redacted()
	}
	if resp.Body != nil {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		e.Body = string(b)
	}
	return e
}

func (e *HTTPError) Error() string {
	msg := fmt.Sprintf("http status %d", e.StatusCode)
	if e.URL != "" {
		msg += " (" + e.URL + ")"
	}
	if detail, requestID := e.Detail(); detail != "" {
		return fmt.Sprintf("%s: %s (request id: %s)", msg, detail, requestID)
	}
	if body := strings.TrimSpace(e.Body); body != "" {
		return msg + ": " + body
	}
	return msg
}

// Temporary returns true for the statuses worth retrying
func (e *HTTPError) Temporary() bool {
	switch e.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Detail extracts the message and request id of a CDSE error body:
// {"detail": {"message": "...", "request_id": "..."}}
// requestID is "N/A" when the body does not carry one.
func (e *HTTPError) Detail() (message, requestID string) {
	var body struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal([]byte(e.Body), &body); err != nil || len(body.Detail) == 0 {
		return "", ""
	}
	var detail struct {
		Message   string `json:"message"`
		RequestID string `json:"request_id"`
	}
	if err := json.Unmarshal(body.Detail, &detail); err != nil {
		var s string
		if json.Unmarshal(body.Detail, &s) == nil {
			return s, "N/A"
		}
		return "", ""
	}
	if detail.RequestID == "" {
		detail.RequestID = "N/A"
	}
	if detail.Message == "" {
		detail.Message = strings.TrimSpace(e.Body)
	}
	return detail.Message, detail.RequestID
}

// IntegrityError is returned when a downloaded file does not match its checksum
type IntegrityError struct {
	Path      string
	Algorithm string
	Expected  string
	Actual    string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s (%s): expected %s, got %s", e.Path, e.Algorithm, e.Expected, e.Actual)
}

func (e *IntegrityError) Fatal() bool { return true }

// ConfigError reports missing or invalid configuration
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return "config: " + e.Msg }

func (e *ConfigError) Fatal() bool { return true }
