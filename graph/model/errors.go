package model

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// ErrMissingAPIKey is returned by every adapter when no API key is configured.
// It is detected before any network call is made.
var ErrMissingAPIKey = errors.New("LLM API key not configured")

// Kind classifies an upstream LLM failure.
type Kind string

const (
	// KindAuth is an authentication or authorization failure (bad or revoked key).
	KindAuth Kind = "auth"

	// KindQuota is a quota, credit or rate-limit failure.
	KindQuota Kind = "quota"

	// KindTransport means no response was received (DNS, connect, TLS, reset).
	KindTransport Kind = "transport"

	// KindOther covers every remaining provider failure.
	KindOther Kind = "other"
)

// Error is an upstream LLM failure classified from the provider SDK's
// structured error.
type Error struct {
	Kind       Kind
	Provider   string
	StatusCode int    // HTTP status, 0 when no response was received
	Code       string // provider error code, e.g. "insufficient_quota"
	Message    string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	b.WriteString(" ")
	b.WriteString(string(e.Kind))
	b.WriteString(" error")
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of the first *Error in err's chain.
// ok is false when err carries no classified LLM error.
func KindOf(err error) (kind Kind, ok bool) {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind, true
	}
	return "", false
}

// quotaCodes are provider error codes that indicate exhausted credit or rate
// limits regardless of HTTP status.
var quotaCodes = map[string]bool{
	"insufficient_quota":  true,
	"rate_limit_exceeded": true,
	"rate_limit_error":    true,
	"RESOURCE_EXHAUSTED":  true,
	"billing_error":       true,
}

// authCodes are provider error codes for credential failures.
var authCodes = map[string]bool{
	"invalid_api_key":      true,
	"authentication_error": true,
	"permission_error":     true,
	"PERMISSION_DENIED":    true,
	"UNAUTHENTICATED":      true,
}

// FromResponse classifies a provider error that carried an HTTP response.
func FromResponse(provider string, status int, code, message string, cause error) *Error {
	e := &Error{
		Kind:       KindOther,
		Provider:   provider,
		StatusCode: status,
		Code:       code,
		Message:    message,
		Err:        cause,
	}
	switch {
	case authCodes[code]:
		e.Kind = KindAuth
	case quotaCodes[code]:
		e.Kind = KindQuota
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Kind = KindAuth
	case status == http.StatusPaymentRequired || status == http.StatusTooManyRequests:
		e.Kind = KindQuota
	}
	return e
}

// FromTransport classifies an error that came back without a provider
// response. Context cancellation is returned unchanged so callers can still
// test for it with errors.Is.
func FromTransport(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	kind := KindOther
	var netErr net.Error
	var urlErr *url.Error
	if errors.As(err, &netErr) || errors.As(err, &urlErr) {
		kind = KindTransport
	}
	return &Error{Kind: kind, Provider: provider, Message: err.Error(), Err: err}
}
