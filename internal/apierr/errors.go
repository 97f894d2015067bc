// Package apierr defines the error taxonomy shared by the translation
// providers and the App Store Connect client.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// TransportError reports a network-level failure (dial, TLS, timeout, body read).
type TransportError struct {
	Service string
	Op      string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Service, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// HTTPError is a non-2xx response decoded from the service's error envelope.
type HTTPError struct {
	Service   string
	Status    int
	Code      string
	Type      string
	Message   string
	RequestID string
}

func (e *HTTPError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	switch {
	case e.Code != "" && e.Type != "" && e.Code != e.Type:
		return fmt.Sprintf("%s API error %d (%s/%s): %s", e.Service, e.Status, e.Type, e.Code, msg)
	case e.Code != "":
		return fmt.Sprintf("%s API error %d (%s): %s", e.Service, e.Status, e.Code, msg)
	case e.Type != "":
		return fmt.Sprintf("%s API error %d (%s): %s", e.Service, e.Status, e.Type, msg)
	}
	return fmt.Sprintf("%s API error %d: %s", e.Service, e.Status, msg)
}

// ConflictError wraps a 409 response. The metadata client retries it
// internally and unwraps it to the plain HTTPError once retries run out.
type ConflictError struct {
	*HTTPError
}

func (e *ConflictError) Unwrap() error { return e.HTTPError }

// AuthError reports missing or rejected credentials.
type AuthError struct {
	Service string
	Err     error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: authentication failed: %v", e.Service, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// FormatError reports a response body that lacks the expected fields.
type FormatError struct {
	Service string
	Detail  string
	Err     error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: unexpected response format: %s: %v", e.Service, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: unexpected response format: %s", e.Service, e.Detail)
}

func (e *FormatError) Unwrap() error { return e.Err }

// TokenLimitError reports output cut short by the provider's token budget.
// It is distinct from a character-limit overrun, which is not an error.
type TokenLimitError struct {
	Service string
	Reason  string
}

func (e *TokenLimitError) Error() string {
	return fmt.Sprintf("%s: translation truncated by token limit (%s); try shorter text", e.Service, e.Reason)
}

// ClassifyStatus wraps an HTTPError into the more specific kind its status implies.
func ClassifyStatus(e *HTTPError) error {
	switch e.Status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &AuthError{Service: e.Service, Err: e}
	case http.StatusConflict:
		return &ConflictError{HTTPError: e}
	}
	return e
}

// Status returns the HTTP status carried by err, if any.
func Status(err error) (int, bool) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status, true
	}
	return 0, false
}

// IsConflict reports whether err carries a 409 status.
func IsConflict(err error) bool {
	status, ok := Status(err)
	return ok && status == http.StatusConflict
}
