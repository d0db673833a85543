package spotify

import (
	"errors"
	"fmt"
	"net/http"
)

// TokenExchangeError reports a failed authorization-code exchange. The code
// is single use, so the login attempt cannot be retried.
type TokenExchangeError struct {
	// Status is the upstream HTTP status, or 0 if no response arrived.
	Status int
	// Code is the OAuth error code from the response body, if any.
	Code string
	Body string
	Err  error
}

func (e *TokenExchangeError) Error() string {
	return describe("token exchange failed", e.Status, e.Code, e.Err)
}

func (e *TokenExchangeError) Unwrap() error { return e.Err }

// TokenRefreshError reports a failed refresh-token grant.
type TokenRefreshError struct {
	Status int
	Code   string
	Body   string
	Err    error
}

func (e *TokenRefreshError) Error() string {
	return describe("token refresh failed", e.Status, e.Code, e.Err)
}

func (e *TokenRefreshError) Unwrap() error { return e.Err }

// APIError reports a failed call to the resource API.
type APIError struct {
	Status int
	Body   string
	Err    error
}

func (e *APIError) Error() string {
	return describe("api request failed", e.Status, "", e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

func describe(prefix string, status int, code string, cause error) string {
	msg := prefix
	if status != 0 {
		msg = fmt.Sprintf("%s: status %d", msg, status)
	}
	if code != "" {
		msg += " (" + code + ")"
	}
	if cause != nil && status == 0 {
		msg += ": " + cause.Error()
	}
	return msg
}

// IsUnauthorized reports whether err is an upstream 401, the signal that an
// access token has expired or been revoked.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}
