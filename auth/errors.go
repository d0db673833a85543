package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrCSRFMismatch means the callback state was missing or did not match
	// the state stored at login.
	ErrCSRFMismatch = errors.New("state mismatch")
	// ErrMissingVerifier means the PKCE verifier cookie was absent at callback.
	ErrMissingVerifier = errors.New("code verifier not found")
	// ErrMissingCode means the callback carried neither a code nor an error.
	ErrMissingCode = errors.New("authorization code missing")
	// ErrUnauthenticated means a protected call had no usable access token.
	ErrUnauthenticated = errors.New("not authenticated")
	// ErrSessionExpired means the access token expired and could not be
	// refreshed. Both token cookies are cleared when it is returned.
	ErrSessionExpired = errors.New("session expired")
)

// ProviderError is an error reported by the authorization server on the
// callback redirect.
type ProviderError struct {
	Code        string
	Description string
}

func (e *ProviderError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("provider error: %s (%s)", e.Code, e.Description)
	}
	return "provider error: " + e.Code
}
