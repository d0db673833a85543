// Package spotify is a small client for the music service's accounts and
// Web API endpoints used by the session layer.
//
// A Client holds only static configuration. It is safe for concurrent use
// and is passed explicitly to the components that need it.
package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Default endpoints.
const (
	DefaultAccountsURL = "https://accounts.spotify.com"
	DefaultAPIURL      = "https://api.spotify.com/v1"
	DefaultTimeout     = 10 * time.Second
)

// maxErrorBody bounds how much of an upstream error body is kept.
const maxErrorBody = 4096

// Config is the static configuration of a Client.
type Config struct {
	ClientID    string
	RedirectURI string
	// AccountsURL hosts /authorize and /api/token.
	AccountsURL string
	// APIURL is the Web API base, e.g. https://api.spotify.com/v1.
	APIURL string
	// Timeout bounds every upstream call. Zero means DefaultTimeout.
	Timeout time.Duration
	// HTTPClient is optional; its own Timeout is left untouched.
	HTTPClient *http.Client
}

// TokenPair is a token endpoint response.
type TokenPair struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	// RefreshToken is empty when the server did not issue a new one.
	RefreshToken string `json:"refresh_token,omitempty"`
	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int64  `json:"expires_in"`
	Scope     string `json:"scope,omitempty"`
}

// Image is a profile image.
type Image struct {
	URL    string `json:"url"`
	Height int    `json:"height,omitempty"`
	Width  int    `json:"width,omitempty"`
}

// User is the current user's profile.
type User struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"display_name"`
	Email       string  `json:"email,omitempty"`
	Images      []Image `json:"images"`
}

// Client talks to the accounts service and the Web API.
type Client struct {
	oauth   oauth2.Config
	apiURL  string
	timeout time.Duration
	http    *http.Client
}

// New returns a Client. Empty URLs fall back to the public endpoints.
func New(cfg Config) *Client {
	accounts := strings.TrimRight(cfg.AccountsURL, "/")
	if accounts == "" {
		accounts = DefaultAccountsURL
	}
	api := strings.TrimRight(cfg.APIURL, "/")
	if api == "" {
		api = DefaultAPIURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{
		oauth: oauth2.Config{
			ClientID:    cfg.ClientID,
			RedirectURL: cfg.RedirectURI,
			Endpoint: oauth2.Endpoint{
				AuthURL:  accounts + "/authorize",
				TokenURL: accounts + "/api/token",
				// Public PKCE client: client_id goes in the form body and no
				// secret is sent.
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		apiURL:  api,
		timeout: timeout,
		http:    hc,
	}
}

// AuthURL returns the authorization endpoint.
func (c *Client) AuthURL() string { return c.oauth.Endpoint.AuthURL }

func (c *Client) oauthContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	return context.WithValue(ctx, oauth2.HTTPClient, c.http), cancel
}

// ExchangeCode swaps an authorization code and its PKCE verifier for tokens.
// It is never retried: authorization codes are single use.
func (c *Client) ExchangeCode(ctx context.Context, code, verifier string) (*TokenPair, error) {
	ctx, cancel := c.oauthContext(ctx)
	defer cancel()

	tok, err := c.oauth.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		status, errCode, body := retrieveDetails(err)
		return nil, &TokenExchangeError{Status: status, Code: errCode, Body: body, Err: err}
	}
	return pairFromToken(tok, ""), nil
}

// RefreshAccessToken uses a refresh token to obtain a new access token.
// The returned pair carries a refresh token only if the server rotated it.
func (c *Client) RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if refreshToken == "" {
		return nil, &TokenRefreshError{Err: errors.New("empty refresh token")}
	}
	ctx, cancel := c.oauthContext(ctx)
	defer cancel()

	// A token with no access token is never valid, so the source refreshes.
	tok, err := c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		status, errCode, body := retrieveDetails(err)
		return nil, &TokenRefreshError{Status: status, Code: errCode, Body: body, Err: err}
	}
	return pairFromToken(tok, refreshToken), nil
}

// CurrentUser fetches the profile of the token's owner. It doubles as the
// token validity check: an expired token yields an *APIError with status 401.
func (c *Client) CurrentUser(ctx context.Context, accessToken string) (*User, error) {
	var u User
	if err := c.get(ctx, accessToken, "/me", &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) get(ctx context.Context, accessToken, path string, dst any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+path, nil)
	if err != nil {
		return &APIError{Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &APIError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Status: resp.StatusCode, Body: string(body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return &APIError{Status: resp.StatusCode, Err: fmt.Errorf("decode %s: %w", path, err)}
	}
	return nil
}

func retrieveDetails(err error) (status int, code, body string) {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		b := re.Body
		if len(b) > maxErrorBody {
			b = b[:maxErrorBody]
		}
		return status, re.ErrorCode, string(b)
	}
	return 0, "", ""
}

// pairFromToken converts an oauth2 token. previousRefresh is the refresh
// token that was sent, if any; oauth2 copies it into the result when the
// server does not rotate, which is reported here as no refresh token.
func pairFromToken(tok *oauth2.Token, previousRefresh string) *TokenPair {
	p := &TokenPair{
		AccessToken: tok.AccessToken,
		TokenType:   tok.TokenType,
		ExpiresIn:   tok.ExpiresIn,
	}
	if tok.RefreshToken != previousRefresh {
		p.RefreshToken = tok.RefreshToken
	}
	if p.ExpiresIn <= 0 && !tok.Expiry.IsZero() {
		p.ExpiresIn = int64(time.Until(tok.Expiry).Round(time.Second) / time.Second)
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		p.Scope = scope
	}
	return p
}
