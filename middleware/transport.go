package middleware

// Session transport: the browser's cookie jar is the only session store.
//
// Four sealed cookies make up a session. code_verifier and auth_state live
// for one login attempt; access_token and refresh_token hold the token pair.

import (
	"net/http"
	"time"
)

// Cookie names.
const (
	AccessTokenCookie  = "access_token"
	RefreshTokenCookie = "refresh_token"
	VerifierCookie     = "code_verifier"
	StateCookie        = "auth_state"
)

// Default lifetimes.
const (
	DefaultPKCETTL           = 10 * time.Minute
	DefaultRefreshTTL        = 30 * 24 * time.Hour
	DefaultFallbackAccessTTL = time.Hour
)

// CookiePolicy holds the lifetime and attribute policy for session cookies.
type CookiePolicy struct {
	// PKCETTL bounds how long a login attempt may take.
	PKCETTL time.Duration
	// RefreshTTL is the refresh token cookie lifetime.
	RefreshTTL time.Duration
	// FallbackAccessTTL is used when the token response has no expires_in.
	FallbackAccessTTL time.Duration

	Secure   bool
	Path     string
	Domain   string
	SameSite http.SameSite
}

// DefaultCookiePolicy returns the standard policy. secure should be true in
// production, where the site is served over HTTPS.
//
// SameSite is Lax so the cookies are sent on the top-level redirect back
// from the authorization server.
func DefaultCookiePolicy(secure bool) CookiePolicy {
	return CookiePolicy{
		PKCETTL:           DefaultPKCETTL,
		RefreshTTL:        DefaultRefreshTTL,
		FallbackAccessTTL: DefaultFallbackAccessTTL,
		Secure:            secure,
		Path:              "/",
		SameSite:          http.SameSiteLaxMode,
	}
}

// TokenGrant is what the transport needs from a token response.
type TokenGrant struct {
	AccessToken string
	// RefreshToken is empty when the server did not issue (or rotate) one.
	RefreshToken string
	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int64
}

// Tokens is the token pair read from a request.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	// AccessExpiresAt is the expiry recorded when the access cookie was set.
	AccessExpiresAt time.Time
}

// SessionTransport reads and writes the session cookies.
type SessionTransport struct {
	policy   CookiePolicy
	access   *SealedCookie
	refresh  *SealedCookie
	verifier *SealedCookie
	state    *SealedCookie
	now      func() time.Time
}

// NewSessionTransport builds the four session cookies from a single keyring.
// Zero durations in policy fall back to the defaults.
func NewSessionTransport(keyring *Keyring, policy CookiePolicy) (*SessionTransport, error) {
	if policy.PKCETTL <= 0 {
		policy.PKCETTL = DefaultPKCETTL
	}
	if policy.RefreshTTL <= 0 {
		policy.RefreshTTL = DefaultRefreshTTL
	}
	if policy.FallbackAccessTTL <= 0 {
		policy.FallbackAccessTTL = DefaultFallbackAccessTTL
	}
	if policy.SameSite == 0 {
		policy.SameSite = http.SameSiteLaxMode
	}

	t := &SessionTransport{policy: policy, now: time.Now}
	for _, c := range []struct {
		name string
		dst  **SealedCookie
	}{
		{AccessTokenCookie, &t.access},
		{RefreshTokenCookie, &t.refresh},
		{VerifierCookie, &t.verifier},
		{StateCookie, &t.state},
	} {
		sc, err := NewSealedCookie(c.name, keyring, policy)
		if err != nil {
			return nil, err
		}
		*c.dst = sc
	}
	return t, nil
}

// SetPKCE stores the verifier and state for a new login attempt, replacing
// any earlier attempt.
func (t *SessionTransport) SetPKCE(w http.ResponseWriter, verifier, state string) error {
	vc, err := t.verifier.Encode(verifier, t.policy.PKCETTL)
	if err != nil {
		return err
	}
	sc, err := t.state.Encode(state, t.policy.PKCETTL)
	if err != nil {
		return err
	}
	http.SetCookie(w, vc)
	http.SetCookie(w, sc)
	return nil
}

// PKCE returns the stashed verifier and state. Either may be empty if the
// cookie expired, was cleared, or fails to open.
func (t *SessionTransport) PKCE(r *http.Request) (verifier, state string) {
	now := t.now()
	if v, ok := t.verifier.Read(r); ok && !v.Expired(now) {
		verifier = v.Value
	}
	if v, ok := t.state.Read(r); ok && !v.Expired(now) {
		state = v.Value
	}
	return verifier, state
}

// ClearPKCE removes the verifier and state cookies.
func (t *SessionTransport) ClearPKCE(w http.ResponseWriter) {
	http.SetCookie(w, t.verifier.Clear())
	http.SetCookie(w, t.state.Clear())
}

// AccessTTL is the cookie lifetime for an access token with expiresIn seconds.
// It never exceeds the refresh cookie lifetime.
func (t *SessionTransport) AccessTTL(expiresIn int64) time.Duration {
	if expiresIn <= 0 {
		return t.policy.FallbackAccessTTL
	}
	if expiresIn > int64(t.policy.RefreshTTL/time.Second) {
		return t.policy.RefreshTTL
	}
	return time.Duration(expiresIn) * time.Second
}

// SetTokens writes the token cookies. Both cookies are encoded before either
// is written, so a failure leaves the response untouched. The refresh cookie
// is only written when g carries a refresh token; otherwise the existing one
// stays in place.
func (t *SessionTransport) SetTokens(w http.ResponseWriter, g TokenGrant) error {
	ac, err := t.access.Encode(g.AccessToken, t.AccessTTL(g.ExpiresIn))
	if err != nil {
		return err
	}
	var rc *http.Cookie
	if g.RefreshToken != "" {
		rc, err = t.refresh.Encode(g.RefreshToken, t.policy.RefreshTTL)
		if err != nil {
			return err
		}
	}
	http.SetCookie(w, ac)
	if rc != nil {
		http.SetCookie(w, rc)
	}
	return nil
}

// Tokens reads the token cookies from r. Unreadable cookies read as absent.
func (t *SessionTransport) Tokens(r *http.Request) Tokens {
	var out Tokens
	if v, ok := t.access.Read(r); ok {
		out.AccessToken = v.Value
		out.AccessExpiresAt = v.ExpiresAt
	}
	if v, ok := t.refresh.Read(r); ok {
		out.RefreshToken = v.Value
	}
	return out
}

// ClearTokens removes both token cookies.
func (t *SessionTransport) ClearTokens(w http.ResponseWriter) {
	http.SetCookie(w, t.access.Clear())
	http.SetCookie(w, t.refresh.Clear())
}
