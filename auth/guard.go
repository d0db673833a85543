package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mnehpets/swipelist/endpoint"
	"github.com/mnehpets/swipelist/middleware"
	"github.com/mnehpets/swipelist/spotify"
	"github.com/rs/zerolog"
)

// Remote is the subset of the music service client used by the session layer.
// *spotify.Client implements it.
type Remote interface {
	AuthURL() string
	ExchangeCode(ctx context.Context, code, verifier string) (*spotify.TokenPair, error)
	RefreshAccessToken(ctx context.Context, refreshToken string) (*spotify.TokenPair, error)
	CurrentUser(ctx context.Context, accessToken string) (*spotify.User, error)
}

var _ Remote = (*spotify.Client)(nil)

// Client-visible messages for protected calls.
const (
	msgUnauthorized   = "Unauthorized. Please log in again."
	msgSessionExpired = "Session expired. Please log in again."
	msgAuthFailed     = "Authentication failed. Please log in again."
)

type contextKey int

const (
	accessTokenKey contextKey = iota
	userKey
)

// AccessTokenFromContext returns the access token attached by the Guard.
func AccessTokenFromContext(ctx context.Context) (string, bool) {
	tok, ok := ctx.Value(accessTokenKey).(string)
	return tok, ok && tok != ""
}

// UserFromContext returns the profile the Guard fetched while validating the
// token. It is absent when the request went through a refresh.
func UserFromContext(ctx context.Context) (*spotify.User, bool) {
	u, ok := ctx.Value(userKey).(*spotify.User)
	return u, ok && u != nil
}

// Guard is an endpoint.Processor that admits a request only with a valid
// access token, refreshing it at most once per request.
type Guard struct {
	remote    Remote
	transport *middleware.SessionTransport
	skew      time.Duration
	now       func() time.Time
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithRefreshSkew refreshes without probing when the access cookie's recorded
// expiry is within d. Zero disables the proactive path.
func WithRefreshSkew(d time.Duration) GuardOption {
	return func(g *Guard) {
		g.skew = d
	}
}

// NewGuard returns a Guard.
func NewGuard(remote Remote, transport *middleware.SessionTransport, opts ...GuardOption) *Guard {
	g := &Guard{remote: remote, transport: transport, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Process implements endpoint.Processor.
func (g *Guard) Process(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error {
	ctx := r.Context()
	log := zerolog.Ctx(ctx)
	tokens := g.transport.Tokens(r)

	if tokens.AccessToken == "" {
		return endpoint.Error(http.StatusUnauthorized, msgUnauthorized, ErrUnauthenticated)
	}

	// A failed proactive refresh is not fatal: the current token is still
	// checked against the remote and that decides the outcome.
	var proactiveErr error
	if g.expiresSoon(tokens) {
		log.Debug().Msg("access token near expiry, refreshing")
		refreshed, err := g.refresh(w, r, tokens.RefreshToken)
		if err == nil {
			return next(w, refreshed)
		}
		if isEndpointError(err) {
			return err
		}
		log.Warn().Err(err).Msg("proactive refresh failed, validating current token")
		proactiveErr = err
	}

	user, err := g.remote.CurrentUser(ctx, tokens.AccessToken)
	switch {
	case err == nil:
		ctx = context.WithValue(ctx, accessTokenKey, tokens.AccessToken)
		ctx = context.WithValue(ctx, userKey, user)
		return next(w, r.WithContext(ctx))
	case spotify.IsUnauthorized(err) && proactiveErr != nil:
		return g.expire(w, r, proactiveErr)
	case spotify.IsUnauthorized(err) && tokens.RefreshToken != "":
		log.Debug().Msg("access token rejected, refreshing")
		refreshed, err := g.refresh(w, r, tokens.RefreshToken)
		if err != nil {
			if isEndpointError(err) {
				return err
			}
			return g.expire(w, r, err)
		}
		return next(w, refreshed)
	default:
		log.Warn().Err(err).Msg("access token validation failed")
		return endpoint.Error(http.StatusUnauthorized, msgAuthFailed, fmt.Errorf("%w: %w", ErrUnauthenticated, err))
	}
}

func (g *Guard) expiresSoon(t middleware.Tokens) bool {
	if g.skew <= 0 || t.RefreshToken == "" || t.AccessExpiresAt.IsZero() {
		return false
	}
	return !g.now().Add(g.skew).Before(t.AccessExpiresAt)
}

// refresh exchanges the refresh token and writes the new token cookies. The
// returned request carries the new access token. Errors from the remote are
// returned as is; a cookie failure comes back as an *endpoint.EndpointError.
func (g *Guard) refresh(w http.ResponseWriter, r *http.Request, refreshToken string) (*http.Request, error) {
	ctx := r.Context()
	pair, err := g.remote.RefreshAccessToken(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	if err := g.transport.SetTokens(w, middleware.TokenGrant{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
	}); err != nil {
		return nil, endpoint.Error(http.StatusInternalServerError, "", err)
	}
	zerolog.Ctx(ctx).Info().Bool("rotated", pair.RefreshToken != "").Msg("access token refreshed")
	return r.WithContext(context.WithValue(ctx, accessTokenKey, pair.AccessToken)), nil
}

// expire ends the session after a refresh that could not recover it.
func (g *Guard) expire(w http.ResponseWriter, r *http.Request, cause error) error {
	zerolog.Ctx(r.Context()).Warn().Err(cause).Msg("token refresh failed, clearing session")
	g.transport.ClearTokens(w)
	return endpoint.Error(http.StatusUnauthorized, msgSessionExpired, fmt.Errorf("%w: %w", ErrSessionExpired, cause))
}

func isEndpointError(err error) bool {
	var ee *endpoint.EndpointError
	return errors.As(err, &ee)
}
