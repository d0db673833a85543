package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/mnehpets/swipelist/endpoint"
	"github.com/mnehpets/swipelist/middleware"
	"github.com/mnehpets/swipelist/spotify"
	"github.com/rs/zerolog"
)

// DefaultBasePath is where the handler is usually mounted.
const DefaultBasePath = "/api/auth"

// Callback failure messages shown on the frontend error page.
const (
	msgProviderError   = "Spotify authorization failed"
	msgStateMismatch   = "Authentication security check failed"
	msgMissingVerifier = "Authentication failed: code verifier not found"
	msgMissingCode     = "Authentication failed: authorization code missing"
	msgExchangeFailed  = "Failed to obtain access token"
	msgBadCallback     = "Authentication failed: invalid callback parameters"
)

// maxCallbackParam bounds each callback query value. The decoder does not
// limit them so that oversized values still end on the error page.
const maxCallbackParam = 16 * 1024

// AuthResult is the outcome of a callback. On success Token is set and
// Error is nil; on failure Error carries an *endpoint.EndpointError.
type AuthResult struct {
	Token *spotify.TokenPair
	Error error
}

// ResultEndpoint renders a callback outcome. Token cookies are already set
// on success when it runs.
type ResultEndpoint endpoint.EndpointFunc[*AuthResult]

// Config is the static configuration of a Handler.
type Config struct {
	// AuthURL is the authorization endpoint. Empty means remote.AuthURL().
	AuthURL     string
	ClientID    string
	RedirectURI string
	// FrontendURL is the base URL of the web app that callback redirects to.
	FrontendURL string
	// BasePath is the mount point. Empty means DefaultBasePath.
	BasePath string
}

// Handler serves the login handshake and session routes:
//
//	GET      {base}/login
//	GET      {base}/callback
//	GET      {base}/me
//	GET|POST {base}/logout
type Handler struct {
	mux       *http.ServeMux
	remote    Remote
	transport *middleware.SessionTransport
	cfg       Config

	scopes         []string
	verifierLength int
	result         ResultEndpoint
	processors     []endpoint.Processor
}

// Option configures a Handler.
type Option func(*Handler)

// WithProcessors adds processors to every route.
func WithProcessors(p ...endpoint.Processor) Option {
	return func(h *Handler) {
		h.processors = append(h.processors, p...)
	}
}

// WithResultEndpoint replaces how callback outcomes are rendered.
func WithResultEndpoint(fn ResultEndpoint) Option {
	return func(h *Handler) {
		h.result = fn
	}
}

// WithScopes sets the requested scopes.
func WithScopes(scopes ...string) Option {
	return func(h *Handler) {
		h.scopes = scopes
	}
}

// WithVerifierLength sets the PKCE verifier length. It is clamped to the
// allowed range by GenerateVerifier.
func WithVerifierLength(n int) Option {
	return func(h *Handler) {
		h.verifierLength = n
	}
}

// NewHandler returns a Handler.
func NewHandler(remote Remote, transport *middleware.SessionTransport, cfg Config, opts ...Option) *Handler {
	cfg.FrontendURL = strings.TrimRight(cfg.FrontendURL, "/")
	if cfg.AuthURL == "" {
		cfg.AuthURL = remote.AuthURL()
	}
	if cfg.BasePath == "" {
		cfg.BasePath = DefaultBasePath
	}
	if !strings.HasPrefix(cfg.BasePath, "/") {
		cfg.BasePath = "/" + cfg.BasePath
	}

	h := &Handler{
		mux:            http.NewServeMux(),
		remote:         remote,
		transport:      transport,
		cfg:            cfg,
		scopes:         DefaultScopes,
		verifierLength: DefaultVerifierLength,
	}
	h.result = h.redirectResult
	for _, opt := range opts {
		opt(h)
	}

	base := cfg.BasePath
	h.mux.HandleFunc("GET "+path.Join(base, "login"), endpoint.HandleFunc(h.login, h.processors...))
	// PKCE cookies are single use: clear them however the callback ends.
	callbackProcs := append([]endpoint.Processor{endpoint.ProcessorFunc(h.clearPKCE)}, h.processors...)
	h.mux.HandleFunc("GET "+path.Join(base, "callback"), endpoint.HandleFunc(h.callback, callbackProcs...))
	h.mux.HandleFunc("GET "+path.Join(base, "me"), endpoint.HandleFunc(h.me, h.processors...))
	logout := endpoint.HandleFunc(h.logout, h.processors...)
	h.mux.HandleFunc("GET "+path.Join(base, "logout"), logout)
	h.mux.HandleFunc("POST "+path.Join(base, "logout"), logout)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// LoginResponse is the body of a successful login call.
type LoginResponse struct {
	AuthURL string `json:"authUrl"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	verifier, err := GenerateVerifier(h.verifierLength)
	if err != nil {
		return nil, endpoint.Error(http.StatusInternalServerError, "failed to start login", err)
	}
	state, err := GenerateState(DefaultStateBytes)
	if err != nil {
		return nil, endpoint.Error(http.StatusInternalServerError, "failed to start login", err)
	}
	if err := h.transport.SetPKCE(w, verifier, state); err != nil {
		return nil, endpoint.Error(http.StatusInternalServerError, "failed to start login", err)
	}

	u := BuildAuthorizationURL(h.cfg.AuthURL, h.cfg.ClientID, h.cfg.RedirectURI, DeriveChallenge(verifier), state, h.scopes)
	return &endpoint.JSONRenderer{Value: LoginResponse{AuthURL: u}}, nil
}

// CallbackParams are the query parameters of the authorization redirect.
type CallbackParams struct {
	Code      string `query:"code" maxLength:"0"`
	State     string `query:"state" maxLength:"0"`
	Error     string `query:"error" maxLength:"0"`
	ErrorDesc string `query:"error_description" maxLength:"0"`
}

func (p CallbackParams) tooLong() bool {
	for _, v := range []string{p.Code, p.State, p.Error, p.ErrorDesc} {
		if len(v) > maxCallbackParam {
			return true
		}
	}
	return false
}

func (h *Handler) clearPKCE(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error {
	endpoint.Defer(r.Context(), h.transport.ClearPKCE)
	return next(w, r)
}

func (h *Handler) callback(w http.ResponseWriter, r *http.Request, params CallbackParams) (endpoint.Renderer, error) {
	ctx := r.Context()
	log := zerolog.Ctx(ctx)
	verifier, storedState := h.transport.PKCE(r)

	fail := func(status int, msg string, err error) (endpoint.Renderer, error) {
		log.Warn().Err(err).Msg("login callback failed")
		return h.result(w, r, &AuthResult{Error: endpoint.Error(status, msg, err)})
	}

	if params.tooLong() {
		return fail(http.StatusBadRequest, msgBadCallback, errors.New("callback parameter too long"))
	}
	if params.Error != "" {
		return fail(http.StatusBadRequest, msgProviderError, &ProviderError{Code: params.Error, Description: params.ErrorDesc})
	}
	if params.State == "" || storedState == "" ||
		subtle.ConstantTimeCompare([]byte(params.State), []byte(storedState)) != 1 {
		return fail(http.StatusBadRequest, msgStateMismatch, ErrCSRFMismatch)
	}
	if verifier == "" {
		return fail(http.StatusBadRequest, msgMissingVerifier, ErrMissingVerifier)
	}
	if params.Code == "" {
		return fail(http.StatusBadRequest, msgMissingCode, ErrMissingCode)
	}

	pair, err := h.remote.ExchangeCode(ctx, params.Code, verifier)
	if err != nil {
		return fail(http.StatusBadGateway, msgExchangeFailed, err)
	}
	if err := h.transport.SetTokens(w, middleware.TokenGrant{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
	}); err != nil {
		return fail(http.StatusInternalServerError, msgExchangeFailed, err)
	}
	log.Info().Msg("login completed")
	return h.result(w, r, &AuthResult{Token: pair})
}

// redirectResult sends the browser back to the frontend: the playlist page on
// success, the error page with a short message otherwise.
func (h *Handler) redirectResult(w http.ResponseWriter, r *http.Request, result *AuthResult) (endpoint.Renderer, error) {
	if result.Error == nil {
		return &endpoint.RedirectRenderer{URL: h.cfg.FrontendURL + "/create-playlist"}, nil
	}
	msg := "Authentication failed"
	var ee *endpoint.EndpointError
	if errors.As(result.Error, &ee) && ee.Message != "" {
		msg = ee.Message
	}
	q := url.Values{"message": {msg}}
	return &endpoint.RedirectRenderer{URL: h.cfg.FrontendURL + "/error?" + q.Encode()}, nil
}

// MeResponse is the body of the me route.
type MeResponse struct {
	Authenticated bool          `json:"authenticated"`
	User          *spotify.User `json:"user,omitempty"`
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	tokens := h.transport.Tokens(r)
	if tokens.AccessToken == "" {
		return &endpoint.JSONRenderer{Status: http.StatusUnauthorized, Value: MeResponse{}}, nil
	}
	user, err := h.remote.CurrentUser(r.Context(), tokens.AccessToken)
	if err != nil {
		if spotify.IsUnauthorized(err) {
			return &endpoint.JSONRenderer{Status: http.StatusUnauthorized, Value: MeResponse{}}, nil
		}
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("fetch current user")
		return nil, endpoint.Error(http.StatusBadGateway, "failed to fetch user profile", err)
	}
	return &endpoint.JSONRenderer{Value: MeResponse{Authenticated: true, User: user}}, nil
}

// LogoutResponse is the body of the logout route.
type LogoutResponse struct {
	Success bool `json:"success"`
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	h.transport.ClearTokens(w)
	return &endpoint.JSONRenderer{Value: LogoutResponse{Success: true}}, nil
}
