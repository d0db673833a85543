// Package server wires the HTTP surface of swipelist.
package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/mnehpets/swipelist/auth"
	"github.com/mnehpets/swipelist/config"
	"github.com/mnehpets/swipelist/endpoint"
	"github.com/mnehpets/swipelist/middleware"
	"github.com/mnehpets/swipelist/spotify"
	"github.com/rs/zerolog"
)

// Server is the swipelist HTTP server.
type Server struct {
	cfg       *config.Config
	log       zerolog.Logger
	router    *chi.Mux
	remote    auth.Remote
	transport *middleware.SessionTransport
	guard     *auth.Guard
	staticFS  fs.FS

	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithStaticFS serves fsys as the web app on every path outside /api.
func WithStaticFS(fsys fs.FS) Option {
	return func(s *Server) {
		s.staticFS = fsys
	}
}

// New builds the router. remote talks to the music service and keyring seals
// the session cookies.
func New(cfg *config.Config, log zerolog.Logger, remote auth.Remote, keyring *middleware.Keyring, opts ...Option) (*Server, error) {
	policy := middleware.DefaultCookiePolicy(cfg.IsProduction())
	policy.Domain = cfg.Session.CookieDomain
	transport, err := middleware.NewSessionTransport(keyring, policy)
	if err != nil {
		return nil, fmt.Errorf("session transport: %w", err)
	}

	s := &Server{
		cfg:       cfg,
		log:       log,
		router:    chi.NewRouter(),
		remote:    remote,
		transport: transport,
		guard:     auth.NewGuard(remote, transport, auth.WithRefreshSkew(cfg.Session.GetRefreshSkew())),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestLogger(s.log))
	s.router.Use(chimw.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{s.cfg.Server.FrontendURI},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	headers := middleware.NewAPIHeaders(s.cfg.IsProduction())

	s.router.Get("/api/status", endpoint.HandleFunc(s.status, headers))
	s.router.Mount(auth.DefaultBasePath, auth.NewHandler(s.remote, s.transport, auth.Config{
		ClientID:    s.cfg.Spotify.ClientID,
		RedirectURI: s.cfg.Spotify.RedirectURI,
		FrontendURL: s.cfg.Server.FrontendURI,
		BasePath:    auth.DefaultBasePath,
	}, auth.WithProcessors(headers)))
	s.router.Get("/api/profile", endpoint.HandleFunc(s.profile, headers, s.guard))

	if s.staticFS != nil {
		app := &endpoint.App{FS: s.staticFS, Reserved: []string{"api/"}}
		mux := http.NewServeMux()
		mux.Handle("GET /{path...}", endpoint.Handler(app.Endpoint))
		s.router.Handle("/*", mux)
	}
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// StatusResponse is the body of the status route.
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (s *Server) status(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	return &endpoint.JSONRenderer{Value: StatusResponse{Status: "OK", Message: "Server is running"}}, nil
}

// ProfileResponse is the body of the profile route.
type ProfileResponse struct {
	User *spotify.User `json:"user"`
}

// profile returns the signed-in user. The guard has already validated or
// refreshed the token.
func (s *Server) profile(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	ctx := r.Context()
	if u, ok := auth.UserFromContext(ctx); ok {
		return &endpoint.JSONRenderer{Value: ProfileResponse{User: u}}, nil
	}
	token, ok := auth.AccessTokenFromContext(ctx)
	if !ok {
		return nil, endpoint.Error(http.StatusUnauthorized, "", auth.ErrUnauthenticated)
	}
	u, err := s.remote.CurrentUser(ctx, token)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("fetch profile after refresh")
		return nil, endpoint.Error(http.StatusBadGateway, "failed to fetch user profile", err)
	}
	return &endpoint.JSONRenderer{Value: ProfileResponse{User: u}}, nil
}

// ListenAndServe serves on the configured address until ctx is cancelled,
// then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Addr())
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(ln)
	}()
	s.log.Info().Str("addr", ln.Addr().String()).Str("environment", s.cfg.Environment).Msg("server listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.GetShutdownTimeout())
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
