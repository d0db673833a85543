package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mnehpets/swipelist/config"
	"github.com/mnehpets/swipelist/logging"
	"github.com/mnehpets/swipelist/middleware"
	"github.com/mnehpets/swipelist/server"
	"github.com/mnehpets/swipelist/spotify"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE:  runServe,
	}
	cmd.Flags().String("host", "", "listen host (overrides HOST)")
	cmd.Flags().Int("port", 0, "listen port (overrides PORT)")
	return cmd
}

// loadConfig reads .env, the optional TOML file, the environment and flags,
// then validates the result.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, err
	}
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port, _ = cmd.Flags().GetInt("port")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildKeyring returns the cookie keyring. Without a configured key (only
// allowed outside production) an ephemeral key is generated.
func buildKeyring(cfg *config.Config, log zerolog.Logger) (*middleware.Keyring, error) {
	keyID, keys, err := cfg.Session.Keys()
	if err != nil {
		return nil, err
	}
	if keys == nil {
		k, err := config.EphemeralKey()
		if err != nil {
			return nil, fmt.Errorf("generate cookie key: %w", err)
		}
		keyID, keys = "ephemeral", map[string][]byte{"ephemeral": k}
		log.Warn().Msg("COOKIE_KEY not set; using an ephemeral key, sessions end on restart")
	}
	return middleware.NewKeyring(keyID, keys)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := logging.New(cfg.Logging.Level, cfg.IsProduction())

	keyring, err := buildKeyring(cfg, log)
	if err != nil {
		return err
	}
	remote := spotify.New(spotify.Config{
		ClientID:    cfg.Spotify.ClientID,
		RedirectURI: cfg.Spotify.RedirectURI,
		AccountsURL: cfg.Spotify.AccountsURL,
		APIURL:      cfg.Spotify.APIURL,
		Timeout:     cfg.Spotify.GetTimeout(),
	})

	var opts []server.Option
	if dir := cfg.Server.StaticDir; dir != "" {
		if _, err := os.Stat(dir); err != nil {
			return fmt.Errorf("static dir: %w", err)
		}
		opts = append(opts, server.WithStaticFS(os.DirFS(dir)))
	}
	srv, err := server.New(cfg, log, remote, keyring, opts...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.ListenAndServe(ctx)
}
