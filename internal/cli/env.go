package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"counselchat/internal/apiclient"
	"counselchat/internal/auth"
	"counselchat/internal/config"
	"counselchat/internal/logging"
	"counselchat/internal/metrics"
)

// clientEnv is everything a signed-in command needs.
type clientEnv struct {
	cfg     *config.Config
	session *auth.Session
	api     *apiclient.Client
	metrics *metrics.Sync
	logger  *zap.Logger
}

func (e *clientEnv) close() {
	_ = e.logger.Sync()
}

// newClientEnv loads configuration and signs in with the configured token.
func newClientEnv(cmd *cobra.Command) (*clientEnv, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = os.Getenv(config.EnvPrefix + "CONFIG_FILE")
	}
	cfg, err := config.LoadConfigWithPrecedence(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateClient(); err != nil {
		return nil, err
	}

	// the terminal belongs to the conversation; only warnings reach stderr
	level := "warn"
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = "debug"
	}
	logger, err := logging.New(level, "console")
	if err != nil {
		return nil, err
	}

	session := auth.NewSession()
	if err := session.Login(cfg.Client.Principal(), cfg.Client.Token); err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}

	api, err := apiclient.New(session, apiclient.Options{
		BaseURL:   cfg.Client.BaseURL,
		Timeout:   cfg.Client.RequestTimeout,
		RateLimit: cfg.Client.RateLimit,
		Burst:     cfg.Client.RateBurst,
		// TECHNICAL DISCOVERY: Logout closes the open view, which may be
		// mid-Open on this very goroutine, so it must not run inline
		OnUnauthorized: func() { go session.Logout() },
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}

	return &clientEnv{
		cfg:     cfg,
		session: session,
		api:     api,
		metrics: metrics.NewSync(nil),
		logger:  logger,
	}, nil
}
