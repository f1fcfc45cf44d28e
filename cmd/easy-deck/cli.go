package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/smorand/easy-deck/internal/auth"
	"github.com/smorand/easy-deck/internal/chat"
	"github.com/smorand/easy-deck/internal/config"
	"github.com/smorand/easy-deck/internal/deck"
	"github.com/smorand/easy-deck/internal/errs"
	"github.com/smorand/easy-deck/internal/gateway"
	"github.com/smorand/easy-deck/internal/middleware"
	"github.com/smorand/easy-deck/internal/ratelimit"
	"github.com/smorand/easy-deck/internal/storage"
	"github.com/smorand/easy-deck/internal/storage/firestore"
	"github.com/smorand/easy-deck/internal/storage/sqlstore"
	"github.com/smorand/easy-deck/internal/syncer"
	"github.com/smorand/easy-deck/internal/transport"
)

var configFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "Path to the YAML configuration file",
	EnvVars: []string{config.EnvPrefix + "CONFIG"},
}

// newCLIApp creates the CLI application with all commands.
func newCLIApp() *cli.App {
	app := &cli.App{
		Name:    "easy-deck",
		Usage:   "Backend for Easy Deck presentations",
		Version: Version,
		Commands: []*cli.Command{
			serveCmd(),
			migrateCmd(),
			extractIDCmd(os.Stdout),
		},
	}
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API",
		Flags: []cli.Flag{configFlag},
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig(ctx, c.String("config"))
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Log, os.Stderr)
			slog.SetDefault(logger)

			store, err := openStore(ctx, cfg.Storage, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			server := buildServer(cfg, store, logger)
			return server.Start(ctx)
		},
	}
}

func migrateCmd() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply pending SQL migrations and exit",
		Flags: []cli.Flag{configFlag},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c.Context, c.String("config"))
			if err != nil {
				return err
			}
			if cfg.Storage.Driver != "sqlite" && cfg.Storage.Driver != "postgres" {
				return fmt.Errorf("migrate needs a sql storage driver, got %q", cfg.Storage.Driver)
			}
			store, err := openStore(c.Context, cfg.Storage, newLogger(cfg.Log, os.Stderr))
			if err != nil {
				return err
			}
			return store.Close()
		},
	}
}

func extractIDCmd(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "extract-id",
		Usage:     "Print the presentation ID of a Google Slides URL",
		ArgsUsage: "<url-or-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("%w: expected one argument", errs.ErrInvalidArgument)
			}
			id, ok := gateway.ExtractPresentationID(c.Args().First())
			if !ok {
				return errs.ErrInvalidPresentationID
			}
			_, err := fmt.Fprintln(out, id)
			return err
		},
	}
}

// loadConfig reads the file and environment, overlays Secret Manager values
// when a project is configured, then validates.
func loadConfig(ctx context.Context, path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if cfg.Secrets.ProjectID != "" {
		loader, err := config.NewSecretLoader(ctx, cfg.Secrets.ProjectID)
		if err != nil {
			return nil, err
		}
		defer loader.Close()
		if err := cfg.ApplySecrets(ctx, loader); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func openStore(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (storage.Store, error) {
	switch cfg.Driver {
	case "memory":
		logger.Warn("using in-memory storage, data is lost on restart")
		return storage.NewMemory(), nil
	case "sqlite":
		return sqlstore.Open(ctx, sqlstore.Config{Dialect: sqlstore.SQLite, DSN: cfg.DSN, Logger: logger})
	case "postgres":
		return sqlstore.Open(ctx, sqlstore.Config{Dialect: sqlstore.Postgres, DSN: cfg.DSN, Logger: logger})
	case "firestore":
		return firestore.New(ctx, cfg.ProjectID, cfg.CollectionPrefix)
	default:
		return nil, fmt.Errorf("%w: unknown storage driver %q", errs.ErrInvalidArgument, cfg.Driver)
	}
}

// buildServer wires the application services over store.
func buildServer(cfg *config.Config, store storage.Store, logger *slog.Logger) *transport.Server {
	tokenConfig := auth.TokenStoreConfig{
		Store:          store,
		RefreshExpired: cfg.Google.RefreshExpired,
		Logger:         logger,
	}

	var oauth *auth.OAuthHandler
	if cfg.Google.ClientID != "" {
		oauth = auth.NewOAuthHandler(auth.OAuthConfig{
			ClientID:        cfg.Google.ClientID,
			ClientSecret:    cfg.Google.ClientSecret,
			RedirectURI:     cfg.Google.RedirectURI,
			SuccessRedirect: cfg.Google.SuccessRedirect,
		}, logger)
		tokenConfig.Refresher = oauth
	} else {
		logger.Warn("google oauth client not configured, tokens must be posted directly")
	}
	tokens := auth.NewTokenStore(tokenConfig)

	gw := gateway.New(gateway.Config{Logger: logger}, nil, nil)
	decks := deck.NewRepository(store, deck.Config{Logger: logger})
	sync := syncer.New(syncer.Config{Logger: logger}, decks, tokens, gw)
	orchestrator := chat.New(chat.Config{Logger: logger}, decks, tokens, store, gw)

	server := transport.NewServer(transport.ServerConfig{
		Port:            cfg.HTTP.Port,
		ReadTimeout:     cfg.HTTP.ReadTimeout,
		WriteTimeout:    cfg.HTTP.WriteTimeout,
		IdleTimeout:     cfg.HTTP.IdleTimeout,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
		AllowedOrigins:  cfg.HTTP.AllowedOrigins,
		Logger:          logger,
	}, transport.NewAPI(decks, sync, orchestrator, tokens, logger))

	server.SetIdentityMiddleware(middleware.NewIdentity(middleware.IdentityConfig{
		Secret: []byte(cfg.Auth.JWTSecret),
		Issuer: cfg.Auth.Issuer,
		Logger: logger,
	}))
	if oauth != nil {
		oauth.SetOnTokenFunc(tokens.StoreOAuthToken)
		server.SetAuthHandler(oauth)
	}
	if cfg.RateLimit.RequestsPerSecond > 0 {
		server.SetRateLimitMiddleware(ratelimit.New(ratelimit.Config{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			BurstSize:         cfg.RateLimit.Burst,
			Logger:            logger,
		}))
	}
	server.SetupRoutes()
	return server
}
