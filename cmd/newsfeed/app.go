package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"newsfeed/internal/config"
	"newsfeed/internal/db"
	"newsfeed/internal/fetcher"
	"newsfeed/internal/ingest"
	"newsfeed/internal/logger"
	"newsfeed/internal/server"
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "newsfeed",
		Usage: "Ingest BOFiP and BOSS regulatory news feeds",
		Description: `Fetches the BOFiP (tax) and BOSS (social security) RSS feeds,
		normalizes their entries and upserts them by URL.

		Flags can generally be set via environment variables, e.g.:

		--database-url => DATABASE_URL=postgres://...
		--cron-secret => NEWSFEED_CRON_SECRET=...
		`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to a JSON or YAML config file",
				EnvVars: []string{"NEWSFEED_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Postgres DSN, or sqlite:<path> / :memory: for an embedded store",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"NEWSFEED_LOG_LEVEL"},
			},
		},
		Commands: []*cli.Command{
			serveCmd(),
			runCmd(),
			migrateCmd(),
			seedCmd(),
		},
		Action: func(ctx *cli.Context) error {
			return ctx.App.Run([]string{"", "help"})
		},
	}
}

// loadConfig читает файл конфигурации и накладывает значения флагов и окружения.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("config load error: %w", err)
	}
	if v := c.String("database-url"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := c.String("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if c.IsSet("addr") {
		cfg.Addr = c.String("addr")
	}
	if v := c.String("cron-secret"); v != "" {
		cfg.CronSecret = v
	}
	if c.IsSet("poll-interval") {
		cfg.PollInterval = c.Int("poll-interval")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger.Init(cfg.LogLevel)
	return cfg, nil
}

func openStore(ctx context.Context, cfg *config.Config) (db.Store, error) {
	if err := cfg.RequireStore(); err != nil {
		return nil, err
	}
	store, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("DB connection error: %w", err)
	}
	return store, nil
}

func newRunner(cfg *config.Config, store db.Store) *ingest.Runner {
	f := fetcher.New(
		fetcher.WithTimeout(cfg.FetchTimeout()),
		fetcher.WithMaxAttempts(cfg.Fetch.MaxAttempts),
		fetcher.WithRetryDelays(cfg.RetryDelays()),
		fetcher.WithUserAgent(cfg.Fetch.UserAgent),
	)
	return ingest.NewRunner(store, f, ingest.Options{
		DefaultURLs: cfg.Sources.DefaultURLs,
		Fallbacks:   cfg.Sources.Fallbacks,
	})
}

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the ingestion trigger and the news API",
		Description: `Starts the HTTP server with the authenticated ingestion trigger
		(/api/ingest), the news read API, /health and /metrics. With a non-zero
		poll interval the ingestion also runs periodically in the background.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Usage:   "HTTP listen address",
				EnvVars: []string{"NEWSFEED_ADDR"},
				Value:   ":8080",
			},
			&cli.StringFlag{
				Name:    "cron-secret",
				Usage:   "Shared secret required by the ingestion trigger",
				EnvVars: []string{"NEWSFEED_CRON_SECRET"},
			},
			&cli.IntFlag{
				Name:    "poll-interval",
				Usage:   "Background ingestion interval in seconds (0 disables polling)",
				EnvVars: []string{"NEWSFEED_POLL_INTERVAL"},
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			defer logger.Log.Info("Application stopped")

			ctx, cancel := context.WithCancel(c.Context)
			defer cancel()

			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := cfg.RequireSecret(); err != nil {
				logger.Log.WithError(err).Warn("Ingestion trigger will reject every request")
			}

			runner := newRunner(cfg, store)
			if every := cfg.PollEvery(); every > 0 {
				go ingest.StartPolling(ctx, runner, every)
			}

			srv := server.NewServer(runner, store, cfg.CronSecret,
				server.NewLimiter(cfg.Trigger.RatePerMinute, cfg.Trigger.Burst))
			httpServer := &http.Server{
				Addr:              cfg.Addr,
				Handler:           srv.Routes(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Log.Infof("Starting HTTP server on %s", cfg.Addr)
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			select {
			case <-quit:
			case err := <-errCh:
				return fmt.Errorf("server error: %w", err)
			}

			logger.Log.Info("Shutting down...")
			cancel()
			ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelShutdown()

			if err := httpServer.Shutdown(ctxShutdown); err != nil {
				return fmt.Errorf("forced shutdown: %w", err)
			}
			return nil
		},
	}
}

func runCmd() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run one ingestion pass and print the result",
		Description: `Runs the ingestion once for every active source and prints the
		result as JSON. Exits non-zero only when the sources cannot be loaded;
		per-source failures are reported in the output.`,
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			store, err := openStore(c.Context, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			result, err := newRunner(cfg, store).Run(c.Context)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}

			enc := json.NewEncoder(c.App.Writer)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
}

func migrateCmd() *cli.Command {
	return &cli.Command{
		Name:        "migrate",
		Usage:       "Run database migrations",
		Description: `Applies the Postgres schema migrations. Embedded SQLite stores create their schema on open.`,
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if err := cfg.RequireStore(); err != nil {
				return err
			}
			return db.Migrate(cfg.DatabaseURL)
		},
	}
}

func seedCmd() *cli.Command {
	return &cli.Command{
		Name:        "seed-sources",
		Usage:       "Upsert feed sources from a TOML file",
		Description: `Reads [[sources]] tables from a TOML file and upserts them into feed_sources.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "file",
				Usage:   "Path to the sources TOML file",
				EnvVars: []string{"NEWSFEED_SOURCES_FILE"},
				Value:   "sources.toml",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			seed, err := db.LoadSeed(c.String("file"))
			if err != nil {
				return err
			}
			store, err := openStore(c.Context, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := db.Seed(c.Context, store, seed)
			if err != nil {
				return err
			}
			logger.Log.WithField("sources", n).Info("Feed sources seeded")
			return nil
		},
	}
}
