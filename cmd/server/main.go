// Package main runs the trade server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"tradepost/internal/config"
	apphttp "tradepost/internal/http"
	"tradepost/internal/integrations/webhook"
	"tradepost/internal/logging"
	"tradepost/internal/server"
	"tradepost/internal/service/audit"
	"tradepost/internal/service/market"
	"tradepost/internal/store"
	"tradepost/internal/store/jsonfile"
	"tradepost/internal/store/memory"
	"tradepost/internal/store/postgres"
)

const shutdownTimeout = 10 * time.Second

var (
	logger logrus.FieldLogger = logrus.StandardLogger()

	rootCmd = &cobra.Command{
		Use:          "tradepost-server",
		Short:        "Runs the item trading server.",
		SilenceUsage: true,
		RunE:         run,
	}
)

func init() {
	flags := rootCmd.Flags()
	flags.String("env-file", ".env", "dotenv file loaded before reading the environment")
	flags.String("listen", "", "trade protocol listen address (LISTEN_ADDR)")
	flags.String("admin", "", "admin HTTP listen address, empty disables it (ADMIN_ADDR)")
	flags.String("store", "", "store mode: json or postgres (STORE_MODE)")
	flags.String("items", "", "item catalog path (ITEMS_DB_PATH)")
	flags.String("users", "", "user database path (USERS_DB_PATH)")
	flags.Int("save-frequency", 0, "persist after this many trades (SAVE_FREQUENCY)")
	flags.String("log-level", "", "log level (LOG_LEVEL)")
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	flags := cmd.Flags()
	envFile, _ := flags.GetString("env-file")
	if err := config.LoadDotEnv(envFile); err != nil {
		logger.WithError(err).Warn("failed to load env file")
	}
	cfg := config.Load()

	overrides := map[string]*string{
		"listen":    &cfg.ListenAddr,
		"admin":     &cfg.AdminAddr,
		"store":     &cfg.StoreMode,
		"items":     &cfg.ItemsDBPath,
		"users":     &cfg.UsersDBPath,
		"log-level": &cfg.LogLevel,
	}
	for name, target := range overrides {
		if flags.Changed(name) {
			*target, _ = flags.GetString(name)
		}
	}
	if flags.Changed("save-frequency") {
		cfg.SaveFrequency, _ = flags.GetInt("save-frequency")
	}
	return cfg, cfg.Validate()
}

func openStore(ctx context.Context, cfg config.Config) (*memory.Store, error) {
	var backend store.Backend
	switch cfg.StoreMode {
	case config.StoreModePostgres:
		pg, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, err
		}
		if cfg.ItemsDBPath != "" {
			items, err := jsonfile.LoadCatalog(cfg.ItemsDBPath)
			if err != nil {
				_ = pg.Close()
				return nil, err
			}
			if err := pg.SeedItems(ctx, items); err != nil {
				_ = pg.Close()
				return nil, err
			}
		}
		backend = pg
	default:
		backend = jsonfile.New(cfg.ItemsDBPath, cfg.UsersDBPath)
	}

	st, err := memory.Open(ctx, backend)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return st, nil
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logging.SetLogger(cfg.LogLevel)

	ctx := cmd.Context()
	st, err := openStore(ctx, cfg)
	if err != nil {
		return errors.Wrap(err, "open store failed")
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.WithError(err).Warn("close store failed")
		}
	}()

	var publisher audit.Publisher
	if cfg.AuditWebhookURL != "" {
		publisher = webhook.NewClient(
			cfg.AuditWebhookURL,
			cfg.AuditWebhookTimeout,
			cfg.AuditWebhookMaxRetries,
			cfg.AuditWebhookRetryBase,
			cfg.AuditWebhookRetryMax,
		)
	}
	journal := audit.NewJournal(cfg.AuditJournalSize, publisher)

	m := market.New(st, market.Settings{
		MinBonus:                cfg.MinLoginBonus,
		MaxBonus:                cfg.MaxLoginBonus,
		SaveFrequency:           cfg.SaveFrequency,
		AllowSimultaneousLogins: cfg.AllowSimultaneousLogins,
	}, market.WithRecorder(journal))

	srv := server.New(server.Config{
		Addr:         cfg.ListenAddr,
		IdleTimeout:  cfg.IdleTimeout,
		WriteTimeout: cfg.ClientTimeout,
		RatePerSec:   cfg.RequestRatePerSec,
		Burst:        cfg.RequestBurst,
	}, m)
	if err := srv.Listen(); err != nil {
		return err
	}

	errCh := make(chan error, 2)
	go func() { errCh <- srv.Serve(context.Background()) }()

	var adminServer *http.Server
	if cfg.AdminAddr != "" {
		adminServer = &http.Server{
			Addr:         cfg.AdminAddr,
			Handler:      apphttp.NewServer(cfg, m, journal).Router(),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			logger.WithField("addr", cfg.AdminAddr).Info("admin API listening")
			if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- errors.Wrap(err, "admin server failed")
			}
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	var runErr error
	select {
	case sig := <-stop:
		logger.WithField("signal", sig.String()).Info("shutting down")
	case runErr = <-errCh:
		logger.WithError(runErr).Error("server stopped unexpectedly")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if adminServer != nil {
		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("admin shutdown failed")
		}
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("graceful shutdown failed")
		if runErr == nil {
			runErr = err
		}
	}
	if err := journal.Close(shutdownCtx); err != nil {
		logger.WithError(err).Warn("audit journal did not drain")
	}
	return runErr
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Fatal(errors.Wrap(err, "execute root command failed"))
	}
}
