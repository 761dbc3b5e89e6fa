package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/brianly1003/nrelay/internal/app"
	"github.com/brianly1003/nrelay/internal/config"
	"github.com/brianly1003/nrelay/internal/store"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	host  string
	port  int
	dbDSN string
)

// startCmd represents the start command.
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the relay",
	Long: `Start the relay and accept WebSocket connections.

Settings are read from settings.yaml (see "nrelay config path") and from
NRELAY_* environment variables. Changes to the settings file are picked up
while the relay runs; listener, network and database settings need a restart.

Example:
  nrelay start
  nrelay start --port 7447
  nrelay start --config /etc/nrelay/settings.yaml
  nrelay start --dsn postgres://nrelay@localhost/nrelay?sslmode=disable`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVar(&host, "host", "", "bind address (default: 0.0.0.0)")
	startCmd.Flags().IntVar(&port, "port", 0, "listen port (default: 8008)")
	startCmd.Flags().StringVar(&dbDSN, "dsn", "", "database DSN; a postgres:// URL selects the postgres driver")
}

func runStart(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Override config with flags
	if host != "" {
		cfg.Server.Host = host
	}
	if port != 0 {
		cfg.Server.Port = port
	}
	if dbDSN != "" {
		cfg.Database.DSN = dbDSN
		if isPostgresDSN(dbDSN) {
			cfg.Database.Driver = store.DriverPostgres
		}
	}

	// Re-validate after overrides
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	setupLogging(cfg)

	log.Info().
		Str("version", version).
		Str("addr", cfg.Server.Addr()).
		Str("database", cfg.Database.Driver).
		Bool("redis", cfg.Redis.Enabled).
		Msg("starting nrelay")

	application, err := app.New(cfg, cfgFile, version)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("application error: %w", err)
	}

	return nil
}

func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

func isPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

func setupLogging(cfg *config.Config) {
	// Set log level
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Set output format
	if cfg.Logging.Format == "console" || verbose {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}
