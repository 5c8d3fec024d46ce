package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/resticron/resticron/internal/config"
	"github.com/resticron/resticron/internal/models"
	"github.com/resticron/resticron/internal/services/runner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute the backup workflow once",
	Long: `Execute the complete backup workflow:
1. Wake the storage target (if configured)
2. Check the repository, initializing it if it does not exist
3. Backup the configured source
4. Query repository statistics
5. Apply the retention policy (if configured)
6. Shut down the storage target (if configured)
7. Send an email report (if configured)

The process exits nonzero when any step of the run failed.`,
	RunE: runBackup,
}

// loadConfig loads and validates the configuration file given via the
// persistent --config flag.
func loadConfig() (*models.Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("config file is required, use --config")
	}

	parser := config.NewParser()
	cfg, err := parser.LoadFile(configFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to load config")
		return nil, err
	}

	if err := config.Validate(cfg); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return nil, err
	}

	return cfg, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("received signal, shutting down")
		cancel()
	}()

	return ctx, cancel
}

func runBackup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log.Info().
		Str("config", configFile).
		Str("project", cfg.Project).
		Str("repository", cfg.Restic.Repository).
		Msg("configuration loaded")

	ctx, cancel := signalContext()
	defer cancel()

	runnerSvc := runner.New(log.Logger)
	report, err := runnerSvc.Run(ctx, *cfg)
	if err != nil {
		log.Error().Err(err).Msg("backup run aborted")
		return err
	}

	if report.Status == models.StatusFailure {
		return fmt.Errorf("backup run failed at step %s: %s", report.FailedStep, report.ErrorMessage)
	}

	log.Info().Str("log_file", report.LogFilePath).Msg("backup completed successfully")
	return nil
}
