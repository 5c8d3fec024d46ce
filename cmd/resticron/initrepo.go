package main

import (
	"github.com/resticron/resticron/internal/services/runner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the repository",
	Long: `Initialize the configured repository if it does not exist yet.
Initializing an already-existing repository is a no-op.`,
	RunE: initRepository,
}

func initRepository(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	runnerSvc := runner.New(log.Logger)
	if err := runnerSvc.InitRepository(ctx, *cfg); err != nil {
		log.Error().Err(err).Msg("failed to initialize repository")
		return err
	}

	log.Info().Str("repository", cfg.Restic.Repository).Msg("repository ready")
	return nil
}
