package main

import (
	"github.com/resticron/resticron/internal/models"
	"github.com/resticron/resticron/internal/services/runner"
	"github.com/resticron/resticron/internal/services/scheduler"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var scheduleAt string

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the backup workflow daily at a fixed time",
	Long: `Stay resident and execute the backup workflow every day at the given
wall-clock time. The process keeps running across individual run
failures; stop it with SIGINT or SIGTERM.`,
	RunE: scheduleRuns,
}

func init() {
	scheduleCmd.Flags().StringVar(&scheduleAt, "at", "02:00", "daily run time (HH:MM, local time)")
}

func scheduleRuns(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	runnerSvc := runner.New(log.Logger)
	schedulerSvc := scheduler.New(log.Logger)

	job := func() {
		report, err := runnerSvc.Run(ctx, *cfg)
		if err != nil {
			log.Error().Err(err).Msg("scheduled run aborted")
			return
		}
		if report.Status == models.StatusFailure {
			log.Error().
				Str("step", report.FailedStep).
				Str("error", report.ErrorMessage).
				Msg("scheduled run failed")
		}
	}

	return schedulerSvc.RunDaily(ctx, scheduleAt, job)
}
