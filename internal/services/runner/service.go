// Package runner orchestrates the backup workflow.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/resticron/resticron/internal/logging"
	"github.com/resticron/resticron/internal/models"
	"github.com/resticron/resticron/internal/secrets"
	"github.com/resticron/resticron/internal/services/mailer"
	"github.com/resticron/resticron/internal/services/restic"
	"github.com/resticron/resticron/internal/services/retention"
	"github.com/resticron/resticron/internal/services/target"
	"github.com/rs/zerolog"
)

// Service defines the interface for the backup runner.
type Service interface {
	Run(ctx context.Context, cfg models.Config) (*models.RunReport, error)
	ListSnapshots(ctx context.Context, cfg models.Config) ([]models.Snapshot, error)
	InitRepository(ctx context.Context, cfg models.Config) error
}

// Impl implements the runner Service interface.
type Impl struct {
	resticSvc    restic.Service
	retentionSvc retention.Service
	targetSvc    target.Service
	mailerSvc    mailer.Service
	logger       zerolog.Logger
}

// New creates a new runner service.
func New(logger zerolog.Logger) *Impl {
	resticSvc := restic.New(logger)
	return &Impl{
		resticSvc:    resticSvc,
		retentionSvc: retention.New(logger, resticSvc),
		targetSvc:    target.New(logger),
		mailerSvc:    mailer.New(logger),
		logger:       logger,
	}
}

// NewWithServices creates a new runner service with custom services (for testing).
func NewWithServices(
	logger zerolog.Logger,
	resticSvc restic.Service,
	retentionSvc retention.Service,
	targetSvc target.Service,
	mailerSvc mailer.Service,
) *Impl {
	return &Impl{
		resticSvc:    resticSvc,
		retentionSvc: retentionSvc,
		targetSvc:    targetSvc,
		mailerSvc:    mailerSvc,
		logger:       logger,
	}
}

// secretVars collects the per-run secret environment variables. They
// live only inside a secrets.Scope for the duration of the run and are
// never placed on the command line or in the process environment.
func secretVars(cfg models.Config) map[string]string {
	vars := map[string]string{
		"RESTIC_PASSWORD": cfg.Restic.Password,
	}
	if cfg.S3 != nil {
		vars["AWS_ACCESS_KEY_ID"] = cfg.S3.AccessKeyID
		vars["AWS_SECRET_ACCESS_KEY"] = cfg.S3.SecretAccessKey
	}
	return vars
}

// Run executes the complete backup workflow for one project.
//
// Only two failures abort the run outright: the run log not being
// creatable and the backup tool not existing at its configured path.
// Every later step failure is recorded in the report and the run
// continues, so retention and notification still happen after a failed
// backup.
func (s *Impl) Run(ctx context.Context, cfg models.Config) (*models.RunReport, error) {
	startTime := time.Now()
	report := &models.RunReport{
		Project:    cfg.Project,
		Repository: cfg.Restic.Repository,
		Status:     models.StatusSuccess,
		StartTime:  startTime,
	}

	runLog, err := logging.NewRunLog(cfg.LogPath, cfg.Project, startTime)
	if err != nil {
		return nil, fmt.Errorf("failed to create run log: %w", err)
	}
	defer func() { _ = runLog.Close() }()
	report.LogFilePath = runLog.Path

	s.logger.Info().
		Str("project", cfg.Project).
		Str("repository", cfg.Restic.Repository).
		Str("log_file", runLog.Path).
		Msg("starting backup run")
	runLog.Logger.Info().Msgf("backup run started for repository %s", cfg.Restic.Repository)

	if _, err := os.Stat(cfg.Restic.Binary); err != nil {
		runLog.Logger.Error().Msgf("backup tool not found at %s: %v", cfg.Restic.Binary, err)
		report.Fail("validate", err)
		report.Duration = time.Since(startTime)
		return report, fmt.Errorf("backup tool not found at %s: %w", cfg.Restic.Binary, err)
	}

	err = secrets.With(secretVars(cfg), func(env []string) error {
		s.runSteps(ctx, cfg, env, runLog, report)
		return nil
	})
	if err != nil {
		// Cannot happen today, the step closure never returns an error.
		report.Fail("run", err)
	}

	if cfg.Target != nil && cfg.Target.Shutdown != nil {
		result, _ := s.targetSvc.Shutdown(ctx, *cfg.Target.Shutdown)
		if result.Error != nil {
			runLog.Logger.Error().Msgf("target shutdown failed: %v", result.Error)
			report.Fail("shutdown", result.Error)
		} else {
			runLog.Logger.Info().Msg("target shutdown initiated")
		}
	}

	report.Duration = time.Since(startTime)
	if report.Status == models.StatusSuccess {
		runLog.Logger.Info().Msgf("backup run completed successfully in %s", report.Duration.Round(time.Second))
	} else {
		runLog.Logger.Error().Msgf("backup run failed at step %s: %s", report.FailedStep, report.ErrorMessage)
	}

	// Notification is best-effort. A mail failure is logged but never
	// changes the outcome of the run.
	if cfg.Email != nil {
		result, _ := s.mailerSvc.SendReport(*cfg.Email, *report)
		if result.Error != nil {
			s.logger.Warn().Err(result.Error).Msg("failed to send email report")
			runLog.Logger.Warn().Msgf("failed to send email report: %v", result.Error)
		}
	}

	s.logger.Info().
		Str("status", string(report.Status)).
		Dur("duration", report.Duration).
		Msg("backup run finished")

	return report, nil
}

// runSteps performs the secret-scoped part of the workflow: wake,
// repository check and init, backup, stats, and retention.
func (s *Impl) runSteps(ctx context.Context, cfg models.Config, env []string, runLog *logging.RunLog, report *models.RunReport) {
	if cfg.Target != nil && cfg.Target.WOL != nil {
		result, _ := s.targetSvc.Wake(ctx, *cfg.Target.WOL)
		if result.Error != nil {
			runLog.Logger.Error().Msgf("failed to wake target: %v", result.Error)
			report.Fail("wake", result.Error)
		} else {
			runLog.Logger.Info().Msgf("target ready after %s", result.WaitDuration.Round(time.Second))
		}
	}

	if err := s.resticSvc.CheckRepository(ctx, cfg.Restic, env); err != nil {
		if errors.Is(err, restic.ErrRepositoryNotFound) {
			runLog.Logger.Info().Msg("repository not found, initializing")
			if initErr := s.resticSvc.Init(ctx, cfg.Restic, env); initErr != nil {
				runLog.Logger.Error().Msgf("repository init failed: %v", initErr)
				report.Fail("init", initErr)
			} else {
				runLog.Logger.Info().Msg("repository initialized")
			}
		} else {
			// Ambiguous check failure: do not risk an init against an
			// existing repository, let the backup surface the problem.
			runLog.Logger.Warn().Msgf("repository check inconclusive: %v", err)
		}
	}

	backupResult, _ := s.resticSvc.Backup(ctx, cfg.Restic, env, cfg.Backup)
	if backupResult.Error != nil {
		runLog.Logger.Error().Msgf("backup failed: %v", backupResult.Error)
		report.Fail("backup", backupResult.Error)
	} else {
		report.SnapshotID = backupResult.SnapshotID
		runLog.Logger.Info().Msgf(
			"backup completed: snapshot %s, %d new files, %d changed, %d bytes added",
			backupResult.SnapshotID, backupResult.FilesNew, backupResult.FilesChanged, backupResult.DataAdded,
		)
	}

	statsResult, _ := s.resticSvc.Stats(ctx, cfg.Restic, env)
	if statsResult.Error != nil {
		runLog.Logger.Warn().Msgf("could not query repository stats: %v", statsResult.Error)
	} else {
		report.TotalSize = statsResult.TotalSize
		runLog.Logger.Info().Msgf("repository size: %s across %d files", statsResult.TotalSize, statsResult.TotalFileCount)
	}

	forgetResult, err := s.retentionSvc.Enforce(ctx, cfg.Restic, env, cfg.Retention)
	if err != nil {
		runLog.Logger.Error().Msgf("retention enforcement failed: %v", err)
		report.Fail("retention", err)
	} else if forgetResult != nil {
		if forgetResult.Error != nil {
			runLog.Logger.Error().Msgf("retention enforcement failed: %v", forgetResult.Error)
			report.Fail("retention", forgetResult.Error)
		} else {
			report.SnapshotsKept = forgetResult.SnapshotsKept
			report.SnapshotsRemoved = forgetResult.SnapshotsRemoved
			runLog.Logger.Info().Msgf("retention applied: kept %d, removed %d", forgetResult.SnapshotsKept, forgetResult.SnapshotsRemoved)
		}
	}
}

// ListSnapshots lists the snapshots in the configured repository.
func (s *Impl) ListSnapshots(ctx context.Context, cfg models.Config) ([]models.Snapshot, error) {
	var snapshots []models.Snapshot
	err := secrets.With(secretVars(cfg), func(env []string) error {
		var listErr error
		snapshots, listErr = s.resticSvc.Snapshots(ctx, cfg.Restic, env)
		return listErr
	})
	return snapshots, err
}

// InitRepository initializes the configured repository if it does not
// exist yet. Initializing an existing repository is a no-op.
func (s *Impl) InitRepository(ctx context.Context, cfg models.Config) error {
	return secrets.With(secretVars(cfg), func(env []string) error {
		err := s.resticSvc.CheckRepository(ctx, cfg.Restic, env)
		if err == nil {
			s.logger.Info().Msg("repository already initialized")
			return nil
		}
		if errors.Is(err, restic.ErrRepositoryNotFound) {
			return s.resticSvc.Init(ctx, cfg.Restic, env)
		}
		return err
	})
}
