// Package scheduler runs the backup job on a daily schedule.
package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Service defines the interface for scheduling daily runs.
type Service interface {
	RunDaily(ctx context.Context, at string, job func()) error
}

// Impl implements the scheduler Service interface.
type Impl struct {
	logger zerolog.Logger
}

// New creates a new scheduler service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{logger: logger}
}

// cronSpec converts a wall-clock "HH:MM" time into a daily cron spec.
func cronSpec(at string) (string, error) {
	parts := strings.Split(at, ":")
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid time %q, expected HH:MM", at)
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return "", fmt.Errorf("invalid hour in %q", at)
	}

	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return "", fmt.Errorf("invalid minute in %q", at)
	}

	return fmt.Sprintf("%d %d * * *", minute, hour), nil
}

// RunDaily schedules job to run every day at the given wall-clock time
// and blocks until the context is cancelled.
func (s *Impl) RunDaily(ctx context.Context, at string, job func()) error {
	spec, err := cronSpec(at)
	if err != nil {
		return err
	}

	c := cron.New()
	if _, err := c.AddFunc(spec, job); err != nil {
		return fmt.Errorf("failed to schedule job: %w", err)
	}

	s.logger.Info().Str("at", at).Str("spec", spec).Msg("daily schedule started")
	c.Start()

	<-ctx.Done()

	s.logger.Info().Msg("stopping scheduler")
	stopCtx := c.Stop()
	// Let an in-flight run finish before returning.
	<-stopCtx.Done()

	return nil
}
