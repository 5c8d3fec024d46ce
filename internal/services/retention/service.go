// Package retention applies snapshot retention policies after a backup.
package retention

import (
	"context"

	"github.com/resticron/resticron/internal/models"
	"github.com/resticron/resticron/internal/services/restic"
	"github.com/rs/zerolog"
)

// Service defines the interface for retention enforcement.
type Service interface {
	Enforce(ctx context.Context, cfg models.ResticConfig, env []string, policy *models.RetentionPolicy) (*models.ForgetResult, error)
}

// Impl implements the Service interface.
type Impl struct {
	restic restic.Service
	logger zerolog.Logger
}

// New creates a new retention service.
func New(logger zerolog.Logger, resticService restic.Service) *Impl {
	return &Impl{
		restic: resticService,
		logger: logger,
	}
}

// Enforce prunes snapshots according to the policy. A nil policy means
// retention is not configured for this project and nothing runs at all,
// so no snapshot is ever removed by default.
func (s *Impl) Enforce(ctx context.Context, cfg models.ResticConfig, env []string, policy *models.RetentionPolicy) (*models.ForgetResult, error) {
	if policy == nil {
		s.logger.Debug().Msg("no retention policy configured, skipping")
		return nil, nil
	}

	return s.restic.Forget(ctx, cfg, env, *policy)
}
