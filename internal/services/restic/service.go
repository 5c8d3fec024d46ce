// Package restic wraps the external restic executable.
package restic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/resticron/resticron/internal/models"
	"github.com/rs/zerolog"
)

// ErrRepositoryNotFound indicates the repository check failed with the
// tool's "no repository here" class of output, meaning init is needed.
// Any other check failure is reported as-is and never treated as
// absence.
var ErrRepositoryNotFound = errors.New("repository not found")

// Service defines the interface for restic operations. Secrets
// (repository password, object-storage keys) arrive via env and are
// passed to the subprocess environment only, never on the command line.
type Service interface {
	CheckRepository(ctx context.Context, cfg models.ResticConfig, env []string) error
	Init(ctx context.Context, cfg models.ResticConfig, env []string) error
	Backup(ctx context.Context, cfg models.ResticConfig, env []string, settings models.BackupSettings) (*models.BackupResult, error)
	Stats(ctx context.Context, cfg models.ResticConfig, env []string) (*models.StatsResult, error)
	Forget(ctx context.Context, cfg models.ResticConfig, env []string, policy models.RetentionPolicy) (*models.ForgetResult, error)
	Snapshots(ctx context.Context, cfg models.ResticConfig, env []string) ([]models.Snapshot, error)
}

// CommandExecutor allows mocking exec.Command in tests.
type CommandExecutor interface {
	ExecuteWithEnv(ctx context.Context, env []string, name string, args ...string) ([]byte, error)
}

// DefaultExecutor is the default command executor using os/exec.
type DefaultExecutor struct{}

// ExecuteWithEnv runs a command with additional environment variables,
// returning combined stdout and stderr.
func (e *DefaultExecutor) ExecuteWithEnv(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)
	return cmd.CombinedOutput()
}

// Impl implements the Service interface.
type Impl struct {
	executor CommandExecutor
	logger   zerolog.Logger
}

// New creates a new restic service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		executor: &DefaultExecutor{},
		logger:   logger,
	}
}

// NewWithExecutor creates a new restic service with a custom executor (for testing).
func NewWithExecutor(logger zerolog.Logger, executor CommandExecutor) *Impl {
	return &Impl{
		executor: executor,
		logger:   logger,
	}
}

// opContext bounds a single subprocess invocation. An external tool
// hang must not block the orchestrator indefinitely.
func opContext(ctx context.Context, cfg models.ResticConfig) (context.Context, context.CancelFunc) {
	if cfg.CommandTimeout > 0 {
		return context.WithTimeout(ctx, cfg.CommandTimeout)
	}
	return context.WithCancel(ctx)
}

func repoArgs(cfg models.ResticConfig, sub string, rest ...string) []string {
	return append([]string{"-r", cfg.Repository, sub}, rest...)
}

// absenceMarkers are the output fragments restic emits when the
// repository genuinely does not exist, as opposed to auth or network
// failure.
var absenceMarkers = []string{
	"is there a repository at",
	"repository does not exist",
	"unable to open config file",
}

// CheckRepository probes the repository with a lightweight snapshot
// listing. It returns nil when the repository exists,
// ErrRepositoryNotFound when the output indicates absence, and the
// underlying failure otherwise.
func (s *Impl) CheckRepository(ctx context.Context, cfg models.ResticConfig, env []string) error {
	s.logger.Debug().Str("repository", cfg.Repository).Msg("checking repository")

	ctx, cancel := opContext(ctx, cfg)
	defer cancel()

	output, err := s.executor.ExecuteWithEnv(ctx, env, cfg.Binary, repoArgs(cfg, "snapshots", "--json", "--latest", "1")...)
	if err == nil {
		return nil
	}

	lower := strings.ToLower(string(output))
	for _, marker := range absenceMarkers {
		if strings.Contains(lower, marker) {
			return fmt.Errorf("%w: %s", ErrRepositoryNotFound, cfg.Repository)
		}
	}

	return fmt.Errorf("repository check failed: %w, output: %s", err, string(output))
}

// Init initializes the repository. Running it against an
// already-initialized repository is tolerated.
func (s *Impl) Init(ctx context.Context, cfg models.ResticConfig, env []string) error {
	s.logger.Info().Str("repository", cfg.Repository).Msg("initializing repository")

	ctx, cancel := opContext(ctx, cfg)
	defer cancel()

	output, err := s.executor.ExecuteWithEnv(ctx, env, cfg.Binary, repoArgs(cfg, "init")...)
	if err != nil {
		lower := strings.ToLower(string(output))
		if strings.Contains(lower, "already initialized") || strings.Contains(lower, "already exists") {
			s.logger.Info().Msg("repository already initialized")
			return nil
		}
		return fmt.Errorf("failed to initialize repository: %w, output: %s", err, string(output))
	}

	s.logger.Info().Msg("repository initialized successfully")
	return nil
}

// backupSummary is the summary part of restic backup --json output.
type backupSummary struct {
	MessageType         string `json:"message_type"`
	FilesNew            int    `json:"files_new"`
	FilesChanged        int    `json:"files_changed"`
	FilesUnmodified     int    `json:"files_unmodified"`
	DataAdded           int64  `json:"data_added"`
	TotalFilesProcessed int    `json:"total_files_processed"`
	TotalBytesProcessed int64  `json:"total_bytes_processed"`
	SnapshotID          string `json:"snapshot_id"`
}

// Backup performs a backup of the configured source. A nonzero exit is
// recorded in the result, not returned as an error, so the run can
// proceed to retention and notification.
func (s *Impl) Backup(ctx context.Context, cfg models.ResticConfig, env []string, settings models.BackupSettings) (*models.BackupResult, error) {
	s.logger.Info().Str("source", settings.Source).Msg("starting backup")

	start := time.Now()
	ctx, cancel := opContext(ctx, cfg)
	defer cancel()

	args := []string{settings.Source, "--json"}
	if cfg.UseFSSnapshot {
		args = append(args, "--use-fs-snapshot")
	}

	output, err := s.executor.ExecuteWithEnv(ctx, env, cfg.Binary, repoArgs(cfg, "backup", args...)...)
	if err != nil {
		return &models.BackupResult{
			Duration: time.Since(start),
			Error:    fmt.Errorf("backup failed: %w, output: %s", err, string(output)),
		}, nil
	}

	// Find the summary line in the streamed JSON output.
	var summary backupSummary
	for _, line := range bytes.Split(output, []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var msg struct {
			MessageType string `json:"message_type"`
		}
		if err := json.Unmarshal(line, &msg); err != nil {
			continue
		}
		if msg.MessageType == "summary" {
			if err := json.Unmarshal(line, &summary); err != nil {
				s.logger.Warn().Err(err).Msg("failed to parse backup summary")
			}
			break
		}
	}

	result := &models.BackupResult{
		SnapshotID:          summary.SnapshotID,
		FilesNew:            summary.FilesNew,
		FilesChanged:        summary.FilesChanged,
		FilesUnmodified:     summary.FilesUnmodified,
		DataAdded:           summary.DataAdded,
		TotalFilesProcessed: summary.TotalFilesProcessed,
		TotalBytesProcessed: summary.TotalBytesProcessed,
		Duration:            time.Since(start),
	}

	s.logger.Info().
		Str("snapshot_id", result.SnapshotID).
		Int("files_new", result.FilesNew).
		Int("files_changed", result.FilesChanged).
		Int64("data_added", result.DataAdded).
		Dur("duration", result.Duration).
		Msg("backup completed")

	return result, nil
}

// statsJSON is the structure returned by restic stats --json.
type statsJSON struct {
	TotalSize      int64 `json:"total_size"`
	TotalFileCount int   `json:"total_file_count"`
}

// Stats queries aggregate repository size. Failure to run or parse
// degrades to an empty total size; it never fails the run.
func (s *Impl) Stats(ctx context.Context, cfg models.ResticConfig, env []string) (*models.StatsResult, error) {
	s.logger.Debug().Msg("querying repository stats")

	ctx, cancel := opContext(ctx, cfg)
	defer cancel()

	output, err := s.executor.ExecuteWithEnv(ctx, env, cfg.Binary, repoArgs(cfg, "stats", "--json")...)
	if err != nil {
		return &models.StatsResult{
			Error: fmt.Errorf("stats failed: %w, output: %s", err, string(output)),
		}, nil
	}

	var stats statsJSON
	if err := json.Unmarshal(output, &stats); err != nil {
		s.logger.Warn().Err(err).Msg("could not parse stats output")
		return &models.StatsResult{}, nil
	}

	return &models.StatsResult{
		TotalSize:      formatBytes(stats.TotalSize),
		TotalFileCount: stats.TotalFileCount,
	}, nil
}

// forgetGroup is the JSON structure returned by restic forget --json.
type forgetGroup struct {
	Keep   []json.RawMessage `json:"keep"`
	Remove []json.RawMessage `json:"remove"`
}

// Forget removes old snapshots according to the retention policy. Only
// flags for counts that are actually set are passed to the tool.
func (s *Impl) Forget(ctx context.Context, cfg models.ResticConfig, env []string, policy models.RetentionPolicy) (*models.ForgetResult, error) {
	s.logger.Info().Msg("applying retention policy")

	start := time.Now()
	ctx, cancel := opContext(ctx, cfg)
	defer cancel()

	args := []string{"--json"}
	keeps := []struct {
		flag  string
		count *int
	}{
		{"--keep-last", policy.KeepLast},
		{"--keep-daily", policy.KeepDaily},
		{"--keep-weekly", policy.KeepWeekly},
		{"--keep-monthly", policy.KeepMonthly},
		{"--keep-yearly", policy.KeepYearly},
	}
	for _, k := range keeps {
		if k.count != nil {
			args = append(args, k.flag, strconv.Itoa(*k.count))
		}
	}

	output, err := s.executor.ExecuteWithEnv(ctx, env, cfg.Binary, repoArgs(cfg, "forget", append([]string{"--prune"}, args...)...)...)
	if err != nil {
		return &models.ForgetResult{
			Duration: time.Since(start),
			Error:    fmt.Errorf("forget failed: %w, output: %s", err, string(output)),
		}, nil
	}

	// Forget with --prune prints prune progress after the JSON groups;
	// count kept/removed snapshots from the leading JSON if present.
	var groups []forgetGroup
	if err := json.Unmarshal(firstJSONValue(output), &groups); err != nil {
		s.logger.Debug().Err(err).Msg("could not parse forget output")
	}

	result := &models.ForgetResult{
		Duration: time.Since(start),
	}
	for _, group := range groups {
		result.SnapshotsKept += len(group.Keep)
		result.SnapshotsRemoved += len(group.Remove)
	}

	s.logger.Info().
		Int("kept", result.SnapshotsKept).
		Int("removed", result.SnapshotsRemoved).
		Dur("duration", result.Duration).
		Msg("retention policy applied")

	return result, nil
}

// snapshotJSON is the JSON structure returned by restic snapshots --json.
type snapshotJSON struct {
	ID       string    `json:"id"`
	Time     time.Time `json:"time"`
	Hostname string    `json:"hostname"`
	Tags     []string  `json:"tags"`
	Paths    []string  `json:"paths"`
}

// Snapshots returns the snapshots in the repository.
func (s *Impl) Snapshots(ctx context.Context, cfg models.ResticConfig, env []string) ([]models.Snapshot, error) {
	s.logger.Debug().Msg("listing snapshots")

	ctx, cancel := opContext(ctx, cfg)
	defer cancel()

	output, err := s.executor.ExecuteWithEnv(ctx, env, cfg.Binary, repoArgs(cfg, "snapshots", "--json")...)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w, output: %s", err, string(output))
	}

	var snapshots []snapshotJSON
	if err := json.Unmarshal(output, &snapshots); err != nil {
		return nil, fmt.Errorf("failed to parse snapshots: %w", err)
	}

	result := make([]models.Snapshot, len(snapshots))
	for i, snap := range snapshots {
		result[i] = models.Snapshot{
			ID:       snap.ID,
			Time:     snap.Time,
			Hostname: snap.Hostname,
			Tags:     snap.Tags,
			Paths:    snap.Paths,
		}
	}

	s.logger.Debug().Int("count", len(result)).Msg("snapshots listed")
	return result, nil
}

// firstJSONValue trims output to the first complete top-level JSON
// value so trailing plain-text prune progress does not break parsing.
func firstJSONValue(output []byte) []byte {
	dec := json.NewDecoder(bytes.NewReader(output))
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return output
	}
	return raw
}

// formatBytes formats bytes into human-readable form.
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
