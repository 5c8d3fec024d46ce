// Package models contains the data structures used throughout resticron.
package models

import "time"

// Config holds the complete configuration for a backup run.
type Config struct {
	Project   string
	LogPath   string // log file prefix; a timestamp is appended per run
	Restic    ResticConfig
	Backup    BackupSettings
	Retention *RetentionPolicy // nil if not configured
	Email     *EmailSettings   // nil if not configured
	S3        *S3Credentials   // nil unless the repository is an object-storage target
	Target    *TargetConfig    // nil if not configured
}

// ResticConfig holds the backup tool and repository configuration.
type ResticConfig struct {
	Binary         string // path to the restic executable, must exist on disk
	Repository     string // SFTP path or S3 bucket path
	Password       string
	UseFSSnapshot  bool
	CommandTimeout time.Duration // per-subprocess bound; 0 disables
}

// BackupSettings holds backup-specific settings.
type BackupSettings struct {
	Source string
}

// RetentionPolicy defines how many snapshots to keep at each
// granularity. A nil field means the corresponding --keep flag is not
// passed to restic at all.
type RetentionPolicy struct {
	KeepLast    *int
	KeepDaily   *int
	KeepWeekly  *int
	KeepMonthly *int
	KeepYearly  *int
}

// Empty reports whether no retention count is set.
func (p *RetentionPolicy) Empty() bool {
	if p == nil {
		return true
	}
	return p.KeepLast == nil && p.KeepDaily == nil && p.KeepWeekly == nil &&
		p.KeepMonthly == nil && p.KeepYearly == nil
}

// EmailSettings holds SMTP notification configuration.
type EmailSettings struct {
	SMTPServer string
	SMTPPort   int
	Username   string
	Password   string
	From       string
	To         string
	Subject    string
}

// S3Credentials holds object-storage access keys, passed to restic via
// environment only.
type S3Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
}
