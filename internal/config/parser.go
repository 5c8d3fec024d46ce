// Package config provides configuration file parsing.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/resticron/resticron/internal/models"
	"github.com/spf13/viper"
)

// Sentinel errors for the two ways loading can fail before the content
// is even interpreted.
var (
	// ErrNotFound indicates the config path does not resolve to a
	// readable file.
	ErrNotFound = errors.New("config file not found")

	// ErrMalformed indicates the file content could not be parsed into
	// the expected shape.
	ErrMalformed = errors.New("config file malformed")
)

const defaultCommandTimeout = 2 * time.Hour

// Parser handles configuration file parsing.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new configuration parser.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")
	return &Parser{v: v}
}

// LoadFile loads configuration from a file path.
func (p *Parser) LoadFile(path string) (*models.Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	p.v.SetConfigFile(path)
	if err := p.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	return p.parse()
}

// LoadReader loads configuration from a string (useful for testing).
func (p *Parser) LoadReader(content string) (*models.Config, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	return p.parse()
}

//nolint:gocognit,gocyclo // parsing config requires checking many fields
func (p *Parser) parse() (*models.Config, error) {
	cfg := &models.Config{
		Project: p.v.GetString("project"),
		LogPath: p.v.GetString("log_path"),
	}

	if cfg.Project == "" {
		return nil, fmt.Errorf("%w: project is required", ErrMalformed)
	}

	// Parse restic config (required).
	cfg.Restic = models.ResticConfig{
		Binary:         p.expandEnv(p.v.GetString("restic.binary")),
		Repository:     p.expandEnv(p.v.GetString("restic.repository")),
		Password:       p.expandEnv(p.v.GetString("restic.password")),
		UseFSSnapshot:  p.v.GetBool("restic.use_fs_snapshot"),
		CommandTimeout: p.v.GetDuration("restic.command_timeout"),
	}

	if cfg.Restic.Binary == "" {
		return nil, fmt.Errorf("%w: restic.binary is required", ErrMalformed)
	}
	if cfg.Restic.Repository == "" {
		return nil, fmt.Errorf("%w: restic.repository is required", ErrMalformed)
	}
	if cfg.Restic.Password == "" {
		return nil, fmt.Errorf("%w: restic.password is required", ErrMalformed)
	}
	if !p.v.IsSet("restic.command_timeout") {
		cfg.Restic.CommandTimeout = defaultCommandTimeout
	}

	// Parse backup settings (required).
	cfg.Backup = models.BackupSettings{
		Source: p.expandEnv(p.v.GetString("backup.source")),
	}
	if cfg.Backup.Source == "" {
		return nil, fmt.Errorf("%w: backup.source is required", ErrMalformed)
	}

	// Default the log prefix next to the temp dir; a timestamp is
	// appended per run so runs never collide.
	if cfg.LogPath == "" {
		cfg.LogPath = os.TempDir() + string(os.PathSeparator) + cfg.Project
	}

	// Parse optional retention policy. Each count only becomes a flag
	// when explicitly set; negatives are rejected.
	if p.v.IsSet("retention") {
		policy := &models.RetentionPolicy{}
		counts := []struct {
			key  string
			dest **int
		}{
			{"retention.keep_last", &policy.KeepLast},
			{"retention.keep_daily", &policy.KeepDaily},
			{"retention.keep_weekly", &policy.KeepWeekly},
			{"retention.keep_monthly", &policy.KeepMonthly},
			{"retention.keep_yearly", &policy.KeepYearly},
		}
		for _, c := range counts {
			if !p.v.IsSet(c.key) {
				continue
			}
			n := p.v.GetInt(c.key)
			if n < 0 {
				return nil, fmt.Errorf("%w: %s must not be negative", ErrMalformed, c.key)
			}
			*c.dest = &n
		}
		if policy.Empty() {
			return nil, fmt.Errorf("%w: retention is configured but no keep count is set", ErrMalformed)
		}
		cfg.Retention = policy
	}

	// Parse optional email settings.
	if p.v.IsSet("email") {
		cfg.Email = &models.EmailSettings{
			SMTPServer: p.v.GetString("email.smtp_server"),
			SMTPPort:   p.v.GetInt("email.smtp_port"),
			Username:   p.v.GetString("email.username"),
			Password:   p.expandEnv(p.v.GetString("email.password")),
			From:       p.v.GetString("email.from"),
			To:         p.v.GetString("email.to"),
			Subject:    p.v.GetString("email.subject"),
		}

		if cfg.Email.SMTPServer == "" {
			return nil, fmt.Errorf("%w: email.smtp_server is required when email is configured", ErrMalformed)
		}
		if cfg.Email.SMTPPort == 0 {
			cfg.Email.SMTPPort = 587
		}
		if cfg.Email.From == "" {
			return nil, fmt.Errorf("%w: email.from is required when email is configured", ErrMalformed)
		}
		if cfg.Email.To == "" {
			return nil, fmt.Errorf("%w: email.to is required when email is configured", ErrMalformed)
		}
		if cfg.Email.Subject == "" {
			cfg.Email.Subject = fmt.Sprintf("Backup report: %s", cfg.Project)
		}
	}

	// Parse optional object-storage credentials.
	if p.v.IsSet("s3") {
		cfg.S3 = &models.S3Credentials{
			AccessKeyID:     p.expandEnv(p.v.GetString("s3.access_key_id")),
			SecretAccessKey: p.expandEnv(p.v.GetString("s3.secret_access_key")),
		}

		if cfg.S3.AccessKeyID == "" || cfg.S3.SecretAccessKey == "" {
			return nil, fmt.Errorf("%w: s3.access_key_id and s3.secret_access_key are required when s3 is configured", ErrMalformed)
		}
	}

	// Parse optional storage-target lifecycle config.
	if p.v.IsSet("target") { //nolint:nestif // config parsing with defaults
		cfg.Target = &models.TargetConfig{}

		if p.v.IsSet("target.wol") {
			cfg.Target.WOL = &models.WOLConfig{
				MACAddress:    p.v.GetString("target.wol.mac_address"),
				BroadcastIP:   p.v.GetString("target.wol.broadcast_ip"),
				PollURL:       p.v.GetString("target.wol.poll_url"),
				Timeout:       p.v.GetDuration("target.wol.timeout"),
				PollInterval:  p.v.GetDuration("target.wol.poll_interval"),
				StabilizeWait: p.v.GetDuration("target.wol.stabilize_wait"),
			}

			if cfg.Target.WOL.MACAddress == "" {
				return nil, fmt.Errorf("%w: target.wol.mac_address is required when target.wol is configured", ErrMalformed)
			}
			if cfg.Target.WOL.BroadcastIP == "" {
				cfg.Target.WOL.BroadcastIP = "255.255.255.255"
			}
			if cfg.Target.WOL.Timeout == 0 {
				cfg.Target.WOL.Timeout = 5 * time.Minute
			}
			if cfg.Target.WOL.PollInterval == 0 {
				cfg.Target.WOL.PollInterval = 10 * time.Second
			}
			if cfg.Target.WOL.StabilizeWait == 0 {
				cfg.Target.WOL.StabilizeWait = 10 * time.Second
			}
		}

		if p.v.IsSet("target.shutdown") {
			cfg.Target.Shutdown = &models.ShutdownConfig{
				Host:          p.v.GetString("target.shutdown.host"),
				Port:          p.v.GetInt("target.shutdown.port"),
				Username:      p.v.GetString("target.shutdown.username"),
				KeyPath:       p.expandEnv(p.v.GetString("target.shutdown.key_path")),
				ShutdownDelay: p.v.GetInt("target.shutdown.delay"),
			}

			if cfg.Target.Shutdown.Host == "" {
				return nil, fmt.Errorf("%w: target.shutdown.host is required when target.shutdown is configured", ErrMalformed)
			}
			if cfg.Target.Shutdown.KeyPath == "" {
				return nil, fmt.Errorf("%w: target.shutdown.key_path is required when target.shutdown is configured", ErrMalformed)
			}
			if cfg.Target.Shutdown.Port == 0 {
				cfg.Target.Shutdown.Port = 22
			}
			if cfg.Target.Shutdown.Username == "" {
				cfg.Target.Shutdown.Username = "root"
			}
			if cfg.Target.Shutdown.ShutdownDelay == 0 {
				cfg.Target.Shutdown.ShutdownDelay = 1
			}
		}
	}

	return cfg, nil
}

// expandEnv expands environment variables in the format ${VAR} or $VAR.
func (p *Parser) expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate performs validation on an already-loaded configuration.
func Validate(cfg *models.Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	if cfg.Project == "" {
		return fmt.Errorf("project is required")
	}
	if cfg.Restic.Binary == "" {
		return fmt.Errorf("restic.binary is required")
	}
	if cfg.Restic.Repository == "" {
		return fmt.Errorf("restic.repository is required")
	}
	if cfg.Restic.Password == "" {
		return fmt.Errorf("restic.password is required")
	}
	if cfg.Backup.Source == "" {
		return fmt.Errorf("backup.source is required")
	}

	return nil
}
