package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the configuration file without executing any backup operations.`,
	RunE:  validateConfig,
}

func validateConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("configuration validation failed")
		return err
	}

	// Print configuration summary
	fmt.Println("Configuration is valid!")
	fmt.Println()
	fmt.Println("Summary:")
	fmt.Printf("  Project: %s\n", cfg.Project)
	fmt.Printf("  Repository: %s\n", cfg.Restic.Repository)
	fmt.Printf("  Source: %s\n", cfg.Backup.Source)
	fmt.Printf("  Log prefix: %s\n", cfg.LogPath)
	fmt.Printf("  Command timeout: %s\n", cfg.Restic.CommandTimeout)
	fmt.Println()
	fmt.Println("Optional Features:")
	fmt.Printf("  Retention: %v\n", cfg.Retention != nil)
	fmt.Printf("  Email report: %v\n", cfg.Email != nil)
	fmt.Printf("  S3 credentials: %v\n", cfg.S3 != nil)
	fmt.Printf("  Wake-on-LAN: %v\n", cfg.Target != nil && cfg.Target.WOL != nil)
	fmt.Printf("  SSH Shutdown: %v\n", cfg.Target != nil && cfg.Target.Shutdown != nil)

	if cfg.Retention != nil {
		fmt.Println()
		fmt.Println("Retention Policy:")
		printKeep := func(name string, count *int) {
			if count != nil {
				fmt.Printf("  Keep %s: %d\n", name, *count)
			}
		}
		printKeep("last", cfg.Retention.KeepLast)
		printKeep("daily", cfg.Retention.KeepDaily)
		printKeep("weekly", cfg.Retention.KeepWeekly)
		printKeep("monthly", cfg.Retention.KeepMonthly)
		printKeep("yearly", cfg.Retention.KeepYearly)
	}

	if cfg.Email != nil {
		fmt.Println()
		fmt.Println("Email Configuration:")
		fmt.Printf("  SMTP server: %s:%d\n", cfg.Email.SMTPServer, cfg.Email.SMTPPort)
		fmt.Printf("  From: %s\n", cfg.Email.From)
		fmt.Printf("  To: %s\n", cfg.Email.To)
		fmt.Printf("  Subject: %s\n", cfg.Email.Subject)
	}

	if cfg.Target != nil && cfg.Target.WOL != nil {
		fmt.Println()
		fmt.Println("WOL Configuration:")
		fmt.Printf("  MAC Address: %s\n", cfg.Target.WOL.MACAddress)
		fmt.Printf("  Broadcast IP: %s\n", cfg.Target.WOL.BroadcastIP)
		if cfg.Target.WOL.PollURL != "" {
			fmt.Printf("  Poll URL: %s\n", cfg.Target.WOL.PollURL)
		}
	}

	if cfg.Target != nil && cfg.Target.Shutdown != nil {
		fmt.Println()
		fmt.Println("SSH Shutdown Configuration:")
		fmt.Printf("  Host: %s:%d\n", cfg.Target.Shutdown.Host, cfg.Target.Shutdown.Port)
		fmt.Printf("  Username: %s\n", cfg.Target.Shutdown.Username)
		fmt.Printf("  Shutdown Delay: %d minute(s)\n", cfg.Target.Shutdown.ShutdownDelay)
	}

	return nil
}
