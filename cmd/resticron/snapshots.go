package main

import (
	"fmt"
	"strings"

	"github.com/resticron/resticron/internal/services/runner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "List snapshots in the repository",
	Long:  `List the snapshots stored in the configured repository.`,
	RunE:  listSnapshots,
}

func listSnapshots(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	runnerSvc := runner.New(log.Logger)
	snapshots, err := runnerSvc.ListSnapshots(ctx, *cfg)
	if err != nil {
		log.Error().Err(err).Msg("failed to list snapshots")
		return err
	}

	if len(snapshots) == 0 {
		fmt.Println("No snapshots found.")
		return nil
	}

	fmt.Printf("%-10s %-20s %-15s %s\n", "ID", "Time", "Host", "Paths")
	for _, snap := range snapshots {
		id := snap.ID
		if len(id) > 8 {
			id = id[:8]
		}
		fmt.Printf("%-10s %-20s %-15s %s\n",
			id,
			snap.Time.Format("2006-01-02 15:04:05"),
			snap.Hostname,
			strings.Join(snap.Paths, ", "),
		)
	}
	fmt.Printf("\n%d snapshot(s)\n", len(snapshots))

	return nil
}
