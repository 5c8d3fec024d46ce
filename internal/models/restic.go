package models

import "time"

// BackupResult holds the result of a backup operation.
type BackupResult struct {
	SnapshotID          string
	FilesNew            int
	FilesChanged        int
	FilesUnmodified     int
	DataAdded           int64
	TotalFilesProcessed int
	TotalBytesProcessed int64
	Duration            time.Duration
	Error               error
}

// ForgetResult holds the result of a forget --prune operation.
type ForgetResult struct {
	SnapshotsRemoved int
	SnapshotsKept    int
	Duration         time.Duration
	Error            error
}

// StatsResult holds aggregate repository statistics. TotalSize is empty
// when the stats call failed or its output could not be parsed.
type StatsResult struct {
	TotalSize      string
	TotalFileCount int
	Error          error
}

// Snapshot represents a restic snapshot.
type Snapshot struct {
	ID       string
	Time     time.Time
	Hostname string
	Tags     []string
	Paths    []string
}
