// Package logging provides the per-run log file.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// timestampLayout is embedded in the log file name so concurrent or
// repeated runs never share a file.
const timestampLayout = "20060102150405"

// RunLog is a single run's log file with an attached logger. Lines are
// written as "<timestamp> [<LEVEL>] <project>: <message>" and the file
// is opened in append mode, never truncated.
type RunLog struct {
	Logger zerolog.Logger
	Path   string
	file   *os.File
}

// NewRunLog opens the log file for a run starting at start. The file is
// named "<prefix>-<YYYYMMDDHHMMSS>.log".
func NewRunLog(prefix, project string, start time.Time) (*RunLog, error) {
	path := fmt.Sprintf("%s-%s.log", prefix, start.Format(timestampLayout))

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating log directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640) //nolint:gosec // path derives from config
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}

	writer := zerolog.ConsoleWriter{
		Out:        f,
		NoColor:    true,
		TimeFormat: "2006-01-02 15:04:05",
		PartsOrder: []string{
			zerolog.TimestampFieldName,
			zerolog.LevelFieldName,
			zerolog.MessageFieldName,
		},
		FormatLevel: func(i interface{}) string {
			return "[" + strings.ToUpper(fmt.Sprint(i)) + "]"
		},
		FormatMessage: func(i interface{}) string {
			return fmt.Sprintf("%s: %v", project, i)
		},
	}

	return &RunLog{
		Logger: zerolog.New(writer).With().Timestamp().Logger(),
		Path:   path,
		file:   f,
	}, nil
}

// Close flushes and closes the underlying file.
func (l *RunLog) Close() error {
	return l.file.Close()
}
