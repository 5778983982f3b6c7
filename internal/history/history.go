// Package history persists room traffic as append-only log files, one
// file per room.
package history

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const timestampLayout = "2006-01-02 15:04:05"

// Log writes room history under a single directory.
type Log struct {
	dir string
}

// New ensures the history directory exists and returns a sink for it.
func New(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	return &Log{dir: dir}, nil
}

// Append writes one timestamped line to the room's log file.
func (l *Log) Append(room, user, text string, at time.Time) error {
	path := filepath.Join(l.dir, sanitize(room)+".log")

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open room log: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "[%s] %s: %s\n", at.Format(timestampLayout), user, text); err != nil {
		return fmt.Errorf("write room log: %w", err)
	}
	return nil
}

// sanitize maps a room name to a path-safe file stem. Room names are
// client-supplied and must never escape the history directory.
func sanitize(room string) string {
	var b strings.Builder
	for _, r := range room {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}
