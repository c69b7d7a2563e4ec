// Package files reads directory snapshots for the client's file browser and
// watches directories for changes.
package files

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"gdb-bridge/internal/logger"
	"gdb-bridge/internal/protocol"
)

// dateModLayout renders modification dates like "Mon Oct 19 2026".
const dateModLayout = "Mon Jan 02 2006"

// Lister produces directory snapshots. It holds no state between calls.
type Lister struct {
	log *logger.Logger
}

// NewLister creates a Lister.
func NewLister(log *logger.Logger) *Lister {
	return &Lister{log: log}
}

// List returns the entries of dir in the order the OS enumerates them.
// Entries that cannot be stat'ed are skipped.
func (l *Lister) List(dir string) ([]protocol.DirectoryEntry, error) {
	f, err := os.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("read directory %s: %w", dir, err)
	}
	defer f.Close()

	names, err := f.Readdirnames(-1)
	if err != nil {
		return nil, fmt.Errorf("read directory %s: %w", dir, err)
	}

	entries := make([]protocol.DirectoryEntry, 0, len(names))
	for _, name := range names {
		entry, err := statEntry(filepath.Join(dir, name), name)
		if err != nil {
			l.log.Warn("skipping directory entry", zap.String("dir", dir), zap.String("name", name), zap.Error(err))
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// entryType returns the extension of a file name, ignoring leading dots so
// that ".bashrc" has none. Directories have no type.
func entryType(name string, isDir bool) string {
	if isDir {
		return ""
	}
	return filepath.Ext(strings.TrimLeft(name, "."))
}

func formatDateMod(t time.Time) string {
	return t.Format(dateModLayout)
}

func formatStatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func unixMillis(t time.Time) int64 {
	return t.UnixNano() / int64(time.Millisecond)
}
