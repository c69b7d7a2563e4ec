//go:build !linux

package files

import (
	"os"

	"gdb-bridge/internal/protocol"
)

// statEntry stats path, following symlinks. A dangling link is described by
// the link itself. Only the portable os.FileInfo fields are filled in.
func statEntry(path, name string) (protocol.DirectoryEntry, error) {
	info, err := os.Stat(path)
	if err != nil {
		var lerr error
		if info, lerr = os.Lstat(path); lerr != nil {
			return protocol.DirectoryEntry{}, err
		}
	}

	mtime := info.ModTime()
	return protocol.DirectoryEntry{
		Name:    name,
		Type:    entryType(name, info.IsDir()),
		IsDir:   info.IsDir(),
		DateMod: formatDateMod(mtime),
		Size:    info.Size(),
		Mode:    uint32(info.Mode()),
		MtimeMs: unixMillis(mtime),
		Mtime:   formatStatTime(mtime),
	}, nil
}
