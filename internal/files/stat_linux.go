package files

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"

	"gdb-bridge/internal/protocol"
)

const statxMask = unix.STATX_BASIC_STATS | unix.STATX_BTIME

// statEntry stats path, following symlinks. A dangling link is described by
// the link itself. Kernels without statx fall back to stat, which has no
// birth time.
func statEntry(path, name string) (protocol.DirectoryEntry, error) {
	var stx unix.Statx_t
	err := unix.Statx(unix.AT_FDCWD, path, 0, statxMask, &stx)
	if err != nil {
		if errors.Is(err, unix.ENOSYS) {
			return statFallback(path, name)
		}
		if lerr := unix.Statx(unix.AT_FDCWD, path, unix.AT_SYMLINK_NOFOLLOW, statxMask, &stx); lerr != nil {
			return protocol.DirectoryEntry{}, err
		}
	}

	mode := uint32(stx.Mode)
	isDir := mode&unix.S_IFMT == unix.S_IFDIR
	mtime := statxTime(stx.Mtime)
	atime := statxTime(stx.Atime)
	ctime := statxTime(stx.Ctime)

	entry := protocol.DirectoryEntry{
		Name:    name,
		Type:    entryType(name, isDir),
		IsDir:   isDir,
		DateMod: formatDateMod(mtime),

		Size:    int64(stx.Size),
		Mode:    mode,
		MtimeMs: unixMillis(mtime),
		Mtime:   formatStatTime(mtime),

		Dev:     unix.Mkdev(stx.Dev_major, stx.Dev_minor),
		Ino:     stx.Ino,
		Nlink:   uint64(stx.Nlink),
		UID:     stx.Uid,
		GID:     stx.Gid,
		Rdev:    unix.Mkdev(stx.Rdev_major, stx.Rdev_minor),
		Blksize: int64(stx.Blksize),
		Blocks:  int64(stx.Blocks),
		AtimeMs: unixMillis(atime),
		CtimeMs: unixMillis(ctime),
		Atime:   formatStatTime(atime),
		Ctime:   formatStatTime(ctime),
	}

	// Not every filesystem records a birth time.
	if stx.Mask&unix.STATX_BTIME != 0 {
		btime := statxTime(stx.Btime)
		entry.BirthtimeMs = unixMillis(btime)
		entry.Birthtime = formatStatTime(btime)
	}
	return entry, nil
}

func statFallback(path, name string) (protocol.DirectoryEntry, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		if lerr := unix.Lstat(path, &st); lerr != nil {
			return protocol.DirectoryEntry{}, err
		}
	}

	isDir := uint32(st.Mode)&unix.S_IFMT == unix.S_IFDIR
	mtime := time.Unix(st.Mtim.Unix())
	atime := time.Unix(st.Atim.Unix())
	ctime := time.Unix(st.Ctim.Unix())

	return protocol.DirectoryEntry{
		Name:    name,
		Type:    entryType(name, isDir),
		IsDir:   isDir,
		DateMod: formatDateMod(mtime),

		Size:    int64(st.Size),
		Mode:    uint32(st.Mode),
		MtimeMs: unixMillis(mtime),
		Mtime:   formatStatTime(mtime),

		Dev:     uint64(st.Dev),
		Ino:     uint64(st.Ino),
		Nlink:   uint64(st.Nlink),
		UID:     st.Uid,
		GID:     st.Gid,
		Rdev:    uint64(st.Rdev),
		Blksize: int64(st.Blksize),
		Blocks:  int64(st.Blocks),
		AtimeMs: unixMillis(atime),
		CtimeMs: unixMillis(ctime),
		Atime:   formatStatTime(atime),
		Ctime:   formatStatTime(ctime),
	}, nil
}

func statxTime(ts unix.StatxTimestamp) time.Time {
	return time.Unix(ts.Sec, int64(ts.Nsec))
}
