package files

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gdb-bridge/internal/logger"
	"gdb-bridge/internal/protocol"
)

func newTestLister() *Lister {
	return NewLister(logger.Nop())
}

func byName(entries []protocol.DirectoryEntry) map[string]protocol.DirectoryEntry {
	m := make(map[string]protocol.DirectoryEntry, len(entries))
	for _, e := range entries {
		m[e.Name] = e
	}
	return m
}

func TestList_EmptyDir(t *testing.T) {
	entries, err := newTestLister().List(t.TempDir())
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestList_MatchesReadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.c"), []byte("int main(){}"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Makefile"), []byte("all:"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gdbinit"), []byte("set pagination off"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "build.d"), 0755))

	entries, err := newTestLister().List(dir)
	require.NoError(t, err)

	want, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, len(want))

	got := byName(entries)
	for _, de := range want {
		e, ok := got[de.Name()]
		require.True(t, ok, "missing entry %s", de.Name())
		assert.Equal(t, de.IsDir(), e.IsDir, "isDir of %s", de.Name())
	}

	assert.Equal(t, ".c", got["main.c"].Type)
	assert.Equal(t, "", got["Makefile"].Type)
	assert.Equal(t, "", got[".gdbinit"].Type)
	assert.Equal(t, "", got["build.d"].Type)
	assert.Equal(t, int64(len("int main(){}")), got["main.c"].Size)
}

func TestList_DateModAndTimestamps(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "core.dump")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	mtime := time.Date(2024, time.March, 5, 12, 0, 0, 0, time.Local)
	require.NoError(t, os.Chtimes(path, mtime, mtime))

	entries, err := newTestLister().List(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	assert.Equal(t, "Tue Mar 05 2024", entries[0].DateMod)
	assert.Equal(t, mtime.UnixMilli(), entries[0].MtimeMs)
	assert.NotEmpty(t, entries[0].Mtime)
}

func TestList_Idempotent(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.s", "b.o", "c.h"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name), 0644))
	}

	l := newTestLister()
	first, err := l.List(dir)
	require.NoError(t, err)
	second, err := l.List(dir)
	require.NoError(t, err)

	sort.Slice(first, func(i, j int) bool { return first[i].Name < first[j].Name })
	sort.Slice(second, func(i, j int) bool { return second[i].Name < second[j].Name })
	assert.Equal(t, first, second)
}

func TestList_DanglingSymlinkIsListed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Symlink(filepath.Join(dir, "gone"), filepath.Join(dir, "link")))

	entries, err := newTestLister().List(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "link", entries[0].Name)
	assert.False(t, entries[0].IsDir)
}

func TestList_SymlinkToDirFollowsTarget(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "src"), 0755))
	require.NoError(t, os.Symlink(filepath.Join(dir, "src"), filepath.Join(dir, "src-link")))

	entries, err := newTestLister().List(dir)
	require.NoError(t, err)
	assert.True(t, byName(entries)["src-link"].IsDir)
}

func TestList_MissingDir(t *testing.T) {
	_, err := newTestLister().List(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestList_PathIsFile(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(f, []byte("x"), 0644))

	_, err := newTestLister().List(f)
	assert.Error(t, err)
}

func TestEntryType(t *testing.T) {
	tests := []struct {
		name  string
		isDir bool
		want  string
	}{
		{"main.c", false, ".c"},
		{"archive.tar.gz", false, ".gz"},
		{"Makefile", false, ""},
		{".bashrc", false, ""},
		{".config.yaml", false, ".yaml"},
		{"trailing.", false, "."},
		{"pkg.d", true, ""},
	}

	for _, tt := range tests {
		got := entryType(tt.name, tt.isDir)
		if got != tt.want {
			t.Errorf("entryType(%q, %v) = %q, want %q", tt.name, tt.isDir, got, tt.want)
		}
	}
}
