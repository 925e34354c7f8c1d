package fsutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, fsys FileSystem, name string, data []byte) {
	t.Helper()
	w, err := fsys.Create(name)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func TestFileSystems_CreateAndRead(t *testing.T) {
	t.Parallel()

	for name, tc := range map[string]struct {
		fsys FileSystem
		root string
	}{
		"os":     {OSFileSystem{}, t.TempDir()},
		"memory": {NewMemoryFileSystem(), "/plots"},
	} {
		t.Run(name, func(t *testing.T) {
			dir := filepath.Join(tc.root, "run", "a")
			require.NoError(t, tc.fsys.MkdirAll(dir, 0o755))
			assert.True(t, tc.fsys.Exists(dir))

			file := filepath.Join(dir, "distributions_ref_000001.png")
			assert.False(t, tc.fsys.Exists(file))
			writeFile(t, tc.fsys, file, []byte("png"))
			assert.True(t, tc.fsys.Exists(file))

			got, err := tc.fsys.ReadFile(file)
			require.NoError(t, err)
			assert.Equal(t, []byte("png"), got)

			_, err = tc.fsys.ReadFile(filepath.Join(dir, "missing.png"))
			assert.Error(t, err)
		})
	}
}

func TestMemoryFileSystem_CreateNeedsDir(t *testing.T) {
	t.Parallel()

	m := NewMemoryFileSystem()
	_, err := m.Create("/nowhere/file.png")
	assert.Error(t, err)

	require.NoError(t, m.MkdirAll("/nowhere", 0o755))
	writeFile(t, m, "/nowhere/file.png", nil)
	assert.Equal(t, []string{"/nowhere/file.png"}, m.Files())
}

func TestMemoryFileSystem_Truncate(t *testing.T) {
	t.Parallel()

	m := NewMemoryFileSystem()
	require.NoError(t, m.MkdirAll("out", 0o755))
	writeFile(t, m, "out/a.png", []byte("first"))
	writeFile(t, m, "out/./a.png", []byte("2"))

	got, err := m.ReadFile("out/a.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), got)
	assert.Equal(t, []string{"out/a.png"}, m.Files())
}

func TestMemoryFileSystem_ReadIsCopy(t *testing.T) {
	t.Parallel()

	m := NewMemoryFileSystem()
	writeFile(t, m, "a.png", []byte("abc"))
	got, err := m.ReadFile("a.png")
	require.NoError(t, err)
	got[0] = 'x'

	again, err := m.ReadFile("a.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again)
}
