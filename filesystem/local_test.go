package filesystem

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFS(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0777))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "a.txt"), []byte("local"), 0666))
	require.NoError(t, os.Symlink(filepath.Join(dir, "sub"), filepath.Join(dir, "link")))

	localFS := NewLocalFS(dir)
	require.NoError(t, localFS.CheckDir())

	nav := NewNavigator(localFS.Root())
	assert.Equal(t, "/", nav.Path())

	entries, err := nav.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1, "symlinks are skipped")
	assert.Equal(t, "sub", entries[0].Name())

	require.NoError(t, nav.ChangePath("/sub"))
	assert.Equal(t, "/sub", nav.Path())
	assert.Error(t, nav.ChangePath("a.txt"))

	f, err := nav.LookupFile("a.txt")
	require.NoError(t, err)
	data, err := f.Read()
	require.NoError(t, err)
	assert.Equal(t, []byte("local"), data)
	assert.EqualValues(t, 5, f.Size())

	require.NoError(t, f.Write([]byte("rewritten")))
	onDisk, err := os.ReadFile(filepath.Join(dir, "sub", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "rewritten", string(onDisk))

	require.NoError(t, f.Open())
	again, err := nav.LookupFile("a.txt")
	require.NoError(t, err)
	assert.ErrorIs(t, again.Open(), ErrAlreadyOpen, "open flag is shared by every node of the same path")
	require.NoError(t, again.Close())
	assert.ErrorIs(t, f.Close(), ErrNotOpen)

	creator, ok := nav.Current().(Creator)
	require.True(t, ok)
	_, err = creator.MakeDirectory("made")
	require.NoError(t, err)
	assert.DirExists(t, filepath.Join(dir, "sub", "made"))
	_, err = creator.CreateFile("made")
	assert.ErrorIs(t, err, ErrExist)
	_, err = creator.CreateFile("../escape")
	assert.ErrorIs(t, err, ErrInvalidName)

	nav.Parent()
	assert.Equal(t, "/", nav.Path())
}

func TestLocalFS_CheckDir(t *testing.T) {
	assert.Error(t, NewLocalFS(filepath.Join(t.TempDir(), "missing")).CheckDir())
}
