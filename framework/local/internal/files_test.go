package internal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello"), 0o600))

	dst := filepath.Join(dir, "dst.txt")
	require.NoError(t, os.WriteFile(dst, []byte("a much longer previous content"), 0o600))

	require.NoError(t, CopyFile(src, dst))
	bz, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "hello", string(bz))

	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	require.NoError(t, CopyInto(src, sub))
	require.True(t, Exists(filepath.Join(sub, "src.txt")))

	require.Error(t, CopyFile(filepath.Join(dir, "missing"), dst))
}

func TestRemoveGlob(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"hopr-node_1.id", "hopr-node_2.id", "keep.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o600))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "hopr-node_3.id"), 0o755))

	removed, err := RemoveGlob(filepath.Join(dir, "hopr-node_*.id"))
	require.NoError(t, err)
	require.Len(t, removed, 2)
	require.False(t, Exists(filepath.Join(dir, "hopr-node_1.id")))
	require.True(t, Exists(filepath.Join(dir, "keep.txt")))
	require.True(t, Exists(filepath.Join(dir, "hopr-node_3.id")), "directories are left alone")
}
