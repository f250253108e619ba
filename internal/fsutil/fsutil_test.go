package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectByExtension(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	for _, name := range []string{"top.v", "sub/inner.v", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte("x"), 0o644))
	}

	files, err := CollectByExtension(root, ".v")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, filepath.Join(root, "sub", "inner.v"), files[0])
	assert.Equal(t, filepath.Join(root, "top.v"), files[1])

	_, err = CollectByExtension(root, "")
	assert.Error(t, err)
}

func TestCopyFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "a.v")
	dst := filepath.Join(dir, "b.v")
	require.NoError(t, os.WriteFile(src, []byte("module a; endmodule\n"), 0o644))

	require.NoError(t, CopyFile(src, dst))
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "module a; endmodule\n", string(got))
}
