package filex

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnsureSubDir_CreatesDirectory(t *testing.T) {
	tmp := t.TempDir()

	got, err := EnsureSubDir(tmp, "library")
	require.NoError(t, err)

	want := filepath.Join(tmp, "library")
	require.Equal(t, want, got)

	fi, err := os.Stat(want)
	require.NoError(t, err)
	require.True(t, fi.IsDir(), "should create a directory")

	if runtime.GOOS != "windows" {
		perm := fi.Mode().Perm()
		require.Equal(t, os.FileMode(0o700), perm&0o700)
	}
}

func TestEnsureSubDir_Idempotent(t *testing.T) {
	tmp := t.TempDir()

	first, err := EnsureSubDir(tmp, "downloads")
	require.NoError(t, err)

	second, err := EnsureSubDir(tmp, "downloads")
	require.NoError(t, err)

	require.Equal(t, first, second)
}

func TestEnsureSubDir_FailsIfFileWithSameNameExists(t *testing.T) {
	tmp := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmp, "library"), []byte("x"), 0o660))

	_, err := EnsureSubDir(tmp, "library")
	require.Error(t, err, "should fail when a file exists with the same name")
}

func TestFileURIRoundTrip(t *testing.T) {
	tmp := t.TempDir()
	p := filepath.Join(tmp, "zone1-photo123.jpg")

	uri := FileURI(p)
	require.Contains(t, uri, "file://")
	require.Equal(t, "zone1-photo123.jpg", ExtractFilename(uri))

	back, err := PathFromURI(uri)
	require.NoError(t, err)
	require.Equal(t, p, back)
}

func TestPathFromURI_PlainPath(t *testing.T) {
	got, err := PathFromURI("/var/data/a.jpg")
	require.NoError(t, err)
	require.Equal(t, filepath.FromSlash("/var/data/a.jpg"), got)
}

func TestExists(t *testing.T) {
	tmp := t.TempDir()
	p := filepath.Join(tmp, "f")
	require.False(t, Exists(p))
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o600))
	require.True(t, Exists(p))
	require.False(t, Exists(tmp), "directories are not files")
}

func TestMoveFile_RenamesIntoNewDir(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, "in.jpg")
	require.NoError(t, os.WriteFile(src, []byte("jpeg"), 0o600))

	dst := filepath.Join(tmp, "lib", "abc", "in.jpg")
	require.NoError(t, MoveFile(src, dst))

	b, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "jpeg", string(b))
	require.False(t, Exists(src))
}

func TestMoveFile_MissingSource(t *testing.T) {
	tmp := t.TempDir()
	err := MoveFile(filepath.Join(tmp, "nope"), filepath.Join(tmp, "out", "nope"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
