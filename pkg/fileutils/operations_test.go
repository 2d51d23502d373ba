package fileutils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestCopyFileNoOverwrite(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.epub")
	dst := filepath.Join(dir, "library", "author", "book", "abc.epub")
	writeFile(t, src, "first")

	copied, err := CopyFileNoOverwrite(src, dst)
	require.NoError(t, err)
	assert.True(t, copied)

	writeFile(t, src, "second")
	copied, err = CopyFileNoOverwrite(src, dst)
	require.NoError(t, err)
	assert.False(t, copied)

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))
}

func TestCopyFileNoOverwrite_MissingSource(t *testing.T) {
	dir := t.TempDir()
	_, err := CopyFileNoOverwrite(filepath.Join(dir, "missing"), filepath.Join(dir, "dst"))
	require.Error(t, err)
	assert.False(t, Exists(filepath.Join(dir, "dst")))
}

func TestMoveFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "source", "a.mobi")
	dst := filepath.Join(dir, "processed", "nested", "a.mobi")
	writeFile(t, src, "content")

	require.NoError(t, MoveFile(src, dst))
	assert.False(t, Exists(src))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "content", string(data))
}

func TestRemoveEmptyDirs(t *testing.T) {
	dir := t.TempDir()
	emptyTree := filepath.Join(dir, "empty")
	require.NoError(t, os.MkdirAll(filepath.Join(emptyTree, "a", "b"), 0755))

	removed, err := RemoveEmptyDirs(emptyTree)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.False(t, Exists(emptyTree))

	full := filepath.Join(dir, "full")
	writeFile(t, filepath.Join(full, "sub", "keep.txt"), "x")
	require.NoError(t, os.MkdirAll(filepath.Join(full, "drop"), 0755))

	removed, err = RemoveEmptyDirs(full)
	require.NoError(t, err)
	assert.False(t, removed)
	assert.True(t, Exists(filepath.Join(full, "sub", "keep.txt")))
	assert.False(t, Exists(filepath.Join(full, "drop")))

	removed, err = RemoveEmptyDirs(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.False(t, removed)
}
