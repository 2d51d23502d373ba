package converter

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ebook-convert")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755))
	return path
}

func writeInput(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "book.epub")
	require.NoError(t, os.WriteFile(path, []byte("epub bytes"), 0644))
	return path
}

func TestConvert_Success(t *testing.T) {
	script := writeScript(t, `cp "$1" "$2"`)
	input := writeInput(t)
	output := filepath.Join(filepath.Dir(input), "book.mobi")

	c := New(script, nil, 10*time.Second)
	require.NoError(t, c.Convert(context.Background(), input, output))

	got, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "epub bytes", string(got))
}

func TestConvert_NonZeroExit(t *testing.T) {
	script := writeScript(t, `echo "unsupported input" >&2; exit 3`)
	input := writeInput(t)

	err := New(script, nil, 10*time.Second).Convert(context.Background(), input, input+".mobi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "code 3")
	assert.Contains(t, err.Error(), "unsupported input")
}

func TestConvert_MissingOutput(t *testing.T) {
	script := writeScript(t, `exit 0`)
	input := writeInput(t)

	err := New(script, nil, 10*time.Second).Convert(context.Background(), input, input+".txt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no output")
}

func TestConvert_Timeout(t *testing.T) {
	script := writeScript(t, `echo partial > "$2"; exec sleep 10`)
	input := writeInput(t)
	output := input + ".mobi"

	start := time.Now()
	err := New(script, nil, 200*time.Millisecond).Convert(context.Background(), input, output)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 8*time.Second)

	_, statErr := os.Stat(output)
	assert.True(t, os.IsNotExist(statErr))
}

func TestConvert_NotInstalled(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "missing"), []string{"/nonexistent/ebook-convert"}, time.Second)

	assert.False(t, c.Available(context.Background()))
	err := c.Convert(context.Background(), "in.epub", "out.mobi")
	assert.ErrorIs(t, err, ErrNotInstalled)
}

func TestConvert_UsesFallbackPath(t *testing.T) {
	script := writeScript(t, `cp "$1" "$2"`)
	c := New("/nonexistent/ebook-convert", []string{script}, 10*time.Second)

	assert.True(t, c.Available(context.Background()))
}

func TestConvert_PicksUpLateInstall(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ebook-convert")
	c := New(path, nil, 10*time.Second)

	assert.False(t, c.Available(ctx))
	assert.ErrorIs(t, c.Convert(ctx, "in.epub", "out.mobi"), ErrNotInstalled)

	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\ncp \"$1\" \"$2\"\n"), 0755))
	assert.True(t, c.Available(ctx))

	input := writeInput(t)
	output := filepath.Join(filepath.Dir(input), "book.mobi")
	require.NoError(t, c.Convert(ctx, input, output))

	require.NoError(t, os.Remove(path))
	assert.True(t, c.Available(ctx), "a found binary stays cached")
}
