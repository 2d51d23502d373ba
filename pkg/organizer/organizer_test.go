package organizer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/booknest/booknest/pkg/converter"
	"github.com/booknest/booknest/pkg/formats"
	"github.com/booknest/booknest/pkg/retry"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConverter struct {
	calls []string
	errs  []error
}

func (f *fakeConverter) Convert(_ context.Context, input, output string) error {
	f.calls = append(f.calls, output)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return err
	}
	return os.WriteFile(output, []byte("converted from "+input), 0644)
}

func newTestOrganizer(t *testing.T, conv Converter) *Organizer {
	t.Helper()
	root := t.TempDir()
	o := New(Options{
		EbooksDir:    filepath.Join(root, "ebooks"),
		SourceDir:    filepath.Join(root, "source"),
		ProcessedDir: filepath.Join(root, "processed"),
		Converter:    conv,
		Retry:        retry.Options{MaxRetries: 3},
	})
	require.NoError(t, os.MkdirAll(o.sourceDir, 0755))
	return o
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestPaths(t *testing.T) {
	o := New(Options{EbooksDir: "/lib"})

	assert.Equal(t, "/lib/liu-cixin/the-three-body-problem/abc.epub", o.BuildBookPath("liu-cixin", "the-three-body-problem", "abc", formats.EPUB))
	assert.Equal(t, "/lib/liu-cixin/author.jpg", o.AuthorImagePath("liu-cixin"))
	assert.Equal(t, "/lib/liu-cixin/the-three-body-problem/book.jpg", o.BookImagePath("liu-cixin", "the-three-body-problem"))
	assert.Equal(t, "/lib/liu-cixin/series/remembrance-of-earths-past.jpg", o.SeriesImagePath("liu-cixin", "remembrance-of-earths-past"))
}

func TestCopyFile(t *testing.T) {
	ctx := context.Background()
	o := newTestOrganizer(t, nil)

	src := filepath.Join(o.sourceDir, "a", "book.epub")
	writeFile(t, src, "content")

	target, err := o.CopyFile(ctx, src, "author", "book", "deadbeef", formats.EPUB)
	require.NoError(t, err)
	assert.Equal(t, o.BuildBookPath("author", "book", "deadbeef", formats.EPUB), target)
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "content", string(data))

	t.Run("existing target is kept", func(t *testing.T) {
		writeFile(t, src, "changed")
		again, err := o.CopyFile(ctx, src, "author", "book", "deadbeef", formats.EPUB)
		require.NoError(t, err)
		assert.Equal(t, target, again)
		data, err := os.ReadFile(target)
		require.NoError(t, err)
		assert.Equal(t, "content", string(data))
	})

	t.Run("missing source with existing target", func(t *testing.T) {
		again, err := o.CopyFile(ctx, filepath.Join(o.sourceDir, "gone.epub"), "author", "book", "deadbeef", formats.EPUB)
		require.NoError(t, err)
		assert.Equal(t, target, again)
	})

	t.Run("invalid slug", func(t *testing.T) {
		_, err := o.CopyFile(ctx, src, "..", "book", "deadbeef", formats.EPUB)
		assert.Error(t, err)
	})
}

func TestMoveProcessedFile(t *testing.T) {
	ctx := context.Background()
	o := newTestOrganizer(t, nil)

	src := filepath.Join(o.sourceDir, "Author", "Book.epub")
	writeFile(t, src, "content")

	target, err := o.MoveProcessedFile(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(o.processedDir, "Author", "Book.epub"), target)
	assert.NoFileExists(t, src)
	assert.FileExists(t, target)

	t.Run("already moved", func(t *testing.T) {
		again, err := o.MoveProcessedFile(ctx, src)
		require.NoError(t, err)
		assert.Equal(t, target, again)
	})

	t.Run("outside source", func(t *testing.T) {
		outside := filepath.Join(filepath.Dir(o.sourceDir), "elsewhere.epub")
		writeFile(t, outside, "x")
		_, err := o.MoveProcessedFile(ctx, outside)
		assert.True(t, errors.Is(err, ErrOutsideSourceRoot))
		assert.FileExists(t, outside)
	})

	t.Run("traversal", func(t *testing.T) {
		_, err := o.MoveProcessedFile(ctx, filepath.Join(o.sourceDir, "..", "x.epub"))
		assert.True(t, errors.Is(err, ErrOutsideSourceRoot))
	})
}

func TestMoveProcessedFiles(t *testing.T) {
	ctx := context.Background()
	o := newTestOrganizer(t, nil)

	good := filepath.Join(o.sourceDir, "a.epub")
	writeFile(t, good, "a")
	missing := filepath.Join(o.sourceDir, "missing.epub")

	results := o.MoveProcessedFiles(ctx, []string{good, missing})
	require.Len(t, results, 2)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, filepath.Join(o.processedDir, "a.epub"), results[0].NewPath)
	assert.Error(t, results[1].Err)
}

func TestCleanEmptyFolders(t *testing.T) {
	ctx := context.Background()
	o := newTestOrganizer(t, nil)

	empty := filepath.Join(o.sourceDir, "Empty")
	require.NoError(t, os.MkdirAll(filepath.Join(empty, "nested", "deeper"), 0755))
	busy := filepath.Join(o.sourceDir, "Busy")
	writeFile(t, filepath.Join(busy, "left.txt"), "still here")

	cleaned, failed := o.CleanEmptyFolders(ctx, []string{empty, busy, o.sourceDir, empty})
	assert.Equal(t, []string{empty}, cleaned)
	assert.Equal(t, []string{o.sourceDir}, failed)
	assert.NoDirExists(t, empty)
	assert.DirExists(t, busy)
	assert.DirExists(t, o.sourceDir)
}

func TestSourceFolder(t *testing.T) {
	o := newTestOrganizer(t, nil)

	assert.Equal(t, filepath.Join(o.sourceDir, "Author"), o.SourceFolder(filepath.Join(o.sourceDir, "Author", "Sub", "b.epub")))
	assert.Equal(t, "", o.SourceFolder(filepath.Join(o.sourceDir, "b.epub")))
	assert.Equal(t, "", o.SourceFolder("/somewhere/else.epub"))
}

func TestConvertBook(t *testing.T) {
	ctx := context.Background()

	t.Run("converts missing targets from best source", func(t *testing.T) {
		conv := &fakeConverter{}
		o := newTestOrganizer(t, conv)
		writeFile(t, o.BuildBookPath("a", "b", "sha", formats.PDF), "pdf")
		writeFile(t, o.BuildBookPath("a", "b", "sha", formats.EPUB), "epub")

		report := o.ConvertBook(ctx, "a", "b", "sha", []formats.Format{formats.PDF, formats.EPUB})
		assert.Len(t, report.Converted, 2)
		assert.Empty(t, report.Failed)
		assert.Contains(t, report.Converted, formats.MOBI)
		assert.Contains(t, report.Converted, formats.TXT)

		data, err := os.ReadFile(report.Converted[formats.MOBI])
		require.NoError(t, err)
		assert.Contains(t, string(data), "sha.epub")
	})

	t.Run("existing output counts as converted", func(t *testing.T) {
		conv := &fakeConverter{}
		o := newTestOrganizer(t, conv)
		writeFile(t, o.BuildBookPath("a", "b", "sha", formats.EPUB), "epub")
		writeFile(t, o.BuildBookPath("a", "b", "sha", formats.MOBI), "mobi")

		report := o.ConvertBook(ctx, "a", "b", "sha", []formats.Format{formats.EPUB})
		assert.Len(t, report.Converted, 2)
		assert.Len(t, conv.calls, 1)
	})

	t.Run("timeout is not retried", func(t *testing.T) {
		conv := &fakeConverter{errs: []error{converter.ErrTimeout}}
		o := newTestOrganizer(t, conv)

		report := o.ConvertBook(ctx, "a", "b", "sha", []formats.Format{formats.EPUB, formats.TXT})
		assert.Contains(t, report.Failed, formats.MOBI)
		assert.Len(t, conv.calls, 1)
	})

	t.Run("transient failure is retried", func(t *testing.T) {
		conv := &fakeConverter{errs: []error{errors.New("resource temporarily unavailable")}}
		o := newTestOrganizer(t, conv)

		report := o.ConvertBook(ctx, "a", "b", "sha", []formats.Format{formats.EPUB, formats.TXT})
		assert.Contains(t, report.Converted, formats.MOBI)
		assert.Len(t, conv.calls, 2)
	})

	t.Run("no converter", func(t *testing.T) {
		o := newTestOrganizer(t, nil)

		report := o.ConvertBook(ctx, "a", "b", "sha", []formats.Format{formats.EPUB})
		assert.Equal(t, "calibre not installed", report.Failed[formats.MOBI])
		assert.Equal(t, "calibre not installed", report.Failed[formats.TXT])
	})

	t.Run("no usable source", func(t *testing.T) {
		conv := &fakeConverter{}
		o := newTestOrganizer(t, conv)

		report := o.ConvertBook(ctx, "a", "b", "sha", []formats.Format{formats.PDB})
		assert.Empty(t, report.Converted)
		assert.Empty(t, report.Failed)
		assert.Empty(t, conv.calls)
	})
}
