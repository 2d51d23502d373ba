// Package organizer lays ebook files out in the library, moves processed
// originals out of the source directory and fills in missing formats.
package organizer

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/booknest/booknest/pkg/config"
	"github.com/booknest/booknest/pkg/converter"
	"github.com/booknest/booknest/pkg/fileutils"
	"github.com/booknest/booknest/pkg/formats"
	"github.com/booknest/booknest/pkg/retry"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
)

// ErrOutsideSourceRoot is returned when a file to be moved doesn't live
// below the source directory.
var ErrOutsideSourceRoot = errors.New("file is outside the source directory")

const (
	authorImageName = "author.jpg"
	bookImageName   = "book.jpg"
	seriesDirName   = "series"
)

// Converter produces output from input in the format implied by output's
// extension.
type Converter interface {
	Convert(ctx context.Context, input, output string) error
}

type Options struct {
	EbooksDir    string
	SourceDir    string
	ProcessedDir string
	Converter    Converter
	Retry        retry.Options
}

type Organizer struct {
	ebooksDir    string
	sourceDir    string
	processedDir string
	converter    Converter
	retry        retry.Options
}

func New(opts Options) *Organizer {
	return &Organizer{
		ebooksDir:    opts.EbooksDir,
		sourceDir:    opts.SourceDir,
		processedDir: opts.ProcessedDir,
		converter:    opts.Converter,
		retry:        opts.Retry,
	}
}

func NewFromConfig(cfg *config.Config, conv Converter) *Organizer {
	return New(Options{
		EbooksDir:    cfg.EbooksDir,
		SourceDir:    cfg.SourceDir,
		ProcessedDir: cfg.ProcessedDir,
		Converter:    conv,
		Retry: retry.Options{
			MaxRetries: cfg.RetryMaxRetries,
			BaseDelay:  cfg.RetryBaseDelay,
		},
	})
}

func (o *Organizer) AuthorDir(authorSlug string) string {
	return filepath.Join(o.ebooksDir, authorSlug)
}

func (o *Organizer) BookDir(authorSlug, bookSlug string) string {
	return filepath.Join(o.ebooksDir, authorSlug, bookSlug)
}

// BuildBookPath returns the content addressed location of a book file:
// <ebooks>/<author>/<book>/<sha256>.<format>.
func (o *Organizer) BuildBookPath(authorSlug, bookSlug, sha256 string, format formats.Format) string {
	return filepath.Join(o.BookDir(authorSlug, bookSlug), sha256+format.Extension())
}

func (o *Organizer) AuthorImagePath(authorSlug string) string {
	return filepath.Join(o.AuthorDir(authorSlug), authorImageName)
}

func (o *Organizer) BookImagePath(authorSlug, bookSlug string) string {
	return filepath.Join(o.BookDir(authorSlug, bookSlug), bookImageName)
}

func (o *Organizer) SeriesImagePath(authorSlug, seriesSlug string) string {
	return filepath.Join(o.AuthorDir(authorSlug), seriesDirName, seriesSlug+".jpg")
}

// CopyFile copies src to its content addressed location and returns that
// path. A file already present there is left alone and src isn't read; its
// name is its digest so the content is the same.
func (o *Organizer) CopyFile(ctx context.Context, src, authorSlug, bookSlug, sha256 string, format formats.Format) (string, error) {
	if err := validSlug(authorSlug); err != nil {
		return "", err
	}
	if err := validSlug(bookSlug); err != nil {
		return "", err
	}

	target := o.BuildBookPath(authorSlug, bookSlug, sha256, format)
	if fileutils.Exists(target) {
		return target, nil
	}
	copied, err := fileutils.CopyFileNoOverwrite(src, target)
	if err != nil {
		return "", errors.Wrapf(err, "copy %s to %s", src, target)
	}

	logger.FromContext(ctx).Debug("file copied", logger.Data{"source": src, "target": target, "already_present": !copied})
	return target, nil
}

// resolveInSource returns path relative to the source directory, or
// ErrOutsideSourceRoot when it escapes it.
func (o *Organizer) resolveInSource(path string) (string, error) {
	base, err := filepath.Abs(o.sourceDir)
	if err != nil {
		return "", errors.WithStack(err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.WithStack(err)
	}
	rel, err := filepath.Rel(base, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", errors.Wrapf(ErrOutsideSourceRoot, "%s", path)
	}
	return rel, nil
}

// MoveProcessedFile moves a source file into the processed directory,
// keeping its path relative to the source directory, and returns the new
// location. A file that was already moved by an earlier run is reported at
// its processed location.
func (o *Organizer) MoveProcessedFile(ctx context.Context, path string) (string, error) {
	rel, err := o.resolveInSource(path)
	if err != nil {
		return "", err
	}

	target := filepath.Join(o.processedDir, rel)
	if !fileutils.Exists(path) && fileutils.Exists(target) {
		return target, nil
	}
	if fileutils.Exists(target) {
		return "", errors.Errorf("processed file %s already exists", target)
	}

	if err := fileutils.MoveFile(path, target); err != nil {
		return "", errors.Wrapf(err, "move %s to %s", path, target)
	}

	logger.FromContext(ctx).Info("file moved to processed", logger.Data{"source": path, "target": target})
	return target, nil
}

type MoveResult struct {
	OriginalPath string
	NewPath      string
	Err          error
}

// MoveProcessedFiles moves every path and reports each outcome. One failure
// doesn't stop the others.
func (o *Organizer) MoveProcessedFiles(ctx context.Context, paths []string) []MoveResult {
	log := logger.FromContext(ctx)

	results := make([]MoveResult, 0, len(paths))
	failed := 0
	for _, p := range paths {
		target, err := o.MoveProcessedFile(ctx, p)
		if err != nil {
			failed++
			log.Err(err).Warn("failed to move file to processed", logger.Data{"source": p})
		}
		results = append(results, MoveResult{OriginalPath: p, NewPath: target, Err: err})
	}

	log.Info("file move finished", logger.Data{"total": len(paths), "successful": len(paths) - failed, "failed": failed})
	return results
}

// SourceFolder returns the first level directory below the source directory
// that contains path, or "" for files directly in the source directory.
func (o *Organizer) SourceFolder(path string) string {
	rel, err := o.resolveInSource(path)
	if err != nil {
		return ""
	}
	first := strings.SplitN(rel, string(filepath.Separator), 2)
	if len(first) < 2 {
		return ""
	}
	return filepath.Join(o.sourceDir, first[0])
}

// CleanEmptyFolders removes the given source folders when nothing but empty
// directories is left in them. Failures are logged and returned, never
// fatal. The source directory itself is never removed.
func (o *Organizer) CleanEmptyFolders(ctx context.Context, folders []string) (cleaned, failed []string) {
	log := logger.FromContext(ctx)

	seen := make(map[string]bool, len(folders))
	for _, folder := range folders {
		if folder == "" || seen[folder] {
			continue
		}
		seen[folder] = true

		if _, err := o.resolveInSource(folder); err != nil {
			failed = append(failed, folder)
			log.Err(err).Warn("refusing to clean folder")
			continue
		}

		removed, err := fileutils.RemoveEmptyDirs(folder)
		if err != nil {
			failed = append(failed, folder)
			log.Err(err).Warn("failed to clean source folder", logger.Data{"folder": folder})
			continue
		}
		if removed {
			cleaned = append(cleaned, folder)
			log.Debug("removed empty source folder", logger.Data{"folder": folder})
		}
	}

	if len(cleaned) > 0 || len(failed) > 0 {
		log.Info("empty folder cleanup finished", logger.Data{"total": len(seen), "cleaned": len(cleaned), "failed": len(failed)})
	}
	return cleaned, failed
}

// ConversionReport maps each attempted format to its output path or to the
// reason it failed.
type ConversionReport struct {
	Converted map[formats.Format]string
	Failed    map[formats.Format]string
}

// ConvertBook converts the book's best available file into every missing
// target format. Each conversion stands on its own; failures are recorded in
// the report.
func (o *Organizer) ConvertBook(ctx context.Context, authorSlug, bookSlug, sha256 string, existing []formats.Format) *ConversionReport {
	log := logger.FromContext(ctx)
	report := &ConversionReport{
		Converted: map[formats.Format]string{},
		Failed:    map[formats.Format]string{},
	}

	source, ok := formats.BestSource(existing)
	if !ok {
		log.Warn("no valid source format for conversion", logger.Data{"author": authorSlug, "book": bookSlug, "formats": existing})
		return report
	}
	input := o.BuildBookPath(authorSlug, bookSlug, sha256, source)

	for _, target := range formats.MissingTargets(existing) {
		output := o.BuildBookPath(authorSlug, bookSlug, sha256, target)
		if fileutils.Exists(output) {
			report.Converted[target] = output
			continue
		}
		if o.converter == nil {
			report.Failed[target] = converter.ErrNotInstalled.Error()
			continue
		}

		err := o.convert(ctx, input, output)
		if err != nil {
			report.Failed[target] = err.Error()
			log.Warn("conversion failed", logger.Data{"author": authorSlug, "book": bookSlug, "format": target, "error": err.Error()})
			continue
		}
		report.Converted[target] = output
		log.Info("format converted", logger.Data{"author": authorSlug, "book": bookSlug, "format": target})
	}

	return report
}

func (o *Organizer) convert(ctx context.Context, input, output string) error {
	opts := o.retry
	opts.ShouldRetry = func(err error) bool {
		if errors.Is(err, converter.ErrTimeout) || errors.Is(err, converter.ErrNotInstalled) {
			return false
		}
		return retry.IsRetryableError(err)
	}
	opts.OnRetry = func(attempt int, delay time.Duration, err error) {
		logger.FromContext(ctx).Warn("conversion failed, retrying", logger.Data{"output": output, "attempt": attempt, "error": err.Error()})
	}
	return retry.Do(ctx, opts, func(ctx context.Context) error {
		return o.converter.Convert(ctx, input, output)
	})
}

func validSlug(slug string) error {
	if slug == "" || slug == "." || slug == ".." || strings.ContainsAny(slug, `/\`) {
		return errors.Errorf("invalid slug %q", slug)
	}
	return nil
}
