// Package crawler finds ebook files below the source directory and computes
// their content digests.
package crawler

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/booknest/booknest/pkg/formats"
	"github.com/booknest/booknest/pkg/hasher"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
)

type DiscoveredFile struct {
	Path   string
	Format formats.Format
	Size   int64
}

type HashedFile struct {
	DiscoveredFile
	Sha256 string
}

// FileError records a file that was dropped from the crawl.
type FileError struct {
	Path string
	Err  error
}

type Result struct {
	Files     []HashedFile
	TotalSize int64
	Errors    []FileError
}

type Crawler struct {
	sourceDir string
	hashFile  func(path string) (string, error)
}

func New(sourceDir string) *Crawler {
	return &Crawler{sourceDir: sourceDir, hashFile: hasher.HashFile}
}

// DiscoverFiles walks the source directory and returns every file with a
// supported extension. Entries that can't be read are logged, reported in
// the returned errors and skipped. Only a missing or unreadable source root
// is an error.
func (c *Crawler) DiscoverFiles(ctx context.Context) ([]DiscoveredFile, []FileError, error) {
	log := logger.FromContext(ctx)

	if _, err := os.Stat(c.sourceDir); err != nil {
		return nil, nil, errors.Wrapf(err, "source directory %s is not accessible", c.sourceDir)
	}

	var files []DiscoveredFile
	var softErrors []FileError

	err := filepath.WalkDir(c.sourceDir, func(path string, d fs.DirEntry, walkErr error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if walkErr != nil {
			if path == c.sourceDir {
				return walkErr
			}
			log.Warn("skipping unreadable path", logger.Data{"path": path, "error": walkErr.Error()})
			softErrors = append(softErrors, FileError{path, walkErr})
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		format, ok := formats.Detect(path)
		if !ok {
			return nil
		}

		// Follow symlinks so linked ebooks are picked up too.
		info, err := os.Stat(path)
		if err != nil {
			log.Warn("skipping file that can't be stat'd", logger.Data{"path": path, "error": err.Error()})
			softErrors = append(softErrors, FileError{path, err})
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		files = append(files, DiscoveredFile{Path: path, Format: format, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, nil, errors.WithStack(err)
	}

	return files, softErrors, nil
}

// HashFiles computes the digest of every file. Files that fail to hash are
// left out of the result and reported in the returned errors.
func (c *Crawler) HashFiles(ctx context.Context, files []DiscoveredFile) ([]HashedFile, []FileError, error) {
	log := logger.FromContext(ctx)

	hashed := make([]HashedFile, 0, len(files))
	var softErrors []FileError
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, nil, errors.WithStack(err)
		}

		sum, err := c.hashFile(f.Path)
		if err != nil {
			log.Warn("skipping file that can't be hashed", logger.Data{"path": f.Path, "error": err.Error()})
			softErrors = append(softErrors, FileError{f.Path, err})
			continue
		}
		hashed = append(hashed, HashedFile{DiscoveredFile: f, Sha256: sum})
	}
	return hashed, softErrors, nil
}

// Crawl discovers and hashes every supported file below the source directory.
func (c *Crawler) Crawl(ctx context.Context) (*Result, error) {
	log := logger.FromContext(ctx)

	discovered, discoverErrors, err := c.DiscoverFiles(ctx)
	if err != nil {
		return nil, err
	}
	hashed, hashErrors, err := c.HashFiles(ctx, discovered)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Files:  hashed,
		Errors: append(discoverErrors, hashErrors...),
	}
	for _, f := range hashed {
		result.TotalSize += f.Size
	}

	log.Info("crawl finished", logger.Data{
		"discovered": len(discovered),
		"hashed":     len(hashed),
		"total_size": result.TotalSize,
		"errors":     len(result.Errors),
	})

	return result, nil
}
