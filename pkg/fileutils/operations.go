// Package fileutils holds the low level file operations the organizer builds
// on: non-clobbering copies, cross-device moves and empty directory cleanup.
package fileutils

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// CopyFileNoOverwrite copies src to dst, creating dst's directory. When dst
// already exists nothing is written and copied is false.
func CopyFileNoOverwrite(src, dst string) (copied bool, err error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return false, errors.WithStack(err)
	}

	sourceFile, err := os.Open(src)
	if err != nil {
		return false, errors.WithStack(err)
	}
	defer sourceFile.Close()

	destFile, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, errors.WithStack(err)
	}

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		destFile.Close()
		// Don't leave a truncated file behind; the next attempt would treat it
		// as already copied.
		os.Remove(dst)
		return false, errors.WithStack(err)
	}
	if err := destFile.Close(); err != nil {
		os.Remove(dst)
		return false, errors.WithStack(err)
	}

	return true, nil
}

// CopyFile copies src to dst, replacing dst if it exists.
func CopyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return errors.WithStack(err)
	}

	sourceFile, err := os.Open(src)
	if err != nil {
		return errors.WithStack(err)
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return errors.WithStack(err)
	}
	defer destFile.Close()

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// MoveFile moves src to dst, creating dst's directory. It falls back to copy
// and delete when a rename isn't possible, e.g. across filesystems.
func MoveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return errors.WithStack(err)
	}

	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	if err := CopyFile(src, dst); err != nil {
		return errors.WithStack(err)
	}

	// Remove the source file only after successful copy.
	if err := os.Remove(src); err != nil {
		os.Remove(dst)
		return errors.WithStack(err)
	}
	return nil
}

// RemoveEmptyDirs removes dir and every directory below it that contains no
// files. It reports whether dir itself was removed.
func RemoveEmptyDirs(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.WithStack(err)
	}

	empty := true
	for _, entry := range entries {
		if !entry.IsDir() {
			empty = false
			continue
		}
		removed, err := RemoveEmptyDirs(filepath.Join(dir, entry.Name()))
		if err != nil {
			return false, err
		}
		if !removed {
			empty = false
		}
	}

	if !empty {
		return false, nil
	}
	if err := os.Remove(dir); err != nil {
		return false, errors.WithStack(err)
	}
	return true, nil
}

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
