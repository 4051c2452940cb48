// Package fileutil provides crash-safe file copy and replace helpers.
package fileutil

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
)

// SidecarSuffixes are the companion files an SQLite database in WAL mode
// keeps next to the main file.
var SidecarSuffixes = []string{"-wal", "-shm", "-journal"}

// CopyFile copies src to dst, truncating dst, and flushes it to disk.
// It returns the number of bytes copied.
func CopyFile(src, dst string, perm os.FileMode) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return 0, err
	}

	n, copyErr := io.Copy(out, in)
	syncErr := out.Sync()
	closeErr := out.Close()

	switch {
	case copyErr != nil:
		return n, copyErr
	case syncErr != nil:
		return n, syncErr
	case closeErr != nil:
		return n, closeErr
	}
	return n, nil
}

// CopyAtomic copies src to dst through a temporary file in dst's directory,
// so readers of dst see either the old or the new content, never a mix.
func CopyAtomic(src, dst string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return 0, err
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()

	n, err := CopyFile(src, tmpPath, 0o644)
	if err != nil {
		_ = os.Remove(tmpPath)
		return n, err
	}

	if err := os.Rename(tmpPath, dst); err != nil {
		_ = os.Remove(tmpPath)
		return n, fmt.Errorf("rename tmp->final: %w", err)
	}
	return n, nil
}

// WriteAtomic writes data to path through a synced temporary file and a
// rename, creating parent directories as needed.
func WriteAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}

	if err := tmp.Chmod(perm); err != nil {
		return cleanup(err)
	}
	if _, err := tmp.Write(data); err != nil {
		return cleanup(err)
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename tmp->final: %w", err)
	}
	return nil
}

// Replace moves staged over live and removes stale sidecar files that
// belonged to the previous live file. When staged is on another filesystem
// the content is first copied next to live so the final step is still a
// single rename.
func Replace(staged, live string) error {
	err := os.Rename(staged, live)
	var linkErr *os.LinkError
	if err != nil && errors.As(err, &linkErr) && errors.Is(linkErr.Err, syscall.EXDEV) {
		if _, err = CopyAtomic(staged, live); err == nil {
			_ = os.Remove(staged)
		}
	}
	if err != nil {
		return fmt.Errorf("rename staged->live: %w", err)
	}
	RemoveSidecars(live)
	return nil
}

// RemoveSidecars deletes any WAL, shared-memory or rollback journal files
// next to path. Missing files are ignored.
func RemoveSidecars(path string) {
	for _, suffix := range SidecarSuffixes {
		_ = os.Remove(path + suffix)
	}
}

// Exists reports whether path exists and is a regular file.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
