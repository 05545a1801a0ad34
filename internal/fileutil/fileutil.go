package fileutil

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
)

// RemoveIfExists deletes path; a missing file is not an error.
func RemoveIfExists(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// RemoveAll deletes every path, continuing past failures, and joins the errors.
func RemoveAll(paths ...string) error {
	var errs []error
	for _, path := range paths {
		if err := RemoveIfExists(path); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Exists reports whether path names an existing regular file.
func Exists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Promote moves src to dst. A rename is used when both paths share a
// filesystem; otherwise the file is copied and src removed.
func Promote(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create destination dir: %w", err)
	}
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return err
	}
	if err := CopyFileMode(src, dst, 0o644); err != nil {
		_ = os.Remove(dst)
		return err
	}
	return os.Remove(src)
}

// CopyFileMode streams src to dst, setting the given file mode on dst.
func CopyFileMode(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

// OnCloseReader wraps a file and runs a callback once when it is closed,
// reporting whether every byte was read first.
type OnCloseReader struct {
	file     *os.File
	size     int64
	read     int64
	closed   bool
	onClosed func(complete bool)
}

// OpenWithCallback opens path for streaming delivery.
func OpenWithCallback(path string, onClosed func(complete bool)) (*OnCloseReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	return &OnCloseReader{file: file, size: info.Size(), onClosed: onClosed}, nil
}

func (r *OnCloseReader) Read(p []byte) (int, error) {
	n, err := r.file.Read(p)
	r.read += int64(n)
	return n, err
}

// Size returns the file size at open time.
func (r *OnCloseReader) Size() int64 { return r.size }

// Name returns the underlying file name.
func (r *OnCloseReader) Name() string { return r.file.Name() }

func (r *OnCloseReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	err := r.file.Close()
	if r.onClosed != nil {
		r.onClosed(r.read >= r.size)
	}
	return err
}
