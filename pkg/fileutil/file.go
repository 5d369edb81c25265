package fileutil

import (
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/xerrors"
)

// Walk calls walkFn with every regular file under root. Entries rejected by
// skip are not visited; a directory rejected by skip is
// not descended into. Paths passed to skip are slash separated and relative
// to root.
func Walk(root string, skip func(rel string, d fs.DirEntry) bool, walkFn func(path string, d fs.DirEntry) error) error {
	if err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return xerrors.Errorf("relative path error: %w", err)
		}
		rel = filepath.ToSlash(rel)

		if rel != "." && skip != nil && skip(rel, d) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		return walkFn(path, d)
	}); err != nil {
		return xerrors.Errorf("file walk error: %w", err)
	}
	return nil
}

// Count counts the regular files under root that skip accepts.
func Count(root string, skip func(rel string, d fs.DirEntry) bool) (int, error) {
	var count int
	err := Walk(root, skip, func(_ string, _ fs.DirEntry) error {
		count++
		return nil
	})
	if err != nil {
		return 0, xerrors.Errorf("file count error: %w", err)
	}
	return count, nil
}

// IsHidden reports whether any element of a slash separated path starts with a dot.
func IsHidden(rel string) bool {
	for _, elem := range strings.Split(rel, "/") {
		if strings.HasPrefix(elem, ".") && elem != "." && elem != ".." {
			return true
		}
	}
	return false
}

func WriteJSON(filePath string, v any) error {
	if err := os.MkdirAll(filepath.Dir(filePath), os.ModePerm); err != nil {
		return xerrors.Errorf("unable to create a directory: %w", err)
	}

	f, err := os.Create(filePath)
	if err != nil {
		return xerrors.Errorf("unable to open %s: %w", filePath, err)
	}
	defer f.Close()

	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return xerrors.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err = f.Write(b); err != nil {
		return xerrors.Errorf("failed to save a file: %w", err)
	}
	return nil
}

// CopyFile copies src to dst, creating parent directories and keeping the
// modification time of src.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return xerrors.Errorf("unable to open %s: %w", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return xerrors.Errorf("file info error: %w", err)
	}
	if err = WriteFile(dst, in); err != nil {
		return err
	}
	if err = os.Chtimes(dst, info.ModTime(), info.ModTime()); err != nil {
		return xerrors.Errorf("unable to set modification time: %w", err)
	}
	return nil
}

// WriteFile writes r to path through a temporary file in the same directory,
// so readers never observe a partially written file.
func WriteFile(path string, r io.Reader) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return xerrors.Errorf("unable to create a directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return xerrors.Errorf("unable to create a temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err = io.Copy(tmp, r); err != nil {
		tmp.Close()
		return xerrors.Errorf("unable to write %s: %w", path, err)
	}
	if err = tmp.Close(); err != nil {
		return xerrors.Errorf("unable to close temp file: %w", err)
	}
	if err = os.Chmod(tmp.Name(), 0644); err != nil {
		return xerrors.Errorf("unable to chmod temp file: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return xerrors.Errorf("unable to rename temp file: %w", err)
	}
	return nil
}

// MoveFile renames src to dst, falling back to copy and delete across devices.
func MoveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return xerrors.Errorf("unable to create a directory: %w", err)
	}
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return xerrors.Errorf("unable to move %s: %w", src, err)
	}
	slog.Debug("Cross device move, copying", slog.String("src", src), slog.String("dst", dst))
	if err = CopyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

// RemoveEmptyParents removes empty directories from dir upwards, stopping at root.
func RemoveEmptyParents(root, dir string) error {
	root = filepath.Clean(root)
	for dir = filepath.Clean(dir); dir != root && strings.HasPrefix(dir, root+string(filepath.Separator)); dir = filepath.Dir(dir) {
		entries, err := os.ReadDir(dir)
		if errors.Is(err, os.ErrNotExist) {
			continue
		} else if err != nil {
			return xerrors.Errorf("unable to read %s: %w", dir, err)
		}
		if len(entries) > 0 {
			return nil
		}
		if err = os.Remove(dir); err != nil {
			return xerrors.Errorf("unable to remove %s: %w", dir, err)
		}
	}
	return nil
}
