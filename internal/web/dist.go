package web

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// CopyDist replaces the directory to with a copy of the build output in from.
// Relative layout and file modes are preserved. The copy is staged next to to
// and renamed into place, so a failed copy leaves the old directory intact.
// It returns the number of files copied.
func CopyDist(from, to string) (int, error) {
	src, err := filepath.Abs(from)
	if err != nil {
		return 0, err
	}
	dst, err := filepath.Abs(to)
	if err != nil {
		return 0, err
	}
	if src == dst || strings.HasPrefix(dst, src+string(filepath.Separator)) {
		return 0, fmt.Errorf("dist: destination %s must not be inside the build output %s", to, from)
	}

	if info, err := os.Stat(filepath.Join(src, indexFile)); err != nil || info.IsDir() {
		return 0, fmt.Errorf("dist: %s has no %s; run the SPA build first", from, indexFile)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, fmt.Errorf("dist: %w", err)
	}
	staging, err := os.MkdirTemp(filepath.Dir(dst), "."+filepath.Base(dst)+"-")
	if err != nil {
		return 0, fmt.Errorf("dist: failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	n, err := copyTree(src, staging)
	if err != nil {
		return 0, err
	}

	if err := os.RemoveAll(dst); err != nil {
		return 0, fmt.Errorf("dist: failed to remove %s: %w", to, err)
	}
	if err := os.Rename(staging, dst); err != nil {
		return 0, fmt.Errorf("dist: failed to move build into %s: %w", to, err)
	}
	return n, nil
}

func copyTree(src, dst string) (int, error) {
	files := 0
	err := filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			if rel == "." {
				return os.Chmod(dst, info.Mode().Perm())
			}
			return os.MkdirAll(target, info.Mode().Perm())
		case info.Mode().IsRegular():
			files++
			return copyFile(p, target, info.Mode().Perm())
		}
		// Symlinks and special files are not part of a build output.
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("dist: copy failed: %w", err)
	}
	return files, nil
}

func copyFile(src, dst string, mode fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chmod(dst, mode)
}
