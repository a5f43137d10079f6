package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// PartSuffix marks a file that is still being written.
const PartSuffix = ".part"

var ErrUnsafePath = errors.New("path escapes output root")

// Downloader is an interface for downloading files (used for testing)
type Downloader interface {
	DownloadFile(ctx context.Context, url string, dest io.Writer) (int64, error)
}

// Store places artifacts under a single output root.
type Store struct {
	baseDir string
}

func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// Root returns the absolute output root, or the configured path if it cannot be resolved.
func (s *Store) Root() string {
	if abs, err := filepath.Abs(s.baseDir); err == nil {
		return abs
	}
	return s.baseDir
}

// Prepare creates the output root.
func (s *Store) Prepare() error {
	if err := os.MkdirAll(s.baseDir, 0750); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	return nil
}

// SanitizeKey turns a storage key into a clean relative slash path.
// Leading separators are stripped and "", "." and ".." segments are dropped.
func SanitizeKey(key string) string {
	var parts []string
	for _, seg := range strings.Split(key, "/") {
		switch seg {
		case "", ".", "..":
			continue
		}
		parts = append(parts, seg)
	}
	return path.Join(parts...)
}

// Destination maps a storage key to an absolute path and refuses anything
// that would land outside the root, including through symlinks already
// present under it.
func (s *Store) Destination(key string) (string, error) {
	rel := SanitizeKey(key)
	if rel == "" {
		return "", fmt.Errorf("%w: empty key %q", ErrUnsafePath, key)
	}

	root, err := filepath.Abs(s.baseDir)
	if err != nil {
		return "", fmt.Errorf("resolving output root: %w", err)
	}
	dest := filepath.Join(root, filepath.FromSlash(rel))
	if !within(root, dest) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, key)
	}

	realRoot, err := resolveExisting(root)
	if err != nil {
		return "", fmt.Errorf("resolving output root: %w", err)
	}
	realDest, err := resolveExisting(dest)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrUnsafePath, key, err)
	}
	if !within(realRoot, realDest) {
		return "", fmt.Errorf("%w: %q resolves to %s", ErrUnsafePath, key, realDest)
	}
	return dest, nil
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil || filepath.IsAbs(rel) {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// resolveExisting evaluates symlinks in the longest existing prefix of p and
// appends the missing tail unchanged. A dangling symlink is an error.
func resolveExisting(p string) (string, error) {
	existing, tail := p, ""
	for {
		_, err := os.Lstat(existing)
		if err == nil {
			resolved, err := filepath.EvalSymlinks(existing)
			if err != nil {
				return "", err
			}
			return filepath.Join(resolved, tail), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}

		parent := filepath.Dir(existing)
		if parent == existing {
			return p, nil
		}
		tail = filepath.Join(filepath.Base(existing), tail)
		existing = parent
	}
}

// Exists reports whether path is a regular file with content.
func (s *Store) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// Download streams url into destPath. Bytes go to a sibling .part file that is
// renamed into place only after the transfer succeeded.
func (s *Store) Download(ctx context.Context, client Downloader, url, destPath string) (int64, error) {
	// Create parent directories
	if err := os.MkdirAll(filepath.Dir(destPath), 0750); err != nil {
		return 0, fmt.Errorf("creating directories: %w", err)
	}

	// Download to temp file
	tmpPath := destPath + PartSuffix
	f, err := os.Create(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}

	size, err := client.DownloadFile(ctx, url, f)
	if closeErr := f.Close(); closeErr != nil && err == nil {
		err = closeErr
	}

	if err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("downloading file: %w", err)
	}

	// Atomic rename
	if err := os.Rename(tmpPath, destPath); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("renaming temp file: %w", err)
	}

	return size, nil
}
