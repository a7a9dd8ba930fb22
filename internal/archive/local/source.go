// Package local serves the report archive from a directory on disk, such as
// a clone of the archive repository.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/OnlineMo/DeepResearch-Web/internal/archive"
	apperrors "github.com/OnlineMo/DeepResearch-Web/pkg/errors"
)

// Source implements archive.Source over a directory.
type Source struct {
	root string
}

var (
	_ archive.Source = (*Source)(nil)
	_ archive.Lister = (*Source)(nil)
)

func New(root string) (*Source, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving archive dir: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("opening archive dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", apperrors.ErrInvalidInput, abs)
	}
	return &Source{root: abs}, nil
}

// Root returns the absolute archive directory.
func (s *Source) Root() string { return s.root }

// ReadFile reads an archive path relative to the root. Paths that escape the
// root are rejected.
func (s *Source) ReadFile(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	full, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	if info, err := os.Stat(full); err == nil && info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", apperrors.ErrReportNotFound, path)
	}
	data, err := os.ReadFile(full)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return "", fmt.Errorf("%w: %s", apperrors.ErrReportNotFound, path)
	case err != nil:
		return "", fmt.Errorf("%w: reading %s: %v", apperrors.ErrUnavailable, path, err)
	}
	return string(data), nil
}

// List reads a directory relative to the root; "" is the root itself.
// Hidden entries such as .git are left out.
func (s *Source) List(ctx context.Context, dir string) ([]archive.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, prefix := s.root, ""
	if clean := strings.Trim(dir, "/"); clean != "" {
		var err error
		if full, err = s.resolve(clean); err != nil {
			return nil, err
		}
		prefix = filepath.ToSlash(filepath.Clean(clean)) + "/"
	}
	isDir, err := statDir(full)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("%w: %s", apperrors.ErrReportNotFound, dir)
	case err != nil:
		return nil, fmt.Errorf("%w: listing %s: %v", apperrors.ErrUnavailable, dir, err)
	case !isDir:
		return nil, fmt.Errorf("%w: %s is a file, not a directory", apperrors.ErrMalformedDocument, dir)
	}

	items, err := os.ReadDir(full)
	if err != nil {
		return nil, fmt.Errorf("%w: listing %s: %v", apperrors.ErrUnavailable, dir, err)
	}
	entries := make([]archive.Entry, 0, len(items))
	for _, d := range items {
		if strings.HasPrefix(d.Name(), ".") {
			continue
		}
		e := archive.Entry{Name: d.Name(), Path: prefix + d.Name(), Type: archive.EntryFile}
		switch {
		case d.IsDir():
			e.Type = archive.EntryDir
		case d.Type()&fs.ModeSymlink != 0:
			e.Type = "symlink"
		default:
			if info, err := d.Info(); err == nil {
				e.Size = info.Size()
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *Source) resolve(path string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(strings.TrimPrefix(path, "/")))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.IsAbs(clean) {
		return "", fmt.Errorf("%w: path %q is outside the archive", apperrors.ErrInvalidInput, path)
	}
	return filepath.Join(s.root, clean), nil
}

// Revision summarises the markdown files under the root. The ID changes when
// any file is modified, added or removed.
func (s *Source) Revision(ctx context.Context) (archive.Revision, error) {
	var (
		newest time.Time
		count  int
		size   int64
	)
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if path != s.root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !IsMarkdown(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		count++
		size += info.Size()
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
		return nil
	})
	if err != nil {
		return archive.Revision{}, fmt.Errorf("scanning archive dir: %w", err)
	}
	id := strconv.FormatInt(newest.UnixNano(), 36) + "-" + strconv.Itoa(count) + "-" + strconv.FormatInt(size, 36)
	return archive.Revision{ID: id, Time: newest.UTC()}, nil
}

// IsMarkdown reports whether name is a markdown document.
func IsMarkdown(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".md")
}

func statDir(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}
