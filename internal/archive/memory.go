package archive

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	apperrors "github.com/OnlineMo/DeepResearch-Web/pkg/errors"
)

// MemorySource serves files from a map. Failures can be injected per path.
type MemorySource struct {
	mu       sync.Mutex
	files    map[string]string
	failures map[string]error
	revision Revision
	version  int
	reads    map[string]int
}

var _ Lister = (*MemorySource)(nil)

func NewMemorySource(files map[string]string) *MemorySource {
	m := &MemorySource{
		files:    make(map[string]string, len(files)),
		failures: make(map[string]error),
		reads:    make(map[string]int),
		revision: Revision{ID: "mem-1", Time: time.Now().UTC()},
		version:  1,
	}
	for k, v := range files {
		m.files[k] = v
	}
	return m
}

func (m *MemorySource) ReadFile(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads[path]++
	if err, ok := m.failures[path]; ok {
		return "", err
	}
	text, ok := m.files[path]
	if !ok {
		return "", fmt.Errorf("%w: %s", apperrors.ErrReportNotFound, path)
	}
	return text, nil
}

// List derives a directory listing from the stored paths. A failure set
// with Fail(dir, err) applies to the listing of dir.
func (m *MemorySource) List(ctx context.Context, dir string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads[dir]++
	if err, ok := m.failures[dir]; ok {
		return nil, err
	}

	prefix := strings.Trim(dir, "/")
	if prefix != "" {
		prefix += "/"
	}
	seen := make(map[string]struct{})
	out := []Entry{}
	for path, text := range m.files {
		rest, ok := strings.CutPrefix(path, prefix)
		if !ok || rest == "" {
			continue
		}
		name, _, nested := strings.Cut(rest, "/")
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		e := Entry{Name: name, Path: prefix + name, Type: EntryFile, Size: int64(len(text))}
		if nested {
			e.Type, e.Size = EntryDir, 0
		}
		out = append(out, e)
	}
	if prefix != "" && len(out) == 0 {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrReportNotFound, dir)
	}
	slices.SortFunc(out, func(a, b Entry) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

func (m *MemorySource) Revision(context.Context) (Revision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revision, nil
}

// Put stores a file and bumps the revision.
func (m *MemorySource) Put(path, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = text
	m.version++
	m.revision = Revision{ID: fmt.Sprintf("mem-%d", m.version), Time: time.Now().UTC()}
}

// Fail makes reads of path return err until cleared with a nil err.
func (m *MemorySource) Fail(path string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, path)
		return
	}
	m.failures[path] = err
}

// Reads returns how often path was read, or listed, from the source.
func (m *MemorySource) Reads(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads[path]
}
