package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OnlineMo/DeepResearch-Web/internal/archive"
	"github.com/OnlineMo/DeepResearch-Web/pkg/config"
	apperrors "github.com/OnlineMo/DeepResearch-Web/pkg/errors"
	"github.com/OnlineMo/DeepResearch-Web/pkg/resilience"
)

const navigation = "# 导航\n\n## 时政与国际\n- [AI趋势](AI_Reports/shi-zheng-yu-guo-ji/ai-2025-01-28--v1.md)\n"

func writeFile(w http.ResponseWriter, path, text string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":     "file",
		"encoding": "base64",
		"path":     path,
		"content":  base64.StdEncoding.EncodeToString([]byte(text)),
	})
}

func newTestSource(t *testing.T, handler http.Handler) *Source {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	src, err := New(context.Background(), config.GitHubConfig{
		Owner:             "octo",
		Repo:              "reports",
		Ref:               "main",
		BaseURL:           srv.URL,
		RequestsPerSecond: 1000,
		MaxRetries:        3,
	},
		WithHTTPClient(srv.Client()),
		WithTimeout(time.Second),
		WithRetry(resilience.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}),
	)
	require.NoError(t, err)
	return src
}

func TestReadFileDecodesContent(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/octo/reports/contents/NAVIGATION.md", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "main", r.URL.Query().Get("ref"))
		w.Header().Set(HeaderRateRemaining, "4999")
		w.Header().Set(HeaderRateLimit, "5000")
		writeFile(w, "NAVIGATION.md", navigation)
	})
	src := newTestSource(t, mux)

	text, err := src.ReadFile(context.Background(), archive.NavigationPath)
	require.NoError(t, err)
	assert.Equal(t, navigation, text)
	assert.Equal(t, 4999, src.limiter.Remaining())
	assert.Equal(t, 5000, src.limiter.Limit())
}

func TestReadFileNotFound(t *testing.T) {
	var calls atomic.Int32
	src := newTestSource(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
	}))

	_, err := src.ReadFile(context.Background(), "AI_Reports/x/none-2025-01-01--v1.md")
	assert.ErrorIs(t, err, apperrors.ErrReportNotFound)
	assert.Equal(t, int32(1), calls.Load(), "a missing file is not retried")
}

func TestReadFileRateLimited(t *testing.T) {
	reset := time.Now().Add(10 * time.Minute).Unix()
	var calls atomic.Int32
	src := newTestSource(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set(HeaderRateRemaining, "0")
		w.Header().Set(HeaderRateLimit, "60")
		w.Header().Set(HeaderRateReset, strconv.FormatInt(reset, 10))
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"message":"API rate limit exceeded"}`))
	}))

	_, err := src.ReadFile(context.Background(), archive.DigestPath)
	require.Error(t, err)
	assert.True(t, apperrors.IsRateLimited(err))
	resetAt, ok := archive.ResetTime(err)
	require.True(t, ok)
	assert.Equal(t, reset, resetAt.Unix())

	// The exhausted quota is remembered and the next call never leaves the process.
	_, err = src.ReadFile(context.Background(), archive.NavigationPath)
	assert.True(t, apperrors.IsRateLimited(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestReadFileForbiddenIsUnavailable(t *testing.T) {
	src := newTestSource(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(HeaderRateRemaining, "12")
		http.Error(w, `{"message":"Resource not accessible"}`, http.StatusForbidden)
	}))

	_, err := src.ReadFile(context.Background(), archive.DigestPath)
	assert.ErrorIs(t, err, apperrors.ErrUnavailable)
	assert.False(t, apperrors.IsRateLimited(err))
}

func TestReadFileRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	src := newTestSource(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, `{"message":"boom"}`, http.StatusBadGateway)
			return
		}
		writeFile(w, "README.md", "# 今日报告")
	}))

	text, err := src.ReadFile(context.Background(), archive.DigestPath)
	require.NoError(t, err)
	assert.Equal(t, "# 今日报告", text)
	assert.Equal(t, int32(3), calls.Load())
}

func TestReadFileGivesUpAfterRetries(t *testing.T) {
	src := newTestSource(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"down"}`, http.StatusServiceUnavailable)
	}))

	_, err := src.ReadFile(context.Background(), archive.DigestPath)
	assert.ErrorIs(t, err, apperrors.ErrUnavailable)
}

func TestReadFileDirectoryIsNotFound(t *testing.T) {
	src := newTestSource(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"type":"file","name":"a.md","path":"AI_Reports/a.md"}]`))
	}))

	_, err := src.ReadFile(context.Background(), "AI_Reports")
	assert.ErrorIs(t, err, apperrors.ErrReportNotFound)
}

func TestListRoot(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/octo/reports/contents/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/octo/reports/contents/", r.URL.Path)
		assert.Equal(t, "main", r.URL.Query().Get("ref"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"type":"dir","name":"AI_Reports","path":"AI_Reports","sha":"d1","size":0},
			{"type":"file","name":"README.md","path":"README.md","sha":"f1","size":42,
			 "download_url":"https://raw.example.com/octo/reports/main/README.md"}
		]`))
	})
	src := newTestSource(t, mux)

	entries, err := src.List(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []archive.Entry{
		{Name: "AI_Reports", Path: "AI_Reports", Type: archive.EntryDir, SHA: "d1"},
		{Name: "README.md", Path: "README.md", Type: archive.EntryFile, SHA: "f1", Size: 42,
			DownloadURL: "https://raw.example.com/octo/reports/main/README.md"},
	}, entries)
}

func TestListUninterpretableRoot(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"file instead of listing", `{"type":"file","name":"README.md","path":"README.md","encoding":"base64","content":""}`},
		{"neither file nor listing", `"not a listing"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			src := newTestSource(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tt.body))
			}))

			_, err := src.List(context.Background(), "")
			assert.ErrorIs(t, err, apperrors.ErrMalformedDocument)
			assert.Equal(t, int32(1), calls.Load(), "a malformed listing is not retried")

			lib := archive.NewLibrary(src)
			_, err = lib.Root(context.Background())
			assert.ErrorIs(t, err, apperrors.ErrMalformedDocument)
		})
	}
}

func TestRevision(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/octo/reports/commits", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "main", r.URL.Query().Get("sha"))
		assert.Equal(t, "1", r.URL.Query().Get("per_page"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"sha":"abc123","commit":{"committer":{"date":"2025-01-28T10:00:00Z"}}}]`))
	})
	src := newTestSource(t, mux)

	rev, err := src.Revision(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc123", rev.ID)
	assert.Equal(t, time.Date(2025, 1, 28, 10, 0, 0, 0, time.UTC), rev.Time.UTC())
}

func TestLibraryOverGitHub(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/octo/reports/contents/NAVIGATION.md", func(w http.ResponseWriter, r *http.Request) {
		writeFile(w, "NAVIGATION.md", navigation)
	})
	src := newTestSource(t, mux)
	lib := archive.NewLibrary(src)

	nav, err := lib.Navigation(context.Background())
	require.NoError(t, err)
	require.Len(t, nav, 1)
	assert.Equal(t, "时政与国际", nav[0].Name)
}
