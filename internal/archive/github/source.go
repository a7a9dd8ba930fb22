// Package github reads the report archive through the GitHub contents API.
package github

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v80/github"
	"golang.org/x/oauth2"

	"github.com/OnlineMo/DeepResearch-Web/internal/archive"
	"github.com/OnlineMo/DeepResearch-Web/pkg/config"
	apperrors "github.com/OnlineMo/DeepResearch-Web/pkg/errors"
	"github.com/OnlineMo/DeepResearch-Web/pkg/metrics"
	"github.com/OnlineMo/DeepResearch-Web/pkg/resilience"
)

// DefaultTimeout bounds a single API call.
const DefaultTimeout = 15 * time.Second

// Option configures a Source.
type Option func(*Source)

// WithHTTPClient replaces the HTTP client. The token, if any, is ignored.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Source) { s.httpClient = c }
}

func WithTimeout(d time.Duration) Option {
	return func(s *Source) { s.timeout = d }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Source) { s.metrics = m }
}

// WithRetry overrides the backoff used for transient failures.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(s *Source) { s.retry = cfg }
}

// Source implements archive.Source for a GitHub repository.
type Source struct {
	client     *gh.Client
	httpClient *http.Client
	owner      string
	repo       string
	ref        string
	limiter    *RateLimiter
	breaker    *resilience.CircuitBreaker
	retry      resilience.RetryConfig
	timeout    time.Duration
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

var (
	_ archive.Source = (*Source)(nil)
	_ archive.Lister = (*Source)(nil)
)

// New builds a Source for cfg.Owner/cfg.Repo. Without a token the API allows
// 60 requests an hour.
func New(ctx context.Context, cfg config.GitHubConfig, opts ...Option) (*Source, error) {
	s := &Source{
		owner:   cfg.Owner,
		repo:    cfg.Repo,
		ref:     cfg.Ref,
		limiter: NewRateLimiter(cfg.RequestsPerSecond),
		timeout: DefaultTimeout,
		retry: resilience.RetryConfig{
			MaxAttempts:  cfg.MaxRetries,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     5 * time.Second,
		},
		logger: slog.Default().With("component", "github-source", "repo", cfg.Owner+"/"+cfg.Repo),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.retry.Retryable = retryable

	if s.httpClient == nil {
		if cfg.Token != "" {
			s.httpClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token}))
		} else {
			s.logger.Warn("no GitHub token configured, API requests are limited to 60 per hour")
			s.httpClient = &http.Client{}
		}
	}
	s.client = gh.NewClient(s.httpClient)
	if cfg.BaseURL != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("parsing github base url: %w", err)
		}
		if !strings.HasSuffix(u.Path, "/") {
			u.Path += "/"
		}
		s.client.BaseURL = u
	}

	s.breaker = resilience.NewCircuitBreaker("github-archive", resilience.CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		IsFailure:        retryable,
		OnStateChange: func(name string, to resilience.State) {
			if s.metrics != nil {
				s.metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			}
		},
	})
	return s, nil
}

// ReadFile returns the decoded contents of path at the configured ref.
func (s *Source) ReadFile(ctx context.Context, path string) (string, error) {
	var text string
	err := s.call(ctx, "read "+path, func(ctx context.Context) error {
		opts := &gh.RepositoryContentGetOptions{Ref: s.ref}
		file, _, resp, err := s.client.Repositories.GetContents(ctx, s.owner, s.repo, path, opts)
		s.observe(resp)
		if err != nil {
			return s.classify(resp, err)
		}
		if file == nil {
			return fmt.Errorf("%w: %s is a directory", apperrors.ErrReportNotFound, path)
		}
		// Files over 1 MB come back without inline content.
		if file.GetEncoding() == "none" {
			text, err = s.download(ctx, path, opts)
			return err
		}
		text, err = file.GetContent()
		if err != nil {
			return fmt.Errorf("%w: decoding %s: %v", apperrors.ErrMalformedDocument, path, err)
		}
		return nil
	})
	return text, err
}

// List returns the contents of dir at the configured ref; "" is the
// repository root. A file where a directory was expected, or a body that
// decodes as neither, is ErrMalformedDocument and is not retried.
func (s *Source) List(ctx context.Context, dir string) ([]archive.Entry, error) {
	var entries []archive.Entry
	err := s.call(ctx, "list "+dir, func(ctx context.Context) error {
		opts := &gh.RepositoryContentGetOptions{Ref: s.ref}
		file, items, resp, err := s.client.Repositories.GetContents(ctx, s.owner, s.repo, dir, opts)
		s.observe(resp)
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusOK {
				return fmt.Errorf("%w: listing %q: %v", apperrors.ErrMalformedDocument, dir, err)
			}
			return s.classify(resp, err)
		}
		if file != nil {
			return fmt.Errorf("%w: %q is a %s, not a directory", apperrors.ErrMalformedDocument, dir, file.GetType())
		}
		entries = make([]archive.Entry, 0, len(items))
		for _, item := range items {
			if item == nil {
				return fmt.Errorf("%w: listing %q holds a null entry", apperrors.ErrMalformedDocument, dir)
			}
			entries = append(entries, archive.Entry{
				Name:        item.GetName(),
				Path:        item.GetPath(),
				Type:        item.GetType(),
				SHA:         item.GetSHA(),
				Size:        int64(item.GetSize()),
				DownloadURL: item.GetDownloadURL(),
			})
		}
		return nil
	})
	return entries, err
}

func (s *Source) download(ctx context.Context, path string, opts *gh.RepositoryContentGetOptions) (string, error) {
	rc, resp, err := s.client.Repositories.DownloadContents(ctx, s.owner, s.repo, path, opts)
	s.observe(resp)
	if err != nil {
		return "", s.classify(resp, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("%w: downloading %s: %v", apperrors.ErrUnavailable, path, err)
	}
	return string(data), nil
}

// Revision returns the newest commit on the configured ref.
func (s *Source) Revision(ctx context.Context) (archive.Revision, error) {
	var rev archive.Revision
	err := s.call(ctx, "latest commit", func(ctx context.Context) error {
		opts := &gh.CommitsListOptions{SHA: s.ref, ListOptions: gh.ListOptions{PerPage: 1}}
		commits, resp, err := s.client.Repositories.ListCommits(ctx, s.owner, s.repo, opts)
		s.observe(resp)
		if err != nil {
			return s.classify(resp, err)
		}
		if len(commits) == 0 {
			return fmt.Errorf("%w: repository has no commits", apperrors.ErrReportNotFound)
		}
		c := commits[0]
		rev = archive.Revision{
			ID:   c.GetSHA(),
			Time: c.GetCommit().GetCommitter().GetDate().Time,
		}
		return nil
	})
	return rev, err
}

// call runs fn behind the rate limiter, circuit breaker and retry loop, each
// attempt under its own timeout.
func (s *Source) call(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if reset, exhausted := s.limiter.Exhausted(); exhausted {
		return &archive.RateLimitError{ResetAt: reset, Err: errors.New("quota exhausted")}
	}
	err := resilience.Retry(ctx, name, s.retry, func() error {
		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("waiting for rate limiter: %w", err)
		}
		return s.breaker.Execute(func() error {
			return resilience.WithTimeout(ctx, s.timeout, name, fn)
		})
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return fmt.Errorf("%w: %v", apperrors.ErrUnavailable, err)
	}
	return err
}

func (s *Source) observe(resp *gh.Response) {
	if resp != nil {
		s.limiter.UpdateFromResponse(resp.Response)
	}
}

// classify maps a go-github error to the error kinds the library
// understands.
func (s *Source) classify(resp *gh.Response, err error) error {
	var rle *gh.RateLimitError
	if errors.As(err, &rle) {
		return &archive.RateLimitError{ResetAt: rle.Rate.Reset.Time, Err: err}
	}
	var abuse *gh.AbuseRateLimitError
	if errors.As(err, &abuse) {
		reset := time.Now().Add(time.Minute)
		if abuse.RetryAfter != nil {
			reset = time.Now().Add(*abuse.RetryAfter)
		}
		return &archive.RateLimitError{ResetAt: reset, Err: err}
	}
	if resp == nil || resp.Response == nil {
		// No response at all: a network failure.
		return fmt.Errorf("%w: %v", apperrors.ErrUnavailable, err)
	}
	switch code := resp.StatusCode; {
	case code == http.StatusTooManyRequests:
		return &archive.RateLimitError{ResetAt: ResetAfter(resp.Response), Err: err}
	case code == http.StatusForbidden && resp.Header.Get(HeaderRateRemaining) == "0":
		return &archive.RateLimitError{ResetAt: ResetAfter(resp.Response), Err: err}
	case code == http.StatusForbidden:
		return fmt.Errorf("%w: access denied: %v", apperrors.ErrUnavailable, err)
	default:
		if kind := apperrors.Classify(code); kind != nil {
			return fmt.Errorf("%w: %v", kind, err)
		}
		return fmt.Errorf("%w: %v", apperrors.ErrUnavailable, err)
	}
}

// retryable accepts transient failures: 5xx, timeouts and network errors.
// Rate limits and missing files are final.
func retryable(err error) bool {
	switch {
	case apperrors.IsRateLimited(err), apperrors.IsNotFound(err):
		return false
	case errors.Is(err, apperrors.ErrInvalidInput), errors.Is(err, apperrors.ErrMalformedDocument):
		return false
	case errors.Is(err, context.Canceled):
		return false
	default:
		return true
	}
}
