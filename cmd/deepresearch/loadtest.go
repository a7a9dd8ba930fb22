package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/OnlineMo/DeepResearch-Web/internal/searcher"
)

var loadtestCmd = &cobra.Command{
	Use:   "loadtest",
	Short: "Drive a running search service with concurrent queries and report latency",
	RunE:  runLoadtest,
}

func init() {
	f := loadtestCmd.Flags()
	f.String("url", "http://localhost:8080", "base URL of the search service")
	f.Int("concurrency", 10, "number of concurrent workers")
	f.Duration("duration", 30*time.Second, "test duration")
	f.Float64("rps", 0, "overall request rate limit (0 for unlimited)")
	f.StringSlice("query", nil, "query to send, repeatable (defaults to the trending list)")
	rootCmd.AddCommand(loadtestCmd)
}

type loadOptions struct {
	BaseURL     string
	Concurrency int
	Duration    time.Duration
	RPS         float64
	Queries     []string
}

type loadStats struct {
	total     atomic.Int64
	failed    atomic.Int64
	throttled atomic.Int64

	mu          sync.Mutex
	latencies   []time.Duration
	statusCodes map[int]int64
}

func newLoadStats() *loadStats {
	return &loadStats{statusCodes: make(map[int]int64)}
}

func (s *loadStats) record(d time.Duration, status int, err error) {
	s.total.Add(1)
	if err != nil {
		s.failed.Add(1)
		return
	}
	switch {
	case status == http.StatusTooManyRequests:
		s.throttled.Add(1)
	case status < 200 || status >= 300:
		s.failed.Add(1)
	}
	s.mu.Lock()
	s.latencies = append(s.latencies, d)
	s.statusCodes[status]++
	s.mu.Unlock()
}

func runLoadtest(cmd *cobra.Command, args []string) error {
	f := cmd.Flags()
	opts := loadOptions{}
	opts.BaseURL, _ = f.GetString("url")
	opts.Concurrency, _ = f.GetInt("concurrency")
	opts.Duration, _ = f.GetDuration("duration")
	opts.RPS, _ = f.GetFloat64("rps")
	opts.Queries, _ = f.GetStringSlice("query")

	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        opts.Concurrency * 2,
			MaxIdleConnsPerHost: opts.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	if len(opts.Queries) == 0 {
		opts.Queries = trendingQueries(cmd.Context(), client, opts.BaseURL)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "=== DeepResearch Search Load Test ===")
	fmt.Fprintf(out, "Target:      %s\n", opts.BaseURL)
	fmt.Fprintf(out, "Concurrency: %d\n", opts.Concurrency)
	fmt.Fprintf(out, "Duration:    %s\n", opts.Duration)
	fmt.Fprintf(out, "Queries:     %d unique\n\n", len(opts.Queries))

	stats, err := runLoad(cmd.Context(), client, opts)
	if err != nil {
		return err
	}
	stats.report(out, opts.Duration)
	if stats.total.Load() == 0 {
		return fmt.Errorf("no requests completed, is the service running?")
	}
	return nil
}

// trendingQueries asks the service for its trending list so the load
// resembles real traffic. The built-in fallback list is used when the
// service cannot be reached.
func trendingQueries(ctx context.Context, client *http.Client, baseURL string) []string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/v1/trending?n=20", nil)
	if err != nil {
		return searcher.FallbackTrending
	}
	resp, err := client.Do(req)
	if err != nil {
		return searcher.FallbackTrending
	}
	defer resp.Body.Close()
	var body struct {
		Queries []string `json:"queries"`
	}
	if resp.StatusCode != http.StatusOK || json.NewDecoder(resp.Body).Decode(&body) != nil || len(body.Queries) == 0 {
		return searcher.FallbackTrending
	}
	return body.Queries
}

// runLoad sends queries round-robin from Concurrency workers until Duration
// elapses or ctx is done.
func runLoad(ctx context.Context, client *http.Client, opts loadOptions) (*loadStats, error) {
	if len(opts.Queries) == 0 {
		return nil, fmt.Errorf("no queries to send")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	ctx, cancel := context.WithTimeout(ctx, opts.Duration)
	defer cancel()

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RPS), 1)
	}

	stats := newLoadStats()
	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < opts.Concurrency; w++ {
		g.Go(func() error {
			for i := w; ; i++ {
				if err := limiter.Wait(ctx); err != nil {
					return nil
				}
				q := opts.Queries[i%len(opts.Queries)]
				target := fmt.Sprintf("%s/api/v1/search?q=%s&limit=10", opts.BaseURL, url.QueryEscape(q))
				req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
				if err != nil {
					return fmt.Errorf("building request: %w", err)
				}

				start := time.Now()
				resp, err := client.Do(req)
				elapsed := time.Since(start)
				if ctx.Err() != nil {
					return nil
				}
				if err != nil {
					stats.record(elapsed, 0, err)
					continue
				}
				_, _ = io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				stats.record(elapsed, resp.StatusCode, nil)
			}
		})
	}
	return stats, g.Wait()
}

func (s *loadStats) report(w io.Writer, duration time.Duration) {
	total := s.total.Load()
	fmt.Fprintln(w, "=== Results ===")
	fmt.Fprintf(w, "Total Requests:  %d\n", total)
	fmt.Fprintf(w, "Failed:          %d\n", s.failed.Load())
	fmt.Fprintf(w, "Rate Limited:    %d\n", s.throttled.Load())
	if total > 0 {
		fmt.Fprintf(w, "Error Rate:      %.2f%%\n", float64(s.failed.Load())/float64(total)*100)
		fmt.Fprintf(w, "Requests/sec:    %.2f\n", float64(total)/duration.Seconds())
	}

	s.mu.Lock()
	latencies := append([]time.Duration(nil), s.latencies...)
	codes := make([]int, 0, len(s.statusCodes))
	for code := range s.statusCodes {
		codes = append(codes, code)
	}
	counts := make(map[int]int64, len(s.statusCodes))
	for code, n := range s.statusCodes {
		counts[code] = n
	}
	s.mu.Unlock()

	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		fmt.Fprintln(w, "\n=== Latency ===")
		fmt.Fprintf(w, "Min:    %s\n", latencies[0])
		fmt.Fprintf(w, "Avg:    %s\n", sum/time.Duration(len(latencies)))
		fmt.Fprintf(w, "P50:    %s\n", percentile(latencies, 50))
		fmt.Fprintf(w, "P95:    %s\n", percentile(latencies, 95))
		fmt.Fprintf(w, "P99:    %s\n", percentile(latencies, 99))
		fmt.Fprintf(w, "Max:    %s\n", latencies[len(latencies)-1])
	}

	sort.Ints(codes)
	fmt.Fprintln(w, "\n=== Status Codes ===")
	for _, code := range codes {
		fmt.Fprintf(w, "  %d: %d\n", code, counts[code])
	}
}

// percentile expects sorted input.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}
