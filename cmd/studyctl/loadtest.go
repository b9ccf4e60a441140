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

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

// defaultLoadQueries mixes exact, misspelled and facet-only requests so the
// run exercises the spell and fallback paths as well as the cache.
var defaultLoadQueries = []string{
	"q=bone+loss&q_mode=and",
	"q=microgravity+muscle&q_mode=smart",
	"q=radiaton+dosimetry&q_mode=or",
	"q=arabidopsis+root+growth",
	"q=immune+response&q_mode=or&q_min_match=1",
	"organism=Rodent",
	"organism=Plant&q=spaceflight",
	"project_type=Spaceflight&keywords=gene",
	"q=cell+free+dna",
	"q=biofilm&organism=Microbe",
}

func loadtestCommand() *cli.Command {
	return &cli.Command{
		Name:   "loadtest",
		Usage:  "Drive a running searcher with concurrent study queries",
		Action: loadtestAction,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Usage: "Base URL of the search service", Value: "http://localhost:8080"},
			&cli.IntFlag{Name: "concurrency", Usage: "Number of concurrent workers", Value: 10},
			&cli.DurationFlag{Name: "duration", Usage: "Test duration", Value: 30 * time.Second},
			&cli.StringSliceFlag{Name: "query", Usage: "Raw query string to send (repeatable); defaults to a built-in mix"},
		},
	}
}

type loadStats struct {
	total     atomic.Int64
	success   atomic.Int64
	errors    atomic.Int64
	cacheHits atomic.Int64

	mu        sync.Mutex
	latencies []time.Duration
	codes     map[int]int64
}

func newLoadStats() *loadStats {
	return &loadStats{
		latencies: make([]time.Duration, 0, 100000),
		codes:     make(map[int]int64),
	}
}

func (s *loadStats) record(d time.Duration, code int, cacheHit bool, err error) {
	s.total.Add(1)
	if err != nil {
		s.errors.Add(1)
		return
	}
	if code >= 200 && code < 300 {
		s.success.Add(1)
	} else {
		s.errors.Add(1)
	}
	if cacheHit {
		s.cacheHits.Add(1)
	}
	s.mu.Lock()
	s.latencies = append(s.latencies, d)
	s.codes[code]++
	s.mu.Unlock()
}

func loadtestAction(c *cli.Context) error {
	queries := c.StringSlice("query")
	if len(queries) == 0 {
		queries = defaultLoadQueries
	}
	concurrency := max(c.Int("concurrency"), 1)
	duration := c.Duration("duration")
	w := c.App.Writer

	fmt.Fprintln(w, "=== Study Search Load Test ===")
	fmt.Fprintf(w, "Target:      %s\n", c.String("url"))
	fmt.Fprintf(w, "Concurrency: %d\n", concurrency)
	fmt.Fprintf(w, "Duration:    %s\n", duration)
	fmt.Fprintf(w, "Queries:     %d unique\n\n", len(queries))

	ctx, cancel := context.WithTimeout(c.Context, duration)
	defer cancel()
	stats, err := runLoad(ctx, c.String("url"), queries, concurrency)
	if err != nil {
		return err
	}
	printLoadReport(w, stats, duration)
	if stats.total.Load() == 0 {
		return fmt.Errorf("no requests completed; is the service running?")
	}
	return nil
}

func runLoad(ctx context.Context, baseURL string, queries []string, concurrency int) (*loadStats, error) {
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", baseURL, err)
	}
	stats := newLoadStats()
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        concurrency * 2,
			MaxIdleConnsPerHost: concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	var g errgroup.Group
	for worker := 0; worker < concurrency; worker++ {
		g.Go(func() error {
			for i := worker; ctx.Err() == nil; i++ {
				target := fmt.Sprintf("%s/api/v1/studies?compact=true&%s", baseURL, queries[i%len(queries)])
				req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
				if err != nil {
					return err
				}
				start := time.Now()
				resp, err := client.Do(req)
				if err != nil {
					if ctx.Err() == nil {
						stats.record(time.Since(start), 0, false, err)
					}
					continue
				}
				hit := cacheHit(resp.Body)
				resp.Body.Close()
				stats.record(time.Since(start), resp.StatusCode, hit, nil)
			}
			return nil
		})
	}
	return stats, g.Wait()
}

// cacheHit reads the response and reports debug.cache_hit.
func cacheHit(body io.Reader) bool {
	var p struct {
		Debug struct {
			CacheHit bool `json:"cache_hit"`
		} `json:"debug"`
	}
	err := json.NewDecoder(body).Decode(&p)
	io.Copy(io.Discard, body)
	return err == nil && p.Debug.CacheHit
}

func printLoadReport(w io.Writer, s *loadStats, duration time.Duration) {
	total := s.total.Load()
	fmt.Fprintln(w, "=== Results ===")
	fmt.Fprintf(w, "Total Requests:  %d\n", total)
	fmt.Fprintf(w, "Successful:      %d\n", s.success.Load())
	fmt.Fprintf(w, "Errors:          %d\n", s.errors.Load())
	if total > 0 {
		fmt.Fprintf(w, "Error Rate:      %.2f%%\n", float64(s.errors.Load())/float64(total)*100)
		fmt.Fprintf(w, "Cache Hit Rate:  %.2f%%\n", float64(s.cacheHits.Load())/float64(total)*100)
		fmt.Fprintf(w, "Requests/sec:    %.2f\n", float64(total)/duration.Seconds())
	}

	s.mu.Lock()
	latencies := append([]time.Duration(nil), s.latencies...)
	codes := make([]int, 0, len(s.codes))
	for code := range s.codes {
		codes = append(codes, code)
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
		for _, p := range []float64{50, 90, 95, 99} {
			fmt.Fprintf(w, "P%-2.0f:    %s\n", p, durationPercentile(latencies, p))
		}
		fmt.Fprintf(w, "Max:    %s\n", latencies[len(latencies)-1])
	}

	sort.Ints(codes)
	fmt.Fprintln(w, "\n=== Status Codes ===")
	for _, code := range codes {
		fmt.Fprintf(w, "  %d: %d\n", code, s.codes[code])
	}
}

func durationPercentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	idx = min(max(idx, 0), len(sorted)-1)
	return sorted[idx]
}
