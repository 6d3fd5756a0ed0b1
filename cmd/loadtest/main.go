// Command loadtest drives a mix of post creation and feed reads against a
// running server and reports latency percentiles per operation and the
// status code distribution. With a single token most creates come back 429
// once the author's window is full, which is the limiter doing its job.
//
// Usage:
//
//	go run ./cmd/loadtest -url http://localhost:8080 -token $SESSION_JWT -write-ratio 0.2
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var emojis = []string{"🎉", "🔥", "😀", "👍🏽", "🇯🇵", "❤️", "👩‍💻", "🚀🚀", "1️⃣", "🌮"}

type Config struct {
	BaseURL     string
	Concurrency int
	Duration    time.Duration
	Tokens      []string
	WriteRatio  float64
}

// opStats collects latency and status codes for one kind of request.
type opStats struct {
	total       atomic.Int64
	transport   atomic.Int64
	latencies   []time.Duration
	statusCodes map[int]int64
	mu          sync.Mutex
}

func newOpStats() *opStats {
	return &opStats{
		latencies:   make([]time.Duration, 0, 100000),
		statusCodes: make(map[int]int64),
	}
}

func (s *opStats) record(d time.Duration, status int, err error) {
	s.total.Add(1)
	if err != nil {
		s.transport.Add(1)
		return
	}
	s.mu.Lock()
	s.latencies = append(s.latencies, d)
	s.statusCodes[status]++
	s.mu.Unlock()
}

type Stats struct {
	create *opStats
	list   *opStats
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the chirp server")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	tokens := flag.String("token", "", "comma-separated session tokens used for creates")
	writeRatio := flag.Float64("write-ratio", 0.2, "fraction of requests that create a post")
	flag.Parse()

	cfg := Config{
		BaseURL:     strings.TrimRight(*baseURL, "/"),
		Concurrency: *concurrency,
		Duration:    *duration,
		WriteRatio:  *writeRatio,
	}
	if *tokens != "" {
		cfg.Tokens = strings.Split(*tokens, ",")
	}
	if len(cfg.Tokens) == 0 {
		cfg.WriteRatio = 0
	}

	fmt.Println("=== Chirp Load Test ===")
	fmt.Printf("Target:      %s\n", cfg.BaseURL)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Printf("Write ratio: %.2f (%d identities)\n", cfg.WriteRatio, len(cfg.Tokens))
	fmt.Println()

	stats := runLoadTest(cfg)
	printReport("Create", stats.create, cfg.Duration)
	printReport("List", stats.list, cfg.Duration)

	if stats.create.total.Load()+stats.list.total.Load() == 0 {
		fmt.Println("WARNING: No requests completed. Is the server running?")
		os.Exit(1)
	}
}

func runLoadTest(cfg Config) *Stats {
	stats := &Stats{create: newOpStats(), list: newOpStats()}
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	fmt.Print("Running")

	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for i := workerID; ctx.Err() == nil; i++ {
				if rand.Float64() < cfg.WriteRatio {
					token := cfg.Tokens[i%len(cfg.Tokens)]
					body := fmt.Sprintf(`{"content":%q}`, emojis[i%len(emojis)])
					req := mustNewRequest(ctx, http.MethodPost, cfg.BaseURL+"/api/v1/posts", body)
					req.Header.Set("Authorization", "Bearer "+token)
					req.Header.Set("Content-Type", "application/json")
					send(client, req, stats.create)
					continue
				}
				send(client, mustNewRequest(ctx, http.MethodGet, cfg.BaseURL+"/api/v1/posts", ""), stats.list)
			}
		}(w)
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Print(".")
			}
		}
	}()

	wg.Wait()
	fmt.Println(" done!")
	fmt.Println()
	return stats
}

func send(client *http.Client, req *http.Request, s *opStats) {
	start := time.Now()
	resp, err := client.Do(req)
	d := time.Since(start)
	if err != nil {
		if req.Context().Err() == nil {
			s.record(d, 0, err)
		}
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	s.record(d, resp.StatusCode, nil)
}

func mustNewRequest(ctx context.Context, method, rawURL, body string) *http.Request {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, r)
	if err != nil {
		panic(fmt.Sprintf("creating request: %v", err))
	}
	return req
}

func printReport(name string, s *opStats, duration time.Duration) {
	total := s.total.Load()
	fmt.Printf("=== %s ===\n", name)
	fmt.Printf("Requests:         %d\n", total)
	fmt.Printf("Transport errors: %d\n", s.transport.Load())
	if total > 0 {
		fmt.Printf("Requests/sec:     %.2f\n", float64(total)/duration.Seconds())
	}

	s.mu.Lock()
	latencies := slices.Clone(s.latencies)
	codes := make([]int, 0, len(s.statusCodes))
	for code := range s.statusCodes {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	counts := make([]int64, len(codes))
	for i, code := range codes {
		counts[i] = s.statusCodes[code]
	}
	s.mu.Unlock()

	if len(latencies) > 0 {
		slices.Sort(latencies)
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		fmt.Printf("Min:    %s\n", latencies[0])
		fmt.Printf("Avg:    %s\n", sum/time.Duration(len(latencies)))
		fmt.Printf("P50:    %s\n", percentile(latencies, 50))
		fmt.Printf("P95:    %s\n", percentile(latencies, 95))
		fmt.Printf("P99:    %s\n", percentile(latencies, 99))
		fmt.Printf("Max:    %s\n", latencies[len(latencies)-1])
	}

	fmt.Println("Status codes:")
	for i, code := range codes {
		fmt.Printf("  %d: %d\n", code, counts[i])
	}
	fmt.Println()
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
