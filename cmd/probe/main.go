// Probe drives load against a running Kestrel and reports read latency
// and cache-hit ratio.
//
// Usage:
//
//	go run ./cmd/probe -tickers NVDA,AAPL -kinds dark_pool,options_flow -rounds 5
//	go run ./cmd/probe -csv targets.csv -url http://localhost:8080
//
// The probe:
//  1. Builds (ticker, kind) targets from flags or a CSV with ticker,kind columns
//  2. Requests every target once per round through a worker pool, optionally
//     paced to a total request rate
//  3. Records latency, status and whether the answer came from cache
//  4. Prints latency percentiles, hit ratio and the status breakdown
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Target is one single-kind read.
type Target struct {
	Ticker string
	Kind   string
}

// KindResponse is the part of the single-kind read the probe inspects.
type KindResponse struct {
	Kind   string `json:"kind"`
	Count  int    `json:"count"`
	Cached bool   `json:"cached"`
	Status string `json:"status"`
}

// Sample is one request outcome.
type Sample struct {
	Target  Target
	Latency time.Duration
	Status  int
	Cached  bool
	Err     error
}

// Metrics aggregates samples.
type Metrics struct {
	mu        sync.Mutex
	latencies []time.Duration
	statuses  map[int]int
	hits      int
	misses    int
	errors    int
}

func (m *Metrics) record(s Sample) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.Err != nil {
		m.errors++
		return
	}
	m.latencies = append(m.latencies, s.Latency)
	m.statuses[s.Status]++
	if s.Status != http.StatusOK {
		return
	}
	if s.Cached {
		m.hits++
	} else {
		m.misses++
	}
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	tickers := flag.String("tickers", "NVDA", "Comma-separated tickers")
	kinds := flag.String("kinds", "dark_pool", "Comma-separated kinds")
	csvPath := flag.String("csv", "", "CSV file with ticker,kind columns (overrides -tickers and -kinds)")
	rounds := flag.Int("rounds", 3, "Times each target is requested")
	workers := flag.Int("workers", 4, "Number of concurrent workers")
	rps := flag.Float64("rps", 0, "Total requests per second across workers (0 = unpaced)")
	limit := flag.Int("limit", 0, "Row limit per read (0 = server default)")
	force := flag.Bool("force", false, "Bypass the cache on every read")
	timeout := flag.Duration("timeout", 30*time.Second, "Per-request timeout")
	verbose := flag.Bool("verbose", false, "Print each request")
	flag.Parse()

	targets, err := buildTargets(*csvPath, *tickers, *kinds)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("KESTREL PROBE - read contract")
	fmt.Printf("\nKestrel URL: %s\n", *baseURL)
	fmt.Printf("Targets:     %d\n", len(targets))
	fmt.Printf("Rounds:      %d\n", *rounds)
	fmt.Printf("Workers:     %d\n", *workers)
	if *rps > 0 {
		fmt.Printf("Rate:        %.1f req/sec\n", *rps)
	}
	fmt.Printf("Force:       %v\n", *force)
	fmt.Println()

	client := &http.Client{Timeout: *timeout}
	if err := checkHealth(client, *baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run ./cmd/kestrel")
		os.Exit(1)
	}
	fmt.Println("Kestrel is healthy")

	start := time.Now()
	metrics := runProbe(client, *baseURL, targets, *rounds, *workers, *limit, *force, *verbose, pacer(*rps))
	printResults(metrics, time.Since(start))
}

func checkHealth(client *http.Client, baseURL string) error {
	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func buildTargets(csvPath, tickers, kinds string) ([]Target, error) {
	if csvPath != "" {
		return readTargetsCSV(csvPath)
	}
	var targets []Target
	for _, t := range splitList(tickers) {
		for _, k := range splitList(kinds) {
			targets = append(targets, Target{Ticker: strings.ToUpper(t), Kind: k})
		}
	}
	if len(targets) == 0 {
		return nil, errors.New("no targets: set -tickers and -kinds or -csv")
	}
	return targets, nil
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func readTargetsCSV(path string) ([]Target, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	tickerCol, ok := colIndex["ticker"]
	if !ok {
		return nil, errors.New("csv is missing a ticker column")
	}
	kindCol, ok := colIndex["kind"]
	if !ok {
		return nil, errors.New("csv is missing a kind column")
	}

	var targets []Target
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil || len(record) <= max(tickerCol, kindCol) {
			continue // Skip malformed rows
		}
		targets = append(targets, Target{
			Ticker: strings.ToUpper(strings.TrimSpace(record[tickerCol])),
			Kind:   strings.TrimSpace(record[kindCol]),
		})
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("no targets in %s", path)
	}
	return targets, nil
}

// pacer spreads requests evenly at rps; a non-positive rate never blocks.
func pacer(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(rps), 1)
}

func runProbe(client *http.Client, baseURL string, targets []Target, rounds, numWorkers, limit int, force, verbose bool, pace *rate.Limiter) *Metrics {
	metrics := &Metrics{statuses: make(map[int]int)}

	work := make(chan Target, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for target := range work {
				if err := pace.Wait(context.Background()); err != nil {
					metrics.record(Sample{Target: target, Err: err})
					continue
				}
				s := readKind(client, baseURL, target, limit, force)
				metrics.record(s)

				if verbose {
					if s.Err != nil {
						fmt.Printf("ERROR %-6s %-24s %v\n", target.Ticker, target.Kind, s.Err)
						continue
					}
					fmt.Printf("%3d   %-6s %-24s cached=%-5v %8.2f ms\n",
						s.Status, target.Ticker, target.Kind, s.Cached,
						float64(s.Latency.Microseconds())/1000)
				}
			}
		}()
	}

	// Rounds run back to back so later rounds exercise the cache.
	for r := 0; r < rounds; r++ {
		for _, t := range targets {
			work <- t
		}
	}
	close(work)
	wg.Wait()

	return metrics
}

func readKind(client *http.Client, baseURL string, target Target, limit int, force bool) Sample {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if force {
		q.Set("force", "true")
	}
	u := fmt.Sprintf("%s/tickers/%s/activity/%s", baseURL, url.PathEscape(target.Ticker), url.PathEscape(target.Kind))
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	start := time.Now()
	resp, err := client.Get(u)
	if err != nil {
		return Sample{Target: target, Err: err}
	}
	defer resp.Body.Close()

	s := Sample{Target: target, Status: resp.StatusCode}
	if resp.StatusCode == http.StatusOK {
		var body KindResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return Sample{Target: target, Err: err}
		}
		s.Cached = body.Cached
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	s.Latency = time.Since(start)
	return s
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

func printResults(m *Metrics, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fmt.Println("\nPROBE RESULTS")

	total := len(m.latencies) + m.errors
	fmt.Printf("\nREQUESTS\n")
	fmt.Printf("   Total:            %d\n", total)
	fmt.Printf("   Transport errors: %d\n", m.errors)

	codes := make([]int, 0, len(m.statuses))
	for code := range m.statuses {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	for _, code := range codes {
		fmt.Printf("   HTTP %d:         %d\n", code, m.statuses[code])
	}

	fmt.Printf("\nCACHE\n")
	if reads := m.hits + m.misses; reads > 0 {
		fmt.Printf("   Hits:      %d\n", m.hits)
		fmt.Printf("   Misses:    %d\n", m.misses)
		fmt.Printf("   Hit ratio: %.2f%%\n", 100*float64(m.hits)/float64(reads))
	} else {
		fmt.Println("   No successful reads")
	}

	fmt.Printf("\nLATENCY\n")
	sorted := slices.Clone(m.latencies)
	slices.Sort(sorted)
	fmt.Printf("   p50:  %v\n", percentile(sorted, 0.50).Round(time.Microsecond))
	fmt.Printf("   p90:  %v\n", percentile(sorted, 0.90).Round(time.Microsecond))
	fmt.Printf("   p99:  %v\n", percentile(sorted, 0.99).Round(time.Microsecond))
	if len(sorted) > 0 {
		fmt.Printf("   max:  %v\n", sorted[len(sorted)-1].Round(time.Microsecond))
	}

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration: %v\n", duration.Round(time.Millisecond))
	if total > 0 {
		fmt.Printf("   Throughput:     %.2f req/sec\n", float64(total)/duration.Seconds())
	}
	fmt.Println()
}
