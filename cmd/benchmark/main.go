package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Config holds the benchmark settings
var (
	targetURL   string
	basePath    string
	concurrency int
	duration    time.Duration
	workload    string
	replayPct   float64
)

// Metrics
var (
	totalRequests uint64
	success200    uint64 // OK / idempotent replays
	success201    uint64 // Created
	fail402       uint64 // Insufficient funds
	fail409       uint64 // Conflicts
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.StringVar(&basePath, "base", "/api/v1", "API base path")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
	flag.Float64Var(&replayPct, "replay", 0.1, "Fraction of requests that retry a previously used idempotency key")
}

func main() {
	flag.Parse()
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s", workload, concurrency, duration)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start)
	}

	wg.Wait()
	printResults(time.Since(start))
}

func worker(wg *sync.WaitGroup, start time.Time) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	var lastUser, lastKey string
	var lastBody []byte

	for time.Since(start) < duration {
		user := pickUser()

		key := uuid.NewString()
		payload := map[string]interface{}{
			"amount":      int64(100),
			"description": "benchmark order",
		}
		body, _ := json.Marshal(payload)

		// Occasionally replay the previous request verbatim to exercise the
		// idempotency fast path. Keys are scoped per user, so the user is
		// replayed along with the key.
		if lastKey != "" && rand.Float64() < replayPct {
			user = lastUser
			key = lastKey
			body = lastBody
		} else {
			lastUser = user
			lastKey = key
			lastBody = body
		}

		req, _ := http.NewRequest("POST", targetURL+basePath+"/orders", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-User-Id", user)
		req.Header.Set("Idempotency-Key", key)

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case 201:
			atomic.AddUint64(&success201, 1)
		case 200:
			atomic.AddUint64(&success200, 1)
		case 402:
			atomic.AddUint64(&fail402, 1)
		case 409:
			atomic.AddUint64(&fail409, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

func pickUser() string {
	// Assumes accounts bench-user-0001..bench-user-1000 are seeded.
	totalAccounts := 1000

	if workload == "hotspot" {
		// Hotspot: 90% of traffic hits two accounts
		if rand.Float32() < 0.90 {
			if rand.Float32() < 0.5 {
				return "bench-user-0001"
			}
			return "bench-user-0002"
		}
	}

	return fmt.Sprintf("bench-user-%04d", rand.Intn(totalAccounts)+1)
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	s201 := atomic.LoadUint64(&success201)
	s200 := atomic.LoadUint64(&success200)
	f402 := atomic.LoadUint64(&fail402)
	f409 := atomic.LoadUint64(&fail409)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(total) / d.Seconds()

	results := map[string]interface{}{
		"workload":           workload,
		"duration_sec":       d.Seconds(),
		"total_requests":     total,
		"throughput_tps":     tps,
		"success_created":    s201,
		"success_replay":     s200,
		"insufficient_funds": f402,
		"conflicts":          f409,
		"errors":             fErr,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	filename := fmt.Sprintf("results_%s.json", workload)
	file, _ := os.Create(filename)
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
