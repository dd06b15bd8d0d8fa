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
	"github.com/shopspring/decimal"
)

// Replays provider webhooks against a running instance. The hotspot workload
// redelivers a small pool of event ids to exercise deduplication under
// concurrency.
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	companies   int
)

var (
	totalRequests uint64
	acked200      uint64
	rejected400   uint64
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
	flag.IntVar(&companies, "companies", 1000, "Number of seeded companies")
}

func main() {
	flag.Parse()
	log.Printf("Starting Webhook Replay: %s | Workers: %d | Duration: %s", workload, concurrency, duration)

	hot := make([]string, 20)
	for i := range hot {
		hot[i] = "evt-hot-" + uuid.NewString()
	}

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start, hot)
	}

	wg.Wait()
	printResults(time.Since(start), len(hot))
}

func worker(wg *sync.WaitGroup, start time.Time, hot []string) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	for time.Since(start) < duration {
		company := fmt.Sprintf("company-%05d", rand.Intn(companies)+1)
		eventID := "evt-" + uuid.NewString()
		if workload == "hotspot" && rand.Float32() < 0.90 {
			eventID = hot[rand.Intn(len(hot))]
		}

		payload := map[string]interface{}{
			"id":   eventID,
			"type": "transaction.completed",
			"data": map[string]interface{}{
				"id":        "pay-" + eventID,
				"ledgerId":  "ledger-" + company,
				"amount":    decimal.New(int64(rand.Intn(100000)+1), -2),
				"currency":  "USD",
				"reference": "bench",
			},
		}
		body, _ := json.Marshal(payload)

		req, _ := http.NewRequest("POST", targetURL+"/webhooks/"+company, bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case 200:
			atomic.AddUint64(&acked200, 1)
		case 400:
			atomic.AddUint64(&rejected400, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

func printResults(d time.Duration, hotEvents int) {
	total := atomic.LoadUint64(&totalRequests)
	acked := atomic.LoadUint64(&acked200)
	rejected := atomic.LoadUint64(&rejected400)
	fErr := atomic.LoadUint64(&failOther)

	results := map[string]interface{}{
		"workload":       workload,
		"duration_sec":   d.Seconds(),
		"total_requests": total,
		"throughput_rps": float64(total) / d.Seconds(),
		"acknowledged":   acked,
		"rejected":       rejected,
		"errors":         fErr,
		"hot_event_ids":  hotEvents,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	filename := fmt.Sprintf("results_webhooks_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		log.Printf("could not write %s: %v", filename, err)
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
