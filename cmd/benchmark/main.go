package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Config holds the benchmark settings
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	ipnSecret   string
)

// Metrics
var (
	totalRequests uint64
	success2xx    uint64
	fail401       uint64 // Rejected signatures
	fail409       uint64 // Stale/conflict retries
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "create", "Workload type: create | webhook")
	flag.StringVar(&ipnSecret, "secret", "", "CinetPay IPN secret (webhook workload only)")
}

func main() {
	flag.Parse()
	if workload == "webhook" && ipnSecret == "" {
		log.Fatal("webhook workload requires -secret")
	}
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

	for time.Since(start) < duration {
		var resp *http.Response
		var err error
		if workload == "webhook" {
			resp, err = fireWebhook(client)
		} else {
			resp, err = createIntent(client)
		}
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			atomic.AddUint64(&success2xx, 1)
		case resp.StatusCode == 401:
			atomic.AddUint64(&fail401, 1)
		case resp.StatusCode == 409:
			atomic.AddUint64(&fail409, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
}

func createIntent(client *http.Client) (*http.Response, error) {
	userID := fmt.Sprintf("bench-user-%03d", rand.Intn(200))
	payload := map[string]interface{}{
		"user_id":  userID,
		"amount":   "5000",
		"currency": "XOF",
	}
	body, _ := json.Marshal(payload)

	req, _ := http.NewRequest("POST", targetURL+"/api/v1/payments", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	return client.Do(req)
}

// fireWebhook replays CinetPay notifications for a small set of references.
// The references do not have to exist: lookup misses exercise the 404 path,
// duplicate deliveries exercise absorption.
func fireWebhook(client *http.Client) (*http.Response, error) {
	ref := fmt.Sprintf("CP-bench-%03d", rand.Intn(50))
	payload := map[string]interface{}{
		"cpm_trans_id":     ref,
		"cpm_trans_status": "ACCEPTED",
		"cpm_amount":       "5000",
		"cpm_currency":     "XOF",
	}
	body, _ := json.Marshal(payload)

	mac := hmac.New(sha256.New, []byte(ipnSecret))
	mac.Write(body)
	sig := hex.EncodeToString(mac.Sum(nil))

	req, _ := http.NewRequest("POST", targetURL+"/webhooks/cinetpay", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-token", sig)
	return client.Do(req)
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	s2xx := atomic.LoadUint64(&success2xx)
	f401 := atomic.LoadUint64(&fail401)
	f409 := atomic.LoadUint64(&fail409)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(total) / d.Seconds()

	results := map[string]interface{}{
		"workload":       workload,
		"duration_sec":   d.Seconds(),
		"total_requests": total,
		"throughput_tps": tps,
		"success":        s2xx,
		"rejected_auth":  f401,
		"conflicts":      f409,
		"errors":         fErr,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	filename := fmt.Sprintf("results_%s.json", workload)
	file, _ := os.Create(filename)
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
