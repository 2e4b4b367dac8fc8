package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"time"

	vegeta "github.com/tsenart/vegeta/v12/lib"
)

const (
	mockPort = 9091
	appPort  = 8081
	apiKey   = "sk-bench-key"
)

const benchConfig = `server:
  port: "8081"
  env: "production"
  api_keys:
    - "sk-bench-key"
store:
  dsn: "file:bench_registry.db?cache=shared&mode=rwc&_journal_mode=WAL&_busy_timeout=5000"
upstream:
  base_url: "http://localhost:9091"
  api_key: "sk-mock"
reconcile:
  enabled: true
  interval: 1h
rate_limit:
  requests_per_second: 100000
  burst: 100000
`

// Load-tests the resolve endpoint against a mock upstream catalog.
func main() {
	duration := flag.Duration("duration", 10*time.Second, "Duration of the test")
	rate := flag.Int("rate", 200, "Requests per second")
	flag.Parse()

	go startMockUpstream()

	fmt.Println("Building application...")
	buildCmd := exec.Command("go", "build", "-o", "bin/server", "./cmd/server")
	buildCmd.Stdout = os.Stdout
	buildCmd.Stderr = os.Stderr
	if err := buildCmd.Run(); err != nil {
		log.Fatalf("Failed to build app: %v", err)
	}

	configFile := "config.yaml"
	if err := os.WriteFile(configFile, []byte(benchConfig), 0644); err != nil {
		log.Fatalf("Failed to write config: %v", err)
	}
	defer os.Remove(configFile)
	defer os.Remove("bench_registry.db")

	app := exec.Command("./bin/server")
	app.Stdout = os.Stdout
	app.Stderr = os.Stderr
	if err := app.Start(); err != nil {
		log.Fatalf("Failed to start app: %v", err)
	}
	defer func() {
		_ = app.Process.Kill()
	}()

	waitForHealth()

	body, _ := json.Marshal(map[string]string{
		"category": "sonnet",
		"project":  "bench",
	})
	targeter := vegeta.NewStaticTargeter(vegeta.Target{
		Method: http.MethodPost,
		URL:    fmt.Sprintf("http://localhost:%d/v1/resolve", appPort),
		Body:   body,
		Header: http.Header{
			"Content-Type":  []string{"application/json"},
			"Authorization": []string{"Bearer " + apiKey},
		},
	})

	attacker := vegeta.NewAttacker()
	pacer := vegeta.Rate{Freq: *rate, Per: time.Second}

	var metrics vegeta.Metrics
	fmt.Printf("Attacking resolve at %d rps for %s...\n", *rate, *duration)
	for res := range attacker.Attack(targeter, pacer, *duration, "resolve") {
		metrics.Add(res)
	}
	metrics.Close()

	fmt.Printf("Requests:  %d\n", metrics.Requests)
	fmt.Printf("Success:   %.2f%%\n", metrics.Success*100)
	fmt.Printf("p50:       %s\n", metrics.Latencies.P50)
	fmt.Printf("p99:       %s\n", metrics.Latencies.P99)
	fmt.Printf("Max:       %s\n", metrics.Latencies.Max)
}

// startMockUpstream serves a two-page catalog so the startup reconciliation
// has something to pull.
func startMockUpstream() {
	page1, _ := json.Marshal(map[string]any{
		"data": []map[string]any{
			{"id": "claude-3-5-haiku-20241022", "display_name": "Claude Haiku 3.5", "created_at": "2024-10-22T00:00:00Z"},
			{"id": "claude-3-5-sonnet-20241022", "display_name": "Claude Sonnet 3.5", "created_at": "2024-10-22T00:00:00Z"},
		},
		"has_more": true,
		"last_id":  "claude-3-5-sonnet-20241022",
	})
	page2, _ := json.Marshal(map[string]any{
		"data": []map[string]any{
			{"id": "claude-sonnet-4-20250514", "display_name": "Claude Sonnet 4", "created_at": "2025-05-14T00:00:00Z"},
			{"id": "claude-opus-4-1-20250805", "display_name": "Claude Opus 4.1", "created_at": "2025-08-05T00:00:00Z"},
		},
		"has_more": false,
		"last_id":  "claude-opus-4-1-20250805",
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("after_id") == "" {
			_, _ = w.Write(page1)
			return
		}
		_, _ = w.Write(page2)
	})

	log.Fatal(http.ListenAndServe(":"+strconv.Itoa(mockPort), mux))
}

func waitForHealth() {
	url := fmt.Sprintf("http://localhost:%d/health", appPort)
	for i := 0; i < 50; i++ {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	log.Fatal("App never became healthy")
}
