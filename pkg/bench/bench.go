// Package bench drives a synthetic Put/Get workload against a running
// cluster through the client HTTP API and summarizes the latencies.
package bench

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Options shape one benchmark run.
type Options struct {
	// Targets are the base URLs of every cluster node; the runner locates
	// the leader among them.
	Targets []string

	Writes      int
	Reads       int
	Concurrency int
	KeySpace    int
	Timeout     time.Duration
}

func (o *Options) withDefaults() {
	if o.Writes <= 0 {
		o.Writes = 1000
	}
	if o.Reads < 0 {
		o.Reads = 0
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 8
	}
	if o.KeySpace <= 0 {
		o.KeySpace = 256
	}
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
}

// Summary is the outcome of a run.
type Summary struct {
	RunID   string        `json:"runId"`
	Leader  string        `json:"leader"`
	Writes  int           `json:"writes"`
	Reads   int           `json:"reads"`
	Errors  int           `json:"errors"`
	Elapsed time.Duration `json:"elapsed"`
	P50     time.Duration `json:"p50"`
	P95     time.Duration `json:"p95"`
	P99     time.Duration `json:"p99"`
	Max     time.Duration `json:"max"`
	PerSec  float64       `json:"perSec"`
}

// CSV renders the summary as a one-row CSV document.
func (s Summary) CSV() string {
	return fmt.Sprintf(
		"runId,leader,writes,reads,errors,elapsedMs,p50Ms,p95Ms,p99Ms,maxMs,perSec\n%s,%s,%d,%d,%d,%.2f,%.2f,%.2f,%.2f,%.2f,%.1f\n",
		s.RunID, s.Leader, s.Writes, s.Reads, s.Errors,
		float64(s.Elapsed.Microseconds())/1000,
		float64(s.P50.Microseconds())/1000,
		float64(s.P95.Microseconds())/1000,
		float64(s.P99.Microseconds())/1000,
		float64(s.Max.Microseconds())/1000,
		s.PerSec,
	)
}

// Runner executes benchmark runs.
type Runner struct {
	client *http.Client
	logger zerolog.Logger
}

func NewRunner(logger zerolog.Logger) *Runner {
	return &Runner{
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger.With().Str("component", "bench").Logger(),
	}
}

type stateResponse struct {
	NodeID   string `json:"nodeId"`
	Role     string `json:"role"`
	LeaderID string `json:"leaderId"`
}

// FindLeader polls the targets' /raft/state until one reports Leader.
func (r *Runner) FindLeader(ctx context.Context, targets []string) (string, error) {
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		for _, target := range targets {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, target+"/raft/state", nil)
			if err != nil {
				continue
			}
			resp, err := r.client.Do(req)
			if err != nil {
				continue
			}
			var st stateResponse
			err = json.NewDecoder(resp.Body).Decode(&st)
			resp.Body.Close()
			if err == nil && st.Role == "Leader" {
				return target, nil
			}
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
	return "", fmt.Errorf("no leader found among %d targets", len(targets))
}

// Run executes the workload and returns the summary.
func (r *Runner) Run(ctx context.Context, opts Options) (Summary, error) {
	opts.withDefaults()

	leader, err := r.FindLeader(ctx, opts.Targets)
	if err != nil {
		return Summary{}, err
	}

	runID := uuid.NewString()
	r.logger.Info().
		Str("run", runID).
		Str("leader", leader).
		Int("writes", opts.Writes).
		Int("reads", opts.Reads).
		Msg("benchmark starting")

	type op struct {
		read bool
		key  string
	}
	ops := make(chan op, opts.Concurrency)

	var (
		mu        sync.Mutex
		latencies []time.Duration
		errCount  int
	)

	var wg sync.WaitGroup
	for i := 0; i < opts.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for o := range ops {
				start := time.Now()
				var err error
				if o.read {
					err = r.doRead(ctx, leader, o.key)
				} else {
					err = r.doWrite(ctx, leader, o.key, runID)
				}
				elapsed := time.Since(start)

				mu.Lock()
				if err != nil {
					errCount++
				} else {
					latencies = append(latencies, elapsed)
				}
				mu.Unlock()
			}
		}()
	}

	start := time.Now()
	for i := 0; i < opts.Writes; i++ {
		ops <- op{key: fmt.Sprintf("bench-%s-%d", runID[:8], i%opts.KeySpace)}
	}
	for i := 0; i < opts.Reads; i++ {
		ops <- op{read: true, key: fmt.Sprintf("bench-%s-%d", runID[:8], i%opts.KeySpace)}
	}
	close(ops)
	wg.Wait()
	elapsed := time.Since(start)

	summary := Summary{
		RunID:   runID,
		Leader:  leader,
		Writes:  opts.Writes,
		Reads:   opts.Reads,
		Errors:  errCount,
		Elapsed: elapsed,
	}
	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		summary.P50 = percentile(latencies, 0.50)
		summary.P95 = percentile(latencies, 0.95)
		summary.P99 = percentile(latencies, 0.99)
		summary.Max = latencies[len(latencies)-1]
		summary.PerSec = float64(len(latencies)) / elapsed.Seconds()
	}

	r.logger.Info().
		Str("run", runID).
		Int("errors", errCount).
		Dur("p50", summary.P50).
		Dur("p99", summary.P99).
		Msg("benchmark finished")
	return summary, nil
}

func (r *Runner) doWrite(ctx context.Context, leader, key, runID string) error {
	body, _ := json.Marshal(map[string]string{"key": key, "value": runID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, leader+"/vault/key", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("write status %d", resp.StatusCode)
	}
	return nil
}

func (r *Runner) doRead(ctx context.Context, leader, key string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, leader+"/vault/key/"+key, nil)
	if err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("read status %d", resp.StatusCode)
	}
	return nil
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}
