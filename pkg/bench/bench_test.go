package bench

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeNode mimics the subset of the cluster API the runner touches.
func fakeNode(role string, writes, reads *int64) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/raft/state", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"nodeId": "n1", "role": role})
	})
	mux.HandleFunc("/vault/key", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(writes, 1)
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]any{"status": "PENDING", "logIndex": 1})
	})
	mux.HandleFunc("/vault/key/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(reads, 1)
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{"found": false})
	})
	return httptest.NewServer(mux)
}

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

func TestFindLeader(t *testing.T) {
	var w, r int64
	leader := fakeNode("Leader", &w, &r)
	defer leader.Close()
	follower := fakeNode("Follower", &w, &r)
	defer follower.Close()

	runner := NewRunner(testLogger())
	found, err := runner.FindLeader(context.Background(), []string{follower.URL, leader.URL})
	require.NoError(t, err)
	assert.Equal(t, leader.URL, found)
}

func TestRunCountsOperations(t *testing.T) {
	var w, r int64
	leader := fakeNode("Leader", &w, &r)
	defer leader.Close()

	runner := NewRunner(testLogger())
	summary, err := runner.Run(context.Background(), Options{
		Targets:     []string{leader.URL},
		Writes:      20,
		Reads:       10,
		Concurrency: 4,
		KeySpace:    8,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(20), atomic.LoadInt64(&w))
	assert.Equal(t, int64(10), atomic.LoadInt64(&r))
	assert.Equal(t, 0, summary.Errors)
	assert.NotEmpty(t, summary.RunID)
	assert.True(t, summary.P50 <= summary.P99)
	assert.True(t, summary.PerSec > 0)
}

func TestRunNoLeader(t *testing.T) {
	var w, r int64
	follower := fakeNode("Follower", &w, &r)
	defer follower.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := NewRunner(testLogger())
	_, err := runner.Run(ctx, Options{Targets: []string{follower.URL}, Writes: 1})
	assert.Error(t, err)
}

func TestSummaryCSV(t *testing.T) {
	s := Summary{RunID: "abc", Leader: "http://x", Writes: 5, Reads: 2}
	csv := s.CSV()
	lines := strings.Split(strings.TrimSpace(csv), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "runId,leader,writes"))
	assert.True(t, strings.HasPrefix(lines[1], "abc,http://x,5,2"))
}
