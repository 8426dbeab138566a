// Package rpc carries the peer-to-peer consensus RPCs as JSON over HTTP:
// an outbound client implementing raft.Transport, the gin route handlers
// for the inbound side, and an in-memory transport for multi-node tests.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Omkar110401/raft-distributed-key-vault/pkg/raft"
)

const (
	pathRequestVote     = "/raft/request-vote"
	pathAppendEntries   = "/raft/append-entries"
	pathInstallSnapshot = "/raft/install-snapshot"
)

// HTTPTransport resolves peer ids to base URLs and POSTs the consensus
// RPCs as JSON. Calls respect the caller's context deadline.
type HTTPTransport struct {
	urls   map[string]string
	client *http.Client
}

// NewHTTPTransport builds a transport over the id -> base URL map.
func NewHTTPTransport(urls map[string]string, timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTPTransport{
		urls: urls,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

func (t *HTTPTransport) RequestVote(ctx context.Context, target string, req *raft.RequestVoteRequest) (*raft.RequestVoteResponse, error) {
	var resp raft.RequestVoteResponse
	if err := t.post(ctx, target, pathRequestVote, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (t *HTTPTransport) AppendEntries(ctx context.Context, target string, req *raft.AppendEntriesRequest) (*raft.AppendEntriesResponse, error) {
	var resp raft.AppendEntriesResponse
	if err := t.post(ctx, target, pathAppendEntries, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (t *HTTPTransport) InstallSnapshot(ctx context.Context, target string, req *raft.InstallSnapshotRequest) (*raft.InstallSnapshotResponse, error) {
	var resp raft.InstallSnapshotResponse
	if err := t.post(ctx, target, pathInstallSnapshot, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (t *HTTPTransport) post(ctx context.Context, target, path string, in, out any) error {
	base, ok := t.urls[target]
	if !ok {
		return fmt.Errorf("unknown peer %s", target)
	}

	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", path, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer func() {
		io.Copy(io.Discard, httpResp.Body)
		httpResp.Body.Close()
	}()

	if httpResp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s from %s: status %d", path, target, httpResp.StatusCode)
	}
	if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response from %s: %w", path, target, err)
	}
	return nil
}
