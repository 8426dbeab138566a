// Package chaos wraps a raft.Transport with fault injection: dropped
// calls, added latency, and blocked peers. It is a test-only
// collaborator — the production wiring never installs it.
package chaos

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/Omkar110401/raft-distributed-key-vault/pkg/raft"
)

var ErrInjectedDrop = errors.New("chaos: call dropped")

// Transport decorates an inner transport with failure rules.
type Transport struct {
	inner raft.Transport

	mu       sync.RWMutex
	dropRate float64
	delay    time.Duration
	blocked  map[string]bool
	rng      *rand.Rand
}

var _ raft.Transport = (*Transport)(nil)

func Wrap(inner raft.Transport) *Transport {
	return &Transport{
		inner:   inner,
		blocked: make(map[string]bool),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetDropRate makes the given fraction of calls fail, 0 disables.
func (t *Transport) SetDropRate(rate float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rate < 0 {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}
	t.dropRate = rate
}

// SetDelay adds fixed latency to every call.
func (t *Transport) SetDelay(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.delay = d
}

// Block fails every call to the given peer until Heal.
func (t *Transport) Block(peer string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.blocked[peer] = true
}

// Heal clears all rules.
func (t *Transport) Heal() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dropRate = 0
	t.delay = 0
	t.blocked = make(map[string]bool)
}

func (t *Transport) intercept(ctx context.Context, target string) error {
	t.mu.Lock()
	blocked := t.blocked[target]
	dropped := t.dropRate > 0 && t.rng.Float64() < t.dropRate
	delay := t.delay
	t.mu.Unlock()

	if blocked || dropped {
		return ErrInjectedDrop
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (t *Transport) RequestVote(ctx context.Context, target string, req *raft.RequestVoteRequest) (*raft.RequestVoteResponse, error) {
	if err := t.intercept(ctx, target); err != nil {
		return nil, err
	}
	return t.inner.RequestVote(ctx, target, req)
}

func (t *Transport) AppendEntries(ctx context.Context, target string, req *raft.AppendEntriesRequest) (*raft.AppendEntriesResponse, error) {
	if err := t.intercept(ctx, target); err != nil {
		return nil, err
	}
	return t.inner.AppendEntries(ctx, target, req)
}

func (t *Transport) InstallSnapshot(ctx context.Context, target string, req *raft.InstallSnapshotRequest) (*raft.InstallSnapshotResponse, error) {
	if err := t.intercept(ctx, target); err != nil {
		return nil, err
	}
	return t.inner.InstallSnapshot(ctx, target, req)
}
