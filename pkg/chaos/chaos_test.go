package chaos

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Omkar110401/raft-distributed-key-vault/pkg/raft"
)

// countingTransport records calls that make it through the chaos layer.
type countingTransport struct {
	calls int
}

func (c *countingTransport) RequestVote(ctx context.Context, target string, req *raft.RequestVoteRequest) (*raft.RequestVoteResponse, error) {
	c.calls++
	return &raft.RequestVoteResponse{Term: req.Term, VoteGranted: true}, nil
}

func (c *countingTransport) AppendEntries(ctx context.Context, target string, req *raft.AppendEntriesRequest) (*raft.AppendEntriesResponse, error) {
	c.calls++
	return &raft.AppendEntriesResponse{Term: req.Term, Success: true}, nil
}

func (c *countingTransport) InstallSnapshot(ctx context.Context, target string, req *raft.InstallSnapshotRequest) (*raft.InstallSnapshotResponse, error) {
	c.calls++
	return &raft.InstallSnapshotResponse{Term: req.Term}, nil
}

func TestPassthroughByDefault(t *testing.T) {
	inner := &countingTransport{}
	ct := Wrap(inner)

	resp, err := ct.RequestVote(context.Background(), "n2", &raft.RequestVoteRequest{Term: 1})
	require.NoError(t, err)
	assert.True(t, resp.VoteGranted)
	assert.Equal(t, 1, inner.calls)
}

func TestDropRateOne(t *testing.T) {
	inner := &countingTransport{}
	ct := Wrap(inner)
	ct.SetDropRate(1.0)

	for i := 0; i < 10; i++ {
		_, err := ct.AppendEntries(context.Background(), "n2", &raft.AppendEntriesRequest{Term: 1})
		assert.ErrorIs(t, err, ErrInjectedDrop)
	}
	assert.Equal(t, 0, inner.calls)
}

func TestBlockSinglePeer(t *testing.T) {
	inner := &countingTransport{}
	ct := Wrap(inner)
	ct.Block("n2")

	_, err := ct.AppendEntries(context.Background(), "n2", &raft.AppendEntriesRequest{Term: 1})
	assert.ErrorIs(t, err, ErrInjectedDrop)

	_, err = ct.AppendEntries(context.Background(), "n3", &raft.AppendEntriesRequest{Term: 1})
	assert.NoError(t, err)
	assert.Equal(t, 1, inner.calls)
}

func TestHealClearsRules(t *testing.T) {
	inner := &countingTransport{}
	ct := Wrap(inner)
	ct.SetDropRate(1.0)
	ct.Block("n2")
	ct.SetDelay(time.Hour)

	ct.Heal()

	start := time.Now()
	_, err := ct.InstallSnapshot(context.Background(), "n2", &raft.InstallSnapshotRequest{Term: 1})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, inner.calls)
}

func TestDelayRespectsContext(t *testing.T) {
	inner := &countingTransport{}
	ct := Wrap(inner)
	ct.SetDelay(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := ct.RequestVote(ctx, "n2", &raft.RequestVoteRequest{Term: 1})
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 0, inner.calls)
}
