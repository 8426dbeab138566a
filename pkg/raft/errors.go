package raft

import "errors"

var (
	ErrNotLeader = errors.New("not the leader")
	ErrTimeout   = errors.New("operation timed out")
	ErrCompacted = errors.New("log index is below the snapshot floor")
	ErrStopped   = errors.New("node has been stopped")
	ErrNoEntry   = errors.New("no entry at index")
)
