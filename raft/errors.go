package raft

import "errors"

var (
	// ErrNotLeader is returned by Submit and Read when this node is
	// not the leader; the caller should retry against the leader.
	ErrNotLeader = errors.New("raft: not the leader")

	// ErrStopped is returned when the instance has been killed.
	ErrStopped = errors.New("raft: instance stopped")

	// ErrCorrupted is returned when the on-disk log cannot be parsed.
	ErrCorrupted = errors.New("raft: log corrupted")
)
