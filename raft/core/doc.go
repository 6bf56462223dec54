// Package core provides a basic implementation of the raft consensus
// algorithm: leader election under randomized timeouts, term management,
// log replication with consistency checking, and majority-based commit
// advancement.
//
// The package is deliberately passive. It owns no goroutine, no timer
// and no I/O; callers drive it through the `Raft` interface:
//
//	- `Periodic` feeds elapsed time, firing elections and heartbeats.
//	- `Step` feeds messages received from other nodes.
//	- `Propose` appends a command when the node currently leads.
//	- `Read` starts a linearizable read-only query.
//	- `Ready` drains the accumulated effects: entries to persist,
//	  entries to apply, messages to send, released read states.
//
// Callers MUST persist Ready.Entries and Ready.HS to stable storage
// before handing Ready.Messages to the transport; correctness of the
// protocol depends on that ordering, not on any behavior inside this
// package.
package core
