package raft

import (
	raftpd "github.com/darcal/keel/raft/proto"
)

// Transporter delivers messages to other peers. Send returns an error
// when the peer cannot be reached, which drives the replication
// back-off for that peer.
type Transporter interface {
	Send(to uint64, msg *raftpd.Message) error
}
