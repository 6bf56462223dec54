package raftpd

import "encoding/gob"

// MessageType tags the unified raft message.
type MessageType int

// Message flow between peers:
//
// Message from leader:
// - Append request: LogIndex/LogTerm hold prevLogIndex/prevLogTerm,
//   Entries the suffix to replicate, Index the leader commit index.
// - Heartbeat request: Index holds min(matched, commit) for the target,
//   Context an optional read-only request tag.
// - ReadIndex response.
//
// Message from follower:
// - Append response: Index holds the match index on success, or the
//   probed prevLogIndex on rejection with RejectHint the back-off hint.
// - Heartbeat response.
// - ReadIndex request.
//
// Message from candidate:
// - Vote request: LogIndex/LogTerm hold the candidate's last entry.
//
// Message from all servers:
// - Vote response: Reject reports the decision.
//
// Message from local transport:
// - Unreachable: remote endpoint seems offline, fall back to probe.
const (
	MsgAppendRequest MessageType = iota
	MsgAppendResponse
	MsgVoteRequest
	MsgVoteResponse
	MsgHeartbeatRequest
	MsgHeartbeatResponse
	MsgReadIndexRequest
	MsgReadIndexResponse
	MsgUnreachable
)

var messageTypeString = []string{
	"Append request",
	"Append response",
	"Vote request",
	"Vote response",
	"Heartbeat request",
	"Heartbeat response",
	"ReadIndex request",
	"ReadIndex response",
	"Unreachable",
}

func (tp MessageType) String() string {
	return messageTypeString[tp]
}

// Message is the single wire shape shared by all RPCs.
type Message struct {
	MsgType           MessageType
	From, To          uint64
	Index, Term       uint64
	LogIndex, LogTerm uint64
	Reject            bool
	RejectHint        uint64
	Entries           []Entry
	Context           []byte
}

func (m *Message) Reset() { *m = Message{} }

func init() {
	gob.Register(Message{})
}
