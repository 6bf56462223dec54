package core

import (
	log "github.com/sirupsen/logrus"

	"github.com/darcal/keel/raft/core/conf"
	"github.com/darcal/keel/raft/core/read"
	raftpd "github.com/darcal/keel/raft/proto"
)

// Ready encapsulates the entries and messages that are ready to be
// persisted, committed or sent to other peers. All fields are
// read-only.
type Ready struct {
	// The current volatile state of a Node.
	// It is not required to consume or store SS.
	SS *SoftState

	// The current state of a Node to be saved to stable storage BEFORE
	// Messages are sent.
	// HS will be nil if there is no update.
	HS *raftpd.HardState

	// ReadStates can be used for node to serve linearizable read
	// requests locally when its applied index is greater than the
	// index in ReadState. Note that a read state is released only
	// once the corresponding index has been committed.
	ReadStates []read.ReadState

	// Entries specifies entries to be saved to stable storage BEFORE
	// Messages are sent.
	Entries []raftpd.Entry

	// CommitEntries specifies entries to be applied to the
	// state machine. These have previously been committed to stable
	// store.
	CommitEntries []raftpd.Entry

	// Messages specifies outbound messages to be sent AFTER Entries
	// are committed to stable storage.
	Messages []raftpd.Message
}

// RawNode wraps core, collecting the side effects of Step, Periodic
// and Propose so the caller drains them in a single Ready batch.
type RawNode struct {
	*core
	prevHS raftpd.HardState
	prevSS SoftState

	readStates    []read.ReadState
	commitEntries []raftpd.Entry
	messages      []raftpd.Message
}

func MakeRawNode(config *conf.Config) *RawNode {
	node := &RawNode{}

	node.core = makeCore(config, node)
	node.prevSS = node.core.ReadSoftState()
	node.prevHS = node.core.ReadHardState()
	return node
}

// Unreachable reports that the given peer could not be reached, so
// its replication stream backs off until the next probe succeeds.
func (node *RawNode) Unreachable(peer uint64) {
	msg := raftpd.Message{
		From:    peer,
		To:      conf.InvalidID,
		Term:    node.term,
		MsgType: raftpd.MsgUnreachable,
	}
	node.Step(&msg)
}

func (node *RawNode) Ready() Ready {
	ready := Ready{}

	ss := node.core.ReadSoftState()
	ready.SS = &ss

	hs := node.core.ReadHardState()
	if hs != node.prevHS {
		ready.HS = &hs
		node.prevHS = hs
	}

	ready.Entries = node.core.log.StableEntries()
	ready.CommitEntries = node.commitEntries
	ready.Messages = node.messages
	ready.ReadStates = node.drainReadState()

	log.Debugf("%d handle ready: [stable: %d, commit: %d, msg: %d]",
		node.id, len(ready.Entries), len(ready.CommitEntries), len(ready.Messages))

	// clear all
	node.commitEntries = make([]raftpd.Entry, 0)
	node.messages = make([]raftpd.Message, 0)

	return ready
}

// ReadStatus returns the current term and whether this node
// believes it is the leader.
func (node *RawNode) ReadStatus() (uint64, bool) {
	ss := node.core.ReadSoftState()
	hs := node.core.ReadHardState()

	return hs.Term, ss.State.IsLeader()
}

func (node *RawNode) send(msg *raftpd.Message) {
	node.messages = append(node.messages, *msg)
}

func (node *RawNode) saveReadState(readState *read.ReadState) {
	node.readStates = append(node.readStates, *readState)
}

func (node *RawNode) applyEntry(entry *raftpd.Entry) {
	node.commitEntries = append(node.commitEntries, *entry)
}

// drainReadState releases the read states whose read index is covered
// by what this Ready commits; the rest wait for a later batch.
func (node *RawNode) drainReadState() []read.ReadState {
	lastApplied := node.prevHS.Commit
	if len(node.commitEntries) > 0 {
		waitCommitIdx := node.commitEntries[len(node.commitEntries)-1].Index
		if lastApplied < waitCommitIdx {
			lastApplied = waitCommitIdx
		}
	}
	i := 0
	for ; i < len(node.readStates); i++ {
		if node.readStates[i].Index > lastApplied {
			break
		}
	}
	readStates := make([]read.ReadState, i)
	copy(readStates, node.readStates)
	node.readStates = node.readStates[i:]
	return readStates
}
