package core

import (
	log "github.com/sirupsen/logrus"

	"github.com/darcal/keel/raft/core/conf"
	"github.com/darcal/keel/raft/core/holder"
	"github.com/darcal/keel/raft/core/peer"
	"github.com/darcal/keel/raft/core/read"
	raftpd "github.com/darcal/keel/raft/proto"
	"github.com/darcal/keel/utils"
)

// application receives the side effects of stepping the state machine.
// RawNode implements it by buffering everything until the next Ready.
type application interface {
	// send message to other node.
	send(msg *raftpd.Message)

	// saveReadState save a released read-only request.
	saveReadState(readState *read.ReadState)

	// applyEntry hand a committed entry to the state machine.
	applyEntry(entry *raftpd.Entry)
}

type core struct {
	// Fields need to be persistent.
	term uint64            // current term
	vote uint64            // vote for
	log  *holder.LogHolder // log holder

	// Fields just keep in memory.
	id uint64 // raft id

	// last known leader id, InvalidID when no live leader is heard.
	leaderID uint64
	state    StateRole    // current state role
	nodes    []*peer.Node // progress of other nodes in same raft group.

	// Fields for time.
	timeElapsed            int // total elapsed since last reset
	randomizedElectionTick int // randomized election tick
	electionTick           int // basis election tick
	heartbeatTick          int // heartbeat timeout tick

	// Other fields.
	maxSizePerMsg uint
	readOnly      *read.ReadOnly
	callback      application
}

func makeCore(config *conf.Config, callback application) *core {
	config.Verify()

	c := new(core)

	// Initialize persistence fields.
	c.vote = config.Vote
	c.term = config.Term
	if len(config.Entries) == 0 {
		// A node may restart with term and vote persisted but no
		// entries written yet; its log is simply fresh.
		c.log = holder.MakeLogHolder(config.ID)
	} else {
		c.log = holder.RebuildLogHolder(config.ID, config.Entries)
	}

	// Initialize memory fields.
	c.id = config.ID
	c.leaderID = conf.InvalidID
	c.state = RoleFollower

	/* make progress for every remote node */
	c.nodes = make([]*peer.Node, 0)
	lastIndex := c.log.LastIndex()
	for i := 0; i < len(config.Nodes); i++ {
		if config.Nodes[i] != c.id {
			node := peer.MakeNode(c.id, config.Nodes[i], lastIndex+1)
			c.nodes = append(c.nodes, node)
		}
	}

	// Initialize time related fields.
	c.timeElapsed = 0
	c.electionTick = config.ElectionTick
	c.heartbeatTick = config.HeartbeatTick
	c.resetRandomizedElectionTimeout()

	c.callback = callback
	c.readOnly = read.MakeReadOnly()
	c.maxSizePerMsg = config.MaxSizePerMsg

	utils.Assert(c.log.LastIndex() >= c.log.CommitIndex(),
		"%d [term: %d] last idx: %d less than commit: %d",
		c.id, c.term, c.log.LastIndex(), c.log.CommitIndex())

	log.Debugf("%d build raft at term: %d [lastIdx: %d, commitIdx: %d]",
		c.id, c.term, c.log.LastIndex(), c.log.CommitIndex())

	return c
}

// ReadSoftState return the volatile node status.
func (c *core) ReadSoftState() SoftState {
	return SoftState{
		LeaderID:  c.leaderID,
		State:     c.state,
		LastIndex: c.log.LastIndex(),
	}
}

// ReadHardState return the fields that must survive restart.
func (c *core) ReadHardState() raftpd.HardState {
	return raftpd.HardState{
		Vote:   c.vote,
		Term:   c.term,
		Commit: c.log.CommitIndex(),
	}
}

// Propose append a command to the local log when leading, and trigger
// an immediate replication round. Returns the entry's index and term,
// and whether this node accepted the command at all.
func (c *core) Propose(bytes []byte) (index uint64, term uint64, isLeader bool) {
	if !c.state.IsLeader() {
		return conf.InvalidIndex, conf.InvalidTerm, false
	}

	entry := raftpd.Entry{
		Index: c.log.LastIndex() + 1,
		Term:  c.term,
		Type:  raftpd.EntryNormal,
		Data:  bytes,
	}

	// Leader Append-Only: a leader never overwrites or deletes
	// entries in its log; it only appends new entries. §5.3
	c.log.Append([]raftpd.Entry{entry})

	// Replication is level triggered; a fresh entry is a level change.
	c.broadcastAppend()

	return entry.Index, entry.Term, true
}

// Read propose a read-only request, context is the unique id
// for request. The leader confirms it still holds a quorum through a
// round of context-tagged heartbeats before releasing the read.
func (c *core) Read(context []byte) bool {
	// leader must have committed an entry at its current term before
	// its commit index is known fresh enough to serve reads. (§6.4)
	if c.log.Term(c.log.CommitIndex()) != c.term {
		return false
	}

	switch c.state {
	case RoleLeader:
		if c.quorum() == 1 {
			readState := read.ReadState{
				Index:      c.log.CommitIndex(),
				RequestCtx: context,
			}
			c.callback.saveReadState(&readState)
			return true
		}
		c.readOnly.AddRequest(c.log.CommitIndex(), c.id, context)
		c.broadcastHeartbeatWithCtx(context)
	case RoleFollower:
		// redirect to leader
		if c.leaderID == conf.InvalidID {
			return false
		}
		msg := raftpd.Message{
			MsgType: raftpd.MsgReadIndexRequest,
			To:      c.leaderID,
			Context: context,
		}
		c.send(&msg)
	default:
		return false
	}
	return true
}

// CommittedEntries return the log prefix up to the commit index.
func (c *core) CommittedEntries() []raftpd.Entry {
	return c.log.CommittedEntries()
}

// Step advance the state machine using the given message.
func (c *core) Step(msg *raftpd.Message) {
	log.Debugf("%d received msg: %v from %d", c.id, msg.MsgType, msg.From)

	if msg.Term < c.term {
		log.Debugf("%d [term: %d] ignore a %s message with lower term from %d [term: %d]",
			c.id, c.term, msg.MsgType, msg.From, msg.Term)
		// A stale peer learns the current term from the rejection and
		// catches up; stale responses die here silently.
		c.reject(msg)
		return
	} else if msg.Term > c.term {
		log.Infof("%d [term: %d] receive a %s message with higher term from %d [term: %d]",
			c.id, c.term, msg.MsgType, msg.From, msg.Term)
		// leader id will be set after receiving a message from
		// the actual leader of the new term.
		c.becomeFollower(msg.Term, conf.InvalidID)
	}

	if msg.MsgType == raftpd.MsgVoteRequest {
		// vote requests are answered in any role.
		c.handleVote(msg)
	} else {
		c.dispatch(msg)
	}

	/* apply entries to state machine after handle remote msg */
	c.applyEntries()
}

// Periodic feed elapsed wall time into the election and heartbeat
// timers. It is the only place elections and heartbeats start.
func (c *core) Periodic(millsSinceLastPeriod int) {
	c.timeElapsed += millsSinceLastPeriod

	if c.state.IsLeader() {
		if c.heartbeatTick <= c.timeElapsed {
			c.timeElapsed = 0
			// Re-poll the tail: commit may have been held back by
			// entries that were not yet stable when the quorum acked,
			// and a single node group never sees an ack at all.
			c.poll(c.log.LastIndex())
			c.resumeProbes()
			c.broadcastAppend()
		}
	} else if c.randomizedElectionTick <= c.timeElapsed {
		c.campaign()
	}

	c.applyEntries()
}
