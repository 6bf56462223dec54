package core

import (
	log "github.com/sirupsen/logrus"

	"github.com/darcal/keel/raft/core/conf"
	"github.com/darcal/keel/raft/core/peer"
	"github.com/darcal/keel/raft/core/read"
	raftpd "github.com/darcal/keel/raft/proto"
	"github.com/darcal/keel/utils"
)

func (c *core) dispatch(msg *raftpd.Message) {
	switch c.state {
	case RoleLeader:
		c.stepLeader(msg)
	case RoleFollower:
		c.stepFollower(msg)
	case RoleCandidate:
		c.stepCandidate(msg)
	}
}

func (c *core) stepLeader(msg *raftpd.Message) {
	switch msg.MsgType {
	case raftpd.MsgAppendResponse:
		c.handleAppendEntriesResponse(msg)
	case raftpd.MsgHeartbeatResponse:
		c.handleHeartbeatResponse(msg)
	case raftpd.MsgReadIndexRequest:
		c.handleReadIndexRequest(msg)
	case raftpd.MsgUnreachable:
		c.handleUnreachable(msg)
	}
}

func (c *core) stepFollower(msg *raftpd.Message) {
	switch msg.MsgType {
	case raftpd.MsgAppendRequest:
		c.handleAppendEntries(msg)
	case raftpd.MsgHeartbeatRequest:
		c.handleHeartbeat(msg)
	case raftpd.MsgReadIndexResponse:
		readState := read.ReadState{
			Index:      msg.Index,
			RequestCtx: msg.Context,
		}
		c.callback.saveReadState(&readState)
	}
}

func (c *core) stepCandidate(msg *raftpd.Message) {
	switch msg.MsgType {
	case raftpd.MsgVoteResponse:
		c.handleVoteResponse(msg)

	// If a candidate receives an AppendEntries RPC from another node
	// claiming to be leader whose term is at least as large as the
	// candidate's current term, it recognizes the leader as legitimate
	// and returns to follower state. §5.2
	case raftpd.MsgAppendRequest:
		c.becomeFollower(msg.Term, msg.From)
		c.handleAppendEntries(msg)
	case raftpd.MsgHeartbeatRequest:
		c.becomeFollower(msg.Term, msg.From)
		c.handleHeartbeat(msg)
	}
}

// handleVote answer a RequestVote message. The caller has already
// adopted msg.Term when it exceeded the local one.
func (c *core) handleVote(msg *raftpd.Message) {
	reply := raftpd.Message{}
	reply.To = msg.From
	reply.MsgType = raftpd.MsgVoteResponse

	// Grant iff we did not vote for somebody else this term AND the
	// candidate's log is at least as up-to-date as ours. §5.2, §5.4
	if (c.vote == conf.InvalidID || c.vote == msg.From) &&
		c.log.IsUpToDate(msg.LogIndex, msg.LogTerm) {
		c.vote = msg.From
		// a live candidate counts as leader activity.
		c.resetLease()
		reply.Reject = false

		log.Infof("%d [term: %d] grant vote to %d [logterm: %d, idx: %d]",
			c.id, c.term, msg.From, msg.LogTerm, msg.LogIndex)
	} else {
		reply.Reject = true

		log.Infof("%d [term: %d, vote: %d] reject vote to %d [logterm: %d, idx: %d]",
			c.id, c.term, c.vote, msg.From, msg.LogTerm, msg.LogIndex)
	}

	c.send(&reply)
}

func (c *core) handleVoteResponse(msg *raftpd.Message) {
	if msg.Reject {
		log.Infof("%d received vote rejection from %d at term %d",
			c.id, msg.From, c.term)
	} else {
		log.Infof("%d received vote grant from %d at term %d",
			c.id, msg.From, c.term)
	}

	node := c.getNodeByID(msg.From)
	if node == nil {
		return
	}
	node.UpdateVoteState(msg.Reject)

	if c.voteStateCount(peer.VoteGranted) >= c.quorum() {
		c.becomeLeader()
		c.broadcastVictory()
		return
	}

	// return to follower state if it receives vote denial from a
	// majority: this term is lost, wait for the winner's heartbeat.
	if c.voteStateCount(peer.VoteReject) >= c.quorum() {
		c.becomeFollower(c.term, conf.InvalidID)
	}
}

// RPC:
// - AppendEntries(leaderCommit, prevLogIndex, prevLogTerm, entries)
// - AppendEntriesReply(matchIndex, hint, reject)
func (c *core) handleAppendEntries(msg *raftpd.Message) {
	// The sender is the live leader for this term.
	c.leaderID = msg.From
	c.resetLease()

	reply := raftpd.Message{}
	reply.To = msg.From
	reply.MsgType = raftpd.MsgAppendResponse

	if c.log.CommitIndex() > msg.LogIndex {
		// expired append, everything it carries has been committed,
		// so it replies same with success append.
		log.Debugf("%d [term: %d, commit: %d] reply expired append entries "+
			"from %d [logterm: %d, idx: %d]", c.id, c.term, c.log.CommitIndex(),
			msg.From, msg.LogTerm, msg.LogIndex)

		reply.Index = c.log.CommitIndex()
		reply.Reject = false
	} else if idx, ok := c.log.TryAppend(msg.LogIndex, msg.LogTerm, msg.Entries); ok {
		log.Debugf("%d [term: %d, commit: %d] accept append entries "+
			"from %d [logterm: %d, idx: %d]", c.id, c.term, c.log.CommitIndex(),
			msg.From, msg.LogTerm, msg.LogIndex)

		// If leaderCommit > commitIndex, set
		// commitIndex = min(leaderCommit, index of last new entry). §5.3
		c.log.CommitTo(utils.MinUint64(msg.Index, idx))
		reply.Index = idx
		reply.Reject = false
	} else {
		log.Infof("%d [logterm: %d, commit: %d, last idx: %d] rejected append "+
			"[logterm: %d, idx: %d] from %d", c.id, c.log.Term(msg.LogIndex),
			c.log.CommitIndex(), c.log.LastIndex(), msg.LogTerm, msg.LogIndex, msg.From)

		reply.Index = msg.LogIndex
		reply.RejectHint = idx /* idx is hintIndex */
		reply.Reject = true
	}
	c.send(&reply)
}

func (c *core) handleAppendEntriesResponse(msg *raftpd.Message) {
	node := c.getNodeByID(msg.From)
	if node == nil {
		return
	}

	if node.HandleAppendEntries(msg.Reject, msg.Index, msg.RejectHint) {
		c.poll(node.Matched)
	}
}

func (c *core) handleHeartbeat(msg *raftpd.Message) {
	c.leaderID = msg.From
	c.resetLease()
	c.log.CommitTo(msg.Index)

	reply := raftpd.Message{}
	reply.To = msg.From
	reply.Reject = false
	reply.MsgType = raftpd.MsgHeartbeatResponse
	reply.Context = msg.Context
	c.send(&reply)
}

func (c *core) handleHeartbeatResponse(msg *raftpd.Message) {
	if len(msg.Context) == 0 {
		return
	}

	ackCount := c.readOnly.ReceiveAck(msg.From, msg.Context)
	if ackCount < c.quorum() {
		return
	}

	c.advanceReadOnly(msg.Context)
}

func (c *core) handleReadIndexRequest(msg *raftpd.Message) {
	utils.Assert(c.state.IsLeader(), "read index request reached non-leader")

	if c.log.Term(c.log.CommitIndex()) != c.term {
		// Reject read-only request when this leader has not yet
		// committed an entry at its own term. (§6.4)
		return
	}

	c.readOnly.AddRequest(c.log.CommitIndex(), msg.From, msg.Context)
	c.broadcastHeartbeatWithCtx(msg.Context)
}

func (c *core) handleUnreachable(msg *raftpd.Message) {
	node := c.getNodeByID(msg.From)
	if node == nil {
		return
	}

	node.HandleUnreachable()
	log.Infof("%d failed to send message to %d"+
		" because it is unreachable", c.id, msg.From)
}

func (c *core) broadcastHeartbeatWithCtx(context []byte) {
	for i := 0; i < len(c.nodes); i++ {
		c.sendHeartbeat(c.nodes[i], context)
	}
}

func (c *core) sendHeartbeat(node *peer.Node, context []byte) {
	// Attach the commit as min(matched, commitIndex): the receiver
	// might not hold all committed entries yet, and forwarding its
	// commit past what it has matched would break Log Matching.
	msg := raftpd.Message{}
	msg.To = node.ID
	msg.MsgType = raftpd.MsgHeartbeatRequest
	msg.Index = utils.MinUint64(node.Matched, c.log.CommitIndex())
	msg.Context = context

	c.send(&msg)
}

// broadcastAppend send the pending log suffix to every follower that is
// not holding off. Doubles as the heartbeat when nothing is pending.
func (c *core) broadcastAppend() {
	for i := 0; i < len(c.nodes); i++ {
		node := c.nodes[i]
		/* ignore paused node */
		if node.IsPaused() {
			continue
		}
		c.sendAppend(node)
	}
}

func (c *core) sendAppend(node *peer.Node) {
	msg := raftpd.Message{}
	msg.To = node.ID
	msg.Index = c.log.CommitIndex()
	msg.MsgType = raftpd.MsgAppendRequest
	msg.LogIndex = node.NextIdx - 1
	msg.LogTerm = c.log.Term(msg.LogIndex)

	if c.log.LastIndex() >= node.NextIdx {
		entries := c.log.Slice(node.NextIdx, c.log.LastIndex()+1)

		/* bound message with max size */
		var size uint
		count := len(entries)
		for i := 0; i < len(entries); i++ {
			size += uint(16 + len(entries[i].Data))
			if size > c.maxSizePerMsg && i > 0 {
				count = i
				break
			}
		}
		msg.Entries = make([]raftpd.Entry, count)
		copy(msg.Entries, entries[:count])
	}

	log.Debugf("%d [term: %d] send append [idx: %d, logterm: %d, count: %d] "+
		"to node: %d [matched: %d, next: %d]", c.id, c.term, msg.LogIndex,
		msg.LogTerm, len(msg.Entries), node.ID, node.Matched, node.NextIdx)

	node.SendEntries(msg.Entries)
	c.send(&msg)
}
