package core

import (
	"math/rand"

	log "github.com/sirupsen/logrus"

	"github.com/darcal/keel/raft/core/conf"
	"github.com/darcal/keel/raft/core/peer"
	"github.com/darcal/keel/raft/core/read"
	raftpd "github.com/darcal/keel/raft/proto"
	"github.com/darcal/keel/utils"
)

func quorum(total int) int {
	return total/2 + 1
}

// send fill in the sender identity and current term, then hand the
// message to the application for delivery.
func (c *core) send(msg *raftpd.Message) {
	msg.Term = c.term
	msg.From = c.id
	c.callback.send(msg)
}

func (c *core) resetRandomizedElectionTimeout() {
	previousTimeout := c.randomizedElectionTick
	c.randomizedElectionTick =
		c.electionTick + rand.Intn(c.electionTick)

	log.Debugf("%d reset randomized election timeout [%d => %d]",
		c.id, previousTimeout, c.randomizedElectionTick)
}

func (c *core) resetLease() {
	c.timeElapsed = 0
	c.resetRandomizedElectionTimeout()
}

func (c *core) reset(term uint64) {
	if c.term != term {
		c.term = term
		c.vote = conf.InvalidID
	}
	c.leaderID = conf.InvalidID
	c.resetLease()
}

func (c *core) becomeFollower(term, leaderID uint64) {
	c.reset(term)
	c.leaderID = leaderID
	c.state = RoleFollower

	if leaderID != conf.InvalidID {
		log.Debugf("%d become %d's follower at term %d", c.id, leaderID, c.term)
	} else {
		log.Debugf("%d become follower at term %d, without leader", c.id, c.term)
	}
}

func (c *core) becomeCandidate() {
	utils.Assert(c.state != RoleLeader,
		"%d invalid translation [Leader => Candidate]", c.id)

	c.reset(c.term + 1)
	c.vote = c.id
	c.state = RoleCandidate

	c.resetNodesVoteState()

	log.Debugf("%d become candidate at term %d", c.id, c.term)
}

func (c *core) becomeLeader() {
	utils.Assert(c.state == RoleCandidate,
		"%d invalid translation [%v => Leader]", c.id, c.state)
	utils.Assert(c.vote == c.id, "leader must have voted for itself")

	term := c.term
	c.reset(term)
	c.vote = c.id
	c.leaderID = c.id
	c.state = RoleLeader

	log.Infof("%d become leader at term %d [lastIdx: %d, commitIdx: %d]",
		c.id, c.term, c.log.LastIndex(), c.log.CommitIndex())
}

// campaign start a new election: bump the term, vote for self, and ask
// every peer for its vote. A candidate that times out simply campaigns
// again at the next term.
func (c *core) campaign() {
	c.becomeCandidate()

	if c.voteStateCount(peer.VoteGranted) >= c.quorum() {
		/* single node group wins immediately */
		c.becomeLeader()
		c.broadcastVictory()
		return
	}

	msg := raftpd.Message{
		LogIndex: c.log.LastIndex(),
		LogTerm:  c.log.LastTerm(),
		MsgType:  raftpd.MsgVoteRequest,
	}
	c.sendToNodes(&msg)
}

func (c *core) sendToNodes(msg *raftpd.Message) {
	for i := 0; i < len(c.nodes); i++ {
		node := c.nodes[i]
		m := *msg
		m.To = node.ID

		log.Debugf("%d [logterm: %d, index: %d] send %v to %d at term %d",
			c.id, c.log.LastTerm(), c.log.LastIndex(), m.MsgType, m.To, c.term)
		c.send(&m)
	}
}

func (c *core) quorum() int {
	return quorum(len(c.nodes) + 1)
}

func (c *core) voteStateCount(state peer.VoteState) int {
	/* self has one */
	var count = 1
	for i := 0; i < len(c.nodes); i++ {
		if c.nodes[i].Vote == state {
			count++
		}
	}
	return count
}

// poll commit all it could commit:
// If there exists an N such that N > commitIndex, a majority
// of matchIndex[i] >= N, and log[N].term == currentTerm:
// set commitIndex = N. (§5.3, §5.4)
func (c *core) poll(idx uint64) {
	if idx <= c.log.CommitIndex() || c.log.Term(idx) != c.term {
		// Already committed, or an entry from a prior term: prior-term
		// entries are never committed by counting replicas, only by a
		// current-term entry committed above them. (figure 8)
		return
	}
	count := 1
	for i := 0; i < len(c.nodes); i++ {
		if c.nodes[i].Matched >= idx {
			count++
		}
	}

	if count >= c.quorum() {
		c.log.CommitTo(idx)
	}
}

func (c *core) getNodeByID(nodeID uint64) *peer.Node {
	for i := 0; i < len(c.nodes); i++ {
		if c.nodes[i].ID == nodeID {
			return c.nodes[i]
		}
	}
	return nil
}

// broadcastVictory appends a no-op entry at the new leader's term and
// pushes it out, so entries from older terms get committed under the
// current-term counting rule. All progress restarts in probe state.
func (c *core) broadcastVictory() {
	entry := raftpd.Entry{
		Type:  raftpd.EntryNoop,
		Index: c.nextIndex(),
		Term:  c.term,
	}
	c.log.Append([]raftpd.Entry{entry})

	c.resetNodesProgress()

	log.Debugf("%d [term: %d] begin broadcast self's victory", c.id, c.term)

	c.broadcastAppend()
}

// reject answer a lower-term request with the current term; stale
// responses are dropped without an answer.
func (c *core) reject(msg *raftpd.Message) {
	var tp raftpd.MessageType
	switch msg.MsgType {
	case raftpd.MsgAppendRequest:
		tp = raftpd.MsgAppendResponse
	case raftpd.MsgHeartbeatRequest:
		tp = raftpd.MsgHeartbeatResponse
	case raftpd.MsgReadIndexRequest:
		tp = raftpd.MsgReadIndexResponse
	case raftpd.MsgVoteRequest:
		tp = raftpd.MsgVoteResponse
	default:
		return
	}

	m := raftpd.Message{
		To:      msg.From,
		Reject:  true,
		MsgType: tp,
	}

	c.send(&m)
}

func (c *core) applyEntries() {
	entries := c.log.ApplyEntries()
	for i := 0; i < len(entries); i++ {
		entry := &entries[i]
		if entry.Type == raftpd.EntryNoop {
			/* leadership no-op never reaches the state machine */
			continue
		}
		c.callback.applyEntry(entry)
	}
}

func (c *core) resetNodesVoteState() {
	for i := 0; i < len(c.nodes); i++ {
		c.nodes[i].ResetVoteState()
	}
}

func (c *core) resetNodesProgress() {
	// When a leader first comes to power, it initializes all nextIndex
	// values to the index just after the last one in its log. §5.3
	nextIndex := c.nextIndex()
	for i := 0; i < len(c.nodes); i++ {
		c.nodes[i].ToProbe(nextIndex)
	}
}

// resumeProbes release paused probe peers at each heartbeat tick, so a
// lost append response only costs one heartbeat interval.
func (c *core) resumeProbes() {
	for i := 0; i < len(c.nodes); i++ {
		c.nodes[i].Resume()
	}
}

func (c *core) nextIndex() uint64 {
	return c.log.LastIndex() + 1
}

func (c *core) advanceReadOnly(ctx []byte) {
	rss := c.readOnly.Advance(ctx)
	for _, rs := range rss {
		if rs.To == c.id {
			log.Debugf("%d [term: %d] save read state: %d",
				c.id, c.term, rs.Index)

			readState := read.ReadState{
				Index:      rs.Index,
				RequestCtx: rs.Context,
			}
			c.callback.saveReadState(&readState)
		} else {
			log.Debugf("%d [term: %d] redirect read index %d to %d",
				c.id, c.term, rs.Index, rs.To)

			redirect := raftpd.Message{
				To:      rs.To,
				MsgType: raftpd.MsgReadIndexResponse,
				Index:   rs.Index,
				Context: rs.Context,
			}
			c.send(&redirect)
		}
	}
}
