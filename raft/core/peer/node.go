package peer

import (
	log "github.com/sirupsen/logrus"

	"github.com/darcal/keel/raft/core/conf"
	raftpd "github.com/darcal/keel/raft/proto"
	"github.com/darcal/keel/utils"
)

const inFlightWindow uint = 10

// Node tracks the replication progress of one remote member, as seen by
// the local node. It only carries meaning while the local node leads or
// campaigns; a fresh leadership resets every Node through ToProbe.
type Node struct {
	belongID uint64

	// node id
	ID uint64

	// vote collected during the current campaign
	Vote VoteState

	// highest entry index known to be replicated on the remote
	Matched uint64

	// next entry index to send
	NextIdx uint64

	// When in progressStateProbe, leader sends at most one replication
	// message per heartbeat interval, probing the actual progress of
	// the follower.
	//
	// When in progressStateReplicate, leader optimistically increases
	// next to the latest entry sent after sending replication message.
	// This is an optimized state for fast replicating log entries to
	// the follower.
	state progressState

	// paused is used in progressStateProbe.
	// When paused is true, raft should pause sending replication
	// message to this peer until the heartbeat tick resumes it.
	paused bool

	// ins is a sliding window for the inflight messages.
	// When ins is full, no more message should be sent.
	// When a leader sends out a message, the index of the last entry
	// should be added to ins. When a leader receives a reply, the
	// previous inflights should be freed by calling ins.freeTo.
	ins inFlights
}

// MakeNode create progress for remote peer.
func MakeNode(belong, id, nextIdx uint64) *Node {
	return &Node{
		belongID: belong,
		ID:       id,
		Vote:     VoteNone,
		Matched:  conf.InvalidIndex,
		NextIdx:  nextIdx,
		state:    defaultProgressState(),
		paused:   false,
		ins:      makeInFlights(inFlightWindow),
	}
}

// HandleUnreachable trigger unreachable event.
func (n *Node) HandleUnreachable() {
	switch n.state {
	case progressStateReplicate:
		// During optimistic replication, if the remote becomes
		// unreachable, there is huge probability that an append
		// message is lost.
		n.NextIdx = n.Matched + 1
		n.becomeProbe()
	case progressStateProbe:
		n.Resume()
	}
}

// HandleAppendEntries trigger append response event. index is the match
// index reported on success, or the rejected probe index on failure,
// with hintIdx the follower's back-off hint. Returns true when Matched
// advanced, so the caller knows to recount the commit quorum.
func (n *Node) HandleAppendEntries(reject bool, index uint64, hintIdx uint64) bool {
	switch n.state {
	case progressStateReplicate:
		if reject {
			n.NextIdx = n.Matched + 1
			n.becomeProbe()
			return false
		}
		if n.Matched < index {
			n.ins.freeTo(index)
			n.Matched = index
			if n.NextIdx <= n.Matched {
				n.NextIdx = n.Matched + 1
			}
			return true
		}
		n.ins.freeTo(index)
		return false
	case progressStateProbe:
		if !reject {
			if index < n.Matched {
				log.Debugf("%d node: %d [next: %d] ignore staled append response: %d",
					n.belongID, n.ID, n.NextIdx, index)
				return false
			}

			n.Matched = index
			n.NextIdx = n.Matched + 1
			n.becomeReplicate()
			return true
		}

		// the rejection must be stale if "rejected" does not match next-1
		if n.NextIdx == 0 || n.NextIdx-1 != index {
			log.Debugf("%d node: %d [next: %d] ignore staled rejection: %d",
				n.belongID, n.ID, n.NextIdx, index)
			return false
		}

		n.NextIdx = utils.MinUint64(index, hintIdx+1)
		if n.NextIdx <= conf.InvalidIndex {
			n.NextIdx = conf.InvalidIndex + 1
		}
		log.Debugf("%d node: %d back off next index to: %d",
			n.belongID, n.ID, n.NextIdx)

		n.Resume()
		return false
	}
	return false
}

// UpdateVoteState set vote by reject, if true vote
// set to VoteReject, otherwise set to VoteGranted.
func (n *Node) UpdateVoteState(reject bool) {
	if reject {
		n.Vote = VoteReject
	} else {
		n.Vote = VoteGranted
	}
}

// ResetVoteState set vote to VoteNone.
func (n *Node) ResetVoteState() {
	n.Vote = VoteNone
}

// optimisticUpdate records the last index sent, and
// increase NextIdx to idx + 1.
func (n *Node) optimisticUpdate(idx uint64) {
	n.NextIdx = idx + 1
	n.ins.add(idx)
}

// SendEntries update progress for an append just issued.
func (n *Node) SendEntries(entries []raftpd.Entry) {
	switch n.state {
	case progressStateProbe:
		// one probe per tick, resumed by response or heartbeat.
		n.pause()
	case progressStateReplicate:
		if len(entries) != 0 {
			// optimistically increase the next when replicating.
			lastIndex := entries[len(entries)-1].Index
			n.optimisticUpdate(lastIndex)
		}
	default:
		log.Fatalf("%d is sending append in unhandled state %s", n.ID, n.state)
	}
}

// IsPaused test whether raft should hold off replicating to this peer.
func (n *Node) IsPaused() bool {
	switch n.state {
	case progressStateProbe:
		return n.paused
	case progressStateReplicate:
		return n.ins.full()
	default:
		panic("unreachable")
	}
}

// ToProbe transfer state to probe with a fresh next index,
// forgetting everything known about the remote progress.
func (n *Node) ToProbe(nextIdx uint64) {
	n.Matched = conf.InvalidIndex
	n.NextIdx = nextIdx
	n.becomeProbe()
}

// Resume allow the next probe message out, used by the heartbeat tick
// so a lost response can never wedge replication.
func (n *Node) Resume() {
	n.paused = false
}

func (n *Node) pause() {
	n.paused = true
}

func (n *Node) becomeProbe() {
	origin := n.state
	n.paused = false
	n.state = progressStateProbe

	log.Debugf("%d node: %d from %v => %v", n.belongID, n.ID, origin, n.state)
}

func (n *Node) becomeReplicate() {
	origin := n.state
	n.ins.reset()
	n.state = progressStateReplicate

	log.Debugf("%d node: %d from %v => %v", n.belongID, n.ID, origin, n.state)
}
