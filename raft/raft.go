package raft

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/darcal/keel/raft/core"
	"github.com/darcal/keel/raft/core/conf"
	raftpd "github.com/darcal/keel/raft/proto"
	"github.com/darcal/keel/utils"
)

// Application is the state machine fed by the consensus layer.
// ApplyEntry receives committed commands in log order, exactly once
// per instance lifetime. ReadStateNotice releases a linearizable read
// once its read index is safe to serve.
type Application interface {
	ApplyEntry(entry *raftpd.Entry)
	ReadStateNotice(idx uint64, context []byte)
}

// Raft is an implementation of the raft consensus algorithm bound to
// a write ahead log and a periodic timer. All methods are safe for
// concurrent use.
type Raft struct {
	mutex sync.Mutex

	id     uint64
	killed bool

	raft core.Raft
	wal  *logStorage

	timer     *utils.Timer
	callback  Application
	transport Transporter
}

// MakeRaft starts a fresh instance with an empty log.
func MakeRaft(
	id uint64,
	nodes []uint64,
	electionTimeout, heartbeatTimeout, tickSize int,
	maxSizePerMsg uint,
	walDir string,
	application Application,
	transport Transporter) (*Raft, error) {
	raft := &Raft{id: id}
	raft.callback = application
	raft.transport = transport

	config := conf.Config{
		ID:            id,
		Vote:          conf.InvalidID,
		Term:          conf.InvalidTerm,
		ElectionTick:  electionTimeout,
		HeartbeatTick: heartbeatTimeout,
		Nodes:         nodes,
		Entries:       nil,
		MaxSizePerMsg: maxSizePerMsg,
	}

	raft.raft = core.MakeRaft(&config)

	w, err := CreateLogStorage(walDir, conf.InvalidIndex)
	if err != nil {
		return nil, err
	}
	raft.wal = w

	raft.service(tickSize)

	return raft, nil
}

// RebuildRaft restarts an instance from the log left at walDir. The
// persisted term, vote and entries survive; commit and apply progress
// is rediscovered through the protocol.
func RebuildRaft(
	id uint64,
	nodes []uint64,
	electionTimeout, heartbeatTimeout, tickSize int,
	maxSizePerMsg uint,
	walDir string,
	application Application,
	transport Transporter) (*Raft, error) {

	ls, entries, state, err := RestoreLogStorage(walDir, conf.InvalidIndex)
	if err != nil {
		return nil, err
	}

	raft := &Raft{id: id}
	raft.callback = application
	raft.transport = transport
	config := conf.Config{
		ID:            id,
		Vote:          state.Vote,
		Term:          state.Term,
		ElectionTick:  electionTimeout,
		HeartbeatTick: heartbeatTimeout,
		Nodes:         nodes,
		Entries:       entries,
		MaxSizePerMsg: maxSizePerMsg,
	}
	raft.raft = core.MakeRaft(&config)
	raft.wal = ls

	raft.service(tickSize)

	return raft, nil
}

// GetState return the current term and whether this node believes it
// is the leader.
func (raft *Raft) GetState() (uint64, bool) {
	raft.mutex.Lock()
	defer raft.mutex.Unlock()

	return raft.raft.ReadStatus()
}

// Kill stops the ticker and closes the log. Pending callbacks may
// still be in flight when it returns.
func (raft *Raft) Kill() {
	raft.timer.Stop()

	raft.mutex.Lock()
	raft.killed = true
	raft.mutex.Unlock()

	if err := raft.wal.close(); err != nil {
		log.Warnf("%d close wal: %v", raft.id, err)
	}
}

// Read submits a linearizable read identified by context. When it
// returns true the read was admitted and ReadStateNotice will fire
// once serving it is safe; false means this node is not the leader
// or cannot yet guarantee linearizability.
func (raft *Raft) Read(context []byte) bool {
	raft.mutex.Lock()
	defer raft.mutex.Unlock()

	if raft.killed {
		return false
	}
	return raft.raft.Read(context)
}

// Submit proposes a command. It returns the index and term the entry
// would commit at, or ErrNotLeader when this node cannot accept
// proposals. Commitment is reported through Application.ApplyEntry.
func (raft *Raft) Submit(bytes []byte) (uint64, uint64, error) {
	raft.mutex.Lock()
	defer raft.mutex.Unlock()

	if raft.killed {
		return conf.InvalidIndex, conf.InvalidTerm, ErrStopped
	}

	index, term, isLeader := raft.raft.Propose(bytes)
	if !isLeader {
		return conf.InvalidIndex, conf.InvalidTerm, ErrNotLeader
	}
	return index, term, nil
}

// CommittedLog returns a copy of the committed prefix of the log.
func (raft *Raft) CommittedLog() []raftpd.Entry {
	raft.mutex.Lock()
	defer raft.mutex.Unlock()

	return raft.raft.CommittedEntries()
}

// Step feeds a message received from a peer into the state machine.
func (raft *Raft) Step(msg *raftpd.Message) {
	raft.mutex.Lock()
	defer raft.mutex.Unlock()

	if raft.killed {
		return
	}
	raft.raft.Step(msg)
}

// Unreachable reports a failed delivery to the given peer.
func (raft *Raft) Unreachable(peer uint64) {
	raft.mutex.Lock()
	defer raft.mutex.Unlock()

	raft.raft.Unreachable(peer)
}

func (raft *Raft) ready() (rd core.Ready) {
	raft.mutex.Lock()
	defer raft.mutex.Unlock()
	rd = raft.raft.Ready()
	return
}

// handleRaftReady drains one Ready batch: persist hard state and
// entries, apply what is committed, release read states, and only
// then send the outbound messages.
func (raft *Raft) handleRaftReady() {
	ready := raft.ready()
	if err := raft.wal.save(ready.SS.LastIndex, ready.HS, ready.Entries); err != nil {
		panic(err)
	}
	if err := raft.wal.sync(); err != nil {
		panic(err)
	}

	for i := 0; i < len(ready.CommitEntries); i++ {
		raft.callback.ApplyEntry(&ready.CommitEntries[i])
	}

	if len(ready.CommitEntries) > 0 {
		last := len(ready.CommitEntries) - 1
		log.Debugf("%d apply entries from %d [term: %d] to %d [term: %d]",
			raft.id, ready.CommitEntries[0].Index, ready.CommitEntries[0].Term,
			ready.CommitEntries[last].Index, ready.CommitEntries[last].Term)
	}

	// Read states are released only once their index is committed, and
	// everything committed was applied above, so they are safe to serve.
	for i := 0; i < len(ready.ReadStates); i++ {
		raft.callback.ReadStateNotice(ready.ReadStates[i].Index,
			ready.ReadStates[i].RequestCtx)
	}

	for i := 0; i < len(ready.Messages); i++ {
		raftMsg := &ready.Messages[i]
		if err := raft.transport.Send(raftMsg.To, raftMsg); err != nil {
			raft.Unreachable(raftMsg.To)
		}
	}
}

// service create tick per tickSize milliseconds; each tick drives the
// periodic logic and drains the resulting Ready.
func (raft *Raft) service(tickSize int) {
	last := time.Now()
	raft.timer = utils.StartTimer(tickSize, func(now time.Time) {
		nanoseconds := now.Sub(last).Nanoseconds()
		last = now

		var millsSinceLastPeriod = int(nanoseconds / 1000000)
		raft.periodic(millsSinceLastPeriod)
		raft.handleRaftReady()
	})
}

func (raft *Raft) periodic(millsSinceLastPeriod int) {
	raft.mutex.Lock()
	defer raft.mutex.Unlock()
	raft.raft.Periodic(millsSinceLastPeriod)
}
