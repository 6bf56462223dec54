package core

import (
	"github.com/darcal/keel/raft/core/conf"
	raftpd "github.com/darcal/keel/raft/proto"
)

// Raft provides the driver to run the entire consensus algorithm,
// and the query of its status.
type Raft interface {
	// Read status of raft.
	ReadSoftState() SoftState
	ReadHardState() raftpd.HardState

	// Drivers.
	Read(context []byte) bool
	Step(msg *raftpd.Message)
	Periodic(millsSinceLastPeriod int)
	Unreachable(peer uint64)

	// Propose first test whether the current role is leader,
	// if true adds the log to the queue and returns index
	// and term; otherwise it returns false.
	Propose(bytes []byte) (uint64, uint64, bool)

	Ready() Ready
	ReadStatus() (uint64, bool)
	CommittedEntries() []raftpd.Entry
}

// MakeRaft return a Raft interface.
func MakeRaft(config *conf.Config) Raft {
	return MakeRawNode(config)
}
