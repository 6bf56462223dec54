package conf

import (
	"math"

	log "github.com/sirupsen/logrus"

	raftpd "github.com/darcal/keel/raft/proto"
)

// Invalid value for raft. Index zero is the dummy entry in front of
// every log, so real entries start at one.
const (
	InvalidIndex uint64 = 0
	InvalidID    uint64 = math.MaxUint64
	InvalidTerm  uint64 = 0
)

// Config given information to build raft algorithm.
type Config struct {
	// ID is the identity of the local raft. ID cannot be 0.
	ID uint64

	// Vote and Term restore the persistent fields after restart;
	// fresh nodes pass InvalidID and InvalidTerm.
	Vote uint64
	Term uint64

	// ElectionTick is the number of milliseconds that must pass
	// without hearing from a live leader before this node campaigns.
	// The effective timeout is randomized in [ElectionTick, 2*ElectionTick)
	// to break split votes.
	ElectionTick int

	// HeartbeatTick is the number of milliseconds between leader
	// replication rounds. Must be well below ElectionTick; we suggest
	// ElectionTick = 10 * HeartbeatTick to avoid needless elections.
	HeartbeatTick int

	// MaxSizePerMsg bounds the payload bytes of a single append message.
	MaxSizePerMsg uint

	// Nodes lists every member of the group, including the local one.
	Nodes []uint64

	// Entries rebuild the log after restart; nil for fresh nodes.
	Entries []raftpd.Entry
}

// Verify check whether fields of Config is valid.
func (c *Config) Verify() bool {
	if c.ID == 0 || c.ID == InvalidID {
		log.Panicf("raft ID must be a real identity")
	}

	if c.HeartbeatTick <= 0 {
		log.Panicf("heartbeat tick must be great than zero")
	}

	if c.ElectionTick <= c.HeartbeatTick {
		log.Panicf("election tick must be great than heartbeat tick")
	}

	return true
}
