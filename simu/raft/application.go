package raft

// Application is one simulated node: a raft instance, its state
// machine, and its place on the simulated network.
type Application interface {
	ID() int
	Start(nodes []uint64) error
	Shutdown()
	IsCrash() bool

	Propose(data int) (uint64, uint64, bool)
	Read(context []byte) bool

	GetState() (uint64, bool)
	ApplyError() error

	LogLength() int
	LogAt(index int) (int, bool)
	ReadNotice(context []byte) (uint64, bool)
}
