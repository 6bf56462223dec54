package raftpd

import (
	"encoding/gob"
	"fmt"
)

// HardState is the state that must hit stable storage before the
// node answers any RPC that depends on it.
type HardState struct {
	Vote   uint64
	Term   uint64
	Commit uint64
}

func (s *HardState) Reset() { *s = HardState{} }

func (s HardState) String() string {
	return fmt.Sprintf("raftpd.HardState{vote: %d, term: %d, commit: %d}",
		s.Vote, s.Term, s.Commit)
}

// EntryType distinguishes client commands from the no-op entry a fresh
// leader appends to commit prior-term entries.
type EntryType int

// Entry types.
const (
	EntryNormal EntryType = iota
	EntryNoop
)

var entryTypeString = []string{
	"Normal",
	"Noop",
}

func (t EntryType) String() string {
	return entryTypeString[t]
}

// Entry is an indexed, term-stamped command. Data is opaque to raft.
type Entry struct {
	Index uint64
	Term  uint64
	Type  EntryType
	Data  []byte
}

func (e *Entry) Reset() { *e = Entry{} }

func (e Entry) String() string {
	return fmt.Sprintf("raftpd.Entry{idx: %d, term: %d, type: %v}",
		e.Index, e.Term, e.Type)
}

func init() {
	gob.Register(Entry{})
	gob.Register(HardState{})
}
