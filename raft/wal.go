package raft

import (
	"github.com/darcal/keel/raft/core/conf"
	raftpd "github.com/darcal/keel/raft/proto"
	"github.com/darcal/keel/utils/pd"
	wal "github.com/thinkermao/wal-go"
)

// Record kinds multiplexed onto the write ahead log. Hard state and
// entry records share the log file, so each payload carries a tag.
const (
	recordEntry int = iota + 1
	recordState
)

type walRecord struct {
	Type int
	Data []byte
}

func (r *walRecord) Reset() { *r = walRecord{} }

// logStorage persists hard state and log entries through a write
// ahead log. Writes are asynchronous; sync blocks until everything
// written so far is durable.
type logStorage struct {
	wal *wal.Wal
}

// CreateLogStorage build an empty log at walDir whose first
// record will be written at the given index.
func CreateLogStorage(walDir string, index uint64) (*logStorage, error) {
	w, err := wal.Create(walDir, index)
	if err != nil {
		return nil, err
	}

	return &logStorage{wal: w}, nil
}

// RestoreLogStorage reopen the log at walDir and replay every record
// from the given index, returning the surviving entries and the last
// hard state written. Entries overwritten by a later write at the
// same slot are superseded during replay.
func RestoreLogStorage(walDir string, index uint64) (
	ls *logStorage, entries []raftpd.Entry, state raftpd.HardState, err error) {
	entries = []raftpd.Entry{}

	// A log with no hard state record yet means the node never voted.
	state = raftpd.HardState{
		Vote:   conf.InvalidID,
		Term:   conf.InvalidTerm,
		Commit: conf.InvalidIndex,
	}

	var replayErr error
	recordReader := func(idx uint64, data []byte) error {
		if replayErr != nil {
			return nil
		}

		var record walRecord
		if err := pd.Unmarshal(&record, data); err != nil {
			replayErr = ErrCorrupted
			return nil
		}

		switch record.Type {
		case recordEntry:
			var entry raftpd.Entry
			if err := pd.Unmarshal(&entry, record.Data); err != nil {
				replayErr = ErrCorrupted
				return nil
			}
			// a rewrite at idx supersedes everything from idx on.
			for len(entries) > 0 && entries[len(entries)-1].Index >= entry.Index {
				entries = entries[:len(entries)-1]
			}
			entries = append(entries, entry)
		case recordState:
			if err := pd.Unmarshal(&state, record.Data); err != nil {
				replayErr = ErrCorrupted
			}
		default:
			replayErr = ErrCorrupted
		}
		return nil
	}

	var w *wal.Wal
	w, err = wal.Open(walDir, index, recordReader)
	if err != nil {
		return
	}
	if replayErr != nil {
		err = replayErr
		return
	}

	ls = &logStorage{wal: w}
	return
}

func (ls *logStorage) append(typ int, at uint64, msg pd.Messager) (<-chan error, error) {
	data, err := pd.Marshal(msg)
	if err != nil {
		return nil, err
	}
	record := walRecord{Type: typ, Data: data}
	bytes, err := pd.Marshal(&record)
	if err != nil {
		return nil, err
	}
	return ls.wal.Write(at, bytes), nil
}

// save write the new entries, then the hard state, without waiting
// for durability; call sync before acting on the saved state.
func (ls *logStorage) save(at uint64, state *raftpd.HardState, entries []raftpd.Entry) error {
	errorChs := []<-chan error{}
	for i := 0; i < len(entries); i++ {
		entry := &entries[i]
		ch, err := ls.append(recordEntry, entry.Index, entry)
		if err != nil {
			return err
		}
		errorChs = append(errorChs, ch)
	}

	if state != nil {
		if len(entries) > 0 {
			at = entries[len(entries)-1].Index
		}
		ch, err := ls.append(recordState, at, state)
		if err != nil {
			return err
		}
		errorChs = append(errorChs, ch)
	}

	for _, ch := range errorChs {
		if err := <-ch; err != nil {
			return err
		}
	}
	return nil
}

func (ls *logStorage) sync() error {
	return <-ls.wal.Sync()
}

func (ls *logStorage) close() error {
	return ls.wal.Close()
}
