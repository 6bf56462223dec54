package holder

import (
	log "github.com/sirupsen/logrus"

	"github.com/darcal/keel/raft/core/conf"
	raftpd "github.com/darcal/keel/raft/proto"
	"github.com/darcal/keel/utils"
)

// LogHolder is the in-memory mirror of the replicated log, and gives
// some useful information for raft. Here is the memory layout:
//
// [dummy, lastApplied, commitIndex, lastStabled, lastIndex]
// +--------------+-------------+-------------+
// |  wait apply  | wait commit | wait stable |
// +--------------+-------------+-------------+
// ^ dummy        ^ applied     ^ committed   ^ stabled == last
//
// Notice:
//	- commitIndex never runs ahead of lastStabled: an entry that is not
// yet durable cannot be reported committed. lastApplied in turn never
// runs ahead of commitIndex.
//	- there always is a dummy entry in front, it makes the programming
// more easy, and we needn't a separate offset field.
type LogHolder struct {
	// raft inner id, only used for logging.
	id uint64

	// last index of entry has been applied.
	lastApplied uint64

	// last index of committed entry.
	commitIndex uint64

	// last index stable to storage.
	lastStabled uint64

	// buffered entries, entries[0] is the dummy.
	entries []raftpd.Entry
}

// MakeLogHolder create & initialize empty LogHolder, and returns.
func MakeLogHolder(id uint64) *LogHolder {
	log.Debugf("%d make empty log holder", id)

	entries := make([]raftpd.Entry, 1)
	entries[0].Type = raftpd.EntryNormal
	entries[0].Index = conf.InvalidIndex
	entries[0].Term = conf.InvalidTerm
	return &LogHolder{
		id:          id,
		entries:     entries,
		lastApplied: conf.InvalidIndex,
		commitIndex: conf.InvalidIndex,
		lastStabled: conf.InvalidIndex,
	}
}

// RebuildLogHolder construction log holder from entries recovered from
// stable storage. Entries must be contiguous and start at index one;
// they are all considered stabled, while commit and apply cursors start
// over and catch up through normal protocol traffic.
func RebuildLogHolder(id uint64, entries []raftpd.Entry) *LogHolder {
	utils.Assert(len(entries) != 0, "required entries not empty")
	utils.Assert(entries[0].Index == conf.InvalidIndex+1,
		"%d rebuild from truncated log [first: %d]", id, entries[0].Index)

	lastStabled := entries[len(entries)-1].Index
	lastTerm := entries[len(entries)-1].Term
	log.Debugf("%d rebuild log holder [idx: 1-%d, last term: %d]",
		id, lastStabled, lastTerm)

	dup := make([]raftpd.Entry, len(entries)+1)
	dup[0].Index = conf.InvalidIndex
	dup[0].Term = conf.InvalidTerm
	copy(dup[1:], entries)

	holder := &LogHolder{
		id:          id,
		entries:     dup,
		lastApplied: conf.InvalidIndex,
		commitIndex: conf.InvalidIndex,
		lastStabled: lastStabled,
	}
	holder.validateConsistency()
	return holder
}

// Term return the Term of idx, if there no entry
// with these index, return InvalidTerm.
func (holder *LogHolder) Term(idx uint64) uint64 {
	if idx > holder.LastIndex() {
		return conf.InvalidTerm
	}
	return holder.entries[idx].Term
}

// Slice return the Entries between [lo, hi), not included dummy entry.
func (holder *LogHolder) Slice(lo, hi uint64) []raftpd.Entry {
	holder.checkOutOfBounds(lo, hi)
	entries := holder.entries[lo:hi]

	if len(entries) != 0 {
		utils.Assert(entries[0].Index == lo, "error index")
		utils.Assert(entries[len(entries)-1].Index == hi-1, "error index")
	}
	return entries
}

// IsUpToDate determines if the given (idx, term) log is at least as
// up-to-date as the local one, by comparing the term and then the index
// of the last entries. Used to decide whether a candidate may receive
// our vote without risking the loss of committed entries. §5.4.1
func (holder *LogHolder) IsUpToDate(idx, term uint64) bool {
	return term > holder.LastTerm() ||
		(term == holder.LastTerm() && idx >= holder.LastIndex())
}

// LastIndex return the last index of current Entries.
func (holder *LogHolder) LastIndex() uint64 {
	utils.Assert(len(holder.entries) != 0, "require len(holder.entries) great than zero")
	length := uint64(len(holder.entries))
	actual := holder.entries[length-1].Index
	utils.Assert(actual == length-1, "bad entries")
	return length - 1
}

// FirstIndex return the first real entry index, always one.
func (holder *LogHolder) FirstIndex() uint64 {
	return conf.InvalidIndex + 1
}

// LastTerm return the last term of current Entries.
func (holder *LogHolder) LastTerm() uint64 {
	return holder.Term(holder.LastIndex())
}

// CommitIndex return holder.commitIndex.
func (holder *LogHolder) CommitIndex() uint64 {
	return holder.commitIndex
}

// CommitTo change commitIndex to `to`. Commits never decrease, and
// never pass the last stabled entry.
func (holder *LogHolder) CommitTo(to uint64) {
	if holder.commitIndex >= to {
		/* never decrease commit */
		return
	}

	to = utils.MinUint64(to, holder.lastStabled)
	if to <= holder.commitIndex {
		return
	}

	utils.Assert(holder.LastIndex() >= to,
		"%d toCommit %d is out of range [last index: %d]",
		holder.id, to, holder.LastIndex())

	holder.commitIndex = to

	log.Debugf("%d commit entries to index: %d", holder.id, to)
}

// ApplyEntries return the committed, stabled entries not yet handed to
// the state machine, and advance lastApplied over them. Each index is
// returned exactly once.
func (holder *LogHolder) ApplyEntries() []raftpd.Entry {
	target := utils.MinUint64(holder.commitIndex, holder.lastStabled)
	if holder.lastApplied == target {
		return nil
	}

	log.Debugf("%d apply entries (%d, %d]", holder.id, holder.lastApplied, target)

	result := holder.Slice(holder.lastApplied+1, target+1)
	holder.lastApplied = target
	return result
}

// StableEntries mark all entries after lastStabled as stabled,
// and return the entries need to be persisted.
func (holder *LogHolder) StableEntries() []raftpd.Entry {
	lastStabled := holder.lastStabled
	lastIndex := holder.LastIndex()
	utils.Assert(lastStabled <= lastIndex,
		"%d stabled: %d, lastIndex: %d", holder.id, lastStabled, lastIndex)

	entries := holder.Slice(lastStabled+1, lastIndex+1)
	holder.lastStabled = lastIndex
	return entries
}

// CommittedEntries return every entry up to the commit index, in order.
func (holder *LogHolder) CommittedEntries() []raftpd.Entry {
	if holder.commitIndex == conf.InvalidIndex {
		return nil
	}
	return holder.Slice(holder.FirstIndex(), holder.commitIndex+1)
}

// TryAppend check whether the local entry at prevIdx carries prevTerm.
// If so it resolves conflicts, appends the remainder, and returns the
// index of the last incoming entry; otherwise it returns a hint index
// for the leader to back off to.
func (holder *LogHolder) TryAppend(prevIdx, prevTerm uint64,
	entries []raftpd.Entry) (uint64, bool) {
	if prevIdx <= holder.LastIndex() && holder.Term(prevIdx) == prevTerm {
		lastIdx := prevIdx + uint64(len(entries))
		conflictIdx := holder.findConflict(entries)
		if conflictIdx == 0 {
			/* fully duplicated append, idempotent */
		} else if conflictIdx <= holder.commitIndex {
			log.Panicf("%d entry %d conflict with committed entry %d",
				holder.id, conflictIdx, holder.commitIndex)
		} else {
			offset := prevIdx + 1
			holder.truncateAndAppend(entries[conflictIdx-offset:])
		}

		return lastIdx, true
	}

	utils.Assert(prevIdx > holder.commitIndex,
		"%d entry %d [Term: %d] conflict with committed entry Term: %d",
		holder.id, prevIdx, prevTerm, holder.Term(prevIdx))

	return holder.getHintIndex(prevIdx, prevTerm), false
}

// Append push entries at back, and return the new last index.
// The leader only ever appends; truncation happens solely through
// TryAppend on followers.
func (holder *LogHolder) Append(entries []raftpd.Entry) uint64 {
	if len(entries) == 0 {
		return holder.LastIndex()
	}

	prevIndex := entries[0].Index - 1
	utils.Assert(prevIndex == holder.LastIndex(),
		"%d append not contiguous [last: %d, incoming: %d]",
		holder.id, holder.LastIndex(), entries[0].Index)
	utils.Assert(prevIndex >= holder.commitIndex,
		"%d after %d is out of range [committed: %d]",
		holder.id, prevIndex, holder.commitIndex)

	holder.entries = append(holder.entries, entries...)
	holder.validateConsistency()
	return holder.LastIndex()
}
