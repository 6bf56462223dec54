package holder

import (
	log "github.com/sirupsen/logrus"

	"github.com/darcal/keel/raft/core/conf"
	raftpd "github.com/darcal/keel/raft/proto"
	"github.com/darcal/keel/utils"
)

func (holder *LogHolder) checkOutOfBounds(lo, hi uint64) {
	utils.Assert(lo <= hi, "%d invalid slice %d > %d", holder.id, lo, hi)

	lower := holder.FirstIndex()
	upper := holder.LastIndex() + 1
	utils.Assert(!(lo < lower || hi > upper),
		"%d slice[%d, %d) out of bound [%d, %d)",
		holder.id, lo, hi, lower, upper)
}

// truncateAndAppend drop the conflicting suffix and put entries in its
// place. The stable cursor is wound back over the dropped range so the
// rewritten entries reach storage again before they can be committed.
func (holder *LogHolder) truncateAndAppend(entries []raftpd.Entry) {
	if len(entries) == 0 {
		return
	}

	lastIndex := holder.LastIndex()
	after := entries[0].Index
	if after == lastIndex+1 {
		// after is the next index in the entries, append directly.
	} else {
		holder.checkOutOfBounds(holder.FirstIndex(), after)
		log.Infof("%d truncate conflicting suffix [%d, %d]",
			holder.id, after, lastIndex)
		holder.entries = holder.entries[:after]
		holder.lastStabled = utils.MinUint64(holder.lastStabled, after-1)
	}
	holder.entries = append(holder.entries, entries...)

	holder.validateConsistency()
}

// findConflict return the first index which entries[i].Term is not equal
// to holder.Term(entries[i].Index); if all terms with same index are
// equal, return zero.
func (holder *LogHolder) findConflict(entries []raftpd.Entry) uint64 {
	for i := 0; i < len(entries); i++ {
		entry := &entries[i]
		if holder.Term(entry.Index) != entry.Term {
			if entry.Index <= holder.LastIndex() {
				log.Infof("%d found conflict at index %d, "+
					"[existing term: %d, conflicting term: %d]",
					holder.id, entry.Index, holder.Term(entry.Index), entry.Term)
			}
			return entry.Index
		}
	}
	return 0
}

// getHintIndex walk backwards out of the probed term, so the leader can
// skip the whole conflicting term instead of probing entry by entry.
// When the probe points past the end of the log, the hint is simply the
// local last index.
func (holder *LogHolder) getHintIndex(prevIdx, prevTerm uint64) uint64 {
	utils.Assert(prevIdx != conf.InvalidIndex && prevTerm != conf.InvalidTerm,
		"%d get hint index with invalid idx or term", holder.id)

	if prevIdx > holder.LastIndex() {
		return utils.MaxUint64(holder.commitIndex, holder.LastIndex())
	}

	idx := prevIdx
	term := holder.Term(idx)
	for idx > conf.InvalidIndex {
		if holder.Term(idx) != term {
			return utils.MaxUint64(holder.commitIndex, idx)
		}
		idx--
	}
	return holder.commitIndex
}

func (holder *LogHolder) validateConsistency() {
	for i := 0; i < len(holder.entries); i++ {
		utils.Assert(holder.entries[i].Index == uint64(i),
			"%d index: %d at: %d not sequences", holder.id, holder.entries[i].Index, i)
	}
}
