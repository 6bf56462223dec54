package core

import (
	"bytes"
	"testing"

	"github.com/darcal/keel/raft/core/conf"
	raftpd "github.com/darcal/keel/raft/proto"
)

// mkEntries build a log holding one entry per given term, with
// indices starting at 1.
func mkEntries(terms ...uint64) []raftpd.Entry {
	entries := make([]raftpd.Entry, len(terms))
	for i := 0; i < len(terms); i++ {
		entries[i] = raftpd.Entry{
			Index: uint64(i + 1),
			Term:  terms[i],
			Type:  raftpd.EntryNormal,
		}
	}
	return entries
}

// Grant iff the candidate's log is at least as up-to-date and this
// node did not already vote for somebody else in the same term.
func TestCore_handleVote(t *testing.T) {
	cases := []struct {
		msgTerm  uint64
		logIndex uint64
		logTerm  uint64
		vote     uint64
		want     bool // reject
	}{
		{2, 2, 2, conf.InvalidID, false}, // same log, no vote yet
		{2, 3, 2, conf.InvalidID, false}, // longer log
		{2, 1, 3, conf.InvalidID, false}, // higher last term, shorter log
		{2, 2, 2, 3, true},               // already voted for another
		{2, 2, 2, 2, false},              // repeated request from granted candidate
		{2, 1, 1, conf.InvalidID, true},  // stale log
		{3, 2, 1, conf.InvalidID, true},  // higher term does not excuse a stale log
		{3, 3, 2, conf.InvalidID, false}, // higher term, up-to-date log
		{1, 2, 2, conf.InvalidID, true},  // lower term
	}

	for i, test := range cases {
		c := makeTestRaft(1, []uint64{1, 2, 3}, 10, 1,
			mkEntries(1, 2), term(2), vote(test.vote))

		msg := raftpd.Message{
			MsgType:  raftpd.MsgVoteRequest,
			From:     2,
			To:       1,
			Term:     test.msgTerm,
			LogIndex: test.logIndex,
			LogTerm:  test.logTerm,
		}
		c.Step(&msg)

		reply := lastMessage(c)
		if reply == nil {
			t.Fatalf("#%d: no response sent", i)
		}
		if reply.MsgType != raftpd.MsgVoteResponse {
			t.Fatalf("#%d: response type want: %v, get: %v",
				i, raftpd.MsgVoteResponse, reply.MsgType)
		}
		if reply.Reject != test.want {
			t.Fatalf("#%d: handle vote request want reject: %v, get: %v",
				i, test.want, reply.Reject)
		}
		if !test.want && c.vote != msg.From {
			t.Fatalf("#%d: granted but vote is %d", i, c.vote)
		}
	}
}

func TestCore_handleVoteClearedByNewTerm(t *testing.T) {
	// a vote binds to one term only: a fresh term frees the ballot.
	c := makeTestRaft(1, []uint64{1, 2, 3}, 10, 1,
		mkEntries(1, 2), term(2), vote(3))

	msg := raftpd.Message{
		MsgType:  raftpd.MsgVoteRequest,
		From:     2,
		To:       1,
		Term:     3,
		LogIndex: 2,
		LogTerm:  2,
	}
	c.Step(&msg)

	reply := lastMessage(c)
	if reply == nil || reply.Reject {
		t.Fatalf("vote for old term should not bind the new term")
	}
	if c.term != 3 || c.vote != 2 {
		t.Fatalf("want term 3 vote 2, get term %d vote %d", c.term, c.vote)
	}
}

func TestCore_handleAppendEntries(t *testing.T) {
	cases := []struct {
		prevIndex    uint64
		prevTerm     uint64
		leaderCommit uint64
		entries      []raftpd.Entry

		wantReject bool
		wantIndex  uint64
		wantHint   uint64
		wantCommit uint64
	}{
		// heartbeat-shaped append moves the commit.
		{2, 2, 1, nil, false, 2, 0, 1},
		// duplicated entries are idempotent.
		{1, 1, 2, []raftpd.Entry{{Index: 2, Term: 2}}, false, 2, 0, 2},
		// commit is capped by the last new entry.
		{2, 2, 9, nil, false, 2, 0, 2},
		// term mismatch at prevIndex: hint backs over the whole term.
		{2, 1, 0, nil, true, 2, 1, 0},
		// probe past the end of the log.
		{3, 2, 0, nil, true, 3, 2, 0},
	}

	for i, test := range cases {
		c := makeTestRaft(1, []uint64{1, 2, 3}, 10, 1,
			mkEntries(1, 2), term(2))

		msg := raftpd.Message{
			MsgType:  raftpd.MsgAppendRequest,
			From:     2,
			To:       1,
			Term:     2,
			LogIndex: test.prevIndex,
			LogTerm:  test.prevTerm,
			Index:    test.leaderCommit,
			Entries:  test.entries,
		}
		c.Step(&msg)

		reply := lastMessage(c)
		if reply == nil || reply.MsgType != raftpd.MsgAppendResponse {
			t.Fatalf("#%d: want append response, get %v", i, reply)
		}
		if reply.Reject != test.wantReject {
			t.Fatalf("#%d: want reject %v, get %v", i, test.wantReject, reply.Reject)
		}
		if reply.Index != test.wantIndex {
			t.Fatalf("#%d: want index %d, get %d", i, test.wantIndex, reply.Index)
		}
		if test.wantReject && reply.RejectHint != test.wantHint {
			t.Fatalf("#%d: want hint %d, get %d", i, test.wantHint, reply.RejectHint)
		}
		if c.log.CommitIndex() != test.wantCommit {
			t.Fatalf("#%d: want commit %d, get %d",
				i, test.wantCommit, c.log.CommitIndex())
		}
		if c.leaderID != msg.From {
			t.Fatalf("#%d: append should install the sender as leader", i)
		}
	}
}

func TestCore_handleAppendEntriesTruncatesConflict(t *testing.T) {
	c := makeTestRaft(1, []uint64{1, 2, 3}, 10, 1,
		mkEntries(1, 2), term(3))

	msg := raftpd.Message{
		MsgType:  raftpd.MsgAppendRequest,
		From:     2,
		To:       1,
		Term:     3,
		LogIndex: 1,
		LogTerm:  1,
		Index:    3,
		Entries: []raftpd.Entry{
			{Index: 2, Term: 3},
			{Index: 3, Term: 3},
		},
	}
	c.Step(&msg)

	reply := lastMessage(c)
	if reply == nil || reply.Reject {
		t.Fatalf("conflicting suffix should be accepted after truncation")
	}
	if reply.Index != 3 {
		t.Fatalf("want match index 3, get %d", reply.Index)
	}
	if c.log.Term(2) != 3 || c.log.Term(3) != 3 {
		t.Fatalf("conflicting entries not overwritten")
	}
	// the rewritten suffix is not stable yet, so commit must wait.
	if c.log.CommitIndex() != 1 {
		t.Fatalf("commit %d ran ahead of stable entries", c.log.CommitIndex())
	}

	c.log.StableEntries()
	hb := raftpd.Message{
		MsgType: raftpd.MsgHeartbeatRequest,
		From:    2,
		To:      1,
		Term:    3,
		Index:   3,
	}
	c.Step(&hb)
	if c.log.CommitIndex() != 3 {
		t.Fatalf("want commit 3 after stabilizing, get %d", c.log.CommitIndex())
	}
}

func TestCore_handleExpiredAppend(t *testing.T) {
	c := makeTestRaft(1, []uint64{1, 2, 3}, 10, 1,
		mkEntries(1, 2), term(2))

	// commit everything first.
	hb := raftpd.Message{
		MsgType: raftpd.MsgHeartbeatRequest,
		From:    2,
		To:      1,
		Term:    2,
		Index:   2,
	}
	c.Step(&hb)
	lastMessage(c)

	// a probe below the commit index answers with the commit.
	msg := raftpd.Message{
		MsgType:  raftpd.MsgAppendRequest,
		From:     2,
		To:       1,
		Term:     2,
		LogIndex: 1,
		LogTerm:  1,
	}
	c.Step(&msg)

	reply := lastMessage(c)
	if reply == nil || reply.Reject {
		t.Fatalf("expired append should succeed")
	}
	if reply.Index != 2 {
		t.Fatalf("want commit index 2, get %d", reply.Index)
	}
}

func TestCore_handleHeartbeat(t *testing.T) {
	c := makeTestRaft(1, []uint64{1, 2, 3}, 10, 1,
		mkEntries(1, 2), term(2), timeElapsed(7))

	ctx := []byte("ctx")
	msg := raftpd.Message{
		MsgType: raftpd.MsgHeartbeatRequest,
		From:    2,
		To:      1,
		Term:    2,
		Index:   1,
		Context: ctx,
	}
	c.Step(&msg)

	if c.timeElapsed != 0 {
		t.Fatalf("heartbeat should reset the election timer")
	}
	if c.log.CommitIndex() != 1 {
		t.Fatalf("want commit 1, get %d", c.log.CommitIndex())
	}
	reply := lastMessage(c)
	if reply == nil || reply.MsgType != raftpd.MsgHeartbeatResponse {
		t.Fatalf("want heartbeat response, get %v", reply)
	}
	if !bytes.Equal(reply.Context, ctx) {
		t.Fatalf("heartbeat response must echo the context")
	}
}

func TestCore_stepHigherTermStepsDown(t *testing.T) {
	nodes := []uint64{1, 2, 3}
	a := makeTestRaft(1, nodes, 10, 1, nil)
	b := makeTestRaft(2, nodes, 10, 1, nil)
	c := makeTestRaft(3, nodes, 10, 1, nil)
	n := makeNetwork(a, b, c)

	n.startElection(1)
	if a.state != RoleLeader {
		t.Fatal("a not leader")
	}

	msg := raftpd.Message{
		MsgType: raftpd.MsgHeartbeatRequest,
		From:    2,
		To:      1,
		Term:    a.term + 1,
		Index:   0,
	}
	a.Step(&msg)

	if a.state != RoleFollower {
		t.Fatalf("higher term must force a leader down, state %v", a.state)
	}
	if a.leaderID != 2 {
		t.Fatalf("want leader 2, get %d", a.leaderID)
	}
}

func TestCore_stepLowerTermRejected(t *testing.T) {
	c := makeTestRaft(1, []uint64{1, 2, 3}, 10, 1,
		mkEntries(1, 2), term(5))

	msg := raftpd.Message{
		MsgType:  raftpd.MsgAppendRequest,
		From:     2,
		To:       1,
		Term:     3,
		LogIndex: 2,
		LogTerm:  2,
	}
	c.Step(&msg)

	if c.term != 5 {
		t.Fatalf("lower term message must not move the local term")
	}
	reply := lastMessage(c)
	if reply == nil || !reply.Reject || reply.Term != 5 {
		t.Fatalf("stale sender should learn the current term, get %v", reply)
	}
}

func TestCore_broadcastAppend(t *testing.T) {
	c := makeTestRaft(1, []uint64{1, 2, 3}, 10, 1,
		nil, term(1), state(RoleLeader))

	idx, tm, isLeader := c.Propose([]byte("payload"))
	if !isLeader || idx != 1 || tm != 1 {
		t.Fatalf("propose want (1, 1, true), get (%d, %d, %v)", idx, tm, isLeader)
	}

	sent := map[uint64]bool{}
	for i := 0; i < len(c.messages); i++ {
		msg := &c.messages[i]
		if msg.MsgType != raftpd.MsgAppendRequest {
			t.Fatalf("want append request, get %v", msg.MsgType)
		}
		if msg.LogIndex != 0 || msg.LogTerm != 0 {
			t.Fatalf("want probe from log start, get [idx: %d, term: %d]",
				msg.LogIndex, msg.LogTerm)
		}
		if len(msg.Entries) != 1 || msg.Entries[0].Index != 1 {
			t.Fatalf("append should carry the proposed entry")
		}
		sent[msg.To] = true
	}
	if !sent[2] || !sent[3] {
		t.Fatalf("append not broadcast to every peer: %v", sent)
	}
}

func TestCore_proposeRejectedByFollower(t *testing.T) {
	c := makeTestRaft(1, []uint64{1, 2, 3}, 10, 1, nil)

	if _, _, isLeader := c.Propose([]byte("x")); isLeader {
		t.Fatal("follower must refuse proposals")
	}
}
