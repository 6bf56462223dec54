package core

import (
	"bytes"
	"testing"
)

func TestRaft_BasicReadOnly(t *testing.T) {
	nodes := []uint64{1, 2, 3}
	a := makeTestRaft(1, nodes, 10, 1, nil)
	b := makeTestRaft(2, nodes, 10, 1, nil)
	c := makeTestRaft(3, nodes, 10, 1, nil)
	n := makeNetwork(a, b, c)

	n.startElection(1)

	// wait noop commit
	if !n.waitCommit(1) {
		t.Fatal("failed to achieve agreement")
	}

	if a.state != RoleLeader {
		t.Fatal("a not leader")
	}

	tests := []struct {
		sm        *RawNode
		proposals int
		wri       uint64
		wctx      []byte
	}{
		// notice noop entry.
		{a, 10, 11, []byte("ctx1")},
		{a, 10, 21, []byte("ctx2")},
	}

	for i, test := range tests {
		var idx uint64
		for j := 0; j < test.proposals; j++ {
			idx, _ = n.propose(1, []byte(""))
		}
		if !n.waitCommit(idx) {
			t.Fatal("failed to achieve agreement")
		}

		n.readIndex(test.sm.id, test.wctx)

		if len(test.sm.readStates) != 1 {
			t.Fatalf("%d read states size want: %d, get: %d",
				i, 1, len(test.sm.readStates))
		}

		rs := test.sm.readStates[0]
		if rs.Index != test.wri {
			t.Fatalf("%d read state index want: %d, get: %d",
				i, test.wri, rs.Index)
		}

		if !bytes.Equal(rs.RequestCtx, test.wctx) {
			t.Fatalf("%d read state ctx not equals", i)
		}
		test.sm.readStates = test.sm.readStates[:0]
	}
}

func TestRaft_FollowerReadRedirect(t *testing.T) {
	nodes := []uint64{1, 2, 3}
	a := makeTestRaft(1, nodes, 10, 1, nil)
	b := makeTestRaft(2, nodes, 10, 1, nil)
	c := makeTestRaft(3, nodes, 10, 1, nil)
	n := makeNetwork(a, b, c)

	n.startElection(1)
	if !n.waitCommit(1) {
		t.Fatal("failed to achieve agreement")
	}

	ctx := []byte("follower-ctx")
	if !n.readIndex(2, ctx) {
		t.Fatal("follower with a known leader should accept the read")
	}

	if len(b.readStates) != 1 {
		t.Fatalf("read state not redirected back, got %d", len(b.readStates))
	}
	rs := b.readStates[0]
	if rs.Index != a.log.CommitIndex() {
		t.Fatalf("read index want %d, get %d", a.log.CommitIndex(), rs.Index)
	}
	if !bytes.Equal(rs.RequestCtx, ctx) {
		t.Fatal("read context lost in the redirect")
	}
}

func TestRaft_ReadRequiresCurrentTermCommit(t *testing.T) {
	// a freshly elected leader cannot serve reads until its noop
	// commits.
	c := makeTestRaft(1, []uint64{1, 2, 3}, 10, 1,
		mkEntries(1, 1), term(2), state(RoleLeader))

	if c.Read([]byte("early")) {
		t.Fatal("read admitted before any current-term commit")
	}
}
