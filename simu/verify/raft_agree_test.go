package verify

import (
	"fmt"
	"testing"

	envior "github.com/darcal/keel/simu/env"
	"github.com/darcal/keel/simu/raft"
)

func TestRaft_BasicAgree(t *testing.T) {
	servers := 5
	env := envior.MakeEnvironment(t, servers, false)
	defer env.Cleanup()

	fmt.Printf("Test: basic agreement ...\n")

	iters := 6
	// index 1 is the noop committed by the initial election.
	istart := 2
	for index := istart; index < iters+istart; index++ {
		nd, _ := env.CommittedNumber(index)
		if nd > 0 {
			t.Fatalf("index %d committed before anyone proposed it", index)
		}

		xindex := env.One(index*100, servers)
		if xindex != index {
			t.Fatalf("got index %v but expected %v", xindex, index)
		}
	}

	fmt.Printf("  ... Passed\n")
}

func TestRaft_FailAgree(t *testing.T) {
	servers := 3
	env := envior.MakeEnvironment(t, servers, false)
	defer env.Cleanup()

	fmt.Printf("Test: agreement despite follower disconnection ...\n")

	env.One(101, servers)

	// cut one follower off.
	leader := env.CheckOneLeader()
	env.Disconnect((leader + 1) % servers)

	// two of three still agree.
	env.One(102, servers-1)
	env.One(103, servers-1)
	sleep(raft.ElectionTimeout)
	env.One(104, servers-1)
	env.One(105, servers-1)

	// bring the follower back; it has to catch up.
	env.Connect((leader + 1) % servers)

	env.One(106, servers)
	sleep(raft.ElectionTimeout)
	env.One(107, servers)

	fmt.Printf("  ... Passed\n")
}

func TestRaft_NoAgreeWithoutQuorum(t *testing.T) {
	servers := 5
	env := envior.MakeEnvironment(t, servers, false)
	defer env.Cleanup()

	fmt.Printf("Test: no agreement if too many followers disconnect ...\n")

	env.One(10, servers)

	// cut three of five: the leader keeps one follower at most.
	leader := env.CheckOneLeader()
	env.Disconnect((leader + 1) % servers)
	env.Disconnect((leader + 2) % servers)
	env.Disconnect((leader + 3) % servers)

	index, _, ok := env.Propose(leader, 20)
	if !ok {
		t.Fatalf("leader rejected the proposal")
	}

	sleep(2 * raft.ElectionTimeout)

	if nd, _ := env.CommittedNumber(int(index)); nd > 0 {
		t.Fatalf("%v committed but no majority", nd)
	}

	// reconnect the cut side.
	env.Connect((leader + 1) % servers)
	env.Connect((leader + 2) % servers)
	env.Connect((leader + 3) % servers)

	// the disconnected majority may have elected its own leader by
	// now, and the uncommitted entry may or may not survive. either
	// way the cluster must make progress again.
	env.One(1000, servers)

	fmt.Printf("  ... Passed\n")
}
