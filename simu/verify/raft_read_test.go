package verify

import (
	"fmt"
	"testing"

	envior "github.com/darcal/keel/simu/env"
	"github.com/darcal/keel/simu/raft"
)

func waitReadNotice(t *testing.T, env *envior.Environment, id int, ctx []byte) uint64 {
	for iters := 0; iters < 50; iters++ {
		if idx, ok := env.ReadNotice(id, ctx); ok {
			return idx
		}
		sleep(raft.HeartbeatTimeout / 2)
	}
	t.Fatalf("read %q never released on server %d", ctx, id)
	return 0
}

func TestRaft_LinearizableRead(t *testing.T) {
	servers := 3
	env := envior.MakeEnvironment(t, servers, false)
	defer env.Cleanup()

	fmt.Printf("Test: linearizable read on leader ...\n")

	index := env.One(42, servers)
	leader := env.CheckOneLeader()

	ctx := []byte("read-leader")
	admitted := false
	for iters := 0; iters < 10 && !admitted; iters++ {
		admitted = env.Read(leader, ctx)
		if !admitted {
			sleep(raft.HeartbeatTimeout)
		}
	}
	if !admitted {
		t.Fatalf("leader refused the read")
	}

	idx := waitReadNotice(t, env, leader, ctx)
	if idx < uint64(index) {
		t.Fatalf("read index %d below committed index %d", idx, index)
	}

	fmt.Printf("  ... Passed\n")
}

func TestRaft_FollowerRead(t *testing.T) {
	servers := 3
	env := envior.MakeEnvironment(t, servers, false)
	defer env.Cleanup()

	fmt.Printf("Test: linearizable read through a follower ...\n")

	index := env.One(7, servers)
	leader := env.CheckOneLeader()
	follower := (leader + 1) % servers

	ctx := []byte("read-follower")
	admitted := false
	for iters := 0; iters < 10 && !admitted; iters++ {
		admitted = env.Read(follower, ctx)
		if !admitted {
			sleep(raft.HeartbeatTimeout)
		}
	}
	if !admitted {
		t.Fatalf("follower refused the read")
	}

	idx := waitReadNotice(t, env, follower, ctx)
	if idx < uint64(index) {
		t.Fatalf("read index %d below committed index %d", idx, index)
	}

	fmt.Printf("  ... Passed\n")
}
