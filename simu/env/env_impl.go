package envior

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	network "github.com/thinkermao/network-simu-go"

	"github.com/darcal/keel/simu/raft"
)

const walDir = "./wal_log/"

// Environment drives a simulated cluster for tests: a set of raft
// applications wired through an in-memory network that can drop,
// delay and partition traffic. Each server keeps its wal under a
// private directory so crash and restart cycles are real restarts.
type Environment struct {
	t          *testing.T
	net        network.Network
	totalNodes int
	apps       []raft.Application
}

// MakeEnvironment build a cluster of num servers, start them all and
// plug them into the network.
func MakeEnvironment(t *testing.T, num int, unreliable bool) *Environment {
	builder := network.CreateBuilder()
	env := &Environment{}

	var apps []raft.Application
	for i := 0; i < num; i++ {
		dir := filepath.Join(walDir, strconv.Itoa(i))
		if err := os.MkdirAll(dir, 0777); err != nil {
			panic(err)
		}

		handler := builder.AddEndpoint()
		apps = append(apps, raft.MakeApp(dir, handler, env))
	}

	env.t = t
	env.net = builder.Build()
	env.totalNodes = num
	env.apps = apps

	env.SetUnreliable(unreliable)

	for i := 0; i < num; i++ {
		env.Start1(i)
		env.Connect(i)
	}

	return env
}

// CheckApply fails when two servers disagree about the value committed
// at index. Called from every apply callback.
func (env *Environment) CheckApply(id, index, value int) error {
	for j := 0; j < len(env.apps); j++ {
		app := env.apps[j]
		if v, ok := app.LogAt(index); ok && v != value {
			return fmt.Errorf("commit index=%v server=%v %v != server=%v %v",
				index, id, value, app.ID(), v)
		}
	}
	return nil
}

// Crash1 shut down server i; its wal survives for a later Start1.
func (env *Environment) Crash1(i int) {
	env.Disconnect(i)
	env.apps[i].Shutdown()
}

// Start1 start or restart server i. A running incarnation is killed
// first, so the restart always goes through wal recovery.
func (env *Environment) Start1(i int) {
	env.Crash1(i)

	ns := make([]uint64, 0, len(env.apps))
	for j := 0; j < len(env.apps); j++ {
		ns = append(ns, uint64(env.apps[j].ID()))
	}

	if err := env.apps[i].Start(ns); err != nil {
		env.t.Fatalf("start %d: %v", i, err)
	}
}

// Propose submit a command through server id.
func (env *Environment) Propose(id int, num int) (uint64, uint64, bool) {
	return env.apps[id].Propose(num)
}

// Read submits a linearizable read on server id.
func (env *Environment) Read(id int, context []byte) bool {
	return env.apps[id].Read(context)
}

// ReadNotice reports whether the read identified by context has been
// released on server id, and at which index.
func (env *Environment) ReadNotice(id int, context []byte) (uint64, bool) {
	return env.apps[id].ReadNotice(context)
}

// GetState return the term of server id and whether it leads.
func (env *Environment) GetState(id int) (uint64, bool) {
	return env.apps[id].GetState()
}

// IsCrash reports whether server i is currently down.
func (env *Environment) IsCrash(i int) bool {
	return env.apps[i].IsCrash()
}

// Cleanup shut everything down and wipe the wal directories.
func (env *Environment) Cleanup() {
	for i := 0; i < len(env.apps); i++ {
		if env.apps[i] != nil {
			env.apps[i].Shutdown()
		}
	}
	if err := os.RemoveAll(walDir); err != nil {
		panic(err)
	}
}

// Connect attach server i to the net.
func (env *Environment) Connect(i int) {
	env.net.Enable(i)
}

// Disconnect detach server i from the net.
func (env *Environment) Disconnect(i int) {
	env.net.Disable(i)
}

// GetCount return how many rpcs the given server has issued.
func (env *Environment) GetCount(server int) int {
	return int(env.net.GetCount(server))
}

// SetUnreliable toggle message drops and delays on the network.
func (env *Environment) SetUnreliable(unrel bool) {
	env.net.SetReliable(!unrel)
}

// CheckOneLeader wait until the connected servers settle on a single
// leader and return it. At most one leader may exist per term; the
// leader of the highest term wins when old terms linger.
func (env *Environment) CheckOneLeader() int {
	for iters := 0; iters < 10; iters++ {
		time.Sleep(raft.ElectionTimeout * time.Millisecond)

		leadersByTerm := make(map[int][]int)
		for i := 0; i < env.totalNodes; i++ {
			if !env.net.IsEnable(i) {
				continue
			}
			if term, leader := env.apps[i].GetState(); leader {
				leadersByTerm[int(term)] = append(leadersByTerm[int(term)], i)
			}
		}

		newestTerm := -1
		for term, leaders := range leadersByTerm {
			if len(leaders) > 1 {
				env.t.Fatalf("term %d has %d (>1) leaders", term, len(leaders))
			}
			if term > newestTerm {
				newestTerm = term
			}
		}

		if len(leadersByTerm) != 0 {
			return leadersByTerm[newestTerm][0]
		}
	}
	env.t.Fatalf("expected one leader, got none")
	return -1
}

// CheckTerms verify every connected server reports the same term,
// and return it.
func (env *Environment) CheckTerms() int {
	term := -1
	for i := 0; i < env.totalNodes; i++ {
		if !env.net.IsEnable(i) {
			continue
		}
		got, _ := env.apps[i].GetState()
		if term == -1 {
			term = int(got)
		} else if term != int(got) {
			env.t.Fatalf("servers disagree on term")
		}
	}
	return term
}

// CheckNoLeader verify no connected server claims leadership.
func (env *Environment) CheckNoLeader() {
	for i := 0; i < env.totalNodes; i++ {
		if !env.net.IsEnable(i) {
			continue
		}
		if _, isLeader := env.apps[i].GetState(); isLeader {
			env.t.Fatalf("expected no leader, but %v claims to be leader", i)
		}
	}
}

// CommittedNumber count the servers that hold a committed value at
// index, failing when they hold different ones.
func (env *Environment) CommittedNumber(index int) (int, interface{}) {
	count := 0
	value := -1
	for i := 0; i < len(env.apps); i++ {
		if err := env.apps[i].ApplyError(); err != nil {
			env.t.Fatal(err)
		}

		v, ok := env.apps[i].LogAt(index)
		if !ok {
			continue
		}
		if count > 0 && value != v {
			env.t.Fatalf("committed values do not match: index %v, %v, %v\n",
				index, value, v)
		}
		count++
		value = v
	}
	return count, value
}

// Wait block until at least n servers commit index, with exponential
// backoff. Giving startTerm > -1 aborts once any server moves past it,
// since the entry may then be overwritten.
func (env *Environment) Wait(index int, n int, startTerm int) interface{} {
	pause := 10 * time.Millisecond
	for iters := 0; iters < 30; iters++ {
		committed, _ := env.CommittedNumber(index)
		if committed >= n {
			break
		}

		time.Sleep(pause)
		if pause < time.Second {
			pause *= 2
		}

		if startTerm > -1 {
			for _, app := range env.apps {
				if term, _ := app.GetState(); int(term) > startTerm {
					return -1
				}
			}
		}
	}

	committed, value := env.CommittedNumber(index)
	if committed < n {
		env.t.Fatalf("only %d decided for index %d; wanted %d\n",
			committed, index, n)
	}
	return value
}

// One drive a full agreement round for cmd and return its index. The
// proposal is retried through every server until one accepts it as
// leader AND the expected number of servers commit exactly this
// command; an accepted proposal can still be lost to a leader change.
func (env *Environment) One(cmd int, expectedServers int) int {
	begin := time.Now()
	server := 0
	for time.Since(begin).Seconds() < 10 {
		index := -1
		for tries := 0; tries < env.totalNodes; tries++ {
			server = (server + 1) % env.totalNodes
			if idx, _, ok := env.apps[server].Propose(cmd); ok {
				index = int(idx)
				break
			}
		}

		if index == -1 {
			time.Sleep(50 * time.Millisecond)
			continue
		}

		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			committed, value := env.CommittedNumber(index)
			if committed >= expectedServers {
				if v, ok := value.(int); ok && v == cmd {
					return index
				}
			}
			time.Sleep(20 * time.Millisecond)
		}
	}
	env.t.Fatalf("One(%v) failed to reach agreement", cmd)
	return -1
}
