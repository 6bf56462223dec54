package main

import (
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/darcal/keel/raft"
	raftpd "github.com/darcal/keel/raft/proto"
	"github.com/darcal/keel/transport"
)

const maxSizePerMsg = 64 * 1024

// logApplier is a placeholder state machine that records committed
// commands and answers read notices in the log.
type logApplier struct {
	mutex   sync.Mutex
	applied uint64
}

func (a *logApplier) ApplyEntry(entry *raftpd.Entry) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.applied = entry.Index
	log.Infof("apply entry %d [term: %d, %d bytes]",
		entry.Index, entry.Term, len(entry.Data))
}

func (a *logApplier) ReadStateNotice(idx uint64, context []byte) {
	log.Infof("read safe at %d [ctx: %d bytes]", idx, len(context))
}

// relay breaks the construction cycle between transport and raft.
type relay struct {
	mutex sync.Mutex
	raft  *raft.Raft
}

func (r *relay) bind(rf *raft.Raft) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.raft = rf
}

func (r *relay) Step(msg *raftpd.Message) {
	r.mutex.Lock()
	rf := r.raft
	r.mutex.Unlock()

	if rf != nil {
		rf.Step(msg)
	}
}

func hasExistingLog(walDir string) bool {
	names, err := os.ReadDir(walDir)
	return err == nil && len(names) > 0
}

func main() {
	var (
		configPath = flag.String("config", "keel.yaml", "path to the node configuration")
		verbose    = flag.Bool("verbose", false, "enable debug logging")
	)
	flag.Parse()

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	config, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if err := os.MkdirAll(config.Node.WalDir, 0755); err != nil {
		log.Fatalf("create wal directory: %v", err)
	}

	receiver := &relay{}
	trans := transport.MakeGrpc(config.Node.ID, config.GetPeers(), receiver)
	if err := trans.Start(); err != nil {
		log.Fatalf("start transport: %v", err)
	}
	defer trans.Stop()

	applier := &logApplier{}

	var rf *raft.Raft
	if hasExistingLog(config.Node.WalDir) {
		rf, err = raft.RebuildRaft(config.Node.ID, config.GetPeerIDs(),
			config.Timing.ElectionTimeoutMs, config.Timing.HeartbeatTimeoutMs,
			config.Timing.TickMs, maxSizePerMsg, config.Node.WalDir,
			applier, trans)
	} else {
		rf, err = raft.MakeRaft(config.Node.ID, config.GetPeerIDs(),
			config.Timing.ElectionTimeoutMs, config.Timing.HeartbeatTimeoutMs,
			config.Timing.TickMs, maxSizePerMsg, config.Node.WalDir,
			applier, trans)
	}
	if err != nil {
		log.Fatalf("start raft: %v", err)
	}
	receiver.bind(rf)
	defer rf.Kill()

	log.Infof("node %d up, %d peers", config.Node.ID, len(config.Cluster.Peers))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down")
}
