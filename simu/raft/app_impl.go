package raft

import (
	"encoding/binary"
	"sync"

	log "github.com/sirupsen/logrus"
	network "github.com/thinkermao/network-simu-go"

	"github.com/darcal/keel/raft"
	raftpd "github.com/darcal/keel/raft/proto"
	"github.com/darcal/keel/utils/pd"
)

const ElectionTimeout = 1000
const HeartbeatTimeout = 100
const tickSize = 25
const MaxSizePerMsg = 64 * 1024 * 1024 // 64MB

// AppCallback Used by the environment to check applied entries.
type AppCallback interface {
	CheckApply(id, index, value int) error
}

// a simple application base on raft.
type application struct {
	id      uint64
	handler network.Handler
	walDir  string

	rfMutex sync.Mutex // lock for raft.
	rf      *raft.Raft
	started bool // a previous incarnation left a wal behind

	logMutex sync.Mutex
	applyErr error       // from apply callbacks
	logs     map[int]int // copy of this server's committed entries
	reads    map[string]uint64
	callback AppCallback
}

// MakeApp return instance of Application.
func MakeApp(
	walDir string,
	handler network.Handler,
	callback AppCallback,
) Application {
	id := uint64(handler.ID())
	app := &application{
		id:      id,
		handler: handler,
		logs:    make(map[int]int),
		reads:   make(map[string]uint64),
	}

	app.callback = callback
	app.walDir = walDir
	app.handler.BindReceiver(app.handleMessage)

	return app
}

func (app *application) getRaft() *raft.Raft {
	app.rfMutex.Lock()
	defer app.rfMutex.Unlock()
	return app.rf
}

func (app *application) handleMessage(from int, data []byte) {
	rf := app.getRaft()
	if rf == nil {
		return
	}

	var msg raftpd.Message
	pd.MustUnmarshal(&msg, data)

	log.Debugf("app id: %d received: %v", app.id, msg)

	rf.Step(&msg)
}

// Send implements raft.Transporter over the simulated network.
func (app *application) Send(to uint64, msg *raftpd.Message) error {
	log.Debugf("app id: %d send: %v", app.id, msg)
	data := pd.MustMarshal(msg)
	return app.handler.Call(int(to), data)
}

// Start allocates a new raft object; after a crash it rebuilds from
// the wal left by the previous incarnation.
func (app *application) Start(nodes []uint64) error {
	app.rfMutex.Lock()
	firstStart := !app.started
	app.started = true
	app.rfMutex.Unlock()

	var err error
	var rf *raft.Raft
	if firstStart {
		rf, err = raft.MakeRaft(app.id, nodes,
			ElectionTimeout, HeartbeatTimeout,
			tickSize, MaxSizePerMsg, app.walDir, app, app)
	} else {
		app.resetVolatileState()
		rf, err = raft.RebuildRaft(app.id, nodes,
			ElectionTimeout, HeartbeatTimeout,
			tickSize, MaxSizePerMsg, app.walDir, app, app)
	}
	if err != nil {
		return err
	}

	app.rfMutex.Lock()
	defer app.rfMutex.Unlock()

	app.rf = rf

	return nil
}

// resetVolatileState drops the in-memory log copy; committed entries
// will be re-applied from scratch after the restart.
func (app *application) resetVolatileState() {
	app.logMutex.Lock()
	defer app.logMutex.Unlock()

	app.logs = make(map[int]int)
	app.reads = make(map[string]uint64)
}

// Shutdown release raft object of current application.
func (app *application) Shutdown() {
	app.rfMutex.Lock()
	rf := app.rf
	app.rf = nil
	app.rfMutex.Unlock()

	if rf != nil {
		rf.Kill()
	}
}

func (app *application) LogLength() int {
	app.logMutex.Lock()
	defer app.logMutex.Unlock()

	return len(app.logs)
}

func (app *application) LogAt(index int) (int, bool) {
	app.logMutex.Lock()
	defer app.logMutex.Unlock()

	value, ok := app.logs[index]
	if !ok {
		return 0, false
	}
	return value, true
}

func (app *application) ReadNotice(context []byte) (uint64, bool) {
	app.logMutex.Lock()
	defer app.logMutex.Unlock()

	idx, ok := app.reads[string(context)]
	return idx, ok
}

func (app *application) Propose(num int) (uint64, uint64, bool) {
	rf := app.getRaft()

	if rf == nil {
		return 0, 0, false
	}

	bytes := [8]byte{}
	binary.LittleEndian.PutUint64(bytes[:], uint64(num))
	idx, term, err := rf.Submit(bytes[:])
	if err != nil {
		return 0, 0, false
	}
	return idx, term, true
}

func (app *application) Read(context []byte) bool {
	rf := app.getRaft()

	if rf == nil {
		return false
	}

	return rf.Read(context)
}

func (app *application) GetState() (uint64, bool) {
	rf := app.getRaft()

	if rf == nil {
		return 0, false
	}

	return rf.GetState()
}

func (app *application) ApplyError() error {
	app.logMutex.Lock()
	defer app.logMutex.Unlock()

	return app.applyErr
}

func (app *application) ID() int {
	return app.handler.ID()
}

func (app *application) IsCrash() bool {
	rf := app.getRaft()
	return rf == nil
}
