package raft

import (
	"encoding/binary"
	"fmt"

	log "github.com/sirupsen/logrus"

	raftpd "github.com/darcal/keel/raft/proto"
)

// implements of raft.Application interface.

func (app *application) ApplyEntry(entry *raftpd.Entry) {
	log.Debugf("[test] id: %d apply entry: %v", app.id, entry)

	var err error

	value := int(binary.LittleEndian.Uint64(entry.Data))
	index := int(entry.Index)

	err = app.callback.CheckApply(app.ID(), index, value)

	app.logMutex.Lock()
	defer app.logMutex.Unlock()
	if err == nil {
		if lastValue, ok := app.logs[index]; !ok {
			app.logs[index] = value
		} else {
			err = fmt.Errorf("%d apply same index: %d twice : %d, last: %d",
				app.id, index, value, lastValue)
		}
	}
	if err != nil {
		app.applyErr = err
	}
}

func (app *application) ReadStateNotice(idx uint64, context []byte) {
	log.Debugf("[test] id: %d read safe at %d", app.id, idx)

	app.logMutex.Lock()
	defer app.logMutex.Unlock()

	app.reads[string(context)] = idx
}
