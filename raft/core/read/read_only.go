package read

// ReadState carries a released read-only request back to the caller:
// the request may be served once the applied index reaches Index.
type ReadState struct {
	Index      uint64
	RequestCtx []byte
}

// ReadIndexStatus tracks one pending read-only request while the leader
// confirms its authority through a round of heartbeats.
type ReadIndexStatus struct {
	Index   uint64
	To      uint64
	Context []byte
	Acks    map[uint64]struct{}
}

// ReadOnly queues pending linearizable reads in arrival order.
type ReadOnly struct {
	pendingReadIndex map[string]*ReadIndexStatus
	readIndexQueue   []string
}

// MakeReadOnly return an empty queue.
func MakeReadOnly() *ReadOnly {
	return &ReadOnly{
		pendingReadIndex: make(map[string]*ReadIndexStatus),
		readIndexQueue:   make([]string, 0),
	}
}

// AddRequest record a read-only request arriving at commit index
// `index`, tagged with a caller-unique context.
func (ro *ReadOnly) AddRequest(index uint64, to uint64, context []byte) {
	ctx := string(context)
	if _, ok := ro.pendingReadIndex[ctx]; ok {
		return
	}
	ro.pendingReadIndex[ctx] = &ReadIndexStatus{
		Index:   index,
		To:      to,
		Context: context,
		Acks:    make(map[uint64]struct{}),
	}
	ro.readIndexQueue = append(ro.readIndexQueue, ctx)
}

// ReceiveAck notes a heartbeat response carrying context, and returns
// the ack count including the local node.
func (ro *ReadOnly) ReceiveAck(from uint64, context []byte) int {
	rs, ok := ro.pendingReadIndex[string(context)]
	if !ok {
		return 0
	}

	rs.Acks[from] = struct{}{}
	// add one to include an ack from local node
	return len(rs.Acks) + 1
}

// Advance dequeues requests up to and including the one matching
// context: everything queued before an acknowledged request is released
// with it, since heartbeat acks confirm the leadership for them too.
func (ro *ReadOnly) Advance(context []byte) []*ReadIndexStatus {
	var i int
	var found bool

	ctx := string(context)
	rss := []*ReadIndexStatus{}

	for _, okctx := range ro.readIndexQueue {
		i++
		rs, ok := ro.pendingReadIndex[okctx]
		if !ok {
			panic("cannot find corresponding read state from pending map")
		}
		rss = append(rss, rs)
		if okctx == ctx {
			found = true
			break
		}
	}

	if !found {
		return nil
	}

	ro.readIndexQueue = ro.readIndexQueue[i:]
	for _, rs := range rss {
		delete(ro.pendingReadIndex, string(rs.Context))
	}
	return rss
}
