package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	raftpd "github.com/darcal/keel/raft/proto"
)

func TestGobCodec_roundTrip(t *testing.T) {
	msg := raftpd.Message{
		MsgType:  raftpd.MsgAppendRequest,
		From:     1,
		To:       2,
		Term:     3,
		LogIndex: 4,
		LogTerm:  2,
		Index:    4,
		Entries: []raftpd.Entry{
			{Type: raftpd.EntryNormal, Index: 5, Term: 3, Data: []byte("payload")},
		},
		Context: []byte("ctx"),
	}

	codec := gobCodec{}
	bytes, err := codec.Marshal(&msg)
	require.NoError(t, err)

	var out raftpd.Message
	require.NoError(t, codec.Unmarshal(bytes, &out))

	require.Equal(t, msg.MsgType, out.MsgType)
	require.Equal(t, msg.From, out.From)
	require.Equal(t, msg.Term, out.Term)
	require.Equal(t, msg.LogIndex, out.LogIndex)
	require.Len(t, out.Entries, 1)
	require.Equal(t, []byte("payload"), out.Entries[0].Data)
	require.Equal(t, []byte("ctx"), out.Context)
}

func TestGobCodec_unmarshalGarbage(t *testing.T) {
	var out raftpd.Message
	require.Error(t, (gobCodec{}).Unmarshal([]byte("not a gob stream"), &out))
}

type chanReceiver struct {
	msgs chan *raftpd.Message
}

func (r *chanReceiver) Step(msg *raftpd.Message) {
	r.msgs <- msg
}

func TestGrpc_loopback(t *testing.T) {
	receiver := &chanReceiver{msgs: make(chan *raftpd.Message, 1)}

	server := MakeGrpc(2, map[uint64]string{2: "127.0.0.1:0"}, receiver)
	require.NoError(t, server.Start())
	defer server.Stop()

	client := MakeGrpc(1, map[uint64]string{
		1: "127.0.0.1:0",
		2: server.Addr(),
	}, nil)
	defer client.Stop()

	sent := raftpd.Message{
		MsgType: raftpd.MsgHeartbeatRequest,
		From:    1,
		To:      2,
		Term:    7,
		Index:   3,
	}
	require.NoError(t, client.Send(2, &sent))

	select {
	case got := <-receiver.msgs:
		require.Equal(t, sent.MsgType, got.MsgType)
		require.Equal(t, uint64(1), got.From)
		require.Equal(t, uint64(7), got.Term)
		require.Equal(t, uint64(3), got.Index)
	case <-time.After(time.Second):
		t.Fatalf("message never delivered")
	}
}

func TestGrpc_sendUnreachable(t *testing.T) {
	// nothing listens on the target port.
	client := MakeGrpc(1, map[uint64]string{
		1: "127.0.0.1:0",
		2: "127.0.0.1:1",
	}, nil)
	defer client.Stop()

	msg := raftpd.Message{MsgType: raftpd.MsgHeartbeatRequest, From: 1, To: 2}
	require.Error(t, client.Send(2, &msg))
}
