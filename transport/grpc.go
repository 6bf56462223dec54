package transport

import (
	"context"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	raftpd "github.com/darcal/keel/raft/proto"
)

const sendMethod = "/keel.Raft/Send"

// Ack is the reply of the Send rpc. It carries no information beyond
// successful delivery.
type Ack struct {
	Ok bool
}

func (a *Ack) Reset() { *a = Ack{} }

// Receiver consumes messages arriving from remote peers.
type Receiver interface {
	Step(msg *raftpd.Message)
}

// Grpc delivers messages between peers over grpc connections. Each
// remote peer gets one shared client connection, established lazily
// and reused across calls.
type Grpc struct {
	id       uint64
	receiver Receiver
	server   *grpc.Server
	listener net.Listener

	callTimeout time.Duration

	mutex sync.Mutex
	addrs map[uint64]string
	conns map[uint64]*grpc.ClientConn
}

// MakeGrpc build a transport for the given node. addrs maps every
// peer id, this node included, to its listen address.
func MakeGrpc(id uint64, addrs map[uint64]string, receiver Receiver) *Grpc {
	t := &Grpc{
		id:          id,
		receiver:    receiver,
		callTimeout: 200 * time.Millisecond,
		addrs:       make(map[uint64]string, len(addrs)),
		conns:       make(map[uint64]*grpc.ClientConn),
	}
	for peer, addr := range addrs {
		t.addrs[peer] = addr
	}
	return t
}

// Start binds this node's address and serves incoming messages until
// Stop is called.
func (t *Grpc) Start() error {
	lis, err := net.Listen("tcp", t.addrs[t.id])
	if err != nil {
		return err
	}
	t.listener = lis

	t.server = grpc.NewServer(grpc.ForceServerCodec(gobCodec{}))
	t.server.RegisterService(&raftServiceDesc, t)

	go func() {
		if err := t.server.Serve(lis); err != nil {
			log.Debugf("%d transport serve stopped: %v", t.id, err)
		}
	}()

	log.Infof("%d transport listening at %s", t.id, t.addrs[t.id])
	return nil
}

// Stop closes the server and every client connection.
func (t *Grpc) Stop() {
	if t.server != nil {
		t.server.Stop()
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()
	for peer, conn := range t.conns {
		if err := conn.Close(); err != nil {
			log.Debugf("%d close connection to %d: %v", t.id, peer, err)
		}
		delete(t.conns, peer)
	}
}

// Addr returns the bound listen address, useful when the configured
// address carries port zero.
func (t *Grpc) Addr() string {
	if t.listener == nil {
		return t.addrs[t.id]
	}
	return t.listener.Addr().String()
}

// Send delivers msg to the given peer, blocking up to the call
// timeout. An error marks the peer unreachable to the caller.
func (t *Grpc) Send(to uint64, msg *raftpd.Message) error {
	conn, err := t.connTo(to)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.callTimeout)
	defer cancel()

	var ack Ack
	return conn.Invoke(ctx, sendMethod, msg, &ack)
}

func (t *Grpc) connTo(peer uint64) (*grpc.ClientConn, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if conn, ok := t.conns[peer]; ok {
		return conn, nil
	}

	conn, err := grpc.NewClient(t.addrs[peer],
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(gobCodec{})))
	if err != nil {
		log.Errorf("%d connect %s failed: %v", t.id, t.addrs[peer], err)
		return nil, err
	}
	t.conns[peer] = conn
	return conn, nil
}

// raftServer is the handler contract checked at registration.
type raftServer interface {
	send(ctx context.Context, msg *raftpd.Message) (*Ack, error)
}

func (t *Grpc) send(ctx context.Context, msg *raftpd.Message) (*Ack, error) {
	t.receiver.Step(msg)
	return &Ack{Ok: true}, nil
}

func sendHandler(srv interface{}, ctx context.Context,
	dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(raftpd.Message)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(raftServer).send(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: sendMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(raftServer).send(ctx, req.(*raftpd.Message))
	}
	return interceptor(ctx, in, info, handler)
}

var raftServiceDesc = grpc.ServiceDesc{
	ServiceName: "keel.Raft",
	HandlerType: (*raftServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Send",
			Handler:    sendHandler,
		},
	},
	Streams: []grpc.StreamDesc{},
}
