package proxy

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/blockproxy/blockproxy/internal/codec"
	"github.com/blockproxy/blockproxy/internal/config"
	"github.com/blockproxy/blockproxy/internal/eventbus"
	"github.com/blockproxy/blockproxy/internal/identity"
	"github.com/blockproxy/blockproxy/internal/netlog"
	"github.com/blockproxy/blockproxy/internal/protocol"
	"github.com/blockproxy/blockproxy/internal/session"
)

// fakeSocket is an io.ReadWriteCloser whose writes are captured for
// inspection and whose reads come from an optional scripted reader.
type fakeSocket struct {
	r io.Reader
	w bytes.Buffer
}

func (f *fakeSocket) Read(p []byte) (int, error) {
	if f.r == nil {
		return 0, io.EOF
	}
	return f.r.Read(p)
}

func (f *fakeSocket) Write(p []byte) (int, error) { return f.w.Write(p) }

func (f *fakeSocket) Close() error { return nil }

// written re-reads every frame a half flushed to its fake socket.
func (f *fakeSocket) written() *codec.Conn {
	return codec.NewConn(&fakeSocket{r: bytes.NewReader(f.w.Bytes())})
}

// testHalves is a wired client/server half pair around fake sockets, with
// the session already registered, so handlers can be driven frame by frame
// without real connections or running loops.
type testHalves struct {
	client     *ClientHalf
	server     *ServerHalf
	coord      *session.Coordinator
	bus        *eventbus.Bus
	sess       *session.Session
	clientSock *fakeSocket
	serverSock *fakeSocket
}

func newTestHalves(version protocol.Version, username string, authUUID uuid.UUID) *testHalves {
	coord := session.NewCoordinator(false)
	bus := eventbus.New(0)
	cfg := &config.Proxy{CompressionThreshold: -1, MaxPlayers: 20}

	clientSock := &fakeSocket{}
	serverSock := &fakeSocket{}

	sess := session.New(authUUID.String(), version, username, authUUID, identity.OfflineUUID(username))
	client := NewClientHalf(codec.NewConn(clientSock), cfg, coord, bus, nil, nil)
	client.sess = sess
	coord.Register(sess, client)

	clientBound, serverBound := protocol.Select(version)
	server := &ServerHalf{
		ConnActor:   NewConnActor(codec.NewConn(serverSock), netlog.For("test")),
		sess:        sess,
		coord:       coord,
		bus:         bus,
		client:      client,
		clientBound: clientBound,
		serverBound: serverBound,
		log:         netlog.For("test"),
	}
	client.server = server

	return &testHalves{
		client:     client,
		server:     server,
		coord:      coord,
		bus:        bus,
		sess:       sess,
		clientSock: clientSock,
		serverSock: serverSock,
	}
}

// registerPeer adds a second player to the roster, for uuid-rewrite tests.
func (th *testHalves) registerPeer(username string, authUUID uuid.UUID) *session.Session {
	peer := session.New(authUUID.String(), th.sess.Version, username, authUUID, identity.OfflineUUID(username))
	th.coord.Register(peer, th.client)
	return peer
}

// rawFrame assembles a RawFrame exactly as the read loop hands one to
// dispatch.
func rawFrame(id int32, body *codec.Writer) codec.RawFrame {
	return codec.RawFrame{ID: id, Payload: encodeWithID(id, body)}
}

// dequeue pops one queued outbound payload off an actor without blocking.
func dequeue(t *testing.T, a *ConnActor) codec.RawFrame {
	t.Helper()
	select {
	case p := <-a.queue:
		id, _, err := codec.ReadVarInt(bytes.NewReader(p))
		require.NoError(t, err)
		return codec.RawFrame{ID: id, Payload: p}
	default:
		t.Fatal("expected a queued payload")
		return codec.RawFrame{}
	}
}

func requireQueueEmpty(t *testing.T, a *ConnActor) {
	t.Helper()
	select {
	case p := <-a.queue:
		t.Fatalf("expected empty queue, found payload of %d bytes", len(p))
	default:
	}
}

// collect subscribes a capturing handler that passes everything through.
func collect(bus *eventbus.Bus, name string) *[]map[string]interface{} {
	var got []map[string]interface{}
	bus.Subscribe(name, func(_ context.Context, payload map[string]interface{}) eventbus.Decision {
		got = append(got, payload)
		return eventbus.Decision{Kind: eventbus.PassThrough}
	})
	return &got
}
