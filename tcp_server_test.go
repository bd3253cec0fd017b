package zk

import (
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/QuangTung97/zksession/jute"
	"github.com/QuangTung97/zksession/proto"
)

const serverIOTimeout = 5 * time.Second

var errConnectionRefused = errors.New("connection refused")

func discardLogger() Logger {
	return NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// fakeServer hands out in-memory connections to the client and lets the test
// play the server side of each of them.
type fakeServer struct {
	t *testing.T

	mut       sync.Mutex
	dialed    []string
	timeouts  []time.Duration
	failDials int
	wrapConn  func(conn NetworkConn) NetworkConn
	closed    bool
	accepted  []*serverConn

	conns chan *serverConn
}

func newFakeServer(t *testing.T) *fakeServer {
	return &fakeServer{
		t:     t,
		conns: make(chan *serverConn, 64),
	}
}

func (s *fakeServer) dial(addr string, timeout time.Duration) (NetworkConn, error) {
	s.mut.Lock()
	defer s.mut.Unlock()

	s.dialed = append(s.dialed, addr)
	s.timeouts = append(s.timeouts, timeout)

	if s.closed {
		return nil, errConnectionRefused
	}
	if s.failDials > 0 {
		s.failDials--
		return nil, errConnectionRefused
	}

	client, server := net.Pipe()
	conn := &serverConn{t: s.t, conn: server}
	s.accepted = append(s.accepted, conn)

	select {
	case s.conns <- conn:
	default:
		_ = server.Close()
	}
	if s.wrapConn != nil {
		return s.wrapConn(NewTCPConn(client)), nil
	}
	return NewTCPConn(client), nil
}

func (s *fakeServer) setFailDials(n int) {
	s.mut.Lock()
	defer s.mut.Unlock()
	s.failDials = n
}

// setWrapConn makes every later dial return wrap applied to the client end.
func (s *fakeServer) setWrapConn(wrap func(conn NetworkConn) NetworkConn) {
	s.mut.Lock()
	defer s.mut.Unlock()
	s.wrapConn = wrap
}

// stalledConn fails the nth Write with a deadline error before writing
// anything.
type stalledConn struct {
	NetworkConn

	mut     sync.Mutex
	stallAt int
	writes  int
}

func (c *stalledConn) Write(data []byte) (int, error) {
	c.mut.Lock()
	c.writes++
	stall := c.writes == c.stallAt
	c.mut.Unlock()

	if stall {
		return 0, os.ErrDeadlineExceeded
	}
	return c.NetworkConn.Write(data)
}

func (c *stalledConn) writeCount() int {
	c.mut.Lock()
	defer c.mut.Unlock()
	return c.writes
}

func (s *fakeServer) dialedAddrs() []string {
	s.mut.Lock()
	defer s.mut.Unlock()
	return append([]string(nil), s.dialed...)
}

func (s *fakeServer) dialTimeouts() []time.Duration {
	s.mut.Lock()
	defer s.mut.Unlock()
	return append([]time.Duration(nil), s.timeouts...)
}

// accept waits for the next connection dialed by the client.
func (s *fakeServer) accept() *serverConn {
	select {
	case conn := <-s.conns:
		return conn
	case <-time.After(serverIOTimeout):
		require.FailNow(s.t, "client did not connect")
		return nil
	}
}

// shutdown refuses new connections and closes the accepted ones.
func (s *fakeServer) shutdown() {
	s.mut.Lock()
	s.closed = true
	accepted := s.accepted
	s.accepted = nil
	s.mut.Unlock()

	for _, conn := range accepted {
		conn.close()
	}
}

// serverConn is the server end of one client connection.
type serverConn struct {
	t    *testing.T
	conn net.Conn
}

type serverRequest struct {
	xid  int32
	op   proto.OpCode
	body []byte
}

func (c *serverConn) readFrame() []byte {
	_ = c.conn.SetReadDeadline(time.Now().Add(serverIOTimeout))

	var sizeBuf [4]byte
	_, err := io.ReadFull(c.conn, sizeBuf[:])
	require.Equal(c.t, nil, err)

	frame := make([]byte, binary.BigEndian.Uint32(sizeBuf[:]))
	_, err = io.ReadFull(c.conn, frame)
	require.Equal(c.t, nil, err)
	return frame
}

func (c *serverConn) readConnectRequest() proto.ConnectRequest {
	var req proto.ConnectRequest
	_, err := jute.Unmarshal(c.readFrame(), &req)
	require.Equal(c.t, nil, err)
	return req
}

func (c *serverConn) readRequest() serverRequest {
	frame := c.readFrame()

	var header proto.RequestHeader
	n, err := header.Deserialize(frame, 0)
	require.Equal(c.t, nil, err)

	return serverRequest{
		xid:  int32(header.Xid),
		op:   proto.OpCode(header.Type),
		body: frame[n:],
	}
}

// readRequestInto reads the next request and decodes its body into v.
func (c *serverConn) readRequestInto(v jute.Value) serverRequest {
	req := c.readRequest()
	_, err := jute.Unmarshal(req.body, v)
	require.Equal(c.t, nil, err)
	return req
}

func (c *serverConn) write(e jute.Envelope) {
	data, err := e.ToBuffer()
	require.Equal(c.t, nil, err)

	_ = c.conn.SetWriteDeadline(time.Now().Add(serverIOTimeout))
	_, err = c.conn.Write(data)
	require.Equal(c.t, nil, err)
}

func testPassword() []byte {
	passwd := make([]byte, proto.PasswordLength)
	for i := range passwd {
		passwd[i] = byte(i + 1)
	}
	return passwd
}

func (c *serverConn) writeConnectResponse(resp proto.ConnectResponse) {
	c.write(jute.Envelope{Payload: &resp})
}

// respond accepts the session with sessionID and a 30s timeout.
func (c *serverConn) respond(sessionID int64) {
	c.writeConnectResponse(proto.ConnectResponse{
		ProtocolVersion: proto.ProtocolVersion,
		TimeOut:         30000,
		SessionID:       jute.Long(sessionID),
		Passwd:          testPassword(),
	})
}

func (c *serverConn) handshake(sessionID int64) proto.ConnectRequest {
	req := c.readConnectRequest()
	c.respond(sessionID)
	return req
}

func replyEnvelope(xid int32, zxid jute.Zxid, code ErrorCode, payload jute.Value) jute.Envelope {
	return jute.Envelope{
		Header: &proto.ReplyHeader{
			Xid:  jute.Int(xid),
			Zxid: zxid,
			Err:  jute.Int(code),
		},
		Payload: payload,
	}
}

func (c *serverConn) reply(xid int32, zxid jute.Zxid, code ErrorCode, payload jute.Value) {
	c.write(replyEnvelope(xid, zxid, code, payload))
}

// replyFrame encodes a reply without writing it.
func (c *serverConn) replyFrame(xid int32, zxid jute.Zxid, code ErrorCode, payload jute.Value) []byte {
	data, err := replyEnvelope(xid, zxid, code, payload).ToBuffer()
	require.Equal(c.t, nil, err)
	return data
}

func (c *serverConn) notify(eventType EventType, path string) {
	c.reply(proto.XidNotification, 0, CodeOK, &proto.WatcherEvent{
		Type:  jute.Int(eventType),
		State: jute.Int(proto.KeeperStateSyncConnected),
		Path:  jute.String(path),
	})
}

// writeRaw writes bytes that are not necessarily a valid frame.
func (c *serverConn) writeRaw(data []byte) {
	_ = c.conn.SetWriteDeadline(time.Now().Add(serverIOTimeout))
	_, err := c.conn.Write(data)
	require.Equal(c.t, nil, err)
}

func (c *serverConn) close() {
	_ = c.conn.Close()
}
