// Package zk is a native Go client library for the ZooKeeper orchestration service.
package zk

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/QuangTung97/zksession/jute"
	"github.com/QuangTung97/zksession/proto"
)

const (
	maxFrameSize   = 1536 * 1024
	readBufferSize = 64 * 1024

	// upper bound of the encoded size of one SetWatches request
	maxSetWatchesSize = 128 * 1024

	stateSubscriptionBuffer = 64
)

func emptyPassword() []byte {
	return make([]byte, proto.PasswordLength)
}

// errSessionClosed stops frame handling after a terminal reply.
var errSessionClosed = errors.New("zk: session closed")

// Request is one operation to send on the session.
type Request struct {
	Op      proto.OpCode
	Payload jute.Value // nil for header-only operations

	// Watch is registered when the request succeeds.
	Watch *WatchRegistration
}

// Response is a successful reply. Payload is the op-specific record from
// proto.NewResponse, already relative to the chroot.
type Response struct {
	Xid     int32
	Zxid    jute.Zxid
	Payload jute.Value
}

type watchKind int

const (
	watchKindData watchKind = iota
	watchKindChild
	watchKindExists
)

// WatchRegistration describes a watcher to register once a read succeeds.
type WatchRegistration struct {
	path    string
	kind    watchKind
	watcher Watcher
}

// DataWatch registers w as a data watcher on path.
func DataWatch(path string, w Watcher) *WatchRegistration {
	return &WatchRegistration{path: path, kind: watchKindData, watcher: w}
}

// ChildWatch registers w as a child watcher on path.
func ChildWatch(path string, w Watcher) *WatchRegistration {
	return &WatchRegistration{path: path, kind: watchKindChild, watcher: w}
}

// ExistsWatch registers w as a data watcher if the node exists and as an
// existence watcher if the reply is NO_NODE.
func ExistsWatch(path string, w Watcher) *WatchRegistration {
	return &WatchRegistration{path: path, kind: watchKindExists, watcher: w}
}

type authCreds struct {
	scheme string
	auth   []byte
}

type packet struct {
	xid         int32
	xidAssigned bool
	op          proto.OpCode
	body        jute.Raw
	path        string

	// handshake packets may be written while CONNECTING
	handshake bool
	// transient packets are dropped, not failed, when the connection is lost
	transient bool

	watch    *WatchRegistration
	callback func(resp *Response, err error)

	span  trace.Span
	start time.Time
}

type stateListener func(state State, sessionID int64)

// ConnectionManager owns one ZooKeeper session: the socket to the current
// ensemble member, the outbound and pending queues, the handshake and the
// watcher registry. All of its state is guarded by one mutex. Callbacks,
// watchers and state callbacks are called in order from a single goroutine,
// they must not call Close.
type ConnectionManager struct {
	id      string
	logger  Logger
	metrics *connMetrics
	tracer  trace.Tracer

	dialFunc   func(addr string, timeout time.Duration) (NetworkConn, error)
	sleepFunc  func(d time.Duration)
	selector   ServerSelector
	numServers int
	chroot     string
	readOnly   bool

	requestedTimeoutMs int32

	// =================================
	// mutex protect following fields
	// =================================
	mut sync.Mutex

	state State
	conn  NetworkConn

	// bytes of an incomplete frame
	inbound []byte

	sessionID        int64
	passwd           []byte
	sessionTimeoutMs int32
	lastZxid         jute.Zxid

	recvTimeout    time.Duration
	pingInterval   time.Duration
	connectTimeout time.Duration

	nextXidValue int32

	creds    []authCreds
	watchers *WatcherManager

	outbound  []*packet
	pending   []*packet
	closeSent bool

	// set once the current connection received its connect response
	established bool

	sendCond *sync.Cond
	shutdown bool

	handleQueue    []func()
	handleCond     *sync.Cond
	handleShutdown bool

	listeners      []stateListener
	stateSubs      map[int]chan State
	nextSubID      int
	stateChangedCh chan struct{}
	terminatedCh   chan struct{}
	terminated     bool

	started bool
	// =================================

	wg        sync.WaitGroup
	handlerWG sync.WaitGroup
	stopOnce  sync.Once

	pingSignalChan chan struct{}
	shutdownChan   chan struct{}
}

// NewConnectionManager parses connString ("host1:port1,host2/chroot") and
// creates a manager in DISCONNECTED state. Connect starts it.
func NewConnectionManager(connString string, opts ...Option) (*ConnectionManager, error) {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	return newConnectionManager(connString, o, newConnMetricsFromOptions(o))
}

func newConnMetricsFromOptions(o options) *connMetrics {
	config := defaultMetricsConfig(o.metricsRegistry)
	for _, fn := range o.metricsOptions {
		fn(&config)
	}
	return newConnMetrics(config)
}

func newConnectionManager(
	connString string, o options, metrics *connMetrics,
) (*ConnectionManager, error) {
	parsed, err := ParseConnectionString(connString)
	if err != nil {
		return nil, err
	}
	if o.sessionTimeout < 1*time.Second {
		return nil, errors.New("zk: session timeout must not be too small")
	}
	if len(o.passwd) == 0 {
		o.passwd = emptyPassword()
	}

	id := uuid.NewString()

	c := &ConnectionManager{
		id:     id,
		logger: &instanceLogger{id: id[:8], inner: o.logger},
		tracer: newTracer(o.tracerProvider),

		dialFunc:   o.dialFunc,
		sleepFunc:  o.sleepFunc,
		selector:   o.selector,
		numServers: len(parsed.Servers),
		chroot:     parsed.Chroot,
		readOnly:   o.readOnly,

		requestedTimeoutMs: int32(o.sessionTimeout / time.Millisecond),

		state:     StateDisconnected,
		sessionID: o.sessionID,
		passwd:    o.passwd,

		watchers: NewWatcherManager(),

		stateSubs:      map[int]chan State{},
		stateChangedCh: make(chan struct{}),
		terminatedCh:   make(chan struct{}),

		pingSignalChan: make(chan struct{}, 10),
		shutdownChan:   make(chan struct{}),
	}

	c.metrics = metrics
	c.metrics.setState(c.state)

	if c.selector == nil {
		c.selector = NewServerListSelector(o.seed, o.spinDelay)
	}
	c.selector.Init(parsed.Servers)

	if c.sleepFunc == nil {
		c.sleepFunc = c.sleepUntilShutdown
	}

	for _, cb := range o.stateCallbacks {
		cb := cb
		c.listeners = append(c.listeners, func(state State, _ int64) {
			cb(state)
		})
	}

	c.sendCond = sync.NewCond(&c.mut)
	c.handleCond = sync.NewCond(&c.mut)

	c.setTimeoutsLocked(c.requestedTimeoutMs)

	c.handlerWG.Add(1)
	go func() {
		defer c.handlerWG.Done()
		c.runHandler()
	}()

	return c, nil
}

func (c *ConnectionManager) addStateListener(l stateListener) {
	c.mut.Lock()
	defer c.mut.Unlock()
	c.listeners = append(c.listeners, l)
}

// Connect starts the background connection loop and waits until the
// session is connected, the context is done or the manager reaches a
// terminal state.
func (c *ConnectionManager) Connect(ctx context.Context) error {
	c.start()

	for {
		c.mut.Lock()
		state := c.state
		changed := c.stateChangedCh
		c.mut.Unlock()

		switch state {
		case StateConnected, StateConnectedReadOnly:
			return nil
		case StateSessionExpired:
			return ErrSessionExpired
		case StateAuthFailed:
			return ErrAuthFailed
		case StateClosing, StateClosed:
			return ErrClientClosed
		default:
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *ConnectionManager) start() {
	c.mut.Lock()
	defer c.mut.Unlock()

	if c.started || c.shutdown {
		return
	}
	c.started = true

	c.wg.Add(2)

	go func() {
		defer c.wg.Done()
		c.connectAndRunTCPHandlers()
	}()

	go func() {
		defer c.wg.Done()
		c.runPingLoop()
	}()
}

// Close closes the session. When connected it sends a close-session request
// and waits for its reply or ctx. It always stops every goroutine of the
// manager before returning.
func (c *ConnectionManager) Close(ctx context.Context) error {
	c.mut.Lock()
	wait := false
	switch c.state {
	case StateConnected, StateConnectedReadOnly:
		c.setStateLocked(StateClosing)
		c.outbound = append(c.outbound, &packet{
			op:    proto.OpCloseSession,
			start: time.Now(),
		})
		c.sendCond.Broadcast()
		wait = true

	case StateClosing:
		wait = true

	default:
		c.shutdown = true
		c.closeConnLocked()
		c.failAllLocked(ErrConnectionLoss)
		if !c.state.IsTerminal() {
			c.setStateLocked(StateClosed)
		}
	}
	terminated := c.terminatedCh
	c.mut.Unlock()

	var err error
	if wait {
		select {
		case <-terminated:
		case <-ctx.Done():
			err = ctx.Err()
			c.logger.Warnf("Close session timed out: %v", err)
			c.forceClose()
		}
	}

	c.stop()
	c.logger.Infof("Shutdown completed")
	return err
}

func (c *ConnectionManager) forceClose() {
	c.mut.Lock()
	defer c.mut.Unlock()

	c.shutdown = true
	c.closeConnLocked()
	c.failAllLocked(ErrConnectionLoss)
	c.setStateLocked(StateClosed)
}

func (c *ConnectionManager) stop() {
	c.stopOnce.Do(func() {
		c.mut.Lock()
		c.shutdown = true
		c.closeConnLocked()
		c.sendCond.Broadcast()
		c.mut.Unlock()

		close(c.shutdownChan)
		c.wg.Wait()

		c.mut.Lock()
		for id, ch := range c.stateSubs {
			delete(c.stateSubs, id)
			close(ch)
		}
		c.handleShutdown = true
		c.handleCond.Signal()
		c.mut.Unlock()

		c.handlerWG.Wait()
	})
}

func (c *ConnectionManager) closeConnLocked() {
	if c.conn == nil {
		return
	}
	_ = c.conn.Close()
	c.conn = nil
	c.inbound = nil
	c.sendCond.Broadcast()
}

func (c *ConnectionManager) sleepUntilShutdown(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-c.shutdownChan:
	}
}

// ======================================
// Connection loop
// ======================================

type connectOutput struct {
	conn       NetworkConn
	closed     bool
	needRetry  bool
	retryDelay time.Duration
}

func (c *ConnectionManager) connectAndRunTCPHandlers() {
	for {
		output, ok := c.tryToConnect()
		if !ok {
			return
		}

		var wg sync.WaitGroup
		wg.Add(2)

		go func() {
			defer wg.Done()
			c.runSender(output.conn)
		}()

		go func() {
			defer wg.Done()
			c.runReceiver(output.conn)
		}()

		wg.Wait()

		// a whole cycle of servers accepted the TCP connection but never
		// completed the handshake
		if !c.isEstablished() && output.retryDelay > 0 {
			c.sleepFunc(output.retryDelay)
		}
	}
}

func (c *ConnectionManager) tryToConnect() (connectOutput, bool) {
	for {
		output := c.doConnect()
		if output.closed {
			return connectOutput{}, false
		}

		if !output.needRetry {
			return output, true
		}

		if output.retryDelay > 0 {
			c.sleepFunc(output.retryDelay)
		}
	}
}

func (c *ConnectionManager) isEstablished() bool {
	c.mut.Lock()
	defer c.mut.Unlock()
	return c.established
}

func (c *ConnectionManager) doConnect() connectOutput {
	c.mut.Lock()
	if c.shutdown {
		c.mut.Unlock()
		return connectOutput{closed: true}
	}
	c.setStateLocked(StateConnecting)
	timeout := c.connectTimeout
	c.mut.Unlock()

	next := c.selector.Next()
	serverAddr := next.Server

	c.metrics.connectAttempt()
	c.logger.Infof("Connecting to address: '%s'", serverAddr)

	conn, err := c.dialFunc(serverAddr, timeout)
	if err != nil {
		c.mut.Lock()
		if c.state == StateConnecting {
			c.setStateLocked(StateDisconnected)
		}
		c.mut.Unlock()

		c.logger.Warnf("Failed to connect to server: '%s', error: %v", serverAddr, err)
		return connectOutput{
			needRetry:  true,
			retryDelay: next.RetryDelay,
		}
	}

	c.mut.Lock()
	if c.shutdown {
		c.mut.Unlock()
		_ = conn.Close()
		return connectOutput{closed: true}
	}

	data, err := c.connectRequestLocked()
	if err != nil {
		c.mut.Unlock()
		_ = conn.Close()
		c.logger.Warnf("Failed to encode connect request: %v", err)
		return connectOutput{closed: true}
	}

	c.conn = conn
	c.inbound = nil
	c.closeSent = false
	c.established = false
	c.queueHandshakeLocked()
	c.mut.Unlock()

	c.logger.Infof("Connected to server: '%s'", serverAddr)

	_ = conn.SetWriteDeadline(timeout)
	_, err = conn.Write(data)
	_ = conn.SetWriteDeadline(0)
	if err != nil {
		c.onConnError(conn, err)
		return connectOutput{
			needRetry:  true,
			retryDelay: next.RetryDelay,
		}
	}

	return connectOutput{
		conn:       conn,
		retryDelay: next.RetryDelay,
	}
}

func (c *ConnectionManager) connectRequestLocked() ([]byte, error) {
	req := &proto.ConnectRequest{
		ProtocolVersion: proto.ProtocolVersion,
		LastZxidSeen:    c.lastZxid,
		TimeOut:         jute.Int(c.requestedTimeoutMs),
		SessionID:       jute.Long(c.sessionID),
		Passwd:          jute.Buffer(c.passwd),
		ReadOnly:        jute.Bool(c.readOnly),
	}
	return jute.Envelope{Payload: req}.ToBuffer()
}

// queueHandshakeLocked puts the credential replay and the watch re-arming
// requests in front of everything already queued.
func (c *ConnectionManager) queueHandshakeLocked() {
	var handshake []*packet
	for _, cred := range c.creds {
		p, err := c.newAuthPacket(cred)
		if err != nil {
			c.logger.Warnf("Failed to encode auth packet: %v", err)
			continue
		}
		p.handshake = true
		handshake = append(handshake, p)
	}

	for _, req := range c.setWatchesRequestsLocked() {
		body, err := jute.Marshal(req)
		if err != nil {
			c.logger.Warnf("Failed to encode set watches: %v", err)
			continue
		}
		handshake = append(handshake, &packet{
			xid:         proto.XidSetWatches,
			xidAssigned: true,
			op:          proto.OpSetWatches,
			body:        body,
			handshake:   true,
			transient:   true,
			start:       time.Now(),
		})
	}

	if len(handshake) == 0 {
		return
	}
	c.outbound = append(handshake, c.outbound...)
}

func (c *ConnectionManager) newAuthPacket(cred authCreds) (*packet, error) {
	body, err := jute.Marshal(&proto.AuthPacket{
		Type:   0,
		Scheme: jute.String(cred.scheme),
		Auth:   jute.Buffer(cred.auth),
	})
	if err != nil {
		return nil, err
	}
	return &packet{
		xid:         proto.XidAuth,
		xidAssigned: true,
		op:          proto.OpAuth,
		body:        body,
		transient:   true,
		start:       time.Now(),
	}, nil
}

type stringVector = jute.Vector[jute.UString, *jute.UString]

// setWatchesRequestsLocked splits the registered watches into SetWatches
// requests of bounded size.
func (c *ConnectionManager) setWatchesRequestsLocked() []*proto.SetWatches {
	if c.watchers.IsEmpty() {
		return nil
	}

	var result []*proto.SetWatches
	var current *proto.SetWatches
	size := 0

	addAll := func(paths []string, list func(req *proto.SetWatches) *stringVector) {
		for _, path := range paths {
			serverPath := proto.PrependChroot(c.chroot, path)
			if current == nil || size+4+len(serverPath) > maxSetWatchesSize {
				current = &proto.SetWatches{
					RelativeZxid: c.lastZxid,
					DataWatches:  jute.Strings(),
					ExistWatches: jute.Strings(),
					ChildWatches: jute.Strings(),
				}
				size = current.ByteLength()
				result = append(result, current)
			}
			size += 4 + len(serverPath)

			v := list(current)
			*v = append(*v, jute.String(serverPath))
		}
	}

	addAll(c.watchers.DataWatcherPaths(), func(req *proto.SetWatches) *stringVector {
		return &req.DataWatches
	})
	addAll(c.watchers.ExistenceWatcherPaths(), func(req *proto.SetWatches) *stringVector {
		return &req.ExistWatches
	})
	addAll(c.watchers.ChildWatcherPaths(), func(req *proto.SetWatches) *stringVector {
		return &req.ChildWatches
	})
	return result
}

func (c *ConnectionManager) setTimeoutsLocked(sessionTimeoutMs int32) {
	c.sessionTimeoutMs = sessionTimeoutMs
	sessionTimeout := time.Duration(sessionTimeoutMs) * time.Millisecond
	c.recvTimeout = sessionTimeout * 2 / 3
	c.pingInterval = c.recvTimeout / 2
	c.connectTimeout = sessionTimeout / time.Duration(c.numServers)
}

func (c *ConnectionManager) nextXidLocked() int32 {
	xid := c.nextXidValue
	c.nextXidValue = (c.nextXidValue + 1) & 0x7fffffff
	return xid
}

// ======================================
// Sender
// ======================================

func (c *ConnectionManager) runSender(conn NetworkConn) {
	for {
		batch, ok := c.getFromSendQueue(conn)
		if !ok {
			return
		}

		select {
		case c.pingSignalChan <- struct{}{}:
		default:
		}

		if !c.writeBatch(conn, batch) {
			return
		}
	}
}

func (c *ConnectionManager) getFromSendQueue(conn NetworkConn) ([]*packet, bool) {
	c.mut.Lock()
	defer c.mut.Unlock()

	for {
		if c.conn != conn {
			return nil, false
		}

		if !c.closeSent {
			batch := c.takeSendableLocked()
			if len(batch) > 0 {
				return batch, true
			}
		}

		c.sendCond.Wait()
	}
}

// takeSendableLocked removes the packets that may be written in the current
// state from the outbound queue. Only handshake packets are written before
// the connect response arrives, and nothing after the close request.
func (c *ConnectionManager) takeSendableLocked() []*packet {
	limit := 0
	switch c.state {
	case StateConnected, StateConnectedReadOnly, StateClosing:
		if c.established {
			limit = len(c.outbound)
		}
	case StateConnecting:
		for limit < len(c.outbound) && c.outbound[limit].handshake {
			limit++
		}
	default:
	}

	if limit == 0 {
		return nil
	}

	batch := make([]*packet, 0, limit)
	for _, p := range c.outbound[:limit] {
		if !p.xidAssigned {
			p.xid = c.nextXidLocked()
			p.xidAssigned = true
		}
		batch = append(batch, p)

		if p.op != proto.OpPing && p.op != proto.OpAuth {
			c.pending = append(c.pending, p)
		}
		if p.op == proto.OpCloseSession {
			c.closeSent = true
			break
		}
	}

	for i := range batch {
		c.outbound[i] = nil
	}
	c.outbound = c.outbound[len(batch):]
	if len(c.outbound) == 0 {
		c.outbound = nil
	}
	c.metrics.setPending(len(c.pending))

	return batch
}

func encodeBatch(batch []*packet) ([]byte, error) {
	var buf []byte
	for _, p := range batch {
		header := proto.RequestHeader{
			Xid:  jute.Int(p.xid),
			Type: jute.Int(p.op),
		}
		body := p.body

		var err error
		buf, err = jute.Envelope{Header: &header, Payload: &body}.AppendTo(buf)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func (c *ConnectionManager) writeBatch(conn NetworkConn, batch []*packet) bool {
	data, err := encodeBatch(batch)
	if err != nil {
		c.onConnError(conn, err)
		return false
	}

	c.mut.Lock()
	timeout := c.recvTimeout
	c.mut.Unlock()

	_ = conn.SetWriteDeadline(timeout)
	n, err := conn.Write(data)
	_ = conn.SetWriteDeadline(0)
	if err == nil {
		return true
	}

	if n == 0 && errors.Is(err, os.ErrDeadlineExceeded) {
		c.logger.Warnf("Write timed out, requeue %d requests", len(batch))
		return c.requeue(conn, batch)
	}

	c.onConnError(conn, err)
	return false
}

// requeue puts a batch that was not written at all back in front of the
// outbound queue, keeping the assigned xids.
func (c *ConnectionManager) requeue(conn NetworkConn, batch []*packet) bool {
	c.mut.Lock()
	defer c.mut.Unlock()

	if c.conn != conn {
		return false
	}

	inBatch := make(map[*packet]struct{}, len(batch))
	for _, p := range batch {
		inBatch[p] = struct{}{}
		if p.op == proto.OpCloseSession {
			c.closeSent = false
		}
	}

	kept := c.pending[:0]
	for _, p := range c.pending {
		if _, ok := inBatch[p]; ok {
			continue
		}
		kept = append(kept, p)
	}
	c.pending = kept

	c.outbound = append(append([]*packet(nil), batch...), c.outbound...)
	c.metrics.setPending(len(c.pending))
	return true
}

// ======================================
// Receiver
// ======================================

func (c *ConnectionManager) runReceiver(conn NetworkConn) {
	buf := make([]byte, readBufferSize)

	for {
		c.mut.Lock()
		if c.conn != conn {
			c.mut.Unlock()
			return
		}
		timeout := c.recvTimeout
		if !c.established {
			timeout = c.connectTimeout
		}
		c.mut.Unlock()

		_ = conn.SetReadDeadline(timeout)
		n, err := conn.Read(buf)
		if n > 0 {
			if stopped := c.onData(conn, buf[:n]); stopped {
				return
			}
		}
		if err != nil {
			c.onConnError(conn, err)
			return
		}
	}
}

// onData appends a chunk read from conn and handles every complete frame.
// It returns true when conn is no longer the current connection.
func (c *ConnectionManager) onData(conn NetworkConn, chunk []byte) bool {
	c.mut.Lock()
	defer c.mut.Unlock()

	if c.conn != conn {
		return true
	}

	c.inbound = append(c.inbound, chunk...)

	for len(c.inbound) >= 4 {
		size := int32(binary.BigEndian.Uint32(c.inbound[:4]))
		if size < 0 || size > maxFrameSize {
			c.onConnErrorLocked(conn, protocolError("invalid frame length %d", size))
			return true
		}
		if len(c.inbound) < 4+int(size) {
			break
		}

		frame := c.inbound[4 : 4+size]
		c.inbound = c.inbound[4+size:]

		err := c.handleFrameLocked(frame)
		if errors.Is(err, errSessionClosed) {
			return true
		}
		if err != nil {
			c.onConnErrorLocked(conn, err)
			return true
		}
	}

	if len(c.inbound) == 0 {
		c.inbound = nil
	} else {
		c.inbound = append([]byte(nil), c.inbound...)
	}
	return false
}

func (c *ConnectionManager) handleFrameLocked(frame []byte) error {
	if !c.established {
		return c.handleConnectResponseLocked(frame)
	}

	var header proto.ReplyHeader
	n, err := header.Deserialize(frame, 0)
	if err != nil {
		return protocolError("decode reply header: %v", err)
	}
	body := frame[n:]

	switch int32(header.Xid) {
	case proto.XidPing:
		c.logger.Debugf("Received ping response")
		return nil

	case proto.XidAuth:
		if ErrorCode(header.Err) == CodeAuthFailed {
			c.logger.Warnf("Authentication failed")
			c.failAndStopLocked(StateAuthFailed, ErrAuthFailed)
			return errSessionClosed
		}
		return nil

	case proto.XidNotification:
		return c.handleNotificationLocked(body)

	default:
		return c.handleReplyLocked(header, body)
	}
}

func (c *ConnectionManager) handleConnectResponseLocked(frame []byte) error {
	var resp proto.ConnectResponse
	if _, err := resp.Deserialize(frame, 0); err != nil {
		return protocolError("decode connect response: %v", err)
	}

	if resp.TimeOut <= 0 {
		c.logger.Warnf("Session expired: 0x%x", c.sessionID)
		c.sessionID = 0
		c.passwd = emptyPassword()
		c.watchers.Clear()
		c.failAndStopLocked(StateSessionExpired, ErrSessionExpired)
		return errSessionClosed
	}

	c.established = true
	c.sessionID = int64(resp.SessionID)
	c.passwd = append([]byte(nil), resp.Passwd...)
	c.setTimeoutsLocked(int32(resp.TimeOut))
	c.selector.NotifyConnected()

	state := StateConnected
	if resp.ReadOnly {
		state = StateConnectedReadOnly
	}

	c.logger.Infof(
		"Session established: 0x%x, timeout: %dms, read only: %v",
		c.sessionID, c.sessionTimeoutMs, bool(resp.ReadOnly),
	)

	c.setStateLocked(state)

	select {
	case c.pingSignalChan <- struct{}{}:
	default:
	}
	return nil
}

func (c *ConnectionManager) handleNotificationLocked(body []byte) error {
	var ev proto.WatcherEvent
	if _, err := ev.Deserialize(body, 0); err != nil {
		return protocolError("decode watcher event: %v", err)
	}
	ev.StripChroot(c.chroot)

	event := Event{
		Type:  EventType(ev.Type),
		State: int32(ev.State),
		Path:  ev.Path.Value,
	}
	c.metrics.watchEvent(event.Type)

	// session state changes are reported through state listeners
	if event.Type == EventNone {
		return nil
	}

	watchers, err := c.watchers.take(event)
	if err != nil {
		c.logger.Warnf("Ignore watcher event: %v", err)
		return nil
	}
	if len(watchers) == 0 {
		return nil
	}

	c.enqueueLocked(func() {
		for _, w := range watchers {
			w.Process(event)
		}
	})
	return nil
}

func (c *ConnectionManager) handleReplyLocked(header proto.ReplyHeader, body []byte) error {
	if len(c.pending) == 0 {
		return protocolError("unexpected reply with xid %d", header.Xid)
	}

	p := c.pending[0]
	c.pending[0] = nil
	c.pending = c.pending[1:]
	c.metrics.setPending(len(c.pending))

	if p.xid != int32(header.Xid) {
		c.completeLocked(p, nil, ErrConnectionLoss)
		return protocolError("xid mismatch: expected %d, received %d", p.xid, header.Xid)
	}

	if header.Zxid != 0 {
		if header.Zxid < c.lastZxid {
			c.completeLocked(p, nil, ErrConnectionLoss)
			return protocolError("zxid %s is older than last seen %s", header.Zxid, c.lastZxid)
		}
		c.lastZxid = header.Zxid
	}

	if p.op == proto.OpCloseSession {
		c.completeLocked(p, &Response{Xid: p.xid, Zxid: header.Zxid}, nil)
		c.logger.Infof("Session closed: 0x%x", c.sessionID)
		c.failAndStopLocked(StateClosed, ErrConnectionLoss)
		return errSessionClosed
	}

	code := ErrorCode(header.Err)
	if code != CodeOK {
		if p.watch != nil && p.watch.kind == watchKindExists && code == CodeNoNode {
			c.registerWatchLocked(p.watch, watchClassExist)
		}
		if p.op == proto.OpSetWatches {
			c.logger.Warnf("Set watches failed: %s", code)
		}
		c.completeLocked(p, nil, NewError(code, p.path))
		return nil
	}

	payload, err := proto.NewResponse(p.op)
	if err != nil {
		c.completeLocked(p, nil, ErrConnectionLoss)
		return protocolError("reply for %s: %v", p.op, err)
	}
	if payload != nil {
		if _, err := payload.Deserialize(body, 0); err != nil {
			c.completeLocked(p, nil, ErrMarshallingError)
			return protocolError("decode %s response: %v", p.op, err)
		}
		if stripper, ok := payload.(proto.ChrootStripper); ok {
			stripper.StripChroot(c.chroot)
		}
	}

	if p.watch != nil {
		switch p.watch.kind {
		case watchKindChild:
			c.registerWatchLocked(p.watch, watchClassChild)
		default:
			c.registerWatchLocked(p.watch, watchClassData)
		}
	}

	c.completeLocked(p, &Response{
		Xid:     p.xid,
		Zxid:    header.Zxid,
		Payload: payload,
	}, nil)
	return nil
}

func (c *ConnectionManager) registerWatchLocked(watch *WatchRegistration, wClass watchClass) {
	if err := c.watchers.register(watch.path, wClass, watch.watcher); err != nil {
		c.logger.Warnf("Failed to register %s watcher on '%s': %v", wClass, watch.path, err)
	}
}

// ======================================
// Completion and failures
// ======================================

func (c *ConnectionManager) completeLocked(p *packet, resp *Response, err error) {
	c.metrics.observeRequest(p.op, err, p.start)

	span := p.span
	callback := p.callback
	xid := p.xid
	if span == nil && callback == nil {
		return
	}

	c.enqueueLocked(func() {
		endRequestSpan(span, xid, err)
		if callback != nil {
			callback(resp, err)
		}
	})
}

// failAllLocked fails every pending and outbound request in order.
func (c *ConnectionManager) failAllLocked(err error) {
	for _, p := range c.pending {
		c.completeLocked(p, nil, err)
	}
	for _, p := range c.outbound {
		if p.op == proto.OpPing {
			continue
		}
		c.completeLocked(p, nil, err)
	}
	c.pending = nil
	c.outbound = nil
	c.metrics.setPending(0)
}

func (c *ConnectionManager) failAndStopLocked(state State, err error) {
	c.shutdown = true
	c.closeConnLocked()
	c.failAllLocked(err)
	c.setStateLocked(state)
}

func (c *ConnectionManager) onConnError(conn NetworkConn, cause error) {
	c.mut.Lock()
	defer c.mut.Unlock()
	c.onConnErrorLocked(conn, cause)
}

func (c *ConnectionManager) onConnErrorLocked(conn NetworkConn, cause error) {
	if c.conn != conn {
		return
	}
	c.closeConnLocked()

	if errors.Is(cause, ErrProtocol) {
		c.metrics.protocolError()
		c.logger.Warnf("Close connection with protocol error: %v", cause)
	} else {
		c.logger.Warnf("Close connection with error: %v", cause)
	}

	switch c.state {
	case StateClosing, StateClosed:
		c.shutdown = true
		c.failAllLocked(ErrConnectionLoss)
		c.setStateLocked(StateClosed)

	default:
		for _, p := range c.pending {
			c.completeLocked(p, nil, ErrConnectionLoss)
		}
		c.pending = nil
		c.metrics.setPending(0)

		kept := c.outbound[:0]
		for _, p := range c.outbound {
			if p.transient {
				continue
			}
			kept = append(kept, p)
		}
		c.outbound = kept

		c.setStateLocked(StateDisconnected)
	}
}

// ======================================
// Handler
// ======================================

func (c *ConnectionManager) enqueueLocked(fn func()) {
	c.handleQueue = append(c.handleQueue, fn)
	c.handleCond.Signal()
}

func (c *ConnectionManager) getHandleEvents() ([]func(), bool) {
	c.mut.Lock()
	defer c.mut.Unlock()

	for {
		if len(c.handleQueue) > 0 {
			events := c.handleQueue
			c.handleQueue = nil
			return events, true
		}

		if c.handleShutdown {
			return nil, false
		}

		c.handleCond.Wait()
	}
}

func (c *ConnectionManager) runHandler() {
	for {
		events, ok := c.getHandleEvents()
		if !ok {
			return
		}

		for _, fn := range events {
			fn()
		}
	}
}

// ======================================
// State
// ======================================

func (c *ConnectionManager) setStateLocked(state State) {
	if c.state == state {
		return
	}

	old := c.state
	c.state = state
	c.metrics.setState(state)
	c.logger.Debugf("State changed: %s -> %s", old, state)

	close(c.stateChangedCh)
	c.stateChangedCh = make(chan struct{})

	if state.IsTerminal() && !c.terminated {
		c.terminated = true
		close(c.terminatedCh)
	}

	if len(c.listeners) > 0 {
		listeners := c.listeners
		sessionID := c.sessionID
		c.enqueueLocked(func() {
			for _, l := range listeners {
				l(state, sessionID)
			}
		})
	}

	for _, ch := range c.stateSubs {
		select {
		case ch <- state:
		default:
		}
	}

	c.sendCond.Broadcast()
}

// SubscribeState returns a channel receiving every later state change and a
// func to unsubscribe. Changes are dropped if the subscriber lags behind.
// The channel is closed on unsubscribe and when the manager is closed.
func (c *ConnectionManager) SubscribeState() (<-chan State, func()) {
	c.mut.Lock()
	defer c.mut.Unlock()

	ch := make(chan State, stateSubscriptionBuffer)
	if c.handleShutdown {
		close(ch)
		return ch, func() {}
	}

	id := c.nextSubID
	c.nextSubID++
	c.stateSubs[id] = ch

	return ch, func() {
		c.mut.Lock()
		defer c.mut.Unlock()

		if sub, ok := c.stateSubs[id]; ok {
			delete(c.stateSubs, id)
			close(sub)
		}
	}
}

// ======================================
// Ping
// ======================================

func (c *ConnectionManager) getPingInterval() time.Duration {
	c.mut.Lock()
	defer c.mut.Unlock()
	return c.pingInterval
}

func (c *ConnectionManager) runPingLoop() {
	timer := time.NewTimer(c.getPingInterval())
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			timer.Reset(c.getPingInterval())
			c.sendPing()

		case <-c.pingSignalChan:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(c.getPingInterval())

		case <-c.shutdownChan:
			return
		}
	}
}

func (c *ConnectionManager) sendPing() {
	c.mut.Lock()
	defer c.mut.Unlock()

	if !c.state.IsConnected() {
		return
	}

	c.outbound = append(c.outbound, &packet{
		xid:         proto.XidPing,
		xidAssigned: true,
		op:          proto.OpPing,
		transient:   true,
		start:       time.Now(),
	})
	c.sendCond.Broadcast()
}

// ======================================
// Requests
// ======================================

func isInternalOp(op proto.OpCode) bool {
	switch op {
	case proto.OpNotify, proto.OpPing, proto.OpAuth, proto.OpSetWatches, proto.OpCloseSession, proto.OpError:
		return true
	default:
		return false
	}
}

func (c *ConnectionManager) encodeRequest(p *packet, payload jute.Value) error {
	if isInternalOp(p.op) {
		return ErrBadArguments
	}
	if _, err := proto.NewResponse(p.op); err != nil {
		return ErrUnimplemented
	}
	if payload == nil {
		return nil
	}

	if applier, ok := payload.(proto.ChrootApplier); ok && c.chroot != "" {
		applier.ApplyChroot(c.chroot)
	}

	body, err := jute.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMarshallingError, err)
	}
	if len(body) > maxFrameSize-8 {
		return ErrDataTooLarge
	}
	p.body = body
	return nil
}

func (c *ConnectionManager) checkQueueLocked(op proto.OpCode) error {
	switch c.state {
	case StateClosing, StateClosed:
		return ErrClientClosed
	case StateSessionExpired:
		return ErrSessionExpired
	case StateAuthFailed:
		return ErrAuthFailed
	case StateConnectedReadOnly:
		if op.IsMutating() {
			return ErrNotReadOnly
		}
	default:
	}

	if c.shutdown {
		return ErrClientClosed
	}
	return nil
}

// Queue sends req and calls callback with its reply. Requests are written
// and completed in queue order. The payload is modified in place when the
// connection string has a chroot. A nil callback is allowed.
func (c *ConnectionManager) Queue(
	ctx context.Context, req *Request,
	callback func(resp *Response, err error),
) {
	p := &packet{
		op:       req.Op,
		path:     proto.PathOf(req.Payload),
		watch:    req.Watch,
		callback: callback,
		start:    time.Now(),
	}
	p.span = startRequestSpan(ctx, c.tracer, req.Op, p.path)

	err := c.encodeRequest(p, req.Payload)

	c.mut.Lock()

	if err == nil {
		err = c.checkQueueLocked(req.Op)
	}
	if err != nil {
		c.failLocked(p, err)
		return
	}

	c.outbound = append(c.outbound, p)
	c.sendCond.Broadcast()
	c.mut.Unlock()
}

// queueError completes callback with err from the callback goroutine,
// without sending anything.
func (c *ConnectionManager) queueError(
	op proto.OpCode, err error,
	callback func(resp *Response, err error),
) {
	p := &packet{
		op:       op,
		callback: callback,
		start:    time.Now(),
	}

	c.mut.Lock()
	c.failLocked(p, err)
}

// failLocked completes p with err and releases the mutex. After Close the
// callback goroutine is gone, so the callback is called directly.
func (c *ConnectionManager) failLocked(p *packet, err error) {
	if !c.handleShutdown {
		c.completeLocked(p, nil, err)
		c.mut.Unlock()
		return
	}
	c.mut.Unlock()

	c.metrics.observeRequest(p.op, err, p.start)
	endRequestSpan(p.span, p.xid, err)
	if p.callback != nil {
		p.callback(nil, err)
	}
}

// Do is the blocking form of Queue. It must not be called from a callback
// or a watcher.
func (c *ConnectionManager) Do(ctx context.Context, req *Request) (*Response, error) {
	type result struct {
		resp *Response
		err  error
	}

	ch := make(chan result, 1)
	c.Queue(ctx, req, func(resp *Response, err error) {
		ch <- result{resp: resp, err: err}
	})

	select {
	case r := <-ch:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// AddAuthInfo adds a credential to the session. It is sent on the current
// connection, during its handshake if that is still in flight, and again
// after every reconnect. An AUTH_FAILED reply closes the session.
func (c *ConnectionManager) AddAuthInfo(scheme string, auth []byte) error {
	if scheme == "" {
		return ErrEmptyAuthScheme
	}

	cred := authCreds{
		scheme: scheme,
		auth:   append([]byte(nil), auth...),
	}
	p, err := c.newAuthPacket(cred)
	if err != nil {
		return err
	}

	c.mut.Lock()
	defer c.mut.Unlock()

	if err := c.checkQueueLocked(proto.OpAuth); err != nil {
		return err
	}

	c.creds = append(c.creds, cred)
	if c.conn == nil {
		return nil
	}

	if c.established {
		c.outbound = append(c.outbound, p)
	} else {
		// the handshake of this connection is already queued
		p.handshake = true
		c.insertHandshakeLocked(p)
	}
	c.sendCond.Broadcast()
	return nil
}

// insertHandshakeLocked puts p after the handshake packets at the head of
// the outbound queue.
func (c *ConnectionManager) insertHandshakeLocked(p *packet) {
	i := 0
	for i < len(c.outbound) && c.outbound[i].handshake {
		i++
	}
	c.outbound = append(c.outbound, nil)
	copy(c.outbound[i+1:], c.outbound[i:])
	c.outbound[i] = p
}

func (c *ConnectionManager) RegisterDataWatcher(path string, w Watcher) error {
	c.mut.Lock()
	defer c.mut.Unlock()
	return c.watchers.RegisterDataWatcher(path, w)
}

func (c *ConnectionManager) RegisterChildWatcher(path string, w Watcher) error {
	c.mut.Lock()
	defer c.mut.Unlock()
	return c.watchers.RegisterChildWatcher(path, w)
}

func (c *ConnectionManager) RegisterExistenceWatcher(path string, w Watcher) error {
	c.mut.Lock()
	defer c.mut.Unlock()
	return c.watchers.RegisterExistenceWatcher(path, w)
}

// ======================================
// Session info
// ======================================

// ID identifies this manager in log lines.
func (c *ConnectionManager) ID() string {
	return c.id
}

// Chroot returns the chroot of the connection string, "" if none.
func (c *ConnectionManager) Chroot() string {
	return c.chroot
}

// SessionID returns the 8-byte big-endian session id, all zero before the
// first session is established.
func (c *ConnectionManager) SessionID() []byte {
	c.mut.Lock()
	defer c.mut.Unlock()
	return jute.Long(c.sessionID).Bytes()
}

func (c *ConnectionManager) SessionPassword() []byte {
	c.mut.Lock()
	defer c.mut.Unlock()
	return append([]byte(nil), c.passwd...)
}

// SessionTimeout returns the negotiated timeout, or the requested one
// before the first session is established.
func (c *ConnectionManager) SessionTimeout() time.Duration {
	c.mut.Lock()
	defer c.mut.Unlock()
	return time.Duration(c.sessionTimeoutMs) * time.Millisecond
}

func (c *ConnectionManager) State() State {
	c.mut.Lock()
	defer c.mut.Unlock()
	return c.state
}

// LastZxid returns the highest zxid seen in a reply.
func (c *ConnectionManager) LastZxid() jute.Zxid {
	c.mut.Lock()
	defer c.mut.Unlock()
	return c.lastZxid
}
