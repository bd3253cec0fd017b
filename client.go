package zk

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/QuangTung97/zksession/compress"
	"github.com/QuangTung97/zksession/jute"
	"github.com/QuangTung97/zksession/proto"
)

// NewClient connects in the background to the ensemble formed by servers.
// The last entry may carry a chroot suffix ("host:2181/app").
func NewClient(servers []string, sessionTimeout time.Duration, options ...Option) (*Client, error) {
	if len(servers) == 0 {
		return nil, ErrNoServer
	}
	options = append([]Option{WithSessionTimeout(sessionTimeout)}, options...)
	return NewClientFromConnString(strings.Join(servers, ","), options...)
}

// NewClientFromConnString is NewClient with a connection string
// "host1:port1,host2:port2/chroot".
func NewClientFromConnString(connString string, options ...Option) (*Client, error) {
	opts := defaultOptions()
	for _, fn := range options {
		fn(&opts)
	}

	c := &Client{
		connString:  connString,
		opts:        opts,
		logger:      opts.logger,
		retry:       opts.retryPolicy,
		compression: opts.compression,

		sessEstablishedCallback: opts.sessEstablishedCallback,
		sessExpiredCallback:     opts.sessExpiredCallback,
		reconnectingCallback:    opts.reconnectingCallback,
	}
	if c.compression == nil {
		c.compression = compress.None()
	}
	c.metrics = newConnMetricsFromOptions(opts)

	conn, err := c.newConnectionManager(opts)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	conn.start()

	return c, nil
}

// Client is the callback style API over a ConnectionManager. Callbacks and
// watchers are called from a single goroutine, in the order of the replies.
// When the session expires a new one is created, the session callbacks tell
// the two apart.
type Client struct {
	connString  string
	opts        options
	logger      Logger
	metrics     *connMetrics
	retry       RetryPolicy
	compression compress.Provider

	sessEstablishedCallback func(c *Client)
	sessExpiredCallback     func(c *Client)
	reconnectingCallback    func(c *Client)

	// =================================
	// mutex protect following fields
	// =================================
	mut    sync.Mutex
	conn   *ConnectionManager
	creds  []authCreds
	closed bool
	// =================================

	renewWG sync.WaitGroup
}

func (c *Client) newConnectionManager(opts options) (*ConnectionManager, error) {
	conn, err := newConnectionManager(c.connString, opts, c.metrics)
	if err != nil {
		return nil, err
	}
	conn.addStateListener(c.stateListener(conn))
	return conn, nil
}

func (c *Client) stateListener(conn *ConnectionManager) stateListener {
	hasSession := false
	return func(state State, sessionID int64) {
		switch state {
		case StateConnected, StateConnectedReadOnly:
			if !hasSession {
				hasSession = true
				c.logger.Infof("Session established: 0x%x", sessionID)
				if c.sessEstablishedCallback != nil {
					c.sessEstablishedCallback(c)
				}
				return
			}
			c.logger.Warnf("Connection is reconnected")
			if c.reconnectingCallback != nil {
				c.reconnectingCallback(c)
			}

		case StateSessionExpired:
			if c.sessExpiredCallback != nil {
				c.sessExpiredCallback(c)
			}
			c.renewSession(conn)

		default:
		}
	}
}

// renewSession replaces an expired ConnectionManager by a new one with the
// same options and credentials.
func (c *Client) renewSession(old *ConnectionManager) {
	c.mut.Lock()
	defer c.mut.Unlock()

	if c.closed || c.conn != old {
		return
	}

	c.renewWG.Add(1)
	go func() {
		defer c.renewWG.Done()

		ctx, cancel := context.WithTimeout(context.Background(), c.opts.sessionTimeout)
		defer cancel()
		_ = old.Close(ctx)

		c.mut.Lock()
		defer c.mut.Unlock()

		if c.closed {
			return
		}

		opts := c.opts
		opts.sessionID = 0
		opts.passwd = nil

		conn, err := c.newConnectionManager(opts)
		if err != nil {
			c.logger.Warnf("Failed to create new session: %v", err)
			return
		}
		for _, cred := range c.creds {
			_ = conn.AddAuthInfo(cred.scheme, cred.auth)
		}

		c.conn = conn
		conn.start()
	}()
}

// Conn returns the ConnectionManager of the current session.
func (c *Client) Conn() *ConnectionManager {
	c.mut.Lock()
	defer c.mut.Unlock()
	return c.conn
}

// State returns the state of the current session.
func (c *Client) State() State {
	return c.Conn().State()
}

// Close closes the session and waits until every callback has been called.
// It must not be called from a callback.
func (c *Client) Close() {
	c.mut.Lock()
	c.closed = true
	c.mut.Unlock()

	c.renewWG.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.sessionTimeout)
	defer cancel()

	if err := c.Conn().Close(ctx); err != nil {
		c.logger.Warnf("Close session with error: %v", err)
	}
}

// do sends the request built by build, retrying it on connection loss. A
// chroot is applied to the payload in place, so every attempt builds a new one.
func (c *Client) do(
	op proto.OpCode,
	build func() (jute.Value, *WatchRegistration),
	handle func(resp *Response, err error),
) {
	c.doAttempt(op, build, handle, 0)
}

func (c *Client) doAttempt(
	op proto.OpCode,
	build func() (jute.Value, *WatchRegistration),
	handle func(resp *Response, err error),
	attempt int,
) {
	conn := c.Conn()
	payload, watch := build()

	req := &Request{Op: op, Payload: payload, Watch: watch}
	conn.Queue(context.Background(), req, func(resp *Response, err error) {
		if err != nil && c.retry.allowRetry(attempt, err) {
			d := c.retry.backoff(attempt, conn.SessionTimeout())
			c.logger.Warnf("Retry %s after %v, attempt: %d, error: %v", op, d, attempt+1, err)
			time.AfterFunc(d, func() {
				c.doAttempt(op, build, handle, attempt+1)
			})
			return
		}
		handle(resp, err)
	})
}

func (c *Client) fail(op proto.OpCode, err error, handle func(resp *Response, err error)) {
	c.Conn().queueError(op, err, handle)
}

// Stat is the metadata of a znode.
type Stat struct {
	Czxid          jute.Zxid // The zxid of the change that caused this znode to be created.
	Mzxid          jute.Zxid // The zxid of the change that last modified this znode.
	Ctime          int64     // The time in milliseconds from epoch when this znode was created.
	Mtime          int64     // The time in milliseconds from epoch when this znode was last modified.
	Version        int32     // The number of changes to the data of this znode.
	Cversion       int32     // The number of changes to the children of this znode.
	Aversion       int32     // The number of changes to the ACL of this znode.
	EphemeralOwner int64     // The session id of the owner of this znode if the znode is an ephemeral node. If it is not an ephemeral node, it will be zero.
	DataLength     int32     // The length of the data field of this znode.
	NumChildren    int32     // The number of children of this znode.
	Pzxid          jute.Zxid // last modified children
}

func statFromProto(s *proto.Stat) Stat {
	return Stat{
		Czxid:          s.Czxid,
		Mzxid:          s.Mzxid,
		Ctime:          int64(s.Ctime),
		Mtime:          int64(s.Mtime),
		Version:        int32(s.Version),
		Cversion:       int32(s.Cversion),
		Aversion:       int32(s.Aversion),
		EphemeralOwner: int64(s.EphemeralOwner),
		DataLength:     int32(s.DataLength),
		NumChildren:    int32(s.NumChildren),
		Pzxid:          s.Pzxid,
	}
}

// compressData leaves empty data unchanged so that nodes created without
// data read back as empty.
func (c *Client) compressData(path string, data []byte) ([]byte, error) {
	if len(data) > 0 {
		var err error
		data, err = c.compression.Compress(path, data)
		if err != nil {
			return nil, err
		}
	}
	if len(data) > DataSizeLimit {
		return nil, ErrDataTooLarge
	}
	return data, nil
}

func (c *Client) decompressData(path string, data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}
	return c.compression.Decompress(path, data)
}

type CreateResponse struct {
	Zxid jute.Zxid
	Path string
}

// Create creates a znode. With FlagSequence the returned path carries the
// sequence number appended by the server.
func (c *Client) Create(
	path string, data []byte, flags int32, acl []ACL,
	callback func(resp CreateResponse, err error),
) {
	handleCallback := func(resp *Response, err error) {
		if callback == nil {
			return
		}
		if err != nil {
			callback(CreateResponse{}, err)
			return
		}
		r := resp.Payload.(*proto.CreateResponse)
		callback(CreateResponse{Zxid: resp.Zxid, Path: r.Path.Value}, nil)
	}

	if err := ValidatePath(path, flags&FlagSequence != 0); err != nil {
		c.fail(proto.OpCreate, err, handleCallback)
		return
	}
	if len(acl) == 0 {
		c.fail(proto.OpCreate, ErrInvalidACLArgs, handleCallback)
		return
	}
	data, err := c.compressData(path, data)
	if err != nil {
		c.fail(proto.OpCreate, err, handleCallback)
		return
	}

	c.do(proto.OpCreate, func() (jute.Value, *WatchRegistration) {
		return &proto.CreateRequest{
			Path:  jute.String(path),
			Data:  jute.Buffer(data),
			ACL:   toProtoACLs(acl),
			Flags: jute.Int(flags),
		}, nil
	}, handleCallback)
}

type ChildrenResponse struct {
	Zxid     jute.Zxid
	Children []string
	Stat     Stat
}

type childrenOpts struct {
	watch         bool
	watchCallback func(ev Event)
}

type ChildrenOption func(opts *childrenOpts)

func WithChildrenWatch(callback func(ev Event)) ChildrenOption {
	return func(opts *childrenOpts) {
		if callback == nil {
			return
		}
		opts.watch = true
		opts.watchCallback = callback
	}
}

func (c *Client) Children(
	path string,
	callback func(resp ChildrenResponse, err error),
	options ...ChildrenOption,
) {
	handleCallback := func(resp *Response, err error) {
		if callback == nil {
			return
		}
		if err != nil {
			callback(ChildrenResponse{}, err)
			return
		}
		r := resp.Payload.(*proto.GetChildren2Response)
		callback(ChildrenResponse{
			Zxid:     resp.Zxid,
			Children: jute.StringValues(r.Children),
			Stat:     statFromProto(&r.Stat),
		}, nil)
	}

	if err := ValidatePath(path, false); err != nil {
		c.fail(proto.OpGetChildren2, err, handleCallback)
		return
	}

	opts := childrenOpts{
		watch: false,
	}
	for _, fn := range options {
		fn(&opts)
	}

	c.do(proto.OpGetChildren2, func() (jute.Value, *WatchRegistration) {
		var watch *WatchRegistration
		if opts.watch {
			watch = ChildWatch(path, NewWatcher(opts.watchCallback))
		}
		return &proto.GetChildren2Request{
			Path:  jute.String(path),
			Watch: jute.Bool(opts.watch),
		}, watch
	}, handleCallback)
}

type GetResponse struct {
	Zxid jute.Zxid
	Data []byte
	Stat Stat
}

type getOpts struct {
	watch         bool
	watchCallback func(ev Event)
}

type GetOption func(opts *getOpts)

func WithGetWatch(callback func(ev Event)) GetOption {
	return func(opts *getOpts) {
		if callback == nil {
			return
		}
		opts.watch = true
		opts.watchCallback = callback
	}
}

func (c *Client) Get(
	path string,
	callback func(resp GetResponse, err error),
	options ...GetOption,
) {
	handleCallback := func(resp *Response, err error) {
		if callback == nil {
			return
		}
		if err != nil {
			callback(GetResponse{}, err)
			return
		}
		r := resp.Payload.(*proto.GetDataResponse)
		data, err := c.decompressData(path, r.Data)
		if err != nil {
			callback(GetResponse{}, err)
			return
		}
		callback(GetResponse{
			Zxid: resp.Zxid,
			Data: data,
			Stat: statFromProto(&r.Stat),
		}, nil)
	}

	if err := ValidatePath(path, false); err != nil {
		c.fail(proto.OpGetData, err, handleCallback)
		return
	}

	opts := getOpts{
		watch: false,
	}
	for _, fn := range options {
		fn(&opts)
	}

	c.do(proto.OpGetData, func() (jute.Value, *WatchRegistration) {
		var watch *WatchRegistration
		if opts.watch {
			watch = DataWatch(path, NewWatcher(opts.watchCallback))
		}
		return &proto.GetDataRequest{
			Path:  jute.String(path),
			Watch: jute.Bool(opts.watch),
		}, watch
	}, handleCallback)
}

type SetResponse struct {
	Zxid jute.Zxid
	Stat Stat
}

// Set replaces the data of a znode if its version matches, -1 matches any.
func (c *Client) Set(
	path string, data []byte, version int32,
	callback func(resp SetResponse, err error),
) {
	handleCallback := func(resp *Response, err error) {
		if callback == nil {
			return
		}
		if err != nil {
			callback(SetResponse{}, err)
			return
		}
		r := resp.Payload.(*proto.SetDataResponse)
		callback(SetResponse{
			Zxid: resp.Zxid,
			Stat: statFromProto(&r.Stat),
		}, nil)
	}

	if err := ValidatePath(path, false); err != nil {
		c.fail(proto.OpSetData, err, handleCallback)
		return
	}
	data, err := c.compressData(path, data)
	if err != nil {
		c.fail(proto.OpSetData, err, handleCallback)
		return
	}

	c.do(proto.OpSetData, func() (jute.Value, *WatchRegistration) {
		return &proto.SetDataRequest{
			Path:    jute.String(path),
			Data:    jute.Buffer(data),
			Version: jute.Int(version),
		}, nil
	}, handleCallback)
}

type ExistsResponse struct {
	Zxid jute.Zxid
	Stat Stat
}

type existsOpts struct {
	watch         bool
	watchCallback func(ev Event)
}

type ExistsOption func(opts *existsOpts)

// WithExistsWatch watches the node for creation when it does not exist,
// and for data changes and deletion when it does.
func WithExistsWatch(callback func(ev Event)) ExistsOption {
	return func(opts *existsOpts) {
		if callback == nil {
			return
		}
		opts.watch = true
		opts.watchCallback = callback
	}
}

// Exists returns the stat of a znode, ErrNoNode if it does not exist.
func (c *Client) Exists(
	path string,
	callback func(resp ExistsResponse, err error),
	options ...ExistsOption,
) {
	handleCallback := func(resp *Response, err error) {
		if callback == nil {
			return
		}
		if err != nil {
			callback(ExistsResponse{}, err)
			return
		}
		r := resp.Payload.(*proto.ExistsResponse)
		callback(ExistsResponse{
			Zxid: resp.Zxid,
			Stat: statFromProto(&r.Stat),
		}, nil)
	}

	if err := ValidatePath(path, false); err != nil {
		c.fail(proto.OpExists, err, handleCallback)
		return
	}

	opts := existsOpts{
		watch: false,
	}
	for _, fn := range options {
		fn(&opts)
	}

	c.do(proto.OpExists, func() (jute.Value, *WatchRegistration) {
		var watch *WatchRegistration
		if opts.watch {
			watch = ExistsWatch(path, NewWatcher(opts.watchCallback))
		}
		return &proto.ExistsRequest{
			Path:  jute.String(path),
			Watch: jute.Bool(opts.watch),
		}, watch
	}, handleCallback)
}

type DeleteResponse struct {
	Zxid jute.Zxid
}

func (c *Client) Delete(
	path string, version int32,
	callback func(resp DeleteResponse, err error),
) {
	handleCallback := func(resp *Response, err error) {
		if callback == nil {
			return
		}
		if err != nil {
			callback(DeleteResponse{}, err)
			return
		}
		callback(DeleteResponse{
			Zxid: resp.Zxid,
		}, nil)
	}

	if err := ValidatePath(path, false); err != nil {
		c.fail(proto.OpDelete, err, handleCallback)
		return
	}

	c.do(proto.OpDelete, func() (jute.Value, *WatchRegistration) {
		return &proto.DeleteRequest{
			Path:    jute.String(path),
			Version: jute.Int(version),
		}, nil
	}, handleCallback)
}

// AddAuth often used with "digest" scheme and auth = "username:password" (password is not hashed).
// The credential is kept and sent again to every new session.
func (c *Client) AddAuth(scheme string, auth []byte) error {
	c.mut.Lock()
	defer c.mut.Unlock()

	if err := c.conn.AddAuthInfo(scheme, auth); err != nil {
		return err
	}
	c.creds = append(c.creds, authCreds{
		scheme: scheme,
		auth:   append([]byte(nil), auth...),
	})
	return nil
}

type SetACLResponse struct {
	Zxid jute.Zxid
	Stat Stat
}

// SetACL set ACL to ZK
// version is the ACL Version (Stat.Aversion), not a normal version number
func (c *Client) SetACL(
	path string, acl []ACL, version int32,
	callback func(resp SetACLResponse, err error),
) {
	handleCallback := func(resp *Response, err error) {
		if callback == nil {
			return
		}
		if err != nil {
			callback(SetACLResponse{}, err)
			return
		}
		r := resp.Payload.(*proto.SetACLResponse)
		callback(SetACLResponse{
			Zxid: resp.Zxid,
			Stat: statFromProto(&r.Stat),
		}, nil)
	}

	if err := ValidatePath(path, false); err != nil {
		c.fail(proto.OpSetACL, err, handleCallback)
		return
	}
	if len(acl) == 0 {
		c.fail(proto.OpSetACL, ErrInvalidACLArgs, handleCallback)
		return
	}

	c.do(proto.OpSetACL, func() (jute.Value, *WatchRegistration) {
		return &proto.SetACLRequest{
			Path:    jute.String(path),
			ACL:     toProtoACLs(acl),
			Version: jute.Int(version),
		}, nil
	}, handleCallback)
}

type GetACLResponse struct {
	Zxid jute.Zxid
	ACL  []ACL
	Stat Stat
}

// GetACL returns ACL for a znode
func (c *Client) GetACL(
	path string,
	callback func(resp GetACLResponse, err error),
) {
	handleCallback := func(resp *Response, err error) {
		if callback == nil {
			return
		}
		if err != nil {
			callback(GetACLResponse{}, err)
			return
		}
		r := resp.Payload.(*proto.GetACLResponse)
		callback(GetACLResponse{
			Zxid: resp.Zxid,
			ACL:  fromProtoACLs(r.ACL),
			Stat: statFromProto(&r.Stat),
		}, nil)
	}

	if err := ValidatePath(path, false); err != nil {
		c.fail(proto.OpGetACL, err, handleCallback)
		return
	}

	c.do(proto.OpGetACL, func() (jute.Value, *WatchRegistration) {
		return &proto.GetACLRequest{
			Path: jute.String(path),
		}, nil
	}, handleCallback)
}

type SyncResponse struct {
	Zxid jute.Zxid
	Path string
}

// Sync waits until the server of the session has caught up with the leader.
func (c *Client) Sync(
	path string,
	callback func(resp SyncResponse, err error),
) {
	handleCallback := func(resp *Response, err error) {
		if callback == nil {
			return
		}
		if err != nil {
			callback(SyncResponse{}, err)
			return
		}
		r := resp.Payload.(*proto.SyncResponse)
		callback(SyncResponse{
			Zxid: resp.Zxid,
			Path: r.Path.Value,
		}, nil)
	}

	if err := ValidatePath(path, false); err != nil {
		c.fail(proto.OpSync, err, handleCallback)
		return
	}

	c.do(proto.OpSync, func() (jute.Value, *WatchRegistration) {
		return &proto.SyncRequest{
			Path: jute.String(path),
		}, nil
	}, handleCallback)
}

// Mkdirp creates path and every missing parent with empty data.
// Nodes that already exist are left unchanged.
func (c *Client) Mkdirp(path string, acl []ACL, callback func(err error)) {
	if callback == nil {
		callback = func(err error) {}
	}
	if err := ValidatePath(path, false); err != nil {
		c.fail(proto.OpCreate, err, func(_ *Response, err error) {
			callback(err)
		})
		return
	}

	paths := parentPaths(path)
	if len(paths) == 0 {
		c.fail(proto.OpCreate, nil, func(_ *Response, _ error) {
			callback(nil)
		})
		return
	}

	var createNext func(index int)
	createNext = func(index int) {
		c.Create(paths[index], nil, 0, acl, func(_ CreateResponse, err error) {
			if err != nil && !errors.Is(err, ErrNodeExists) {
				callback(err)
				return
			}
			if index+1 >= len(paths) {
				callback(nil)
				return
			}
			createNext(index + 1)
		})
	}
	createNext(0)
}
