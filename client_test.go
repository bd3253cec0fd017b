package zk

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/QuangTung97/zksession/compress"
	"github.com/QuangTung97/zksession/jute"
	"github.com/QuangTung97/zksession/proto"
)

type clientTest struct {
	server *fakeServer
	client *Client
}

func newClientTest(t *testing.T, servers []string, opts ...Option) *clientTest {
	server := newFakeServer(t)

	defaults := []Option{
		WithDialTimeoutFunc(server.dial),
		WithLogger(discardLogger()),
		WithSleepFunc(func(d time.Duration) {
			time.Sleep(time.Millisecond)
		}),
	}
	client, err := NewClient(servers, 30*time.Second, append(defaults, opts...)...)
	require.Equal(t, nil, err)

	t.Cleanup(func() {
		server.shutdown()
		client.Close()
	})

	return &clientTest{
		server: server,
		client: client,
	}
}

func (c *clientTest) connect(t *testing.T) *serverConn {
	conn := c.server.accept()
	conn.handshake(testSessionID)
	waitState(t, c.client.Conn(), StateConnected)
	return conn
}

type cbResult[T any] struct {
	resp T
	err  error
}

func newCallback[T any]() (<-chan cbResult[T], func(resp T, err error)) {
	ch := make(chan cbResult[T], 1)
	return ch, func(resp T, err error) {
		ch <- cbResult[T]{resp: resp, err: err}
	}
}

func waitCallback[T any](t *testing.T, ch <-chan cbResult[T]) cbResult[T] {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(serverIOTimeout):
		require.FailNow(t, "callback was not called")
		return cbResult[T]{}
	}
}

func TestNewClient_Validate(t *testing.T) {
	t.Run("no servers", func(t *testing.T) {
		_, err := NewClient(nil, 30*time.Second)
		assert.Equal(t, ErrNoServer, err)
	})

	t.Run("session timeout too small", func(t *testing.T) {
		_, err := NewClient([]string{"localhost"}, 999*time.Millisecond)
		assert.Equal(t, errors.New("zk: session timeout must not be too small"), err)
	})

	t.Run("chroot on last server", func(t *testing.T) {
		c := newClientTest(t, []string{"zk1", "zk2:2182/app"})
		c.connect(t)

		assert.Equal(t, "/app", c.client.Conn().Chroot())
		assert.Equal(t, StateConnected, c.client.State())
	})
}

func TestClient_Operations(t *testing.T) {
	t.Run("create", func(t *testing.T) {
		c := newClientTest(t, []string{"localhost"})
		conn := c.connect(t)

		ch, cb := newCallback[CreateResponse]()
		c.client.Create("/a", []byte("data"), FlagEphemeral|FlagSequence, OpenACLUnsafe, cb)

		var req proto.CreateRequest
		r := conn.readRequestInto(&req)
		assert.Equal(t, proto.OpCreate, r.op)
		assert.Equal(t, "/a", req.Path.Value)
		assert.Equal(t, jute.Buffer("data"), req.Data)
		assert.Equal(t, jute.Int(FlagEphemeral|FlagSequence), req.Flags)
		assert.Equal(t, OpenACLUnsafe, fromProtoACLs(req.ACL))

		conn.reply(r.xid, 5, CodeOK, &proto.CreateResponse{Path: jute.String("/a0000000001")})

		res := waitCallback(t, ch)
		require.Equal(t, nil, res.err)
		assert.Equal(t, CreateResponse{Zxid: 5, Path: "/a0000000001"}, res.resp)
	})

	t.Run("get", func(t *testing.T) {
		c := newClientTest(t, []string{"localhost"})
		conn := c.connect(t)

		ch, cb := newCallback[GetResponse]()
		c.client.Get("/a", cb)

		var req proto.GetDataRequest
		r := conn.readRequestInto(&req)
		assert.Equal(t, proto.OpGetData, r.op)
		assert.Equal(t, jute.Bool(false), req.Watch)

		conn.reply(r.xid, 6, CodeOK, &proto.GetDataResponse{
			Data: []byte("hello"),
			Stat: proto.Stat{Version: 3, DataLength: 5, Mzxid: 4},
		})

		res := waitCallback(t, ch)
		require.Equal(t, nil, res.err)
		assert.Equal(t, GetResponse{
			Zxid: 6,
			Data: []byte("hello"),
			Stat: Stat{Version: 3, DataLength: 5, Mzxid: 4},
		}, res.resp)
	})

	t.Run("children", func(t *testing.T) {
		c := newClientTest(t, []string{"localhost"})
		conn := c.connect(t)

		ch, cb := newCallback[ChildrenResponse]()
		c.client.Children("/a", cb)

		r := conn.readRequest()
		assert.Equal(t, proto.OpGetChildren2, r.op)
		conn.reply(r.xid, 7, CodeOK, &proto.GetChildren2Response{
			Children: jute.Strings("x", "y"),
			Stat:     proto.Stat{NumChildren: 2},
		})

		res := waitCallback(t, ch)
		require.Equal(t, nil, res.err)
		assert.Equal(t, []string{"x", "y"}, res.resp.Children)
		assert.Equal(t, int32(2), res.resp.Stat.NumChildren)
	})

	t.Run("set", func(t *testing.T) {
		c := newClientTest(t, []string{"localhost"})
		conn := c.connect(t)

		ch, cb := newCallback[SetResponse]()
		c.client.Set("/a", []byte("v2"), 3, cb)

		var req proto.SetDataRequest
		r := conn.readRequestInto(&req)
		assert.Equal(t, proto.OpSetData, r.op)
		assert.Equal(t, jute.Int(3), req.Version)

		conn.reply(r.xid, 8, CodeBadVersion, nil)

		res := waitCallback(t, ch)
		assert.ErrorIs(t, res.err, ErrBadVersion)
		assert.Equal(t, SetResponse{}, res.resp)
	})

	t.Run("exists", func(t *testing.T) {
		c := newClientTest(t, []string{"localhost"})
		conn := c.connect(t)

		ch, cb := newCallback[ExistsResponse]()
		c.client.Exists("/a", cb)

		r := conn.readRequest()
		assert.Equal(t, proto.OpExists, r.op)
		conn.reply(r.xid, 9, CodeOK, &proto.ExistsResponse{Stat: proto.Stat{Version: 1}})

		res := waitCallback(t, ch)
		require.Equal(t, nil, res.err)
		assert.Equal(t, ExistsResponse{Zxid: 9, Stat: Stat{Version: 1}}, res.resp)
	})

	t.Run("delete", func(t *testing.T) {
		c := newClientTest(t, []string{"localhost"})
		conn := c.connect(t)

		ch, cb := newCallback[DeleteResponse]()
		c.client.Delete("/a", -1, cb)

		var req proto.DeleteRequest
		r := conn.readRequestInto(&req)
		assert.Equal(t, proto.OpDelete, r.op)
		assert.Equal(t, jute.Int(-1), req.Version)

		conn.reply(r.xid, 10, CodeOK, nil)

		res := waitCallback(t, ch)
		require.Equal(t, nil, res.err)
		assert.Equal(t, DeleteResponse{Zxid: 10}, res.resp)
	})

	t.Run("acl", func(t *testing.T) {
		c := newClientTest(t, []string{"localhost"})
		conn := c.connect(t)

		setCh, setCb := newCallback[SetACLResponse]()
		c.client.SetACL("/a", ReadACLUnsafe, 0, setCb)

		var setReq proto.SetACLRequest
		r := conn.readRequestInto(&setReq)
		assert.Equal(t, proto.OpSetACL, r.op)
		assert.Equal(t, ReadACLUnsafe, fromProtoACLs(setReq.ACL))
		conn.reply(r.xid, 11, CodeOK, &proto.SetACLResponse{Stat: proto.Stat{Aversion: 1}})

		setRes := waitCallback(t, setCh)
		require.Equal(t, nil, setRes.err)
		assert.Equal(t, int32(1), setRes.resp.Stat.Aversion)

		getCh, getCb := newCallback[GetACLResponse]()
		c.client.GetACL("/a", getCb)

		r = conn.readRequest()
		assert.Equal(t, proto.OpGetACL, r.op)
		conn.reply(r.xid, 12, CodeOK, &proto.GetACLResponse{
			ACL:  toProtoACLs(ReadACLUnsafe),
			Stat: proto.Stat{Aversion: 1},
		})

		getRes := waitCallback(t, getCh)
		require.Equal(t, nil, getRes.err)
		assert.Equal(t, ReadACLUnsafe, getRes.resp.ACL)
	})

	t.Run("sync", func(t *testing.T) {
		c := newClientTest(t, []string{"localhost"})
		conn := c.connect(t)

		ch, cb := newCallback[SyncResponse]()
		c.client.Sync("/a", cb)

		r := conn.readRequest()
		assert.Equal(t, proto.OpSync, r.op)
		conn.reply(r.xid, 13, CodeOK, &proto.SyncResponse{Path: jute.String("/a")})

		res := waitCallback(t, ch)
		require.Equal(t, nil, res.err)
		assert.Equal(t, SyncResponse{Zxid: 13, Path: "/a"}, res.resp)
	})

	t.Run("nil callback", func(t *testing.T) {
		c := newClientTest(t, []string{"localhost"})
		conn := c.connect(t)

		c.client.Delete("/a", -1, nil)
		r := conn.readRequest()
		conn.reply(r.xid, 1, CodeOK, nil)

		ch, cb := newCallback[ExistsResponse]()
		c.client.Exists("/a", cb)
		r = conn.readRequest()
		conn.reply(r.xid, 2, CodeNoNode, nil)
		assert.ErrorIs(t, waitCallback(t, ch).err, ErrNoNode)
	})
}

func TestClient_Validation(t *testing.T) {
	c := newClientTest(t, []string{"localhost"})

	t.Run("invalid path", func(t *testing.T) {
		ch, cb := newCallback[GetResponse]()
		c.client.Get("a/b", cb)
		assert.Equal(t, ErrInvalidPath, waitCallback(t, ch).err)
	})

	t.Run("trailing slash without sequence flag", func(t *testing.T) {
		ch, cb := newCallback[CreateResponse]()
		c.client.Create("/a/", nil, 0, OpenACLUnsafe, cb)
		assert.Equal(t, ErrInvalidPath, waitCallback(t, ch).err)
	})

	t.Run("empty acl", func(t *testing.T) {
		ch, cb := newCallback[CreateResponse]()
		c.client.Create("/a", nil, 0, nil, cb)
		assert.Equal(t, ErrInvalidACLArgs, waitCallback(t, ch).err)

		setCh, setCb := newCallback[SetACLResponse]()
		c.client.SetACL("/a", nil, 0, setCb)
		assert.Equal(t, ErrInvalidACLArgs, waitCallback(t, setCh).err)
	})

	t.Run("data too large", func(t *testing.T) {
		ch, cb := newCallback[SetResponse]()
		c.client.Set("/a", make([]byte, DataSizeLimit+1), -1, cb)
		assert.Equal(t, ErrDataTooLarge, waitCallback(t, ch).err)
	})

	t.Run("empty auth scheme", func(t *testing.T) {
		assert.Equal(t, ErrEmptyAuthScheme, c.client.AddAuth("", []byte("x")))
	})
}

func TestClient_Watch(t *testing.T) {
	t.Run("get watch", func(t *testing.T) {
		c := newClientTest(t, []string{"localhost"})
		conn := c.connect(t)

		events := make(chan Event, 4)
		ch, cb := newCallback[GetResponse]()
		c.client.Get("/a", cb, WithGetWatch(func(ev Event) {
			events <- ev
		}))

		var req proto.GetDataRequest
		r := conn.readRequestInto(&req)
		assert.Equal(t, jute.Bool(true), req.Watch)
		conn.reply(r.xid, 1, CodeOK, &proto.GetDataResponse{})
		require.Equal(t, nil, waitCallback(t, ch).err)

		conn.notify(EventNodeDataChanged, "/a")

		select {
		case ev := <-events:
			assert.Equal(t, EventNodeDataChanged, ev.Type)
			assert.Equal(t, "/a", ev.Path)
		case <-time.After(serverIOTimeout):
			require.FailNow(t, "watch was not called")
		}
	})

	t.Run("children watch", func(t *testing.T) {
		c := newClientTest(t, []string{"localhost"})
		conn := c.connect(t)

		events := make(chan Event, 4)
		ch, cb := newCallback[ChildrenResponse]()
		c.client.Children("/a", cb, WithChildrenWatch(func(ev Event) {
			events <- ev
		}))

		r := conn.readRequest()
		conn.reply(r.xid, 1, CodeOK, &proto.GetChildren2Response{Children: jute.Strings()})
		require.Equal(t, nil, waitCallback(t, ch).err)

		conn.notify(EventNodeChildrenChanged, "/a")

		select {
		case ev := <-events:
			assert.Equal(t, EventNodeChildrenChanged, ev.Type)
		case <-time.After(serverIOTimeout):
			require.FailNow(t, "watch was not called")
		}
	})

	t.Run("exists watch", func(t *testing.T) {
		c := newClientTest(t, []string{"localhost"})
		conn := c.connect(t)

		events := make(chan Event, 4)
		ch, cb := newCallback[ExistsResponse]()
		c.client.Exists("/a", cb, WithExistsWatch(func(ev Event) {
			events <- ev
		}))

		r := conn.readRequest()
		conn.reply(r.xid, 1, CodeNoNode, nil)
		assert.ErrorIs(t, waitCallback(t, ch).err, ErrNoNode)

		conn.notify(EventNodeCreated, "/a")

		select {
		case ev := <-events:
			assert.Equal(t, EventNodeCreated, ev.Type)
		case <-time.After(serverIOTimeout):
			require.FailNow(t, "watch was not called")
		}
	})
}

func TestClient_Retry(t *testing.T) {
	t.Run("retried after reconnect", func(t *testing.T) {
		c := newClientTest(t, []string{"localhost"},
			WithRetryPolicy(RetryNTimes(2, time.Millisecond)),
		)
		conn := c.connect(t)

		ch, cb := newCallback[GetResponse]()
		c.client.Get("/a", cb)

		r := conn.readRequest()
		assert.Equal(t, int32(0), r.xid)
		conn.close()

		conn2 := c.server.accept()
		conn2.handshake(testSessionID)

		r = conn2.readRequest()
		assert.Equal(t, proto.OpGetData, r.op)
		assert.Equal(t, int32(1), r.xid)
		conn2.reply(r.xid, 2, CodeOK, &proto.GetDataResponse{Data: []byte("x")})

		res := waitCallback(t, ch)
		require.Equal(t, nil, res.err)
		assert.Equal(t, []byte("x"), res.resp.Data)
	})

	t.Run("no retry by default", func(t *testing.T) {
		c := newClientTest(t, []string{"localhost"})
		conn := c.connect(t)

		ch, cb := newCallback[GetResponse]()
		c.client.Get("/a", cb)

		conn.readRequest()
		conn.close()

		assert.ErrorIs(t, waitCallback(t, ch).err, ErrConnectionLoss)
	})

	t.Run("server errors are not retried", func(t *testing.T) {
		c := newClientTest(t, []string{"localhost"},
			WithRetryPolicy(RetryNTimes(2, time.Millisecond)),
		)
		conn := c.connect(t)

		ch, cb := newCallback[GetResponse]()
		c.client.Get("/a", cb)

		r := conn.readRequest()
		conn.reply(r.xid, 1, CodeNoNode, nil)
		assert.ErrorIs(t, waitCallback(t, ch).err, ErrNoNode)
	})
}

func TestClient_Compression(t *testing.T) {
	c := newClientTest(t, []string{"localhost"}, WithCompression(compress.Gzip()))
	conn := c.connect(t)

	setCh, setCb := newCallback[SetResponse]()
	c.client.Set("/a", []byte("hello"), -1, setCb)

	var req proto.SetDataRequest
	r := conn.readRequestInto(&req)
	assert.NotEqual(t, jute.Buffer("hello"), req.Data)

	data, err := compress.Gzip().Decompress("/a", req.Data)
	require.Equal(t, nil, err)
	assert.Equal(t, []byte("hello"), data)

	conn.reply(r.xid, 1, CodeOK, &proto.SetDataResponse{})
	require.Equal(t, nil, waitCallback(t, setCh).err)

	getCh, getCb := newCallback[GetResponse]()
	c.client.Get("/a", getCb)
	r = conn.readRequest()
	conn.reply(r.xid, 2, CodeOK, &proto.GetDataResponse{Data: req.Data})

	res := waitCallback(t, getCh)
	require.Equal(t, nil, res.err)
	assert.Equal(t, []byte("hello"), res.resp.Data)

	getCh, getCb = newCallback[GetResponse]()
	c.client.Get("/empty", getCb)
	r = conn.readRequest()
	conn.reply(r.xid, 3, CodeOK, &proto.GetDataResponse{})

	res = waitCallback(t, getCh)
	require.Equal(t, nil, res.err)
	assert.Equal(t, 0, len(res.resp.Data))
}

func TestClient_Mkdirp(t *testing.T) {
	t.Run("create missing parents", func(t *testing.T) {
		c := newClientTest(t, []string{"localhost"})
		conn := c.connect(t)

		done := make(chan error, 1)
		c.client.Mkdirp("/a/b/c", OpenACLUnsafe, func(err error) {
			done <- err
		})

		var req proto.CreateRequest
		r := conn.readRequestInto(&req)
		assert.Equal(t, "/a", req.Path.Value)
		conn.reply(r.xid, 1, CodeNodeExists, nil)

		r = conn.readRequestInto(&req)
		assert.Equal(t, "/a/b", req.Path.Value)
		conn.reply(r.xid, 2, CodeOK, &proto.CreateResponse{Path: jute.String("/a/b")})

		r = conn.readRequestInto(&req)
		assert.Equal(t, "/a/b/c", req.Path.Value)
		conn.reply(r.xid, 3, CodeOK, &proto.CreateResponse{Path: jute.String("/a/b/c")})

		assert.Equal(t, nil, <-done)
	})

	t.Run("stop on error", func(t *testing.T) {
		c := newClientTest(t, []string{"localhost"})
		conn := c.connect(t)

		done := make(chan error, 1)
		c.client.Mkdirp("/a/b", OpenACLUnsafe, func(err error) {
			done <- err
		})

		r := conn.readRequest()
		conn.reply(r.xid, 1, CodeNoAuth, nil)

		assert.ErrorIs(t, <-done, ErrNoAuth)
	})

	t.Run("root", func(t *testing.T) {
		c := newClientTest(t, []string{"localhost"})

		done := make(chan error, 1)
		c.client.Mkdirp("/", OpenACLUnsafe, func(err error) {
			done <- err
		})
		assert.Equal(t, nil, <-done)
	})
}

func TestClient_Transaction(t *testing.T) {
	t.Run("commit", func(t *testing.T) {
		c := newClientTest(t, []string{"localhost"})
		conn := c.connect(t)

		ch, cb := newCallback[TransactionResponse]()
		c.client.Transaction().
			Create("/a", []byte("x"), 0, OpenACLUnsafe).
			SetData("/b", []byte("y"), 2).
			Check("/c", 1).
			Delete("/d", -1).
			Commit(cb)

		var req proto.MultiRequest
		r := conn.readRequestInto(&req)
		assert.Equal(t, proto.OpMulti, r.op)
		require.Equal(t, 4, len(req.Ops))
		assert.Equal(t, proto.OpCreate, req.Ops[0].Type)
		assert.Equal(t, proto.OpSetData, req.Ops[1].Type)
		assert.Equal(t, proto.OpCheck, req.Ops[2].Type)
		assert.Equal(t, proto.OpDelete, req.Ops[3].Type)
		assert.Equal(t, "/b", req.Ops[1].Request.(*proto.SetDataRequest).Path.Value)

		conn.reply(r.xid, 20, CodeOK, &proto.MultiResponse{
			Results: []proto.MultiResult{
				{Type: proto.OpCreate, Path: "/a"},
				{Type: proto.OpSetData, Stat: &proto.Stat{Version: 3}},
				{Type: proto.OpCheck},
				{Type: proto.OpDelete},
			},
		})

		res := waitCallback(t, ch)
		require.Equal(t, nil, res.err)
		assert.Equal(t, jute.Zxid(20), res.resp.Zxid)
		assert.Equal(t, []OpResult{
			{Type: proto.OpCreate, Path: "/a"},
			{Type: proto.OpSetData, Stat: &Stat{Version: 3}},
			{Type: proto.OpCheck},
			{Type: proto.OpDelete},
		}, res.resp.Results)
	})

	t.Run("failed operation", func(t *testing.T) {
		c := newClientTest(t, []string{"localhost"})
		conn := c.connect(t)

		ch, cb := newCallback[TransactionResponse]()
		c.client.Transaction().
			Create("/a", nil, 0, OpenACLUnsafe).
			Check("/c", 1).
			Commit(cb)

		r := conn.readRequest()
		conn.reply(r.xid, 21, CodeOK, &proto.MultiResponse{
			Results: []proto.MultiResult{
				{Type: proto.OpError, Err: int32(CodeOK)},
				{Type: proto.OpError, Err: int32(CodeBadVersion)},
			},
		})

		res := waitCallback(t, ch)
		assert.Equal(t, &Error{Code: CodeBadVersion, Path: "/c"}, res.err)
		require.Equal(t, 2, len(res.resp.Results))
		assert.Equal(t, nil, res.resp.Results[0].Err)
		assert.ErrorIs(t, res.resp.Results[1].Err, ErrBadVersion)
	})

	t.Run("builder error", func(t *testing.T) {
		c := newClientTest(t, []string{"localhost"})

		ch, cb := newCallback[TransactionResponse]()
		c.client.Transaction().
			Create("/a", nil, 0, OpenACLUnsafe).
			Delete("bad", -1).
			Commit(cb)
		assert.Equal(t, ErrInvalidPath, waitCallback(t, ch).err)
	})

	t.Run("empty", func(t *testing.T) {
		c := newClientTest(t, []string{"localhost"})

		ch, cb := newCallback[TransactionResponse]()
		c.client.Transaction().Commit(cb)
		assert.Equal(t, ErrBadArguments, waitCallback(t, ch).err)
	})

	t.Run("chroot", func(t *testing.T) {
		c := newClientTest(t, []string{"localhost/app"})
		conn := c.connect(t)

		ch, cb := newCallback[TransactionResponse]()
		c.client.Transaction().
			Create("/a", nil, 0, OpenACLUnsafe).
			Commit(cb)

		var req proto.MultiRequest
		r := conn.readRequestInto(&req)
		assert.Equal(t, "/app/a", req.Ops[0].Request.(*proto.CreateRequest).Path.Value)

		conn.reply(r.xid, 22, CodeOK, &proto.MultiResponse{
			Results: []proto.MultiResult{
				{Type: proto.OpCreate, Path: "/app/a"},
			},
		})

		res := waitCallback(t, ch)
		require.Equal(t, nil, res.err)
		assert.Equal(t, "/a", res.resp.Results[0].Path)
	})
}

func TestClient_Session(t *testing.T) {
	t.Run("renewed after expiry", func(t *testing.T) {
		established := make(chan *Client, 4)
		expired := make(chan *Client, 4)

		c := newClientTest(t, []string{"localhost"},
			WithSessionEstablishedCallback(func(c *Client) {
				established <- c
			}),
			WithSessionExpiredCallback(func(c *Client) {
				expired <- c
			}),
		)
		conn := c.connect(t)
		assert.Equal(t, c.client, <-established)

		require.Equal(t, nil, c.client.AddAuth("digest", []byte("user:pass")))
		r := conn.readRequest()
		assert.Equal(t, proto.OpAuth, r.op)
		conn.reply(proto.XidAuth, 0, CodeOK, nil)

		old := c.client.Conn()
		conn.close()

		conn2 := c.server.accept()
		conn2.readConnectRequest()
		conn2.readRequest()
		conn2.writeConnectResponse(proto.ConnectResponse{})

		assert.Equal(t, c.client, <-expired)

		conn3 := c.server.accept()
		connReq := conn3.readConnectRequest()
		assert.Equal(t, jute.Long(0), connReq.SessionID)
		assert.Equal(t, jute.Buffer(make([]byte, proto.PasswordLength)), connReq.Passwd)

		var auth proto.AuthPacket
		r = conn3.readRequestInto(&auth)
		assert.Equal(t, proto.XidAuth, r.xid)
		assert.Equal(t, "digest", auth.Scheme.Value)

		conn3.respond(testSessionID + 1)
		assert.Equal(t, c.client, <-established)

		assert.NotSame(t, old, c.client.Conn())
		assert.Equal(t, StateSessionExpired, old.State())
		waitState(t, c.client.Conn(), StateConnected)

		ch, cb := newCallback[GetResponse]()
		c.client.Get("/a", cb)
		r = conn3.readRequest()
		assert.Equal(t, int32(0), r.xid)
		conn3.reply(r.xid, 1, CodeOK, &proto.GetDataResponse{})
		assert.Equal(t, nil, waitCallback(t, ch).err)
	})

	t.Run("reconnecting callback", func(t *testing.T) {
		reconnected := make(chan *Client, 4)
		c := newClientTest(t, []string{"localhost"},
			WithReconnectingCallback(func(c *Client) {
				reconnected <- c
			}),
		)
		conn := c.connect(t)
		conn.close()

		conn2 := c.server.accept()
		conn2.handshake(testSessionID)

		select {
		case cli := <-reconnected:
			assert.Equal(t, c.client, cli)
		case <-time.After(serverIOTimeout):
			require.FailNow(t, "reconnecting callback was not called")
		}
	})

	t.Run("close", func(t *testing.T) {
		c := newClientTest(t, []string{"localhost"})
		conn := c.connect(t)

		done := make(chan struct{})
		go func() {
			c.client.Close()
			close(done)
		}()

		r := conn.readRequest()
		assert.Equal(t, proto.OpCloseSession, r.op)
		conn.reply(r.xid, 1, CodeOK, nil)

		select {
		case <-done:
		case <-time.After(serverIOTimeout):
			require.FailNow(t, "close did not return")
		}
		assert.Equal(t, StateClosed, c.client.State())

		ch, cb := newCallback[GetResponse]()
		c.client.Get("/a", cb)
		assert.Equal(t, ErrClientClosed, waitCallback(t, ch).err)
	})
}
