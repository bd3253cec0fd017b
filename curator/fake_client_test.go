package curator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	zk "github.com/QuangTung97/zksession"
)

const (
	client1 FakeClientID = "client1"
	client2 FakeClientID = "client2"
)

type fakeTest struct {
	store *FakeZookeeper
	sess  map[FakeClientID]*Session
}

func newFakeTest(clients ...FakeClientID) *fakeTest {
	f := &fakeTest{
		store: NewFakeZookeeper(),
		sess:  map[FakeClientID]*Session{},
	}
	for _, id := range clients {
		id := id
		factory := NewFakeClientFactory(f.store, id)
		_ = factory.Start(New(func(sess *Session) {
			f.sess[id] = sess
		}))
	}
	return f
}

func (f *fakeTest) client(id FakeClientID) Client {
	return f.sess[id].GetClient()
}

func TestFakeZookeeper_Create(t *testing.T) {
	t.Run("create then get", func(t *testing.T) {
		f := newFakeTest(client1)
		f.store.Begin(client1)

		var createResp zk.CreateResponse
		var createErr error
		f.client(client1).Create("/workers", []byte("data01"), 0, func(resp zk.CreateResponse, err error) {
			createResp = resp
			createErr = err
		})
		assert.Equal(t, []string{CallTypeCreate}, f.store.PendingCalls(client1))

		f.store.ApplyNext(client1)
		require.Equal(t, nil, createErr)
		assert.Equal(t, "/workers", createResp.Path)

		var getResp zk.GetResponse
		f.client(client1).Get("/workers", func(resp zk.GetResponse, err error) {
			require.Equal(t, nil, err)
			getResp = resp
		})
		f.store.ApplyAll(client1)

		assert.Equal(t, []byte("data01"), getResp.Data)
		assert.Equal(t, int32(0), getResp.Stat.Version)
		assert.Equal(t, int32(6), getResp.Stat.DataLength)
	})

	t.Run("parent not found", func(t *testing.T) {
		f := newFakeTest(client1)
		f.store.Begin(client1)

		var createErr error
		f.client(client1).Create("/a/b", nil, 0, func(resp zk.CreateResponse, err error) {
			createErr = err
		})
		f.store.ApplyAll(client1)

		assert.ErrorIs(t, createErr, zk.ErrNoNode)
	})

	t.Run("node exists", func(t *testing.T) {
		f := newFakeTest(client1)
		f.store.Begin(client1)

		var errList []error
		for i := 0; i < 2; i++ {
			f.client(client1).Create("/a", nil, 0, func(resp zk.CreateResponse, err error) {
				errList = append(errList, err)
			})
		}
		f.store.ApplyAll(client1)

		require.Equal(t, 2, len(errList))
		assert.Equal(t, nil, errList[0])
		assert.ErrorIs(t, errList[1], zk.ErrNodeExists)
	})

	t.Run("sequence", func(t *testing.T) {
		f := newFakeTest(client1)
		f.store.Begin(client1)

		var paths []string
		f.client(client1).Create("/lock", nil, 0, func(resp zk.CreateResponse, err error) {})
		for i := 0; i < 3; i++ {
			f.client(client1).Create("/lock/node-", nil, zk.FlagSequence, func(resp zk.CreateResponse, err error) {
				paths = append(paths, resp.Path)
			})
		}
		f.store.ApplyAll(client1)

		assert.Equal(t, []string{
			"/lock/node-0000000000",
			"/lock/node-0000000001",
			"/lock/node-0000000002",
		}, paths)
		assert.Equal(t, []string{
			"node-0000000000",
			"node-0000000001",
			"node-0000000002",
		}, f.store.ChildrenOf("/lock"))
	})
}

func TestFakeZookeeper_SetAndDelete(t *testing.T) {
	t.Run("set with version", func(t *testing.T) {
		f := newFakeTest(client1)
		f.store.Begin(client1)

		var errList []error
		f.client(client1).Create("/a", []byte("v0"), 0, func(resp zk.CreateResponse, err error) {})
		f.client(client1).Set("/a", []byte("v1"), 0, func(resp zk.SetResponse, err error) {
			errList = append(errList, err)
			assert.Equal(t, int32(1), resp.Stat.Version)
		})
		f.client(client1).Set("/a", []byte("v2"), 0, func(resp zk.SetResponse, err error) {
			errList = append(errList, err)
		})
		f.store.ApplyAll(client1)

		require.Equal(t, 2, len(errList))
		assert.Equal(t, nil, errList[0])
		assert.ErrorIs(t, errList[1], zk.ErrBadVersion)

		data, ok := f.store.Data("/a")
		assert.Equal(t, true, ok)
		assert.Equal(t, []byte("v1"), data)
	})

	t.Run("delete not empty", func(t *testing.T) {
		f := newFakeTest(client1)
		f.store.Begin(client1)

		var deleteErr error
		f.client(client1).Create("/a", nil, 0, func(resp zk.CreateResponse, err error) {})
		f.client(client1).Create("/a/b", nil, 0, func(resp zk.CreateResponse, err error) {})
		f.client(client1).Delete("/a", -1, func(resp zk.DeleteResponse, err error) {
			deleteErr = err
		})
		f.store.ApplyAll(client1)

		assert.ErrorIs(t, deleteErr, zk.ErrNotEmpty)
	})
}

func TestFakeZookeeper_Watch(t *testing.T) {
	t.Run("children watch fired once", func(t *testing.T) {
		f := newFakeTest(client1, client2)
		f.store.Begin(client1)
		f.store.Begin(client2)

		f.client(client1).Create("/a", nil, 0, func(resp zk.CreateResponse, err error) {})
		f.store.ApplyAll(client1)

		var events []zk.Event
		f.client(client2).ChildrenW("/a", func(resp zk.ChildrenResponse, err error) {
			require.Equal(t, nil, err)
			assert.Equal(t, []string{}, resp.Children)
		}, func(ev zk.Event) {
			events = append(events, ev)
		})
		f.store.ApplyAll(client2)

		f.client(client1).Create("/a/b", nil, 0, func(resp zk.CreateResponse, err error) {})
		f.client(client1).Create("/a/c", nil, 0, func(resp zk.CreateResponse, err error) {})
		f.store.ApplyAll(client1)

		assert.Equal(t, []zk.Event{
			{Type: zk.EventNodeChildrenChanged, State: int32(zk.StateConnected), Path: "/a"},
		}, events)
	})

	t.Run("exists watch on missing node", func(t *testing.T) {
		f := newFakeTest(client1)
		f.store.Begin(client1)

		var existsErr error
		var events []zk.Event
		f.client(client1).ExistsW("/a", func(resp zk.ExistsResponse, err error) {
			existsErr = err
		}, func(ev zk.Event) {
			events = append(events, ev)
		})
		f.store.ApplyAll(client1)
		assert.ErrorIs(t, existsErr, zk.ErrNoNode)

		f.client(client1).Create("/a", nil, 0, func(resp zk.CreateResponse, err error) {})
		f.store.ApplyAll(client1)

		assert.Equal(t, []zk.Event{
			{Type: zk.EventNodeCreated, State: int32(zk.StateConnected), Path: "/a"},
		}, events)
	})
}

func TestFakeZookeeper_Session(t *testing.T) {
	t.Run("connection error then retry", func(t *testing.T) {
		store := NewFakeZookeeper()
		factory := NewFakeClientFactory(store, client1)

		steps := make([]string, 0)
		_ = factory.Start(New(func(sess *Session) {
			sess.Run(func(client Client) {
				client.Create("/a", nil, 0, func(resp zk.CreateResponse, err error) {
					if err != nil {
						steps = append(steps, "error")
						sess.AddRetry(func(sess *Session) {
							steps = append(steps, "retry")
						})
						return
					}
					steps = append(steps, "created")
				})
			})
		}))

		store.Begin(client1)
		store.ConnError(client1)
		assert.Equal(t, []string{"error"}, steps)
		assert.Equal(t, []string{}, store.PendingCalls(client1))

		store.Retry(client1)
		assert.Equal(t, []string{"error", "retry"}, steps)

		_, ok := store.Data("/a")
		assert.Equal(t, false, ok)
	})

	t.Run("lost reply is applied", func(t *testing.T) {
		f := newFakeTest(client1)
		f.store.Begin(client1)

		var createErr error
		f.client(client1).Create("/a", nil, 0, func(resp zk.CreateResponse, err error) {
			createErr = err
		})
		f.store.ApplyNextLost(client1)

		assert.ErrorIs(t, createErr, zk.ErrConnectionLoss)
		assert.Equal(t, true, f.store.States[client1].ConnErr)

		_, ok := f.store.Data("/a")
		assert.Equal(t, true, ok)
	})

	t.Run("session expired removes ephemeral nodes", func(t *testing.T) {
		f := newFakeTest(client1, client2)
		f.store.Begin(client1)
		f.store.Begin(client2)

		f.client(client1).Create("/a", nil, 0, func(resp zk.CreateResponse, err error) {})
		f.client(client1).Create("/a/e", nil, zk.FlagEphemeral, func(resp zk.CreateResponse, err error) {})
		f.store.ApplyAll(client1)
		assert.Equal(t, []string{"e"}, f.store.ChildrenOf("/a"))

		var events []zk.Event
		f.client(client2).ExistsW("/a/e", func(resp zk.ExistsResponse, err error) {
			require.Equal(t, nil, err)
		}, func(ev zk.Event) {
			events = append(events, ev)
		})
		f.store.ApplyAll(client2)

		var pendingErr error
		f.client(client1).Get("/a", func(resp zk.GetResponse, err error) {
			pendingErr = err
		})
		f.store.SessionExpired(client1)

		assert.ErrorIs(t, pendingErr, zk.ErrSessionExpired)
		assert.Equal(t, []string{}, f.store.ChildrenOf("/a"))
		assert.Equal(t, []zk.Event{
			{Type: zk.EventNodeDeleted, State: int32(zk.StateConnected), Path: "/a/e"},
		}, events)
	})
}
