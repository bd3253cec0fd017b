package curator

import (
	"fmt"
	"slices"
	"strings"

	zk "github.com/QuangTung97/zksession"
	"github.com/QuangTung97/zksession/jute"
)

// FakeClientID identifies a client of a FakeZookeeper.
type FakeClientID string

// FakeSessionState is the session status of one fake client.
type FakeSessionState struct {
	HasSession bool
	ConnErr    bool
	SessionID  int64
}

// FakeZookeeper is an in-memory zookeeper shared by fake clients. Requests are
// not executed when they are issued: they are kept pending per client and
// applied one at a time by the test, which controls the interleaving.
type FakeZookeeper struct {
	States  map[FakeClientID]*FakeSessionState
	Pending map[FakeClientID][]FakePendingCall

	runners map[FakeClientID]SessionRunner
	clients map[FakeClientID]*fakeClient

	root          *fakeZNode
	zxid          int64
	nextSessionID int64
	watches       map[fakeWatchKey][]fakeWatch
}

// FakePendingCall is a request waiting to be applied.
type FakePendingCall struct {
	Op   string
	Path string

	apply func() (reply func()) // runs the request on the store
	fail  func(err error)
}

type fakeZNode struct {
	name     string
	data     []byte
	stat     zk.Stat
	owner    FakeClientID // empty for persistent nodes
	children map[string]*fakeZNode
}

type fakeWatchKey struct {
	path  string
	class string
}

type fakeWatch struct {
	client  FakeClientID
	watcher func(ev zk.Event)
}

const (
	fakeWatchData   = "data"
	fakeWatchChild  = "child"
	fakeWatchExists = "exists"
)

// Call types of FakePendingCall.Op
const (
	CallTypeGet      = "get"
	CallTypeChildren = "children"
	CallTypeExists   = "exists"
	CallTypeCreate   = "create"
	CallTypeSet      = "set"
	CallTypeDelete   = "delete"
)

// NewFakeZookeeper creates a store containing only the root node.
func NewFakeZookeeper() *FakeZookeeper {
	return &FakeZookeeper{
		States:  map[FakeClientID]*FakeSessionState{},
		Pending: map[FakeClientID][]FakePendingCall{},

		runners: map[FakeClientID]SessionRunner{},
		clients: map[FakeClientID]*fakeClient{},

		root: &fakeZNode{
			children: map[string]*fakeZNode{},
		},
		watches: map[fakeWatchKey][]fakeWatch{},
	}
}

type fakeClientFactory struct {
	store    *FakeZookeeper
	clientID FakeClientID
}

// NewFakeClientFactory creates a factory whose runners are driven by the
// Begin, ConnError, Retry and SessionExpired methods of store.
func NewFakeClientFactory(store *FakeZookeeper, clientID FakeClientID) ClientFactory {
	store.States[clientID] = &FakeSessionState{}
	return &fakeClientFactory{
		store:    store,
		clientID: clientID,
	}
}

func (f *fakeClientFactory) Start(runners ...SessionRunner) error {
	f.store.runners[f.clientID] = NewParallelRunner(runners...)
	f.store.clients[f.clientID] = &fakeClient{
		store:    f.store,
		clientID: f.clientID,
	}
	return nil
}

func (f *fakeClientFactory) Close() {
	if f.store.States[f.clientID].HasSession {
		f.store.SessionExpired(f.clientID)
	}
}

// Begin establishes a new session for the client.
func (s *FakeZookeeper) Begin(clientID FakeClientID) {
	state := s.States[clientID]
	if state.HasSession {
		panic(fmt.Sprintf("client %s already has a session", clientID))
	}
	s.nextSessionID++
	state.HasSession = true
	state.ConnErr = false
	state.SessionID = s.nextSessionID

	if r := s.runners[clientID]; r != nil {
		r.Begin(s.clients[clientID])
	}
}

// ConnError fails every pending call of the client with ErrConnectionLoss.
// Calls made before Retry fail the same way when applied.
func (s *FakeZookeeper) ConnError(clientID FakeClientID) {
	s.States[clientID].ConnErr = true
	s.failPending(clientID, zk.ErrConnectionLoss)
}

// Retry reconnects the client within its session.
func (s *FakeZookeeper) Retry(clientID FakeClientID) {
	state := s.States[clientID]
	if !state.ConnErr {
		return
	}
	state.ConnErr = false
	if r := s.runners[clientID]; r != nil {
		r.Retry()
	}
}

// SessionExpired ends the session: ephemeral nodes and watches of the client
// are removed and pending calls fail with ErrSessionExpired.
func (s *FakeZookeeper) SessionExpired(clientID FakeClientID) {
	state := s.States[clientID]
	if !state.HasSession {
		return
	}
	state.HasSession = false
	state.ConnErr = false

	if r := s.runners[clientID]; r != nil {
		r.End()
	}
	s.failPending(clientID, zk.ErrSessionExpired)

	for key, list := range s.watches {
		list = slices.DeleteFunc(list, func(w fakeWatch) bool {
			return w.client == clientID
		})
		if len(list) == 0 {
			delete(s.watches, key)
		} else {
			s.watches[key] = list
		}
	}

	for _, p := range s.ephemeralPaths(clientID) {
		_ = s.deleteNode(p, -1)
	}
}

func (s *FakeZookeeper) failPending(clientID FakeClientID, err error) {
	for len(s.Pending[clientID]) > 0 {
		call := s.Pending[clientID][0]
		s.Pending[clientID] = s.Pending[clientID][1:]
		call.fail(err)
	}
}

// PendingCalls returns the ops of the pending calls of the client, in order.
func (s *FakeZookeeper) PendingCalls(clientID FakeClientID) []string {
	values := make([]string, 0, len(s.Pending[clientID]))
	for _, call := range s.Pending[clientID] {
		values = append(values, call.Op)
	}
	return values
}

// ApplyNext applies the oldest pending call of the client. It returns false
// if there is none.
func (s *FakeZookeeper) ApplyNext(clientID FakeClientID) bool {
	calls := s.Pending[clientID]
	if len(calls) == 0 {
		return false
	}
	call := calls[0]
	s.Pending[clientID] = calls[1:]

	if s.States[clientID].ConnErr {
		call.fail(zk.ErrConnectionLoss)
		return true
	}
	reply := call.apply()
	reply()
	return true
}

// ApplyNextLost applies the oldest pending call of the client to the store
// but loses its reply: the call fails with ErrConnectionLoss and the client
// is disconnected.
func (s *FakeZookeeper) ApplyNextLost(clientID FakeClientID) bool {
	calls := s.Pending[clientID]
	if len(calls) == 0 {
		return false
	}
	call := calls[0]
	s.Pending[clientID] = calls[1:]

	if !s.States[clientID].ConnErr {
		_ = call.apply()
	}
	s.States[clientID].ConnErr = true
	call.fail(zk.ErrConnectionLoss)
	s.failPending(clientID, zk.ErrConnectionLoss)
	return true
}

// ApplyAll applies pending calls of the client until there is none left,
// including the calls issued by the callbacks.
func (s *FakeZookeeper) ApplyAll(clientID FakeClientID) {
	for s.ApplyNext(clientID) {
	}
}

// Data returns the data of the node at path.
func (s *FakeZookeeper) Data(path string) ([]byte, bool) {
	n := s.findNode(path)
	if n == nil {
		return nil, false
	}
	return n.data, true
}

// ChildrenOf returns the sorted names of the children of path.
func (s *FakeZookeeper) ChildrenOf(path string) []string {
	n := s.findNode(path)
	if n == nil {
		return nil
	}
	return sortedChildren(n)
}

func (s *FakeZookeeper) enqueue(clientID FakeClientID, call FakePendingCall) {
	s.Pending[clientID] = append(s.Pending[clientID], call)
}

func splitFakePath(path string) []string {
	if path == "/" {
		return nil
	}
	return strings.Split(strings.TrimPrefix(path, "/"), "/")
}

func parentFakePath(path string) (string, string) {
	idx := strings.LastIndexByte(path, '/')
	if idx == 0 {
		return "/", path[1:]
	}
	return path[:idx], path[idx+1:]
}

func (s *FakeZookeeper) findNode(path string) *fakeZNode {
	n := s.root
	for _, name := range splitFakePath(path) {
		next, ok := n.children[name]
		if !ok {
			return nil
		}
		n = next
	}
	return n
}

func sortedChildren(n *fakeZNode) []string {
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (s *FakeZookeeper) ephemeralPaths(clientID FakeClientID) []string {
	var result []string
	var walk func(prefix string, n *fakeZNode)
	walk = func(prefix string, n *fakeZNode) {
		for _, name := range sortedChildren(n) {
			child := n.children[name]
			p := prefix + "/" + name
			if child.owner == clientID {
				result = append(result, p)
			}
			walk(p, child)
		}
	}
	walk("", s.root)
	return result
}

func (s *FakeZookeeper) nextZxid() jute.Zxid {
	s.zxid++
	return jute.Zxid(s.zxid)
}

func (s *FakeZookeeper) addWatch(clientID FakeClientID, path string, class string, watcher func(ev zk.Event)) {
	if watcher == nil {
		return
	}
	key := fakeWatchKey{path: path, class: class}
	s.watches[key] = append(s.watches[key], fakeWatch{client: clientID, watcher: watcher})
}

// fire removes and calls the watches of the classes on path.
func (s *FakeZookeeper) fire(path string, eventType zk.EventType, classes ...string) {
	var fired []fakeWatch
	for _, class := range classes {
		key := fakeWatchKey{path: path, class: class}
		fired = append(fired, s.watches[key]...)
		delete(s.watches, key)
	}
	for _, w := range fired {
		w.watcher(zk.Event{
			Type:  eventType,
			State: int32(zk.StateConnected),
			Path:  path,
		})
	}
}

func (s *FakeZookeeper) createNode(
	clientID FakeClientID, path string, data []byte, flags int32,
) (string, error) {
	if err := zk.ValidatePath(path, flags&zk.FlagSequence != 0); err != nil {
		return "", err
	}
	parentPath, name := parentFakePath(path)
	parent := s.findNode(parentPath)
	if parent == nil {
		return "", zk.NewError(zk.CodeNoNode, path)
	}
	if parent.owner != "" {
		return "", zk.NewError(zk.CodeNoChildrenForEphemerals, path)
	}

	if flags&zk.FlagSequence != 0 {
		name = fmt.Sprintf("%s%010d", name, parent.stat.Cversion)
	}
	if _, existed := parent.children[name]; existed {
		return "", zk.NewError(zk.CodeNodeExists, path)
	}

	zxid := s.nextZxid()
	n := &fakeZNode{
		name:     name,
		data:     data,
		children: map[string]*fakeZNode{},
		stat: zk.Stat{
			Czxid:      zxid,
			Mzxid:      zxid,
			Pzxid:      zxid,
			DataLength: int32(len(data)),
		},
	}
	if flags&zk.FlagEphemeral != 0 {
		n.owner = clientID
		n.stat.EphemeralOwner = s.States[clientID].SessionID
	}
	parent.children[name] = n
	parent.stat.Cversion++
	parent.stat.NumChildren++
	parent.stat.Pzxid = zxid

	created := parentPath + "/" + name
	if parentPath == "/" {
		created = "/" + name
	}
	s.fire(created, zk.EventNodeCreated, fakeWatchExists)
	s.fire(parentPath, zk.EventNodeChildrenChanged, fakeWatchChild)
	return created, nil
}

func (s *FakeZookeeper) deleteNode(path string, version int32) error {
	if path == "/" {
		return zk.NewError(zk.CodeBadArguments, path)
	}
	n := s.findNode(path)
	if n == nil {
		return zk.NewError(zk.CodeNoNode, path)
	}
	if version != -1 && version != n.stat.Version {
		return zk.NewError(zk.CodeBadVersion, path)
	}
	if len(n.children) > 0 {
		return zk.NewError(zk.CodeNotEmpty, path)
	}

	parentPath, name := parentFakePath(path)
	parent := s.findNode(parentPath)
	delete(parent.children, name)
	parent.stat.Cversion++
	parent.stat.NumChildren--
	parent.stat.Pzxid = s.nextZxid()

	s.fire(path, zk.EventNodeDeleted, fakeWatchData, fakeWatchChild)
	s.fire(parentPath, zk.EventNodeChildrenChanged, fakeWatchChild)
	return nil
}

func (s *FakeZookeeper) setNode(path string, data []byte, version int32) (zk.Stat, error) {
	n := s.findNode(path)
	if n == nil {
		return zk.Stat{}, zk.NewError(zk.CodeNoNode, path)
	}
	if version != -1 && version != n.stat.Version {
		return zk.Stat{}, zk.NewError(zk.CodeBadVersion, path)
	}
	n.data = data
	n.stat.Version++
	n.stat.Mzxid = s.nextZxid()
	n.stat.DataLength = int32(len(data))

	s.fire(path, zk.EventNodeDataChanged, fakeWatchData)
	return n.stat, nil
}

type fakeClient struct {
	store    *FakeZookeeper
	clientID FakeClientID
}

var _ Client = &fakeClient{}

func (c *fakeClient) zxid() jute.Zxid {
	return jute.Zxid(c.store.zxid)
}

func (c *fakeClient) Get(path string, callback func(resp zk.GetResponse, err error)) {
	c.GetW(path, callback, nil)
}

func (c *fakeClient) GetW(path string,
	callback func(resp zk.GetResponse, err error),
	watcher func(ev zk.Event),
) {
	c.store.enqueue(c.clientID, FakePendingCall{
		Op:   CallTypeGet,
		Path: path,
		apply: func() func() {
			n := c.store.findNode(path)
			if n == nil {
				return func() { callback(zk.GetResponse{}, zk.NewError(zk.CodeNoNode, path)) }
			}
			c.store.addWatch(c.clientID, path, fakeWatchData, watcher)
			resp := zk.GetResponse{Zxid: c.zxid(), Data: n.data, Stat: n.stat}
			return func() { callback(resp, nil) }
		},
		fail: func(err error) {
			callback(zk.GetResponse{}, err)
		},
	})
}

func (c *fakeClient) Children(path string, callback func(resp zk.ChildrenResponse, err error)) {
	c.ChildrenW(path, callback, nil)
}

func (c *fakeClient) ChildrenW(path string,
	callback func(resp zk.ChildrenResponse, err error),
	watcher func(ev zk.Event),
) {
	c.store.enqueue(c.clientID, FakePendingCall{
		Op:   CallTypeChildren,
		Path: path,
		apply: func() func() {
			n := c.store.findNode(path)
			if n == nil {
				return func() { callback(zk.ChildrenResponse{}, zk.NewError(zk.CodeNoNode, path)) }
			}
			c.store.addWatch(c.clientID, path, fakeWatchChild, watcher)
			resp := zk.ChildrenResponse{
				Zxid:     c.zxid(),
				Children: sortedChildren(n),
				Stat:     n.stat,
			}
			return func() { callback(resp, nil) }
		},
		fail: func(err error) {
			callback(zk.ChildrenResponse{}, err)
		},
	})
}

func (c *fakeClient) ExistsW(path string,
	callback func(resp zk.ExistsResponse, err error),
	watcher func(ev zk.Event),
) {
	c.store.enqueue(c.clientID, FakePendingCall{
		Op:   CallTypeExists,
		Path: path,
		apply: func() func() {
			n := c.store.findNode(path)
			if n == nil {
				c.store.addWatch(c.clientID, path, fakeWatchExists, watcher)
				return func() { callback(zk.ExistsResponse{}, zk.NewError(zk.CodeNoNode, path)) }
			}
			c.store.addWatch(c.clientID, path, fakeWatchData, watcher)
			resp := zk.ExistsResponse{Zxid: c.zxid(), Stat: n.stat}
			return func() { callback(resp, nil) }
		},
		fail: func(err error) {
			callback(zk.ExistsResponse{}, err)
		},
	})
}

func (c *fakeClient) Create(
	path string, data []byte, flags int32,
	callback func(resp zk.CreateResponse, err error),
) {
	c.store.enqueue(c.clientID, FakePendingCall{
		Op:   CallTypeCreate,
		Path: path,
		apply: func() func() {
			created, err := c.store.createNode(c.clientID, path, data, flags)
			if err != nil {
				return func() { callback(zk.CreateResponse{}, err) }
			}
			resp := zk.CreateResponse{Zxid: c.zxid(), Path: created}
			return func() { callback(resp, nil) }
		},
		fail: func(err error) {
			callback(zk.CreateResponse{}, err)
		},
	})
}

func (c *fakeClient) Set(path string, data []byte, version int32, callback func(resp zk.SetResponse, err error)) {
	c.store.enqueue(c.clientID, FakePendingCall{
		Op:   CallTypeSet,
		Path: path,
		apply: func() func() {
			stat, err := c.store.setNode(path, data, version)
			if err != nil {
				return func() { callback(zk.SetResponse{}, err) }
			}
			return func() { callback(zk.SetResponse{Zxid: c.zxid(), Stat: stat}, nil) }
		},
		fail: func(err error) {
			callback(zk.SetResponse{}, err)
		},
	})
}

func (c *fakeClient) Delete(path string, version int32, callback func(resp zk.DeleteResponse, err error)) {
	c.store.enqueue(c.clientID, FakePendingCall{
		Op:   CallTypeDelete,
		Path: path,
		apply: func() func() {
			if err := c.store.deleteNode(path, version); err != nil {
				return func() { callback(zk.DeleteResponse{}, err) }
			}
			return func() { callback(zk.DeleteResponse{Zxid: c.zxid()}, nil) }
		},
		fail: func(err error) {
			callback(zk.DeleteResponse{}, err)
		},
	})
}
