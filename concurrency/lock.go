package concurrency

import (
	"errors"
	"slices"
	"strings"

	zk "github.com/QuangTung97/zksession"
	"github.com/QuangTung97/zksession/curator"
)

// Lock is a distributed lock over the children of parent. Every contender
// creates an ephemeral sequential node "node:<nodeID>-<seq>", the lowest
// sequence holds the lock and the others watch their predecessor.
type Lock struct {
	parent    string
	nodeID    string
	onGranted func(sess *curator.Session)
	onError   func(err error)

	cur *curator.Curator

	grantedSess *curator.Session
	ownPath     string
}

// LockOption configures a Lock.
type LockOption func(l *Lock)

// WithLockErrorHandler is called with errors other than connection loss and
// session expiry. The lock attempt stops until the next session.
func WithLockErrorHandler(fn func(err error)) LockOption {
	return func(l *Lock) {
		l.onError = fn
	}
}

// NewLock creates a lock, onGranted is called at most once per session.
func NewLock(
	parent string, nodeID string,
	onGranted func(sess *curator.Session),
	options ...LockOption,
) *Lock {
	e := &Lock{
		nodeID:    nodeID,
		parent:    parent,
		onGranted: onGranted,
		onError:   func(err error) {},
	}
	for _, fn := range options {
		fn(e)
	}
	e.cur = curator.New(e.initFunc)
	return e
}

type lockStatus int

const (
	lockStatusBlocked lockStatus = iota + 1
	lockStatusNeedCreate
	lockStatusGranted
)

func (e *Lock) handleError(sess *curator.Session, err error) {
	switch {
	case errors.Is(err, zk.ErrConnectionLoss):
		sess.AddRetry(e.initFunc)
	case errors.Is(err, zk.ErrSessionExpired), errors.Is(err, zk.ErrClientClosed):
	default:
		e.onError(err)
	}
}

func (e *Lock) initFunc(sess *curator.Session) {
	if e.grantedSess == sess {
		return
	}
	sess.Run(func(client curator.Client) {
		client.Children(e.parent, func(resp zk.ChildrenResponse, err error) {
			if err != nil {
				e.handleError(sess, err)
				return
			}

			status, prevNode := e.computeLockStatus(resp.Children)
			switch status {
			case lockStatusNeedCreate:
				e.createEphemeral(sess)
			case lockStatusBlocked:
				e.watchPreviousNode(sess, prevNode)
			default:
				e.granted(sess)
			}
		})
	})
}

type lockNode struct {
	raw    string
	nodeID string
	seq    string
}

func parseLockNode(name string) (lockNode, bool) {
	rest, ok := strings.CutPrefix(name, "node:")
	if !ok {
		return lockNode{}, false
	}
	idx := strings.LastIndexByte(rest, '-')
	if idx < 0 {
		return lockNode{}, false
	}
	return lockNode{
		raw:    name,
		nodeID: rest[:idx],
		seq:    rest[idx+1:],
	}, true
}

func sortLockNodes(children []string) []lockNode {
	nodes := make([]lockNode, 0, len(children))
	for _, child := range children {
		n, ok := parseLockNode(child)
		if !ok {
			continue
		}
		nodes = append(nodes, n)
	}
	slices.SortFunc(nodes, func(a, b lockNode) int {
		return strings.Compare(a.seq, b.seq)
	})
	return nodes
}

func (e *Lock) computeLockStatus(children []string) (lockStatus, string) {
	nodes := sortLockNodes(children)
	for i, n := range nodes {
		if n.nodeID != e.nodeID {
			continue
		}
		e.ownPath = e.parent + "/" + n.raw
		if i == 0 {
			return lockStatusGranted, ""
		}
		return lockStatusBlocked, e.parent + "/" + nodes[i-1].raw
	}
	return lockStatusNeedCreate, ""
}

func (e *Lock) granted(sess *curator.Session) {
	if e.grantedSess == sess {
		return
	}
	e.grantedSess = sess
	e.onGranted(sess)
}

func (e *Lock) createEphemeral(sess *curator.Session) {
	sess.Run(func(client curator.Client) {
		p := e.parent + "/node:" + e.nodeID + "-"
		client.Create(p, nil, zk.FlagEphemeral|zk.FlagSequence,
			func(resp zk.CreateResponse, err error) {
				if err != nil {
					e.handleError(sess, err)
					return
				}
				e.initFunc(sess)
			},
		)
	})
}

func (e *Lock) watchPreviousNode(sess *curator.Session, prevNode string) {
	sess.Run(func(client curator.Client) {
		client.ExistsW(prevNode, func(resp zk.ExistsResponse, err error) {
			if err == nil {
				return
			}
			if errors.Is(err, zk.ErrNoNode) {
				e.initFunc(sess)
				return
			}
			e.handleError(sess, err)
		}, func(ev zk.Event) {
			if ev.Type == zk.EventNodeDeleted {
				e.initFunc(sess)
			}
		})
	})
}

// Release deletes the node of a granted lock. The lock is requested again
// only in the next session.
func (e *Lock) Release(sess *curator.Session, callback func(err error)) {
	if e.grantedSess != sess || e.ownPath == "" {
		callback(nil)
		return
	}
	ownPath := e.ownPath
	e.ownPath = ""
	sess.Run(func(client curator.Client) {
		client.Delete(ownPath, -1, func(resp zk.DeleteResponse, err error) {
			if errors.Is(err, zk.ErrNoNode) {
				err = nil
			}
			callback(err)
		})
	})
}

// Curator returns the runner to start with a curator.ClientFactory.
func (e *Lock) Curator() *curator.Curator {
	return e.cur
}
