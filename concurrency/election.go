package concurrency

import (
	zk "github.com/QuangTung97/zksession"
	"github.com/QuangTung97/zksession/curator"
)

// Election elects as leader the holder of the lock on parent.
type Election struct {
	parent string
	lock   *Lock
}

// NewElection creates an election, onLeader is called when nodeID becomes
// leader for the current session.
func NewElection(
	parent string,
	nodeID string,
	onLeader func(sess *curator.Session),
	options ...LockOption,
) *Election {
	return &Election{
		parent: parent,
		lock:   NewLock(parent, nodeID, onLeader, options...),
	}
}

// Curator returns the runner to start with a curator.ClientFactory.
func (e *Election) Curator() *curator.Curator {
	return e.lock.Curator()
}

// Resign gives up the leadership for the rest of the session.
func (e *Election) Resign(sess *curator.Session, callback func(err error)) {
	e.lock.Release(sess, callback)
}

// Leader reports the node id of the current leader of parent, empty when
// nobody is contending.
func Leader(client curator.Client, parent string, callback func(nodeID string, err error)) {
	client.Children(parent, func(resp zk.ChildrenResponse, err error) {
		if err != nil {
			callback("", err)
			return
		}
		nodes := sortLockNodes(resp.Children)
		if len(nodes) == 0 {
			callback("", nil)
			return
		}
		callback(nodes[0].nodeID, nil)
	})
}
