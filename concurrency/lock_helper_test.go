package concurrency

import (
	"fmt"

	"github.com/QuangTung97/zksession/curator"
)

// grantTracker records lock grants and checks that no two live sessions
// hold the lock at the same time.
type grantTracker struct {
	store *curator.FakeZookeeper

	holders    map[curator.FakeClientID]int64 // client => session id when granted
	numGranted int
	violations []string
}

func newGrantTracker(store *curator.FakeZookeeper) *grantTracker {
	return &grantTracker{
		store:   store,
		holders: map[curator.FakeClientID]int64{},
	}
}

func (g *grantTracker) isHolding(client curator.FakeClientID) bool {
	sessionID, ok := g.holders[client]
	if !ok {
		return false
	}
	state := g.store.States[client]
	return state.HasSession && state.SessionID == sessionID
}

func (g *grantTracker) onGranted(client curator.FakeClientID) func(sess *curator.Session) {
	return func(sess *curator.Session) {
		for other := range g.holders {
			if other == client {
				continue
			}
			if g.isHolding(other) {
				g.violations = append(g.violations, fmt.Sprintf("%s granted while %s holding", client, other))
			}
		}
		g.holders[client] = g.store.States[client].SessionID
		g.numGranted++
	}
}

func (g *grantTracker) numHolding() int {
	count := 0
	for client := range g.holders {
		if g.isHolding(client) {
			count++
		}
	}
	return count
}
