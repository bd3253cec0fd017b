package curator

import (
	"math/rand"
)

// FakeZookeeperTester for property-based testing
type FakeZookeeperTester struct {
	store   *FakeZookeeper
	clients []FakeClientID
	rand    *rand.Rand
}

// NewFakeZookeeperTester ...
func NewFakeZookeeperTester(
	store *FakeZookeeper,
	clients []FakeClientID,
	seed int64,
) *FakeZookeeperTester {
	return &FakeZookeeperTester{
		store:   store,
		clients: clients,
		rand:    rand.New(rand.NewSource(seed)),
	}
}

// Begin starts a session for every client.
func (f *FakeZookeeperTester) Begin() {
	for _, client := range f.clients {
		f.store.Begin(client)
	}
}

func (f *FakeZookeeperTester) isActionable(client FakeClientID) bool {
	state := f.store.States[client]
	if !state.HasSession {
		return false
	}
	return state.ConnErr || len(f.store.Pending[client]) > 0
}

// getActionableRandomClient returns a client having something to do. Clients
// without session get a new one when nobody else can progress.
func (f *FakeZookeeperTester) getActionableRandomClient() (FakeClientID, bool) {
	for {
		var clients []FakeClientID
		var expiredClients []FakeClientID
		for _, c := range f.clients {
			if !f.store.States[c].HasSession {
				expiredClients = append(expiredClients, c)
				continue
			}
			if f.isActionable(c) {
				clients = append(clients, c)
			}
		}

		if len(clients) > 0 {
			return clients[f.rand.Intn(len(clients))], true
		}
		if len(expiredClients) == 0 {
			return "", false
		}
		f.store.Begin(expiredClients[f.rand.Intn(len(expiredClients))])
	}
}

const randMax = 10000

func (f *FakeZookeeperTester) getRandomClient() FakeClientID {
	index := f.rand.Intn(len(f.clients))
	return f.clients[index]
}

type runConfig struct {
	opsErrorPercent float64
}

func (c runConfig) operationShouldError(randSource *rand.Rand) bool {
	if c.opsErrorPercent == 0 {
		return false
	}
	n := randSource.Intn(randMax)
	return n < int(c.opsErrorPercent/100.0*randMax)
}

func newRunConfig(options ...RunOption) runConfig {
	conf := runConfig{}
	for _, fn := range options {
		fn(&conf)
	}
	return conf
}

// RunOption configures RunSessionExpiredAndConnectionError.
type RunOption func(conf *runConfig)

// WithRunOperationErrorPercentage sets the percentage of applied calls whose
// reply is lost.
func WithRunOperationErrorPercentage(percent float64) RunOption {
	return func(conf *runConfig) {
		conf.opsErrorPercent = percent
	}
}

// RunSessionExpiredAndConnectionError runs at most numSteps random steps:
// session expiry, connection error, or progress of a random client. It
// returns the number of steps run, fewer than numSteps when no client has
// anything left to do.
func (f *FakeZookeeperTester) RunSessionExpiredAndConnectionError(
	sessionExpiredPercentage float64,
	connectionErrorPercentage float64,
	numSteps int,
	options ...RunOption,
) int {
	conf := newRunConfig(options...)

	sessionExpiredEnd := int(sessionExpiredPercentage / 100.0 * randMax)
	connectionErrorEnd := int(connectionErrorPercentage / 100.0 * randMax)

	for i := 0; i < numSteps; i++ {
		x := f.rand.Intn(randMax)
		if x < sessionExpiredEnd+connectionErrorEnd {
			client := f.getRandomClient()
			if !f.store.States[client].HasSession {
				f.store.Begin(client)
				continue
			}
			if x < sessionExpiredEnd {
				f.store.SessionExpired(client)
			} else if !f.store.States[client].ConnErr {
				f.store.ConnError(client)
			}
			continue
		}

		client, ok := f.getActionableRandomClient()
		if !ok {
			return i + 1
		}

		if f.store.States[client].ConnErr {
			f.store.Retry(client)
			continue
		}
		if conf.operationShouldError(f.rand) {
			f.store.ApplyNextLost(client)
		} else {
			f.store.ApplyNext(client)
		}
	}

	return numSteps
}
