package zk

import (
	"math/rand"
	"sync"
	"time"
)

// SelectNextOutput is the server to dial next. RetryStart is set on the last
// member of a cycle, RetryDelay is how long to wait if that attempt fails
// too before the next cycle starts.
type SelectNextOutput struct {
	Server     string
	RetryStart bool
	RetryDelay time.Duration
}

// ServerSelector chooses which ensemble member to dial.
type ServerSelector interface {
	Init(servers []string)
	Next() SelectNextOutput
	NotifyConnected()
}

// ServerListSelector walks a shuffled server list round-robin. After a
// connection is established the same server is retried first.
type ServerListSelector struct {
	mut          sync.Mutex
	servers      []string
	lastIndex    int
	numNextCalls int
	rand         *rand.Rand
	notified     bool
	spinDelay    time.Duration
}

// NewServerListSelector creates a selector whose full-cycle delay is drawn
// uniformly from [0, spinDelay].
func NewServerListSelector(seed int64, spinDelay time.Duration) ServerSelector {
	return &ServerListSelector{
		rand:      rand.New(rand.NewSource(seed)),
		spinDelay: spinDelay,
	}
}

func (s *ServerListSelector) Init(servers []string) {
	s.mut.Lock()
	defer s.mut.Unlock()

	s.servers = FormatServers(servers)
	stringShuffleRand(s.servers, s.rand)
	s.lastIndex = -1
	s.numNextCalls = 0
}

func (s *ServerListSelector) Next() SelectNextOutput {
	s.mut.Lock()
	defer s.mut.Unlock()

	s.notified = false

	s.lastIndex++
	s.lastIndex = s.lastIndex % len(s.servers)
	s.numNextCalls++

	output := SelectNextOutput{
		Server: s.servers[s.lastIndex],
	}
	if s.numNextCalls >= len(s.servers) {
		s.numNextCalls = 0
		output.RetryStart = true
		if s.spinDelay > 0 {
			output.RetryDelay = time.Duration(s.rand.Int63n(int64(s.spinDelay) + 1))
		}
	}
	return output
}

func (s *ServerListSelector) NotifyConnected() {
	s.mut.Lock()
	defer s.mut.Unlock()
	if s.notified {
		return
	}
	s.lastIndex--
	s.notified = true
	s.numNextCalls = 0
}

func stringShuffleRand(s []string, r *rand.Rand) {
	r.Shuffle(len(s), func(i, j int) {
		s[i], s[j] = s[j], s[i]
	})
}
