package curator

// Curator keeps the Session of a recipe. A new Session is created every time a
// ZooKeeper session is established, the previous one becomes stale: Run and
// AddRetry on a stale Session do nothing.
type Curator struct {
	initFunc func(sess *Session)

	sess *Session
}

// SessionRunner is driven by the session lifecycle of a client.
type SessionRunner interface {
	// Begin is called when a new session is established.
	Begin(client Client)
	// Retry is called when the connection is re-established within the same session.
	Retry()
	// End is called when the session is expired or closed.
	End()
}

// Session represents one zookeeper session as seen by a Curator.
type Session struct {
	client     Client
	retryFuncs []func(sess *Session)
	cur        *Curator
}

// New creates a Curator with simple init function when session started
func New(
	initFunc func(sess *Session),
) *Curator {
	return &Curator{
		initFunc: initFunc,
	}
}

// ChainFunc is one step of a chain, next runs the remaining steps.
type ChainFunc func(sess *Session, next func(sess *Session))

// NewChain creates a chain of callbacks when next callback is called only after the previous callback allows.
// For example when doing locking, ONLY after the lock is granted the next callback could allow to run.
func NewChain(
	initFuncList ...ChainFunc,
) *Curator {
	next := func(sess *Session) {}
	for i := len(initFuncList) - 1; i >= 0; i-- {
		initFn := initFuncList[i]
		oldNext := next
		next = func(sess *Session) {
			initFn(sess, oldNext)
		}
	}
	return &Curator{
		initFunc: next,
	}
}

// Begin callback when new session is established
func (c *Curator) Begin(client Client) {
	c.sess = &Session{
		client: client,
		cur:    c,
	}
	c.initFunc(c.sess)
}

// Retry callback when new connection is established after disconnecting
func (c *Curator) Retry() {
	sess := c.sess
	if sess == nil {
		return
	}
	funcs := sess.retryFuncs
	sess.retryFuncs = nil
	for _, cb := range funcs {
		cb(sess)
	}
}

// End callback when current session is expired
func (c *Curator) End() {
	c.sess = nil
}

func (s *Session) isActive() bool {
	return s.cur.sess == s
}

// GetClient returns Client
func (s *Session) GetClient() Client {
	return s.client
}

// Run calls fn with the client only if s is still the current session.
func (s *Session) Run(fn func(client Client)) {
	if !s.isActive() {
		return
	}
	fn(s.client)
}

// AddRetry add a callback function that will be called after connection is re-established.
func (s *Session) AddRetry(callback func(sess *Session)) {
	if !s.isActive() {
		return
	}
	s.retryFuncs = append(s.retryFuncs, callback)
}
