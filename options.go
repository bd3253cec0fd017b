package zk

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/QuangTung97/zksession/compress"
	"github.com/QuangTung97/zksession/jute"
)

const (
	DefaultSessionTimeout = 30 * time.Second
	DefaultSpinDelay      = 1 * time.Second
)

type options struct {
	sessionTimeout time.Duration
	spinDelay      time.Duration
	sessionID      int64
	passwd         []byte
	readOnly       bool

	logger    Logger
	dialFunc  func(addr string, timeout time.Duration) (NetworkConn, error)
	selector  ServerSelector
	sleepFunc func(d time.Duration)
	seed      int64

	stateCallbacks []func(state State)

	metricsRegistry prometheus.Registerer
	metricsOptions  []MetricsOption
	tracerProvider  trace.TracerProvider

	// used by Client only
	retryPolicy             RetryPolicy
	compression             compress.Provider
	sessEstablishedCallback func(c *Client)
	sessExpiredCallback     func(c *Client)
	reconnectingCallback    func(c *Client)
}

func defaultOptions() options {
	return options{
		sessionTimeout: DefaultSessionTimeout,
		spinDelay:      DefaultSpinDelay,
		passwd:         emptyPassword(),
		logger:         &defaultLoggerImpl{},
		dialFunc:       dialTCP,
		seed:           time.Now().UnixNano(),
	}
}

// Option ...
type Option func(opts *options)

// WithSessionTimeout sets the requested session timeout. The server may
// negotiate a different value.
func WithSessionTimeout(d time.Duration) Option {
	return func(opts *options) {
		opts.sessionTimeout = d
	}
}

// WithSpinDelay sets the upper bound of the random delay applied after
// every server of the ensemble failed to connect.
func WithSpinDelay(d time.Duration) Option {
	return func(opts *options) {
		opts.spinDelay = d
	}
}

// WithSession resumes an existing session instead of creating a new one.
func WithSession(sessionID []byte, passwd []byte) Option {
	return func(opts *options) {
		opts.sessionID = int64(jute.LongFromBytes(sessionID))
		opts.passwd = append([]byte(nil), passwd...)
	}
}

// WithReadOnly allows connecting to servers that are partitioned from the
// quorum. Writes fail with ErrNotReadOnly while such a session is active.
func WithReadOnly(readOnly bool) Option {
	return func(opts *options) {
		opts.readOnly = readOnly
	}
}

func WithLogger(l Logger) Option {
	return func(opts *options) {
		opts.logger = l
	}
}

func WithServerSelector(selector ServerSelector) Option {
	return func(opts *options) {
		opts.selector = selector
	}
}

func WithDialTimeoutFunc(
	dialFunc func(addr string, timeout time.Duration) (NetworkConn, error),
) Option {
	return func(opts *options) {
		opts.dialFunc = dialFunc
	}
}

// WithSleepFunc replaces the sleep used between connection cycles.
func WithSleepFunc(sleepFunc func(d time.Duration)) Option {
	return func(opts *options) {
		opts.sleepFunc = sleepFunc
	}
}

// WithSelectorSeed seeds the shuffle of the default server selector.
func WithSelectorSeed(seed int64) Option {
	return func(opts *options) {
		opts.seed = seed
	}
}

// WithStateCallback adds a callback called on every state change, from the
// same goroutine as request callbacks.
func WithStateCallback(callback func(state State)) Option {
	return func(opts *options) {
		opts.stateCallbacks = append(opts.stateCallbacks, callback)
	}
}

// WithMetrics registers the client metrics on registry.
func WithMetrics(registry prometheus.Registerer, metricsOptions ...MetricsOption) Option {
	return func(opts *options) {
		opts.metricsRegistry = registry
		opts.metricsOptions = metricsOptions
	}
}

// WithTracerProvider sets the provider of request spans. The global
// provider is used by default.
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(opts *options) {
		opts.tracerProvider = provider
	}
}

// WithRetryPolicy sets how Client retries requests failed by a connection loss.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(opts *options) {
		opts.retryPolicy = policy
	}
}

// WithCompression compresses node data written and read through Client.
func WithCompression(provider compress.Provider) Option {
	return func(opts *options) {
		opts.compression = provider
	}
}

func WithSessionEstablishedCallback(callback func(c *Client)) Option {
	return func(opts *options) {
		opts.sessEstablishedCallback = callback
	}
}

func WithSessionExpiredCallback(callback func(c *Client)) Option {
	return func(opts *options) {
		opts.sessExpiredCallback = callback
	}
}

func WithReconnectingCallback(callback func(c *Client)) Option {
	return func(opts *options) {
		opts.reconnectingCallback = callback
	}
}
