// Package config loads client settings from a YAML file.
//
// Example:
//
//	connect: "zk1:2181,zk2:2181,zk3:2181/app"
//	session_timeout: 30s
//	spin_delay: 1s
//	read_only: false
//	compression: zstd
//	retry:
//	  max_retries: 3
//	  base_sleep: 100ms
//	  max_sleep: 5s
//	auth:
//	  - scheme: digest
//	    auth: "user:password"
//	metrics:
//	  namespace: myapp
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	zk "github.com/QuangTung97/zksession"
	"github.com/QuangTung97/zksession/compress"
	"github.com/QuangTung97/zksession/jute"
)

// EnvVar names the environment variable read by Load.
const EnvVar = "ZK_CONFIG"

// Config is the client configuration.
type Config struct {
	// Connect is the connection string "host1:port1,host2:port2/chroot".
	Connect string `yaml:"connect"`

	SessionTimeout string `yaml:"session_timeout"`
	SpinDelay      string `yaml:"spin_delay"`

	// ReadOnly allows sessions with servers partitioned from the quorum.
	ReadOnly bool `yaml:"read_only"`

	// Compression is one of none, gzip, zstd or lz4.
	Compression string `yaml:"compression"`

	Retry   RetryConfig   `yaml:"retry"`
	Auth    []AuthConfig  `yaml:"auth"`
	Session SessionConfig `yaml:"session"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// RetryConfig configures the exponential backoff on connection loss.
type RetryConfig struct {
	MaxRetries int    `yaml:"max_retries"`
	BaseSleep  string `yaml:"base_sleep"`
	MaxSleep   string `yaml:"max_sleep"`
}

// AuthConfig is one credential, added to every session.
type AuthConfig struct {
	Scheme string `yaml:"scheme"`
	Auth   string `yaml:"auth"`
}

// SessionConfig resumes an existing session.
type SessionConfig struct {
	// ID is the session id, decimal or 0x prefixed hex.
	ID string `yaml:"id"`
	// Password is base64 encoded.
	Password string `yaml:"password"`
}

// MetricsConfig sets the names of the prometheus metrics. Registration
// itself is done by the caller with zk.WithMetrics.
type MetricsConfig struct {
	Namespace string `yaml:"namespace"`
}

// Default returns the configuration used for absent keys.
func Default() *Config {
	return &Config{
		SessionTimeout: "30s",
		SpinDelay:      "1s",
		Compression:    "none",
		Retry: RetryConfig{
			BaseSleep: "100ms",
		},
	}
}

// Load loads configuration from the file named by the ZK_CONFIG environment
// variable.
func Load() (*Config, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set", EnvVar)
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML on top of Default and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every field without connecting.
func (c *Config) Validate() error {
	if c.Connect == "" {
		return errors.New("config: connect must not be empty")
	}
	if _, err := zk.ParseConnectionString(c.Connect); err != nil {
		return fmt.Errorf("config: connect: %w", err)
	}
	if _, err := c.Options(); err != nil {
		return err
	}
	for i, auth := range c.Auth {
		if auth.Scheme == "" {
			return fmt.Errorf("config: auth[%d]: %w", i, zk.ErrEmptyAuthScheme)
		}
	}
	return nil
}

func parseDuration(name string, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", name, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("config: %s must not be negative", name)
	}
	return d, nil
}

// Options converts the configuration to client options. Credentials are
// not options, NewClient adds them.
func (c *Config) Options() ([]zk.Option, error) {
	var opts []zk.Option

	sessionTimeout, err := parseDuration("session_timeout", c.SessionTimeout)
	if err != nil {
		return nil, err
	}
	if sessionTimeout > 0 {
		opts = append(opts, zk.WithSessionTimeout(sessionTimeout))
	}

	spinDelay, err := parseDuration("spin_delay", c.SpinDelay)
	if err != nil {
		return nil, err
	}
	opts = append(opts, zk.WithSpinDelay(spinDelay))

	if c.ReadOnly {
		opts = append(opts, zk.WithReadOnly(true))
	}

	provider, err := compress.Parse(c.Compression)
	if err != nil {
		return nil, fmt.Errorf("config: compression: %w", err)
	}
	opts = append(opts, zk.WithCompression(provider))

	if c.Retry.MaxRetries > 0 {
		base, err := parseDuration("retry.base_sleep", c.Retry.BaseSleep)
		if err != nil {
			return nil, err
		}
		maxSleep, err := parseDuration("retry.max_sleep", c.Retry.MaxSleep)
		if err != nil {
			return nil, err
		}
		opts = append(opts, zk.WithRetryPolicy(
			zk.NewExponentialBackoffRetry(base, c.Retry.MaxRetries, maxSleep),
		))
	}

	if c.Session.ID != "" {
		sessionOpt, err := c.Session.option()
		if err != nil {
			return nil, err
		}
		opts = append(opts, sessionOpt)
	}

	return opts, nil
}

func (s SessionConfig) option() (zk.Option, error) {
	id, err := strconv.ParseUint(s.ID, 0, 64)
	if err != nil {
		return nil, fmt.Errorf("config: session.id: %w", err)
	}
	passwd, err := base64.StdEncoding.DecodeString(s.Password)
	if err != nil {
		return nil, fmt.Errorf("config: session.password: %w", err)
	}
	return zk.WithSession(jute.Long(id).Bytes(), passwd), nil
}

// MetricsOptions returns the naming options for zk.WithMetrics.
func (c *Config) MetricsOptions() []zk.MetricsOption {
	if c.Metrics.Namespace == "" {
		return nil
	}
	return []zk.MetricsOption{zk.WithMetricsNamespace(c.Metrics.Namespace)}
}

// NewClient creates a client from the configuration, extra options are
// applied last.
func (c *Config) NewClient(extra ...zk.Option) (*zk.Client, error) {
	opts, err := c.Options()
	if err != nil {
		return nil, err
	}
	opts = append(opts, extra...)

	client, err := zk.NewClientFromConnString(c.Connect, opts...)
	if err != nil {
		return nil, err
	}

	for _, auth := range c.Auth {
		if err := client.AddAuth(auth.Scheme, []byte(auth.Auth)); err != nil {
			client.Close()
			return nil, err
		}
	}
	return client, nil
}
