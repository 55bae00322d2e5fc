package swr

import "time"

const (
	DefaultDedupingInterval      = 2 * time.Second
	DefaultFocusThrottleInterval = 5 * time.Minute
	DefaultRetrievalTimeout      = 10 * time.Second
)

// Config controls when a Loader revalidates its key.
type Config struct {
	RevalidateOnFocus     bool
	RevalidateOnReconnect bool
	// Calls for the same key within this interval of the last initiated
	// retrieval share that retrieval instead of starting a new one
	DedupingInterval time.Duration
	// Minimum spacing between focus-triggered revalidations of one Loader
	FocusThrottleInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		RevalidateOnFocus:     true,
		RevalidateOnReconnect: true,
		DedupingInterval:      DefaultDedupingInterval,
		FocusThrottleInterval: DefaultFocusThrottleInterval,
	}
}

type Option func(*Config)

func WithRevalidateOnFocus(enabled bool) Option {
	return func(c *Config) {
		c.RevalidateOnFocus = enabled
	}
}

func WithRevalidateOnReconnect(enabled bool) Option {
	return func(c *Config) {
		c.RevalidateOnReconnect = enabled
	}
}

func WithDedupingInterval(interval time.Duration) Option {
	return func(c *Config) {
		c.DedupingInterval = interval
	}
}

func WithFocusThrottleInterval(interval time.Duration) Option {
	return func(c *Config) {
		c.FocusThrottleInterval = interval
	}
}

// WithConfig replaces the whole config, typically with one loaded at startup
func WithConfig(config Config) Option {
	return func(c *Config) {
		*c = config
	}
}

func NewConfig(opts ...Option) Config {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return config
}

type cacheConfig struct {
	nowFunc          func() time.Time
	retrievalTimeout time.Duration
	name             string
}

type CacheOption func(*cacheConfig)

func WithNowFunc(nowFunc func() time.Time) CacheOption {
	return func(c *cacheConfig) {
		c.nowFunc = nowFunc
	}
}

func WithRetrievalTimeout(timeout time.Duration) CacheOption {
	return func(c *cacheConfig) {
		c.retrievalTimeout = timeout
	}
}

// WithName sets the name used in logs and metrics for this cache
func WithName(name string) CacheOption {
	return func(c *cacheConfig) {
		c.name = name
	}
}
