package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

var ErrMissingRequiredValue = errors.New("missing required value")
var ErrInvalidValue = errors.New("invalid value")

type environment string

const (
	production  environment = "production"
	staging     environment = "staging"
	development environment = "development"
)

const (
	defaultPort            = "8123"
	defaultUpstreamBaseURL = "https://jsonplaceholder.typicode.com"
)

type Config struct {
	port                  string
	sentryDSN             string
	upstreamBaseURL       string
	dedupingInterval      time.Duration
	focusThrottleInterval time.Duration
	revalidateOnFocus     bool
	revalidateOnReconnect bool
	otelEnabled           bool
	corsDomainSuffixes    []string
	env                   environment
}

func (c *Config) Port() string {
	return c.port
}

func (c *Config) SentryDSN() string {
	return c.sentryDSN
}

func (c *Config) UpstreamBaseURL() string {
	return c.upstreamBaseURL
}

func (c *Config) DedupingInterval() time.Duration {
	return c.dedupingInterval
}

func (c *Config) FocusThrottleInterval() time.Duration {
	return c.focusThrottleInterval
}

func (c *Config) RevalidateOnFocus() bool {
	return c.revalidateOnFocus
}

func (c *Config) RevalidateOnReconnect() bool {
	return c.revalidateOnReconnect
}

func (c *Config) OTelEnabled() bool {
	return c.otelEnabled
}

// Domains (and their subdomains) allowed to call the api from a browser
func (c *Config) CORSDomainSuffixes() []string {
	return c.corsDomainSuffixes
}

func (c *Config) Environment() string {
	return string(c.env)
}

func (c *Config) IsProduction() bool {
	return c.env == production
}

func (c *Config) IsStaging() bool {
	return c.env == staging
}

func (c *Config) IsDevelopment() bool {
	return c.env == development
}

// Return a string representation suitable for logging etc
func (c *Config) NonSensitiveString() string {
	return fmt.Sprintf(
		"Config{env: %s, port: %s, upstream: %s, dedupingInterval: %s, focusThrottleInterval: %s, ...}",
		string(c.env),
		c.port,
		c.upstreamBaseURL,
		c.dedupingInterval,
		c.focusThrottleInterval,
	)
}

func ConfigFromEnv() (Config, error) {
	missingKey := func(key string) (Config, error) {
		return Config{}, fmt.Errorf("%w: %s", ErrMissingRequiredValue, key)
	}
	invalidValue := func(key, value string) (Config, error) {
		return Config{}, fmt.Errorf("%w: %s (%s)", ErrInvalidValue, key, value)
	}

	var env environment
	rawEnv, ok := os.LookupEnv("FLASHFETCH_ENVIRONMENT")
	if !ok {
		return missingKey("FLASHFETCH_ENVIRONMENT")
	}
	switch rawEnv {
	case "production":
		env = production
	case "staging":
		env = staging
	case "development":
		env = development
	default:
		return invalidValue("FLASHFETCH_ENVIRONMENT", rawEnv)
	}
	if string(env) == "" {
		panic("logic error: env is empty")
	}

	sentryDSN := os.Getenv("SENTRY_DSN")
	if (env == production || env == staging) && sentryDSN == "" {
		return missingKey("SENTRY_DSN")
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}
	if n, err := strconv.Atoi(port); err != nil || n <= 0 || n > 65535 {
		return invalidValue("PORT", port)
	}

	upstreamBaseURL := os.Getenv("UPSTREAM_BASE_URL")
	if upstreamBaseURL == "" {
		upstreamBaseURL = defaultUpstreamBaseURL
	}
	if parsed, err := url.Parse(upstreamBaseURL); err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return invalidValue("UPSTREAM_BASE_URL", upstreamBaseURL)
	}

	dedupingInterval, err := durationFromEnv("SWR_DEDUPING_INTERVAL", 2*time.Second)
	if err != nil {
		return Config{}, err
	}
	focusThrottleInterval, err := durationFromEnv("SWR_FOCUS_THROTTLE_INTERVAL", 5*time.Minute)
	if err != nil {
		return Config{}, err
	}
	revalidateOnFocus, err := boolFromEnv("SWR_REVALIDATE_ON_FOCUS", true)
	if err != nil {
		return Config{}, err
	}
	revalidateOnReconnect, err := boolFromEnv("SWR_REVALIDATE_ON_RECONNECT", true)
	if err != nil {
		return Config{}, err
	}
	otelEnabled, err := boolFromEnv("OTEL_ENABLED", env != development)
	if err != nil {
		return Config{}, err
	}

	var corsDomainSuffixes []string
	for _, suffix := range strings.Split(os.Getenv("CORS_DOMAIN_SUFFIXES"), ",") {
		suffix = strings.TrimSpace(suffix)
		if suffix == "" {
			continue
		}
		if strings.HasPrefix(suffix, ".") || strings.Contains(suffix, "://") {
			return invalidValue("CORS_DOMAIN_SUFFIXES", suffix)
		}
		corsDomainSuffixes = append(corsDomainSuffixes, suffix)
	}

	return Config{
		port:                  port,
		sentryDSN:             sentryDSN,
		upstreamBaseURL:       upstreamBaseURL,
		dedupingInterval:      dedupingInterval,
		focusThrottleInterval: focusThrottleInterval,
		revalidateOnFocus:     revalidateOnFocus,
		revalidateOnReconnect: revalidateOnReconnect,
		otelEnabled:           otelEnabled,
		corsDomainSuffixes:    corsDomainSuffixes,
		env:                   env,
	}, nil
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%w: %s (%s)", ErrInvalidValue, key, raw)
	}
	return d, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%w: %s (%s)", ErrInvalidValue, key, raw)
	}
	return b, nil
}
