// Package config loads the scanorch service configuration: Redis
// connection, worker tuning, the scanner pool/instance topology, the
// HTTP API, and housekeeping retention.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DataDir string `yaml:"data_dir"`

	Redis          RedisConfig          `yaml:"redis"`
	Worker         WorkerConfig         `yaml:"worker"`
	Pools          []PoolConfig         `yaml:"pools"`
	API            APIConfig            `yaml:"api"`
	Housekeeping   HousekeepingConfig   `yaml:"housekeeping"`
	Idempotency    IdempotencyConfig    `yaml:"idempotency"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type WorkerConfig struct {
	// Pools lists the queue pools this worker process consumes. Empty means all
	// pools named below.
	Pools              []string      `yaml:"pools"`
	MaxConcurrentScans int           `yaml:"max_concurrent_scans"`
	ScanTimeout        time.Duration `yaml:"scan_timeout"`
	PollInterval       time.Duration `yaml:"poll_interval"`
	DequeueTimeout     time.Duration `yaml:"dequeue_timeout"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`
}

// PoolConfig is one named group of interchangeable scanner instances.
type PoolConfig struct {
	Name      string           `yaml:"name"`
	Instances []InstanceConfig `yaml:"instances"`
}

// InstanceConfig configures a single upstream Nessus scanner endpoint.
// String fields accept ${VAR} / ${VAR:-default} environment interpolation.
type InstanceConfig struct {
	InstanceID         string `yaml:"instance_id"`
	Name               string `yaml:"name"`
	// Backend selects the scanner implementation: "nessus" (default) drives
	// a real Nessus endpoint over HTTPS; "mock" runs the in-memory
	// simulator, for local/CI use without a live scanner.
	Backend            string `yaml:"backend"`
	URL                string `yaml:"url"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	VerifySSL          *bool  `yaml:"verify_ssl"`
	Enabled            *bool  `yaml:"enabled"`
	MaxConcurrentScans int    `yaml:"max_concurrent_scans"`
}

func (i InstanceConfig) EnabledOrDefault() bool {
	if i.Enabled == nil {
		return true
	}
	return *i.Enabled
}

func (i InstanceConfig) BackendOrDefault() string {
	if i.Backend == "" {
		return "nessus"
	}
	return i.Backend
}

func (i InstanceConfig) VerifySSLOrDefault() bool {
	if i.VerifySSL == nil {
		return true
	}
	return *i.VerifySSL
}

type APIConfig struct {
	ListenAddr         string `yaml:"listen_addr"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
	ServiceToken       string `yaml:"service_token"`
}

type HousekeepingConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Schedule     string        `yaml:"schedule"` // cron expression
	CompletedTTL time.Duration `yaml:"completed_ttl"`
	FailedTTL    time.Duration `yaml:"failed_ttl"`
}

type IdempotencyConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

type CircuitBreakerConfig struct {
	FailureThreshold    int           `yaml:"failure_threshold"`
	RecoveryTimeout     time.Duration `yaml:"recovery_timeout"`
	HalfOpenMaxInFlight int           `yaml:"half_open_max_in_flight"`
}

const (
	defaultDataDir             = "./data"
	defaultAPIListenAddr       = ":8090"
	defaultMaxConcurrentScans  = 5
	defaultScanTimeout         = 24 * time.Hour
	defaultPollInterval        = 30 * time.Second
	defaultDequeueTimeout      = 5 * time.Second
	defaultShutdownTimeout     = 60 * time.Second
	defaultRateLimitPerMinute  = 60
	defaultCompletedTTL        = 7 * 24 * time.Hour
	defaultFailedTTL           = 30 * 24 * time.Hour
	defaultIdempotencyTTL      = 48 * time.Hour
	defaultFailureThreshold    = 5
	defaultRecoveryTimeout     = 30 * time.Second
	defaultHalfOpenMaxInFlight = 1
	defaultHousekeepingCron    = "@every 1h"
)

// Load reads a YAML config file, expanding ${VAR}/${VAR:-default} references
// in every string field, then applies defaults and validates the result. A
// missing path is treated as "use defaults" rather than an error, matching
// how the service behaves when run with no mounted config.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path == "" {
		return applyDefaults(cfg)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return applyDefaults(cfg)
		}
		return nil, err
	}

	expanded := expandEnvValue(DefaultEnvLookup, string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return applyDefaults(cfg)
}

func defaultConfig() *Config {
	return &Config{
		DataDir: defaultDataDir,
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Worker: WorkerConfig{
			MaxConcurrentScans: defaultMaxConcurrentScans,
			ScanTimeout:        defaultScanTimeout,
			PollInterval:       defaultPollInterval,
			DequeueTimeout:     defaultDequeueTimeout,
			ShutdownTimeout:    defaultShutdownTimeout,
		},
		API: APIConfig{
			ListenAddr:         defaultAPIListenAddr,
			RateLimitPerMinute: defaultRateLimitPerMinute,
		},
		Housekeeping: HousekeepingConfig{
			Schedule:     defaultHousekeepingCron,
			CompletedTTL: defaultCompletedTTL,
			FailedTTL:    defaultFailedTTL,
		},
		Idempotency: IdempotencyConfig{
			TTL: defaultIdempotencyTTL,
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold:    defaultFailureThreshold,
			RecoveryTimeout:     defaultRecoveryTimeout,
			HalfOpenMaxInFlight: defaultHalfOpenMaxInFlight,
		},
	}
}

func applyDefaults(cfg *Config) (*Config, error) {
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Worker.MaxConcurrentScans < 1 {
		cfg.Worker.MaxConcurrentScans = defaultMaxConcurrentScans
	}
	if cfg.Worker.ScanTimeout == 0 {
		cfg.Worker.ScanTimeout = defaultScanTimeout
	}
	if cfg.Worker.PollInterval == 0 {
		cfg.Worker.PollInterval = defaultPollInterval
	}
	if cfg.Worker.DequeueTimeout == 0 {
		cfg.Worker.DequeueTimeout = defaultDequeueTimeout
	}
	if cfg.Worker.ShutdownTimeout == 0 {
		cfg.Worker.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.API.RateLimitPerMinute == 0 {
		cfg.API.RateLimitPerMinute = defaultRateLimitPerMinute
	}
	if cfg.API.ListenAddr == "" {
		cfg.API.ListenAddr = defaultAPIListenAddr
	}
	if cfg.Housekeeping.Schedule == "" {
		cfg.Housekeeping.Schedule = defaultHousekeepingCron
	}
	if cfg.Housekeeping.CompletedTTL == 0 {
		cfg.Housekeeping.CompletedTTL = defaultCompletedTTL
	}
	if cfg.Housekeeping.FailedTTL == 0 {
		cfg.Housekeeping.FailedTTL = defaultFailedTTL
	}
	if cfg.Idempotency.TTL == 0 {
		cfg.Idempotency.TTL = defaultIdempotencyTTL
	}
	if cfg.CircuitBreaker.FailureThreshold < 1 {
		cfg.CircuitBreaker.FailureThreshold = defaultFailureThreshold
	}
	if cfg.CircuitBreaker.RecoveryTimeout == 0 {
		cfg.CircuitBreaker.RecoveryTimeout = defaultRecoveryTimeout
	}
	if cfg.CircuitBreaker.HalfOpenMaxInFlight < 1 {
		cfg.CircuitBreaker.HalfOpenMaxInFlight = defaultHalfOpenMaxInFlight
	}

	seen := make(map[string]struct{}, len(cfg.Pools))
	for _, pool := range cfg.Pools {
		if pool.Name == "" {
			return nil, fmt.Errorf("pools: name is required")
		}
		if _, ok := seen[pool.Name]; ok {
			return nil, fmt.Errorf("pools: duplicate pool name %q", pool.Name)
		}
		seen[pool.Name] = struct{}{}

		instanceIDs := make(map[string]struct{}, len(pool.Instances))
		for _, inst := range pool.Instances {
			if inst.InstanceID == "" {
				return nil, fmt.Errorf("pool %q: instance_id is required", pool.Name)
			}
			if _, ok := instanceIDs[inst.InstanceID]; ok {
				return nil, fmt.Errorf("pool %q: duplicate instance_id %q", pool.Name, inst.InstanceID)
			}
			instanceIDs[inst.InstanceID] = struct{}{}
			if inst.EnabledOrDefault() && inst.BackendOrDefault() == "nessus" && inst.URL == "" {
				return nil, fmt.Errorf("pool %q instance %q: url is required", pool.Name, inst.InstanceID)
			}
			switch inst.BackendOrDefault() {
			case "nessus", "mock":
			default:
				return nil, fmt.Errorf("pool %q instance %q: unsupported backend %q", pool.Name, inst.InstanceID, inst.Backend)
			}
		}
	}

	return cfg, nil
}

// DefaultPool returns the first configured pool name, matching the registry's
// notion of "the pool used when a request doesn't name one".
func (c *Config) DefaultPool() string {
	if len(c.Pools) == 0 {
		return ""
	}
	return c.Pools[0].Name
}

func (c *Config) Pool(name string) (PoolConfig, bool) {
	for _, p := range c.Pools {
		if p.Name == name {
			return p, true
		}
	}
	return PoolConfig{}, false
}
