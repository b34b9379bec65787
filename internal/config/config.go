package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the project configuration file at the coordination root.
const FileName = "lodge.yml"

// Watch delivery modes.
const (
	ModePoll  = "poll"
	ModeEvent = "event"
	ModeRedis = "redis"
)

// LodgeConfig represents the top-level lodge.yml configuration
type LodgeConfig struct {
	Version   string          `yaml:"version"`
	Namespace string          `yaml:"namespace,omitempty"` // Redis channel namespace, defaults to the root directory name
	Mailbox   MailboxConfig   `yaml:"mailbox,omitempty"`
	Gate      GateConfig      `yaml:"gate,omitempty"`
	Locks     LocksConfig     `yaml:"locks,omitempty"`
	Contracts ContractsConfig `yaml:"contracts,omitempty"`
	Watch     WatchConfig     `yaml:"watch,omitempty"`
	Notify    NotifyConfig    `yaml:"notify,omitempty"`
}

// MailboxConfig controls message retention
type MailboxConfig struct {
	Retention int `yaml:"retention,omitempty"` // Default: 50
}

// GateConfig controls acquisition of the coordination gate
type GateConfig struct {
	Timeout string `yaml:"timeout,omitempty"` // Default: 10s
	Retry   string `yaml:"retry,omitempty"`   // Default: 100ms

	TimeoutDuration time.Duration `yaml:"-"`
	RetryDuration   time.Duration `yaml:"-"`
}

// LocksConfig controls advisory resource locks
type LocksConfig struct {
	TTL    string `yaml:"ttl,omitempty"`    // Default: 30m
	Notify string `yaml:"notify,omitempty"` // Agent told about every lock and unlock

	TTLDuration time.Duration `yaml:"-"`
}

// ContractsConfig controls the contract lease protocol
type ContractsConfig struct {
	HeartbeatFloor    string `yaml:"heartbeat_floor,omitempty"` // Default: 30s
	EnforceSafeguards bool   `yaml:"enforce_safeguards,omitempty"`

	HeartbeatFloorDuration time.Duration `yaml:"-"`
}

// WatchConfig controls the notification layer
type WatchConfig struct {
	Mode          string       `yaml:"mode,omitempty"`     // poll, event or redis. Default: poll
	Interval      string       `yaml:"interval,omitempty"` // Poll interval. Default: 5s
	Debounce      string       `yaml:"debounce,omitempty"` // Event coalescing window. Default: 600ms
	Alerts        AlertsConfig `yaml:"alerts,omitempty"`
	AutoReply     bool         `yaml:"auto_reply,omitempty"`
	AutoCommands  bool         `yaml:"auto_commands,omitempty"`
	ThreadPattern string       `yaml:"thread_pattern,omitempty"` // Regexp on message context. Default: ^(thread|discuss)[:/]
	PlanFile      string       `yaml:"plan_file,omitempty"`      // Relative to root. Default: PLAN.md

	IntervalDuration time.Duration  `yaml:"-"`
	DebounceDuration time.Duration  `yaml:"-"`
	ThreadRegexp     *regexp.Regexp `yaml:"-"`
}

// AlertsConfig toggles alert channels
type AlertsConfig struct {
	Visual  *bool `yaml:"visual,omitempty"` // Default: true
	Sound   bool  `yaml:"sound,omitempty"`
	Desktop bool  `yaml:"desktop,omitempty"`
}

// NotifyConfig configures cross-host wake-ups
type NotifyConfig struct {
	RedisURL string `yaml:"redis_url,omitempty"`
}

// Defaults
const (
	DefaultRetention      = 50
	DefaultGateTimeout    = 10 * time.Second
	DefaultGateRetry      = 100 * time.Millisecond
	DefaultLockTTL        = 30 * time.Minute
	DefaultHeartbeatFloor = 30 * time.Second
	DefaultWatchInterval  = 5 * time.Second
	DefaultDebounce       = 600 * time.Millisecond
	DefaultThreadPattern  = `^(thread|discuss)[:/]`
	DefaultPlanFile       = "PLAN.md"
)

// Default returns a validated configuration with every default applied.
func Default() *LodgeConfig {
	c := &LodgeConfig{Version: "1.0"}
	if err := c.Validate(); err != nil {
		panic(fmt.Sprintf("default configuration is invalid: %v", err))
	}
	return c
}

// Validate performs strict validation on the configuration and fills in
// defaults and parsed durations.
func (c *LodgeConfig) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Mailbox.Retention == 0 {
		c.Mailbox.Retention = DefaultRetention
	}
	if c.Mailbox.Retention < 1 {
		return fmt.Errorf("mailbox.retention must be >= 1, got %d", c.Mailbox.Retention)
	}

	var err error
	if c.Gate.TimeoutDuration, err = parseDuration("gate.timeout", c.Gate.Timeout, DefaultGateTimeout); err != nil {
		return err
	}
	if c.Gate.RetryDuration, err = parseDuration("gate.retry", c.Gate.Retry, DefaultGateRetry); err != nil {
		return err
	}
	if c.Locks.TTLDuration, err = parseDuration("locks.ttl", c.Locks.TTL, DefaultLockTTL); err != nil {
		return err
	}
	if c.Contracts.HeartbeatFloorDuration, err = parseDuration("contracts.heartbeat_floor", c.Contracts.HeartbeatFloor, DefaultHeartbeatFloor); err != nil {
		return err
	}
	if c.Watch.IntervalDuration, err = parseDuration("watch.interval", c.Watch.Interval, DefaultWatchInterval); err != nil {
		return err
	}
	if c.Watch.DebounceDuration, err = parseDuration("watch.debounce", c.Watch.Debounce, DefaultDebounce); err != nil {
		return err
	}

	if c.Watch.Mode == "" {
		c.Watch.Mode = ModePoll
	}
	switch c.Watch.Mode {
	case ModePoll, ModeEvent:
	case ModeRedis:
		if c.Notify.RedisURL == "" {
			return fmt.Errorf("watch.mode 'redis' requires notify.redis_url")
		}
	default:
		return fmt.Errorf("invalid watch.mode: %s (must be 'poll', 'event' or 'redis')", c.Watch.Mode)
	}

	if c.Watch.ThreadPattern == "" {
		c.Watch.ThreadPattern = DefaultThreadPattern
	}
	if c.Watch.ThreadRegexp, err = regexp.Compile(c.Watch.ThreadPattern); err != nil {
		return fmt.Errorf("invalid watch.thread_pattern: %w", err)
	}
	if c.Watch.PlanFile == "" {
		c.Watch.PlanFile = DefaultPlanFile
	}
	if filepath.IsAbs(c.Watch.PlanFile) {
		return fmt.Errorf("watch.plan_file must be relative to the project root, got %s", c.Watch.PlanFile)
	}
	if c.Watch.Alerts.Visual == nil {
		visual := true
		c.Watch.Alerts.Visual = &visual
	}

	return nil
}

func parseDuration(field, raw string, def time.Duration) (time.Duration, error) {
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", field, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", field, raw)
	}
	return d, nil
}

// Load reads and validates lodge.yml from the specified path.
// Unknown keys are rejected.
func Load(path string) (*LodgeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config LodgeConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// LoadRoot loads <root>/lodge.yml, falling back to Default when the file is absent.
func LoadRoot(root string) (*LodgeConfig, error) {
	path := filepath.Join(root, FileName)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		c := Default()
		c.Namespace = filepath.Base(root)
		return c, nil
	}
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	if c.Namespace == "" {
		c.Namespace = filepath.Base(root)
	}
	return c, nil
}
