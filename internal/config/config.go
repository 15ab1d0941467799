// Package config loads the feeder configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fentz26/petfeeder/internal/bridge"
	"github.com/fentz26/petfeeder/internal/changefeed"
	"github.com/fentz26/petfeeder/internal/janitor"
	"github.com/fentz26/petfeeder/internal/leader"
	"github.com/fentz26/petfeeder/internal/logx"
	"github.com/fentz26/petfeeder/internal/notify"
	"github.com/fentz26/petfeeder/internal/scheduler"
	"github.com/fentz26/petfeeder/internal/store"
	"gopkg.in/yaml.v3"
)

// DefaultAPIAddr is where the daemon serves the control plane.
const DefaultAPIAddr = "127.0.0.1:7466"

// Backends for the pluggable sections.
const (
	BackendStore    = "store"
	BackendFile     = "file"
	BackendNATS     = "nats"
	BackendLocal    = "local"
	BackendNone     = "none"
	BackendLog      = "log"
	BackendTelegram = "telegram"
)

// Config is the whole feeder configuration file.
type Config struct {
	// AccountID is the account the daemon evaluates schedules for.
	AccountID string `yaml:"account_id"`
	// DataDir holds the SQLite database, the file ledger and the lock file.
	DataDir string `yaml:"data_dir"`

	API        APIConfig        `yaml:"api"`
	Store      store.Config     `yaml:"store"`
	NATS       NATSConfig       `yaml:"nats"`
	Leader     LeaderConfig     `yaml:"leader"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	ChangeFeed ChangeFeedConfig `yaml:"changefeed"`
	Scheduler  scheduler.Config `yaml:"scheduler"`
	Bridge     bridge.Config    `yaml:"bridge"`
	Janitor    janitor.Config   `yaml:"janitor"`
	Notify     NotifyConfig     `yaml:"notify"`
	Log        logx.Config      `yaml:"log"`
}

// APIConfig configures the HTTP control plane.
type APIConfig struct {
	Addr string `yaml:"addr"`
}

// NATSConfig is the shared NATS connection.
type NATSConfig struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name"`
	// Embedded runs a JetStream-enabled server inside the daemon. Bridges on
	// other hosts reach it on Port.
	Embedded bool   `yaml:"embedded"`
	Port     int    `yaml:"port"`
	StoreDir string `yaml:"store_dir"`
}

// LeaderConfig selects where the scheduler lease lives.
type LeaderConfig struct {
	// Backend is store, file or nats.
	Backend string        `yaml:"backend"`
	Name    string        `yaml:"name"`
	TTL     time.Duration `yaml:"ttl"`
	// Bucket is the JetStream KV bucket for the nats backend.
	Bucket string `yaml:"bucket"`
	// LockFile is the flock path for the file backend.
	LockFile string `yaml:"lock_file"`
}

// LedgerConfig selects where the fired-slot ledger is kept.
type LedgerConfig struct {
	// Backend is store or file.
	Backend string `yaml:"backend"`
	Dir     string `yaml:"dir"`
}

// ChangeFeedConfig selects how command changes reach bridges.
type ChangeFeedConfig struct {
	// Backend is local, nats or none.
	Backend       string `yaml:"backend"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// NotifyConfig selects the operator alert sink.
type NotifyConfig struct {
	// Backend is log, telegram or none.
	Backend  string                `yaml:"backend"`
	Telegram notify.TelegramConfig `yaml:"telegram"`
}

// DefaultDataDir returns ~/.petfeeder.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".petfeeder"
	}
	return filepath.Join(home, ".petfeeder")
}

// DefaultPath returns the config file location used when none is given.
func DefaultPath() string {
	return filepath.Join(DefaultDataDir(), "config.yaml")
}

// Default returns a configuration that runs a single host on SQLite.
func Default() *Config {
	dataDir := DefaultDataDir()
	return &Config{
		DataDir: dataDir,
		API:     APIConfig{Addr: DefaultAPIAddr},
		Store: store.Config{
			Driver: store.DriverSQLite,
			Path:   filepath.Join(dataDir, "petfeeder.db"),
		},
		NATS: NATSConfig{Name: "petfeeder", Port: 4222, StoreDir: filepath.Join(dataDir, "nats")},
		Leader: LeaderConfig{
			Backend:  BackendStore,
			Name:     leader.DefaultLockName,
			TTL:      leader.DefaultTTL,
			Bucket:   leader.DefaultBucket,
			LockFile: filepath.Join(dataDir, "scheduler.lock"),
		},
		Ledger:     LedgerConfig{Backend: BackendStore, Dir: filepath.Join(dataDir, "ledger")},
		ChangeFeed: ChangeFeedConfig{Backend: BackendLocal, SubjectPrefix: changefeed.DefaultSubjectPrefix},
		Scheduler:  *scheduler.DefaultConfig(),
		Bridge:     *bridge.DefaultConfig(),
		Janitor:    *janitor.DefaultConfig(),
		Notify:     NotifyConfig{Backend: BackendLog},
		Log:        logx.Config{Level: "info", Console: true},
	}
}

// Parse decodes data over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Load reads path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Save writes cfg to path, creating parent directories if needed. Secrets
// are never written.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

func oneOf(field, v string, allowed ...string) error {
	for _, a := range allowed {
		if v == a {
			return nil
		}
	}
	return fmt.Errorf("invalid %s %q, must be: %s", field, v, strings.Join(allowed, ", "))
}

// Validate checks every section the daemon needs. The bridge section is
// checked by the bridge command since most hosts never run one.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.API.Addr) == "" {
		return fmt.Errorf("api addr is required")
	}
	if err := oneOf("store driver", c.Store.Driver, store.DriverSQLite, store.DriverPostgres); err != nil {
		return err
	}
	if c.Store.Driver == store.DriverSQLite && c.Store.Path == "" {
		return fmt.Errorf("store path is required for sqlite")
	}
	if c.Store.Driver == store.DriverPostgres && c.Store.DSN == "" {
		return fmt.Errorf("store dsn is required for postgres")
	}
	if err := oneOf("leader backend", c.Leader.Backend, BackendStore, BackendFile, BackendNATS); err != nil {
		return err
	}
	if c.Leader.Backend != BackendFile && c.Leader.TTL < time.Second {
		return fmt.Errorf("leader ttl must be at least 1s, got %s", c.Leader.TTL)
	}
	if err := oneOf("ledger backend", c.Ledger.Backend, BackendStore, BackendFile); err != nil {
		return err
	}
	if err := oneOf("changefeed backend", c.ChangeFeed.Backend, BackendLocal, BackendNATS, BackendNone); err != nil {
		return err
	}
	if (c.Leader.Backend == BackendNATS || c.ChangeFeed.Backend == BackendNATS) && c.NATS.URL == "" && !c.NATS.Embedded {
		return fmt.Errorf("nats url is required when a nats backend is selected")
	}
	if c.NATS.Embedded && (c.NATS.Port < 1 || c.NATS.Port > 65535) {
		return fmt.Errorf("nats port must be 1-65535, got %d", c.NATS.Port)
	}
	if err := oneOf("notify backend", c.Notify.Backend, BackendLog, BackendTelegram, BackendNone); err != nil {
		return err
	}
	if c.Notify.Backend == BackendTelegram && c.Notify.Telegram.ChatID == 0 {
		return fmt.Errorf("notify telegram chat_id is required")
	}
	if err := c.Scheduler.Validate(); err != nil {
		return err
	}
	return c.Janitor.Validate()
}
