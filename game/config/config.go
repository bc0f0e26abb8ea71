package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"
)

var (
	ErrInvalidConfig = errors.New("invalid configuration")
)

// OfflinePolicy decides what happens to a session that times out
type OfflinePolicy string

const (
	OfflineSoft  OfflinePolicy = "soft"
	OfflineEvict OfflinePolicy = "evict"
)

// UnknownSessionPolicy decides how a register with an unknown id is handled
type UnknownSessionPolicy string

const (
	UnknownSessionReject UnknownSessionPolicy = "reject"
	UnknownSessionCreate UnknownSessionPolicy = "create"
)

// Store backends
const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
	StoreNone   = "none"
)

// Duration is a time.Duration that reads "60s" or 60 from JSON
type Duration time.Duration

// D returns the value as a time.Duration
func (d Duration) D() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value * float64(time.Second)))
		return nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		*d = Duration(parsed)
		return nil
	default:
		return fmt.Errorf("invalid duration %s", string(data))
	}
}

// Config holds every server tunable
type Config struct {
	UDPAddr  string `json:"udp_addr"`
	HTTPAddr string `json:"http_addr"`

	OnlineTimeout Duration `json:"online_timeout"`
	SweepInterval Duration `json:"sweep_interval"`
	SaveInterval  Duration `json:"save_interval"`

	OfflinePolicy        OfflinePolicy        `json:"offline_policy"`
	UnknownSessionPolicy UnknownSessionPolicy `json:"unknown_session_policy"`

	Store            string `json:"store"`
	StorePath        string `json:"store_path"`
	PersistFullState bool   `json:"persist_full_state"`

	Workers     int     `json:"workers"`
	QueueSize   int     `json:"queue_size"`
	RateLimit   float64 `json:"rate_limit"`
	RateBurst   int     `json:"rate_burst"`
	MaxDatagram int     `json:"max_datagram"`

	LogFile  string `json:"log_file"`
	LogLevel string `json:"log_level"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		UDPAddr:              "127.0.0.1:8888",
		HTTPAddr:             "localhost:8080",
		OnlineTimeout:        Duration(60 * time.Second),
		SweepInterval:        Duration(5 * time.Second),
		SaveInterval:         Duration(30 * time.Second),
		OfflinePolicy:        OfflineSoft,
		UnknownSessionPolicy: UnknownSessionReject,
		Store:                StoreFile,
		StorePath:            "uuid_storage.json",
		Workers:              32,
		QueueSize:            1024,
		RateLimit:            50,
		RateBurst:            100,
		MaxDatagram:          2048,
		LogLevel:             "info",
	}
}

// Load reads a JSON file over the defaults. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return cfg, nil
}

// Save writes the configuration as indented JSON
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate reports every problem found, wrapped in ErrInvalidConfig
func (c *Config) Validate() error {
	var problems []string

	if _, _, err := net.SplitHostPort(c.UDPAddr); err != nil {
		problems = append(problems, fmt.Sprintf("udp_addr %q: %v", c.UDPAddr, err))
	}
	if c.HTTPAddr != "" {
		if _, _, err := net.SplitHostPort(c.HTTPAddr); err != nil {
			problems = append(problems, fmt.Sprintf("http_addr %q: %v", c.HTTPAddr, err))
		}
	}
	if c.OnlineTimeout <= 0 {
		problems = append(problems, "online_timeout must be positive")
	}
	if c.SweepInterval <= 0 {
		problems = append(problems, "sweep_interval must be positive")
	}
	if c.SaveInterval < c.SweepInterval {
		problems = append(problems, "save_interval must be at least sweep_interval")
	}
	switch c.OfflinePolicy {
	case OfflineSoft, OfflineEvict:
	default:
		problems = append(problems, fmt.Sprintf("offline_policy %q must be soft or evict", c.OfflinePolicy))
	}
	switch c.UnknownSessionPolicy {
	case UnknownSessionReject, UnknownSessionCreate:
	default:
		problems = append(problems, fmt.Sprintf("unknown_session_policy %q must be reject or create", c.UnknownSessionPolicy))
	}
	switch c.Store {
	case StoreFile, StoreSQLite:
		if c.StorePath == "" {
			problems = append(problems, "store_path is required for store "+c.Store)
		}
	case StoreNone:
	default:
		problems = append(problems, fmt.Sprintf("store %q must be file, sqlite or none", c.Store))
	}
	if c.Workers <= 0 {
		problems = append(problems, "workers must be positive")
	}
	if c.QueueSize <= 0 {
		problems = append(problems, "queue_size must be positive")
	}
	if c.RateLimit < 0 {
		problems = append(problems, "rate_limit must not be negative")
	}
	if c.RateLimit > 0 && c.RateBurst <= 0 {
		problems = append(problems, "rate_burst must be positive when rate_limit is set")
	}
	if c.MaxDatagram < 512 || c.MaxDatagram > 65507 {
		problems = append(problems, "max_datagram must be within [512, 65507]")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// SaveEvery returns how many sweeps elapse between periodic saves
func (c *Config) SaveEvery() int {
	n := int(c.SaveInterval.D() / c.SweepInterval.D())
	if n < 1 {
		return 1
	}
	return n
}
