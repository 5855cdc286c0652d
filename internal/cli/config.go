package cli

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cumba2321/classsync/internal/auth"
	"github.com/cumba2321/classsync/internal/feed"
	"github.com/cumba2321/classsync/internal/model"
)

// Config is the optional YAML configuration file. Flags given on the
// command line take precedence over it.
//
//	db: ./classsync.db
//	nats:
//	  url: nats://localhost:4222
//	  bucket: classsync
//	user: {user_id: prof, display_name: Prof Lee, role: instructor}
//	push_timeout: 15s
//	retry: {max_tries: 3, initial_interval: 200ms, max_interval: 5s}
//	metrics_addr: ":9090"
type Config struct {
	Database    string           `yaml:"db"`
	NATS        NATSConfig       `yaml:"nats"`
	User        auth.Identity    `yaml:"user"`
	PushTimeout time.Duration    `yaml:"push_timeout"`
	Retry       feed.RetryPolicy `yaml:"retry"`
	MetricsAddr string           `yaml:"metrics_addr"`
}

// NATSConfig selects the NATS JetStream key-value backend.
type NATSConfig struct {
	URL    string `yaml:"url"`
	Bucket string `yaml:"bucket"`
}

// Defaults applied after the config file and flags.
const (
	DefaultDatabase = "classsync.db"
	DefaultBucket   = "classsync"
)

// LoadConfig reads a config file. Unknown keys are rejected.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if cfg.User.Role != "" && !cfg.User.Role.Valid() {
		return nil, fmt.Errorf("config %s: invalid role %q", path, cfg.User.Role)
	}
	return &cfg, nil
}

// merge fills every field of c that is still zero from file.
func (c *Config) merge(file *Config) {
	if c.Database == "" {
		c.Database = file.Database
	}
	if c.NATS.URL == "" {
		c.NATS.URL = file.NATS.URL
	}
	if c.NATS.Bucket == "" {
		c.NATS.Bucket = file.NATS.Bucket
	}
	if c.User.UserID == "" {
		c.User.UserID = file.User.UserID
	}
	if c.User.DisplayName == "" {
		c.User.DisplayName = file.User.DisplayName
	}
	if c.User.Role == "" {
		c.User.Role = file.User.Role
	}
	if c.PushTimeout == 0 {
		c.PushTimeout = file.PushTimeout
	}
	if c.Retry.MaxTries == 0 {
		c.Retry = file.Retry
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = file.MetricsAddr
	}
}

func (c *Config) applyDefaults() {
	if c.Database == "" {
		c.Database = DefaultDatabase
	}
	if c.NATS.Bucket == "" {
		c.NATS.Bucket = DefaultBucket
	}
	if c.User.Role == "" {
		c.User.Role = model.RoleStudent
	}
	if c.User.DisplayName == "" {
		c.User.DisplayName = c.User.UserID
	}
	if c.Retry.MaxTries == 0 {
		c.Retry = feed.DefaultRetry
	}
}
