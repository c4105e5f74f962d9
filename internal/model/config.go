// Package model defines lampdesk's request workflow types and configuration.
package model

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

type Config struct {
	Project ProjectConfig `yaml:"project"`
	API     APIConfig     `yaml:"api"`
	Session SessionConfig `yaml:"session"`
	Notify  NotifyConfig  `yaml:"notify"`
	Audit   AuditConfig   `yaml:"audit"`
	Logging LoggingConfig `yaml:"logging"`
}

type ProjectConfig struct {
	Name    string `yaml:"name"`
	Created string `yaml:"created"`
}

type APIConfig struct {
	BaseURL      string  `yaml:"base_url"`
	RequestsPath string  `yaml:"requests_path"`
	TimeoutSec   int     `yaml:"timeout_sec"`
	RatePerSec   float64 `yaml:"rate_per_sec"`
	Burst        int     `yaml:"burst"`
	TokenFile    string  `yaml:"token_file"` // relative paths resolve against .lampdesk/
}

// Timeout is the limit for a single backend call.
func (c APIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// CommandTimeout bounds one session command. A transition under the refetch
// policy makes two backend calls, and the rate limiter may delay each.
func (c APIConfig) CommandTimeout() time.Duration {
	return 2*c.Timeout() + 5*time.Second
}

// AggregatePolicy decides how per-status counts follow a committed transition.
type AggregatePolicy string

const (
	AggregateAdjust  AggregatePolicy = "adjust"  // decrement old bucket, increment new
	AggregateRefetch AggregatePolicy = "refetch" // re-read counts from the backend
)

type SessionConfig struct {
	AggregatePolicy    AggregatePolicy `yaml:"aggregate_policy"`
	ShutdownTimeoutSec int             `yaml:"shutdown_timeout_sec"`
}

type NotifyConfig struct {
	Desktop     bool   `yaml:"desktop"`
	NATSURL     string `yaml:"nats_url,omitempty"`
	NATSSubject string `yaml:"nats_subject,omitempty"`
}

type AuditConfig struct {
	Path     string `yaml:"path"`
	MaxBytes int64  `yaml:"max_bytes"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

const (
	// DefaultPageSize is the backend page size; page totals are derived from it.
	DefaultPageSize     = 10
	DefaultRequestsPath = "/api/service-requests"
	DefaultNATSSubject  = "lampdesk.requests.status"
)

// ApplyDefaults fills zero values. It never overrides explicit settings.
func (c *Config) ApplyDefaults() {
	if c.API.RequestsPath == "" {
		c.API.RequestsPath = DefaultRequestsPath
	}
	if c.API.TimeoutSec <= 0 {
		c.API.TimeoutSec = 30
	}
	if c.API.RatePerSec <= 0 {
		c.API.RatePerSec = 5
	}
	if c.API.Burst <= 0 {
		c.API.Burst = 5
	}
	if c.API.TokenFile == "" {
		c.API.TokenFile = "token"
	}
	if c.Session.AggregatePolicy == "" {
		c.Session.AggregatePolicy = AggregateAdjust
	}
	if c.Session.ShutdownTimeoutSec <= 0 {
		c.Session.ShutdownTimeoutSec = 10
	}
	if c.Notify.NATSURL != "" && c.Notify.NATSSubject == "" {
		c.Notify.NATSSubject = DefaultNATSSubject
	}
	if c.Audit.Path == "" {
		c.Audit.Path = "logs/audit.jsonl"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("api.base_url must be an absolute URL, got %q", c.API.BaseURL)
	}
	if !strings.HasPrefix(c.API.RequestsPath, "/") {
		return fmt.Errorf("api.requests_path must start with /, got %q", c.API.RequestsPath)
	}
	switch c.Session.AggregatePolicy {
	case AggregateAdjust, AggregateRefetch:
	default:
		return fmt.Errorf("session.aggregate_policy must be adjust or refetch, got %q", c.Session.AggregatePolicy)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be debug|info|warn|error, got %q", c.Logging.Level)
	}
	return nil
}
