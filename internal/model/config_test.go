package model

import (
	"testing"

	"gopkg.in/yaml.v3"
)

func TestConfig_ApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()

	if cfg.Session.AggregatePolicy != AggregateAdjust {
		t.Errorf("aggregate_policy = %q", cfg.Session.AggregatePolicy)
	}
	if cfg.API.RequestsPath != DefaultRequestsPath {
		t.Errorf("requests_path = %q", cfg.API.RequestsPath)
	}
	if cfg.Notify.NATSSubject != "" {
		t.Errorf("nats_subject should stay empty without nats_url, got %q", cfg.Notify.NATSSubject)
	}
}

func TestConfig_ApplyDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := Config{
		API:     APIConfig{RequestsPath: "/v2/requests", TimeoutSec: 5},
		Session: SessionConfig{AggregatePolicy: AggregateRefetch, ShutdownTimeoutSec: 3},
		Notify:  NotifyConfig{NATSURL: "nats://localhost:4222"},
	}
	cfg.ApplyDefaults()

	if cfg.API.RequestsPath != "/v2/requests" || cfg.API.TimeoutSec != 5 {
		t.Errorf("api overridden: %+v", cfg.API)
	}
	if cfg.Session.ShutdownTimeoutSec != 3 || cfg.Session.AggregatePolicy != AggregateRefetch {
		t.Errorf("session overridden: %+v", cfg.Session)
	}
	if cfg.Notify.NATSSubject != DefaultNATSSubject {
		t.Errorf("nats_subject = %q", cfg.Notify.NATSSubject)
	}
}

func TestAPIConfig_CommandTimeoutOutlastsBackendCalls(t *testing.T) {
	for _, sec := range []int{1, 30, 90} {
		api := APIConfig{TimeoutSec: sec}
		if got := api.CommandTimeout(); got <= 2*api.Timeout() {
			t.Errorf("timeout_sec=%d: command timeout %s does not cover two backend calls", sec, got)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	base := func() Config {
		c := Config{API: APIConfig{BaseURL: "https://api.magiclamp.test"}}
		c.ApplyDefaults()
		return c
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing base url", func(c *Config) { c.API.BaseURL = "" }},
		{"relative base url", func(c *Config) { c.API.BaseURL = "api.magiclamp.test" }},
		{"requests path without slash", func(c *Config) { c.API.RequestsPath = "requests" }},
		{"bad policy", func(c *Config) { c.Session.AggregatePolicy = "drift" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(&c)
			if err := c.Validate(); err == nil {
				t.Errorf("expected validation error")
			}
		})
	}
}

func TestConfig_YAMLRoundTrip(t *testing.T) {
	src := `
project:
  name: dubai-ops
api:
  base_url: https://api.magiclamp.test
  rate_per_sec: 2.5
session:
  aggregate_policy: refetch
notify:
  desktop: true
logging:
  level: debug
`
	var cfg Config
	if err := yaml.Unmarshal([]byte(src), &cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if cfg.Project.Name != "dubai-ops" {
		t.Errorf("project.name = %q", cfg.Project.Name)
	}
	if cfg.API.RatePerSec != 2.5 {
		t.Errorf("rate_per_sec = %v", cfg.API.RatePerSec)
	}
	if cfg.Session.AggregatePolicy != AggregateRefetch {
		t.Errorf("aggregate_policy = %q", cfg.Session.AggregatePolicy)
	}
	if !cfg.Notify.Desktop {
		t.Errorf("notify.desktop not parsed")
	}
}
