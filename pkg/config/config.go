package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shipgate/shipgate/pkg/deploy"
)

// Duration wraps time.Duration for YAML fields like "30s" or "2m"
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// ProbeConfig is the per-target health probe policy
type ProbeConfig struct {
	Endpoint     string   `yaml:"endpoint"`
	Interval     Duration `yaml:"interval,omitempty"`
	Timeout      Duration `yaml:"timeout,omitempty"`
	MaxAttempts  int      `yaml:"max_attempts,omitempty"`
	SuccessToken string   `yaml:"success_token,omitempty"`
	StatusMin    int      `yaml:"status_min,omitempty"`
	StatusMax    int      `yaml:"status_max,omitempty"`
}

// SSHConfig is how the target host is reached
type SSHConfig struct {
	Addr    string `yaml:"addr"`
	User    string `yaml:"user"`
	KeyFile string `yaml:"key_file"`
}

// Target describes one deployable host
type Target struct {
	// Host is the stable host identifier, the unit of mutual exclusion
	Host string `yaml:"host"`

	// Local targets run deploy commands on this machine instead of over SSH
	Local bool `yaml:"local,omitempty"`

	SSH      SSHConfig       `yaml:"ssh,omitempty"`
	Commands deploy.Commands `yaml:"commands"`
	Probe    ProbeConfig     `yaml:"probe"`

	// CommandTimeout bounds each remote command
	CommandTimeout Duration `yaml:"command_timeout,omitempty"`
}

// Config is the top-level configuration file
type Config struct {
	// Listen is the API server bind address
	Listen string `yaml:"listen,omitempty"`

	// DataDir holds the rollout history database
	DataDir string `yaml:"data_dir,omitempty"`

	Log struct {
		Level string `yaml:"level,omitempty"`
		JSON  bool   `yaml:"json,omitempty"`
	} `yaml:"log,omitempty"`

	Targets []Target `yaml:"targets"`
}

// Load reads, parses and validates a configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8420"
	}
	if c.DataDir == "" {
		c.DataDir = "/var/lib/shipgate"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate checks the config for the fields every rollout needs
func (c *Config) Validate() error {
	if len(c.Targets) == 0 {
		return fmt.Errorf("config: at least one target is required")
	}

	seen := make(map[string]bool)
	for i, t := range c.Targets {
		if strings.TrimSpace(t.Host) == "" {
			return fmt.Errorf("config: target %d: host is required", i)
		}
		if seen[t.Host] {
			return fmt.Errorf("config: duplicate target host %q", t.Host)
		}
		seen[t.Host] = true

		if !t.Local {
			if t.SSH.Addr == "" {
				return fmt.Errorf("config: target %q: ssh.addr is required", t.Host)
			}
			if t.SSH.User == "" {
				return fmt.Errorf("config: target %q: ssh.user is required", t.Host)
			}
			if t.SSH.KeyFile == "" {
				return fmt.Errorf("config: target %q: ssh.key_file is required", t.Host)
			}
		}
		if err := t.Commands.Validate(); err != nil {
			return fmt.Errorf("config: target %q: %w", t.Host, err)
		}
		if t.Probe.Endpoint == "" {
			return fmt.Errorf("config: target %q: probe.endpoint is required", t.Host)
		}
		if !strings.HasPrefix(t.Probe.Endpoint, "http://") && !strings.HasPrefix(t.Probe.Endpoint, "https://") {
			return fmt.Errorf("config: target %q: probe.endpoint must be an http(s) URL", t.Host)
		}
	}
	return nil
}

// Target returns the target with the given host identifier
func (c *Config) Target(host string) (*Target, bool) {
	for i := range c.Targets {
		if c.Targets[i].Host == host {
			return &c.Targets[i], true
		}
	}
	return nil, false
}
