package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/antonkrylov/aura/internal/shell"
)

// Transports accepted in Profile.Transport.
const (
	TransportPipe = "pipe"
	TransportPTY  = "pty"
)

// Config models a kubeconfig-style file with named shell profiles.
type Config struct {
	CurrentProfile string              `yaml:"currentProfile"`
	Profiles       map[string]*Profile `yaml:"profiles"`
	Timeline       Timeline            `yaml:"timeline,omitempty"`
	NATS           NATS                `yaml:"nats,omitempty"`
	Automation     Automation          `yaml:"automation,omitempty"`
}

// Profile describes how to launch and present one shell.
type Profile struct {
	Shell           string            `yaml:"shell,omitempty"`
	Args            []string          `yaml:"args,omitempty"`
	Dir             string            `yaml:"dir,omitempty"`
	Env             map[string]string `yaml:"env,omitempty"`
	Transport       string            `yaml:"transport,omitempty"`
	StartTimeoutMs  int               `yaml:"startTimeoutMs,omitempty"`
	StopTimeoutMs   int               `yaml:"stopTimeoutMs,omitempty"`
	Prompt          string            `yaml:"prompt,omitempty"`
	AutomatedPrompt string            `yaml:"automatedPrompt,omitempty"`
	ScrollbackBytes int               `yaml:"scrollbackBytes,omitempty"`
}

type Timeline struct {
	Dir string `yaml:"dir,omitempty"`
}

type NATS struct {
	URL           string `yaml:"url,omitempty"`
	User          string `yaml:"user,omitempty"`
	Password      string `yaml:"password,omitempty"`
	SubjectPrefix string `yaml:"subjectPrefix,omitempty"`
}

type Automation struct {
	Listen string `yaml:"listen,omitempty"`
	Server string `yaml:"server,omitempty"`
}

// ErrProfileNotFound indicates the requested profile is missing.
var ErrProfileNotFound = errors.New("profile not found")

const defaultScrollbackBytes = 1 << 20

// Load decodes the config file. Missing files return (nil, nil).
func Load(path string) (*Config, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	expanded, err := expandPath(trimmed)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	for name, p := range cfg.Profiles {
		if p == nil {
			continue
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("profile %s: %w", name, err)
		}
	}
	return &cfg, nil
}

// Save writes the config to disk, creating parent directories if needed.
func (c *Config) Save(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("config path is required")
	}
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return err
	}
	return os.WriteFile(expanded, data, 0o600)
}

// Resolve picks a profile by explicit name or currentProfile. With neither
// set, or with no config at all, the default profile is returned.
func (c *Config) Resolve(name string) (*Profile, string, error) {
	profileName := strings.TrimSpace(name)
	if profileName == "" && c != nil {
		profileName = c.CurrentProfile
	}
	if profileName == "" {
		return &Profile{}, "default", nil
	}
	if c == nil {
		return nil, profileName, fmt.Errorf("%w: %s", ErrProfileNotFound, profileName)
	}
	p, ok := c.Profiles[profileName]
	if !ok {
		return nil, profileName, fmt.Errorf("%w: %s", ErrProfileNotFound, profileName)
	}
	if p == nil {
		p = &Profile{}
	}
	return p, profileName, nil
}

// TimelineDir returns the configured timeline directory or the default one
// under the config dir.
func (c *Config) TimelineDir() string {
	if c != nil && strings.TrimSpace(c.Timeline.Dir) != "" {
		if dir, err := expandPath(c.Timeline.Dir); err == nil {
			return dir
		}
	}
	return filepath.Join(DefaultConfigDir(), "timeline")
}

func (p *Profile) Validate() error {
	switch strings.ToLower(strings.TrimSpace(p.Transport)) {
	case "", TransportPipe, TransportPTY:
	default:
		return fmt.Errorf("unknown transport %q (want %s or %s)", p.Transport, TransportPipe, TransportPTY)
	}
	if p.StartTimeoutMs < 0 || p.StopTimeoutMs < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	return nil
}

// ShellConfig converts the profile into a session configuration. Env entries
// are sorted by key.
func (p *Profile) ShellConfig() (shell.Config, error) {
	cfg := shell.Config{
		Program:      strings.TrimSpace(p.Shell),
		Args:         append([]string(nil), p.Args...),
		StartTimeout: time.Duration(p.StartTimeoutMs) * time.Millisecond,
		StopTimeout:  time.Duration(p.StopTimeoutMs) * time.Millisecond,
	}
	if dir := strings.TrimSpace(p.Dir); dir != "" {
		expanded, err := expandPath(dir)
		if err != nil {
			return shell.Config{}, err
		}
		cfg.Dir = expanded
	}
	keys := make([]string, 0, len(p.Env))
	for k := range p.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cfg.Env = append(cfg.Env, k+"="+p.Env[k])
	}
	return cfg, nil
}

// Spawner returns the process launcher named by Transport.
func (p *Profile) Spawner() shell.Spawner {
	if strings.EqualFold(strings.TrimSpace(p.Transport), TransportPTY) {
		return shell.PTYSpawner{}
	}
	return shell.PipeSpawner{}
}

func (p *Profile) Scrollback() int {
	if p.ScrollbackBytes > 0 {
		return p.ScrollbackBytes
	}
	return defaultScrollbackBytes
}

func expandPath(path string) (string, error) {
	switch {
	case strings.HasPrefix(path, "~/"):
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[2:]), nil
	case path == "~":
		return os.UserHomeDir()
	case filepath.IsAbs(path):
		return path, nil
	default:
		return filepath.Abs(path)
	}
}
