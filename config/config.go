// Package config loads and hot-reloads the scan engine's YAML
// configuration, adapted from engine/internal/runtime.RuntimeConfigManager
// and HotReloadSystem (trimmed to the load/validate/watch concerns this
// module needs; the teacher's A/B-testing and version-history machinery
// solved a web-traffic-splitting problem this domain has no use for).
package config

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// ScanConfig is the top-level engine configuration.
type ScanConfig struct {
	Version   string          `yaml:"version"`
	Workers   int             `yaml:"workers"`
	Queue     QueueConfig     `yaml:"queue"`
	HTTP      HTTPConfig      `yaml:"http"`
	Modules   ModulesConfig   `yaml:"modules"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	checksum  string
}

// QueueConfig mirrors queue.Config's tunables.
type QueueConfig struct {
	Capacity           int    `yaml:"capacity"`
	BackpressureAction string `yaml:"backpressure_action"`
}

// HTTPConfig tunes the module host's shared transport.
type HTTPConfig struct {
	UserAgent      string        `yaml:"user_agent"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// ModulesConfig lists which modules are enabled and per-module options.
type ModulesConfig struct {
	Enabled []string                  `yaml:"enabled"`
	Options map[string]map[string]any `yaml:"options"`
}

// TelemetryConfig toggles ambient observability.
type TelemetryConfig struct {
	MetricsEnabled bool   `yaml:"metrics_enabled"`
	MetricsBackend string `yaml:"metrics_backend"` // "prometheus" (also selected by ""), or "otel"
	LogLevel       string `yaml:"log_level"`
}

// Default returns a ScanConfig with the engine's baked-in defaults.
func Default() *ScanConfig {
	return &ScanConfig{
		Version: "1.0.0",
		Workers: 4,
		Queue:   QueueConfig{Capacity: 10000, BackpressureAction: "block"},
		HTTP:    HTTPConfig{UserAgent: "spiderfoot-core/1.0", RequestTimeout: 30 * time.Second},
		Telemetry: TelemetryConfig{
			MetricsEnabled: true,
			MetricsBackend: "prometheus",
			LogLevel:       "info",
		},
	}
}

// Validate rejects configurations that would misbehave at runtime.
func (c *ScanConfig) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("config: workers must be non-negative, got %d", c.Workers)
	}
	if c.Queue.Capacity < 0 {
		return fmt.Errorf("config: queue.capacity must be non-negative, got %d", c.Queue.Capacity)
	}
	switch c.Queue.BackpressureAction {
	case "", "reject", "block", "drop_oldest":
	default:
		return fmt.Errorf("config: unknown queue.backpressure_action %q", c.Queue.BackpressureAction)
	}
	return nil
}

func checksum(cfg *ScanConfig) string {
	cp := *cfg
	cp.checksum = ""
	data, err := yaml.Marshal(cp)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum)
}

// Manager owns the live ScanConfig, its source file, and validators.
type Manager struct {
	path       string
	mu         sync.RWMutex
	current    *ScanConfig
	validators []func(*ScanConfig) error
}

// NewManager constructs a Manager. If path doesn't yet exist, Load installs
// Default() rather than erroring.
func NewManager(path string) *Manager {
	m := &Manager{path: path, current: Default()}
	m.AddValidator((*ScanConfig).Validate)
	return m
}

// AddValidator registers an additional validation rule run on every Load.
func (m *Manager) AddValidator(v func(*ScanConfig) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validators = append(m.validators, v)
}

// Load reads and validates the config file, replacing the current config
// on success.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := os.Stat(m.path); os.IsNotExist(err) {
		m.current = Default()
		return nil
	}
	data, err := os.ReadFile(m.path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", m.path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", m.path, err)
	}
	if err := m.validateLocked(cfg); err != nil {
		return fmt.Errorf("config: validate %s: %w", m.path, err)
	}
	cfg.checksum = checksum(cfg)
	m.current = cfg
	return nil
}

func (m *Manager) validateLocked(cfg *ScanConfig) error {
	for _, v := range m.validators {
		if err := v(cfg); err != nil {
			return err
		}
	}
	return nil
}

// Current returns a copy of the live config.
func (m *Manager) Current() ScanConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *m.current
}

// Watch starts an fsnotify watch on the config file's directory, pushing a
// new ScanConfig to the returned channel every time the file changes and
// its content checksum differs from the previous load. The watch stops
// when ctx is cancelled.
func (m *Manager) Watch(ctx context.Context) (<-chan ScanConfig, <-chan error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, fmt.Errorf("config: create watcher: %w", err)
	}
	dir := filepath.Dir(m.path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, nil, fmt.Errorf("config: watch %s: %w", dir, err)
	}

	changes := make(chan ScanConfig, 4)
	errs := make(chan error, 4)

	go func() {
		defer watcher.Close()
		defer close(changes)
		defer close(errs)
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name != m.path || ev.Op&fsnotify.Write != fsnotify.Write {
					continue
				}
				prevChecksum := m.Current().checksum
				if err := m.Load(); err != nil {
					errs <- err
					continue
				}
				cur := m.Current()
				if cur.checksum != prevChecksum {
					changes <- cur
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				errs <- err
			case <-ctx.Done():
				return
			}
		}
	}()

	return changes, errs, nil
}
