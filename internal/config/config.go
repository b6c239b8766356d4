// Package config loads and hot-reloads the render core configuration from
// defaults, an optional YAML file and RENDER_-prefixed environment
// variables.
package config

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config is the tunable surface of the render core. All fields are
// optional; zero values fall back to component defaults.
type Config struct {
	// Workers is the decode worker count. 0 means max(2, NumCPU-1).
	Workers int `mapstructure:"workers"`

	// MaxCacheEntries bounds the page cache by entry count.
	MaxCacheEntries int `mapstructure:"max_cache_entries"`

	// MaxCacheMB bounds the page cache by payload megabytes.
	MaxCacheMB int `mapstructure:"max_cache_mb"`

	// DecodeTimeoutSeconds bounds one codec call.
	DecodeTimeoutSeconds int `mapstructure:"decode_timeout_seconds"`

	// BufferMaxPerClass caps retained free buffers per pool size class.
	BufferMaxPerClass int `mapstructure:"buffer_max_per_class"`

	// MaxOpenDocuments caps concurrently open codec handles.
	MaxOpenDocuments int `mapstructure:"max_open_documents"`

	// PrefetchRadius is how many pages around the visible one the viewer
	// warms on a page turn.
	PrefetchRadius int `mapstructure:"prefetch_radius"`
}

// DefaultConfig returns the defaults applied underneath file and env
// settings.
func DefaultConfig() *Config {
	return &Config{
		Workers:              0, // sized from the machine
		MaxCacheEntries:      64,
		MaxCacheMB:           256,
		DecodeTimeoutSeconds: 10,
		BufferMaxPerClass:    8,
		MaxOpenDocuments:     8,
		PrefetchRadius:       2,
	}
}

// DecodeTimeout returns the codec call timeout as a duration.
func (c *Config) DecodeTimeout() time.Duration {
	return time.Duration(c.DecodeTimeoutSeconds) * time.Second
}

// MaxCacheBytes returns the byte budget for the page cache.
func (c *Config) MaxCacheBytes() int64 {
	return int64(c.MaxCacheMB) * 1024 * 1024
}

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	mu        sync.RWMutex
	v         *viper.Viper
	config    *Config
	callbacks []func(*Config)
}

// NewManager creates a manager and loads the initial config. cfgFile may be
// empty, in which case ./render.yaml or ~/.lectern/render.yaml is used if
// present.
func NewManager(cfgFile string) (*Manager, error) {
	m := &Manager{
		v:         viper.New(),
		callbacks: make([]func(*Config), 0),
	}

	if err := m.initViper(cfgFile); err != nil {
		return nil, err
	}

	cfg, err := m.load()
	if err != nil {
		return nil, err
	}
	m.config = cfg

	return m, nil
}

// initViper sets up defaults, env binding and the config file.
func (m *Manager) initViper(cfgFile string) error {
	defaults := DefaultConfig()
	m.v.SetDefault("workers", defaults.Workers)
	m.v.SetDefault("max_cache_entries", defaults.MaxCacheEntries)
	m.v.SetDefault("max_cache_mb", defaults.MaxCacheMB)
	m.v.SetDefault("decode_timeout_seconds", defaults.DecodeTimeoutSeconds)
	m.v.SetDefault("buffer_max_per_class", defaults.BufferMaxPerClass)
	m.v.SetDefault("max_open_documents", defaults.MaxOpenDocuments)
	m.v.SetDefault("prefetch_radius", defaults.PrefetchRadius)

	// Environment variables with RENDER_ prefix
	m.v.SetEnvPrefix("RENDER")
	m.v.AutomaticEnv()

	if cfgFile != "" {
		m.v.SetConfigFile(cfgFile)
	} else {
		m.v.SetConfigName("render")
		m.v.SetConfigType("yaml")
		m.v.AddConfigPath(".")
		m.v.AddConfigPath("$HOME/.lectern")
	}

	// The config file is optional.
	if err := m.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// load parses the current viper state into a Config struct.
func (m *Manager) load() (*Config, error) {
	var cfg Config
	if err := m.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Get returns the current configuration (thread-safe).
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// OnChange registers a callback invoked after every successful reload.
// Used to re-apply runtime-adjustable budgets (cache resize).
func (m *Manager) OnChange(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

// WatchConfig enables hot-reloading of the config file.
func (m *Manager) WatchConfig() {
	m.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := m.load()
		if err != nil {
			return // keep the last good config
		}

		m.mu.Lock()
		m.config = cfg
		callbacks := make([]func(*Config), len(m.callbacks))
		copy(callbacks, m.callbacks)
		m.mu.Unlock()

		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	m.v.WatchConfig()
}
