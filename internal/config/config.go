// Package config loads user-configurable settings from config.json.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Config holds all user-configurable settings loaded from config.json
type Config struct {
	Backend  BackendConfig  `json:"backend"`
	Tabs     TabsConfig     `json:"tabs"`
	Transfer TransferConfig `json:"transfer"`
	UI       UIConfig       `json:"ui"`
}

// BackendConfig holds the daemon endpoints and request behavior
type BackendConfig struct {
	RequestAddr      string `json:"requestAddr"`
	EventAddr        string `json:"eventAddr"`
	RequestTimeoutMs int    `json:"requestTimeoutMs"`
	WatchDebounceMs  int    `json:"watchDebounceMs"`
	SearchDepth      int    `json:"searchDepth"`
	ThemeDBPath      string `json:"themeDbPath"`
}

// TabsConfig holds tab behavior settings
type TabsConfig struct {
	NewTabLocation string `json:"newTabLocation"` // "landing" | "home" | "custom"
	CustomPath     string `json:"customPath"`
}

// TransferConfig holds drag-and-drop tunables
type TransferConfig struct {
	DragThresholdPx int `json:"dragThresholdPx"`
	StripHeightPx   int `json:"stripHeightPx"`
	PollIntervalMs  int `json:"pollIntervalMs"`
}

// UIConfig holds display settings
type UIConfig struct {
	Theme         string `json:"theme"` // "light" | "dark" or a stored theme id
	ShowDotfiles  bool   `json:"showDotfiles"`
	SortAscending bool   `json:"sortAscending"`
}

// RequestTimeout returns the configured per-request deadline.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Backend.RequestTimeoutMs) * time.Millisecond
}

// WatchDebounce returns the configured event debounce interval.
func (c *Config) WatchDebounce() time.Duration {
	return time.Duration(c.Backend.WatchDebounceMs) * time.Millisecond
}

// Manager handles loading, saving, and accessing configuration
type Manager struct {
	mu       sync.RWMutex
	config   *Config
	path     string
	parseErr error // Stores parsing error if config failed to load
}

// NewManager creates a new configuration manager
func NewManager() *Manager {
	return &Manager{
		config: DefaultConfig(),
	}
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Backend: BackendConfig{
			RequestAddr:      "127.0.0.1:5555",
			EventAddr:        "127.0.0.1:5556",
			RequestTimeoutMs: 30000,
			WatchDebounceMs:  200,
			SearchDepth:      8,
			ThemeDBPath:      filepath.Join(home, ".local", "share", "xplor", "themes.db"),
		},
		Tabs: TabsConfig{
			NewTabLocation: "landing",
		},
		Transfer: TransferConfig{
			DragThresholdPx: 10,
			StripHeightPx:   36,
			PollIntervalMs:  50,
		},
		UI: UIConfig{
			Theme:         "light",
			ShowDotfiles:  false,
			SortAscending: true,
		},
	}
}

// ConfigPath returns the config file path: ~/.config/xplor/config.json
// This is consistent across all platforms (Windows, macOS, Linux)
func ConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "xplor", "config.json")
}

// Load reads the configuration from path, or ConfigPath() when empty.
// If the file doesn't exist, creates it with defaults.
// If parsing fails, stores the error and returns defaults.
func (m *Manager) Load(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if path == "" {
		path = ConfigPath()
	}
	m.path = path
	m.parseErr = nil

	configDir := filepath.Dir(m.path)
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return err
	}

	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		m.config = DefaultConfig()
		return m.saveUnlocked()
	}
	if err != nil {
		return err
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		// Keep the error for display, run on defaults.
		m.parseErr = err
		m.config = DefaultConfig()
		return nil
	}

	m.config = cfg
	return nil
}

// Save writes the current configuration back to disk.
func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveUnlocked()
}

// saveUnlocked saves config without acquiring lock (caller must hold lock)
func (m *Manager) saveUnlocked() error {
	data, err := json.MarshalIndent(m.config, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.path, data, 0o644)
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// ParseError returns the parse failure from the last Load, if any.
func (m *Manager) ParseError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.parseErr
}
