package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/bryanchriswhite/StageFeed/internal/logger"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var errEmptyFile = errors.New("config file is empty")

// ActiveFunc is called when a target's active flag flips.
type ActiveFunc func(target string, active bool)

// Manager handles configuration.
//
// The installed *Config is never modified in place: writers build a clone
// and swap it in. writeMu serializes every writer across the swap, the file
// write and the callbacks, so the file and the reported active states follow
// the same order.
type Manager struct {
	configPath string
	config     *Config
	mu         sync.RWMutex
	writeMu    sync.Mutex

	cbMu      sync.RWMutex
	callbacks []ActiveFunc
	// known is the last active state reported for each target
	known map[string]bool

	watcher *viper.Viper
}

// DefaultPath returns $HOME/.config/stagefeed/config.yaml
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "stagefeed", "config.yaml"), nil
}

// NewManager creates a new configuration manager. An empty configFile uses
// DefaultPath. A missing file is created with defaults.
func NewManager(configFile string) (*Manager, error) {
	actualConfigPath := configFile
	if actualConfigPath == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		actualConfigPath = p
	}

	if err := os.MkdirAll(filepath.Dir(actualConfigPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	m := &Manager{
		configPath: actualConfigPath,
		known:      make(map[string]bool),
	}

	cfg, err := m.read()
	switch {
	case err == nil:
		m.config = cfg
	case os.IsNotExist(err):
		logger.WithComponent("config").Info().
			Str("path", m.configPath).
			Msg("Config file not found, creating new config")
		m.config = Defaults()
		if err := m.save(m.config); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	for _, t := range m.config.Targets {
		m.known[t.Name] = t.Active
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Int("targets", len(m.config.Targets)).
		Msg("Config loaded")

	return m, nil
}

// read parses and validates the configuration file without installing it
func (m *Manager) read() (*Config, error) {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyFile
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return Defaults()
	}
	return m.config.clone()
}

// Target returns the configuration of the named target
func (m *Manager) Target(name string) (TargetConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, t := range m.config.Targets {
		if t.Name == name {
			return t, nil
		}
	}
	return TargetConfig{}, fmt.Errorf("%w: %s", ErrTargetNotFound, name)
}

// Save saves the current configuration to disk
func (m *Manager) Save() error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	return m.save(m.Get())
}

// save writes cfg to the config file. Callers hold writeMu, or own the
// manager exclusively during construction.
func (m *Manager) save(cfg *Config) error {
	log := logger.WithComponent("config")

	if err := os.MkdirAll(filepath.Dir(m.configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		log.Error().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to write config")
		return err
	}

	log.Debug().
		Str("path", m.configPath).
		Msg("Config saved")
	return nil
}

// Update replaces the entire configuration, firing active callbacks for any
// target whose active flag changed
func (m *Manager) Update(cfg *Config) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	return m.update(cfg.clone())
}

// update installs next, which the caller must not retain, then persists it
// and fires callbacks. Callers hold writeMu.
func (m *Manager) update(next *Config) error {
	next.applyDefaults()
	if err := next.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	m.config = next
	m.mu.Unlock()

	if err := m.save(next); err != nil {
		return err
	}
	m.notifyChanges(next)
	return nil
}

// SetActive sets a target's active flag and persists it. Callbacks fire only
// when the flag actually changes.
func (m *Manager) SetActive(name string, active bool) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	next := m.Get()
	idx := -1
	for i := range next.Targets {
		if next.Targets[i].Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrTargetNotFound, name)
	}
	next.Targets[idx].Active = active

	return m.update(next)
}

// OnActiveChange registers fn to be called on every active flag transition.
// Callbacks run while the manager holds its write lock and must not modify
// the configuration.
func (m *Manager) OnActiveChange(fn ActiveFunc) {
	m.cbMu.Lock()
	m.callbacks = append(m.callbacks, fn)
	m.cbMu.Unlock()
}

func (m *Manager) fireActive(name string, active bool) {
	m.cbMu.RLock()
	callbacks := append([]ActiveFunc(nil), m.callbacks...)
	m.cbMu.RUnlock()

	logger.WithComponent("config").Info().
		Str("target", name).
		Bool("active", active).
		Msg("Target active state changed")

	for _, fn := range callbacks {
		fn(name, active)
	}
}

// notifyChanges fires callbacks for targets whose active flag differs from
// the last state reported. Targets seen for the first time are recorded
// without a callback.
func (m *Manager) notifyChanges(cur *Config) {
	type change struct {
		name   string
		active bool
	}
	var changes []change

	m.cbMu.Lock()
	for _, t := range cur.Targets {
		if was, ok := m.known[t.Name]; ok && was != t.Active {
			changes = append(changes, change{t.Name, t.Active})
		}
		m.known[t.Name] = t.Active
	}
	m.cbMu.Unlock()

	for _, c := range changes {
		m.fireActive(c.name, c.active)
	}
}

// Watch reloads the file when it is edited outside the process and fires
// active callbacks for targets toggled by the edit
func (m *Manager) Watch() error {
	v := viper.New()
	v.SetConfigFile(m.configPath)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config for watching: %w", err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		m.reload()
	})
	v.WatchConfig()

	m.mu.Lock()
	m.watcher = v
	m.mu.Unlock()

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Msg("Watching config file")
	return nil
}

func (m *Manager) reload() {
	log := logger.WithComponent("config")

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	cfg, err := m.read()
	if err == errEmptyFile {
		// Editors truncate before writing; wait for the next event.
		return
	}
	if err != nil {
		log.Warn().Err(err).Msg("Ignoring config change")
		return
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()

	log.Debug().Msg("Config reloaded from disk")
	m.notifyChanges(cfg)
}

// Lookup reads a raw key (dotted path) from the config file, for the CLI
func (m *Manager) Lookup(key string) (interface{}, error) {
	v := viper.New()
	v.SetConfigFile(m.configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if !v.IsSet(key) {
		return nil, fmt.Errorf("configuration key not found: %s", key)
	}
	return v.Get(key), nil
}

// Set assigns a scalar setting by key and saves. Target fields use
// targets.<name>.<field>.
func (m *Manager) Set(key, value string) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	cfg := m.Get()

	switch key {
	case "server_port":
		port, err := strconv.Atoi(value)
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("invalid port number: %s", value)
		}
		cfg.ServerPort = port
	case "log_level":
		validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
		if !validLevels[value] {
			return fmt.Errorf("invalid log level: %s (use: trace, debug, info, warn, error)", value)
		}
		cfg.LogLevel = value
	case "refresh_hz":
		hz, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid number: %s", value)
		}
		cfg.RefreshHz = hz
	case "stage.transition_ms":
		ms, err := strconv.Atoi(value)
		if err != nil || ms < 0 {
			return fmt.Errorf("invalid duration: %s", value)
		}
		cfg.Stage.TransitionMs = ms
	default:
		if err := setTargetField(cfg, key, value); err != nil {
			return err
		}
	}

	return m.update(cfg)
}

func setTargetField(cfg *Config, key, value string) error {
	parts := strings.SplitN(key, ".", 3)
	if len(parts) != 3 || parts[0] != "targets" {
		return fmt.Errorf("unknown configuration key: %s", key)
	}

	var t *TargetConfig
	for i := range cfg.Targets {
		if cfg.Targets[i].Name == parts[1] {
			t = &cfg.Targets[i]
			break
		}
	}
	if t == nil {
		return fmt.Errorf("%w: %s", ErrTargetNotFound, parts[1])
	}

	parseBool := func() (bool, error) {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return false, fmt.Errorf("invalid boolean: %s (use: true or false)", value)
		}
		return b, nil
	}
	parseInt := func() (int, error) {
		n, err := strconv.Atoi(value)
		if err != nil {
			return 0, fmt.Errorf("invalid number: %s", value)
		}
		return n, nil
	}

	var err error
	switch parts[2] {
	case "width":
		t.Width, err = parseInt()
	case "height":
		t.Height, err = parseInt()
	case "fps":
		n, perr := strconv.ParseUint(value, 10, 32)
		if perr != nil {
			return fmt.Errorf("invalid fps: %s", value)
		}
		t.FPS = uint32(n)
	case "active":
		t.Active, err = parseBool()
	case "debug":
		t.Debug, err = parseBool()
	case "render_skip":
		t.RenderSkip, err = parseBool()
	case "output.type":
		t.Output.Type = value
	case "output.pipeline":
		t.Output.Pipeline = value
	case "output.quality":
		t.Output.Quality, err = parseInt()
	default:
		return fmt.Errorf("unknown target field: %s", parts[2])
	}
	return err
}

// SetPort sets the server port
func (m *Manager) SetPort(port int) error {
	return m.Set("server_port", strconv.Itoa(port))
}

// SetLogLevel sets the log level
func (m *Manager) SetLogLevel(level string) error {
	return m.Set("log_level", level)
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}
