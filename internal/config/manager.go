package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Manager holds the active configuration. Readers take a snapshot with Get;
// a reload swaps the whole value so no reader observes a partial update.
type Manager struct {
	path string
	cfg  atomic.Value

	mu       sync.Mutex
	onChange []func(*Config)
}

func NewManager(path string) (*Manager, error) {
	cfg, err := loadWithEnv(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	return m, nil
}

func loadWithEnv(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	ApplyEnv(cfg)
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewStaticManager wraps an in-memory config that is never reloaded from disk.
func NewStaticManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

// OnChange registers a callback invoked after every successful reload.
func (m *Manager) OnChange(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

// Update validates and installs cfg as the active config without touching
// the file on disk.
func (m *Manager) Update(cfg *Config) error {
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return err
	}
	m.install(cfg)
	return nil
}

// Reload re-reads the file. An invalid file leaves the current config in place.
func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := loadWithEnv(m.path)
	if err != nil {
		return nil, err
	}
	m.install(cfg)
	return cfg, nil
}

func (m *Manager) install(cfg *Config) {
	m.cfg.Store(cfg)
	m.mu.Lock()
	callbacks := make([]func(*Config), len(m.onChange))
	copy(callbacks, m.onChange)
	m.mu.Unlock()
	for _, fn := range callbacks {
		fn(cfg)
	}
}

// Watch reloads the config whenever its file is written or replaced. The
// parent directory is watched so editors that rename over the file are seen.
// Call the returned stop function to release the watcher.
func (m *Manager) Watch(onError func(error)) (stop func(), err error) {
	if m.path == "" {
		return func() {}, nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	target := filepath.Clean(m.path)
	if err := w.Add(filepath.Dir(target)); err != nil {
		w.Close()
		return nil, fmt.Errorf("config watcher add %s: %w", filepath.Dir(target), err)
	}
	done := make(chan struct{})
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				if _, err := m.Reload(); err != nil && onError != nil {
					onError(err)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				if onError != nil {
					onError(err)
				}
			case <-done:
				return
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }, nil
}
