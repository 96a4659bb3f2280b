package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Loader loads the YAML config file and serves the current config to the
// rest of the process. Get is safe to call from any goroutine; Watch swaps
// the config atomically when the file changes on disk.
type Loader struct {
	mu      sync.RWMutex
	cfg     *Config
	path    string
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewLoader creates a loader serving DefaultConfig until Load is called.
func NewLoader() *Loader {
	return &Loader{cfg: DefaultConfig()}
}

// Load reads and parses the config file at path. Fields absent from the
// file keep their defaults.
func (l *Loader) Load(path string) error {
	cfg, err := parseFile(path)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.cfg = cfg
	l.path = path
	l.mu.Unlock()
	return nil
}

// Get returns the current config.
func (l *Loader) Get() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// Watch re-loads the config whenever the file changes and invokes onReload
// with the new config. A file that fails to parse is ignored and the
// previous config stays in effect.
func (l *Loader) Watch(logger *slog.Logger, onReload func(*Config)) error {
	l.mu.RLock()
	path := l.path
	l.mu.RUnlock()
	if path == "" {
		return fmt.Errorf("no config file loaded")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the directory: editors often replace the file rather than
	// write it in place, which drops a watch on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return err
	}

	l.watcher = watcher
	l.done = make(chan struct{})

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				cfg, err := parseFile(path)
				if err != nil {
					logger.Warn("config reload failed, keeping previous config", "path", path, "error", err)
					continue
				}
				l.mu.Lock()
				l.cfg = cfg
				l.mu.Unlock()
				logger.Info("config reloaded", "path", path)
				if onReload != nil {
					onReload(cfg)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error", "error", err)
			case <-l.done:
				return
			}
		}
	}()
	return nil
}

// StopWatch shuts down the file watcher started by Watch.
func (l *Loader) StopWatch() {
	if l.watcher != nil {
		close(l.done)
		_ = l.watcher.Close()
		l.watcher = nil
	}
}

func parseFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Server.Port <= 0 {
		return nil, fmt.Errorf("invalid server.port: %d", cfg.Server.Port)
	}
	if cfg.Billing.OvertimeRate < 0 {
		return nil, fmt.Errorf("invalid billing.overtime_rate: %d", cfg.Billing.OvertimeRate)
	}
	for _, p := range cfg.Packages {
		if p.Type == "" {
			return nil, fmt.Errorf("package with empty type")
		}
		if p.Hours < 0 {
			return nil, fmt.Errorf("package %q has negative hours", p.Type)
		}
	}
	return cfg, nil
}
