// Package config holds the server's settings: built-in defaults, optionally
// overlaid by a TOML file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pelletier/go-toml/v2"

	"github.com/alucardeht/dynmethod/internal/engine"
	"github.com/alucardeht/dynmethod/internal/logger"
	"github.com/alucardeht/dynmethod/internal/lsp"
	"github.com/alucardeht/dynmethod/internal/scheduler"
	"github.com/alucardeht/dynmethod/internal/watcher"
)

var ErrInvalidConfig = errors.New("invalid config")

// Duration reads "300ms" style strings.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type SchedulerConfig struct {
	DefaultDelay Duration `toml:"default_delay"`
	VisibleDelay Duration `toml:"visible_delay"`
}

type AnalysisConfig struct {
	Include     []string `toml:"include"`
	Exclude     []string `toml:"exclude"`
	ScanTimeout Duration `toml:"scan_timeout"`
	// Workspace symbol answers are cached until a document changes or
	// CacheTTL passes.
	CacheSize int      `toml:"cache_size"`
	CacheTTL  Duration `toml:"cache_ttl"`
}

// ServerConfig overrides how a downstream server is launched.
type ServerConfig struct {
	Enabled        bool     `toml:"enabled"`
	Command        string   `toml:"command"`
	Args           []string `toml:"args"`
	InitTimeout    Duration `toml:"init_timeout"`
	RequestTimeout Duration `toml:"request_timeout"`
	MaxRestarts    int      `toml:"max_restarts"`
}

type WatcherConfig struct {
	Enabled        bool     `toml:"enabled"`
	DebounceWindow Duration `toml:"debounce_window"`
	MaxBatchSize   int      `toml:"max_batch_size"`
	IgnorePatterns []string `toml:"ignore_patterns"`
	WatchHidden    bool     `toml:"watch_hidden"`
}

type Config struct {
	Log       LogConfig       `toml:"log"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Analysis  AnalysisConfig  `toml:"analysis"`
	// LSP is keyed by language: "typescript", "javascript".
	LSP     map[string]ServerConfig `toml:"lsp"`
	Watcher WatcherConfig           `toml:"watcher"`
}

func Default() *Config {
	sched := scheduler.DefaultConfig()
	eng := engine.DefaultConfig()
	watch := watcher.DefaultConfig()

	servers := make(map[string]ServerConfig)
	for lang, s := range lsp.DefaultManagerConfig().Servers {
		servers[string(lang)] = ServerConfig{
			Enabled:        s.Enabled,
			Command:        s.Command,
			Args:           s.Args,
			InitTimeout:    Duration{s.InitTimeout},
			RequestTimeout: Duration{s.RequestTimeout},
			MaxRestarts:    s.MaxRestarts,
		}
	}

	return &Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Scheduler: SchedulerConfig{
			DefaultDelay: Duration{sched.DefaultDelay},
			VisibleDelay: Duration{sched.VisibleDelay},
		},
		Analysis: AnalysisConfig{
			Include:     eng.Include,
			Exclude:     eng.Exclude,
			ScanTimeout: Duration{eng.ScanTimeout},
			CacheSize:   256,
			CacheTTL:    Duration{30 * time.Second},
		},
		LSP: servers,
		Watcher: WatcherConfig{
			Enabled:        watch.Enabled,
			DebounceWindow: Duration{watch.DebounceWindow},
			MaxBatchSize:   watch.MaxBatchSize,
			IgnorePatterns: watch.IgnorePatterns,
			WatchHidden:    watch.WatchHidden,
		},
	}
}

// DefaultPath is where Load looks when no file is named.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "dynmethod", "config.toml")
}

// Load overlays the TOML file at path onto the defaults. With an empty path
// the file at DefaultPath is used if it exists.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("%w: log format %q", ErrInvalidConfig, c.Log.Format)
	}
	if c.Scheduler.DefaultDelay.Duration < 0 || c.Scheduler.VisibleDelay.Duration < 0 {
		return fmt.Errorf("%w: negative scan delay", ErrInvalidConfig)
	}
	if len(c.Analysis.Include) == 0 {
		return fmt.Errorf("%w: analysis.include is empty", ErrInvalidConfig)
	}
	for _, pattern := range append(append([]string{}, c.Analysis.Include...), c.Analysis.Exclude...) {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("%w: bad glob %q", ErrInvalidConfig, pattern)
		}
	}
	for lang, s := range c.LSP {
		if lang != string(lsp.LangTypeScript) && lang != string(lsp.LangJavaScript) {
			return fmt.Errorf("%w: unknown language %q", ErrInvalidConfig, lang)
		}
		if s.Enabled && s.Command == "" {
			return fmt.Errorf("%w: lsp.%s.command is empty", ErrInvalidConfig, lang)
		}
	}
	return nil
}

func (c *Config) Logger() logger.Config {
	cfg := logger.DefaultConfig()
	if level, err := logger.ParseLevel(c.Log.Level); err == nil {
		cfg.Level = level
	}
	cfg.Format = c.Log.Format
	return cfg
}

func (c *Config) Engine() engine.Config {
	return engine.Config{
		Scheduler: scheduler.Config{
			DefaultDelay: c.Scheduler.DefaultDelay.Duration,
			VisibleDelay: c.Scheduler.VisibleDelay.Duration,
		},
		Include:     c.Analysis.Include,
		Exclude:     c.Analysis.Exclude,
		ScanTimeout: c.Analysis.ScanTimeout.Duration,
	}
}

// Manager merges the per-language overrides into the built-in server table.
func (c *Config) Manager() lsp.ManagerConfig {
	mc := lsp.DefaultManagerConfig()
	for lang, s := range c.LSP {
		server, ok := mc.Servers[lsp.Language(lang)]
		if !ok {
			continue
		}
		server.Enabled = s.Enabled
		server.Command = s.Command
		server.Args = s.Args
		if s.InitTimeout.Duration > 0 {
			server.InitTimeout = s.InitTimeout.Duration
		}
		if s.RequestTimeout.Duration > 0 {
			server.RequestTimeout = s.RequestTimeout.Duration
		}
		server.MaxRestarts = s.MaxRestarts
		mc.Servers[lsp.Language(lang)] = server
	}
	return mc
}

func (c *Config) WatcherConfig() watcher.Config {
	return watcher.Config{
		Enabled:        c.Watcher.Enabled,
		DebounceWindow: c.Watcher.DebounceWindow.Duration,
		MaxBatchSize:   c.Watcher.MaxBatchSize,
		IgnorePatterns: c.Watcher.IgnorePatterns,
		WatchHidden:    c.Watcher.WatchHidden,
	}
}
