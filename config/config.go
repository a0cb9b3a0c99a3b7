// Package config loads and saves saveit settings as YAML.
//
// The file lives at $XDG_CONFIG_HOME/saveit/config.yaml unless a path is
// given. A missing file yields the defaults, which are written back on first
// run. Environment variables override file values:
//
//	SAVEIT_FORMAT_STANDARD  default | custom | ieee | apa
//	SAVEIT_CUSTOM_FORMAT    custom template string
//	SAVEIT_LOG_LEVEL        debug | info | warn | error
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/robertmeta/saveit/format"
	"github.com/robertmeta/saveit/logger"
	"github.com/robertmeta/saveit/model"
	"gopkg.in/yaml.v3"
)

// DefaultTemplate is the starting custom template.
const DefaultTemplate = "{AUTHOR} ({P_DATE}): {TITLE}, {URL}"

// Config holds the user's formatting preferences.
type Config struct {
	FormatStandard      model.FormatStandard `yaml:"format_standard"`
	CustomFormat        string               `yaml:"custom_format"`
	PublishedDateFormat string               `yaml:"published_date_format"`
	ViewedDateFormat    string               `yaml:"viewed_date_format"`
	Log                 logger.Config        `yaml:"log"`
}

// Error reports a config load or save failure.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s config %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		FormatStandard:      model.StandardDefault,
		CustomFormat:        DefaultTemplate,
		PublishedDateFormat: format.DefaultPublishedDateFormat,
		ViewedDateFormat:    format.DefaultViewedDateFormat,
		Log:                 logger.Config{Level: logger.DefaultLevel},
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/saveit/config.yaml.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, "saveit", "config.yaml")
}

// DefaultDBPath returns $XDG_DATA_HOME/saveit/sources.db.
func DefaultDBPath() string {
	return filepath.Join(xdg.DataHome, "saveit", "sources.db")
}

// FormatOptions converts the config into formatter options.
func (c Config) FormatOptions() format.Options {
	return format.Options{
		Standard:            c.FormatStandard,
		Template:            c.CustomFormat,
		PublishedDateFormat: c.PublishedDateFormat,
		ViewedDateFormat:    c.ViewedDateFormat,
	}
}

// Validate rejects unknown standards. Unsupported but known standards (IEEE,
// APA) are allowed; the formatter reports them.
func (c Config) Validate() error {
	if _, err := model.ParseFormatStandard(string(c.FormatStandard)); err != nil {
		return err
	}
	return nil
}

func (c *Config) setDefaults() {
	d := Default()
	if c.FormatStandard == "" {
		c.FormatStandard = d.FormatStandard
	}
	if c.PublishedDateFormat == "" {
		c.PublishedDateFormat = d.PublishedDateFormat
	}
	if c.ViewedDateFormat == "" {
		c.ViewedDateFormat = d.ViewedDateFormat
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
}

func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("SAVEIT_FORMAT_STANDARD"); v != "" {
		std, err := model.ParseFormatStandard(v)
		if err != nil {
			return fmt.Errorf("SAVEIT_FORMAT_STANDARD: %w", err)
		}
		c.FormatStandard = std
	}
	if v := os.Getenv("SAVEIT_CUSTOM_FORMAT"); v != "" {
		c.CustomFormat = v
	}
	if v := os.Getenv("SAVEIT_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	return nil
}

// Load reads the config at path. An empty path means DefaultPath.
// A missing file yields Default and tries to write it; failing to write is
// not an error.
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		_ = Save(path, cfg)
	case err != nil:
		return Config{}, &Error{Op: "read", Path: path, Err: err}
	default:
		cfg = Config{}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, &Error{Op: "parse", Path: path, Err: err}
		}
		cfg.setDefaults()
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return Config{}, &Error{Op: "load", Path: path, Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, &Error{Op: "validate", Path: path, Err: err}
	}
	return cfg, nil
}

// LoadOrReset behaves like Load but replaces an unreadable or invalid file
// with the defaults instead of failing.
func LoadOrReset(path string, log logger.Logger) (Config, error) {
	if path == "" {
		path = DefaultPath()
	}
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}

	var cerr *Error
	if !errors.As(err, &cerr) || (cerr.Op != "parse" && cerr.Op != "validate") {
		return Config{}, err
	}

	log.Warn("Config is invalid, resetting to defaults",
		logger.String("path", path),
		logger.Err(err),
	)
	if err := Reset(path); err != nil {
		return Config{}, err
	}
	return Load(path)
}

// Reset overwrites the file at path with the defaults.
func Reset(path string) error {
	if path == "" {
		path = DefaultPath()
	}
	return Save(path, Default())
}

// Save writes cfg to path atomically.
func Save(path string, cfg Config) error {
	if path == "" {
		path = DefaultPath()
	}
	if err := cfg.Validate(); err != nil {
		return &Error{Op: "save", Path: path, Err: err}
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return &Error{Op: "save", Path: path, Err: err}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &Error{Op: "save", Path: path, Err: err}
	}

	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return &Error{Op: "save", Path: path, Err: err}
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return &Error{Op: "save", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &Error{Op: "save", Path: path, Err: err}
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return &Error{Op: "save", Path: path, Err: err}
	}
	return nil
}
