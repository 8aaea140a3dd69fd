package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Watched configuration keys. A change to any of them mid-session forces
// the session to stop.
const (
	KeyHot               = "wolf.hot"
	KeyPawPrintsInGutter = "wolf.pawPrintsInGutter"
	KeyHotFrequency      = "wolf.hotFrequency"
)

// WatchedKeys lists the keys whose change marks a session dirty.
var WatchedKeys = []string{KeyHot, KeyPawPrintsInGutter, KeyHotFrequency}

// ProjectFile is the per-project configuration file name.
const ProjectFile = "wolf.toml"

// Config holds all configurable wolf settings.
type Config struct {
	Hot                    *bool    `json:"hot,omitempty" toml:"hot"`
	HotFrequency           int      `json:"hotFrequency,omitempty" toml:"hot_frequency"` // milliseconds
	HotModeWarningDisabled *bool    `json:"hotModeWarningDisabled,omitempty" toml:"hot_mode_warning_disabled"`
	PawPrintsInGutter      *bool    `json:"pawPrintsInGutter,omitempty" toml:"paw_prints_in_gutter"`
	Python                 string   `json:"python,omitempty" toml:"python"`
	Script                 string   `json:"script,omitempty" toml:"script"`
	RootDir                string   `json:"rootDir,omitempty" toml:"root_dir"`
	InstallCommand         []string `json:"installCommand,omitempty" toml:"install_command"`
	LogFile                string   `json:"logFile,omitempty" toml:"log_file"`
	LogLevel               string   `json:"logLevel,omitempty" toml:"log_level"` // debug | info | warn | error
}

// Defaults returns sensible default configuration values.
func Defaults() Config {
	return Config{
		Hot:                    Bool(false),
		HotFrequency:           500,
		HotModeWarningDisabled: Bool(false),
		PawPrintsInGutter:      Bool(true),
		Python:                 "python3",
		Script:                 "scripts/wolf.py",
		LogLevel:               "warn",
	}
}

// Bool returns a pointer to b.
func Bool(b bool) *bool { return &b }

// IsHot reports whether hot mode is enabled.
func (c Config) IsHot() bool { return c.Hot != nil && *c.Hot }

// WarningDisabled reports whether the hot-mode warning is suppressed.
func (c Config) WarningDisabled() bool {
	return c.HotModeWarningDisabled != nil && *c.HotModeWarningDisabled
}

// GutterEnabled reports whether paw prints are drawn in the gutter.
func (c Config) GutterEnabled() bool { return c.PawPrintsInGutter == nil || *c.PawPrintsInGutter }

// Dir returns ~/.config/wolf.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "wolf"), nil
}

// GlobalPath returns the path of the global config file.
func GlobalPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// LoadGlobal reads ~/.config/wolf/config.json.
// Returns defaults if the file is absent.
func LoadGlobal() (*Config, error) {
	path, err := GlobalPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			d := Defaults()
			return &d, nil
		}
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return &cfg, nil
}

// SaveGlobal writes cfg to the global config file.
func SaveGlobal(cfg *Config) error {
	path, err := GlobalPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadProject reads wolf.toml in dir.
// Returns nil (no error) if the file is absent.
func LoadProject(dir string) (*Config, error) {
	path := filepath.Join(dir, ProjectFile)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return &cfg, nil
}

// Load merges the global config with the project config found in dir.
func Load(dir string) (Config, error) {
	global, err := LoadGlobal()
	if err != nil {
		return Config{}, err
	}
	project, err := LoadProject(dir)
	if err != nil {
		return Config{}, err
	}
	return Merge(global, project), nil
}

// Merge combines global and project configs, with project taking precedence.
// Missing keys fall back to global, then defaults.
func Merge(global, project *Config) Config {
	result := Defaults()
	overlay(&result, global)
	overlay(&result, project)
	return result
}

func overlay(dst *Config, src *Config) {
	if src == nil {
		return
	}
	if src.Hot != nil {
		dst.Hot = Bool(*src.Hot)
	}
	if src.HotFrequency != 0 {
		dst.HotFrequency = src.HotFrequency
	}
	if src.HotModeWarningDisabled != nil {
		dst.HotModeWarningDisabled = Bool(*src.HotModeWarningDisabled)
	}
	if src.PawPrintsInGutter != nil {
		dst.PawPrintsInGutter = Bool(*src.PawPrintsInGutter)
	}
	if src.Python != "" {
		dst.Python = src.Python
	}
	if src.Script != "" {
		dst.Script = src.Script
	}
	if src.RootDir != "" {
		dst.RootDir = src.RootDir
	}
	if len(src.InstallCommand) > 0 {
		dst.InstallCommand = src.InstallCommand
	}
	if src.LogFile != "" {
		dst.LogFile = src.LogFile
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
}

// ChangedKeys returns the watched keys whose effective values differ
// between old and new.
func ChangedKeys(old, new Config) []string {
	var keys []string
	if old.IsHot() != new.IsHot() {
		keys = append(keys, KeyHot)
	}
	if old.GutterEnabled() != new.GutterEnabled() {
		keys = append(keys, KeyPawPrintsInGutter)
	}
	if old.HotFrequency != new.HotFrequency {
		keys = append(keys, KeyHotFrequency)
	}
	return keys
}

// AffectsWatched reports whether any of keys is a watched key.
func AffectsWatched(keys []string) bool {
	for _, k := range keys {
		for _, w := range WatchedKeys {
			if k == w {
				return true
			}
		}
	}
	return false
}

// ParseError is returned when a config file exists but cannot be parsed.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return "failed to parse config file " + e.Path + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
