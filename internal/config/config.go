package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultPauseMs           = 1000
	defaultBrowserTimeoutSec = 15
	defaultLoginTimeoutSec   = 120
	defaultConsentTimeoutSec = 5

	DefaultTargetsFile   = "targets.json"
	DefaultCountriesFile = "countries.json"
	DefaultTemplatesDir  = "templates"
	DefaultProfileFile   = "config.json"
)

func checkFilePermissions(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %04o; should be 0600", path, perm)
	}
	return nil
}

// Settings holds file locations and tunables. Every field has a default, so
// the settings file itself is optional.
type Settings struct {
	TargetsFile   string     `yaml:"targets_file"`
	CountriesFile string     `yaml:"countries_file"`
	TemplatesDir  string     `yaml:"templates_dir"`
	ProfileFile   string     `yaml:"profile_file"`
	HistoryDB     string     `yaml:"history_db"`
	PauseMs       int        `yaml:"pause_ms"`
	Browser       Browser    `yaml:"browser"`
	IMAP          IMAPConfig `yaml:"imap"`
}

// Browser holds browser automation settings
type Browser struct {
	Headless          bool   `yaml:"headless"`
	TimeoutSec        int    `yaml:"timeout_sec"`         // element waits
	LoginTimeoutSec   int    `yaml:"login_timeout_sec"`   // BankID login waits
	ConsentTimeoutSec int    `yaml:"consent_timeout_sec"` // cookie banner lookup
	ExecPath          string `yaml:"exec_path,omitempty"`
}

// IMAPConfig is where replies to removal emails are read from. The login
// is the saved SMTP account.
type IMAPConfig struct {
	Server string `yaml:"server,omitempty"`
	Port   int    `yaml:"port"`
	Folder string `yaml:"folder"`
}

func (s *Settings) Pause() time.Duration {
	return time.Duration(s.PauseMs) * time.Millisecond
}

func (b Browser) Timeout() time.Duration {
	return time.Duration(b.TimeoutSec) * time.Second
}

func (b Browser) LoginTimeout() time.Duration {
	return time.Duration(b.LoginTimeoutSec) * time.Second
}

func (b Browser) ConsentTimeout() time.Duration {
	return time.Duration(b.ConsentTimeoutSec) * time.Second
}

// DefaultSettings returns the settings used when no settings file exists.
func DefaultSettings() *Settings {
	s := &Settings{PauseMs: defaultPauseMs}
	s.applyDefaults()
	return s
}

func (s *Settings) applyDefaults() {
	if s.TargetsFile == "" {
		s.TargetsFile = DefaultTargetsFile
	}
	if s.CountriesFile == "" {
		s.CountriesFile = DefaultCountriesFile
	}
	if s.TemplatesDir == "" {
		s.TemplatesDir = DefaultTemplatesDir
	}
	if s.ProfileFile == "" {
		s.ProfileFile = DefaultProfileFile
	}
	if s.HistoryDB == "" {
		s.HistoryDB = DefaultHistoryPath()
	}
	if s.PauseMs < 0 {
		s.PauseMs = 0
	}
	if s.IMAP.Port == 0 {
		s.IMAP.Port = 993
	}
	if s.IMAP.Folder == "" {
		s.IMAP.Folder = "INBOX"
	}
	if s.Browser.TimeoutSec == 0 {
		s.Browser.TimeoutSec = defaultBrowserTimeoutSec
	}
	if s.Browser.LoginTimeoutSec == 0 {
		s.Browser.LoginTimeoutSec = defaultLoginTimeoutSec
	}
	if s.Browser.ConsentTimeoutSec == 0 {
		s.Browser.ConsentTimeoutSec = defaultConsentTimeoutSec
	}
}

// DefaultSettingsPath returns ./settings.yaml when present, otherwise the
// per-user location.
func DefaultSettingsPath() string {
	if _, err := os.Stat("settings.yaml"); err == nil {
		return "settings.yaml"
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "settings.yaml"
	}
	return filepath.Join(home, ".dataremoval", "settings.yaml")
}

func DefaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "history.db"
	}
	return filepath.Join(home, ".dataremoval", "history.db")
}

// LoadSettings reads the YAML settings file. A missing file yields defaults.
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultSettings(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	// pause_ms is a pointer-free int, so an explicit 0 must survive defaulting
	s := Settings{PauseMs: -1}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse settings file: %w", err)
	}
	if s.PauseMs == -1 {
		s.PauseMs = defaultPauseMs
	}
	s.applyDefaults()
	return &s, nil
}

func SaveSettings(path string, s *Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to serialize settings: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}
