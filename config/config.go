// Package config manages Strand's persisted client settings.
//
// Settings live in a single YAML file at paths.ConfigFilePath(). A missing
// file is not an error; Load returns defaults and the file is created on the
// first Save.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/strandline/strand-core/paths"
)

// DefaultNotificationLimit caps the per-session notification history kept in
// memory by the stream manager.
const DefaultNotificationLimit = 400

// Settings holds the application configuration
type Settings struct {
	Theme                string `yaml:"theme,omitempty"`                 // UI theme name (e.g., "dark-purple", "nord")
	NotificationsEnabled bool   `yaml:"notifications_enabled"`           // Surface tool notifications to the UI
	NotificationLimit    int    `yaml:"notification_limit,omitempty"`    // Max notifications retained per session (default 400)
	DefaultWorkingDir    string `yaml:"default_working_dir,omitempty"`   // Working directory for new sessions
	Debug                bool   `yaml:"debug,omitempty"`                 // Debug level logging

	mu       sync.RWMutex
	filePath string
}

// Load reads the settings from disk, or creates defaults if the file doesn't exist
func Load() (*Settings, error) {
	path, err := paths.ConfigFilePath()
	if err != nil {
		return nil, err
	}

	s := &Settings{
		NotificationsEnabled: true,
		NotificationLimit:    DefaultNotificationLimit,
		filePath:             path,
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	s.normalize()

	if err := s.Validate(); err != nil {
		return nil, err
	}

	return s, nil
}

// normalize fills in defaults for zero-valued fields after unmarshaling.
//
// Thread-safety: NOT thread-safe, only called from Load() before the
// Settings value is shared across goroutines.
func (s *Settings) normalize() {
	if s.NotificationLimit <= 0 {
		s.NotificationLimit = DefaultNotificationLimit
	}
}

// Validate checks that the settings are internally consistent.
func (s *Settings) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.NotificationLimit <= 0 {
		return fmt.Errorf("notification_limit must be positive, got %d", s.NotificationLimit)
	}
	if s.DefaultWorkingDir != "" && !filepath.IsAbs(s.DefaultWorkingDir) {
		return fmt.Errorf("default_working_dir must be absolute, got %q", s.DefaultWorkingDir)
	}
	return nil
}

// Save writes the settings to disk
func (s *Settings) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}

	return os.WriteFile(s.filePath, data, 0644)
}

// SetFilePath sets the settings file path (for testing).
func (s *Settings) SetFilePath(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filePath = path
}

// GetTheme returns the current theme name
func (s *Settings) GetTheme() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Theme
}

// SetTheme sets the current theme name
func (s *Settings) SetTheme(theme string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Theme = theme
}

// GetNotificationsEnabled returns whether tool notifications are surfaced
func (s *Settings) GetNotificationsEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.NotificationsEnabled
}

// SetNotificationsEnabled sets whether tool notifications are surfaced
func (s *Settings) SetNotificationsEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.NotificationsEnabled = enabled
}

// GetNotificationLimit returns the per-session notification history cap
func (s *Settings) GetNotificationLimit() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.NotificationLimit <= 0 {
		return DefaultNotificationLimit
	}
	return s.NotificationLimit
}

// SetNotificationLimit sets the per-session notification history cap.
// Non-positive values reset to the default.
func (s *Settings) SetNotificationLimit(limit int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = DefaultNotificationLimit
	}
	s.NotificationLimit = limit
}

// GetDefaultWorkingDir returns the working directory for new sessions
func (s *Settings) GetDefaultWorkingDir() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.DefaultWorkingDir
}

// SetDefaultWorkingDir sets the working directory for new sessions
func (s *Settings) SetDefaultWorkingDir(dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DefaultWorkingDir = dir
}

// GetDebug returns whether debug logging is enabled
func (s *Settings) GetDebug() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Debug
}

// SetDebug sets whether debug logging is enabled
func (s *Settings) SetDebug(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Debug = enabled
}
