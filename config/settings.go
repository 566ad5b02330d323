// Package config loads the supervisor's optional settings file.
//
// Settings are runtime tunables for the process supervisor only — workspace
// configuration proper (ports, providers, per-project options) belongs to the
// orchestration layer above this library.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/codenomad/core/logger"
	"github.com/codenomad/core/paths"
)

// Settings holds supervisor tunables read from settings.yaml.
type Settings struct {
	// StopGracePeriodSeconds is how long Stop waits after the graceful
	// signal before force-killing the process tree.
	StopGracePeriodSeconds int `yaml:"stop_grace_period_seconds"`

	// PortWaitWarnSeconds is the interval between "still waiting for port"
	// warnings while a launch has not yet announced readiness.
	PortWaitWarnSeconds int `yaml:"port_wait_warn_seconds"`

	// WorktreeBranchPrefix is prepended to auto-generated worktree slugs
	// (e.g. "alice/" yields branches like alice/wt-1a2b3c4d).
	WorktreeBranchPrefix string `yaml:"worktree_branch_prefix"`

	// Debug enables debug-level logging.
	Debug bool `yaml:"debug"`
}

// DefaultSettings returns the built-in tunables used when no settings file
// exists or a field is left at zero.
func DefaultSettings() Settings {
	return Settings{
		StopGracePeriodSeconds: 2,
		PortWaitWarnSeconds:    10,
	}
}

// LoadSettings reads settings.yaml from the config dir, returning defaults if
// the file does not exist. A malformed file is an error — silently ignoring a
// typo'd settings file would be worse than failing loudly.
func LoadSettings() (Settings, error) {
	path, err := paths.SettingsFilePath()
	if err != nil {
		return DefaultSettings(), err
	}
	s, err := loadSettingsFrom(path)
	if err == nil {
		logger.SetDebug(s.Debug)
	}
	return s, err
}

func loadSettingsFrom(path string) (Settings, error) {
	s := DefaultSettings()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return s, fmt.Errorf("failed to read settings: %w", err)
	}

	if err := yaml.Unmarshal(data, &s); err != nil {
		return DefaultSettings(), fmt.Errorf("failed to parse settings: %w", err)
	}

	// Zero or negative values fall back to defaults rather than disabling
	// the behavior entirely.
	defaults := DefaultSettings()
	if s.StopGracePeriodSeconds <= 0 {
		s.StopGracePeriodSeconds = defaults.StopGracePeriodSeconds
	}
	if s.PortWaitWarnSeconds <= 0 {
		s.PortWaitWarnSeconds = defaults.PortWaitWarnSeconds
	}

	return s, nil
}

// StopGracePeriod returns the stop escalation delay as a duration.
func (s Settings) StopGracePeriod() time.Duration {
	return time.Duration(s.StopGracePeriodSeconds) * time.Second
}

// PortWaitWarnInterval returns the port-wait warning interval as a duration.
func (s Settings) PortWaitWarnInterval() time.Duration {
	return time.Duration(s.PortWaitWarnSeconds) * time.Second
}
