package config

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"studybell/internal/model"
)

const (
	defaultListen        = "127.0.0.1:8080"
	defaultDatabase      = "./var/studybell.db"
	defaultMatchSchedule = "@every 1m"
	defaultDisplay       = time.Second
	defaultFlashInterval = 500 * time.Millisecond
	defaultFlashCount    = 6
	defaultUpcomingHours = 24
	defaultClockFormat   = "24h"
	defaultLogLevel      = "info"
	defaultWhileActive   = "overwrite"
	defaultFeedCacheDir  = "./var/ics-cache"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// AlarmConfig tunes the alert phase.
type AlarmConfig struct {
	// FlashInterval is the period between highlight toggles.
	FlashInterval time.Duration `yaml:"flash_interval" json:"flash_interval"`
	// FlashCount is how many toggles happen before flashing halts.
	FlashCount int `yaml:"flash_count" json:"flash_count"`
	// WhileActive decides what a new match does while an alarm is shown:
	//   - "overwrite" (default) replaces the message and restarts flashing
	//   - "ignore" keeps the current alarm until dismissed
	WhileActive string `yaml:"while_active" json:"while_active"`
}

// IndicatorConfig selects an optional GPIO line mirroring the alarm.
type IndicatorConfig struct {
	// GPIOPin is a periph pin name such as "GPIO17". Empty disables it.
	GPIOPin string `yaml:"gpio_pin" json:"gpio_pin"`
}

// SeedConfig is the timetable used when the database holds none.
type SeedConfig struct {
	Study   []model.StudyEntry   `yaml:"study" json:"study"`
	Routine []model.RoutineEntry `yaml:"routine" json:"routine"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// ClockFormat is "24h" or "12h"; it only affects display.
	ClockFormat string `yaml:"clock_format" json:"clock_format"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	// Database is the sqlite file holding both collections.
	Database string `yaml:"database" json:"database"`

	// FeedCacheDir keeps the last body of imported ICS URLs.
	FeedCacheDir string `yaml:"feed_cache_dir" json:"feed_cache_dir"`

	// DisplayInterval is the fast tick period.
	DisplayInterval time.Duration `yaml:"display_interval" json:"display_interval"`

	// MatchSchedule is a cron spec (e.g. "@every 1m" or "* * * * *")
	// driving the slow tick.
	MatchSchedule string `yaml:"match_schedule" json:"match_schedule"`

	Alarm     AlarmConfig     `yaml:"alarm" json:"alarm"`
	Indicator IndicatorConfig `yaml:"indicator" json:"indicator"`

	// UpcomingHours is the default look-ahead for upcoming reminders.
	UpcomingHours int `yaml:"upcoming_hours" json:"upcoming_hours"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	Seed SeedConfig `yaml:"seed" json:"seed"`
}

// DefaultSeed returns the sample timetable shipped with a fresh install.
func DefaultSeed() SeedConfig {
	return SeedConfig{
		Study: []model.StudyEntry{
			{ID: 1, Subject: "Math", Time: "09:00", Day: "Monday"},
			{ID: 2, Subject: "Physics", Time: "11:00", Day: "Tuesday"},
			{ID: 3, Subject: "Biology", Time: "14:00", Day: "Thursday"},
		},
		Routine: []model.RoutineEntry{
			{ID: 1, Activity: "Fajr Prayer", Time: "05:00"},
			{ID: 2, Activity: "Breakfast", Time: "07:00"},
			{ID: 3, Activity: "Play / Exercise", Time: "17:00"},
			{ID: 4, Activity: "Isha Prayer", Time: "19:30"},
			{ID: 5, Activity: "Sleep", Time: "22:30"},
		},
	}
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:          defaultListen,
		ClockFormat:     defaultClockFormat,
		LogLevel:        defaultLogLevel,
		Database:        defaultDatabase,
		FeedCacheDir:    defaultFeedCacheDir,
		DisplayInterval: defaultDisplay,
		MatchSchedule:   defaultMatchSchedule,
		Alarm: AlarmConfig{
			FlashInterval: defaultFlashInterval,
			FlashCount:    defaultFlashCount,
			WhileActive:   defaultWhileActive,
		},
		UpcomingHours: defaultUpcomingHours,
		BasicAuth:     nil,
		Seed:          DefaultSeed(),
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	switch strings.ToLower(c.ClockFormat) {
	case "24h", "12h":
		c.ClockFormat = strings.ToLower(c.ClockFormat)
	default:
		c.ClockFormat = defaultClockFormat
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.Database == "" {
		c.Database = defaultDatabase
	}
	if c.FeedCacheDir == "" {
		c.FeedCacheDir = defaultFeedCacheDir
	}
	if c.DisplayInterval <= 0 {
		c.DisplayInterval = defaultDisplay
	}
	if strings.TrimSpace(c.MatchSchedule) == "" {
		c.MatchSchedule = defaultMatchSchedule
	}
	if c.Alarm.FlashInterval <= 0 {
		c.Alarm.FlashInterval = defaultFlashInterval
	}
	if c.Alarm.FlashCount <= 0 {
		c.Alarm.FlashCount = defaultFlashCount
	}
	switch c.Alarm.WhileActive {
	case "overwrite", "ignore":
	default:
		// Unknown value; keep the replace-on-match behavior.
		c.Alarm.WhileActive = defaultWhileActive
	}
	if c.UpcomingHours <= 0 {
		c.UpcomingHours = defaultUpcomingHours
	}
	if c.BasicAuth != nil && c.BasicAuth.Username == "" && c.BasicAuth.Password == "" {
		c.BasicAuth = nil
	}
	if c.Seed.Study == nil && c.Seed.Routine == nil {
		c.Seed = DefaultSeed()
	}
}

// Load loads configuration from the given YAML path on fsys.
//
// A missing file is created with the defaults (mode 0600) and those defaults
// are returned. An existing file is decoded and normalized.
func Load(fsys afero.Fs, path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(fsys, path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path, atomically via a temp file + rename, with 0600
// permissions on the final file.
func Save(fsys afero.Fs, path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := fsys.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := afero.TempFile(fsys, dir, ".studybell-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer fsys.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := fsys.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return fsys.Rename(tmpName, path)
}
