package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/baileyboy0304/music-companion/internal/fetch"
	"github.com/baileyboy0304/music-companion/internal/lyricsync"
	"github.com/baileyboy0304/music-companion/internal/media"
)

type Config struct {
	// Devices lists the players to follow. Empty means discover MPRIS
	// players on the session bus at startup.
	Devices []DeviceConfig `koanf:"devices"`

	Lrclib  LrclibConfig  `koanf:"lrclib"`
	Cache   CacheConfig   `koanf:"cache"`
	Tracker TrackerConfig `koanf:"tracker"`
	Sync    SyncConfig    `koanf:"sync"`
	Fetch   FetchConfig   `koanf:"fetch"`
}

// DeviceConfig binds one display to one player.
type DeviceConfig struct {
	Name   string `koanf:"name"`   // display name, e.g. "living-room"
	Player string `koanf:"player"` // MPRIS bus name, e.g. "org.mpris.MediaPlayer2.spotify"
}

// LrclibConfig holds lyrics provider settings.
type LrclibConfig struct {
	URL            string  `koanf:"url"`              // empty means the public instance
	RequestsPerSec float64 `koanf:"requests_per_sec"` // rate limit (default: 2)
}

// CacheConfig holds the on-disk lyrics cache settings.
type CacheConfig struct {
	Disabled bool   `koanf:"disabled"`
	Path     string `koanf:"path"`     // empty means the XDG cache dir
	TTLDays  int    `koanf:"ttl_days"` // default: 30
}

// TrackerConfig tunes position estimation.
type TrackerConfig struct {
	TickMS                int     `koanf:"tick_ms"`                 // position update cadence (default: 100)
	SeekThresholdSecs     float64 `koanf:"seek_threshold_secs"`     // jump size treated as a seek (default: 6)
	AccelerationDelaySecs float64 `koanf:"acceleration_delay_secs"` // continuous-stream ramp delay (default: 2)
	AccelerationCap       float64 `koanf:"acceleration_cap"`        // max clock speedup (default: 1.05)
	AccelerationRamp      float64 `koanf:"acceleration_ramp"`       // ramp divisor (default: 200)
}

// SyncConfig tunes the display synchronizer.
type SyncConfig struct {
	WatchdogInitialMS    int `koanf:"watchdog_initial_ms"`    // fast cadence after start (default: 500)
	WatchdogInitialTicks int `koanf:"watchdog_initial_ticks"` // fast ticks before settling (default: 5)
	WatchdogSecs         int `koanf:"watchdog_secs"`          // steady cadence (default: 3)
	LookaheadMinMS       int `koanf:"lookahead_min_ms"`       // continuous-stream window start (default: 500)
	LookaheadMaxMS       int `koanf:"lookahead_max_ms"`       // continuous-stream window end (default: 10000)
}

// FetchConfig tunes the fetch orchestrator.
type FetchConfig struct {
	StreamContentPrefix string  `koanf:"stream_content_prefix"` // default: "library://radio"
	FingerprintLeadSecs float64 `koanf:"fingerprint_lead_secs"` // default: 2
}

func Load() (*Config, error) {
	k := koanf.New(".")

	// Try config files in order of priority (last wins)
	for _, path := range getConfigPaths() {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
				return nil, fmt.Errorf("load %s: %w", path, err)
			}
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, err
	}

	// Normalize lrclib URL (remove trailing slash)
	cfg.Lrclib.URL = strings.TrimSuffix(cfg.Lrclib.URL, "/")

	// Expand ~ in cache path
	if cfg.Cache.Path != "" {
		cfg.Cache.Path = expandPath(cfg.Cache.Path)
	}

	for i, dev := range cfg.Devices {
		if dev.Player == "" {
			return nil, fmt.Errorf("device %d (%q) has no player", i, dev.Name)
		}
		if dev.Name == "" {
			cfg.Devices[i].Name = dev.Player
		}
	}

	return cfg, nil
}

func getConfigPaths() []string {
	paths := []string{}

	// 1. ~/.config/music-companion/config.toml
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "music-companion", "config.toml"))
	}

	// 2. ./config.toml (pwd, highest priority)
	paths = append(paths, "config.toml")

	return paths
}

func expandPath(path string) string {
	if path != "" && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// CacheTTL returns the cache lifetime with defaults applied.
func (c *Config) CacheTTL() time.Duration {
	days := c.Cache.TTLDays
	if days <= 0 {
		days = 30
	}
	return time.Duration(days) * 24 * time.Hour
}

// Tuning returns the tracker parameters with defaults applied.
func (c *Config) Tuning() media.Tuning {
	t := media.DefaultTuning()
	if c.Tracker.TickMS > 0 {
		t.TickInterval = time.Duration(c.Tracker.TickMS) * time.Millisecond
	}
	if c.Tracker.SeekThresholdSecs > 0 {
		t.SeekThreshold = c.Tracker.SeekThresholdSecs
	}
	if c.Tracker.AccelerationDelaySecs > 0 {
		t.AccelerationDelay = c.Tracker.AccelerationDelaySecs
	}
	if c.Tracker.AccelerationCap > 1 {
		t.AccelerationCap = c.Tracker.AccelerationCap
	}
	if c.Tracker.AccelerationRamp > 0 {
		t.AccelerationRamp = c.Tracker.AccelerationRamp
	}
	return t
}

// SyncSettings returns the synchronizer parameters with defaults
// applied.
func (c *Config) SyncSettings() lyricsync.Config {
	s := lyricsync.DefaultConfig()
	if c.Sync.WatchdogInitialMS > 0 {
		s.WatchdogInitialInterval = time.Duration(c.Sync.WatchdogInitialMS) * time.Millisecond
	}
	if c.Sync.WatchdogInitialTicks > 0 {
		s.WatchdogInitialTicks = c.Sync.WatchdogInitialTicks
	}
	if c.Sync.WatchdogSecs > 0 {
		s.WatchdogInterval = time.Duration(c.Sync.WatchdogSecs) * time.Second
	}
	if c.Sync.LookaheadMinMS > 0 {
		s.LookaheadMin = time.Duration(c.Sync.LookaheadMinMS) * time.Millisecond
	}
	if c.Sync.LookaheadMaxMS > 0 {
		s.LookaheadMax = time.Duration(c.Sync.LookaheadMaxMS) * time.Millisecond
	}
	return s
}

// FetchSettings returns the orchestrator parameters with defaults
// applied.
func (c *Config) FetchSettings() fetch.Config {
	f := fetch.DefaultConfig()
	f.Sync = c.SyncSettings()
	f.Tuning = c.Tuning()
	if c.Fetch.StreamContentPrefix != "" {
		f.StreamContentPrefix = c.Fetch.StreamContentPrefix
	}
	if c.Fetch.FingerprintLeadSecs > 0 {
		f.FingerprintLead = time.Duration(c.Fetch.FingerprintLeadSecs * float64(time.Second))
	}
	return f
}
