package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("Could not get home dir: %v", err)
	}

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "tilde expands to home",
			input:    "~/cache",
			expected: filepath.Join(home, "cache"),
		},
		{
			name:     "absolute path unchanged",
			input:    "/var/cache/lyrics",
			expected: "/var/cache/lyrics",
		},
		{
			name:     "relative path unchanged",
			input:    "cache/lyrics",
			expected: "cache/lyrics",
		},
		{
			name:     "empty string unchanged",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := expandPath(tt.input)
			if result != tt.expected {
				t.Errorf("expandPath(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestGetConfigPaths(t *testing.T) {
	paths := getConfigPaths()

	if len(paths) == 0 {
		t.Fatal("getConfigPaths() returned empty slice")
	}

	// Last path should be local config.toml
	lastPath := paths[len(paths)-1]
	if lastPath != "config.toml" {
		t.Errorf("last config path = %q, want %q", lastPath, "config.toml")
	}

	if home, err := os.UserHomeDir(); err == nil {
		expectedFirst := filepath.Join(home, ".config", "music-companion", "config.toml")
		if paths[0] != expectedFirst {
			t.Errorf("first config path = %q, want %q", paths[0], expectedFirst)
		}
	}
}

func TestTuning_Defaults(t *testing.T) {
	cfg := Config{}
	tuning := cfg.Tuning()

	if tuning.TickInterval != 100*time.Millisecond {
		t.Errorf("TickInterval = %v, want 100ms", tuning.TickInterval)
	}
	if tuning.SeekThreshold != 6.0 {
		t.Errorf("SeekThreshold = %f, want 6.0", tuning.SeekThreshold)
	}
	if tuning.AccelerationDelay != 2.0 {
		t.Errorf("AccelerationDelay = %f, want 2.0", tuning.AccelerationDelay)
	}
	if tuning.AccelerationCap != 1.05 {
		t.Errorf("AccelerationCap = %f, want 1.05", tuning.AccelerationCap)
	}
	if tuning.AccelerationRamp != 200.0 {
		t.Errorf("AccelerationRamp = %f, want 200.0", tuning.AccelerationRamp)
	}
}

func TestTuning_CustomValues(t *testing.T) {
	cfg := Config{
		Tracker: TrackerConfig{
			TickMS:            250,
			SeekThresholdSecs: 4.0,
			AccelerationCap:   1.1,
		},
	}
	tuning := cfg.Tuning()

	if tuning.TickInterval != 250*time.Millisecond {
		t.Errorf("TickInterval = %v, want 250ms", tuning.TickInterval)
	}
	if tuning.SeekThreshold != 4.0 {
		t.Errorf("SeekThreshold = %f, want 4.0", tuning.SeekThreshold)
	}
	if tuning.AccelerationCap != 1.1 {
		t.Errorf("AccelerationCap = %f, want 1.1", tuning.AccelerationCap)
	}
	// Unset fields keep their defaults
	if tuning.AccelerationRamp != 200.0 {
		t.Errorf("AccelerationRamp = %f, want 200.0", tuning.AccelerationRamp)
	}
}

func TestSyncSettings_Defaults(t *testing.T) {
	cfg := Config{}
	s := cfg.SyncSettings()

	if s.WatchdogInitialInterval != 500*time.Millisecond {
		t.Errorf("WatchdogInitialInterval = %v, want 500ms", s.WatchdogInitialInterval)
	}
	if s.WatchdogInitialTicks != 5 {
		t.Errorf("WatchdogInitialTicks = %d, want 5", s.WatchdogInitialTicks)
	}
	if s.WatchdogInterval != 3*time.Second {
		t.Errorf("WatchdogInterval = %v, want 3s", s.WatchdogInterval)
	}
	if s.LookaheadMin != 500*time.Millisecond {
		t.Errorf("LookaheadMin = %v, want 500ms", s.LookaheadMin)
	}
	if s.LookaheadMax != 10*time.Second {
		t.Errorf("LookaheadMax = %v, want 10s", s.LookaheadMax)
	}
}

func TestFetchSettings_Defaults(t *testing.T) {
	cfg := Config{}
	f := cfg.FetchSettings()

	if f.StreamContentPrefix != "library://radio" {
		t.Errorf("StreamContentPrefix = %q, want %q", f.StreamContentPrefix, "library://radio")
	}
	if f.FingerprintLead != 2*time.Second {
		t.Errorf("FingerprintLead = %v, want 2s", f.FingerprintLead)
	}
}

func TestFetchSettings_CustomValues(t *testing.T) {
	cfg := Config{
		Fetch: FetchConfig{
			StreamContentPrefix: "stream://",
			FingerprintLeadSecs: 3.5,
		},
	}
	f := cfg.FetchSettings()

	if f.StreamContentPrefix != "stream://" {
		t.Errorf("StreamContentPrefix = %q, want %q", f.StreamContentPrefix, "stream://")
	}
	if f.FingerprintLead != 3500*time.Millisecond {
		t.Errorf("FingerprintLead = %v, want 3.5s", f.FingerprintLead)
	}
}

func TestCacheTTL(t *testing.T) {
	cfg := Config{}
	if got := cfg.CacheTTL(); got != 30*24*time.Hour {
		t.Errorf("CacheTTL() = %v, want 30 days", got)
	}

	cfg.Cache.TTLDays = 7
	if got := cfg.CacheTTL(); got != 7*24*time.Hour {
		t.Errorf("CacheTTL() = %v, want 7 days", got)
	}
}

func TestLoad_EmptyConfig(t *testing.T) {
	tmpDir := t.TempDir()
	originalWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("could not get working directory: %v", err)
	}

	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("could not change to temp directory: %v", err)
	}
	defer func() {
		_ = os.Chdir(originalWd)
	}()

	if err := os.WriteFile("config.toml", []byte(""), 0o600); err != nil {
		t.Fatalf("could not write config file: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg == nil {
		t.Fatal("Load() returned nil config")
	}
}

func TestLoad_BasicConfig(t *testing.T) {
	tmpDir := t.TempDir()
	originalWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("could not get working directory: %v", err)
	}

	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("could not change to temp directory: %v", err)
	}
	defer func() {
		_ = os.Chdir(originalWd)
	}()

	configContent := `
[lrclib]
url = "https://lrclib.example.com/api/"

[cache]
path = "~/lyrics-cache"
ttl_days = 14

[[devices]]
name = "living-room"
player = "org.mpris.MediaPlayer2.spotify"

[[devices]]
player = "org.mpris.MediaPlayer2.mpv"
`
	if err := os.WriteFile("config.toml", []byte(configContent), 0o600); err != nil {
		t.Fatalf("could not write config file: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Check that URL trailing slash is removed
	if cfg.Lrclib.URL != "https://lrclib.example.com/api" {
		t.Errorf("Lrclib.URL = %q, want %q", cfg.Lrclib.URL, "https://lrclib.example.com/api")
	}

	// Cache path should have ~ expanded
	home, _ := os.UserHomeDir()
	expectedPath := filepath.Join(home, "lyrics-cache")
	if cfg.Cache.Path != expectedPath {
		t.Errorf("Cache.Path = %q, want %q", cfg.Cache.Path, expectedPath)
	}
	if cfg.Cache.TTLDays != 14 {
		t.Errorf("Cache.TTLDays = %d, want 14", cfg.Cache.TTLDays)
	}

	if len(cfg.Devices) != 2 {
		t.Fatalf("Devices length = %d, want 2", len(cfg.Devices))
	}
	if cfg.Devices[0].Name != "living-room" {
		t.Errorf("Devices[0].Name = %q, want %q", cfg.Devices[0].Name, "living-room")
	}
	// A device without a name falls back to its player
	if cfg.Devices[1].Name != "org.mpris.MediaPlayer2.mpv" {
		t.Errorf("Devices[1].Name = %q, want player name", cfg.Devices[1].Name)
	}
}

func TestLoad_DeviceWithoutPlayer(t *testing.T) {
	tmpDir := t.TempDir()
	originalWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("could not get working directory: %v", err)
	}

	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("could not change to temp directory: %v", err)
	}
	defer func() {
		_ = os.Chdir(originalWd)
	}()

	configContent := `
[[devices]]
name = "nameless"
`
	if err := os.WriteFile("config.toml", []byte(configContent), 0o600); err != nil {
		t.Fatalf("could not write config file: %v", err)
	}

	if _, err := Load(); err == nil {
		t.Error("Load() expected error for device without player, got nil")
	}
}

func TestLoad_InvalidToml(t *testing.T) {
	tmpDir := t.TempDir()
	originalWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("could not get working directory: %v", err)
	}

	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("could not change to temp directory: %v", err)
	}
	defer func() {
		_ = os.Chdir(originalWd)
	}()

	if err := os.WriteFile("config.toml", []byte("invalid = [[["), 0o600); err != nil {
		t.Fatalf("could not write config file: %v", err)
	}

	_, err = Load()
	if err == nil {
		t.Error("Load() expected error for invalid TOML, got nil")
	}
}
