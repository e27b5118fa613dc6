package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xtxerr/sensorlog/internal/errors"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.StorageDir == "" {
		t.Error("expected default storage_dir")
	}

	if cfg.Writer.BufferFlushThreshold < 1 {
		t.Error("expected positive buffer_flush_threshold")
	}

	if cfg.Rotation.Every <= 0 {
		t.Error("expected positive rotation.every")
	}

	if cfg.Retention.Duration <= 0 {
		t.Error("expected positive retention")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"empty storage_dir", func(c *Config) { c.StorageDir = "" }},
		{"empty filename_pattern", func(c *Config) { c.FilenamePattern = "" }},
		{"pattern with directory", func(c *Config) { c.FilenamePattern = "sub/readings_2006.csv" }},
		{"pattern without csv extension", func(c *Config) { c.FilenamePattern = "readings_2006-01-02.log" }},
		{"unknown location", func(c *Config) { c.Location = "Mars/Olympus" }},
		{"zero flush threshold", func(c *Config) { c.Writer.BufferFlushThreshold = 0 }},
		{"zero flush interval", func(c *Config) { c.Writer.FlushInterval = 0 }},
		{"zero rotate every", func(c *Config) { c.Rotation.Every = 0 }},
		{"negative max size", func(c *Config) { c.Rotation.MaxSizeBytes = -1 }},
		{"zero max lines", func(c *Config) { c.Rotation.MaxLineCount = 0 }},
		{"zero retention", func(c *Config) { c.Retention.Duration = 0 }},
		{"compression level too high", func(c *Config) { c.Archive.CompressionLevel = 10 }},
		{"archive dir equals storage dir", func(c *Config) { c.Archive.Dir = c.StorageDir + "/" }},
		{"percentile accuracy too high", func(c *Config) { c.Query.PercentileAccuracy = 1 }},
		{"bad export codec", func(c *Config) { c.Export.Compression = "brotli" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.IsConfig(err) {
				t.Errorf("expected config error, got %v", err)
			}
		})
	}
}

func TestConfigValidate_CollectsAll(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StorageDir = ""
	cfg.Rotation.MaxLineCount = 0
	cfg.Retention.Duration = -time.Hour

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}

	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		t.Fatalf("expected joined error, got %T", err)
	}
	if n := len(joined.Unwrap()); n != 3 {
		t.Errorf("expected 3 errors, got %d: %v", n, err)
	}
}

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test.yaml")

	configContent := `
storage_dir: /tmp/sensorlog-test
filename_pattern: sensors_2006-01-02.csv
location: UTC
writer:
  buffer_flush_threshold: 5
  flush_interval: 2s
  fsync: true
rotation:
  every: 1h
  max_size_bytes: 1048576
  max_line_count: 500
retention:
  duration: 168h
archive:
  compression_level: 9
query:
  percentile_accuracy: 0.02
export:
  compression: snappy
logging:
  level: debug
  format: json
`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.StorageDir != "/tmp/sensorlog-test" {
		t.Errorf("expected storage_dir=/tmp/sensorlog-test, got %s", cfg.StorageDir)
	}

	if cfg.FilenamePattern != "sensors_2006-01-02.csv" {
		t.Errorf("expected filename_pattern=sensors_2006-01-02.csv, got %s", cfg.FilenamePattern)
	}

	if cfg.Writer.BufferFlushThreshold != 5 {
		t.Errorf("expected buffer_flush_threshold=5, got %d", cfg.Writer.BufferFlushThreshold)
	}

	if !cfg.Writer.Fsync {
		t.Error("expected fsync enabled")
	}

	if cfg.Rotation.Every != time.Hour {
		t.Errorf("expected every=1h, got %v", cfg.Rotation.Every)
	}

	if cfg.Rotation.MaxLineCount != 500 {
		t.Errorf("expected max_line_count=500, got %d", cfg.Rotation.MaxLineCount)
	}

	if cfg.Retention.Duration != 7*24*time.Hour {
		t.Errorf("expected retention=168h, got %v", cfg.Retention.Duration)
	}

	if cfg.Export.Compression != "snappy" {
		t.Errorf("expected compression=snappy, got %s", cfg.Export.Compression)
	}

	// Unset sections keep their defaults
	if cfg.Logging.MaxBackups != DefaultConfig().Logging.MaxBackups {
		t.Errorf("expected default max_backups, got %d", cfg.Logging.MaxBackups)
	}
}

func TestLoadConfigJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	configContent := `{
  "storage_dir": "` + filepath.Join(tmpDir, "data") + `",
  "rotation": {"every": "30m", "max_line_count": 10}
}`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Rotation.Every != 30*time.Minute {
		t.Errorf("expected every=30m, got %v", cfg.Rotation.Every)
	}
	if cfg.Rotation.MaxLineCount != 10 {
		t.Errorf("expected max_line_count=10, got %d", cfg.Rotation.MaxLineCount)
	}
}

func TestLoadConfigInvalidFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	if err := os.WriteFile(configPath, []byte("invalid: yaml: content: ["), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoadConfigInvalidValues(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "bad.yaml")

	if err := os.WriteFile(configPath, []byte("writer:\n  buffer_flush_threshold: 0\n"), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !errors.IsConfig(err) {
		t.Errorf("expected config error, got %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"SENSORLOG_STORAGE_DIR":            "/srv/readings",
		"SENSORLOG_ROTATE_EVERY":           "2h",
		"SENSORLOG_MAX_LINE_COUNT":         "42",
		"SENSORLOG_BUFFER_FLUSH_THRESHOLD": "7",
		"SENSORLOG_RETENTION":              "",
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(lookup); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}

	if cfg.StorageDir != "/srv/readings" {
		t.Errorf("expected storage_dir=/srv/readings, got %s", cfg.StorageDir)
	}
	if cfg.Rotation.Every != 2*time.Hour {
		t.Errorf("expected every=2h, got %v", cfg.Rotation.Every)
	}
	if cfg.Rotation.MaxLineCount != 42 {
		t.Errorf("expected max_line_count=42, got %d", cfg.Rotation.MaxLineCount)
	}
	if cfg.Writer.BufferFlushThreshold != 7 {
		t.Errorf("expected buffer_flush_threshold=7, got %d", cfg.Writer.BufferFlushThreshold)
	}
	if cfg.Retention.Duration != DefaultConfig().Retention.Duration {
		t.Error("empty env value should not override retention")
	}
}

func TestApplyEnv_Invalid(t *testing.T) {
	lookup := func(key string) (string, bool) {
		if key == "SENSORLOG_ROTATE_EVERY" {
			return "soon", true
		}
		return "", false
	}

	cfg := DefaultConfig()
	err := cfg.ApplyEnv(lookup)
	if err == nil {
		t.Fatal("expected error for bad duration")
	}
	if !errors.IsConfig(err) {
		t.Errorf("expected config error, got %v", err)
	}
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test.yaml")

	if err := os.WriteFile(configPath, []byte("rotation:\n  max_line_count: 500\n"), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("SENSORLOG_MAX_LINE_COUNT", "900")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Rotation.MaxLineCount != 900 {
		t.Errorf("expected max_line_count=900, got %d", cfg.Rotation.MaxLineCount)
	}
}

func TestArchiveDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StorageDir = "/data"

	if cfg.ArchiveDir() != filepath.Join("/data", "archive") {
		t.Errorf("expected /data/archive, got %s", cfg.ArchiveDir())
	}

	cfg.Archive.Dir = "/mnt/cold"
	if cfg.ArchiveDir() != "/mnt/cold" {
		t.Errorf("expected /mnt/cold, got %s", cfg.ArchiveDir())
	}
}

func TestLoadLocation(t *testing.T) {
	cfg := DefaultConfig()

	loc, err := cfg.LoadLocation()
	if err != nil || loc != time.UTC {
		t.Errorf("expected UTC by default, got %v (%v)", loc, err)
	}

	cfg.Location = ""
	loc, err = cfg.LoadLocation()
	if err != nil || loc != time.UTC {
		t.Errorf("expected UTC for empty location, got %v (%v)", loc, err)
	}

	cfg.Location = "Local"
	loc, err = cfg.LoadLocation()
	if err != nil || loc != time.Local {
		t.Errorf("expected Local, got %v (%v)", loc, err)
	}

	cfg.Location = "UTC"
	loc, err = cfg.LoadLocation()
	if err != nil || loc != time.UTC {
		t.Errorf("expected UTC, got %v (%v)", loc, err)
	}
}

func TestEnsureDirectories(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := DefaultConfig()
	cfg.StorageDir = filepath.Join(tmpDir, "data")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	for _, dir := range []string{cfg.StorageDir, cfg.ArchiveDir()} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Errorf("stat %s: %v", dir, err)
			continue
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", dir)
		}
	}
}
