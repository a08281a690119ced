package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var allKeys = []string{
	"COACHING_CONFIG_FILE",
	"COACHING_HTTP_PORT",
	"COACHING_SHUTDOWN_TIMEOUT",
	"COACHING_STORAGE_DRIVER",
	"COACHING_DATABASE_DSN",
	"COACHING_NATS_URL",
	"COACHING_NATS_SUBJECT_PREFIX",
	"COACHING_VIDEO_BASE_URL",
	"COACHING_VIDEO_SECRET",
	"COACHING_OUTBOX_SCHEDULE",
	"COACHING_OUTBOX_BATCH_SIZE",
	"COACHING_OUTBOX_MAX_ATTEMPTS",
	"COACHING_OUTBOX_LEASE",
	"COACHING_COLLABORATOR_TIMEOUT",
	"COACHING_CALENDAR_FETCH_TIMEOUT",
	"COACHING_CACHE_TTL",
	"COACHING_CACHE_SIZE",
	"COACHING_REFERENCE_TIMEZONE",
	"OTEL_EXPORTER_OTLP_ENDPOINT",
	"COACHING_LOG_LEVEL",
	"COACHING_LOG_FORMAT",
}

// clearEnv unsets every key for the duration of the test and points the
// dotenv loader at a file that does not exist.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range allKeys {
		t.Setenv(key, "")
		if err := os.Unsetenv(key); err != nil {
			t.Fatalf("failed to unset %s: %v", key, err)
		}
	}
	t.Setenv("COACHING_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoader_ParseEnvironment(t *testing.T) {
	t.Run("applies defaults when variables are missing", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("COACHING_VIDEO_BASE_URL", "https://meet.example.com")
		t.Setenv("COACHING_VIDEO_SECRET", "video-secret")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}

		if cfg.HTTPPort != 8080 {
			t.Fatalf("expected default HTTP port 8080, got %d", cfg.HTTPPort)
		}
		if cfg.StorageDriver != DriverMemory || cfg.DatabaseDSN != "" {
			t.Fatalf("expected the memory driver by default, got %q %q", cfg.StorageDriver, cfg.DatabaseDSN)
		}
		if cfg.OutboxSchedule != "@every 5s" || cfg.OutboxBatchSize != 20 || cfg.OutboxMaxAttempts != 8 {
			t.Fatalf("unexpected outbox defaults: %+v", cfg)
		}
		if cfg.CacheTTL != 5*time.Minute || cfg.CacheSize != 256 {
			t.Fatalf("unexpected cache defaults: %s %d", cfg.CacheTTL, cfg.CacheSize)
		}
		if cfg.ReferenceLocation != time.UTC || cfg.LogFormat != "json" {
			t.Fatalf("unexpected reference zone or log format: %v %q", cfg.ReferenceLocation, cfg.LogFormat)
		}
		if cfg.VideoSecret != "video-secret" {
			t.Fatalf("expected video secret to be read, got %q", cfg.VideoSecret)
		}
	})

	t.Run("errors when required values are missing", func(t *testing.T) {
		clearEnv(t)

		_, err := Load()
		if err == nil {
			t.Fatalf("expected error when required values are missing")
		}
		expected := "必須の環境変数が設定されていません: COACHING_VIDEO_BASE_URL, COACHING_VIDEO_SECRET"
		if err.Error() != expected {
			t.Fatalf("unexpected error message: %q", err.Error())
		}
	})

	t.Run("postgres requires a dsn", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("COACHING_VIDEO_BASE_URL", "https://meet.example.com")
		t.Setenv("COACHING_VIDEO_SECRET", "video-secret")
		t.Setenv("COACHING_STORAGE_DRIVER", "postgres")

		_, err := Load()
		if err == nil || !strings.Contains(err.Error(), "COACHING_DATABASE_DSN") {
			t.Fatalf("expected missing DSN error, got %v", err)
		}
	})

	t.Run("sqlite falls back to a local file", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("COACHING_VIDEO_BASE_URL", "https://meet.example.com")
		t.Setenv("COACHING_VIDEO_SECRET", "video-secret")
		t.Setenv("COACHING_STORAGE_DRIVER", "SQLite")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}
		if cfg.StorageDriver != DriverSQLite || cfg.DatabaseDSN != defaultSQLiteDSN {
			t.Fatalf("unexpected sqlite settings: %q %q", cfg.StorageDriver, cfg.DatabaseDSN)
		}
	})

	t.Run("parses duration and numeric fields", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("COACHING_VIDEO_BASE_URL", "https://meet.example.com")
		t.Setenv("COACHING_VIDEO_SECRET", "video-secret")
		t.Setenv("COACHING_HTTP_PORT", "9090")
		t.Setenv("COACHING_OUTBOX_LEASE", "45s")
		t.Setenv("COACHING_CACHE_SIZE", "32")
		t.Setenv("COACHING_COLLABORATOR_TIMEOUT", "2s")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}
		if cfg.HTTPPort != 9090 {
			t.Fatalf("expected HTTP port 9090, got %d", cfg.HTTPPort)
		}
		if cfg.OutboxLease != 45*time.Second || cfg.CollaboratorTimeout != 2*time.Second {
			t.Fatalf("unexpected durations: %s %s", cfg.OutboxLease, cfg.CollaboratorTimeout)
		}
		if cfg.CacheSize != 32 {
			t.Fatalf("expected cache size 32, got %d", cfg.CacheSize)
		}
	})

	t.Run("reports every invalid value", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("COACHING_VIDEO_BASE_URL", "https://meet.example.com")
		t.Setenv("COACHING_VIDEO_SECRET", "video-secret")
		t.Setenv("COACHING_HTTP_PORT", "-1")
		t.Setenv("COACHING_CACHE_TTL", "soon")
		t.Setenv("COACHING_STORAGE_DRIVER", "mongo")
		t.Setenv("COACHING_REFERENCE_TIMEZONE", "Mars/Olympus")

		_, err := Load()
		expected := "環境変数の値が不正です: COACHING_HTTP_PORT, COACHING_STORAGE_DRIVER, COACHING_CACHE_TTL, COACHING_REFERENCE_TIMEZONE"
		if err == nil || err.Error() != expected {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestLoader_ConfigFileOverlay(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "coaching.yaml", `
http:
  port: "7070"
storage:
  driver: sqlite
  dsn: file:/tmp/overlay.db
video:
  base_url: https://video.example.com
  secret: from-file
outbox:
  batch_size: "50"
cache:
  ttl: 90s
telemetry:
  log_format: text
`)
	t.Setenv("COACHING_CONFIG_FILE", path)
	t.Setenv("COACHING_HTTP_PORT", "9191")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.HTTPPort != 9191 {
		t.Fatalf("expected the environment to win over the file, got %d", cfg.HTTPPort)
	}
	if cfg.StorageDriver != DriverSQLite || cfg.DatabaseDSN != "file:/tmp/overlay.db" {
		t.Fatalf("unexpected storage settings: %q %q", cfg.StorageDriver, cfg.DatabaseDSN)
	}
	if cfg.VideoSecret != "from-file" || cfg.OutboxBatchSize != 50 || cfg.CacheTTL != 90*time.Second || cfg.LogFormat != "text" {
		t.Fatalf("expected file values to be applied, got %+v", cfg)
	}
}

func TestLoader_ConfigFileErrors(t *testing.T) {
	clearEnv(t)
	t.Setenv("COACHING_CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "設定ファイルを読み込めません") {
		t.Fatalf("expected a read error, got %v", err)
	}

	t.Setenv("COACHING_CONFIG_FILE", writeFile(t, "broken.yaml", "http: [unterminated"))
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "設定ファイルの形式が不正です") {
		t.Fatalf("expected a parse error, got %v", err)
	}
}

func TestLoader_DotEnv(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "test.env", "COACHING_VIDEO_BASE_URL=https://dotenv.example.com\nCOACHING_VIDEO_SECRET=dotenv-secret\nCOACHING_CACHE_SIZE=12\n")
	t.Setenv("COACHING_ENV_FILE", path)
	t.Setenv("COACHING_CACHE_SIZE", "64")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.VideoBaseURL != "https://dotenv.example.com" || cfg.VideoSecret != "dotenv-secret" {
		t.Fatalf("expected values from the env file, got %q %q", cfg.VideoBaseURL, cfg.VideoSecret)
	}
	if cfg.CacheSize != 64 {
		t.Fatalf("expected existing variables not to be overridden, got %d", cfg.CacheSize)
	}
}
