package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Storage drivers accepted by COACHING_STORAGE_DRIVER.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const defaultSQLiteDSN = "file:coaching.db"

// Config captures configuration values for the coaching scheduler service.
type Config struct {
	HTTPPort        int
	ShutdownTimeout time.Duration

	StorageDriver string
	DatabaseDSN   string

	NATSURL           string
	NATSSubjectPrefix string

	VideoBaseURL string
	VideoSecret  string

	OutboxSchedule    string
	OutboxBatchSize   int
	OutboxMaxAttempts int
	OutboxLease       time.Duration

	CollaboratorTimeout  time.Duration
	CalendarFetchTimeout time.Duration

	CacheTTL  time.Duration
	CacheSize int

	ReferenceTimezone string
	ReferenceLocation *time.Location

	OTLPEndpoint string
	LogLevel     string
	LogFormat    string
}

// fileConfig models the optional YAML overlay named by COACHING_CONFIG_FILE.
type fileConfig struct {
	HTTP struct {
		Port            string `yaml:"port"`
		ShutdownTimeout string `yaml:"shutdown_timeout"`
	} `yaml:"http"`
	Storage struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"storage"`
	NATS struct {
		URL           string `yaml:"url"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"nats"`
	Video struct {
		BaseURL string `yaml:"base_url"`
		Secret  string `yaml:"secret"`
	} `yaml:"video"`
	Outbox struct {
		Schedule    string `yaml:"schedule"`
		BatchSize   string `yaml:"batch_size"`
		MaxAttempts string `yaml:"max_attempts"`
		Lease       string `yaml:"lease"`
	} `yaml:"outbox"`
	Collaborators struct {
		Timeout              string `yaml:"timeout"`
		CalendarFetchTimeout string `yaml:"calendar_fetch_timeout"`
	} `yaml:"collaborators"`
	Cache struct {
		TTL  string `yaml:"ttl"`
		Size string `yaml:"size"`
	} `yaml:"cache"`
	ReferenceTimezone string `yaml:"reference_timezone"`
	Telemetry         struct {
		OTLPEndpoint string `yaml:"otlp_endpoint"`
		LogLevel     string `yaml:"log_level"`
		LogFormat    string `yaml:"log_format"`
	} `yaml:"telemetry"`
}

func (f fileConfig) values() map[string]string {
	return map[string]string{
		"COACHING_HTTP_PORT":              f.HTTP.Port,
		"COACHING_SHUTDOWN_TIMEOUT":       f.HTTP.ShutdownTimeout,
		"COACHING_STORAGE_DRIVER":         f.Storage.Driver,
		"COACHING_DATABASE_DSN":           f.Storage.DSN,
		"COACHING_NATS_URL":               f.NATS.URL,
		"COACHING_NATS_SUBJECT_PREFIX":    f.NATS.SubjectPrefix,
		"COACHING_VIDEO_BASE_URL":         f.Video.BaseURL,
		"COACHING_VIDEO_SECRET":           f.Video.Secret,
		"COACHING_OUTBOX_SCHEDULE":        f.Outbox.Schedule,
		"COACHING_OUTBOX_BATCH_SIZE":      f.Outbox.BatchSize,
		"COACHING_OUTBOX_MAX_ATTEMPTS":    f.Outbox.MaxAttempts,
		"COACHING_OUTBOX_LEASE":           f.Outbox.Lease,
		"COACHING_COLLABORATOR_TIMEOUT":   f.Collaborators.Timeout,
		"COACHING_CALENDAR_FETCH_TIMEOUT": f.Collaborators.CalendarFetchTimeout,
		"COACHING_CACHE_TTL":              f.Cache.TTL,
		"COACHING_CACHE_SIZE":             f.Cache.Size,
		"COACHING_REFERENCE_TIMEZONE":     f.ReferenceTimezone,
		"OTEL_EXPORTER_OTLP_ENDPOINT":     f.Telemetry.OTLPEndpoint,
		"COACHING_LOG_LEVEL":              f.Telemetry.LogLevel,
		"COACHING_LOG_FORMAT":             f.Telemetry.LogFormat,
	}
}

// Load parses configuration values from the current process environment.
//
// A .env file (or the file named by COACHING_ENV_FILE) is loaded first without
// overriding variables that are already set. Values from the YAML file named by
// COACHING_CONFIG_FILE fill in anything the environment leaves empty.
func Load() (Config, error) {
	if err := loadDotEnv(); err != nil {
		return Config{}, err
	}

	overlay := map[string]string{}
	if path := strings.TrimSpace(os.Getenv("COACHING_CONFIG_FILE")); path != "" {
		file, err := readFile(path)
		if err != nil {
			return Config{}, err
		}
		overlay = file.values()
	}

	lookup := func(key string) string {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			return value
		}
		return strings.TrimSpace(overlay[key])
	}
	return parse(lookup)
}

func loadDotEnv() error {
	path := strings.TrimSpace(os.Getenv("COACHING_ENV_FILE"))
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("環境ファイルを読み込めません: %s: %w", path, err)
	}
	return nil
}

func readFile(path string) (fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("設定ファイルを読み込めません: %s: %w", path, err)
	}
	var file fileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fileConfig{}, fmt.Errorf("設定ファイルの形式が不正です: %s: %w", path, err)
	}
	return file, nil
}

func parse(lookup func(string) string) (Config, error) {
	cfg := Config{
		HTTPPort:             8080,
		ShutdownTimeout:      10 * time.Second,
		StorageDriver:        DriverMemory,
		NATSSubjectPrefix:    "coaching",
		OutboxSchedule:       "@every 5s",
		OutboxBatchSize:      20,
		OutboxMaxAttempts:    8,
		OutboxLease:          30 * time.Second,
		CollaboratorTimeout:  5 * time.Second,
		CalendarFetchTimeout: 3 * time.Second,
		CacheTTL:             5 * time.Minute,
		CacheSize:            256,
		ReferenceTimezone:    "UTC",
		ReferenceLocation:    time.UTC,
		LogLevel:             "info",
		LogFormat:            "json",
	}

	missing := make([]string, 0, 2)
	invalid := make([]string, 0, 4)

	positiveInt := func(key string, target *int) {
		value := lookup(key)
		if value == "" {
			return
		}
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed <= 0 {
			invalid = append(invalid, key)
			return
		}
		*target = parsed
	}
	positiveDuration := func(key string, target *time.Duration) {
		value := lookup(key)
		if value == "" {
			return
		}
		parsed, err := time.ParseDuration(value)
		if err != nil || parsed <= 0 {
			invalid = append(invalid, key)
			return
		}
		*target = parsed
	}
	required := func(key string, target *string) {
		if value := lookup(key); value != "" {
			*target = value
			return
		}
		missing = append(missing, key)
	}
	optional := func(key string, target *string) {
		if value := lookup(key); value != "" {
			*target = value
		}
	}

	positiveInt("COACHING_HTTP_PORT", &cfg.HTTPPort)
	positiveDuration("COACHING_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout)

	if driver := strings.ToLower(lookup("COACHING_STORAGE_DRIVER")); driver != "" {
		switch driver {
		case DriverMemory, DriverSQLite, DriverPostgres:
			cfg.StorageDriver = driver
		default:
			invalid = append(invalid, "COACHING_STORAGE_DRIVER")
		}
	}
	optional("COACHING_DATABASE_DSN", &cfg.DatabaseDSN)
	if cfg.DatabaseDSN == "" {
		switch cfg.StorageDriver {
		case DriverSQLite:
			cfg.DatabaseDSN = defaultSQLiteDSN
		case DriverPostgres:
			missing = append(missing, "COACHING_DATABASE_DSN")
		}
	}

	optional("COACHING_NATS_URL", &cfg.NATSURL)
	optional("COACHING_NATS_SUBJECT_PREFIX", &cfg.NATSSubjectPrefix)

	required("COACHING_VIDEO_BASE_URL", &cfg.VideoBaseURL)
	required("COACHING_VIDEO_SECRET", &cfg.VideoSecret)

	optional("COACHING_OUTBOX_SCHEDULE", &cfg.OutboxSchedule)
	positiveInt("COACHING_OUTBOX_BATCH_SIZE", &cfg.OutboxBatchSize)
	positiveInt("COACHING_OUTBOX_MAX_ATTEMPTS", &cfg.OutboxMaxAttempts)
	positiveDuration("COACHING_OUTBOX_LEASE", &cfg.OutboxLease)
	positiveDuration("COACHING_COLLABORATOR_TIMEOUT", &cfg.CollaboratorTimeout)
	positiveDuration("COACHING_CALENDAR_FETCH_TIMEOUT", &cfg.CalendarFetchTimeout)

	positiveDuration("COACHING_CACHE_TTL", &cfg.CacheTTL)
	positiveInt("COACHING_CACHE_SIZE", &cfg.CacheSize)

	if zone := lookup("COACHING_REFERENCE_TIMEZONE"); zone != "" {
		loc, err := time.LoadLocation(zone)
		if err != nil {
			invalid = append(invalid, "COACHING_REFERENCE_TIMEZONE")
		} else {
			cfg.ReferenceTimezone = zone
			cfg.ReferenceLocation = loc
		}
	}

	optional("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.OTLPEndpoint)
	optional("COACHING_LOG_LEVEL", &cfg.LogLevel)
	if format := strings.ToLower(lookup("COACHING_LOG_FORMAT")); format != "" {
		if format != "json" && format != "text" {
			invalid = append(invalid, "COACHING_LOG_FORMAT")
		} else {
			cfg.LogFormat = format
		}
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("必須の環境変数が設定されていません: %s", strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("環境変数の値が不正です: %s", strings.Join(invalid, ", "))
	}

	return cfg, nil
}
