package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// App holds the runtime configuration of the scan agent, the journal worker and the sandbox.
type App struct {
	Env      string `yaml:"env"`
	HTTPPort string `yaml:"http_port"`

	// Backend endpoints.
	APIBaseURL   string        `yaml:"api_base_url"`
	MarkPath     string        `yaml:"mark_path"`
	RefreshPath  string        `yaml:"refresh_path"`
	PayloadField string        `yaml:"payload_field"`
	HTTPTimeout  time.Duration `yaml:"http_timeout"`

	// Scanner.
	ScanInterval     time.Duration `yaml:"scan_interval"`
	ScanRetryPolicy  string        `yaml:"scan_retry_policy"`
	ScanRetryDelay   time.Duration `yaml:"scan_retry_delay"`
	CameraURL        string        `yaml:"camera_url"`
	CameraDir        string        `yaml:"camera_dir"`
	CameraFacingMode string        `yaml:"camera_facing_mode"`
	CameraLoop       bool          `yaml:"camera_loop"`

	// Location.
	GeoTimeout   time.Duration `yaml:"geo_timeout"`
	GeoLatitude  float64       `yaml:"geo_latitude"`
	GeoLongitude float64       `yaml:"geo_longitude"`
	LocatorURL   string        `yaml:"locator_url"`

	// Credentials.
	CredentialBackend string `yaml:"credential_backend"`
	CredentialFile    string `yaml:"credential_file"`
	CredentialPrefix  string `yaml:"credential_prefix"`

	// Infrastructure.
	RedisAddr       string `yaml:"redis_addr"`
	QueueBackend    string `yaml:"queue_backend"`
	QueueKey        string `yaml:"queue_key"`
	JournalDriver   string `yaml:"journal_driver"`
	DatabaseURL     string `yaml:"database_url"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Sandbox backend.
	SandboxPort     string        `yaml:"sandbox_port"`
	SandboxFixtures string        `yaml:"sandbox_fixtures"`
	JWTIssuer       string        `yaml:"jwt_issuer"`
	JWTSigningKey   string        `yaml:"jwt_signing_key"`
	AccessTTL       time.Duration `yaml:"access_ttl"`
	RefreshTTL      time.Duration `yaml:"refresh_ttl"`
	SandboxRadiusM  float64       `yaml:"sandbox_radius_m"`
}

// Defaults returns the configuration used when neither a file nor the environment set a key.
func Defaults() App {
	return App{
		Env:               "dev",
		HTTPPort:          "8081",
		APIBaseURL:        "http://127.0.0.1:8000",
		MarkPath:          "/api/mark/",
		RefreshPath:       "/api/token/refresh/",
		PayloadField:      "session_id",
		HTTPTimeout:       15 * time.Second,
		ScanInterval:      100 * time.Millisecond,
		ScanRetryPolicy:   "auto",
		ScanRetryDelay:    2 * time.Second,
		CameraFacingMode:  "environment",
		GeoTimeout:        10 * time.Second,
		CredentialBackend: "file",
		CredentialFile:    "credentials.json",
		CredentialPrefix:  "qrattend:",
		RedisAddr:         "localhost:6379",
		QueueBackend:      "memory",
		QueueKey:          "qrattend:outcomes",
		JournalDriver:     "sqlite3",
		DatabaseURL:       "qrattend.db",
		RateLimitPerMin:   120,
		LogLevel:          "info",
		LogFormat:         "json",
		SandboxPort:       "8000",
		JWTIssuer:         "qrattend-sandbox",
		JWTSigningKey:     "dev-signing-secret-change",
		AccessTTL:         5 * time.Minute,
		RefreshTTL:        24 * time.Hour,
		SandboxRadiusM:    100,
	}
}

// Load reads .env (if present), then the YAML file named by CONFIG_PATH (if set), then lets
// environment variables override individual keys.
func Load() (App, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return App{}, fmt.Errorf("load .env: %w", err)
		}
	}

	cfg := Defaults()
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return App{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return App{}, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	cfg.Env = getEnv("APP_ENV", cfg.Env)
	cfg.HTTPPort = getEnv("HTTP_PORT", cfg.HTTPPort)
	cfg.APIBaseURL = strings.TrimRight(getEnv("API_BASE_URL", cfg.APIBaseURL), "/")
	cfg.MarkPath = getEnv("MARK_PATH", cfg.MarkPath)
	cfg.RefreshPath = getEnv("REFRESH_PATH", cfg.RefreshPath)
	cfg.PayloadField = getEnv("PAYLOAD_FIELD", cfg.PayloadField)
	cfg.HTTPTimeout = durationEnv("HTTP_TIMEOUT", cfg.HTTPTimeout)
	cfg.ScanInterval = durationEnv("SCAN_INTERVAL", cfg.ScanInterval)
	cfg.ScanRetryPolicy = getEnv("SCAN_RETRY_POLICY", cfg.ScanRetryPolicy)
	cfg.ScanRetryDelay = durationEnv("SCAN_RETRY_DELAY", cfg.ScanRetryDelay)
	cfg.CameraURL = getEnv("CAMERA_URL", cfg.CameraURL)
	cfg.CameraDir = getEnv("CAMERA_DIR", cfg.CameraDir)
	cfg.CameraFacingMode = getEnv("CAMERA_FACING_MODE", cfg.CameraFacingMode)
	cfg.CameraLoop = boolEnv("CAMERA_LOOP", cfg.CameraLoop)
	cfg.GeoTimeout = durationEnv("GEO_TIMEOUT", cfg.GeoTimeout)
	cfg.GeoLatitude = floatEnv("GEO_LATITUDE", cfg.GeoLatitude)
	cfg.GeoLongitude = floatEnv("GEO_LONGITUDE", cfg.GeoLongitude)
	cfg.LocatorURL = getEnv("LOCATOR_URL", cfg.LocatorURL)
	cfg.CredentialBackend = getEnv("CREDENTIAL_BACKEND", cfg.CredentialBackend)
	cfg.CredentialFile = getEnv("CREDENTIAL_FILE", cfg.CredentialFile)
	cfg.CredentialPrefix = getEnv("CREDENTIAL_PREFIX", cfg.CredentialPrefix)
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.QueueBackend = getEnv("QUEUE_BACKEND", cfg.QueueBackend)
	cfg.QueueKey = getEnv("QUEUE_KEY", cfg.QueueKey)
	cfg.JournalDriver = getEnv("JOURNAL_DRIVER", cfg.JournalDriver)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.RateLimitPerMin = intEnv("RATE_LIMIT_PER_MIN", cfg.RateLimitPerMin)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)
	cfg.SandboxPort = getEnv("SANDBOX_PORT", cfg.SandboxPort)
	cfg.SandboxFixtures = getEnv("SANDBOX_FIXTURES", cfg.SandboxFixtures)
	cfg.JWTIssuer = getEnv("JWT_ISSUER", cfg.JWTIssuer)
	cfg.JWTSigningKey = getEnv("JWT_SIGNING_KEY", cfg.JWTSigningKey)
	cfg.AccessTTL = durationEnv("ACCESS_TTL", cfg.AccessTTL)
	cfg.RefreshTTL = durationEnv("REFRESH_TTL", cfg.RefreshTTL)
	cfg.SandboxRadiusM = floatEnv("SANDBOX_RADIUS_M", cfg.SandboxRadiusM)

	if err := cfg.Validate(); err != nil {
		return App{}, err
	}
	return cfg, nil
}

// Validate rejects values the pipeline cannot run with.
func (a App) Validate() error {
	switch a.PayloadField {
	case "session_id", "qr_data":
	default:
		return fmt.Errorf("config: payload_field must be session_id or qr_data, got %q", a.PayloadField)
	}
	switch a.ScanRetryPolicy {
	case "auto", "manual":
	default:
		return fmt.Errorf("config: scan_retry_policy must be auto or manual, got %q", a.ScanRetryPolicy)
	}
	if a.ScanInterval <= 0 {
		return fmt.Errorf("config: scan_interval must be positive")
	}
	if a.GeoTimeout <= 0 {
		return fmt.Errorf("config: geo_timeout must be positive")
	}
	if a.GeoLatitude < -90 || a.GeoLatitude > 90 || a.GeoLongitude < -180 || a.GeoLongitude > 180 {
		return fmt.Errorf("config: geo coordinates out of range")
	}
	return nil
}

// IsProduction reports whether the app runs with production settings.
func (a App) IsProduction() bool {
	return a.Env == "production" || a.Env == "prod"
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			log.Warn().Str("key", key).Err(err).Dur("fallback", fallback).Msg("invalid duration, using fallback")
			return fallback
		}
		return d
	}
	return fallback
}

func boolEnv(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		parsed, err := strconv.ParseBool(val)
		if err == nil {
			return parsed
		}
		log.Warn().Str("key", key).Bool("fallback", fallback).Msg("invalid bool, using fallback")
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		parsed, err := strconv.Atoi(val)
		if err == nil {
			return parsed
		}
		log.Warn().Str("key", key).Int("fallback", fallback).Msg("invalid int, using fallback")
	}
	return fallback
}

func floatEnv(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err == nil {
			return parsed
		}
		log.Warn().Str("key", key).Float64("fallback", fallback).Msg("invalid float, using fallback")
	}
	return fallback
}
