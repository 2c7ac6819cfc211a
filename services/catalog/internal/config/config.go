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

// ConfigPath is the default config location. CATALOG_CONFIG overrides it.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port        string `yaml:"port"`
	LogLevel    string `yaml:"logLevel"`
	DatabaseURL string `yaml:"databaseURL"`

	// Redis backs the page cache, token revocation and login rate limiting.
	// Left empty, the service falls back to in-process equivalents.
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDB"`

	JWTSecret       string `yaml:"jwtSecret"`
	JWTIssuer       string `yaml:"jwtIssuer"`
	JWTAudience     string `yaml:"jwtAudience"`
	JWTLeeway       string `yaml:"jwtLeeway"`
	AccessTokenTTL  string `yaml:"accessTokenTTL"`
	RefreshTokenTTL string `yaml:"refreshTokenTTL"`

	GoogleBooksURL      string `yaml:"googleBooksURL"`
	GoogleBooksAPIKey   string `yaml:"googleBooksAPIKey"`
	MetadataTimeout     string `yaml:"metadataTimeout"`
	MetadataTTL         string `yaml:"metadataTTL"`
	MetadataNegativeTTL string `yaml:"metadataNegativeTTL"`
	ListCacheTTL        string `yaml:"listCacheTTL"`

	// MetadataWarmWorkers consumes the Redis stream that prefetches metadata
	// for new and retitled books. Zero disables warm-up.
	MetadataWarmWorkers int `yaml:"metadataWarmWorkers"`

	// AllowAdminSignup lets anonymous registrations request the admin role.
	AllowAdminSignup bool `yaml:"allowAdminSignup"`

	LoginRateLimitPerMinute int      `yaml:"loginRateLimitPerMinute"`
	TrustedProxyCIDRs       []string `yaml:"trustedProxyCidrs"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`
	MinioPublicURL string `yaml:"minioPublicURL"`
	MaxUploadBytes int64  `yaml:"maxUploadBytes"`

	// MediaDir stores covers on local disk and serves them under /media/
	// when MinIO is not configured.
	MediaDir string `yaml:"mediaDir"`
}

// Path returns the config file location.
func Path() string {
	if v := strings.TrimSpace(os.Getenv("CATALOG_CONFIG")); v != "" {
		return v
	}
	return ConfigPath
}

// Load reads config from path (defaults to config.yaml). A .env file in the
// working directory, when present, is loaded into the environment first.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Override with environment variables
func applyEnv(cfg *FileConfig) {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString(&cfg.Port, "PORT")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.RedisAddr, "REDIS_ADDR")
	setString(&cfg.RedisPassword, "REDIS_PASSWORD")
	setString(&cfg.JWTSecret, "JWT_SECRET")
	setString(&cfg.JWTIssuer, "JWT_ISSUER")
	setString(&cfg.JWTAudience, "JWT_AUDIENCE")
	setString(&cfg.JWTLeeway, "JWT_LEEWAY")
	setString(&cfg.GoogleBooksURL, "GOOGLE_BOOKS_URL")
	setString(&cfg.GoogleBooksAPIKey, "GOOGLE_BOOKS_API_KEY")
	setString(&cfg.MetadataNegativeTTL, "CATALOG_METADATA_NEGATIVE_TTL")
	setString(&cfg.MinioEndpoint, "MINIO_ENDPOINT")
	setString(&cfg.MinioAccessKey, "MINIO_ACCESS_KEY")
	setString(&cfg.MinioSecretKey, "MINIO_SECRET_KEY")
	setString(&cfg.MinioBucket, "MINIO_BUCKET")
	setString(&cfg.MinioPublicURL, "MINIO_PUBLIC_URL")
	setString(&cfg.MediaDir, "CATALOG_MEDIA_DIR")
	if v := os.Getenv("MINIO_USE_SSL"); v == "true" {
		cfg.MinioUseSSL = true
	}
	if v := os.Getenv("CATALOG_ALLOW_ADMIN_SIGNUP"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.AllowAdminSignup = b
		}
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RedisDB = n
		}
	}
	if v := os.Getenv("CATALOG_LOGIN_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LoginRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("CATALOG_METADATA_WARM_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MetadataWarmWorkers = n
		}
	}
	if v := os.Getenv("CATALOG_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL, \"memory\" for an in-process store)")
	}
	if len(strings.TrimSpace(cfg.JWTSecret)) < 32 {
		return errors.New("config: jwtSecret must be at least 32 characters (set JWT_SECRET)")
	}
	durations := map[string]string{
		"jwtLeeway":           cfg.JWTLeeway,
		"accessTokenTTL":      cfg.AccessTokenTTL,
		"refreshTokenTTL":     cfg.RefreshTokenTTL,
		"metadataTimeout":     cfg.MetadataTimeout,
		"metadataTTL":         cfg.MetadataTTL,
		"metadataNegativeTTL": cfg.MetadataNegativeTTL,
		"listCacheTTL":        cfg.ListCacheTTL,
	}
	for name, raw := range durations {
		if _, err := ParseDuration(name, raw); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	if cfg.LoginRateLimitPerMinute < 0 {
		return errors.New("config: loginRateLimitPerMinute must be >= 0")
	}
	if cfg.MetadataWarmWorkers < 0 {
		return errors.New("config: metadataWarmWorkers must be >= 0")
	}
	if cfg.MetadataWarmWorkers > 0 && cfg.RedisAddr == "" {
		return errors.New("config: metadataWarmWorkers requires redisAddr")
	}
	if cfg.MaxUploadBytes < 0 {
		return errors.New("config: maxUploadBytes must be >= 0")
	}
	if cfg.MinioEndpoint != "" {
		if cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" {
			return errors.New("config: minioAccessKey and minioSecretKey are required with minioEndpoint")
		}
		if cfg.MinioBucket == "" {
			return errors.New("config: minioBucket is required with minioEndpoint")
		}
		if strings.TrimSpace(cfg.MediaDir) != "" {
			return errors.New("config: set either minioEndpoint or mediaDir, not both")
		}
	}
	return nil
}

// ParseDuration parses an optional duration setting. Empty means "use the
// default" and yields zero.
func ParseDuration(name, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", name, err)
	}
	if dur < 0 {
		return 0, fmt.Errorf("invalid %s duration: must not be negative", name)
	}
	return dur, nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
