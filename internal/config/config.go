package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config is the runtime configuration of the API server.
// Values come from an optional TOML file, then from the environment (a .env
// file is loaded first when present), so env always wins.
type Config struct {
	Port      string         `toml:"port"`
	Env       string         `toml:"env"`        // "development" or "production"
	LogFormat string         `toml:"log_format"` // "text" or "json"
	LogLevel  string         `toml:"log_level"`
	Backend   string         `toml:"backend"` // "postgres" or "memory"
	Database  DatabaseConfig `toml:"database"`
	Auth      AuthConfig     `toml:"auth"`
	HTTP      HTTPConfig     `toml:"http"`
	Cache     CacheConfig    `toml:"cache"`
	Media     MediaConfig    `toml:"media"`
	Twilio    TwilioConfig   `toml:"twilio"`
	Tracing   bool           `toml:"tracing"`
}

type DatabaseConfig struct {
	Host     string `toml:"host"`
	Port     string `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Name     string `toml:"name"`
	SSLMode  string `toml:"sslmode"`
	// Migrate applies pending migrations on startup.
	Migrate bool `toml:"migrate"`
}

// DSN renders a libpq keyword/value connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		d.Host, d.User, d.Password, d.Name, d.Port, d.SSLMode,
	)
}

// URL renders a postgres:// URL, as golang-migrate expects.
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

type AuthConfig struct {
	JWTSecret string        `toml:"jwt_secret"`
	TokenTTL  time.Duration `toml:"token_ttl"`
}

type HTTPConfig struct {
	AllowOrigins []string `toml:"allow_origins"`
	RateLimit    float64  `toml:"rate_limit"` // requests per second per client IP, 0 disables
	RateBurst    int      `toml:"rate_burst"`
}

type CacheConfig struct {
	MaxEntries int64         `toml:"max_entries"`
	TTL        time.Duration `toml:"ttl"`
}

// MediaConfig uses a tagged union: Type selects which fields apply.
type MediaConfig struct {
	Type string `toml:"type"` // "filesystem" or "s3"

	// filesystem
	Dir     string `toml:"dir,omitempty"`
	BaseURL string `toml:"base_url,omitempty"`

	// s3
	S3Bucket    string `toml:"s3_bucket,omitempty"`
	S3Region    string `toml:"s3_region,omitempty"`
	S3Endpoint  string `toml:"s3_endpoint,omitempty"`
	S3AccessKey string `toml:"s3_access_key,omitempty"`
	S3SecretKey string `toml:"s3_secret_key,omitempty"`
	S3PublicURL string `toml:"s3_public_url,omitempty"`
}

type TwilioConfig struct {
	AccountSID string `toml:"account_sid"`
	AuthToken  string `toml:"auth_token"`
	From       string `toml:"from"`
}

// Enabled reports whether SMS delivery is configured.
func (t TwilioConfig) Enabled() bool {
	return t.AccountSID != "" && t.AuthToken != "" && t.From != ""
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Port:      "8080",
		Env:       "development",
		LogFormat: "text",
		LogLevel:  "info",
		Backend:   "postgres",
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    "5432",
			User:    "postgres",
			Name:    "campusnet",
			SSLMode: "disable",
			Migrate: true,
		},
		Auth: AuthConfig{TokenTTL: 72 * time.Hour},
		HTTP: HTTPConfig{
			AllowOrigins: []string{"*"},
			RateLimit:    20,
			RateBurst:    40,
		},
		Cache: CacheConfig{MaxEntries: 10000, TTL: 5 * time.Minute},
		Media: MediaConfig{Type: "filesystem", Dir: "uploads", BaseURL: "/uploads"},
	}
}

// Read decodes TOML from r on top of the defaults.
func Read(r io.Reader) (*Config, error) {
	cfg := Default()
	if _, err := toml.NewDecoder(r).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// Load builds the configuration. path may be empty.
func Load(path string) (*Config, error) {
	// A missing .env is fine outside development.
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()
		if cfg, err = Read(f); err != nil {
			return nil, fmt.Errorf("reading config from %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("PORT", &c.Port)
	str("APP_ENV", &c.Env)
	str("CAMPUSNET_LOG_FORMAT", &c.LogFormat)
	str("CAMPUSNET_LOG_LEVEL", &c.LogLevel)
	str("CAMPUSNET_BACKEND", &c.Backend)

	str("DB_HOST", &c.Database.Host)
	str("DB_PORT", &c.Database.Port)
	str("DB_USER", &c.Database.User)
	str("DB_PASSWORD", &c.Database.Password)
	str("DB_NAME", &c.Database.Name)
	str("DB_SSLMODE", &c.Database.SSLMode)

	str("JWT_SECRET", &c.Auth.JWTSecret)

	str("CAMPUSNET_MEDIA_TYPE", &c.Media.Type)
	str("CAMPUSNET_MEDIA_DIR", &c.Media.Dir)
	str("CAMPUSNET_MEDIA_BASE_URL", &c.Media.BaseURL)
	str("CAMPUSNET_S3_BUCKET", &c.Media.S3Bucket)
	str("CAMPUSNET_S3_REGION", &c.Media.S3Region)
	str("CAMPUSNET_S3_ENDPOINT", &c.Media.S3Endpoint)
	str("CAMPUSNET_S3_ACCESS_KEY", &c.Media.S3AccessKey)
	str("CAMPUSNET_S3_SECRET_KEY", &c.Media.S3SecretKey)
	str("CAMPUSNET_S3_PUBLIC_URL", &c.Media.S3PublicURL)

	str("TWILIO_ACCOUNT_SID", &c.Twilio.AccountSID)
	str("TWILIO_AUTH_TOKEN", &c.Twilio.AuthToken)
	str("TWILIO_FROM_NUMBER", &c.Twilio.From)

	if v, ok := lookup("CAMPUSNET_ALLOW_ORIGINS"); ok && v != "" {
		c.HTTP.AllowOrigins = splitList(v)
	}
	if v, ok := lookup("CAMPUSNET_RATE_LIMIT"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("CAMPUSNET_RATE_LIMIT: %w", err)
		}
		c.HTTP.RateLimit = f
	}
	if v, ok := lookup("CAMPUSNET_RATE_BURST"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CAMPUSNET_RATE_BURST: %w", err)
		}
		c.HTTP.RateBurst = n
	}
	if v, ok := lookup("CAMPUSNET_TOKEN_TTL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CAMPUSNET_TOKEN_TTL: %w", err)
		}
		c.Auth.TokenTTL = d
	}
	for key, dst := range map[string]*bool{
		"CAMPUSNET_TRACING":    &c.Tracing,
		"CAMPUSNET_DB_MIGRATE": &c.Database.Migrate,
	} {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = b
		}
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks the settings that would otherwise fail late.
func (c *Config) Validate() error {
	switch c.Backend {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown backend type: %q", c.Backend)
	}
	switch c.Media.Type {
	case "filesystem":
		if c.Media.Dir == "" {
			return fmt.Errorf("media: dir is required for filesystem storage")
		}
	case "s3":
		if c.Media.S3Bucket == "" || c.Media.S3Region == "" {
			return fmt.Errorf("media: s3_bucket and s3_region are required for s3 storage")
		}
	default:
		return fmt.Errorf("unknown media type: %q", c.Media.Type)
	}
	if c.Auth.JWTSecret == "" && c.Env == "production" {
		return fmt.Errorf("JWT_SECRET must be set in production")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth: token_ttl must be positive")
	}
	return nil
}
