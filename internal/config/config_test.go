package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadTOML(t *testing.T) {
	input := `
port = "9000"
backend = "memory"

[database]
host = "db"
name = "campus"

[media]
type = "s3"
s3_bucket = "uploads"
s3_region = "eu-west-1"
`
	cfg, err := Read(strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "memory", cfg.Backend)
	assert.Equal(t, "db", cfg.Database.Host)
	assert.Equal(t, "5432", cfg.Database.Port, "unset keys keep defaults")
	assert.Equal(t, "s3", cfg.Media.Type)
	assert.NoError(t, cfg.Validate())
}

func TestApplyEnvOverrides(t *testing.T) {
	env := map[string]string{
		"PORT":                    "3000",
		"DB_HOST":                 "pg",
		"DB_PASSWORD":             "secret",
		"JWT_SECRET":              "s3cr3t",
		"CAMPUSNET_ALLOW_ORIGINS": "http://a.test, http://b.test",
		"CAMPUSNET_RATE_LIMIT":    "2.5",
		"CAMPUSNET_TOKEN_TTL":     "1h",
		"CAMPUSNET_TRACING":       "true",
	}
	cfg := Default()
	require.NoError(t, cfg.applyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}))

	assert.Equal(t, "3000", cfg.Port)
	assert.Equal(t, "pg", cfg.Database.Host)
	assert.Equal(t, "s3cr3t", cfg.Auth.JWTSecret)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.HTTP.AllowOrigins)
	assert.Equal(t, 2.5, cfg.HTTP.RateLimit)
	assert.Equal(t, time.Hour, cfg.Auth.TokenTTL)
	assert.True(t, cfg.Tracing)
	assert.Contains(t, cfg.Database.DSN(), "password=secret")
	assert.Equal(t, "postgres://postgres:secret@pg:5432/campusnet?sslmode=disable", cfg.Database.URL())
}

func TestApplyEnvRejectsBadNumbers(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(func(k string) (string, bool) {
		if k == "CAMPUSNET_RATE_BURST" {
			return "lots", true
		}
		return "", false
	})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.Backend = "sqlite"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Media = MediaConfig{Type: "s3"}
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Env = "production"
	assert.Error(t, cfg.Validate())
}
