package config

import (
	"os"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// DatabaseConfig.GetDSN / ServerConfig.GetAddress
// ---------------------------------------------------------------------------

func TestGetDSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "thunderstore",
		Password: "secret",
		Name:     "thunderstore",
		SSLMode:  "disable",
	}
	want := "host=localhost port=5432 user=thunderstore password=secret dbname=thunderstore sslmode=disable"
	if got := cfg.GetDSN(); got != want {
		t.Errorf("GetDSN() = %q, want %q", got, want)
	}
}

func TestGetAddress(t *testing.T) {
	tests := []struct {
		name string
		cfg  ServerConfig
		want string
	}{
		{"default", ServerConfig{Host: "0.0.0.0", Port: 8080}, "0.0.0.0:8080"},
		{"empty host", ServerConfig{Host: "", Port: 8080}, ":8080"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.GetAddress(); got != tt.want {
				t.Errorf("GetAddress() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRedisEnabled(t *testing.T) {
	if (&RedisConfig{}).Enabled() {
		t.Error("Enabled() = true for empty addr")
	}
	if !(&RedisConfig{Addr: "localhost:6379"}).Enabled() {
		t.Error("Enabled() = false for configured addr")
	}
}

// ---------------------------------------------------------------------------
// Validate
// ---------------------------------------------------------------------------

func minimalValidConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:    8080,
			BaseURL: "http://localhost:8080",
		},
		Database: DatabaseConfig{
			Host: "localhost",
			Name: "thunderstore",
			User: "thunderstore",
		},
		Storage: StorageConfig{
			DefaultBackend: "local",
			Local:          LocalStorageConfig{BasePath: "./storage"},
		},
		Cache: CacheConfig{
			RegenerateInterval: 5 * time.Minute,
			Jitter:             30 * time.Second,
		},
		Publish:   PublishConfig{MaxUploadSize: 1024},
		Community: CommunityConfig{DefaultIdentifier: "riskofrain2"},
		Logging:   LoggingConfig{Level: "info"},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid minimal config", func(*Config) {}, false},
		{"port 0", func(c *Config) { c.Server.Port = 0 }, true},
		{"port 70000", func(c *Config) { c.Server.Port = 70000 }, true},
		{"missing base_url", func(c *Config) { c.Server.BaseURL = "" }, true},
		{"missing database host", func(c *Config) { c.Database.Host = "" }, true},
		{"missing database user", func(c *Config) { c.Database.User = "" }, true},
		{"unknown backend", func(c *Config) { c.Storage.DefaultBackend = "ftp" }, true},
		{"s3 without bucket", func(c *Config) {
			c.Storage.DefaultBackend = "s3"
			c.Storage.S3.Region = "us-east-1"
		}, true},
		{"s3 complete", func(c *Config) {
			c.Storage.DefaultBackend = "s3"
			c.Storage.S3.Region = "us-east-1"
			c.Storage.S3.Bucket = "packages"
		}, false},
		{"azure without container", func(c *Config) {
			c.Storage.DefaultBackend = "azure"
			c.Storage.Azure.AccountName = "acct"
		}, true},
		{"gcs without bucket", func(c *Config) { c.Storage.DefaultBackend = "gcs" }, true},
		{"zero regenerate interval", func(c *Config) { c.Cache.RegenerateInterval = 0 }, true},
		{"jitter exceeds interval", func(c *Config) { c.Cache.Jitter = 10 * time.Minute }, true},
		{"zero upload size", func(c *Config) { c.Publish.MaxUploadSize = 0 }, true},
		{"missing default community", func(c *Config) { c.Community.DefaultIdentifier = "" }, true},
		{"rate limit without budget", func(c *Config) {
			c.Security.RateLimiting.Enabled = true
			c.Security.RateLimiting.RequestsPerMinute = 0
		}, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := minimalValidConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Load
// ---------------------------------------------------------------------------

// writeTempConfig creates a temp YAML file and registers a cleanup to remove it.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp("", "config-test-*.yaml")
	if err != nil {
		t.Fatal("CreateTemp:", err)
	}
	t.Cleanup(func() { os.Remove(f.Name()) })
	if _, err := f.WriteString(content); err != nil {
		t.Fatal("WriteString:", err)
	}
	f.Close()
	return f.Name()
}

func TestLoad_DefaultsApplied(t *testing.T) {
	const content = `
database:
  host: "dbhost"
storage:
  default_backend: "local"
`
	path := writeTempConfig(t, content)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Database.Host != "dbhost" {
		t.Errorf("Database.Host = %q, want dbhost", cfg.Database.Host)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Cache.RegenerateInterval != 5*time.Minute {
		t.Errorf("default Cache.RegenerateInterval = %v, want 5m", cfg.Cache.RegenerateInterval)
	}
	if cfg.Auth.ServiceTokenPrefix != "tss_" {
		t.Errorf("default Auth.ServiceTokenPrefix = %q, want tss_", cfg.Auth.ServiceTokenPrefix)
	}
	if cfg.Redis.Enabled() {
		t.Error("Redis should be disabled by default")
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("THUNDERSTORE_REDIS_ADDR", "redis:6379")
	t.Setenv("THUNDERSTORE_COMMUNITY_DEFAULT_IDENTIFIER", "valheim")
	path := writeTempConfig(t, "logging:\n  level: \"debug\"\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Redis.Addr != "redis:6379" {
		t.Errorf("Redis.Addr = %q, want redis:6379", cfg.Redis.Addr)
	}
	if cfg.Community.DefaultIdentifier != "valheim" {
		t.Errorf("Community.DefaultIdentifier = %q, want valheim", cfg.Community.DefaultIdentifier)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoad_SecretExpansion(t *testing.T) {
	t.Setenv("TEST_DB_PASS", "mysecret")
	path := writeTempConfig(t, "database:\n  password: \"${TEST_DB_PASS}\"\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Database.Password != "mysecret" {
		t.Errorf("Database.Password = %q, want mysecret", cfg.Database.Password)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeTempConfig(t, "server: [unclosed")
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}
