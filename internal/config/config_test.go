package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeConfig writes a YAML config file into a temp dir and returns its path.
func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal("WriteFile:", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "sync:\n  enabled: false\n"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Sync.Debounce != time.Second {
		t.Errorf("Debounce = %v, want 1s", cfg.Sync.Debounce)
	}
	if cfg.Sync.RetryAttempts != 3 {
		t.Errorf("RetryAttempts = %d, want 3", cfg.Sync.RetryAttempts)
	}
	if cfg.Sync.MaxFileSize != 1<<30 {
		t.Errorf("MaxFileSize = %d, want %d", cfg.Sync.MaxFileSize, 1<<30)
	}
	if cfg.Versioning.MaxVersions != 10 {
		t.Errorf("MaxVersions = %d, want 10", cfg.Versioning.MaxVersions)
	}
	if cfg.Telemetry.MetricsPort != 9090 {
		t.Errorf("MetricsPort = %d, want 9090", cfg.Telemetry.MetricsPort)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
sync:
  enabled: true
  directories: ["/data/docs"]
  providers: ["local"]
  max_file_size: 1048576
  retry_attempts: 5
  debounce: 250ms
providers:
  local:
    base_path: /tmp/mirror
`))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Sync.MaxFileSize != 1048576 {
		t.Errorf("MaxFileSize = %d, want 1048576", cfg.Sync.MaxFileSize)
	}
	if cfg.Sync.RetryAttempts != 5 {
		t.Errorf("RetryAttempts = %d, want 5", cfg.Sync.RetryAttempts)
	}
	if cfg.Sync.Debounce != 250*time.Millisecond {
		t.Errorf("Debounce = %v, want 250ms", cfg.Sync.Debounce)
	}
	if cfg.Providers.Local.BasePath != "/tmp/mirror" {
		t.Errorf("Local.BasePath = %q", cfg.Providers.Local.BasePath)
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	t.Setenv("MV_SYNC_RETRY_ATTEMPTS", "7")
	t.Setenv("MV_LOGGING_LEVEL", "debug")

	cfg, err := Load(writeConfig(t, `
sync:
  enabled: false
  retry_attempts: 2
`))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Sync.RetryAttempts != 7 {
		t.Errorf("RetryAttempts = %d, want 7 (env override)", cfg.Sync.RetryAttempts)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoad_ExpandsCredentialReferences(t *testing.T) {
	t.Setenv("TEST_MV_PASSWORD", "hunter2")

	cfg, err := Load(writeConfig(t, `
sync:
  enabled: false
encryption:
  enabled: true
  key_id: default
  password: ${TEST_MV_PASSWORD}
`))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Encryption.Password != "hunter2" {
		t.Errorf("Password = %q, want expanded env value", cfg.Encryption.Password)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Sync: SyncConfig{
				Enabled:       true,
				Directories:   []string{"/data"},
				Providers:     []string{"local"},
				MaxFileSize:   1 << 20,
				RetryAttempts: 3,
				MaxWorkers:    4,
				Debounce:      time.Second,
			},
			Providers:  ProvidersConfig{Local: LocalProviderConfig{BasePath: "/tmp/mirror"}},
			Versioning: VersioningConfig{MaxVersions: 10, RetentionDays: 30, DBPath: "state.db"},
			Telemetry:  TelemetryConfig{MetricsPort: 9090},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"no directories", func(c *Config) { c.Sync.Directories = nil }, "directories"},
		{"no providers", func(c *Config) { c.Sync.Providers = nil }, "providers"},
		{"unknown provider", func(c *Config) { c.Sync.Providers = []string{"dropbox"} }, "unknown provider"},
		{"zero max file size", func(c *Config) { c.Sync.MaxFileSize = 0 }, "max_file_size"},
		{"negative retries", func(c *Config) { c.Sync.RetryAttempts = -1 }, "retry_attempts"},
		{"zero workers", func(c *Config) { c.Sync.MaxWorkers = 0 }, "max_workers"},
		{"s3 without bucket", func(c *Config) { c.Sync.Providers = []string{"s3"} }, "s3.bucket"},
		{"azure without key", func(c *Config) {
			c.Sync.Providers = []string{"azure"}
			c.Providers.Azure.AccountName = "acct"
			c.Providers.Azure.ContainerName = "data"
		}, "account_key"},
		{"drive without token", func(c *Config) {
			c.Sync.Providers = []string{"drive"}
			c.Providers.Drive.ClientID = "id"
			c.Providers.Drive.ClientSecret = "secret"
		}, "refresh_token"},
		{"drive without root folder", func(c *Config) {
			c.Sync.Providers = []string{"drive"}
			c.Providers.Drive.ClientID = "id"
			c.Providers.Drive.ClientSecret = "secret"
			c.Providers.Drive.RefreshToken = "tok"
		}, "root_folder_id"},
		{"encryption without password", func(c *Config) {
			c.Encryption.Enabled = true
			c.Encryption.KeyID = "default"
		}, "password"},
		{"zero max versions", func(c *Config) { c.Versioning.MaxVersions = 0 }, "max_versions"},
		{"bad metrics port", func(c *Config) { c.Telemetry.MetricsPort = -1 }, "metrics_port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate() succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("TEST_EXPAND_VAL", "secret")

	if got := expandEnv("${TEST_EXPAND_VAL}"); got != "secret" {
		t.Errorf("expandEnv(${...}) = %q, want secret", got)
	}
	if got := expandEnv("literal-value"); got != "literal-value" {
		t.Errorf("expandEnv(literal) = %q, want unchanged", got)
	}
	if got := expandEnv("${UNSET_VAR_XYZ}"); got != "" {
		t.Errorf("expandEnv(unset) = %q, want empty", got)
	}
}
