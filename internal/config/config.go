// Package config loads and validates the MirrorVault configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the MV_ prefix (e.g., MV_SYNC_MAX_FILE_SIZE
// overrides sync.max_file_size in the YAML). This layering allows the same binary
// to run with a config.yaml in local development and with pure environment
// variables in containerized deployments.
//
// Credential fields (account keys, access keys, the encryption password) pass
// through expandEnv so a YAML file can reference secrets as ${VAR_NAME} without
// ever storing them on disk. Credentials are never logged.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Sync       SyncConfig       `mapstructure:"sync"`
	Providers  ProvidersConfig  `mapstructure:"providers"`
	Encryption EncryptionConfig `mapstructure:"encryption"`
	Versioning VersioningConfig `mapstructure:"versioning"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// SyncConfig is the user-facing sync engine configuration.
type SyncConfig struct {
	// Enabled turns the watcher and reconciliation loops on or off.
	Enabled bool `mapstructure:"enabled"`
	// Interval is the period between full-tree reconciliation passes,
	// independent of the file-watch debounce.
	Interval time.Duration `mapstructure:"interval"`
	// Providers is the ordered list of enrolled provider names; the first is
	// authoritative for conflict display.
	Providers []string `mapstructure:"providers"`
	// Directories are the local roots to watch and mirror.
	Directories []string `mapstructure:"directories"`
	// ExcludePatterns are glob patterns matched against the relative path and
	// the base name; matching paths are never synced.
	ExcludePatterns []string `mapstructure:"exclude_patterns"`
	// MaxFileSize is the hard per-file size limit in bytes. Files above it are
	// rejected without an upload attempt.
	MaxFileSize int64 `mapstructure:"max_file_size"`
	// RetryAttempts is the number of upload attempts per path before the path
	// is marked failed.
	RetryAttempts int `mapstructure:"retry_attempts"`
	// Debounce is how long a path must stay quiet after a file-system event
	// before it is synced.
	Debounce time.Duration `mapstructure:"debounce"`
	// MaxWorkers bounds the number of concurrent per-path sync operations.
	MaxWorkers int `mapstructure:"max_workers"`
	// ProviderTimeout bounds each individual provider call.
	ProviderTimeout time.Duration `mapstructure:"provider_timeout"`
}

// ProvidersConfig holds one configuration block per backend type.
type ProvidersConfig struct {
	S3    S3ProviderConfig    `mapstructure:"s3"`
	GCS   GCSProviderConfig   `mapstructure:"gcs"`
	Azure AzureProviderConfig `mapstructure:"azure"`
	Drive DriveProviderConfig `mapstructure:"drive"`
	Local LocalProviderConfig `mapstructure:"local"`
}

// S3ProviderConfig holds S3-compatible object store configuration.
type S3ProviderConfig struct {
	// Endpoint is the S3-compatible endpoint URL (optional, for MinIO etc.).
	Endpoint string `mapstructure:"endpoint"`
	Region   string `mapstructure:"region"`
	Bucket   string `mapstructure:"bucket"`
	// BasePath is prepended to every object key.
	BasePath string `mapstructure:"base_path"`

	// AuthMethod: "default", "static", or "assume_role".
	//   - "default": AWS default credential chain (env vars, shared config, IAM role)
	//   - "static": explicit access key and secret key
	//   - "assume_role": assume an IAM role (optionally with external ID)
	AuthMethod      string `mapstructure:"auth_method"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	RoleARN         string `mapstructure:"role_arn"`
	RoleSessionName string `mapstructure:"role_session_name"`
	ExternalID      string `mapstructure:"external_id"`
}

// GCSProviderConfig holds Google Cloud Storage configuration.
type GCSProviderConfig struct {
	Bucket   string `mapstructure:"bucket"`
	BasePath string `mapstructure:"base_path"`

	// AuthMethod: "default" (Application Default Credentials) or
	// "service_account" (key file or inline JSON).
	AuthMethod      string `mapstructure:"auth_method"`
	CredentialsFile string `mapstructure:"credentials_file"`
	CredentialsJSON string `mapstructure:"credentials_json"`
	// Endpoint is an optional custom endpoint for GCS emulators.
	Endpoint string `mapstructure:"endpoint"`
}

// AzureProviderConfig holds Azure Blob Storage configuration.
type AzureProviderConfig struct {
	AccountName   string `mapstructure:"account_name"`
	AccountKey    string `mapstructure:"account_key"`
	ContainerName string `mapstructure:"container_name"`
	BasePath      string `mapstructure:"base_path"`
}

// DriveProviderConfig holds Google Drive configuration. Drive is the
// OAuth-token-style backend: it authenticates with a user OAuth token rather
// than bucket credentials, and stores blobs under a dedicated folder.
type DriveProviderConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RefreshToken string `mapstructure:"refresh_token"`
	// RootFolderID is the Drive folder that acts as the bucket. Files are
	// stored flat with their storage path as the Drive file name.
	RootFolderID string `mapstructure:"root_folder_id"`
}

// LocalProviderConfig holds local filesystem backend configuration, used for
// tests and air-gapped mirrors.
type LocalProviderConfig struct {
	BasePath string `mapstructure:"base_path"`
}

// EncryptionConfig controls at-rest encryption of mirrored content.
type EncryptionConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Password is the user-supplied secret the content key is derived from.
	// Usually supplied as ${MV_ENCRYPTION_PASSWORD}; never logged.
	Password string `mapstructure:"password"`
	// KeyID names the cached derived key. Rotation replaces the key under
	// this ID.
	KeyID string `mapstructure:"key_id"`
}

// VersioningConfig controls the content-addressed version history.
type VersioningConfig struct {
	// MaxVersions is the number of non-current versions retained per item.
	MaxVersions int `mapstructure:"max_versions"`
	// RetentionDays is the age limit for non-current versions.
	RetentionDays int `mapstructure:"retention_days"`
	// DBPath is the bbolt database file holding items and version metadata.
	DBPath string `mapstructure:"db_path"`
}

// MonitoringConfig controls health checks and alerting.
type MonitoringConfig struct {
	// HealthInterval is the period between health check cycles.
	HealthInterval time.Duration `mapstructure:"health_interval"`
	// AlertCooldown suppresses repeat alerts for the same condition.
	AlertCooldown time.Duration `mapstructure:"alert_cooldown"`
	// MinDiskFreeBytes is the free-space floor below which the disk check fails.
	MinDiskFreeBytes int64 `mapstructure:"min_disk_free_bytes"`
	// MaxBackupAge is how stale the last successful backup may be.
	MaxBackupAge time.Duration `mapstructure:"max_backup_age"`
	// MaxSyncLag is how old the oldest pending sync operation may be.
	MaxSyncLag time.Duration `mapstructure:"max_sync_lag"`
}

// LoggingConfig holds log output configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds the side-channel observability listener configuration.
type TelemetryConfig struct {
	MetricsPort int `mapstructure:"metrics_port"`
}

// bindEnvVars explicitly binds environment variables to config keys.
// This is necessary because AutomaticEnv() doesn't work well with nested
// structs during Unmarshal. viper.BindEnv only errors when called with zero
// keys; since every key here is a non-empty hardcoded string, any error
// indicates a programming bug and is surfaced to the caller.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		// Sync
		"sync.enabled",
		"sync.interval",
		"sync.providers",
		"sync.directories",
		"sync.exclude_patterns",
		"sync.max_file_size",
		"sync.retry_attempts",
		"sync.debounce",
		"sync.max_workers",
		"sync.provider_timeout",

		// Providers
		"providers.s3.endpoint",
		"providers.s3.region",
		"providers.s3.bucket",
		"providers.s3.base_path",
		"providers.s3.auth_method",
		"providers.s3.access_key_id",
		"providers.s3.secret_access_key",
		"providers.s3.role_arn",
		"providers.s3.role_session_name",
		"providers.s3.external_id",
		"providers.gcs.bucket",
		"providers.gcs.base_path",
		"providers.gcs.auth_method",
		"providers.gcs.credentials_file",
		"providers.gcs.credentials_json",
		"providers.gcs.endpoint",
		"providers.azure.account_name",
		"providers.azure.account_key",
		"providers.azure.container_name",
		"providers.azure.base_path",
		"providers.drive.client_id",
		"providers.drive.client_secret",
		"providers.drive.refresh_token",
		"providers.drive.root_folder_id",
		"providers.local.base_path",

		// Encryption
		"encryption.enabled",
		"encryption.password",
		"encryption.key_id",

		// Versioning
		"versioning.max_versions",
		"versioning.retention_days",
		"versioning.db_path",

		// Monitoring
		"monitoring.health_interval",
		"monitoring.alert_cooldown",
		"monitoring.min_disk_free_bytes",
		"monitoring.max_backup_age",
		"monitoring.max_sync_lag",

		// Logging
		"logging.level",
		"logging.format",

		// Telemetry
		"telemetry.metrics_port",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/mirrorvault")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables.
	}

	v.SetEnvPrefix("MV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand environment variables in sensitive fields.
	cfg.Providers.S3.AccessKeyID = expandEnv(cfg.Providers.S3.AccessKeyID)
	cfg.Providers.S3.SecretAccessKey = expandEnv(cfg.Providers.S3.SecretAccessKey)
	cfg.Providers.Azure.AccountKey = expandEnv(cfg.Providers.Azure.AccountKey)
	cfg.Providers.Drive.ClientSecret = expandEnv(cfg.Providers.Drive.ClientSecret)
	cfg.Providers.Drive.RefreshToken = expandEnv(cfg.Providers.Drive.RefreshToken)
	cfg.Encryption.Password = expandEnv(cfg.Encryption.Password)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Sync defaults
	v.SetDefault("sync.enabled", true)
	v.SetDefault("sync.interval", "5m")
	v.SetDefault("sync.providers", []string{"local"})
	v.SetDefault("sync.directories", []string{})
	v.SetDefault("sync.exclude_patterns", []string{".*", "*.tmp", "*.swp"})
	v.SetDefault("sync.max_file_size", int64(1<<30)) // 1 GiB
	v.SetDefault("sync.retry_attempts", 3)
	v.SetDefault("sync.debounce", "1s")
	v.SetDefault("sync.max_workers", 4)
	v.SetDefault("sync.provider_timeout", "2m")

	// Provider defaults
	v.SetDefault("providers.local.base_path", "./mirror")

	// Encryption defaults
	v.SetDefault("encryption.enabled", false)
	v.SetDefault("encryption.key_id", "default")

	// Versioning defaults
	v.SetDefault("versioning.max_versions", 10)
	v.SetDefault("versioning.retention_days", 30)
	v.SetDefault("versioning.db_path", "./mirrorvault.db")

	// Monitoring defaults
	v.SetDefault("monitoring.health_interval", "1m")
	v.SetDefault("monitoring.alert_cooldown", "5m")
	v.SetDefault("monitoring.min_disk_free_bytes", int64(1<<30))
	v.SetDefault("monitoring.max_backup_age", "24h")
	v.SetDefault("monitoring.max_sync_lag", "10m")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	// Telemetry defaults
	v.SetDefault("telemetry.metrics_port", 9090)
}

// Validate checks configuration consistency. Provider blocks are only
// validated for providers actually enrolled in sync.providers, so a config
// file may carry credentials for backends that are currently switched off.
func (c *Config) Validate() error {
	if c.Sync.Enabled && len(c.Sync.Directories) == 0 {
		return fmt.Errorf("sync.directories must not be empty when sync is enabled")
	}
	if len(c.Sync.Providers) == 0 {
		return fmt.Errorf("sync.providers must name at least one provider")
	}
	if c.Sync.MaxFileSize <= 0 {
		return fmt.Errorf("sync.max_file_size must be positive, got %d", c.Sync.MaxFileSize)
	}
	if c.Sync.RetryAttempts < 0 {
		return fmt.Errorf("sync.retry_attempts must be >= 0, got %d", c.Sync.RetryAttempts)
	}
	if c.Sync.MaxWorkers <= 0 {
		return fmt.Errorf("sync.max_workers must be positive, got %d", c.Sync.MaxWorkers)
	}
	if c.Sync.Debounce <= 0 {
		return fmt.Errorf("sync.debounce must be positive")
	}

	validProviders := map[string]bool{"s3": true, "gcs": true, "azure": true, "drive": true, "local": true}
	for _, name := range c.Sync.Providers {
		if !validProviders[name] {
			return fmt.Errorf("unknown provider %q (must be s3, gcs, azure, drive, or local)", name)
		}
	}

	for _, name := range c.Sync.Providers {
		switch name {
		case "s3":
			if c.Providers.S3.Bucket == "" {
				return fmt.Errorf("providers.s3.bucket is required when s3 is enrolled")
			}
			if c.Providers.S3.Region == "" {
				return fmt.Errorf("providers.s3.region is required when s3 is enrolled")
			}
		case "gcs":
			if c.Providers.GCS.Bucket == "" {
				return fmt.Errorf("providers.gcs.bucket is required when gcs is enrolled")
			}
		case "azure":
			if c.Providers.Azure.AccountName == "" {
				return fmt.Errorf("providers.azure.account_name is required when azure is enrolled")
			}
			if c.Providers.Azure.AccountKey == "" {
				return fmt.Errorf("providers.azure.account_key is required when azure is enrolled")
			}
			if c.Providers.Azure.ContainerName == "" {
				return fmt.Errorf("providers.azure.container_name is required when azure is enrolled")
			}
		case "drive":
			if c.Providers.Drive.ClientID == "" || c.Providers.Drive.ClientSecret == "" {
				return fmt.Errorf("providers.drive.client_id and client_secret are required when drive is enrolled")
			}
			if c.Providers.Drive.RefreshToken == "" {
				return fmt.Errorf("providers.drive.refresh_token is required when drive is enrolled")
			}
			if c.Providers.Drive.RootFolderID == "" {
				return fmt.Errorf("providers.drive.root_folder_id is required when drive is enrolled")
			}
		case "local":
			if c.Providers.Local.BasePath == "" {
				return fmt.Errorf("providers.local.base_path is required when local is enrolled")
			}
		}
	}

	if c.Encryption.Enabled {
		if c.Encryption.Password == "" {
			return fmt.Errorf("encryption.password is required when encryption is enabled")
		}
		if c.Encryption.KeyID == "" {
			return fmt.Errorf("encryption.key_id must not be empty")
		}
	}

	if c.Versioning.MaxVersions < 1 {
		return fmt.Errorf("versioning.max_versions must be >= 1, got %d", c.Versioning.MaxVersions)
	}
	if c.Versioning.RetentionDays < 1 {
		return fmt.Errorf("versioning.retention_days must be >= 1, got %d", c.Versioning.RetentionDays)
	}
	if c.Versioning.DBPath == "" {
		return fmt.Errorf("versioning.db_path must not be empty")
	}

	if c.Telemetry.MetricsPort <= 0 || c.Telemetry.MetricsPort > 65535 {
		return fmt.Errorf("telemetry.metrics_port must be a valid port, got %d", c.Telemetry.MetricsPort)
	}

	return nil
}

// expandEnv expands ${VAR_NAME} references in sensitive configuration values.
// A value that is not a ${...} reference is returned unchanged, so literal
// secrets in YAML keep working.
func expandEnv(value string) string {
	if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
		envVar := strings.TrimSuffix(strings.TrimPrefix(value, "${"), "}")
		return os.Getenv(envVar)
	}
	return value
}
