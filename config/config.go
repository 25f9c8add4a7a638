package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrConfiguration marks every failure to load or validate configuration.
var ErrConfiguration = errors.New("configuration error")

const DefaultConfigPath = "config/config.yml"

type Config struct {
	CryptoLedger AppConfig          `yaml:"cryptoledger"`
	Exchange     ExchangeConfig     `yaml:"exchange"`
	Export       ExportConfig       `yaml:"export"`
	Transactions TransactionsConfig `yaml:"transactions"`
	Storage      StorageConfig      `yaml:"storage"`
	Logging      LoggingConfig      `yaml:"logging"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type ExchangeConfig struct {
	BaseURL        string               `yaml:"base_url"`
	Timeout        time.Duration        `yaml:"timeout"`
	RecvWindow     int64                `yaml:"recv_window"`
	APIKeyEnv      string               `yaml:"api_key_env"`
	SecretKeyEnv   string               `yaml:"secret_key_env"`
	QuoteAssets    []string             `yaml:"quote_assets"`
	ConnectionPool ConnectionPoolConfig `yaml:"connection_pool"`

	// Credentials are only ever read from the environment.
	APIKey    string `yaml:"-"`
	SecretKey string `yaml:"-"`
}

type ConnectionPoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxConnsPerHost int           `yaml:"max_conns_per_host"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

type ExportConfig struct {
	Dir      string   `yaml:"dir"`
	StoreDir string   `yaml:"store_dir"`
	Formats  []string `yaml:"formats"`
	TimeZone string   `yaml:"time_zone"`
	Manifest bool     `yaml:"manifest"`
}

type TransactionsConfig struct {
	// Path to a transaction type mapping file. Empty uses the built-in one.
	Path string `yaml:"path"`
}

type StorageConfig struct {
	S3  S3Config  `yaml:"s3"`
	GCS GCSConfig `yaml:"gcs"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Prefix          string `yaml:"prefix"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type GCSConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	ProjectID       string `yaml:"project_id"`
	CredentialsFile string `yaml:"credentials_file"`
	Endpoint        string `yaml:"endpoint"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type MetricsConfig struct {
	UsedWeight bool             `yaml:"used_weight"`
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
}

// Supported export formats.
const (
	FormatCSV     = "csv"
	FormatParquet = "parquet"
	FormatXLSX    = "xlsx"
)

func defaultConfig() Config {
	return Config{
		Exchange: ExchangeConfig{
			BaseURL:      "https://api.binance.com",
			Timeout:      30 * time.Second,
			APIKeyEnv:    "BINANCE_API_KEY",
			SecretKeyEnv: "BINANCE_SECRET_KEY",
			QuoteAssets:  []string{"USDT", "USDC"},
			ConnectionPool: ConnectionPoolConfig{
				MaxIdleConns:    10,
				MaxConnsPerHost: 4,
				IdleConnTimeout: 90 * time.Second,
			},
		},
		Export: ExportConfig{
			Dir:      "export",
			StoreDir: "export/json",
			Formats:  []string{FormatCSV},
			TimeZone: "Local",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			UsedWeight: true,
			CloudWatch: CloudWatchConfig{Namespace: "CryptoLedger"},
		},
	}
}

// LoadConfig reads the YAML file at path, applies environment overrides and
// validates the result. An empty path selects the default file for the
// current APP_ENV.
func LoadConfig(path string) (*Config, error) {
	path = ResolveConfigPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read config file: %v", ErrConfiguration, err)
	}

	config := defaultConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config file: %v", ErrConfiguration, err)
	}

	applyEnvOverrides(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("%w: validation failed: %v", ErrConfiguration, err)
	}

	return &config, nil
}

func applyEnvOverrides(config *Config) {
	config.Exchange.APIKey = strings.TrimSpace(os.Getenv(config.Exchange.APIKeyEnv))
	config.Exchange.SecretKey = strings.TrimSpace(os.Getenv(config.Exchange.SecretKeyEnv))
	if v := os.Getenv("BINANCE_BASE_URL"); v != "" {
		config.Exchange.BaseURL = strings.TrimSpace(v)
	}

	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = v
		}
	}
	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if config.Storage.GCS.Enabled {
		if v := os.Getenv("GCS_BUCKET"); v != "" {
			config.Storage.GCS.Bucket = strings.TrimSpace(v)
		}
		if v := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); v != "" && config.Storage.GCS.CredentialsFile == "" {
			config.Storage.GCS.CredentialsFile = strings.TrimSpace(v)
		}
	}

	if v := os.Getenv("EXPORT_TIME_ZONE"); v != "" {
		config.Export.TimeZone = strings.TrimSpace(v)
	}
}

func validateConfig(cfg *Config) error {
	if cfg.CryptoLedger.Name == "" {
		return fmt.Errorf("cryptoledger.name is required")
	}
	if cfg.CryptoLedger.Version == "" {
		return fmt.Errorf("cryptoledger.version is required")
	}

	if cfg.Exchange.BaseURL == "" {
		return fmt.Errorf("exchange.base_url is required")
	}
	if cfg.Exchange.Timeout <= 0 {
		return fmt.Errorf("exchange.timeout must be greater than 0")
	}
	if len(cfg.Exchange.QuoteAssets) == 0 {
		return fmt.Errorf("exchange.quote_assets must not be empty")
	}

	if cfg.Export.Dir == "" {
		return fmt.Errorf("export.dir is required")
	}
	if cfg.Export.StoreDir == "" {
		return fmt.Errorf("export.store_dir is required")
	}
	if len(cfg.Export.Formats) == 0 {
		return fmt.Errorf("export.formats must not be empty")
	}
	for _, f := range cfg.Export.Formats {
		switch f {
		case FormatCSV, FormatParquet, FormatXLSX:
		default:
			return fmt.Errorf("export.formats: unsupported format '%s'", f)
		}
	}
	if _, err := time.LoadLocation(cfg.Export.TimeZone); err != nil {
		return fmt.Errorf("export.time_zone '%s' is invalid: %v", cfg.Export.TimeZone, err)
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	if cfg.Storage.GCS.Enabled && cfg.Storage.GCS.Bucket == "" {
		return fmt.Errorf("storage.gcs.bucket is required when GCS is enabled")
	}

	return nil
}

// Location returns the time zone used to render transaction timestamps.
func (e ExportConfig) Location() *time.Location {
	loc, err := time.LoadLocation(e.TimeZone)
	if err != nil {
		return time.Local
	}
	return loc
}

// HasFormat reports whether format is enabled for export.
func (e ExportConfig) HasFormat(format string) bool {
	for _, f := range e.Formats {
		if f == format {
			return true
		}
	}
	return false
}

// RequireCredentials fails when the signed endpoints cannot be used.
func (e ExchangeConfig) RequireCredentials() error {
	if e.APIKey == "" || e.SecretKey == "" {
		return fmt.Errorf("%w: %s and %s must be set", ErrConfiguration, e.APIKeyEnv, e.SecretKeyEnv)
	}
	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
