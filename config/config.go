package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"marketpulse/internal/assets"
)

type Config struct {
	MarketPulse MarketPulseConfig `yaml:"marketpulse"`
	Logging     LoggingConfig     `yaml:"logging"`
	COT         COTConfig         `yaml:"cot"`
	Assets      []assets.Asset    `yaml:"assets" validate:"dive"`
	Cache       CacheConfig       `yaml:"cache"`
	Storage     StorageConfig     `yaml:"storage"`
	Market      MarketConfig      `yaml:"market"`
	Providers   ProvidersConfig   `yaml:"providers"`
	Reader      ReaderConfig      `yaml:"reader"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

type MarketPulseConfig struct {
	Name    string `yaml:"name" validate:"required"`
	Version string `yaml:"version" validate:"required"`
}

type LoggingConfig struct {
	Level          string           `yaml:"level"`
	Format         string           `yaml:"format" validate:"oneof=json text"`
	Output         string           `yaml:"output"`
	MaxAge         int              `yaml:"max_age" validate:"gte=0"`
	ReportInterval time.Duration    `yaml:"report_interval"`
	CloudWatch     CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
	Dashboard string `yaml:"dashboard"`
}

// COTConfig describes the yearly legacy futures archives.
type COTConfig struct {
	BaseURL   string        `yaml:"base_url" validate:"required,url"`
	StartYear int           `yaml:"start_year" validate:"gte=1986"`
	EndYear   int           `yaml:"end_year" validate:"omitempty,gte=1986"`
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
}

// YearRange returns the configured years, with a zero end year meaning the
// current year.
func (c COTConfig) YearRange(now time.Time) (int, int) {
	end := c.EndYear
	if end == 0 {
		end = now.Year()
	}
	return c.StartYear, end
}

// CacheConfig controls the weekly history artifact. A zero MaxAge keeps the
// artifact forever.
type CacheConfig struct {
	Path   string        `yaml:"path" validate:"required"`
	MaxAge time.Duration `yaml:"max_age" validate:"gte=0"`
	S3Key  string        `yaml:"s3_key"`
}

type StorageConfig struct {
	S3    S3Config    `yaml:"s3"`
	Kafka KafkaConfig `yaml:"kafka"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// MacroSeries binds a FRED series id to a frame column name.
type MacroSeries struct {
	ID     string `yaml:"id" validate:"required"`
	Column string `yaml:"column" validate:"required"`
}

// IndexConfig binds a display name to a price-provider ticker.
type IndexConfig struct {
	Name   string `yaml:"name" validate:"required"`
	Ticker string `yaml:"ticker" validate:"required"`
}

type MarketConfig struct {
	USTickers         []string      `yaml:"us_tickers"`
	IndiaTickers      []string      `yaml:"india_tickers"`
	ExchangeSuffix    string        `yaml:"exchange_suffix"`
	Macro             []MacroSeries `yaml:"macro" validate:"dive"`
	Indices           []IndexConfig `yaml:"indices" validate:"dive"`
	CoverageThreshold float64       `yaml:"coverage_threshold" validate:"gte=0,lte=1"`
	ValidShare        float64       `yaml:"valid_share" validate:"gte=0,lte=1"`
	DefaultAssets     int           `yaml:"default_assets" validate:"gte=1"`
}

type ProvidersConfig struct {
	Yahoo YahooConfig `yaml:"yahoo"`
	FRED  FREDConfig  `yaml:"fred"`
}

type YahooConfig struct {
	BaseURL   string        `yaml:"base_url" validate:"required,url"`
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
}

type FREDConfig struct {
	BaseURL string        `yaml:"base_url" validate:"required,url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

type ReaderConfig struct {
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`
	BurstSize         int     `yaml:"burst_size" validate:"gte=0"`
}

type DashboardConfig struct {
	Addr             string        `yaml:"addr" validate:"required"`
	AllowedOrigins   []string      `yaml:"allowed_origins"`
	LogBuffer        int           `yaml:"log_buffer" validate:"gte=1"`
	MetricBuffer     int           `yaml:"metric_buffer" validate:"gte=1"`
	ResourceInterval time.Duration `yaml:"resource_interval"`
	ResourceHistory  int           `yaml:"resource_history" validate:"gte=1"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns the configuration used for keys absent from the file.
func Default() Config {
	return Config{
		MarketPulse: MarketPulseConfig{Name: "marketpulse", Version: "dev"},
		Logging: LoggingConfig{
			Level:          "info",
			Format:         "json",
			Output:         "stdout",
			ReportInterval: time.Minute,
		},
		COT: COTConfig{
			BaseURL:   "https://www.cftc.gov/files/dea/history",
			StartYear: 2006,
			Timeout:   60 * time.Second,
			UserAgent: "marketpulse/dev",
		},
		Cache: CacheConfig{
			Path:  "data/cot_history.parquet",
			S3Key: "cache/cot_history.parquet",
		},
		Storage: StorageConfig{
			Kafka: KafkaConfig{Topic: "marketpulse.cot"},
		},
		Market: MarketConfig{
			USTickers:         []string{"SPY", "QQQ", "DIA", "IWM", "AAPL", "MSFT", "AMZN", "GOOGL", "JPM", "XOM", "GLD", "TLT"},
			IndiaTickers:      []string{"RELIANCE", "TCS", "INFY", "HDFCBANK", "ICICIBANK", "SBIN", "KOTAKBANK"},
			ExchangeSuffix:    ".NS",
			CoverageThreshold: 0.7,
			ValidShare:        0.7,
			DefaultAssets:     10,
			Macro: []MacroSeries{
				{ID: "CPIAUCSL", Column: "USInfl_Inflation"},
				{ID: "GDP", Column: "USGDP_GDP"},
				{ID: "GS10", Column: "USBond_10Y_Bond_Rate"},
			},
			Indices: []IndexConfig{
				{Name: "NIFTY 50", Ticker: "^NSEI"},
				{Name: "SENSEX", Ticker: "^BSESN"},
				{Name: "BANKNIFTY", Ticker: "^NSEBANK"},
			},
		},
		Providers: ProvidersConfig{
			Yahoo: YahooConfig{
				BaseURL:   "https://query1.finance.yahoo.com",
				Timeout:   30 * time.Second,
				UserAgent: "Mozilla/5.0 (compatible; marketpulse)",
			},
			FRED: FREDConfig{
				BaseURL: "https://api.stlouisfed.org/fred",
				Timeout: 30 * time.Second,
			},
		},
		Reader: ReaderConfig{
			RateLimit: RateLimitConfig{RequestsPerSecond: 2, BurstSize: 1},
		},
		Dashboard: DashboardConfig{
			Addr:             ":8080",
			AllowedOrigins:   []string{"*"},
			LogBuffer:        500,
			MetricBuffer:     500,
			ResourceInterval: 5 * time.Second,
			ResourceHistory:  120,
		},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyEnvOverrides(config *Config) {
	if v := os.Getenv("FRED_API_KEY"); v != "" {
		config.Providers.FRED.APIKey = strings.TrimSpace(v)
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
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		var brokers []string
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
		config.Storage.Kafka.Brokers = brokers
	}
}

var validate = validator.New()

func validateConfig(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return err
	}

	if cfg.COT.EndYear != 0 && cfg.COT.EndYear < cfg.COT.StartYear {
		return fmt.Errorf("cot.end_year must not be before cot.start_year")
	}

	if len(cfg.Assets) > 0 {
		if _, err := assets.New(cfg.Assets); err != nil {
			return fmt.Errorf("assets: %w", err)
		}
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if (cfg.Storage.S3.AccessKeyID == "") != (cfg.Storage.S3.SecretAccessKey == "") {
			return fmt.Errorf("storage.s3.access_key_id and storage.s3.secret_access_key must be set together")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
		if cfg.Cache.S3Key == "" {
			return fmt.Errorf("cache.s3_key is required when S3 is enabled")
		}
	}

	if cfg.Storage.Kafka.Enabled {
		if len(cfg.Storage.Kafka.Brokers) == 0 {
			return fmt.Errorf("storage.kafka.brokers is required when Kafka is enabled")
		}
		if cfg.Storage.Kafka.Topic == "" {
			return fmt.Errorf("storage.kafka.topic is required when Kafka is enabled")
		}
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with '/'")
	}

	return nil
}

// Dictionary returns the configured asset dictionary, or the built-in one
// when the file defines no assets.
func (c *Config) Dictionary() (*assets.Dictionary, error) {
	if len(c.Assets) == 0 {
		return assets.Default(), nil
	}
	return assets.New(c.Assets)
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
