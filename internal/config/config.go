package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Credentials CredentialsConfig
	Scraper     ScraperConfig
	RateLimit   RateLimitConfig
	Images      ImageConfig
	Browser     BrowserConfig
	Database    DatabaseConfig
	Pricing     PricingConfig
	Catalog     CatalogConfig
	Events      EventsConfig
	Output      OutputConfig
	Server      ServerConfig
	Logging     LoggingConfig
}

type CredentialsConfig struct {
	Email    string
	Password string
	LoginURL string
}

type ScraperConfig struct {
	BaseURL     string
	ListingURL  string
	MaxPages    int
	StartPage   int
	SettleDelay time.Duration
}

type RateLimitConfig struct {
	RequestDelay time.Duration
	PageDelay    time.Duration
	MaxRetries   int
	RetryDelay   time.Duration
}

type ImageConfig struct {
	MinWidth        int
	MinHeight       int
	DownloadEnabled bool
	DownloadPath    string
	PublicPrefix    string
	MaxSizeBytes    int64
	CheckTimeout    time.Duration
	CacheSize       int
}

type BrowserConfig struct {
	Headless       bool
	Timeout        time.Duration
	ViewportWidth  int
	ViewportHeight int
	UserAgent      string
	Locale         string
}

type DatabaseConfig struct {
	Driver         string
	URL            string
	SyncEnabled    bool
	BatchSize      int
	BatchPause     time.Duration
	UpdateExisting bool
	MaxConns       int32
}

type PricingConfig struct {
	// MarkupFactor of zero disables the derived list price.
	MarkupFactor    float64
	ZeroPricePolicy string
}

type CatalogConfig struct {
	DefaultBrand     string
	DefaultStock     int
	EmptyImagePolicy string
}

type EventsConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Stream        string
}

type OutputConfig struct {
	SnapshotFile string
	LogFile      string
	ErrorLogFile string
}

type ServerConfig struct {
	Port int
}

type LoggingConfig struct {
	Level  string
	Format string
}

const (
	ZeroPriceNull = "null"
	ZeroPriceZero = "zero"

	EmptyImagesKeep = "keep"
	EmptyImagesSkip = "skip"
)

// Load reads the environment, preloading a .env file when one exists.
// Credentials and target URLs have no defaults; call Validate before use.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	cfg := &Config{
		Credentials: CredentialsConfig{
			Email:    os.Getenv("SCRAPER_EMAIL"),
			Password: os.Getenv("SCRAPER_PASSWORD"),
			LoginURL: os.Getenv("SCRAPER_LOGIN_URL"),
		},
		Scraper: ScraperConfig{
			BaseURL:     os.Getenv("SCRAPER_BASE_URL"),
			ListingURL:  os.Getenv("SCRAPER_LISTING_URL"),
			MaxPages:    getIntOrDefault("SCRAPER_MAX_PAGES", 10),
			StartPage:   getIntOrDefault("SCRAPER_START_PAGE", 1),
			SettleDelay: getDurationOrDefault("SCRAPER_SETTLE_DELAY", 2*time.Second),
		},
		RateLimit: RateLimitConfig{
			RequestDelay: getDurationOrDefault("RATE_LIMIT_REQUEST_DELAY", 2*time.Second),
			PageDelay:    getDurationOrDefault("RATE_LIMIT_PAGE_DELAY", 5*time.Second),
			MaxRetries:   getIntOrDefault("RATE_LIMIT_MAX_RETRIES", 3),
			RetryDelay:   getDurationOrDefault("RATE_LIMIT_RETRY_DELAY", 2*time.Second),
		},
		Images: ImageConfig{
			MinWidth:        getIntOrDefault("IMAGE_MIN_WIDTH", 400),
			MinHeight:       getIntOrDefault("IMAGE_MIN_HEIGHT", 400),
			DownloadEnabled: getBoolOrDefault("IMAGE_DOWNLOAD_ENABLED", false),
			DownloadPath:    getEnvOrDefault("IMAGE_DOWNLOAD_PATH", "public/images/products"),
			PublicPrefix:    getEnvOrDefault("IMAGE_PUBLIC_PREFIX", "/images/products"),
			MaxSizeBytes:    int64(getIntOrDefault("IMAGE_MAX_SIZE_BYTES", 10*1024*1024)),
			CheckTimeout:    getDurationOrDefault("IMAGE_CHECK_TIMEOUT", 5*time.Second),
			CacheSize:       getIntOrDefault("IMAGE_CACHE_SIZE", 2048),
		},
		Browser: BrowserConfig{
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:        getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
			UserAgent:      getEnvOrDefault("BROWSER_USER_AGENT", ""),
			Locale:         getEnvOrDefault("BROWSER_LOCALE", "en-US"),
		},
		Database: DatabaseConfig{
			Driver:         getEnvOrDefault("DB_DRIVER", "postgres"),
			URL:            os.Getenv("DB_URL"),
			SyncEnabled:    getBoolOrDefault("DB_SYNC_ENABLED", true),
			BatchSize:      getIntOrDefault("DB_BATCH_SIZE", 10),
			BatchPause:     getDurationOrDefault("DB_BATCH_PAUSE", time.Second),
			UpdateExisting: getBoolOrDefault("DB_UPDATE_EXISTING", true),
			MaxConns:       int32(getIntOrDefault("DB_MAX_CONNS", 5)),
		},
		Pricing: PricingConfig{
			MarkupFactor:    getFloatOrDefault("PRICING_MARKUP_FACTOR", 0),
			ZeroPricePolicy: getEnvOrDefault("PRICING_ZERO_PRICE_POLICY", ZeroPriceNull),
		},
		Catalog: CatalogConfig{
			DefaultBrand:     getEnvOrDefault("CATALOG_DEFAULT_BRAND", ""),
			DefaultStock:     getIntOrDefault("CATALOG_DEFAULT_STOCK", 100),
			EmptyImagePolicy: getEnvOrDefault("CATALOG_EMPTY_IMAGE_POLICY", EmptyImagesKeep),
		},
		Events: EventsConfig{
			RedisAddr:     os.Getenv("REDIS_ADDR"),
			RedisPassword: os.Getenv("REDIS_PASSWORD"),
			RedisDB:       getIntOrDefault("REDIS_DB", 0),
			Stream:        getEnvOrDefault("REDIS_STREAM", "stream:catalog_products"),
		},
		Output: OutputConfig{
			SnapshotFile: getEnvOrDefault("OUTPUT_SNAPSHOT_FILE", "data/products.json"),
			LogFile:      getEnvOrDefault("OUTPUT_LOG_FILE", "logs/scraper.log"),
			ErrorLogFile: getEnvOrDefault("OUTPUT_ERROR_LOG_FILE", "logs/errors.log"),
		},
		Server: ServerConfig{
			Port: getIntOrDefault("SERVER_PORT", 8080),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "text"),
		},
	}

	return cfg, nil
}

// Validate checks everything a scrape run needs. needStore is false for dry runs.
func (c *Config) Validate(needStore bool) error {
	var errs []error

	required := map[string]string{
		"SCRAPER_EMAIL":     c.Credentials.Email,
		"SCRAPER_PASSWORD":  c.Credentials.Password,
		"SCRAPER_LOGIN_URL": c.Credentials.LoginURL,
		"SCRAPER_BASE_URL":  c.Scraper.BaseURL,
	}
	for _, key := range []string{"SCRAPER_EMAIL", "SCRAPER_PASSWORD", "SCRAPER_LOGIN_URL", "SCRAPER_BASE_URL"} {
		if strings.TrimSpace(required[key]) == "" {
			errs = append(errs, fmt.Errorf("%s must be set", key))
		}
	}

	for key, raw := range map[string]string{"SCRAPER_LOGIN_URL": c.Credentials.LoginURL, "SCRAPER_BASE_URL": c.Scraper.BaseURL} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err != nil || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s must be an absolute URL", key))
		}
	}

	if c.Scraper.StartPage < 1 {
		errs = append(errs, fmt.Errorf("SCRAPER_START_PAGE must be at least 1"))
	}
	if c.Scraper.MaxPages < c.Scraper.StartPage {
		errs = append(errs, fmt.Errorf("SCRAPER_MAX_PAGES cannot be lower than SCRAPER_START_PAGE"))
	}
	if c.RateLimit.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_MAX_RETRIES must be at least 1"))
	}
	if c.Pricing.MarkupFactor < 0 {
		errs = append(errs, fmt.Errorf("PRICING_MARKUP_FACTOR cannot be negative"))
	}
	if c.Pricing.ZeroPricePolicy != ZeroPriceNull && c.Pricing.ZeroPricePolicy != ZeroPriceZero {
		errs = append(errs, fmt.Errorf("PRICING_ZERO_PRICE_POLICY must be %q or %q", ZeroPriceNull, ZeroPriceZero))
	}
	if c.Catalog.EmptyImagePolicy != EmptyImagesKeep && c.Catalog.EmptyImagePolicy != EmptyImagesSkip {
		errs = append(errs, fmt.Errorf("CATALOG_EMPTY_IMAGE_POLICY must be %q or %q", EmptyImagesKeep, EmptyImagesSkip))
	}

	if needStore {
		errs = append(errs, c.ValidateStore())
	}

	return errors.Join(errs...)
}

// ValidateStore checks the settings reconciliation needs on its own.
func (c *Config) ValidateStore() error {
	var errs []error
	if c.Database.Driver != "postgres" && c.Database.Driver != "sqlite" {
		errs = append(errs, fmt.Errorf("DB_DRIVER must be postgres or sqlite"))
	}
	if strings.TrimSpace(c.Database.URL) == "" {
		errs = append(errs, fmt.Errorf("DB_URL must be set when DB_SYNC_ENABLED is true"))
	}
	if c.Database.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("DB_BATCH_SIZE must be at least 1"))
	}
	return errors.Join(errs...)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// Accepts Go durations ("1500ms") or bare milliseconds ("1500").
func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if ms, err := strconv.Atoi(value); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}
