package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("SCRAPER_EMAIL", "ops@example.com")
	t.Setenv("SCRAPER_PASSWORD", "secret")
	t.Setenv("SCRAPER_LOGIN_URL", "https://shop.example.com/my-account/")
	t.Setenv("SCRAPER_BASE_URL", "https://shop.example.com/shop/")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Scraper.MaxPages)
	assert.Equal(t, 1, cfg.Scraper.StartPage)
	assert.Equal(t, 2*time.Second, cfg.RateLimit.RequestDelay)
	assert.Equal(t, 5*time.Second, cfg.RateLimit.PageDelay)
	assert.Equal(t, 3, cfg.RateLimit.MaxRetries)
	assert.Equal(t, 400, cfg.Images.MinWidth)
	assert.Equal(t, 5*time.Second, cfg.Images.CheckTimeout)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 30*time.Second, cfg.Browser.Timeout)
	assert.Equal(t, 10, cfg.Database.BatchSize)
	assert.True(t, cfg.Database.UpdateExisting)
	assert.Equal(t, 0.0, cfg.Pricing.MarkupFactor)
	assert.Equal(t, ZeroPriceNull, cfg.Pricing.ZeroPricePolicy)
	assert.Equal(t, 100, cfg.Catalog.DefaultStock)

	assert.NoError(t, cfg.Validate(false))
}

func TestValidateFailsClosedWithoutCredentials(t *testing.T) {
	t.Setenv("SCRAPER_EMAIL", "")
	t.Setenv("SCRAPER_PASSWORD", "")
	t.Setenv("SCRAPER_LOGIN_URL", "")
	t.Setenv("SCRAPER_BASE_URL", "")

	cfg, err := Load()
	require.NoError(t, err)

	err = cfg.Validate(false)
	require.Error(t, err)
	for _, key := range []string{"SCRAPER_EMAIL", "SCRAPER_PASSWORD", "SCRAPER_LOGIN_URL", "SCRAPER_BASE_URL"} {
		assert.Contains(t, err.Error(), key)
	}
}

func TestValidateStoreSettings(t *testing.T) {
	setRequired(t)
	t.Setenv("DB_URL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.NoError(t, cfg.Validate(false), "dry runs do not need a store")
	assert.ErrorContains(t, cfg.Validate(true), "DB_URL")

	cfg.Database.URL = "file::memory:"
	cfg.Database.Driver = "mysql"
	assert.ErrorContains(t, cfg.Validate(true), "DB_DRIVER")

	cfg.Database.Driver = "sqlite"
	assert.NoError(t, cfg.Validate(true))
}

func TestValidatePolicies(t *testing.T) {
	setRequired(t)
	t.Setenv("PRICING_MARKUP_FACTOR", "1.5")
	t.Setenv("PRICING_ZERO_PRICE_POLICY", "zero")
	t.Setenv("CATALOG_EMPTY_IMAGE_POLICY", "skip")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 1.5, cfg.Pricing.MarkupFactor)
	assert.NoError(t, cfg.Validate(false))

	cfg.Pricing.ZeroPricePolicy = "maybe"
	assert.ErrorContains(t, cfg.Validate(false), "PRICING_ZERO_PRICE_POLICY")
}

func TestDurationAcceptsMilliseconds(t *testing.T) {
	t.Setenv("RATE_LIMIT_PAGE_DELAY", "1500")
	t.Setenv("RATE_LIMIT_REQUEST_DELAY", "250ms")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, cfg.RateLimit.PageDelay)
	assert.Equal(t, 250*time.Millisecond, cfg.RateLimit.RequestDelay)
}

func TestValidateRejectsRelativeURLs(t *testing.T) {
	setRequired(t)
	t.Setenv("SCRAPER_BASE_URL", "/shop")

	cfg, err := Load()
	require.NoError(t, err)
	assert.ErrorContains(t, cfg.Validate(false), "SCRAPER_BASE_URL must be an absolute URL")
}
