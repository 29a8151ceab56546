package scraper

import (
	"context"
	"errors"
	"strings"

	"github.com/maltedev/catalog-sync/internal/browser"
	"github.com/maltedev/catalog-sync/internal/extract"
	"github.com/maltedev/catalog-sync/internal/listing"
	"github.com/maltedev/catalog-sync/internal/models"
)

type Authenticator interface {
	Login(ctx context.Context, b browser.Browser) (browser.Page, error)
}

type Paginator interface {
	Walk(ctx context.Context, page browser.Page, fn func(*listing.Listing) error) (int, error)
}

type Extractor interface {
	Extract(ctx context.Context, url string) (*models.ProductRecord, error)
}

// ErrorTypeLabel buckets a product failure for the errors metric.
func ErrorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	if errors.Is(err, context.DeadlineExceeded) || strings.Contains(strings.ToLower(err.Error()), "timeout") {
		return "timeout"
	}
	var nav *browser.NavigationError
	if errors.As(err, &nav) {
		return "navigation"
	}
	if errors.Is(err, extract.ErrNoName) {
		return "extraction"
	}
	return "other"
}
