// Package catalog reconciles scraped records with the storefront catalog.
package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/maltedev/catalog-sync/internal/models"
)

// ErrNotFound is returned by stores for an unknown product ID.
var ErrNotFound = errors.New("product not found")

// Fields are the writable columns of a catalog product.
type Fields struct {
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	Price         int      `json:"price"`
	OriginalPrice *int     `json:"originalPrice"`
	Discount      *int     `json:"discount"`
	Image         string   `json:"image"`
	Images        []string `json:"images"`
	Brand         string   `json:"brand"`
	Stock         int      `json:"stock"`
	InStock       bool     `json:"inStock"`
	Featured      bool     `json:"featured"`
	SKU           string   `json:"sku,omitempty"`
	SourceURL     string   `json:"sourceUrl"`
}

// Product is a stored catalog entity.
type Product struct {
	ID string `json:"id"`
	Fields
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store is the persistence the reconciler needs.
//
// FindBySKU returns (nil, nil) when nothing matches. Update overwrites the
// mutable fields only: SKU, Featured and SourceURL keep their stored values.
type Store interface {
	FindBySKU(ctx context.Context, sku string) (*Product, error)
	Create(ctx context.Context, f Fields) (*Product, error)
	Update(ctx context.Context, id string, f Fields) (*Product, error)
}

const (
	EventProductCreated = "catalog.product.created"
	EventProductUpdated = "catalog.product.updated"
)

// Notifier is told about every product the reconciler wrote.
type Notifier interface {
	Notify(ctx context.Context, eventType string, p *Product) error
}

// Result counts reconciliation outcomes across all batches.
type Result struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

func (r Result) Total() int {
	return r.Created + r.Updated + r.Skipped + r.Errors
}

// FieldsFrom maps a scraped record onto catalog fields. images replaces
// the record's image list when non-nil.
func FieldsFrom(rec models.ProductRecord, images []string) Fields {
	if images == nil {
		images = rec.Images
	}
	if images == nil {
		images = []string{}
	}

	f := Fields{
		Name:          rec.Name,
		Description:   rec.Description,
		Price:         rec.Price,
		OriginalPrice: rec.OriginalPrice,
		Discount:      rec.Discount,
		Images:        images,
		Brand:         rec.Brand,
		Stock:         rec.Stock,
		InStock:       rec.InStock,
		Featured:      rec.Featured,
		SKU:           rec.SKU,
		SourceURL:     rec.SourceURL,
	}
	if len(images) > 0 {
		f.Image = images[0]
	}
	return f
}
