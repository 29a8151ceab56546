package models

import (
	"github.com/shopspring/decimal"
)

// ProductRecord is one scraped catalog product. An empty SKU means the
// record has no natural key and is always created, never matched.
type ProductRecord struct {
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	Price         int      `json:"price"`
	OriginalPrice *int     `json:"originalPrice"`
	Discount      *int     `json:"discount"`
	Images        []string `json:"images"`
	Brand         string   `json:"brand"`
	Stock         int      `json:"stock"`
	InStock       bool     `json:"inStock"`
	Featured      bool     `json:"featured"`
	SKU           string   `json:"sku,omitempty"`
	SourceURL     string   `json:"sourceUrl"`
}

// Stub is a listing entry that has not been visited yet.
type Stub struct {
	Name      string `json:"name"`
	DetailURL string `json:"detailUrl"`
}

const DefaultStock = 100

// NewProductRecord returns a record carrying the catalog defaults.
func NewProductRecord(sourceURL string) *ProductRecord {
	return &ProductRecord{
		Images:    make([]string, 0),
		Stock:     DefaultStock,
		InStock:   true,
		SourceURL: sourceURL,
	}
}

func (p *ProductRecord) HasSKU() bool {
	return p.SKU != ""
}

// PrimaryImage is the canonical image, or "" when none passed validation.
func (p *ProductRecord) PrimaryImage() string {
	if len(p.Images) == 0 {
		return ""
	}
	return p.Images[0]
}

func (p *ProductRecord) Validate() []string {
	var errors []string

	if p.Name == "" {
		errors = append(errors, "name is required")
	}
	if p.Price < 0 {
		errors = append(errors, "price cannot be negative")
	}
	if p.OriginalPrice != nil && *p.OriginalPrice < 0 {
		errors = append(errors, "original price cannot be negative")
	}
	if p.Discount != nil && *p.Discount < 0 {
		errors = append(errors, "discount cannot be negative")
	}

	return errors
}

// ZeroPricePolicy decides what a zero price derives to.
type ZeroPricePolicy string

const (
	ZeroPriceNull ZeroPricePolicy = "null"
	ZeroPriceZero ZeroPricePolicy = "zero"
)

// DerivePricing computes the list price as round(price*markup) and the
// discount between list and selling price. A non-positive markup disables
// both. The discount is clamped at zero.
func DerivePricing(price int, markup float64, policy ZeroPricePolicy) (originalPrice, discount *int) {
	if markup <= 0 || price < 0 {
		return nil, nil
	}

	if price == 0 {
		if policy == ZeroPriceZero {
			zero, zeroDiscount := 0, 0
			return &zero, &zeroDiscount
		}
		return nil, nil
	}

	listed := int(decimal.NewFromInt(int64(price)).
		Mul(decimal.NewFromFloat(markup)).
		Round(0).
		IntPart())

	diff := listed - price
	if diff < 0 {
		diff = 0
	}

	return &listed, &diff
}

// ApplyPricing sets OriginalPrice and Discount from Price.
func (p *ProductRecord) ApplyPricing(markup float64, policy ZeroPricePolicy) {
	p.OriginalPrice, p.Discount = DerivePricing(p.Price, markup, policy)
}
