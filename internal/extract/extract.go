// Package extract turns a supplier product page into a ProductRecord.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"

	"github.com/maltedev/catalog-sync/internal/browser"
	"github.com/maltedev/catalog-sync/internal/models"
)

// ErrNoName marks a page that rendered without a product title.
var ErrNoName = errors.New("product name not found")

type Selectors struct {
	Title            string
	SuggestedPrice   string
	Price            string
	SKU              string
	ShortDescription string
	LongDescription  string
	Brand            string
	OutOfStock       string
	Gallery          string
	MainImage        string
}

func DefaultSelectors() Selectors {
	return Selectors{
		Title:            "h1.product_title, h1.product-title, .product h1",
		SuggestedPrice:   ".suggested-price, .recommended-price, .rrp-price",
		Price:            ".summary .price ins .woocommerce-Price-amount, .summary .price .woocommerce-Price-amount, .product .price",
		SKU:              ".sku_wrapper .sku, .sku",
		ShortDescription: ".woocommerce-product-details__short-description, .short-description",
		LongDescription:  "#tab-description, .woocommerce-Tabs-panel--description, .product-description",
		Brand:            ".product-brand, .brand",
		OutOfStock:       ".stock.out-of-stock, .out-of-stock",
		Gallery:          ".woocommerce-product-gallery__image, .product-gallery, .gallery",
		MainImage:        "img.wp-post-image, .product-image img, .main-image img",
	}
}

// zoom and full-size attributes, most to least specific
var imageAttrs = []string{"data-zoom-image", "data-large_image", "data-full", "data-image", "data-src", "src"}

// Details are the raw fields read from one rendered product page.
type Details struct {
	Name        string
	Price       int
	HasPrice    bool
	SKU         string
	Description string
	Brand       string
	OutOfStock  bool
	Images      []string
}

// ImageFilter keeps the candidate images worth storing, best first.
type ImageFilter interface {
	FilterByResolution(ctx context.Context, page browser.Page, urls []string) []string
}

type Options struct {
	SettleDelay     time.Duration
	DefaultBrand    string
	DefaultStock    int
	MarkupFactor    float64
	ZeroPricePolicy models.ZeroPricePolicy
}

type Extractor struct {
	browser   browser.Browser
	images    ImageFilter
	opts      Options
	Selectors Selectors
	logger    *slog.Logger
}

func New(b browser.Browser, images ImageFilter, opts Options, logger *slog.Logger) *Extractor {
	if opts.DefaultStock <= 0 {
		opts.DefaultStock = models.DefaultStock
	}
	if opts.ZeroPricePolicy == "" {
		opts.ZeroPricePolicy = models.ZeroPriceNull
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		browser:   b,
		images:    images,
		opts:      opts,
		Selectors: DefaultSelectors(),
		logger:    logger.With("component", "extractor"),
	}
}

// Extract loads detailURL in its own page and reads the product. The page
// is closed on every return path.
func (e *Extractor) Extract(ctx context.Context, detailURL string) (*models.ProductRecord, error) {
	page, err := e.browser.NewPage()
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	defer page.Close()

	if err := page.Navigate(ctx, detailURL); err != nil {
		return nil, err
	}
	if err := sleep(ctx, e.opts.SettleDelay); err != nil {
		return nil, err
	}

	html, err := page.Content()
	if err != nil {
		return nil, fmt.Errorf("read page content: %w", err)
	}

	details, err := Parse(html, detailURL, e.Selectors)
	if err != nil {
		return nil, err
	}

	record := models.NewProductRecord(detailURL)
	record.Name = details.Name
	record.SKU = details.SKU
	record.Description = details.Description
	record.Price = details.Price
	record.Brand = details.Brand
	if record.Brand == "" {
		record.Brand = e.opts.DefaultBrand
	}
	record.Stock = e.opts.DefaultStock
	if details.OutOfStock {
		record.Stock = 0
		record.InStock = false
	}
	if !details.HasPrice {
		e.logger.Warn("no price found", "url", detailURL, "name", details.Name)
	}

	if e.images != nil && len(details.Images) > 0 {
		record.Images = e.images.FilterByResolution(ctx, page, details.Images)
	}
	record.ApplyPricing(e.opts.MarkupFactor, e.opts.ZeroPricePolicy)

	e.logger.Debug("product extracted",
		"name", record.Name,
		"sku", record.SKU,
		"price", record.Price,
		"candidates", len(details.Images),
		"images", len(record.Images))

	return record, nil
}

// Parse reads product details from rendered HTML. Relative image links
// resolve against pageURL.
func Parse(html, pageURL string, sel Selectors) (*Details, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse product html: %w", err)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse product url: %w", err)
	}

	ld, hasLD := findStructuredProduct(doc)
	if !hasLD {
		ld = &structuredProduct{}
	}

	d := &Details{}

	d.Name = firstNonEmpty(
		text(doc.Find(sel.Title)),
		metaContent(doc, `meta[property="og:title"]`),
		ld.Name,
	)
	if d.Name == "" {
		return nil, ErrNoName
	}

	d.Price, d.HasPrice = findPrice(doc, sel, ld)

	d.SKU = firstNonEmpty(
		cleanSKU(text(doc.Find(sel.SKU))),
		cleanSKU(itemprop(doc, "sku")),
		ld.SKU,
	)

	d.Description = firstNonEmpty(
		longDescription(doc.Find(sel.LongDescription)),
		text(doc.Find(sel.ShortDescription)),
		ld.Description,
	)

	d.Brand = firstNonEmpty(
		itemprop(doc, "brand"),
		text(doc.Find(sel.Brand)),
		ld.Brand,
	)

	d.OutOfStock = doc.Find(sel.OutOfStock).Length() > 0 ||
		strings.Contains(ld.Availability, "OutOfStock") ||
		strings.Contains(attr(doc.Find(`[itemprop="availability"]`), "href"), "OutOfStock")

	d.Images = collectImages(doc, base, sel, ld.Images)
	return d, nil
}

func findPrice(doc *goquery.Document, sel Selectors, ld *structuredProduct) (int, bool) {
	for _, candidate := range []string{
		firstMatch(doc, sel.SuggestedPrice),
		firstMatch(doc, sel.Price),
		metaContent(doc, `meta[property="product:price:amount"]`),
		itemprop(doc, "price"),
	} {
		if candidate == "" {
			continue
		}
		if price, err := ParsePrice(candidate); err == nil {
			return price, true
		}
	}

	// JSON-LD prices are machine formatted with a "." decimal point.
	if ld.Price != "" {
		if amount, err := decimal.NewFromString(ld.Price); err == nil {
			return int(amount.Round(0).IntPart()), true
		}
	}
	return 0, false
}

func collectImages(doc *goquery.Document, base *url.URL, sel Selectors, structured []string) []string {
	var raw []string

	addAttrs := func(s *goquery.Selection) {
		for _, name := range imageAttrs {
			if v, ok := s.Attr(name); ok {
				raw = append(raw, v)
			}
		}
		if srcset, ok := s.Attr("srcset"); ok {
			raw = append(raw, parseSrcset(srcset)...)
		}
		if srcset, ok := s.Attr("data-srcset"); ok {
			raw = append(raw, parseSrcset(srcset)...)
		}
	}

	doc.Find("[data-zoom-image], [data-large_image], [data-full], [data-image]").Each(func(_ int, s *goquery.Selection) {
		addAttrs(s)
	})

	doc.Find(sel.Gallery).Each(func(_ int, gallery *goquery.Selection) {
		addAttrs(gallery)
		gallery.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
			if href, _ := a.Attr("href"); looksLikeImage(href) {
				raw = append(raw, href)
			}
		})
		gallery.Find("img").Each(func(_ int, img *goquery.Selection) {
			addAttrs(img)
		})
	})

	doc.Find(sel.MainImage).Each(func(_ int, img *goquery.Selection) {
		addAttrs(img)
	})

	if og := metaContent(doc, `meta[property="og:image"]`); og != "" {
		raw = append(raw, og)
	}
	raw = append(raw, structured...)

	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, candidate := range raw {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" || strings.HasPrefix(candidate, "data:") {
			continue
		}
		ref, err := url.Parse(candidate)
		if err != nil {
			continue
		}
		abs := base.ResolveReference(ref).String()
		if _, dup := seen[abs]; dup {
			continue
		}
		seen[abs] = struct{}{}
		out = append(out, abs)
	}
	return out
}

func parseSrcset(srcset string) []string {
	var out []string
	for _, entry := range strings.Split(srcset, ",") {
		fields := strings.Fields(entry)
		if len(fields) > 0 {
			out = append(out, fields[0])
		}
	}
	return out
}

func looksLikeImage(href string) bool {
	u, err := url.Parse(href)
	if err != nil {
		return false
	}
	path := strings.ToLower(u.Path)
	for _, ext := range []string{".jpg", ".jpeg", ".png", ".webp", ".gif", ".avif"} {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

func longDescription(s *goquery.Selection) string {
	if s.Length() == 0 {
		return ""
	}
	panel := s.First().Clone()
	panel.Find("h2").First().Remove()
	return cleanText(panel.Text())
}

// WooCommerce prints "N/A" when a product has no SKU.
func cleanSKU(s string) string {
	if strings.EqualFold(s, "n/a") {
		return ""
	}
	return s
}

func itemprop(doc *goquery.Document, name string) string {
	s := doc.Find(`[itemprop="` + name + `"]`).First()
	if s.Length() == 0 {
		return ""
	}
	if v, ok := s.Attr("content"); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return cleanText(s.Text())
}

func metaContent(doc *goquery.Document, selector string) string {
	return strings.TrimSpace(attr(doc.Find(selector), "content"))
}

func attr(s *goquery.Selection, name string) string {
	v, _ := s.First().Attr(name)
	return v
}

func text(s *goquery.Selection) string {
	return cleanText(s.First().Text())
}

// firstMatch tries each comma-separated alternative of selector in the
// order written and returns the text of the first one that matches.
func firstMatch(doc *goquery.Document, selector string) string {
	for _, alt := range strings.Split(selector, ",") {
		alt = strings.TrimSpace(alt)
		if alt == "" {
			continue
		}
		if v := text(doc.Find(alt)); v != "" {
			return v
		}
	}
	return ""
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
