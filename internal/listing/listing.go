// Package listing walks the supplier's paginated catalog and collects
// product stubs.
package listing

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/catalog-sync/internal/browser"
	"github.com/maltedev/catalog-sync/internal/models"
	"github.com/maltedev/catalog-sync/internal/ratelimit"
)

const PagePlaceholder = "{page}"

type Selectors struct {
	Item string
	Link string
	Name string
	Next string
}

func DefaultSelectors() Selectors {
	return Selectors{
		Item: "ul.products li.product",
		Link: "a.woocommerce-LoopProduct-link, a[href]",
		Name: ".woocommerce-loop-product__title, h2, h3",
		Next: "a.next.page-numbers, a.next, a[rel=next]",
	}
}

type Config struct {
	BaseURL string
	// ListingURL may carry a {page} placeholder. Without one the page
	// number goes into the "page" query parameter.
	ListingURL  string
	StartPage   int
	MaxPages    int
	WaitTimeout time.Duration
}

// Listing is one parsed catalog page.
type Listing struct {
	Page    int
	URL     string
	Stubs   []models.Stub
	HasNext bool
}

// Error aborts the walk. Products collected from earlier pages stay valid.
type Error struct {
	Page int
	URL  string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("listing page %d (%s): %v", e.Page, e.URL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Paginator struct {
	cfg       Config
	Selectors Selectors
	limiter   ratelimit.RateLimiter
	logger    *slog.Logger
}

func NewPaginator(cfg Config, limiter ratelimit.RateLimiter, logger *slog.Logger) *Paginator {
	if cfg.StartPage < 1 {
		cfg.StartPage = 1
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Paginator{
		cfg:       cfg,
		Selectors: DefaultSelectors(),
		limiter:   limiter,
		logger:    logger.With("component", "paginator"),
	}
}

// URLFor returns the listing URL of page n.
func (p *Paginator) URLFor(n int) string {
	raw := p.cfg.ListingURL
	if raw == "" {
		raw = p.cfg.BaseURL
	}
	if strings.Contains(raw, PagePlaceholder) {
		return strings.ReplaceAll(raw, PagePlaceholder, strconv.Itoa(n))
	}

	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(n))
	u.RawQuery = q.Encode()
	return u.String()
}

// Fetch navigates page to listing page n and parses it. A page without
// listing items is not an error; it yields no stubs.
func (p *Paginator) Fetch(ctx context.Context, page browser.Page, n int) (*Listing, error) {
	target := p.URLFor(n)

	if err := page.Navigate(ctx, target); err != nil {
		return nil, &Error{Page: n, URL: target, Err: err}
	}
	if err := page.WaitForSelector(p.Selectors.Item, p.cfg.WaitTimeout); err != nil {
		p.logger.Debug("no listing items appeared", "page", n, "error", err)
	}

	html, err := page.Content()
	if err != nil {
		return nil, &Error{Page: n, URL: target, Err: err}
	}

	listing, err := Parse(html, target, p.Selectors)
	if err != nil {
		return nil, &Error{Page: n, URL: target, Err: err}
	}
	listing.Page = n
	return listing, nil
}

// Walk visits listing pages from StartPage until MaxPages, a page without
// a next control, an error, or fn returning an error. The page limiter is
// not consulted before the first page. It returns how many pages were
// fetched successfully.
func (p *Paginator) Walk(ctx context.Context, page browser.Page, fn func(*Listing) error) (int, error) {
	visited := 0

	for n := p.cfg.StartPage; n <= p.cfg.MaxPages; n++ {
		if n != p.cfg.StartPage && p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return visited, err
			}
		}

		p.logger.Info("processing listing page", "page", n, "max_pages", p.cfg.MaxPages)

		listing, err := p.Fetch(ctx, page, n)
		if err != nil {
			return visited, err
		}
		visited++

		p.logger.Info("listing page parsed", "page", n, "stubs", len(listing.Stubs), "has_next", listing.HasNext)

		if err := fn(listing); err != nil {
			return visited, err
		}
		if !listing.HasNext {
			break
		}
	}

	return visited, nil
}

// Parse extracts stubs from listing HTML. Relative links resolve against
// pageURL; items without a link and repeated links are dropped.
func Parse(html, pageURL string, sel Selectors) (*Listing, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse listing html: %w", err)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse listing url: %w", err)
	}

	listing := &Listing{URL: pageURL, Stubs: make([]models.Stub, 0)}
	seen := make(map[string]struct{})

	doc.Find(sel.Item).Each(func(_ int, item *goquery.Selection) {
		link := item.Find(sel.Link).First()
		if link.Length() == 0 && goquery.NodeName(item) == "a" {
			link = item
		}
		href, _ := link.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}

		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		detail := base.ResolveReference(ref).String()
		if _, dup := seen[detail]; dup {
			return
		}
		seen[detail] = struct{}{}

		name := cleanText(item.Find(sel.Name).First().Text())
		if name == "" {
			name = cleanText(link.Text())
		}

		listing.Stubs = append(listing.Stubs, models.Stub{Name: name, DetailURL: detail})
	})

	listing.HasNext = doc.Find(sel.Next).Length() > 0
	return listing, nil
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
