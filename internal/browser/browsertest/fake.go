// Package browsertest provides an in-memory browser.Browser for tests.
package browsertest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/catalog-sync/internal/browser"
)

// Size is the natural size reported for an image URL.
type Size struct {
	Width  int
	Height int
}

// Site is the fake web the pages browse. Zero value is usable.
type Site struct {
	mu sync.Mutex

	// Pages maps an absolute URL to the HTML served for it.
	Pages map[string]string
	// Images maps image URLs to the dimensions the loader script reports.
	Images map[string]Size
	// NavigateHook runs before every navigation; a non-nil error fails it.
	NavigateHook func(url string) error
	// ClickHook lets a test react to form submission by returning the URL
	// the page lands on. An empty string leaves the page where it is.
	ClickHook func(page *Page, selector string) string
	// EvaluateHook replaces the default image loader emulation.
	EvaluateHook func(expression string, arg any) (any, error)

	opened     int
	closed     int
	navigated  []string
	evaluated  []any
	closedSelf bool
}

func NewSite() *Site {
	return &Site{
		Pages:  map[string]string{},
		Images: map[string]Size{},
	}
}

// Browser returns a browser.Browser backed by the site.
func (s *Site) Browser() *Browser {
	return &Browser{site: s}
}

// OpenPages is the number of pages opened and not yet closed.
func (s *Site) OpenPages() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened - s.closed
}

func (s *Site) Opened() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

// Navigations lists every URL navigated to, in order.
func (s *Site) Navigations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.navigated...)
}

// Evaluated lists the arguments passed to Evaluate, in order.
func (s *Site) Evaluated() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]any(nil), s.evaluated...)
}

// BrowserClosed reports whether Close was called on the browser.
func (s *Site) BrowserClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closedSelf
}

type Browser struct {
	site *Site
}

var _ browser.Browser = (*Browser)(nil)

func (b *Browser) NewPage() (browser.Page, error) {
	b.site.mu.Lock()
	b.site.opened++
	b.site.mu.Unlock()
	return &Page{site: b.site, Filled: map[string]string{}}, nil
}

func (b *Browser) Close() error {
	b.site.mu.Lock()
	b.site.closedSelf = true
	b.site.mu.Unlock()
	return nil
}

// Page is one fake tab.
type Page struct {
	site    *Site
	url     string
	html    string
	closed  bool
	Filled  map[string]string
	Clicked []string
}

var _ browser.Page = (*Page)(nil)

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.site.NavigateHook != nil {
		if err := p.site.NavigateHook(url); err != nil {
			return &browser.NavigationError{URL: url, Err: err}
		}
	}
	return p.load(url)
}

func (p *Page) load(url string) error {
	p.site.mu.Lock()
	defer p.site.mu.Unlock()

	p.site.navigated = append(p.site.navigated, url)
	html, ok := p.site.Pages[url]
	if !ok {
		return &browser.NavigationError{URL: url, Status: 404}
	}
	p.url = url
	p.html = html
	return nil
}

func (p *Page) Content() (string, error) {
	if p.closed {
		return "", fmt.Errorf("page closed")
	}
	return p.html, nil
}

// Evaluate emulates the image loader: a string argument is looked up in
// Site.Images and reported as {width, height}; unknown images fail to load.
func (p *Page) Evaluate(expression string, arg any) (any, error) {
	p.site.mu.Lock()
	p.site.evaluated = append(p.site.evaluated, arg)
	hook := p.site.EvaluateHook
	p.site.mu.Unlock()

	if hook != nil {
		return hook(expression, arg)
	}

	src, ok := arg.(string)
	if !ok {
		return nil, fmt.Errorf("unsupported evaluate argument %T", arg)
	}

	p.site.mu.Lock()
	size, known := p.site.Images[src]
	p.site.mu.Unlock()
	if !known {
		return map[string]any{"width": 0, "height": 0}, nil
	}
	return map[string]any{"width": float64(size.Width), "height": float64(size.Height)}, nil
}

func (p *Page) WaitForSelector(selector string, _ time.Duration) error {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(p.html))
	if err != nil {
		return err
	}
	if doc.Find(selector).Length() == 0 {
		return fmt.Errorf("timeout waiting for selector %q", selector)
	}
	return nil
}

func (p *Page) WaitForLoad() error {
	return nil
}

func (p *Page) Fill(selector, value string) error {
	p.Filled[selector] = value
	return nil
}

func (p *Page) Click(selector string) error {
	p.Clicked = append(p.Clicked, selector)
	if p.site.ClickHook == nil {
		return nil
	}
	if next := p.site.ClickHook(p, selector); next != "" {
		return p.load(next)
	}
	return nil
}

func (p *Page) URL() string {
	return p.url
}

func (p *Page) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	p.site.mu.Lock()
	p.site.closed++
	p.site.mu.Unlock()
	return nil
}
