// Package imagecheck measures candidate product images inside a live page
// and keeps the ones large enough for the catalog.
package imagecheck

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"

	"github.com/maltedev/catalog-sync/internal/browser"
)

const (
	// BatchSize bounds concurrent image loads in one page.
	BatchSize      = 3
	DefaultTimeout = 5 * time.Second
	cacheTTL       = time.Hour
)

// The script never rejects: load errors and timeouts report 0x0.
const loaderScript = `(src) => new Promise((resolve) => {
	const img = new Image();
	const timer = setTimeout(() => resolve({ width: 0, height: 0 }), %d);
	img.onload = () => {
		clearTimeout(timer);
		resolve({ width: img.naturalWidth, height: img.naturalHeight });
	};
	img.onerror = () => {
		clearTimeout(timer);
		resolve({ width: 0, height: 0 });
	};
	img.src = src;
})`

type Result struct {
	URL     string `json:"url"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	IsValid bool   `json:"isValid"`
}

func (r Result) Area() int {
	return r.Width * r.Height
}

type Validator struct {
	MinWidth  int
	MinHeight int
	script    string
	cache     *expirable.LRU[string, Result]
	logger    *slog.Logger
}

// New builds a validator. A cacheSize below 1 disables the dimension cache.
func New(minWidth, minHeight int, timeout time.Duration, cacheSize int, logger *slog.Logger) *Validator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	v := &Validator{
		MinWidth:  minWidth,
		MinHeight: minHeight,
		script:    fmt.Sprintf(loaderScript, timeout.Milliseconds()),
		logger:    logger.With("component", "imagecheck"),
	}
	if cacheSize > 0 {
		v.cache = expirable.NewLRU[string, Result](cacheSize, nil, cacheTTL)
	}
	return v
}

// Check loads url in the page and reports its natural size. It never
// fails: anything that prevents measuring counts as an invalid 0x0 image.
func (v *Validator) Check(ctx context.Context, page browser.Page, url string) Result {
	if v.cache != nil {
		if cached, ok := v.cache.Get(url); ok {
			return v.judge(cached)
		}
	}

	res := Result{URL: url}
	if ctx.Err() != nil {
		return res
	}

	raw, err := page.Evaluate(v.script, url)
	if err != nil {
		v.logger.Debug("image check failed", "url", url, "error", err)
		return res
	}

	dims, ok := raw.(map[string]any)
	if !ok {
		return res
	}
	res.Width = toInt(dims["width"])
	res.Height = toInt(dims["height"])

	if v.cache != nil && res.Area() > 0 {
		v.cache.Add(url, res)
	}
	return v.judge(res)
}

func (v *Validator) judge(r Result) Result {
	r.IsValid = r.Width >= v.MinWidth && r.Height >= v.MinHeight && r.Area() > 0
	return r
}

// FilterByResolution de-duplicates urls, measures them in batches of
// BatchSize and returns the valid ones, largest area first. Ties keep
// their first-seen order.
func (v *Validator) FilterByResolution(ctx context.Context, page browser.Page, urls []string) []string {
	unique := dedupe(urls)
	results := make([]Result, len(unique))

	for start := 0; start < len(unique); start += BatchSize {
		end := min(start+BatchSize, len(unique))

		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				results[i] = v.Check(ctx, page, unique[i])
				return nil
			})
		}
		_ = g.Wait()
	}

	valid := make([]Result, 0, len(results))
	for _, r := range results {
		if r.IsValid {
			valid = append(valid, r)
		} else {
			v.logger.Debug("image rejected", "url", r.URL, "width", r.Width, "height", r.Height)
		}
	}

	slices.SortStableFunc(valid, func(a, b Result) int {
		return b.Area() - a.Area()
	})

	out := make([]string, len(valid))
	for i, r := range valid {
		out[i] = r.URL
	}

	v.logger.Debug("images filtered", "candidates", len(unique), "kept", len(out))
	return out
}

func dedupe(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

// Evaluate results come back as float64 from the JSON bridge, but int is
// accepted too.
func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0
		}
		return int(n)
	default:
		return 0
	}
}
