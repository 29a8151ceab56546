package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

var ErrImageTooLarge = errors.New("image exceeds size limit")

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
	"image/avif": ".avif",
}

// Downloader saves product images under Dir and returns their public path.
type Downloader struct {
	client       *resty.Client
	Dir          string
	PublicPrefix string
	MaxSize      int64
	now          func() time.Time
	logger       *slog.Logger
}

func NewDownloader(dir, publicPrefix string, maxSize int64, timeout time.Duration, logger *slog.Logger) *Downloader {
	if logger == nil {
		logger = slog.Default()
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "image/avif,image/webp,image/png,image/jpeg,image/*;q=0.8").
		SetRetryCount(0)

	return &Downloader{
		client:       client,
		Dir:          dir,
		PublicPrefix: strings.TrimRight(publicPrefix, "/"),
		MaxSize:      maxSize,
		now:          time.Now,
		logger:       logger.With("component", "downloader"),
	}
}

// Download fetches rawURL and writes it as <sku|product>-<index>-<unixmillis><ext>.
func (d *Downloader) Download(ctx context.Context, sku string, index int, rawURL string) (string, error) {
	resp, err := d.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(rawURL)
	if err != nil {
		return "", fmt.Errorf("fetch image: %w", err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() >= 400 {
		return "", fmt.Errorf("fetch image: http status %d", resp.StatusCode())
	}

	contentType := resp.Header().Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "image/") {
		return "", fmt.Errorf("fetch image: unexpected content type %q", contentType)
	}
	if d.MaxSize > 0 && resp.RawResponse.ContentLength > d.MaxSize {
		return "", ErrImageTooLarge
	}

	reader := io.Reader(body)
	if d.MaxSize > 0 {
		reader = io.LimitReader(body, d.MaxSize+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	if d.MaxSize > 0 && int64(len(data)) > d.MaxSize {
		return "", ErrImageTooLarge
	}

	name := d.filename(sku, index, rawURL, contentType)
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create image directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(d.Dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}

	d.logger.Debug("image downloaded", "url", rawURL, "file", name, "bytes", len(data))
	return d.PublicPrefix + "/" + name, nil
}

func (d *Downloader) filename(sku string, index int, rawURL, contentType string) string {
	base := unsafeName.ReplaceAllString(sku, "_")
	if base == "" || base == "_" {
		base = "product"
	}
	return fmt.Sprintf("%s-%d-%d%s", base, index, d.now().UnixMilli(), extension(rawURL, contentType))
}

func extension(rawURL, contentType string) string {
	if u, err := url.Parse(rawURL); err == nil {
		ext := strings.ToLower(path.Ext(u.Path))
		if ext == ".jpeg" {
			return ".jpg"
		}
		for _, known := range imageExtensions {
			if ext == known {
				return ext
			}
		}
	}
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		if ext, ok := imageExtensions[mediaType]; ok {
			return ext
		}
	}
	return ".jpg"
}
