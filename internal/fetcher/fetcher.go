// Package fetcher handles downloading remote Surge rule lists.
package fetcher

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/xxxbrian/surge-qx/internal/cache"
	"github.com/xxxbrian/surge-qx/internal/errors"
	"github.com/xxxbrian/surge-qx/internal/logging"
)

const (
	DefaultUserAgent = "Surge-QX-Go/1.0"
	DefaultTimeout   = 60 * time.Second
)

// Fetcher downloads rule lists and keeps them in an UpstreamCache.
type Fetcher struct {
	client    *http.Client
	cache     *cache.UpstreamCache
	userAgent string
	logger    zerolog.Logger
}

// NewFetcher creates a new Fetcher. Zero timeout or empty user agent fall back to defaults.
func NewFetcher(upstream *cache.UpstreamCache, timeout time.Duration, userAgent string) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: timeout,
		},
		cache:     upstream,
		userAgent: userAgent,
		logger:    logging.GetLogger("fetcher"),
	}
}

// ResourceURL strips the option fragment from link.
func ResourceURL(link string) string {
	if idx := strings.Index(link, "#"); idx != -1 {
		return link[:idx]
	}
	return link
}

// GetETag fetches the ETag of url without downloading the body.
func (f *Fetcher) GetETag(ctx context.Context, url string) (string, error) {
	req, err := f.newRequest(ctx, http.MethodHead, url)
	if err != nil {
		return "", err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.Newf(errors.ErrFetch, "HEAD request failed: %s", resp.Status).WithDetail("url", url)
	}

	return cleanETag(resp.Header.Get("ETag")), nil
}

// Fetch returns the body of the rule list behind link, from cache when fresh.
func (f *Fetcher) Fetch(ctx context.Context, link string) (string, string, error) {
	url := ResourceURL(link)
	defer f.cache.MarkUsed(url)
	if data, etag, ok := f.cache.Get(url); ok {
		return string(data), etag, nil
	}
	return f.revalidate(ctx, url)
}

// Refresh checks upstream for updates regardless of TTL.
func (f *Fetcher) Refresh(ctx context.Context, link string) (string, string, error) {
	return f.revalidate(ctx, ResourceURL(link))
}

// RefreshAll revalidates every cached list and returns how many changed.
func (f *Fetcher) RefreshAll(ctx context.Context) int {
	changed := 0
	for _, url := range f.cache.URLs() {
		before := f.cache.GetETag(url)
		_, after, err := f.revalidate(ctx, url)
		if err != nil {
			f.logger.Warn().Err(err).Str("url", url).Msg("Refresh failed")
			continue
		}
		if after != "" && after != before {
			changed++
		}
	}
	return changed
}

func (f *Fetcher) revalidate(ctx context.Context, url string) (string, string, error) {
	cached, etag, _ := f.cache.GetAny(url)

	newETag, err := f.GetETag(ctx, url)
	if err != nil {
		// If we have cached data, use it even if the ETag check failed
		if cached != nil {
			f.logger.Debug().Err(err).Str("url", url).Msg("ETag check failed, serving cached list")
			return string(cached), etag, nil
		}
		f.logger.Debug().Err(err).Str("url", url).Msg("ETag check failed, downloading")
	}

	if cached != nil && newETag != "" && newETag == etag {
		f.cache.Touch(url)
		return string(cached), etag, nil
	}

	data, respETag, err := f.download(ctx, url)
	if err != nil {
		if cached != nil {
			return string(cached), etag, nil
		}
		return "", "", err
	}
	if respETag != "" {
		newETag = respETag
	}

	if err := f.cache.Set(url, data, newETag); err != nil {
		f.logger.Warn().Err(err).Str("url", url).Msg("Failed to persist upstream cache")
	}
	f.logger.Info().Str("url", url).Int("bytes", len(data)).Str("etag", newETag).Msg("Downloaded rule list")
	return string(data), newETag, nil
}

func (f *Fetcher) download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := f.newRequest(ctx, http.MethodGet, url)
	if err != nil {
		return nil, "", err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", errors.Wrap(err, errors.ErrFetch, "download failed").WithDetail("url", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", errors.Newf(errors.ErrFetch, "download failed: %s", resp.Status).WithDetail("url", url)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", errors.Wrap(err, errors.ErrFetch, "failed to read response").WithDetail("url", url)
	}

	return data, cleanETag(resp.Header.Get("ETag")), nil
}

func (f *Fetcher) newRequest(ctx context.Context, method, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrFetch, "invalid rule list URL").WithDetail("url", url)
	}
	req.Header.Set("User-Agent", f.userAgent)
	return req, nil
}

// cleanETag removes quotes and the weak W/ prefix.
func cleanETag(etag string) string {
	etag = strings.ReplaceAll(etag, "\"", "")
	return strings.TrimPrefix(etag, "W/")
}
