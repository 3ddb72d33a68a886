// Package fetch streams node archives from their download URLs with retries,
// DNS caching and per-host circuit breaking.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"

	"github.com/cenk/backoff"
	"github.com/rs/dnscache"

	"github.com/git-pkgs/comfyregistry/client"
)

var (
	ErrNotFound     = errors.New("archive not found")
	ErrRateLimited  = errors.New("rate limited by upstream")
	ErrUpstreamDown = errors.New("upstream storage unavailable")
)

// Archive is a node version archive. Body is nil for Stat results.
type Archive struct {
	Body        io.ReadCloser
	Size        int64 // -1 if unknown
	ContentType string
	ETag        string
	Filename    string
}

// Downloader is implemented by Fetcher and CircuitBreakerFetcher.
type Downloader interface {
	Fetch(ctx context.Context, url string) (*Archive, error)
	Stat(ctx context.Context, url string) (*Archive, error)
}

// Fetcher downloads archives.
type Fetcher struct {
	client     *http.Client
	resolver   *dnscache.Resolver
	userAgent  string
	maxRetries int
	baseDelay  time.Duration
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the DNS-caching client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		f.client = c
	}
}

// WithDNSResolver shares a DNS cache between fetchers.
func WithDNSResolver(r *dnscache.Resolver) Option {
	return func(f *Fetcher) {
		f.resolver = r
	}
}

func WithUserAgent(ua string) Option {
	return func(f *Fetcher) {
		f.userAgent = ua
	}
}

func WithMaxRetries(n int) Option {
	return func(f *Fetcher) {
		f.maxRetries = n
	}
}

// WithBaseDelay sets the first retry interval.
func WithBaseDelay(d time.Duration) Option {
	return func(f *Fetcher) {
		f.baseDelay = d
	}
}

// NewFetcher creates a Fetcher. Unless WithHTTPClient is given, requests go
// through a transport backed by the fetcher's DNS cache; keep it fresh with
// client.RefreshDNS(ctx, f.Resolver(), interval).
func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{
		userAgent:  "comfyregistry",
		maxRetries: 3,
		baseDelay:  500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.resolver == nil {
		f.resolver = &dnscache.Resolver{}
	}
	if f.client == nil {
		f.client = &http.Client{
			Timeout:   5 * time.Minute, // archives can be large
			Transport: client.NewCachingTransport(f.resolver),
		}
	}
	return f
}

// Resolver returns the DNS cache used by the default transport.
func (f *Fetcher) Resolver() *dnscache.Resolver {
	return f.resolver
}

func (f *Fetcher) newBackOff() backoff.BackOff {
	if f.maxRetries <= 0 {
		return &backoff.StopBackOff{}
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = f.baseDelay
	exp.RandomizationFactor = 0.1
	exp.MaxElapsedTime = 0
	exp.Reset()
	return backoff.WithMaxRetries(exp, uint64(f.maxRetries))
}

// Fetch downloads the archive at url. Rate limits and server errors are
// retried. The caller must close Archive.Body.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Archive, error) {
	b := f.newBackOff()

	for {
		archive, err := f.do(ctx, http.MethodGet, url)
		if err == nil {
			return archive, nil
		}
		if !errors.Is(err, ErrRateLimited) && !errors.Is(err, ErrUpstreamDown) {
			return nil, err
		}

		delay := b.NextBackOff()
		if delay == backoff.Stop {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// Stat returns archive metadata without downloading it.
func (f *Fetcher) Stat(ctx context.Context, url string) (*Archive, error) {
	return f.do(ctx, http.MethodHead, url)
}

func (f *Fetcher) do(ctx context.Context, method, rawURL string) (*Archive, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "*/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching archive: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		a := &Archive{
			Size:        contentLength(resp.Header.Get("Content-Length")),
			ContentType: resp.Header.Get("Content-Type"),
			ETag:        resp.Header.Get("ETag"),
			Filename:    filename(resp.Header.Get("Content-Disposition"), rawURL),
		}
		if method == http.MethodHead {
			_ = resp.Body.Close()
		} else {
			a.Body = resp.Body
		}
		return a, nil

	case resp.StatusCode == http.StatusNotFound:
		_ = resp.Body.Close()
		return nil, ErrNotFound

	case resp.StatusCode == http.StatusTooManyRequests:
		_ = resp.Body.Close()
		return nil, ErrRateLimited

	case resp.StatusCode >= 500:
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d", ErrUpstreamDown, resp.StatusCode)

	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
}

func contentLength(v string) int64 {
	if v == "" {
		return -1
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return -1
	}
	return n
}

// filename prefers the Content-Disposition filename and falls back to the
// last path segment of the URL.
func filename(disposition, rawURL string) string {
	if disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil && params["filename"] != "" {
			return path.Base(params["filename"])
		}
	}
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		if base := path.Base(u.Path); base != "/" && base != "." {
			return base
		}
	}
	return ""
}
