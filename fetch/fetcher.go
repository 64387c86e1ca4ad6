// Package fetch provides the remote-fetch capability consumed by the sync
// engine: a retrying HTTP fetcher with response caching and per-host circuit
// breaking.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/dnscache"
)

var (
	ErrNotFound     = errors.New("resource not found")
	ErrRateLimited  = errors.New("rate limited by upstream")
	ErrUpstreamDown = errors.New("upstream repository unavailable")
)

// maxResponseBytes bounds catalog and metadata responses (16 MB). Catalogs
// are JSON documents, not artifacts; anything larger is a broken upstream.
const maxResponseBytes = 16 << 20

// Capability is the abstract fetch dependency consumed by the sync engine.
// When useCache is set, a previously fetched response may be served without
// a remote call.
type Capability interface {
	Fetch(ctx context.Context, url string, useCache bool) ([]byte, error)
}

// Fetcher downloads catalog and metadata documents from remote repositories.
type Fetcher struct {
	client     *http.Client
	userAgent  string
	maxRetries int
	baseDelay  time.Duration
	cacheTTL   time.Duration

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	data    []byte
	expires time.Time
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		f.client = c
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) {
		f.userAgent = ua
	}
}

// WithMaxRetries sets the maximum retry attempts.
func WithMaxRetries(n int) Option {
	return func(f *Fetcher) {
		f.maxRetries = n
	}
}

// WithBaseDelay sets the base delay for exponential backoff.
func WithBaseDelay(d time.Duration) Option {
	return func(f *Fetcher) {
		f.baseDelay = d
	}
}

// WithCacheTTL sets how long cached responses stay valid.
func WithCacheTTL(d time.Duration) Option {
	return func(f *Fetcher) {
		f.cacheTTL = d
	}
}

// NewFetcher creates a new Fetcher with the given options.
func NewFetcher(opts ...Option) *Fetcher {
	// Create DNS cache with 5 minute refresh interval
	resolver := &dnscache.Resolver{}
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			resolver.Refresh(true)
		}
	}()

	// Create custom dialer with DNS caching
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	f := &Fetcher{
		client: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
					host, port, err := net.SplitHostPort(addr)
					if err != nil {
						return nil, err
					}
					ips, err := resolver.LookupHost(ctx, host)
					if err != nil {
						return nil, err
					}
					for _, ip := range ips {
						conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
						if err == nil {
							return conn, nil
						}
					}
					return nil, fmt.Errorf("failed to dial any resolved IP")
				},
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   10,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
			},
		},
		userAgent:  "repocache/1.0",
		maxRetries: 3,
		baseDelay:  500 * time.Millisecond,
		cacheTTL:   5 * time.Minute,
		cache:      make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch downloads the document at url. With useCache set, a cached response
// younger than the cache TTL is returned without a remote call. Successful
// responses always refresh the cache.
func (f *Fetcher) Fetch(ctx context.Context, url string, useCache bool) ([]byte, error) {
	if useCache {
		if data, ok := f.cached(url); ok {
			return data, nil
		}
	}

	var lastErr error

	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff with 10% jitter to prevent thundering herd
			delay := f.baseDelay * time.Duration(math.Pow(2, float64(attempt-1)))
			jitter := time.Duration(float64(delay) * (rand.Float64() * 0.1))
			delay += jitter

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		data, err := f.doFetch(ctx, url)
		if err == nil {
			f.storeCache(url, data)
			return data, nil
		}

		lastErr = err

		// Don't retry on not found or client errors
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}

		// Retry on rate limit and server errors
		if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamDown) {
			continue
		}

		// Don't retry on other errors (network issues will be wrapped)
		return nil, err
	}

	return nil, lastErr
}

func (f *Fetcher) cached(url string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.cache[url]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expires) {
		delete(f.cache, url)
		return nil, false
	}
	return entry.data, true
}

func (f *Fetcher) storeCache(url string, data []byte) {
	if f.cacheTTL <= 0 {
		return
	}
	f.mu.Lock()
	f.cache[url] = cacheEntry{data: data, expires: time.Now().Add(f.cacheTTL)}
	f.mu.Unlock()
}

func (f *Fetcher) doFetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching document: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, fmt.Errorf("reading response: %w", err)
		}
		return data, nil

	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound

	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited

	case resp.StatusCode >= 500:
		return nil, ErrUpstreamDown

	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
}
