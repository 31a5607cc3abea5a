package trust

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Fetcher is the network capability the stores are polymorphic over
// (spec.md §9 Polymorphism): an HTTP GET that returns status and body
// bytes, nothing more.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (status int, body []byte, err error)
}

// HTTPFetcher is the production Fetcher, backed directly by net/http —
// the same choice Jointeg-ubirch-cose-client-go and dc4eu-vc make for their
// own outbound calls, rather than wrapping a third-party HTTP client for a
// plain GET.
type HTTPFetcher struct {
	Client *http.Client
}

// NewHTTPFetcher returns an HTTPFetcher using client, or http.DefaultClient
// if nil.
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{Client: client}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("trust: build request: %w", err)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("trust: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("trust: read body of %s: %w", url, err)
	}
	return resp.StatusCode, body, nil
}

type fetchResult struct {
	status int
	body   []byte
}

// CachingFetcher wraps a Fetcher with a short-lived response cache keyed by
// URL, following dc4eu-vc's pkg/trust/cache.go pattern of layering a
// github.com/jellydator/ttlcache/v3 instance over otherwise-repeated remote
// lookups. Unlike the stores' own freshness windows (which must keep
// serving a stale bundle until a refresh succeeds), an HTTP response cache
// has no such requirement — an expired entry should simply disappear and
// force a real fetch, which is exactly what ttlcache's own TTL eviction
// gives for free. This absorbs the case where TrustStore, BusinessRulesStore,
// and ValueSetStore refresh in close succession and happen to share a
// distribution endpoint.
type CachingFetcher struct {
	next  Fetcher
	cache *ttlcache.Cache[string, fetchResult]
}

// NewCachingFetcher wraps next with a response cache holding each URL's
// result for ttl.
func NewCachingFetcher(next Fetcher, ttl time.Duration) *CachingFetcher {
	cache := ttlcache.New(ttlcache.WithTTL[string, fetchResult](ttl))
	go cache.Start()
	return &CachingFetcher{next: next, cache: cache}
}

func (f *CachingFetcher) Fetch(ctx context.Context, url string) (int, []byte, error) {
	if item := f.cache.Get(url); item != nil {
		r := item.Value()
		return r.status, r.body, nil
	}

	status, body, err := f.next.Fetch(ctx, url)
	if err != nil {
		return status, body, err
	}
	f.cache.Set(url, fetchResult{status: status, body: body}, ttlcache.DefaultTTL)
	return status, body, nil
}

// Stop releases the cache's background eviction goroutine.
func (f *CachingFetcher) Stop() {
	f.cache.Stop()
}
