package jwks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/tokenforge/bearerauth/internal/oidc"
)

// DiscoveringFetcher resolves the key-set endpoint from the issuer's
// well-known discovery document on first use, then behaves like a Fetcher.
// Used when no key-set endpoint URL is configured explicitly.
type DiscoveringFetcher struct {
	issuerURL   string
	client      *http.Client
	fetcherOpts []FetcherOption

	mu      sync.Mutex
	fetcher *Fetcher
}

// NewDiscoveringFetcher builds a fetcher that discovers its endpoint from
// the issuer URL. The fetcher options are applied to the underlying Fetcher
// once the endpoint is known; the HTTP client is shared with discovery.
func NewDiscoveringFetcher(issuerURL string, client *http.Client, opts ...FetcherOption) (*DiscoveringFetcher, error) {
	if issuerURL == "" {
		return nil, errors.New("issuer URL is required but was empty")
	}
	if client == nil {
		client = &http.Client{Timeout: DefaultRequestTimeout}
	}
	return &DiscoveringFetcher{
		issuerURL:   issuerURL,
		client:      client,
		fetcherOpts: opts,
	}, nil
}

// Fetch resolves the endpoint if needed and delegates to the underlying
// Fetcher. Discovery failures are retried on the next call rather than
// cached.
func (d *DiscoveringFetcher) Fetch(ctx context.Context) (jwk.Set, error) {
	f, err := d.resolve(ctx)
	if err != nil {
		return nil, err
	}
	return f.Fetch(ctx)
}

func (d *DiscoveringFetcher) resolve(ctx context.Context) (*Fetcher, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.fetcher != nil {
		return d.fetcher, nil
	}

	dctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	doc, err := oidc.Discover(dctx, d.client, d.issuerURL)
	if err != nil {
		return nil, fmt.Errorf("discovering key-set endpoint: %w", err)
	}

	opts := append([]FetcherOption{WithHTTPClient(d.client)}, d.fetcherOpts...)
	f, err := NewFetcher(doc.JWKSURI, opts...)
	if err != nil {
		return nil, err
	}

	d.fetcher = f
	return f, nil
}
