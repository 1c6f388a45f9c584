// Package jwks retrieves and caches the identity provider's published
// key set.
package jwks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

// Defaults for the fetcher's retry policy.
const (
	DefaultMaxAttempts    = 3
	DefaultRetryBaseDelay = 200 * time.Millisecond
	DefaultRequestTimeout = 10 * time.Second
)

// maxResponseSize bounds the key-set response body. A key set is typically
// under 10KB.
const maxResponseSize = 1 << 20

// FetchError is returned when the key-set endpoint could not be fetched
// after exhausting all attempts. It carries the attempt count and the last
// underlying error.
type FetchError struct {
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching key set failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Fetcher performs a single HTTP GET against the provider's key-set
// endpoint, retrying transport and HTTP-status failures with exponential
// backoff. It holds no cache state; it only returns a key set or an error.
type Fetcher struct {
	endpointURL string
	client      *http.Client
	maxAttempts int
	baseDelay   time.Duration
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher) error

// WithHTTPClient sets the HTTP client used for key-set requests.
//
// Default: a client with a 10 second timeout.
func WithHTTPClient(client *http.Client) FetcherOption {
	return func(f *Fetcher) error {
		if client == nil {
			return errors.New("http client cannot be nil")
		}
		f.client = client
		return nil
	}
}

// WithMaxAttempts sets how many times a fetch is attempted before a
// FetchError is returned.
//
// Default: DefaultMaxAttempts.
func WithMaxAttempts(attempts int) FetcherOption {
	return func(f *Fetcher) error {
		if attempts < 1 {
			return errors.New("max attempts must be at least 1")
		}
		f.maxAttempts = attempts
		return nil
	}
}

// WithRetryBaseDelay sets the base delay for exponential backoff between
// attempts.
//
// Default: DefaultRetryBaseDelay.
func WithRetryBaseDelay(delay time.Duration) FetcherOption {
	return func(f *Fetcher) error {
		if delay < 0 {
			return errors.New("retry base delay cannot be negative")
		}
		f.baseDelay = delay
		return nil
	}
}

// NewFetcher builds a Fetcher for the given key-set endpoint URL.
func NewFetcher(endpointURL string, opts ...FetcherOption) (*Fetcher, error) {
	if endpointURL == "" {
		return nil, errors.New("key-set endpoint URL is required but was empty")
	}

	f := &Fetcher{
		endpointURL: endpointURL,
		client:      &http.Client{Timeout: DefaultRequestTimeout},
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultRetryBaseDelay,
	}

	for _, opt := range opts {
		if err := opt(f); err != nil {
			return nil, fmt.Errorf("invalid option: %w", err)
		}
	}

	return f, nil
}

// Fetch retrieves the key set, retrying with exponential backoff. An empty
// or malformed body counts as a failure: silently accepting zero keys would
// make every future verification fail without clear diagnosis.
func (f *Fetcher) Fetch(ctx context.Context) (jwk.Set, error) {
	var lastErr error

	for attempt := 1; attempt <= f.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleepContext(ctx, Backoff(f.baseDelay, attempt-1)); err != nil {
				return nil, &FetchError{Attempts: attempt - 1, Err: err}
			}
		}

		set, err := f.fetchOnce(ctx)
		if err == nil {
			return set, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, &FetchError{Attempts: attempt, Err: lastErr}
		}
	}

	return nil, &FetchError{Attempts: f.maxAttempts, Err: lastErr}
}

func (f *Fetcher) fetchOnce(ctx context.Context) (jwk.Set, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpointURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building key-set request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("key-set request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("key-set request returned status %d, expected 200", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading key-set response: %w", err)
	}

	set, err := jwk.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parsing key set: %w", err)
	}
	if set.Len() == 0 {
		return nil, errors.New("key-set response contains no keys")
	}

	return set, nil
}

// Backoff returns the wait time before retry number attempt (1-based): the
// base delay doubled for each further attempt. It is a pure function so the
// retry policy can be tested without real delays.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	return base << (attempt - 1)
}

func sleepContext(ctx context.Context, d time.Duration) error {
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
