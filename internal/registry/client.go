// Package registry fetches addon manifests from an npm-compatible registry.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/krmanik/ankiaddons/internal/logging"
)

const (
	// DefaultURL is the public npm registry.
	DefaultURL = "https://registry.npmjs.org"
	// DefaultTimeout bounds one manifest request including retries.
	DefaultTimeout = 30 * time.Second
	// DefaultRetries is how many times a failed request is retried.
	DefaultRetries = 3
	// MaxManifestBytes bounds the manifest document size.
	MaxManifestBytes = 4 << 20
	// DefaultUserAgent is the User-Agent header sent with requests
	DefaultUserAgent = "addonctl/1.0"
)

// Client fetches raw manifest bytes for an addon.
type Client interface {
	FetchManifest(ctx context.Context, name string) ([]byte, error)
}

// ErrNotFound is returned when the registry has no such package.
var ErrNotFound = errors.New("package not found in registry")

// NetworkError reports that the registry could not be reached or kept
// failing. It is worth retrying later.
type NetworkError struct {
	URL string
	// Status is the last HTTP status seen, 0 if no response arrived.
	Status int
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("registry %s unavailable (status %d): %v", e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("registry %s unreachable: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// HTTPClient is the registry Client backed by resty over a retrying
// transport, with client-side rate limiting.
type HTTPClient struct {
	baseURL string
	resty   *resty.Client
	limiter *rate.Limiter
	logger  logging.Logger
}

// Config holds HTTPClient settings. Zero values use the defaults.
type Config struct {
	BaseURL      string
	Timeout      time.Duration
	Retries      int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	// RateLimit is the number of requests per second; 0 means unlimited.
	RateLimit float64
	Logger    logging.Logger
}

// NewHTTPClient creates a registry client.
func NewHTTPClient(cfg Config) *HTTPClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	} else if cfg.Retries == 0 {
		cfg.Retries = DefaultRetries
	}
	if cfg.RetryWaitMin <= 0 {
		cfg.RetryWaitMin = 500 * time.Millisecond
	}
	if cfg.RetryWaitMax <= 0 {
		cfg.RetryWaitMax = 5 * time.Second
	}
	logger := logging.OrNop(cfg.Logger)

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.Retries
	retryClient.RetryWaitMin = cfg.RetryWaitMin
	retryClient.RetryWaitMax = cfg.RetryWaitMax
	retryClient.Logger = retryablehttp.LeveledLogger(logger)

	restyClient := resty.NewWithClient(retryClient.StandardClient()).
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", DefaultUserAgent).
		SetHeader("Accept", "application/json")

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		resty:   restyClient,
		limiter: limiter,
		logger:  logger,
	}
}

// ManifestURL returns the URL of the latest manifest for name.
func (c *HTTPClient) ManifestURL(name string) string {
	return c.baseURL + "/" + url.PathEscape(name) + "/latest"
}

// FetchManifest returns the raw manifest document for the latest version of
// name.
func (c *HTTPClient) FetchManifest(ctx context.Context, name string) ([]byte, error) {
	if name == "" {
		return nil, errors.New("package name is empty")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	u := c.ManifestURL(name)
	c.logger.Debug("fetching manifest", "package", name, "url", u)

	resp, err := c.resty.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(u)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &NetworkError{URL: u, Err: err}
	}
	body := resp.RawBody()
	defer body.Close()

	switch code := resp.StatusCode(); {
	case code == http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	case code == http.StatusTooManyRequests || code >= http.StatusInternalServerError:
		return nil, &NetworkError{URL: u, Status: code, Err: errors.New(http.StatusText(code))}
	case code < 200 || code > 299:
		return nil, fmt.Errorf("fetch manifest %s: unexpected status code %d", name, code)
	}

	data, err := io.ReadAll(io.LimitReader(body, MaxManifestBytes+1))
	if err != nil {
		return nil, &NetworkError{URL: u, Status: resp.StatusCode(), Err: fmt.Errorf("read body: %w", err)}
	}
	if len(data) > MaxManifestBytes {
		return nil, fmt.Errorf("fetch manifest %s: document exceeds %d bytes", name, MaxManifestBytes)
	}
	return data, nil
}
