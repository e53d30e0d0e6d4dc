// Package httpclient implements the HttpClient component of spec.md §4.3:
// rate-limited, retrying, conditional-GET HTTP access shared by
// AnchorPoller, ThreadFetcher, and MediaFetcher.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/PluieElectrique/ena/internal/enaerrors"
	"github.com/PluieElectrique/ena/internal/ratelimit"
	"github.com/PluieElectrique/ena/internal/retry"
)

// CacheKey is the caller-maintained conditional-request state for one
// cache_key string (spec.md §4.3).
type CacheKey struct {
	ETag         string
	LastModified string
}

// JSONResult is the outcome of a fetch_json call.
type JSONResult struct {
	NotModified     bool
	TerminalMissing bool
	Body            []byte
	LastModified    string
	ETag            string
}

// Client wraps *http.Client with rate limiting, retrying, and HTTPS
// enforcement. One Client instance is shared process-wide (spec.md §5: the
// rate limiters are process-wide singletons per class).
type Client struct {
	http     *http.Client
	limiters map[string]*ratelimit.Limiter
	backoff  retry.Config
	logger   log.Logger
}

// New constructs a Client. limiters must have an entry for every class
// used by callers ("media", "thread", "thread_list").
func New(httpClient *http.Client, limiters map[string]*ratelimit.Limiter, backoff retry.Config, logger log.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{http: httpClient, limiters: limiters, backoff: backoff, logger: logger}
}

// FetchJSON sends a conditional GET for url under the given rate-limit
// class, using cache to populate If-Modified-Since/If-None-Match.
// Transient errors are retried per the configured backoff; terminal
// statuses (404/403/451) are reported via TerminalMissing rather than
// retried.
func (c *Client) FetchJSON(ctx context.Context, url, class string, cache CacheKey) (JSONResult, error) {
	body, lastModified, etag, terminalMissing, err := c.doConditional(ctx, url, class, cache)
	if err != nil {
		return JSONResult{}, err
	}
	if terminalMissing {
		return JSONResult{TerminalMissing: true}, nil
	}
	if body == nil {
		return JSONResult{NotModified: true}, nil
	}
	return JSONResult{Body: body, LastModified: lastModified, ETag: etag}, nil
}

// FetchMedia downloads url under the given rate-limit class. No
// conditional caching is used (spec.md §4.3).
func (c *Client) FetchMedia(ctx context.Context, url, class string) ([]byte, bool, error) {
	body, _, _, terminalMissing, err := c.doConditional(ctx, url, class, CacheKey{})
	if err != nil {
		return nil, false, err
	}
	return body, terminalMissing, nil
}

// doConditional performs the shared rate-limit+retry+request machinery.
// body == nil && !terminalMissing means 304 Not Modified.
func (c *Client) doConditional(ctx context.Context, url, class string, cache CacheKey) (body []byte, lastModified, etag string, terminalMissing bool, err error) {
	if !strings.HasPrefix(url, "https://") {
		return nil, "", "", false, fmt.Errorf("httpclient: refusing non-https url %q", url)
	}

	limiter, ok := c.limiters[class]
	if !ok {
		return nil, "", "", false, fmt.Errorf("httpclient: no rate limiter configured for class %q", class)
	}

	retryErr := retry.Do(ctx, c.backoff, enaerrors.IsRetryable, func(attempt int) error {
		release, werr := limiter.Acquire(ctx)
		if werr != nil {
			return werr
		}
		defer release()

		req, rerr := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if rerr != nil {
			return rerr
		}
		if cache.LastModified != "" {
			req.Header.Set("If-Modified-Since", cache.LastModified)
		}
		if cache.ETag != "" {
			req.Header.Set("If-None-Match", cache.ETag)
		}

		resp, derr := c.http.Do(req)
		if derr != nil {
			return enaerrors.NewTransport("GET "+url, derr)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotModified:
			body, lastModified, etag, terminalMissing = nil, "", "", false
			return nil
		case enaerrors.IsTerminalStatus(resp.StatusCode):
			level.Warn(c.logger).Log("msg", "terminal status", "url", url, "status", resp.StatusCode)
			terminalMissing = true
			body, lastModified, etag = nil, "", ""
			return nil
		case resp.StatusCode >= 500:
			return enaerrors.NewTransport("GET "+url, fmt.Errorf("status %d", resp.StatusCode))
		case resp.StatusCode != http.StatusOK:
			return fmt.Errorf("httpclient: unexpected status %d fetching %s", resp.StatusCode, url)
		}

		buf, rerr := io.ReadAll(resp.Body)
		if rerr != nil {
			return enaerrors.NewTransport("read body "+url, rerr)
		}
		body = buf
		lastModified = resp.Header.Get("Last-Modified")
		etag = resp.Header.Get("ETag")
		terminalMissing = false
		return nil
	})

	if retryErr != nil {
		return nil, "", "", false, retryErr
	}
	return body, lastModified, etag, terminalMissing, nil
}
