// Package httpclient is the outbound HTTP client used for provider requests:
// requests to one host are spaced out and throttled responses are retried.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cesargomez89/inkqueue/internal/constants"
)

const userAgent = "inkqueue/1.0"

// ErrThrottled is wrapped by Do when every attempt was answered with a
// throttling status.
var ErrThrottled = errors.New("remote kept throttling")

// Client paces requests to at most one per minInterval and retries network
// errors and throttling responses with a linear backoff.
type Client struct {
	http        *http.Client
	minInterval time.Duration
	attempts    int
	backoff     time.Duration

	mu   sync.Mutex
	next time.Time
}

func NewClient(httpClient *http.Client, minInterval time.Duration) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: constants.DefaultHTTPTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     30 * time.Second,
				TLSHandshakeTimeout: 5 * time.Second,
			},
		}
	}
	return &Client{
		http:        httpClient,
		minInterval: minInterval,
		attempts:    constants.DefaultRetryCount,
		backoff:     constants.DefaultRetryBase,
	}
}

// Do sends req, waiting for its pacing slot first. Responses other than
// 429/503 are returned to the caller as they are. Requests with a body are
// sent once.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", userAgent)
	}

	attempts := c.attempts
	if req.Body != nil && req.Body != http.NoBody {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := sleep(ctx, c.reserve()); err != nil {
			return nil, err
		}

		resp, err := c.http.Do(req.Clone(ctx))
		wait := time.Duration(attempt) * c.backoff
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
		case throttled(resp.StatusCode):
			retryAfter := parseRetryAfter(resp)
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("%w (status %d)", ErrThrottled, resp.StatusCode)
			if retryAfter > 0 {
				c.pushBack(retryAfter)
			}
			if retryAfter > wait {
				wait = retryAfter
			}
		default:
			return resp, nil
		}

		if attempt < attempts {
			if err := sleep(ctx, wait); err != nil {
				return nil, err
			}
		}
	}
	return nil, lastErr
}

// reserve claims the next pacing slot and returns how long to wait for it.
func (c *Client) reserve() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	slot := c.next
	if slot.Before(now) {
		slot = now
	}
	c.next = slot.Add(c.minInterval)
	return slot.Sub(now)
}

// pushBack delays every later request until d from now.
func (c *Client) pushBack(d time.Duration) {
	c.mu.Lock()
	if until := time.Now().Add(d); c.next.Before(until) {
		c.next = until
	}
	c.mu.Unlock()
}

func throttled(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable
}

func sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// parseRetryAfter reads Retry-After in either of its forms, seconds or an
// HTTP date.
func parseRetryAfter(resp *http.Response) time.Duration {
	ra := resp.Header.Get("Retry-After")
	if ra == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(ra); err == nil {
		return time.Until(t)
	}
	return 0
}
