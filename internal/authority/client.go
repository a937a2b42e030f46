package authority

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/park285/Cheese-Gatekeeper-bot/internal/chatfast"
)

// Client talks to the identity authority's profile lookup endpoint.
type Client struct {
	baseURL string
	http    *fasthttp.Client

	timeout  time.Duration
	retryMax int
}

type ClientOption func(*Client)

func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

func WithRetry(max int) ClientOption {
	return func(c *Client) { c.retryMax = max }
}

func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &fasthttp.Client{ReadTimeout: 8 * time.Second, WriteTimeout: 8 * time.Second, MaxConnsPerHost: 16},
		timeout:  8 * time.Second,
		retryMax: 3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lookup resolves a username to its canonical profile.
// Returns (nil, nil) when the authority reports the name does not exist;
// transient failures are retried with backoff before surfacing an error.
func (c *Client) Lookup(ctx context.Context, username string) (*Profile, error) {
	url := c.baseURL + "/users/profiles/minecraft/" + strings.TrimSpace(username)

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(url)

	attempts := c.retryMax
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		err := c.http.DoDeadline(req, resp, c.deadline(ctx))
		if err != nil {
			lastErr = fmt.Errorf("authority request: %w", err)
			if attempt == attempts {
				return nil, lastErr
			}
			if serr := sleepCtx(ctx, chatfast.BackoffDuration(attempt)); serr != nil {
				return nil, lastErr
			}
			continue
		}

		switch status := resp.StatusCode(); {
		case status == fasthttp.StatusOK:
			var p Profile
			if err := json.Unmarshal(resp.Body(), &p); err != nil {
				return nil, fmt.Errorf("decode authority response: %w", err)
			}
			if strings.TrimSpace(p.Name) == "" {
				return nil, fmt.Errorf("authority returned empty profile")
			}
			return &p, nil
		case status == fasthttp.StatusNotFound || status == fasthttp.StatusNoContent:
			// 미등록 이름: 204는 구 API 호환
			return nil, nil
		case status == fasthttp.StatusTooManyRequests:
			lastErr = ErrThrottle
		case status >= 500:
			lastErr = fmt.Errorf("authority error: status=%d", status)
		default:
			return nil, fmt.Errorf("authority error: status=%d", status)
		}

		if attempt == attempts {
			return nil, lastErr
		}
		if serr := sleepCtx(ctx, chatfast.BackoffDuration(attempt)); serr != nil {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

func (c *Client) deadline(ctx context.Context) time.Time {
	if dl, ok := ctx.Deadline(); ok {
		own := time.Now().Add(c.timeout)
		if dl.Before(own) {
			return dl
		}
		return own
	}
	return time.Now().Add(c.timeout)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
