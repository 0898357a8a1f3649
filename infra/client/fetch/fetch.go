// Package fetch is the retrying HTTP client used by the sync layer and the CLI.
//
// A request is attempted at most Retries+1 times with a fixed Delay between attempts.
// Every attempt runs under its own deadline and reads the whole body before returning,
// so nothing escapes the attempt's context.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	DefaultRetries        = 2
	DefaultDelay          = time.Second
	DefaultAttemptTimeout = 10 * time.Second

	maxErrorBody = 4 << 10
)

type Options struct {
	Retries        int
	Delay          time.Duration
	AttemptTimeout time.Duration // zero disables the per-attempt deadline
}

func DefaultOptions() Options {
	return Options{
		Retries:        DefaultRetries,
		Delay:          DefaultDelay,
		AttemptTimeout: DefaultAttemptTimeout,
	}
}

// StatusError reports a non-2xx answer. 5xx and 429 are retried, other statuses are final.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
}

// Temporary reports whether another attempt may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

type Client struct {
	http   *http.Client
	opts   Options
	logger *slog.Logger
}

func New(httpClient *http.Client, opts Options, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{http: httpClient, opts: opts, logger: logger}
}

// FetchWithRetry performs a GET with the given retry policy on the default HTTP client.
func FetchWithRetry(ctx context.Context, url string, opts Options) (*Response, error) {
	return New(nil, opts, nil).Get(ctx, url)
}

func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	return c.Do(ctx, http.MethodGet, url, nil, nil)
}

// PostJSON marshals v and posts it. The body is replayed on every attempt.
func (c *Client) PostJSON(ctx context.Context, url string, v any, header http.Header) (*Response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	h := header.Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Set("Content-Type", "application/json")
	return c.Do(ctx, http.MethodPost, url, body, h)
}

// Do runs the request until it succeeds, fails permanently, or runs out of attempts.
// The error of the last attempt is returned unchanged.
func (c *Client) Do(ctx context.Context, method, url string, body []byte, header http.Header) (*Response, error) {
	attempt := 0
	op := func() (*Response, error) {
		attempt++
		res, err := c.attempt(ctx, method, url, body, header)
		if err == nil {
			return res, nil
		}

		var se *StatusError
		if errors.As(err, &se) && !se.Temporary() {
			return nil, backoff.Permanent(err)
		}
		// the caller gave up; retrying would only burn the remaining attempts
		if ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	res, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(c.opts.Delay)),
		backoff.WithMaxTries(uint(c.opts.Retries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Debug("FETCH_RETRY",
				"method", method,
				"url", url,
				"attempt", attempt,
				"next_in", next,
				"err", err,
			)
		}),
	)
	if err != nil {
		c.logger.Debug("FETCH_FAILED", "method", method, "url", url, "attempts", attempt, "err", err)
		return nil, err
	}
	return res, nil
}

func (c *Client) attempt(ctx context.Context, method, url string, body []byte, header http.Header) (*Response, error) {
	if c.opts.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.AttemptTimeout)
		defer cancel()
	}

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{
			Method:     method,
			URL:        url,
			StatusCode: resp.StatusCode,
			Body:       string(snippet),
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// GetJSON fetches url with retries and decodes the body into T.
func GetJSON[T any](ctx context.Context, c *Client, url string) (T, error) {
	var out T
	res, err := c.Get(ctx, url)
	if err != nil {
		return out, err
	}
	if len(res.Body) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(res.Body, &out); err != nil {
		return out, fmt.Errorf("decode %s: %w", url, err)
	}
	return out, nil
}
