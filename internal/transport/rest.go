// Package transport provides the network building blocks venue adapters are
// written on: a rate-limited JSON REST client and an auto-reconnecting
// WebSocket stream. The core never touches the network itself — adapters
// compose these helpers into venue protocols.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// RestConfig tunes the REST client.
type RestConfig struct {
	BaseURL    string
	Timeout    time.Duration
	RetryCount int
	// Headers are attached to every request (API keys, content type).
	Headers map[string]string
	// Limit paces requests per endpoint category; nil disables pacing.
	Limit *RateLimiter
}

// RestClient is a thin JSON wrapper over resty with retry on transport
// errors and 5xx responses. When a RateLimiter is configured, every request
// waits on the bucket matching its verb — Query for GET, Order for POST,
// Cancel for DELETE — before touching the wire.
type RestClient struct {
	http   *resty.Client
	limit  *RateLimiter
	logger *slog.Logger
}

// NewRestClient builds a client with sane retry defaults.
func NewRestClient(cfg RestConfig, logger *slog.Logger) *RestClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryCount == 0 {
		cfg.RetryCount = 3
	}
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")
	for k, v := range cfg.Headers {
		httpClient.SetHeader(k, v)
	}
	return &RestClient{http: httpClient, limit: cfg.Limit, logger: logger.With("component", "rest")}
}

// Get performs a GET with query params, decoding the JSON response into out.
func (c *RestClient) Get(ctx context.Context, path string, query map[string]string, out any) error {
	if err := c.wait(ctx, c.queryBucket()); err != nil {
		return err
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(query).
		SetResult(out).
		Get(path)
	return checkResponse("GET "+path, resp, err)
}

// Post performs a POST with a JSON body, decoding the response into out
// (out may be nil).
func (c *RestClient) Post(ctx context.Context, path string, body, out any) error {
	if err := c.wait(ctx, c.orderBucket()); err != nil {
		return err
	}
	req := c.http.R().SetContext(ctx).SetBody(body)
	if out != nil {
		req.SetResult(out)
	}
	resp, err := req.Post(path)
	return checkResponse("POST "+path, resp, err)
}

// Delete performs a DELETE with a JSON body.
func (c *RestClient) Delete(ctx context.Context, path string, body, out any) error {
	if err := c.wait(ctx, c.cancelBucket()); err != nil {
		return err
	}
	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}
	resp, err := req.Delete(path)
	return checkResponse("DELETE "+path, resp, err)
}

func (c *RestClient) wait(ctx context.Context, tb *TokenBucket) error {
	if tb == nil {
		return nil
	}
	return tb.Wait(ctx)
}

func (c *RestClient) queryBucket() *TokenBucket {
	if c.limit == nil {
		return nil
	}
	return c.limit.Query
}

func (c *RestClient) orderBucket() *TokenBucket {
	if c.limit == nil {
		return nil
	}
	return c.limit.Order
}

func (c *RestClient) cancelBucket() *TokenBucket {
	if c.limit == nil {
		return nil
	}
	return c.limit.Cancel
}

func checkResponse(op string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if resp.StatusCode() < http.StatusOK || resp.StatusCode() >= http.StatusMultipleChoices {
		return fmt.Errorf("%s: status %d: %s", op, resp.StatusCode(), resp.String())
	}
	return nil
}
