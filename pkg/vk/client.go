package vk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"vkharvest/pkg/errors"
	"vkharvest/pkg/logger"
	"vkharvest/pkg/ratelimit"
)

// Options configures a Client
type Options struct {
	Endpoint    string
	AccessToken string
	APIVersion  string
	UserAgent   string
	Timeout     time.Duration

	// Limiter paces method calls. Image downloads are not paced.
	Limiter ratelimit.Limiter
}

// Client calls API methods and fetches image streams
type Client struct {
	httpClient *http.Client
	opts       Options
	limiter    ratelimit.Limiter
	logger     logger.Logger
}

// NewClient creates a new API client
func NewClient(opts Options, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}

	return &Client{
		httpClient: &http.Client{Timeout: opts.Timeout},
		opts:       opts,
		limiter:    limiter,
		logger:     log,
	}
}

// Call invokes an API method and decodes one page of its response.
//
// A non-nil error means the request did not produce a decodable body
// (network failure, unexpected HTTP status, malformed JSON). An error
// reported by the API itself is returned on Page.Error with a nil error.
func (c *Client) Call(ctx context.Context, method string, params url.Values) (*Page, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &errors.Error{
			Type:    errors.ErrorTypeNetwork,
			Message: fmt.Sprintf("request not sent: %v", err),
			Err:     err,
		}
	}

	reqURL := MethodURL(c.opts.Endpoint, method, c.opts.AccessToken, c.opts.APIVersion, params)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &errors.Error{
			Type:    errors.ErrorTypeUnknown,
			Message: fmt.Sprintf("failed to create request: %v", err),
			Err:     err,
		}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.doRequest(req, method)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := c.checkResponseStatus(resp, method); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &errors.Error{
			Type:    errors.ErrorTypeNetwork,
			Message: fmt.Sprintf("failed to read response body: %v", err),
			Code:    resp.StatusCode,
			Err:     err,
		}
	}

	var envelope Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		c.logger.ErrorWithFields("failed to parse JSON response", map[string]interface{}{
			"method":       method,
			"status":       resp.StatusCode,
			"error":        err.Error(),
			"body_preview": preview(body),
		})
		return nil, &errors.Error{
			Type:    errors.ErrorTypeParsing,
			Message: fmt.Sprintf("failed to parse JSON: %v", err),
			Code:    resp.StatusCode,
			Err:     err,
		}
	}

	if envelope.Error != nil {
		return &Page{Error: envelope.Error}, nil
	}
	if envelope.Response == nil {
		return nil, &errors.Error{
			Type:    errors.ErrorTypeParsing,
			Message: "response has neither result nor error",
			Code:    resp.StatusCode,
		}
	}

	return envelope.Response, nil
}

// FetchStream opens the byte stream of an image. The caller must close it.
func (c *Client) FetchStream(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &errors.Error{
			Type:    errors.ErrorTypeUnknown,
			Message: fmt.Sprintf("failed to create request: %v", err),
			Err:     err,
		}
	}

	resp, err := c.doRequest(req, "download")
	if err != nil {
		return nil, err
	}

	if err := c.checkResponseStatus(resp, "download"); err != nil {
		resp.Body.Close()
		return nil, err
	}

	return resp.Body, nil
}

// doRequest performs an HTTP request with the configured headers
func (c *Client) doRequest(req *http.Request, method string) (*http.Response, error) {
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		c.logger.DebugWithFields("HTTP request failed", map[string]interface{}{
			"method":   method,
			"url":      RedactToken(req.URL.String()),
			"error":    err.Error(),
			"duration": duration,
		})
		return nil, &errors.Error{
			Type:    errors.ErrorTypeNetwork,
			Message: fmt.Sprintf("network error: %v", err),
			Err:     err,
		}
	}

	logger.LogRequest(c.logger, method, resp.StatusCode, duration)
	return resp, nil
}

// checkResponseStatus maps a non-2xx response to a typed error
func (c *Client) checkResponseStatus(resp *http.Response, method string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	return &errors.Error{
		Type:    errors.TypeForStatus(resp.StatusCode),
		Message: fmt.Sprintf("%s: unexpected status %s", method, resp.Status),
		Code:    resp.StatusCode,
	}
}

func preview(body []byte) string {
	if len(body) > 200 {
		return string(body[:200]) + "..."
	}
	return string(body)
}
