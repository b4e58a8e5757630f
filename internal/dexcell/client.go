// Package dexcell is a minimal client for the Dexcell v3 REST API covering
// the two endpoints this pipeline uses: time-series readings and device
// listing. The readings fetch carries the bounded retry/backoff policy that
// the extraction engine relies on; exhausting retries surfaces as a typed
// error, never a panic, so a failed device degrades to zero readings.
package dexcell

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Default retry/backoff policy. Rate-limit responses back off faster (3^n)
// than server errors (2^n); both are capped at maxWait.
const (
	defaultBaseWait   = 1 * time.Second
	defaultMaxWait    = 30 * time.Second
	defaultMaxRetries = 3
	defaultTimeout    = 30 * time.Second
)

// ErrorKind classifies a failed fetch so callers can inspect the reason
// without unwrapping.
type ErrorKind string

const (
	// KindUnauthorized is a 401: credentials are fixed for the run, so no
	// retry is attempted.
	KindUnauthorized ErrorKind = "unauthorized"
	// KindBadPayload is a 200 whose body lacks the values key or is not JSON.
	KindBadPayload ErrorKind = "bad_payload"
	// KindHTTPStatus is any non-retryable status outside the policy table.
	KindHTTPStatus ErrorKind = "http_status"
	// KindExhausted means every retry attempt failed.
	KindExhausted ErrorKind = "exhausted"
)

// APIError is the definitive failure signal returned by the client. The
// extraction engine records it and moves on; it is never fatal to a run.
type APIError struct {
	Kind   ErrorKind
	Status int
	Msg    string
}

func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("dexcell: %s (HTTP %d): %s", e.Kind, e.Status, e.Msg)
	}
	return fmt.Sprintf("dexcell: %s: %s", e.Kind, e.Msg)
}

// Value is one data point from the readings endpoint. TS is the raw
// timestamp string as returned by the API.
type Value struct {
	TS string          `json:"ts"`
	V  json.RawMessage `json:"v"`
}

// readingsResponse is the readings endpoint payload. A 200 without the
// values key is treated as malformed.
type readingsResponse struct {
	Values *[]Value `json:"values"`
}

// DeviceDescriptor is one entry from the device listing endpoint.
type DeviceDescriptor struct {
	ID      json.Number `json:"id"`
	Name    string      `json:"name"`
	Status  string      `json:"status"`
	LocalID string      `json:"local_id"`
}

// ReadingsRequest holds the query parameters for a readings fetch. From/To
// are passed through verbatim from the client config.
type ReadingsRequest struct {
	DeviceID   string
	ParamKey   string
	Resolution string // "H" or "M"
	From       string
	To         string
}

// ClientOpts configures a Client. Zero values select the production
// defaults; tests shrink the waits.
type ClientOpts struct {
	BaseURL    string
	Timeout    time.Duration
	BaseWait   time.Duration
	MaxWait    time.Duration
	MaxRetries int
}

// Client issues authenticated requests against the Dexcell API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	baseWait   time.Duration
	maxWait    time.Duration
	maxRetries int
	log        *slog.Logger
}

// NewClient creates a Client with the given options.
func NewClient(opts ClientOpts) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.dexcell.com"
	}
	if opts.Timeout == 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.BaseWait == 0 {
		opts.BaseWait = defaultBaseWait
	}
	if opts.MaxWait == 0 {
		opts.MaxWait = defaultMaxWait
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = defaultMaxRetries
	}

	return &Client{
		baseURL:    opts.BaseURL,
		httpClient: &http.Client{Timeout: opts.Timeout},
		baseWait:   opts.BaseWait,
		maxWait:    opts.MaxWait,
		maxRetries: opts.MaxRetries,
		log:        slog.Default().With("component", "dexcell"),
	}
}

// GetReadings fetches DELTA readings for one device/parameter pair,
// retrying recoverable failures per the backoff policy. It returns the
// values array on success or an *APIError; recoverable errors never
// propagate as panics, and exhausting retries yields KindExhausted.
func (c *Client) GetReadings(ctx context.Context, token string, req ReadingsRequest) ([]Value, error) {
	q := url.Values{}
	q.Set("device_id", req.DeviceID)
	q.Set("operation", "DELTA")
	q.Set("parameter_key", req.ParamKey)
	q.Set("resolution", req.Resolution)
	q.Set("from", req.From)
	q.Set("to", req.To)
	target := c.baseURL + "/v3/readings?" + q.Encode()

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		c.log.Debug("readings request",
			"deviceID", req.DeviceID, "attempt", attempt+1, "maxRetries", c.maxRetries)

		resp, err := c.do(ctx, token, target)
		if err != nil {
			// Transport error or timeout: back off and retry if attempts remain.
			if ctx.Err() != nil {
				return nil, &APIError{Kind: KindExhausted, Msg: ctx.Err().Error()}
			}
			c.log.Warn("request failed", "deviceID", req.DeviceID, "err", err,
				"attempt", attempt+1)
			if attempt < c.maxRetries-1 {
				if err := c.sleep(ctx, c.backoff(attempt, 2, false)); err != nil {
					return nil, &APIError{Kind: KindExhausted, Msg: err.Error()}
				}
			}
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			c.log.Warn("reading response body failed", "deviceID", req.DeviceID, "err", readErr)
			if attempt < c.maxRetries-1 {
				if err := c.sleep(ctx, c.backoff(attempt, 2, false)); err != nil {
					return nil, &APIError{Kind: KindExhausted, Msg: err.Error()}
				}
			}
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			var payload readingsResponse
			if err := json.Unmarshal(body, &payload); err != nil || payload.Values == nil {
				c.log.Error("invalid response structure", "deviceID", req.DeviceID)
				return nil, &APIError{Kind: KindBadPayload, Status: resp.StatusCode,
					Msg: "response missing values key"}
			}
			return *payload.Values, nil

		case resp.StatusCode == http.StatusUnauthorized:
			c.log.Error("401 unauthorized, check the API token and permissions",
				"deviceID", req.DeviceID)
			return nil, &APIError{Kind: KindUnauthorized, Status: resp.StatusCode,
				Msg: string(body)}

		case resp.StatusCode == http.StatusTooManyRequests:
			wait := c.backoff(attempt, 3, true)
			c.log.Warn("rate limited", "deviceID", req.DeviceID, "wait", wait)
			if err := c.sleep(ctx, wait); err != nil {
				return nil, &APIError{Kind: KindExhausted, Msg: err.Error()}
			}

		case resp.StatusCode == http.StatusInternalServerError,
			resp.StatusCode == http.StatusBadGateway,
			resp.StatusCode == http.StatusServiceUnavailable,
			resp.StatusCode == http.StatusGatewayTimeout:
			wait := c.backoff(attempt, 2, true)
			c.log.Warn("server error, retrying", "deviceID", req.DeviceID,
				"status", resp.StatusCode, "wait", wait)
			if err := c.sleep(ctx, wait); err != nil {
				return nil, &APIError{Kind: KindExhausted, Msg: err.Error()}
			}

		default:
			c.log.Error("unexpected status", "deviceID", req.DeviceID,
				"status", resp.StatusCode)
			return nil, &APIError{Kind: KindHTTPStatus, Status: resp.StatusCode,
				Msg: string(body)}
		}
	}

	c.log.Error("all retry attempts failed", "deviceID", req.DeviceID)
	return nil, &APIError{Kind: KindExhausted,
		Msg: fmt.Sprintf("no success after %d attempts", c.maxRetries)}
}

// ListDevices fetches the device inventory visible to token for one
// parameter key. Used by config generation, not extraction.
func (c *Client) ListDevices(ctx context.Context, token, paramKey string, limit int) ([]DeviceDescriptor, error) {
	q := url.Values{}
	q.Set("limit", fmt.Sprintf("%d", limit))
	q.Set("param_key", paramKey)
	target := c.baseURL + "/v3/devices?" + q.Encode()

	resp, err := c.do(ctx, token, target)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &APIError{Kind: KindHTTPStatus, Status: resp.StatusCode, Msg: string(body)}
	}

	var devices []DeviceDescriptor
	if err := json.NewDecoder(resp.Body).Decode(&devices); err != nil {
		return nil, &APIError{Kind: KindBadPayload, Msg: err.Error()}
	}
	return devices, nil
}

// do issues one authenticated GET.
func (c *Client) do(ctx context.Context, token, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-dexcell-token", token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return c.httpClient.Do(req)
}

// backoff computes the wait before the next attempt: baseWait * factor^attempt,
// capped at maxWait when capped is true.
func (c *Client) backoff(attempt, factor int, capped bool) time.Duration {
	wait := c.baseWait
	for i := 0; i < attempt; i++ {
		wait *= time.Duration(factor)
	}
	if capped && wait > c.maxWait {
		wait = c.maxWait
	}
	return wait
}

// sleep waits for d or until the context is cancelled.
func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
