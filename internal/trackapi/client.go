// Package trackapi is the HTTP client the queue runner uses to deliver tasks.
package trackapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/phuslu/log"
	"golang.org/x/time/rate"

	"cio-queue/internal/logging"
	"cio-queue/internal/models"
)

// ErrHaltDrain marks failures that will affect every following task as well
// (no network, rejected credentials). The queue stops draining when it sees one.
var ErrHaltDrain = errors.New("track api unavailable")

// HTTPError is returned for responses with status >= 400.
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Unwrap classifies auth failures as halting.
func (e *HTTPError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden {
		return ErrHaltDrain
	}
	return nil
}

// Options configures a Client.
type Options struct {
	BaseURL           string
	SiteID            string
	APIKey            string
	Timeout           time.Duration
	RequestsPerSecond float64
	HTTPClient        *http.Client
	Logger            *log.Logger
}

// Client talks to the track API with basic auth (site id, api key).
type Client struct {
	baseURL    string
	siteID     string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *log.Logger
}

// New builds a client. A RequestsPerSecond of zero disables pacing.
func New(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		siteID:     opts.SiteID,
		apiKey:     opts.APIKey,
		httpClient: httpClient,
		limiter:    limiter,
		logger:     logging.OrDiscard(opts.Logger),
	}
}

// IdentifyProfile creates or updates a profile.
func (c *Client) IdentifyProfile(ctx context.Context, data models.IdentifyProfileTaskData) error {
	return c.do(ctx, http.MethodPut, "/api/v1/customers/"+url.PathEscape(data.Identifier), rawOrEmpty(data.Attributes))
}

// TrackEvent records a named event for a profile.
func (c *Client) TrackEvent(ctx context.Context, data models.TrackEventTaskData) error {
	body := map[string]any{"name": data.Name}
	if len(data.Attributes) > 0 {
		body["data"] = data.Attributes
	}
	if data.Timestamp > 0 {
		body["timestamp"] = data.Timestamp
	}
	return c.do(ctx, http.MethodPost, "/api/v1/customers/"+url.PathEscape(data.Identifier)+"/events", body)
}

// RegisterDevice attaches a push token to a profile.
func (c *Client) RegisterDevice(ctx context.Context, data models.RegisterPushTokenTaskData) error {
	device := map[string]any{"id": data.DeviceToken}
	if data.Platform != "" {
		device["platform"] = data.Platform
	}
	if data.LastUsed > 0 {
		device["last_used"] = data.LastUsed
	}
	if len(data.Attributes) > 0 {
		device["attributes"] = data.Attributes
	}
	return c.do(ctx, http.MethodPut, "/api/v1/customers/"+url.PathEscape(data.ProfileIdentifier)+"/devices", map[string]any{"device": device})
}

// DeleteDevice detaches a push token from a profile.
func (c *Client) DeleteDevice(ctx context.Context, data models.DeletePushTokenTaskData) error {
	path := "/api/v1/customers/" + url.PathEscape(data.ProfileIdentifier) + "/devices/" + url.PathEscape(data.DeviceToken)
	return c.do(ctx, http.MethodDelete, path, nil)
}

// TrackPushMetric reports a push delivered/opened/converted event.
func (c *Client) TrackPushMetric(ctx context.Context, data models.PushMetricTaskData) error {
	body := map[string]any{
		"delivery_id": data.DeliveryID,
		"device_id":   data.DeviceToken,
		"event":       data.Event,
	}
	if data.Timestamp > 0 {
		body["timestamp"] = data.Timestamp
	}
	return c.do(ctx, http.MethodPost, "/push/events", body)
}

// TrackDeliveryEvent reports an in-app message delivery event.
func (c *Client) TrackDeliveryEvent(ctx context.Context, data models.DeliveryEventTaskData) error {
	payload := map[string]any{
		"delivery_id": data.DeliveryID,
		"event":       data.Event,
	}
	if data.Timestamp > 0 {
		payload["timestamp"] = data.Timestamp
	}
	if len(data.Metadata) > 0 {
		payload["metadata"] = data.Metadata
	}
	return c.do(ctx, http.MethodPost, "/api/v1/cio_deliveries/events", map[string]any{
		"type":    "in_app",
		"payload": payload,
	})
}

func (c *Client) do(ctx context.Context, method, path string, body any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(c.siteID, c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s %s: %v", ErrHaltDrain, method, path, err)
	}
	defer resp.Body.Close()

	c.logger.Trace().Str("method", method).Str("path", path).Int("status", resp.StatusCode).Dur("took", time.Since(start)).Msg("track api call")

	if resp.StatusCode >= http.StatusBadRequest {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &HTTPError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func rawOrEmpty(raw json.RawMessage) any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	return raw
}
