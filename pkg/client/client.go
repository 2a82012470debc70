// Package client calls the areuok REST API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/haasonsaas/areuok/pkg/apperr"
	"github.com/rs/zerolog"
)

type Client struct {
	baseURL string
	http    *http.Client
	retrier *retrier
	logger  zerolog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
		c.retrier.logger = logger
	}
}

// WithRetry sets the backoff bounds and how many times a failed call is
// retried.
func WithRetry(initial, max time.Duration, maxRetries int) Option {
	return func(c *Client) {
		r := newRetrier(initial, max, maxRetries, c.logger)
		r.sleep = c.retrier.sleep
		c.retrier = r
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  zerolog.Nop(),
	}
	c.retrier = newRetrier(250*time.Millisecond, 4*time.Second, 3, c.logger)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id"`
	DaysLeft  int    `json:"days_left"`
}

// do sends one JSON request. GET, PATCH and DELETE are retried on transport
// failures, 5xx and 429; POST only when the server cannot have acted on it.
// Server error codes come back as apperr values.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	mode := retryIdempotent
	if method == http.MethodPost {
		mode = retryUnsent
	}
	return c.send(ctx, method, path, body, out, mode)
}

func (c *Client) send(ctx context.Context, method, path string, body, out any, mode retryMode) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return err
		}
	}
	attempt := func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("failed to connect to server: %w", err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 300 {
			err := decodeError(resp.StatusCode, raw)
			c.logger.Debug().Int("status", resp.StatusCode).Str("method", method).Str("path", path).Err(err).Msg("request failed")
			if isRetryableStatus(resp.StatusCode) {
				return &retryableStatusError{status: resp.StatusCode, err: err}
			}
			return err
		}
		if out == nil || len(raw) == 0 {
			return nil
		}
		return json.Unmarshal(raw, out)
	}
	return c.retrier.do(ctx, attempt, mode.retryable)
}

func decodeError(status int, raw []byte) error {
	var body errorBody
	if err := json.Unmarshal(raw, &body); err != nil || body.Error == "" {
		return fmt.Errorf("server returned status %d: %w", status, apperr.ErrInternal)
	}
	return apperr.FromCode(body.Error, body.DaysLeft)
}

type RegisterParams struct {
	DeviceName string `json:"device_name"`
	HardwareID string `json:"hardware_id,omitempty"`
	Mode       string `json:"mode,omitempty"`
}

func (c *Client) Register(ctx context.Context, params RegisterParams) (Device, error) {
	var out Device
	// With a hardware ID a repeated register recovers the same device.
	mode := retryUnsent
	if strings.TrimSpace(params.HardwareID) != "" {
		mode = retryIdempotent
	}
	err := c.send(ctx, http.MethodPost, "/devices/register", params, &out, mode)
	return out, err
}

func (c *Client) GetDevice(ctx context.Context, deviceID string) (Device, error) {
	var out Device
	err := c.do(ctx, http.MethodGet, "/devices/"+url.PathEscape(deviceID), nil, &out)
	return out, err
}

func (c *Client) UpdateName(ctx context.Context, deviceID, name string) (Device, error) {
	var out Device
	err := c.do(ctx, http.MethodPatch, "/devices/"+url.PathEscape(deviceID)+"/name", map[string]string{"device_name": name}, &out)
	return out, err
}

func (c *Client) SetMode(ctx context.Context, deviceID, mode string) (Device, error) {
	var out Device
	err := c.do(ctx, http.MethodPatch, "/devices/"+url.PathEscape(deviceID)+"/mode", map[string]string{"mode": mode}, &out)
	return out, err
}

func (c *Client) SignIn(ctx context.Context, deviceID string) (StreakState, error) {
	var out StreakState
	// A repeated sign-in on the same day leaves the streak unchanged.
	err := c.send(ctx, http.MethodPost, "/devices/"+url.PathEscape(deviceID)+"/signin", nil, &out, retryIdempotent)
	return out, err
}

func (c *Client) Status(ctx context.Context, deviceID string) (DeviceStatus, error) {
	var out DeviceStatus
	err := c.do(ctx, http.MethodGet, "/devices/"+url.PathEscape(deviceID)+"/status", nil, &out)
	return out, err
}

func (c *Client) Search(ctx context.Context, query string) ([]Device, error) {
	var out []Device
	err := c.do(ctx, http.MethodGet, "/search/devices?q="+url.QueryEscape(query), nil, &out)
	return out, err
}

func (c *Client) RequestSupervision(ctx context.Context, supervisorID, targetID string) (SupervisionRequest, error) {
	var out SupervisionRequest
	err := c.do(ctx, http.MethodPost, "/supervision/request", pair(supervisorID, targetID), &out)
	return out, err
}

func (c *Client) PendingRequests(ctx context.Context, targetID string) ([]SupervisionRequest, error) {
	var out []SupervisionRequest
	err := c.do(ctx, http.MethodGet, "/supervision/pending/"+url.PathEscape(targetID), nil, &out)
	return out, err
}

func (c *Client) OutgoingRequests(ctx context.Context, supervisorID string) ([]SupervisionRequest, error) {
	var out []SupervisionRequest
	err := c.do(ctx, http.MethodGet, "/supervision/outgoing/"+url.PathEscape(supervisorID), nil, &out)
	return out, err
}

func (c *Client) Accept(ctx context.Context, supervisorID, targetID string) (SupervisionRelation, error) {
	var out SupervisionRelation
	err := c.do(ctx, http.MethodPost, "/supervision/accept", pair(supervisorID, targetID), &out)
	return out, err
}

func (c *Client) Reject(ctx context.Context, supervisorID, targetID string) error {
	return c.do(ctx, http.MethodPost, "/supervision/reject", pair(supervisorID, targetID), nil)
}

func (c *Client) Cancel(ctx context.Context, supervisorID, targetID string) error {
	return c.do(ctx, http.MethodPost, "/supervision/cancel", pair(supervisorID, targetID), nil)
}

func (c *Client) Relations(ctx context.Context, supervisorID string) ([]SupervisionRelation, error) {
	var out []SupervisionRelation
	err := c.do(ctx, http.MethodGet, "/supervision/list/"+url.PathEscape(supervisorID), nil, &out)
	return out, err
}

func (c *Client) RemoveRelation(ctx context.Context, relationID string) error {
	return c.do(ctx, http.MethodDelete, "/supervision/"+url.PathEscape(relationID), nil, nil)
}

func (c *Client) Dashboard(ctx context.Context, supervisorID string) (SupervisorStatus, error) {
	var out SupervisorStatus
	err := c.do(ctx, http.MethodGet, "/supervision/dashboard/"+url.PathEscape(supervisorID), nil, &out)
	return out, err
}

// Health reports server health. An unhealthy server answers 503, which is
// returned as the decoded body rather than an error.
func (c *Client) Health(ctx context.Context) (Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/health", nil)
	if err != nil {
		return Health{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Health{}, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()
	var out Health
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Health{}, err
	}
	return out, nil
}

func pair(supervisorID, targetID string) map[string]string {
	return map[string]string{"supervisor_id": supervisorID, "target_id": targetID}
}
