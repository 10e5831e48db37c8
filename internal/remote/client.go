// Package remote implements a dispatch.Transport that asks a backend to send
// the push through its push:user and push:device actions.
package remote

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

	"github.com/tinywideclouds/go-skykit/pkg/dispatch"
)

const (
	ActionPushUser   = "push:user"
	ActionPushDevice = "push:device"

	headerAPIKey      = "X-Skygear-API-Key"
	headerAccessToken = "X-Skygear-Access-Token"

	resultTypeError = "error"
	maxErrorBody    = 64 << 10
)

// Config points the client at a backend.
type Config struct {
	Endpoint    string
	APIKey      string
	AccessToken string
	Timeout     time.Duration
}

// ServerError is an error returned by the backend, either for the whole
// request or for a single recipient.
type ServerError struct {
	StatusCode int    `json:"-"`
	Name       string `json:"name"`
	Code       int    `json:"code"`
	Message    string `json:"message"`
}

func (e *ServerError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("server error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s (%d): %s", e.Name, e.Code, e.Message)
}

type pushRequest struct {
	Action       string         `json:"action"`
	UserIDs      []string       `json:"user_ids,omitempty"`
	DeviceIDs    []string       `json:"device_ids,omitempty"`
	Notification map[string]any `json:"notification"`
	Topic        string         `json:"topic,omitempty"`
}

type resultItem struct {
	ID      string `json:"_id"`
	Type    string `json:"_type,omitempty"`
	Name    string `json:"name,omitempty"`
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type pushResponse struct {
	Result []resultItem `json:"result"`
	Error  *ServerError `json:"error,omitempty"`
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.httpClient = client }
}

func NewClient(cfg Config, logger *slog.Logger, opts ...Option) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("remote endpoint is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With("component", "RemotePushClient"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Send posts one push action and reports the per-ID results the backend
// returns. A non-2xx response fails the batch.
func (c *Client) Send(ctx context.Context, req dispatch.SendRequest, report dispatch.ReportFunc) error {
	body := pushRequest{Notification: req.Payload, Topic: req.Topic}
	switch req.Kind {
	case dispatch.TargetUser:
		body.Action = ActionPushUser
		body.UserIDs = req.RecipientIDs
	case dispatch.TargetDevice:
		body.Action = ActionPushDevice
		body.DeviceIDs = req.RecipientIDs
	default:
		return fmt.Errorf("%w: %s", dispatch.ErrUnknownTargetKind, req.Kind)
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal push request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to build push request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set(headerAPIKey, c.cfg.APIKey)
	}
	if c.cfg.AccessToken != "" {
		httpReq.Header.Set(headerAccessToken, c.cfg.AccessToken)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("push request failed: %w", err)
	}
	defer resp.Body.Close()

	var decoded pushResponse
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		serverErr := &ServerError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		if json.Unmarshal(raw, &decoded) == nil && decoded.Error != nil {
			serverErr = decoded.Error
			serverErr.StatusCode = resp.StatusCode
		}
		c.logger.Error("Backend rejected push action", "action", body.Action, "status", resp.StatusCode, "err", serverErr)
		return serverErr
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("failed to decode push response: %w", err)
	}

	for _, item := range decoded.Result {
		if item.ID == "" {
			c.logger.Debug("Skipping result without an ID", "action", body.Action)
			continue
		}
		if item.Type == resultTypeError {
			report(item.ID, &ServerError{StatusCode: resp.StatusCode, Name: item.Name, Code: item.Code, Message: item.Message})
			continue
		}
		report(item.ID, nil)
	}
	c.logger.Debug("Push action completed", "action", body.Action, "results", len(decoded.Result))
	return nil
}
