// Package web delivers push payloads to browsers through the Web Push protocol.
package web

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	pushv1 "github.com/tinywideclouds/go-platform/pkg/notification/v1"
	"github.com/tinywideclouds/go-skykit/gateway/config"
	"github.com/tinywideclouds/go-skykit/pkg/dispatch"
	"github.com/tinywideclouds/go-skykit/pkg/notification"
)

const defaultTTL = 60

// StatusError is the per-subscription error for a push service rejection.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("web push rejected with status %d", e.StatusCode)
}

type Dispatcher struct {
	subscriber string
	privateKey string
	publicKey  string
	ttl        int
	logger     *slog.Logger
	httpClient webpush.HTTPClient
}

type Option func(*Dispatcher)

// WithHTTPClient replaces the client used to reach push services.
func WithHTTPClient(client webpush.HTTPClient) Option {
	return func(d *Dispatcher) { d.httpClient = client }
}

func NewDispatcher(cfg config.VapidConfig, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		privateKey: cfg.PrivateKey,
		publicKey:  cfg.PublicKey,
		subscriber: cfg.SubscriberEmail,
		ttl:        cfg.TTLSeconds,
		logger:     logger.With("component", "WebPushDispatcher"),
		httpClient: &http.Client{},
	}
	if d.ttl <= 0 {
		d.ttl = defaultTTL
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch encrypts the GCM section of the encoded info for each subscription.
// Subscriptions answered with 404 or 410 are marked invalid.
func (d *Dispatcher) Dispatch(ctx context.Context, subs []pushv1.WebPushSubscription, info notification.Info) ([]dispatch.Outcome, error) {
	if len(subs) == 0 {
		return nil, nil
	}
	encoded, err := info.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode web push payload: %w", err)
	}
	payloadBytes, err := json.Marshal(encoded[notification.SectionGCM])
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	outcomes := make([]dispatch.Outcome, len(subs))
	for idx, sub := range subs {
		outcomes[idx] = dispatch.Outcome{Target: sub.Endpoint}
		s := &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys: webpush.Keys{
				P256dh: base64.RawURLEncoding.EncodeToString(sub.Keys.P256dh),
				Auth:   base64.RawURLEncoding.EncodeToString(sub.Keys.Auth),
			},
		}

		resp, err := webpush.SendNotificationWithContext(ctx, payloadBytes, s, &webpush.Options{
			Subscriber:      d.subscriber,
			VAPIDPublicKey:  d.publicKey,
			VAPIDPrivateKey: d.privateKey,
			TTL:             d.ttl,
			HTTPClient:      d.httpClient,
		})
		if err != nil {
			// Transport error (DNS, timeout). The subscription is kept.
			d.logger.Error("WebPush transport error", "endpoint", sub.Endpoint, "err", err)
			outcomes[idx].Err = fmt.Errorf("web push transport failed: %w", err)
			continue
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
		case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
			outcomes[idx].Err = &StatusError{StatusCode: resp.StatusCode}
			outcomes[idx].Invalid = true
		default:
			d.logger.Warn("WebPush rejected", "status", resp.StatusCode, "endpoint", sub.Endpoint)
			outcomes[idx].Err = &StatusError{StatusCode: resp.StatusCode}
		}
	}
	return outcomes, nil
}
