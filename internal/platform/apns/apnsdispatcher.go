// Package apns provides the client for the Apple Push Notification Service.
package apns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
	"github.com/tinywideclouds/go-skykit/pkg/dispatch"
	"github.com/tinywideclouds/go-skykit/pkg/notification"
)

// APNSClient defines the subset of the apns2.Client methods we use.
type APNSClient interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

// RejectedError is the per-token error for a notification APNs refused.
type RejectedError struct {
	StatusCode int
	Reason     string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("apns rejected notification: %s (status %d)", e.Reason, e.StatusCode)
}

type Dispatcher struct {
	client APNSClient
	topic  string // default topic, the app bundle ID
	logger *slog.Logger
}

// Config holds the credentials required to sign APNs tokens.
type Config struct {
	KeyID    string
	TeamID   string
	BundleID string
	// P8KeyContent is the raw content of the .p8 file.
	P8KeyContent string
	// Sandbox selects the development gateway.
	Sandbox bool
}

// NewDispatcher parses the P8 key immediately so bad credentials fail at startup.
func NewDispatcher(cfg Config, logger *slog.Logger) (*Dispatcher, error) {
	authKey, err := token.AuthKeyFromBytes([]byte(cfg.P8KeyContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	})
	if cfg.Sandbox {
		client = client.Development()
	} else {
		client = client.Production()
	}
	return NewDispatcherWithClient(client, cfg.BundleID, logger), nil
}

func NewDispatcherWithClient(client APNSClient, bundleID string, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client: client,
		topic:  bundleID,
		logger: logger.With("component", "APNSDispatcher"),
	}
}

// Dispatch sends info to each token. APNs has no multicast endpoint, so the
// tokens are pushed one at a time. A non-empty topic overrides the bundle ID.
func (d *Dispatcher) Dispatch(ctx context.Context, tokens []string, info notification.Info, topic string) ([]dispatch.Outcome, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	if topic == "" {
		topic = d.topic
	}
	pl, err := buildPayload(info)
	if err != nil {
		return nil, err
	}

	outcomes := make([]dispatch.Outcome, len(tokens))
	var transportErrs []error
	for idx, deviceToken := range tokens {
		outcomes[idx] = dispatch.Outcome{Target: deviceToken}

		res, err := d.client.PushWithContext(ctx, &apns2.Notification{
			DeviceToken: deviceToken,
			Topic:       topic,
			Payload:     pl,
		})
		if err != nil {
			d.logger.Error("APNs transport failed", "token", deviceToken, "err", err)
			outcomes[idx].Err = fmt.Errorf("apns transport failed: %w", err)
			transportErrs = append(transportErrs, err)
			continue
		}
		if res.Sent() {
			continue
		}

		outcomes[idx].Err = &RejectedError{StatusCode: res.StatusCode, Reason: res.Reason}
		switch res.Reason {
		case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
			outcomes[idx].Invalid = true
		default:
			// The token may be fine; the configuration or payload is not.
			d.logger.Warn("APNs rejected notification", "reason", res.Reason, "status", res.StatusCode)
		}
	}

	if len(transportErrs) == len(tokens) {
		return nil, fmt.Errorf("apns transport failed for all %d tokens: %w", len(tokens), errors.Join(transportErrs...))
	}
	return outcomes, nil
}

// buildPayload renders info with the apns2 payload builder. Custom data keys
// come from the encoded APNs section so domain values are already on the wire.
func buildPayload(info notification.Info) (*payload.Payload, error) {
	encoded, err := info.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode apns payload: %w", err)
	}

	pl := payload.NewPayload()
	if info.Title != "" {
		pl.AlertTitle(info.Title)
	}
	if info.Alert.Body != "" {
		pl.AlertBody(info.Alert.Body)
	}
	if info.Alert.LocalizationKey != "" {
		pl.AlertLocKey(info.Alert.LocalizationKey)
	}
	if len(info.Alert.LocalizationArgs) > 0 {
		pl.AlertLocArgs(info.Alert.LocalizationArgs)
	}
	if info.Alert.ActionLocalizationKey != "" {
		pl.AlertActionLocKey(info.Alert.ActionLocalizationKey)
	}
	if info.Alert.LaunchImage != "" {
		pl.AlertLaunchImage(info.Alert.LaunchImage)
	}
	if info.SoundName != "" {
		pl.Sound(info.SoundName)
	}
	if info.Badge != nil {
		pl.Badge(*info.Badge)
	}
	if info.ContentAvailable {
		pl.ContentAvailable()
	}
	if info.Category != "" {
		pl.Category(info.Category)
	}

	section, _ := encoded[notification.SectionAPNS].(map[string]any)
	for k, v := range section {
		if k == notification.FieldAPS {
			continue
		}
		pl.Custom(k, v)
	}
	return pl, nil
}
