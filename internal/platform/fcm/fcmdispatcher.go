// Package fcm delivers push payloads through Firebase Cloud Messaging.
package fcm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"firebase.google.com/go/v4/messaging"
	"github.com/tinywideclouds/go-skykit/pkg/dispatch"
	"github.com/tinywideclouds/go-skykit/pkg/notification"
)

// maxMulticastTokens is the FCM limit for one multicast request.
const maxMulticastTokens = 500

// ErrPayloadRejected is reported for every token when FCM refuses the message itself.
var ErrPayloadRejected = errors.New("fcm rejected the message as invalid")

// MessagingClient defines the subset of the Firebase Messaging API we use.
// *messaging.Client satisfies it.
type MessagingClient interface {
	SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

type Dispatcher struct {
	client MessagingClient
	icon   string
	logger *slog.Logger
}

func NewDispatcher(client MessagingClient, icon string, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client: client,
		icon:   icon,
		logger: logger.With("component", "FCMDispatcher"),
	}
}

// Dispatch sends info to tokens in multicast chunks. The topic is not used by
// FCM token sends.
func (d *Dispatcher) Dispatch(ctx context.Context, tokens []string, info notification.Info, _ string) ([]dispatch.Outcome, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	data, err := info.StringData()
	if err != nil {
		return nil, fmt.Errorf("failed to encode fcm data: %w", err)
	}

	outcomes := make([]dispatch.Outcome, 0, len(tokens))
	for start := 0; start < len(tokens); start += maxMulticastTokens {
		chunk := tokens[start:min(start+maxMulticastTokens, len(tokens))]
		results, err := d.send(ctx, chunk, d.message(chunk, info, data))
		if err != nil {
			if len(outcomes) == 0 {
				return nil, err
			}
			// Earlier chunks were delivered; report this one per token.
			for _, token := range chunk {
				outcomes = append(outcomes, dispatch.Outcome{Target: token, Err: err})
			}
			continue
		}
		outcomes = append(outcomes, results...)
	}
	return outcomes, nil
}

func (d *Dispatcher) send(ctx context.Context, tokens []string, msg *messaging.MulticastMessage) ([]dispatch.Outcome, error) {
	br, err := d.client.SendEachForMulticast(ctx, msg)
	if err != nil {
		if messaging.IsInvalidArgument(err) {
			d.logger.Error("FCM rejected batch as InvalidArgument", "tokens", len(tokens), "err", err)
			outcomes := make([]dispatch.Outcome, len(tokens))
			for idx, token := range tokens {
				outcomes[idx] = dispatch.Outcome{Target: token, Err: fmt.Errorf("%w: %w", ErrPayloadRejected, err)}
			}
			return outcomes, nil
		}
		return nil, fmt.Errorf("fcm transport failed: %w", err)
	}

	outcomes := make([]dispatch.Outcome, len(tokens))
	for idx, token := range tokens {
		outcomes[idx] = dispatch.Outcome{Target: token}
		if idx >= len(br.Responses) {
			outcomes[idx].Err = errors.New("fcm returned no response for token")
			continue
		}
		resp := br.Responses[idx]
		if resp.Success {
			continue
		}
		outcomes[idx].Err = resp.Error
		if messaging.IsInvalidArgument(resp.Error) || messaging.IsRegistrationTokenNotRegistered(resp.Error) {
			outcomes[idx].Invalid = true
		}
	}
	d.logger.Debug("FCM multicast sent", "success", br.SuccessCount, "failure", br.FailureCount)
	return outcomes, nil
}

func (d *Dispatcher) message(tokens []string, info notification.Info, data map[string]string) *messaging.MulticastMessage {
	msg := &messaging.MulticastMessage{
		Tokens: tokens,
		Data:   data,
		Notification: &messaging.Notification{
			Title: info.Title,
			Body:  info.Alert.Body,
		},
		Webpush: &messaging.WebpushConfig{
			Notification: &messaging.WebpushNotification{
				Title: info.Title,
				Body:  info.Alert.Body,
				Icon:  d.icon,
			},
		},
	}
	if info.SoundName != "" || info.Alert.LocalizationKey != "" {
		msg.Android = &messaging.AndroidConfig{
			Notification: &messaging.AndroidNotification{
				Sound:       info.SoundName,
				BodyLocKey:  info.Alert.LocalizationKey,
				BodyLocArgs: info.Alert.LocalizationArgs,
			},
		}
	}
	return msg
}
