// Package dispatch defines the collaborator contracts used by push operations:
// the transport that delivers a payload, the device registry, and the
// per-platform dispatchers behind a local transport.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	pushv1 "github.com/tinywideclouds/go-platform/pkg/notification/v1"
	"github.com/tinywideclouds/go-skykit/pkg/notification"
)

// TargetKind tells the transport which kind of identifier a recipient is.
type TargetKind int

const (
	TargetDevice TargetKind = iota
	TargetUser
)

var ErrUnknownTargetKind = errors.New("unknown push target kind")

func (k TargetKind) String() string {
	switch k {
	case TargetDevice:
		return "device"
	case TargetUser:
		return "user"
	default:
		return fmt.Sprintf("target(%d)", int(k))
	}
}

// Valid reports whether k is one of the declared kinds.
func (k TargetKind) Valid() bool {
	return k == TargetDevice || k == TargetUser
}

// ParseTargetKind accepts "device" and "user".
func ParseTargetKind(s string) (TargetKind, error) {
	switch s {
	case "device":
		return TargetDevice, nil
	case "user":
		return TargetUser, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownTargetKind, s)
	}
}

// SendRequest is one logical send handed to a Transport.
type SendRequest struct {
	OperationID  string
	Kind         TargetKind
	RecipientIDs []string
	Topic        string
	// Payload is the encoded notification.Info.
	Payload map[string]any
}

// ReportFunc receives the outcome for one recipient. A nil error means success.
type ReportFunc func(recipientID string, err error)

// Transport delivers one payload to one or many recipients.
//
// Send calls report at most once per recipient, before it returns; it may do
// so from several goroutines. A non-nil return means the batch failed as a
// whole (for example, the backend was unreachable).
type Transport interface {
	Send(ctx context.Context, req SendRequest, report ReportFunc) error
}

// Platform names a push delivery network.
type Platform string

const (
	PlatformFCM  Platform = "fcm"
	PlatformAPNS Platform = "apns"
	PlatformWeb  Platform = "web"
)

// ParsePlatform accepts the Platform constants.
func ParsePlatform(s string) (Platform, error) {
	switch p := Platform(s); p {
	case PlatformFCM, PlatformAPNS, PlatformWeb:
		return p, nil
	default:
		return "", fmt.Errorf("unknown platform %q", s)
	}
}

// Device is a registered push endpoint owned by a user.
type Device struct {
	ID              string                      `json:"id"`
	UserID          string                      `json:"user_id"`
	Platform        Platform                    `json:"platform"`
	Token           string                      `json:"token,omitempty"`
	WebSubscription *pushv1.WebPushSubscription `json:"web_subscription,omitempty"`
	UpdatedAt       time.Time                   `json:"updated_at"`
}

var (
	ErrDeviceNotFound = errors.New("device not found")
	ErrNoDevices      = errors.New("user has no registered devices")
)

// DeviceStore is the registry that maps users to their push endpoints.
type DeviceStore interface {
	// RegisterDevice adds or replaces a device, keyed by its ID.
	RegisterDevice(ctx context.Context, device Device) error

	// UnregisterDevice removes a device. Removing an unknown device is not an error.
	UnregisterDevice(ctx context.Context, deviceID string) error

	// Device returns ErrDeviceNotFound for unknown IDs.
	Device(ctx context.Context, deviceID string) (Device, error)

	// DevicesForUser returns an empty slice for users with no devices.
	DevicesForUser(ctx context.Context, userID string) ([]Device, error)
}

// Outcome is the delivery result for a single token or web endpoint.
type Outcome struct {
	Target string
	Err    error
	// Invalid marks endpoints the platform reported as permanently gone.
	Invalid bool
}

// TokenDispatcher sends to token-addressed platforms (FCM, APNs). The returned
// outcomes are parallel to tokens. An error means nothing was delivered.
type TokenDispatcher interface {
	Dispatch(ctx context.Context, tokens []string, info notification.Info, topic string) ([]Outcome, error)
}

// WebDispatcher sends to Web Push subscriptions, with outcomes parallel to subs.
type WebDispatcher interface {
	Dispatch(ctx context.Context, subs []pushv1.WebPushSubscription, info notification.Info) ([]Outcome, error)
}
