// Package notification holds the inbound notification model decoded from a
// push payload, and the outbound Info payload sent by push operations.
package notification

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tinywideclouds/go-skykit/pkg/serialization"
)

// ID identifies a notification. IDs compare by value.
type ID string

// Type enumerates the notification kinds delivered by the backend.
type Type int

const (
	TypeQuery            Type = 1
	TypeReadNotification Type = 3
	TypePushNotification Type = 4
)

func (t Type) String() string {
	switch t {
	case TypeQuery:
		return "query"
	case TypeReadNotification:
		return "read_notification"
	case TypePushNotification:
		return "push_notification"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// Top-level payload fields.
const (
	FieldNotificationID   = "notification_id"
	FieldNotificationType = "notification_type"
	FieldContainerID      = "container_id"
	FieldSubscriptionID   = "subscription_id"
	FieldContentOmitted   = "content_omitted"
	FieldAPS              = "aps"
)

// ErrMalformedPayload is returned when the payload is not a mapping.
var ErrMalformedPayload = errors.New("notification payload is not a mapping")

// UnknownNotificationTypeError is returned for a type code outside {1, 3, 4}.
// A missing type field is reported with Code 0.
type UnknownNotificationTypeError struct {
	Code any
}

func (e *UnknownNotificationTypeError) Error() string {
	return fmt.Sprintf("unknown notification type %v", e.Code)
}

// Notification is an immutable, decoded push notification.
type Notification struct {
	id             ID
	kind           Type
	containerID    string
	subscriptionID string
	pruned         bool
	alert          Alert
	soundName      string
	badge          *int
	data           map[string]any
}

// Alert carries the alert fields of a push notification.
type Alert struct {
	Body                  string
	LocalizationKey       string
	LocalizationArgs      []string
	ActionLocalizationKey string
	LaunchImage           string
}

// Parse decodes a JSON push payload.
func Parse(data []byte) (*Notification, error) {
	var wire any
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("failed to parse notification json: %w", err)
	}
	return Decode(wire)
}

// Decode builds a Notification from a wire payload. The payload is first run
// through the data codec so custom fields surface as domain values.
func Decode(wire any) (*Notification, error) {
	raw, ok := wire.(map[string]any)
	if !ok {
		return nil, ErrMalformedPayload
	}
	decoded, err := serialization.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode notification payload: %w", err)
	}
	m := decoded.(map[string]any)

	kind, err := decodeType(m[FieldNotificationType])
	if err != nil {
		return nil, err
	}

	n := &Notification{
		id:             ID(stringField(m, FieldNotificationID)),
		kind:           kind,
		containerID:    stringField(m, FieldContainerID),
		subscriptionID: stringField(m, FieldSubscriptionID),
		pruned:         truthy(m[FieldContentOmitted]),
		data:           make(map[string]any),
	}

	if aps, ok := m[FieldAPS].(map[string]any); ok {
		n.alert = decodeAlert(aps[apsAlert])
		n.soundName = stringField(aps, apsSound)
		if badge, ok := intValue(aps[apsBadge]); ok {
			n.badge = &badge
		}
	}

	for key, value := range m {
		switch key {
		case FieldNotificationID, FieldNotificationType, FieldContainerID,
			FieldSubscriptionID, FieldContentOmitted, FieldAPS:
			continue
		}
		n.data[key] = value
	}
	return n, nil
}

func decodeType(v any) (Type, error) {
	if v == nil {
		return 0, &UnknownNotificationTypeError{Code: 0}
	}
	code, ok := intValue(v)
	if !ok {
		return 0, &UnknownNotificationTypeError{Code: v}
	}
	switch t := Type(code); t {
	case TypeQuery, TypeReadNotification, TypePushNotification:
		return t, nil
	default:
		return 0, &UnknownNotificationTypeError{Code: code}
	}
}

func decodeAlert(v any) Alert {
	switch alert := v.(type) {
	case string:
		return Alert{Body: alert}
	case map[string]any:
		return Alert{
			Body:                  stringField(alert, alertBody),
			LocalizationKey:       stringField(alert, alertLocKey),
			LocalizationArgs:      stringSlice(alert[alertLocArgs]),
			ActionLocalizationKey: stringField(alert, alertActionLocKey),
			LaunchImage:           stringField(alert, alertLaunchImage),
		}
	default:
		return Alert{}
	}
}

func (n *Notification) ID() ID                 { return n.id }
func (n *Notification) Type() Type             { return n.kind }
func (n *Notification) ContainerID() string    { return n.containerID }
func (n *Notification) SubscriptionID() string { return n.subscriptionID }

// IsPruned reports whether the backend omitted content because the payload
// was too large. The client must re-fetch before relying on the content.
func (n *Notification) IsPruned() bool { return n.pruned }

// Alert returns the alert fields. They are only populated for push notifications.
func (n *Notification) Alert() Alert {
	a := n.alert
	a.LocalizationArgs = append([]string(nil), n.alert.LocalizationArgs...)
	return a
}

func (n *Notification) AlertBody() string { return n.alert.Body }
func (n *Notification) SoundName() string { return n.soundName }

// Badge returns the badge count and whether the payload carried one.
func (n *Notification) Badge() (int, bool) {
	if n.badge == nil {
		return 0, false
	}
	return *n.badge, true
}

// Data returns a deep copy of the custom top-level fields, decoded by the
// data codec.
func (n *Notification) Data() map[string]any {
	return cloneMap(n.data)
}
