// Package pipeline contains the message processing stages that turn Pub/Sub
// push requests into send operations.
package pipeline

import (
	"encoding/json"

	"github.com/tinywideclouds/go-skykit/pkg/dispatch"
	"github.com/tinywideclouds/go-skykit/pkg/notification"
)

// PushRequest is the JSON body of a push-request message:
//
//	{"target": "user", "ids": ["u1"], "topic": "io.app", "notification": {"apns": {...}, "gcm": {...}}}
type PushRequest struct {
	Target       string          `json:"target"`
	IDs          []string        `json:"ids"`
	Topic        string          `json:"topic,omitempty"`
	Notification json.RawMessage `json:"notification"`
}

// PushJob is a validated push request.
type PushJob struct {
	Kind  dispatch.TargetKind
	IDs   []string
	Topic string
	Info  notification.Info
}
