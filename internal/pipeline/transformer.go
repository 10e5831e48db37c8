package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-skykit/pkg/dispatch"
	"github.com/tinywideclouds/go-skykit/pkg/notification"
	"github.com/tinywideclouds/go-skykit/pkg/serialization"
)

// PushRequestTransformer unmarshals and validates a raw message payload into
// a PushJob. Invalid messages are skipped so the consumer can dead-letter them.
func PushRequestTransformer(_ context.Context, msg *messagepipeline.Message) (*PushJob, bool, error) {
	var req PushRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal push request from message %s: %w", msg.ID, err)
	}

	job, err := req.validate()
	if err != nil {
		return nil, true, fmt.Errorf("invalid push request in message %s: %w", msg.ID, err)
	}
	return job, false, nil
}

func (r PushRequest) validate() (*PushJob, error) {
	kind, err := dispatch.ParseTargetKind(r.Target)
	if err != nil {
		return nil, err
	}
	if len(r.IDs) == 0 {
		return nil, errors.New("ids must not be empty")
	}
	if len(r.Notification) == 0 {
		return nil, errors.New("notification is required")
	}

	wire, err := serialization.ParseJSON(r.Notification)
	if err != nil {
		return nil, fmt.Errorf("failed to parse notification: %w", err)
	}
	info, err := notification.DecodeInfo(wire)
	if err != nil {
		return nil, fmt.Errorf("failed to decode notification: %w", err)
	}
	return &PushJob{Kind: kind, IDs: r.IDs, Topic: r.Topic, Info: info}, nil
}
