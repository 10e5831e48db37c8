package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-skykit/pkg/dispatch"
	"github.com/tinywideclouds/go-skykit/pkg/push"
)

// NewProcessor runs one SendOperation per push job over transport. Batch
// failures and cancellations are returned so the message is redelivered;
// per-recipient failures are logged and acknowledged.
func NewProcessor(transport dispatch.Transport, logger *slog.Logger, opts ...push.Option) messagepipeline.StreamProcessor[PushJob] {
	return func(ctx context.Context, original messagepipeline.Message, job *PushJob) error {
		procLogger := logger.With(
			"target", job.Kind.String(),
			"recipients", len(job.IDs),
			"pubsub_msg_id", original.ID,
		)

		failed := 0
		opOpts := append([]push.Option{
			push.WithTopic(job.Topic),
			push.WithLogger(procLogger),
			push.WithPerSendHandler(func(recipientID string, err error) {
				if err != nil {
					failed++
					procLogger.Warn("Push to recipient failed", "recipient", recipientID, "err", err)
				}
			}),
		}, opts...)

		op, err := push.NewSendOperation(job.Info, job.Kind, job.IDs, opOpts...)
		if err != nil {
			// Retrying cannot fix an invalid recipient list.
			procLogger.Error("Dropping invalid push job", "err", err)
			return nil
		}

		err = op.Start(ctx, transport)
		switch {
		case errors.Is(err, push.ErrBatchFailed), errors.Is(err, push.ErrCancelled):
			procLogger.Error("Push job failed; message will be retried", "operation_id", op.ID(), "err", err)
			return err
		case err != nil:
			return err
		}

		procLogger.Info("Push job dispatched", "operation_id", op.ID(), "failed", failed)
		return nil
	}
}
