package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-skykit/internal/pipeline"
	"github.com/tinywideclouds/go-skykit/pkg/dispatch"
	"github.com/tinywideclouds/go-skykit/pkg/notification"
	"github.com/tinywideclouds/go-skykit/pkg/push"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockTransport struct {
	mock.Mock
}

func (m *mockTransport) Send(ctx context.Context, req dispatch.SendRequest, report dispatch.ReportFunc) error {
	args := m.Called(ctx, req, report)
	return args.Error(0)
}

func TestProcessor(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()
	job := &pipeline.PushJob{
		Kind:  dispatch.TargetDevice,
		IDs:   []string{"d1", "d2"},
		Topic: "io.skygear.app",
		Info:  notification.Info{Title: "Hello"},
	}
	msg := messagepipeline.Message{MessageData: messagepipeline.MessageData{ID: "msg-1"}}

	t.Run("Per-recipient failures are acknowledged", func(t *testing.T) {
		transport := new(mockTransport)
		transport.On("Send", mock.Anything, mock.MatchedBy(func(req dispatch.SendRequest) bool {
			return req.Kind == dispatch.TargetDevice && req.Topic == "io.skygear.app" && len(req.RecipientIDs) == 2
		}), mock.Anything).Run(func(args mock.Arguments) {
			report := args.Get(2).(dispatch.ReportFunc)
			report("d1", nil)
			report("d2", errors.New("unregistered"))
		}).Return(nil).Once()

		processor := pipeline.NewProcessor(transport, logger)
		err := processor(ctx, msg, job)

		require.NoError(t, err)
		transport.AssertExpectations(t)
	})

	t.Run("Batch failure is retried", func(t *testing.T) {
		transport := new(mockTransport)
		transport.On("Send", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("backend down")).Once()

		processor := pipeline.NewProcessor(transport, logger)
		err := processor(ctx, msg, job)

		assert.ErrorIs(t, err, push.ErrBatchFailed)
	})

	t.Run("Invalid job is dropped", func(t *testing.T) {
		transport := new(mockTransport)
		processor := pipeline.NewProcessor(transport, logger)

		err := processor(ctx, msg, &pipeline.PushJob{Kind: dispatch.TargetUser, IDs: []string{"u1", "u1"}})

		assert.NoError(t, err)
		transport.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Extra options reach the operation", func(t *testing.T) {
		transport := new(mockTransport)
		var batches int
		transport.On("Send", mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
			batches++
			req := args.Get(1).(dispatch.SendRequest)
			for _, id := range req.RecipientIDs {
				args.Get(2).(dispatch.ReportFunc)(id, nil)
			}
		}).Return(nil)

		processor := pipeline.NewProcessor(transport, logger, push.WithBatchSize(1))
		require.NoError(t, processor(ctx, msg, job))

		assert.Equal(t, 2, batches)
	})
}
