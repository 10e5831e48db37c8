// Package push implements the operation that sends one notification payload
// to a list of devices or users and reports per-recipient and aggregate
// outcomes.
package push

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tinywideclouds/go-skykit/pkg/dispatch"
	"github.com/tinywideclouds/go-skykit/pkg/notification"
)

var (
	ErrEmptyRecipientList = errors.New("push: recipient list is empty")
	ErrInvalidRecipient   = errors.New("push: blank recipient id")
	ErrDuplicateRecipient = errors.New("push: duplicate recipient id")
	ErrAlreadyStarted     = errors.New("push: operation already started")
	ErrCancelled          = errors.New("push: operation cancelled")
	ErrBatchFailed        = errors.New("push: batch send failed")
	ErrNoResult           = errors.New("push: transport returned no result for recipient")
)

// State is the lifecycle position of a SendOperation.
type State int

const (
	StateCreated State = iota
	StateExecuting
	StateCompleted
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateExecuting:
		return "executing"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether s is Completed or Cancelled.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// PerSendHandler is called once per recipient with its outcome.
type PerSendHandler func(recipientID string, err error)

// CompletionHandler is called exactly once when the operation reaches a
// terminal state. err is non-nil only when the batch as a whole failed or the
// operation was cancelled; per-recipient errors are not repeated here.
type CompletionHandler func(recipientIDs []string, err error)

// Observer receives outcome notifications, typically for metrics.
type Observer interface {
	RecipientFinished(kind dispatch.TargetKind, err error)
	OperationFinished(kind dispatch.TargetKind, state State, err error, elapsed time.Duration)
}

// Option configures a SendOperation at construction.
type Option func(*SendOperation)

// WithTopic sets the topic the transport routes the payload under.
func WithTopic(topic string) Option {
	return func(op *SendOperation) { op.topic = topic }
}

func WithPerSendHandler(h PerSendHandler) Option {
	return func(op *SendOperation) { op.perSend = h }
}

func WithCompletionHandler(h CompletionHandler) Option {
	return func(op *SendOperation) { op.completion = h }
}

// WithBatchSize splits the recipients into transport calls of at most n
// recipients. Zero or less sends everything in one call.
func WithBatchSize(n int) Option {
	return func(op *SendOperation) { op.batchSize = n }
}

func WithObserver(o Observer) Option {
	return func(op *SendOperation) { op.observer = o }
}

func WithLogger(logger *slog.Logger) Option {
	return func(op *SendOperation) { op.logger = logger }
}

// SendOperation sends one notification to a fixed set of recipients.
//
// Every recipient receives at most one per-send callback, and the completion
// handler fires exactly once, after all per-send callbacks. Callbacks are
// delivered one at a time.
type SendOperation struct {
	id         string
	info       notification.Info
	kind       dispatch.TargetKind
	recipients []string
	topic      string
	batchSize  int
	perSend    PerSendHandler
	completion CompletionHandler
	observer   Observer
	logger     *slog.Logger

	mu        sync.Mutex
	state     State
	cancelled bool
	cancel    context.CancelFunc
	started   time.Time
	reported  map[string]bool
	open      map[string]bool
	inflight  sync.WaitGroup

	deliverMu  sync.Mutex
	finishOnce sync.Once
}

// NewSendOperation validates the recipients and builds an operation in the
// Created state.
func NewSendOperation(info notification.Info, kind dispatch.TargetKind, recipientIDs []string, opts ...Option) (*SendOperation, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %s", dispatch.ErrUnknownTargetKind, kind)
	}
	if len(recipientIDs) == 0 {
		return nil, ErrEmptyRecipientList
	}
	seen := make(map[string]bool, len(recipientIDs))
	for _, id := range recipientIDs {
		if strings.TrimSpace(id) == "" {
			return nil, ErrInvalidRecipient
		}
		if seen[id] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateRecipient, id)
		}
		seen[id] = true
	}

	op := &SendOperation{
		id:         uuid.NewString(),
		info:       info,
		kind:       kind,
		recipients: append([]string(nil), recipientIDs...),
		reported:   make(map[string]bool, len(recipientIDs)),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(op)
	}
	op.logger = op.logger.With("component", "SendOperation", "operation_id", op.id, "target", kind.String())
	return op, nil
}

// NewUserOperation sends info to every device of the given users.
func NewUserOperation(info notification.Info, userIDs []string, opts ...Option) (*SendOperation, error) {
	return NewSendOperation(info, dispatch.TargetUser, userIDs, opts...)
}

// NewDeviceOperation sends info to the given devices.
func NewDeviceOperation(info notification.Info, deviceIDs []string, opts ...Option) (*SendOperation, error) {
	return NewSendOperation(info, dispatch.TargetDevice, deviceIDs, opts...)
}

func (op *SendOperation) ID() string                { return op.id }
func (op *SendOperation) Info() notification.Info   { return op.info }
func (op *SendOperation) Kind() dispatch.TargetKind { return op.kind }
func (op *SendOperation) Topic() string             { return op.topic }

func (op *SendOperation) RecipientIDs() []string {
	return append([]string(nil), op.recipients...)
}

func (op *SendOperation) State() State {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.state
}

// Start runs the operation to completion using transport and returns the
// error carried by the completion handler. It may be called once.
func (op *SendOperation) Start(ctx context.Context, transport dispatch.Transport) error {
	op.mu.Lock()
	switch op.state {
	case StateCreated:
	case StateCancelled:
		op.mu.Unlock()
		return ErrCancelled
	default:
		op.mu.Unlock()
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	op.state = StateExecuting
	op.cancel = cancel
	op.started = time.Now()
	op.mu.Unlock()

	op.logger.Debug("Send operation started", "recipients", len(op.recipients), "topic", op.topic)

	payload, err := op.info.Encode()
	if err != nil {
		return op.finish(fmt.Errorf("%w: failed to encode notification: %w", ErrBatchFailed, err))
	}

	var batchErr error
	for _, batch := range op.batches() {
		if op.checkCancelled(ctx) {
			break
		}
		if err := op.sendBatch(ctx, transport, payload, batch); err != nil {
			batchErr = err
			break
		}
	}
	return op.finish(batchErr)
}

// Cancel stops the operation. Before Start it completes immediately as
// cancelled. During execution no further batches are sent; outcomes of
// recipients already attempted are still delivered.
func (op *SendOperation) Cancel() {
	op.mu.Lock()
	switch op.state {
	case StateCreated:
		op.state = StateCancelled
		op.cancelled = true
		op.mu.Unlock()
		op.complete(StateCancelled, ErrCancelled)
	case StateExecuting:
		op.cancelled = true
		cancel := op.cancel
		op.mu.Unlock()
		cancel()
	default:
		op.mu.Unlock()
	}
}

func (op *SendOperation) batches() [][]string {
	size := op.batchSize
	if size <= 0 || size > len(op.recipients) {
		size = len(op.recipients)
	}
	var out [][]string
	for start := 0; start < len(op.recipients); start += size {
		end := min(start+size, len(op.recipients))
		out = append(out, op.recipients[start:end])
	}
	return out
}

func (op *SendOperation) sendBatch(ctx context.Context, transport dispatch.Transport, payload map[string]any, batch []string) error {
	op.mu.Lock()
	op.open = make(map[string]bool, len(batch))
	for _, id := range batch {
		op.open[id] = true
	}
	op.mu.Unlock()

	req := dispatch.SendRequest{
		OperationID:  op.id,
		Kind:         op.kind,
		RecipientIDs: append([]string(nil), batch...),
		Topic:        op.topic,
		Payload:      payload,
	}
	sendErr := transport.Send(ctx, req, op.report)

	// Close the batch, then wait for reports that were accepted before it closed.
	op.mu.Lock()
	op.open = nil
	op.mu.Unlock()
	op.inflight.Wait()

	cancelled := op.checkCancelled(ctx)
	var unreported []string
	op.mu.Lock()
	for _, id := range batch {
		if !op.reported[id] {
			unreported = append(unreported, id)
		}
	}
	op.mu.Unlock()

	switch {
	case cancelled:
		if len(unreported) > 0 {
			op.logger.Info("Recipients not attempted before cancellation", "count", len(unreported))
		}
	case sendErr != nil && len(unreported) == len(batch):
		op.logger.Error("Batch send failed", "recipients", len(batch), "err", sendErr)
		return fmt.Errorf("%w: %w", ErrBatchFailed, sendErr)
	case sendErr != nil:
		op.logger.Warn("Batch send failed after partial delivery", "unreported", len(unreported), "err", sendErr)
		for _, id := range unreported {
			op.settle(id, sendErr)
		}
	default:
		for _, id := range unreported {
			op.settle(id, ErrNoResult)
		}
	}
	return nil
}

// report is the dispatch.ReportFunc handed to the transport.
func (op *SendOperation) report(recipientID string, err error) {
	op.mu.Lock()
	if !op.open[recipientID] || op.reported[recipientID] {
		op.mu.Unlock()
		op.logger.Debug("Dropping unexpected recipient report", "recipient", recipientID)
		return
	}
	op.reported[recipientID] = true
	op.inflight.Add(1)
	op.mu.Unlock()

	defer op.inflight.Done()
	op.deliver(recipientID, err)
}

func (op *SendOperation) settle(recipientID string, err error) {
	op.mu.Lock()
	op.reported[recipientID] = true
	op.mu.Unlock()
	op.deliver(recipientID, err)
}

func (op *SendOperation) deliver(recipientID string, err error) {
	op.deliverMu.Lock()
	defer op.deliverMu.Unlock()

	if err != nil {
		op.logger.Debug("Recipient send failed", "recipient", recipientID, "err", err)
	}
	if op.observer != nil {
		op.observer.RecipientFinished(op.kind, err)
	}
	if op.perSend != nil {
		op.perSend(recipientID, err)
	}
}

func (op *SendOperation) checkCancelled(ctx context.Context) bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	if ctx.Err() != nil {
		op.cancelled = true
	}
	return op.cancelled
}

func (op *SendOperation) finish(err error) error {
	op.mu.Lock()
	state := StateCompleted
	if op.cancelled {
		state = StateCancelled
		err = ErrCancelled
	}
	op.state = state
	op.mu.Unlock()

	op.complete(state, err)
	return err
}

func (op *SendOperation) complete(state State, err error) {
	op.finishOnce.Do(func() {
		op.deliverMu.Lock()
		defer op.deliverMu.Unlock()

		var elapsed time.Duration
		if !op.started.IsZero() {
			elapsed = time.Since(op.started)
		}
		op.logger.Info("Send operation finished", "state", state.String(), "elapsed", elapsed, "err", err)
		if op.observer != nil {
			op.observer.OperationFinished(op.kind, state, err, elapsed)
		}
		if op.completion != nil {
			op.completion(op.RecipientIDs(), err)
		}
	})
}
