package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	"github.com/tinywideclouds/go-skykit/pkg/dispatch"
	"github.com/tinywideclouds/go-skykit/pkg/notification"
	"github.com/tinywideclouds/go-skykit/pkg/push"
	"github.com/tinywideclouds/go-skykit/pkg/serialization"
)

const (
	ActionPushUser   = "push:user"
	ActionPushDevice = "push:device"

	HeaderAPIKey = "X-Skygear-API-Key"
)

// Error names and codes reported back to push clients.
const (
	errNameInvalidArgument  = "InvalidArgument"
	errNameResourceNotFound = "ResourceNotFound"
	errNameUnexpected       = "UnexpectedError"

	errCodeInvalidArgument  = 108
	errCodeResourceNotFound = 110
	errCodeUnexpected       = 10000
)

type PushRequest struct {
	Action       string          `json:"action"`
	UserIDs      []string        `json:"user_ids,omitempty"`
	DeviceIDs    []string        `json:"device_ids,omitempty"`
	Notification json.RawMessage `json:"notification"`
	Topic        string          `json:"topic,omitempty"`
}

type PushError struct {
	Name    string `json:"name"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type PushResult struct {
	ID      string `json:"_id"`
	Type    string `json:"_type,omitempty"`
	Name    string `json:"name,omitempty"`
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type PushResponse struct {
	Result []PushResult `json:"result,omitempty"`
	Error  *PushError   `json:"error,omitempty"`
}

// PushAPI accepts push:user and push:device actions and runs them as a
// SendOperation over the gateway's transport.
type PushAPI struct {
	Transport dispatch.Transport
	APIKey    string
	Logger    *slog.Logger
	opts      []push.Option
}

// NewPushAPI builds the handler. An empty apiKey disables the key check.
func NewPushAPI(transport dispatch.Transport, apiKey string, logger *slog.Logger, opts ...push.Option) *PushAPI {
	return &PushAPI{
		Transport: transport,
		APIKey:    apiKey,
		Logger:    logger.With("component", "PushAPI"),
		opts:      opts,
	}
}

func (api *PushAPI) Push(w http.ResponseWriter, r *http.Request) {
	if api.APIKey != "" {
		key := r.Header.Get(HeaderAPIKey)
		if subtle.ConstantTimeCompare([]byte(key), []byte(api.APIKey)) != 1 {
			response.WriteJSONError(w, http.StatusUnauthorized, "invalid api key")
			return
		}
	}

	var req PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	var kind dispatch.TargetKind
	var ids []string
	switch req.Action {
	case ActionPushUser:
		kind, ids = dispatch.TargetUser, req.UserIDs
	case ActionPushDevice:
		kind, ids = dispatch.TargetDevice, req.DeviceIDs
	default:
		response.WriteJSONError(w, http.StatusBadRequest, "unknown action")
		return
	}
	if len(req.Notification) == 0 {
		response.WriteJSONError(w, http.StatusBadRequest, "notification is required")
		return
	}
	wire, err := serialization.ParseJSON(req.Notification)
	if err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid notification")
		return
	}
	info, err := notification.DecodeInfo(wire)
	if err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid notification")
		return
	}

	// Per-send callbacks are serialized by the operation.
	var results []PushResult
	opts := append([]push.Option{
		push.WithTopic(req.Topic),
		push.WithLogger(api.Logger),
		push.WithPerSendHandler(func(recipientID string, err error) {
			results = append(results, resultFor(recipientID, err))
		}),
	}, api.opts...)

	op, err := push.NewSendOperation(info, kind, ids, opts...)
	if err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = op.Start(r.Context(), api.Transport)
	switch {
	case errors.Is(err, push.ErrBatchFailed), errors.Is(err, push.ErrCancelled):
		api.Logger.Error("Push operation failed", "operation_id", op.ID(), "err", err)
		writePushResponse(w, http.StatusBadGateway, PushResponse{
			Error: &PushError{Name: errNameUnexpected, Code: errCodeUnexpected, Message: err.Error()},
		})
		return
	case err != nil:
		api.Logger.Error("Push operation failed", "operation_id", op.ID(), "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "push failed")
		return
	}

	writePushResponse(w, http.StatusOK, PushResponse{Result: results})
}

func resultFor(recipientID string, err error) PushResult {
	if err == nil {
		return PushResult{ID: recipientID}
	}
	res := PushResult{ID: recipientID, Type: "error", Message: err.Error()}
	switch {
	case errors.Is(err, dispatch.ErrDeviceNotFound), errors.Is(err, dispatch.ErrNoDevices):
		res.Name, res.Code = errNameResourceNotFound, errCodeResourceNotFound
	case errors.Is(err, dispatch.ErrUnknownTargetKind):
		res.Name, res.Code = errNameInvalidArgument, errCodeInvalidArgument
	default:
		res.Name, res.Code = errNameUnexpected, errCodeUnexpected
	}
	return res
}

func writePushResponse(w http.ResponseWriter, status int, body PushResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
