// Package api holds the gateway's HTTP handlers.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	pushv1 "github.com/tinywideclouds/go-platform/pkg/notification/v1"
	"github.com/tinywideclouds/go-skykit/pkg/dispatch"
)

type DeviceAPI struct {
	Store  dispatch.DeviceStore
	Logger *slog.Logger
}

func NewDeviceAPI(store dispatch.DeviceStore, logger *slog.Logger) *DeviceAPI {
	return &DeviceAPI{
		Store:  store,
		Logger: logger.With("component", "DeviceAPI"),
	}
}

// RegisterDeviceRequest registers a token device (fcm, apns) or a web
// subscription. ID is optional; a new one is generated when absent.
type RegisterDeviceRequest struct {
	ID              string                      `json:"id,omitempty"`
	Platform        string                      `json:"platform"`
	Token           string                      `json:"token,omitempty"`
	WebSubscription *pushv1.WebPushSubscription `json:"web_subscription,omitempty"`
}

type RegisterDeviceResponse struct {
	ID string `json:"id"`
}

// currentUser resolves the authenticated user handle to its canonical URN form.
func (api *DeviceAPI) currentUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := middleware.GetUserHandleFromContext(r.Context())
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	userURN, err := urn.Parse(userID)
	if err != nil {
		api.Logger.Warn("Rejected malformed user handle", "user", userID, "err", err)
		response.WriteJSONError(w, http.StatusUnauthorized, "invalid user handle")
		return "", false
	}
	return userURN.String(), true
}

func (api *DeviceAPI) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := api.currentUser(w, r)
	if !ok {
		return
	}

	var req RegisterDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	platform, err := dispatch.ParsePlatform(req.Platform)
	if err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch platform {
	case dispatch.PlatformWeb:
		sub := req.WebSubscription
		if sub == nil || sub.Endpoint == "" || len(sub.Keys.P256dh) == 0 || len(sub.Keys.Auth) == 0 {
			api.Logger.Warn("RegisterDevice: validation failed", "reason", "incomplete subscription")
			response.WriteJSONError(w, http.StatusBadRequest, "incomplete subscription object")
			return
		}
	default:
		if req.Token == "" {
			response.WriteJSONError(w, http.StatusBadRequest, "missing token")
			return
		}
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	} else if existing, err := api.Store.Device(ctx, req.ID); err == nil && existing.UserID != userID {
		// A device ID owned by someone else cannot be claimed.
		response.WriteJSONError(w, http.StatusConflict, "device id already registered")
		return
	}

	device := dispatch.Device{
		ID:              req.ID,
		UserID:          userID,
		Platform:        platform,
		Token:           req.Token,
		WebSubscription: req.WebSubscription,
		UpdatedAt:       time.Now().UTC(),
	}
	if err := api.Store.RegisterDevice(ctx, device); err != nil {
		api.Logger.Error("Failed to register device", "device_id", device.ID, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	api.Logger.Info("Device registered", "user", userID, "device_id", device.ID, "platform", platform)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(RegisterDeviceResponse{ID: device.ID})
}

// UnregisterDevice removes one of the caller's devices. Unknown devices are
// treated as already removed.
func (api *DeviceAPI) UnregisterDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := api.currentUser(w, r)
	if !ok {
		return
	}
	deviceID := r.PathValue("id")
	if deviceID == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing device id")
		return
	}

	device, err := api.Store.Device(ctx, deviceID)
	switch {
	case errors.Is(err, dispatch.ErrDeviceNotFound):
		w.WriteHeader(http.StatusNoContent)
		return
	case err != nil:
		api.Logger.Error("Failed to load device", "device_id", deviceID, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	case device.UserID != userID:
		response.WriteJSONError(w, http.StatusNotFound, "device not found")
		return
	}

	if err := api.Store.UnregisterDevice(ctx, deviceID); err != nil {
		api.Logger.Error("Failed to unregister device", "device_id", deviceID, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListDevices returns the caller's devices.
func (api *DeviceAPI) ListDevices(w http.ResponseWriter, r *http.Request) {
	userID, ok := api.currentUser(w, r)
	if !ok {
		return
	}
	devices, err := api.Store.DevicesForUser(r.Context(), userID)
	if err != nil {
		api.Logger.Error("Failed to list devices", "user", userID, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(devices)
}
