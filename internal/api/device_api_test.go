package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	pushv1 "github.com/tinywideclouds/go-platform/pkg/notification/v1"
	"github.com/tinywideclouds/go-skykit/internal/api"
	"github.com/tinywideclouds/go-skykit/pkg/dispatch"
)

type MockDeviceStore struct {
	mock.Mock
}

func (m *MockDeviceStore) RegisterDevice(ctx context.Context, device dispatch.Device) error {
	return m.Called(ctx, device).Error(0)
}

func (m *MockDeviceStore) UnregisterDevice(ctx context.Context, deviceID string) error {
	return m.Called(ctx, deviceID).Error(0)
}

func (m *MockDeviceStore) Device(ctx context.Context, deviceID string) (dispatch.Device, error) {
	args := m.Called(ctx, deviceID)
	return args.Get(0).(dispatch.Device), args.Error(1)
}

func (m *MockDeviceStore) DevicesForUser(ctx context.Context, userID string) ([]dispatch.Device, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]dispatch.Device), args.Error(1)
}

const testUser = "urn:sm:user:alice"

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func withUser(req *http.Request, userID string) *http.Request {
	return req.WithContext(middleware.ContextWithUser(req.Context(), userID, userID, ""))
}

func jsonBody(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(raw)
}

func TestRegisterDevice(t *testing.T) {
	logger := newTestLogger()

	t.Run("Token device with generated id", func(t *testing.T) {
		store := new(MockDeviceStore)
		deviceAPI := api.NewDeviceAPI(store, logger)

		store.On("RegisterDevice", mock.Anything, mock.MatchedBy(func(d dispatch.Device) bool {
			return d.ID != "" && d.UserID == testUser && d.Platform == dispatch.PlatformFCM && d.Token == "fcm-token"
		})).Return(nil)

		body := jsonBody(t, api.RegisterDeviceRequest{Platform: "fcm", Token: "fcm-token"})
		req := withUser(httptest.NewRequest(http.MethodPost, "/api/v1/devices", body), testUser)
		w := httptest.NewRecorder()

		deviceAPI.RegisterDevice(w, req)

		require.Equal(t, http.StatusCreated, w.Code)
		var resp api.RegisterDeviceResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.ID)
		store.AssertExpectations(t)
	})

	t.Run("Web subscription", func(t *testing.T) {
		store := new(MockDeviceStore)
		deviceAPI := api.NewDeviceAPI(store, logger)

		sub := &pushv1.WebPushSubscription{Endpoint: "https://push.example.com/abc"}
		sub.Keys.P256dh = []byte("p256dh-key")
		sub.Keys.Auth = []byte("auth-key")

		store.On("Device", mock.Anything, "browser-1").Return(dispatch.Device{}, dispatch.ErrDeviceNotFound)
		store.On("RegisterDevice", mock.Anything, mock.MatchedBy(func(d dispatch.Device) bool {
			return d.ID == "browser-1" && d.Platform == dispatch.PlatformWeb &&
				d.WebSubscription != nil && d.WebSubscription.Endpoint == sub.Endpoint
		})).Return(nil)

		body := jsonBody(t, api.RegisterDeviceRequest{ID: "browser-1", Platform: "web", WebSubscription: sub})
		req := withUser(httptest.NewRequest(http.MethodPost, "/api/v1/devices", body), testUser)
		w := httptest.NewRecorder()

		deviceAPI.RegisterDevice(w, req)

		assert.Equal(t, http.StatusCreated, w.Code)
		store.AssertExpectations(t)
	})

	t.Run("Validation failures", func(t *testing.T) {
		store := new(MockDeviceStore)
		deviceAPI := api.NewDeviceAPI(store, logger)

		cases := map[string]api.RegisterDeviceRequest{
			"unknown platform":        {Platform: "pager", Token: "x"},
			"missing token":           {Platform: "apns"},
			"missing subscription":    {Platform: "web"},
			"incomplete subscription": {Platform: "web", WebSubscription: &pushv1.WebPushSubscription{Endpoint: "https://push.example.com"}},
		}
		for name, payload := range cases {
			t.Run(name, func(t *testing.T) {
				req := withUser(httptest.NewRequest(http.MethodPost, "/api/v1/devices", jsonBody(t, payload)), testUser)
				w := httptest.NewRecorder()
				deviceAPI.RegisterDevice(w, req)
				assert.Equal(t, http.StatusBadRequest, w.Code)
			})
		}
		store.AssertNotCalled(t, "RegisterDevice", mock.Anything, mock.Anything)
	})

	t.Run("Device owned by another user", func(t *testing.T) {
		store := new(MockDeviceStore)
		deviceAPI := api.NewDeviceAPI(store, logger)
		store.On("Device", mock.Anything, "phone-1").Return(dispatch.Device{ID: "phone-1", UserID: "urn:sm:user:bob"}, nil)

		body := jsonBody(t, api.RegisterDeviceRequest{ID: "phone-1", Platform: "fcm", Token: "t"})
		req := withUser(httptest.NewRequest(http.MethodPost, "/api/v1/devices", body), testUser)
		w := httptest.NewRecorder()

		deviceAPI.RegisterDevice(w, req)

		assert.Equal(t, http.StatusConflict, w.Code)
		store.AssertNotCalled(t, "RegisterDevice", mock.Anything, mock.Anything)
	})

	t.Run("Unauthorized", func(t *testing.T) {
		deviceAPI := api.NewDeviceAPI(new(MockDeviceStore), logger)
		body := jsonBody(t, api.RegisterDeviceRequest{Platform: "fcm", Token: "t"})
		w := httptest.NewRecorder()

		deviceAPI.RegisterDevice(w, httptest.NewRequest(http.MethodPost, "/api/v1/devices", body))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestUnregisterDevice(t *testing.T) {
	logger := newTestLogger()

	newRequest := func(id string) *http.Request {
		req := httptest.NewRequest(http.MethodDelete, "/api/v1/devices/"+id, nil)
		req.SetPathValue("id", id)
		return withUser(req, testUser)
	}

	t.Run("Success", func(t *testing.T) {
		store := new(MockDeviceStore)
		deviceAPI := api.NewDeviceAPI(store, logger)
		store.On("Device", mock.Anything, "phone-1").Return(dispatch.Device{ID: "phone-1", UserID: testUser}, nil)
		store.On("UnregisterDevice", mock.Anything, "phone-1").Return(nil)

		w := httptest.NewRecorder()
		deviceAPI.UnregisterDevice(w, newRequest("phone-1"))

		assert.Equal(t, http.StatusNoContent, w.Code)
		store.AssertExpectations(t)
	})

	t.Run("Unknown device is a no-op", func(t *testing.T) {
		store := new(MockDeviceStore)
		deviceAPI := api.NewDeviceAPI(store, logger)
		store.On("Device", mock.Anything, "ghost").Return(dispatch.Device{}, dispatch.ErrDeviceNotFound)

		w := httptest.NewRecorder()
		deviceAPI.UnregisterDevice(w, newRequest("ghost"))

		assert.Equal(t, http.StatusNoContent, w.Code)
		store.AssertNotCalled(t, "UnregisterDevice", mock.Anything, mock.Anything)
	})

	t.Run("Other user's device is hidden", func(t *testing.T) {
		store := new(MockDeviceStore)
		deviceAPI := api.NewDeviceAPI(store, logger)
		store.On("Device", mock.Anything, "phone-2").Return(dispatch.Device{ID: "phone-2", UserID: "urn:sm:user:bob"}, nil)

		w := httptest.NewRecorder()
		deviceAPI.UnregisterDevice(w, newRequest("phone-2"))

		assert.Equal(t, http.StatusNotFound, w.Code)
		store.AssertNotCalled(t, "UnregisterDevice", mock.Anything, mock.Anything)
	})
}

func TestListDevices(t *testing.T) {
	store := new(MockDeviceStore)
	deviceAPI := api.NewDeviceAPI(store, newTestLogger())
	store.On("DevicesForUser", mock.Anything, testUser).Return([]dispatch.Device{
		{ID: "phone-1", UserID: testUser, Platform: dispatch.PlatformAPNS, Token: "apns-token"},
	}, nil)

	w := httptest.NewRecorder()
	deviceAPI.ListDevices(w, withUser(httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil), testUser))

	require.Equal(t, http.StatusOK, w.Code)
	var devices []dispatch.Device
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &devices))
	require.Len(t, devices, 1)
	assert.Equal(t, "phone-1", devices[0].ID)
}
