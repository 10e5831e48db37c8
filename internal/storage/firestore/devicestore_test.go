//go:build integration

package firestore_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/go-test/emulators"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pushv1 "github.com/tinywideclouds/go-platform/pkg/notification/v1"
	fs "github.com/tinywideclouds/go-skykit/internal/storage/firestore"
	"github.com/tinywideclouds/go-skykit/pkg/dispatch"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupSuite(t *testing.T) (context.Context, *fs.DeviceStore) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	projectID := "test-device-store"
	conn := emulators.SetupFirestoreEmulator(t, ctx, emulators.GetDefaultFirestoreConfig(projectID))
	client, err := firestore.NewClient(ctx, projectID, conn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return ctx, fs.NewDeviceStore(client, newTestLogger())
}

func TestDeviceStore_Integration(t *testing.T) {
	ctx, store := setupSuite(t)

	t.Run("Token device lifecycle", func(t *testing.T) {
		device := dispatch.Device{ID: "android-1", UserID: "alice", Platform: dispatch.PlatformFCM, Token: "token-android-1"}
		require.NoError(t, store.RegisterDevice(ctx, device))

		got, err := store.Device(ctx, "android-1")
		require.NoError(t, err)
		assert.Equal(t, "alice", got.UserID)
		assert.Equal(t, dispatch.PlatformFCM, got.Platform)
		assert.Equal(t, "token-android-1", got.Token)
		assert.False(t, got.UpdatedAt.IsZero())

		devices, err := store.DevicesForUser(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, devices, 1)
		assert.Equal(t, "android-1", devices[0].ID)

		require.NoError(t, store.UnregisterDevice(ctx, "android-1"))

		_, err = store.Device(ctx, "android-1")
		assert.ErrorIs(t, err, dispatch.ErrDeviceNotFound)
		devices, err = store.DevicesForUser(ctx, "alice")
		require.NoError(t, err)
		assert.Empty(t, devices)
	})

	t.Run("Web device keeps its subscription", func(t *testing.T) {
		sub := &pushv1.WebPushSubscription{Endpoint: "https://fcm.googleapis.com/fcm/send/abc-123"}
		sub.Keys.P256dh = []byte("p256-key-bytes")
		sub.Keys.Auth = []byte("auth-secret")

		require.NoError(t, store.RegisterDevice(ctx, dispatch.Device{
			ID: "browser-1", UserID: "bob", Platform: dispatch.PlatformWeb, WebSubscription: sub,
		}))

		got, err := store.Device(ctx, "browser-1")
		require.NoError(t, err)
		require.NotNil(t, got.WebSubscription)
		assert.Equal(t, sub.Endpoint, got.WebSubscription.Endpoint)
		assert.Equal(t, sub.Keys.P256dh, got.WebSubscription.Keys.P256dh)
		assert.Equal(t, sub.Keys.Auth, got.WebSubscription.Keys.Auth)
	})

	t.Run("Unknown user has no devices", func(t *testing.T) {
		devices, err := store.DevicesForUser(ctx, "nobody")
		require.NoError(t, err)
		assert.Empty(t, devices)
	})

	t.Run("Unregistering an unknown device is not an error", func(t *testing.T) {
		assert.NoError(t, store.UnregisterDevice(ctx, "ghost"))
	})
}
