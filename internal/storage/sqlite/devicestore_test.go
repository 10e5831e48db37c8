package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	pushv1 "github.com/tinywideclouds/go-platform/pkg/notification/v1"
	"github.com/tinywideclouds/go-skykit/internal/storage/sqlite"
	"github.com/tinywideclouds/go-skykit/pkg/dispatch"
)

func openStore(t *testing.T) *sqlite.DeviceStore {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "devices.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestDeviceStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	registeredAt := time.Date(2024, 3, 1, 10, 30, 0, 123456000, time.UTC)

	phone := dispatch.Device{ID: "phone", UserID: "alice", Platform: dispatch.PlatformAPNS, Token: "apns-token", UpdatedAt: registeredAt}
	require.NoError(t, store.RegisterDevice(ctx, phone))

	t.Run("Device round trips", func(t *testing.T) {
		got, err := store.Device(ctx, "phone")
		require.NoError(t, err)
		assert.Equal(t, phone.ID, got.ID)
		assert.Equal(t, phone.UserID, got.UserID)
		assert.Equal(t, phone.Platform, got.Platform)
		assert.Equal(t, phone.Token, got.Token)
		assert.True(t, registeredAt.Equal(got.UpdatedAt))
		assert.Nil(t, got.WebSubscription)
	})

	t.Run("Web subscription round trips", func(t *testing.T) {
		sub := &pushv1.WebPushSubscription{Endpoint: "https://push.example/xyz"}
		sub.Keys.P256dh = []byte{4, 1, 2, 3}
		sub.Keys.Auth = []byte{9, 8, 7}
		require.NoError(t, store.RegisterDevice(ctx, dispatch.Device{ID: "browser", UserID: "alice", Platform: dispatch.PlatformWeb, WebSubscription: sub}))

		got, err := store.Device(ctx, "browser")
		require.NoError(t, err)
		require.NotNil(t, got.WebSubscription)
		assert.Equal(t, *sub, *got.WebSubscription)
		assert.False(t, got.UpdatedAt.IsZero())
	})

	t.Run("Devices for user", func(t *testing.T) {
		devices, err := store.DevicesForUser(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, devices, 2)
		assert.Equal(t, "browser", devices[0].ID)
		assert.Equal(t, "phone", devices[1].ID)

		none, err := store.DevicesForUser(ctx, "nobody")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("Re-register moves the device", func(t *testing.T) {
		moved := phone
		moved.UserID = "bob"
		require.NoError(t, store.RegisterDevice(ctx, moved))

		bobs, err := store.DevicesForUser(ctx, "bob")
		require.NoError(t, err)
		require.Len(t, bobs, 1)
		assert.Equal(t, "phone", bobs[0].ID)
	})

	t.Run("Unregister", func(t *testing.T) {
		require.NoError(t, store.UnregisterDevice(ctx, "phone"))
		require.NoError(t, store.UnregisterDevice(ctx, "phone"), "removing twice is fine")

		_, err := store.Device(ctx, "phone")
		assert.ErrorIs(t, err, dispatch.ErrDeviceNotFound)
	})

	t.Run("Blank ID is rejected", func(t *testing.T) {
		assert.Error(t, store.RegisterDevice(ctx, dispatch.Device{UserID: "alice"}))
	})
}

func TestOpen_ReopensExistingDatabase(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "devices.db")

	first, err := sqlite.Open(path)
	require.NoError(t, err)
	require.NoError(t, first.RegisterDevice(ctx, dispatch.Device{ID: "d1", UserID: "u1", Platform: dispatch.PlatformFCM, Token: "t"}))
	require.NoError(t, first.Close())

	second, err := sqlite.Open(path)
	require.NoError(t, err)
	defer second.Close()

	got, err := second.Device(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
}
