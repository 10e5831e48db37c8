// Package cache adds a Redis read-aside layer in front of a device registry.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-skykit/pkg/dispatch"
)

var ErrCacheMiss = errors.New("cache miss")

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns ErrCacheMiss (or another error) when no value is available.
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// CachedDeviceStore decorates any DeviceStore with read-aside caching and
// invalidate-on-write.
type CachedDeviceStore struct {
	realStore dispatch.DeviceStore
	cache     CacheClient
	ttl       time.Duration
	logger    *slog.Logger
}

func NewCachedDeviceStore(realStore dispatch.DeviceStore, cache CacheClient, ttl time.Duration, logger *slog.Logger) *CachedDeviceStore {
	return &CachedDeviceStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
		logger:    logger.With("component", "CachedDeviceStore"),
	}
}

// --- READ PATHS (Read-Aside) ---

func (s *CachedDeviceStore) Device(ctx context.Context, deviceID string) (dispatch.Device, error) {
	key := deviceKey(deviceID)
	var cached dispatch.Device
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return cached, nil
	} else if !errors.Is(err, ErrCacheMiss) {
		s.logger.Warn("Cache read failed; falling back to store", "key", key, "err", err)
	}

	device, err := s.realStore.Device(ctx, deviceID)
	if err != nil {
		return dispatch.Device{}, err
	}
	s.fill(ctx, key, device)
	return device, nil
}

func (s *CachedDeviceStore) DevicesForUser(ctx context.Context, userID string) ([]dispatch.Device, error) {
	key := userKey(userID)
	var cached []dispatch.Device
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return cached, nil
	} else if !errors.Is(err, ErrCacheMiss) {
		s.logger.Warn("Cache read failed; falling back to store", "key", key, "err", err)
	}

	devices, err := s.realStore.DevicesForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.fill(ctx, key, devices)
	return devices, nil
}

// fill populates the cache. Failures only cost a later cache miss.
func (s *CachedDeviceStore) fill(ctx context.Context, key string, value any) {
	if err := s.cache.Set(ctx, key, value, s.ttl); err != nil {
		s.logger.Debug("Cache fill failed", "key", key, "err", err)
	}
}

// --- WRITE PATHS (Invalidate-on-Write) ---

func (s *CachedDeviceStore) RegisterDevice(ctx context.Context, device dispatch.Device) error {
	keys := []string{deviceKey(device.ID), userKey(device.UserID)}
	// A re-registered device may have moved between users.
	if previous, err := s.realStore.Device(ctx, device.ID); err == nil && previous.UserID != device.UserID {
		keys = append(keys, userKey(previous.UserID))
	}
	if err := s.realStore.RegisterDevice(ctx, device); err != nil {
		return err
	}
	return s.cache.Del(ctx, keys...)
}

// UnregisterDevice clears the cache as soon as the store write succeeds so
// pushes stop reaching the device immediately.
func (s *CachedDeviceStore) UnregisterDevice(ctx context.Context, deviceID string) error {
	keys := []string{deviceKey(deviceID)}
	if previous, err := s.realStore.Device(ctx, deviceID); err == nil {
		keys = append(keys, userKey(previous.UserID))
	}
	if err := s.realStore.UnregisterDevice(ctx, deviceID); err != nil {
		return err
	}
	return s.cache.Del(ctx, keys...)
}

func deviceKey(deviceID string) string { return "skykit:device:" + deviceID }
func userKey(userID string) string     { return "skykit:user-devices:" + userID }
