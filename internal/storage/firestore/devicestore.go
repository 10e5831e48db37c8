// Package firestore stores the device registry in Google Cloud Firestore.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pushv1 "github.com/tinywideclouds/go-platform/pkg/notification/v1"
	"github.com/tinywideclouds/go-skykit/pkg/dispatch"
)

const (
	devicesCollection = "devices"
	fieldUserID       = "user_id"
)

// DeviceStore implements dispatch.DeviceStore on a top-level "devices"
// collection keyed by device ID.
type DeviceStore struct {
	client *firestore.Client
	logger *slog.Logger
}

func NewDeviceStore(client *firestore.Client, logger *slog.Logger) *DeviceStore {
	return &DeviceStore{
		client: client,
		logger: logger.With("component", "FirestoreDeviceStore"),
	}
}

// deviceRecord is the stored document. It holds a token for FCM/APNs
// devices or a full subscription for web devices.
type deviceRecord struct {
	UserID          string                      `firestore:"user_id"`
	Platform        string                      `firestore:"platform"`
	Token           string                      `firestore:"token,omitempty"`
	WebSubscription *pushv1.WebPushSubscription `firestore:"web_subscription,omitempty"`
	UpdatedAt       time.Time                   `firestore:"updated_at"`
}

func (s *DeviceStore) RegisterDevice(ctx context.Context, device dispatch.Device) error {
	if device.ID == "" {
		return errors.New("device id is required")
	}
	if device.UpdatedAt.IsZero() {
		device.UpdatedAt = time.Now().UTC()
	}
	record := deviceRecord{
		UserID:          device.UserID,
		Platform:        string(device.Platform),
		Token:           device.Token,
		WebSubscription: device.WebSubscription,
		UpdatedAt:       device.UpdatedAt,
	}
	if _, err := s.client.Collection(devicesCollection).Doc(device.ID).Set(ctx, record); err != nil {
		return fmt.Errorf("failed to register device %s: %w", device.ID, err)
	}
	return nil
}

func (s *DeviceStore) UnregisterDevice(ctx context.Context, deviceID string) error {
	if _, err := s.client.Collection(devicesCollection).Doc(deviceID).Delete(ctx); err != nil {
		return fmt.Errorf("failed to unregister device %s: %w", deviceID, err)
	}
	return nil
}

func (s *DeviceStore) Device(ctx context.Context, deviceID string) (dispatch.Device, error) {
	doc, err := s.client.Collection(devicesCollection).Doc(deviceID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return dispatch.Device{}, fmt.Errorf("%w: %s", dispatch.ErrDeviceNotFound, deviceID)
		}
		return dispatch.Device{}, fmt.Errorf("failed to get device %s: %w", deviceID, err)
	}
	var record deviceRecord
	if err := doc.DataTo(&record); err != nil {
		return dispatch.Device{}, fmt.Errorf("failed to decode device %s: %w", deviceID, err)
	}
	return record.toDevice(doc.Ref.ID), nil
}

func (s *DeviceStore) DevicesForUser(ctx context.Context, userID string) ([]dispatch.Device, error) {
	iter := s.client.Collection(devicesCollection).Where(fieldUserID, "==", userID).Documents(ctx)
	defer iter.Stop()

	devices := make([]dispatch.Device, 0)
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		var record deviceRecord
		if err := doc.DataTo(&record); err != nil {
			s.logger.Warn("Skipping undecodable device record", "device_id", doc.Ref.ID, "err", err)
			continue
		}
		devices = append(devices, record.toDevice(doc.Ref.ID))
	}
	return devices, nil
}

func (r deviceRecord) toDevice(id string) dispatch.Device {
	return dispatch.Device{
		ID:              id,
		UserID:          r.UserID,
		Platform:        dispatch.Platform(r.Platform),
		Token:           r.Token,
		WebSubscription: r.WebSubscription,
		UpdatedAt:       r.UpdatedAt,
	}
}
