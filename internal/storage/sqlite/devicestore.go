// Package sqlite stores the device registry in a local SQLite database, for
// single-node gateways and the CLI.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	pushv1 "github.com/tinywideclouds/go-platform/pkg/notification/v1"
	"github.com/tinywideclouds/go-skykit/pkg/dispatch"
	"github.com/tinywideclouds/go-skykit/pkg/serialization"
)

//go:embed schema.sql
var schemaSQL string

// DeviceStore implements dispatch.DeviceStore on SQLite.
type DeviceStore struct {
	db *sql.DB
}

// Open creates or opens the database at path and applies the schema.
// Use ":memory:" for a throwaway store.
func Open(path string) (*DeviceStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &DeviceStore{db: db}, nil
}

func (s *DeviceStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *DeviceStore) RegisterDevice(ctx context.Context, device dispatch.Device) error {
	if device.ID == "" {
		return errors.New("device id is required")
	}
	if device.UpdatedAt.IsZero() {
		device.UpdatedAt = time.Now()
	}
	var sub sql.NullString
	if device.WebSubscription != nil {
		raw, err := json.Marshal(device.WebSubscription)
		if err != nil {
			return fmt.Errorf("failed to encode web subscription: %w", err)
		}
		sub = sql.NullString{String: string(raw), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO devices (id, user_id, platform, token, web_subscription, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			platform = excluded.platform,
			token = excluded.token,
			web_subscription = excluded.web_subscription,
			updated_at = excluded.updated_at`,
		device.ID, device.UserID, string(device.Platform), device.Token, sub,
		serialization.StringFromDate(device.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to register device %s: %w", device.ID, err)
	}
	return nil
}

func (s *DeviceStore) UnregisterDevice(ctx context.Context, deviceID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM devices WHERE id = ?`, deviceID); err != nil {
		return fmt.Errorf("failed to unregister device %s: %w", deviceID, err)
	}
	return nil
}

const selectDevice = `SELECT id, user_id, platform, token, web_subscription, updated_at FROM devices`

func (s *DeviceStore) Device(ctx context.Context, deviceID string) (dispatch.Device, error) {
	row := s.db.QueryRowContext(ctx, selectDevice+` WHERE id = ?`, deviceID)
	device, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return dispatch.Device{}, fmt.Errorf("%w: %s", dispatch.ErrDeviceNotFound, deviceID)
	}
	if err != nil {
		return dispatch.Device{}, fmt.Errorf("failed to get device %s: %w", deviceID, err)
	}
	return device, nil
}

func (s *DeviceStore) DevicesForUser(ctx context.Context, userID string) ([]dispatch.Device, error) {
	rows, err := s.db.QueryContext(ctx, selectDevice+` WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices for %s: %w", userID, err)
	}
	defer rows.Close()

	devices := make([]dispatch.Device, 0)
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, device)
	}
	return devices, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDevice(row scanner) (dispatch.Device, error) {
	var (
		device    dispatch.Device
		platform  string
		sub       sql.NullString
		updatedAt string
	)
	if err := row.Scan(&device.ID, &device.UserID, &platform, &device.Token, &sub, &updatedAt); err != nil {
		return dispatch.Device{}, err
	}
	device.Platform = dispatch.Platform(platform)

	t, err := serialization.DateFromString(updatedAt)
	if err != nil {
		return dispatch.Device{}, err
	}
	device.UpdatedAt = t

	if sub.Valid {
		var ws pushv1.WebPushSubscription
		if err := json.Unmarshal([]byte(sub.String), &ws); err != nil {
			return dispatch.Device{}, fmt.Errorf("failed to decode web subscription: %w", err)
		}
		device.WebSubscription = &ws
	}
	return device, nil
}
