// Package fanout implements a dispatch.Transport that resolves recipients to
// registered devices and delivers through the per-platform dispatchers.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-multierror"
	pushv1 "github.com/tinywideclouds/go-platform/pkg/notification/v1"
	"github.com/tinywideclouds/go-skykit/pkg/dispatch"
	"github.com/tinywideclouds/go-skykit/pkg/notification"
)

// ErrPlatformUnavailable is reported for devices whose platform has no dispatcher configured.
var ErrPlatformUnavailable = errors.New("no dispatcher configured for platform")

// ErrNotDelivered is reported when no device of a recipient produced an outcome.
var ErrNotDelivered = errors.New("no device outcome recorded")

// Dispatchers holds the platform dispatchers. Nil entries are allowed.
type Dispatchers struct {
	FCM  dispatch.TokenDispatcher
	APNS dispatch.TokenDispatcher
	Web  dispatch.WebDispatcher
}

type Router struct {
	store       dispatch.DeviceStore
	dispatchers Dispatchers
	logger      *slog.Logger
}

func NewRouter(store dispatch.DeviceStore, dispatchers Dispatchers, logger *slog.Logger) *Router {
	return &Router{
		store:       store,
		dispatchers: dispatchers,
		logger:      logger.With("component", "FanoutRouter"),
	}
}

// delivery tracks one device on behalf of one recipient.
type delivery struct {
	recipient string
	device    dispatch.Device
	err       error
	delivered bool
}

// Send resolves every recipient, groups the devices by platform and reports
// one outcome per recipient. A user succeeds when at least one of their
// devices accepted the notification.
func (r *Router) Send(ctx context.Context, req dispatch.SendRequest, report dispatch.ReportFunc) error {
	info, err := notification.DecodeInfo(req.Payload)
	if err != nil {
		return fmt.Errorf("failed to decode push payload: %w", err)
	}
	log := r.logger.With("operation_id", req.OperationID, "target", req.Kind.String())

	var resolveErrs *multierror.Error
	reported := 0
	byRecipient := make(map[string][]*delivery, len(req.RecipientIDs))
	byPlatform := make(map[dispatch.Platform][]*delivery)

	for _, id := range req.RecipientIDs {
		devices, err := r.resolve(ctx, req.Kind, id)
		switch {
		case errors.Is(err, dispatch.ErrDeviceNotFound), errors.Is(err, dispatch.ErrNoDevices):
			report(id, err)
			reported++
			continue
		case err != nil:
			log.Error("Failed to resolve recipient", "recipient", id, "err", err)
			resolveErrs = multierror.Append(resolveErrs, fmt.Errorf("resolve %s: %w", id, err))
			continue
		}
		for _, device := range devices {
			d := &delivery{recipient: id, device: device}
			byRecipient[id] = append(byRecipient[id], d)
			if !knownPlatform(device.Platform) {
				log.Warn("Device has an unsupported platform", "device_id", device.ID, "platform", device.Platform)
				d.err = fmt.Errorf("%w: %s", ErrPlatformUnavailable, device.Platform)
				continue
			}
			byPlatform[device.Platform] = append(byPlatform[device.Platform], d)
		}
	}

	// Platforms are dispatched concurrently; each goroutine owns its deliveries.
	var group multierror.Group
	attempted := 0
	for _, platform := range []dispatch.Platform{dispatch.PlatformFCM, dispatch.PlatformAPNS, dispatch.PlatformWeb} {
		batch := byPlatform[platform]
		if len(batch) == 0 {
			continue
		}
		attempted++
		group.Go(func() error {
			err := r.dispatchPlatform(ctx, platform, batch, info, req.Topic)
			if err != nil {
				log.Error("Platform dispatch failed", "platform", platform, "devices", len(batch), "err", err)
				for _, d := range batch {
					d.err = err
				}
			}
			return err
		})
	}
	platformErrs := group.Wait()

	// Every platform failed as a whole: nothing was delivered.
	if attempted > 0 && platformErrs != nil && len(platformErrs.Errors) == attempted {
		return multierror.Append(resolveErrs, platformErrs.Errors...).ErrorOrNil()
	}

	for _, id := range req.RecipientIDs {
		deliveries, ok := byRecipient[id]
		if !ok {
			continue
		}
		report(id, recipientResult(deliveries))
		reported++
	}

	if err := resolveErrs.ErrorOrNil(); err != nil {
		log.Warn("Some recipients could not be resolved", "count", len(resolveErrs.Errors), "reported", reported)
		return err
	}
	return nil
}

func (r *Router) resolve(ctx context.Context, kind dispatch.TargetKind, id string) ([]dispatch.Device, error) {
	switch kind {
	case dispatch.TargetDevice:
		device, err := r.store.Device(ctx, id)
		if err != nil {
			return nil, err
		}
		return []dispatch.Device{device}, nil
	case dispatch.TargetUser:
		devices, err := r.store.DevicesForUser(ctx, id)
		if err != nil {
			return nil, err
		}
		if len(devices) == 0 {
			return nil, dispatch.ErrNoDevices
		}
		return devices, nil
	default:
		return nil, fmt.Errorf("%w: %s", dispatch.ErrUnknownTargetKind, kind)
	}
}

// dispatchPlatform sends to one platform and records each device outcome.
// A returned error means the platform call failed as a whole.
func (r *Router) dispatchPlatform(ctx context.Context, platform dispatch.Platform, batch []*delivery, info notification.Info, topic string) error {
	var outcomes []dispatch.Outcome
	var err error

	switch platform {
	case dispatch.PlatformFCM, dispatch.PlatformAPNS:
		dispatcher := r.dispatchers.FCM
		if platform == dispatch.PlatformAPNS {
			dispatcher = r.dispatchers.APNS
		}
		if dispatcher == nil {
			return fmt.Errorf("%w: %s", ErrPlatformUnavailable, platform)
		}
		tokens := make([]string, len(batch))
		for idx, d := range batch {
			tokens[idx] = d.device.Token
		}
		outcomes, err = dispatcher.Dispatch(ctx, tokens, info, topic)
	case dispatch.PlatformWeb:
		if r.dispatchers.Web == nil {
			return fmt.Errorf("%w: %s", ErrPlatformUnavailable, platform)
		}
		subs := make([]pushv1.WebPushSubscription, 0, len(batch))
		for _, d := range batch {
			if d.device.WebSubscription == nil {
				subs = append(subs, pushv1.WebPushSubscription{})
				continue
			}
			subs = append(subs, *d.device.WebSubscription)
		}
		outcomes, err = r.dispatchers.Web.Dispatch(ctx, subs, info)
	default:
		return fmt.Errorf("%w: %s", ErrPlatformUnavailable, platform)
	}
	if err != nil {
		return fmt.Errorf("%s dispatch: %w", platform, err)
	}

	for idx, d := range batch {
		if idx >= len(outcomes) {
			d.err = fmt.Errorf("%s dispatcher returned no outcome for device %s", platform, d.device.ID)
			continue
		}
		outcome := outcomes[idx]
		d.err = outcome.Err
		d.delivered = outcome.Err == nil
		if outcome.Invalid {
			r.heal(ctx, d.device)
		}
	}
	return nil
}

// heal removes a device the platform reported as permanently gone.
func (r *Router) heal(ctx context.Context, device dispatch.Device) {
	if err := r.store.UnregisterDevice(ctx, device.ID); err != nil {
		r.logger.Warn("Failed to remove invalid device", "device_id", device.ID, "platform", device.Platform, "err", err)
		return
	}
	r.logger.Info("Removed invalid device", "device_id", device.ID, "platform", device.Platform, "user_id", device.UserID)
}

func knownPlatform(p dispatch.Platform) bool {
	switch p {
	case dispatch.PlatformFCM, dispatch.PlatformAPNS, dispatch.PlatformWeb:
		return true
	}
	return false
}

// recipientResult is nil only if at least one device delivered.
func recipientResult(deliveries []*delivery) error {
	var errs *multierror.Error
	for _, d := range deliveries {
		if d.delivered {
			return nil
		}
		err := d.err
		if err == nil {
			err = ErrNotDelivered
		}
		errs = multierror.Append(errs, fmt.Errorf("device %s: %w", d.device.ID, err))
	}
	return errs.ErrorOrNil()
}
