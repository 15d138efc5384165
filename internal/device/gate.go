package device

import (
	"context"
	"fmt"
)

// Gate decides which devices are surfaced to subscribers and manages the
// allow-list behind that decision.
//
// Registration happens before the gate is consulted, so a device that is
// not allow-listed is still recorded as known, it just never reaches the
// tracker.
type Gate struct {
	repo    Repository
	events  EventRepository
	devices DeviceSet
	logger  Logger
}

// NewGate creates a gate over the device repository.
//
// Parameters:
//   - repo: Allow-list and known-device storage
//   - events: Presence event log for device detail (may be nil)
//   - devices: Runtime device set updated on add/remove (may be nil)
func NewGate(repo Repository, events EventRepository, devices DeviceSet) *Gate {
	return &Gate{repo: repo, events: events, devices: devices, logger: noopLogger{}}
}

// SetLogger sets the logger for the gate.
func (g *Gate) SetLogger(logger Logger) {
	if logger != nil {
		g.logger = logger
	}
}

// IsAllowed reports whether the composite key is on the server's allow-list.
// Store failures deny.
func (g *Gate) IsAllowed(ctx context.Context, server, deviceID, location string) bool {
	ok, err := g.repo.IsWhitelisted(ctx, server, deviceID, location)
	if err != nil {
		g.logger.Error("whitelist lookup failed",
			"server", server,
			"device", Key(deviceID, location),
			"error", err,
		)
		return false
	}
	return ok
}

// List returns the server's allow-list joined with known-device names.
func (g *Gate) List(ctx context.Context, server string) ([]WhitelistEntry, error) {
	return g.repo.ListWhitelist(ctx, server)
}

// Add allow-lists a device and registers a pending offline record for it.
func (g *Gate) Add(ctx context.Context, server, deviceID, location string) error {
	if err := ValidateIdentity(deviceID, location); err != nil {
		return err
	}
	if err := g.repo.AddWhitelist(ctx, server, deviceID, location); err != nil {
		return err
	}

	name := deviceID
	if known, err := g.repo.GetKnown(ctx, server, deviceID, location); err == nil {
		name = known.DisplayName()
	}
	if g.devices != nil {
		g.devices.Preload(deviceID, location, name)
	}

	g.logger.Info("device whitelisted", "server", server, "device", Key(deviceID, location))
	return nil
}

// Remove drops a device from the allow-list and from the runtime device set.
func (g *Gate) Remove(ctx context.Context, server, deviceID, location string) error {
	if err := g.repo.RemoveWhitelist(ctx, server, deviceID, location); err != nil {
		return err
	}
	if g.devices != nil {
		g.devices.Remove(deviceID, location)
	}

	g.logger.Info("device removed from whitelist", "server", server, "device", Key(deviceID, location))
	return nil
}

// Detail returns the registration record, allow-list membership and the
// latest presence events of a device.
func (g *Gate) Detail(ctx context.Context, server, deviceID, location string) (*Detail, error) {
	known, err := g.repo.GetKnown(ctx, server, deviceID, location)
	if err != nil {
		return nil, err
	}

	whitelisted, err := g.repo.IsWhitelisted(ctx, server, deviceID, location)
	if err != nil {
		return nil, fmt.Errorf("checking whitelist: %w", err)
	}

	detail := &Detail{Known: *known, Whitelisted: whitelisted, Events: []Event{}}
	if g.events != nil {
		evts, err := g.events.ListEvents(ctx, deviceID, location, DefaultEventLimit)
		if err != nil {
			g.logger.Warn("loading device events failed", "device", Key(deviceID, location), "error", err)
		} else {
			detail.Events = evts
		}
	}
	return detail, nil
}
