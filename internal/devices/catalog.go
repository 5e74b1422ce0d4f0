// Package devices enumerates, de-duplicates and selects audio inputs.
package devices

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"micscribe/internal/domain"
	"micscribe/internal/observability"
	"micscribe/internal/ports"
)

// Config controls catalog behaviour.
type Config struct {
	// Settle is waited between the permission probe and enumeration;
	// platforms often report empty labels right after access is granted.
	Settle time.Duration
	// Audio is the capture template used for the device-selection stream.
	Audio ports.AudioConfig
	// InitialDevice preselects a device id.
	InitialDevice string
}

// Catalog owns the de-duplicated list of audio inputs and the stream that
// pins the selected device.
type Catalog struct {
	enumerator ports.DeviceEnumerator
	prober     ports.PermissionProber
	slot       *StreamSlot
	events     ports.EventSink
	metrics    *observability.Metrics
	logger     zerolog.Logger
	cfg        Config

	mu       sync.Mutex
	devices  []domain.DeviceDescriptor
	selected string
}

func NewCatalog(
	enumerator ports.DeviceEnumerator,
	prober ports.PermissionProber,
	slot *StreamSlot,
	events ports.EventSink,
	metrics *observability.Metrics,
	logger zerolog.Logger,
	cfg Config,
) *Catalog {
	if cfg.Settle < 0 {
		cfg.Settle = 0
	}
	return &Catalog{
		enumerator: enumerator,
		prober:     prober,
		slot:       slot,
		events:     events,
		metrics:    metrics,
		logger:     logger.With().Str("component", "devices").Logger(),
		cfg:        cfg,
		selected:   cfg.InitialDevice,
	}
}

// Refresh rebuilds the catalog. With forcePermissionPrompt it first asks
// for microphone access so the platform reveals real labels; a refused
// prompt does not stop enumeration. A forced or empty refresh posts a
// notice with the device count. On enumeration failure the catalog is
// emptied and an error is reported to the sink.
func (c *Catalog) Refresh(ctx context.Context, forcePermissionPrompt bool) ([]domain.DeviceDescriptor, error) {
	if forcePermissionPrompt {
		if err := c.prober.RequestAccess(ctx); err != nil {
			c.logger.Debug().Err(err).Msg("permission probe before enumeration failed")
		}
	}

	if err := settle(ctx, c.cfg.Settle); err != nil {
		return c.fail(err)
	}

	raw, err := c.enumerator.Enumerate(ctx)
	if err != nil {
		return c.fail(err)
	}

	list := Build(raw)

	c.mu.Lock()
	c.devices = list
	c.mu.Unlock()

	c.metrics.DeviceRefresh(true)
	c.logger.Info().Int("raw", len(raw)).Int("inputs", len(list)).Msg("device catalog refreshed")
	c.events.DevicesChanged(cloneDescriptors(list))
	if forcePermissionPrompt || len(list) == 0 {
		c.events.Notice(domain.DevicesLoadedMessage(len(list)))
	}
	return cloneDescriptors(list), nil
}

// SelectDevice pins id as the microphone for subsequent sessions by
// holding a capture stream open on it. An empty id selects the system
// default and only releases the held stream.
func (c *Catalog) SelectDevice(ctx context.Context, id string) error {
	if err := c.slot.Release(); err != nil {
		c.logger.Warn().Err(err).Msg("failed to close previous device stream")
	}

	c.mu.Lock()
	c.selected = id
	c.mu.Unlock()

	if id == "" {
		return nil
	}

	audioCfg := c.cfg.Audio
	audioCfg.InputDevice = id
	if _, err := c.slot.Start(ctx, audioCfg); err != nil {
		c.mu.Lock()
		c.selected = ""
		c.mu.Unlock()
		c.logger.Warn().Err(err).Str("device", id).Msg("failed to open selected device")
		c.events.SessionError(domain.ErrorCodeDeviceSelect, err.Error())
		return fmt.Errorf("select device %q: %w", id, err)
	}

	c.logger.Info().Str("device", id).Msg("device selected")
	return nil
}

// Selected returns the device id applied to new recognition sessions.
func (c *Catalog) Selected() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

// Devices returns the last catalog built by Refresh.
func (c *Catalog) Devices() []domain.DeviceDescriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneDescriptors(c.devices)
}

// Release closes the held device stream.
func (c *Catalog) Release() error {
	return c.slot.Release()
}

func (c *Catalog) fail(err error) ([]domain.DeviceDescriptor, error) {
	c.mu.Lock()
	c.devices = nil
	c.mu.Unlock()

	c.metrics.DeviceRefresh(false)
	c.logger.Warn().Err(err).Msg("device enumeration failed")
	c.events.DevicesChanged([]domain.DeviceDescriptor{})
	c.events.SessionError(domain.ErrorCodeDeviceEnumeration, err.Error())
	return []domain.DeviceDescriptor{}, fmt.Errorf("enumerate devices: %w", err)
}

func settle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func cloneDescriptors(in []domain.DeviceDescriptor) []domain.DeviceDescriptor {
	out := make([]domain.DeviceDescriptor, len(in))
	copy(out, in)
	return out
}
