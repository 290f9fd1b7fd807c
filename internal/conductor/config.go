package conductor

import (
	"context"
	"fmt"

	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/device"
	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/doontime"
	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/resolver"
)

// Config is the file form of the conductor tunables. Zero fields keep the
// defaults of the matching options.
type Config struct {
	MaxPollIntervalMs int64 `toml:"max_poll_interval_ms" yaml:"max_poll_interval_ms" json:"max_poll_interval_ms"`
	LookaheadLimit    int   `toml:"lookahead_limit" yaml:"lookahead_limit" json:"lookahead_limit"`
	LookaheadMs       int64 `toml:"lookahead_ms" yaml:"lookahead_ms" json:"lookahead_ms"`
	MaxNowPasses      int   `toml:"max_now_passes" yaml:"max_now_passes" json:"max_now_passes"`
	StateRetentionMs  int64 `toml:"state_retention_ms" yaml:"state_retention_ms" json:"state_retention_ms"`
}

// Options converts the config to conductor options.
func (c Config) Options() []Option {
	var opts []Option
	if c.MaxPollIntervalMs > 0 {
		opts = append(opts, WithMaxPollInterval(c.MaxPollIntervalMs))
	}
	if c.LookaheadLimit > 0 || c.LookaheadMs > 0 {
		bound := resolver.DefaultBound
		if c.LookaheadLimit > 0 {
			bound.Limit = c.LookaheadLimit
		}
		if c.LookaheadMs > 0 {
			bound.Horizon = c.LookaheadMs
		}
		opts = append(opts, WithBound(bound))
	}
	if c.MaxNowPasses > 0 {
		opts = append(opts, WithMaxNowPasses(c.MaxNowPasses))
	}
	if c.StateRetentionMs > 0 {
		opts = append(opts, WithRetention(c.StateRetentionMs))
	}
	return opts
}

// DeviceConfig describes one device to add at startup.
type DeviceConfig struct {
	ID   string `toml:"id" yaml:"id" json:"id"`
	Type string `toml:"type" yaml:"type" json:"type"`

	// QueueMode overrides the device's preferred queue mode when set
	// ("burst" or "in_order").
	QueueMode string         `toml:"queue_mode" yaml:"queue_mode,omitempty" json:"queue_mode,omitempty"`
	Options   map[string]any `toml:"options" yaml:"options,omitempty" json:"options,omitempty"`
}

// Validate checks the fields that can be checked without a registry.
func (d DeviceConfig) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("device id is required")
	}
	if d.Type == "" {
		return fmt.Errorf("device %s: type is required", d.ID)
	}
	if d.QueueMode != "" {
		if _, err := doontime.ParseMode(d.QueueMode); err != nil {
			return fmt.Errorf("device %s: %w", d.ID, err)
		}
	}
	return nil
}

// AddConfigured adds every configured device in order. It stops at the
// first failure.
func (c *Conductor) AddConfigured(ctx context.Context, cfgs []DeviceConfig, opts ...device.HandleOption) error {
	for _, dc := range cfgs {
		if err := dc.Validate(); err != nil {
			return err
		}
		all := append([]device.HandleOption(nil), opts...)
		if dc.QueueMode != "" {
			mode, _ := doontime.ParseMode(dc.QueueMode)
			all = append(all, device.WithQueueMode(mode))
		}
		if _, err := c.AddDevice(ctx, dc.ID, device.Type(dc.Type), dc.Options, all...); err != nil {
			return err
		}
	}
	return nil
}
