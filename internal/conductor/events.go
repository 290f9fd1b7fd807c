package conductor

import (
	"context"

	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/device"
	"github.com/tv2norge/sofie-timeline-state-resolver-sub002/internal/timeline"
)

// onDeviceEvent is the listener of every device created by AddDevice.
func (c *Conductor) onDeviceEvent(e device.Event) {
	switch e.Kind {
	case device.EventCommandSent:
		if e.Command != nil {
			c.metrics.CommandSent(e.DeviceID, e.Command.Started-e.Command.Scheduled)
			c.recordCommand(e)
		}
	case device.EventCommandError:
		c.metrics.CommandFailed(e.DeviceID)
		if e.Command != nil {
			c.recordCommand(e)
		}
	case device.EventConnectionChanged:
		c.metrics.SetDeviceStatus(e.DeviceID, int(e.Status.Code))
	}
	c.forward(e)
}

func (c *Conductor) forward(e device.Event) {
	if c.listener != nil {
		c.listener(e)
	}
}

func (c *Conductor) recordCommand(e device.Event) {
	if c.journal == nil {
		return
	}
	cmd := e.Command
	rec := CommandRecord{
		DeviceID:     e.DeviceID,
		ResolutionID: cmd.Command.ResolutionID,
		EntryID:      cmd.EntryID,
		Scheduled:    cmd.Scheduled,
		Executed:     cmd.Started,
		ObjectID:     cmd.Command.TimelineObjectID,
		Context:      cmd.Command.Context,
	}
	if payload, err := timeline.MarshalCanonical(cmd.Command.Payload); err == nil {
		rec.Payload = string(payload)
	} else {
		rec.Payload = "null"
	}
	if e.Err != nil {
		rec.Error = e.Err.Error()
	}
	if err := c.journal.RecordCommand(context.Background(), rec); err != nil {
		c.logger.Warn("journal command failed", "device", e.DeviceID, "error", err)
	}
}

func (c *Conductor) record(at int64, pass *Pass) {
	if c.journal == nil {
		return
	}
	hash, err := timeline.StateHash(pass.State)
	if err != nil {
		c.logger.Warn("state hash failed", "resolution", pass.ResolutionID, "error", err)
	}
	rec := ResolutionRecord{
		ResolutionID: pass.ResolutionID,
		Time:         at,
		StateHash:    hash,
		Layers:       pass.State.ActiveObjects(),
		NextEvents:   pass.State.NextEvents,
		NextAt:       pass.NextAt,
		Fixed:        pass.Fixed,
		Converged:    pass.Converged,
	}
	if err := c.journal.RecordResolution(context.Background(), rec); err != nil {
		c.logger.Warn("journal resolution failed", "resolution", pass.ResolutionID, "error", err)
	}
}
