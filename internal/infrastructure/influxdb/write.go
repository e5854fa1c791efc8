package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementSweep     = "offline_sweep"
	MeasurementHeartbeat = "device_heartbeat"
	MeasurementToggle    = "device_toggle"
	MeasurementReconcile = "device_reconcile"
	MeasurementHealth    = "fleet_health"
)

// SweepCompleted records one offline sweep.
//
// Fields: marked_offline, duration_ms, failed (1 when the sweep errored).
func (c *Client) SweepCompleted(markedOffline int, err error, elapsed time.Duration) {
	failed := 0
	if err != nil {
		failed = 1
	}
	c.writePoint(MeasurementSweep, nil, map[string]any{
		"marked_offline": markedOffline,
		"duration_ms":    elapsed.Milliseconds(),
		"failed":         failed,
	}, time.Now())
}

// HeartbeatRecorded records a device heartbeat refresh.
//
// Parameters:
//   - ownerID: Tagged as owner_id
//   - deviceRef: Tagged as device
//   - previousAge: Age of the heartbeat being replaced
//   - at: Time of the new heartbeat
func (c *Client) HeartbeatRecorded(ownerID, deviceRef string, previousAge time.Duration, at time.Time) {
	c.writePoint(MeasurementHeartbeat,
		map[string]string{"owner_id": ownerID, "device": deviceRef},
		map[string]any{"previous_age_s": int64(previousAge / time.Second)},
		at)
}

// ToggleCompleted records the outcome of an optimistic toggle
// (ok, failed, failsafe, rejected).
func (c *Client) ToggleCompleted(ownerID, deviceRef, outcome string, elapsed time.Duration) {
	c.writePoint(MeasurementToggle,
		map[string]string{"owner_id": ownerID, "device": deviceRef, "outcome": outcome},
		map[string]any{"duration_ms": elapsed.Milliseconds()},
		time.Now())
}

// ReconcileCompleted records one device list reconcile.
func (c *Client) ReconcileCompleted(trigger string, ok bool, devices int) {
	c.writePoint(MeasurementReconcile,
		map[string]string{"trigger": trigger},
		map[string]any{"ok": ok, "devices": devices},
		time.Now())
}

// FleetHealth records an owner's heartbeat report totals.
func (c *Client) FleetHealth(ownerID string, healthy, stale, offline, healthPercentage int) {
	c.writePoint(MeasurementHealth,
		map[string]string{"owner_id": ownerID},
		map[string]any{
			"healthy":           healthy,
			"stale":             stale,
			"offline":           offline,
			"health_percentage": healthPercentage,
		},
		time.Now())
}

func (c *Client) writePoint(measurement string, tags map[string]string, fields map[string]any, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, at))
}
