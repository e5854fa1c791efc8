// Package influxdb records the console's heartbeat telemetry.
//
// It wraps influxdb-client-go v2 with connection management, a health
// check and non-blocking batched writes of a few fixed measurements:
//
//	offline_sweep      marked_offline, duration_ms, failed
//	device_heartbeat   previous_age_s            (owner_id, device)
//	device_toggle      duration_ms               (owner_id, device, outcome)
//	device_reconcile   ok, devices               (trigger)
//	fleet_health       healthy, stale, offline, health_percentage (owner_id)
//
// The Client's method set matches the recorder interfaces of the heartbeat
// scheduler and the device synchronizer, so it plugs in directly.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.SweepCompleted(3, nil, 12*time.Millisecond)
//
// All writes are dropped silently while the client is disconnected.
package influxdb
