// Package devicesync maintains each owner's in-memory device list.
//
// A Synchronizer is the single source of truth for what an owner's sessions
// display. It reconciles three independent change sources into one view:
//
//	initial load ──┐
//	30s poll ──────┼──▶ Reconcile ──▶ full re-fetch, derive liveness ──▶ View
//	realtime hint ─┘
//
// Every reconcile is authoritative: it replaces the list and clears any
// in-flight toggle. The poll runs regardless of realtime delivery, so a
// missed notification costs at most one poll interval.
//
// # Optimistic toggles
//
// Toggle flips the device locally before the remote write, then writes the
// new status, refreshes the heartbeat and logs turn_on or turn_off. A
// failed write reverts the flip. A per-device fail-safe timer (6s) clears
// a stuck in-flight marker and forces a reconcile. Toggles on different
// devices run concurrently; a second toggle on the same device is rejected
// with ErrToggleInFlight until the first finishes.
//
// # Sharing
//
// Manager reference-counts one Synchronizer per owner so that every
// WebSocket session and API call for that owner observes the same state.
package devicesync
