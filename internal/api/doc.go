// Package api implements the HTTP REST API and WebSocket server of the IoT
// management console.
//
// This package provides:
//   - Account endpoints backed by the credential gateway (sign-up, sign-in,
//     refresh, sign-out, password reset)
//   - Device CRUD, search, statistics, logs and QR setup payloads
//   - Optimistic toggles routed through the owner's device synchronizer
//   - Heartbeat report, sweep status and manual sweeps
//   - Consent, display preferences, analytics, security flags and data export
//   - Runtime and database figures at /system/metrics
//   - A WebSocket hub pushing sync snapshots and sweep results
//   - Middleware stack (request ID, logging, recovery, CORS, body limit,
//     Prometheus request metrics, JWT authentication)
//   - The console web client at every path outside /api/v1 (see webui)
//
// # Authentication
//
// Protected routes take an HS256 access token in the Authorization header.
// The token subject is the device owner for every device route. WebSocket
// connections authenticate with a single-use ticket obtained from
// POST /auth/ws-ticket, so the token never appears in a URL.
//
// # Errors
//
// Every failure is written as
//
//	{"error": {"code": "...", "message": "..."}}
//
// Device store failures are classified by device.Kind, so a network failure,
// a permission failure, a duplicate device_id, a validation failure and a
// missing device each map to a stable status code.
package api
