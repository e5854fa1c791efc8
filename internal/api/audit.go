package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/iot-console-core/internal/audit"
	"github.com/nerrad567/iot-console-core/internal/device"
)

// handleListAuditLogs returns the caller's device log entries, newest first.
//
// Query parameters:
//   - action: created, turn_on, turn_off, updated or deleted
//   - device_ref: one device's history, by store id
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "device logs not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		OwnerID:   ownerID(r),
		Action:    device.Action(q.Get("action")),
		DeviceRef: q.Get("device_ref"),
	}

	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.logs.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list device logs", "error", err)
		writeInternalError(w, "failed to list device logs")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
