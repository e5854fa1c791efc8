package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/iot-console-core/internal/device"
	"github.com/nerrad567/iot-console-core/internal/devicesync"
)

// maxLogLimit caps the ?limit= of GET /devices/{id}/logs.
const maxLogLimit = 200

// deviceResponse is a device with its liveness derived at response time.
type deviceResponse struct {
	device.Device
	Liveness device.Liveness `json:"liveness"`
}

func (s *Server) withLiveness(devs []device.Device) []deviceResponse {
	now := s.now()
	th := s.devices.Thresholds()
	out := make([]deviceResponse, len(devs))
	for i := range devs {
		out[i] = deviceResponse{Device: devs[i], Liveness: device.DeriveLiveness(&devs[i], now, th)}
	}
	return out
}

// handleListDevices returns the caller's devices, with optional query filters.
//
// Query parameters:
//   - location: exact location match
//   - type: device type (light, fan, ...)
//   - q: free-text search across name, device id and location
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := ownerID(r)
	q := r.URL.Query()

	var (
		devs []device.Device
		err  error
	)
	switch {
	case q.Get("location") != "":
		devs, err = s.devices.DevicesByLocation(ctx, owner, q.Get("location"))
	case q.Get("type") != "":
		devs, err = s.devices.DevicesByType(ctx, owner, device.DeviceType(q.Get("type")))
	case q.Get("q") != "":
		devs, err = s.devices.SearchDevices(ctx, owner, q.Get("q"))
	default:
		devs, err = s.devices.ListDevices(ctx, owner)
	}
	if err != nil {
		writeDeviceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": s.withLiveness(devs), "count": len(devs)})
}

// handleSearchDevices is GET /devices/search?q=.
func (s *Server) handleSearchDevices(w http.ResponseWriter, r *http.Request) {
	devs, err := s.devices.SearchDevices(r.Context(), ownerID(r), r.URL.Query().Get("q"))
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": s.withLiveness(devs), "count": len(devs)})
}

// handleDeviceStats returns counts by state, type and location.
func (s *Server) handleDeviceStats(w http.ResponseWriter, r *http.Request) {
	devs, err := s.devices.ListDevices(r.Context(), ownerID(r))
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, device.ComputeStats(devs))
}

// handleDeviceSummary returns the dashboard summary.
func (s *Server) handleDeviceSummary(w http.ResponseWriter, r *http.Request) {
	devs, err := s.devices.ListDevices(r.Context(), ownerID(r))
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, device.ComputeSummary(devs, s.now()))
}

// handleGenerateDeviceID suggests a device id for ?type=.
func (s *Server) handleGenerateDeviceID(w http.ResponseWriter, r *http.Request) {
	t := device.DeviceType(strings.TrimSpace(r.URL.Query().Get("type")))
	if !device.ValidDeviceType(t) {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "Please select a valid device type.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"device_id": device.GenerateDeviceID(t, s.now())})
}

// handleGetDevice returns a single device by store id.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, err := s.devices.GetDevice(r.Context(), chi.URLParam(r, "id"), ownerID(r))
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.withLiveness([]device.Device{*d})[0])
}

// handleCreateDevice registers a new device for the caller.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var in device.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	d, err := s.devices.CreateDevice(r.Context(), in, ownerID(r))
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	s.reconcileOwner(r, devicesync.TriggerManual)

	writeJSON(w, http.StatusCreated, s.withLiveness([]device.Device{*d})[0])
}

// handleUpdateDevice applies a partial update.
func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	var patch device.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	d, err := s.devices.UpdateDevice(r.Context(), chi.URLParam(r, "id"), ownerID(r), patch)
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	s.reconcileOwner(r, devicesync.TriggerManual)

	writeJSON(w, http.StatusOK, s.withLiveness([]device.Device{*d})[0])
}

// handleDeleteDevice removes a device. Its log history is kept.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	if err := s.devices.DeleteDevice(r.Context(), chi.URLParam(r, "id"), ownerID(r)); err != nil {
		writeDeviceError(w, err)
		return
	}
	s.reconcileOwner(r, devicesync.TriggerManual)

	w.WriteHeader(http.StatusNoContent)
}

// handleToggleDevice flips a device through the caller's synchronizer, so
// the optimistic update reaches every open dashboard of that user.
func (s *Server) handleToggleDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := ownerID(r)
	id := chi.URLParam(r, "id")

	sync, err := s.syncs.Acquire(ctx, owner)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "device sync unavailable")
		return
	}
	defer s.syncs.Release(owner)

	if err := sync.Toggle(ctx, id); err != nil {
		writeDeviceError(w, err)
		return
	}

	view := sync.Snapshot()
	for _, d := range view.Devices {
		if d.ID == id {
			writeJSON(w, http.StatusOK, d)
			return
		}
	}
	// A reconcile removed the device between the write and the snapshot.
	writeNotFound(w, "device not found")
}

type onlineRequest struct {
	IsOnline *bool `json:"is_online"`
}

// handleSetOnline sets the online flag without touching the heartbeat.
func (s *Server) handleSetOnline(w http.ResponseWriter, r *http.Request) {
	var req onlineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IsOnline == nil {
		writeBadRequest(w, "is_online is required")
		return
	}

	if err := s.devices.SetOnlineStatus(r.Context(), chi.URLParam(r, "id"), ownerID(r), *req.IsOnline); err != nil {
		writeDeviceError(w, err)
		return
	}
	s.reconcileOwner(r, devicesync.TriggerManual)

	w.WriteHeader(http.StatusNoContent)
}

// handleHeartbeat records a heartbeat for the device and marks it online.
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := ownerID(r)
	id := chi.URLParam(r, "id")

	var previous time.Time
	if s.fleet != nil {
		if d, err := s.devices.GetDevice(ctx, id, owner); err == nil {
			previous = d.LastHeartbeat
		}
	}

	at, err := s.devices.UpdateDeviceHeartbeat(ctx, id, owner)
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	if s.fleet != nil && !previous.IsZero() {
		s.fleet.HeartbeatRecorded(owner, id, at.Sub(previous), at)
	}
	writeJSON(w, http.StatusOK, map[string]any{"last_heartbeat": at})
}

// handleDeviceLogs returns the newest log entries of one device.
//
// Query parameters:
//   - limit: max entries (default from sync.log_limit, max 200)
func (s *Server) handleDeviceLogs(w http.ResponseWriter, r *http.Request) {
	limit := s.logLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = min(n, maxLogLimit)
	}

	logs, err := s.devices.FetchLogs(r.Context(), chi.URLParam(r, "id"), ownerID(r), limit)
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs, "count": len(logs)})
}

// handleDeviceQR returns the setup QR payload of a device.
func (s *Server) handleDeviceQR(w http.ResponseWriter, r *http.Request) {
	d, err := s.devices.GetDevice(r.Context(), chi.URLParam(r, "id"), ownerID(r))
	if err != nil {
		writeDeviceError(w, err)
		return
	}

	payload, err := device.QRPayload(d.DeviceID, d.Type, d.Location, s.cfg.SetupBaseURL, s.now())
	if err != nil {
		s.logger.Error("building qr payload failed", "device", d.ID, "error", err)
		writeInternalError(w, "failed to build qr payload")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"device_id": d.DeviceID, "payload": payload})
}

// reconcileOwner refreshes the caller's running synchronizer, if any,
// after a write that bypassed it. Realtime delivery usually gets there
// first; this covers feeds that drop messages.
func (s *Server) reconcileOwner(r *http.Request, trigger devicesync.Trigger) {
	owner := ownerID(r)
	sync, ok := s.syncs.Get(owner)
	if !ok {
		return
	}
	if err := sync.Reconcile(r.Context(), trigger); err != nil {
		s.logger.Debug("post-write reconcile failed", "owner_id", owner, "error", err)
	}
}
