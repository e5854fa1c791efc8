package api

import (
	"net/http"

	"github.com/nerrad567/iot-console-core/internal/device"
	"github.com/nerrad567/iot-console-core/internal/devicesync"
)

// handleHeartbeatReport summarises the liveness of the caller's devices.
// The totals are also forwarded to the fleet recorder when one is set.
func (s *Server) handleHeartbeatReport(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	devs, err := s.devices.ListDevices(r.Context(), owner)
	if err != nil {
		writeDeviceError(w, err)
		return
	}

	report := device.HeartbeatReport(devs, s.now(), s.devices.Thresholds())
	if s.fleet != nil {
		s.fleet.FleetHealth(owner, report.HealthyDevices, report.StaleDevices,
			report.OfflineDevices, report.HealthPercentage)
	}

	writeJSON(w, http.StatusOK, report)
}

// handleHeartbeatStatus describes the offline sweep scheduler.
func (s *Server) handleHeartbeatStatus(w http.ResponseWriter, _ *http.Request) {
	if s.sweeps == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "heartbeat sweeps not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.sweeps.Status())
}

// handleSweepNow runs an offline sweep immediately. Sweeps cover every
// owner, so the response carries only the count.
func (s *Server) handleSweepNow(w http.ResponseWriter, r *http.Request) {
	if s.sweeps == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "heartbeat sweeps not configured")
		return
	}

	result := s.sweeps.SweepNow(r.Context())
	if result.Err != nil {
		s.logger.Warn("manual sweep failed", "error", result.Err)
		writeDeviceError(w, result.Err)
		return
	}
	s.reconcileOwner(r, devicesync.TriggerManual)

	writeJSON(w, http.StatusOK, result)
}
