package api

import (
	"net/http"

	"github.com/nerrad567/iot-console-core/internal/devicesync"
)

// handleSyncSnapshot returns the caller's synchronized device view.
//
// The synchronizer is started on demand and released afterwards, so a
// caller with no open dashboard gets a fresh initial load.
// ?refresh=true forces a reconcile first.
func (s *Server) handleSyncSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := ownerID(r)

	sync, err := s.syncs.Acquire(ctx, owner)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "device sync unavailable")
		return
	}
	defer s.syncs.Release(owner)

	if r.URL.Query().Get("refresh") == "true" {
		if err := sync.Reconcile(ctx, devicesync.TriggerManual); err != nil {
			writeDeviceError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, sync.Snapshot())
}
