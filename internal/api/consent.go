package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/nerrad567/iot-console-core/internal/consent"
)

// Consent, preference, analytics and security routes act on the consent
// subject: the X-Console-Client header, or the signed-in user without one.

type displayRequest struct {
	Theme    *string `json:"theme"`
	Language *string `json:"language"`
}

type pageViewRequest struct {
	Path string `json:"path"`
}

type featureRequest struct {
	Feature string `json:"feature"`
}

type eventRequest struct {
	Name string         `json:"name"`
	Data map[string]any `json:"data"`
}

type flagRequest struct {
	Reason string `json:"reason"`
}

// trackResponse reports whether a tracking call was stored. It is false
// without analytics consent, which is not an error.
type trackResponse struct {
	Recorded bool `json:"recorded"`
}

// handleGetConsent returns the subject's choices and whether any were made.
func (s *Server) handleGetConsent(w http.ResponseWriter, r *http.Request) {
	prefs, err := s.consent.Preferences(r.Context(), consentSubject(r))
	if err != nil {
		writeConsentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"preferences": prefs,
		"has_consent": prefs.Timestamp != nil,
	})
}

// handlePutConsent saves the subject's choices. Necessary is always on.
func (s *Server) handlePutConsent(w http.ResponseWriter, r *http.Request) {
	var req consent.Preferences
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	saved, err := s.consent.SetPreferences(r.Context(), consentSubject(r), req)
	if err != nil {
		writeConsentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"preferences": saved,
		"has_consent": true,
	})
}

// handleExportConsent returns everything stored for the subject.
func (s *Server) handleExportConsent(w http.ResponseWriter, r *http.Request) {
	export, err := s.consent.Export(r.Context(), consentSubject(r))
	if err != nil {
		writeConsentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, export)
}

// handleClearNonEssential deletes all but the essential values.
func (s *Server) handleClearNonEssential(w http.ResponseWriter, r *http.Request) {
	if err := s.consent.ClearNonEssential(r.Context(), consentSubject(r)); err != nil {
		writeConsentError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetPreferences returns theme, language and the remembered email.
func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	display, err := s.consent.Display(r.Context(), consentSubject(r))
	if err != nil {
		writeConsentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, display)
}

// handlePutPreferences updates theme and/or language.
func (s *Server) handlePutPreferences(w http.ResponseWriter, r *http.Request) {
	var req displayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Theme == nil && req.Language == nil {
		writeBadRequest(w, "theme or language is required")
		return
	}

	ctx := r.Context()
	subject := consentSubject(r)
	if req.Theme != nil {
		if err := s.consent.SetTheme(ctx, subject, *req.Theme); err != nil {
			writeConsentError(w, err)
			return
		}
	}
	if req.Language != nil {
		if err := s.consent.SetLanguage(ctx, subject, *req.Language); err != nil {
			writeConsentError(w, err)
			return
		}
	}

	display, err := s.consent.Display(ctx, subject)
	if err != nil {
		writeConsentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, display)
}

// handleStartAnalyticsSession begins a new analytics session.
// Without analytics consent it answers 204 and stores nothing.
func (s *Server) handleStartAnalyticsSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.consent.Tracker().StartSession(r.Context(), consentSubject(r))
	if err != nil {
		writeConsentError(w, err)
		return
	}
	if session == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleTrackPageView(w http.ResponseWriter, r *http.Request) {
	var req pageViewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Path) == "" {
		writeBadRequest(w, "path is required")
		return
	}
	ok, err := s.consent.Tracker().TrackPageView(r.Context(), consentSubject(r), req.Path)
	if err != nil {
		writeConsentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trackResponse{Recorded: ok})
}

func (s *Server) handleTrackFeature(w http.ResponseWriter, r *http.Request) {
	var req featureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Feature) == "" {
		writeBadRequest(w, "feature is required")
		return
	}
	ok, err := s.consent.Tracker().TrackFeatureUsage(r.Context(), consentSubject(r), req.Feature)
	if err != nil {
		writeConsentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trackResponse{Recorded: ok})
}

func (s *Server) handleTrackEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		writeBadRequest(w, "name is required")
		return
	}
	ok, err := s.consent.Tracker().TrackEvent(r.Context(), consentSubject(r), req.Name, req.Data)
	if err != nil {
		writeConsentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trackResponse{Recorded: ok})
}

// handleAnalyticsSummary returns the stored analytics, 403 without consent.
func (s *Server) handleAnalyticsSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.consent.Tracker().Summary(r.Context(), consentSubject(r))
	if err != nil {
		writeConsentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleSecurityStatus returns failed attempts, flags and the risk verdict.
func (s *Server) handleSecurityStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.consent.Security().CheckSecurity(r.Context(), consentSubject(r))
	if err != nil {
		writeConsentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleFlagSuspicious records suspicious client-side activity with the
// request's user agent.
func (s *Server) handleFlagSuspicious(w http.ResponseWriter, r *http.Request) {
	var req flagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	ok, err := s.consent.Security().FlagSuspicious(r.Context(), consentSubject(r), req.Reason, r.UserAgent())
	if err != nil {
		writeConsentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trackResponse{Recorded: ok})
}
