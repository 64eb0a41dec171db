package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/raakeshmj/devicegateplane/internal/audit"
	"github.com/raakeshmj/devicegateplane/internal/middleware"
	"github.com/raakeshmj/devicegateplane/internal/repository"
	"github.com/raakeshmj/devicegateplane/internal/service"
)

// RegisterDeviceHandler creates or replays a device registration.
func (s *Server) RegisterDeviceHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	var req service.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	device, err := s.deviceService.Register(r.Context(), req)
	if err != nil {
		if service.IsValidation(err) {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": err.Error()})
			return
		}
		writeInternal(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"status": device.Status, "id": device.ID})
}

// DeviceStatusHandler reports the verdict for a device id or mac.
func (s *Server) DeviceStatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	identifier := strings.TrimPrefix(r.URL.Path, "/device/status/")
	if unescaped, err := url.PathUnescape(identifier); err == nil {
		identifier = unescaped
	}
	if identifier == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "device identifier required"})
		return
	}

	result, err := s.deviceService.Status(r.Context(), identifier)
	if err != nil {
		writeInternal(w)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// PendingDevicesHandler lists records awaiting a decision, newest first.
// Admin only (enforced by the route policy).
func (s *Server) PendingDevicesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	list, err := s.deviceService.ListPending(r.Context())
	if err != nil {
		writeInternal(w)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// DecideHandler approves or denies a specific registration. Admin only.
func (s *Server) DecideHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		RequestID string `json:"requestId"`
		Approve   *bool  `json:"approve"`
		DecidedBy string `json:"decidedBy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.RequestID == "" || req.Approve == nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "error": "requestId and approve required"})
		return
	}

	// Attribute the decision to the acting admin unless the caller named
	// someone explicitly.
	actor := "admin"
	if claims := middleware.GetClaims(r.Context()); claims != nil {
		actor = claims.Subject
	}
	decidedBy := req.DecidedBy
	if decidedBy == "" {
		decidedBy = actor
	}

	err := s.deviceService.Decide(r.Context(), req.RequestID, *req.Approve, decidedBy)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"success": false, "error": "not found"})
		return
	}
	if err != nil {
		writeInternal(w)
		return
	}

	s.auditLogger.Log(audit.LogEntry{
		Timestamp: time.Now().UTC(),
		ActorID:   actor,
		Action:    "device_decide",
		Resource:  "device:" + req.RequestID,
		Status:    http.StatusOK,
		Metadata:  map[string]interface{}{"approve": *req.Approve, "decided_by": decidedBy},
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// AllowlistAddHandler pre-approves a mac for all current and future
// registrations. Existing records keep their status.
func (s *Server) AllowlistAddHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Mac string `json:"mac"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if err := s.deviceService.Allow(r.Context(), req.Mac); err != nil {
		if service.IsValidation(err) {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "error": err.Error()})
			return
		}
		writeInternal(w)
		return
	}

	actor := "anonymous"
	if claims := middleware.GetClaims(r.Context()); claims != nil {
		actor = claims.Subject
	}
	s.auditLogger.Log(audit.LogEntry{
		Timestamp: time.Now().UTC(),
		ActorID:   actor,
		Action:    "allowlist_add",
		Resource:  "mac:" + req.Mac,
		Status:    http.StatusOK,
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}
