package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/raakeshmj/devicegateplane/internal/service"
)

// RegisterUserHandler creates a user-role account.
func (s *Server) RegisterUserHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	user, err := s.authService.RegisterUser(r.Context(), req.Username, req.Password, req.Name)
	if err != nil {
		switch {
		case service.IsValidation(err):
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "error": err.Error()})
		case errors.Is(err, service.ErrUserExists):
			writeJSON(w, http.StatusConflict, map[string]interface{}{"success": false, "error": "user-exists"})
		default:
			writeInternal(w)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "user": publicUser(user)})
}

// LoginHandler verifies credentials and issues a signed token. A supplied
// mac must be cleared (allowlisted or ever approved) for login to succeed.
func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Mac      string `json:"mac"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	token, user, err := s.authService.Login(r.Context(), req.Username, req.Password, req.Mac)
	if err != nil {
		switch {
		case service.IsValidation(err):
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "error": err.Error()})
		case errors.Is(err, service.ErrInvalidCredentials):
			writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"success": false, "error": "invalid credentials"})
		case errors.Is(err, service.ErrDeviceNotApproved):
			writeJSON(w, http.StatusForbidden, map[string]interface{}{"success": false, "error": "device-not-approved"})
		default:
			writeInternal(w)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "token": token, "user": publicUser(user)})
}

// UserInfoHandler is the public pre-login lookup for a display name plus
// device clearance and binding state.
func (s *Server) UserInfoHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	username := strings.TrimPrefix(r.URL.Path, "/auth/user/")
	if unescaped, err := url.PathUnescape(username); err == nil {
		username = unescaped
	}
	if username == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"user": nil})
		return
	}
	mac := r.URL.Query().Get("mac")

	user, allowed, bound, err := s.authService.UserInfo(r.Context(), username, mac)
	if err != nil {
		writeInternal(w)
		return
	}
	if user == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"user": nil, "allowed": false, "bound": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"user": publicUser(user), "allowed": allowed, "bound": bound})
}

// LinkedUserHandler resolves which user, if any, is bound to a device.
func (s *Server) LinkedUserHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	mac := r.URL.Query().Get("mac")
	if mac == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"user": nil, "allowed": false, "bound": false, "error": "mac-required"})
		return
	}

	result, err := s.authService.LinkedUser(r.Context(), mac)
	if err != nil {
		writeInternal(w)
		return
	}
	if !result.Bound {
		writeJSON(w, http.StatusOK, map[string]interface{}{"user": nil, "allowed": result.Allowed, "bound": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":     publicUser(result.User),
		"allowed":  result.Allowed,
		"bound":    true,
		"deviceId": result.DeviceID,
	})
}

// ListUsersHandler lists accounts with public fields only.
func (s *Server) ListUsersHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	users, err := s.authService.ListUsers(r.Context(), 50)
	if err != nil {
		writeInternal(w)
		return
	}
	list := make([]userPayload, 0, len(users))
	for _, u := range users {
		list = append(list, publicUser(u))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"users": list})
}

// BootstrapHandler seeds the first admin account. A second call reports
// users-exist without touching anything.
func (s *Server) BootstrapHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	// Body is optional; all fields have defaults.
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	user, err := s.authService.Bootstrap(r.Context(), req.Username, req.Password, req.Name)
	if errors.Is(err, service.ErrUsersExist) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": false, "error": "users-exist"})
		return
	}
	if err != nil {
		writeInternal(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "user": publicUser(user)})
}
