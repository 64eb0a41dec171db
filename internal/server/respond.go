package server

import (
	"encoding/json"
	"net/http"

	"github.com/raakeshmj/devicegateplane/internal/db"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeInternal hides store and infra failures behind a short description.
func writeInternal(w http.ResponseWriter) {
	writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": "internal error"})
}

// userPayload is the public view of a user record; the password hash never
// leaves the service.
type userPayload struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

func publicUser(u *db.User) userPayload {
	return userPayload{Username: u.Username, Name: u.Name, Role: u.Role}
}
