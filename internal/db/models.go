package db

import (
	"time"
)

// Device statuses. A record holds exactly one at a time; Approved mirrors
// Status for older clients that only read the boolean.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusDenied   = "denied"
)

// User roles.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Device is one registration attempt. A mac may own many records (one per
// attempt); the id is unique and assigned once at creation.
type Device struct {
	ID             string    `json:"id"`
	Mac            string    `json:"mac"`
	RequesterEmail string    `json:"requesterEmail"`
	Platform       string    `json:"platform"`
	Model          string    `json:"model"`
	OSVersion      string    `json:"osVersion"`
	Reason         string    `json:"reason"`
	Role           string    `json:"role"`
	AppVersion     string    `json:"appVersion"`
	Status         string    `json:"status"`
	Approved       bool      `json:"approved"`
	DecidedBy      string    `json:"decidedBy,omitempty"`
	Username       string    `json:"username,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	LastLoginAt    time.Time `json:"lastLoginAt,omitzero"`
	TTL            time.Time `json:"-"` // absolute expiry, enforced by the store
}

type User struct {
	Username     string    `json:"username"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}
