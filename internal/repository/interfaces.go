package repository

import (
	"context"
	"errors"
	"time"

	"github.com/raakeshmj/devicegateplane/internal/db"
)

// ErrNotFound is returned by lookups that miss. Callers decide whether a miss
// is an error (Decide) or a normal outcome (Status fallback).
var ErrNotFound = errors.New("not found")

type DeviceRepository interface {
	CreateDevice(ctx context.Context, device *db.Device) error
	GetDevice(ctx context.Context, id string) (*db.Device, error)
	// ListDevicesByMac returns records for a mac, most recently created first.
	// limit <= 0 means no limit.
	ListDevicesByMac(ctx context.Context, mac string, limit int) ([]*db.Device, error)
	// ListUnapproved returns every record whose approved flag is false, most
	// recently created first. That is pending and denied records both.
	ListUnapproved(ctx context.Context) ([]*db.Device, error)
	SetDecision(ctx context.Context, id string, approved bool, status, decidedBy string, ttl time.Time) error
	SetBinding(ctx context.Context, id, username string, lastLoginAt time.Time) error
}

type AllowlistRepository interface {
	AddAllowed(ctx context.Context, mac string) error
	IsAllowed(ctx context.Context, mac string) (bool, error)
}

type UserRepository interface {
	CreateUser(ctx context.Context, user *db.User) error
	// GetUser looks up by username, case-insensitively.
	GetUser(ctx context.Context, username string) (*db.User, error)
	ListUsers(ctx context.Context, limit int) ([]*db.User, error)
	CountUsers(ctx context.Context) (int, error)
}
