package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/raakeshmj/devicegateplane/internal/cache"
	"github.com/raakeshmj/devicegateplane/internal/db"
	"github.com/raakeshmj/devicegateplane/internal/repository"
)

// Retention horizons handed to the store as absolute expiry instants.
// Approved records are kept longest, denied records are purged soonest.
const (
	approvedTTL = 180 * 24 * time.Hour
	pendingTTL  = 30 * 24 * time.Hour
	deniedTTL   = 7 * 24 * time.Hour
)

const allowlistCacheTTL = 1 * time.Minute

// DeviceService owns the registration ledger, the allowlist and the
// device-level authorization checks derived from both.
type DeviceService struct {
	devices   repository.DeviceRepository
	allowlist repository.AllowlistRepository
	cache     *cache.MemoryCache
}

func NewDeviceService(d repository.DeviceRepository, a repository.AllowlistRepository, c *cache.MemoryCache) *DeviceService {
	return &DeviceService{
		devices:   d,
		allowlist: a,
		cache:     c,
	}
}

type RegisterRequest struct {
	Mac            string `json:"mac"`
	RequesterEmail string `json:"requesterEmail"`
	Platform       string `json:"platform"`
	Model          string `json:"model"`
	OSVersion      string `json:"osVersion"`
	Reason         string `json:"reason"`
	Role           string `json:"role"`
	AppVersion     string `json:"appVersion"`
}

type StatusResult struct {
	Approved bool   `json:"approved"`
	Status   string `json:"status"`
	ID       string `json:"id,omitempty"`
}

// Register records a device registration. Repeating a registration for an
// identifier that already has a record returns that record unchanged; a new
// mac always creates exactly one new record, allowlisted or not. Records
// keyed differently are not deduplicated even when they share a mac.
func (s *DeviceService) Register(ctx context.Context, req RegisterRequest) (*db.Device, error) {
	if req.Mac == "" || req.RequesterEmail == "" || req.Platform == "" {
		return nil, validationError("mac, requesterEmail, platform are required")
	}

	existing, err := s.findDevice(ctx, req.Mac)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	allowed, err := s.IsAllowed(ctx, req.Mac)
	if err != nil {
		return nil, err
	}

	if req.Reason == "" {
		req.Reason = "New device registration"
	}
	if req.Role == "" {
		req.Role = db.RoleUser
	}

	now := time.Now().UTC()
	device := &db.Device{
		ID:             uuid.NewString(),
		Mac:            req.Mac,
		RequesterEmail: req.RequesterEmail,
		Platform:       req.Platform,
		Model:          req.Model,
		OSVersion:      req.OSVersion,
		Reason:         req.Reason,
		Role:           req.Role,
		AppVersion:     req.AppVersion,
		Status:         db.StatusPending,
		Approved:       false,
		CreatedAt:      now,
		TTL:            now.Add(pendingTTL),
	}
	if allowed {
		device.Status = db.StatusApproved
		device.Approved = true
		device.TTL = now.Add(approvedTTL)
	}

	if err := s.devices.CreateDevice(ctx, device); err != nil {
		return nil, err
	}
	return device, nil
}

// Status reports the current verdict for an identifier. When no record
// exists the allowlist answers, so a mac can be pre-approved before its
// first registration ever arrives.
func (s *DeviceService) Status(ctx context.Context, identifier string) (StatusResult, error) {
	device, err := s.findDevice(ctx, identifier)
	if err != nil {
		return StatusResult{}, err
	}
	if device != nil {
		return StatusResult{Approved: device.Approved, Status: device.Status, ID: device.ID}, nil
	}

	allowed, err := s.IsAllowed(ctx, identifier)
	if err != nil {
		return StatusResult{}, err
	}
	if allowed {
		return StatusResult{Approved: true, Status: db.StatusApproved}, nil
	}
	return StatusResult{Approved: false, Status: db.StatusPending}, nil
}

// ListPending returns every record still awaiting approval, newest first.
// Denied records are included: the queue is everything not approved, so an
// admin can revisit a denial until the store expires it.
func (s *DeviceService) ListPending(ctx context.Context) ([]*db.Device, error) {
	return s.devices.ListUnapproved(ctx)
}

// Decide flips a record to approved or denied and restamps its expiry. This
// is the only mutation path for an existing record's status.
func (s *DeviceService) Decide(ctx context.Context, requestID string, approve bool, decidedBy string) error {
	if requestID == "" {
		return validationError("requestId and approve required")
	}
	if decidedBy == "" {
		decidedBy = "admin"
	}

	now := time.Now().UTC()
	status := db.StatusDenied
	ttl := now.Add(deniedTTL)
	if approve {
		status = db.StatusApproved
		ttl = now.Add(approvedTTL)
	}
	return s.devices.SetDecision(ctx, requestID, approve, status, decidedBy, ttl)
}

// BindUser stamps the username onto the newest record for the mac. A mac
// with no records is a no-op, not an error.
func (s *DeviceService) BindUser(ctx context.Context, mac, username string) error {
	recent, err := s.devices.ListDevicesByMac(ctx, mac, 1)
	if err != nil {
		return err
	}
	if len(recent) == 0 {
		return nil
	}
	return s.devices.SetBinding(ctx, recent[0].ID, username, time.Now().UTC())
}

// RecentByMac exposes the mac history, newest first, for the binding
// resolver. limit <= 0 returns the full history.
func (s *DeviceService) RecentByMac(ctx context.Context, mac string, limit int) ([]*db.Device, error) {
	return s.devices.ListDevicesByMac(ctx, mac, limit)
}

// MacApproved reports whether any record in the mac's history carries an
// approval. Deliberately wider than Status: the whole history counts, not
// just the record an exact lookup would return.
func (s *DeviceService) MacApproved(ctx context.Context, mac string) (bool, error) {
	history, err := s.devices.ListDevicesByMac(ctx, mac, 0)
	if err != nil {
		return false, err
	}
	for _, d := range history {
		if d.Approved || d.Status == db.StatusApproved {
			return true, nil
		}
	}
	return false, nil
}

// DeviceCleared gates login when a device context is supplied: allowlisted
// or ever approved.
func (s *DeviceService) DeviceCleared(ctx context.Context, mac string) (bool, error) {
	allowed, err := s.IsAllowed(ctx, mac)
	if err != nil {
		return false, err
	}
	if allowed {
		return true, nil
	}
	return s.MacApproved(ctx, mac)
}

// Allow adds a mac to the allowlist. Idempotent; existing records for the
// mac are not retroactively upgraded.
func (s *DeviceService) Allow(ctx context.Context, mac string) error {
	if mac == "" {
		return validationError("mac required")
	}
	if err := s.allowlist.AddAllowed(ctx, mac); err != nil {
		return err
	}
	s.cache.Set(allowCacheKey(mac), true, allowlistCacheTTL)
	return nil
}

// IsAllowed checks allowlist membership, caching hits briefly. Misses are
// never cached so an Allow call takes effect immediately.
func (s *DeviceService) IsAllowed(ctx context.Context, mac string) (bool, error) {
	if _, found := s.cache.Get(allowCacheKey(mac)); found {
		return true, nil
	}
	allowed, err := s.allowlist.IsAllowed(ctx, mac)
	if err != nil {
		return false, err
	}
	if allowed {
		s.cache.Set(allowCacheKey(mac), true, allowlistCacheTTL)
	}
	return allowed, nil
}

// findDevice resolves a dual-purpose identifier: exact id lookup first, then
// the newest record whose mac matches. Call sites pass either form.
func (s *DeviceService) findDevice(ctx context.Context, identifier string) (*db.Device, error) {
	device, err := s.devices.GetDevice(ctx, identifier)
	if err == nil {
		return device, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	recent, err := s.devices.ListDevicesByMac(ctx, identifier, 1)
	if err != nil {
		return nil, err
	}
	if len(recent) == 0 {
		return nil, nil
	}
	return recent[0], nil
}

func allowCacheKey(mac string) string {
	return "allow:" + mac
}
