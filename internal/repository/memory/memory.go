package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/raakeshmj/devicegateplane/internal/db"
	"github.com/raakeshmj/devicegateplane/internal/repository"
)

// MemoryRepository backs all three stores with maps. Used by tests and local
// development; expiry is not enforced here (TTLs are kept but never applied).
type MemoryRepository struct {
	devices   map[string]*db.Device // id -> device
	byMac     map[string][]string   // mac -> ids, insertion order
	allowlist map[string]struct{}
	users     map[string]*db.User // lowercased username -> user
	mu        sync.RWMutex
}

func New() *MemoryRepository {
	return &MemoryRepository{
		devices:   make(map[string]*db.Device),
		byMac:     make(map[string][]string),
		allowlist: make(map[string]struct{}),
		users:     make(map[string]*db.User),
	}
}

// Device Repo Implementation

func (r *MemoryRepository) CreateDevice(ctx context.Context, device *db.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *device
	r.devices[cp.ID] = &cp
	r.byMac[cp.Mac] = append(r.byMac[cp.Mac], cp.ID)
	return nil
}

func (r *MemoryRepository) GetDevice(ctx context.Context, id string) (*db.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if d, ok := r.devices[id]; ok {
		cp := *d
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (r *MemoryRepository) ListDevicesByMac(ctx context.Context, mac string, limit int) ([]*db.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.byMac[mac]
	list := make([]*db.Device, 0, len(ids))
	for _, id := range ids {
		if d, ok := r.devices[id]; ok {
			cp := *d
			list = append(list, &cp)
		}
	}
	sortNewestFirst(list)
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (r *MemoryRepository) ListUnapproved(ctx context.Context) ([]*db.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var list []*db.Device
	for _, d := range r.devices {
		if !d.Approved {
			cp := *d
			list = append(list, &cp)
		}
	}
	sortNewestFirst(list)
	return list, nil
}

func (r *MemoryRepository) SetDecision(ctx context.Context, id string, approved bool, status, decidedBy string, ttl time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return repository.ErrNotFound
	}
	d.Approved = approved
	d.Status = status
	d.DecidedBy = decidedBy
	d.TTL = ttl
	return nil
}

func (r *MemoryRepository) SetBinding(ctx context.Context, id, username string, lastLoginAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return repository.ErrNotFound
	}
	d.Username = username
	d.LastLoginAt = lastLoginAt
	return nil
}

// Allowlist Repo Implementation

func (r *MemoryRepository) AddAllowed(ctx context.Context, mac string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.allowlist[mac] = struct{}{}
	return nil
}

func (r *MemoryRepository) IsAllowed(ctx context.Context, mac string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.allowlist[mac]
	return ok, nil
}

// User Repo Implementation

func (r *MemoryRepository) CreateUser(ctx context.Context, user *db.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *user
	r.users[strings.ToLower(cp.Username)] = &cp
	return nil
}

func (r *MemoryRepository) GetUser(ctx context.Context, username string) (*db.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if u, ok := r.users[strings.ToLower(username)]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (r *MemoryRepository) ListUsers(ctx context.Context, limit int) ([]*db.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]*db.User, 0, len(r.users))
	for _, u := range r.users {
		cp := *u
		list = append(list, &cp)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Username < list[j].Username })
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (r *MemoryRepository) CountUsers(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users), nil
}

func sortNewestFirst(list []*db.Device) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
}

// Interface check
var _ repository.DeviceRepository = (*MemoryRepository)(nil)
var _ repository.AllowlistRepository = (*MemoryRepository)(nil)
var _ repository.UserRepository = (*MemoryRepository)(nil)
