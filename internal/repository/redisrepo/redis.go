package redisrepo

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/raakeshmj/devicegateplane/internal/db"
	"github.com/raakeshmj/devicegateplane/internal/repository"
)

// Redis Keys:
// device:{id}              -> hash of record fields, EXPIREAT = record ttl
// devices:mac:{mac}        -> zset of ids, score = createdAt (unix nanos)
// devices:status:{status}  -> set of ids
// allowlist                -> set of macs
// user:{username-lower}    -> hash of record fields
// users                    -> set of usernames (lowercased)
//
// Index members can outlive an expired device hash; reads skip and prune them.

type RedisRepository struct {
	client *redis.Client
}

func New(client *redis.Client) *RedisRepository {
	return &RedisRepository{client: client}
}

func deviceKey(id string) string    { return "device:" + id }
func macIndexKey(mac string) string { return "devices:mac:" + mac }
func statusKey(status string) string {
	return "devices:status:" + status
}
func userKey(username string) string { return "user:" + strings.ToLower(username) }

// Device Repo Implementation

func (r *RedisRepository) CreateDevice(ctx context.Context, d *db.Device) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, deviceKey(d.ID), deviceFields(d))
		pipe.ExpireAt(ctx, deviceKey(d.ID), d.TTL)
		pipe.ZAdd(ctx, macIndexKey(d.Mac), redis.Z{
			Score:  float64(d.CreatedAt.UnixNano()),
			Member: d.ID,
		})
		pipe.SAdd(ctx, statusKey(d.Status), d.ID)
		return nil
	})
	return err
}

func (r *RedisRepository) GetDevice(ctx context.Context, id string) (*db.Device, error) {
	fields, err := r.client.HGetAll(ctx, deviceKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, repository.ErrNotFound
	}
	return deviceFromFields(fields), nil
}

func (r *RedisRepository) ListDevicesByMac(ctx context.Context, mac string, limit int) ([]*db.Device, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := r.client.ZRevRange(ctx, macIndexKey(mac), 0, stop).Result()
	if err != nil {
		return nil, err
	}
	list := make([]*db.Device, 0, len(ids))
	for _, id := range ids {
		d, err := r.GetDevice(ctx, id)
		if err == repository.ErrNotFound {
			// Hash expired; prune the dangling index member.
			r.client.ZRem(ctx, macIndexKey(mac), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		list = append(list, d)
	}
	return list, nil
}

func (r *RedisRepository) ListUnapproved(ctx context.Context) ([]*db.Device, error) {
	ids, err := r.client.SUnion(ctx, statusKey(db.StatusPending), statusKey(db.StatusDenied)).Result()
	if err != nil {
		return nil, err
	}
	list := make([]*db.Device, 0, len(ids))
	for _, id := range ids {
		d, err := r.GetDevice(ctx, id)
		if err == repository.ErrNotFound {
			r.client.SRem(ctx, statusKey(db.StatusPending), id)
			r.client.SRem(ctx, statusKey(db.StatusDenied), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		list = append(list, d)
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	return list, nil
}

func (r *RedisRepository) SetDecision(ctx context.Context, id string, approved bool, status, decidedBy string, ttl time.Time) error {
	prev, err := r.client.HGet(ctx, deviceKey(id), "status").Result()
	if err == redis.Nil {
		return repository.ErrNotFound
	}
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, deviceKey(id), map[string]interface{}{
			"approved":   boolField(approved),
			"status":     status,
			"decided_by": decidedBy,
		})
		pipe.ExpireAt(ctx, deviceKey(id), ttl)
		if prev != status {
			pipe.SRem(ctx, statusKey(prev), id)
			pipe.SAdd(ctx, statusKey(status), id)
		}
		return nil
	})
	return err
}

func (r *RedisRepository) SetBinding(ctx context.Context, id, username string, lastLoginAt time.Time) error {
	exists, err := r.client.Exists(ctx, deviceKey(id)).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return repository.ErrNotFound
	}
	// KeepTTL semantics: HSET on an existing key leaves its expiry untouched.
	return r.client.HSet(ctx, deviceKey(id), map[string]interface{}{
		"username":      username,
		"last_login_at": lastLoginAt.UTC().Format(time.RFC3339Nano),
	}).Err()
}

// Allowlist Repo Implementation

func (r *RedisRepository) AddAllowed(ctx context.Context, mac string) error {
	// SADD is a no-op for an existing member, which gives idempotent adds.
	return r.client.SAdd(ctx, "allowlist", mac).Err()
}

func (r *RedisRepository) IsAllowed(ctx context.Context, mac string) (bool, error) {
	return r.client.SIsMember(ctx, "allowlist", mac).Result()
}

// User Repo Implementation

func (r *RedisRepository) CreateUser(ctx context.Context, u *db.User) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, userKey(u.Username), map[string]interface{}{
			"username":      u.Username,
			"name":          u.Name,
			"password_hash": u.PasswordHash,
			"role":          u.Role,
			"created_at":    u.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		pipe.SAdd(ctx, "users", strings.ToLower(u.Username))
		return nil
	})
	return err
}

func (r *RedisRepository) GetUser(ctx context.Context, username string) (*db.User, error) {
	fields, err := r.client.HGetAll(ctx, userKey(username)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, repository.ErrNotFound
	}
	return &db.User{
		Username:     fields["username"],
		Name:         fields["name"],
		PasswordHash: fields["password_hash"],
		Role:         fields["role"],
		CreatedAt:    parseTime(fields["created_at"]),
	}, nil
}

func (r *RedisRepository) ListUsers(ctx context.Context, limit int) ([]*db.User, error) {
	names, err := r.client.SMembers(ctx, "users").Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	if limit > 0 && len(names) > limit {
		names = names[:limit]
	}
	list := make([]*db.User, 0, len(names))
	for _, name := range names {
		u, err := r.GetUser(ctx, name)
		if err == repository.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		list = append(list, u)
	}
	return list, nil
}

func (r *RedisRepository) CountUsers(ctx context.Context) (int, error) {
	n, err := r.client.SCard(ctx, "users").Result()
	return int(n), err
}

// Field codecs. Times travel as RFC3339 strings, booleans as "1"/"0".

func deviceFields(d *db.Device) map[string]interface{} {
	fields := map[string]interface{}{
		"id":              d.ID,
		"mac":             d.Mac,
		"requester_email": d.RequesterEmail,
		"platform":        d.Platform,
		"model":           d.Model,
		"os_version":      d.OSVersion,
		"reason":          d.Reason,
		"role":            d.Role,
		"app_version":     d.AppVersion,
		"status":          d.Status,
		"approved":        boolField(d.Approved),
		"decided_by":      d.DecidedBy,
		"username":        d.Username,
		"created_at":      d.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if !d.LastLoginAt.IsZero() {
		fields["last_login_at"] = d.LastLoginAt.UTC().Format(time.RFC3339Nano)
	}
	return fields
}

func deviceFromFields(fields map[string]string) *db.Device {
	return &db.Device{
		ID:             fields["id"],
		Mac:            fields["mac"],
		RequesterEmail: fields["requester_email"],
		Platform:       fields["platform"],
		Model:          fields["model"],
		OSVersion:      fields["os_version"],
		Reason:         fields["reason"],
		Role:           fields["role"],
		AppVersion:     fields["app_version"],
		Status:         fields["status"],
		Approved:       fields["approved"] == "1",
		DecidedBy:      fields["decided_by"],
		Username:       fields["username"],
		CreatedAt:      parseTime(fields["created_at"]),
		LastLoginAt:    parseTime(fields["last_login_at"]),
	}
}

func boolField(b bool) string {
	return strconv.Itoa(btoi(b))
}

func btoi(b bool) int {
	if b {
		return 1
	}
	return 0
}

// parseTime tolerates missing or malformed timestamps; callers re-sort by
// CreatedAt and treat the zero time as oldest.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Interface check
var _ repository.DeviceRepository = (*RedisRepository)(nil)
var _ repository.AllowlistRepository = (*RedisRepository)(nil)
var _ repository.UserRepository = (*RedisRepository)(nil)
