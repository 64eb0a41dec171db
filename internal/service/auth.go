package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/raakeshmj/devicegateplane/internal/audit"
	"github.com/raakeshmj/devicegateplane/internal/auth"
	"github.com/raakeshmj/devicegateplane/internal/db"
	"github.com/raakeshmj/devicegateplane/internal/repository"
)

// boundLookupLimit caps how far back the binding resolver looks through a
// mac's history for a record with a username on it.
const boundLookupLimit = 25

// AuthService verifies credentials, issues tokens, and resolves which user
// is bound to a device.
type AuthService struct {
	users       repository.UserRepository
	devices     *DeviceService
	jwtManager  *auth.JWTManager
	auditLogger audit.Logger
}

func NewAuthService(u repository.UserRepository, d *DeviceService, j *auth.JWTManager, l audit.Logger) *AuthService {
	return &AuthService{
		users:       u,
		devices:     d,
		jwtManager:  j,
		auditLogger: l,
	}
}

func (s *AuthService) JWTManager() *auth.JWTManager {
	return s.jwtManager
}

// RegisterUser creates a user-role account. Usernames are unique
// case-insensitively.
func (s *AuthService) RegisterUser(ctx context.Context, username, password, name string) (*db.User, error) {
	if username == "" || password == "" || name == "" {
		return nil, validationError("username, password, and name are required")
	}

	_, err := s.users.GetUser(ctx, username)
	if err == nil {
		return nil, ErrUserExists
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := &db.User{
		Username:     username,
		Name:         name,
		PasswordHash: hash,
		Role:         db.RoleUser,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Login verifies the credentials and, when a mac is supplied, requires the
// device to be cleared before any token is issued. The device check runs
// only after the password verifies so approval state never leaks to
// unauthenticated callers. On success the user is bound to the device
// best-effort: a failed binding write is logged and swallowed.
func (s *AuthService) Login(ctx context.Context, username, password, mac string) (string, *db.User, error) {
	if username == "" || password == "" {
		return "", nil, validationError("username and password are required")
	}

	user, err := s.users.GetUser(ctx, username)
	if errors.Is(err, repository.ErrNotFound) {
		return "", nil, ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, err
	}
	if !auth.CheckPasswordHash(password, user.PasswordHash) {
		return "", nil, ErrInvalidCredentials
	}

	if mac != "" {
		cleared, err := s.devices.DeviceCleared(ctx, mac)
		if err != nil {
			return "", nil, err
		}
		if !cleared {
			return "", nil, ErrDeviceNotApproved
		}
	}

	token, err := s.jwtManager.Generate(user.Username, user.Role, user.Name)
	if err != nil {
		return "", nil, err
	}

	if mac != "" {
		if err := s.devices.BindUser(ctx, mac, user.Username); err != nil {
			s.auditLogger.Log(audit.LogEntry{
				Timestamp: time.Now().UTC(),
				ActorID:   user.Username,
				Action:    "device_bind_failed",
				Resource:  "device:" + mac,
				Metadata:  map[string]interface{}{"error": err.Error()},
			})
		}
	}

	return token, user, nil
}

// Bootstrap creates the first admin account. Refuses once any user exists,
// reporting a non-fatal users-exist outcome.
func (s *AuthService) Bootstrap(ctx context.Context, username, password, name string) (*db.User, error) {
	if username == "" {
		username = "admin"
	}
	if password == "" {
		password = "admin123"
	}
	if name == "" {
		name = "Administrator"
	}

	count, err := s.users.CountUsers(ctx)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrUsersExist
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := &db.User{
		Username:     username,
		Name:         name,
		PasswordHash: hash,
		Role:         db.RoleAdmin,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// MostRecentlyBound finds the newest record for the mac that carries a
// username. The fetched window is re-sorted by CreatedAt because the index
// order and the stored timestamps can diverge when a timestamp is missing
// or malformed. No bound record is a normal outcome, returned as nil.
func (s *AuthService) MostRecentlyBound(ctx context.Context, mac string) (*db.Device, error) {
	recent, err := s.devices.RecentByMac(ctx, mac, boundLookupLimit)
	if err != nil {
		return nil, err
	}

	var bound []*db.Device
	for _, d := range recent {
		if d.Username != "" {
			bound = append(bound, d)
		}
	}
	if len(bound) == 0 {
		return nil, nil
	}
	sort.SliceStable(bound, func(i, j int) bool {
		return bound[i].CreatedAt.After(bound[j].CreatedAt)
	})
	return bound[0], nil
}

type LinkedResult struct {
	User     *db.User
	Allowed  bool
	Bound    bool
	DeviceID string
}

// LinkedUser answers "which user operates this device?" for the login
// screen: the bound user when one resolves to a real account, otherwise
// just the device's clearance state.
func (s *AuthService) LinkedUser(ctx context.Context, mac string) (LinkedResult, error) {
	allowed, err := s.devices.DeviceCleared(ctx, mac)
	if err != nil {
		return LinkedResult{}, err
	}

	device, err := s.MostRecentlyBound(ctx, mac)
	if err != nil {
		return LinkedResult{}, err
	}
	if device == nil || device.Username == "" {
		return LinkedResult{Allowed: allowed}, nil
	}

	user, err := s.users.GetUser(ctx, device.Username)
	if errors.Is(err, repository.ErrNotFound) {
		return LinkedResult{Allowed: allowed}, nil
	}
	if err != nil {
		return LinkedResult{}, err
	}
	return LinkedResult{User: user, Allowed: allowed, Bound: true, DeviceID: device.ID}, nil
}

// UserInfo is the public pre-login lookup: the display name for a username
// plus, when a mac is supplied, whether that device is cleared and whether
// it is bound to this exact user. An unknown username is not an error.
func (s *AuthService) UserInfo(ctx context.Context, username, mac string) (*db.User, bool, bool, error) {
	user, err := s.users.GetUser(ctx, username)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, false, false, nil
	}
	if err != nil {
		return nil, false, false, err
	}

	var allowed, bound bool
	if mac != "" {
		allowed, err = s.devices.DeviceCleared(ctx, mac)
		if err != nil {
			return nil, false, false, err
		}
		device, err := s.MostRecentlyBound(ctx, mac)
		if err == nil && device != nil {
			bound = device.Username == user.Username
		}
	}
	return user, allowed, bound, nil
}

func (s *AuthService) ListUsers(ctx context.Context, limit int) ([]*db.User, error) {
	return s.users.ListUsers(ctx, limit)
}
