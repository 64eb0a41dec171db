package service

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/raakeshmj/devicegateplane/internal/audit"
	"github.com/raakeshmj/devicegateplane/internal/auth"
	"github.com/raakeshmj/devicegateplane/internal/cache"
	"github.com/raakeshmj/devicegateplane/internal/db"
	"github.com/raakeshmj/devicegateplane/internal/repository/memory"
)

func newAuthFixture() (*AuthService, *DeviceService, *memory.MemoryRepository) {
	repo := memory.New()
	deviceSvc := NewDeviceService(repo, repo, cache.NewMemoryCache())
	jwtManager := auth.NewJWTManager("secret", time.Hour)
	authSvc := NewAuthService(repo, deviceSvc, jwtManager, audit.NewJSONLogger(io.Discard))
	return authSvc, deviceSvc, repo
}

func mustRegisterUser(t *testing.T, svc *AuthService, username, password string) *db.User {
	t.Helper()
	user, err := svc.RegisterUser(context.Background(), username, password, "Test User")
	if err != nil {
		t.Fatalf("RegisterUser failed: %v", err)
	}
	return user
}

func TestRegisterUser_ConflictIsCaseInsensitive(t *testing.T) {
	svc, _, _ := newAuthFixture()
	ctx := context.Background()

	mustRegisterUser(t, svc, "Alice", "pw-one")

	_, err := svc.RegisterUser(ctx, "alice", "pw-two", "Other Alice")
	if !errors.Is(err, ErrUserExists) {
		t.Errorf("expected ErrUserExists, got %v", err)
	}
}

func TestLogin_GenericErrorForUnknownUserAndBadPassword(t *testing.T) {
	svc, _, _ := newAuthFixture()
	ctx := context.Background()

	mustRegisterUser(t, svc, "alice", "correct-horse")

	_, _, errUnknown := svc.Login(ctx, "nobody", "whatever", "")
	_, _, errBadPass := svc.Login(ctx, "alice", "wrong", "")

	if !errors.Is(errUnknown, ErrInvalidCredentials) {
		t.Errorf("unknown user: expected ErrInvalidCredentials, got %v", errUnknown)
	}
	if !errors.Is(errBadPass, ErrInvalidCredentials) {
		t.Errorf("bad password: expected ErrInvalidCredentials, got %v", errBadPass)
	}
	// Indistinguishable: same error value, same message.
	if errUnknown.Error() != errBadPass.Error() {
		t.Errorf("responses must not reveal which check failed: %q vs %q", errUnknown, errBadPass)
	}
}

func TestLogin_CaseInsensitiveUsername(t *testing.T) {
	svc, _, _ := newAuthFixture()
	ctx := context.Background()

	mustRegisterUser(t, svc, "Alice", "correct-horse")

	token, user, err := svc.Login(ctx, "ALICE", "correct-horse", "")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if token == "" || user.Username != "Alice" {
		t.Errorf("expected token for stored user Alice, got user %+v", user)
	}
}

func TestLogin_DeviceNotApproved(t *testing.T) {
	svc, deviceSvc, _ := newAuthFixture()
	ctx := context.Background()

	mustRegisterUser(t, svc, "alice", "correct-horse")
	// A pending registration exists but nothing is approved.
	if _, err := deviceSvc.Register(ctx, registerReq("AA:BB")); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	_, _, err := svc.Login(ctx, "alice", "correct-horse", "AA:BB")
	if !errors.Is(err, ErrDeviceNotApproved) {
		t.Errorf("expected ErrDeviceNotApproved, got %v", err)
	}
}

func TestLogin_TokenClaims(t *testing.T) {
	svc, deviceSvc, _ := newAuthFixture()
	ctx := context.Background()

	mustRegisterUser(t, svc, "alice", "correct-horse")
	if err := deviceSvc.Allow(ctx, "AA:BB"); err != nil {
		t.Fatalf("Allow failed: %v", err)
	}

	token, _, err := svc.Login(ctx, "alice", "correct-horse", "AA:BB")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	claims, err := svc.JWTManager().Verify(token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if claims.Subject != "alice" || claims.Role != db.RoleUser || claims.Name != "Test User" {
		t.Errorf("unexpected claims: %+v", claims)
	}
}

func TestLogin_BindsUserToDevice(t *testing.T) {
	svc, deviceSvc, _ := newAuthFixture()
	ctx := context.Background()

	mustRegisterUser(t, svc, "alice", "correct-horse")
	device, err := deviceSvc.Register(ctx, registerReq("AA:BB"))
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := deviceSvc.Decide(ctx, device.ID, true, "ops"); err != nil {
		t.Fatalf("Decide failed: %v", err)
	}

	if _, _, err := svc.Login(ctx, "alice", "correct-horse", "AA:BB"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	bound, err := svc.MostRecentlyBound(ctx, "AA:BB")
	if err != nil {
		t.Fatalf("MostRecentlyBound failed: %v", err)
	}
	if bound == nil || bound.Username != "alice" {
		t.Errorf("expected alice bound to AA:BB, got %+v", bound)
	}
	if bound != nil && bound.LastLoginAt.IsZero() {
		t.Error("binding should stamp lastLoginAt")
	}
}

// failingBindRepo wraps the memory repository and fails every binding write.
type failingBindRepo struct {
	*memory.MemoryRepository
}

func (r *failingBindRepo) SetBinding(ctx context.Context, id, username string, lastLoginAt time.Time) error {
	return errors.New("store unavailable")
}

func TestLogin_BindFailureIsNonFatal(t *testing.T) {
	repo := memory.New()
	deviceSvc := NewDeviceService(&failingBindRepo{repo}, repo, cache.NewMemoryCache())
	jwtManager := auth.NewJWTManager("secret", time.Hour)
	svc := NewAuthService(repo, deviceSvc, jwtManager, audit.NewJSONLogger(io.Discard))
	ctx := context.Background()

	mustRegisterUser(t, svc, "alice", "correct-horse")
	if err := deviceSvc.Allow(ctx, "AA:BB"); err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if _, err := deviceSvc.Register(ctx, registerReq("AA:BB")); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	token, _, err := svc.Login(ctx, "alice", "correct-horse", "AA:BB")
	if err != nil {
		t.Fatalf("Login must succeed despite binding failure, got %v", err)
	}
	if token == "" {
		t.Error("expected a token")
	}
}

func TestBootstrap_OnlyOnce(t *testing.T) {
	svc, _, _ := newAuthFixture()
	ctx := context.Background()

	admin, err := svc.Bootstrap(ctx, "", "s3cret", "")
	if err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}
	if admin.Username != "admin" || admin.Role != db.RoleAdmin {
		t.Errorf("expected default admin account, got %+v", admin)
	}

	if _, err := svc.Bootstrap(ctx, "admin2", "other", "Second"); !errors.Is(err, ErrUsersExist) {
		t.Errorf("second Bootstrap: expected ErrUsersExist, got %v", err)
	}

	users, err := svc.ListUsers(ctx, 0)
	if err != nil {
		t.Fatalf("ListUsers failed: %v", err)
	}
	if len(users) != 1 {
		t.Errorf("expected exactly 1 user after double bootstrap, got %d", len(users))
	}
}

func TestBootstrap_RefusedAfterAnyUser(t *testing.T) {
	svc, _, _ := newAuthFixture()
	ctx := context.Background()

	mustRegisterUser(t, svc, "alice", "pw")

	if _, err := svc.Bootstrap(ctx, "", "s3cret", ""); !errors.Is(err, ErrUsersExist) {
		t.Errorf("expected ErrUsersExist, got %v", err)
	}
}

func TestMostRecentlyBound_ResortsByCreatedAt(t *testing.T) {
	svc, _, repo := newAuthFixture()
	ctx := context.Background()

	base := time.Now().UTC()
	records := []*db.Device{
		{ID: "d1", Mac: "AA:BB", Username: "old", CreatedAt: base.Add(-3 * time.Hour)},
		{ID: "d2", Mac: "AA:BB", Username: "", CreatedAt: base.Add(-1 * time.Hour)},
		{ID: "d3", Mac: "AA:BB", Username: "newest", CreatedAt: base},
		{ID: "d4", Mac: "AA:BB", Username: "no-timestamp"}, // zero CreatedAt sorts oldest
	}
	for _, d := range records {
		if err := repo.CreateDevice(ctx, d); err != nil {
			t.Fatalf("CreateDevice failed: %v", err)
		}
	}

	bound, err := svc.MostRecentlyBound(ctx, "AA:BB")
	if err != nil {
		t.Fatalf("MostRecentlyBound failed: %v", err)
	}
	if bound == nil || bound.Username != "newest" {
		t.Errorf("expected newest bound record, got %+v", bound)
	}
}

func TestMostRecentlyBound_NoneIsNotAnError(t *testing.T) {
	svc, deviceSvc, _ := newAuthFixture()
	ctx := context.Background()

	if _, err := deviceSvc.Register(ctx, registerReq("AA:BB")); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	bound, err := svc.MostRecentlyBound(ctx, "AA:BB")
	if err != nil {
		t.Fatalf("MostRecentlyBound failed: %v", err)
	}
	if bound != nil {
		t.Errorf("expected no bound record, got %+v", bound)
	}
}

func TestLinkedUser(t *testing.T) {
	svc, deviceSvc, _ := newAuthFixture()
	ctx := context.Background()

	mustRegisterUser(t, svc, "alice", "correct-horse")
	if err := deviceSvc.Allow(ctx, "AA:BB"); err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	device, err := deviceSvc.Register(ctx, registerReq("AA:BB"))
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	// Not bound yet: clearance only.
	result, err := svc.LinkedUser(ctx, "AA:BB")
	if err != nil {
		t.Fatalf("LinkedUser failed: %v", err)
	}
	if result.Bound || result.User != nil || !result.Allowed {
		t.Errorf("expected allowed-but-unbound, got %+v", result)
	}

	if _, _, err := svc.Login(ctx, "alice", "correct-horse", "AA:BB"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	result, err = svc.LinkedUser(ctx, "AA:BB")
	if err != nil {
		t.Fatalf("LinkedUser failed: %v", err)
	}
	if !result.Bound || result.User == nil || result.User.Username != "alice" {
		t.Errorf("expected alice linked, got %+v", result)
	}
	if result.DeviceID != device.ID {
		t.Errorf("expected device id %s, got %s", device.ID, result.DeviceID)
	}
}

func TestUserInfo(t *testing.T) {
	svc, deviceSvc, _ := newAuthFixture()
	ctx := context.Background()

	user, _, _, err := svc.UserInfo(ctx, "nobody", "")
	if err != nil {
		t.Fatalf("UserInfo failed: %v", err)
	}
	if user != nil {
		t.Errorf("unknown username should resolve to nil user, got %+v", user)
	}

	mustRegisterUser(t, svc, "alice", "correct-horse")
	if err := deviceSvc.Allow(ctx, "AA:BB"); err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if _, err := deviceSvc.Register(ctx, registerReq("AA:BB")); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, _, err := svc.Login(ctx, "alice", "correct-horse", "AA:BB"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	user, allowed, bound, err := svc.UserInfo(ctx, "alice", "AA:BB")
	if err != nil {
		t.Fatalf("UserInfo failed: %v", err)
	}
	if user == nil || !allowed || !bound {
		t.Errorf("expected alice allowed and bound, got %+v allowed=%v bound=%v", user, allowed, bound)
	}

	// Bound to alice, not to anyone else.
	mustRegisterUser(t, svc, "bob", "pw")
	_, _, bound, err = svc.UserInfo(ctx, "bob", "AA:BB")
	if err != nil {
		t.Fatalf("UserInfo failed: %v", err)
	}
	if bound {
		t.Error("device bound to alice must not report bound for bob")
	}
}
