package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/raakeshmj/devicegateplane/internal/audit"
	"github.com/raakeshmj/devicegateplane/internal/auth"
	"github.com/raakeshmj/devicegateplane/internal/cache"
	"github.com/raakeshmj/devicegateplane/internal/config"
	"github.com/raakeshmj/devicegateplane/internal/db"
	"github.com/raakeshmj/devicegateplane/internal/metrics"
	"github.com/raakeshmj/devicegateplane/internal/middleware"
	"github.com/raakeshmj/devicegateplane/internal/policy"
	"github.com/raakeshmj/devicegateplane/internal/repository"
	"github.com/raakeshmj/devicegateplane/internal/repository/memory"
	"github.com/raakeshmj/devicegateplane/internal/repository/redisrepo"
	"github.com/raakeshmj/devicegateplane/internal/service"
)

// Issued tokens are time-boxed to a work shift.
const tokenTTL = 8 * time.Hour

type Server struct {
	cfg           *config.Config
	router        *http.ServeMux
	deviceService *service.DeviceService
	authService   *service.AuthService
	metrics       *metrics.MetricsCollector
	auditLogger   audit.Logger
	policyEngine  *policy.Engine
	redisClient   *redis.Client // nil when running on the in-memory store
}

func New(cfg *config.Config) *Server {
	var (
		deviceRepo repository.DeviceRepository
		allowRepo  repository.AllowlistRepository
		userRepo   repository.UserRepository
		rdb        *redis.Client
	)
	if cfg.StoreBackend == "memory" {
		repo := memory.New()
		deviceRepo, allowRepo, userRepo = repo, repo, repo
	} else {
		rdb = redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
		repo := redisrepo.New(rdb)
		deviceRepo, allowRepo, userRepo = repo, repo, repo
	}

	jwtManager := auth.NewJWTManager(cfg.JWTSecret, tokenTTL)
	l1 := cache.NewMemoryCache()
	auditLog := audit.NewJSONLogger(os.Stdout)

	deviceSvc := service.NewDeviceService(deviceRepo, allowRepo, l1)
	authSvc := service.NewAuthService(userRepo, deviceSvc, jwtManager, auditLog)

	met := metrics.NewCollector(1000)

	// First match wins: admin routes before the public catch-all.
	eng := policy.NewEngine()
	eng.LoadPolicies([]policy.Policy{
		{
			ID:      "pending-policy",
			Matcher: policy.Matcher{Method: http.MethodGet, Path: "/device/pending"},
			Rules:   policy.Rules{AuthRequired: true, RequireRole: db.RoleAdmin},
		},
		{
			ID:      "decide-policy",
			Matcher: policy.Matcher{Method: http.MethodPost, Path: "/device/decide"},
			Rules:   policy.Rules{AuthRequired: true, RequireRole: db.RoleAdmin},
		},
		{
			ID:      "public-policy",
			Matcher: policy.Matcher{Path: "/"},
			Rules:   policy.Rules{AuthRequired: false},
		},
	})

	return &Server{
		cfg:           cfg,
		router:        http.NewServeMux(),
		deviceService: deviceSvc,
		authService:   authSvc,
		metrics:       met,
		auditLogger:   auditLog,
		policyEngine:  eng,
		redisClient:   rdb,
	}
}

func (s *Server) Start() error {
	// Liveness
	s.router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Readiness (store reachability)
	s.router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if s.redisClient != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()

			if err := s.redisClient.Ping(ctx).Err(); err != nil {
				http.Error(w, "Store Unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Ready"))
	})

	s.router.HandleFunc("/device/register", s.RegisterDeviceHandler)
	s.router.HandleFunc("/device/status/", s.DeviceStatusHandler)
	s.router.HandleFunc("/device/pending", s.PendingDevicesHandler)
	s.router.HandleFunc("/device/decide", s.DecideHandler)
	s.router.HandleFunc("/allowlist/add", s.AllowlistAddHandler)

	s.router.HandleFunc("/auth/register", s.RegisterUserHandler)
	s.router.HandleFunc("/auth/login", s.LoginHandler)
	s.router.HandleFunc("/auth/user/", s.UserInfoHandler)
	s.router.HandleFunc("/auth/linked", s.LinkedUserHandler)
	s.router.HandleFunc("/auth/users", s.ListUsersHandler)
	s.router.HandleFunc("/auth/bootstrap", s.BootstrapHandler)

	s.router.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		stats := s.metrics.GetStats()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(stats)
	})

	authMiddleware := middleware.NewAuth(s.authService.JWTManager())

	handler := middleware.Chain(s.router,
		middleware.MetricsMiddleware(s.metrics),
		middleware.AuditMiddleware(s.auditLogger),
		middleware.SecureHeaders(),
		middleware.PolicyEnforcer(s.policyEngine),
		authMiddleware.Handle,
	)

	srv := &http.Server{
		Addr:    ":" + s.cfg.ServerPort,
		Handler: handler,
	}

	serverErrors := make(chan error, 1)

	go func() {
		log.Printf("Server starting on port %s", s.cfg.ServerPort)
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Printf("main: %v : Start shutdown", sig)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
	}

	return nil
}
