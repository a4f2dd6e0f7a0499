package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/agenda/internal/api"
	"github.com/lalith-99/agenda/internal/config"
	"github.com/lalith-99/agenda/internal/db"
	"github.com/lalith-99/agenda/internal/identity"
	"github.com/lalith-99/agenda/internal/middleware"
	"github.com/lalith-99/agenda/internal/observ"
	"github.com/lalith-99/agenda/internal/rbac"
	"github.com/lalith-99/agenda/internal/repository/postgres"
	"github.com/lalith-99/agenda/internal/repository/rediscache"
	"github.com/lalith-99/agenda/internal/session"
	"github.com/lalith-99/agenda/internal/tenant"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// ---------------------------------------------------------------
	// 1. Load config
	// ---------------------------------------------------------------
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	// ---------------------------------------------------------------
	// 2. Create logger and metrics
	// ---------------------------------------------------------------
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	metrics := observ.NewMetrics()

	// ctx is cancelled on SIGINT/SIGTERM; background workers stop with it.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---------------------------------------------------------------
	// 3. Connect to Postgres and Redis
	// ---------------------------------------------------------------
	database, err := db.New(ctx, cfg.DatabaseURL, db.PoolOptions{
		MaxConns:        int32(cfg.DBMaxConns),
		MinConns:        int32(cfg.DBMinConns),
		MaxConnLifetime: cfg.DBMaxConnLifetime,
		MaxConnIdleTime: cfg.DBMaxConnIdleTime,
	}, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()

	if cfg.ApplySchema {
		if err := database.ApplySchema(ctx); err != nil {
			return err
		}
	}

	rdb, err := rediscache.NewClient(ctx, cfg.RedisURL, logger)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer rdb.Close()

	// ---------------------------------------------------------------
	// 4. Repositories and directories
	//
	// Tenant lookups go Redis → Postgres → built-in demo tenants.
	// ---------------------------------------------------------------
	pool := database.Pool()
	userRepo := postgres.NewUserStore(pool, logger)
	roleRepo := postgres.NewRoleStore(pool, logger)
	tenantRepo := postgres.NewTenantStore(pool)
	appointmentRepo := postgres.NewAppointmentStore(pool)

	builtin := tenant.BuiltinDirectory()
	tenantDir := rediscache.NewTenantCache(rdb, tenant.Chain{tenantRepo, builtin}, cfg.TenantCacheTTL, logger)
	tenantResolver := tenant.NewResolver(tenantDir, cfg.DefaultTenant, metrics, logger)

	// ---------------------------------------------------------------
	// 5. Identity, roles and sessions
	// ---------------------------------------------------------------
	roleResolver := rbac.NewResolver(roleRepo, rbac.Options{
		Retries: cfg.RoleLookupRetries,
		Backoff: cfg.RoleLookupBackoff,
	}, metrics, logger)

	provider := identity.NewProvider(
		userRepo,
		roleRepo,
		roleResolver,
		rediscache.NewLiveSessions(rdb, cfg.SessionTTL),
		logger,
	)

	applyTheme := func(sessionID uuid.UUID, p tenant.Presentation) {
		logger.Debug("tenant theme applied",
			zap.String("session_id", sessionID.String()),
			zap.String("tenant_id", p.TenantID),
			zap.String("class", p.Class),
		)
	}
	sessions := session.NewManager(
		provider,
		rediscache.NewUserCache(rdb, cfg.UserCacheTTL),
		applyTheme,
		cfg.SessionRestoreWait*2,
		logger,
	)
	go sessions.RunSweeper(ctx, time.Minute, cfg.SessionTTL)

	limiter := middleware.NewRateLimiter(cfg.LoginRatePerSecond, cfg.LoginBurst)
	go limiter.Run(ctx, 3*time.Minute)

	// ---------------------------------------------------------------
	// 6. HTTP server
	// ---------------------------------------------------------------
	router := api.NewRouter(api.Deps{
		Tenants:  tenantResolver,
		Sessions: sessions,
		Roles:    roleResolver,
		Metrics:  metrics,
		Limiter:  limiter,
		Session: middleware.SessionOptions{
			Secret:  cfg.JWTSecret,
			Manager: sessions,
			Wait:    cfg.SessionRestoreWait,
			Logger:  logger,
		},
		CORSOrigins: cfg.CORSAllowedOrigins,
		Health: func(ctx context.Context) error {
			if err := database.Health(ctx); err != nil {
				return err
			}
			return rdb.Ping(ctx).Err()
		},
		Logger: logger,

		Auth: api.NewAuthHandler(sessions, provider, api.TokenOptions{
			Secret:       cfg.JWTSecret,
			TTL:          cfg.TokenTTL,
			SecureCookie: cfg.Env == "production",
		}, logger),
		SessionState: api.NewSessionHandler(cfg.CORSAllowedOrigins, logger),
		Tenant:       api.NewTenantHandler(tenantRepo, builtin, tenantDir, logger),
		Appointments: api.NewAppointmentHandler(appointmentRepo, loc, logger),
		Users:        api.NewUserHandler(userRepo, roleRepo, provider, logger),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting Agenda",
			zap.String("port", cfg.Port),
			zap.String("env", cfg.Env),
			zap.String("timezone", loc.String()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
