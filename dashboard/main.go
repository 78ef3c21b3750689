package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/growthkit-labs/growthkit-go/internal/platform/auditlog"
	"github.com/growthkit-labs/growthkit-go/internal/platform/auth"
	"github.com/growthkit-labs/growthkit-go/internal/platform/env"
	"github.com/growthkit-labs/growthkit-go/internal/platform/httpserver"
	"github.com/growthkit-labs/growthkit-go/internal/platform/objectstore"
	"github.com/growthkit-labs/growthkit-go/internal/platform/postgres"
	"github.com/growthkit-labs/growthkit-go/internal/registry"
	"github.com/growthkit-labs/growthkit-go/internal/resultstore"
	"github.com/growthkit-labs/growthkit-go/internal/submission"
	"github.com/growthkit-labs/growthkit-go/internal/videotasks"
	"github.com/growthkit-labs/growthkit-go/internal/workflow"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("DASHBOARD_HTTP_ADDR", ":8081")
	shutdownTimeout, err := env.Duration("DASHBOARD_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	dispatchTimeout, err := env.Duration("GROWTHKIT_DISPATCH_TIMEOUT", 30*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	submissionTTL, err := env.Duration("GROWTHKIT_SUBMISSION_TTL", submission.DefaultTTL)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid result store config", "error", err)
		os.Exit(2)
	}
	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		logger.Error("result store unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid object store config", "error", err)
		os.Exit(2)
	}
	uploads, err := objectstore.NewMinIOClient(storeCfg)
	if err != nil {
		logger.Error("object store client failed", "error", err)
		os.Exit(1)
	}
	if err := objectstore.EnsureBuckets(ctx, uploads, storeCfg); err != nil {
		logger.Error("object store bootstrap failed", "error", err)
		os.Exit(1)
	}

	reg, err := registry.Load(logger)
	if err != nil {
		logger.Error("invalid tools config", "error", err)
		os.Exit(2)
	}

	videoCfg, err := videotasks.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid video api config", "error", err)
		os.Exit(2)
	}
	video := videotasks.NewClient(logger, videoCfg)

	dispatcher := workflow.NewDispatcher(logger, dispatchTimeout)
	store := resultstore.New(logger, db)

	manager := submission.NewManager(logger, dispatcher, store, video, submission.Config{TTL: submissionTTL})
	manager.Start()
	defer manager.Shutdown()

	authenticator, err := buildAuthenticator(logger)
	if err != nil {
		logger.Error("invalid auth config", "error", err)
		os.Exit(2)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz("dashboard"))
	mux.HandleFunc(
		"/readyz",
		httpserver.ReadyzWithChecks(
			"dashboard",
			httpserver.ReadinessCheck{
				Name: "postgres",
				Check: func(ctx context.Context) error {
					checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
					defer cancel()
					return db.PingContext(checkCtx)
				},
			},
			httpserver.ReadinessCheck{
				Name: "objectstore",
				Check: func(ctx context.Context) error {
					checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
					defer cancel()
					return objectstore.CheckBuckets(checkCtx, uploads, storeCfg)
				},
			},
		),
	)

	api := newDashboardAPI(logger, reg, manager, store, db, uploads, storeCfg)
	api.register(mux)

	handler := auth.Middleware{
		Logger:        logger,
		Authenticator: authenticator,
		Authorize:     auth.MethodRoleAuthorizer(),
		Audit: func(ctx context.Context, event auth.DenyEvent) error {
			auditCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
			defer cancel()
			return auditlog.InsertAuthDeny(auditCtx, db, "dashboard", event)
		},
		SkipPrefixes: []string{"/healthz", "/readyz"},
	}.Wrap(mux)

	cfg := httpserver.Config{
		Service:         "dashboard",
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}

	if err := httpserver.Run(ctx, logger, cfg, httpserver.Wrap(logger, "dashboard", handler)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// buildAuthenticator picks how identities arrive. Behind the gateway the
// signed headers are the only trusted source; dev and disabled modes exist
// for local work.
func buildAuthenticator(logger *slog.Logger) (auth.Authenticator, error) {
	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		return nil, err
	}

	switch authCfg.Mode {
	case auth.ModeDev:
		logger.Warn("auth running in dev mode")
		return auth.NewDevAuthenticator(authCfg), nil
	case auth.ModeDisabled:
		logger.Warn("auth disabled, submissions cannot be correlated")
		return auth.AnonymousAuthenticator{}, nil
	case auth.ModeOIDC:
		secret := env.String("GROWTHKIT_INTERNAL_AUTH_SECRET", "")
		return auth.NewGatewayHeadersAuthenticator(secret)
	default:
		return nil, fmt.Errorf("unsupported auth mode: %q", authCfg.Mode)
	}
}
