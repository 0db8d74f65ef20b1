package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/odyssey-erp/odyssey-access/cmd/odyssey/cli"
	"github.com/odyssey-erp/odyssey-access/internal/access"
	accesshttp "github.com/odyssey-erp/odyssey-access/internal/access/http"
	"github.com/odyssey-erp/odyssey-access/internal/app"
	"github.com/odyssey-erp/odyssey-access/internal/directory"
	"github.com/odyssey-erp/odyssey-access/internal/guard"
	"github.com/odyssey-erp/odyssey-access/internal/navigation"
	"github.com/odyssey-erp/odyssey-access/internal/observability"
	"github.com/odyssey-erp/odyssey-access/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-access/internal/platform/db"
	"github.com/odyssey-erp/odyssey-access/internal/resolver"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
	"github.com/odyssey-erp/odyssey-access/internal/view"
	"github.com/odyssey-erp/odyssey-access/jobs"
)

const usage = `usage: odyssey [command]

commands:
  serve                          run the HTTP server (default)
  migrate                        apply directory schema migrations
  invalidate [-company ID]       enqueue an access invalidation (0 = all companies)
  explain -user ID -company ID [-module M] [-perm P]
                                 print the snapshot and decision for one actor
`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Default().Warn("load .env", slog.Any("error", err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	command, args := "serve", []string(nil)
	if len(os.Args) > 1 {
		command, args = os.Args[1], os.Args[2:]
	}

	switch command {
	case "serve":
		err = serve(ctx, cfg, logger)
	case "migrate":
		err = migrate(ctx, cfg, logger)
	case "invalidate":
		err = invalidate(ctx, cfg, logger, args)
	case "explain":
		err = explain(ctx, cfg, logger, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error(command, slog.Any("error", err))
		os.Exit(1)
	}
}

// openDirectory returns the directory reader selected by DIRECTORY_DRIVER and
// a health check for it, when one applies.
func openDirectory(ctx context.Context, cfg *app.Config, logger *slog.Logger) (directory.Reader, app.Pinger, func(), error) {
	switch cfg.DirectoryDriver {
	case app.DirectoryMemory:
		var (
			mem *directory.Memory
			err error
		)
		if cfg.DirectorySeed != "" {
			f, openErr := os.Open(cfg.DirectorySeed)
			if openErr != nil {
				return nil, nil, nil, fmt.Errorf("open directory seed: %w", openErr)
			}
			defer f.Close()
			mem, err = directory.LoadSeed(f)
		} else {
			mem, err = directory.LoadDevSeed()
		}
		if err != nil {
			return nil, nil, nil, err
		}
		logger.Warn("using in-memory directory", slog.String("seed", cfg.DirectorySeed))
		return mem, nil, func() {}, nil
	default:
		pool, err := db.New(ctx, cfg.PGDSN, db.Options{ReadOnly: true, ApplicationName: "odyssey-access"})
		if err != nil {
			return nil, nil, nil, err
		}
		return directory.NewPostgres(pool), pool, pool.Close, nil
	}
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	reader, dbCheck, closeDirectory, err := openDirectory(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeDirectory()

	metrics := observability.NewMetrics()
	store := directory.NewCache(reader, redisClient, cfg.AccessCacheTTL, logger)
	registry := resolver.NewRegistry(store, resolver.Options{
		AdminRole: cfg.AccessAdminRole,
		Timeout:   cfg.AccessResolveTimeout,
		Logger:    logger,
		Recorder:  metrics,
	})
	if err := store.ListenForInvalidation(ctx, func(companyID int64) {
		n := registry.RefreshTenant(companyID)
		logger.Info("access invalidated", slog.Int64("company_id", companyID), slog.Int("sessions", n))
	}); err != nil {
		return err
	}
	go registry.RunSweeper(ctx, time.Minute, cfg.AccessSessionIdle)

	items, err := loadNavigation(cfg)
	if err != nil {
		return err
	}
	templates, err := view.NewEngine()
	if err != nil {
		return fmt.Errorf("parse templates: %w", err)
	}

	sessionManager := shared.NewSessionManager(redisClient, "odyssey_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	accessHandler := accesshttp.NewHandler(accesshttp.Config{
		Logger:     logger,
		Templates:  templates,
		Sessions:   sessionManager,
		CSRF:       csrfManager,
		Registry:   registry,
		Navigation: items,
		Filter:     navigation.Filter{OperationalRoles: cfg.AccessOperationalRoles},
		Guard: guard.RouteGuard{
			DeniedPath:         cfg.AccessDeniedPath,
			ModuleDisabledPath: cfg.AccessModuleDisabledPath,
			Wait:               cfg.AccessGuardWait,
			Logger:             logger,
			Recorder:           metrics,
		},
		Recorder: metrics,
		Wait:     cfg.AccessGuardWait,
		DevLogin: cfg.DevLoginEnabled(),
	})

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	checks := map[string]app.Pinger{"redis": cache.Health{Client: redisClient}}
	if dbCheck != nil {
		checks["postgres"] = dbCheck
	}

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionManager: sessionManager,
		CSRFManager:    csrfManager,
		Registry:       registry,
		AccessHandler:  accessHandler,
		JobHandler:     jobs.NewHandler(inspector, logger),
		Metrics:        metrics,
		Checks:         checks,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("directory", cfg.DirectoryDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
	return nil
}

func loadNavigation(cfg *app.Config) ([]navigation.Item, error) {
	if cfg.NavigationFile == "" {
		return navigation.Default()
	}
	return navigation.LoadFile(cfg.NavigationFile)
}

func migrate(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN, db.Options{ApplicationName: "odyssey-access-migrate"})
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := directory.Migrate(ctx, pool, logger); err != nil {
		return err
	}
	logger.Info("directory migrations applied")
	return nil
}

func invalidate(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("invalidate", flag.ContinueOnError)
	companyID := fs.Int64("company", 0, "company ID, 0 for every company")
	reason := fs.String("reason", "manual", "reason recorded in the worker log")
	if err := fs.Parse(args); err != nil {
		return err
	}

	jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer func() {
		if err := jobsCLI.Close(); err != nil {
			logger.Warn("jobs cli close", slog.Any("error", err))
		}
	}()

	info, err := jobsCLI.Invalidate(ctx, *companyID, *reason)
	if err != nil {
		return err
	}
	if info == nil {
		logger.Info("invalidation already queued", slog.Int64("company_id", *companyID))
		return nil
	}
	logger.Info("invalidation enqueued", slog.String("task_id", info.ID), slog.Int64("company_id", *companyID))
	return nil
}

func explain(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("explain", flag.ContinueOnError)
	userID := fs.Int64("user", 0, "actor ID")
	companyID := fs.Int64("company", 0, "company ID")
	module := fs.String("module", "", "required module code")
	perms := fs.String("perm", "", "comma separated permissions, all required")
	if err := fs.Parse(args); err != nil {
		return err
	}

	reader, _, closeDirectory, err := openDirectory(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeDirectory()

	req := access.Requirement{Module: access.Module(strings.ToUpper(strings.TrimSpace(*module)))}
	for _, p := range strings.Split(*perms, ",") {
		if p = strings.TrimSpace(p); p != "" {
			req.AllPermissions = append(req.AllPermissions, p)
		}
	}
	_, err = cli.Explain(ctx, reader, cfg.AccessAdminRole, access.Key{ActorID: *userID, TenantID: *companyID}, req, os.Stdout)
	return err
}
