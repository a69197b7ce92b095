package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"norruva.org/internal/apikeys"
	"norruva.org/internal/audit"
	"norruva.org/internal/auth"
	"norruva.org/internal/compliance"
	"norruva.org/internal/config"
	"norruva.org/internal/credits"
	"norruva.org/internal/demo"
	"norruva.org/internal/httpapi"
	"norruva.org/internal/obs"
	"norruva.org/internal/oracle"
	"norruva.org/internal/ratelimit"
	"norruva.org/internal/store"
	"norruva.org/internal/store/pg"
	"norruva.org/internal/stream"
	"norruva.org/internal/tasks"
	"norruva.org/internal/tickets"
	"norruva.org/internal/users"
	"norruva.org/internal/webhook"
	"norruva.org/internal/workflow"
)

var commit = "unknown"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	obs.Init()
	obs.InitBuildInfo(cfg.Version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mem := store.NewMemory()
	repos := store.FromMemory(mem)
	var ledger credits.Service = credits.NewInMemory()
	var db *sql.DB
	if cfg.PostgresDSN != "" {
		pgs, err := pg.Open(cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer pgs.Close()
		db = pgs.DB()
		repos.Products = pgs
		repos.AuditLogs = pgs
		ledger = pgs
	}

	if !cfg.Production() {
		if err := demo.Seed(ctx, demo.DefaultScenario(), repos.Companies, repos.Users); err != nil {
			log.Fatalf("seed demo directory: %v", err)
		}
	}

	ev, err := compliance.NewEvaluator()
	if err != nil {
		log.Fatalf("compliance evaluator: %v", err)
	}
	if cfg.ComplianceCatalog != "" {
		paths, err := compliance.LoadCatalogFile(cfg.ComplianceCatalog, ev)
		if err != nil {
			log.Fatalf("compliance catalog: %v", err)
		}
		for i := range paths {
			if err := repos.Paths.PutCompliancePath(ctx, &paths[i]); err != nil {
				log.Fatalf("compliance catalog: %v", err)
			}
		}
		obs.Info("compliance catalog loaded", map[string]any{"paths": len(paths), "file": cfg.ComplianceCatalog})
	}

	failures := make(chan audit.Failure, 64)
	go func() {
		for f := range failures {
			obs.Error("audit entry dropped", f.Err, map[string]any{"action": f.Action, "entity_id": f.EntityID, "user_id": f.UserID})
		}
	}()
	al := audit.NewLogger(repos.AuditLogs, repos.Users, audit.WithErrorSink(failures))

	issuer, err := oracle.NewValidatingIssuer(oracle.NewMockIssuer())
	if err != nil {
		log.Fatalf("credential issuer: %v", err)
	}
	exec := tasks.NewExecutor(cfg.TaskConcurrency)
	notifier := webhook.NewNotifier(repos.Webhooks, repos.AuditLogs, webhook.NewDispatcher(nil), exec, al)
	events := stream.New()

	engine, err := workflow.New(workflow.Deps{
		Products:  repos.Products,
		Companies: repos.Companies,
		Paths:     repos.Paths,
		Audit:     al,
		Executor:  exec,
		Scorer:    oracle.NewMockScorer(ev),
		Anchorer:  oracle.NewMockAnchorer(""),
		Issuer:    issuer,
		Evaluator: ev,
		Credits:   ledger,
		Notifier:  notifier,
		Events:    events,
	})
	if err != nil {
		log.Fatalf("workflow: %v", err)
	}

	var limiter ratelimit.Limiter
	if cfg.RedisAddr != "" {
		rdb := ratelimit.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword)
		defer rdb.Close()
		limiter = ratelimit.NewRedis(rdb, cfg.APIRateLimit, cfg.APIRateWindow)
	} else {
		window := ratelimit.NewSlidingWindow(cfg.APIRateLimit, cfg.APIRateWindow)
		go window.Run(ctx)
		limiter = window
	}

	secret := cfg.AuthSecret
	if secret == "" {
		secret = "norruva-dev-secret"
		obs.Warn("using development token secret", nil)
	}
	tokens, err := auth.NewTokens(secret, cfg.TokenTTL)
	if err != nil {
		log.Fatalf("tokens: %v", err)
	}

	probe := httpapi.ReadyProbe{DB: db}
	api := httpapi.New(httpapi.Services{
		Engine:        engine,
		UserRepo:      repos.Users,
		Users:         users.NewService(repos.Users, al),
		APIKeys:       apikeys.NewService(repos.APIKeys, repos.Users, al),
		Webhooks:      webhook.NewSubscriptions(repos.Webhooks, al),
		Notifier:      notifier,
		Tickets:       tickets.NewService(repos.Tickets, repos.Products, al),
		Audit:         audit.NewReader(repos.AuditLogs),
		Credits:       ledger,
		Paths:         repos.Paths,
		Tokens:        tokens,
		Limiter:       limiter,
		Stream:        events,
		DevTokenIssue: !cfg.Production(),
	}, httpapi.Options{
		Version:         cfg.Version,
		Ready:           probe,
		IPRateBurst:     cfg.IPRateBurst,
		IPRatePerSecond: cfg.IPRatePerSecond,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	health := httpapi.NewHealthServer(probe)
	go health.Run(ctx, 10*time.Second)
	grpcSrv := httpapi.NewGRPCServer(health)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("grpc listen: %v", err)
	}
	go func() {
		if err := grpcSrv.Serve(lis); err != nil {
			obs.Error("grpc server stopped", err, nil)
		}
	}()

	obs.Info("starting norruva-api", map[string]any{
		"version":   cfg.Version,
		"env":       cfg.Env,
		"http_addr": cfg.HTTPAddr,
		"grpc_addr": cfg.GRPCAddr,
		"postgres":  db != nil,
		"redis":     cfg.RedisAddr != "",
	})
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	obs.Info("shutting down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	grpcSrv.GracefulStop()
	exec.Wait()
	close(failures)
	obs.Info("stopped", nil)
}
