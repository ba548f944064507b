package main

import (
	"context"
	"flag"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"selfpm/internal"
	"selfpm/pkg/core"
	"selfpm/pkg/coreapi"
	"selfpm/pkg/jobs"
	"selfpm/pkg/platform"
	"selfpm/pkg/scheduler"
	"selfpm/pkg/scm"
	"selfpm/pkg/storage"
	"selfpm/pkg/storage/managers"
	"selfpm/pkg/storage/projects"
	"selfpm/pkg/webhook"
)

func main() {
	logger := internal.NewLogger("server")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	config, err := internal.LoadConfig(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	ruleEngine, err := internal.NewRuleEngine(internal.RulesConfig{
		Rules:  config.Rules,
		Strict: config.RulesStrict,
		Logger: logger,
	})
	if err != nil {
		logger.Fatalf("compile rules: %v", err)
	}

	publisher, err := internal.NewPublisher(config.Watermill)
	if err != nil {
		logger.Fatalf("publisher: %v", err)
	}
	defer publisher.Close()

	db, err := storage.OpenDB(storage.Config{
		Driver:  config.Storage.Driver,
		DSN:     config.Storage.DSN,
		Dialect: config.Storage.Dialect,
	})
	if err != nil {
		logger.Fatalf("storage: %v", err)
	}
	defer storage.CloseDB(db)

	managerStore, err := managers.New(db, "", config.Storage.AutoMigrate)
	if err != nil {
		logger.Fatalf("manager store: %v", err)
	}
	projectStore, err := projects.New(db, "", config.Storage.AutoMigrate)
	if err != nil {
		logger.Fatalf("project store: %v", err)
	}

	var billing platform.Billing
	if config.Core.BaseURL != "" {
		client, err := coreapi.New(coreapi.Config{
			BaseURL: config.Core.BaseURL,
			Token:   config.Core.Token,
			Timeout: time.Duration(config.Core.TimeoutMS) * time.Millisecond,
			Retries: config.Core.Retries,
			Logger:  internal.NewLogger("coreapi"),
		})
		if err != nil {
			logger.Fatalf("core api: %v", err)
		}
		billing = client
	} else {
		logger.Printf("core.base_url is empty; contract and invoice jobs will fail per project")
	}

	self, err := platform.New(platform.Options{
		Managers:  managerStore,
		Projects:  projectStore,
		Billing:   billing,
		Publisher: publisher,
		Rules:     ruleEngine,
		Events:    config.Events,
		Providers: scm.NewFactory(map[string]string{
			core.GitHub: config.Providers.GitHub.BaseURL,
			core.GitLab: config.Providers.GitLab.BaseURL,
		}).NewProvider,
		Logger: internal.NewLogger("platform"),
	})
	if err != nil {
		logger.Fatalf("platform: %v", err)
	}

	mux := http.NewServeMux()
	hookOpts := webhook.Options{
		Logger:      internal.NewLogger("webhook"),
		MaxBody:     config.Server.MaxBodyBytes,
		DebugEvents: config.Server.DebugEvents,
	}

	if config.Providers.GitHub.Enabled {
		pattern := "POST " + config.Providers.GitHub.Path + "/{owner}/{name}"
		mux.Handle(pattern, webhook.NewGitHubHandler(self, hookOpts))
		logger.Printf("github webhook enabled on %s", pattern)
	}

	if config.Providers.GitLab.Enabled {
		pattern := "POST " + config.Providers.GitLab.Path + "/{path...}"
		mux.Handle(pattern, webhook.NewGitLabHandler(self, hookOpts))
		logger.Printf("gitlab webhook enabled on %s", pattern)
	}

	if config.Server.MetricsEnabled {
		mux.Handle("GET "+config.Server.MetricsPath, internal.MetricsHandler())
		logger.Printf("metrics enabled on %s", config.Server.MetricsPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner, err := startScheduler(ctx, config.Scheduler, self)
	if err != nil {
		logger.Fatalf("scheduler: %v", err)
	}

	handler := internal.NewRateLimitHandler(mux, internal.RateLimitConfig{
		RPS:        config.Server.RateLimitRPS,
		Burst:      config.Server.RateLimitBurst,
		Idle:       time.Duration(config.Server.RateLimitIdle) * time.Millisecond,
		TrustProxy: config.Server.TrustProxy,
	})

	addr := ":" + strconv.Itoa(config.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       time.Duration(config.Server.ReadTimeoutMS) * time.Millisecond,
		ReadHeaderTimeout: time.Duration(config.Server.ReadHeaderMS) * time.Millisecond,
		WriteTimeout:      time.Duration(config.Server.WriteTimeoutMS) * time.Millisecond,
		IdleTimeout:       time.Duration(config.Server.IdleTimeoutMS) * time.Millisecond,
	}

	go func() {
		logger.Printf("listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("shutdown: %v", err)
	}
	if runner != nil {
		if err := runner.Stop(shutdownCtx); err != nil {
			logger.Printf("scheduler stop: %v", err)
		}
	}
}

func startScheduler(ctx context.Context, cfg internal.SchedulerConfig, self core.Self) (scheduler.Runner, error) {
	if !cfg.IsEnabled() {
		return nil, nil
	}
	logger := internal.NewLogger("scheduler")
	sweeps := jobs.New(self, internal.NewLogger("jobs"))
	entries, err := scheduler.Entries(cfg, sweeps.All())
	if err != nil {
		return nil, err
	}

	var runner scheduler.Runner
	switch cfg.Backend {
	case "river":
		river, err := scheduler.NewRiver(ctx, cfg.River, entries, logger)
		if err != nil {
			return nil, err
		}
		runner = river
	default:
		runner = scheduler.NewCron(entries, logger)
	}
	if err := scheduler.Launch(ctx, runner); err != nil {
		return nil, err
	}
	logger.Printf("%s scheduler started with %d jobs", cfg.Backend, len(entries))
	return runner, nil
}
