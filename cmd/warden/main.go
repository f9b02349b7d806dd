package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/seantiz/warden/internal/agent"
	"github.com/seantiz/warden/internal/config"
	"github.com/seantiz/warden/internal/engine"
	"github.com/seantiz/warden/internal/model"
	"github.com/seantiz/warden/internal/notify"
	"github.com/seantiz/warden/internal/ops"
	"github.com/seantiz/warden/internal/recovery"
	"github.com/seantiz/warden/internal/registry"
	"github.com/seantiz/warden/internal/store"
	"github.com/seantiz/warden/internal/telemetry"
)

var version = "dev"

func main() {
	loadDotEnv()
	if err := run(); err != nil {
		log.Fatalf("warden: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("warden: starting",
		"version", version,
		"ops_addr", cfg.OpsAddr,
		"db_path", cfg.DBPath,
		"persistence", cfg.Persistence,
		"max_concurrent_jobs", cfg.MaxConcurrentJobs,
	)

	ctx := context.Background()

	shutdownTracing, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Error("tracing shutdown", "error", err)
		}
	}()

	db, err := store.Open(cfg.DBPath, cfg.Persistence)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer db.Close()

	policy, err := registry.ParsePolicy(cfg.DuplicatePolicy)
	if err != nil {
		return fmt.Errorf("invalid duplicate policy: %w", err)
	}
	jobs := registry.New[*model.Job](model.KindJob, policy, logger)
	cases := registry.New[*model.Case](model.KindCase, policy, logger)

	if _, err := recovery.NewLoader(db, jobs, cases, logger).Load(ctx); err != nil {
		return fmt.Errorf("recovery failed: %w", err)
	}

	agents := agent.NewRegistry()
	agents.Register(agent.EchoName, agent.Echo())

	broker := notify.NewBroker()
	eng := engine.NewEngine(db, jobs, cases, agents, logger,
		engine.WithNotifier(notify.Multi{notify.NewLogger(logger), broker}),
		engine.WithMaxConcurrentJobs(cfg.MaxConcurrentJobs),
	)

	srv := ops.NewServer(cfg.OpsAddr, broker, logger)
	srv.SetReady(true)

	runErr := srv.Run(ctx)

	logger.Info("waiting for in-flight jobs")
	eng.Wait()
	return runErr
}

// loadDotEnv loads the nearest .env walking up from the working directory.
// Variables already set in the environment win.
func loadDotEnv() {
	dir, err := os.Getwd()
	if err != nil {
		return
	}
	for range 5 {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			_ = godotenv.Load(envPath)
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}
