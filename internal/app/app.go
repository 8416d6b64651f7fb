package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"smart-mail-reply-go/internal/analysis"
	"smart-mail-reply-go/internal/config"
	"smart-mail-reply-go/internal/db"
	"smart-mail-reply-go/internal/fetcher"
	"smart-mail-reply-go/internal/gate"
	"smart-mail-reply-go/internal/handler"
	"smart-mail-reply-go/internal/ingest"
	"smart-mail-reply-go/internal/lease"
	"smart-mail-reply-go/internal/llm"
	"smart-mail-reply-go/internal/metrics"
	"smart-mail-reply-go/internal/priority"
	"smart-mail-reply-go/internal/privacy"
	"smart-mail-reply-go/internal/repository"
	"smart-mail-reply-go/internal/retrieval"
	"smart-mail-reply-go/internal/router"
	"smart-mail-reply-go/internal/rules"
	"smart-mail-reply-go/internal/scheduler"
	"smart-mail-reply-go/internal/worker"
)

// Run initializes and starts the application
func Run() error {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(logrus.InfoLevel)

	logrus.Info("Starting Smart Mail Reply Service")

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	if level, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		logrus.SetLevel(level)
	} else {
		logrus.Warnf("Unknown log level %q, using info", cfg.Log.Level)
	}

	dbConn, err := db.Init(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	repo := repository.New(dbConn)

	ruleSet, err := rules.Load(cfg.Rules.Path)
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	logrus.Infof("Loaded rule set version %d", ruleSet.Version)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pipeline, err := buildPipeline(ctx, cfg, dbConn, repo, ruleSet, m)
	if err != nil {
		return err
	}

	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "worker"
	}
	pool := worker.NewPool(hostname, cfg.Worker, repo.WorkQueue, pipeline, m)

	locker, redisClient, err := buildLocker(cfg.Redis)
	if err != nil {
		return err
	}

	syncer := ingest.NewSyncer(repo.Accounts, repo.WorkQueue, fetcher.NewFactory(cfg.Gmail), locker, m)
	sched := scheduler.NewScheduler(&cfg.Scheduler, cfg.Worker.StaleAfter, syncer, repo.WorkQueue, locker, m)

	h := handler.NewHandlers(dbConn, repo, syncer, sched, reg)
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router.SetupRouter(h),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	pool.Start(ctx)
	if cfg.Scheduler.AutoStart {
		if err := sched.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	go func() {
		logrus.Infof("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}

	if err := sched.Stop(); err != nil {
		logrus.Errorf("Failed to stop scheduler: %v", err)
	}
	sched.Wait()

	// in-flight items finish before the pool returns
	pool.Stop()

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logrus.Errorf("Failed to close redis client: %v", err)
		}
	}
	if sqlDB, err := dbConn.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			logrus.Errorf("Failed to close database: %v", err)
		}
	}

	logrus.Info("Server stopped gracefully")
	return nil
}

func buildPipeline(ctx context.Context, cfg *config.Config, dbConn *gorm.DB, repo *repository.Repository, ruleSet *rules.Set, m *metrics.Metrics) (*worker.Pipeline, error) {
	client, err := llm.NewClient(llm.Config{BaseURL: cfg.Ollama.BaseURL, Timeout: cfg.Ollama.Timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama client: %w", err)
	}
	analyzer := analysis.NewLLMAnalyzer(client, cfg.Ollama.AnalysisModel, buildRetriever(ctx, cfg.Retrieval, dbConn, client))

	var drafter gate.Drafter
	if cfg.Ollama.DraftEnabled {
		drafter = gate.NewLLMDrafter(client, cfg.Ollama.DraftModel)
	} else {
		logrus.Info("Reply drafting disabled, approved replies use the pattern text")
	}

	redactor, err := privacy.NewRegexRedactor()
	if err != nil {
		return nil, fmt.Errorf("failed to create redactor: %w", err)
	}

	return worker.NewPipeline(
		repo.WorkQueue,
		redactor,
		analyzer,
		priority.NewClassifier(ruleSet),
		gate.New(ruleSet, drafter, m),
		m,
	), nil
}

// buildRetriever indexes the policy documents in the background; the index answers with whatever is stored so far
func buildRetriever(ctx context.Context, cfg config.RetrievalConfig, dbConn *gorm.DB, embedder retrieval.Embedder) analysis.Retriever {
	if cfg.DocumentsDir == "" {
		logrus.Info("No policy documents configured, analysis runs without policy context")
		return nil
	}

	index := retrieval.NewIndex(dbConn, embedder, cfg)
	go func() {
		added, err := index.IngestDir(ctx, cfg.DocumentsDir)
		if err != nil {
			logrus.Errorf("Policy document indexing failed: %v", err)
			return
		}
		logrus.Infof("Policy document indexing finished, %d new chunks", added)
	}()
	return index
}

func buildLocker(cfg config.RedisConfig) (lease.Locker, *redis.Client, error) {
	if cfg.Addr == "" {
		logrus.Info("No redis configured, sync and reaper leases are process-local")
		return lease.Noop{}, nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logrus.Infof("Using redis leases at %s", cfg.Addr)
	return lease.NewRedisLease(client, cfg.LeaseTTL), client, nil
}
