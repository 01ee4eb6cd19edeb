// Command entitlementd runs the badge and benefit entitlement core: the
// HTTP ingress for events, redemptions and refunds, and the background
// schedules that keep the dependency graph cache and badge expirations
// current.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"

	"github.com/badgeforge/entitlement/internal/autobenefit"
	"github.com/badgeforge/entitlement/internal/benefitdispatch"
	"github.com/badgeforge/entitlement/internal/benefitdispatch/handlers"
	"github.com/badgeforge/entitlement/internal/cascade"
	"github.com/badgeforge/entitlement/internal/config"
	"github.com/badgeforge/entitlement/internal/depgraph"
	"github.com/badgeforge/entitlement/internal/grant"
	"github.com/badgeforge/entitlement/internal/idempotency"
	"github.com/badgeforge/entitlement/internal/maintenance"
	"github.com/badgeforge/entitlement/internal/obs/metrics"
	"github.com/badgeforge/entitlement/internal/pipeline"
	"github.com/badgeforge/entitlement/internal/redemption"
	"github.com/badgeforge/entitlement/internal/revoke"
	"github.com/badgeforge/entitlement/internal/ruleengine"
	"github.com/badgeforge/entitlement/internal/storage/postgres"
	"github.com/badgeforge/entitlement/internal/ttlcache"
	"github.com/badgeforge/entitlement/pkg/logger"
)

func main() {
	rulesDir := flag.String("rules-dir", "", "directory of compiled rule JSON files to load at startup")
	runMigrations := flag.Bool("migrate", true, "run embedded database migrations on startup")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.LoggingConfig{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: "stdout"})
	m := metrics.New("entitlementd")

	db, err := sql.Open("postgres", cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.DBMaxConnections)
	db.SetConnMaxIdleTime(cfg.DBIdleTimeout)

	if *runMigrations {
		if err := postgres.ApplyMigrations(db); err != nil {
			log.Fatalf("apply migrations: %v", err)
		}
	}

	store := postgres.New(db)
	cache := ttlcache.New(ttlcache.Config{DefaultTTL: cfg.UserBadgeCacheTTL, CleanupInterval: 10 * time.Minute})
	cacheHook := newCacheAdapter(cache)
	notifyHook := newNotifyAdapter(log)

	locker, markers := buildIdempotency(cfg, log)

	ruleStore := ruleengine.NewStore()
	if *rulesDir != "" {
		if err := loadRuleFiles(ruleStore, *rulesDir); err != nil {
			log.Fatalf("load rule files: %v", err)
		}
	}

	graph := depgraph.NewHolder(store, cfg.DependencyGraphTTL)
	if err := graph.Refresh(context.Background()); err != nil {
		log.Warnf("initial dependency graph refresh failed, starting with an empty graph: %v", err)
	}

	registry := benefitdispatch.NewRegistry()
	registry.Register("points", handlers.NewPointsHandler(newInMemoryPointsLedger()))
	registry.Register("physical", handlers.NewPhysicalHandler(newInMemoryShipmentCreator()))
	registry.Register("coupon", handlers.NewCouponHandler(newInMemoryCouponIssuer()))
	dispatchSvc := benefitdispatch.New(postgres.NewBenefitDispatchStore(store), registry)

	redeemSvc := redemption.New(
		postgres.NewRedemptionStore(store), dispatchSvc, locker, cacheHook, notifyHook, m, log,
		redemption.Config{
			LockTTL: cfg.RedemptionLockTTL, LockRetries: cfg.RedemptionLockRetries, LockRetryDelay: cfg.RedemptionLockRetryDelay,
		},
	)
	autoBenefitEval := autobenefit.New(store, store, redeemSvc, log, autobenefit.Config{Async: cfg.AutoBenefitAsync})

	grantSvc := grant.New(
		postgres.NewGrantStore(store), graph, store, cacheHook, notifyHook, m, log,
		grant.Config{
			CascadeMaxDepth:  cfg.CascadeMaxDepth,
			CascadeTimeout:   time.Duration(cfg.CascadeTimeoutMs) * time.Millisecond,
			AutoBenefitAsync: cfg.AutoBenefitAsync,
		},
	)
	grantSvc.SetAutoBenefitTrigger(autoBenefitEval)

	cascadeEval := cascade.New(graph, store, store, m, log)
	cascadeEval.SetGranter(grantSvc)
	grantSvc.SetCascadeTrigger(cascadeEval)

	revokeSvc := revoke.New(postgres.NewRevokeStore(store), idempotency.NewRefundDedupWithTTL(markers, cfg.RefundMarkerTTL), cacheHook, notifyHook, m, log)

	eventGate := idempotency.NewProcessedEventGateWithTTL(markers, cfg.ProcessedEventTTL)
	pipe := pipeline.New(store, eventGate, ruleStore, grantSvc, m, log)

	sweeper := maintenance.New(postgres.NewMaintenanceStore(store), cacheHook, notifyHook, m, log)

	scheduler := cron.New()
	if _, err := scheduler.AddFunc("@every 1m", func() {
		if err := graph.Refresh(context.Background()); err != nil {
			log.Warnf("scheduled dependency graph refresh failed: %v", err)
		}
	}); err != nil {
		log.Fatalf("schedule dependency graph refresh: %v", err)
	}
	if _, err := scheduler.AddFunc("@every 5m", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := sweeper.Sweep(ctx); err != nil {
			log.Warnf("scheduled expiry sweep failed: %v", err)
		}
	}); err != nil {
		log.Fatalf("schedule expiry sweep: %v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	router := newRouter(pipe, redeemSvc, revokeSvc, log)
	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	server := &http.Server{Addr: addr, Handler: router}

	go func() {
		log.WithField("addr", addr).Info("entitlementd listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("http shutdown: %v", err)
	}
}

// buildIdempotency selects the Redis-backed locker/marker store when
// cfg.RedisURL is set (multi-instance deployments), otherwise the
// in-process defaults adequate for a single instance.
func buildIdempotency(cfg *config.Config, log *logger.Logger) (idempotency.DistributedLocker, idempotency.MarkerStore) {
	if strings.TrimSpace(cfg.RedisURL) == "" {
		return idempotency.NewInProcessLocker(), idempotency.NewInProcessMarkerStore()
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("parse REDIS_URL: %v", err)
	}
	client := redis.NewClient(opts)
	return idempotency.NewRedisLocker(client, "entitlement:lock:"), idempotency.NewRedisMarkerStore(client)
}

// loadRuleFiles loads every *.json file in dir into store, keyed by the
// rule id embedded in each file. Rule authoring itself happens out of band
// (a catalog admin tool, not this service); this only loads the compiled
// trees the pipeline evaluates against.
func loadRuleFiles(store *ruleengine.Store, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read rules dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read rule file %s: %w", path, err)
		}
		if _, err := store.LoadJSON(data); err != nil {
			return fmt.Errorf("load rule file %s: %w", path, err)
		}
	}
	return nil
}
