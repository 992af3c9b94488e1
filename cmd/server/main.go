package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	cataloghandler "gazetteer/internal/catalog/handler"
	catalogservice "gazetteer/internal/catalog/service"
	catalogstore "gazetteer/internal/catalog/store"
	csstore "gazetteer/internal/changeset/store"
	"gazetteer/internal/importer"
	"gazetteer/internal/locality/cache"
	lochandler "gazetteer/internal/locality/handler"
	locservice "gazetteer/internal/locality/service"
	locstore "gazetteer/internal/locality/store"
	"gazetteer/internal/platform/config"
	"gazetteer/internal/platform/httpserver"
	"gazetteer/internal/platform/logger"
	"gazetteer/internal/platform/metrics"
	"gazetteer/internal/platform/postgres"
	platformredis "gazetteer/internal/platform/redis"
	"gazetteer/internal/render"
	"gazetteer/internal/token"
	audit "gazetteer/pkg/platform/audit"
	"gazetteer/pkg/platform/audit/publisher"
	auditkafka "gazetteer/pkg/platform/audit/store/kafka"
	auditmemory "gazetteer/pkg/platform/audit/store/memory"
)

// main wires high-level dependencies and keeps the server lifecycle small.
// Business logic lives in the internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()
	m := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage: Postgres when configured, in-memory otherwise so the server
	// can run without infrastructure for local development.
	var (
		catalogStore   catalogservice.Store
		localityStore  locservice.LocalityStore
		changesetStore locservice.ChangesetStore
		storeTx        locservice.StoreTx
		dbHealth       func(context.Context) error
	)
	if cfg.DatabaseURL != "" {
		db, err := postgres.Open(cfg.DatabaseURL)
		if err != nil {
			log.Error("postgres connection failed", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			log.Error("schema migration failed", "error", err)
			os.Exit(1)
		}
		catalogStore = catalogstore.NewPostgres(db)
		localityStore = locstore.NewPostgres(db)
		changesetStore = csstore.NewPostgres(db)
		storeTx = newPostgresTx(db)
		dbHealth = db.PingContext
		log.Info("using postgres storage")
	} else {
		localities := locstore.NewInMemory()
		changesets := csstore.NewInMemory()
		catalogStore = catalogstore.NewInMemory()
		localityStore = localities
		changesetStore = changesets
		storeTx = locstore.NewInMemoryTx(localities, changesets)
		log.Warn("DATABASE_URL not set, using in-memory storage")
	}

	// Audit sink: Kafka when brokers are configured, in-memory otherwise.
	var auditStore audit.Store
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaStore, err := auditkafka.New(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			log.Error("kafka connection failed", "error", err)
			os.Exit(1)
		}
		defer kafkaStore.Close()
		auditStore = kafkaStore
		log.Info("audit events go to kafka", "topic", cfg.Kafka.Topic)
	} else {
		auditStore = auditmemory.NewInMemoryStore()
	}
	auditor := publisher.NewPublisher(auditStore,
		publisher.WithAsyncBuffer(256),
		publisher.WithLogger(log))
	defer auditor.Close()

	renderer := render.NewTemplateRenderer()
	catalog := catalogservice.New(catalogStore, renderer,
		catalogservice.WithLogger(log),
		catalogservice.WithAuditPublisher(auditor))

	localityOpts := []locservice.Option{
		locservice.WithLogger(log),
		locservice.WithMetrics(m),
		locservice.WithAuditPublisher(auditor),
		locservice.WithRenderer(renderer),
	}
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Warn("redis unavailable, projection cache disabled", "error", err)
	} else if redisClient != nil {
		defer redisClient.Close()
		localityOpts = append(localityOpts,
			locservice.WithCache(cache.NewRedis(redisClient, cache.WithLogger(log))))
		log.Info("projection cache enabled")
	}
	localities := locservice.New(localityStore, changesetStore, catalog, storeTx, localityOpts...)

	overpass := importer.New(cfg.OverpassURL, localities, catalog,
		importer.WithLogger(log),
		importer.WithMetrics(m),
		importer.WithAuditPublisher(auditor),
		importer.WithProjector(localities))

	validator := token.NewValidator(cfg.JWTSigningKey)

	router := chi.NewRouter()
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if dbHealth != nil {
			if err := dbHealth(r.Context()); err != nil {
				http.Error(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})
	lochandler.New(localities, log, m, validator).Register(router)
	cataloghandler.New(catalog, log, m, validator).Register(router)
	importer.NewHandler(overpass, log, validator).Register(router)

	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting gazetteer", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
