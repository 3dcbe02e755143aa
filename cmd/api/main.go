package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"liveconnect/internal/audit"
	"liveconnect/internal/auth"
	"liveconnect/internal/bus"
	"liveconnect/internal/calls"
	"liveconnect/internal/config"
	"liveconnect/internal/conversation"
	"liveconnect/internal/database"
	"liveconnect/internal/events"
	"liveconnect/internal/media"
	"liveconnect/internal/metrics"
	"liveconnect/internal/presence"
	"liveconnect/internal/pricing"
	"liveconnect/internal/profiles"
	"liveconnect/internal/realtime"
	"liveconnect/internal/reporting"
	"liveconnect/internal/sessions"
	"liveconnect/pkg/logger"
	"liveconnect/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// stores bundles the record stores selected by STORE_DRIVER.
type stores struct {
	calls    calls.Store
	sessions sessions.Store
	convs    conversation.Repository
	profiles profiles.Lookup
	pricing  pricing.PolicyRepository
	audit    audit.Repository
	health   func(ctx context.Context) error
}

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	var db *sql.DB
	st := memoryStores()
	if cfg.Store.Driver == "postgres" {
		db, err = utils.OpenPostgres(rootCtx, utils.PostgresConfig{DSN: cfg.PostgresDSN(), MaxOpenConns: cfg.DB.MaxOpenConns})
		if err != nil {
			log.Error("postgres init failed", "err", err)
			os.Exit(1)
		}
		defer db.Close()
		if cfg.DB.AutoMigrate {
			if err := database.Migrate(rootCtx, db, log); err != nil {
				log.Error("migrations failed", "err", err)
				os.Exit(1)
			}
		}
		st = postgresStores(db)
	} else {
		log.Warn("using in-memory stores; records are lost on restart")
	}

	var rdb *redis.Client
	if cfg.Bus.Driver == "redis" {
		rdb, err = utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
	}

	var (
		eventBus bus.Bus
		tracker  presence.Tracker
	)
	if rdb != nil {
		eventBus = bus.NewRedisBus(rdb, cfg.Bus.ChannelPrefix, cfg.Bus.Buffer, log)
		tracker = presence.NewRedisTracker(rdb, cfg.Bus.ChannelPrefix, cfg.Realtime.MaxConnsPerUser, cfg.Realtime.PresenceTTL)
	} else {
		eventBus = bus.NewMemoryBus(cfg.Bus.Buffer)
		tracker = presence.NewMemoryTracker(cfg.Realtime.MaxConnsPerUser)
	}
	defer eventBus.Close()

	a, err := buildApp(cfg, st, eventBus, tracker, log)
	if err != nil {
		log.Error("app init failed", "err", err)
		os.Exit(1)
	}
	a.auth = auth.RequireAccessToken(authManager)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	limiter := registerRoutes(r, a)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(rootCtx)
	g.Go(func() error {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "store", cfg.Store.Driver, "bus", cfg.Bus.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return a.dispatcher.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown initiated")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()

		// Hijacked websocket connections are not tracked by the server; close them explicitly.
		a.registry.CloseAll()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("http shutdown failed", "err", err)
		}
		a.engine.Close()
		limiter.Stop()
		return logger.ShutdownFlush(shutdownCtx, 2*time.Second)
	})

	if err := g.Wait(); err != nil {
		log.Error("api stopped with error", "err", err)
		os.Exit(1)
	}
	log.Info("api stopped")
}

// buildApp wires the services on top of the selected stores, bus and presence tracker.
// Auth is left to the caller.
func buildApp(cfg config.Config, st stores, eventBus bus.Bus, tracker presence.Tracker, log *slog.Logger) (*app, error) {
	collector := metrics.NewCollector(nil, time.Now())
	promRegistry := metrics.NewRegistry(collector)
	pub := collector.WrapPublisher(events.NewBusPublisher(eventBus))

	issuer, err := media.NewJWTIssuer(cfg.Media)
	if err != nil {
		return nil, fmt.Errorf("media credential issuer: %w", err)
	}

	convs := conversation.NewService(st.convs, pub, log)
	pres := presence.NewService(tracker, pub, log)

	engine := calls.NewEngine(calls.Deps{
		Store:         st.calls,
		Conversations: convs,
		Media:         issuer,
		Publisher:     pub,
		Logger:        log.With("component", "calls"),
		Observer:      collector,
	}, calls.Config{
		RingTimeout:    cfg.Calls.RingTimeout,
		StaleInitiated: cfg.Calls.StaleInitiated,
		StaleAccepted:  cfg.Calls.StaleAccepted,
	})
	sess := sessions.NewService(sessions.Deps{
		Store:         st.sessions,
		Profiles:      st.profiles,
		Presence:      pres,
		Conversations: convs,
		Pricing:       pricing.NewService(st.pricing),
		Publisher:     pub,
		Logger:        log.With("component", "sessions"),
		Observer:      collector,
	}, sessions.Config{
		StalePending:    cfg.Sessions.StalePending,
		StaleInProgress: cfg.Sessions.StaleInProgress,
	})
	engine.SetSessionHook(sess)

	registry := realtime.NewRegistry(log.With("component", "registry"), collector)
	collector.SetRegistry(registry)

	return &app{
		cfg:        cfg,
		engine:     engine,
		sessions:   sess,
		presence:   pres,
		reporting:  reporting.NewService(st.calls),
		audit:      audit.NewService(st.audit),
		registry:   registry,
		dispatcher: realtime.NewDispatcher(eventBus, registry, log.With("component", "dispatcher")),
		ws:         realtime.NewHandler(registry, pub, engine, pres, cfg.Realtime, log.With("component", "realtime")),
		metrics:    promRegistry,
		health:     st.health,
	}, nil
}

func memoryStores() stores {
	return stores{
		calls:    calls.NewMemoryRepo(),
		sessions: sessions.NewMemoryRepo(),
		convs:    conversation.NewMemoryRepo(),
		profiles: profiles.NewMemoryRepo(),
		pricing:  &pricing.MemoryRepo{},
		audit:    audit.NewMemoryRepo(),
	}
}

func postgresStores(db *sql.DB) stores {
	return stores{
		calls:    calls.NewPostgresRepo(db),
		sessions: sessions.NewPostgresRepo(db),
		convs:    conversation.NewPostgresRepo(db),
		profiles: profiles.NewPostgresRepo(db),
		pricing:  pricing.NewPostgresRepo(db),
		audit:    audit.NewPostgresRepo(db),
		health: func(ctx context.Context) error {
			return utils.PingPostgres(ctx, db, 2*time.Second)
		},
	}
}
