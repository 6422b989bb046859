package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/dutch-engine/internal/api"
	"github.com/atmx/dutch-engine/internal/auction"
	"github.com/atmx/dutch-engine/internal/config"
	"github.com/atmx/dutch-engine/internal/custody"
	"github.com/atmx/dutch-engine/internal/limits"
	"github.com/atmx/dutch-engine/internal/metrics"
	"github.com/atmx/dutch-engine/internal/notify"
	"github.com/atmx/dutch-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to YAML config file (optional)")
	flag.Parse()

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Redis (cache and optional custody backend) ---
	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
	}

	// --- Initialize store ---
	var st store.Store
	if cfg.Database.URL != "" {
		poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
		if err != nil {
			slog.Error("invalid DATABASE_URL", "err", err)
			os.Exit(1)
		}
		poolCfg.MaxConns = cfg.Database.MaxConns
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)

		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("database migration failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if rdb != nil {
			st = store.NewCachedStore(st, rdb, cfg.Redis.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.Redis.CacheTTL)
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	// --- Custody ---
	var ledger custody.Ledger
	switch cfg.Custody.Backend {
	case "redis":
		ledger = custody.NewRedisLedger(rdb, cfg.Registry.EscrowAccount, cfg.Custody.Assets)
		slog.Info("custody backed by Redis", "assets", len(cfg.Custody.Assets))
	default:
		if cfg.Database.URL != "" {
			slog.Warn("in-memory custody with persistent store: balances reset on restart")
		}
		ledger = custody.NewMemoryLedger(cfg.Registry.EscrowAccount, cfg.Custody.Assets...)
	}
	if cfg.Custody.Faucet {
		slog.Warn("faucet endpoints enabled")
	}

	// --- Event notifiers ---
	wsHub := api.NewWSHub()
	go wsHub.Run(ctx)

	notifiers := notify.Multi{wsHub, notify.Log{Logger: logger}}
	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name("dutch-engine"))
		if err != nil {
			slog.Error("NATS connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, func() { nc.Drain() })

		js, err := notify.NewJetStream(ctx, nc, cfg.NATS.MaxAge)
		if err != nil {
			slog.Error("JetStream setup failed", "err", err)
			os.Exit(1)
		}
		notifiers = append(notifiers, js)
		slog.Info("publishing auction events to JetStream", "stream", notify.StreamName)
	}

	// --- Registry ---
	limiter := limits.NewListingLimiter(cfg.Registry.MaxActivePerSeller, cfg.MaxEscrowPerAsset())
	registry, err := auction.NewRegistry(st, ledger, ledger.Payments(),
		auction.Config{
			Escrow: cfg.Registry.EscrowAccount,
			Admins: cfg.Registry.Admins,
		},
		auction.WithClock(clockwork.NewRealClock()),
		auction.WithNotifier(notifiers),
		auction.WithLimiter(limiter),
	)
	if err != nil {
		slog.Error("registry setup failed", "err", err)
		os.Exit(1)
	}
	if err := registry.SyncMetrics(ctx); err != nil {
		slog.Warn("could not count active auctions", "err", err)
	}

	auth, err := api.NewAuthenticator(cfg.Auth.Tokens)
	if err != nil {
		slog.Error("auth setup failed", "err", err)
		os.Exit(1)
	}
	if len(cfg.Auth.Tokens) == 0 && !cfg.Custody.Faucet {
		slog.Warn("no API tokens configured: create, buy, cancel and approve will be refused")
	}
	svc := api.NewService(registry, ledger, cfg.Custody.Faucet, api.WithAuthenticator(auth))

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"dutch-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time auction events. Long-lived, so
		// it sits outside the request timeout.
		r.Get("/ws", wsHub.HandleWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			svc.Routes(r)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("dutch-engine listening",
			"port", cfg.Server.Port,
			"escrow", registry.Escrow(),
			"custody", cfg.Custody.Backend,
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("shutting down dutch-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("dutch-engine stopped")
}
