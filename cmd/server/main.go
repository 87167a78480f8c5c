package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/lootbox-sale/internal/api"
	"github.com/atmx/lootbox-sale/internal/auth"
	"github.com/atmx/lootbox-sale/internal/config"
	"github.com/atmx/lootbox-sale/internal/metrics"
	"github.com/atmx/lootbox-sale/internal/model"
	"github.com/atmx/lootbox-sale/internal/sale"
	"github.com/atmx/lootbox-sale/internal/sandbox"
	"github.com/atmx/lootbox-sale/internal/store"
	"github.com/atmx/lootbox-sale/migrations"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		if err := migrations.Apply(ctx, pool); err != nil {
			slog.Error("migrations failed", "err", err)
			os.Exit(1)
		}
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Collaborators ---
	// The external ledgers, minter and access control run in-process.
	access := sandbox.NewAccess()
	access.Grant(auth.RoleOwner, model.Address(cfg.OwnerAccount))
	access.Grant(auth.RoleAdmin, addresses(cfg.AdminAccounts)...)
	access.Grant(auth.RoleAutomation, addresses(cfg.AutomationAccounts)...)
	slog.Warn("using sandbox collaborators",
		"admins", len(cfg.AdminAccounts),
		"automation", len(cfg.AutomationAccounts),
		"collections", len(cfg.ActiveCollections),
	)

	// --- WebSocket hub ---
	hub := api.NewHub()
	go hub.Run(ctx)

	// --- Sale service ---
	svc, err := sale.New(sale.Deps{
		Store:    st,
		Access:   access,
		Token:    sandbox.NewTokens(),
		Vesting:  sandbox.NewVesting(),
		Registry: sandbox.NewRegistry(addresses(cfg.ActiveCollections)...),
		Minter:   sandbox.NewMinter(),
		Treasury: sandbox.Treasury(cfg.TreasuryAccount),
		Notifier: hub,
	}, sale.Config{
		Custody:  model.Address(cfg.CustodyAccount),
		Category: cfg.MintCategory,
	}, sale.WithLogger(logger))
	if err != nil {
		slog.Error("sale service setup failed", "err", err)
		os.Exit(1)
	}

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+api.AccountHeader)
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"lootbox-sale"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		api.NewHandler(svc).Routes(r, hub)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("lootbox-sale listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	slog.Info("shutting down lootbox-sale...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("lootbox-sale stopped")
}

func addresses(accounts []string) []model.Address {
	out := make([]model.Address, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, model.Address(a))
	}
	return out
}
