package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wagerhall/betledger/internal/api"
	"github.com/wagerhall/betledger/internal/config"
	"github.com/wagerhall/betledger/internal/engine"
	"github.com/wagerhall/betledger/internal/income"
	"github.com/wagerhall/betledger/internal/metrics"
	"github.com/wagerhall/betledger/internal/model"
	"github.com/wagerhall/betledger/internal/notify"
	"github.com/wagerhall/betledger/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config load failed:", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.Postgres.DSN != "" {
		pool, err := pgxpool.New(context.Background(), cfg.Postgres.DSN)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if cfg.Postgres.RunMigration {
			if err := pg.EnsureSchema(context.Background()); err != nil {
				slog.Error("schema bootstrap failed", "err", err)
				os.Exit(1)
			}
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through snapshot cache if configured.
		if cfg.Redis.Addr != "" {
			rdb := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.Redis.SnapshotTTL.Duration)
			slog.Info("Redis snapshot cache enabled", "ttl", cfg.Redis.SnapshotTTL.Duration)
		}
	} else {
		slog.Warn("postgres dsn not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Event publisher ---
	var publisher notify.Publisher = notify.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		writer := notify.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		kp := notify.NewKafkaPublisher(writer)
		cleanup = append(cleanup, func() { kp.Close() })
		publisher = kp
		slog.Info("Kafka publisher enabled", "topic", cfg.Kafka.Topic)
	}

	// --- Engine ---
	eng := engine.New(st)

	// Clear leftovers from settlements interrupted before their sweep.
	if swept, err := eng.Sweep(context.Background()); err != nil {
		slog.Error("startup sweep failed", "err", err)
	} else if swept > 0 {
		slog.Info("startup sweep", "bets", swept)
	}

	// --- WebSocket hub ---
	wsHub := api.NewWSHub()
	go wsHub.Run()

	// --- API server ---
	apiSrv := api.NewServer(eng, wsHub, publisher,
		cfg.Economy.StartingBalance, cfg.Economy.IncomeAmount)

	// --- Background workers ---
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	incomeScheduler := &income.Scheduler{
		Engine:   eng,
		Amount:   cfg.Economy.IncomeAmount,
		Interval: cfg.Economy.IncomeInterval.Duration,
		OnDistributed: func(updates []model.AccountUpdate) {
			for _, u := range updates {
				wsHub.Broadcast(api.WSMessage{
					Type:    notify.KindIncome,
					Server:  u.Server,
					User:    u.User,
					Diff:    u.Diff,
					Balance: u.Balance,
				})
			}
			publisher.PublishUpdates(workerCtx, notify.KindIncome, "", updates)
		},
	}
	go incomeScheduler.Run(workerCtx)

	go func() {
		ticker := time.NewTicker(cfg.Economy.SweepInterval.Duration)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				if _, err := eng.Sweep(workerCtx); err != nil {
					slog.Error("sweep failed", "err", err)
				}
			}
		}
	}()

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(cfg.Server.RequestTimeout.Duration))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"betledger"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", apiSrv.Routes)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("betledger listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	stopWorkers()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
	defer cancel()

	slog.Info("shutting down betledger...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("betledger stopped")
}

func logLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
