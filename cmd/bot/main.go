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

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"splittab/internal/bot"
	"splittab/internal/chat"
	"splittab/internal/ledger"
	"splittab/internal/session"
	"splittab/internal/storage"
	"splittab/internal/storage/postgres"
	"splittab/internal/storage/sqlite"
	"splittab/pkg/logging"
)

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func openStore(ctx context.Context) (storage.Store, error) {
	switch driver := getEnv("DB_DRIVER", "sqlite"); driver {
	case "sqlite":
		return sqlite.New(getEnv("DB_PATH", "./data/splittab.db"))
	case "postgres":
		dsn := os.Getenv("DATABASE_URL")
		if dsn == "" {
			return nil, fmt.Errorf("DB_DRIVER=postgres requires DATABASE_URL")
		}
		return postgres.New(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown DB_DRIVER %q", driver)
	}
}

func sessionTTL() (time.Duration, error) {
	raw := os.Getenv("SESSION_TTL")
	if raw == "" {
		return session.DefaultTTL, nil
	}
	ttl, err := time.ParseDuration(raw)
	if err != nil || ttl < 0 {
		return 0, fmt.Errorf("bad SESSION_TTL %q", raw)
	}
	return ttl, nil
}

func main() {
	logging.Setup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("Storage initialized", "driver", getEnv("DB_DRIVER", "sqlite"))

	ttl, err := sessionTTL()
	if err != nil {
		slog.Error("Bad configuration", "error", err)
		os.Exit(1)
	}
	sessions := session.NewManager(ttl)
	if ttl > 0 {
		go sessions.Run(time.Minute)
		defer sessions.Stop()
	}

	if addr := getEnv("METRICS_ADDR", ":9090"); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			slog.Info("Metrics server starting", "address", addr)
			if err := http.ListenAndServe(addr, mux); err != nil {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	console := chat.NewConsole(os.Stdout)
	svc := ledger.NewService(store, console)
	strategy := session.StrategyByName(getEnv("PARTICIPANT_STRATEGY", "all"))
	router := bot.New(svc, sessions, console, strategy)

	slog.Info("Bot ready", "strategy", strategy.Name(),
		"session_ttl", ttl.String())
	fmt.Println(`Type "<id> <name>: <text>" to chat, e.g. "1 alice: /start". Ctrl-D to quit.`)

	if err := console.Listen(ctx, os.Stdin, router.Handle); err != nil && ctx.Err() == nil {
		slog.Error("Input stream failed", "error", err)
		os.Exit(1)
	}
}
