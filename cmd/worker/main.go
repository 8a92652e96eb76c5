// Command worker is the matching system's composition root: it wires
// the queue store, durable store, in-memory state store, unit of work,
// the find-match/process-request use cases, the broker consumer, the
// HTTP admission surface, and metrics, then runs until signaled to stop.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/aungmyo/matchworker/internal/broker"
	"github.com/aungmyo/matchworker/internal/circuitbreaker"
	"github.com/aungmyo/matchworker/internal/config"
	"github.com/aungmyo/matchworker/internal/database"
	"github.com/aungmyo/matchworker/internal/domain"
	"github.com/aungmyo/matchworker/internal/handler"
	"github.com/aungmyo/matchworker/internal/httpapi"
	"github.com/aungmyo/matchworker/internal/metrics"
	"github.com/aungmyo/matchworker/internal/notify"
	"github.com/aungmyo/matchworker/internal/queuestore"
	"github.com/aungmyo/matchworker/internal/ratelimit"
	"github.com/aungmyo/matchworker/internal/statestore"
	"github.com/aungmyo/matchworker/internal/usecase"
)

func main() {
	cfg := config.Load()

	log.Printf("matchworker starting")
	log.Printf("  listen_addr:       %s", cfg.ListenAddr)
	log.Printf("  redis_addr:        %s", cfg.RedisAddr)
	log.Printf("  database_url:      %s", cfg.DatabaseURL)
	log.Printf("  nats_url:          %s", cfg.NATSURL)
	log.Printf("  max_wait_time:     %s", cfg.Matching.MaxWaitTime)
	log.Printf("  initial_delay:     %s", cfg.Matching.InitialDelay)
	log.Printf("  max_retries:       %d", cfg.Matching.MaxRetries)
	log.Printf("  compat_threshold:  %v", cfg.Threshold)

	migrationsPath, err := filepath.Abs(cfg.MigrationsPath)
	if err != nil {
		log.Fatalf("resolve migrations path: %v", err)
	}
	if err := database.RunMigrations(cfg.DatabaseURL, migrationsPath); err != nil {
		log.Fatalf("run database migrations: %v", err)
	}
	log.Printf("database migrations applied successfully")

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("open database connection: %v", err)
	}
	if err := db.Ping(); err != nil {
		log.Fatalf("ping database: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("ping redis: %v", err)
	}

	queue := queuestore.New(rdb, cfg.CacheTTL, cfg.MaxQueueWait)
	states := statestore.New(cfg.StateMaxSize, cfg.StateTTL)

	cleanupCtx, stopCleanup := context.WithCancel(context.Background())
	go states.RunCleanupLoop(cleanupCtx)

	collector := metrics.NewCollector()

	natsBroker, err := broker.Connect(broker.Config{
		URL:           cfg.NATSURL,
		Name:          "matchworker",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}, collector)
	if err != nil {
		log.Fatalf("connect to NATS: %v", err)
	}

	notifier := notify.New(natsBroker.Conn(), queue)

	findMatch := usecase.NewFindMatch(cfg.Weights, cfg.Threshold, collector)
	processRequest := usecase.NewProcessRequest(cfg.Matching, findMatch, db, queue, states, natsBroker, notifier, collector)

	breaker := circuitbreaker.New(cfg.BreakerFailureThreshold, cfg.BreakerRecoveryTimeout)
	msgLimiter := ratelimit.NewInProcessLimiter(cfg.RateLimitMaxRequests, cfg.RateLimitWindow, 10*time.Minute)
	messageHandler := handler.New(processRequest, natsBroker, breaker, msgLimiter, cfg.RateLimitWindow)

	sub, err := natsBroker.Subscribe(func(request domain.MatchRequest) {
		messageHandler.Handle(context.Background(), request)
	})
	if err != nil {
		log.Fatalf("subscribe to match requests: %v", err)
	}

	admissionLimiter := ratelimit.NewLimiter(rdb)
	httpServer := httpapi.New(db, queue, natsBroker, admissionLimiter)

	server := &http.Server{Addr: cfg.ListenAddr, Handler: httpServer.Mux()}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, initiating graceful shutdown...", sig)

	stopCleanup()
	sub.Unsubscribe()
	natsBroker.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("http server shutdown error: %v", err)
	}

	if err := db.Close(); err != nil {
		log.Printf("database close error: %v", err)
	}
	if err := rdb.Close(); err != nil {
		log.Printf("redis close error: %v", err)
	}
}
