// cmd/api/main.go
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "scraper-worker-service/docs"
	"scraper-worker-service/internal/notify"
	"scraper-worker-service/internal/repository/postgresql"
	"scraper-worker-service/internal/sandbox"
	"scraper-worker-service/internal/service"
	httptransport "scraper-worker-service/internal/transport/http"
)

// @title Scraper Worker Service API
// @version 1.0
// @description Run submission, status polling and sandboxed script validation.
// @BasePath /
func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	pgDSN := mustEnv("POSTGRES_DSN")
	redisAddr := envOr("REDIS_ADDR", "")
	addr := envOr("HTTP_ADDR", ":8080")

	pool, err := postgresql.NewPool(ctx, pgDSN)
	if err != nil {
		logger.Fatal("postgres", zap.Error(err))
	}
	defer pool.Close()

	var notifier notify.Notifier = notify.Nop{}
	if redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		notifier = notify.NewRedisNotifier(rdb,
			envOr("REDIS_EVENTS_CHANNEL", "runs:events"),
			envOr("REDIS_STATUS_KEY", "runs:status"),
			24*time.Hour)
	}

	runs := postgresql.NewRunRepository(pool)
	timeouts := postgresql.NewTimeoutRepository(pool)
	targets := postgresql.NewTargetRepository(pool)

	submitSvc := service.NewSubmitService(runs, timeouts, targets, notifier, logger)
	statusSvc := service.NewStatusService(runs)
	validator := sandbox.NewValidator(logger)

	handler := httptransport.NewHandler(submitSvc, statusSvc, runs, validator)

	srv := &http.Server{
		Addr:              addr,
		Handler:           httptransport.Routes(handler, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("api listening",
			zap.String("addr", addr),
			zap.String("postgres_dsn", redactDSN(pgDSN)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
	logger.Info("api stopped")
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("missing env: %s", key)
	}
	return v
}

func envOr(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func redactDSN(dsn string) string {
	re := regexp.MustCompile(`://([^:/?#]+):([^@/]+)@`)
	return re.ReplaceAllString(dsn, `://$1:****@`)
}
