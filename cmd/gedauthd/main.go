// Command gedauthd serves the GED authentication API.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ged-ministere/gedauth"
	sentrymonitor "github.com/ged-ministere/gedauth/monitors/sentry"
	"github.com/ged-ministere/gedauth/stores/postgres"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("warning: .env file not found, using environment variables")
	}

	logger, err := newLogger()
	if err != nil {
		log.Fatal("failed to create logger: ", err)
	}
	defer logger.Sync()

	if err := run(logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func newLogger() (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if os.Getenv("GEDAUTH_ENV") == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}

	filename := os.Getenv("GEDAUTH_LOG_FILE")
	if filename == "" {
		return logger, nil
	}
	file := zapcore.AddSync(&lumberjack.Logger{
		Filename:   filename,
		MaxSize:    envInt("GEDAUTH_LOG_MAX_SIZE_MB", 100),
		MaxAge:     envInt("GEDAUTH_LOG_MAX_AGE_DAYS", 30),
		MaxBackups: envInt("GEDAUTH_LOG_MAX_BACKUPS", 10),
		Compress:   true,
	})
	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		file,
		zap.InfoLevel,
	)
	return logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, fileCore)
	})), nil
}

func envInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return fallback
}

func run(logger *zap.Logger) error {
	ctx := context.Background()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	store := postgres.New(pool, pool)
	if err := store.Migrate(ctx); err != nil {
		return err
	}
	logger.Info("database connected")

	options := []gedauth.Option{
		gedauth.WithLogger(logger),
		postgres.WithDatabase(pool),
		gedauth.WithSecretsFromEnv(),
	}
	options = append(options, gedauth.ConfigFromEnv()...)

	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              dsn,
			Environment:      os.Getenv("GEDAUTH_ENV"),
			AttachStacktrace: true,
		})
		if err != nil {
			return err
		}
		defer sentry.Flush(2 * time.Second)
		monitor := sentrymonitor.New(sentry.CurrentHub(), sentrymonitor.WithNext(gedauth.NewLogMonitor(logger)))
		options = append(options, gedauth.WithSecurityMonitor(monitor))
		logger.Info("sentry alerts enabled")
	}

	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		redisOpts, err := redis.ParseURL(redisURL)
		if err != nil {
			return err
		}
		client := redis.NewClient(redisOpts)
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return err
		}
		options = append(options, gedauth.WithRedis(client))
		logger.Info("redis connected")
	} else {
		logger.Warn("REDIS_URL not set, revocation state is kept in process memory")
		options = append(options, gedauth.WithMemoryKV())
	}

	auth, err := gedauth.New(options...)
	if err != nil {
		return err
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Mount("/api/auth", auth.Handler())

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	return auth.Close(shutdownCtx)
}
