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
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"lost-found-portal/pkg/config"
	"lost-found-portal/pkg/database"
	"lost-found-portal/pkg/identity"
	"lost-found-portal/pkg/logger"
	"lost-found-portal/pkg/middleware"
	"lost-found-portal/pkg/response"
)

func main() {
	cfg := config.Load()

	log, err := logger.Init(logger.ConfigFromEnv(), "auth-service")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	db, err := database.ConnectPostgres(cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}

	users := identity.NewGormUsers(db)
	log.Info("running auto migration")
	if err := users.Migrate(); err != nil {
		log.Fatal("migration failed", zap.Error(err))
	}

	svc := identity.NewService(users, identity.NewTokens(cfg.JWTSecret, cfg.TokenTTL), log)

	middleware.RegisterMetrics()
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "lostfound_registered_users",
			Help: "Accounts in the identity store",
		},
		func() float64 {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			n, err := users.Count(ctx)
			if err != nil {
				return 0
			}
			return float64(n)
		},
	))

	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware, middleware.MetricsMiddleware, middleware.LoggerMiddleware(log))
	r.Get("/health", healthCheckHandler(users))
	r.Handle("/metrics", middleware.GetMetricsHandler())
	identity.RegisterRoutes(r, svc, log)

	srv := &http.Server{
		Addr:              ":" + cfg.AuthPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("auth service listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown failed", zap.Error(err))
	}
}

// healthCheckHandler returns service health status
func healthCheckHandler(users *identity.GormUsers) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := map[string]interface{}{
			"status":  "UP",
			"service": "auth-service",
		}

		if err := users.Ping(r.Context()); err != nil {
			health["status"] = "DOWN"
			health["database"] = "disconnected"
			response.JSON(w, http.StatusServiceUnavailable, health)
			return
		}

		health["database"] = "connected"
		response.JSON(w, http.StatusOK, health)
	}
}
