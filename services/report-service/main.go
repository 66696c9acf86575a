package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"lost-found-portal/pkg/config"
	"lost-found-portal/pkg/database"
	"lost-found-portal/pkg/feed"
	"lost-found-portal/pkg/flags"
	"lost-found-portal/pkg/identity"
	"lost-found-portal/pkg/logger"
	"lost-found-portal/pkg/middleware"
	"lost-found-portal/pkg/moderation"
	"lost-found-portal/pkg/queue"
	"lost-found-portal/pkg/security"
	"lost-found-portal/pkg/session"
	"lost-found-portal/pkg/store"
	"lost-found-portal/pkg/submission"
)

func main() {
	cfg := config.Load()

	log, err := logger.Init(logger.ConfigFromEnv(), "report-service")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.ConnectMongo(ctx, cfg.MongoURI, cfg.MongoDB, log)
	if err != nil {
		log.Fatal("failed to connect to MongoDB", zap.Error(err))
	}
	defer db.Client().Disconnect(context.Background())

	if err := database.EnsureReportIndexes(ctx, db); err != nil {
		log.Warn("report indexes not created", zap.Error(err))
	}

	conn, ch, err := queue.ConnectRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		log.Fatal("failed to connect to RabbitMQ", zap.Error(err))
	}
	defer conn.Close()
	defer ch.Close()
	log.Info("connected to RabbitMQ")

	if err := queue.DeclareExchange(ch, cfg.ReportExchange, "direct"); err != nil {
		log.Fatal("report exchange", zap.Error(err))
	}
	bus, err := queue.NewFlagBus(ch, cfg.FlagsExchange, log)
	if err != nil {
		log.Fatal("flag bus", zap.Error(err))
	}

	shared, err := flags.OpenShared(ctx, database.NewFlagCollection(db), bus, log)
	if err != nil {
		log.Fatal("failed to open flags", zap.Error(err))
	}
	defer shared.Close()

	repo := store.NewReportRepository(store.NewMongo(db, log, cfg.PollInterval), log)
	events := queue.NewReportEvents(ch, cfg.ReportExchange, log)

	key, err := security.KeyFromConfig(cfg.SessionKey, cfg.JWTSecret)
	if err != nil {
		log.Fatal("invalid session key", zap.Error(err))
	}
	sealer, err := security.NewSealer(key)
	if err != nil {
		log.Fatal("failed to init session sealer", zap.Error(err))
	}

	provider := identity.NewClient(cfg.AuthServiceURL, shared, log, identity.WithTokenSealer(sealer))
	provider.Start(ctx)
	defer provider.Close()

	gate := session.NewGate(provider, shared, log)
	defer gate.Close()

	middleware.RegisterMetrics()
	agg := feed.NewAggregator(repo, log, feed.WithMetrics(feed.NewMetrics(prometheus.DefaultRegisterer)))
	if err := agg.Start(ctx); err != nil {
		log.Fatal("failed to subscribe to reports", zap.Error(err))
	}
	defer agg.Close()

	if cfg.AdminPasswordHash == "" {
		log.Warn("ADMIN_PASSWORD_HASH not set; admin login is disabled")
	}

	srv := &server{
		log:        log,
		gate:       gate,
		accounts:   session.NewAccounts(gate, provider, log),
		admins:     session.NewAdminAuthenticator(cfg.AdminUser, cfg.AdminPasswordHash),
		feed:       agg,
		reports:    repo,
		submitter:  submission.NewSubmitter(gate, repo, events, log),
		moderation: moderation.NewWorkflow(gate, repo, agg, events, log),
		flags:      shared,
	}

	httpSrv := &http.Server{
		Addr:              ":" + cfg.ReportPort,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		// Feed streams end when the process is told to stop.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		log.Info("report service listening", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown failed", zap.Error(err))
	}
}
