package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"lost-found-portal/pkg/config"
	"lost-found-portal/pkg/identity"
	"lost-found-portal/pkg/logger"
	"lost-found-portal/pkg/middleware"
	"lost-found-portal/pkg/models"
	"lost-found-portal/pkg/queue"
	"lost-found-portal/pkg/response"
)

const queueName = "notifications"

func main() {
	cfg := config.Load()

	log, err := logger.Init(logger.ConfigFromEnv(), "notification-service")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, ch, err := queue.ConnectRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		log.Fatal("failed to connect to RabbitMQ", zap.Error(err))
	}
	defer conn.Close()
	defer ch.Close()
	log.Info("connected to RabbitMQ")

	msgs, err := queue.ConsumeReportEvents(ch, cfg.ReportExchange, queueName)
	if err != nil {
		log.Fatal("failed to consume report events", zap.Error(err))
	}
	log.Info("listening to notifications queue", zap.String("queue", queueName))

	middleware.RegisterMetrics()
	hub := NewHub(log, prometheus.DefaultRegisterer)
	go hub.Run(ctx)
	go consumeMessages(ctx, msgs, hub, log)

	srv := &http.Server{
		Addr:              ":" + cfg.NotificationPort,
		Handler:           routes(hub, identity.NewTokens(cfg.JWTSecret, cfg.TokenTTL), log),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		log.Info("notification service listening", zap.String("addr", srv.Addr))
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

func routes(hub *Hub, tokens middleware.TokenParser, log *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)

	r.Get("/notifications/subscribe", subscribeHandler(hub, tokens, log))
	r.Get("/subscribe", subscribeHandler(hub, tokens, log))

	r.Group(func(r chi.Router) {
		r.Use(middleware.MetricsMiddleware, middleware.LoggerMiddleware(log))
		r.Get("/health", healthHandler(hub))
		r.Handle("/metrics", middleware.GetMetricsHandler())
	})
	return r
}

// consumeMessages forwards report events from the broker to the hub.
func consumeMessages(ctx context.Context, msgs <-chan amqp.Delivery, hub *Hub, log *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-msgs:
			if !ok {
				log.Warn("report event stream closed")
				return
			}
			var ev models.ReportEvent
			if err := json.Unmarshal(d.Body, &ev); err != nil {
				log.Warn("failed to parse report event", zap.Error(err))
				continue
			}
			log.Info("report event received", zap.String("type", ev.Type), zap.String("report_id", ev.ReportID))
			if err := hub.Publish(ctx, ev); err != nil {
				return
			}
		}
	}
}

// subscribeHandler streams notifications to one signed-in end user. The
// token comes from the query string, since EventSource cannot set headers,
// or from the Authorization header.
func subscribeHandler(hub *Hub, tokens middleware.TokenParser, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.URL.Query().Get("token")
		if tokenString == "" {
			tokenString, _ = middleware.BearerToken(r)
		}
		if tokenString == "" {
			response.Error(w, http.StatusUnauthorized, "Unauthorized: Missing token", "")
			return
		}

		id, err := tokens.ParseIdentity(tokenString)
		if err != nil {
			log.Warn("invalid token attempt", zap.String("trace_id", middleware.GetTraceID(r)), zap.Error(err))
			response.Error(w, http.StatusUnauthorized, "Unauthorized: Invalid token", "")
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			response.Error(w, http.StatusInternalServerError, "Streaming unsupported", "")
			return
		}

		client, err := hub.Subscribe(r.Context(), id.Email)
		if err != nil {
			response.Error(w, http.StatusServiceUnavailable, "Notifications unavailable", "")
			return
		}
		defer hub.Unsubscribe(client)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fmt.Fprintf(w, "data: %s\n\n", `{"type":"connected","message":"Connection established"}`)
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case n, ok := <-client.Send:
				if !ok {
					return
				}
				data, err := json.Marshal(n)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "data: %s\n\n", data)
				flusher.Flush()
			}
		}
	}
}

// healthHandler returns service health status
func healthHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, http.StatusOK, map[string]interface{}{
			"status":            "UP",
			"service":           "notification-service",
			"connected_clients": hub.Clients(r.Context()),
		})
	}
}
