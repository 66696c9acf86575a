package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"lost-found-portal/pkg/models"
)

const (
	TypeNewReport    = "new_report"
	TypeStatusUpdate = "status_update"
)

type Notification struct {
	ID        string    `json:"id"`
	ReportID  string    `json:"report_id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	Category  string    `json:"category,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// notificationFor turns a report event into what subscribers see.
func notificationFor(ev models.ReportEvent, now time.Time) (Notification, bool) {
	n := Notification{
		ID:        uuid.NewString(),
		ReportID:  ev.ReportID,
		Status:    string(ev.Status),
		Category:  string(ev.Category),
		CreatedAt: now,
	}
	switch ev.Type {
	case models.EventReportCreated:
		n.Type = TypeNewReport
		n.Title = fmt.Sprintf("New %s item reported", ev.Category)
		n.Message = fmt.Sprintf("%s at %s", ev.Name, ev.Location)
	case models.EventReportResolved:
		n.Type = TypeStatusUpdate
		n.Title = "Your report was resolved"
		n.Message = fmt.Sprintf("%s has been marked as resolved.", ev.Name)
	default:
		return Notification{}, false
	}
	return n, true
}

var errHubStopped = errors.New("hub stopped")

type Client struct {
	Email string
	Send  chan Notification
}

type outgoing struct {
	n     Notification
	owner string
}

// Hub fans report notifications out to connected subscribers. New reports go
// to everyone; a resolution goes only to the account that filed the report.
type Hub struct {
	log        *zap.Logger
	clients    map[*Client]bool
	broadcast  chan outgoing
	register   chan *Client
	unregister chan *Client
	count      chan chan int
	done       chan struct{}

	connected prometheus.Gauge
	delivered *prometheus.CounterVec
	dropped   prometheus.Counter
}

func NewHub(log *zap.Logger, reg prometheus.Registerer) *Hub {
	h := &Hub{
		log:        log,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outgoing, 100),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		count:      make(chan chan int),
		done:       make(chan struct{}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "notification_connected_clients",
			Help: "Subscribers currently connected",
		}),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notification_delivered_total",
			Help: "Notifications handed to subscribers by type",
		}, []string{"type"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notification_dropped_total",
			Help: "Notifications skipped because a subscriber was too slow",
		}),
	}
	reg.MustRegister(h.connected, h.delivered, h.dropped)
	return h
}

// Publish queues ev for delivery. Unknown event types are ignored.
func (h *Hub) Publish(ctx context.Context, ev models.ReportEvent) error {
	n, ok := notificationFor(ev, time.Now().UTC())
	if !ok {
		h.log.Warn("ignoring unknown report event", zap.String("type", ev.Type))
		return nil
	}
	select {
	case h.broadcast <- outgoing{n: n, owner: ev.ReportBy}:
		return nil
	case <-h.done:
		return errHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) Subscribe(ctx context.Context, email string) (*Client, error) {
	c := &Client{Email: email, Send: make(chan Notification, 10)}
	select {
	case h.register <- c:
		return c, nil
	case <-h.done:
		return nil, errHubStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Hub) Unsubscribe(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Clients reports how many subscribers are connected.
func (h *Hub) Clients(ctx context.Context) int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-h.done:
		return 0
	case <-ctx.Done():
		return 0
	}
}

// Run owns the client set until ctx ends, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for c := range h.clients {
			close(c.Send)
			delete(h.clients, c)
		}
		h.connected.Set(0)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.clients[c] = true
			h.connected.Set(float64(len(h.clients)))
			h.log.Info("client registered", zap.Int("clients", len(h.clients)))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.Send)
			}
			h.connected.Set(float64(len(h.clients)))
			h.log.Info("client unregistered", zap.Int("clients", len(h.clients)))

		case reply := <-h.count:
			reply <- len(h.clients)

		case out := <-h.broadcast:
			for c := range h.clients {
				if out.n.Type == TypeStatusUpdate && !strings.EqualFold(c.Email, out.owner) {
					continue
				}
				select {
				case c.Send <- out.n:
					h.delivered.WithLabelValues(out.n.Type).Inc()
				default:
					h.dropped.Inc()
				}
			}
		}
	}
}
