package feed

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"lost-found-portal/pkg/logger"
	"lost-found-portal/pkg/models"
	"lost-found-portal/pkg/store"
)

var ErrClosed = errors.New("feed closed")

// Source is the report subscription the aggregator follows.
type Source interface {
	Subscribe(fn func([]models.Report)) (store.Unsubscribe, error)
}

type request struct {
	ev  Event
	ack chan State
}

// Aggregator owns the feed state on a single loop goroutine. Store
// deliveries, query changes and local patches are queued to the loop in
// arrival order and folded through Reduce.
type Aggregator struct {
	src     Source
	log     *zap.Logger
	metrics *Metrics

	events  chan request
	done    chan struct{}
	stopped chan struct{}

	mu        sync.RWMutex
	current   State
	listeners map[int]func(State)
	nextID    int
	unsub     store.Unsubscribe

	startOnce sync.Once
	closeOnce sync.Once
}

type Option func(*Aggregator)

func WithMetrics(m *Metrics) Option {
	return func(a *Aggregator) { a.metrics = m }
}

func NewAggregator(src Source, log *zap.Logger, opts ...Option) *Aggregator {
	a := &Aggregator{
		src:       src,
		log:       logger.OrNop(log),
		events:    make(chan request),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
		current:   NewState(),
		listeners: make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start runs the loop and subscribes to the source. The aggregator closes
// itself when ctx ends.
func (a *Aggregator) Start(ctx context.Context) error {
	var err error
	a.startOnce.Do(func() {
		go a.loop()

		var unsub store.Unsubscribe
		unsub, err = a.src.Subscribe(a.onSnapshot)
		if err != nil {
			a.Close()
			return
		}

		a.mu.Lock()
		select {
		case <-a.done:
			// closed while subscribing
			a.mu.Unlock()
			unsub()
			err = ErrClosed
			return
		default:
		}
		a.unsub = unsub
		a.mu.Unlock()

		go func() {
			select {
			case <-ctx.Done():
				a.Close()
			case <-a.done:
			}
		}()
	})
	return err
}

// Close disposes the subscription and stops the loop. Snapshots the store
// emits afterwards change nothing.
func (a *Aggregator) Close() {
	a.closeOnce.Do(func() {
		close(a.done)

		a.mu.Lock()
		unsub := a.unsub
		a.unsub = nil
		a.mu.Unlock()
		if unsub != nil {
			unsub()
		}
	})
}

// Done is closed once the loop has exited.
func (a *Aggregator) Done() <-chan struct{} { return a.stopped }

func (a *Aggregator) onSnapshot(reports []models.Report) {
	select {
	case <-a.done:
		return
	default:
	}
	select {
	case a.events <- request{ev: SnapshotEvent{Reports: reports}}:
	case <-a.done:
	}
}

func (a *Aggregator) loop() {
	defer close(a.stopped)

	state := NewState()
	for {
		select {
		case <-a.done:
			return
		case req := <-a.events:
			state = Reduce(state, req.ev)
			a.metrics.observe(req.ev, state)
			a.publish(state)
			if req.ack != nil {
				req.ack <- state
			}
		}
	}
}

func (a *Aggregator) publish(s State) {
	a.mu.Lock()
	a.current = s
	fns := make([]func(State), 0, len(a.listeners))
	for _, fn := range a.listeners {
		fns = append(fns, fn)
	}
	a.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}

// send queues ev and returns the state the loop produced for it.
func (a *Aggregator) send(ctx context.Context, ev Event) (State, error) {
	req := request{ev: ev, ack: make(chan State, 1)}
	select {
	case a.events <- req:
	case <-a.done:
		return State{}, ErrClosed
	case <-ctx.Done():
		return State{}, ctx.Err()
	}
	select {
	case st := <-req.ack:
		return st, nil
	case <-a.done:
		return State{}, ErrClosed
	case <-ctx.Done():
		return State{}, ctx.Err()
	}
}

// SetQuery changes the search and filter and returns the view computed for
// exactly that query. Later queries from other callers do not leak into it.
func (a *Aggregator) SetQuery(ctx context.Context, q Query) (State, error) {
	return a.send(ctx, QueryEvent{Query: q})
}

// Patch sets the status of a held report ahead of the next delivery.
func (a *Aggregator) Patch(ctx context.Context, id string, status models.Status) error {
	_, err := a.send(ctx, PatchEvent{ID: id, Status: status})
	return err
}

// View returns the latest state. Its slices must not be modified.
func (a *Aggregator) View() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.current
}

// Lookup finds a report in the latest state.
func (a *Aggregator) Lookup(id string) (models.Report, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, r := range a.current.Reports {
		if r.ID == id {
			return r, true
		}
	}
	return models.Report{}, false
}

// OnChange calls fn on the loop goroutine after every recomputation. fn
// must return quickly and must not call SetQuery or Patch.
func (a *Aggregator) OnChange(fn func(State)) (cancel func()) {
	a.mu.Lock()
	id := a.nextID
	a.nextID++
	a.listeners[id] = fn
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		delete(a.listeners, id)
		a.mu.Unlock()
	}
}
