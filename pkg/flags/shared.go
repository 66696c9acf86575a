package flags

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lost-found-portal/pkg/logger"
)

// Backend persists flag values.
type Backend interface {
	Load(ctx context.Context) (map[string]string, error)
	Put(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// Bus carries changes between processes of the same origin.
type Bus interface {
	Publish(ctx context.Context, c Change) error
	// Consume delivers changes published by any process until ctx ends.
	Consume(ctx context.Context) (<-chan Change, error)
}

// Shared is a Store for one process. Values are cached in memory so reads
// never block; writes go through the backend and are announced on the bus.
// Other processes converge when they receive the announcement.
type Shared struct {
	backend Backend
	bus     Bus
	log     *zap.Logger
	name    string
	timeout time.Duration

	mu       sync.RWMutex
	values   map[string]string
	watchers map[int]func(Change)
	nextID   int

	cancel context.CancelFunc
	done   chan struct{}
}

// OpenShared loads the persisted values and starts following the bus.
func OpenShared(ctx context.Context, backend Backend, bus Bus, log *zap.Logger) (*Shared, error) {
	values, err := backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load flags: %w", err)
	}
	if values == nil {
		values = make(map[string]string)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	changes, err := bus.Consume(runCtx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("follow flag changes: %w", err)
	}

	s := &Shared{
		backend:  backend,
		bus:      bus,
		log:      logger.OrNop(log),
		name:     uuid.NewString(),
		timeout:  5 * time.Second,
		values:   values,
		watchers: make(map[int]func(Change)),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go s.follow(changes)
	return s, nil
}

func (s *Shared) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *Shared) Set(key, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.backend.Put(ctx, key, value); err != nil {
		return fmt.Errorf("persist flag %s: %w", key, err)
	}
	s.store(Change{Key: key, Value: value, Origin: s.name})
	s.announce(ctx, Change{Key: key, Value: value, Origin: s.name})
	return nil
}

func (s *Shared) Delete(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.backend.Remove(ctx, key); err != nil {
		return fmt.Errorf("remove flag %s: %w", key, err)
	}
	s.store(Change{Key: key, Deleted: true, Origin: s.name})
	s.announce(ctx, Change{Key: key, Deleted: true, Origin: s.name})
	return nil
}

func (s *Shared) Watch(fn func(Change)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers, id)
			s.mu.Unlock()
		})
	}
}

// Close stops following the bus.
func (s *Shared) Close() {
	s.cancel()
	<-s.done
}

// announce is best effort: the value is already persisted, so a context that
// misses the message still reads it after its next restart.
func (s *Shared) announce(ctx context.Context, c Change) {
	if err := s.bus.Publish(ctx, c); err != nil {
		s.log.Warn("flag change not announced", zap.String("key", c.Key), zap.Error(err))
	}
}

func (s *Shared) store(c Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.Deleted {
		delete(s.values, c.Key)
	} else {
		s.values[c.Key] = c.Value
	}
}

func (s *Shared) follow(changes <-chan Change) {
	defer close(s.done)
	for c := range changes {
		if c.Origin == s.name {
			continue
		}
		s.store(c)

		s.mu.RLock()
		fns := make([]func(Change), 0, len(s.watchers))
		for _, fn := range s.watchers {
			fns = append(fns, fn)
		}
		s.mu.RUnlock()

		s.log.Debug("flag changed elsewhere", zap.String("key", c.Key), zap.String("origin", c.Origin))
		for _, fn := range fns {
			fn(c)
		}
	}
}
