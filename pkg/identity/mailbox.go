package identity

import (
	"sync"

	"lost-found-portal/pkg/models"
)

// mailbox delivers session changes to one listener, in order, on its own
// goroutine. Pushes never block the sender.
type mailbox struct {
	mu     sync.Mutex
	queue  []*models.Identity
	closed bool
	wake   chan struct{}
}

func newMailbox(fn func(*models.Identity)) *mailbox {
	m := &mailbox{wake: make(chan struct{}, 1)}
	go m.run(fn)
	return m
}

func (m *mailbox) push(id *models.Identity) {
	var v *models.Identity
	if id != nil {
		cp := *id
		v = &cp
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.queue = append(m.queue, v)
	m.mu.Unlock()
	m.signal()
}

func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.queue = nil
	m.mu.Unlock()
	m.signal()
}

func (m *mailbox) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *mailbox) run(fn func(*models.Identity)) {
	for range m.wake {
		for {
			m.mu.Lock()
			if m.closed {
				m.mu.Unlock()
				return
			}
			if len(m.queue) == 0 {
				m.mu.Unlock()
				break
			}
			next := m.queue[0]
			m.queue = m.queue[1:]
			m.mu.Unlock()

			fn(next)
		}
	}
}
