package flags

import (
	"fmt"
	"sync"
)

// Origin is an in-memory flag space shared by any number of tabs. A write in
// one tab is visible to all tabs at once and is announced to the watchers of
// every other tab, like the browser storage event.
type Origin struct {
	mu     sync.Mutex
	values map[string]string
	tabs   map[*Tab]struct{}
	seq    int
}

func NewOrigin() *Origin {
	return &Origin{
		values: make(map[string]string),
		tabs:   make(map[*Tab]struct{}),
	}
}

// OpenTab returns a new context attached to the origin.
func (o *Origin) OpenTab() *Tab {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seq++
	t := &Tab{
		origin:   o,
		name:     fmt.Sprintf("tab-%d", o.seq),
		watchers: make(map[int]func(Change)),
	}
	o.tabs[t] = struct{}{}
	return t
}

func (o *Origin) apply(from *Tab, c Change) {
	o.mu.Lock()
	if c.Deleted {
		delete(o.values, c.Key)
	} else {
		o.values[c.Key] = c.Value
	}
	var fns []func(Change)
	for t := range o.tabs {
		if t != from {
			fns = append(fns, t.snapshotWatchers()...)
		}
	}
	o.mu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}

// Tab is one browsing context of an Origin. It implements Store.
type Tab struct {
	origin *Origin
	name   string

	mu       sync.Mutex
	watchers map[int]func(Change)
	nextID   int
}

func (t *Tab) Get(key string) (string, bool) {
	t.origin.mu.Lock()
	defer t.origin.mu.Unlock()
	v, ok := t.origin.values[key]
	return v, ok
}

func (t *Tab) Set(key, value string) error {
	t.origin.apply(t, Change{Key: key, Value: value, Origin: t.name})
	return nil
}

func (t *Tab) Delete(key string) error {
	t.origin.apply(t, Change{Key: key, Deleted: true, Origin: t.name})
	return nil
}

func (t *Tab) Watch(fn func(Change)) func() {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.watchers[id] = fn
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.watchers, id)
			t.mu.Unlock()
		})
	}
}

// Close detaches the tab; it no longer receives notifications.
func (t *Tab) Close() {
	t.origin.mu.Lock()
	delete(t.origin.tabs, t)
	t.origin.mu.Unlock()
}

func (t *Tab) snapshotWatchers() []func(Change) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fns := make([]func(Change), 0, len(t.watchers))
	for _, fn := range t.watchers {
		fns = append(fns, fn)
	}
	return fns
}
