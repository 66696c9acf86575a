package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/segmentio/ksuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// Memory is an in-process DocumentStore. Listeners run synchronously on the
// writer's goroutine, one write at a time, so deliveries keep write order. A
// listener must not write to the same store from inside its callback.
type Memory struct {
	deliverMu sync.Mutex

	mu     sync.Mutex
	cols   map[string]map[string]bson.Raw
	subs   map[int]*memorySub
	nextID int

	// set by FailWrites
	failWrites atomic.Pointer[error]
}

type memorySub struct {
	q      Query
	fn     Listener
	active atomic.Bool
}

func NewMemory() *Memory {
	return &Memory{
		cols: make(map[string]map[string]bson.Raw),
		subs: make(map[int]*memorySub),
	}
}

// FailWrites makes subsequent writes fail with err; nil restores normal writes.
func (m *Memory) FailWrites(err error) {
	if err == nil {
		m.failWrites.Store(nil)
		return
	}
	m.failWrites.Store(&err)
}

func (m *Memory) writeErr() error {
	if p := m.failWrites.Load(); p != nil {
		return *p
	}
	return nil
}

func (m *Memory) AddDocument(ctx context.Context, collection string, doc any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := m.writeErr(); err != nil {
		return "", err
	}
	body, err := bson.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}

	id := ksuid.New().String()
	m.write(func() {
		col, ok := m.cols[collection]
		if !ok {
			col = make(map[string]bson.Raw)
			m.cols[collection] = col
		}
		col[id] = body
	}, collection)
	return id, nil
}

func (m *Memory) UpdateDocument(ctx context.Context, collection, id string, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.writeErr(); err != nil {
		return err
	}

	var updateErr error
	m.write(func() {
		body, ok := m.cols[collection][id]
		if !ok {
			updateErr = ErrNotFound
			return
		}
		var doc bson.D
		if err := bson.Unmarshal(body, &doc); err != nil {
			updateErr = fmt.Errorf("decode document: %w", err)
			return
		}
		for k, v := range fields {
			doc = setField(doc, k, v)
		}
		next, err := bson.Marshal(doc)
		if err != nil {
			updateErr = fmt.Errorf("encode document: %w", err)
			return
		}
		m.cols[collection][id] = next
	}, collection)
	return updateErr
}

func setField(doc bson.D, key string, value any) bson.D {
	for i := range doc {
		if doc[i].Key == key {
			doc[i].Value = value
			return doc
		}
	}
	return append(doc, bson.E{Key: key, Value: value})
}

func (m *Memory) QueryOrdered(ctx context.Context, q Query) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked(q), nil
}

func (m *Memory) Subscribe(q Query, fn Listener) (Unsubscribe, error) {
	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()

	sub := &memorySub{q: q, fn: fn}
	sub.active.Store(true)

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = sub
	snap := m.snapshotLocked(q)
	m.mu.Unlock()

	fn(snap)

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.active.Store(false)
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}, nil
}

// write applies mutate and then delivers fresh snapshots to the
// subscriptions on collection.
func (m *Memory) write(mutate func(), collection string) {
	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()

	type delivery struct {
		sub  *memorySub
		snap Snapshot
	}

	m.mu.Lock()
	mutate()
	var out []delivery
	for _, sub := range m.subs {
		if sub.q.Collection == collection {
			out = append(out, delivery{sub: sub, snap: m.snapshotLocked(sub.q)})
		}
	}
	m.mu.Unlock()

	for _, d := range out {
		if d.sub.active.Load() {
			d.sub.fn(d.snap)
		}
	}
}

func (m *Memory) snapshotLocked(q Query) Snapshot {
	col := m.cols[q.Collection]
	snap := make(Snapshot, 0, len(col))
	for id, body := range col {
		snap = append(snap, Document{ID: id, Body: body})
	}
	sort.SliceStable(snap, func(i, j int) bool {
		c := compareField(snap[i].Body, snap[j].Body, q.OrderBy)
		if c == 0 {
			c = strings.Compare(snap[i].ID, snap[j].ID)
		}
		if q.Direction == Descending {
			return c > 0
		}
		return c < 0
	})
	return snap
}

func compareField(a, b bson.Raw, field string) int {
	if field == "" {
		return 0
	}
	av, aerr := a.LookupErr(field)
	bv, berr := b.LookupErr(field)
	switch {
	case aerr != nil && berr != nil:
		return 0
	case aerr != nil:
		return -1
	case berr != nil:
		return 1
	}

	switch {
	case av.Type == bsontype.DateTime && bv.Type == bsontype.DateTime:
		return cmpInt64(av.DateTime(), bv.DateTime())
	case av.Type == bsontype.String && bv.Type == bsontype.String:
		return strings.Compare(av.StringValue(), bv.StringValue())
	case av.Type == bsontype.Double && bv.Type == bsontype.Double:
		af, bf := av.Double(), bv.Double()
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	}
	if ai, ok := av.AsInt64OK(); ok {
		if bi, ok := bv.AsInt64OK(); ok {
			return cmpInt64(ai, bi)
		}
	}
	return 0
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
