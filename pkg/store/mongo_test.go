package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// idleStream never reports a change until its context ends.
type idleStream struct{}

func (idleStream) Next(ctx context.Context) bool { <-ctx.Done(); return false }
func (idleStream) Err() error                    { return nil }
func (idleStream) Close(context.Context) error   { return nil }

type fakeCollection struct {
	mu   sync.Mutex
	docs Snapshot
}

func (f *fakeCollection) add(id, name string) {
	body, _ := bson.Marshal(bson.M{"_id": id, "name": name})
	f.mu.Lock()
	f.docs = append(Snapshot{{ID: id, Body: body}}, f.docs...)
	f.mu.Unlock()
}

func (f *fakeCollection) query(context.Context, Query) (Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append(Snapshot(nil), f.docs...), nil
}

func newFakeMongo(coll *fakeCollection, watch func(ctx context.Context, collection string) (changeStream, error)) *Mongo {
	return &Mongo{
		log:          zap.NewNop(),
		pollInterval: time.Hour,
		opTimeout:    time.Second,
		query:        coll.query,
		watch:        watch,
	}
}

type snapshots struct {
	mu  sync.Mutex
	got []Snapshot
}

func (s *snapshots) listen(snap Snapshot) {
	s.mu.Lock()
	s.got = append(s.got, snap)
	s.mu.Unlock()
}

func (s *snapshots) lastLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.got) == 0 {
		return -1
	}
	return len(s.got[len(s.got)-1])
}

func TestMongoSubscribeSeesWriteBeforeStreamOpens(t *testing.T) {
	coll := &fakeCollection{}
	coll.add("a", "first")

	m := newFakeMongo(coll, func(context.Context, string) (changeStream, error) {
		// another process writes after the first read
		coll.add("b", "second")
		return idleStream{}, nil
	})

	var rec snapshots
	unsub, err := m.Subscribe(Query{Collection: "reports"}, rec.listen)
	require.NoError(t, err)
	defer unsub()

	require.Eventually(t, func() bool { return rec.lastLen() == 2 }, time.Second, 5*time.Millisecond)
}

func TestMongoSubscribePollsWithoutChangeStreams(t *testing.T) {
	coll := &fakeCollection{}
	coll.add("a", "first")

	m := newFakeMongo(coll, func(context.Context, string) (changeStream, error) {
		coll.add("b", "second")
		return nil, errors.New("change streams need a replica set")
	})

	var rec snapshots
	unsub, err := m.Subscribe(Query{Collection: "reports"}, rec.listen)
	require.NoError(t, err)
	defer unsub()

	require.Eventually(t, func() bool { return rec.lastLen() == 2 }, time.Second, 5*time.Millisecond)
}

func TestMongoSubscribeSkipsUnchangedSnapshots(t *testing.T) {
	coll := &fakeCollection{}
	coll.add("a", "first")

	m := newFakeMongo(coll, func(context.Context, string) (changeStream, error) {
		return idleStream{}, nil
	})

	var rec snapshots
	unsub, err := m.Subscribe(Query{Collection: "reports"}, rec.listen)
	require.NoError(t, err)
	defer unsub()

	assert.Never(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.got) > 1
	}, 50*time.Millisecond, 5*time.Millisecond)
}

func TestFingerprint(t *testing.T) {
	doc := func(id, body string) Document { return Document{ID: id, Body: bson.Raw(body)} }

	tests := []struct {
		name string
		a, b Snapshot
		same bool
	}{
		{"empty", nil, Snapshot{}, true},
		{"identical", Snapshot{doc("1", "x")}, Snapshot{doc("1", "x")}, true},
		{"body changed", Snapshot{doc("1", "x")}, Snapshot{doc("1", "y")}, false},
		{"order changed", Snapshot{doc("1", "x"), doc("2", "y")}, Snapshot{doc("2", "y"), doc("1", "x")}, false},
		{"document added", Snapshot{doc("1", "x")}, Snapshot{doc("1", "x"), doc("2", "y")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.same, fingerprint(tt.a) == fingerprint(tt.b))
		})
	}
}

func TestIDString(t *testing.T) {
	oid := primitive.NewObjectID()
	_, oidRaw, _ := bson.MarshalValue(oid)
	_, strRaw, _ := bson.MarshalValue("custom-id")

	tests := []struct {
		name string
		in   any
		want string
	}{
		{"object id", oid, oid.Hex()},
		{"raw object id", bson.RawValue{Type: bson.TypeObjectID, Value: oidRaw}, oid.Hex()},
		{"raw string", bson.RawValue{Type: bson.TypeString, Value: strRaw}, "custom-id"},
		{"string", "abc", "abc"},
		{"int", 42, "42"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, idString(tt.in))
		})
	}
}
