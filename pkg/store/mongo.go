package store

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"lost-found-portal/pkg/logger"
)

// Mongo implements DocumentStore on a MongoDB database. Subscriptions follow
// change streams when the deployment supports them and fall back to polling.
type Mongo struct {
	db           *mongo.Database
	log          *zap.Logger
	pollInterval time.Duration
	opTimeout    time.Duration

	query func(ctx context.Context, q Query) (Snapshot, error)
	watch func(ctx context.Context, collection string) (changeStream, error)
}

// changeStream is the part of *mongo.ChangeStream a subscription reads.
type changeStream interface {
	Next(ctx context.Context) bool
	Err() error
	Close(ctx context.Context) error
}

func NewMongo(db *mongo.Database, log *zap.Logger, pollInterval time.Duration) *Mongo {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	m := &Mongo{
		db:           db,
		log:          logger.OrNop(log),
		pollInterval: pollInterval,
		opTimeout:    10 * time.Second,
	}
	m.query = m.QueryOrdered
	m.watch = func(ctx context.Context, collection string) (changeStream, error) {
		stream, err := db.Collection(collection).Watch(ctx, mongo.Pipeline{})
		if err != nil {
			return nil, err
		}
		return stream, nil
	}
	return m
}

func (m *Mongo) AddDocument(ctx context.Context, collection string, doc any) (string, error) {
	res, err := m.db.Collection(collection).InsertOne(ctx, doc)
	if err != nil {
		return "", err
	}
	return idString(res.InsertedID), nil
}

func (m *Mongo) UpdateDocument(ctx context.Context, collection, id string, fields map[string]any) error {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("%w: invalid id %q", ErrNotFound, id)
	}

	set := bson.M{}
	for k, v := range fields {
		set[k] = v
	}
	result, err := m.db.Collection(collection).UpdateOne(ctx, bson.M{"_id": objID}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *Mongo) QueryOrdered(ctx context.Context, q Query) (Snapshot, error) {
	opts := options.Find()
	if q.OrderBy != "" {
		opts.SetSort(bson.D{{Key: q.OrderBy, Value: int(q.Direction)}, {Key: "_id", Value: int(q.Direction)}})
	}

	cursor, err := m.db.Collection(q.Collection).Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var snap Snapshot
	for cursor.Next(ctx) {
		body := make(bson.Raw, len(cursor.Current))
		copy(body, cursor.Current)
		snap = append(snap, Document{ID: idString(body.Lookup("_id")), Body: body})
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return snap, nil
}

// Subscribe reads the query once synchronously so connection problems
// surface to the caller, then delivers from a dedicated goroutine.
func (m *Mongo) Subscribe(q Query, fn Listener) (Unsubscribe, error) {
	initCtx, cancelInit := context.WithTimeout(context.Background(), m.opTimeout)
	first, err := m.query(initCtx, q)
	cancelInit()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	var active atomic.Bool
	active.Store(true)

	go m.follow(ctx, q, first, func(s Snapshot) {
		if active.Load() {
			fn(s)
		}
	})

	var once sync.Once
	return func() {
		once.Do(func() {
			active.Store(false)
			cancel()
		})
	}, nil
}

func (m *Mongo) follow(ctx context.Context, q Query, first Snapshot, deliver Listener) {
	last := fingerprint(first)
	deliver(first)

	refresh := func() {
		qctx, cancel := context.WithTimeout(ctx, m.opTimeout)
		defer cancel()
		snap, err := m.query(qctx, q)
		if err != nil {
			if ctx.Err() == nil {
				m.log.Warn("snapshot query failed", zap.String("collection", q.Collection), zap.Error(err))
			}
			return
		}
		if fp := fingerprint(snap); fp != last {
			last = fp
			deliver(snap)
		}
	}

	stream, err := m.watch(ctx, q.Collection)
	if err == nil {
		m.log.Debug("following change stream", zap.String("collection", q.Collection))
		// writes between the first read and the stream opening have no event
		refresh()
		for stream.Next(ctx) {
			refresh()
		}
		err = stream.Err()
		_ = stream.Close(context.Background())
		if ctx.Err() != nil {
			return
		}
	}
	m.log.Info("change stream unavailable, polling",
		zap.String("collection", q.Collection),
		zap.Duration("interval", m.pollInterval),
		zap.Error(err))

	refresh()
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh()
		}
	}
}

func fingerprint(s Snapshot) uint64 {
	h := fnv.New64a()
	for _, d := range s {
		h.Write([]byte(d.ID))
		h.Write(d.Body)
	}
	return h.Sum64()
}

func idString(v any) string {
	switch id := v.(type) {
	case primitive.ObjectID:
		return id.Hex()
	case bson.RawValue:
		if oid, ok := id.ObjectIDOK(); ok {
			return oid.Hex()
		}
		if s, ok := id.StringValueOK(); ok {
			return s
		}
		return id.String()
	case string:
		return id
	default:
		return fmt.Sprint(id)
	}
}

// IsNotFound reports whether err means the target document does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, mongo.ErrNoDocuments)
}
