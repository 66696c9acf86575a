// Package store talks to the external document store. DocumentStore is the
// narrow contract the portal needs from it; ReportRepository scopes it to the
// reports collection.
package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
)

type Direction int

const (
	Ascending  Direction = 1
	Descending Direction = -1
)

// Query selects a whole collection ordered by one field.
type Query struct {
	Collection string
	OrderBy    string
	Direction  Direction
}

// Document is one stored record. Body is the BSON encoding without the id.
type Document struct {
	ID   string
	Body bson.Raw
}

func (d Document) Decode(v any) error {
	return bson.Unmarshal(d.Body, v)
}

// Snapshot is a full ordered delivery of a query's result set.
type Snapshot []Document

type Listener func(Snapshot)

// Unsubscribe disposes a subscription. After it returns the listener is not
// invoked again. Calling it more than once is harmless.
type Unsubscribe func()

type DocumentStore interface {
	AddDocument(ctx context.Context, collection string, doc any) (string, error)
	UpdateDocument(ctx context.Context, collection, id string, fields map[string]any) error
	QueryOrdered(ctx context.Context, q Query) (Snapshot, error)
	Subscribe(q Query, fn Listener) (Unsubscribe, error)
}

var ErrNotFound = errors.New("document not found")

// WriteError reports a write the store rejected.
type WriteError struct {
	Op  string
	ID  string
	Err error
}

func (e *WriteError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
