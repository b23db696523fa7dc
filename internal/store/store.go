// Package store defines the key-addressed document collection abstraction
// the budgeting core runs against: equality-filtered queries, partial field
// updates, and a push-based subscription stream per query.
package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a document matching the query does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrUnavailable wraps backend failures; callers surface it as retryable.
	ErrUnavailable = errors.New("store unavailable")
	// ErrConflict is returned when an insert loses a uniqueness race.
	ErrConflict = errors.New("document conflict")
)

// Document is one record in a collection. Fields is a loose field set;
// nested values follow JSON conventions (maps, slices, float64 numbers).
type Document struct {
	ID     string
	Fields map[string]any
}

// FieldID is the reserved filter key addressing a document by its id
// instead of a stored field.
const FieldID = "_id"

// Filter matches documents whose fields equal every listed value. The
// reserved key FieldID matches against the document id.
type Filter map[string]any

// OrderBy sorts query results by a single field.
type OrderBy struct {
	Field string
	Desc  bool
}

// Subscription is a live view over a query. C re-delivers the full matching
// set on every change to the collection. Cancel releases the subscription;
// it is safe to call more than once.
type Subscription struct {
	C      <-chan []Document
	cancel func()
}

func NewSubscription(c <-chan []Document, cancel func()) *Subscription {
	return &Subscription{C: c, cancel: cancel}
}

func (s *Subscription) Cancel() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Store is the document-store port. Implementations must apply UpdateFields
// as a merge into the existing field set, never a whole-document replace,
// and must guarantee per-document atomicity of a single write.
type Store interface {
	FindOne(ctx context.Context, collection string, filter Filter) (Document, error)
	FindMany(ctx context.Context, collection string, filter Filter, orderBy *OrderBy) ([]Document, error)
	Insert(ctx context.Context, collection string, fields map[string]any) (string, error)
	UpdateFields(ctx context.Context, collection string, id string, partial map[string]any) error
	Delete(ctx context.Context, collection string, id string) error
	Subscribe(ctx context.Context, collection string, filter Filter, orderBy *OrderBy) (*Subscription, error)
}

// Transactor is an optional capability: stores that support it run fn with
// every write inside one atomic commit. The budget paid-flag advance uses it
// to close the two-write inconsistency window when the backend allows.
type Transactor interface {
	InTx(ctx context.Context, fn func(tx Store) error) error
}

// Matches reports whether a document satisfies an equality filter.
// Numeric values compare by int64 value so that 6 matches 6.0 after a JSON
// round trip.
func (f Filter) Matches(d Document) bool {
	for field, want := range f {
		if field == FieldID {
			if d.ID != want {
				return false
			}
			continue
		}
		got, ok := d.Fields[field]
		if !ok {
			return false
		}
		if !looseEqual(got, want) {
			return false
		}
	}
	return true
}

func looseEqual(a, b any) bool {
	if a == b {
		return true
	}
	ai, aok := toInt64(a)
	bi, bok := toInt64(b)
	return aok && bok && ai == bi
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
		return 0, false
	default:
		return 0, false
	}
}
