// Package memory provides an in-process Store used by tests and the
// `memory` data backend. Subscriptions are served from the same write path
// that mutates the data, so every change is re-delivered synchronously.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"budgeteer/internal/store"
)

type Store struct {
	mu          sync.Mutex
	collections map[string]map[string]map[string]any
	subs        map[int]*subscriber
	nextSub     int
}

type subscriber struct {
	collection string
	filter     store.Filter
	orderBy    *store.OrderBy
	ch         chan []store.Document
}

func New() *Store {
	return &Store{
		collections: make(map[string]map[string]map[string]any),
		subs:        make(map[int]*subscriber),
	}
}

var _ store.Store = (*Store)(nil)

func (s *Store) FindOne(_ context.Context, collection string, filter store.Filter) (store.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs := s.queryLocked(collection, filter, nil)
	if len(docs) == 0 {
		return store.Document{}, store.ErrNotFound
	}
	return docs[0], nil
}

func (s *Store) FindMany(_ context.Context, collection string, filter store.Filter, orderBy *store.OrderBy) ([]store.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queryLocked(collection, filter, orderBy), nil
}

func (s *Store) Insert(_ context.Context, collection string, fields map[string]any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	coll := s.collections[collection]
	if coll == nil {
		coll = make(map[string]map[string]any)
		s.collections[collection] = coll
	}
	id := uuid.NewString()
	coll[id] = deepCopy(fields)
	s.notifyLocked(collection)
	return id, nil
}

func (s *Store) UpdateFields(_ context.Context, collection string, id string, partial map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	coll := s.collections[collection]
	doc, ok := coll[id]
	if !ok {
		return store.ErrNotFound
	}
	for k, v := range deepCopy(partial) {
		doc[k] = v
	}
	s.notifyLocked(collection)
	return nil
}

func (s *Store) Delete(_ context.Context, collection string, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	coll := s.collections[collection]
	if _, ok := coll[id]; !ok {
		return store.ErrNotFound
	}
	delete(coll, id)
	s.notifyLocked(collection)
	return nil
}

func (s *Store) Subscribe(ctx context.Context, collection string, filter store.Filter, orderBy *store.OrderBy) (*store.Subscription, error) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	sub := &subscriber{
		collection: collection,
		filter:     filter,
		orderBy:    orderBy,
		ch:         make(chan []store.Document, 1),
	}
	s.subs[id] = sub
	// Deliver the current matching set before any change arrives.
	sub.push(s.queryLocked(collection, filter, orderBy))
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(sub.ch)
		})
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return store.NewSubscription(sub.ch, cancel), nil
}

func (s *Store) queryLocked(collection string, filter store.Filter, orderBy *store.OrderBy) []store.Document {
	var out []store.Document
	for id, fields := range s.collections[collection] {
		doc := store.Document{ID: id, Fields: deepCopy(fields)}
		if filter.Matches(doc) {
			out = append(out, doc)
		}
	}
	sortDocuments(out, orderBy)
	return out
}

func (s *Store) notifyLocked(collection string) {
	for _, sub := range s.subs {
		if sub.collection != collection {
			continue
		}
		sub.push(s.queryLocked(collection, sub.filter, sub.orderBy))
	}
}

// push replaces any undelivered set so a slow reader only ever sees the
// newest state, never a backlog.
func (sub *subscriber) push(docs []store.Document) {
	for {
		select {
		case sub.ch <- docs:
			return
		default:
			select {
			case <-sub.ch:
			default:
			}
		}
	}
}

func sortDocuments(docs []store.Document, orderBy *store.OrderBy) {
	if orderBy == nil {
		sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
		return
	}
	sort.Slice(docs, func(i, j int) bool {
		cmp := compareValues(docs[i].Fields[orderBy.Field], docs[j].Fields[orderBy.Field])
		if cmp == 0 {
			return docs[i].ID < docs[j].ID
		}
		if orderBy.Desc {
			return cmp > 0
		}
		return cmp < 0
	})
}

func compareValues(a, b any) int {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	as, _ := a.(string)
	bs, _ := b.(string)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func deepCopy(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopy(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}
