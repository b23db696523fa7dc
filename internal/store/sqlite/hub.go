package sqlite

import (
	"context"
	"log/slog"
	"sync"

	"budgeteer/internal/store"
)

// hub fans committed changes out to live subscriptions. Each subscriber
// holds its own query closure and is re-run after every write that touches
// its collection.
type hub struct {
	mu      sync.Mutex
	subs    map[int]*hubSub
	nextSub int
}

type hubSub struct {
	collection string
	query      func(ctx context.Context) ([]store.Document, error)

	mu     sync.Mutex
	ch     chan []store.Document
	closed bool
}

func newHub() *hub {
	return &hub{subs: make(map[int]*hubSub)}
}

func (h *hub) subscribe(ctx context.Context, collection string, query func(ctx context.Context) ([]store.Document, error)) (*store.Subscription, error) {
	docs, err := query(ctx)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	id := h.nextSub
	h.nextSub++
	sub := &hubSub{
		collection: collection,
		query:      query,
		ch:         make(chan []store.Document, 1),
	}
	h.subs[id] = sub
	h.mu.Unlock()

	sub.push(docs)

	cancel := func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
		sub.close()
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return store.NewSubscription(sub.ch, cancel), nil
}

func (h *hub) notify(ctx context.Context, collection string) {
	h.mu.Lock()
	targets := make([]*hubSub, 0, len(h.subs))
	for _, sub := range h.subs {
		if sub.collection == collection {
			targets = append(targets, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range targets {
		docs, err := sub.query(ctx)
		if err != nil {
			slog.WarnContext(ctx, "Subscription re-query failed",
				"collection", collection, "error", err)
			continue
		}
		sub.push(docs)
	}
}

// push replaces any undelivered set so subscribers only ever observe the
// newest state.
func (s *hubSub) push(docs []store.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- docs:
			return
		default:
			select {
			case <-s.ch:
			default:
			}
		}
	}
}

func (s *hubSub) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
