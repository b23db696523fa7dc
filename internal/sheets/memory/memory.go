package memory

import (
	"context"
	"fmt"
	"sync"

	"budgeteer/internal/core"
)

// Store is an in-memory snapshot sink used in tests and when no
// spreadsheet is configured.
type Store struct {
	mu        sync.Mutex
	snapshots map[string]core.Budget
	writes    int
}

func New() *Store {
	return &Store{snapshots: map[string]core.Budget{}}
}

// WriteSnapshot keeps the latest snapshot per (user, month, year) and
// returns a synthetic row reference.
func (s *Store) WriteSnapshot(_ context.Context, b core.Budget) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[periodKey(b.UserID, b.Month, b.Year)] = b
	s.writes++
	return fmt.Sprintf("mem:%d", s.writes), nil
}

// ClearSnapshot removes the snapshot for (user, month, year) if present.
func (s *Store) ClearSnapshot(_ context.Context, userID string, month, year int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, periodKey(userID, month, year))
	return nil
}

// Snapshot returns the stored snapshot for (user, month, year).
func (s *Store) Snapshot(userID string, month, year int) (core.Budget, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.snapshots[periodKey(userID, month, year)]
	return b, ok
}

// Writes reports how many snapshots have been written in total.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func periodKey(userID string, month, year int) string {
	return fmt.Sprintf("%s/%04d-%02d", userID, year, month)
}
