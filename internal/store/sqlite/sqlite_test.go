package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"budgeteer/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCRUD(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.Insert(ctx, "expenses", map[string]any{
		"userId": "u1", "title": "Gym", "amount": int64(4500), "active": true,
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	doc, err := s.FindOne(ctx, "expenses", store.Filter{store.FieldID: id})
	if err != nil {
		t.Fatalf("find by id: %v", err)
	}
	if doc.Fields["title"] != "Gym" {
		t.Errorf("title = %v, want Gym", doc.Fields["title"])
	}
	// JSON storage renders numbers as float64 on read.
	if doc.Fields["amount"] != float64(4500) {
		t.Errorf("amount = %v (%T), want float64 4500", doc.Fields["amount"], doc.Fields["amount"])
	}

	if err := s.UpdateFields(ctx, "expenses", id, map[string]any{"amount": int64(5000)}); err != nil {
		t.Fatalf("update: %v", err)
	}
	doc, _ = s.FindOne(ctx, "expenses", store.Filter{store.FieldID: id})
	if doc.Fields["amount"] != float64(5000) {
		t.Errorf("amount after update = %v, want 5000", doc.Fields["amount"])
	}
	if doc.Fields["title"] != "Gym" {
		t.Error("merge dropped an untouched field")
	}

	if err := s.Delete(ctx, "expenses", id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.FindOne(ctx, "expenses", store.Filter{store.FieldID: id}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("deleted doc error = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, "expenses", id); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("double delete error = %v, want ErrNotFound", err)
	}
}

func TestFilterQueries(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, d := range []map[string]any{
		{"userId": "u1", "month": 3, "year": 2026, "name": "Salary"},
		{"userId": "u1", "month": 4, "year": 2026, "name": "Salary"},
		{"userId": "u2", "month": 3, "year": 2026, "name": "Bonus"},
	} {
		if _, err := s.Insert(ctx, "income", d); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	docs, err := s.FindMany(ctx, "income", store.Filter{"userId": "u1", "month": 3, "year": 2026}, nil)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(docs) != 1 || docs[0].Fields["name"] != "Salary" {
		t.Errorf("filtered docs = %+v, want one u1 March entry", docs)
	}

	all, _ := s.FindMany(ctx, "income", store.Filter{"year": 2026}, nil)
	if len(all) != 3 {
		t.Errorf("year filter = %d docs, want 3", len(all))
	}

	none, _ := s.FindMany(ctx, "income", store.Filter{"userId": "u3"}, nil)
	if len(none) != 0 {
		t.Errorf("u3 docs = %d, want 0", len(none))
	}
}

func TestBoolFilter(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.Insert(ctx, "expenses", map[string]any{"userId": "u1", "title": "on", "active": true})
	s.Insert(ctx, "expenses", map[string]any{"userId": "u1", "title": "off", "active": false})

	docs, err := s.FindMany(ctx, "expenses", store.Filter{"active": true}, nil)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(docs) != 1 || docs[0].Fields["title"] != "on" {
		t.Errorf("active filter = %+v, want only the active doc", docs)
	}
}

func TestOrdering(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, d := range []map[string]any{
		{"userId": "u1", "createdAt": "2026-03-01T00:00:00Z", "n": 2},
		{"userId": "u1", "createdAt": "2026-01-01T00:00:00Z", "n": 1},
		{"userId": "u1", "createdAt": "2026-06-01T00:00:00Z", "n": 3},
	} {
		s.Insert(ctx, "expenses", d)
	}

	asc, err := s.FindMany(ctx, "expenses", nil, &store.OrderBy{Field: "createdAt"})
	if err != nil {
		t.Fatalf("find asc: %v", err)
	}
	for i, want := range []float64{1, 2, 3} {
		if asc[i].Fields["n"] != want {
			t.Errorf("asc[%d].n = %v, want %v", i, asc[i].Fields["n"], want)
		}
	}

	desc, _ := s.FindMany(ctx, "expenses", nil, &store.OrderBy{Field: "createdAt", Desc: true})
	if desc[0].Fields["n"] != float64(3) {
		t.Errorf("desc[0].n = %v, want 3", desc[0].Fields["n"])
	}
}

func TestBudgetPeriodUniqueness(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	key := map[string]any{"userId": "u1", "month": 3, "year": 2026, "items": []any{}}
	if _, err := s.Insert(ctx, "budgets", key); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if _, err := s.Insert(ctx, "budgets", key); !errors.Is(err, store.ErrConflict) {
		t.Errorf("duplicate insert error = %v, want ErrConflict", err)
	}

	// Other collections are exempt from the budget key constraint.
	if _, err := s.Insert(ctx, "expenses", map[string]any{"userId": "u1", "month": 3, "year": 2026}); err != nil {
		t.Errorf("expenses insert error = %v, want nil", err)
	}
	// A different period is fine.
	if _, err := s.Insert(ctx, "budgets", map[string]any{"userId": "u1", "month": 4, "year": 2026}); err != nil {
		t.Errorf("other-period insert error = %v, want nil", err)
	}
}

func TestInTxCommitsAtomically(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	budgetID, _ := s.Insert(ctx, "budgets", map[string]any{"userId": "u1", "month": 3, "year": 2026, "paidCount": 0})
	expenseID, _ := s.Insert(ctx, "expenses", map[string]any{"userId": "u1", "currentPayment": 4})

	err := s.InTx(ctx, func(tx store.Store) error {
		if err := tx.UpdateFields(ctx, "budgets", budgetID, map[string]any{"paidCount": 1}); err != nil {
			return err
		}
		return tx.UpdateFields(ctx, "expenses", expenseID, map[string]any{"currentPayment": 5})
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}

	b, _ := s.FindOne(ctx, "budgets", store.Filter{store.FieldID: budgetID})
	e, _ := s.FindOne(ctx, "expenses", store.Filter{store.FieldID: expenseID})
	if b.Fields["paidCount"] != float64(1) || e.Fields["currentPayment"] != float64(5) {
		t.Errorf("committed state = %v / %v", b.Fields["paidCount"], e.Fields["currentPayment"])
	}
}

func TestInTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	budgetID, _ := s.Insert(ctx, "budgets", map[string]any{"userId": "u1", "month": 3, "year": 2026, "paidCount": 0})

	boom := errors.New("boom")
	err := s.InTx(ctx, func(tx store.Store) error {
		if err := tx.UpdateFields(ctx, "budgets", budgetID, map[string]any{"paidCount": 1}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("tx error = %v, want boom", err)
	}

	b, _ := s.FindOne(ctx, "budgets", store.Filter{store.FieldID: budgetID})
	if b.Fields["paidCount"] != float64(0) {
		t.Errorf("paidCount = %v, want 0 after rollback", b.Fields["paidCount"])
	}
}

func TestSubscribeDeliversAfterCommit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := newTestStore(t)

	id, _ := s.Insert(ctx, "budgets", map[string]any{"userId": "u1", "month": 3, "year": 2026, "balance": 100})

	sub, err := s.Subscribe(ctx, "budgets", store.Filter{store.FieldID: id}, nil)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Cancel()

	deadline := time.After(5 * time.Second)
	select {
	case docs := <-sub.C:
		if len(docs) != 1 {
			t.Fatalf("initial delivery = %d docs, want 1", len(docs))
		}
	case <-deadline:
		t.Fatal("no initial delivery")
	}

	txErr := s.InTx(ctx, func(tx store.Store) error {
		return tx.UpdateFields(ctx, "budgets", id, map[string]any{"balance": 200})
	})
	if txErr != nil {
		t.Fatalf("tx: %v", txErr)
	}

	for {
		select {
		case docs := <-sub.C:
			if len(docs) == 1 && docs[0].Fields["balance"] == float64(200) {
				return
			}
		case <-deadline:
			t.Fatal("post-commit state never delivered")
		}
	}
}

func TestSanitizeField(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"userId", "userId"},
		{"created_at", "created_at"},
		{"month", "month"},
		{"a') OR ('1'='1", "aOR11"},
		{"x; DROP TABLE documents", "xDROPTABLEdocuments"},
	}
	for _, tt := range tests {
		if got := sanitizeField(tt.in); got != tt.want {
			t.Errorf("sanitizeField(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBindValue(t *testing.T) {
	if bindValue(true) != 1 || bindValue(false) != 0 {
		t.Error("bool bind mismatch")
	}
	if bindValue("x") != "x" || bindValue(int64(7)) != int64(7) {
		t.Error("passthrough bind mismatch")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if isUniqueViolation(nil) {
		t.Error("nil is not a violation")
	}
	if isUniqueViolation(errors.New("no such table")) {
		t.Error("unrelated error flagged")
	}
	if !isUniqueViolation(errors.New("constraint failed: UNIQUE constraint failed: documents.id (2067)")) {
		t.Error("unique violation not detected")
	}
}
