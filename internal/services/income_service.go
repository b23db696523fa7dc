package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"budgeteer/internal/core"
	"budgeteer/internal/store"
)

// IncomeService owns the income entry CRUD surface. Entries are read-only
// to the reconciliation core.
type IncomeService struct {
	store store.Store
	now   func() time.Time
}

func NewIncomeService(st store.Store) *IncomeService {
	return &IncomeService{store: st, now: time.Now}
}

func (s *IncomeService) Create(ctx context.Context, in core.IncomeEntry) (string, error) {
	in.CreatedAt = s.now()
	if err := in.Validate(); err != nil {
		return "", err
	}
	id, err := s.store.Insert(ctx, core.CollectionIncome, in.Fields())
	if err != nil {
		return "", fmt.Errorf("create income entry: %w", err)
	}
	slog.InfoContext(ctx, "Income entry created",
		"income_id", id,
		"user_id", in.UserID,
		"name", in.Name,
		"amount_cents", in.Amount.Cents,
		"month", in.Month,
		"year", in.Year)
	return id, nil
}

func (s *IncomeService) Update(ctx context.Context, userID, id string, in core.IncomeEntry) error {
	in.UserID = userID
	if err := in.Validate(); err != nil {
		return err
	}
	if _, err := s.requireOwned(ctx, userID, id); err != nil {
		return err
	}
	partial := map[string]any{
		"name":   in.Name,
		"amount": in.Amount.Cents,
		"month":  in.Month,
		"year":   in.Year,
	}
	if err := s.store.UpdateFields(ctx, core.CollectionIncome, id, partial); err != nil {
		return fmt.Errorf("update income entry: %w", err)
	}
	return nil
}

func (s *IncomeService) Delete(ctx context.Context, userID, id string) error {
	if _, err := s.requireOwned(ctx, userID, id); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, core.CollectionIncome, id); err != nil {
		return fmt.Errorf("delete income entry: %w", err)
	}
	slog.InfoContext(ctx, "Income entry deleted", "income_id", id, "user_id", userID)
	return nil
}

// List returns the user's income entries for a month.
func (s *IncomeService) List(ctx context.Context, userID string, month, year int) ([]core.IncomeEntry, error) {
	if err := core.ValidateMonthYear(month, year); err != nil {
		return nil, err
	}
	docs, err := s.store.FindMany(ctx, core.CollectionIncome,
		store.Filter{"userId": userID, "month": month, "year": year},
		&store.OrderBy{Field: "createdAt", Desc: true})
	if err != nil {
		return nil, fmt.Errorf("list income entries: %w", err)
	}
	out := make([]core.IncomeEntry, len(docs))
	for i, d := range docs {
		out[i] = core.IncomeEntryFromFields(d.ID, d.Fields)
	}
	return out, nil
}

func (s *IncomeService) requireOwned(ctx context.Context, userID, id string) (store.Document, error) {
	doc, err := s.store.FindOne(ctx, core.CollectionIncome,
		store.Filter{store.FieldID: id, "userId": userID})
	if errors.Is(err, store.ErrNotFound) {
		return store.Document{}, core.ErrIncomeNotFound
	}
	if err != nil {
		return store.Document{}, fmt.Errorf("find income entry: %w", err)
	}
	return doc, nil
}
