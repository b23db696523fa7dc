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

// ExpenseService owns the expense template CRUD surface. The reconciliation
// core only ever writes the installment-progress fields; everything else on
// a template belongs to this service.
type ExpenseService struct {
	store store.Store
	now   func() time.Time
}

func NewExpenseService(st store.Store) *ExpenseService {
	return &ExpenseService{store: st, now: time.Now}
}

func (s *ExpenseService) Create(ctx context.Context, t core.ExpenseTemplate) (string, error) {
	t.CreatedAt = s.now()
	if err := t.Validate(); err != nil {
		return "", err
	}
	id, err := s.store.Insert(ctx, core.CollectionExpenses, t.Fields())
	if err != nil {
		return "", fmt.Errorf("create expense template: %w", err)
	}
	slog.InfoContext(ctx, "Expense template created",
		"expense_id", id,
		"user_id", t.UserID,
		"title", t.Title,
		"amount_cents", t.Amount.Cents,
		"is_payment_plan", t.IsPaymentPlan)
	return id, nil
}

// Update rewrites the user-editable fields of a template. CreatedAt is
// preserved from the stored document.
func (s *ExpenseService) Update(ctx context.Context, userID, id string, t core.ExpenseTemplate) error {
	t.UserID = userID
	if err := t.Validate(); err != nil {
		return err
	}
	if _, err := s.requireOwned(ctx, core.CollectionExpenses, userID, id); err != nil {
		return err
	}
	partial := map[string]any{
		"title":         t.Title,
		"amount":        t.Amount.Cents,
		"icon":          t.Icon,
		"iconBgColor":   t.IconBgColor,
		"active":        t.Active,
		"isPaymentPlan": t.IsPaymentPlan,
	}
	if t.IsPaymentPlan {
		partial["totalPayments"] = t.TotalPayments
		partial["currentPayment"] = t.CurrentPayment
	} else {
		partial["totalPayments"] = nil
		partial["currentPayment"] = nil
	}
	if err := s.store.UpdateFields(ctx, core.CollectionExpenses, id, partial); err != nil {
		return fmt.Errorf("update expense template: %w", err)
	}
	return nil
}

func (s *ExpenseService) Delete(ctx context.Context, userID, id string) error {
	if _, err := s.requireOwned(ctx, core.CollectionExpenses, userID, id); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, core.CollectionExpenses, id); err != nil {
		return fmt.Errorf("delete expense template: %w", err)
	}
	slog.InfoContext(ctx, "Expense template deleted", "expense_id", id, "user_id", userID)
	return nil
}

func (s *ExpenseService) Get(ctx context.Context, userID, id string) (core.ExpenseTemplate, error) {
	doc, err := s.requireOwned(ctx, core.CollectionExpenses, userID, id)
	if err != nil {
		return core.ExpenseTemplate{}, err
	}
	return core.ExpenseTemplateFromFields(doc.ID, doc.Fields), nil
}

// List returns the user's templates, newest first.
func (s *ExpenseService) List(ctx context.Context, userID string) ([]core.ExpenseTemplate, error) {
	docs, err := s.store.FindMany(ctx, core.CollectionExpenses,
		store.Filter{"userId": userID},
		&store.OrderBy{Field: "createdAt", Desc: true})
	if err != nil {
		return nil, fmt.Errorf("list expense templates: %w", err)
	}
	out := make([]core.ExpenseTemplate, len(docs))
	for i, d := range docs {
		out[i] = core.ExpenseTemplateFromFields(d.ID, d.Fields)
	}
	return out, nil
}

func (s *ExpenseService) requireOwned(ctx context.Context, collection, userID, id string) (store.Document, error) {
	doc, err := s.store.FindOne(ctx, collection,
		store.Filter{store.FieldID: id, "userId": userID})
	if errors.Is(err, store.ErrNotFound) {
		return store.Document{}, core.ErrExpenseNotFound
	}
	if err != nil {
		return store.Document{}, fmt.Errorf("find expense template: %w", err)
	}
	return doc, nil
}
