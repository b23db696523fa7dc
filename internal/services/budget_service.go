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

// EventPublisher receives domain events after successful writes. All
// publishing is best-effort: a failed publish never fails the user action.
type EventPublisher interface {
	PublishBudgetSynced(ctx context.Context, budgetID, userID string, month, year int) error
	PublishPlanCompleted(ctx context.Context, expenseID, userID string) error
}

// BudgetService owns the budgets collection: it reconciles the per-month
// snapshot from the source collections and applies paid-flag transitions.
type BudgetService struct {
	store  store.Store
	events EventPublisher
	now    func() time.Time
}

func NewBudgetService(st store.Store, events EventPublisher) *BudgetService {
	return &BudgetService{
		store:  st,
		events: events,
		now:    time.Now,
	}
}

// SyncBudget finds or creates the one budget document for (user, month,
// year), re-derives its line items and totals from the current source
// collections, and persists the merged result. Paid flags from the prior
// snapshot survive the re-derivation. Repeated calls with unchanged source
// data are idempotent: same document id, same items, same totals.
func (s *BudgetService) SyncBudget(ctx context.Context, userID string, month, year int) (string, error) {
	if userID == "" {
		return "", core.ErrEmptyUserID
	}
	if err := core.ValidateMonthYear(month, year); err != nil {
		return "", err
	}

	// At most one budget exists per key. If duplicates ever arise from an
	// old race, the oldest document is canonical.
	existing, err := s.store.FindMany(ctx, core.CollectionBudgets,
		store.Filter{"userId": userID, "month": month, "year": year},
		&store.OrderBy{Field: "createdAt"})
	if err != nil {
		return "", fmt.Errorf("find budget: %w", err)
	}

	priorPaid := map[string]bool{}
	if len(existing) > 0 {
		priorPaid = core.BudgetFromFields(existing[0].ID, existing[0].Fields).PaidFlags()
	}
	if len(existing) > 1 {
		slog.WarnContext(ctx, "Duplicate budget documents for period, using oldest",
			"user_id", userID, "month", month, "year", year, "count", len(existing))
	}

	templates, err := s.loadTemplates(ctx, userID)
	if err != nil {
		return "", err
	}
	incomes, err := s.loadIncome(ctx, userID, month, year)
	if err != nil {
		return "", err
	}

	agg := Aggregate(userID, month, year, templates, incomes, priorPaid)

	itemFields := make([]any, len(agg.Items))
	for i, it := range agg.Items {
		itemFields[i] = it.Fields()
	}
	partial := map[string]any{
		"items":         itemFields,
		"totalIncome":   agg.TotalIncome.Cents,
		"totalExpenses": agg.TotalExpenses.Cents,
		"balance":       agg.Balance.Cents,
	}

	var budgetID string
	if len(existing) > 0 {
		budgetID = existing[0].ID
		if err := s.store.UpdateFields(ctx, core.CollectionBudgets, budgetID, partial); err != nil {
			return "", fmt.Errorf("update budget: %w", err)
		}
	} else {
		budget := core.Budget{
			UserID:        userID,
			Month:         month,
			Year:          year,
			Items:         agg.Items,
			TotalIncome:   agg.TotalIncome,
			TotalExpenses: agg.TotalExpenses,
			Balance:       agg.Balance,
			CreatedAt:     s.now(),
		}
		budgetID, err = s.store.Insert(ctx, core.CollectionBudgets, budget.Fields())
		if errors.Is(err, store.ErrConflict) {
			// Lost a concurrent first-sync race; the winner's document is
			// canonical, fold this derivation into it.
			winner, ferr := s.store.FindOne(ctx, core.CollectionBudgets,
				store.Filter{"userId": userID, "month": month, "year": year})
			if ferr != nil {
				return "", fmt.Errorf("find budget after conflict: %w", ferr)
			}
			budgetID = winner.ID
			if uerr := s.store.UpdateFields(ctx, core.CollectionBudgets, budgetID, partial); uerr != nil {
				return "", fmt.Errorf("update budget after conflict: %w", uerr)
			}
		} else if err != nil {
			return "", fmt.Errorf("insert budget: %w", err)
		}
	}

	slog.InfoContext(ctx, "Budget synced",
		"budget_id", budgetID,
		"user_id", userID,
		"month", month,
		"year", year,
		"items", len(agg.Items),
		"total_income_cents", agg.TotalIncome.Cents,
		"total_expenses_cents", agg.TotalExpenses.Cents)

	s.publishBudgetSynced(ctx, budgetID, userID, month, year)

	return budgetID, nil
}

// GetBudget returns a persisted snapshot by id without re-deriving it.
func (s *BudgetService) GetBudget(ctx context.Context, userID, budgetID string) (core.Budget, error) {
	doc, err := s.store.FindOne(ctx, core.CollectionBudgets,
		store.Filter{store.FieldID: budgetID, "userId": userID})
	if errors.Is(err, store.ErrNotFound) {
		return core.Budget{}, core.ErrBudgetNotFound
	}
	if err != nil {
		return core.Budget{}, fmt.Errorf("find budget: %w", err)
	}
	return core.BudgetFromFields(doc.ID, doc.Fields), nil
}

// GetBudgetForPeriod returns the persisted snapshot for a month without
// triggering reconciliation. Used by the read-only preview surface.
func (s *BudgetService) GetBudgetForPeriod(ctx context.Context, userID string, month, year int) (core.Budget, error) {
	if err := core.ValidateMonthYear(month, year); err != nil {
		return core.Budget{}, err
	}
	doc, err := s.store.FindOne(ctx, core.CollectionBudgets,
		store.Filter{"userId": userID, "month": month, "year": year})
	if errors.Is(err, store.ErrNotFound) {
		return core.Budget{}, core.ErrBudgetNotFound
	}
	if err != nil {
		return core.Budget{}, fmt.Errorf("find budget: %w", err)
	}
	return core.BudgetFromFields(doc.ID, doc.Fields), nil
}

// SubscribeBudget opens a live view over one budget document. The stream
// re-delivers the snapshot on every change; cancellation is tied to ctx.
func (s *BudgetService) SubscribeBudget(ctx context.Context, userID, budgetID string) (*store.Subscription, error) {
	return s.store.Subscribe(ctx, core.CollectionBudgets,
		store.Filter{store.FieldID: budgetID, "userId": userID}, nil)
}

// MarkPaid applies a paid-flag transition to one line item. For payment
// plans transitioning to paid it also advances the authoritative template's
// installment counter, deactivating the template when the plan completes.
// A missing line item is a stale view and a no-op. Un-paying never rolls
// the counter back: installment progress is monotonic once recorded.
func (s *BudgetService) MarkPaid(ctx context.Context, userID, budgetID, expenseID string, paid bool) error {
	var outcome markPaidOutcome
	var err error

	// When the store can commit multiple documents atomically, use that to
	// close the window between the snapshot write and the template write.
	if txr, ok := s.store.(store.Transactor); ok {
		err = txr.InTx(ctx, func(tx store.Store) error {
			var txErr error
			outcome, txErr = s.markPaid(ctx, tx, userID, budgetID, expenseID, paid, true)
			return txErr
		})
	} else {
		outcome, err = s.markPaid(ctx, s.store, userID, budgetID, expenseID, paid, false)
	}
	if err != nil {
		return err
	}

	if outcome.planCompleted {
		s.publishPlanCompleted(ctx, expenseID, userID)
	}
	return nil
}

type markPaidOutcome struct {
	planCompleted bool
}

// markPaid runs against either the plain store or a transactional view.
// atomic selects between one combined snapshot write (transactional path)
// and the two-step write order whose interruption window the next sync
// heals from the authoritative template.
func (s *BudgetService) markPaid(ctx context.Context, st store.Store, userID, budgetID, expenseID string, paid bool, atomic bool) (markPaidOutcome, error) {
	var out markPaidOutcome

	doc, err := st.FindOne(ctx, core.CollectionBudgets,
		store.Filter{store.FieldID: budgetID, "userId": userID})
	if errors.Is(err, store.ErrNotFound) {
		return out, core.ErrBudgetNotFound
	}
	if err != nil {
		return out, fmt.Errorf("find budget: %w", err)
	}
	budget := core.BudgetFromFields(doc.ID, doc.Fields)

	idx := -1
	for i, it := range budget.Items {
		if it.ExpenseID == expenseID {
			idx = i
			break
		}
	}
	if idx == -1 {
		// Stale view: the expense left the snapshot since the client
		// rendered it. Nothing to do.
		slog.WarnContext(ctx, "Line item not in budget, ignoring paid toggle",
			"budget_id", budgetID, "expense_id", expenseID)
		return out, nil
	}

	item := budget.Items[idx]
	advance := paid && !item.Paid && item.IsPaymentPlan
	item.Paid = paid

	writeItems := func() error {
		budget.Items[idx] = item
		return st.UpdateFields(ctx, core.CollectionBudgets, budgetID,
			map[string]any{"items": budget.Fields()["items"]})
	}

	if !advance {
		if err := writeItems(); err != nil {
			return out, fmt.Errorf("update line item: %w", err)
		}
		return out, nil
	}

	if !atomic {
		// Two-step order: the paid flag lands first, then the template.
		// An interruption leaves paid=true with a stale counter until the
		// next sync reconciles from the template.
		if err := writeItems(); err != nil {
			return out, fmt.Errorf("update line item: %w", err)
		}
	}

	tmplDoc, err := st.FindOne(ctx, core.CollectionExpenses,
		store.Filter{store.FieldID: expenseID, "userId": userID})
	if errors.Is(err, store.ErrNotFound) {
		// Template deleted under us; the paid flag stands and the next
		// sync drops the orphaned line item.
		slog.WarnContext(ctx, "Expense template gone, skipping plan advance",
			"expense_id", expenseID, "budget_id", budgetID)
		if atomic {
			if err := writeItems(); err != nil {
				return out, fmt.Errorf("update line item: %w", err)
			}
		}
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("find expense template: %w", err)
	}

	tmpl := core.ExpenseTemplateFromFields(tmplDoc.ID, tmplDoc.Fields)
	newCurrent := tmpl.CurrentPayment + 1
	partial := map[string]any{"currentPayment": newCurrent}
	if newCurrent >= tmpl.TotalPayments {
		partial["active"] = false
		out.planCompleted = true
	}
	if err := st.UpdateFields(ctx, core.CollectionExpenses, expenseID, partial); err != nil {
		return out, fmt.Errorf("advance payment plan: %w", err)
	}

	// Mirror the advanced counter into the snapshot.
	item.CurrentPayment = newCurrent
	if err := writeItems(); err != nil {
		return out, fmt.Errorf("update line item counter: %w", err)
	}

	slog.InfoContext(ctx, "Payment plan advanced",
		"expense_id", expenseID,
		"budget_id", budgetID,
		"current_payment", newCurrent,
		"total_payments", tmpl.TotalPayments,
		"completed", out.planCompleted)

	return out, nil
}

func (s *BudgetService) loadTemplates(ctx context.Context, userID string) ([]core.ExpenseTemplate, error) {
	docs, err := s.store.FindMany(ctx, core.CollectionExpenses,
		store.Filter{"userId": userID},
		&store.OrderBy{Field: "createdAt", Desc: true})
	if err != nil {
		return nil, fmt.Errorf("list expense templates: %w", err)
	}
	templates := make([]core.ExpenseTemplate, len(docs))
	for i, d := range docs {
		templates[i] = core.ExpenseTemplateFromFields(d.ID, d.Fields)
	}
	return templates, nil
}

func (s *BudgetService) loadIncome(ctx context.Context, userID string, month, year int) ([]core.IncomeEntry, error) {
	docs, err := s.store.FindMany(ctx, core.CollectionIncome,
		store.Filter{"userId": userID, "month": month, "year": year}, nil)
	if err != nil {
		return nil, fmt.Errorf("list income entries: %w", err)
	}
	entries := make([]core.IncomeEntry, len(docs))
	for i, d := range docs {
		entries[i] = core.IncomeEntryFromFields(d.ID, d.Fields)
	}
	return entries, nil
}

func (s *BudgetService) publishBudgetSynced(ctx context.Context, budgetID, userID string, month, year int) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishBudgetSynced(ctx, budgetID, userID, month, year); err != nil {
		slog.ErrorContext(ctx, "Failed to publish budget synced event",
			"budget_id", budgetID, "error", err)
	}
}

func (s *BudgetService) publishPlanCompleted(ctx context.Context, expenseID, userID string) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishPlanCompleted(ctx, expenseID, userID); err != nil {
		slog.ErrorContext(ctx, "Failed to publish plan completed event",
			"expense_id", expenseID, "error", err)
	}
}
