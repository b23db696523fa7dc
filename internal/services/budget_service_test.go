package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"budgeteer/internal/core"
	"budgeteer/internal/store"
	"budgeteer/internal/store/memory"
)

type fakePublisher struct {
	mu            sync.Mutex
	syncedBudgets []string
	completed     []string
}

func (f *fakePublisher) PublishBudgetSynced(_ context.Context, budgetID, _ string, _, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncedBudgets = append(f.syncedBudgets, budgetID)
	return nil
}

func (f *fakePublisher) PublishPlanCompleted(_ context.Context, expenseID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, expenseID)
	return nil
}

func (f *fakePublisher) completedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.completed...)
}

func newFixture(t *testing.T) (*memory.Store, *BudgetService, *ExpenseService, *IncomeService, *fakePublisher) {
	t.Helper()
	st := memory.New()
	events := &fakePublisher{}
	return st, NewBudgetService(st, events), NewExpenseService(st), NewIncomeService(st), events
}

func mustCreateExpense(t *testing.T, svc *ExpenseService, tpl core.ExpenseTemplate) string {
	t.Helper()
	id, err := svc.Create(context.Background(), tpl)
	if err != nil {
		t.Fatalf("create expense: %v", err)
	}
	return id
}

func mustCreateIncome(t *testing.T, svc *IncomeService, in core.IncomeEntry) string {
	t.Helper()
	id, err := svc.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("create income: %v", err)
	}
	return id
}

func TestSyncBudgetIdempotent(t *testing.T) {
	ctx := context.Background()
	_, budgets, expenses, income, _ := newFixture(t)

	mustCreateExpense(t, expenses, core.ExpenseTemplate{
		UserID: "u1", Title: "Gym", Amount: core.Money{Cents: 4500}, Active: true,
	})
	mustCreateIncome(t, income, core.IncomeEntry{
		UserID: "u1", Name: "Salary", Amount: core.Money{Cents: 300000}, Month: 3, Year: 2026,
	})

	first, err := budgets.SyncBudget(ctx, "u1", 3, 2026)
	if err != nil {
		t.Fatalf("first sync: %v", err)
	}
	second, err := budgets.SyncBudget(ctx, "u1", 3, 2026)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if first != second {
		t.Errorf("budget id changed across syncs: %q vs %q", first, second)
	}

	b, err := budgets.GetBudget(ctx, "u1", first)
	if err != nil {
		t.Fatalf("get budget: %v", err)
	}
	if len(b.Items) != 1 || b.Items[0].Title != "Gym" {
		t.Errorf("items = %+v, want single Gym item", b.Items)
	}
	if b.TotalIncome.Cents != 300000 || b.TotalExpenses.Cents != 4500 || b.Balance.Cents != 295500 {
		t.Errorf("totals = income %d expenses %d balance %d, want 300000/4500/295500",
			b.TotalIncome.Cents, b.TotalExpenses.Cents, b.Balance.Cents)
	}
}

func TestSyncBudgetPaidFlagSurvivesResync(t *testing.T) {
	ctx := context.Background()
	_, budgets, expenses, _, _ := newFixture(t)

	gymID := mustCreateExpense(t, expenses, core.ExpenseTemplate{
		UserID: "u1", Title: "Gym", Amount: core.Money{Cents: 4500}, Active: true,
	})

	budgetID, err := budgets.SyncBudget(ctx, "u1", 3, 2026)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if err := budgets.MarkPaid(ctx, "u1", budgetID, gymID, true); err != nil {
		t.Fatalf("mark paid: %v", err)
	}

	// A new template appearing does not disturb the existing paid flag.
	mustCreateExpense(t, expenses, core.ExpenseTemplate{
		UserID: "u1", Title: "Netflix", Amount: core.Money{Cents: 1500}, Active: true,
	})
	if _, err := budgets.SyncBudget(ctx, "u1", 3, 2026); err != nil {
		t.Fatalf("re-sync: %v", err)
	}

	b, err := budgets.GetBudget(ctx, "u1", budgetID)
	if err != nil {
		t.Fatalf("get budget: %v", err)
	}
	if len(b.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(b.Items))
	}
	for _, it := range b.Items {
		switch it.ExpenseID {
		case gymID:
			if !it.Paid {
				t.Error("gym paid flag lost across re-sync")
			}
		default:
			if it.Paid {
				t.Error("new item should start unpaid")
			}
		}
	}
}

func TestSyncBudgetSeparatePeriods(t *testing.T) {
	ctx := context.Background()
	_, budgets, expenses, _, _ := newFixture(t)

	mustCreateExpense(t, expenses, core.ExpenseTemplate{
		UserID: "u1", Title: "Rent", Amount: core.Money{Cents: 120000}, Active: true,
	})

	march, err := budgets.SyncBudget(ctx, "u1", 3, 2026)
	if err != nil {
		t.Fatalf("march sync: %v", err)
	}
	april, err := budgets.SyncBudget(ctx, "u1", 4, 2026)
	if err != nil {
		t.Fatalf("april sync: %v", err)
	}
	if march == april {
		t.Error("distinct periods must map to distinct budget documents")
	}
}

func TestSyncBudgetValidation(t *testing.T) {
	ctx := context.Background()
	_, budgets, _, _, _ := newFixture(t)

	if _, err := budgets.SyncBudget(ctx, "", 3, 2026); !errors.Is(err, core.ErrEmptyUserID) {
		t.Errorf("empty user error = %v, want ErrEmptyUserID", err)
	}
	if _, err := budgets.SyncBudget(ctx, "u1", 13, 2026); !errors.Is(err, core.ErrInvalidMonth) {
		t.Errorf("month 13 error = %v, want ErrInvalidMonth", err)
	}
	if _, err := budgets.SyncBudget(ctx, "u1", 3, 10000); !errors.Is(err, core.ErrInvalidYear) {
		t.Errorf("year 10000 error = %v, want ErrInvalidYear", err)
	}
}

func TestMarkPaidNonPlanTouchesOnlyFlag(t *testing.T) {
	ctx := context.Background()
	st, budgets, expenses, _, _ := newFixture(t)

	gymID := mustCreateExpense(t, expenses, core.ExpenseTemplate{
		UserID: "u1", Title: "Gym", Amount: core.Money{Cents: 4500}, Active: true,
	})
	budgetID, err := budgets.SyncBudget(ctx, "u1", 3, 2026)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}

	if err := budgets.MarkPaid(ctx, "u1", budgetID, gymID, true); err != nil {
		t.Fatalf("mark paid: %v", err)
	}

	b, err := budgets.GetBudget(ctx, "u1", budgetID)
	if err != nil {
		t.Fatalf("get budget: %v", err)
	}
	if !b.Items[0].Paid {
		t.Error("item not marked paid")
	}

	doc, err := st.FindOne(ctx, core.CollectionExpenses, store.Filter{store.FieldID: gymID})
	if err != nil {
		t.Fatalf("find template: %v", err)
	}
	tpl := core.ExpenseTemplateFromFields(doc.ID, doc.Fields)
	if tpl.CurrentPayment != 0 || tpl.TotalPayments != 0 || !tpl.Active {
		t.Errorf("non-plan template mutated: %+v", tpl)
	}
}

func TestMarkPaidAdvancesPlanOnce(t *testing.T) {
	ctx := context.Background()
	st, budgets, expenses, _, _ := newFixture(t)

	planID := mustCreateExpense(t, expenses, core.ExpenseTemplate{
		UserID: "u1", Title: "Sofa", Amount: core.Money{Cents: 10000}, Active: true,
		IsPaymentPlan: true, TotalPayments: 12, CurrentPayment: 4,
	})
	budgetID, err := budgets.SyncBudget(ctx, "u1", 3, 2026)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}

	if err := budgets.MarkPaid(ctx, "u1", budgetID, planID, true); err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	// Marking an already-paid item paid again must not advance further.
	if err := budgets.MarkPaid(ctx, "u1", budgetID, planID, true); err != nil {
		t.Fatalf("second mark paid: %v", err)
	}

	doc, err := st.FindOne(ctx, core.CollectionExpenses, store.Filter{store.FieldID: planID})
	if err != nil {
		t.Fatalf("find template: %v", err)
	}
	tpl := core.ExpenseTemplateFromFields(doc.ID, doc.Fields)
	if tpl.CurrentPayment != 5 {
		t.Errorf("CurrentPayment = %d, want 5 after single advance", tpl.CurrentPayment)
	}
	if !tpl.Active {
		t.Error("plan deactivated before completion")
	}

	b, err := budgets.GetBudget(ctx, "u1", budgetID)
	if err != nil {
		t.Fatalf("get budget: %v", err)
	}
	if b.Items[0].CurrentPayment != 5 {
		t.Errorf("snapshot counter = %d, want 5", b.Items[0].CurrentPayment)
	}
}

func TestMarkPaidUnpayDoesNotRollBack(t *testing.T) {
	ctx := context.Background()
	st, budgets, expenses, _, _ := newFixture(t)

	planID := mustCreateExpense(t, expenses, core.ExpenseTemplate{
		UserID: "u1", Title: "Sofa", Amount: core.Money{Cents: 10000}, Active: true,
		IsPaymentPlan: true, TotalPayments: 12, CurrentPayment: 4,
	})
	budgetID, _ := budgets.SyncBudget(ctx, "u1", 3, 2026)

	if err := budgets.MarkPaid(ctx, "u1", budgetID, planID, true); err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if err := budgets.MarkPaid(ctx, "u1", budgetID, planID, false); err != nil {
		t.Fatalf("un-pay: %v", err)
	}

	doc, _ := st.FindOne(ctx, core.CollectionExpenses, store.Filter{store.FieldID: planID})
	tpl := core.ExpenseTemplateFromFields(doc.ID, doc.Fields)
	if tpl.CurrentPayment != 5 {
		t.Errorf("CurrentPayment = %d, want 5 (no rollback on un-pay)", tpl.CurrentPayment)
	}

	b, _ := budgets.GetBudget(ctx, "u1", budgetID)
	if b.Items[0].Paid {
		t.Error("item still paid after un-pay")
	}
}

func TestMarkPaidCompletesPlan(t *testing.T) {
	ctx := context.Background()
	st, budgets, expenses, _, events := newFixture(t)

	planID := mustCreateExpense(t, expenses, core.ExpenseTemplate{
		UserID: "u1", Title: "Sofa", Amount: core.Money{Cents: 10000}, Active: true,
		IsPaymentPlan: true, TotalPayments: 12, CurrentPayment: 11,
	})
	budgetID, _ := budgets.SyncBudget(ctx, "u1", 3, 2026)

	if err := budgets.MarkPaid(ctx, "u1", budgetID, planID, true); err != nil {
		t.Fatalf("mark paid: %v", err)
	}

	doc, _ := st.FindOne(ctx, core.CollectionExpenses, store.Filter{store.FieldID: planID})
	tpl := core.ExpenseTemplateFromFields(doc.ID, doc.Fields)
	if tpl.CurrentPayment != 12 {
		t.Errorf("CurrentPayment = %d, want 12", tpl.CurrentPayment)
	}
	if tpl.Active {
		t.Error("completed plan still active")
	}
	if !tpl.PlanComplete() {
		t.Error("PlanComplete() = false after final installment")
	}

	ids := events.completedIDs()
	if len(ids) != 1 || ids[0] != planID {
		t.Errorf("plan completed events = %v, want [%s]", ids, planID)
	}

	// The completed plan drops out of the next period's derivation.
	aprilID, err := budgets.SyncBudget(ctx, "u1", 4, 2026)
	if err != nil {
		t.Fatalf("april sync: %v", err)
	}
	april, _ := budgets.GetBudget(ctx, "u1", aprilID)
	if len(april.Items) != 0 {
		t.Errorf("april items = %d, want 0 after plan completion", len(april.Items))
	}
}

func TestMarkPaidMissingBudget(t *testing.T) {
	ctx := context.Background()
	_, budgets, _, _, _ := newFixture(t)

	err := budgets.MarkPaid(ctx, "u1", "missing", "whatever", true)
	if !errors.Is(err, core.ErrBudgetNotFound) {
		t.Errorf("error = %v, want ErrBudgetNotFound", err)
	}
}

func TestMarkPaidStaleLineItemIsNoop(t *testing.T) {
	ctx := context.Background()
	_, budgets, expenses, _, _ := newFixture(t)

	mustCreateExpense(t, expenses, core.ExpenseTemplate{
		UserID: "u1", Title: "Gym", Amount: core.Money{Cents: 4500}, Active: true,
	})
	budgetID, _ := budgets.SyncBudget(ctx, "u1", 3, 2026)

	if err := budgets.MarkPaid(ctx, "u1", budgetID, "not-in-snapshot", true); err != nil {
		t.Errorf("stale toggle error = %v, want nil", err)
	}
}

func TestMarkPaidCrossUserIsNotFound(t *testing.T) {
	ctx := context.Background()
	_, budgets, expenses, _, _ := newFixture(t)

	gymID := mustCreateExpense(t, expenses, core.ExpenseTemplate{
		UserID: "u1", Title: "Gym", Amount: core.Money{Cents: 4500}, Active: true,
	})
	budgetID, _ := budgets.SyncBudget(ctx, "u1", 3, 2026)

	err := budgets.MarkPaid(ctx, "u2", budgetID, gymID, true)
	if !errors.Is(err, core.ErrBudgetNotFound) {
		t.Errorf("cross-user error = %v, want ErrBudgetNotFound", err)
	}
}

func TestSyncBudgetPublishesEvent(t *testing.T) {
	ctx := context.Background()
	_, budgets, expenses, _, events := newFixture(t)

	mustCreateExpense(t, expenses, core.ExpenseTemplate{
		UserID: "u1", Title: "Gym", Amount: core.Money{Cents: 4500}, Active: true,
	})
	budgetID, err := budgets.SyncBudget(ctx, "u1", 3, 2026)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}

	events.mu.Lock()
	defer events.mu.Unlock()
	if len(events.syncedBudgets) != 1 || events.syncedBudgets[0] != budgetID {
		t.Errorf("synced events = %v, want [%s]", events.syncedBudgets, budgetID)
	}
}

func TestGetBudgetForPeriod(t *testing.T) {
	ctx := context.Background()
	_, budgets, expenses, _, _ := newFixture(t)

	if _, err := budgets.GetBudgetForPeriod(ctx, "u1", 3, 2026); !errors.Is(err, core.ErrBudgetNotFound) {
		t.Errorf("missing period error = %v, want ErrBudgetNotFound", err)
	}

	mustCreateExpense(t, expenses, core.ExpenseTemplate{
		UserID: "u1", Title: "Gym", Amount: core.Money{Cents: 4500}, Active: true,
	})
	budgetID, _ := budgets.SyncBudget(ctx, "u1", 3, 2026)

	b, err := budgets.GetBudgetForPeriod(ctx, "u1", 3, 2026)
	if err != nil {
		t.Fatalf("get for period: %v", err)
	}
	if b.ID != budgetID {
		t.Errorf("ID = %q, want %q", b.ID, budgetID)
	}
}

func TestSubscribeBudgetDeliversChanges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, budgets, expenses, _, _ := newFixture(t)

	gymID := mustCreateExpense(t, expenses, core.ExpenseTemplate{
		UserID: "u1", Title: "Gym", Amount: core.Money{Cents: 4500}, Active: true,
	})
	budgetID, _ := budgets.SyncBudget(ctx, "u1", 3, 2026)

	sub, err := budgets.SubscribeBudget(ctx, "u1", budgetID)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Cancel()

	deadline := time.After(2 * time.Second)

	// Initial delivery.
	select {
	case docs := <-sub.C:
		if len(docs) != 1 {
			t.Fatalf("initial delivery = %d docs, want 1", len(docs))
		}
	case <-deadline:
		t.Fatal("no initial delivery")
	}

	if err := budgets.MarkPaid(ctx, "u1", budgetID, gymID, true); err != nil {
		t.Fatalf("mark paid: %v", err)
	}

	// The paid write re-delivers the document; drain until the paid state
	// is visible since intermediate states may collapse.
	for {
		select {
		case docs, ok := <-sub.C:
			if !ok {
				t.Fatal("subscription closed before paid state was delivered")
			}
			if len(docs) == 1 {
				b := core.BudgetFromFields(docs[0].ID, docs[0].Fields)
				if len(b.Items) == 1 && b.Items[0].Paid {
					return
				}
			}
		case <-deadline:
			t.Fatal("paid state never delivered")
		}
	}
}
