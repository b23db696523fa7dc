package services

import (
	"testing"

	"budgeteer/internal/core"
)

func tmpl(id, title string, cents int64, active bool) core.ExpenseTemplate {
	return core.ExpenseTemplate{
		ID:     id,
		UserID: "u1",
		Title:  title,
		Amount: core.Money{Cents: cents},
		Active: active,
	}
}

func planTmpl(id string, cents int64, current, total int) core.ExpenseTemplate {
	t := tmpl(id, "plan-"+id, cents, true)
	t.IsPaymentPlan = true
	t.CurrentPayment = current
	t.TotalPayments = total
	return t
}

func incomeEntry(id string, cents int64, month, year int) core.IncomeEntry {
	return core.IncomeEntry{
		ID:     id,
		UserID: "u1",
		Name:   "income-" + id,
		Amount: core.Money{Cents: cents},
		Month:  month,
		Year:   year,
	}
}

func TestAggregateEmptyInputs(t *testing.T) {
	agg := Aggregate("u1", 3, 2026, nil, nil, nil)
	if len(agg.Items) != 0 {
		t.Errorf("Items = %d, want 0", len(agg.Items))
	}
	if agg.TotalIncome.Cents != 0 || agg.TotalExpenses.Cents != 0 || agg.Balance.Cents != 0 {
		t.Errorf("totals = %+v, want all zero", agg)
	}
}

func TestAggregateEligibility(t *testing.T) {
	templates := []core.ExpenseTemplate{
		tmpl("active", "Gym", 4500, true),
		tmpl("inactive", "Old", 1000, false),
		planTmpl("plan-started", 20000, 1, 12),
		planTmpl("plan-unstarted", 30000, 0, 12),
	}

	agg := Aggregate("u1", 3, 2026, templates, nil, nil)

	want := map[string]bool{"active": true, "plan-started": true}
	if len(agg.Items) != len(want) {
		t.Fatalf("Items = %d, want %d", len(agg.Items), len(want))
	}
	for _, it := range agg.Items {
		if !want[it.ExpenseID] {
			t.Errorf("unexpected line item %q", it.ExpenseID)
		}
	}
	if agg.TotalExpenses.Cents != 24500 {
		t.Errorf("TotalExpenses = %d, want 24500", agg.TotalExpenses.Cents)
	}
}

func TestAggregateIncomeScoping(t *testing.T) {
	incomes := []core.IncomeEntry{
		incomeEntry("match", 300000, 3, 2026),
		incomeEntry("other-month", 50000, 4, 2026),
		incomeEntry("other-year", 50000, 3, 2025),
	}
	other := incomeEntry("other-user", 99999, 3, 2026)
	other.UserID = "u2"
	incomes = append(incomes, other)

	agg := Aggregate("u1", 3, 2026, nil, incomes, nil)
	if agg.TotalIncome.Cents != 300000 {
		t.Errorf("TotalIncome = %d, want 300000", agg.TotalIncome.Cents)
	}
}

func TestAggregateBalanceIdentity(t *testing.T) {
	templates := []core.ExpenseTemplate{tmpl("gym", "Gym", 4500, true)}
	incomes := []core.IncomeEntry{incomeEntry("salary", 300000, 3, 2026)}

	agg := Aggregate("u1", 3, 2026, templates, incomes, nil)
	if agg.TotalIncome.Cents != 300000 {
		t.Errorf("TotalIncome = %d, want 300000", agg.TotalIncome.Cents)
	}
	if agg.TotalExpenses.Cents != 4500 {
		t.Errorf("TotalExpenses = %d, want 4500", agg.TotalExpenses.Cents)
	}
	if agg.Balance.Cents != 295500 {
		t.Errorf("Balance = %d, want 295500", agg.Balance.Cents)
	}
	if agg.Balance.Cents != agg.TotalIncome.Cents-agg.TotalExpenses.Cents {
		t.Error("balance identity violated")
	}
}

func TestAggregatePaidCarryOver(t *testing.T) {
	templates := []core.ExpenseTemplate{
		tmpl("gym", "Gym", 4500, true),
		tmpl("new", "New", 1000, true),
	}
	priorPaid := map[string]bool{"gym": true}

	agg := Aggregate("u1", 3, 2026, templates, nil, priorPaid)
	for _, it := range agg.Items {
		switch it.ExpenseID {
		case "gym":
			if !it.Paid {
				t.Error("paid flag not carried over for gym")
			}
		case "new":
			if it.Paid {
				t.Error("new item should default to unpaid")
			}
		}
	}
}

func TestAggregateDeterministic(t *testing.T) {
	templates := []core.ExpenseTemplate{
		tmpl("a", "A", 100, true),
		planTmpl("b", 200, 3, 10),
	}
	incomes := []core.IncomeEntry{incomeEntry("s", 5000, 3, 2026)}

	first := Aggregate("u1", 3, 2026, templates, incomes, map[string]bool{"a": true})
	second := Aggregate("u1", 3, 2026, templates, incomes, map[string]bool{"a": true})

	if len(first.Items) != len(second.Items) {
		t.Fatalf("item counts differ: %d vs %d", len(first.Items), len(second.Items))
	}
	for i := range first.Items {
		if first.Items[i] != second.Items[i] {
			t.Errorf("item %d differs: %+v vs %+v", i, first.Items[i], second.Items[i])
		}
	}
	if first.Balance != second.Balance {
		t.Errorf("balances differ: %v vs %v", first.Balance, second.Balance)
	}
}

func TestAggregateFiltersForeignTemplates(t *testing.T) {
	foreign := tmpl("x", "X", 999, true)
	foreign.UserID = "u2"

	agg := Aggregate("u1", 3, 2026, []core.ExpenseTemplate{foreign}, nil, nil)
	if len(agg.Items) != 0 {
		t.Errorf("Items = %d, want 0 for foreign templates", len(agg.Items))
	}
}
