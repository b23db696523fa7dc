// Package services implements the budget snapshot reconciliation core:
// the pure aggregator that derives a month's line items from the source
// collections, the snapshot manager that keeps exactly one persisted budget
// per (user, month, year), and the advancer that moves payment plans
// forward when installments are marked paid.
package services

import (
	"budgeteer/internal/core"
)

// Aggregation is the derived state of one month's budget: the eligible line
// items plus totals. Balance is always TotalIncome minus TotalExpenses.
type Aggregation struct {
	Items         []core.BudgetLineItem
	TotalIncome   core.Money
	TotalExpenses core.Money
	Balance       core.Money
}

// Aggregate derives a month's budget from the current source collections.
//
// Eligibility: a template contributes a line item when it is active and,
// for payment plans, its counter has started (CurrentPayment > 0). A plan
// still at 0 has not recorded its first payment and stays out of the
// current month. Non-plan active templates recur every month; only income
// is date-scoped.
//
// The paid flag per line item is carried from priorPaid, keyed by expense
// id; expenses appearing for the first time default to unpaid. The function
// is pure: same inputs always produce the same output, and empty inputs
// degrade to empty totals.
func Aggregate(userID string, month, year int, templates []core.ExpenseTemplate, incomes []core.IncomeEntry, priorPaid map[string]bool) Aggregation {
	var agg Aggregation

	for _, t := range templates {
		if t.UserID != userID || !eligible(t) {
			continue
		}
		agg.Items = append(agg.Items, core.BudgetLineItem{
			ExpenseID:      t.ID,
			Title:          t.Title,
			Amount:         t.Amount,
			Icon:           t.Icon,
			IconBgColor:    t.IconBgColor,
			Paid:           priorPaid[t.ID],
			IsPaymentPlan:  t.IsPaymentPlan,
			CurrentPayment: t.CurrentPayment,
			TotalPayments:  t.TotalPayments,
		})
		agg.TotalExpenses.Cents += t.Amount.Cents
	}

	for _, in := range incomes {
		if in.UserID != userID || in.Month != month || in.Year != year {
			continue
		}
		agg.TotalIncome.Cents += in.Amount.Cents
	}

	agg.Balance.Cents = agg.TotalIncome.Cents - agg.TotalExpenses.Cents
	return agg
}

func eligible(t core.ExpenseTemplate) bool {
	if !t.Active {
		return false
	}
	if t.IsPaymentPlan && t.CurrentPayment <= 0 {
		return false
	}
	return true
}
