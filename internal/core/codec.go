package core

import (
	"encoding/json"
	"time"
)

// Codecs between domain types and document field maps. The store keeps
// documents as loose field sets; numbers coming back from a JSON round trip
// arrive as float64, so every read goes through the coercion helpers below.

func (e ExpenseTemplate) Fields() map[string]any {
	f := map[string]any{
		"userId":        e.UserID,
		"title":         e.Title,
		"amount":        e.Amount.Cents,
		"icon":          e.Icon,
		"iconBgColor":   e.IconBgColor,
		"active":        e.Active,
		"isPaymentPlan": e.IsPaymentPlan,
		"createdAt":     e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if e.IsPaymentPlan {
		f["totalPayments"] = e.TotalPayments
		f["currentPayment"] = e.CurrentPayment
	} else {
		f["totalPayments"] = nil
		f["currentPayment"] = nil
	}
	return f
}

func ExpenseTemplateFromFields(id string, f map[string]any) ExpenseTemplate {
	return ExpenseTemplate{
		ID:             id,
		UserID:         asString(f["userId"]),
		Title:          asString(f["title"]),
		Amount:         Money{Cents: asInt64(f["amount"])},
		Icon:           asString(f["icon"]),
		IconBgColor:    asString(f["iconBgColor"]),
		Active:         asBoolDefault(f["active"], true),
		IsPaymentPlan:  asBoolDefault(f["isPaymentPlan"], false),
		TotalPayments:  int(asInt64(f["totalPayments"])),
		CurrentPayment: int(asInt64(f["currentPayment"])),
		CreatedAt:      asTime(f["createdAt"]),
	}
}

func (i IncomeEntry) Fields() map[string]any {
	return map[string]any{
		"userId":    i.UserID,
		"name":      i.Name,
		"amount":    i.Amount.Cents,
		"month":     i.Month,
		"year":      i.Year,
		"createdAt": i.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func IncomeEntryFromFields(id string, f map[string]any) IncomeEntry {
	return IncomeEntry{
		ID:        id,
		UserID:    asString(f["userId"]),
		Name:      asString(f["name"]),
		Amount:    Money{Cents: asInt64(f["amount"])},
		Month:     int(asInt64(f["month"])),
		Year:      int(asInt64(f["year"])),
		CreatedAt: asTime(f["createdAt"]),
	}
}

func (b Budget) Fields() map[string]any {
	items := make([]any, len(b.Items))
	for i, it := range b.Items {
		items[i] = it.Fields()
	}
	return map[string]any{
		"userId":        b.UserID,
		"month":         b.Month,
		"year":          b.Year,
		"items":         items,
		"totalIncome":   b.TotalIncome.Cents,
		"totalExpenses": b.TotalExpenses.Cents,
		"balance":       b.Balance.Cents,
		"createdAt":     b.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func (it BudgetLineItem) Fields() map[string]any {
	return map[string]any{
		"expenseId":      it.ExpenseID,
		"title":          it.Title,
		"amount":         it.Amount.Cents,
		"icon":           it.Icon,
		"iconBgColor":    it.IconBgColor,
		"paid":           it.Paid,
		"isPaymentPlan":  it.IsPaymentPlan,
		"currentPayment": it.CurrentPayment,
		"totalPayments":  it.TotalPayments,
	}
}

func BudgetFromFields(id string, f map[string]any) Budget {
	b := Budget{
		ID:            id,
		UserID:        asString(f["userId"]),
		Month:         int(asInt64(f["month"])),
		Year:          int(asInt64(f["year"])),
		TotalIncome:   Money{Cents: asInt64(f["totalIncome"])},
		TotalExpenses: Money{Cents: asInt64(f["totalExpenses"])},
		Balance:       Money{Cents: asInt64(f["balance"])},
		CreatedAt:     asTime(f["createdAt"]),
	}
	raw, _ := f["items"].([]any)
	for _, r := range raw {
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		b.Items = append(b.Items, lineItemFromFields(m))
	}
	return b
}

func lineItemFromFields(f map[string]any) BudgetLineItem {
	return BudgetLineItem{
		ExpenseID:      asString(f["expenseId"]),
		Title:          asString(f["title"]),
		Amount:         Money{Cents: asInt64(f["amount"])},
		Icon:           asString(f["icon"]),
		IconBgColor:    asString(f["iconBgColor"]),
		Paid:           asBoolDefault(f["paid"], false),
		IsPaymentPlan:  asBoolDefault(f["isPaymentPlan"], false),
		CurrentPayment: int(asInt64(f["currentPayment"])),
		TotalPayments:  int(asInt64(f["totalPayments"])),
	}
}

// PaidFlags extracts the paid flag per expense id from a budget's items.
// This is the state SyncBudget carries forward across re-derivations.
func (b Budget) PaidFlags() map[string]bool {
	flags := make(map[string]bool, len(b.Items))
	for _, it := range b.Items {
		flags[it.ExpenseID] = it.Paid
	}
	return flags
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0
		}
		return i
	default:
		return 0
	}
}

func asBoolDefault(v any, def bool) bool {
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

func asTime(v any) time.Time {
	s, ok := v.(string)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
