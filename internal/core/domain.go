package core

import (
	"errors"
	"strings"
	"time"
)

// Collection names in the document store.
const (
	CollectionExpenses = "expenses"
	CollectionIncome   = "income"
	CollectionBudgets  = "budgets"
)

type (
	Money struct {
		Cents int64
	}

	// ExpenseTemplate is a recurring or installment-based spending
	// definition. Non-plan active templates contribute to every month's
	// budget; payment plans contribute only once their counter has started.
	ExpenseTemplate struct {
		ID          string
		UserID      string
		Title       string
		Amount      Money
		Icon        string
		IconBgColor string
		Active      bool
		// Payment plan fields. Zero when IsPaymentPlan is false.
		IsPaymentPlan  bool
		TotalPayments  int
		CurrentPayment int
		CreatedAt      time.Time
	}

	// IncomeEntry is a date-scoped (month/year) income record.
	IncomeEntry struct {
		ID        string
		UserID    string
		Name      string
		Amount    Money
		Month     int // 1-12
		Year      int
		CreatedAt time.Time
	}

	// BudgetLineItem is an expense template denormalized into a Budget
	// snapshot, plus the per-month paid flag that survives re-derivation.
	BudgetLineItem struct {
		ExpenseID      string
		Title          string
		Amount         Money
		Icon           string
		IconBgColor    string
		Paid           bool
		IsPaymentPlan  bool
		CurrentPayment int
		TotalPayments  int
	}

	// Budget is the derived, persisted, per-month aggregation of eligible
	// expense templates and matching income entries. Exactly one exists
	// per (user, month, year).
	Budget struct {
		ID            string
		UserID        string
		Month         int
		Year          int
		Items         []BudgetLineItem
		TotalIncome   Money
		TotalExpenses Money
		Balance       Money
		CreatedAt     time.Time
	}
)

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrInvalidMonth    = errors.New("invalid month")
	ErrInvalidYear     = errors.New("invalid year")
	ErrEmptyTitle      = errors.New("empty title")
	ErrTitleTooLong    = errors.New("title too long (max 200 characters)")
	ErrEmptyName       = errors.New("empty name")
	ErrNameTooLong     = errors.New("name too long (max 200 characters)")
	ErrEmptyUserID     = errors.New("empty user id")
	ErrInvalidPlan     = errors.New("invalid payment plan")
	ErrPlanOutOfRange  = errors.New("payment counter out of range")
	ErrBudgetNotFound  = errors.New("budget not found")
	ErrExpenseNotFound = errors.New("expense not found")
	ErrIncomeNotFound  = errors.New("income entry not found")
)

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (e ExpenseTemplate) Validate() error {
	if strings.TrimSpace(e.UserID) == "" {
		return ErrEmptyUserID
	}
	if strings.TrimSpace(e.Title) == "" {
		return ErrEmptyTitle
	}
	if len(e.Title) > 200 {
		return ErrTitleTooLong
	}
	if err := e.Amount.Validate(); err != nil {
		return err
	}
	if e.IsPaymentPlan {
		if e.TotalPayments <= 0 {
			return ErrInvalidPlan
		}
		if e.CurrentPayment < 0 || e.CurrentPayment > e.TotalPayments {
			return ErrPlanOutOfRange
		}
	} else if e.TotalPayments != 0 || e.CurrentPayment != 0 {
		// Plan fields must stay absent on non-plan templates.
		return ErrInvalidPlan
	}
	return nil
}

// PlanComplete reports whether a payment plan has recorded all installments.
func (e ExpenseTemplate) PlanComplete() bool {
	return e.IsPaymentPlan && e.CurrentPayment >= e.TotalPayments
}

func (i IncomeEntry) Validate() error {
	if strings.TrimSpace(i.UserID) == "" {
		return ErrEmptyUserID
	}
	if strings.TrimSpace(i.Name) == "" {
		return ErrEmptyName
	}
	if len(i.Name) > 200 {
		return ErrNameTooLong
	}
	if err := i.Amount.Validate(); err != nil {
		return err
	}
	if i.Month < 1 || i.Month > 12 {
		return ErrInvalidMonth
	}
	if i.Year < 1970 || i.Year > 9999 {
		return ErrInvalidYear
	}
	return nil
}

// IsValidationError reports whether err is a domain validation failure,
// as opposed to a missing document or a backend fault.
func IsValidationError(err error) bool {
	for _, sentinel := range []error{
		ErrInvalidAmount, ErrInvalidMonth, ErrInvalidYear,
		ErrEmptyTitle, ErrTitleTooLong, ErrEmptyName, ErrNameTooLong,
		ErrEmptyUserID, ErrInvalidPlan, ErrPlanOutOfRange,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// ValidateMonthYear checks a budget target period.
func ValidateMonthYear(month, year int) error {
	if month < 1 || month > 12 {
		return ErrInvalidMonth
	}
	if year < 1970 || year > 9999 {
		return ErrInvalidYear
	}
	return nil
}
