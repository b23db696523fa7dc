package http

import (
	"net/http"
	"strings"

	"budgeteer/internal/core"
)

type expenseRequest struct {
	ID             string `json:"id,omitempty"`
	Title          string `json:"title"`
	Amount         string `json:"amount"`
	Icon           string `json:"icon"`
	IconBgColor    string `json:"iconBgColor"`
	Active         *bool  `json:"active,omitempty"`
	IsPaymentPlan  bool   `json:"isPaymentPlan"`
	TotalPayments  int    `json:"totalPayments,omitempty"`
	CurrentPayment int    `json:"currentPayment,omitempty"`
}

type expenseResponse struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Amount         string `json:"amount"`
	AmountCents    int64  `json:"amountCents"`
	Icon           string `json:"icon,omitempty"`
	IconBgColor    string `json:"iconBgColor,omitempty"`
	Active         bool   `json:"active"`
	IsPaymentPlan  bool   `json:"isPaymentPlan"`
	TotalPayments  int    `json:"totalPayments,omitempty"`
	CurrentPayment int    `json:"currentPayment,omitempty"`
	CreatedAt      string `json:"createdAt"`
}

func toExpenseResponse(t core.ExpenseTemplate) expenseResponse {
	return expenseResponse{
		ID:             t.ID,
		Title:          t.Title,
		Amount:         t.Amount.String(),
		AmountCents:    t.Amount.Cents,
		Icon:           t.Icon,
		IconBgColor:    t.IconBgColor,
		Active:         t.Active,
		IsPaymentPlan:  t.IsPaymentPlan,
		TotalPayments:  t.TotalPayments,
		CurrentPayment: t.CurrentPayment,
		CreatedAt:      t.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func (req expenseRequest) toTemplate(uid string) (core.ExpenseTemplate, error) {
	cents, err := core.ParseAmountToCents(req.Amount)
	if err != nil {
		return core.ExpenseTemplate{}, err
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	t := core.ExpenseTemplate{
		UserID:        uid,
		Title:         sanitizeInput(req.Title),
		Amount:        core.Money{Cents: cents},
		Icon:          sanitizeInput(req.Icon),
		IconBgColor:   sanitizeInput(req.IconBgColor),
		Active:        active,
		IsPaymentPlan: req.IsPaymentPlan,
	}
	if req.IsPaymentPlan {
		t.TotalPayments = req.TotalPayments
		t.CurrentPayment = req.CurrentPayment
	}
	return t, nil
}

// handleExpenses serves template listing (GET) and creation (POST).
func (s *Server) handleExpenses(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)

	if r.Method == http.MethodGet {
		templates, err := s.expenses.List(r.Context(), uid)
		if err != nil {
			writeError(w, r, err)
			return
		}
		out := make([]expenseResponse, len(templates))
		for i, t := range templates {
			out[i] = toExpenseResponse(t)
		}
		writeJSON(w, http.StatusOK, out)
		return
	}

	var req expenseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	t, err := req.toTemplate(uid)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := s.expenses.Create(r.Context(), t)
	if err != nil {
		writeError(w, r, err)
		return
	}

	created, err := s.expenses.Get(r.Context(), uid, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.invalidatePreview(uid)
	writeJSON(w, http.StatusCreated, toExpenseResponse(created))
}

func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)

	var req expenseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "id is required"})
		return
	}
	t, err := req.toTemplate(uid)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.expenses.Update(r.Context(), uid, req.ID, t); err != nil {
		writeError(w, r, err)
		return
	}

	updated, err := s.expenses.Get(r.Context(), uid, req.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.invalidatePreview(uid)
	writeJSON(w, http.StatusOK, toExpenseResponse(updated))
}

type deleteRequest struct {
	ID string `json:"id"`
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)

	var req deleteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "id is required"})
		return
	}
	if err := s.expenses.Delete(r.Context(), uid, req.ID); err != nil {
		writeError(w, r, err)
		return
	}
	s.invalidatePreview(uid)
	w.WriteHeader(http.StatusNoContent)
}
