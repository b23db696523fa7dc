package http

import (
	"net/http"
	"strings"

	"budgeteer/internal/core"
)

type incomeRequest struct {
	ID     string `json:"id,omitempty"`
	Name   string `json:"name"`
	Amount string `json:"amount"`
	Month  int    `json:"month"`
	Year   int    `json:"year"`
}

type incomeResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Amount      string `json:"amount"`
	AmountCents int64  `json:"amountCents"`
	Month       int    `json:"month"`
	Year        int    `json:"year"`
	CreatedAt   string `json:"createdAt"`
}

func toIncomeResponse(in core.IncomeEntry) incomeResponse {
	return incomeResponse{
		ID:          in.ID,
		Name:        in.Name,
		Amount:      in.Amount.String(),
		AmountCents: in.Amount.Cents,
		Month:       in.Month,
		Year:        in.Year,
		CreatedAt:   in.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func (req incomeRequest) toEntry(uid string) (core.IncomeEntry, error) {
	cents, err := core.ParseAmountToCents(req.Amount)
	if err != nil {
		return core.IncomeEntry{}, err
	}
	return core.IncomeEntry{
		UserID: uid,
		Name:   sanitizeInput(req.Name),
		Amount: core.Money{Cents: cents},
		Month:  req.Month,
		Year:   req.Year,
	}, nil
}

// handleIncome serves entry listing for a month (GET) and creation (POST).
func (s *Server) handleIncome(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)

	if r.Method == http.MethodGet {
		month, year, err := parseMonthYear(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		entries, err := s.income.List(r.Context(), uid, month, year)
		if err != nil {
			writeError(w, r, err)
			return
		}
		out := make([]incomeResponse, len(entries))
		for i, in := range entries {
			out[i] = toIncomeResponse(in)
		}
		writeJSON(w, http.StatusOK, out)
		return
	}

	var req incomeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	entry, err := req.toEntry(uid)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := s.income.Create(r.Context(), entry)
	if err != nil {
		writeError(w, r, err)
		return
	}

	entry.ID = id
	s.invalidatePreview(uid)
	writeJSON(w, http.StatusCreated, toIncomeResponse(entry))
}

func (s *Server) handleUpdateIncome(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)

	var req incomeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "id is required"})
		return
	}
	entry, err := req.toEntry(uid)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.income.Update(r.Context(), uid, req.ID, entry); err != nil {
		writeError(w, r, err)
		return
	}

	entry.ID = req.ID
	s.invalidatePreview(uid)
	writeJSON(w, http.StatusOK, toIncomeResponse(entry))
}

func (s *Server) handleDeleteIncome(w http.ResponseWriter, r *http.Request) {
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
	if err := s.income.Delete(r.Context(), uid, req.ID); err != nil {
		writeError(w, r, err)
		return
	}
	s.invalidatePreview(uid)
	w.WriteHeader(http.StatusNoContent)
}
