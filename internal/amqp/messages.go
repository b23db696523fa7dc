package amqp

import (
	"encoding/json"
	"time"
)

// BudgetSyncedMessage announces that a budget snapshot was reconciled and
// persisted. Consumers fetch the full document from the store by id.
type BudgetSyncedMessage struct {
	BudgetID  string    `json:"budgetId"`
	UserID    string    `json:"userId"`
	Month     int       `json:"month"`
	Year      int       `json:"year"`
	Timestamp time.Time `json:"timestamp"`
}

// PlanCompletedMessage announces that a payment plan recorded its final
// installment and the template was deactivated.
type PlanCompletedMessage struct {
	ExpenseID string    `json:"expenseId"`
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

func NewBudgetSyncedMessage(budgetID, userID string, month, year int) *BudgetSyncedMessage {
	return &BudgetSyncedMessage{
		BudgetID:  budgetID,
		UserID:    userID,
		Month:     month,
		Year:      year,
		Timestamp: time.Now(),
	}
}

func NewPlanCompletedMessage(expenseID, userID string) *PlanCompletedMessage {
	return &PlanCompletedMessage{
		ExpenseID: expenseID,
		UserID:    userID,
		Timestamp: time.Now(),
	}
}

func (m *BudgetSyncedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func BudgetSyncedMessageFromJSON(data []byte) (*BudgetSyncedMessage, error) {
	var msg BudgetSyncedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (m *PlanCompletedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func PlanCompletedMessageFromJSON(data []byte) (*PlanCompletedMessage, error) {
	var msg PlanCompletedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
