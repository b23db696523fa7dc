// Package worker ties budget events to the snapshot export sink.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"budgeteer/internal/amqp"
	"budgeteer/internal/core"
	"budgeteer/internal/sheets"
	"budgeteer/internal/store"
)

// ExportWorker mirrors reconciled budget snapshots into a sheet. It consumes
// budget synced events, re-reads the canonical document from the store, and
// writes the rows through the configured SnapshotWriter.
type ExportWorker struct {
	store  store.Store
	writer sheets.SnapshotWriter
}

func NewExportWorker(st store.Store, writer sheets.SnapshotWriter) *ExportWorker {
	return &ExportWorker{store: st, writer: writer}
}

// HandleBudgetSynced exports the snapshot named by a budget synced event.
// A budget deleted between publish and consume is dropped without error.
func (w *ExportWorker) HandleBudgetSynced(ctx context.Context, msg *amqp.BudgetSyncedMessage) error {
	slog.InfoContext(ctx, "Processing budget synced event",
		"budget_id", msg.BudgetID,
		"user_id", msg.UserID,
		"month", msg.Month,
		"year", msg.Year)

	doc, err := w.store.FindOne(ctx, core.CollectionBudgets, store.Filter{store.FieldID: msg.BudgetID})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			slog.WarnContext(ctx, "Budget gone before export, dropping event",
				"budget_id", msg.BudgetID)
			return nil
		}
		return fmt.Errorf("load budget %s: %w", msg.BudgetID, err)
	}

	budget := core.BudgetFromFields(doc.ID, doc.Fields)
	ref, err := w.writer.WriteSnapshot(ctx, budget)
	if err != nil {
		return fmt.Errorf("export budget %s: %w", msg.BudgetID, err)
	}

	slog.InfoContext(ctx, "Exported budget snapshot",
		"budget_id", msg.BudgetID,
		"sheets_ref", ref,
		"items", len(budget.Items))
	return nil
}

// HandlePlanCompleted logs completed payment plans. The export sink has no
// dedicated place for these yet, so the event is acknowledged as handled.
func (w *ExportWorker) HandlePlanCompleted(ctx context.Context, msg *amqp.PlanCompletedMessage) error {
	slog.InfoContext(ctx, "Payment plan completed",
		"expense_id", msg.ExpenseID,
		"user_id", msg.UserID,
		"timestamp", msg.Timestamp)
	return nil
}

// Handlers bundles the worker's event handlers for the consume loop.
func (w *ExportWorker) Handlers() amqp.Handlers {
	return amqp.Handlers{
		BudgetSynced:  w.HandleBudgetSynced,
		PlanCompleted: w.HandlePlanCompleted,
	}
}

// StartupExportCheck re-exports every stored budget at worker startup. It is
// a backup mechanism in case events were lost while the worker was down.
func (w *ExportWorker) StartupExportCheck(ctx context.Context) error {
	docs, err := w.store.FindMany(ctx, core.CollectionBudgets, store.Filter{},
		&store.OrderBy{Field: "createdAt"})
	if err != nil {
		return fmt.Errorf("list budgets for startup export: %w", err)
	}
	if len(docs) == 0 {
		slog.InfoContext(ctx, "No budgets found on startup")
		return nil
	}

	slog.InfoContext(ctx, "Re-exporting stored budgets on startup", "count", len(docs))

	exported := 0
	failed := 0
	for _, doc := range docs {
		budget := core.BudgetFromFields(doc.ID, doc.Fields)
		if _, err := w.writer.WriteSnapshot(ctx, budget); err != nil {
			slog.ErrorContext(ctx, "Failed to export budget during startup",
				"budget_id", doc.ID, "error", err)
			failed++
			continue
		}
		exported++
	}

	slog.InfoContext(ctx, "Startup export completed",
		"total", len(docs),
		"exported", exported,
		"errors", failed)
	return nil
}
