package sheets

import (
	"context"

	"budgeteer/internal/core"
)

// Ports for outbound snapshot export adapters.
type (
	// SnapshotWriter appends the rows of a reconciled budget snapshot to an
	// external sheet, replacing any rows previously written for the same
	// (user, month, year).
	SnapshotWriter interface {
		WriteSnapshot(ctx context.Context, b core.Budget) (ref string, err error)
	}

	// SnapshotClearer removes a previously exported snapshot.
	SnapshotClearer interface {
		ClearSnapshot(ctx context.Context, userID string, month, year int) error
	}
)
