// Package google exports budget snapshots to a Google Sheet through the
// Sheets v4 API, authenticated with a service account.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"budgeteer/internal/core"
	ports "budgeteer/internal/sheets"
)

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	// Base name without year (e.g. "Budgets"); code prefixes the year.
	snapshotBase string
}

// Ensure interface conformance
var (
	_ ports.SnapshotWriter  = (*Client)(nil)
	_ ports.SnapshotClearer = (*Client)(nil)
)

// NewFromEnv creates a Sheets client from environment variables.
// Required: GOOGLE_SPREADSHEET_ID.
// Optional: GOOGLE_SHEET_NAME (default "Budgets"), and one of
// GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or
// GOOGLE_APPLICATION_CREDENTIALS for auth.
func NewFromEnv(ctx context.Context) (*Client, error) {
	spreadsheetID := strings.TrimSpace(os.Getenv("GOOGLE_SPREADSHEET_ID"))
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}

	base := strings.TrimSpace(os.Getenv("GOOGLE_SHEET_NAME"))
	if base == "" {
		base = "Budgets"
	}

	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	return &Client{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		snapshotBase:  base,
	}, nil
}

// newSheetsService initializes a Sheets Service using Service Account
// credentials from GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE,
// or GOOGLE_APPLICATION_CREDENTIALS.
func newSheetsService(ctx context.Context) (*gsheet.Service, error) {
	serviceAccountJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	var err error
	switch {
	case serviceAccountJSON != "":
		credentialsJSON = []byte(serviceAccountJSON)
	case serviceAccountFile != "":
		credentialsJSON, err = os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	slog.InfoContext(ctx, "Google Sheets service created",
		"spreadsheet_id_set", true,
		"scope", gsheet.SpreadsheetsScope)
	return service, nil
}

// WriteSnapshot replaces any previously exported rows for the snapshot's
// (user, month, year) and appends the current line items plus a totals row.
func (c *Client) WriteSnapshot(ctx context.Context, b core.Budget) (string, error) {
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}

	sheetName := yearPrefixedName(c.snapshotBase, b.Year)

	if err := c.ClearSnapshot(ctx, b.UserID, b.Month, b.Year); err != nil {
		return "", fmt.Errorf("clear previous snapshot rows: %w", err)
	}

	// Row layout: User | Month | Year | Title | Amount | Paid | Plan
	rows := make([][]any, 0, len(b.Items)+1)
	for _, it := range b.Items {
		plan := ""
		if it.IsPaymentPlan {
			plan = fmt.Sprintf("%d/%d", it.CurrentPayment, it.TotalPayments)
		}
		rows = append(rows, []any{
			b.UserID, b.Month, b.Year, it.Title, it.Amount.String(), it.Paid, plan,
		})
	}
	rows = append(rows, []any{
		b.UserID, b.Month, b.Year, "TOTAL",
		b.TotalExpenses.String(), "", fmt.Sprintf("balance %s", b.Balance.String()),
	})

	vr := &gsheet.ValueRange{Values: rows}
	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, sheetName+"!A:G", vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("append snapshot rows to %s: %w", sheetName, err)
	}

	ref := sheetName
	if resp.Updates != nil {
		ref = resp.Updates.UpdatedRange
	}

	slog.InfoContext(ctx, "Exported budget snapshot",
		"budget_id", b.ID,
		"user_id", b.UserID,
		"month", b.Month,
		"year", b.Year,
		"rows", len(rows),
		"sheets_ref", ref)

	return ref, nil
}

// ClearSnapshot blanks rows previously written for (user, month, year).
func (c *Client) ClearSnapshot(ctx context.Context, userID string, month, year int) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}

	sheetName := yearPrefixedName(c.snapshotBase, year)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, sheetName+"!A:C").Context(ctx).Do()
	if err != nil {
		// A missing sheet just means nothing was exported yet.
		if strings.Contains(err.Error(), "Unable to parse range") {
			return nil
		}
		return fmt.Errorf("read sheet %s: %w", sheetName, err)
	}

	for i, row := range resp.Values {
		if len(row) < 3 {
			continue
		}
		if fmt.Sprint(row[0]) != userID {
			continue
		}
		m, merr := strconv.Atoi(strings.TrimSpace(fmt.Sprint(row[1])))
		y, yerr := strconv.Atoi(strings.TrimSpace(fmt.Sprint(row[2])))
		if merr != nil || yerr != nil || m != month || y != year {
			continue
		}
		rng := fmt.Sprintf("%s!A%d:G%d", sheetName, i+1, i+1)
		if _, err := c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, rng, &gsheet.ClearValuesRequest{}).Context(ctx).Do(); err != nil {
			return fmt.Errorf("clear row %s: %w", rng, err)
		}
	}
	return nil
}

// yearPrefixedName returns "<year> <base>" unless base already starts with
// a 4-digit year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}
