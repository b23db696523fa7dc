// Package sqlite implements the document store on a single SQLite table
// with JSON field sets. Equality filters compile to json_extract predicates
// and subscriptions re-query through an in-process hub after every commit.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"budgeteer/internal/store"
)

type Store struct {
	db  *sql.DB
	hub *hub
}

// querier is satisfied by *sql.DB and *sql.Tx so the query builders serve
// both the plain store and transactional views.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func New(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db, hub: newHub()}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var (
	_ store.Store      = (*Store)(nil)
	_ store.Transactor = (*Store)(nil)
)

func (s *Store) FindOne(ctx context.Context, collection string, filter store.Filter) (store.Document, error) {
	docs, err := findMany(ctx, s.db, collection, filter, nil, 1)
	if err != nil {
		return store.Document{}, err
	}
	if len(docs) == 0 {
		return store.Document{}, store.ErrNotFound
	}
	return docs[0], nil
}

func (s *Store) FindMany(ctx context.Context, collection string, filter store.Filter, orderBy *store.OrderBy) ([]store.Document, error) {
	return findMany(ctx, s.db, collection, filter, orderBy, 0)
}

func (s *Store) Insert(ctx context.Context, collection string, fields map[string]any) (string, error) {
	id, err := insert(ctx, s.db, collection, fields)
	if err != nil {
		return "", err
	}
	s.notify(ctx, collection)
	return id, nil
}

func (s *Store) UpdateFields(ctx context.Context, collection string, id string, partial map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", store.ErrUnavailable, err)
	}
	if err := updateFields(ctx, tx, collection, id, partial); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", store.ErrUnavailable, err)
	}
	s.notify(ctx, collection)
	return nil
}

func (s *Store) Delete(ctx context.Context, collection string, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return fmt.Errorf("%w: delete: %v", store.ErrUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %v", store.ErrUnavailable, err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	s.notify(ctx, collection)
	return nil
}

func (s *Store) Subscribe(ctx context.Context, collection string, filter store.Filter, orderBy *store.OrderBy) (*store.Subscription, error) {
	query := func(ctx context.Context) ([]store.Document, error) {
		return findMany(ctx, s.db, collection, filter, orderBy, 0)
	}
	return s.hub.subscribe(ctx, collection, query)
}

// InTx runs fn against a transactional view of the store. All writes commit
// atomically; subscribers are notified once, after the commit.
func (s *Store) InTx(ctx context.Context, fn func(tx store.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", store.ErrUnavailable, err)
	}
	view := &txStore{tx: sqlTx, parent: s, touched: make(map[string]struct{})}
	if err := fn(view); err != nil {
		sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", store.ErrUnavailable, err)
	}
	for collection := range view.touched {
		s.notify(ctx, collection)
	}
	return nil
}

func (s *Store) notify(ctx context.Context, collection string) {
	s.hub.notify(ctx, collection)
}

// txStore is the store view handed to InTx callbacks.
type txStore struct {
	tx      *sql.Tx
	parent  *Store
	touched map[string]struct{}
}

func (t *txStore) FindOne(ctx context.Context, collection string, filter store.Filter) (store.Document, error) {
	docs, err := findMany(ctx, t.tx, collection, filter, nil, 1)
	if err != nil {
		return store.Document{}, err
	}
	if len(docs) == 0 {
		return store.Document{}, store.ErrNotFound
	}
	return docs[0], nil
}

func (t *txStore) FindMany(ctx context.Context, collection string, filter store.Filter, orderBy *store.OrderBy) ([]store.Document, error) {
	return findMany(ctx, t.tx, collection, filter, orderBy, 0)
}

func (t *txStore) Insert(ctx context.Context, collection string, fields map[string]any) (string, error) {
	id, err := insert(ctx, t.tx, collection, fields)
	if err == nil {
		t.touched[collection] = struct{}{}
	}
	return id, err
}

func (t *txStore) UpdateFields(ctx context.Context, collection string, id string, partial map[string]any) error {
	if err := updateFields(ctx, t.tx, collection, id, partial); err != nil {
		return err
	}
	t.touched[collection] = struct{}{}
	return nil
}

func (t *txStore) Delete(ctx context.Context, collection string, id string) error {
	res, err := t.tx.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return fmt.Errorf("%w: delete: %v", store.ErrUnavailable, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	t.touched[collection] = struct{}{}
	return nil
}

func (t *txStore) Subscribe(ctx context.Context, collection string, filter store.Filter, orderBy *store.OrderBy) (*store.Subscription, error) {
	return t.parent.Subscribe(ctx, collection, filter, orderBy)
}

func insert(ctx context.Context, q querier, collection string, fields map[string]any) (string, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("marshal fields: %w", err)
	}
	id := uuid.NewString()
	_, err = q.ExecContext(ctx,
		`INSERT INTO documents (id, collection, fields) VALUES (?, ?, ?)`,
		id, collection, string(raw))
	if err != nil {
		if isUniqueViolation(err) {
			return "", store.ErrConflict
		}
		return "", fmt.Errorf("%w: insert: %v", store.ErrUnavailable, err)
	}
	return id, nil
}

func updateFields(ctx context.Context, q querier, collection string, id string, partial map[string]any) error {
	var raw string
	err := q.QueryRowContext(ctx,
		`SELECT fields FROM documents WHERE collection = ? AND id = ?`,
		collection, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: select for update: %v", store.ErrUnavailable, err)
	}

	fields := make(map[string]any)
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return fmt.Errorf("unmarshal fields for %s/%s: %w", collection, id, err)
	}
	for k, v := range partial {
		fields[k] = v
	}
	merged, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal merged fields: %w", err)
	}

	_, err = q.ExecContext(ctx,
		`UPDATE documents SET fields = ? WHERE collection = ? AND id = ?`,
		string(merged), collection, id)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return fmt.Errorf("%w: update: %v", store.ErrUnavailable, err)
	}
	return nil
}

func findMany(ctx context.Context, q querier, collection string, filter store.Filter, orderBy *store.OrderBy, limit int) ([]store.Document, error) {
	query := `SELECT id, fields FROM documents WHERE collection = ?`
	args := []any{collection}

	for field, value := range filter {
		if field == store.FieldID {
			query += ` AND id = ?`
			args = append(args, value)
			continue
		}
		query += fmt.Sprintf(` AND json_extract(fields, '$.%s') = ?`, sanitizeField(field))
		args = append(args, bindValue(value))
	}
	if orderBy != nil {
		dir := "ASC"
		if orderBy.Desc {
			dir = "DESC"
		}
		query += fmt.Sprintf(` ORDER BY json_extract(fields, '$.%s') %s, id ASC`, sanitizeField(orderBy.Field), dir)
	} else {
		query += ` ORDER BY id ASC`
	}
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query %s: %v", store.ErrUnavailable, collection, err)
	}
	defer rows.Close()

	var docs []store.Document
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", store.ErrUnavailable, err)
		}
		fields := make(map[string]any)
		if err := json.Unmarshal([]byte(raw), &fields); err != nil {
			return nil, fmt.Errorf("unmarshal document %s/%s: %w", collection, id, err)
		}
		docs = append(docs, store.Document{ID: id, Fields: fields})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate: %v", store.ErrUnavailable, err)
	}
	return docs, nil
}

// bindValue maps Go filter values onto SQLite's JSON scalar representation:
// json_extract yields 0/1 for booleans.
func bindValue(v any) any {
	if b, ok := v.(bool); ok {
		if b {
			return 1
		}
		return 0
	}
	return v
}

// sanitizeField keeps filter field names to a safe identifier subset since
// they are interpolated into the json_extract path.
func sanitizeField(field string) string {
	var b strings.Builder
	for _, r := range field {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
