package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/DeBrosOfficial/dataspace/pkg/errors"
	"github.com/DeBrosOfficial/dataspace/pkg/model"
)

// table stores one entity type as JSON documents keyed by id.
type table[T any] struct {
	s       *SQLStore
	name    string
	entity  string
	id      func(*T) string
	columns []string
	values  func(*T) []any
	// document overrides the view used for query filters.
	document func(T) (map[string]any, error)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func (t *table[T]) dbError(op string, err error) error {
	return errors.WithCode(errors.CodeDatabaseError, fmt.Sprintf("%s %s", op, t.entity), err)
}

func (t *table[T]) encode(v *T) (string, []any, error) {
	doc, err := json.Marshal(v)
	if err != nil {
		return "", nil, errors.WithCode(errors.CodeSerializationError, "encode "+t.entity, err)
	}
	return string(doc), t.values(v), nil
}

func (t *table[T]) decode(doc string) (*T, error) {
	var v T
	if err := json.Unmarshal([]byte(doc), &v); err != nil {
		return nil, errors.WithCode(errors.CodeSerializationError, "decode "+t.entity, err)
	}
	return &v, nil
}

// Create inserts v and fails with a ConflictError if the id is taken.
func (t *table[T]) Create(ctx context.Context, v *T) error {
	id := t.id(v)
	if id == "" {
		return errors.NewValidationError("@id", "must not be empty", nil)
	}
	doc, vals, err := t.encode(v)
	if err != nil {
		return err
	}
	cols := append([]string{"id", "doc"}, t.columns...)
	q := fmt.Sprintf("INSERT INTO %s(%s) VALUES (%s)", t.name, strings.Join(cols, ", "), placeholders(len(cols)))
	if _, err := t.s.db.ExecContext(ctx, q, append([]any{id, doc}, vals...)...); err != nil {
		if isUniqueViolation(err) {
			return errors.NewConflictError(t.entity, "id", id)
		}
		return t.dbError("insert", err)
	}
	return nil
}

// Update replaces an existing entity.
func (t *table[T]) Update(ctx context.Context, v *T) error {
	id := t.id(v)
	doc, vals, err := t.encode(v)
	if err != nil {
		return err
	}
	sets := []string{"doc = ?"}
	for _, c := range t.columns {
		sets = append(sets, c+" = ?")
	}
	q := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", t.name, strings.Join(sets, ", "))
	args := append(append([]any{doc}, vals...), id)
	res, err := t.s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return t.dbError("update", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundError(t.entity, id)
	}
	return nil
}

// Upsert inserts v or replaces the stored entity with the same id.
func (t *table[T]) Upsert(ctx context.Context, v *T) error {
	id := t.id(v)
	if id == "" {
		return errors.NewValidationError("@id", "must not be empty", nil)
	}
	doc, vals, err := t.encode(v)
	if err != nil {
		return err
	}
	cols := append([]string{"id", "doc"}, t.columns...)
	sets := make([]string, 0, len(cols)-1)
	for _, c := range cols[1:] {
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
	}
	q := fmt.Sprintf("INSERT INTO %s(%s) VALUES (%s) ON CONFLICT(id) DO UPDATE SET %s",
		t.name, strings.Join(cols, ", "), placeholders(len(cols)), strings.Join(sets, ", "))
	if _, err := t.s.db.ExecContext(ctx, q, append([]any{id, doc}, vals...)...); err != nil {
		return t.dbError("upsert", err)
	}
	return nil
}

// FindByID loads one entity or returns a NotFoundError.
func (t *table[T]) FindByID(ctx context.Context, id string) (*T, error) {
	return t.findBy(ctx, "id", id)
}

func (t *table[T]) findBy(ctx context.Context, column string, value any) (*T, error) {
	var doc string
	q := fmt.Sprintf("SELECT doc FROM %s WHERE %s = ? LIMIT 1", t.name, column)
	err := t.s.db.QueryRowContext(ctx, q, value).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError(t.entity, fmt.Sprint(value))
	}
	if err != nil {
		return nil, t.dbError("find", err)
	}
	return t.decode(doc)
}

// Delete removes an entity by id.
func (t *table[T]) Delete(ctx context.Context, id string) error {
	res, err := t.s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", t.name), id)
	if err != nil {
		return t.dbError("delete", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundError(t.entity, id)
	}
	return nil
}

// All returns every stored entity in creation order.
func (t *table[T]) All(ctx context.Context) ([]T, error) {
	return t.list(ctx, "", nil)
}

func (t *table[T]) list(ctx context.Context, where string, args []any) ([]T, error) {
	q := fmt.Sprintf("SELECT doc FROM %s", t.name)
	if where != "" {
		q += " WHERE " + where
	}
	q += " ORDER BY created_at, id"
	rows, err := t.s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, t.dbError("list", err)
	}
	var docs []string
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			rows.Close()
			return nil, t.dbError("scan", err)
		}
		docs = append(docs, doc)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, t.dbError("list", err)
	}

	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		v, err := t.decode(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, nil
}

// Query filters, sorts and pages the stored entities.
func (t *table[T]) Query(ctx context.Context, q model.QuerySpec) ([]T, error) {
	all, err := t.All(ctx)
	if err != nil {
		return nil, err
	}
	var out []T
	if t.document != nil {
		out, err = model.ApplyQueryFunc(all, q, t.document)
	} else {
		out, err = model.ApplyQuery(all, q)
	}
	if err != nil {
		return nil, errors.NewValidationError("querySpec", err.Error(), nil)
	}
	return out, nil
}

func (t *table[T]) count(ctx context.Context, where string, args ...any) (int, error) {
	var n int
	q := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", t.name, where)
	if err := t.s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, t.dbError("count", err)
	}
	return n, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "constraint failed: unique")
}
