package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/DeBrosOfficial/dataspace/pkg/errors"
)

// leasedTable adds leasing to a table whose rows carry a state machine.
// A lease marks a row as being processed by one owner until it expires, so
// several state machine loops (or connector replicas on rqlite) never work
// on the same entity at once.
type leasedTable[T any] struct {
	table[T]
}

// IsLeased reports whether err means another owner holds the lease.
func IsLeased(err error) bool {
	return errors.Is(err, errors.ErrLeased)
}

func (t *leasedTable[T]) leasedError(id string) error {
	return errors.WithCode(errors.CodeConflict, fmt.Sprintf("%s %s is leased", t.entity, id), errors.ErrLeased)
}

// NextNotLeased leases up to max entities in one of the given states, oldest
// state timestamp first.
func (t *leasedTable[T]) NextNotLeased(ctx context.Context, owner string, max int, states ...int) ([]*T, error) {
	return t.NextNotLeasedBefore(ctx, owner, max, 0, states...)
}

// NextNotLeasedBefore is NextNotLeased restricted to entities whose state
// timestamp is older than before (unix millis). before <= 0 disables it.
func (t *leasedTable[T]) NextNotLeasedBefore(ctx context.Context, owner string, max int, before int64, states ...int) ([]*T, error) {
	now := t.s.nowMillis()
	where := []string{"(lease_owner IS NULL OR lease_expires < ?)"}
	args := []any{now}
	if len(states) > 0 {
		where = append(where, fmt.Sprintf("state IN (%s)", placeholders(len(states))))
		for _, st := range states {
			args = append(args, st)
		}
	}
	if before > 0 {
		where = append(where, "state_timestamp < ?")
		args = append(args, before)
	}
	args = append(args, max)
	q := fmt.Sprintf("SELECT id FROM %s WHERE %s ORDER BY state_timestamp, id LIMIT ?", t.name, strings.Join(where, " AND "))

	rows, err := t.s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, t.dbError("select unleased", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, t.dbError("scan", err)
		}
		ids = append(ids, id)
	}
	rows.Close()

	out := make([]*T, 0, len(ids))
	for _, id := range ids {
		v, err := t.FindByIDAndLease(ctx, id, owner)
		if IsLeased(err) || errors.IsNotFound(err) {
			// Taken by another owner between select and update.
			continue
		}
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}

// FindByIDAndLease leases one entity. The owner may renew its own lease.
func (t *leasedTable[T]) FindByIDAndLease(ctx context.Context, id, owner string) (*T, error) {
	now := t.s.nowMillis()
	res, err := t.s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET lease_owner = ?, lease_expires = ?
			WHERE id = ? AND (lease_owner IS NULL OR lease_owner = ? OR lease_expires < ?)`, t.name),
		owner, now+t.s.lease.Milliseconds(), id, owner, now)
	if err != nil {
		return nil, t.dbError("lease", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := t.FindByID(ctx, id); err != nil {
			return nil, err
		}
		return nil, t.leasedError(id)
	}
	return t.FindByID(ctx, id)
}

// FindByCorrelationID finds the entity a counter-party knows under its own id.
func (t *leasedTable[T]) FindByCorrelationID(ctx context.Context, correlationID string) (*T, error) {
	return t.findBy(ctx, "correlation_id", correlationID)
}

// Save writes v and releases the owner's lease. Entities that do not exist
// yet are inserted. Saving an entity leased by someone else fails.
func (t *leasedTable[T]) Save(ctx context.Context, v *T, owner string) error {
	id := t.id(v)
	doc, vals, err := t.encode(v)
	if err != nil {
		return err
	}
	sets := []string{"doc = ?"}
	for _, c := range t.columns {
		sets = append(sets, c+" = ?")
	}
	sets = append(sets, "lease_owner = NULL", "lease_expires = 0")
	q := fmt.Sprintf(`UPDATE %s SET %s
		WHERE id = ? AND (lease_owner IS NULL OR lease_owner = ? OR lease_expires < ?)`, t.name, strings.Join(sets, ", "))
	args := append(append([]any{doc}, vals...), id, owner, t.s.nowMillis())
	res, err := t.s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return t.dbError("save", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if _, err := t.FindByID(ctx, id); err == nil {
		return t.leasedError(id)
	} else if !errors.IsNotFound(err) {
		return err
	}
	return t.Create(ctx, v)
}

// Release drops the owner's lease without writing.
func (t *leasedTable[T]) Release(ctx context.Context, id, owner string) error {
	_, err := t.s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET lease_owner = NULL, lease_expires = 0 WHERE id = ? AND lease_owner = ?", t.name),
		id, owner)
	if err != nil {
		return t.dbError("release", err)
	}
	return nil
}
