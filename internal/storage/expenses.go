package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"spendly/internal/core"
	"spendly/internal/remote"
)

// UnknownColumnError is returned for filters or orders on a column the
// expenses table does not have.
type UnknownColumnError struct {
	Column string
}

func (e *UnknownColumnError) Error() string {
	return fmt.Sprintf("column expenses.%s does not exist", e.Column)
}

// Columns usable in filters and orders. Values are SQL identifiers.
var expenseColumns = map[string]string{
	remote.ColumnID:        "id",
	remote.ColumnUserID:    "user_id",
	"name":                 "name",
	"amount":               "CAST(amount AS REAL)",
	"category":             "category",
	remote.ColumnCreatedAt: "created_at",
}

func column(name string) (string, error) {
	c, ok := expenseColumns[name]
	if !ok {
		return "", &UnknownColumnError{Column: name}
	}
	return c, nil
}

const expenseSelect = `SELECT id, user_id, name, amount, category, created_at FROM expenses`

func scanExpense(row rowScanner) (core.ExpenseRecord, error) {
	var (
		e       core.ExpenseRecord
		id      int64
		amount  string
		created string
	)
	if err := row.Scan(&id, &e.OwnerID, &e.Name, &amount, &e.Category, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.ExpenseRecord{}, ErrNotFound
		}
		return core.ExpenseRecord{}, err
	}
	e.ID = core.RecordID(strconv.FormatInt(id, 10))
	m, err := core.ParseAmount(amount)
	if err != nil {
		return core.ExpenseRecord{}, fmt.Errorf("expense %d: amount %q: %w", id, amount, err)
	}
	e.Amount = m
	if e.CreatedAt, err = parseTime(created); err != nil {
		return core.ExpenseRecord{}, fmt.Errorf("expense %d: %w", id, err)
	}
	return e, nil
}

// where builds the row filter: always scoped to owner, plus the optional
// equality filter.
func where(owner string, f remote.Filter) (string, []any, error) {
	clause := ` WHERE user_id = ?`
	args := []any{owner}
	if f.Column == "" {
		return clause, args, nil
	}
	col, err := column(f.Column)
	if err != nil {
		return "", nil, err
	}
	if f.Column == "amount" {
		col = "amount"
	}
	return clause + ` AND ` + col + ` = ?`, append(args, f.Value), nil
}

// InsertExpense stores e and returns it with the assigned id.
func (r *SQLiteRepository) InsertExpense(ctx context.Context, e core.ExpenseRecord) (core.ExpenseRecord, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO expenses (user_id, name, amount, category, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.OwnerID, e.Name, e.Amount.String(), string(e.Category), formatTime(e.CreatedAt))
	if err != nil {
		return core.ExpenseRecord{}, fmt.Errorf("insert expense: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.ExpenseRecord{}, fmt.Errorf("insert expense: %w", err)
	}
	e.ID = core.RecordID(strconv.FormatInt(id, 10))
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}

// SelectExpenses returns owner's rows matching f, sorted by o.
func (r *SQLiteRepository) SelectExpenses(ctx context.Context, owner string, f remote.Filter, o remote.Order) ([]core.ExpenseRecord, error) {
	clause, args, err := where(owner, f)
	if err != nil {
		return nil, err
	}
	query := expenseSelect + clause
	if o.Column != "" {
		col, err := column(o.Column)
		if err != nil {
			return nil, err
		}
		dir := "DESC"
		if o.Ascending {
			dir = "ASC"
		}
		query += ` ORDER BY ` + col + ` ` + dir + `, id ` + dir
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select expenses: %w", err)
	}
	defer rows.Close()

	out := []core.ExpenseRecord{}
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select expenses: %w", err)
	}
	return out, nil
}

// DeleteExpenses removes owner's rows matching f and returns their ids.
func (r *SQLiteRepository) DeleteExpenses(ctx context.Context, owner string, f remote.Filter) ([]core.RecordID, error) {
	clause, args, err := where(owner, f)
	if err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT id FROM expenses`+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("find expenses: %w", err)
	}
	var ids []core.RecordID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, core.RecordID(strconv.FormatInt(id, 10)))
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find expenses: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM expenses`+clause, args...); err != nil {
		return nil, fmt.Errorf("delete expenses: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return ids, nil
}

// GetExpense loads a row by id regardless of owner.
func (r *SQLiteRepository) GetExpense(ctx context.Context, id core.RecordID) (core.ExpenseRecord, error) {
	n, ok := id.Int64()
	if !ok {
		return core.ExpenseRecord{}, ErrNotFound
	}
	e, err := scanExpense(r.db.QueryRowContext(ctx, expenseSelect+` WHERE id = ?`, n))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return core.ExpenseRecord{}, fmt.Errorf("get expense: %w", err)
	}
	return e, err
}
