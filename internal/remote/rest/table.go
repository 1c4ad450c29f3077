package rest

import (
	"context"
	"errors"
	"net/http"

	"github.com/supabase-community/postgrest-go"

	"spendly/internal/core"
	"spendly/internal/log"
	"spendly/internal/remote"
)

func dataErr(op string) func(error) error {
	return func(err error) error {
		return &core.RemoteDataError{Op: op, Message: dataFailure(err)}
	}
}

func filtered(q *postgrest.FilterBuilder, f remote.Filter) *postgrest.FilterBuilder {
	if f.Column != "" {
		q = q.Eq(f.Column, f.Value)
	}
	return q
}

// Select implements remote.ExpenseTable.
func (c *Client) Select(ctx context.Context, filter remote.Filter, order remote.Order) ([]core.ExpenseRecord, error) {
	token, err := c.tableToken(ctx, "select")
	if err != nil {
		return nil, err
	}

	q := filtered(c.table(token).From(remote.TableExpenses).Select("*", "", false), filter)
	if order.Column != "" {
		q = q.Order(order.Column, &postgrest.OrderOpts{Ascending: order.Ascending})
	}

	var rows []core.ExpenseRecord
	err = c.call(ctx, log.OpList, func() error {
		_, err := q.ExecuteTo(&rows)
		return err
	}, dataErr("select"))
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []core.ExpenseRecord{}
	}
	return rows, nil
}

// Insert implements remote.ExpenseTable and returns the stored row with its
// server-assigned id.
func (c *Client) Insert(ctx context.Context, row core.ExpenseRecord) (core.ExpenseRecord, error) {
	token, err := c.tableToken(ctx, "insert")
	if err != nil {
		return core.ExpenseRecord{}, err
	}
	row.ID = ""

	q := c.table(token).From(remote.TableExpenses).
		Insert([]core.ExpenseRecord{row}, false, "", "representation", "")

	var created []core.ExpenseRecord
	err = c.call(ctx, log.OpCreate, func() error {
		_, err := q.ExecuteTo(&created)
		return err
	}, dataErr("insert"))
	if err != nil {
		return core.ExpenseRecord{}, err
	}
	if len(created) == 0 {
		return core.ExpenseRecord{}, errors.New("insert returned no rows")
	}
	return created[0], nil
}

// Delete implements remote.ExpenseTable.
func (c *Client) Delete(ctx context.Context, filter remote.Filter) error {
	if filter.Column == "" {
		return &core.RemoteDataError{Op: "delete", Status: http.StatusBadRequest, Message: "DELETE requires a WHERE clause"}
	}
	token, err := c.tableToken(ctx, "delete")
	if err != nil {
		return err
	}

	q := filtered(c.table(token).From(remote.TableExpenses).Delete("minimal", ""), filter)
	return c.call(ctx, log.OpDelete, func() error {
		_, _, err := q.Execute()
		return err
	}, dataErr("delete"))
}

func (c *Client) tableToken(ctx context.Context, op string) (string, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		var ae *core.RemoteAuthError
		if errors.As(err, &ae) {
			return "", &core.RemoteDataError{Op: op, Status: ae.Status, Message: ae.Message}
		}
		return "", err
	}
	return token, nil
}
