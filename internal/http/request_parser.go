package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"spendly/internal/core"
	"spendly/internal/remote"
)

// Request body limits. Profile photos travel as data URIs in user metadata.
const (
	maxAuthBody  = 4 << 20
	maxTableBody = 1 << 20
)

// queryError is a malformed table query.
type queryError struct {
	msg string
}

func (e *queryError) Error() string { return e.msg }

// tableQuery is the parsed form of ?select=*&col=eq.v&order=col.dir.
type tableQuery struct {
	Filter remote.Filter
	Order  remote.Order
}

// reserved query parameters that are not column filters
var reservedParams = map[string]bool{"select": true, "order": true, "apikey": true}

// parseTableQuery accepts select=*, a single eq filter and a single order
// column, which is all the client sends.
func parseTableQuery(q url.Values) (tableQuery, error) {
	var tq tableQuery

	if sel := q.Get("select"); sel != "" && sel != "*" {
		return tq, &queryError{msg: fmt.Sprintf("unsupported select %q: only * is supported", sel)}
	}

	for key, values := range q {
		if reservedParams[key] {
			continue
		}
		if tq.Filter.Column != "" || len(values) > 1 {
			return tq, &queryError{msg: "only one filter is supported"}
		}
		value, ok := strings.CutPrefix(values[0], "eq.")
		if !ok {
			return tq, &queryError{msg: fmt.Sprintf("failed to parse filter (%s): only eq is supported", values[0])}
		}
		tq.Filter = remote.Eq(key, value)
	}

	if order := q.Get("order"); order != "" {
		o, err := parseOrder(order)
		if err != nil {
			return tq, err
		}
		tq.Order = o
	}
	return tq, nil
}

func parseOrder(s string) (remote.Order, error) {
	if strings.Contains(s, ",") {
		return remote.Order{}, &queryError{msg: "only one order column is supported"}
	}
	parts := strings.Split(s, ".")
	o := remote.Order{Column: parts[0], Ascending: true}
	for _, mod := range parts[1:] {
		switch mod {
		case "asc":
			o.Ascending = true
		case "desc":
			o.Ascending = false
		case "nullsfirst", "nullslast":
		default:
			return remote.Order{}, &queryError{msg: fmt.Sprintf("failed to parse order (%s)", s)}
		}
	}
	if o.Column == "" {
		return remote.Order{}, &queryError{msg: fmt.Sprintf("failed to parse order (%s)", s)}
	}
	return o, nil
}

// wantsRepresentation reports whether Prefer asks for the affected rows.
func wantsRepresentation(h http.Header) bool {
	for _, v := range h.Values("Prefer") {
		for _, p := range strings.Split(v, ",") {
			if strings.TrimSpace(p) == "return=representation" {
				return true
			}
		}
	}
	return false
}

// bearerToken returns the token of an "Authorization: Bearer" header.
func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// apiKey returns the project key from the header or the query string.
func apiKey(r *http.Request) string {
	if k := r.Header.Get("apikey"); k != "" {
		return k
	}
	return r.URL.Query().Get("apikey")
}

var errEmptyBody = errors.New("empty body")

// readBody reads at most limit bytes of the request body.
func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		return nil, err
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errEmptyBody
	}
	return body, nil
}

// decodeJSON decodes a single JSON object body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	body, err := readBody(w, r, limit)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

// decodeRows accepts either one row object or an array of rows.
func decodeRows(w http.ResponseWriter, r *http.Request) ([]core.ExpenseRecord, error) {
	body, err := readBody(w, r, maxTableBody)
	if err != nil {
		return nil, err
	}
	if body[0] == '[' {
		var rows []core.ExpenseRecord
		if err := json.Unmarshal(body, &rows); err != nil {
			return nil, err
		}
		return rows, nil
	}
	var row core.ExpenseRecord
	if err := json.Unmarshal(body, &row); err != nil {
		return nil, err
	}
	return []core.ExpenseRecord{row}, nil
}
