package memory

import (
	"context"
	"fmt"
	"sync"

	"spendly/internal/core"
	"spendly/internal/sheets"
)

// Store is an in-process mirror. Rows are kept in append order.
type Store struct {
	mu   sync.Mutex
	rows [][]string
	seq  int
}

var _ sheets.ExpenseMirror = (*Store)(nil)

func New() *Store {
	return &Store{}
}

// Append stores the row and returns a synthetic row reference.
func (s *Store) Append(_ context.Context, e core.ExpenseRecord) (string, error) {
	if e.ID == "" {
		return "", fmt.Errorf("append: missing id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, sheets.Row(e))
	s.seq++
	return fmt.Sprintf("mem:%d", s.seq), nil
}

// Delete removes every row whose first column is id.
func (s *Store) Delete(_ context.Context, id core.RecordID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.rows[:0]
	for _, r := range s.rows {
		if r[0] != id.String() {
			kept = append(kept, r)
		}
	}
	s.rows = kept
	return nil
}

// Rows returns a copy of the mirrored rows.
func (s *Store) Rows() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]string, len(s.rows))
	for i, r := range s.rows {
		out[i] = append([]string(nil), r...)
	}
	return out
}
