package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/core"
	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/sheets"
)

var _ sheets.Mirror = (*Store)(nil)

// Store is an in-process spreadsheet mirror used by the memory backend and
// in tests.
type Store struct {
	mu    sync.Mutex
	rows  []core.LedgerEntry
	index map[int64]int
}

func New() *Store {
	return &Store{index: make(map[int64]int)}
}

// AppendEntry stores the entry and returns a synthetic row reference.
// Appending an already mirrored entry returns its existing row.
func (s *Store) AppendEntry(_ context.Context, e core.LedgerEntry) (string, error) {
	if e.ID <= 0 {
		return "", fmt.Errorf("append entry: missing id")
	}
	if err := e.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.index[e.ID]; ok {
		return fmt.Sprintf("mem:%d", row+1), nil
	}
	s.rows = append(s.rows, e)
	s.index[e.ID] = len(s.rows) - 1
	return fmt.Sprintf("mem:%d", len(s.rows)), nil
}

func (s *Store) DeleteEntry(_ context.Context, entryID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.index[entryID]
	if !ok {
		return nil
	}
	s.rows = append(s.rows[:row], s.rows[row+1:]...)
	delete(s.index, entryID)
	for id, r := range s.index {
		if r > row {
			s.index[id] = r - 1
		}
	}
	return nil
}

// Entries returns a copy of the mirrored rows in append order.
func (s *Store) Entries() []core.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.LedgerEntry(nil), s.rows...)
}
