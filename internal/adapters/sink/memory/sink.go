package memory

import (
	"context"
	"sync"

	"github.com/guillaumemeyer/maegashira/internal/domain"
)

// Sink keeps the most recent transactions in memory. Used when no Redis is
// configured (library embedding, tests); oldest records are evicted once the
// bound is reached.
type Sink struct {
	mu      sync.Mutex
	records []domain.Transaction
	max     int
}

func NewSink(max int) *Sink {
	if max <= 0 {
		max = 1000
	}
	return &Sink{records: make([]domain.Transaction, 0, max), max: max}
}

func (s *Sink) Enqueue(_ context.Context, tx domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.records) >= s.max {
		s.records = s.records[1:]
	}
	s.records = append(s.records, tx)
	return nil
}

func (s *Sink) Close() error { return nil }

// Transactions returns a copy of the retained records, oldest first.
func (s *Sink) Transactions() []domain.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Transaction, len(s.records))
	copy(out, s.records)
	return out
}
