package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/guillaumemeyer/maegashira/internal/domain"
)

func TestSinkKeepsRecordsInOrder(t *testing.T) {
	s := NewSink(10)
	for i := 0; i < 3; i++ {
		if err := s.Enqueue(context.Background(), domain.Transaction{ID: fmt.Sprintf("tx-%d", i)}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	txs := s.Transactions()
	if len(txs) != 3 || txs[0].ID != "tx-0" || txs[2].ID != "tx-2" {
		t.Fatalf("unexpected records: %+v", txs)
	}
}

func TestSinkEvictsOldest(t *testing.T) {
	s := NewSink(2)
	for i := 0; i < 3; i++ {
		_ = s.Enqueue(context.Background(), domain.Transaction{ID: fmt.Sprintf("tx-%d", i)})
	}
	txs := s.Transactions()
	if len(txs) != 2 || txs[0].ID != "tx-1" {
		t.Fatalf("oldest record must be evicted: %+v", txs)
	}
}
