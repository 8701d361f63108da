package usecase

import (
	"context"

	"github.com/guillaumemeyer/maegashira/internal/domain"
)

// TransactionSink is the post-transaction contract: one record enqueued per
// request, at-least-once. Implementations must be safe for concurrent use by
// every in-flight request of a worker.
type TransactionSink interface {
	Enqueue(ctx context.Context, tx domain.Transaction) error
	Close() error
}

// TransactionBroadcaster receives finalized transactions for live observers
// (the management monitor). Delivery is best-effort and must never block.
type TransactionBroadcaster interface {
	BroadcastTransaction(tx domain.Transaction)
}
