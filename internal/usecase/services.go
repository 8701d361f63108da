package usecase

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/guillaumemeyer/maegashira/internal/domain"
)

// TransactionService records finalized transactions. The request path calls
// Record exactly once per request; sink failures are logged, never surfaced
// to the client.
type TransactionService struct {
	sink        TransactionSink
	broadcaster TransactionBroadcaster
	logger      *zerolog.Logger
}

func NewTransactionService(sink TransactionSink, broadcaster TransactionBroadcaster, logger *zerolog.Logger) *TransactionService {
	return &TransactionService{sink: sink, broadcaster: broadcaster, logger: logger}
}

func (s *TransactionService) Record(ctx context.Context, tx domain.Transaction) {
	if s.sink != nil {
		if err := s.sink.Enqueue(ctx, tx); err != nil {
			s.logger.Error().Err(err).Str("transaction", tx.ID).Msg("transaction enqueue failed")
		}
	}
	if s.broadcaster != nil {
		s.broadcaster.BroadcastTransaction(tx)
	}
}

func (s *TransactionService) Close() error {
	if s.sink == nil {
		return nil
	}
	return s.sink.Close()
}
