package cluster

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/guillaumemeyer/maegashira/internal/domain"
	"github.com/guillaumemeyer/maegashira/internal/proxy"
)

// Worker hosts one public listener. It keeps its own routing-table snapshot,
// applied in the order the primary broadcasts, so in-flight requests complete
// against whichever snapshot they captured at resolve time.
type Worker struct {
	id     int
	addr   string
	grace  time.Duration
	logger zerolog.Logger
	engine *proxy.Engine
	table  atomic.Pointer[domain.RoutingTable]
}

func newWorker(id int, addr string, grace time.Duration, logger *zerolog.Logger, engine *proxy.Engine) *Worker {
	w := &Worker{
		id:     id,
		addr:   addr,
		grace:  grace,
		logger: logger.With().Int("worker", id).Logger(),
	}
	empty := domain.RoutingTable{}
	w.table.Store(&empty)
	// The engine resolves against this worker's local copy.
	e := *engine
	e.Snapshot = w.Snapshot
	w.engine = &e
	return w
}

// Snapshot returns the worker's current routing table.
func (w *Worker) Snapshot() domain.RoutingTable {
	return *w.table.Load()
}

// Apply installs a new snapshot. Wait-free for readers.
func (w *Worker) Apply(table domain.RoutingTable) {
	w.table.Store(&table)
	w.logger.Debug().Int("routes", len(table)).Msg("routing table applied")
}

// run binds the shared port and serves until the context is cancelled,
// consuming table updates as they arrive. On shutdown the listener closes
// first, then in-flight requests drain for the grace period.
func (w *Worker) run(ctx context.Context, updates <-chan domain.RoutingTable) error {
	ln, err := listen(ctx, w.addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           w.engine,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		for {
			select {
			case table, ok := <-updates:
				if !ok {
					return
				}
				w.Apply(table)
			case <-ctx.Done():
				return
			}
		}
	}()

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	w.logger.Info().Str("addr", w.addr).Msg("worker listening")

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), w.grace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			w.logger.Warn().Err(err).Msg("drain grace expired, forcing close")
			_ = srv.Close()
		}
		return nil
	}
}
