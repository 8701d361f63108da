package routing

import (
	"context"
	"net"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/guillaumemeyer/maegashira/internal/domain"
)

// Store owns the authoritative routing-table snapshot. Readers load the
// current snapshot wait-free; writers validate, swap wholesale and notify
// subscribers. A reader sees either the old table or the new one, never a
// partially applied state.
type Store struct {
	logger   *zerolog.Logger
	snapshot atomic.Pointer[domain.RoutingTable]

	mu   sync.Mutex
	subs map[chan domain.RoutingTable]struct{}

	// lookupHost is swappable for tests; defaults to net.DefaultResolver.
	lookupHost func(ctx context.Context, host string) ([]string, error)
}

func NewStore(logger *zerolog.Logger) *Store {
	s := &Store{
		logger: logger,
		subs:   make(map[chan domain.RoutingTable]struct{}),
		lookupHost: func(ctx context.Context, host string) ([]string, error) {
			return net.DefaultResolver.LookupHost(ctx, host)
		},
	}
	empty := domain.RoutingTable{}
	s.snapshot.Store(&empty)
	return s
}

// Get returns the current snapshot, an empty table if Set never succeeded.
func (s *Store) Get() domain.RoutingTable {
	return *s.snapshot.Load()
}

// Set validates the candidate, installs it atomically, notifies every
// subscriber and warms the resolver cache for the forward hosts. An invalid
// candidate leaves the current snapshot untouched.
func (s *Store) Set(candidate domain.RoutingTable) error {
	if errs := Validate(candidate); len(errs) > 0 {
		return domain.Wrap(domain.KindInvalidRoutingTable, "candidate table rejected", &ValidationError{Errors: errs})
	}

	table := normalize(candidate)
	s.snapshot.Store(&table)

	s.mu.Lock()
	for ch := range s.subs {
		// Coalesce: a slow subscriber only needs the latest snapshot.
		select {
		case ch <- table:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- table
		}
	}
	s.mu.Unlock()

	s.logger.Info().Int("routes", len(table)).Msg("routing table updated")
	go s.prefetchDNS(table)
	return nil
}

// Rebroadcast resends the current snapshot to every subscriber. The primary
// uses it after a worker restart so a worker that joined mid-update cannot
// miss the latest table.
func (s *Store) Rebroadcast() {
	table := s.Get()
	s.mu.Lock()
	for ch := range s.subs {
		select {
		case ch <- table:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- table
		}
	}
	s.mu.Unlock()
}

// Subscribe registers a channel receiving installed snapshots, starting with
// the current one. The channel holds up to 4 snapshots; when it is full, Set
// discards the oldest queued one, so the latest is always delivered. The
// initial snapshot is queued under the same lock
// that serializes broadcasts, so a subscriber can never observe updates out
// of order. Callers must Unsubscribe when done.
func (s *Store) Subscribe() chan domain.RoutingTable {
	ch := make(chan domain.RoutingTable, 4)
	s.mu.Lock()
	ch <- s.Get()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	return ch
}

func (s *Store) Unsubscribe(ch chan domain.RoutingTable) {
	s.mu.Lock()
	if _, ok := s.subs[ch]; ok {
		delete(s.subs, ch)
		close(ch)
	}
	s.mu.Unlock()
}

// normalize deep-copies the candidate so later caller mutations cannot leak
// into the installed snapshot, lowercasing hostnames on the way.
func normalize(candidate domain.RoutingTable) domain.RoutingTable {
	table := make(domain.RoutingTable, len(candidate))
	copy(table, candidate)
	for i := range table {
		table[i].Hostname = strings.ToLower(strings.TrimSpace(table[i].Hostname))
		targets := make([]domain.Target, len(candidate[i].Targets))
		copy(targets, candidate[i].Targets)
		table[i].Targets = targets
	}
	return table
}

// prefetchDNS warms the host resolver for the unique forward hosts of the
// table. Failure is non-fatal.
func (s *Store) prefetchDNS(table domain.RoutingTable) {
	hosts := map[string]struct{}{}
	for _, route := range table {
		for _, target := range route.Targets {
			if target.Type != domain.TargetForward {
				continue
			}
			if u, err := url.Parse(target.URL); err == nil && u.Hostname() != "" {
				hosts[u.Hostname()] = struct{}{}
			}
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for host := range hosts {
		if _, err := s.lookupHost(ctx, host); err != nil {
			s.logger.Warn().Err(err).Str("host", host).Msg("dns prefetch failed")
		}
	}
}
