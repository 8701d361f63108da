package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/guillaumemeyer/maegashira/internal/domain"
)

// DefaultQueue is the Redis list transactions are pushed onto.
const DefaultQueue = "maegashira:transactions"

const defaultBuffer = 4096

// Options configures the Redis-backed transaction sink.
type Options struct {
	Host     string
	Port     int
	Password string
	Queue    string
	// Buffer bounds the in-process queue between the request path and the
	// Redis writer; 0 uses the default.
	Buffer int
}

// Sink is a durable post-transaction queue over a Redis list. Enqueue never
// blocks the request path: records land in a bounded buffer drained by a
// single writer goroutine that reconnects with exponential backoff.
type Sink struct {
	client  *redis.Client
	logger  *zerolog.Logger
	dropped prometheus.Counter
	queue   string

	ch   chan domain.Transaction
	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func NewSink(opts Options, logger *zerolog.Logger, dropped prometheus.Counter) *Sink {
	if opts.Queue == "" {
		opts.Queue = DefaultQueue
	}
	if opts.Buffer <= 0 {
		opts.Buffer = defaultBuffer
	}
	s := &Sink{
		client: redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", opts.Host, opts.Port),
			Password: opts.Password,
		}),
		logger:  logger,
		dropped: dropped,
		queue:   opts.Queue,
		ch:      make(chan domain.Transaction, opts.Buffer),
		done:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.drain()
	return s
}

// Enqueue hands the record to the writer. A full buffer drops the record and
// reports the loss; the caller never waits on Redis.
func (s *Sink) Enqueue(_ context.Context, tx domain.Transaction) error {
	select {
	case <-s.done:
		return fmt.Errorf("transaction sink closed, record %s dropped", tx.ID)
	default:
	}
	select {
	case s.ch <- tx:
		return nil
	default:
		if s.dropped != nil {
			s.dropped.Inc()
		}
		return fmt.Errorf("transaction sink buffer full, record %s dropped", tx.ID)
	}
}

// Close stops accepting records, flushes what is buffered and closes the
// client.
func (s *Sink) Close() error {
	s.once.Do(func() { close(s.done) })
	s.wg.Wait()
	return s.client.Close()
}

func (s *Sink) drain() {
	defer s.wg.Done()
	for {
		select {
		case tx := <-s.ch:
			s.push(tx)
		case <-s.done:
			for {
				select {
				case tx := <-s.ch:
					s.push(tx)
				default:
					return
				}
			}
		}
	}
}

// push delivers one record, retrying with backoff until Redis accepts it or
// the sink shuts down. At-least-once: a record is never abandoned mid-retry
// while the process runs.
func (s *Sink) push(tx domain.Transaction) {
	payload, err := json.Marshal(tx)
	if err != nil {
		s.logger.Error().Err(err).Str("transaction", tx.ID).Msg("transaction marshal failed")
		return
	}
	for attempt := 0; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := s.client.LPush(ctx, s.queue, payload).Err()
		cancel()
		if err == nil {
			return
		}
		delay := Backoff(attempt)
		s.logger.Warn().Err(err).Dur("retry_in", delay).Msg("transaction push failed, retrying")
		select {
		case <-time.After(delay):
		case <-s.done:
			s.logger.Error().Str("transaction", tx.ID).Msg("sink closed before record was delivered")
			return
		}
	}
}

// Backoff returns the reconnect delay for the given attempt:
// clamp(exp(attempt) ms, 1000 ms, 20000 ms).
func Backoff(attempt int) time.Duration {
	ms := math.Exp(float64(attempt))
	if ms < 1000 {
		ms = 1000
	}
	if ms > 20000 {
		ms = 20000
	}
	return time.Duration(ms) * time.Millisecond
}
