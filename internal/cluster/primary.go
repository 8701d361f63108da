package cluster

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/guillaumemeyer/maegashira/internal/adapters/discovery/docker"
	"github.com/guillaumemeyer/maegashira/internal/domain"
	"github.com/guillaumemeyer/maegashira/internal/infrastructure/config"
	"github.com/guillaumemeyer/maegashira/internal/infrastructure/mgmtapi"
	obs "github.com/guillaumemeyer/maegashira/internal/infrastructure/observability"
	"github.com/guillaumemeyer/maegashira/internal/middleware"
	"github.com/guillaumemeyer/maegashira/internal/proxy"
	"github.com/guillaumemeyer/maegashira/internal/routing"
	"github.com/guillaumemeyer/maegashira/internal/usecase"
	"github.com/guillaumemeyer/maegashira/pkg/shared/redact"
)

// Options wires the primary controller.
type Options struct {
	Cfg          config.Config
	Logger       *zerolog.Logger
	Metrics      *obs.Metrics
	Store        *routing.Store
	Registry     *middleware.Registry
	Transactions *usecase.TransactionService
	Monitor      *mgmtapi.MonitorHub
}

// Primary supervises the worker fleet, owns the authoritative routing table,
// drives discovery and runs the management API.
type Primary struct {
	opts   Options
	engine *proxy.Engine
}

func New(opts Options) *Primary {
	if opts.Registry == nil {
		opts.Registry = middleware.NewRegistry()
	}
	if opts.Monitor == nil {
		opts.Monitor = mgmtapi.NewMonitorHub()
	}
	engine := &proxy.Engine{
		Logger:         opts.Logger,
		Metrics:        opts.Metrics,
		Pipeline:       middleware.NewPipeline(opts.Registry, opts.Logger),
		Dispatcher:     proxy.NewDispatcher(opts.Logger, obs.UserAgent()),
		Transactions:   opts.Transactions,
		DefaultTimeout: opts.Cfg.Timeout,
		DebugHeaders:   strings.EqualFold(opts.Cfg.LogLevel, "debug"),
	}
	return &Primary{opts: opts, engine: engine}
}

// WorkerCount resolves the configured clustering value: 0 means one worker
// per CPU, anything larger than the CPU count is capped.
func WorkerCount(configured int) int {
	cpus := runtime.NumCPU()
	if configured <= 0 || configured > cpus {
		return cpus
	}
	return configured
}

// Run blocks until the context is cancelled: it verifies the listeners bind,
// starts the management API and discovery, forks the workers and supervises
// them. Failure to bind either listener is fatal.
func (p *Primary) Run(ctx context.Context) error {
	cfg := p.opts.Cfg
	logger := p.opts.Logger

	// Probe the public port up front so a bad address fails startup instead
	// of looping in the supervisor.
	probe, err := listen(ctx, cfg.Addr())
	if err != nil {
		return fmt.Errorf("public listener %s: %w", cfg.Addr(), err)
	}
	_ = probe.Close()

	var apiSrv *http.Server
	if cfg.API.Enabled {
		apiLn, err := net.Listen("tcp", cfg.APIAddr())
		if err != nil {
			return fmt.Errorf("management listener %s: %w", cfg.APIAddr(), err)
		}
		apiSrv = &http.Server{
			Handler: mgmtapi.NewRouter(&mgmtapi.Deps{
				Cfg:     cfg,
				Logger:  logger,
				Metrics: p.opts.Metrics,
				Store:   p.opts.Store,
				Monitor: p.opts.Monitor,
			}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := apiSrv.Serve(apiLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("management api server error")
			}
		}()
		logger.Info().Str("addr", cfg.APIAddr()).Str("key", redact.Key(cfg.API.Key)).Msg("management api listening")
	}

	if cfg.Discovery.Strategy == "docker" {
		poller := docker.NewPoller(docker.Options{
			SocketPath:      cfg.Discovery.SocketPath,
			RefreshInterval: cfg.Discovery.RefreshInterval,
		}, logger, p.opts.Store.Set)
		go poller.Run(ctx)
		logger.Info().Dur("refresh", cfg.Discovery.RefreshInterval).Msg("docker discovery started")
	}

	count := WorkerCount(cfg.Clustering)
	logger.Info().Int("workers", count).Str("addr", cfg.Addr()).Msg("starting worker fleet")

	// Workers run on their own context so they keep serving until the
	// management API has stopped.
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	var wg sync.WaitGroup
	for i := 0; i < count; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.supervise(workerCtx, id)
		}(i)
	}

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	// Shutdown order: management API first, then drain the workers.
	if apiSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		_ = apiSrv.Shutdown(shutdownCtx)
		cancel()
	}
	stopWorkers()
	wg.Wait()
	return nil
}

// supervise runs one worker slot, restarting on abnormal exit. Every
// (re)start subscribes the worker before serving, and the current table is
// re-broadcast so a worker joining mid-update cannot serve stale routes.
func (p *Primary) supervise(ctx context.Context, id int) {
	for {
		w := newWorker(id, p.opts.Cfg.Addr(), p.opts.Cfg.ShutdownGrace, p.opts.Logger, p.engine)
		updates := p.opts.Store.Subscribe()
		err := p.runWorker(ctx, w, updates)
		p.opts.Store.Unsubscribe(updates)
		if ctx.Err() != nil {
			return
		}
		p.opts.Metrics.WorkerRestarts.Inc()
		p.opts.Logger.Error().Err(err).Int("worker", id).Msg("worker exited, restarting")
		p.opts.Store.Rebroadcast()
		select {
		case <-time.After(500 * time.Millisecond):
		case <-ctx.Done():
			return
		}
	}
}

func (p *Primary) runWorker(ctx context.Context, w *Worker, updates <-chan domain.RoutingTable) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panic: %v", r)
		}
	}()
	return w.run(ctx, updates)
}
