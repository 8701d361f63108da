package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/guillaumemeyer/maegashira/internal/adapters/sink/memory"
	redissink "github.com/guillaumemeyer/maegashira/internal/adapters/sink/redis"
	"github.com/guillaumemeyer/maegashira/internal/cluster"
	"github.com/guillaumemeyer/maegashira/internal/infrastructure/config"
	"github.com/guillaumemeyer/maegashira/internal/infrastructure/mgmtapi"
	obs "github.com/guillaumemeyer/maegashira/internal/infrastructure/observability"
	"github.com/guillaumemeyer/maegashira/internal/routing"
	"github.com/guillaumemeyer/maegashira/internal/usecase"
)

func newStartCommand() *cobra.Command {
	var flags struct {
		hostname      string
		port          int
		file          string
		clustering    int
		redisHost     string
		redisPort     int
		redisPassword string
		apiEnabled    bool
		apiHostname   string
		apiPort       int
		apiKey        string
	}

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the proxy cluster",
		RunE: func(cmd *cobra.Command, args []string) error {
			// .env is a convenience for local runs; absence is not an error.
			_ = godotenv.Load()
			cfg := config.FromEnv()

			// Flags set explicitly override the environment.
			set := cmd.Flags().Changed
			if set("hostname") {
				cfg.Hostname = flags.hostname
			}
			if set("port") {
				cfg.Port = flags.port
			}
			if set("file") {
				cfg.File = flags.file
			}
			if set("clustering") {
				cfg.Clustering = flags.clustering
			}
			if set("redis-host") {
				cfg.Redis.Host = flags.redisHost
			}
			if set("redis-port") {
				cfg.Redis.Port = flags.redisPort
			}
			if set("redis-password") {
				cfg.Redis.Password = flags.redisPassword
			}
			if set("api-enabled") {
				cfg.API.Enabled = flags.apiEnabled
			}
			if set("api-hostname") {
				cfg.API.Hostname = flags.apiHostname
			}
			if set("api-port") {
				cfg.API.Port = flags.apiPort
			}
			if set("api-key") {
				cfg.API.Key = flags.apiKey
			}

			return runStart(cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.hostname, "hostname", "0.0.0.0", "public listener hostname")
	f.IntVar(&flags.port, "port", 8080, "public listener port")
	f.StringVar(&flags.file, "file", "", "initial routing table file (JSON)")
	f.IntVar(&flags.clustering, "clustering", 0, "worker count (0 = one per CPU)")
	f.StringVar(&flags.redisHost, "redis-host", "", "redis host for the transaction sink")
	f.IntVar(&flags.redisPort, "redis-port", 6379, "redis port")
	f.StringVar(&flags.redisPassword, "redis-password", "", "redis password")
	f.BoolVar(&flags.apiEnabled, "api-enabled", true, "enable the management API")
	f.StringVar(&flags.apiHostname, "api-hostname", "0.0.0.0", "management API hostname")
	f.IntVar(&flags.apiPort, "api-port", 8081, "management API port")
	f.StringVar(&flags.apiKey, "api-key", "", "management API bearer key")
	return cmd
}

func runStart(cfg config.Config) error {
	logger := obs.NewLogger(cfg.LogLevel)
	logger.Info().
		Str("version", obs.Version).
		Str("addr", cfg.Addr()).
		Msg("starting maegashira")

	metrics := obs.NewMetrics()
	store := routing.NewStore(logger)

	if cfg.File != "" {
		raw, err := os.ReadFile(cfg.File)
		if err != nil {
			return fmt.Errorf("routing table file: %w", err)
		}
		table, err := routing.DecodeBytes(raw)
		if err != nil {
			return err
		}
		if err := store.Set(table); err != nil {
			return err
		}
		logger.Info().Int("routes", len(table)).Str("file", cfg.File).Msg("initial routing table loaded")
	}

	var sink usecase.TransactionSink
	if cfg.Redis.Host != "" {
		sink = redissink.NewSink(redissink.Options{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
		}, logger, metrics.SinkDropped)
		logger.Info().Str("addr", cfg.Redis.Addr()).Msg("redis transaction sink enabled")
	} else {
		sink = memory.NewSink(0)
		logger.Warn().Msg("no redis configured, transactions stay in memory")
	}

	monitor := mgmtapi.NewMonitorHub()
	transactions := usecase.NewTransactionService(sink, monitor, logger)

	primary := cluster.New(cluster.Options{
		Cfg:          cfg,
		Logger:       logger,
		Metrics:      metrics,
		Store:        store,
		Transactions: transactions,
		Monitor:      monitor,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := primary.Run(ctx); err != nil {
		return err
	}
	if err := transactions.Close(); err != nil {
		logger.Error().Err(err).Msg("transaction sink close failed")
	}
	logger.Info().Msg("maegashira stopped")
	return nil
}
