package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/telhawk-systems/telhawk-devicebridge/internal/artifact"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/changefeed"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/cleanup"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/config"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/dispatch"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/dlq"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/handlers"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/ingestion"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/logging"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/messaging"
	natsclient "github.com/telhawk-systems/telhawk-devicebridge/internal/messaging/nats"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/normalizer"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/pipeline"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/secrets"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/server"
	"github.com/telhawk-systems/telhawk-devicebridge/internal/sink"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge: watch sources, dispatch envelopes, relay telemetry",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "override listen address")
	rootCmd.AddCommand(serveCmd)
}

func natsConfig(cfg *config.Config, logger *logging.Logger) natsclient.Config {
	nc := natsclient.DefaultConfig()
	nc.URL = cfg.NATS.URL
	nc.Name = cfg.NATS.Name
	nc.MaxReconnects = cfg.NATS.MaxReconnects
	nc.ReconnectWait = cfg.NATS.ReconnectWait
	nc.Logger = logger
	return nc
}

func newDispatcher(cfg *config.Config, logger *logging.Logger) *dispatch.Dispatcher {
	return dispatch.New(dispatch.Config{
		SubjectPrefix: cfg.Dispatch.SubjectPrefix,
		Timeout:       cfg.Dispatch.Timeout,
	}, dispatch.NATSConnector(natsConfig(cfg, logger)), logger)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	js, err := natsclient.NewJetStreamClient(natsConfig(cfg, logger))
	if err != nil {
		return err
	}
	defer js.Close()

	dispatcher := newDispatcher(cfg, logger)
	defer dispatcher.Close()

	var dead dlq.Queue
	if cfg.DLQ.Enabled {
		if _, err := js.CreateOrUpdateStream(ctx, natsclient.DLQStreamConfig(cfg.DLQ.Stream, cfg.DLQ.MaxAge)); err != nil {
			return fmt.Errorf("create dlq stream: %w", err)
		}
		queue, err := dlq.NewJetStreamQueue(js, cfg.DLQ.Stream, logger)
		if err != nil {
			return err
		}
		dead = queue
		logger.Info("DLQ enabled", "stream", cfg.DLQ.Stream)
	} else {
		logger.Info("DLQ disabled")
	}

	var (
		store   artifact.Store
		cleaner pipeline.Cleaner
	)
	if cfg.Artifacts.Enabled {
		bucket, err := js.ObjectStore(ctx, cfg.Artifacts.Bucket)
		if err != nil {
			return err
		}
		store = artifact.NewObjectStore(bucket)
		cleaner = cleanup.NewCoordinator(store, logger)
	}

	registry := normalizer.Default(cfg.Dispatch.EnvelopeKey)
	pipe := pipeline.New(registry, dispatcher, cleaner, dead, pipeline.Target{
		DeviceID: cfg.Dispatch.DeviceID,
		Method:   cfg.Dispatch.Method,
		Timeout:  cfg.Dispatch.Timeout,
	}, logger)
	processor := pipeline.NewProcessor(pipe)

	g, gctx := errgroup.WithContext(ctx)

	if store != nil {
		watcher := ingestion.NewArtifactWatcher(store, processor, cfg.Ingestion.Workers, logger)
		g.Go(func() error { return watcher.Run(gctx) })
	}

	if cfg.ChangeFeed.Enabled {
		repo, err := changefeed.NewPostgresRepository(ctx, cfg.Database.DSN())
		if err != nil {
			return err
		}
		defer repo.Close()

		feed := changefeed.NewFeed(changefeed.Config{
			Name:         cfg.ChangeFeed.Name,
			BatchSize:    cfg.ChangeFeed.BatchSize,
			PollInterval: cfg.ChangeFeed.PollInterval,
			LeaseTTL:     cfg.ChangeFeed.LeaseTTL,
		}, repo, ingestion.ChangeFeedHandler(processor, logger), logger)
		g.Go(func() error { return feed.Run(gctx) })
	}

	relay, err := newRelay(ctx, cfg, js, logger)
	if err != nil {
		return err
	}
	if relay != nil {
		if err := relay.Start(); err != nil {
			return err
		}
		defer relay.Stop()
	}

	listenAddr := fmt.Sprintf(":%d", cfg.Server.Port)
	if serveAddr != "" {
		listenAddr = serveAddr
	}
	srv := &http.Server{
		Addr:         listenAddr,
		Handler:      server.NewRouter(handlers.NewBridgeHandler(processor, js, dead, registry)),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g.Go(func() error {
		logger.Info("devicebridge listening", "addr", listenAddr,
			logging.DeviceID(cfg.Dispatch.DeviceID), logging.Method(cfg.Dispatch.Method))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// newRelay builds the inbound relay, or returns nil when neither the sink nor
// key mixing is enabled.
func newRelay(ctx context.Context, cfg *config.Config, client messaging.Client, logger *logging.Logger) (*ingestion.Relay, error) {
	var (
		s    *sink.Sink
		keys messaging.MessageHandler
	)

	if cfg.Sink.Enabled {
		osClient, err := sink.NewOpenSearchClient(cfg.OpenSearch)
		if err != nil {
			return nil, err
		}
		store := sink.NewOpenSearchStore(osClient)
		if err := store.Ping(ctx); err != nil {
			return nil, fmt.Errorf("opensearch unavailable: %w", err)
		}
		s = sink.New(sink.Config{DatabaseID: cfg.Sink.DatabaseID, TopicField: cfg.Sink.TopicField}, store, logger)
	}

	if cfg.Relay.Enabled {
		rdb, err := secrets.NewRedisClient(ctx, cfg.Redis.URL, logger)
		if err != nil {
			return nil, err
		}
		keys = secrets.NewMixer(secrets.NewRedisStore(rdb, cfg.Secrets.KeyPrefix), logger).Handle
	}

	if s == nil && keys == nil {
		return nil, nil
	}
	return ingestion.NewRelay(ingestion.RelayConfig{
		SinkSubject: cfg.Sink.Subject,
		SinkQueue:   cfg.Sink.QueueGroup,
		KeysSubject: cfg.Relay.KeysSubject,
		KeysQueue:   cfg.Relay.QueueGroup,
	}, client, s, keys, logger), nil
}
