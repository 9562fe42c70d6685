package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/spf13/cobra"

	"github.com/punchamoorthee/paycore/internal/api"
	"github.com/punchamoorthee/paycore/internal/config"
	"github.com/punchamoorthee/paycore/internal/events"
	"github.com/punchamoorthee/paycore/internal/queue"
	"github.com/punchamoorthee/paycore/internal/service"
)

const shutdownTimeout = 15 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, webhook workers and the stale-attempt sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	cfg, log := a.cfg, a.log

	var producer sarama.SyncProducer
	if cfg.QueueBackend == config.QueueKafka || (cfg.Kafka.EventsTopic != "" && len(cfg.Kafka.Brokers) > 0) {
		producer, err = queue.NewSyncProducer(cfg.Kafka.Brokers)
		if err != nil {
			return err
		}
		defer producer.Close()
	}

	deps := a.deps()
	if producer != nil && cfg.Kafka.EventsTopic != "" {
		deps.Events = events.NewKafkaPublisher(producer, cfg.Kafka.EventsTopic)
	}

	webhooks := service.NewWebhooks(deps, nil)

	// Background work stops with workCtx, after the HTTP server has drained.
	workCtx, cancelWork := context.WithCancel(context.Background())
	defer cancelWork()

	var dispatcher queue.Dispatcher
	switch cfg.QueueBackend {
	case config.QueueKafka:
		consumer, err := queue.NewKafkaConsumer(cfg.Kafka.Brokers, cfg.Kafka.Group, cfg.Kafka.Topic, log)
		if err != nil {
			return err
		}
		defer consumer.Close()
		go func() {
			if err := consumer.Run(workCtx, webhooks.Process); err != nil {
				log.Error("webhook consumer stopped", "error", err)
			}
		}()
		dispatcher = queue.NewKafkaDispatcher(producer, cfg.Kafka.Topic)
	default:
		pool := queue.NewPool(cfg.Workers, cfg.QueueDepth, log)
		pool.Start(workCtx, webhooks.Process)
		defer pool.Stop()
		dispatcher = pool
	}
	webhooks.SetDispatcher(dispatcher)

	sweeper := service.NewSweeper(deps, a.sweeperConfig(), dispatcher)
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		sweeper.Run(workCtx)
	}()

	handler := api.NewHandler(
		service.NewPayments(deps),
		service.NewAuthorizer(deps),
		webhooks,
		log,
	)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(handler, cfg.Mode()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", "port", cfg.Port, "env", cfg.Env, "mode", cfg.PaymentMode, "queue", cfg.QueueBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", "error", err)
	}

	cancelWork()
	<-sweepDone
	return nil
}
