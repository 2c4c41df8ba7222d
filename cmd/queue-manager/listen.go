package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/glimte/queue-manager-go/health"
	"github.com/glimte/queue-manager-go/internal/rabbitmq"
	"github.com/glimte/queue-manager-go/messaging"
	"github.com/glimte/queue-manager-go/metrics"
)

func newListenCommand(flags *globalFlags) *cobra.Command {
	var (
		metricsAddr    string
		handlerTimeout time.Duration
		prefetch       int
		reconnectDelay time.Duration
	)

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Consume messages and print their bodies",
		Long: `Consume from the configured queue and print each message body on its own
line. Broker failures are retried every reconnect delay; failing to connect
at all ends the command with a non-zero exit status. Ctrl+C stops gracefully.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, tr, logger, err := flags.rabbit(cmd)
			if err != nil {
				return err
			}

			set := cmd.Flags()
			if set.Changed("metrics-addr") {
				cfg.MetricsAddr = metricsAddr
			}
			if set.Changed("handler-timeout") {
				cfg.HandlerTimeout = handlerTimeout
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			collector, err := metrics.NewCollector(reg, nil)
			if err != nil {
				return err
			}

			opts := []rabbitmq.ConsumerOption{rabbitmq.WithMetrics(collector)}
			if set.Changed("prefetch") {
				opts = append(opts, rabbitmq.WithPrefetchCount(prefetch))
			}
			if set.Changed("reconnect-delay") {
				opts = append(opts, rabbitmq.WithReconnectDelay(reconnectDelay))
			}
			consumer, err := tr.NewConsumer(opts...)
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			if cfg.MetricsAddr != "" {
				checks := health.NewRegistry()
				checks.Register(health.NewConsumerChecker("rabbitmq-consumer", consumer))
				shutdown := serveStatus(newStatusServer(cfg.MetricsAddr, reg, checks), logger)
				defer shutdown()
			}

			handler := buildHandler(cmd.OutOrStdout(), logger, cfg.HandlerTimeout)
			if err := consumer.StartListening(ctx, handler); err != nil {
				return fmt.Errorf("consumer stopped: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve /metrics, /healthz and /livez on this address")
	cmd.Flags().DurationVar(&handlerTimeout, "handler-timeout", 0, "Fail messages whose handling takes longer than this")
	cmd.Flags().IntVar(&prefetch, "prefetch", 1, "Unacknowledged messages the broker may send ahead")
	cmd.Flags().DurationVar(&reconnectDelay, "reconnect-delay", 5*time.Second, "Delay before reconnecting after a broker failure")

	return cmd
}

// buildHandler prints every body to out, behind logging and, when timeout is
// positive, a processing deadline.
func buildHandler(out io.Writer, logger *slog.Logger, timeout time.Duration) messaging.Handler {
	chain := messaging.NewChain(messaging.NewLoggingInterceptor(logger))
	if timeout > 0 {
		chain.Add(messaging.NewTimeoutInterceptor(timeout))
	}
	return chain.Then(messaging.BodyHandlerFunc(func(ctx context.Context, body []byte) error {
		_, err := fmt.Fprintln(out, string(body))
		return err
	}))
}

func newStatusServer(addr string, gatherer prometheus.Gatherer, checks *health.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health.NewHandler(checks, 5*time.Second))
	mux.Handle("/livez", health.LivenessHandler())

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// serveStatus runs srv in the background and returns its shutdown function.
func serveStatus(srv *http.Server, logger *slog.Logger) func() {
	go func() {
		logger.Info("serving status endpoints", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status server failed", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("status server shutdown", "error", err)
		}
	}
}
