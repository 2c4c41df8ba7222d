package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	queuemanager "github.com/glimte/queue-manager-go"
	"github.com/glimte/queue-manager-go/internal/config"
	"github.com/glimte/queue-manager-go/messaging"
	"github.com/glimte/queue-manager-go/transports/pubsub"
)

type pubsubFlags struct {
	project      string
	topic        string
	subscription string
	credentials  string
}

func newPubSubCommand(flags *globalFlags) *cobra.Command {
	psFlags := &pubsubFlags{}

	cmd := &cobra.Command{
		Use:   "pubsub",
		Short: "Publish to and consume from Google Cloud Pub/Sub",
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&psFlags.project, "project", "", "Google Cloud project id")
	pf.StringVar(&psFlags.topic, "topic", "", "Topic to publish to or create the subscription on")
	pf.StringVar(&psFlags.subscription, "subscription", "", "Subscription to consume from")
	pf.StringVar(&psFlags.credentials, "credentials", "", "Service account key file")

	var handlerTimeout time.Duration
	listenCmd := &cobra.Command{
		Use:   "listen",
		Short: "Consume from a subscription and print message bodies",
		Long: `Consume from the subscription, creating it on --topic when it does not exist.
Messages are acked after they are printed; Ctrl+C stops gracefully.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := psFlags.load(cmd, flags)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("handler-timeout") {
				cfg.HandlerTimeout = handlerTimeout
			}

			tr, err := pubsub.NewTransport(cfg.PubSub.Project, cfg.PubSub.Topic, cfg.PubSub.Subscription,
				pubsubOptions(cfg, logger)...)
			if err != nil {
				return err
			}

			interceptors := []messaging.Interceptor{messaging.NewLoggingInterceptor(logger)}
			if cfg.HandlerTimeout > 0 {
				interceptors = append(interceptors, messaging.NewTimeoutInterceptor(cfg.HandlerTimeout))
			}
			client := queuemanager.NewClientWithTransport(tr,
				queuemanager.WithLogger(logger),
				queuemanager.WithInterceptors(interceptors...),
			)
			defer client.Close()

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			out := cmd.OutOrStdout()
			return client.Listen(ctx, messaging.BodyHandlerFunc(func(ctx context.Context, body []byte) error {
				_, err := fmt.Fprintln(out, string(body))
				return err
			}))
		},
	}
	listenCmd.Flags().DurationVar(&handlerTimeout, "handler-timeout", 0, "Nack messages whose handling takes longer than this")

	msg := &messageFlags{}
	publishCmd := &cobra.Command{
		Use:   "publish [message...]",
		Short: "Publish one message to a topic and print its id",
		Long:  "Publish one message, creating the topic when it does not exist. Without arguments the message is read from stdin.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := psFlags.load(cmd, flags)
			if err != nil {
				return err
			}

			body, err := messageBody(args, cmd.InOrStdin())
			if err != nil {
				return err
			}

			publisher, err := pubsub.NewPublisher(cmd.Context(), cfg.PubSub.Project, cfg.PubSub.Topic, pubsubOptions(cfg, logger)...)
			if err != nil {
				return err
			}
			defer publisher.Close()

			id, err := publisher.Send(cmd.Context(), body, pubsub.Attributes(msg.properties()))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	msg.register(publishCmd)

	pingCmd := &cobra.Command{
		Use:   "ping",
		Short: "Publish OK to the ping topic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := psFlags.load(cmd, flags)
			if err != nil {
				return err
			}

			publisher, err := pubsub.NewPublisher(cmd.Context(), cfg.PubSub.Project, cfg.PubSub.Topic, pubsubOptions(cfg, logger)...)
			if err != nil {
				return err
			}
			defer publisher.Close()

			if !publisher.Ping(cmd.Context()) {
				return errUnreachable
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}

	cmd.AddCommand(listenCmd, publishCmd, pingCmd)
	return cmd
}

// load resolves the shared configuration and applies the Pub/Sub flags.
func (p *pubsubFlags) load(cmd *cobra.Command, flags *globalFlags) (*config.Config, *slog.Logger, error) {
	cfg, err := flags.load(cmd, os.LookupEnv)
	if err != nil {
		return nil, nil, err
	}

	set := cmd.Flags()
	if set.Changed("project") {
		cfg.PubSub.Project = p.project
	}
	if set.Changed("topic") {
		cfg.PubSub.Topic = p.topic
	}
	if set.Changed("subscription") {
		cfg.PubSub.Subscription = p.subscription
	}
	if set.Changed("credentials") {
		cfg.PubSub.CredentialsFile = p.credentials
	}

	logger, err := newLogger(cmd.ErrOrStderr(), cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	if cfg.PubSub.Project == "" {
		return nil, nil, pubsub.ErrNoProject
	}
	return cfg, logger, nil
}

func pubsubOptions(cfg *config.Config, logger *slog.Logger) []pubsub.Option {
	opts := []pubsub.Option{pubsub.WithLogger(logger)}
	if cfg.PubSub.CredentialsFile != "" {
		opts = append(opts, pubsub.WithCredentialsFile(cfg.PubSub.CredentialsFile))
	}
	return opts
}
