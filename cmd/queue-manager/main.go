package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/glimte/queue-manager-go/internal/config"
	"github.com/glimte/queue-manager-go/internal/rabbitmq"
	rabbitmqTransport "github.com/glimte/queue-manager-go/transports/rabbitmq"
)

var (
	// Version information
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	if err := newRootCommand(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// globalFlags are the persistent flags shared by every command. Set flags
// override the config file, which overrides the environment.
type globalFlags struct {
	urls         []string
	configPath   string
	verbose      bool
	exchange     string
	exchangeKind string
	queue        string
	routingKey   string
	noDeclare    bool
	durable      bool
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "queue-manager",
		Short: "Publish to and consume from RabbitMQ or Google Pub/Sub",
		Long: `queue-manager is a small client for message queues. It runs a supervised
RabbitMQ consumer that reconnects on broker failures, publishes messages,
moves single messages in and out of queues and talks to Google Pub/Sub.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	flags.register(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		newListenCommand(flags),
		newPublishCommand(flags),
		newCountCommand(flags),
		newPingCommand(flags),
		newPushCommand(flags),
		newPopCommand(flags),
		newPubSubCommand(flags),
	)

	return rootCmd
}

func (f *globalFlags) register(pf *pflag.FlagSet) {
	pf.StringSliceVarP(&f.urls, "url", "u", nil, "RabbitMQ connection URL, repeat or comma separate for failover")
	pf.StringVarP(&f.configPath, "config", "c", "", "YAML configuration file")
	pf.BoolVarP(&f.verbose, "verbose", "v", false, "Enable debug logging")
	pf.StringVarP(&f.exchange, "exchange", "e", "", "Exchange to declare and bind to")
	pf.StringVar(&f.exchangeKind, "exchange-kind", "", "Exchange kind (direct, fanout, topic, headers)")
	pf.StringVarP(&f.queue, "queue", "q", "", "Queue name, empty for a server-named queue")
	pf.StringVarP(&f.routingKey, "routing-key", "k", "", "Routing key for binding and publishing")
	pf.BoolVar(&f.noDeclare, "no-declare", false, "Assume the exchange, queue and binding already exist")
	pf.BoolVar(&f.durable, "durable", false, "Declare durable exchanges and queues")
}

// load resolves the configuration for cmd.
func (f *globalFlags) load(cmd *cobra.Command, lookup func(string) (string, bool)) (*config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		var err error
		if cfg, err = config.Load(f.configPath); err != nil {
			return nil, err
		}
	}

	set := cmd.Flags()
	if set.Changed("url") {
		cfg.URLs = splitAll(f.urls)
	}
	if set.Changed("exchange") {
		cfg.Exchange = f.exchange
	}
	if set.Changed("exchange-kind") {
		cfg.ExchangeKind = f.exchangeKind
	}
	if set.Changed("queue") {
		cfg.Queue = f.queue
	}
	if set.Changed("routing-key") {
		cfg.RoutingKey = f.routingKey
	}
	if set.Changed("no-declare") {
		cfg.Declare = !f.noDeclare
	}
	if set.Changed("durable") {
		cfg.Durable = f.durable
	}
	if f.verbose {
		cfg.LogLevel = "debug"
	}

	cfg.ApplyEnv(lookup)
	return cfg, nil
}

// rabbit loads and validates the configuration for a RabbitMQ command and
// builds its transport.
func (f *globalFlags) rabbit(cmd *cobra.Command) (*config.Config, *rabbitmqTransport.Transport, *slog.Logger, error) {
	cfg, err := f.load(cmd, os.LookupEnv)
	if err != nil {
		return nil, nil, nil, err
	}
	logger, err := newLogger(cmd.ErrOrStderr(), cfg.LogLevel)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, fmt.Errorf("%w (use --url, the config file or %s)", err, config.EnvURLs)
	}

	dialer := rabbitmq.NewAMQPDialer(
		rabbitmq.WithConnectionName(cfg.ConnectionName),
		rabbitmq.WithDialTimeout(cfg.ConnectTimeout),
		rabbitmq.WithDialerLogger(logger),
	)

	tr, err := rabbitmqTransport.NewTransport(cfg.URLs,
		rabbitmqTransport.WithTopology(topologyFromConfig(cfg)),
		rabbitmqTransport.WithLogger(logger),
		rabbitmqTransport.WithDialer(dialer),
		rabbitmqTransport.WithConsumerOptions(
			rabbitmq.WithPrefetchCount(cfg.PrefetchCount),
			rabbitmq.WithReconnectDelay(cfg.ReconnectDelay),
			rabbitmq.WithConnectTimeout(cfg.ConnectTimeout),
			rabbitmq.WithConsumerTagPrefix(cfg.ConsumerTagPrefix),
		),
		rabbitmqTransport.WithClientOptions(
			rabbitmq.WithClientConnectTimeout(cfg.ConnectTimeout),
			rabbitmq.WithConfirmMode(cfg.ConfirmDelivery),
		),
	)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, tr, logger, nil
}

func topologyFromConfig(cfg *config.Config) rabbitmq.Topology {
	return rabbitmq.Topology{
		Exchange:       cfg.Exchange,
		ExchangeKind:   cfg.ExchangeKind,
		Queue:          cfg.Queue,
		QueueArguments: amqp.Table(cfg.QueueArguments),
		RoutingKey:     cfg.RoutingKey,
		Durable:        cfg.Durable,
		Declare:        cfg.Declare,
	}
}

func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

func splitAll(values []string) []string {
	var urls []string
	for _, v := range values {
		urls = append(urls, config.SplitURLs(v)...)
	}
	return urls
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
