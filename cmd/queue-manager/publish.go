package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/spf13/cobra"

	"github.com/glimte/queue-manager-go/messaging"
)

var errUnreachable = errors.New("broker unreachable")

// messageFlags describe the properties sent with a message
type messageFlags struct {
	contentType   string
	correlationID string
	persistent    bool
	headers       map[string]string
}

func (m *messageFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&m.contentType, "content-type", "text/plain", "Content type of the message")
	cmd.Flags().StringVar(&m.correlationID, "correlation-id", "", "Correlation id of the message")
	cmd.Flags().BoolVar(&m.persistent, "persistent", false, "Ask the broker to persist the message")
	cmd.Flags().StringToStringVarP(&m.headers, "header", "H", nil, "Message header as key=value, repeatable")
}

func (m *messageFlags) properties() messaging.Properties {
	props := messaging.Properties{
		ContentType:   m.contentType,
		CorrelationID: m.correlationID,
	}
	if m.persistent {
		props.DeliveryMode = amqp.Persistent
	}
	if len(m.headers) > 0 {
		props.Headers = make(map[string]interface{}, len(m.headers))
		for k, v := range m.headers {
			props.Headers[k] = v
		}
	}
	return props
}

// messageBody joins args, or reads in when there are none.
func messageBody(args []string, in io.Reader) ([]byte, error) {
	if len(args) > 0 {
		return []byte(strings.Join(args, " ")), nil
	}
	body, err := io.ReadAll(in)
	if err != nil {
		return nil, fmt.Errorf("failed to read message from stdin: %w", err)
	}
	return body, nil
}

func newPublishCommand(flags *globalFlags) *cobra.Command {
	msg := &messageFlags{}

	cmd := &cobra.Command{
		Use:   "publish [message...]",
		Short: "Publish one message to the configured exchange or queue",
		Long: `Publish one message. The routing key is --routing-key, or the queue name when
no routing key is set. Without arguments the message is read from stdin.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, tr, logger, err := flags.rabbit(cmd)
			if err != nil {
				return err
			}

			body, err := messageBody(args, cmd.InOrStdin())
			if err != nil {
				return err
			}

			publisher, err := tr.NewPublisher()
			if err != nil {
				return err
			}
			if err := publisher.Publish(cmd.Context(), body, msg.properties()); err != nil {
				return fmt.Errorf("failed to publish: %w", err)
			}

			logger.Info("message published", "routingKey", publisher.RoutingKey(), "size", len(body))
			return nil
		},
	}
	msg.register(cmd)

	return cmd
}

func newCountCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print the number of ready messages in the configured queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, tr, _, err := flags.rabbit(cmd)
			if err != nil {
				return err
			}

			publisher, err := tr.NewPublisher()
			if err != nil {
				return err
			}
			count, err := publisher.MessageCount(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to count messages: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), count)
			return nil
		},
	}
}

func newPingCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that a broker connection can be opened",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, tr, _, err := flags.rabbit(cmd)
			if err != nil {
				return err
			}

			publisher, err := tr.NewPublisher()
			if err != nil {
				return err
			}
			if !publisher.Ping(cmd.Context()) {
				return errUnreachable
			}

			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}

func newPushCommand(flags *globalFlags) *cobra.Command {
	msg := &messageFlags{}

	cmd := &cobra.Command{
		Use:   "push <queue> [message...]",
		Short: "Declare a queue and put one message on it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, tr, logger, err := flags.rabbit(cmd)
			if err != nil {
				return err
			}

			body, err := messageBody(args[1:], cmd.InOrStdin())
			if err != nil {
				return err
			}

			qm, err := tr.NewQueueManager()
			if err != nil {
				return err
			}
			defer qm.Close()

			if err := qm.Push(cmd.Context(), args[0], body, amqp.Table(cfg.QueueArguments), msg.properties()); err != nil {
				return fmt.Errorf("failed to push: %w", err)
			}

			logger.Info("message pushed", "queue", args[0], "size", len(body))
			return nil
		},
	}
	msg.register(cmd)

	return cmd
}

func newPopCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "pop <queue>",
		Short: "Take one message off a queue and print it",
		Long:  "Take one message off a queue, acknowledge it and print its body. An empty queue prints nothing.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, tr, logger, err := flags.rabbit(cmd)
			if err != nil {
				return err
			}

			qm, err := tr.NewQueueManager()
			if err != nil {
				return err
			}
			defer qm.Close()

			body, err := qm.Pop(cmd.Context(), args[0], amqp.Table(cfg.QueueArguments))
			if err != nil {
				return fmt.Errorf("failed to pop: %w", err)
			}
			if body == nil {
				logger.Info("queue is empty", "queue", args[0])
				return nil
			}

			fmt.Fprintln(cmd.OutOrStdout(), string(body))
			return nil
		},
	}
}
