package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	natspkg "github.com/brojonat/gsoltrack/service/nats"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

// subscribeCommand streams ledger events from JetStream.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:  "subscribe",
		Usage: "Stream ledger events as they are recorded",
		Description: `Subscribe to ledger events published to NATS JetStream.

Events are published to ledger.mint, ledger.transfer and ledger.burn.

Example:
  gsol nats subscribe --type mint --address 9xQ... --json`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.StringFlag{
				Name:  "type",
				Usage: "Only stream one transaction type (mint, transfer, burn)",
			},
			&cli.StringFlag{
				Name:  "address",
				Usage: "Only show events sent or received by this address",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Durable consumer name (survives restarts)",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Stop after this long (0 streams until interrupted)",
			},
		},
		Action: func(c *cli.Context) error {
			subject := natspkg.StreamSubjects
			if t := c.String("type"); t != "" {
				subject = natspkg.SubjectPrefix + strings.ToLower(t)
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			if timeout := c.Duration("timeout"); timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			return streamLedgerEvents(ctx, c, c.String("nats-url"), subject)
		},
	}
}

func streamLedgerEvents(ctx context.Context, c *cli.Context, natsURL, subject string) error {
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	consumerConfig := jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	}
	if name := c.String("consumer-name"); name != "" {
		consumerConfig.Durable = name
		consumerConfig.Name = name
	}

	cons, err := js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	msgChan := make(chan jetstream.Msg, 10)
	consumeCtx, err := cons.Consume(func(msg jetstream.Msg) {
		msgChan <- msg
	})
	if err != nil {
		return fmt.Errorf("failed to consume: %w", err)
	}
	defer consumeCtx.Stop()

	jsonOutput := c.Bool("json")
	if !jsonOutput {
		fmt.Fprintf(c.App.ErrWriter, "Subscribing to %s on %s (Ctrl-C to exit)\n\n", subject, natsURL)
	}

	address := c.String("address")
	count := 0
	for {
		select {
		case msg := <-msgChan:
			var event natspkg.LedgerEvent
			if err := json.Unmarshal(msg.Data(), &event); err != nil {
				fmt.Fprintf(c.App.ErrWriter, "Error parsing event: %v\n", err)
				_ = msg.Ack()
				continue
			}
			_ = msg.Ack()

			if !matchesAddress(&event, address) {
				continue
			}
			count++

			if jsonOutput {
				data, err := json.Marshal(event)
				if err != nil {
					return err
				}
				fmt.Fprintln(c.App.Writer, string(data))
				continue
			}
			printLedgerEvent(c, count, &event)

		case <-ctx.Done():
			if !jsonOutput {
				fmt.Fprintf(c.App.ErrWriter, "\nReceived %d events\n", count)
			}
			return nil
		}
	}
}

func matchesAddress(event *natspkg.LedgerEvent, address string) bool {
	return address == "" || event.Sender == address || event.Recipient == address
}

func printLedgerEvent(c *cli.Context, n int, event *natspkg.LedgerEvent) {
	out := c.App.Writer
	fmt.Fprintf(out, "Event #%d (%s)\n", n, event.Type)
	fmt.Fprintf(out, "  Signature: %s\n", event.Signature)
	fmt.Fprintf(out, "  Sender:    %s\n", event.Sender)
	fmt.Fprintf(out, "  Recipient: %s\n", event.Recipient)
	fmt.Fprintf(out, "  Amount:    %.9f gSOL\n", event.Amount)
	if event.Referrer != nil {
		fmt.Fprintf(out, "  Referrer:  %s\n", *event.Referrer)
	}
	fmt.Fprintf(out, "  Time:      %s\n\n", event.Timestamp.UTC().Format(time.RFC3339))
}
