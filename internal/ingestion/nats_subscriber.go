package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// ReplyHeader names the subject a producer wants the command result on.
const ReplyHeader = "Vault-Reply-To"

const (
	CommandStream  = "VAULT_COMMANDS"
	CommandSubject = "vault.cmd"
)

// NATSSubscriber consumes command subjects from JetStream and feeds them to
// the dispatcher over cmdChan.
type NATSSubscriber struct {
	js        jetstream.JetStream
	cmdChan   chan<- RawCommand
	consumers []jetstream.ConsumeContext
	logger    zerolog.Logger
}

// RawCommand is an unparsed command message
type RawCommand struct {
	Subject  string
	Data     []byte
	Received time.Time
	ReplyTo  string
	Ack      func()
	Nak      func()
}

// SubjectConfig maps one command subject to a durable consumer
type SubjectConfig struct {
	Subject      string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects gives each command kind its own consumer so a slow kind
// cannot starve the others.
func DefaultSubjects() []SubjectConfig {
	kinds := []string{"deposit", "withdraw", "claim", "claim_batch", "distribute", "execute", "admin"}
	out := make([]SubjectConfig, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, SubjectConfig{
			Subject:      CommandSubject + "." + k,
			ConsumerName: "vault-" + k,
			StreamName:   CommandStream,
		})
	}
	return out
}

func NewNATSSubscriber(js jetstream.JetStream, cmdChan chan<- RawCommand, logger zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:      js,
		cmdChan: cmdChan,
		logger:  logger,
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		cc, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawCommand{
				Subject:  msg.Subject(),
				Data:     msg.Data(),
				Received: time.Now().UTC(),
				Ack:      func() { _ = msg.Ack() },
				Nak:      func() { _ = msg.Nak() },
			}
			if h := msg.Headers(); h != nil {
				raw.ReplyTo = h.Get(ReplyHeader)
			}

			select {
			case ns.cmdChan <- raw:
			case <-ctx.Done():
				_ = msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, cc)
		ns.logger.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}
	return nil
}

// EnsureCommandStream creates the command stream if it does not exist.
// Work-queue retention: a command is removed once acknowledged.
func EnsureCommandStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      CommandStream,
		Subjects:  []string{CommandSubject + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.WorkQueuePolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", CommandStream, err)
	}
	return nil
}

// Stop stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.logger.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("vaultd"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}
