package ingestion

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"BondVault/internal/vault"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	EventStream  = "VAULT_EVENTS"
	EventSubject = "vault.events"
)

// StreamPublisher is the subset of jetstream.JetStream the outbound publisher needs.
type StreamPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// OutboundPublisher publishes durable events to NATS for downstream consumers.
// It only sees events the persistence worker has already committed.
// Subjects follow the pattern: vault.events.{event_type}
type OutboundPublisher struct {
	js        StreamPublisher
	inputChan <-chan vault.Output
	logger    zerolog.Logger
}

// PublishedEvent is the outbound JSON body.
type PublishedEvent struct {
	Sequence    int64           `json:"sequence"`
	Op          string          `json:"op"`
	OperationID string          `json:"operation_id,omitempty"`
	EventType   string          `json:"event_type"`
	PositionID  *uint64         `json:"position_id,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	StateHash   string          `json:"state_hash"`
	Timestamp   time.Time       `json:"timestamp"`
}

func NewOutboundPublisher(js StreamPublisher, inputChan <-chan vault.Output, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		logger:    logger,
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			if err := op.Publish(ctx, out); err != nil {
				// Non-fatal: consumers can read the event log directly
				op.logger.Warn().Err(err).Int64("sequence", out.Envelope.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

// Publish sends one event. The sequence is the message id, so a retried
// publish is dropped by the stream's duplicate window.
func (op *OutboundPublisher) Publish(ctx context.Context, out vault.Output) error {
	env := out.Envelope
	body := PublishedEvent{
		Sequence:    env.Sequence,
		Op:          env.Op,
		OperationID: env.OperationID,
		EventType:   env.EventType.String(),
		PositionID:  env.PositionID,
		Payload:     json.RawMessage(env.Payload),
		StateHash:   hex.EncodeToString(env.StateHash[:]),
		Timestamp:   env.Timestamp,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := EventSubject + "." + body.EventType
	_, err = op.js.Publish(ctx, subject, data, jetstream.WithMsgID(strconv.FormatInt(env.Sequence, 10)))
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       EventStream,
		Subjects:   []string{EventSubject + ".>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     7 * 24 * time.Hour,
		Duplicates: 2 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", EventStream, err)
	}
	return nil
}
