package ingestion

import (
	"BondVault/internal/errs"
	"BondVault/internal/observability"
	"BondVault/internal/vault"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Replier sends a reply message. *nats.Conn satisfies it.
type Replier interface {
	Publish(subject string, data []byte) error
}

// Reply is the JSON body sent to a command's reply subject
type Reply struct {
	OK          bool   `json:"ok"`
	Op          string `json:"op,omitempty"`
	OperationID string `json:"operation_id,omitempty"`
	Result      any    `json:"result,omitempty"`
	Error       string `json:"error,omitempty"`
	Kind        string `json:"kind,omitempty"`
}

// Dispatcher parses raw commands and runs them on the core goroutine, one at
// a time, in arrival order.
type Dispatcher struct {
	runner  *vault.Runner
	in      <-chan RawCommand
	replier Replier
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewDispatcher(runner *vault.Runner, in <-chan RawCommand, replier Replier, metrics *observability.Metrics, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		runner:  runner,
		in:      in,
		replier: replier,
		metrics: metrics,
		logger:  logger,
	}
}

// Run dispatches until ctx is cancelled or the input channel closes.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-d.in:
			if !ok {
				return nil
			}
			d.Handle(ctx, raw)
		}
	}
}

// Handle processes one command. Rejections that a redelivery cannot fix
// (malformed input, validation, authorization, state conflicts) are acked;
// collaborator failures and shutdown are nak'ed for redelivery.
func (d *Dispatcher) Handle(ctx context.Context, raw RawCommand) Reply {
	if d.metrics != nil {
		d.metrics.IngestCommands.WithLabelValues(raw.Subject).Inc()
	}

	cmd, err := ParseCommand(raw.Subject, raw.Data, raw.Received)
	if err != nil {
		if d.metrics != nil {
			d.metrics.IngestParseErrors.WithLabelValues(raw.Subject).Inc()
		}
		d.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping malformed command")
		settle(raw.Ack)
		reply := Reply{Error: err.Error(), Kind: errs.KindValidation.String()}
		d.reply(raw, reply)
		return reply
	}

	result, err := vault.Call(ctx, d.runner, cmd.Execute)
	if d.metrics != nil && !raw.Received.IsZero() {
		d.metrics.IngestToApply.WithLabelValues(cmd.Op()).Observe(time.Since(raw.Received).Seconds())
	}

	reply := Reply{OK: err == nil, Op: cmd.Op(), OperationID: cmd.OperationID(), Result: result}
	switch {
	case err == nil:
		settle(raw.Ack)
	case retryable(err):
		d.logger.Warn().Err(err).Str("op", cmd.Op()).Str("operation_id", cmd.OperationID()).Msg("command failed, requesting redelivery")
		settle(raw.Nak)
		reply.Error, reply.Kind = err.Error(), errs.KindOf(err).String()
	default:
		d.logger.Debug().Err(err).Str("op", cmd.Op()).Str("operation_id", cmd.OperationID()).Msg("command rejected")
		settle(raw.Ack)
		reply.Error, reply.Kind = err.Error(), errs.KindOf(err).String()
	}
	d.reply(raw, reply)
	return reply
}

func retryable(err error) bool {
	if errors.Is(err, vault.ErrRunnerStopped) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return errs.KindOf(err) == errs.KindExternalCall
}

func (d *Dispatcher) reply(raw RawCommand, reply Reply) {
	if raw.ReplyTo == "" || d.replier == nil {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		d.logger.Error().Err(err).Msg("marshal reply")
		return
	}
	if err := d.replier.Publish(raw.ReplyTo, data); err != nil {
		d.logger.Warn().Err(err).Str("reply_to", raw.ReplyTo).Msg("reply failed")
	}
}

func settle(fn func()) {
	if fn != nil {
		fn()
	}
}
