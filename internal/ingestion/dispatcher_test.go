package ingestion_test

import (
	"BondVault/internal/adapter/memory"
	"BondVault/internal/errs"
	"BondVault/internal/event"
	"BondVault/internal/ingestion"
	"BondVault/internal/observability"
	"BondVault/internal/state"
	"BondVault/internal/vault"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

type recordingReplier struct {
	mu      sync.Mutex
	replies map[string][]ingestion.Reply
}

func (r *recordingReplier) Publish(subject string, data []byte) error {
	var reply ingestion.Reply
	if err := json.Unmarshal(data, &reply); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.replies == nil {
		r.replies = make(map[string][]ingestion.Reply)
	}
	r.replies[subject] = append(r.replies[subject], reply)
	return nil
}

type settleRecord struct {
	acks, naks int
}

func (s *settleRecord) raw(subject string, body []byte, replyTo string) ingestion.RawCommand {
	return ingestion.RawCommand{
		Subject:  subject,
		Data:     body,
		Received: time.Now(),
		ReplyTo:  replyTo,
		Ack:      func() { s.acks++ },
		Nak:      func() { s.naks++ },
	}
}

type dispatchHarness struct {
	set     *memory.Set
	runner  *vault.Runner
	replier *recordingReplier
	disp    *ingestion.Dispatcher
	persist chan vault.Output
}

func newDispatchHarness(t *testing.T) *dispatchHarness {
	t.Helper()
	set := memory.NewSet(map[string]int64{"USD": 1_000_000})
	set.Treasury.Fund(common.HexToAddress(aliceHex), "USD", 1_000_000_000)

	metrics := observability.NewMetricsWith(prometheus.NewRegistry())
	persist := make(chan vault.Output, 64)
	ctrl, err := vault.NewController(
		vault.Config{Admin: common.HexToAddress(adminHex), Curve: state.DefaultCurveParams},
		set.Ports(), persist, nil, nil, metrics, zerolog.Nop(),
	)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	runner := vault.NewRunner(ctrl, 16, metrics)
	go runner.Run(ctx)

	replier := &recordingReplier{}
	return &dispatchHarness{
		set:     set,
		runner:  runner,
		replier: replier,
		disp:    ingestion.NewDispatcher(runner, nil, replier, metrics, zerolog.Nop()),
		persist: persist,
	}
}

func depositBody(t *testing.T, opID string, amount int64) []byte {
	t.Helper()
	return mustJSON(t, map[string]interface{}{
		"operation_id": opID, "depositor": aliceHex, "asset": "USD", "amount": amount,
	})
}

// ====================================================================
// Test: Dispatcher settles and replies
// ====================================================================

func TestDispatcher_DepositAcksAndReplies(t *testing.T) {
	h := newDispatchHarness(t)
	var s settleRecord

	reply := h.disp.Handle(context.Background(), s.raw("vault.cmd.deposit", depositBody(t, "dep-1", 2_100_000), "reply.1"))

	if !reply.OK {
		t.Fatalf("deposit rejected: %s (%s)", reply.Error, reply.Kind)
	}
	if s.acks != 1 || s.naks != 0 {
		t.Errorf("settle: got acks=%d naks=%d, want 1/0", s.acks, s.naks)
	}
	got := h.replier.replies["reply.1"]
	if len(got) != 1 || !got[0].OK || got[0].OperationID != "dep-1" {
		t.Fatalf("reply: got %+v", got)
	}

	out := <-h.persist
	if out.Envelope.EventType != event.EventTypeDeposited {
		t.Errorf("event: got %s, want Deposited", out.Envelope.EventType)
	}
}

func TestDispatcher_RejectionIsAcked(t *testing.T) {
	h := newDispatchHarness(t)
	var s settleRecord

	reply := h.disp.Handle(context.Background(), s.raw("vault.cmd.deposit", depositBody(t, "dep-small", 10), "reply.small"))

	if reply.OK {
		t.Fatal("expected rejection")
	}
	if reply.Kind != errs.KindValidation.String() {
		t.Errorf("kind: got %s, want validation", reply.Kind)
	}
	if s.acks != 1 || s.naks != 0 {
		t.Errorf("settle: got acks=%d naks=%d, want 1/0", s.acks, s.naks)
	}
}

func TestDispatcher_DuplicateIsAcked(t *testing.T) {
	h := newDispatchHarness(t)
	var s settleRecord
	body := depositBody(t, "dep-dup", 2_100_000)

	h.disp.Handle(context.Background(), s.raw("vault.cmd.deposit", body, ""))
	reply := h.disp.Handle(context.Background(), s.raw("vault.cmd.deposit", body, ""))

	if reply.OK || reply.Kind != errs.KindStateConflict.String() {
		t.Errorf("duplicate: got ok=%v kind=%s, want state_conflict", reply.OK, reply.Kind)
	}
	if s.acks != 2 {
		t.Errorf("acks: got %d, want 2", s.acks)
	}
}

func TestDispatcher_ExternalFailureIsNaked(t *testing.T) {
	h := newDispatchHarness(t)
	var s settleRecord
	h.set.Converter.FailNext("SwapToReserve", errors.New("router down"))

	reply := h.disp.Handle(context.Background(), s.raw("vault.cmd.deposit", depositBody(t, "dep-ext", 2_100_000), ""))

	if reply.Kind != errs.KindExternalCall.String() {
		t.Errorf("kind: got %s, want external_call", reply.Kind)
	}
	if s.naks != 1 || s.acks != 0 {
		t.Errorf("settle: got acks=%d naks=%d, want 0/1", s.acks, s.naks)
	}

	// The redelivery succeeds: a rolled-back operation id is not marked processed.
	reply = h.disp.Handle(context.Background(), s.raw("vault.cmd.deposit", depositBody(t, "dep-ext", 2_100_000), ""))
	if !reply.OK {
		t.Errorf("redelivery rejected: %s", reply.Error)
	}
}

func TestDispatcher_MalformedIsAckedWithoutApply(t *testing.T) {
	h := newDispatchHarness(t)
	var s settleRecord

	reply := h.disp.Handle(context.Background(), s.raw("vault.cmd.deposit", []byte(`{"amount":`), "reply.bad"))

	if reply.OK || reply.Kind != errs.KindValidation.String() {
		t.Errorf("reply: got %+v", reply)
	}
	if s.acks != 1 {
		t.Errorf("acks: got %d, want 1", s.acks)
	}
	select {
	case out := <-h.persist:
		t.Errorf("unexpected output %s", out.Envelope.EventType)
	default:
	}
}

func TestDispatcher_Run(t *testing.T) {
	h := newDispatchHarness(t)
	in := make(chan ingestion.RawCommand, 2)
	var s settleRecord
	in <- s.raw("vault.cmd.deposit", depositBody(t, "run-1", 2_100_000), "")
	in <- s.raw("vault.cmd.deposit", depositBody(t, "run-2", 2_100_000), "")
	close(in)

	disp := ingestion.NewDispatcher(h.runner, in, nil, nil, zerolog.Nop())
	if err := disp.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.acks != 2 {
		t.Errorf("acks: got %d, want 2", s.acks)
	}
}

// ====================================================================
// Test: OutboundPublisher
// ====================================================================

type fakeStream struct {
	subjects []string
	bodies   [][]byte
}

func (f *fakeStream) Publish(_ context.Context, subject string, data []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	f.subjects = append(f.subjects, subject)
	f.bodies = append(f.bodies, data)
	return &jetstream.PubAck{}, nil
}

func TestOutboundPublisher_SubjectAndBody(t *testing.T) {
	h := newDispatchHarness(t)
	var s settleRecord
	h.disp.Handle(context.Background(), s.raw("vault.cmd.deposit", depositBody(t, "pub-1", 2_100_000), ""))
	out := <-h.persist

	fs := &fakeStream{}
	pub := ingestion.NewOutboundPublisher(fs, nil, zerolog.Nop())
	if err := pub.Publish(context.Background(), out); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if len(fs.subjects) != 1 || fs.subjects[0] != "vault.events.Deposited" {
		t.Fatalf("subjects: got %v", fs.subjects)
	}
	var body ingestion.PublishedEvent
	if err := json.Unmarshal(fs.bodies[0], &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Sequence != out.Envelope.Sequence || body.OperationID != "pub-1" {
		t.Errorf("body: got seq=%d id=%s", body.Sequence, body.OperationID)
	}
	var dep event.Deposited
	if err := json.Unmarshal(body.Payload, &dep); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if dep.AmountIn != 2_100_000 {
		t.Errorf("amount_in: got %d, want 2_100_000", dep.AmountIn)
	}
}
